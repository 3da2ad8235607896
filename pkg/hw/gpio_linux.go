//go:build linux

package hw

import (
	"errors"
	"fmt"

	"github.com/itohio/lickrig/pkg/actuator"
	"github.com/itohio/lickrig/pkg/config"
	"github.com/itohio/lickrig/pkg/encoder"
	"github.com/itohio/lickrig/pkg/touch"
	"github.com/warthog618/go-gpiocdev"
)

// GPIOBoard drives the rig through the Linux GPIO character device.
type GPIOBoard struct {
	touch.Sensor

	chip    *gpiocdev.Chip
	cfg     config.HardwareConfig
	photo   *gpiocdev.Line
	encA    inputLine
	encB    inputLine
	outputs map[actuator.ChannelID]*lineOutput

	// requestEdges requests an input line that reports level changes to onEdge.
	requestEdges func(offset int, onEdge func(level bool)) (inputLine, error)
}

type inputLine interface {
	Value() (int, error)
	Close() error
}

var _ Board = (*GPIOBoard)(nil)

type lineOutput struct {
	line *gpiocdev.Line
}

func (o *lineOutput) Set(on bool) error {
	v := 0
	if on {
		v = 1
	}
	return o.line.SetValue(v)
}

// NewGPIO opens the chip and requests the photodiode line and, when
// cfg.LocalOutputs is set, the LED and valve lines.
func NewGPIO(cfg config.HardwareConfig, sensor touch.Sensor) (*GPIOBoard, error) {
	chip, err := gpiocdev.NewChip(cfg.Chip)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip %s: %w", cfg.Chip, err)
	}
	b := &GPIOBoard{
		Sensor:  sensor,
		chip:    chip,
		cfg:     cfg,
		outputs: make(map[actuator.ChannelID]*lineOutput),
	}
	b.requestEdges = b.chipEdges

	b.photo, err = chip.RequestLine(cfg.Photodiode, gpiocdev.AsInput, gpiocdev.WithPullDown)
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("request photodiode pin %d: %w", cfg.Photodiode, err)
	}

	if cfg.LocalOutputs {
		pins := map[actuator.ChannelID]int{
			actuator.LeftLED:    cfg.LeftLED,
			actuator.CenterLED:  cfg.CenterLED,
			actuator.RightLED:   cfg.RightLED,
			actuator.LeftValve:  cfg.LeftValve,
			actuator.RightValve: cfg.RightValve,
		}
		for _, ch := range DigitalChannels {
			line, err := chip.RequestLine(pins[ch], gpiocdev.AsOutput(0))
			if err != nil {
				b.Close()
				return nil, fmt.Errorf("request %s pin %d: %w", ch, pins[ch], err)
			}
			b.outputs[ch] = &lineOutput{line: line}
		}
	}
	return b, nil
}

// AttachEncoder requests both quadrature lines with edge detection. Edge
// events are delivered on the gpiocdev event goroutine.
// A failed attach releases whatever it requested, so it can be retried.
func (b *GPIOBoard) AttachEncoder(t *encoder.Tracker) error {
	if b.encA != nil {
		return errors.New("encoder already attached")
	}

	lineA, err := b.requestEdges(b.cfg.EncoderA, t.EdgeA)
	if err != nil {
		return fmt.Errorf("request encoder A pin %d: %w", b.cfg.EncoderA, err)
	}
	lineB, err := b.requestEdges(b.cfg.EncoderB, t.EdgeB)
	if err != nil {
		_ = lineA.Close()
		return fmt.Errorf("request encoder B pin %d: %w", b.cfg.EncoderB, err)
	}

	a, errA := lineA.Value()
	bv, errB := lineB.Value()
	if err := errors.Join(errA, errB); err != nil {
		_ = lineA.Close()
		_ = lineB.Close()
		return fmt.Errorf("read encoder levels: %w", err)
	}
	b.encA, b.encB = lineA, lineB
	t.Init(a == 1, bv == 1)
	return nil
}

func (b *GPIOBoard) chipEdges(offset int, onEdge func(level bool)) (inputLine, error) {
	l, err := b.chip.RequestLine(offset,
		gpiocdev.WithPullUp,
		gpiocdev.WithBothEdges,
		gpiocdev.WithEventHandler(func(evt gpiocdev.LineEvent) {
			onEdge(evt.Type == gpiocdev.LineEventRisingEdge)
		}))
	if err != nil {
		return nil, err
	}
	return l, nil
}

func (b *GPIOBoard) Photodiode() (bool, error) {
	v, err := b.photo.Value()
	if err != nil {
		return false, fmt.Errorf("read photodiode: %w", err)
	}
	return v == 1, nil
}

func (b *GPIOBoard) Output(ch actuator.ChannelID) actuator.Output {
	if o, ok := b.outputs[ch]; ok {
		return o
	}
	return nil
}

// Close drives outputs low and releases every line.
func (b *GPIOBoard) Close() error {
	var errs []error
	for ch, o := range b.outputs {
		if err := o.line.SetValue(0); err != nil {
			errs = append(errs, fmt.Errorf("reset %s: %w", ch, err))
		}
		if err := o.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", ch, err))
		}
	}
	for _, l := range []inputLine{b.encA, b.encB} {
		if l == nil {
			continue
		}
		if err := l.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close encoder line: %w", err))
		}
	}
	if b.photo != nil {
		if err := b.photo.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close photodiode line: %w", err))
		}
	}
	if b.chip != nil {
		if err := b.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}
	return errors.Join(errs...)
}
