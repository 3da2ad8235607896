package touch

import (
	"errors"
	"fmt"
	"time"

	"github.com/itohio/lickrig/pkg/filter"
)

// Mode selects how a threshold setting maps to a raw threshold.
type Mode int

const (
	// Multiplier interprets the setting in tenths of the baseline (11 = 1.1x).
	Multiplier Mode = iota
	// Fixed interprets the setting as a raw sensor value.
	Fixed
)

// ErrNoSamples is returned when calibration could not read any sample.
var ErrNoSamples = errors.New("touch: no samples read during calibration")

// Config contains detector parameters.
type Config struct {
	Mode               Mode
	Debounce           int // consecutive samples across the threshold to flip state, 1 = immediate
	CalibrationSamples int
	MaxRaw             uint16
	Slope              int // minimum rise in counts per sample that may start a touch, 0 disables

	CutoffHz float32
	SampleHz float32
	Order    int
	Adaptive bool
}

type channelState struct {
	lp       *filter.LowPass
	baseline float32
	setting  int
	value    float32
	prev     float32
	touched  bool
	count    int
}

// Detector maintains per-channel baselines and emits touch transitions.
type Detector struct {
	sensor Sensor
	cfg    Config
	boot   time.Time
	slope  float32
	ch     [len(Channels)]channelState
}

// NewDetector creates a detector reading from sensor. Thresholds start at
// the given settings; baselines are zero until CalibrateBaseline runs.
func NewDetector(sensor Sensor, cfg Config, boot time.Time, left, right int) *Detector {
	if cfg.Debounce < 1 {
		cfg.Debounce = 1
	}
	if cfg.CalibrationSamples < 1 {
		cfg.CalibrationSamples = 1
	}
	if cfg.MaxRaw == 0 {
		cfg.MaxRaw = 4095
	}
	d := &Detector{
		sensor: sensor,
		cfg:    cfg,
		boot:   boot,
		slope:  float32(cfg.Slope),
	}
	for _, c := range Channels {
		d.ch[c].lp = filter.New(cfg.CutoffHz, cfg.SampleHz, cfg.Order, cfg.Adaptive)
	}
	d.ch[Left].setting = left
	d.ch[Right].setting = right
	return d
}

func (d *Detector) state(ch Channel) *channelState {
	if ch < 0 || int(ch) >= len(d.ch) {
		return nil
	}
	return &d.ch[ch]
}

func (d *Detector) read(ch Channel) (float32, error) {
	raw, err := d.sensor.ReadRaw(ch)
	if err != nil {
		return 0, err
	}
	if raw > d.cfg.MaxRaw {
		raw = d.cfg.MaxRaw
	}
	return float32(raw), nil
}

// CalibrateBaseline averages n raw readings into the channel baseline and
// primes the filter with it. n <= 0 uses the configured sample count. The
// touched state is cleared.
func (d *Detector) CalibrateBaseline(ch Channel, n int) error {
	s := d.state(ch)
	if s == nil {
		return fmt.Errorf("touch: unknown channel %d", int(ch))
	}
	if n <= 0 {
		n = d.cfg.CalibrationSamples
	}

	var sum float32
	var got int
	var lastErr error
	for i := 0; i < n; i++ {
		v, err := d.read(ch)
		if err != nil {
			lastErr = err
			continue
		}
		sum += v
		got++
	}
	if got == 0 {
		if lastErr != nil {
			return fmt.Errorf("calibrate %s: %w", ch, errors.Join(ErrNoSamples, lastErr))
		}
		return fmt.Errorf("calibrate %s: %w", ch, ErrNoSamples)
	}

	s.baseline = sum / float32(got)
	s.value = s.baseline
	s.prev = s.baseline
	s.lp.Reset(s.baseline)
	s.touched = false
	s.count = 0
	return nil
}

// CalibrateAll recalibrates every channel.
func (d *Detector) CalibrateAll() error {
	var errs []error
	for _, c := range Channels {
		if err := d.CalibrateBaseline(c, 0); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SetThreshold changes the threshold setting of a channel.
func (d *Detector) SetThreshold(ch Channel, setting int) {
	if s := d.state(ch); s != nil {
		s.setting = setting
	}
}

// SetSlope changes the minimum rise that may start a touch on every channel.
func (d *Detector) SetSlope(counts int) {
	d.slope = float32(counts)
}

func (d *Detector) Slope() int { return int(d.slope) }

// Rebase moves the origin of event timestamps to boot.
func (d *Detector) Rebase(boot time.Time) {
	d.boot = boot
}

// Threshold returns the raw threshold currently applied to a channel.
func (d *Detector) Threshold(ch Channel) float32 {
	s := d.state(ch)
	if s == nil {
		return 0
	}
	if d.cfg.Mode == Fixed {
		return float32(s.setting)
	}
	return float32(s.setting) / 10 * s.baseline
}

// Baseline returns the calibrated baseline of a channel.
func (d *Detector) Baseline(ch Channel) float32 {
	if s := d.state(ch); s != nil {
		return s.baseline
	}
	return 0
}

// Value returns the last filtered value of a channel.
func (d *Detector) Value(ch Channel) float32 {
	if s := d.state(ch); s != nil {
		return s.value
	}
	return 0
}

// Touched reports whether a channel is currently touched.
func (d *Detector) Touched(ch Channel) bool {
	if s := d.state(ch); s != nil {
		return s.touched
	}
	return false
}

// Update samples a channel and returns an event when its state flips.
func (d *Detector) Update(ch Channel, now time.Time) (Event, bool, error) {
	s := d.state(ch)
	if s == nil {
		return Event{}, false, fmt.Errorf("touch: unknown channel %d", int(ch))
	}
	raw, err := d.read(ch)
	if err != nil {
		return Event{}, false, fmt.Errorf("read %s: %w", ch, err)
	}

	s.prev, s.value = s.value, s.lp.Filt(raw, now)
	threshold := d.Threshold(ch)

	crossed := s.value > threshold
	if s.touched {
		crossed = s.value < threshold
	} else if crossed && s.count == 0 && d.slope > 0 && s.value-s.prev < d.slope {
		crossed = false
	}
	if !crossed {
		s.count = 0
		return Event{}, false, nil
	}

	s.count++
	if s.count < d.cfg.Debounce {
		return Event{}, false, nil
	}

	s.count = 0
	s.touched = !s.touched
	ev := Event{Channel: ch, Transition: End, Elapsed: now.Sub(d.boot)}
	if s.touched {
		ev.Transition = Start
	}
	return ev, true, nil
}
