//go:build !linux

package hw

import (
	"errors"

	"github.com/itohio/lickrig/pkg/actuator"
	"github.com/itohio/lickrig/pkg/config"
	"github.com/itohio/lickrig/pkg/encoder"
	"github.com/itohio/lickrig/pkg/touch"
)

var errUnsupported = errors.New("gpio: not supported on this platform (requires Linux)")

// GPIOBoard is not available on non-Linux platforms.
type GPIOBoard struct {
	touch.Sensor
}

// NewGPIO returns an error on non-Linux platforms.
func NewGPIO(cfg config.HardwareConfig, sensor touch.Sensor) (*GPIOBoard, error) {
	return nil, errUnsupported
}

func (b *GPIOBoard) AttachEncoder(t *encoder.Tracker) error       { return errUnsupported }
func (b *GPIOBoard) Photodiode() (bool, error)                    { return false, errUnsupported }
func (b *GPIOBoard) Output(ch actuator.ChannelID) actuator.Output { return nil }
func (b *GPIOBoard) Close() error                                 { return nil }
