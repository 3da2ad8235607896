// Package hw provides the rig hardware backends: Linux GPIO character
// devices with IIO touch sensors, and a simulated board for development.
package hw

import (
	"github.com/itohio/lickrig/pkg/actuator"
	"github.com/itohio/lickrig/pkg/encoder"
	"github.com/itohio/lickrig/pkg/touch"
)

// Board is the rig hardware as seen by the control loop.
type Board interface {
	touch.Sensor

	// AttachEncoder routes quadrature edges into t.
	AttachEncoder(t *encoder.Tracker) error
	// Photodiode returns the current photodiode level.
	Photodiode() (bool, error)
	// Output returns the output line driving ch, or nil if the board has none.
	Output(ch actuator.ChannelID) actuator.Output
	Close() error
}

// DigitalChannels lists the actuator channels a board may drive directly.
var DigitalChannels = []actuator.ChannelID{
	actuator.LeftLED,
	actuator.CenterLED,
	actuator.RightLED,
	actuator.LeftValve,
	actuator.RightValve,
}
