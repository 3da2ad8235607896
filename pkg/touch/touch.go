// Package touch detects lick events on capacitive sensor channels.
package touch

import (
	"fmt"
	"time"
)

// Channel identifies a lick sensing input.
type Channel int

const (
	Left Channel = iota
	Right
)

// Channels lists every channel in scan order.
var Channels = [...]Channel{Left, Right}

func (c Channel) String() string {
	switch c {
	case Left:
		return "left"
	case Right:
		return "right"
	default:
		return fmt.Sprintf("channel(%d)", int(c))
	}
}

// Transition is the direction of a touch state change.
type Transition int

const (
	Start Transition = iota
	End
)

func (t Transition) String() string {
	if t == Start {
		return "start"
	}
	return "end"
}

// Event is a touch-start or touch-end transition.
type Event struct {
	Channel    Channel
	Transition Transition
	Elapsed    time.Duration // since boot
}

// Wire codes for touch events (protocol version 1).
const (
	CodeLeftStart  = -1
	CodeLeftEnd    = -2
	CodeRightStart = 1
	CodeRightEnd   = 2
)

// Code returns the wire code of the event.
func (e Event) Code() int {
	switch {
	case e.Channel == Left && e.Transition == Start:
		return CodeLeftStart
	case e.Channel == Left:
		return CodeLeftEnd
	case e.Transition == Start:
		return CodeRightStart
	default:
		return CodeRightEnd
	}
}

// Sensor reads raw capacitive values. Board specific backends implement it.
type Sensor interface {
	ReadRaw(ch Channel) (uint16, error)
}
