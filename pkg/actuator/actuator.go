// Package actuator drives LEDs, reward valves and an optional reward servo
// with non-blocking timed pulses and manual toggles.
package actuator

import (
	"fmt"
	"time"
)

// ChannelID identifies an actuator channel.
type ChannelID int

const (
	LeftLED ChannelID = iota
	CenterLED
	RightLED
	LeftValve
	RightValve
	Servo

	NumChannels = int(Servo) + 1
)

var channelNames = [NumChannels]string{
	"left_led", "center_led", "right_led", "left_valve", "right_valve", "servo",
}

func (c ChannelID) String() string {
	if c < 0 || int(c) >= NumChannels {
		return fmt.Sprintf("actuator(%d)", int(c))
	}
	return channelNames[c]
}

// Output is a single digital output line.
type Output interface {
	Set(on bool) error
}

// OutputFunc adapts a function to Output.
type OutputFunc func(on bool) error

func (f OutputFunc) Set(on bool) error { return f(on) }

type channel struct {
	out      Output
	active   bool
	manual   bool
	start    time.Time
	duration time.Duration
}

// Controller owns the control mode of every channel. Whichever command last
// claimed a channel (pulse or toggle) fully decides its state.
type Controller struct {
	ch    [NumChannels]channel
	servo *ServoMotion

	// OnError is called when an output fails. State advances regardless.
	OnError func(ch ChannelID, err error)
}

// New creates a controller with no outputs attached.
func New() *Controller {
	return &Controller{}
}

// Attach binds an output to a digital channel. The output is driven low.
func (c *Controller) Attach(id ChannelID, out Output) error {
	if id < 0 || id >= Servo {
		return fmt.Errorf("attach %s: not a digital channel", id)
	}
	c.ch[id].out = out
	c.drive(id, false)
	return nil
}

// AttachServo binds the servo channel.
func (c *Controller) AttachServo(s *ServoMotion) {
	c.servo = s
}

// ServoMotion returns the attached servo, or nil.
func (c *Controller) ServoMotion() *ServoMotion {
	return c.servo
}

func (c *Controller) valid(id ChannelID) bool {
	if id == Servo {
		return c.servo != nil
	}
	return id >= 0 && id < Servo
}

func (c *Controller) drive(id ChannelID, on bool) {
	out := c.ch[id].out
	if out == nil {
		return
	}
	if err := out.Set(on); err != nil && c.OnError != nil {
		c.OnError(id, err)
	}
}

// Pulse asserts a channel for d starting at now. A pulse in flight is
// restarted and a manual toggle is released.
func (c *Controller) Pulse(id ChannelID, d time.Duration, now time.Time) error {
	if !c.valid(id) {
		return fmt.Errorf("pulse %s: channel not available", id)
	}
	if id == Servo {
		c.servo.Pulse(d, now)
		return nil
	}
	ch := &c.ch[id]
	ch.active = true
	ch.manual = false
	ch.start = now
	ch.duration = d
	c.drive(id, true)
	return nil
}

// Toggle flips a channel and puts it under manual control, exempt from
// expiry until toggled again or reclaimed by Pulse.
func (c *Controller) Toggle(id ChannelID, now time.Time) error {
	if !c.valid(id) {
		return fmt.Errorf("toggle %s: channel not available", id)
	}
	if id == Servo {
		c.servo.Toggle(now)
		return nil
	}
	ch := &c.ch[id]
	ch.active = !ch.active
	ch.manual = true
	ch.duration = 0
	c.drive(id, ch.active)
	return nil
}

// Tick expires finished pulses and advances the servo motion.
func (c *Controller) Tick(now time.Time) {
	for i := 0; i < int(Servo); i++ {
		ch := &c.ch[i]
		if !ch.active || ch.manual {
			continue
		}
		if now.Sub(ch.start) >= ch.duration {
			ch.active = false
			c.drive(ChannelID(i), false)
		}
	}
	if c.servo != nil {
		if err := c.servo.Tick(now); err != nil && c.OnError != nil {
			c.OnError(Servo, err)
		}
	}
}

// Active reports whether a channel is asserted.
func (c *Controller) Active(id ChannelID) bool {
	if id == Servo {
		return c.servo != nil && c.servo.Active()
	}
	if !c.valid(id) {
		return false
	}
	return c.ch[id].active
}

// Manual reports whether a channel is under manual toggle control.
func (c *Controller) Manual(id ChannelID) bool {
	if id == Servo {
		return c.servo != nil && c.servo.Manual()
	}
	if !c.valid(id) {
		return false
	}
	return c.ch[id].manual
}

// Off deasserts every channel and releases manual control.
func (c *Controller) Off() {
	for i := 0; i < int(Servo); i++ {
		c.ch[i] = channel{out: c.ch[i].out}
		c.drive(ChannelID(i), false)
	}
}
