package actuator

import (
	"fmt"
	"time"
)

// ServoDriver positions a hobby servo.
type ServoDriver interface {
	SetAngle(deg int) error
}

// Phase is the motion phase of the reward servo.
type Phase int

const (
	Idle Phase = iota
	MovingOut
	Holding
	Returning
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case MovingOut:
		return "moving_out"
	case Holding:
		return "holding"
	case Returning:
		return "returning"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// ServoMotion moves a servo out to a target one step per tick, holds it
// there, then returns it to center.
type ServoMotion struct {
	drv    ServoDriver
	center int
	step   int

	pos    int
	target int
	phase  Phase
	manual bool

	hold      time.Duration
	holdStart time.Time
}

// NewServo creates a servo motion resting at center. step <= 0 moves one
// degree per tick.
func NewServo(drv ServoDriver, center, step int) *ServoMotion {
	if step <= 0 {
		step = 1
	}
	return &ServoMotion{
		drv:    drv,
		center: center,
		step:   step,
		pos:    center,
		target: center,
	}
}

// Home drives the servo to center immediately.
func (s *ServoMotion) Home() error {
	s.pos = s.center
	s.phase = Idle
	s.manual = false
	return s.drv.SetAngle(s.pos)
}

// SetTarget selects the angle used by the next Pulse or Toggle.
func (s *ServoMotion) SetTarget(deg int) {
	s.target = deg
}

// Pulse moves to the target and holds for d once there. A motion in flight
// is restarted from the current position. A servo already at the target
// starts holding at now.
func (s *ServoMotion) Pulse(d time.Duration, now time.Time) {
	s.hold = d
	s.manual = false
	s.moveOut(now)
}

// Toggle moves to the target and holds until toggled again. Toggling a
// manually held servo sends it back to center.
func (s *ServoMotion) Toggle(now time.Time) {
	if s.manual && (s.phase == MovingOut || s.phase == Holding) {
		s.manual = false
		s.phase = Returning
		return
	}
	s.manual = true
	s.moveOut(now)
}

func (s *ServoMotion) moveOut(now time.Time) {
	if s.pos == s.target {
		s.phase = Holding
		s.holdStart = now
		return
	}
	s.phase = MovingOut
}

func (s *ServoMotion) moveTowards(goal int) (bool, error) {
	switch {
	case s.pos < goal:
		s.pos = min(s.pos+s.step, goal)
	case s.pos > goal:
		s.pos = max(s.pos-s.step, goal)
	default:
		return true, nil
	}
	return s.pos == goal, s.drv.SetAngle(s.pos)
}

// Tick advances the motion by one step.
func (s *ServoMotion) Tick(now time.Time) error {
	switch s.phase {
	case MovingOut:
		done, err := s.moveTowards(s.target)
		if done {
			s.phase = Holding
			s.holdStart = now
		}
		return err
	case Holding:
		if !s.manual && now.Sub(s.holdStart) >= s.hold {
			s.phase = Returning
		}
	case Returning:
		done, err := s.moveTowards(s.center)
		if done {
			s.phase = Idle
		}
		return err
	}
	return nil
}

func (s *ServoMotion) Phase() Phase  { return s.phase }
func (s *ServoMotion) Position() int { return s.pos }
func (s *ServoMotion) Active() bool  { return s.phase != Idle }
func (s *ServoMotion) Manual() bool  { return s.manual }
