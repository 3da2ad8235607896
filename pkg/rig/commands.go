package rig

import (
	"errors"
	"fmt"

	"github.com/itohio/lickrig/pkg/actuator"
	"github.com/itohio/lickrig/pkg/protocol"
	"github.com/itohio/lickrig/pkg/touch"
)

// Status messages sent in reply to commands.
const (
	MsgSessionStarted   = "session_started"
	MsgSessionEnded     = "session_ended"
	MsgLicksReset       = "licks_reset"
	MsgWheelReset       = "wheel_reset"
	MsgLeftThreshold    = "left_threshold_modified"
	MsgRightThreshold   = "right_threshold_modified"
	MsgLickThreshold    = "lick_threshold_modified"
	MsgStorageMounted   = "storage_mounted"
	MsgAwaitingFilename = "awaiting_filename"
	MsgClockStarted     = "clock_started"
	MsgBoardReset       = "board_resetted"
	MsgSlope            = "lick_slope_modified"
)

// ErrNoCenterReward is returned by toggle_center_reward when no reward servo
// is attached. There is no center valve.
var ErrNoCenterReward = errors.New("center reward needs the reward servo")

func (r *Rig) registerCommands() {
	d := r.disp
	d.Handle(protocol.StartSession, r.cmdStartSession)
	d.Handle(protocol.EndSession, r.cmdEndSession)
	d.Handle(protocol.ResetLicks, r.cmdRecalibrate(MsgLicksReset))
	d.Handle(protocol.Reset, r.cmdRecalibrate(MsgBoardReset))
	d.Handle(protocol.ResetLickSensor, r.cmdRecalibrate(MsgBoardReset))
	d.Handle(protocol.ResetWheel, r.cmdResetWheel)
	d.Handle(protocol.StartClock, r.cmdStartClock)
	d.Handle(protocol.ThresholdLeft, r.cmdThreshold(MsgLeftThreshold, touch.Left))
	d.Handle(protocol.ThresholdRight, r.cmdThreshold(MsgRightThreshold, touch.Right))
	d.Handle(protocol.ThresholdBoth, r.cmdThreshold(MsgLickThreshold, touch.Left, touch.Right))
	d.Handle(protocol.Slope, r.cmdSlope)
	d.Handle(protocol.RemountStorage, r.cmdRemount)

	d.Handle(protocol.FlashLEDLeft, r.cmdPulse(actuator.LeftLED))
	d.Handle(protocol.FlashLEDCenter, r.cmdPulse(actuator.CenterLED))
	d.Handle(protocol.FlashLEDRight, r.cmdPulse(actuator.RightLED))
	d.Handle(protocol.ToggleLEDLeft, r.cmdToggle(actuator.LeftLED))
	d.Handle(protocol.ToggleLEDCenter, r.cmdToggle(actuator.CenterLED))
	d.Handle(protocol.ToggleLEDRight, r.cmdToggle(actuator.RightLED))

	left := r.cmdReward(actuator.LeftValve, r.cfg.Actuators.ServoLeft)
	right := r.cmdReward(actuator.RightValve, r.cfg.Actuators.ServoRight)
	d.Handle(protocol.RewardLeft, left.pulse)
	d.Handle(protocol.RewardRight, right.pulse)
	d.Handle(protocol.ToggleRewardLeft, left.toggle)
	d.Handle(protocol.ToggleRewardRight, right.toggle)
	d.Handle(protocol.ToggleLeftReward, left.toggle)
	d.Handle(protocol.ToggleRightReward, right.toggle)
	d.Handle(protocol.ToggleCenterReward, r.cmdToggleCenterReward)
}

func (r *Rig) cmdStartSession(cmd protocol.Command) error {
	if r.cfg.Session.ExpectFilename {
		r.disp.Expect(r.startSession)
		r.event(MsgAwaitingFilename)
		return nil
	}
	return r.startSession(fmt.Sprintf(r.cfg.Session.FilenamePattern, cmd.Value))
}

func (r *Rig) startSession(name string) error {
	if err := r.rec.Start(name, r.now); err != nil {
		return err
	}
	r.log.Info("session started", "session", name, "buffer_records", r.rec.Capacity())
	r.event(MsgSessionStarted)
	return nil
}

func (r *Rig) cmdEndSession(cmd protocol.Command) error {
	send := cmd.Value == 1
	sum, err := r.rec.End(send, r.out)
	if sum.Name != "" {
		r.log.Info("session ended",
			"session", sum.Name,
			"records", sum.Records,
			"flushes", sum.Flushes,
			"duration", sum.Duration,
			"sent", send)
	}
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	r.event(MsgSessionEnded)
	return nil
}

func (r *Rig) cmdRecalibrate(msg string) protocol.Handler {
	return func(protocol.Command) error {
		if err := r.detector.CalibrateAll(); err != nil {
			return fmt.Errorf("reset licks: %w", err)
		}
		r.event(msg)
		return nil
	}
}

// cmdStartClock moves the origin of event timestamps to the current tick.
// Session records keep their own origin.
func (r *Rig) cmdStartClock(protocol.Command) error {
	r.boot = r.now
	r.detector.Rebase(r.now)
	r.log.Info("clock started")
	r.event(MsgClockStarted)
	return nil
}

func (r *Rig) cmdResetWheel(protocol.Command) error {
	r.wheel.Reset()
	r.event(MsgWheelReset)
	return nil
}

func (r *Rig) cmdThreshold(msg string, channels ...touch.Channel) protocol.Handler {
	return func(cmd protocol.Command) error {
		if cmd.Value <= 0 {
			return cmd.Invalid()
		}
		for _, ch := range channels {
			r.detector.SetThreshold(ch, cmd.Value)
		}
		r.event(msg)
		return nil
	}
}

func (r *Rig) cmdSlope(cmd protocol.Command) error {
	if cmd.Value < 0 {
		return cmd.Invalid()
	}
	r.detector.SetSlope(cmd.Value)
	r.event(MsgSlope)
	return nil
}

func (r *Rig) cmdRemount(protocol.Command) error {
	if err := r.storage.Mount(); err != nil {
		return fmt.Errorf("remount storage: %w", err)
	}
	r.log.Info("storage mounted")
	r.event(MsgStorageMounted)
	return nil
}

func (r *Rig) cmdPulse(ch actuator.ChannelID) protocol.Handler {
	return func(cmd protocol.Command) error {
		d, err := cmd.Duration()
		if err != nil {
			return err
		}
		return r.act.Pulse(ch, d, r.now)
	}
}

func (r *Rig) cmdToggle(ch actuator.ChannelID) protocol.Handler {
	return func(protocol.Command) error {
		return r.act.Toggle(ch, r.now)
	}
}

type reward struct {
	pulse  protocol.Handler
	toggle protocol.Handler
}

// cmdReward drives the servo towards target when it is attached and the
// valve otherwise.
func (r *Rig) cmdReward(valve actuator.ChannelID, target int) reward {
	aim := func() actuator.ChannelID {
		if servo := r.act.ServoMotion(); servo != nil {
			servo.SetTarget(target)
			return actuator.Servo
		}
		return valve
	}
	return reward{
		pulse: func(cmd protocol.Command) error {
			d, err := cmd.Duration()
			if err != nil {
				return err
			}
			return r.act.Pulse(aim(), d, r.now)
		},
		toggle: func(protocol.Command) error {
			return r.act.Toggle(aim(), r.now)
		},
	}
}

// cmdToggleCenterReward toggles the reward servo at its rest position.
func (r *Rig) cmdToggleCenterReward(cmd protocol.Command) error {
	servo := r.act.ServoMotion()
	if servo == nil {
		return fmt.Errorf("%s: %w", cmd.Name, ErrNoCenterReward)
	}
	servo.SetTarget(r.cfg.Actuators.ServoCenter)
	return r.act.Toggle(actuator.Servo, r.now)
}
