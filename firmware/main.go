//go:generate tinygo flash -target=xiao

package main

import (
	"errors"
	"machine"
	"time"

	"tinygo.org/x/drivers/servo"

	"github.com/itohio/lickrig/pkg/actuator"
	"github.com/itohio/lickrig/pkg/protocol"
)

var (
	uart = machine.UART0

	act   = actuator.New()
	lines protocol.LineReader
	out   *protocol.Writer
	disp  *protocol.Dispatcher

	// Time of the current loop iteration
	now time.Time

	// Serial receive buffer
	rx [32]byte
)

func main() {
	uart.Configure(machine.UARTConfig{
		BaudRate: UART_BAUD_RATE,
	})

	out = protocol.NewWriter(uart)
	disp = protocol.NewDispatcher(out)

	act.OnError = func(ch actuator.ChannelID, err error) {
		println("actuator", ch.String(), err.Error())
	}
	act.Attach(actuator.LeftLED, pinOutput(PIN_LED_LEFT))
	act.Attach(actuator.CenterLED, pinOutput(PIN_LED_CENTER))
	act.Attach(actuator.RightLED, pinOutput(PIN_LED_RIGHT))
	act.Attach(actuator.LeftValve, pinOutput(PIN_VALVE_LEFT))
	act.Attach(actuator.RightValve, pinOutput(PIN_VALVE_RIGHT))

	if SERVO_ENABLED {
		s, err := servo.New(machine.TCC0, PIN_SERVO)
		if err != nil {
			println("servo:", err.Error())
		} else {
			motion := actuator.NewServo(s, SERVO_CENTER, SERVO_STEP)
			motion.Home()
			act.AttachServo(motion)
		}
	}

	registerCommands()

	out.Event(0, "protocol_v1")

	// Main loop
	for {
		now = time.Now()
		processSerial()
		act.Tick(now)
		time.Sleep(TICK_INTERVAL_MS * time.Millisecond)
	}
}

func pinOutput(pin machine.Pin) actuator.Output {
	pin.Configure(machine.PinConfig{Mode: machine.PinOutput})
	pin.Low()
	return actuator.OutputFunc(func(on bool) error {
		pin.Set(on)
		return nil
	})
}

// processSerial dispatches every complete line received since the last
// iteration.
func processSerial() {
	for uart.Buffered() > 0 {
		n := 0
		for n < len(rx) && uart.Buffered() > 0 {
			b, err := uart.ReadByte()
			if err != nil {
				break
			}
			rx[n] = b
			n++
		}
		for _, line := range lines.Feed(rx[:n]) {
			disp.Dispatch(line)
		}
	}
}

func registerCommands() {
	disp.Handle(protocol.FlashLEDLeft, pulse(fixed(actuator.LeftLED)))
	disp.Handle(protocol.FlashLEDCenter, pulse(fixed(actuator.CenterLED)))
	disp.Handle(protocol.FlashLEDRight, pulse(fixed(actuator.RightLED)))
	disp.Handle(protocol.ToggleLEDLeft, toggle(fixed(actuator.LeftLED)))
	disp.Handle(protocol.ToggleLEDCenter, toggle(fixed(actuator.CenterLED)))
	disp.Handle(protocol.ToggleLEDRight, toggle(fixed(actuator.RightLED)))

	disp.Handle(protocol.RewardLeft, pulse(reward(actuator.LeftValve, SERVO_LEFT)))
	disp.Handle(protocol.RewardRight, pulse(reward(actuator.RightValve, SERVO_RIGHT)))
	disp.Handle(protocol.ToggleRewardLeft, toggle(reward(actuator.LeftValve, SERVO_LEFT)))
	disp.Handle(protocol.ToggleRewardRight, toggle(reward(actuator.RightValve, SERVO_RIGHT)))
	disp.Handle(protocol.ToggleLeftReward, toggle(reward(actuator.LeftValve, SERVO_LEFT)))
	disp.Handle(protocol.ToggleRightReward, toggle(reward(actuator.RightValve, SERVO_RIGHT)))
	disp.Handle(protocol.ToggleCenterReward, toggleCenter)

	// Sensing and logging commands belong to the primary board.
	for _, name := range []string{
		protocol.EndSession,
		protocol.ResetLicks,
		protocol.Reset,
		protocol.ResetLickSensor,
		protocol.ResetWheel,
		protocol.StartClock,
		protocol.ThresholdLeft,
		protocol.ThresholdRight,
		protocol.ThresholdBoth,
		protocol.Slope,
		protocol.RemountStorage,
	} {
		disp.Handle(name, ignore)
	}
	disp.Handle(protocol.StartSession, func(protocol.Command) error {
		if EXPECT_FILENAME {
			disp.Expect(func(string) error { return nil })
		}
		return nil
	})
}

func ignore(protocol.Command) error { return nil }

// target resolves the channel a command drives at dispatch time.
type target func() actuator.ChannelID

func fixed(ch actuator.ChannelID) target {
	return func() actuator.ChannelID { return ch }
}

// reward aims the servo when it is attached and the valve otherwise.
func reward(valve actuator.ChannelID, angle int) target {
	return func() actuator.ChannelID {
		if s := act.ServoMotion(); s != nil {
			s.SetTarget(angle)
			return actuator.Servo
		}
		return valve
	}
}

func pulse(aim target) protocol.Handler {
	return func(cmd protocol.Command) error {
		d, err := cmd.Duration()
		if err != nil {
			return err
		}
		return act.Pulse(aim(), d, now)
	}
}

func toggle(aim target) protocol.Handler {
	return func(protocol.Command) error {
		return act.Toggle(aim(), now)
	}
}

func toggleCenter(protocol.Command) error {
	s := act.ServoMotion()
	if s == nil {
		return errors.New("center reward needs the reward servo")
	}
	s.SetTarget(SERVO_CENTER)
	return act.Toggle(actuator.Servo, now)
}
