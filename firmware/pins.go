package main

import "machine"

const (
	// Loop configuration
	TICK_INTERVAL_MS = 1 // actuator timing resolution in milliseconds

	// LED and valve pins
	PIN_LED_LEFT    = machine.D0
	PIN_LED_CENTER  = machine.D1
	PIN_LED_RIGHT   = machine.D3
	PIN_VALVE_LEFT  = machine.D7
	PIN_VALVE_RIGHT = machine.D8

	// Reward servo, used instead of the valves when enabled
	SERVO_ENABLED = false
	PIN_SERVO     = machine.D2
	SERVO_CENTER  = 90  // rest position in degrees
	SERVO_LEFT    = 60  // left spout target in degrees
	SERVO_RIGHT   = 120 // right spout target in degrees
	SERVO_STEP    = 2   // degrees per tick

	// The primary board sends the filename on the line after start_session
	EXPECT_FILENAME = false

	// Serial configuration
	// Forwarded commands are at most 128 bytes per line at a few lines per
	// second, far below the 11,520 bytes/sec of 115200 baud 8N1.
	UART_BAUD_RATE = 115200
)
