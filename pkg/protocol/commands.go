package protocol

import (
	"fmt"
	"time"
)

// Command names, version 1.
const (
	StartSession   = "start_session"
	EndSession     = "end_session"
	ResetLicks     = "reset_licks"
	ResetWheel     = "reset_wheel"
	ThresholdLeft  = "update_lick_threshold_left"
	ThresholdRight = "update_lick_threshold_right"
	ThresholdBoth  = "update_lick_threshold"
	Slope          = "update_lick_slope"
	RemountStorage = "remount_storage"
	StartClock     = "start_clock"

	// Host spellings of reset_licks.
	Reset           = "reset"
	ResetLickSensor = "reset_lick_sensor"

	FlashLEDLeft    = "flash_led_left"
	FlashLEDCenter  = "flash_led_center"
	FlashLEDRight   = "flash_led_right"
	ToggleLEDLeft   = "toggle_led_left"
	ToggleLEDCenter = "toggle_led_center"
	ToggleLEDRight  = "toggle_led_right"

	RewardLeft        = "reward_left"
	RewardRight       = "reward_right"
	ToggleRewardLeft  = "toggle_reward_left"
	ToggleRewardRight = "toggle_reward_right"

	// Host spellings of the reward toggles.
	ToggleLeftReward   = "toggle_left_reward"
	ToggleRightReward  = "toggle_right_reward"
	ToggleCenterReward = "toggle_center_reward"
)

// MaxPulse bounds timed actuator commands.
const MaxPulse = time.Minute

// Duration interprets the value as milliseconds in (0, MaxPulse].
func (c Command) Duration() (time.Duration, error) {
	d := time.Duration(c.Value) * time.Millisecond
	if d <= 0 || d > MaxPulse {
		return 0, c.Invalid()
	}
	return d, nil
}

// Invalid returns an ErrInvalidValue error for the command. The dispatcher
// reports it as an Invalid value line.
func (c Command) Invalid() error {
	return fmt.Errorf("%s %d: %w", c.Name, c.Value, ErrInvalidValue)
}
