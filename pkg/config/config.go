package config

import (
	"fmt"
	"os"
	"time"

	"github.com/c2h5oh/datasize"
	"gopkg.in/yaml.v3"
)

// Threshold modes for touch detection.
const (
	ModeMultiplier = "multiplier"
	ModeFixed      = "fixed"
)

// Hardware backends.
const (
	BackendGPIO = "gpio"
	BackendMock = "mock"
)

// Config represents the rig configuration.
type Config struct {
	Serial    SerialConfig    `yaml:"serial"`
	Loop      LoopConfig      `yaml:"loop"`
	Touch     TouchConfig     `yaml:"touch"`
	Filter    FilterConfig    `yaml:"filter"`
	Encoder   EncoderConfig   `yaml:"encoder"`
	Actuators ActuatorConfig  `yaml:"actuators"`
	Session   SessionConfig   `yaml:"session"`
	Hardware  HardwareConfig  `yaml:"hardware"`
	Mock      MockConfig      `yaml:"mock"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// SerialConfig contains the command channel and the secondary actuator link.
type SerialConfig struct {
	Port              string `yaml:"port"`
	BaudRate          int    `yaml:"baud_rate"`
	SecondaryPort     string `yaml:"secondary_port"` // empty disables forwarding
	SecondaryBaudRate int    `yaml:"secondary_baud_rate"`
}

// LoopConfig contains control loop timing.
type LoopConfig struct {
	Tick time.Duration `yaml:"tick"`
}

// TouchConfig contains lick detection parameters.
type TouchConfig struct {
	Mode               string `yaml:"mode"`            // "multiplier" or "fixed"
	ThresholdLeft      int    `yaml:"threshold_left"`  // tenths of baseline in multiplier mode, raw counts in fixed mode
	ThresholdRight     int    `yaml:"threshold_right"` // same units as ThresholdLeft
	Debounce           int    `yaml:"debounce"`        // consecutive samples needed to flip state
	CalibrationSamples int    `yaml:"calibration_samples"`
	MaxRaw             uint16 `yaml:"max_raw"`
	Slope              int    `yaml:"slope"` // minimum rise in counts per sample to start a lick, 0 disables
}

// FilterConfig contains low-pass filter parameters applied to touch signals.
type FilterConfig struct {
	CutoffHz float32 `yaml:"cutoff_hz"`
	SampleHz float32 `yaml:"sample_hz"`
	Order    int     `yaml:"order"`
	Adaptive bool    `yaml:"adaptive"`
}

// EncoderConfig contains rotary encoder parameters.
type EncoderConfig struct {
	DegreesPerCount float64 `yaml:"degrees_per_count"`
}

// ActuatorConfig contains reward servo parameters.
type ActuatorConfig struct {
	ServoEnabled bool `yaml:"servo_enabled"`
	ServoCenter  int  `yaml:"servo_center"`
	ServoLeft    int  `yaml:"servo_left"`
	ServoRight   int  `yaml:"servo_right"`
	ServoStep    int  `yaml:"servo_step"` // degrees per tick
}

// SessionConfig contains session recording parameters.
type SessionConfig struct {
	Dir             string            `yaml:"dir"`
	BufferSize      datasize.ByteSize `yaml:"buffer_size"`
	ExpectFilename  bool              `yaml:"expect_filename"`  // take the line after start_session as filename
	FilenamePattern string            `yaml:"filename_pattern"` // fmt pattern applied to the session id
}

// HardwareConfig selects and configures the hardware backend.
type HardwareConfig struct {
	Backend      string `yaml:"backend"` // "gpio" or "mock"
	Chip         string `yaml:"chip"`
	TouchLeft    string `yaml:"touch_left"`  // IIO raw value file for the left sensor
	TouchRight   string `yaml:"touch_right"` // IIO raw value file for the right sensor
	EncoderA     int    `yaml:"encoder_a"`
	EncoderB     int    `yaml:"encoder_b"`
	Photodiode   int    `yaml:"photodiode"`
	LeftLED      int    `yaml:"left_led"`
	CenterLED    int    `yaml:"center_led"`
	RightLED     int    `yaml:"right_led"`
	LeftValve    int    `yaml:"left_valve"`
	RightValve   int    `yaml:"right_valve"`
	LocalOutputs bool   `yaml:"local_outputs"` // drive LEDs and valves from this board as well
}

// MockConfig contains simulated hardware parameters.
type MockConfig struct {
	Baseline     uint16        `yaml:"baseline"`      // resting sensor value
	TouchDelta   uint16        `yaml:"touch_delta"`   // sensor increase while licking
	NoiseLevel   float64       `yaml:"noise_level"`   // noise amplitude in counts
	LickPeriod   time.Duration `yaml:"lick_period"`   // time between simulated licks
	LickDuration time.Duration `yaml:"lick_duration"` // contact time per lick
	WheelRate    float64       `yaml:"wheel_rate"`    // encoder counts per second
}

// TelemetryConfig contains optional event mirroring.
type TelemetryConfig struct {
	MQTTBroker   string `yaml:"mqtt_broker"` // empty disables MQTT
	MQTTClientID string `yaml:"mqtt_client_id"`
	MQTTPrefix   string `yaml:"mqtt_prefix"`
	HTTPAddr     string `yaml:"http_addr"` // empty disables the status server
}

// LoggingConfig contains logging parameters.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns a default configuration with sensible values.
func Default() *Config {
	return &Config{
		Serial: SerialConfig{
			Port:              "/dev/ttyGS0",
			BaudRate:          115200,
			SecondaryPort:     "",
			SecondaryBaudRate: 115200,
		},
		Loop: LoopConfig{
			Tick: 5 * time.Millisecond,
		},
		Touch: TouchConfig{
			Mode:               ModeMultiplier,
			ThresholdLeft:      11,
			ThresholdRight:     11,
			Debounce:           2,
			CalibrationSamples: 100,
			MaxRaw:             4095,
		},
		Filter: FilterConfig{
			CutoffHz: 10,
			SampleHz: 200,
			Order:    2,
			Adaptive: true,
		},
		Encoder: EncoderConfig{
			DegreesPerCount: 90.0 / 1024.0,
		},
		Actuators: ActuatorConfig{
			ServoEnabled: false,
			ServoCenter:  90,
			ServoLeft:    60,
			ServoRight:   120,
			ServoStep:    2,
		},
		Session: SessionConfig{
			Dir:             "sessions",
			BufferSize:      8 * datasize.KB,
			ExpectFilename:  false,
			FilenamePattern: "session_%d.bin",
		},
		Hardware: HardwareConfig{
			Backend:      BackendGPIO,
			Chip:         "gpiochip0",
			TouchLeft:    "/sys/bus/iio/devices/iio:device0/in_voltage0_raw",
			TouchRight:   "/sys/bus/iio/devices/iio:device0/in_voltage1_raw",
			EncoderA:     17,
			EncoderB:     27,
			Photodiode:   22,
			LeftLED:      5,
			CenterLED:    6,
			RightLED:     13,
			LeftValve:    19,
			RightValve:   26,
			LocalOutputs: false,
		},
		Mock: MockConfig{
			Baseline:     1000,
			TouchDelta:   600,
			NoiseLevel:   5,
			LickPeriod:   3 * time.Second,
			LickDuration: 80 * time.Millisecond,
			WheelRate:    200,
		},
		Telemetry: TelemetryConfig{
			MQTTBroker:   "",
			MQTTClientID: "lickrig",
			MQTTPrefix:   "lickrig/rig1",
			HTTPAddr:     "",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ensureDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate reports values that cannot be defaulted.
func (c *Config) Validate() error {
	switch c.Touch.Mode {
	case ModeMultiplier, ModeFixed:
	default:
		return fmt.Errorf("invalid touch mode %q (must be %q or %q)", c.Touch.Mode, ModeMultiplier, ModeFixed)
	}
	switch c.Hardware.Backend {
	case BackendGPIO, BackendMock:
	default:
		return fmt.Errorf("invalid hardware backend %q (must be %q or %q)", c.Hardware.Backend, BackendGPIO, BackendMock)
	}
	if c.Touch.Slope < 0 {
		return fmt.Errorf("invalid touch slope %d (must be 0 or positive)", c.Touch.Slope)
	}
	if c.Filter.Order != 1 && c.Filter.Order != 2 {
		return fmt.Errorf("invalid filter order %d (must be 1 or 2)", c.Filter.Order)
	}
	if c.Filter.CutoffHz >= c.Filter.SampleHz/2 {
		return fmt.Errorf("filter cutoff %.1f Hz must be below half the sample rate %.1f Hz", c.Filter.CutoffHz, c.Filter.SampleHz)
	}
	return nil
}

// ensureDefaults ensures that all required fields have default values if missing.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Serial.Port == "" {
		c.Serial.Port = def.Serial.Port
	}
	if c.Serial.BaudRate == 0 {
		c.Serial.BaudRate = def.Serial.BaudRate
	}
	if c.Serial.SecondaryBaudRate == 0 {
		c.Serial.SecondaryBaudRate = def.Serial.SecondaryBaudRate
	}

	if c.Loop.Tick <= 0 {
		c.Loop.Tick = def.Loop.Tick
	}

	if c.Touch.Mode == "" {
		c.Touch.Mode = def.Touch.Mode
	}
	if c.Touch.ThresholdLeft == 0 {
		c.Touch.ThresholdLeft = def.Touch.ThresholdLeft
	}
	if c.Touch.ThresholdRight == 0 {
		c.Touch.ThresholdRight = def.Touch.ThresholdRight
	}
	if c.Touch.Debounce <= 0 {
		c.Touch.Debounce = def.Touch.Debounce
	}
	if c.Touch.CalibrationSamples <= 0 {
		c.Touch.CalibrationSamples = def.Touch.CalibrationSamples
	}
	if c.Touch.MaxRaw == 0 {
		c.Touch.MaxRaw = def.Touch.MaxRaw
	}

	if c.Filter.CutoffHz == 0 {
		c.Filter.CutoffHz = def.Filter.CutoffHz
	}
	if c.Filter.SampleHz == 0 {
		c.Filter.SampleHz = def.Filter.SampleHz
	}
	if c.Filter.Order == 0 {
		c.Filter.Order = def.Filter.Order
	}

	if c.Encoder.DegreesPerCount == 0 {
		c.Encoder.DegreesPerCount = def.Encoder.DegreesPerCount
	}

	if c.Actuators.ServoStep <= 0 {
		c.Actuators.ServoStep = def.Actuators.ServoStep
	}

	if c.Session.Dir == "" {
		c.Session.Dir = def.Session.Dir
	}
	if c.Session.BufferSize == 0 {
		c.Session.BufferSize = def.Session.BufferSize
	}
	if c.Session.FilenamePattern == "" {
		c.Session.FilenamePattern = def.Session.FilenamePattern
	}

	if c.Hardware.Backend == "" {
		c.Hardware.Backend = def.Hardware.Backend
	}
	if c.Hardware.Chip == "" {
		c.Hardware.Chip = def.Hardware.Chip
	}

	if c.Mock.Baseline == 0 {
		c.Mock.Baseline = def.Mock.Baseline
	}
	if c.Mock.TouchDelta == 0 {
		c.Mock.TouchDelta = def.Mock.TouchDelta
	}
	if c.Mock.LickPeriod == 0 {
		c.Mock.LickPeriod = def.Mock.LickPeriod
	}
	if c.Mock.LickDuration == 0 {
		c.Mock.LickDuration = def.Mock.LickDuration
	}

	if c.Telemetry.MQTTClientID == "" {
		c.Telemetry.MQTTClientID = def.Telemetry.MQTTClientID
	}
	if c.Telemetry.MQTTPrefix == "" {
		c.Telemetry.MQTTPrefix = def.Telemetry.MQTTPrefix
	}

	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
}
