package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.NotNil(t, cfg)
	assert.Equal(t, 115200, cfg.Serial.BaudRate)
	assert.Equal(t, 5*time.Millisecond, cfg.Loop.Tick)
	assert.Equal(t, ModeMultiplier, cfg.Touch.Mode)
	assert.Equal(t, 11, cfg.Touch.ThresholdLeft)
	assert.Equal(t, 11, cfg.Touch.ThresholdRight)
	assert.Equal(t, 2, cfg.Touch.Debounce)
	assert.InDelta(t, 90.0/1024.0, cfg.Encoder.DegreesPerCount, 1e-12)
	assert.Equal(t, 8*datasize.KB, cfg.Session.BufferSize)
	assert.Equal(t, BackendGPIO, cfg.Hardware.Backend)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_FileNotExists(t *testing.T) {
	cfg, err := Load("nonexistent.yaml")
	require.NoError(t, err)
	assert.NotNil(t, cfg)
	assert.Equal(t, "/dev/ttyGS0", cfg.Serial.Port)
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_ValidYAML(t *testing.T) {
	path := writeConfig(t, `
serial:
  port: "/dev/ttyACM0"
  secondary_port: "/dev/ttyACM1"

loop:
  tick: 2ms

touch:
  mode: fixed
  threshold_left: 1400
  threshold_right: 1500
  debounce: 3

filter:
  cutoff_hz: 5
  sample_hz: 500
  order: 1
  adaptive: false

session:
  dir: /var/lib/lickrig
  buffer_size: 4KB
  expect_filename: true

hardware:
  backend: mock
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyACM0", cfg.Serial.Port)
	assert.Equal(t, "/dev/ttyACM1", cfg.Serial.SecondaryPort)
	assert.Equal(t, 2*time.Millisecond, cfg.Loop.Tick)
	assert.Equal(t, ModeFixed, cfg.Touch.Mode)
	assert.Equal(t, 1400, cfg.Touch.ThresholdLeft)
	assert.Equal(t, 1500, cfg.Touch.ThresholdRight)
	assert.Equal(t, 3, cfg.Touch.Debounce)
	assert.Equal(t, float32(5), cfg.Filter.CutoffHz)
	assert.Equal(t, 1, cfg.Filter.Order)
	assert.False(t, cfg.Filter.Adaptive)
	assert.Equal(t, "/var/lib/lickrig", cfg.Session.Dir)
	assert.Equal(t, 4*datasize.KB, cfg.Session.BufferSize)
	assert.True(t, cfg.Session.ExpectFilename)
	assert.Equal(t, BackendMock, cfg.Hardware.Backend)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "invalid: yaml: content: [")

	cfg, err := Load(path)
	assert.Error(t, err)
	assert.Nil(t, cfg)
}

func TestLoad_PartialYAML(t *testing.T) {
	path := writeConfig(t, `
serial:
  port: "/dev/ttyACM0"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyACM0", cfg.Serial.Port)
	assert.Equal(t, 115200, cfg.Serial.BaudRate)
	assert.Equal(t, 5*time.Millisecond, cfg.Loop.Tick)
	assert.Equal(t, "session_%d.bin", cfg.Session.FilenamePattern)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad touch mode", "touch:\n  mode: ratio\n"},
		{"bad backend", "hardware:\n  backend: teensy\n"},
		{"negative slope", "touch:\n  slope: -4\n"},
		{"bad filter order", "filter:\n  order: 3\n"},
		{"cutoff above nyquist", "filter:\n  cutoff_hz: 150\n  sample_hz: 200\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
			assert.Nil(t, cfg)
		})
	}
}

func TestSave(t *testing.T) {
	cfg := Default()
	cfg.Serial.Port = "/dev/ttyUSB0"
	cfg.Session.BufferSize = 16 * datasize.KB
	cfg.Touch.ThresholdLeft = 13

	path := filepath.Join(t.TempDir(), "saved.yaml")
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB0", loaded.Serial.Port)
	assert.Equal(t, 16*datasize.KB, loaded.Session.BufferSize)
	assert.Equal(t, 13, loaded.Touch.ThresholdLeft)
}
