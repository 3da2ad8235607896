package hw

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/itohio/lickrig/pkg/touch"
)

// IIOSensor reads touch channels from Linux IIO raw value files such as
// /sys/bus/iio/devices/iio:device0/in_voltage0_raw.
type IIOSensor struct {
	paths [len(touch.Channels)]string
	buf   []byte
}

func NewIIOSensor(left, right string) *IIOSensor {
	s := &IIOSensor{buf: make([]byte, 32)}
	s.paths[touch.Left] = left
	s.paths[touch.Right] = right
	return s
}

// ReadRaw reads one sample. Negative values read as 0 and values above
// 65535 saturate.
func (s *IIOSensor) ReadRaw(ch touch.Channel) (uint16, error) {
	if ch < 0 || int(ch) >= len(s.paths) || s.paths[ch] == "" {
		return 0, fmt.Errorf("iio: no file for %s", ch)
	}
	f, err := os.Open(s.paths[ch])
	if err != nil {
		return 0, fmt.Errorf("iio %s: %w", ch, err)
	}
	n, err := f.Read(s.buf)
	f.Close()
	if err != nil {
		return 0, fmt.Errorf("iio %s: %w", ch, err)
	}

	v, err := strconv.ParseInt(strings.TrimSpace(string(s.buf[:n])), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("iio %s: %w", ch, err)
	}
	switch {
	case v < 0:
		return 0, nil
	case v > 0xffff:
		return 0xffff, nil
	}
	return uint16(v), nil
}
