package hw

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/itohio/lickrig/pkg/actuator"
	"github.com/itohio/lickrig/pkg/config"
	"github.com/itohio/lickrig/pkg/encoder"
	"github.com/itohio/lickrig/pkg/touch"
)

// Sim simulates a rig for development without hardware. Licks alternate
// between the left and right spouts every LickPeriod, the wheel turns at
// WheelRate counts per second and the photodiode sees the center LED.
type Sim struct {
	cfg config.MockConfig

	// Now is the simulation clock.
	Now func() time.Time

	mu      sync.RWMutex
	start   time.Time
	forced  [len(touch.Channels)]bool
	outputs [actuator.NumChannels]bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

var _ Board = (*Sim)(nil)

// NewSim creates a simulated board. A nil cfg uses the default mock config.
func NewSim(cfg *config.MockConfig) *Sim {
	if cfg == nil {
		def := config.Default().Mock
		cfg = &def
	}
	return &Sim{
		cfg:   *cfg,
		Now:   time.Now,
		start: time.Now(),
	}
}

// Restart resets the simulation time origin.
func (s *Sim) Restart(at time.Time) {
	s.mu.Lock()
	s.start = at
	s.mu.Unlock()
}

// licking reports whether the simulated animal touches ch at now.
func (s *Sim) licking(ch touch.Channel, now time.Time) bool {
	if s.forced[ch] {
		return true
	}
	if s.cfg.LickPeriod <= 0 {
		return false
	}
	elapsed := now.Sub(s.start)
	if elapsed < 0 {
		return false
	}
	n := int64(elapsed / s.cfg.LickPeriod)
	if elapsed%s.cfg.LickPeriod >= s.cfg.LickDuration {
		return false
	}
	// First lick happens one period after start so calibration sees the baseline.
	if n == 0 {
		return false
	}
	return touch.Channel(n%2) == ch
}

// ReadRaw returns baseline plus a deterministic ripple, raised by
// TouchDelta while licking.
func (s *Sim) ReadRaw(ch touch.Channel) (uint16, error) {
	if ch < 0 || int(ch) >= len(touch.Channels) {
		return 0, errors.New("sim: unknown channel")
	}
	now := s.Now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	v := float64(s.cfg.Baseline)
	if s.licking(ch, now) {
		v += float64(s.cfg.TouchDelta)
	}
	t := float64(now.Sub(s.start).Nanoseconds())
	v += (math.Sin(t*1e-7+float64(ch)) + math.Cos(t*1.3e-7)) * s.cfg.NoiseLevel * 0.5

	switch {
	case v < 0:
		v = 0
	case v > math.MaxUint16:
		v = math.MaxUint16
	}
	return uint16(v), nil
}

// SetTouch forces a channel to read as touched until cleared.
func (s *Sim) SetTouch(ch touch.Channel, on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch >= 0 && int(ch) < len(s.forced) {
		s.forced[ch] = on
	}
}

// AttachEncoder starts a goroutine that turns the wheel forward at WheelRate.
func (s *Sim) AttachEncoder(t *encoder.Tracker) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return errors.New("encoder already attached")
	}
	t.Init(false, false)
	if s.cfg.WheelRate <= 0 {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	period := time.Duration(float64(time.Second) / s.cfg.WheelRate)
	if period <= 0 {
		period = time.Microsecond
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(period)
		defer ticker.Stop()

		a, b := false, false
		step := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				// Forward quadrature sequence: A rises, B rises, A falls, B falls.
				switch step % 4 {
				case 0:
					a = true
					t.EdgeA(a)
				case 1:
					b = true
					t.EdgeB(b)
				case 2:
					a = false
					t.EdgeA(a)
				case 3:
					b = false
					t.EdgeB(b)
				}
				step++
			}
		}
	}()
	return nil
}

// Photodiode sees the center LED.
func (s *Sim) Photodiode() (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.outputs[actuator.CenterLED], nil
}

type simOutput struct {
	sim *Sim
	ch  actuator.ChannelID
}

func (o simOutput) Set(on bool) error {
	o.sim.mu.Lock()
	o.sim.outputs[o.ch] = on
	o.sim.mu.Unlock()
	return nil
}

func (s *Sim) Output(ch actuator.ChannelID) actuator.Output {
	if ch < 0 || ch >= actuator.Servo {
		return nil
	}
	return simOutput{sim: s, ch: ch}
}

// OutputState returns the last level written to ch.
func (s *Sim) OutputState(ch actuator.ChannelID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if ch < 0 || int(ch) >= len(s.outputs) {
		return false
	}
	return s.outputs[ch]
}

// Close stops the wheel goroutine.
func (s *Sim) Close() error {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		s.wg.Wait()
	}
	return nil
}
