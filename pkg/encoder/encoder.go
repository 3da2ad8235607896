// Package encoder decodes a quadrature rotary encoder driven by edge interrupts.
package encoder

import (
	"math"
	"sync"
)

// DefaultDegreesPerCount matches a 1024 count encoder read as quarter turns.
const DefaultDegreesPerCount = 90.0 / 1024.0

// Transition patterns are (previous state << 2) | current state, with a state
// being (A << 1) | B.
const (
	forward1  = 0b1101
	forward2  = 0b0100
	forward3  = 0b0010
	forward4  = 0b1011
	backward1 = 0b1110
	backward2 = 0b0111
	backward3 = 0b0001
	backward4 = 0b1000
)

// Tracker keeps a signed position count. EdgeA and EdgeB are meant to be
// called from interrupt or GPIO event context; every access to the state
// happens inside the same critical section.
type Tracker struct {
	mu              sync.Mutex
	a, b            bool
	last            uint8 // previous 2-bit state
	count           int64
	degreesPerCount float64
}

// New creates a tracker. degreesPerCount <= 0 uses DefaultDegreesPerCount.
func New(degreesPerCount float64) *Tracker {
	if degreesPerCount <= 0 {
		degreesPerCount = DefaultDegreesPerCount
	}
	return &Tracker{degreesPerCount: degreesPerCount}
}

// Init sets the current phase levels without counting.
func (t *Tracker) Init(a, b bool) {
	t.mu.Lock()
	t.a, t.b = a, b
	t.last = state(a, b)
	t.mu.Unlock()
}

// EdgeA handles an edge on phase A.
func (t *Tracker) EdgeA(level bool) {
	t.mu.Lock()
	t.a = level
	t.step()
	t.mu.Unlock()
}

// EdgeB handles an edge on phase B.
func (t *Tracker) EdgeB(level bool) {
	t.mu.Lock()
	t.b = level
	t.step()
	t.mu.Unlock()
}

func state(a, b bool) uint8 {
	var s uint8
	if a {
		s |= 0b10
	}
	if b {
		s |= 0b01
	}
	return s
}

// step must be called with mu held.
func (t *Tracker) step() {
	cur := state(t.a, t.b)
	switch t.last<<2 | cur {
	case forward1, forward2, forward3, forward4:
		t.count++
	case backward1, backward2, backward3, backward4:
		t.count--
	}
	// Invalid transitions (double steps, repeated states) are ignored.
	t.last = cur
}

// Count returns the signed position count.
func (t *Tracker) Count() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

// Degrees returns the position converted with the configured resolution.
func (t *Tracker) Degrees() float64 {
	return float64(t.Count()) * t.degreesPerCount
}

// Degrees16 returns the position in whole degrees saturated to int16.
func (t *Tracker) Degrees16() int16 {
	d := math.Round(t.Degrees())
	if d > math.MaxInt16 {
		return math.MaxInt16
	}
	if d < math.MinInt16 {
		return math.MinInt16
	}
	return int16(d)
}

// Reset zeroes the position count.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.count = 0
	t.mu.Unlock()
}
