// Package filter implements recursive low-pass filters for noisy sensor streams.
package filter

import (
	"time"

	"github.com/chewxy/math32"
)

const (
	// MinDt is the smallest time step used for adaptive coefficients.
	MinDt = 100 * time.Microsecond
	// MaxDt is the largest time step used for adaptive coefficients.
	MaxDt = time.Second
)

// LowPass is a 1st or 2nd order Butterworth low-pass filter discretized with the
// bilinear transform. It keeps input and output history between calls.
//
// When adaptive, coefficients are recomputed on every call from the time since
// the previous call, so irregular control loop timing does not shift the cutoff.
type LowPass struct {
	omega0   float32 // cutoff in rad/s
	dt       float32 // nominal sample period in seconds
	order    int
	adaptive bool

	a [2]float32 // feedback coefficients
	b [3]float32 // feedforward coefficients
	x [3]float32 // x[0] current input, x[1..] previous inputs
	y [3]float32 // y[0] current output, y[1..] previous outputs

	last    time.Time
	started bool
}

// New creates a filter. Order is clamped to 1 or 2.
func New(cutoffHz, sampleHz float32, order int, adaptive bool) *LowPass {
	if order < 1 {
		order = 1
	}
	if order > 2 {
		order = 2
	}
	if sampleHz <= 0 {
		sampleHz = 1
	}
	f := &LowPass{
		omega0:   2 * math32.Pi * cutoffHz,
		dt:       1 / sampleHz,
		order:    order,
		adaptive: adaptive,
	}
	f.setCoefficients(f.dt)
	return f
}

// Order returns the filter order.
func (f *LowPass) Order() int {
	return f.order
}

// Coefficients returns the current feedback and feedforward coefficients.
func (f *LowPass) Coefficients() (a [2]float32, b [3]float32) {
	return f.a, f.b
}

func (f *LowPass) setCoefficients(dt float32) {
	alpha := f.omega0 * dt
	if f.order == 1 {
		f.a[0] = -(alpha - 2) / (alpha + 2)
		f.a[1] = 0
		f.b[0] = alpha / (alpha + 2)
		f.b[1] = f.b[0]
		f.b[2] = 0
		return
	}

	dtSq := dt * dt
	c0 := f.omega0 * f.omega0
	c1 := math32.Sqrt(2) * f.omega0
	const c2 = 1
	d := c0*dtSq + 2*c1*dt + 4*c2

	f.b[0] = c0 * dtSq / d
	f.b[1] = 2 * f.b[0]
	f.b[2] = f.b[0]
	f.a[0] = -(2*c0*dtSq - 8*c2) / d
	f.a[1] = -(c0*dtSq - 2*c1*dt + 4*c2) / d
}

// Filt consumes one raw sample taken at now and returns the filtered value.
func (f *LowPass) Filt(x float32, now time.Time) float32 {
	if f.adaptive {
		dt := f.dt
		if f.started {
			dt = clampDt(now.Sub(f.last))
		}
		f.setCoefficients(dt)
	}
	f.last = now
	f.started = true

	f.y[0] = 0
	f.x[0] = x
	for k := 0; k < f.order; k++ {
		f.y[0] += f.a[k]*f.y[k+1] + f.b[k]*f.x[k]
	}
	f.y[0] += f.b[f.order] * f.x[f.order]

	if math32.IsNaN(f.y[0]) || math32.IsInf(f.y[0], 0) {
		f.Reset(x)
		return x
	}

	for k := f.order; k > 0; k-- {
		f.y[k] = f.y[k-1]
		f.x[k] = f.x[k-1]
	}
	return f.y[0]
}

// Reset primes the history with a steady value v.
func (f *LowPass) Reset(v float32) {
	for i := range f.x {
		f.x[i] = v
		f.y[i] = v
	}
}

// Value returns the most recent output.
func (f *LowPass) Value() float32 {
	return f.y[1]
}

func clampDt(d time.Duration) float32 {
	if d < MinDt {
		d = MinDt
	}
	if d > MaxDt {
		d = MaxDt
	}
	return float32(d.Seconds())
}
