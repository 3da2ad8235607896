package encoder

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

// forward drives k edges of a forward quadrature sequence starting from 00.
func forward(tr *Tracker, k int) {
	edges := []func(){
		func() { tr.EdgeA(true) },
		func() { tr.EdgeB(true) },
		func() { tr.EdgeA(false) },
		func() { tr.EdgeB(false) },
	}
	for i := 0; i < k; i++ {
		edges[i%4]()
	}
}

func backward(tr *Tracker, k int) {
	edges := []func(){
		func() { tr.EdgeB(true) },
		func() { tr.EdgeA(true) },
		func() { tr.EdgeB(false) },
		func() { tr.EdgeA(false) },
	}
	for i := 0; i < k; i++ {
		edges[i%4]()
	}
}

func TestTracker_ForwardSequence(t *testing.T) {
	for _, k := range []int{1, 3, 4, 17, 1024} {
		tr := New(0)
		forward(tr, k)
		assert.Equal(t, int64(k), tr.Count(), "k=%d", k)
	}
}

func TestTracker_BackwardSequence(t *testing.T) {
	tr := New(0)
	backward(tr, 10)
	assert.Equal(t, int64(-10), tr.Count())
}

func TestTracker_ForwardThenBackReturnsToZero(t *testing.T) {
	tr := New(0)
	forward(tr, 8)
	assert.Equal(t, int64(8), tr.Count())
	backward(tr, 8)
	assert.Equal(t, int64(0), tr.Count())
}

func TestTracker_InvalidTransitionsIgnored(t *testing.T) {
	tr := New(0)
	forward(tr, 2) // state 11
	assert.Equal(t, int64(2), tr.Count())

	// Repeated levels are not transitions.
	tr.EdgeA(true)
	tr.EdgeB(true)
	assert.Equal(t, int64(2), tr.Count())

	// A missed edge makes both phases change at once: 11 -> 00.
	tr.mu.Lock()
	tr.b = false
	tr.mu.Unlock()
	tr.EdgeA(false)
	assert.Equal(t, int64(2), tr.Count())

	// Counting resumes from the new state.
	tr.EdgeA(true) // 00 -> 10
	assert.Equal(t, int64(3), tr.Count())
}

func TestTracker_Degrees(t *testing.T) {
	tr := New(0)
	forward(tr, 1024)
	assert.InDelta(t, 90.0, tr.Degrees(), 1e-9)
	assert.Equal(t, int16(90), tr.Degrees16())

	custom := New(0.5)
	forward(custom, 10)
	assert.InDelta(t, 5.0, custom.Degrees(), 1e-9)
}

func TestTracker_Degrees16Saturates(t *testing.T) {
	tr := New(1)
	tr.count = 40000
	assert.Equal(t, int16(32767), tr.Degrees16())
	tr.count = -40000
	assert.Equal(t, int16(-32768), tr.Degrees16())
}

func TestTracker_Init(t *testing.T) {
	tr := New(0)
	tr.Init(true, false) // start at 10
	tr.EdgeB(true)       // 10 -> 11 forward
	assert.Equal(t, int64(1), tr.Count())
}

func TestTracker_Reset(t *testing.T) {
	tr := New(0)
	forward(tr, 5)
	tr.Reset()
	assert.Equal(t, int64(0), tr.Count())

	// Phase state is kept: five forward edges leave the tracker at 10.
	tr.EdgeB(false)
	assert.Equal(t, int64(0), tr.Count())
	tr.EdgeB(true) // 10 -> 11
	assert.Equal(t, int64(1), tr.Count())
}

func TestTracker_ConcurrentResetAndEdges(t *testing.T) {
	tr := New(0)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		forward(tr, 40000)
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			_ = tr.Count()
			_ = tr.Degrees()
			if i%100 == 0 {
				tr.Reset()
			}
		}
	}()
	wg.Wait()

	c := tr.Count()
	assert.GreaterOrEqual(t, c, int64(0))
	assert.LessOrEqual(t, c, int64(40000))
}
