// Package telemetry mirrors rig events and status to MQTT and to websocket
// clients, and serves a JSON status snapshot over HTTP.
package telemetry

import (
	"sync"
	"time"
)

// Event is one outbound event line.
type Event struct {
	ElapsedMs int64  `json:"elapsed_ms"`
	Message   string `json:"message"`
}

// RigState is the part of the rig state reported each tick.
type RigState struct {
	SessionActive  bool    `json:"session_active"`
	SessionName    string  `json:"session_name,omitempty"`
	RecordsWritten uint32  `json:"records_written"`
	StorageMounted bool    `json:"storage_mounted"`
	LeftTouched    bool    `json:"left_touched"`
	RightTouched   bool    `json:"right_touched"`
	LeftValue      float32 `json:"left_value"`
	RightValue     float32 `json:"right_value"`
	LeftThreshold  float32 `json:"left_threshold"`
	RightThreshold float32 `json:"right_threshold"`
	Degrees        float64 `json:"degrees"`
	Photodiode     bool    `json:"photodiode"`
}

// Counts tallies events by kind.
type Counts struct {
	LeftLicks  int `json:"left_licks"`
	RightLicks int `json:"right_licks"`
	Events     int `json:"events"`
	Dropped    int `json:"dropped"`
}

// Snapshot is a point-in-time copy of the rig status, safe to use after
// the lock is released.
type Snapshot struct {
	StartTime     time.Time `json:"start_time"`
	Now           time.Time `json:"now"`
	UptimeSeconds float64   `json:"uptime_seconds"`
	MQTTConnected bool      `json:"mqtt_connected"`
	Rig           RigState  `json:"rig"`
	Counts        Counts    `json:"counts"`
	LastEvent     *Event    `json:"last_event,omitempty"`
}

// Tracker holds mutable status behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

func NewTracker(start time.Time) *Tracker {
	return &Tracker{
		snap: Snapshot{StartTime: start},
		now:  time.Now,
	}
}

// Update replaces the rig state. Called from the control loop.
func (t *Tracker) Update(s RigState) {
	t.mu.Lock()
	t.snap.Rig = s
	t.mu.Unlock()
}

// AddEvent records an outbound event.
func (t *Tracker) AddEvent(ev Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.Counts.Events++
	switch ev.Message {
	case "-1":
		t.snap.Counts.LeftLicks++
	case "1":
		t.snap.Counts.RightLicks++
	}
	e := ev
	t.snap.LastEvent = &e
}

// AddDropped counts events that could not be mirrored.
func (t *Tracker) AddDropped(n int) {
	t.mu.Lock()
	t.snap.Counts.Dropped += n
	t.mu.Unlock()
}

func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// Snapshot returns a copy with Now set to the current time.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	if s.LastEvent != nil {
		e := *s.LastEvent
		s.LastEvent = &e
	}
	s.Now = t.now()
	s.UptimeSeconds = s.Now.Sub(s.StartTime).Seconds()
	return s
}
