package telemetry

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"
)

// DefaultStatusInterval is how often status snapshots are published.
const DefaultStatusInterval = 5 * time.Second

// Mirror copies outbound event lines to the telemetry sinks off the
// control loop. Event never blocks; the sinks run on the Run goroutine.
type Mirror struct {
	log     *slog.Logger
	pub     Publisher // optional
	hub     *Hub      // optional
	tracker *Tracker

	events         chan Event
	dropped        atomic.Int64
	StatusInterval time.Duration
}

func NewMirror(log *slog.Logger, tracker *Tracker, pub Publisher, hub *Hub, bufSize int) *Mirror {
	if log == nil {
		log = slog.Default()
	}
	if bufSize <= 0 {
		bufSize = 256
	}
	return &Mirror{
		log:            log,
		pub:            pub,
		hub:            hub,
		tracker:        tracker,
		events:         make(chan Event, bufSize),
		StatusInterval: DefaultStatusInterval,
	}
}

// Event queues an event line. It has the signature of protocol.Writer.OnEvent.
func (m *Mirror) Event(elapsed time.Duration, msg string) {
	select {
	case m.events <- Event{ElapsedMs: elapsed.Milliseconds(), Message: msg}:
	default:
		m.dropped.Add(1)
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (m *Mirror) Dropped() int64 { return m.dropped.Load() }

// Run delivers queued events and periodic status until ctx is canceled.
func (m *Mirror) Run(ctx context.Context) {
	interval := m.StatusInterval
	if interval <= 0 {
		interval = DefaultStatusInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var reported int64
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-m.events:
			m.deliver(ev)
		case <-ticker.C:
			if d := m.dropped.Load(); d != reported {
				m.tracker.AddDropped(int(d - reported))
				m.log.Warn("telemetry queue overflowed", "dropped", d-reported)
				reported = d
			}
			m.publishStatus()
		}
	}
}

func (m *Mirror) deliver(ev Event) {
	m.tracker.AddEvent(ev)
	if m.pub != nil {
		if err := m.pub.PublishEvent(ev); err != nil {
			m.log.Debug("mqtt event publish failed", "error", err)
		}
	}
	if m.hub != nil {
		if msg, err := json.Marshal(envelope{Type: "event", Data: ev}); err == nil {
			m.hub.BroadcastBytes(msg)
		}
	}
}

func (m *Mirror) publishStatus() {
	if m.pub != nil {
		m.tracker.SetMQTTConnected(m.pub.IsConnected())
	}
	snap := m.tracker.Snapshot()
	if m.pub != nil {
		if err := m.pub.PublishStatus(snap); err != nil {
			m.log.Debug("mqtt status publish failed", "error", err)
		}
	}
	if m.hub != nil {
		if msg, err := json.Marshal(envelope{Type: "status", Data: snap}); err == nil {
			m.hub.BroadcastBytes(msg)
		}
	}
}
