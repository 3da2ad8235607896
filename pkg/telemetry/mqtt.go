package telemetry

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// Topic suffixes under the configured prefix.
const (
	TopicEvents = "events"
	TopicStatus = "status"
)

// Publisher publishes rig telemetry to a broker.
type Publisher interface {
	// PublishEvent sends one event line (QoS 0).
	PublishEvent(ev Event) error
	// PublishStatus sends a status snapshot (QoS 1).
	PublishStatus(s Snapshot) error
	IsConnected() bool
	Close() error
}

// MQTTPublisher publishes to an MQTT broker.
type MQTTPublisher struct {
	client paho.Client
	prefix string
}

var _ Publisher = (*MQTTPublisher)(nil)

// NewMQTTPublisher connects to broker. The client reconnects on its own
// after the first connection succeeds.
func NewMQTTPublisher(broker, clientID, prefix string) (*MQTTPublisher, error) {
	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWill(prefix+"/"+TopicStatus, `{"online":false}`, 1, true)

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connect to %s: timeout", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return &MQTTPublisher{client: client, prefix: prefix}, nil
}

func (p *MQTTPublisher) publish(topic string, qos byte, payload []byte) error {
	token := p.client.Publish(p.prefix+"/"+topic, qos, false, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

func (p *MQTTPublisher) PublishEvent(ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("format event: %w", err)
	}
	return p.publish(TopicEvents, 0, payload)
}

func (p *MQTTPublisher) PublishStatus(s Snapshot) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("format status: %w", err)
	}
	return p.publish(TopicStatus, 1, payload)
}

func (p *MQTTPublisher) IsConnected() bool {
	return p.client.IsConnected()
}

// Close disconnects from the broker.
func (p *MQTTPublisher) Close() error {
	p.client.Disconnect(1000)
	return nil
}

// FakePublisher records published telemetry for test assertions.
type FakePublisher struct {
	mu sync.Mutex

	Events   []Event
	Statuses []Snapshot

	// PublishError, if set, is returned by both publish methods.
	PublishError error
	Connected    bool
	Closed       bool
}

var _ Publisher = (*FakePublisher)(nil)

func NewFakePublisher() *FakePublisher {
	return &FakePublisher{Connected: true}
}

func (f *FakePublisher) PublishEvent(ev Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	f.Events = append(f.Events, ev)
	return nil
}

func (f *FakePublisher) PublishStatus(s Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	f.Statuses = append(f.Statuses, s)
	return nil
}

func (f *FakePublisher) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Connected
}

func (f *FakePublisher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// EventCount returns the number of recorded events.
func (f *FakePublisher) EventCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Events)
}

// StatusCount returns the number of recorded status snapshots.
func (f *FakePublisher) StatusCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Statuses)
}
