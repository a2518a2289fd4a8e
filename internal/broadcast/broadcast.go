// Package broadcast pushes snapshots and event notifications to subscribers.
// The engine only sees the Publisher interface; NATS is the production
// transport, Memory backs tests.
package broadcast

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
)

// Publisher delivers a message on a topic. Implementations must be safe for
// use from a single goroutine; the engine serializes calls.
type Publisher interface {
	Publish(topic string, message any) error
	Close()
}

// NATS publishes JSON messages to subjects under the configured prefix.
type NATS struct {
	conn   *nats.Conn
	prefix string
}

// ConnectNATS dials the server and returns a publisher rooted at prefix
// (defaults to "crewline").
func ConnectNATS(url, prefix string) (*NATS, error) {
	if prefix == "" {
		prefix = "crewline"
	}
	conn, err := nats.Connect(url, nats.Name("crewline-broadcast"))
	if err != nil {
		return nil, fmt.Errorf("connect nats at %s: %w", url, err)
	}
	return &NATS{conn: conn, prefix: prefix}, nil
}

func (n *NATS) Publish(topic string, message any) error {
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshal broadcast message: %w", err)
	}
	return n.conn.Publish(n.prefix+"."+topic, data)
}

func (n *NATS) Close() {
	n.conn.Drain()
}

// Discard drops every publication. It stands in when no broker is configured,
// so long runs without NATS hold nothing in memory.
type Discard struct{}

func (Discard) Publish(string, any) error { return nil }

func (Discard) Close() {}

// Message is one captured publication.
type Message struct {
	Topic   string
	Payload []byte
}

// Memory records publications in memory; tests use it to observe what the
// engine broadcasts. It grows without bound, so it is not for long runs.
type Memory struct {
	mu       sync.Mutex
	messages []Message
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Publish(topic string, message any) error {
	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshal broadcast message: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, Message{Topic: topic, Payload: data})
	return nil
}

func (m *Memory) Close() {}

// Messages returns a copy of everything published so far.
func (m *Memory) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.messages))
	copy(out, m.messages)
	return out
}

// ByTopic filters captured messages by topic.
func (m *Memory) ByTopic(topic string) []Message {
	var out []Message
	for _, msg := range m.Messages() {
		if msg.Topic == topic {
			out = append(out, msg)
		}
	}
	return out
}
