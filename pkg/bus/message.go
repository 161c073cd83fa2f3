package bus

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Priority is advisory metadata carried by a message. It does not reorder
// delivery.
type Priority int

const (
	PriorityLow Priority = iota + 1
	PriorityNormal
	PriorityHigh
	PriorityUrgent
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityUrgent:
		return "urgent"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// ParsePriority parses a priority name as produced by Priority.String.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return PriorityLow, nil
	case "", "normal":
		return PriorityNormal, nil
	case "high":
		return PriorityHigh, nil
	case "urgent":
		return PriorityUrgent, nil
	default:
		return 0, fmt.Errorf("unknown priority %q", s)
	}
}

// Message is the envelope delivered to subscribers. The zero value is not a
// valid message; use NewMessage.
type Message struct {
	id            string
	topic         string
	payload       Payload
	sender        string
	timestamp     time.Time
	priority      Priority
	correlationID string
}

// NewMessage creates a message with a fresh time-ordered id and normal priority.
// The payload is deep-copied.
func NewMessage(topic string, payload Payload, sender string) Message {
	return Message{
		id:        uuid.Must(uuid.NewV7()).String(),
		topic:     topic,
		payload:   payload.Clone(),
		sender:    sender,
		timestamp: time.Now(),
		priority:  PriorityNormal,
	}
}

// WithPriority returns a copy of the message with the given priority.
func (m Message) WithPriority(p Priority) Message {
	if p == 0 {
		p = PriorityNormal
	}
	m.priority = p
	return m
}

// WithCorrelationID returns a copy of the message linked to another message id.
func (m Message) WithCorrelationID(id string) Message {
	m.correlationID = id
	return m
}

// Reply builds a response message correlated to m.
func (m Message) Reply(topic string, payload Payload, sender string) Message {
	return NewMessage(topic, payload, sender).
		WithPriority(m.priority).
		WithCorrelationID(m.id)
}

func (m Message) ID() string            { return m.id }
func (m Message) Topic() string         { return m.topic }
func (m Message) Sender() string        { return m.sender }
func (m Message) Timestamp() time.Time  { return m.timestamp }
func (m Message) Priority() Priority    { return m.priority }
func (m Message) CorrelationID() string { return m.correlationID }

// Payload returns a deep copy of the message payload.
func (m Message) Payload() Payload {
	return m.payload.Clone()
}

// IsZero reports whether m was not built by NewMessage.
func (m Message) IsZero() bool {
	return m.id == ""
}

type messageJSON struct {
	ID            string    `json:"id"`
	Topic         string    `json:"topic"`
	Payload       Payload   `json:"payload"`
	Sender        string    `json:"sender,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
	Priority      string    `json:"priority"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// MarshalJSON renders the message for history dumps and logs.
func (m Message) MarshalJSON() ([]byte, error) {
	return json.Marshal(messageJSON{
		ID:            m.id,
		Topic:         m.topic,
		Payload:       m.payload,
		Sender:        m.sender,
		Timestamp:     m.timestamp,
		Priority:      m.priority.String(),
		CorrelationID: m.correlationID,
	})
}

func (m Message) String() string {
	return fmt.Sprintf("Message{ID: %s, Topic: %s, Sender: %s, Priority: %s}", m.id, m.topic, m.sender, m.priority)
}
