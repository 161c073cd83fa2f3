package agent

import (
	"context"
	"time"

	"github.com/harun/sylva/pkg/bus"
)

// Task is one unit of work in an agent queue. Type selects the handler.
type Task struct {
	ID         string      `json:"id"`
	Type       string      `json:"type"`
	Payload    bus.Payload `json:"payload,omitempty"`
	EnqueuedAt time.Time   `json:"enqueued_at"`

	// Source is the message the task was translated from, if any. Its id
	// becomes the correlation id of the result message.
	Source bus.Message `json:"-"`
}

// TaskHandler executes a task. A non-nil payload is published as the
// correlated result when the agent has a result topic.
type TaskHandler func(ctx context.Context, task Task) (bus.Payload, error)

// Translator validates an inbound message and converts it into a task.
// A returned error rejects the message.
type Translator func(msg bus.Message) (Task, error)

// TaskFromMessage returns a translator that wraps the whole payload in a task
// of the given type.
func TaskFromMessage(taskType string) Translator {
	return func(msg bus.Message) (Task, error) {
		return Task{Type: taskType, Payload: msg.Payload()}, nil
	}
}

// ValidatedTask returns a translator that checks the message against the
// registry before wrapping it like TaskFromMessage.
func ValidatedTask(schemas *bus.SchemaRegistry, taskType string) Translator {
	return func(msg bus.Message) (Task, error) {
		if err := schemas.Validate(msg); err != nil {
			return Task{}, err
		}
		return Task{Type: taskType, Payload: msg.Payload()}, nil
	}
}
