package schedule

import (
	"time"

	"github.com/harun/sylva/pkg/bus"
)

// Kind selects how a Spec computes run times.
type Kind string

const (
	KindAt    Kind = "at"
	KindEvery Kind = "every"
	KindCron  Kind = "cron"
)

// Spec is a time specification for job execution
type Spec struct {
	Kind Kind `json:"kind"`

	// at
	At time.Time `json:"at,omitempty"`

	// every
	Every  time.Duration `json:"every,omitempty"`
	Anchor *time.Time    `json:"anchor,omitempty"`

	// cron
	Expr string `json:"expr,omitempty"`
	TZ   string `json:"tz,omitempty"`
}

// JobState tracks runtime state of a job
type JobState struct {
	NextRun           *time.Time    `json:"next_run,omitempty"`
	LastRun           *time.Time    `json:"last_run,omitempty"`
	LastStatus        string        `json:"last_status,omitempty"` // ok, error
	LastError         string        `json:"last_error,omitempty"`
	LastMessageID     string        `json:"last_message_id,omitempty"`
	LastDuration      time.Duration `json:"last_duration,omitempty"`
	Runs              int64         `json:"runs"`
	ConsecutiveErrors int           `json:"consecutive_errors,omitempty"`

	running bool
}

// Job is one scheduled publication
type Job struct {
	ID             string       `json:"id"`
	Name           string       `json:"name"`
	Description    string       `json:"description,omitempty"`
	Enabled        bool         `json:"enabled"`
	DeleteAfterRun bool         `json:"delete_after_run,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
	Spec           Spec         `json:"schedule"`
	Topic          string       `json:"topic"`
	Payload        bus.Payload  `json:"payload,omitempty"`
	Priority       bus.Priority `json:"priority,omitempty"`
	State          JobState     `json:"state"`
}

// AddParams contains parameters for creating a job
type AddParams struct {
	Name           string
	Description    string
	Enabled        bool
	DeleteAfterRun bool
	Spec           Spec
	Topic          string
	Payload        bus.Payload
	Priority       bus.Priority
}

// JobPatch contains fields that can be updated. Nil fields are unchanged.
type JobPatch struct {
	Name           *string
	Description    *string
	Enabled        *bool
	DeleteAfterRun *bool
	Spec           *Spec
	Topic          *string
	Payload        bus.Payload
	Priority       *bus.Priority
}

// EventAction represents the type of event
type EventAction string

const (
	EventActionFinished EventAction = "finished"
	EventActionAdded    EventAction = "added"
	EventActionUpdated  EventAction = "updated"
	EventActionDeleted  EventAction = "deleted"
)

// Event is reported to Options.OnEvent
type Event struct {
	Action    EventAction
	JobID     string
	Status    string
	Error     string
	MessageID string
	NextRun   *time.Time
}

// Publisher is the part of the message bus the service needs.
type Publisher interface {
	Publish(topic string, payload bus.Payload, opts *bus.PublishOptions) (string, error)
}

func timePtr(t time.Time) *time.Time {
	return &t
}
