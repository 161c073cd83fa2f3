package observability

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// AuditFileName is the audit trail file inside the data directory.
const AuditFileName = "audit.log"

// AuditEvent is one line of the audit trail
type AuditEvent struct {
	Type      string         `json:"type"` // daemon, memory, schedule, config
	Timestamp time.Time      `json:"timestamp"`
	Actor     string         `json:"actor,omitempty"`  // cli, daemon
	Action    string         `json:"action"`           // e.g. "set", "job_added"
	Target    string         `json:"target,omitempty"` // key, job id, file
	Status    string         `json:"status"`           // success, failure
	Metadata  map[string]any `json:"metadata,omitempty"`
	TraceID   string         `json:"trace_id,omitempty"`
}

// AuditLog appends operator-visible state changes as JSON lines.
// A nil *AuditLog discards events.
type AuditLog struct {
	mu     sync.Mutex
	logger zerolog.Logger
	file   *os.File
}

// OpenAuditLog opens the audit trail in dataDir for appending.
func OpenAuditLog(dataDir string) (*AuditLog, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	file, err := os.OpenFile(filepath.Join(dataDir, AuditFileName), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	return &AuditLog{
		logger: zerolog.New(file),
		file:   file,
	}, nil
}

// Record appends event. When ctx carries a span the event is added to it.
func (a *AuditLog) Record(ctx context.Context, event AuditEvent) {
	if a == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Status == "" {
		event.Status = "success"
	}

	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		event.TraceID = span.SpanContext().TraceID().String()
		span.AddEvent("audit:"+event.Action, trace.WithAttributes(
			attribute.String("audit.type", event.Type),
			attribute.String("audit.status", event.Status),
			attribute.String("audit.target", event.Target),
		))
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	entry := a.logger.Log().
		Time("timestamp", event.Timestamp).
		Str("type", event.Type).
		Str("actor", event.Actor).
		Str("action", event.Action).
		Str("status", event.Status)
	if event.Target != "" {
		entry.Str("target", event.Target)
	}
	if event.TraceID != "" {
		entry.Str("trace_id", event.TraceID)
	}
	if event.Metadata != nil {
		entry.Interface("metadata", event.Metadata)
	}
	entry.Send()
}

// Close closes the audit file
func (a *AuditLog) Close() error {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file == nil {
		return nil
	}
	err := a.file.Close()
	a.file = nil
	return err
}

// ReadAuditLog returns the events recorded in dataDir, oldest first.
func ReadAuditLog(dataDir string) ([]AuditEvent, error) {
	data, err := os.ReadFile(filepath.Join(dataDir, AuditFileName))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeAuditLines(data)
}

func decodeAuditLines(data []byte) ([]AuditEvent, error) {
	var events []AuditEvent
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var event AuditEvent
		if err := json.Unmarshal(line, &event); err != nil {
			return events, fmt.Errorf("invalid audit line: %w", err)
		}
		events = append(events, event)
	}
	return events, scanner.Err()
}
