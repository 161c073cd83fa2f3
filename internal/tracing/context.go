package tracing

import (
	"context"

	"github.com/google/uuid"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	TraceIDKey       ContextKey = "trace_id"
	RunIDKey         ContextKey = "run_id"
	AgentIDKey       ContextKey = "agent_id"
	MessageIDKey     ContextKey = "message_id"
	CorrelationIDKey ContextKey = "correlation_id"
)

// TraceContext holds the identifiers carried through bus dispatch and task
// execution.
type TraceContext struct {
	TraceID       string
	RunID         string
	AgentID       string
	MessageID     string
	CorrelationID string
}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

func WithAgentID(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, AgentIDKey, agentID)
}

// WithMessageID records the bus message being dispatched or processed.
func WithMessageID(ctx context.Context, messageID string) context.Context {
	return context.WithValue(ctx, MessageIDKey, messageID)
}

// WithCorrelationID records the message id a response refers to.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, CorrelationIDKey, correlationID)
}

func stringValue(ctx context.Context, key ContextKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

func GetTraceID(ctx context.Context) string       { return stringValue(ctx, TraceIDKey) }
func GetRunID(ctx context.Context) string         { return stringValue(ctx, RunIDKey) }
func GetAgentID(ctx context.Context) string       { return stringValue(ctx, AgentIDKey) }
func GetMessageID(ctx context.Context) string     { return stringValue(ctx, MessageIDKey) }
func GetCorrelationID(ctx context.Context) string { return stringValue(ctx, CorrelationIDKey) }

// FromContext extracts all tracing information from the context
func FromContext(ctx context.Context) *TraceContext {
	return &TraceContext{
		TraceID:       GetTraceID(ctx),
		RunID:         GetRunID(ctx),
		AgentID:       GetAgentID(ctx),
		MessageID:     GetMessageID(ctx),
		CorrelationID: GetCorrelationID(ctx),
	}
}

// NewContext creates a new context with tracing information
func NewContext(ctx context.Context, tc *TraceContext) context.Context {
	if tc.TraceID != "" {
		ctx = WithTraceID(ctx, tc.TraceID)
	}
	if tc.RunID != "" {
		ctx = WithRunID(ctx, tc.RunID)
	}
	if tc.AgentID != "" {
		ctx = WithAgentID(ctx, tc.AgentID)
	}
	if tc.MessageID != "" {
		ctx = WithMessageID(ctx, tc.MessageID)
	}
	if tc.CorrelationID != "" {
		ctx = WithCorrelationID(ctx, tc.CorrelationID)
	}
	return ctx
}

// EnsureTraceID returns ctx with a trace ID, generating one if absent.
func EnsureTraceID(ctx context.Context) context.Context {
	if GetTraceID(ctx) != "" {
		return ctx
	}
	return WithTraceID(ctx, NewTraceID())
}
