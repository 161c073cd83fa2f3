package tracing

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestContextValues(t *testing.T) {
	ctx := context.Background()
	ctx = WithTraceID(ctx, "trace-1")
	ctx = WithRunID(ctx, "run-1")
	ctx = WithAgentID(ctx, "regulatory")
	ctx = WithMessageID(ctx, "msg-1")
	ctx = WithCorrelationID(ctx, "msg-0")

	tc := FromContext(ctx)
	assert.Equal(t, &TraceContext{
		TraceID:       "trace-1",
		RunID:         "run-1",
		AgentID:       "regulatory",
		MessageID:     "msg-1",
		CorrelationID: "msg-0",
	}, tc)
}

func TestGettersOnEmptyContext(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetTraceID(ctx))
	assert.Empty(t, GetRunID(ctx))
	assert.Empty(t, GetAgentID(ctx))
	assert.Empty(t, GetMessageID(ctx))
	assert.Empty(t, GetCorrelationID(ctx))
	assert.Empty(t, GetTraceID(nil))
}

func TestNewTraceIDUnique(t *testing.T) {
	a, b := NewTraceID(), NewTraceID()
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}

func TestEnsureTraceID(t *testing.T) {
	ctx := EnsureTraceID(context.Background())
	id := GetTraceID(ctx)
	require.NotEmpty(t, id)
	assert.Equal(t, id, GetTraceID(EnsureTraceID(ctx)))
}

func TestDetachKeepsValuesDropsCancellation(t *testing.T) {
	parent, cancel := context.WithCancel(WithMessageID(context.Background(), "msg-1"))
	detached := Detach(parent)
	cancel()

	assert.Error(t, parent.Err())
	assert.NoError(t, detached.Err())
	assert.Equal(t, "msg-1", GetMessageID(detached))
}

func TestMergeContextNoOverwrite(t *testing.T) {
	target := WithAgentID(context.Background(), "a")
	source := WithMessageID(WithAgentID(context.Background(), "b"), "m")

	merged := MergeContext(target, source)
	assert.Equal(t, "a", GetAgentID(merged))
	assert.Equal(t, "m", GetMessageID(merged))
}

func TestLoggerFromContext(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx := WithCorrelationID(WithMessageID(context.Background(), "msg-1"), "msg-0")
	log := LoggerFromContext(ctx, base)
	log.Info().Msg("hello")

	out := buf.String()
	assert.Contains(t, out, `"message_id":"msg-1"`)
	assert.Contains(t, out, `"correlation_id":"msg-0"`)
	assert.NotContains(t, out, "trace_id")
}

func TestStartSpanWithoutProvider(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "sylva.test", "test.span")
	defer span.End()
	assert.NotNil(t, ctx)
}

func TestOpenTelemetryProvider(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	require.NoError(t, InitOpenTelemetry(ProviderOptions{
		ServiceName:    "sylva-test",
		ServiceVersion: "0.0.1",
		SampleRatio:    1,
		Exporter:       exporter,
		Sync:           true,
	}))
	t.Cleanup(func() { _ = ShutdownOpenTelemetry(context.Background()) })

	assert.ErrorIs(t, InitOpenTelemetry(ProviderOptions{ServiceName: "again"}), ErrProviderInstalled)

	ctx, span := StartSpan(context.Background(), "sylva.test", "check", attribute.String("topic", "a.b"))
	assert.Equal(t, span.SpanContext().TraceID().String(), GetTraceID(ctx))
	Fail(span, errors.New("boom"))
	Fail(span, nil)
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "check", spans[0].Name)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
	assert.Equal(t, "boom", spans[0].Status.Description)
	require.Len(t, spans[0].Events, 1)

	service, ok := spans[0].Resource.Set().Value("service.version")
	require.True(t, ok)
	assert.Equal(t, "0.0.1", service.AsString())

	require.NoError(t, ShutdownOpenTelemetry(context.Background()))
	require.NoError(t, ShutdownOpenTelemetry(context.Background()))

	// a fresh provider can be installed after shutdown
	require.NoError(t, InitOpenTelemetry(ProviderOptions{ServiceName: "sylva-test", SampleRatio: 0}))
	_, span = StartSpan(context.Background(), "sylva.test", "dropped")
	assert.False(t, span.SpanContext().IsSampled())
	span.End()
}

func TestStartSpanKeepsExistingTraceID(t *testing.T) {
	ctx := WithTraceID(context.Background(), "trace-fixed")
	ctx, span := StartSpan(ctx, "sylva.test", "child")
	defer span.End()
	assert.Equal(t, "trace-fixed", GetTraceID(ctx))
}
