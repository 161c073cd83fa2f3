package tracing

import (
	"context"
	"errors"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// ProviderOptions configures the process tracer provider
type ProviderOptions struct {
	ServiceName    string
	ServiceVersion string
	// SampleRatio is the share of root traces kept; >= 1 keeps all.
	SampleRatio float64
	// Exporter receives finished spans in batches. Nil records spans for
	// log correlation only.
	Exporter sdktrace.SpanExporter
	// Sync exports each span as it ends. Used with in-memory exporters.
	Sync bool
}

var (
	providerMu sync.Mutex
	provider   *sdktrace.TracerProvider
)

// ErrProviderInstalled is returned by InitOpenTelemetry while a provider
// from an earlier call is still active.
var ErrProviderInstalled = errors.New("tracer provider already installed")

// InitOpenTelemetry installs a process-wide tracer provider. Until it is
// called, spans come from the otel no-op provider.
func InitOpenTelemetry(opts ProviderOptions) error {
	providerMu.Lock()
	defer providerMu.Unlock()
	if provider != nil {
		return ErrProviderInstalled
	}

	attrs := []attribute.KeyValue{attribute.String("service.name", opts.ServiceName)}
	if opts.ServiceVersion != "" {
		attrs = append(attrs, attribute.String("service.version", opts.ServiceVersion))
	}
	res, err := resource.New(context.Background(), resource.WithAttributes(attrs...))
	if err != nil {
		return err
	}

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithSampler(sdktrace.ParentBased(sampler(opts.SampleRatio))),
		sdktrace.WithResource(res),
	}
	if opts.Exporter != nil {
		if opts.Sync {
			tpOpts = append(tpOpts, sdktrace.WithSyncer(opts.Exporter))
		} else {
			tpOpts = append(tpOpts, sdktrace.WithBatcher(opts.Exporter))
		}
	}

	provider = sdktrace.NewTracerProvider(tpOpts...)
	otel.SetTracerProvider(provider)
	return nil
}

func sampler(ratio float64) sdktrace.Sampler {
	switch {
	case ratio >= 1:
		return sdktrace.AlwaysSample()
	case ratio <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(ratio)
	}
}

// ShutdownOpenTelemetry flushes the provider and restores the no-op one, so
// a later InitOpenTelemetry can install a fresh provider.
func ShutdownOpenTelemetry(ctx context.Context) error {
	providerMu.Lock()
	tp := provider
	provider = nil
	providerMu.Unlock()
	if tp == nil {
		return nil
	}

	otel.SetTracerProvider(noop.NewTracerProvider())
	return tp.Shutdown(ctx)
}

// StartSpan starts a span on the named tracer. The span's trace id becomes
// the context trace id unless one is already set, so logs and spans line up.
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, spanName, trace.WithAttributes(attrs...))
	if GetTraceID(ctx) == "" {
		if sc := span.SpanContext(); sc.IsValid() {
			ctx = WithTraceID(ctx, sc.TraceID().String())
		}
	}
	return ctx, span
}

// Fail marks span as failed with err. A nil err leaves it untouched.
func Fail(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
