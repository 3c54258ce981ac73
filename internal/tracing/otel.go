package tracing

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

var (
	initOnce    sync.Once
	providerMu  sync.RWMutex
	provider    *sdktrace.TracerProvider
	providerErr error
)

// InitOpenTelemetry installs the process-wide tracer provider for the
// daemon. Repeated calls are no-ops.
func InitOpenTelemetry(serviceName string) error {
	initOnce.Do(func() {
		res, err := resource.New(
			context.Background(),
			resource.WithAttributes(
				semconv.ServiceName(serviceName),
				semconv.ServiceNamespace("vellum"),
			),
		)
		if err != nil {
			providerErr = err
			return
		}

		tp := sdktrace.NewTracerProvider(
			sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(1))),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(tp)

		providerMu.Lock()
		provider = tp
		providerMu.Unlock()
	})

	return providerErr
}

// ShutdownOpenTelemetry flushes and shuts down the tracer provider.
func ShutdownOpenTelemetry(ctx context.Context) error {
	providerMu.RLock()
	tp := provider
	providerMu.RUnlock()

	if tp == nil {
		return nil
	}
	return tp.Shutdown(ctx)
}

// turnAttributes lifts the turn identity fields off the context so every
// span carries them.
func turnAttributes(ctx context.Context) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	if turnID := GetTurnID(ctx); turnID != "" {
		attrs = append(attrs, attribute.String("turn_id", turnID))
	}
	if projectID := GetProjectID(ctx); projectID != "" {
		attrs = append(attrs, attribute.String("project_id", projectID))
	}
	if persona := GetPersona(ctx); persona != "" {
		attrs = append(attrs, attribute.String("persona", persona))
	}
	return attrs
}

// StartSpan starts a span carrying the turn's identity, and writes the
// span's trace ID back to the context so log lines and spans correlate.
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	attrs = append(attrs, turnAttributes(ctx)...)

	ctx, span := otel.Tracer(tracerName).Start(ctx, spanName, trace.WithAttributes(attrs...))

	if GetTraceID(ctx) == "" {
		if sc := span.SpanContext(); sc.IsValid() {
			ctx = WithTraceID(ctx, sc.TraceID().String())
		}
	}

	return ctx, span
}
