// Package tracing wires a real OpenTelemetry TracerProvider for spans around
// the service's suspendable operations: broker connect/publish, embedder
// calls, LLM completions, and retrieval queries.
package tracing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Tracer wraps an otel.Tracer bound to this service's resource attributes.
type Tracer struct {
	tracer      oteltrace.Tracer
	serviceName string
}

// New installs a process-wide TracerProvider (no external exporter is wired
// by default; operators may register one on the returned provider before
// traffic starts) and returns a Tracer for pumpguard's own spans.
func New(serviceName, environment string) (*Tracer, *sdktrace.TracerProvider) {
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(serviceName),
			semconv.DeploymentEnvironmentKey.String(environment),
		)),
	)
	otel.SetTracerProvider(tp)
	return &Tracer{tracer: otel.Tracer(serviceName), serviceName: serviceName}, tp
}

// StartSpan begins a span for a suspendable operation (e.g. "bridge.publish",
// "embedder.embed", "llm.complete", "retrieval.query").
func (t *Tracer) StartSpan(ctx context.Context, operation string, attrs map[string]any) (context.Context, oteltrace.Span) {
	kv := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		kv = append(kv, attribute.String(k, fmt.Sprintf("%v", v)))
	}
	return t.tracer.Start(ctx, operation, oteltrace.WithAttributes(kv...))
}

// Start begins a span against the process-wide tracer provider installed by
// New, for callers (Bridge, llmclient, RetrievalIndex) that have no *Tracer
// of their own to hold onto. Before New runs this is the otel no-op tracer,
// so calling it is always safe even in tests that never call New.
func Start(ctx context.Context, operation string, attrs map[string]any) (context.Context, oteltrace.Span) {
	kv := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		kv = append(kv, attribute.String(k, fmt.Sprintf("%v", v)))
	}
	return otel.Tracer("pumpguard").Start(ctx, operation, oteltrace.WithAttributes(kv...))
}

// RecordError marks the current span (if recording) as failed.
func RecordError(ctx context.Context, err error) {
	span := oteltrace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// Finish closes a span, marking success/failure status.
func Finish(span oteltrace.Span, success bool, latency time.Duration) {
	if span.IsRecording() {
		span.SetAttributes(
			attribute.Bool("operation.success", success),
			attribute.Int64("operation.latency_ms", latency.Milliseconds()),
		)
		if success {
			span.SetStatus(codes.Ok, "")
		} else {
			span.SetStatus(codes.Error, "operation failed")
		}
	}
	span.End()
}

// ExtractIDs returns the trace/span id hex strings for the active span in ctx,
// empty if none. Used by the logging package to correlate log lines to traces.
func ExtractIDs(ctx context.Context) (traceID, spanID string) {
	sc := oteltrace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return "", ""
	}
	return sc.TraceID().String(), sc.SpanID().String()
}
