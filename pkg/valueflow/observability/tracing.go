package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracer uses the global OTel tracer provider.
var tracer = otel.Tracer("valueflow")

// SpanManager handles trace span lifecycle.
// Use NewSpanManager() for OTel tracing or NoopSpanManager{} when disabled.
type SpanManager interface {
	// StartRunSpan starts a span for a whole distribution run.
	StartRunSpan(ctx context.Context, contextAgentID, runID string) (context.Context, trace.Span)

	// StartBucketSpan starts a child span for one bucket.
	StartBucketSpan(ctx context.Context, bucketID string) (context.Context, trace.Span)

	// StartRollUpSpan starts a span for a value roll-up traversal.
	StartRollUpSpan(ctx context.Context, resourceID string) (context.Context, trace.Span)

	// EndSpanWithError completes a span, optionally recording an error.
	EndSpanWithError(span trace.Span, err error)

	// AddSpanEvent adds an event to the current span in context.
	AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue)
}

// otelSpanManager implements SpanManager using OpenTelemetry.
type otelSpanManager struct{}

// NewSpanManager returns a SpanManager that uses OpenTelemetry.
func NewSpanManager() SpanManager {
	return &otelSpanManager{}
}

// StartRunSpan starts a span for a distribution run.
func (m *otelSpanManager) StartRunSpan(ctx context.Context, contextAgentID, runID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "valueflow.distribution",
		trace.WithAttributes(
			attribute.String("context_agent.id", contextAgentID),
			attribute.String("run.id", runID),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartBucketSpan starts a span for a bucket.
func (m *otelSpanManager) StartBucketSpan(ctx context.Context, bucketID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "valueflow.bucket",
		trace.WithAttributes(attribute.String("bucket.id", bucketID)),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartRollUpSpan starts a span for a roll-up.
func (m *otelSpanManager) StartRollUpSpan(ctx context.Context, resourceID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "valueflow.rollup",
		trace.WithAttributes(attribute.String("resource.id", resourceID)),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndSpanWithError completes a span, optionally recording an error.
func (m *otelSpanManager) EndSpanWithError(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// AddSpanEvent adds an event to the current span.
func (m *otelSpanManager) AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span == nil || !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}
