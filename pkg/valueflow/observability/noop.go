package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// NoopMetrics is a MetricsRecorder that does nothing.
type NoopMetrics struct{}

// Compile-time interface check.
var _ MetricsRecorder = NoopMetrics{}

// RecordDistributionRun does nothing.
func (NoopMetrics) RecordDistributionRun(_ context.Context, _ bool, _ time.Duration, _ float64) {}

// RecordBucket does nothing.
func (NoopMetrics) RecordBucket(_ context.Context, _ string, _ int, _ float64) {}

// RecordRollUp does nothing.
func (NoopMetrics) RecordRollUp(_ context.Context, _ time.Duration, _ int) {}

// RecordReconciliation does nothing.
func (NoopMetrics) RecordReconciliation(_ context.Context, _ float64) {}

// NoopSpanManager is a SpanManager that does nothing.
type NoopSpanManager struct{}

// Compile-time interface check.
var _ SpanManager = NoopSpanManager{}

var noopSpan = noop.Span{}

// StartRunSpan returns the context unchanged and a no-op span.
func (NoopSpanManager) StartRunSpan(ctx context.Context, _, _ string) (context.Context, trace.Span) {
	return ctx, noopSpan
}

// StartBucketSpan returns the context unchanged and a no-op span.
func (NoopSpanManager) StartBucketSpan(ctx context.Context, _ string) (context.Context, trace.Span) {
	return ctx, noopSpan
}

// StartRollUpSpan returns the context unchanged and a no-op span.
func (NoopSpanManager) StartRollUpSpan(ctx context.Context, _ string) (context.Context, trace.Span) {
	return ctx, noopSpan
}

// EndSpanWithError does nothing.
func (NoopSpanManager) EndSpanWithError(_ trace.Span, _ error) {}

// AddSpanEvent does nothing.
func (NoopSpanManager) AddSpanEvent(_ context.Context, _ string, _ ...attribute.KeyValue) {}
