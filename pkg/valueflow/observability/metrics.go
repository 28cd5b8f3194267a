package observability

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName is the instrumentation scope for valueflow metrics.
const MeterName = "valueflow"

// MetricsRecorder records valueflow metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordDistributionRun records a finished distribution run.
	RecordDistributionRun(ctx context.Context, success bool, duration time.Duration, amount float64)

	// RecordBucket records the claims and amount paid by one bucket.
	RecordBucket(ctx context.Context, bucketID string, claims int, paid float64)

	// RecordRollUp records a value roll-up traversal.
	RecordRollUp(ctx context.Context, duration time.Duration, processes int)

	// RecordReconciliation records a rounding adjustment.
	RecordReconciliation(ctx context.Context, delta float64)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	runs            metric.Int64Counter
	runLatency      metric.Float64Histogram
	distributed     metric.Float64Counter
	bucketClaims    metric.Int64Histogram
	bucketPaid      metric.Float64Counter
	rollUps         metric.Int64Counter
	rollUpProcesses metric.Int64Histogram
	rollUpLatency   metric.Float64Histogram
	reconciliations metric.Float64Histogram
}

// newOtelMetrics creates the instruments on meter.
func newOtelMetrics(meter metric.Meter) (*otelMetrics, error) {
	runs, err := meter.Int64Counter("valueflow.distribution.runs",
		metric.WithDescription("Number of distribution runs"),
	)
	if err != nil {
		return nil, err
	}

	runLatency, err := meter.Float64Histogram("valueflow.distribution.latency_ms",
		metric.WithDescription("Distribution run latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	distributed, err := meter.Float64Counter("valueflow.distribution.amount",
		metric.WithDescription("Total amount distributed"),
	)
	if err != nil {
		return nil, err
	}

	bucketClaims, err := meter.Int64Histogram("valueflow.bucket.claims",
		metric.WithDescription("Claims paid per bucket"),
	)
	if err != nil {
		return nil, err
	}

	bucketPaid, err := meter.Float64Counter("valueflow.bucket.paid",
		metric.WithDescription("Amount paid per bucket"),
	)
	if err != nil {
		return nil, err
	}

	rollUps, err := meter.Int64Counter("valueflow.rollup.traversals",
		metric.WithDescription("Number of value roll-up traversals"),
	)
	if err != nil {
		return nil, err
	}

	rollUpProcesses, err := meter.Int64Histogram("valueflow.rollup.processes",
		metric.WithDescription("Processes expanded per roll-up traversal"),
	)
	if err != nil {
		return nil, err
	}

	rollUpLatency, err := meter.Float64Histogram("valueflow.rollup.latency_ms",
		metric.WithDescription("Roll-up traversal latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	reconciliations, err := meter.Float64Histogram("valueflow.reconciliation.delta",
		metric.WithDescription("Rounding drift absorbed by reconciliation"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		runs:            runs,
		runLatency:      runLatency,
		distributed:     distributed,
		bucketClaims:    bucketClaims,
		bucketPaid:      bucketPaid,
		rollUps:         rollUps,
		rollUpProcesses: rollUpProcesses,
		rollUpLatency:   rollUpLatency,
		reconciliations: reconciliations,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder using the global OTel meter
// provider. If initialization fails, it returns a no-op recorder.
//
// Configure the provider before calling this function:
//
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	return NewMetricsRecorderWithMeter(otel.Meter(MeterName))
}

// NewMetricsRecorderWithMeter returns a MetricsRecorder using meter.
func NewMetricsRecorderWithMeter(meter metric.Meter) MetricsRecorder {
	m, err := newOtelMetrics(meter)
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordDistributionRun records a distribution run.
func (m *otelMetrics) RecordDistributionRun(ctx context.Context, success bool, duration time.Duration, amount float64) {
	attrs := metric.WithAttributes(attribute.Bool("success", success))
	m.runs.Add(ctx, 1, attrs)
	m.runLatency.Record(ctx, float64(duration.Milliseconds()), attrs)
	if success {
		m.distributed.Add(ctx, amount)
	}
}

// RecordBucket records a bucket evaluation.
func (m *otelMetrics) RecordBucket(ctx context.Context, bucketID string, claims int, paid float64) {
	attrs := metric.WithAttributes(attribute.String("bucket_id", bucketID))
	m.bucketClaims.Record(ctx, int64(claims), attrs)
	m.bucketPaid.Add(ctx, paid, attrs)
}

// RecordRollUp records a roll-up traversal.
func (m *otelMetrics) RecordRollUp(ctx context.Context, duration time.Duration, processes int) {
	m.rollUps.Add(ctx, 1)
	m.rollUpProcesses.Record(ctx, int64(processes))
	m.rollUpLatency.Record(ctx, float64(duration)/float64(time.Millisecond))
}

// RecordReconciliation records a rounding adjustment.
func (m *otelMetrics) RecordReconciliation(ctx context.Context, delta float64) {
	m.reconciliations.Record(ctx, delta)
}
