package observability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// setupMetricsTest creates a recorder backed by a manual reader.
func setupMetricsTest(t *testing.T) (MetricsRecorder, *sdkmetric.ManualReader) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			t.Logf("Error shutting down meter provider: %v", err)
		}
	})
	return NewMetricsRecorderWithMeter(provider.Meter(MeterName)), reader
}

// collectMetrics collects all metrics from the reader.
func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) *metricdata.ResourceMetrics {
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return &rm
}

// findMetric finds a metric by name in the collected data.
func findMetric(rm *metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

func TestNewMetricsRecorder(t *testing.T) {
	recorder := NewMetricsRecorder()
	require.NotNil(t, recorder)
	_, isNoop := recorder.(NoopMetrics)
	assert.False(t, isNoop)
}

func TestRecordDistributionRun(t *testing.T) {
	recorder, reader := setupMetricsTest(t)
	ctx := context.Background()

	recorder.RecordDistributionRun(ctx, true, 15*time.Millisecond, 100)
	recorder.RecordDistributionRun(ctx, false, 3*time.Millisecond, 50)

	rm := collectMetrics(t, reader)

	runs := findMetric(rm, "valueflow.distribution.runs")
	require.NotNil(t, runs)
	sum, ok := runs.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	assert.Equal(t, int64(2), total)

	amount := findMetric(rm, "valueflow.distribution.amount")
	require.NotNil(t, amount)
	fsum, ok := amount.Data.(metricdata.Sum[float64])
	require.True(t, ok)
	require.Len(t, fsum.DataPoints, 1)
	assert.Equal(t, float64(100), fsum.DataPoints[0].Value, "failed runs distribute nothing")

	assert.NotNil(t, findMetric(rm, "valueflow.distribution.latency_ms"))
}

func TestRecordBucketAndRollUp(t *testing.T) {
	recorder, reader := setupMetricsTest(t)
	ctx := context.Background()

	recorder.RecordBucket(ctx, "b1", 3, 60)
	recorder.RecordRollUp(ctx, 2500*time.Microsecond, 4)
	recorder.RecordReconciliation(ctx, 0.01)

	rm := collectMetrics(t, reader)

	paid := findMetric(rm, "valueflow.bucket.paid")
	require.NotNil(t, paid)
	fsum := paid.Data.(metricdata.Sum[float64])
	require.Len(t, fsum.DataPoints, 1)
	assert.Equal(t, float64(60), fsum.DataPoints[0].Value)
	bucketID, ok := fsum.DataPoints[0].Attributes.Value("bucket_id")
	require.True(t, ok)
	assert.Equal(t, "b1", bucketID.AsString())

	processes := findMetric(rm, "valueflow.rollup.processes")
	require.NotNil(t, processes)
	hist := processes.Data.(metricdata.Histogram[int64])
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(1), hist.DataPoints[0].Count)
	assert.Equal(t, int64(4), hist.DataPoints[0].Sum)

	latency := findMetric(rm, "valueflow.rollup.latency_ms")
	require.NotNil(t, latency)
	fhist := latency.Data.(metricdata.Histogram[float64])
	require.Len(t, fhist.DataPoints, 1)
	assert.InDelta(t, 2.5, fhist.DataPoints[0].Sum, 1e-9)

	assert.NotNil(t, findMetric(rm, "valueflow.reconciliation.delta"))
	assert.NotNil(t, findMetric(rm, "valueflow.rollup.traversals"))
}
