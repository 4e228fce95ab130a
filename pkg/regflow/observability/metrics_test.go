package observability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// setupMetricsTest creates a test meter provider and returns a reader to
// collect from.
func setupMetricsTest(t *testing.T) (*sdkmetric.ManualReader, func()) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	originalProvider := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)

	cleanup := func() {
		otel.SetMeterProvider(originalProvider)
		if err := provider.Shutdown(context.Background()); err != nil {
			t.Logf("Error shutting down meter provider: %v", err)
		}
	}

	return reader, cleanup
}

// collectMetrics collects all metrics from the reader.
func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) *metricdata.ResourceMetrics {
	var rm metricdata.ResourceMetrics
	err := reader.Collect(context.Background(), &rm)
	require.NoError(t, err)
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
	_, cleanup := setupMetricsTest(t)
	defer cleanup()

	recorder := NewMetricsRecorder()
	require.NotNil(t, recorder)
}

func TestRecordExecution(t *testing.T) {
	reader, cleanup := setupMetricsTest(t)
	defer cleanup()

	m, err := newOtelMetrics()
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordExecution(ctx, 3*time.Millisecond, 0)
	m.RecordExecution(ctx, time.Millisecond, 110)

	rm := collectMetrics(t, reader)

	executions := findMetric(rm, "regflow.transaction.executions")
	require.NotNil(t, executions)
	sum, ok := executions.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	assert.Equal(t, int64(2), total)

	errors := findMetric(rm, "regflow.transaction.errors")
	require.NotNil(t, errors)
	errSum, ok := errors.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, errSum.DataPoints, 1)
	assert.Equal(t, int64(1), errSum.DataPoints[0].Value)

	latency := findMetric(rm, "regflow.transaction.latency_ms")
	require.NotNil(t, latency)
}

func TestRecordSubmissionAndQueueDepth(t *testing.T) {
	reader, cleanup := setupMetricsTest(t)
	defer cleanup()

	m, err := newOtelMetrics()
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordSubmission(ctx, true)
	m.RecordSubmission(ctx, false)
	m.RecordQueueDepth(ctx, 4)
	m.RecordCancellation(ctx)
	m.RecordEventsDelivered(ctx, 3)
	m.RecordEventsDelivered(ctx, 0) // no-op

	rm := collectMetrics(t, reader)

	assert.NotNil(t, findMetric(rm, "regflow.transaction.submissions"))
	assert.NotNil(t, findMetric(rm, "regflow.queue.depth"))
	assert.NotNil(t, findMetric(rm, "regflow.transaction.cancellations"))

	events := findMetric(rm, "regflow.events.delivered")
	require.NotNil(t, events)
	sum, ok := events.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	assert.Equal(t, int64(3), total)
}

func TestNoopMetrics(t *testing.T) {
	// Must not panic and must satisfy the interface.
	var m MetricsRecorder = NoopMetrics{}
	ctx := context.Background()
	m.RecordSubmission(ctx, true)
	m.RecordExecution(ctx, time.Second, 5)
	m.RecordCancellation(ctx)
	m.RecordQueueDepth(ctx, 1)
	m.RecordEventsDelivered(ctx, 1)
}
