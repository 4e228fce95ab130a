package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records transaction engine metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordSubmission records a transaction submission.
	RecordSubmission(ctx context.Context, triggered bool)

	// RecordExecution records a transaction execution with its duration
	// and final error code (zero for success).
	RecordExecution(ctx context.Context, duration time.Duration, errorCode int32)

	// RecordCancellation records a transaction cancelled before execution.
	RecordCancellation(ctx context.Context)

	// RecordQueueDepth records the process queue depth observed when the
	// worker starts a drain pass.
	RecordQueueDepth(ctx context.Context, depth int)

	// RecordEventsDelivered records the size of a delivered event batch.
	RecordEventsDelivered(ctx context.Context, count int)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	submissions   metric.Int64Counter
	executions    metric.Int64Counter
	execLatency   metric.Float64Histogram
	execErrors    metric.Int64Counter
	cancellations metric.Int64Counter
	queueDepth    metric.Int64Histogram
	events        metric.Int64Counter
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics returns the default OTel metrics instance.
// Lazily initializes the metrics on first call.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

// newOtelMetrics creates a new OTel metrics instance.
func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("regflow")

	submissions, err := meter.Int64Counter("regflow.transaction.submissions",
		metric.WithDescription("Number of transaction submissions"),
	)
	if err != nil {
		return nil, err
	}

	executions, err := meter.Int64Counter("regflow.transaction.executions",
		metric.WithDescription("Number of transaction executions"),
	)
	if err != nil {
		return nil, err
	}

	execLatency, err := meter.Float64Histogram("regflow.transaction.latency_ms",
		metric.WithDescription("Transaction execution latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	execErrors, err := meter.Int64Counter("regflow.transaction.errors",
		metric.WithDescription("Number of transaction executions that ended in error"),
	)
	if err != nil {
		return nil, err
	}

	cancellations, err := meter.Int64Counter("regflow.transaction.cancellations",
		metric.WithDescription("Number of transactions cancelled before execution"),
	)
	if err != nil {
		return nil, err
	}

	queueDepth, err := meter.Int64Histogram("regflow.queue.depth",
		metric.WithDescription("Process queue depth at the start of a worker pass"),
	)
	if err != nil {
		return nil, err
	}

	events, err := meter.Int64Counter("regflow.events.delivered",
		metric.WithDescription("Number of outcome events handed to the deliverer"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		submissions:   submissions,
		executions:    executions,
		execLatency:   execLatency,
		execErrors:    execErrors,
		cancellations: cancellations,
		queueDepth:    queueDepth,
		events:        events,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordSubmission records a transaction submission.
func (m *otelMetrics) RecordSubmission(ctx context.Context, triggered bool) {
	m.submissions.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("triggered", triggered),
	))
}

// RecordExecution records a transaction execution.
func (m *otelMetrics) RecordExecution(ctx context.Context, duration time.Duration, errorCode int32) {
	m.executions.Add(ctx, 1)
	m.execLatency.Record(ctx, float64(duration.Microseconds())/1000.0)
	if errorCode != 0 {
		m.execErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.Int("error_code", int(errorCode)),
		))
	}
}

// RecordCancellation records a cancellation.
func (m *otelMetrics) RecordCancellation(ctx context.Context) {
	m.cancellations.Add(ctx, 1)
}

// RecordQueueDepth records the queue depth of a worker pass.
func (m *otelMetrics) RecordQueueDepth(ctx context.Context, depth int) {
	m.queueDepth.Record(ctx, int64(depth))
}

// RecordEventsDelivered records a delivered batch size.
func (m *otelMetrics) RecordEventsDelivered(ctx context.Context, count int) {
	if count > 0 {
		m.events.Add(ctx, int64(count))
	}
}
