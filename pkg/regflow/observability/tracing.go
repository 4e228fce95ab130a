package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Tracer is the regflow tracer instance.
// Uses the global OTel tracer provider.
var tracer = otel.Tracer("regflow")

// SpanManager handles trace span lifecycle.
// Use NewSpanManager() for OTel tracing or NoopSpanManager{} when disabled.
type SpanManager interface {
	// StartSubmitSpan starts a span covering transaction validation,
	// response preparation and queueing.
	StartSubmitSpan(ctx context.Context, clientID string) (context.Context, trace.Span)

	// StartExecuteSpan starts a span for one transaction execution.
	StartExecuteSpan(ctx context.Context, txnID int64) (context.Context, trace.Span)

	// EndSpanWithError completes a span, optionally recording an error.
	EndSpanWithError(span trace.Span, err error)
}

// otelSpanManager implements SpanManager using OpenTelemetry.
type otelSpanManager struct{}

// NewSpanManager returns a SpanManager that uses OpenTelemetry.
//
// The span manager uses the global OTel tracer provider. Configure the
// provider before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetTracerProvider(yourProvider)
func NewSpanManager() SpanManager {
	return &otelSpanManager{}
}

// StartSubmitSpan starts a span for a transaction submission.
func (m *otelSpanManager) StartSubmitSpan(ctx context.Context, clientID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "regflow.submit",
		trace.WithAttributes(
			attribute.String("client.id", clientID),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartExecuteSpan starts a span for one transaction execution.
func (m *otelSpanManager) StartExecuteSpan(ctx context.Context, txnID int64) (context.Context, trace.Span) {
	return tracer.Start(ctx, "regflow.execute",
		trace.WithAttributes(
			attribute.Int64("transaction.id", txnID),
		),
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
