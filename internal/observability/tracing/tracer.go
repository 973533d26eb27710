package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName identifies spans created by this module.
const tracerName = "marketplace-core"

// GetTracer returns the tracer for creating spans.
// It is resolved from the global provider on every call so a provider
// installed after package init is honoured.
//
// Example usage:
//
//	ctx, span := tracing.GetTracer().Start(ctx, "operation-name")
//	defer span.End()
func GetTracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartCall starts a client span for a remote operation.
func StartCall(ctx context.Context, operation string) (context.Context, trace.Span) {
	return GetTracer().Start(ctx, "remote."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("remote.operation", operation)),
	)
}

// EndCall records the outcome on span and ends it.
func EndCall(span trace.Span, outcome string, attempts int, err error) {
	span.SetAttributes(
		attribute.String("remote.outcome", outcome),
		attribute.Int("remote.attempts", attempts),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	span.End()
}
