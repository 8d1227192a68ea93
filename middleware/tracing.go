package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/bridge/backend"
)

// tracerName is the instrumentation scope for submit tracing.
const tracerName = "github.com/xraph/bridge"

// Tracing wraps each attempt in a client span on the global TracerProvider.
//
// Span attributes: bridge.request.id, bridge.request.year,
// bridge.request.type, bridge.attempt, and bridge.run_id on success. On
// error the span records the error and bridge.error.kind.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer traces with the provided tracer.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, a *Attempt, next Handler) (string, error) {
		ctx, span := tracer.Start(ctx, "bridge.submit",
			trace.WithAttributes(
				attribute.String("bridge.request.id", a.Request.ID.String()),
				attribute.String("bridge.request.year", a.Request.Year),
				attribute.String("bridge.request.type", a.Request.Type),
				attribute.Int("bridge.attempt", a.Number),
			),
			trace.WithSpanKind(trace.SpanKindClient),
		)
		defer span.End()

		runID, err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetAttributes(attribute.String("bridge.error.kind", backend.KindOf(err).String()))
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.String("bridge.run_id", runID))
			span.SetStatus(codes.Ok, "")
		}
		return runID, err
	}
}
