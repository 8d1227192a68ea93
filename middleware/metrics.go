package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/bridge/backend"
)

// meterName is the instrumentation scope for submit metrics.
const meterName = "github.com/xraph/bridge"

// Metrics records per-attempt metrics on the global MeterProvider.
//
// Instruments:
//   - bridge.submit.duration (Float64Histogram, seconds)
//   - bridge.submit.attempts (Int64Counter)
//
// Both carry the attributes type and outcome ("ok", "timeout",
// "transport" or "rejected").
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(meterName))
}

// MetricsWithMeter records metrics with the provided meter.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// The OTel API returns noop instruments alongside any error.
	duration, _ := meter.Float64Histogram(
		"bridge.submit.duration",
		metric.WithDescription("Duration of backend submit attempts in seconds"),
		metric.WithUnit("s"),
	)
	attempts, _ := meter.Int64Counter(
		"bridge.submit.attempts",
		metric.WithDescription("Total number of backend submit attempts"),
		metric.WithUnit("{attempt}"),
	)

	return func(ctx context.Context, a *Attempt, next Handler) (string, error) {
		start := time.Now()
		runID, err := next(ctx)

		outcome := "ok"
		if err != nil {
			outcome = backend.KindOf(err).String()
		}
		attrs := metric.WithAttributes(
			attribute.String("type", a.Request.Type),
			attribute.String("outcome", outcome),
		)
		duration.Record(ctx, time.Since(start).Seconds(), attrs)
		attempts.Add(ctx, 1, attrs)

		return runID, err
	}
}
