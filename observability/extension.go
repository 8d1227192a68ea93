package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/bridge/backend"
	"github.com/xraph/bridge/ext"
	"github.com/xraph/bridge/reconcile"
	"github.com/xraph/bridge/request"
)

var (
	_ ext.Extension            = (*MetricsExtension)(nil)
	_ ext.RequestSkipped       = (*MetricsExtension)(nil)
	_ ext.RequestClaimed       = (*MetricsExtension)(nil)
	_ ext.SubmitRetrying       = (*MetricsExtension)(nil)
	_ ext.RequestDispatched    = (*MetricsExtension)(nil)
	_ ext.RequestFailed        = (*MetricsExtension)(nil)
	_ ext.ReconciliationNeeded = (*MetricsExtension)(nil)
	_ ext.RequestReclaimed     = (*MetricsExtension)(nil)
)

const meterName = "github.com/xraph/bridge/observability"

// MetricsExtension records lifecycle counters.
type MetricsExtension struct {
	Skipped         metric.Int64Counter
	Claimed         metric.Int64Counter
	Retried         metric.Int64Counter
	Dispatched      metric.Int64Counter
	Failed          metric.Int64Counter
	Reconciliations metric.Int64Counter
	Reclaimed       metric.Int64Counter
	DispatchLatency metric.Float64Histogram
}

// NewMetricsExtension uses the global MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter uses the provided meter.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	counter := func(name, desc string) metric.Int64Counter {
		c, _ := meter.Int64Counter(name, metric.WithDescription(desc))
		return c
	}
	latency, _ := meter.Float64Histogram("bridge.request.dispatch_latency",
		metric.WithDescription("Time from claim to processing in seconds"),
		metric.WithUnit("s"),
	)
	return &MetricsExtension{
		Skipped:         counter("bridge.request.skipped", "Events absorbed without dispatching"),
		Claimed:         counter("bridge.request.claimed", "Requests moved to dispatching"),
		Retried:         counter("bridge.request.retried", "Backend submit retries"),
		Dispatched:      counter("bridge.request.dispatched", "Requests moved to processing"),
		Failed:          counter("bridge.request.failed", "Requests moved to failed"),
		Reconciliations: counter("bridge.request.reconciliation_needed", "Accepted dispatches whose status write failed"),
		Reclaimed:       counter("bridge.request.reclaimed", "Abandoned claims returned to pending"),
		DispatchLatency: latency,
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnRequestSkipped implements ext.RequestSkipped.
func (m *MetricsExtension) OnRequestSkipped(ctx context.Context, _ *request.Request, reason ext.SkipReason) error {
	m.Skipped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", string(reason))))
	return nil
}

// OnRequestClaimed implements ext.RequestClaimed.
func (m *MetricsExtension) OnRequestClaimed(ctx context.Context, r *request.Request) error {
	m.Claimed.Add(ctx, 1, typeAttr(r))
	return nil
}

// OnSubmitRetrying implements ext.SubmitRetrying.
func (m *MetricsExtension) OnSubmitRetrying(ctx context.Context, r *request.Request, _ int, _ time.Duration, err error) error {
	m.Retried.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", r.Type),
		attribute.String("kind", backend.KindOf(err).String()),
	))
	return nil
}

// OnRequestDispatched implements ext.RequestDispatched.
func (m *MetricsExtension) OnRequestDispatched(ctx context.Context, r *request.Request, elapsed time.Duration) error {
	m.Dispatched.Add(ctx, 1, typeAttr(r))
	m.DispatchLatency.Record(ctx, elapsed.Seconds(), typeAttr(r))
	return nil
}

// OnRequestFailed implements ext.RequestFailed.
func (m *MetricsExtension) OnRequestFailed(ctx context.Context, r *request.Request, _ error) error {
	m.Failed.Add(ctx, 1, typeAttr(r))
	return nil
}

// OnReconciliationNeeded implements ext.ReconciliationNeeded.
func (m *MetricsExtension) OnReconciliationNeeded(ctx context.Context, _ *reconcile.Entry) error {
	m.Reconciliations.Add(ctx, 1)
	return nil
}

// OnRequestReclaimed implements ext.RequestReclaimed.
func (m *MetricsExtension) OnRequestReclaimed(ctx context.Context, r *request.Request) error {
	m.Reclaimed.Add(ctx, 1, typeAttr(r))
	return nil
}

func typeAttr(r *request.Request) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("type", r.Type))
}
