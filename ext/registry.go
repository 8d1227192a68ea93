package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/bridge/reconcile"
	"github.com/xraph/bridge/request"
)

// entry pairs a hook with the extension name captured at registration.
type entry[H any] struct {
	name string
	hook H
}

func cache[H any](dst []entry[H], e Extension) []entry[H] {
	if h, ok := e.(H); ok {
		return append(dst, entry[H]{name: e.Name(), hook: h})
	}
	return dst
}

// Registry fans lifecycle events out to extensions. Hooks are type-cached
// at registration so emits only visit extensions that implement them.
// Register every extension before the engine starts; emits may then run
// concurrently.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	skipped    []entry[RequestSkipped]
	claimed    []entry[RequestClaimed]
	retrying   []entry[SubmitRetrying]
	dispatched []entry[RequestDispatched]
	failed     []entry[RequestFailed]
	reconcile  []entry[ReconciliationNeeded]
	reclaimed  []entry[RequestReclaimed]
	shutdown   []entry[Shutdown]
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// SetLogger replaces the logger used to report hook errors.
func (r *Registry) SetLogger(logger *slog.Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// Register adds an extension. Extensions are notified in registration
// order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	r.skipped = cache(r.skipped, e)
	r.claimed = cache(r.claimed, e)
	r.retrying = cache(r.retrying, e)
	r.dispatched = cache(r.dispatched, e)
	r.failed = cache(r.failed, e)
	r.reconcile = cache(r.reconcile, e)
	r.reclaimed = cache(r.reclaimed, e)
	r.shutdown = cache(r.shutdown, e)
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// EmitRequestSkipped notifies RequestSkipped hooks.
func (r *Registry) EmitRequestSkipped(ctx context.Context, req *request.Request, reason SkipReason) {
	for _, e := range r.skipped {
		r.check("OnRequestSkipped", e.name, e.hook.OnRequestSkipped(ctx, req, reason))
	}
}

// EmitRequestClaimed notifies RequestClaimed hooks.
func (r *Registry) EmitRequestClaimed(ctx context.Context, req *request.Request) {
	for _, e := range r.claimed {
		r.check("OnRequestClaimed", e.name, e.hook.OnRequestClaimed(ctx, req))
	}
}

// EmitSubmitRetrying notifies SubmitRetrying hooks.
func (r *Registry) EmitSubmitRetrying(ctx context.Context, req *request.Request, attempt int, delay time.Duration, err error) {
	for _, e := range r.retrying {
		r.check("OnSubmitRetrying", e.name, e.hook.OnSubmitRetrying(ctx, req, attempt, delay, err))
	}
}

// EmitRequestDispatched notifies RequestDispatched hooks.
func (r *Registry) EmitRequestDispatched(ctx context.Context, req *request.Request, elapsed time.Duration) {
	for _, e := range r.dispatched {
		r.check("OnRequestDispatched", e.name, e.hook.OnRequestDispatched(ctx, req, elapsed))
	}
}

// EmitRequestFailed notifies RequestFailed hooks.
func (r *Registry) EmitRequestFailed(ctx context.Context, req *request.Request, err error) {
	for _, e := range r.failed {
		r.check("OnRequestFailed", e.name, e.hook.OnRequestFailed(ctx, req, err))
	}
}

// EmitReconciliationNeeded notifies ReconciliationNeeded hooks.
func (r *Registry) EmitReconciliationNeeded(ctx context.Context, entry *reconcile.Entry) {
	for _, e := range r.reconcile {
		r.check("OnReconciliationNeeded", e.name, e.hook.OnReconciliationNeeded(ctx, entry))
	}
}

// EmitRequestReclaimed notifies RequestReclaimed hooks.
func (r *Registry) EmitRequestReclaimed(ctx context.Context, req *request.Request) {
	for _, e := range r.reclaimed {
		r.check("OnRequestReclaimed", e.name, e.hook.OnRequestReclaimed(ctx, req))
	}
}

// EmitShutdown notifies Shutdown hooks.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		r.check("OnShutdown", e.name, e.hook.OnShutdown(ctx))
	}
}

// check logs a hook error. Hook errors never propagate.
func (r *Registry) check(hook, extName string, err error) {
	if err == nil {
		return
	}
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
