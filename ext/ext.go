package ext

import (
	"context"
	"time"

	"github.com/xraph/bridge/reconcile"
	"github.com/xraph/bridge/request"
)

// Extension is the base interface all extensions implement.
type Extension interface {
	// Name returns a unique human-readable name.
	Name() string
}

// SkipReason says why an event did not lead to a dispatch.
type SkipReason string

const (
	// SkipNotPending means the snapshot was past pending.
	SkipNotPending SkipReason = "not_pending"
	// SkipConflict means another coordinator won the claim.
	SkipConflict SkipReason = "conflict"
	// SkipNotFound means the record was deleted.
	SkipNotFound SkipReason = "not_found"
)

// ──────────────────────────────────────────────────
// Dispatch lifecycle hooks
// ──────────────────────────────────────────────────

// RequestSkipped is called when an event is absorbed without dispatching.
type RequestSkipped interface {
	OnRequestSkipped(ctx context.Context, r *request.Request, reason SkipReason) error
}

// RequestClaimed is called after a coordinator moves a request to
// dispatching.
type RequestClaimed interface {
	OnRequestClaimed(ctx context.Context, r *request.Request) error
}

// SubmitRetrying is called before the pause that precedes another
// submission attempt.
type SubmitRetrying interface {
	OnSubmitRetrying(ctx context.Context, r *request.Request, attempt int, delay time.Duration, err error) error
}

// RequestDispatched is called after a request is recorded as processing.
type RequestDispatched interface {
	OnRequestDispatched(ctx context.Context, r *request.Request, elapsed time.Duration) error
}

// RequestFailed is called after a request is recorded as failed.
type RequestFailed interface {
	OnRequestFailed(ctx context.Context, r *request.Request, err error) error
}

// ReconciliationNeeded is called when the backend accepted a job whose
// processing status could not be written.
type ReconciliationNeeded interface {
	OnReconciliationNeeded(ctx context.Context, e *reconcile.Entry) error
}

// ──────────────────────────────────────────────────
// Recovery and shutdown hooks
// ──────────────────────────────────────────────────

// RequestReclaimed is called when the watchdog returns an abandoned claim
// to pending.
type RequestReclaimed interface {
	OnRequestReclaimed(ctx context.Context, r *request.Request) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
