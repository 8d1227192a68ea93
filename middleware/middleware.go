// Package middleware provides composable wrappers around a single backend
// submission attempt. Middleware runs synchronously inside the coordinator's
// retry loop, once per attempt.
//
//	chain := middleware.Chain(
//	    middleware.Logging(logger),
//	    middleware.Recover(logger),
//	    middleware.Timeout(cfg.SubmitTimeout),
//	)
//
// # Built-in Middleware
//
//   - [Logging] logs the outcome of each attempt
//   - [Recover] converts a panic into a Rejected error
//   - [Timeout] bounds a single attempt
//   - [Tracing] wraps the attempt in an OpenTelemetry span
//   - [Metrics] records attempt duration and outcome counters
package middleware

import (
	"context"

	"github.com/xraph/bridge/id"
	"github.com/xraph/bridge/request"
)

// Attempt describes one submission of a claimed request.
type Attempt struct {
	Request *request.Request
	// Number is 1 for the first call.
	Number int
	Worker id.WorkerID
}

// Handler performs the submission and returns the backend's run id.
type Handler func(ctx context.Context) (runID string, err error)

// Middleware wraps a Handler. It must call next to continue the chain
// unless it short-circuits with an error.
type Middleware func(ctx context.Context, a *Attempt, next Handler) (string, error)

// Chain composes middleware. The first middleware is the outermost:
//
//	Chain(logging, recover, timeout) runs logging → recover → timeout → handler
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, a *Attempt, next Handler) (string, error) {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) (string, error) {
				return mw(ctx, a, prev)
			}
		}
		return h(ctx)
	}
}
