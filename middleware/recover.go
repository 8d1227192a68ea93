package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/xraph/bridge/backend"
)

// Recover turns a panic in the chain into a Rejected error so the attempt
// is not repeated.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, a *Attempt, next Handler) (runID string, retErr error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("backend submit panicked",
					slog.String("request_id", a.Request.ID.String()),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)
				runID = ""
				retErr = backend.Rejected(0, fmt.Sprintf("panic submitting %s: %v", a.Request.ID, r))
			}
		}()
		return next(ctx)
	}
}
