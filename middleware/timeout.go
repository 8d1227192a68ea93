package middleware

import (
	"context"
	"errors"
	"time"

	"github.com/xraph/bridge/backend"
)

// Timeout bounds each attempt to d. An attempt cut off by this deadline
// fails with a Timeout error even if the handler returned something else.
// A non-positive d disables the bound.
func Timeout(d time.Duration) Middleware {
	return func(ctx context.Context, _ *Attempt, next Handler) (string, error) {
		if d <= 0 {
			return next(ctx)
		}
		attemptCtx, cancel := context.WithTimeout(ctx, d)
		defer cancel()

		runID, err := next(attemptCtx)
		if err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			var be *backend.Error
			if !errors.As(err, &be) || be.Kind != backend.KindTimeout {
				return "", backend.Timeout(err)
			}
		}
		return runID, err
	}
}
