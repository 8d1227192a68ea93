package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/bridge/backend"
)

// Logging logs each attempt's outcome. Successes log at info, retryable
// failures at warn and rejections at error.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, a *Attempt, next Handler) (string, error) {
		start := time.Now()
		runID, err := next(ctx)
		attrs := []any{
			slog.String("request_id", a.Request.ID.String()),
			slog.Int("attempt", a.Number),
			slog.Duration("elapsed", time.Since(start)),
		}

		switch {
		case err == nil:
			logger.Info("backend submit succeeded", append(attrs, slog.String("run_id", runID))...)
		case backend.IsRetryable(err):
			logger.Warn("backend submit failed",
				append(attrs, slog.String("kind", backend.KindOf(err).String()), slog.String("error", err.Error()))...)
		default:
			logger.Error("backend rejected submit", append(attrs, slog.String("error", err.Error()))...)
		}
		return runID, err
	}
}
