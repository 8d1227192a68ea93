package backoff

import (
	"context"
	"time"
)

// Policy bounds a retried operation to MaxAttempts total attempts, with
// Strategy supplying the pause between them.
type Policy struct {
	MaxAttempts int
	Strategy    Strategy

	// Retryable classifies an error. A nil Retryable retries every error.
	Retryable func(error) bool

	// OnRetry is called before each pause. Optional.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// Run calls fn until it succeeds, returns a non-retryable error, the
// attempts are exhausted, or ctx is done. It returns the number of
// attempts made and the last error from fn. Cancellation during a pause
// also returns fn's last error; check ctx.Err() to tell the cases apart.
func (p Policy) Run(ctx context.Context, fn func(ctx context.Context, attempt int) error) (int, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	strategy := p.Strategy
	if strategy == nil {
		strategy = DefaultStrategy()
	}

	var err error
	attempt := 0
	for attempt < maxAttempts {
		attempt++
		if err = fn(ctx, attempt); err == nil {
			return attempt, nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return attempt, err
		}
		if attempt == maxAttempts || ctx.Err() != nil {
			break
		}

		delay := strategy.Delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, err)
		}
		if !Sleep(ctx, delay) {
			break
		}
	}
	return attempt, err
}

// Sleep pauses for d or until ctx is done. It reports whether the full
// duration elapsed.
func Sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
