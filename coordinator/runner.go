package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/bridge"
	"github.com/xraph/bridge/backoff"
	"github.com/xraph/bridge/feed"
)

// Runner reads a change feed and hands each event to a Handler.
//
// Up to Concurrency events are handled at once. The checkpoint only
// advances past events whose handling finished, so a restart replays
// whatever was in flight; the claim makes the replay harmless.
type Runner struct {
	handler     Handler
	opener      feed.Opener
	checkpoints feed.CheckpointStore
	consumer    string

	concurrency        int
	checkpointInterval time.Duration
	reopenDelay        time.Duration
	retry              backoff.Policy
	logger             *slog.Logger

	tracker   *feed.Tracker
	saved     feed.Cursor
	delivered feed.Cursor

	mu         sync.Mutex
	running    bool
	readCancel context.CancelFunc
	workCancel context.CancelFunc
	readDone   chan struct{}
	wg         sync.WaitGroup
	stopCh     chan struct{}
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithConsumer names the checkpoint. Defaults to "bridge".
func WithConsumer(name string) RunnerOption {
	return func(r *Runner) { r.consumer = name }
}

// WithConcurrency sets the number of events handled at once.
func WithConcurrency(n int) RunnerOption {
	return func(r *Runner) { r.concurrency = n }
}

// WithCheckpointInterval sets how often the cursor is persisted.
func WithCheckpointInterval(d time.Duration) RunnerOption {
	return func(r *Runner) { r.checkpointInterval = d }
}

// WithReopenDelay sets the pause before reopening a failed feed.
func WithReopenDelay(d time.Duration) RunnerOption {
	return func(r *Runner) { r.reopenDelay = d }
}

// WithEventRetry sets the policy for events whose claim hit a store error.
func WithEventRetry(p backoff.Policy) RunnerOption {
	return func(r *Runner) { r.retry = p }
}

// WithRunnerLogger sets the logger.
func WithRunnerLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = l }
}

// NewRunner creates a Runner.
func NewRunner(handler Handler, opener feed.Opener, checkpoints feed.CheckpointStore, opts ...RunnerOption) *Runner {
	cfg := bridge.DefaultConfig()
	r := &Runner{
		handler:            handler,
		opener:             opener,
		checkpoints:        checkpoints,
		consumer:           cfg.Consumer,
		concurrency:        cfg.Concurrency,
		checkpointInterval: cfg.CheckpointInterval,
		reopenDelay:        time.Second,
		retry: backoff.Policy{
			MaxAttempts: cfg.MaxAttempts,
			Strategy:    backoff.NewExponential(cfg.BackoffInitial, cfg.BackoffMax),
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.concurrency < 1 {
		r.concurrency = 1
	}
	return r
}

// Start loads the checkpoint, opens the feed and begins handling events.
// It returns once the feed is open.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return bridge.ErrAlreadyStarted
	}

	from, err := r.checkpoints.LoadCheckpoint(ctx, r.consumer)
	if err != nil {
		return err
	}
	src, err := r.opener.OpenFeed(ctx, from)
	if err != nil {
		return err
	}

	r.tracker = feed.NewTracker(from)
	r.saved = from
	r.delivered = from
	r.stopCh = make(chan struct{})
	r.readDone = make(chan struct{})

	readCtx, readCancel := context.WithCancel(context.WithoutCancel(ctx))
	workCtx, workCancel := context.WithCancel(context.WithoutCancel(ctx))
	r.readCancel = readCancel
	r.workCancel = workCancel
	r.running = true

	r.logger.Info("feed runner starting",
		slog.String("consumer", r.consumer),
		slog.String("from", string(from)),
		slog.Int("concurrency", r.concurrency),
	)

	go r.readLoop(readCtx, workCtx, src)
	r.wg.Add(1)
	go r.checkpointLoop()
	return nil
}

// Stop stops reading, waits for in-flight events and saves the checkpoint.
// If ctx expires first, in-flight handling is cancelled.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	r.mu.Unlock()

	r.logger.Info("feed runner stopping", slog.String("consumer", r.consumer))
	r.readCancel()
	<-r.readDone

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	close(r.stopCh)

	select {
	case <-done:
	case <-ctx.Done():
		r.logger.Warn("feed runner shutdown timed out, cancelling in-flight events")
		r.workCancel()
		<-done
	}
	r.workCancel()

	return r.flush(context.WithoutCancel(ctx))
}

// Checkpoint returns the cursor the runner would persist now.
func (r *Runner) Checkpoint() feed.Cursor {
	if r.tracker == nil {
		return ""
	}
	return r.tracker.Safe()
}

func (r *Runner) readLoop(readCtx, workCtx context.Context, src feed.Source) {
	defer close(r.readDone)
	defer func() { _ = src.Close() }()

	sem := make(chan struct{}, r.concurrency)
	for {
		ev, err := src.Next(readCtx)
		if err != nil {
			if readCtx.Err() != nil {
				return
			}
			r.logger.Error("feed read failed, reopening",
				slog.String("consumer", r.consumer),
				slog.String("after", string(r.delivered)),
				slog.String("error", err.Error()),
			)
			_ = src.Close()
			if src = r.reopen(readCtx); src == nil {
				return
			}
			continue
		}

		select {
		case sem <- struct{}{}:
		case <-readCtx.Done():
			return
		}

		r.tracker.Deliver(ev.Cursor)
		r.delivered = ev.Cursor
		r.wg.Add(1)
		go func(ev feed.Event) {
			defer func() { <-sem }()
			defer r.wg.Done()
			if r.handleEvent(workCtx, ev) {
				r.tracker.Ack(ev.Cursor)
			}
		}(ev)
	}
}

func (r *Runner) reopen(ctx context.Context) feed.Source {
	for {
		if !backoff.Sleep(ctx, r.reopenDelay) {
			return nil
		}
		src, err := r.opener.OpenFeed(ctx, r.delivered)
		if err == nil {
			return src
		}
		if ctx.Err() != nil {
			return nil
		}
		r.logger.Error("feed reopen failed", slog.String("error", err.Error()))
	}
}

// handleEvent reports whether the event may be acknowledged.
func (r *Runner) handleEvent(ctx context.Context, ev feed.Event) bool {
	if ev.Request == nil {
		r.logger.Warn("feed event without a record", slog.String("cursor", string(ev.Cursor)))
		return true
	}

	var outcome Outcome
	policy := r.retry
	policy.Retryable = func(error) bool { return outcome == OutcomeUnhandled }
	_, err := policy.Run(ctx, func(ctx context.Context, _ int) error {
		var herr error
		outcome, herr = r.handler.Handle(ctx, ev.Request)
		return herr
	})

	attrs := []any{
		slog.String("request_id", ev.Request.ID.String()),
		slog.String("cursor", string(ev.Cursor)),
		slog.String("outcome", outcome.String()),
	}
	switch {
	case err == nil:
		r.logger.Debug("feed event handled", attrs...)
	case errors.Is(err, bridge.ErrReconciliationNeeded):
		// Already logged and recorded by the coordinator.
	case outcome == OutcomeUnhandled && ctx.Err() != nil:
		r.logger.Warn("feed event interrupted, will be replayed", attrs...)
		return false
	case outcome == OutcomeUnhandled:
		// The record is still pending; the watchdog's orphan sweep redrives it.
		r.logger.Error("claim not attempted, leaving record for the watchdog",
			append(attrs, slog.String("error", err.Error()))...)
	default:
		r.logger.Error("feed event handling failed", append(attrs, slog.String("error", err.Error()))...)
	}
	return true
}

func (r *Runner) checkpointLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.checkpointInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			if err := r.flush(context.Background()); err != nil {
				r.logger.Warn("checkpoint save failed",
					slog.String("consumer", r.consumer),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

func (r *Runner) flush(ctx context.Context) error {
	safe := r.tracker.Safe()

	r.mu.Lock()
	defer r.mu.Unlock()
	if safe == r.saved {
		return nil
	}
	if err := r.checkpoints.SaveCheckpoint(ctx, r.consumer, safe); err != nil {
		return err
	}
	r.saved = safe
	return nil
}
