// Package coordinator turns a pending request into at most one backend
// dispatch.
//
// [Coordinator.Handle] claims a request with a conditional update, submits
// it through the middleware chain with bounded retries, and records either
// processing (with the run id) or failed. Losing the claim race is a
// silent no-op, which makes duplicate feed deliveries and concurrent
// bridge instances harmless. [Runner] feeds a change feed into Handle with
// bounded concurrency and checkpointing.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/bridge"
	"github.com/xraph/bridge/backend"
	"github.com/xraph/bridge/backoff"
	"github.com/xraph/bridge/ext"
	"github.com/xraph/bridge/id"
	"github.com/xraph/bridge/middleware"
	"github.com/xraph/bridge/reconcile"
	"github.com/xraph/bridge/request"
)

// Outcome is what Handle did with a request.
type Outcome int

const (
	// OutcomeSkipped means the snapshot was not pending.
	OutcomeSkipped Outcome = iota
	// OutcomeConflict means another coordinator owns the request.
	OutcomeConflict
	// OutcomeDropped means the record no longer exists.
	OutcomeDropped
	// OutcomeDispatched means the request is now processing.
	OutcomeDispatched
	// OutcomeFailed means the request is now failed.
	OutcomeFailed
	// OutcomeReconcile means the backend accepted the job but the
	// processing write failed. The error wraps bridge.ErrReconciliationNeeded.
	OutcomeReconcile
	// OutcomeAbandoned means the claim was taken but no outcome was
	// recorded; the watchdog will release it.
	OutcomeAbandoned
	// OutcomeUnhandled means the claim could not be attempted because the
	// store failed. The event can be retried.
	OutcomeUnhandled
)

var outcomeNames = [...]string{"skipped", "conflict", "dropped", "dispatched", "failed", "reconcile", "abandoned", "unhandled"}

func (o Outcome) String() string {
	if int(o) < len(outcomeNames) {
		return outcomeNames[o]
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Handler handles one request snapshot. *Coordinator implements it.
type Handler interface {
	Handle(ctx context.Context, snapshot *request.Request) (Outcome, error)
}

var _ Handler = (*Coordinator)(nil)

// Coordinator owns the claim, submit and record steps.
type Coordinator struct {
	store        request.Store
	client       backend.Client
	reconciler   *reconcile.Service
	extensions   *ext.Registry
	mws          []middleware.Middleware
	mw           middleware.Middleware
	strategy     backoff.Strategy
	maxAttempts  int
	timeout      time.Duration
	writeTimeout time.Duration
	writeTries   int
	workerID     id.WorkerID
	logger       *slog.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithMaxAttempts bounds backend calls per claim, first call included.
func WithMaxAttempts(n int) Option {
	return func(c *Coordinator) { c.maxAttempts = n }
}

// WithBackoff sets the delay strategy between attempts.
func WithBackoff(s backoff.Strategy) Option {
	return func(c *Coordinator) { c.strategy = s }
}

// WithSubmitTimeout bounds each attempt. Zero disables the bound.
func WithSubmitTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.timeout = d }
}

// WithWriteTimeout bounds the outcome writes that run after a submission.
// Those writes ignore cancellation of the handling context so a shutdown
// does not strand an accepted job.
func WithWriteTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.writeTimeout = d }
}

// WithWriteAttempts bounds how often the processing write is tried after
// the backend accepted a job. Only store transport errors are retried.
func WithWriteAttempts(n int) Option {
	return func(c *Coordinator) { c.writeTries = n }
}

// WithMiddleware appends submit middleware. The first is outermost.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(c *Coordinator) { c.mws = append(c.mws, mws...) }
}

// WithExtensions sets the lifecycle hook registry.
func WithExtensions(r *ext.Registry) Option {
	return func(c *Coordinator) { c.extensions = r }
}

// WithReconciler records accepted-but-unrecorded dispatches.
func WithReconciler(s *reconcile.Service) Option {
	return func(c *Coordinator) { c.reconciler = s }
}

// WithWorkerID sets the identity written into claims.
func WithWorkerID(w id.WorkerID) Option {
	return func(c *Coordinator) { c.workerID = w }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// New creates a Coordinator.
func New(store request.Store, client backend.Client, opts ...Option) *Coordinator {
	cfg := bridge.DefaultConfig()
	c := &Coordinator{
		store:        store,
		client:       client,
		strategy:     backoff.NewExponentialWithJitter(cfg.BackoffInitial, cfg.BackoffMax),
		maxAttempts:  cfg.MaxAttempts,
		timeout:      cfg.SubmitTimeout,
		writeTimeout: 10 * time.Second,
		writeTries:   3,
		workerID:     id.NewWorkerID(),
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.extensions == nil {
		c.extensions = ext.NewRegistry(c.logger)
	}
	// The per-attempt timeout sits innermost so outer middleware observe
	// the classified timeout.
	c.mw = middleware.Chain(append(append([]middleware.Middleware(nil), c.mws...), middleware.Timeout(c.timeout))...)
	return c
}

// WorkerID returns the identity written into claims.
func (c *Coordinator) WorkerID() id.WorkerID { return c.workerID }

// Handle dispatches snapshot if it is pending and this coordinator wins
// the claim.
func (c *Coordinator) Handle(ctx context.Context, snapshot *request.Request) (Outcome, error) {
	if snapshot.Status != request.StatusPending {
		c.extensions.EmitRequestSkipped(ctx, snapshot, ext.SkipNotPending)
		return OutcomeSkipped, nil
	}

	claimed, err := c.store.ConditionalUpdate(ctx, snapshot.ID, snapshot.Version, request.Claim(c.workerID))
	switch {
	case err == nil:
	case bridge.IsConflict(err), errors.Is(err, bridge.ErrInvalidTransition):
		c.logger.Debug("claim lost",
			slog.String("request_id", snapshot.ID.String()),
			slog.Int64("version", snapshot.Version),
		)
		c.extensions.EmitRequestSkipped(ctx, snapshot, ext.SkipConflict)
		return OutcomeConflict, nil
	case errors.Is(err, bridge.ErrRequestNotFound):
		c.logger.Warn("request vanished before claim", slog.String("request_id", snapshot.ID.String()))
		c.extensions.EmitRequestSkipped(ctx, snapshot, ext.SkipNotFound)
		return OutcomeDropped, nil
	default:
		return OutcomeUnhandled, fmt.Errorf("coordinator: claim %s: %w", snapshot.ID, err)
	}

	c.extensions.EmitRequestClaimed(ctx, claimed)

	start := time.Now()
	runID, attempts, submitErr := c.submit(ctx, claimed)
	if submitErr == nil {
		return c.recordDispatched(ctx, claimed, runID, attempts, time.Since(start))
	}

	if ctx.Err() != nil && backend.IsRetryable(submitErr) {
		c.logger.Warn("dispatch interrupted, leaving claim for the watchdog",
			slog.String("request_id", claimed.ID.String()),
			slog.Int("attempts", attempts),
		)
		return OutcomeAbandoned, ctx.Err()
	}
	return c.recordFailed(ctx, claimed, attempts, submitErr)
}

func (c *Coordinator) submit(ctx context.Context, r *request.Request) (string, int, error) {
	params := backend.Params{Year: r.Year, Type: r.Type}
	terminal := func(ctx context.Context) (string, error) {
		runID, err := c.client.Submit(ctx, params)
		if err == nil && runID == "" {
			return "", backend.Rejected(0, "backend returned an empty run id")
		}
		return runID, err
	}

	policy := backoff.Policy{
		MaxAttempts: c.maxAttempts,
		Strategy:    c.strategy,
		Retryable:   backend.IsRetryable,
		OnRetry: func(attempt int, delay time.Duration, err error) {
			c.logger.Info("retrying backend submit",
				slog.String("request_id", r.ID.String()),
				slog.Int("attempt", attempt),
				slog.Int("max_attempts", c.maxAttempts),
				slog.Duration("delay", delay),
			)
			c.extensions.EmitSubmitRetrying(ctx, r, attempt, delay, err)
		},
	}

	var runID string
	attempts, err := policy.Run(ctx, func(ctx context.Context, attempt int) error {
		a := &middleware.Attempt{Request: r, Number: attempt, Worker: c.workerID}
		got, err := c.mw(ctx, a, terminal)
		if err != nil {
			return err
		}
		runID = got
		return nil
	})
	return runID, attempts, err
}

func (c *Coordinator) recordDispatched(ctx context.Context, claimed *request.Request, runID string, attempts int, elapsed time.Duration) (Outcome, error) {
	wctx, cancel := c.writeContext(ctx)
	defer cancel()

	var done *request.Request
	policy := backoff.Policy{
		MaxAttempts: c.writeTries,
		Strategy:    c.strategy,
		Retryable:   retryableWrite,
		OnRetry: func(attempt int, delay time.Duration, err error) {
			c.logger.Warn("retrying processing write",
				slog.String("request_id", claimed.ID.String()),
				slog.String("run_id", runID),
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				slog.String("error", err.Error()),
			)
		},
	}
	_, err := policy.Run(wctx, func(ctx context.Context, _ int) error {
		var err error
		done, err = c.store.ConditionalUpdate(ctx, claimed.ID, claimed.Version, request.Dispatched(runID, attempts))
		return err
	})
	if err != nil {
		return c.needsReconcile(ctx, wctx, claimed, runID, attempts, err)
	}

	c.logger.Info("request dispatched",
		slog.String("request_id", done.ID.String()),
		slog.String("run_id", runID),
		slog.Int("attempts", attempts),
		slog.Duration("elapsed", elapsed),
	)
	c.extensions.EmitRequestDispatched(ctx, done, elapsed)
	return OutcomeDispatched, nil
}

// retryableWrite reports whether a failed outcome write may succeed on a
// second try. A conflict means another writer moved the record.
func retryableWrite(err error) bool {
	return !bridge.IsConflict(err) &&
		!bridge.IsNotFound(err) &&
		!errors.Is(err, bridge.ErrInvalidTransition)
}

func (c *Coordinator) needsReconcile(ctx, wctx context.Context, claimed *request.Request, runID string, attempts int, cause error) (Outcome, error) {
	c.logger.Error("backend accepted job but processing status was not recorded",
		slog.String("request_id", claimed.ID.String()),
		slog.String("run_id", runID),
		slog.String("error", cause.Error()),
	)

	entry := &reconcile.Entry{
		RequestID: claimed.ID,
		RunID:     runID,
		Year:      claimed.Year,
		Type:      claimed.Type,
		Attempts:  attempts,
		Reason:    cause.Error(),
		CreatedAt: time.Now().UTC(),
	}
	if c.reconciler != nil {
		pushed, err := c.reconciler.Push(wctx, claimed, runID, attempts, cause)
		if err != nil {
			c.logger.Error("failed to persist reconcile entry",
				slog.String("request_id", claimed.ID.String()),
				slog.String("run_id", runID),
				slog.String("error", err.Error()),
			)
		} else {
			entry = pushed
		}
	}

	c.extensions.EmitReconciliationNeeded(ctx, entry)
	return OutcomeReconcile, fmt.Errorf("%w: request %s run %s: %w", bridge.ErrReconciliationNeeded, claimed.ID, runID, cause)
}

func (c *Coordinator) recordFailed(ctx context.Context, claimed *request.Request, attempts int, submitErr error) (Outcome, error) {
	wctx, cancel := c.writeContext(ctx)
	defer cancel()

	failed, err := c.store.ConditionalUpdate(wctx, claimed.ID, claimed.Version, request.Failed(submitErr.Error(), attempts))
	if err != nil {
		c.logger.Error("failed to record dispatch failure",
			slog.String("request_id", claimed.ID.String()),
			slog.String("submit_error", submitErr.Error()),
			slog.String("error", err.Error()),
		)
		return OutcomeAbandoned, fmt.Errorf("coordinator: record failure of %s: %w", claimed.ID, err)
	}

	c.logger.Warn("request failed",
		slog.String("request_id", failed.ID.String()),
		slog.String("kind", backend.KindOf(submitErr).String()),
		slog.Int("attempts", attempts),
		slog.String("error", submitErr.Error()),
	)
	c.extensions.EmitRequestFailed(ctx, failed, submitErr)
	return OutcomeFailed, nil
}

func (c *Coordinator) writeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	detached := context.WithoutCancel(ctx)
	if c.writeTimeout <= 0 {
		return context.WithCancel(detached)
	}
	return context.WithTimeout(detached, c.writeTimeout)
}
