// Package watchdog recovers requests the feed path left behind.
//
// A claim whose coordinator died stays dispatching forever unless someone
// releases it. On every run the watchdog returns dispatching records older
// than the claim timeout to pending, then hands them, along with pending
// records the feed never delivered, back to the coordinator. The claim's
// conditional update keeps the redrive at most once per backend submission.
//
// A dispatching record with an open reconcile entry was already accepted
// by the backend. The watchdog never releases it; with a reconciler set it
// applies the recorded run id instead.
package watchdog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/xraph/bridge"
	"github.com/xraph/bridge/coordinator"
	"github.com/xraph/bridge/ext"
	"github.com/xraph/bridge/reconcile"
	"github.com/xraph/bridge/request"
)

// scheduleParser accepts standard 5-field cron and descriptors like "@every 1m".
var scheduleParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	s, err := scheduleParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: watchdog schedule %q: %w", bridge.ErrInvalidConfig, expr, err)
	}
	return s, nil
}

// Report summarises one sweep.
type Report struct {
	Released   int `json:"released"`
	Reconciled int `json:"reconciled"`
	Orphaned   int `json:"orphaned"`
	Redriven   int `json:"redriven"`
	Errors     int `json:"errors"`
}

// Watchdog periodically sweeps the request store.
type Watchdog struct {
	store        request.Store
	handler      coordinator.Handler
	reconciler   *reconcile.Service
	extensions   *ext.Registry
	claimTimeout time.Duration
	schedule     string
	batchSize    int
	logger       *slog.Logger
	now          func() time.Time

	mu      sync.Mutex
	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
}

// Option configures a Watchdog.
type Option func(*Watchdog)

// WithClaimTimeout sets the age after which a dispatching claim is
// considered abandoned.
func WithClaimTimeout(d time.Duration) Option {
	return func(w *Watchdog) { w.claimTimeout = d }
}

// WithSchedule sets the cron expression. Defaults to "@every 1m".
func WithSchedule(expr string) Option {
	return func(w *Watchdog) { w.schedule = expr }
}

// WithInterval is shorthand for WithSchedule("@every d").
func WithInterval(d time.Duration) Option {
	return func(w *Watchdog) { w.schedule = "@every " + d.String() }
}

// WithBatchSize caps how many records of each kind one sweep touches.
func WithBatchSize(n int) Option {
	return func(w *Watchdog) { w.batchSize = n }
}

// WithRedriver hands released and orphaned records to h.
func WithRedriver(h coordinator.Handler) Option {
	return func(w *Watchdog) { w.handler = h }
}

// WithReconciler makes the sweep apply open reconcile entries to stale
// claims instead of releasing them.
func WithReconciler(s *reconcile.Service) Option {
	return func(w *Watchdog) { w.reconciler = s }
}

// WithExtensions sets the lifecycle hook registry.
func WithExtensions(r *ext.Registry) Option {
	return func(w *Watchdog) { w.extensions = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Watchdog) { w.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(w *Watchdog) { w.now = now }
}

// New creates a Watchdog.
func New(store request.Store, opts ...Option) *Watchdog {
	cfg := bridge.DefaultConfig()
	w := &Watchdog{
		store:        store,
		claimTimeout: cfg.ClaimTimeout,
		schedule:     "@every " + cfg.WatchdogInterval.String(),
		batchSize:    100,
		logger:       slog.Default(),
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.extensions == nil {
		w.extensions = ext.NewRegistry(w.logger)
	}
	return w
}

// Start begins sweeping on the schedule.
func (w *Watchdog) Start(_ context.Context) error {
	sched, err := ParseSchedule(w.schedule)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return bridge.ErrAlreadyStarted
	}
	w.running = true
	w.stopCh = make(chan struct{})

	w.wg.Add(1)
	go w.loop(sched)
	w.logger.Info("watchdog started",
		slog.String("schedule", w.schedule),
		slog.Duration("claim_timeout", w.claimTimeout),
	)
	return nil
}

// Stop waits for the current sweep to finish.
func (w *Watchdog) Stop(_ context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	close(w.stopCh)
	w.mu.Unlock()

	w.wg.Wait()
	w.logger.Info("watchdog stopped")
	return nil
}

func (w *Watchdog) loop(sched cronlib.Schedule) {
	defer w.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-w.stopCh
		cancel()
	}()

	for {
		now := time.Now()
		timer := time.NewTimer(sched.Next(now).Sub(now))
		select {
		case <-w.stopCh:
			timer.Stop()
			return
		case <-timer.C:
		}

		report, err := w.Sweep(ctx)
		if err != nil && ctx.Err() == nil {
			w.logger.Error("watchdog sweep failed", slog.String("error", err.Error()))
			continue
		}
		if report.Released+report.Reconciled+report.Orphaned > 0 {
			w.logger.Info("watchdog sweep",
				slog.Int("released", report.Released),
				slog.Int("reconciled", report.Reconciled),
				slog.Int("orphaned", report.Orphaned),
				slog.Int("redriven", report.Redriven),
				slog.Int("errors", report.Errors),
			)
		}
	}
}

// Sweep runs one pass: release stale claims, find orphaned pending
// records and redrive both.
func (w *Watchdog) Sweep(ctx context.Context) (Report, error) {
	var report Report
	cutoff := w.now().Add(-w.claimTimeout)

	stale, err := w.store.ListRequests(ctx, request.ListOpts{
		Status:        request.StatusDispatching,
		UpdatedBefore: cutoff,
		Limit:         w.batchSize,
	})
	if err != nil {
		return report, fmt.Errorf("watchdog: list stale claims: %w", err)
	}

	var redrive []*request.Request
	for _, r := range stale {
		settled, err := w.settle(ctx, r)
		if err != nil {
			report.Errors++
			continue
		}
		if settled {
			report.Reconciled++
			continue
		}
		released, err := w.release(ctx, r)
		if err != nil {
			report.Errors++
			continue
		}
		if released != nil {
			report.Released++
			redrive = append(redrive, released)
		}
	}

	orphans, err := w.store.ListRequests(ctx, request.ListOpts{
		Status:        request.StatusPending,
		UpdatedBefore: cutoff,
		Limit:         w.batchSize,
	})
	if err != nil {
		return report, fmt.Errorf("watchdog: list orphans: %w", err)
	}
	released := make(map[string]bool, len(redrive))
	for _, r := range redrive {
		released[r.ID.String()] = true
	}
	for _, r := range orphans {
		if released[r.ID.String()] {
			continue
		}
		report.Orphaned++
		redrive = append(redrive, r)
	}

	if w.handler == nil {
		return report, nil
	}
	for _, r := range redrive {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		outcome, err := w.handler.Handle(ctx, r)
		if err != nil && !errors.Is(err, bridge.ErrReconciliationNeeded) {
			report.Errors++
			w.logger.Warn("watchdog redrive failed",
				slog.String("request_id", r.ID.String()),
				slog.String("outcome", outcome.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		if outcome != coordinator.OutcomeSkipped && outcome != coordinator.OutcomeConflict {
			report.Redriven++
		}
	}
	return report, nil
}

// settle applies an open reconcile entry for r. It reports true when r
// had one, whatever the entry's resolution, so the caller leaves r alone.
func (w *Watchdog) settle(ctx context.Context, r *request.Request) (bool, error) {
	if w.reconciler == nil {
		return false, nil
	}
	entry, err := w.reconciler.OpenFor(ctx, r.ID)
	if err != nil {
		w.logger.Error("watchdog reconcile lookup failed",
			slog.String("request_id", r.ID.String()),
			slog.String("error", err.Error()),
		)
		return false, err
	}
	if entry == nil {
		return false, nil
	}

	resolved, err := w.reconciler.Resolve(ctx, entry.ID, true)
	if err != nil {
		w.logger.Error("watchdog reconcile apply failed",
			slog.String("request_id", r.ID.String()),
			slog.String("entry_id", entry.ID.String()),
			slog.String("error", err.Error()),
		)
		return true, err
	}
	w.logger.Warn("applied reconcile entry to stale claim",
		slog.String("request_id", r.ID.String()),
		slog.String("run_id", entry.RunID),
		slog.String("resolution", resolved.Resolution),
	)
	return true, nil
}

// release returns nil without error when another writer got there first.
func (w *Watchdog) release(ctx context.Context, r *request.Request) (*request.Request, error) {
	released, err := w.store.ConditionalUpdate(ctx, r.ID, r.Version, request.Released())
	switch {
	case err == nil:
	case bridge.IsConflict(err), bridge.IsNotFound(err), errors.Is(err, bridge.ErrInvalidTransition):
		return nil, nil //nolint:nilnil // lost the race, nothing to release
	default:
		w.logger.Error("watchdog release failed",
			slog.String("request_id", r.ID.String()),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	var claimedAt time.Time
	if r.ClaimedAt != nil {
		claimedAt = *r.ClaimedAt
	}
	w.logger.Warn("released abandoned claim",
		slog.String("request_id", r.ID.String()),
		slog.String("claimed_by", r.ClaimedBy.String()),
		slog.Time("claimed_at", claimedAt),
	)
	w.extensions.EmitRequestReclaimed(ctx, released)
	return released, nil
}
