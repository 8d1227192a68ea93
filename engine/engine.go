package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/bridge"
	"github.com/xraph/bridge/backend"
	"github.com/xraph/bridge/backoff"
	"github.com/xraph/bridge/coordinator"
	"github.com/xraph/bridge/ext"
	"github.com/xraph/bridge/feed"
	"github.com/xraph/bridge/id"
	mw "github.com/xraph/bridge/middleware"
	"github.com/xraph/bridge/observability"
	"github.com/xraph/bridge/reconcile"
	"github.com/xraph/bridge/request"
	"github.com/xraph/bridge/store"
	"github.com/xraph/bridge/watchdog"
)

// maxWriteRetries bounds how often a downstream terminal write is retried
// after losing a version race.
const maxWriteRetries = 3

// Engine owns a running bridge instance.
type Engine struct {
	config     bridge.Config
	store      store.Store
	client     backend.Client
	extensions *ext.Registry
	mws        []mw.Middleware
	bo         backoff.Strategy
	logger     *slog.Logger
	noWatchdog bool

	coordinator *coordinator.Coordinator
	runner      *coordinator.Runner
	watchdog    *watchdog.Watchdog
	reconciler  *reconcile.Service

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig replaces the default configuration.
func WithConfig(cfg bridge.Config) Option {
	return func(eng *Engine) { eng.config = cfg }
}

// WithLogger sets the logger shared by every subsystem.
func WithLogger(l *slog.Logger) Option {
	return func(eng *Engine) { eng.logger = l }
}

// WithExtension registers a lifecycle extension.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) { eng.extensions.Register(e) }
}

// WithMiddleware adds submit middleware after the default stack.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) { eng.mws = append(eng.mws, m) }
}

// WithBackoff overrides the delay strategy between backend attempts.
// If not set, exponential backoff with jitter is built from the config.
func WithBackoff(b backoff.Strategy) Option {
	return func(eng *Engine) { eng.bo = b }
}

// WithoutWatchdog disables the periodic sweep on this instance. At least
// one instance sharing the store must run it.
func WithoutWatchdog() Option {
	return func(eng *Engine) { eng.noWatchdog = true }
}

// WithTracerProvider sets a custom OTel TracerProvider for the tracing
// middleware. If not set, the global provider is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) { eng.tracerProvider = tp }
}

// WithMeterProvider sets a custom OTel MeterProvider for the metrics
// middleware and the observability extension. If not set, the global
// provider is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) { eng.meterProvider = mp }
}

// New builds an Engine over st and client.
func New(st store.Store, client backend.Client, opts ...Option) (*Engine, error) {
	if st == nil {
		return nil, bridge.ErrNoStore
	}
	if client == nil {
		return nil, bridge.ErrNoBackend
	}

	eng := &Engine{
		config: bridge.DefaultConfig(),
		store:  st,
		client: client,
		logger: slog.Default(),
	}
	// Extensions registered through options need the registry first; the
	// logger is swapped in after options run.
	eng.extensions = ext.NewRegistry(eng.logger)
	for _, opt := range opts {
		opt(eng)
	}
	eng.extensions.SetLogger(eng.logger)

	if err := eng.config.Validate(); err != nil {
		return nil, err
	}
	if eng.bo == nil {
		eng.bo = backoff.NewExponentialWithJitter(eng.config.BackoffInitial, eng.config.BackoffMax)
	}

	var tracingMw, metricsMw mw.Middleware
	var obsExt *observability.MetricsExtension
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer("github.com/xraph/bridge"))
	} else {
		tracingMw = mw.Tracing()
	}
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter("github.com/xraph/bridge"))
		obsExt = observability.NewMetricsExtensionWithMeter(eng.meterProvider.Meter("github.com/xraph/bridge/observability"))
	} else {
		metricsMw = mw.Metrics()
		obsExt = observability.NewMetricsExtension()
	}
	eng.extensions.Register(obsExt)

	// recover → tracing → metrics → logging → user → timeout (added by the coordinator).
	chain := []mw.Middleware{
		mw.Recover(eng.logger),
		tracingMw,
		metricsMw,
		mw.Logging(eng.logger),
	}
	chain = append(chain, eng.mws...)

	eng.reconciler = reconcile.NewService(st, st)
	eng.coordinator = coordinator.New(st, client,
		coordinator.WithMaxAttempts(eng.config.MaxAttempts),
		coordinator.WithBackoff(eng.bo),
		coordinator.WithSubmitTimeout(eng.config.SubmitTimeout),
		coordinator.WithMiddleware(chain...),
		coordinator.WithExtensions(eng.extensions),
		coordinator.WithReconciler(eng.reconciler),
		coordinator.WithLogger(eng.logger),
	)
	eng.runner = coordinator.NewRunner(eng.coordinator, st, st,
		coordinator.WithConsumer(eng.config.Consumer),
		coordinator.WithConcurrency(eng.config.Concurrency),
		coordinator.WithCheckpointInterval(eng.config.CheckpointInterval),
		coordinator.WithEventRetry(backoff.Policy{
			MaxAttempts: eng.config.MaxAttempts,
			Strategy:    eng.bo,
		}),
		coordinator.WithRunnerLogger(eng.logger),
	)
	eng.watchdog = watchdog.New(st,
		watchdog.WithClaimTimeout(eng.config.ClaimTimeout),
		watchdog.WithInterval(eng.config.WatchdogInterval),
		watchdog.WithRedriver(eng.coordinator),
		watchdog.WithReconciler(eng.reconciler),
		watchdog.WithExtensions(eng.extensions),
		watchdog.WithLogger(eng.logger),
	)

	return eng, nil
}

// Start begins consuming the change feed and, unless disabled, the
// watchdog sweep.
func (eng *Engine) Start(ctx context.Context) error {
	if !eng.noWatchdog {
		if err := eng.watchdog.Start(ctx); err != nil {
			return fmt.Errorf("start watchdog: %w", err)
		}
	}
	if err := eng.runner.Start(ctx); err != nil {
		if !eng.noWatchdog {
			_ = eng.watchdog.Stop(ctx)
		}
		return fmt.Errorf("start feed runner: %w", err)
	}

	eng.logger.Info("bridge started",
		slog.String("worker_id", eng.coordinator.WorkerID().String()),
		slog.String("consumer", eng.config.Consumer),
		slog.Int("concurrency", eng.config.Concurrency),
	)
	return nil
}

// Stop stops reading the feed and waits up to the configured shutdown
// timeout for in-flight requests.
func (eng *Engine) Stop(ctx context.Context) error {
	stopCtx, cancel := context.WithTimeout(ctx, eng.config.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := eng.runner.Stop(stopCtx); err != nil {
		errs = append(errs, fmt.Errorf("stop feed runner: %w", err))
	}
	if !eng.noWatchdog {
		if err := eng.watchdog.Stop(stopCtx); err != nil {
			errs = append(errs, fmt.Errorf("stop watchdog: %w", err))
		}
	}
	eng.extensions.EmitShutdown(stopCtx)
	eng.logger.Info("bridge stopped", slog.String("checkpoint", string(eng.runner.Checkpoint())))
	return errors.Join(errs...)
}

// ──────────────────────────────────────────────────
// Request operations
// ──────────────────────────────────────────────────

// CreateRequest stores a new pending request. In production the request
// creator writes to the store directly; this is the development intake.
func (eng *Engine) CreateRequest(ctx context.Context, year, typ string) (*request.Request, error) {
	r := request.New(year, typ)
	if err := eng.store.CreateRequest(ctx, r); err != nil {
		return nil, err
	}
	eng.logger.Debug("request created",
		slog.String("request_id", r.ID.String()),
		slog.String("year", year),
		slog.String("type", typ),
	)
	return r, nil
}

// GetRequest returns the stored record.
func (eng *Engine) GetRequest(ctx context.Context, requestID id.RequestID) (*request.Request, error) {
	return eng.store.GetRequest(ctx, requestID)
}

// ListRequests lists stored records.
func (eng *Engine) ListRequests(ctx context.Context, opts request.ListOpts) ([]*request.Request, error) {
	return eng.store.ListRequests(ctx, opts)
}

// CompleteRequest records that the backend run finished.
func (eng *Engine) CompleteRequest(ctx context.Context, requestID id.RequestID) (*request.Request, error) {
	return eng.update(ctx, requestID, request.Completed())
}

// FailRequest records that the backend run failed downstream.
func (eng *Engine) FailRequest(ctx context.Context, requestID id.RequestID, reason string) (*request.Request, error) {
	return eng.update(ctx, requestID, request.Failed(reason, 0))
}

// update applies patch to the current version, retrying version races.
func (eng *Engine) update(ctx context.Context, requestID id.RequestID, patch request.Patch) (*request.Request, error) {
	var lastErr error
	for range maxWriteRetries {
		cur, err := eng.store.GetRequest(ctx, requestID)
		if err != nil {
			return nil, err
		}
		next, err := eng.store.ConditionalUpdate(ctx, requestID, cur.Version, patch)
		if err == nil {
			return next, nil
		}
		if !bridge.IsConflict(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// ──────────────────────────────────────────────────
// Operations
// ──────────────────────────────────────────────────

// Stats is a point-in-time summary of the store and the runner.
type Stats struct {
	Requests      map[request.Status]int64 `json:"requests"`
	OpenReconcile int64                    `json:"open_reconcile"`
	Checkpoint    feed.Cursor              `json:"checkpoint"`
	WorkerID      string                   `json:"worker_id"`
}

// Stats counts records by status and open reconcile entries.
func (eng *Engine) Stats(ctx context.Context) (*Stats, error) {
	s := &Stats{
		Requests:   make(map[request.Status]int64, len(request.Statuses)),
		Checkpoint: eng.runner.Checkpoint(),
		WorkerID:   eng.coordinator.WorkerID().String(),
	}
	for _, status := range request.Statuses {
		n, err := eng.store.CountRequests(ctx, status)
		if err != nil {
			return nil, fmt.Errorf("count %s requests: %w", status, err)
		}
		s.Requests[status] = n
	}
	open, err := eng.store.CountReconcile(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("count reconcile entries: %w", err)
	}
	s.OpenReconcile = open
	return s, nil
}

// Sweep runs one watchdog pass immediately.
func (eng *Engine) Sweep(ctx context.Context) (watchdog.Report, error) {
	return eng.watchdog.Sweep(ctx)
}

// Ping checks the store.
func (eng *Engine) Ping(ctx context.Context) error { return eng.store.Ping(ctx) }

// Config returns the active configuration.
func (eng *Engine) Config() bridge.Config { return eng.config }

// Store returns the backing store.
func (eng *Engine) Store() store.Store { return eng.store }

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Coordinator returns the claim-and-submit coordinator.
func (eng *Engine) Coordinator() *coordinator.Coordinator { return eng.coordinator }

// Reconciler returns the reconcile service.
func (eng *Engine) Reconciler() *reconcile.Service { return eng.reconciler }

// Logger returns the engine's logger.
func (eng *Engine) Logger() *slog.Logger { return eng.logger }

