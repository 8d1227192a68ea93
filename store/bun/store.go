package bunstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/uptrace/bun"

	"github.com/xraph/bridge"
	"github.com/xraph/bridge/store"
)

// Ensure Store implements the aggregate interface at compile time.
var _ store.Store = (*Store)(nil)

// Store is a Bun ORM implementation of store.Store.
// The caller owns the *bun.DB lifecycle; Store never closes it.
type Store struct {
	db           *bun.DB
	logger       *slog.Logger
	pollInterval time.Duration
	batchSize    int
	now          func() time.Time
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithPollInterval sets how often an idle feed reader polls the outbox.
// Defaults to 1s.
func WithPollInterval(d time.Duration) Option {
	return func(s *Store) { s.pollInterval = d }
}

// WithFeedBatchSize sets how many outbox rows a feed reader fetches at once.
func WithFeedBatchSize(n int) Option {
	return func(s *Store) { s.batchSize = n }
}

// WithClock overrides the store's time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a new Bun store. The caller owns the db lifecycle; the Store
// will not close it on Close().
func New(db *bun.DB, opts ...Option) *Store {
	s := &Store{
		db:           db,
		logger:       slog.Default(),
		pollInterval: time.Second,
		batchSize:    100,
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying *bun.DB for advanced usage.
func (s *Store) DB() *bun.DB {
	return s.db
}

// Migrate creates the tables and indexes from the models. It is
// idempotent and works on every dialect bun supports.
func (s *Store) Migrate(ctx context.Context) error {
	models := []any{
		(*requestModel)(nil),
		(*feedModel)(nil),
		(*checkpointModel)(nil),
		(*reconcileModel)(nil),
	}
	for _, model := range models {
		if _, err := s.db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("%w: bridge/bun: create table: %w", bridge.ErrMigrationFailed, err)
		}
	}

	indexes := []struct {
		model   any
		name    string
		columns []string
	}{
		{(*requestModel)(nil), "idx_bridge_requests_status_updated", []string{"status", "updated_at"}},
		{(*reconcileModel)(nil), "idx_bridge_reconcile_created", []string{"resolved_at", "created_at"}},
		{(*reconcileModel)(nil), "idx_bridge_reconcile_request", []string{"request_id"}},
	}
	for _, idx := range indexes {
		_, err := s.db.NewCreateIndex().
			Model(idx.model).
			Index(idx.name).
			Column(idx.columns...).
			IfNotExists().
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("%w: bridge/bun: create index %s: %w", bridge.ErrMigrationFailed, idx.name, err)
		}
	}

	s.logger.Debug("schema ready", slog.String("dialect", s.db.Dialect().Name().String()))
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return transport("ping", err)
	}
	return nil
}

// Close is a no-op because the caller owns the *bun.DB lifecycle.
func (s *Store) Close() error {
	return nil
}
