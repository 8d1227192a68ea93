package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/xraph/bridge"
	"github.com/xraph/bridge/store"
)

// Collection name constants.
const (
	colRequests    = "bridge_requests"
	colCheckpoints = "bridge_checkpoints"
	colReconcile   = "bridge_reconcile"
)

// Ensure Store implements the aggregate interface at compile time.
var _ store.Store = (*Store)(nil)

// Store is a MongoDB implementation of store.Store.
// The caller owns the client lifecycle; Store never disconnects it.
type Store struct {
	db        *mongod.Database
	logger    *slog.Logger
	batchSize int32
	now       func() time.Time
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithFeedBatchSize sets the change stream batch size.
func WithFeedBatchSize(n int) Option {
	return func(s *Store) { s.batchSize = int32(n) } //nolint:gosec // small positive config value
}

// WithClock overrides the store's time source. Times are truncated to
// milliseconds, the precision BSON dates keep.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = func() time.Time { return now().UTC().Truncate(time.Millisecond) }
	}
}

// New creates a new MongoDB store.
func New(db *mongod.Database, opts ...Option) *Store {
	s := &Store{
		db:        db,
		logger:    slog.Default(),
		batchSize: 100,
		now:       func() time.Time { return time.Now().UTC().Truncate(time.Millisecond) },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying database handle.
func (s *Store) DB() *mongod.Database {
	return s.db
}

// Migrate creates indexes for all bridge collections.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if _, err := s.db.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("%w: bridge/mongo: %s indexes: %w", bridge.ErrMigrationFailed, col, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.Client().Ping(ctx, nil); err != nil {
		return transport("ping", err)
	}
	return nil
}

// Close is a no-op because the caller owns the client lifecycle.
func (s *Store) Close() error {
	return nil
}

// ── helpers ──────────────────────────────────────────────────────

// isNoDocuments returns true when err indicates no MongoDB documents found.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongod.ErrNoDocuments)
}

// transport marks err as a store I/O failure.
func transport(op string, err error) error {
	return fmt.Errorf("bridge/mongo: %s: %w: %w", op, bridge.ErrStoreTransport, err)
}

// migrationIndexes returns the index definitions for all bridge collections.
func migrationIndexes() map[string][]mongod.IndexModel {
	return map[string][]mongod.IndexModel{
		colRequests: {
			// Watchdog sweeps: status + updated_at.
			{Keys: bson.D{
				{Key: "status", Value: 1},
				{Key: "updated_at", Value: 1},
			}},
		},
		colReconcile: {
			{Keys: bson.D{
				{Key: "resolved_at", Value: 1},
				{Key: "created_at", Value: 1},
			}},
			{Keys: bson.D{{Key: "request_id", Value: 1}}},
		},
	}
}
