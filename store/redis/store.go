package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/bridge"
	"github.com/xraph/bridge/store"
)

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithBlockTimeout sets how long one XREAD call blocks before the feed
// reader re-checks its context. Defaults to 5s.
func WithBlockTimeout(d time.Duration) Option {
	return func(s *Store) { s.block = d }
}

// WithFeedBatchSize sets how many stream entries one XREAD returns.
func WithFeedBatchSize(n int) Option {
	return func(s *Store) { s.batchSize = int64(n) }
}

// WithClock overrides the store's time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store implements the composite store.Store interface backed by Redis.
type Store struct {
	client    goredis.Cmdable
	logger    *slog.Logger
	block     time.Duration
	batchSize int64
	now       func() time.Time
}

// New creates a new Redis-backed store. The caller owns the Redis client
// lifecycle.
func New(client goredis.Cmdable, opts ...Option) *Store {
	s := &Store{
		client:    client,
		logger:    slog.Default(),
		block:     5 * time.Second,
		batchSize: 100,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() goredis.Cmdable { return s.client }

// Migrate is a no-op for Redis (schemaless).
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return transport("ping", err)
	}
	return nil
}

// Close is a no-op because the caller owns the Redis client lifecycle.
func (s *Store) Close() error { return nil }

// transport marks err as a store I/O failure.
func transport(op string, err error) error {
	return fmt.Errorf("bridge/redis: %s: %w: %w", op, bridge.ErrStoreTransport, err)
}
