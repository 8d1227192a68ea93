// Package memory is an in-process implementation of store.Store. The change
// feed is an append-only log of created records; cursors are log offsets.
// Safe for concurrent use. Intended for tests and local development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/xraph/bridge"
	"github.com/xraph/bridge/feed"
	"github.com/xraph/bridge/id"
	"github.com/xraph/bridge/reconcile"
	"github.com/xraph/bridge/request"
)

var (
	_ request.Store        = (*Store)(nil)
	_ reconcile.Store      = (*Store)(nil)
	_ feed.Opener          = (*Store)(nil)
	_ feed.CheckpointStore = (*Store)(nil)
)

// Store holds everything in maps guarded by one lock.
type Store struct {
	mu sync.RWMutex

	requests    map[string]*request.Request
	reconciles  map[string]*reconcile.Entry
	checkpoints map[string]feed.Cursor

	// log holds creation snapshots in feed order. appended is closed and
	// replaced on every append to wake blocked sources.
	log      []*request.Request
	appended chan struct{}

	now func() time.Time
}

// Option configures a memory Store.
type Option func(*Store)

// WithClock overrides the store's time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		requests:    make(map[string]*request.Request),
		reconciles:  make(map[string]*reconcile.Entry),
		checkpoints: make(map[string]feed.Cursor),
		appended:    make(chan struct{}),
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Migrate is a no-op.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds.
func (s *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Request store
// ──────────────────────────────────────────────────

// CreateRequest stores r and appends it to the feed.
func (s *Store) CreateRequest(_ context.Context, r *request.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := request.Prepare(r, s.now()); err != nil {
		return err
	}
	key := r.ID.String()
	if _, exists := s.requests[key]; exists {
		return bridge.ErrRequestExists
	}
	s.requests[key] = r.Clone()

	s.log = append(s.log, r.Clone())
	close(s.appended)
	s.appended = make(chan struct{})
	return nil
}

// GetRequest returns a copy of the stored record.
func (s *Store) GetRequest(_ context.Context, requestID id.RequestID) (*request.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.requests[requestID.String()]
	if !ok {
		return nil, bridge.ErrRequestNotFound
	}
	return r.Clone(), nil
}

// ConditionalUpdate applies patch under the store lock.
func (s *Store) ConditionalUpdate(_ context.Context, requestID id.RequestID, expectedVersion int64, patch request.Patch) (*request.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := requestID.String()
	cur, ok := s.requests[key]
	if !ok {
		return nil, bridge.ErrRequestNotFound
	}
	next, err := request.Apply(cur, expectedVersion, patch, s.now())
	if err != nil {
		return nil, err
	}
	s.requests[key] = next
	return next.Clone(), nil
}

// ListRequests returns matching records ordered by UpdatedAt.
func (s *Store) ListRequests(_ context.Context, opts request.ListOpts) ([]*request.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*request.Request, 0, len(s.requests))
	for _, r := range s.requests {
		if opts.Status != "" && r.Status != opts.Status {
			continue
		}
		if !opts.UpdatedBefore.IsZero() && !r.UpdatedAt.Before(opts.UpdatedBefore) {
			continue
		}
		result = append(result, r.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].UpdatedAt.Equal(result[j].UpdatedAt) {
			return result[i].UpdatedAt.Before(result[j].UpdatedAt)
		}
		return result[i].ID.String() < result[j].ID.String()
	})
	return page(result, opts.Offset, opts.Limit), nil
}

// CountRequests counts records with status, or all records.
func (s *Store) CountRequests(_ context.Context, status request.Status) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if status == "" {
		return int64(len(s.requests)), nil
	}
	var n int64
	for _, r := range s.requests {
		if r.Status == status {
			n++
		}
	}
	return n, nil
}

// ──────────────────────────────────────────────────
// Reconcile store
// ──────────────────────────────────────────────────

// PushReconcile stores a new entry.
func (s *Store) PushReconcile(_ context.Context, entry *reconcile.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *entry
	s.reconciles[entry.ID.String()] = &cp
	return nil
}

// ListReconcile returns entries oldest first.
func (s *Store) ListReconcile(_ context.Context, opts reconcile.ListOpts) ([]*reconcile.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*reconcile.Entry, 0, len(s.reconciles))
	for _, e := range s.reconciles {
		if opts.OpenOnly && !e.Open() {
			continue
		}
		if !opts.RequestID.IsNil() && e.RequestID.String() != opts.RequestID.String() {
			continue
		}
		cp := *e
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return page(result, opts.Offset, opts.Limit), nil
}

// GetReconcile returns one entry.
func (s *Store) GetReconcile(_ context.Context, entryID id.ReconcileID) (*reconcile.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.reconciles[entryID.String()]
	if !ok {
		return nil, bridge.ErrReconcileNotFound
	}
	cp := *e
	return &cp, nil
}

// ResolveReconcile marks an entry resolved.
func (s *Store) ResolveReconcile(_ context.Context, entryID id.ReconcileID, resolution string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.reconciles[entryID.String()]
	if !ok {
		return bridge.ErrReconcileNotFound
	}
	now := s.now()
	e.ResolvedAt = &now
	e.Resolution = resolution
	return nil
}

// CountReconcile counts entries.
func (s *Store) CountReconcile(_ context.Context, openOnly bool) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, e := range s.reconciles {
		if !openOnly || e.Open() {
			n++
		}
	}
	return n, nil
}

// ──────────────────────────────────────────────────
// Feed
// ──────────────────────────────────────────────────

// LoadCheckpoint returns the saved cursor for consumer.
func (s *Store) LoadCheckpoint(_ context.Context, consumer string) (feed.Cursor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.checkpoints[consumer], nil
}

// SaveCheckpoint records cursor for consumer.
func (s *Store) SaveCheckpoint(_ context.Context, consumer string, cursor feed.Cursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints[consumer] = cursor
	return nil
}

// OpenFeed returns a source positioned after from.
func (s *Store) OpenFeed(_ context.Context, from feed.Cursor) (feed.Source, error) {
	offset, err := parseCursor(from)
	if err != nil {
		return nil, err
	}
	return &source{store: s, next: offset, closed: make(chan struct{})}, nil
}

// source reads the log. Next must not be called concurrently.
type source struct {
	store     *Store
	next      int
	closed    chan struct{}
	closeOnce sync.Once
}

func (src *source) Next(ctx context.Context) (feed.Event, error) {
	for {
		select {
		case <-src.closed:
			return feed.Event{}, bridge.ErrFeedClosed
		default:
		}

		src.store.mu.RLock()
		if src.next < len(src.store.log) {
			snap := src.store.log[src.next].Clone()
			src.store.mu.RUnlock()
			src.next++
			return feed.Event{Cursor: formatCursor(src.next), Request: snap}, nil
		}
		wait := src.store.appended
		src.store.mu.RUnlock()

		select {
		case <-ctx.Done():
			return feed.Event{}, ctx.Err()
		case <-src.closed:
			return feed.Event{}, bridge.ErrFeedClosed
		case <-wait:
		}
	}
}

func (src *source) Close() error {
	src.closeOnce.Do(func() { close(src.closed) })
	return nil
}

func formatCursor(offset int) feed.Cursor {
	return feed.Cursor(strconv.Itoa(offset))
}

func parseCursor(c feed.Cursor) (int, error) {
	if c == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(string(c))
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %q", bridge.ErrInvalidCursor, c)
	}
	return n, nil
}

func page[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return items[:0]
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
