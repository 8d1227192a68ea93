package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/bridge"
	"github.com/xraph/bridge/id"
	"github.com/xraph/bridge/reconcile"
)

// PushReconcile stores the entry and indexes it by creation time.
func (s *Store) PushReconcile(ctx context.Context, e *reconcile.Entry) error {
	eID := e.ID.String()
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, reconcileKey(eID), reconcileToMap(e))
	pipe.ZAdd(ctx, reconcileIndexKey, goredis.Z{Score: float64(e.CreatedAt.UnixMilli()), Member: eID})
	if _, err := pipe.Exec(ctx); err != nil {
		return transport("push reconcile", err)
	}
	return nil
}

// ListReconcile returns entries oldest first.
func (s *Store) ListReconcile(ctx context.Context, opts reconcile.ListOpts) ([]*reconcile.Entry, error) {
	all, err := s.scanReconcile(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*reconcile.Entry, 0, len(all))
	for _, e := range all {
		if opts.OpenOnly && !e.Open() {
			continue
		}
		if !opts.RequestID.IsNil() && e.RequestID.String() != opts.RequestID.String() {
			continue
		}
		out = append(out, e)
	}
	return page(out, opts.Offset, opts.Limit), nil
}

// GetReconcile retrieves one entry.
func (s *Store) GetReconcile(ctx context.Context, entryID id.ReconcileID) (*reconcile.Entry, error) {
	return s.getReconcileByKey(ctx, reconcileKey(entryID.String()))
}

// ResolveReconcile marks an entry resolved.
func (s *Store) ResolveReconcile(ctx context.Context, entryID id.ReconcileID, resolution string) error {
	key := reconcileKey(entryID.String())
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return transport("resolve reconcile exists", err)
	}
	if exists == 0 {
		return bridge.ErrReconcileNotFound
	}
	err = s.client.HSet(ctx, key,
		"resolution", resolution,
		"resolved_at", s.now().Format(time.RFC3339Nano),
	).Err()
	if err != nil {
		return transport("resolve reconcile", err)
	}
	return nil
}

// CountReconcile counts entries.
func (s *Store) CountReconcile(ctx context.Context, openOnly bool) (int64, error) {
	if !openOnly {
		n, err := s.client.ZCard(ctx, reconcileIndexKey).Result()
		if err != nil {
			return 0, transport("count reconcile", err)
		}
		return n, nil
	}
	all, err := s.scanReconcile(ctx)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, e := range all {
		if e.Open() {
			n++
		}
	}
	return n, nil
}

// ── helpers ──

func (s *Store) scanReconcile(ctx context.Context) ([]*reconcile.Entry, error) {
	ids, err := s.client.ZRange(ctx, reconcileIndexKey, 0, -1).Result()
	if err != nil {
		return nil, transport("list reconcile zrange", err)
	}
	out := make([]*reconcile.Entry, 0, len(ids))
	for _, eID := range ids {
		e, err := s.getReconcileByKey(ctx, reconcileKey(eID))
		if err != nil {
			if bridge.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *Store) getReconcileByKey(ctx context.Context, key string) (*reconcile.Entry, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, transport("get reconcile", err)
	}
	if len(vals) == 0 {
		return nil, bridge.ErrReconcileNotFound
	}
	return mapToReconcile(vals)
}

func reconcileToMap(e *reconcile.Entry) map[string]any {
	m := map[string]any{
		"id":         e.ID.String(),
		"request_id": e.RequestID.String(),
		"run_id":     e.RunID,
		"year":       e.Year,
		"type":       e.Type,
		"attempts":   strconv.Itoa(e.Attempts),
		"reason":     e.Reason,
		"resolution": e.Resolution,
		"created_at": e.CreatedAt.Format(time.RFC3339Nano),
	}
	if e.ResolvedAt != nil {
		m["resolved_at"] = e.ResolvedAt.Format(time.RFC3339Nano)
	}
	return m
}

func mapToReconcile(m map[string]string) (*reconcile.Entry, error) {
	eID, err := id.ParseReconcileID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("bridge/redis: parse reconcile id: %w", err)
	}

	attempts, _ := strconv.Atoi(m["attempts"])                    //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	e := &reconcile.Entry{
		ID:         eID,
		RequestID:  id.FromString(m["request_id"]),
		RunID:      m["run_id"],
		Year:       m["year"],
		Type:       m["type"],
		Attempts:   attempts,
		Reason:     m["reason"],
		Resolution: m["resolution"],
		CreatedAt:  createdAt,
	}
	if v := m["resolved_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		e.ResolvedAt = &t
	}
	return e, nil
}
