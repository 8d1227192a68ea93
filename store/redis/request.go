package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/bridge"
	"github.com/xraph/bridge/id"
	"github.com/xraph/bridge/request"
)

// createScript writes the record, indexes it and appends it to the feed
// unless the key already exists. It returns 0 for a duplicate.
var createScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1], unpack(ARGV, 3))
redis.call('SADD', KEYS[2], ARGV[1])
redis.call('XADD', KEYS[3], '*', 'request_id', ARGV[1], 'snapshot', ARGV[2])
return 1
`)

// updateScript overwrites the record only while its version equals
// ARGV[1]. It returns -1 for a missing record and 0 for a version mismatch.
var updateScript = goredis.NewScript(`
local v = redis.call('HGET', KEYS[1], 'version')
if not v then
	return -1
end
if v ~= ARGV[1] then
	return 0
end
redis.call('HSET', KEYS[1], unpack(ARGV, 2))
return 1
`)

// CreateRequest stores the record and appends its snapshot to the feed.
func (s *Store) CreateRequest(ctx context.Context, r *request.Request) error {
	if err := request.Prepare(r, s.now()); err != nil {
		return err
	}
	snapshot, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("bridge/redis: encode snapshot: %w", err)
	}

	rID := r.ID.String()
	args := append([]any{rID, string(snapshot)}, requestToArgs(r)...)
	created, err := createScript.Run(ctx, s.client,
		[]string{requestKey(rID), requestIDsKey, feedKey}, args...,
	).Int()
	if err != nil {
		return transport("create request", err)
	}
	if created == 0 {
		return bridge.ErrRequestExists
	}
	return nil
}

// GetRequest retrieves a record by ID.
func (s *Store) GetRequest(ctx context.Context, requestID id.RequestID) (*request.Request, error) {
	return s.getRequestByKey(ctx, requestKey(requestID.String()))
}

// ConditionalUpdate writes the patched record if the stored version still
// equals expectedVersion.
func (s *Store) ConditionalUpdate(ctx context.Context, requestID id.RequestID, expectedVersion int64, patch request.Patch) (*request.Request, error) {
	cur, err := s.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	next, err := request.Apply(cur, expectedVersion, patch, s.now())
	if err != nil {
		return nil, err
	}

	args := append([]any{strconv.FormatInt(expectedVersion, 10)}, requestToArgs(next)...)
	res, err := updateScript.Run(ctx, s.client, []string{requestKey(requestID.String())}, args...).Int()
	if err != nil {
		return nil, transport("conditional update", err)
	}
	switch res {
	case -1:
		return nil, bridge.ErrRequestNotFound
	case 0:
		return nil, fmt.Errorf("%w: request %s moved past version %d", bridge.ErrConflict, requestID, expectedVersion)
	}
	return next, nil
}

// ListRequests scans the ID set and filters in memory, oldest update first.
func (s *Store) ListRequests(ctx context.Context, opts request.ListOpts) ([]*request.Request, error) {
	all, err := s.scanRequests(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]*request.Request, 0, len(all))
	for _, r := range all {
		if opts.Status != "" && r.Status != opts.Status {
			continue
		}
		if !opts.UpdatedBefore.IsZero() && !r.UpdatedAt.Before(opts.UpdatedBefore) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.Before(out[j].UpdatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return page(out, opts.Offset, opts.Limit), nil
}

// CountRequests counts records with status, or all records.
func (s *Store) CountRequests(ctx context.Context, status request.Status) (int64, error) {
	if status == "" {
		n, err := s.client.SCard(ctx, requestIDsKey).Result()
		if err != nil {
			return 0, transport("count requests", err)
		}
		return n, nil
	}
	all, err := s.scanRequests(ctx)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, r := range all {
		if r.Status == status {
			n++
		}
	}
	return n, nil
}

// ── helpers ──

func (s *Store) scanRequests(ctx context.Context) ([]*request.Request, error) {
	ids, err := s.client.SMembers(ctx, requestIDsKey).Result()
	if err != nil {
		return nil, transport("list requests smembers", err)
	}
	out := make([]*request.Request, 0, len(ids))
	for _, rID := range ids {
		r, err := s.getRequestByKey(ctx, requestKey(rID))
		if err != nil {
			if bridge.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *Store) getRequestByKey(ctx context.Context, key string) (*request.Request, error) {
	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, transport("get request", err)
	}
	if len(vals) == 0 {
		return nil, bridge.ErrRequestNotFound
	}
	return mapToRequest(vals), nil
}

// requestToArgs flattens r into HSET field/value pairs. Every field is
// written so a cleared value overwrites the old one.
func requestToArgs(r *request.Request) []any {
	claimedAt := ""
	if r.ClaimedAt != nil {
		claimedAt = r.ClaimedAt.Format(time.RFC3339Nano)
	}
	return []any{
		"id", r.ID.String(),
		"year", r.Year,
		"type", r.Type,
		"status", string(r.Status),
		"run_id", r.RunID,
		"last_error", r.LastError,
		"attempts", strconv.Itoa(r.Attempts),
		"claimed_by", r.ClaimedBy.String(),
		"claimed_at", claimedAt,
		"version", strconv.FormatInt(r.Version, 10),
		"created_at", r.CreatedAt.Format(time.RFC3339Nano),
		"updated_at", r.UpdatedAt.Format(time.RFC3339Nano),
	}
}

func mapToRequest(m map[string]string) *request.Request {
	attempts, _ := strconv.Atoi(m["attempts"])                    //nolint:errcheck // best-effort parse from trusted Redis data
	version, _ := strconv.ParseInt(m["version"], 10, 64)          //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	updatedAt, _ := time.Parse(time.RFC3339Nano, m["updated_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	r := &request.Request{
		ID:        id.FromString(m["id"]),
		Year:      m["year"],
		Type:      m["type"],
		Status:    request.Status(m["status"]),
		RunID:     m["run_id"],
		LastError: m["last_error"],
		Attempts:  attempts,
		Version:   version,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
		ClaimedBy: id.FromString(m["claimed_by"]),
	}
	if v := m["claimed_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		r.ClaimedAt = &t
	}
	return r
}

func page[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
