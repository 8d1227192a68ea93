package bunstore

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/xraph/bridge"
	"github.com/xraph/bridge/feed"
)

// ── Checkpoints ───────────────────────────────────────────────────

// LoadCheckpoint returns the saved cursor for consumer, or "" if none.
func (s *Store) LoadCheckpoint(ctx context.Context, consumer string) (feed.Cursor, error) {
	m := new(checkpointModel)
	err := s.db.NewSelect().Model(m).Where("consumer = ?", consumer).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return "", nil
		}
		return "", transport("load checkpoint", err)
	}
	return feed.Cursor(m.Cursor), nil
}

// SaveCheckpoint upserts the cursor for consumer.
func (s *Store) SaveCheckpoint(ctx context.Context, consumer string, cursor feed.Cursor) error {
	m := &checkpointModel{Consumer: consumer, Cursor: string(cursor), UpdatedAt: s.now()}
	_, err := s.db.NewInsert().
		Model(m).
		On("CONFLICT (consumer) DO UPDATE").
		Set("cursor = EXCLUDED.cursor").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return transport("save checkpoint", err)
	}
	return nil
}

// ── Feed ──────────────────────────────────────────────────────────

// OpenFeed returns a source polling bridge_feed rows with seq > from.
func (s *Store) OpenFeed(_ context.Context, from feed.Cursor) (feed.Source, error) {
	seq, err := parseCursor(from)
	if err != nil {
		return nil, err
	}
	return &source{store: s, after: seq}, nil
}

// source polls the outbox table. Next and Close must not be called
// concurrently.
type source struct {
	store  *Store
	after  int64
	buf    []feed.Event
	closed bool
}

func (src *source) Next(ctx context.Context) (feed.Event, error) {
	for {
		if src.closed {
			return feed.Event{}, bridge.ErrFeedClosed
		}
		if len(src.buf) > 0 {
			ev := src.buf[0]
			src.buf = src.buf[1:]
			return ev, nil
		}
		if err := src.fill(ctx); err != nil {
			return feed.Event{}, err
		}
		if len(src.buf) > 0 {
			continue
		}

		timer := time.NewTimer(src.store.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return feed.Event{}, ctx.Err()
		case <-timer.C:
		}
	}
}

func (src *source) fill(ctx context.Context) error {
	var rows []feedModel
	err := src.store.db.NewSelect().
		Model(&rows).
		Where("seq > ?", src.after).
		Order("seq ASC").
		Limit(src.store.batchSize).
		Scan(ctx)
	if err != nil {
		return transport("read feed", err)
	}
	for i := range rows {
		src.after = rows[i].Seq
		r, err := rows[i].request()
		if err != nil {
			// A bad row would otherwise stop the feed on every reopen.
			src.store.logger.Warn("skipping undecodable feed row",
				slog.Int64("seq", rows[i].Seq),
				slog.String("request_id", rows[i].RequestID),
				slog.String("error", err.Error()),
			)
			continue
		}
		src.buf = append(src.buf, feed.Event{Cursor: formatCursor(rows[i].Seq), Request: r})
	}
	return nil
}

func (src *source) Close() error {
	src.closed = true
	return nil
}

func formatCursor(seq int64) feed.Cursor {
	return feed.Cursor(strconv.FormatInt(seq, 10))
}

func parseCursor(c feed.Cursor) (int64, error) {
	if c == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(string(c), 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %q", bridge.ErrInvalidCursor, c)
	}
	return n, nil
}
