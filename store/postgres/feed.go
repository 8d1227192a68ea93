package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xraph/bridge"
	"github.com/xraph/bridge/feed"
)

// ──────────────────────────────────────────────────
// Checkpoints
// ──────────────────────────────────────────────────

// LoadCheckpoint returns the saved cursor for consumer, or "" if none.
func (s *Store) LoadCheckpoint(ctx context.Context, consumer string) (feed.Cursor, error) {
	var cursor string
	err := s.pool.QueryRow(ctx,
		`SELECT cursor FROM bridge_checkpoints WHERE consumer = $1`, consumer,
	).Scan(&cursor)
	if err != nil {
		if isNoRows(err) {
			return "", nil
		}
		return "", transport("load checkpoint", err)
	}
	return feed.Cursor(cursor), nil
}

// SaveCheckpoint upserts the cursor for consumer.
func (s *Store) SaveCheckpoint(ctx context.Context, consumer string, cursor feed.Cursor) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO bridge_checkpoints (consumer, cursor, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (consumer) DO UPDATE SET cursor = EXCLUDED.cursor, updated_at = NOW()`,
		consumer, string(cursor),
	)
	if err != nil {
		return transport("save checkpoint", err)
	}
	return nil
}

// ──────────────────────────────────────────────────
// Feed
// ──────────────────────────────────────────────────

// OpenFeed returns a source reading bridge_feed rows with seq > from.
func (s *Store) OpenFeed(_ context.Context, from feed.Cursor) (feed.Source, error) {
	seq, err := parseCursor(from)
	if err != nil {
		return nil, err
	}
	return &source{store: s, after: seq}, nil
}

// source polls the outbox and sleeps on LISTEN between empty polls.
// Next and Close must not be called concurrently.
type source struct {
	store  *Store
	after  int64
	buf    []feed.Event
	listen *pgxpool.Conn
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

		if err := src.ensureListening(ctx); err != nil {
			return feed.Event{}, err
		}
		if err := src.fill(ctx); err != nil {
			return feed.Event{}, err
		}
		if len(src.buf) > 0 {
			continue
		}
		if err := src.wait(ctx); err != nil {
			return feed.Event{}, err
		}
	}
}

// ensureListening subscribes before polling so a row committed between
// the poll and the wait still wakes the reader.
func (src *source) ensureListening(ctx context.Context) error {
	if src.listen != nil {
		return nil
	}
	conn, err := src.store.pool.Acquire(ctx)
	if err != nil {
		return transport("acquire listen connection", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		conn.Release()
		return transport("listen", err)
	}
	src.listen = conn
	return nil
}

type feedRow struct {
	seq      int64
	snapshot []byte
}

func (src *source) fill(ctx context.Context) error {
	rows, err := src.store.pool.Query(ctx, `
		SELECT seq, snapshot FROM bridge_feed
		WHERE seq > $1
		ORDER BY seq ASC
		LIMIT $2`,
		src.after, src.store.batchSize,
	)
	if err != nil {
		return transport("read feed", err)
	}
	defer rows.Close()

	var batch []feedRow
	for rows.Next() {
		var row feedRow
		if err := rows.Scan(&row.seq, &row.snapshot); err != nil {
			return transport("scan feed", err)
		}
		batch = append(batch, row)
	}
	if err := rows.Err(); err != nil {
		return transport("read feed", err)
	}

	for _, row := range batch {
		src.after = row.seq
		var m requestModel
		if err := json.Unmarshal(row.snapshot, &m); err != nil {
			// A bad row would otherwise stop the feed on every reopen.
			src.store.logger.Warn("skipping undecodable feed row",
				slog.Int64("seq", row.seq),
				slog.String("error", err.Error()),
			)
			continue
		}
		src.buf = append(src.buf, feed.Event{Cursor: formatCursor(row.seq), Request: fromRequestModel(&m)})
	}
	return nil
}

func (src *source) wait(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, src.store.pollInterval)
	defer cancel()

	_, err := src.listen.Conn().WaitForNotification(waitCtx)
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		src.dropListener()
		return ctx.Err()
	case errors.Is(err, context.DeadlineExceeded):
		return nil
	default:
		// The listening connection is unusable after a failed wait.
		src.dropListener()
		return transport("wait for notification", err)
	}
}

func (src *source) dropListener() {
	if src.listen == nil {
		return
	}
	conn := src.listen.Hijack()
	src.listen = nil
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = conn.Close(ctx)
}

func (src *source) Close() error {
	if src.closed {
		return nil
	}
	src.closed = true
	// A connection interrupted mid-wait cannot go back to the pool.
	src.dropListener()
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
