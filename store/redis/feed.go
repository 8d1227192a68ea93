package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/bridge"
	"github.com/xraph/bridge/feed"
	"github.com/xraph/bridge/request"
)

// LoadCheckpoint returns the saved cursor for consumer, or "" if none.
func (s *Store) LoadCheckpoint(ctx context.Context, consumer string) (feed.Cursor, error) {
	v, err := s.client.Get(ctx, checkpointKey(consumer)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return "", nil
		}
		return "", transport("load checkpoint", err)
	}
	return feed.Cursor(v), nil
}

// SaveCheckpoint stores the cursor for consumer.
func (s *Store) SaveCheckpoint(ctx context.Context, consumer string, cursor feed.Cursor) error {
	if err := s.client.Set(ctx, checkpointKey(consumer), string(cursor), 0).Err(); err != nil {
		return transport("save checkpoint", err)
	}
	return nil
}

// OpenFeed returns a source reading stream entries after from. Cursors
// are stream entry IDs.
func (s *Store) OpenFeed(_ context.Context, from feed.Cursor) (feed.Source, error) {
	after, err := parseCursor(from)
	if err != nil {
		return nil, err
	}
	return &source{store: s, after: after}, nil
}

// source blocks on XREAD. Next and Close must not be called concurrently.
type source struct {
	store  *Store
	after  string
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
		if err := ctx.Err(); err != nil {
			return feed.Event{}, err
		}
		if err := src.read(ctx); err != nil {
			return feed.Event{}, err
		}
	}
}

func decodeEntry(msg goredis.XMessage) (*request.Request, error) {
	raw, ok := msg.Values["snapshot"].(string)
	if !ok {
		return nil, fmt.Errorf("bridge/redis: feed entry %s has no snapshot", msg.ID)
	}
	var r request.Request
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil, fmt.Errorf("bridge/redis: decode feed entry %s: %w", msg.ID, err)
	}
	return &r, nil
}

func (src *source) read(ctx context.Context) error {
	streams, err := src.store.client.XRead(ctx, &goredis.XReadArgs{
		Streams: []string{feedKey, src.after},
		Count:   src.store.batchSize,
		Block:   src.store.block,
	}).Result()
	switch {
	case errors.Is(err, goredis.Nil):
		return nil
	case err != nil:
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return transport("read feed", err)
	}

	for _, stream := range streams {
		for _, msg := range stream.Messages {
			src.after = msg.ID
			r, err := decodeEntry(msg)
			if err != nil {
				// A bad entry would otherwise stop the feed on every reopen.
				src.store.logger.Warn("skipping undecodable feed entry",
					slog.String("entry_id", msg.ID),
					slog.String("error", err.Error()),
				)
				continue
			}
			src.buf = append(src.buf, feed.Event{Cursor: feed.Cursor(msg.ID), Request: r})
		}
	}
	return nil
}

func (src *source) Close() error {
	src.closed = true
	return nil
}

// parseCursor validates a stream entry ID of the form "ms-seq".
func parseCursor(c feed.Cursor) (string, error) {
	if c == "" {
		return "0-0", nil
	}
	ms, seq, ok := strings.Cut(string(c), "-")
	if !ok {
		return "", fmt.Errorf("%w: %q", bridge.ErrInvalidCursor, c)
	}
	if _, err := strconv.ParseUint(ms, 10, 64); err != nil {
		return "", fmt.Errorf("%w: %q", bridge.ErrInvalidCursor, c)
	}
	if _, err := strconv.ParseUint(seq, 10, 64); err != nil {
		return "", fmt.Errorf("%w: %q", bridge.ErrInvalidCursor, c)
	}
	return string(c), nil
}
