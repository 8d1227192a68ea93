package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/bridge"
	"github.com/xraph/bridge/feed"
)

// ── Checkpoints ───────────────────────────────────────────────────

// LoadCheckpoint returns the saved cursor for consumer, or "" if none.
func (s *Store) LoadCheckpoint(ctx context.Context, consumer string) (feed.Cursor, error) {
	var m checkpointModel
	err := s.db.Collection(colCheckpoints).FindOne(ctx, bson.M{"_id": consumer}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return "", nil
		}
		return "", transport("load checkpoint", err)
	}
	return feed.Cursor(m.Cursor), nil
}

// SaveCheckpoint upserts the cursor for consumer.
func (s *Store) SaveCheckpoint(ctx context.Context, consumer string, cursor feed.Cursor) error {
	m := &checkpointModel{Consumer: consumer, Cursor: string(cursor), UpdatedAt: s.now()}
	_, err := s.db.Collection(colCheckpoints).ReplaceOne(ctx,
		bson.M{"_id": consumer}, m, options.Replace().SetUpsert(true))
	if err != nil {
		return transport("save checkpoint", err)
	}
	return nil
}

// ── Feed ──────────────────────────────────────────────────────────

// insertEvent is the part of a change event the feed reads.
type insertEvent struct {
	ID           bson.Raw     `bson:"_id"`
	FullDocument requestModel `bson:"fullDocument"`
}

// OpenFeed watches inserts into the requests collection. A non-empty from
// is a resume token's _data value.
func (s *Store) OpenFeed(ctx context.Context, from feed.Cursor) (feed.Source, error) {
	pipeline := mongod.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "operationType", Value: "insert"}}}},
	}
	csOpts := options.ChangeStream().SetBatchSize(s.batchSize)
	if from != "" {
		csOpts.SetResumeAfter(bson.D{{Key: "_data", Value: string(from)}})
	}

	stream, err := s.db.Collection(colRequests).Watch(ctx, pipeline, csOpts)
	if err != nil {
		var cmdErr mongod.CommandError
		if from != "" && errors.As(err, &cmdErr) && !cmdErr.HasErrorLabel("RetryableError") {
			return nil, fmt.Errorf("%w: %q: %w", bridge.ErrInvalidCursor, from, err)
		}
		return nil, transport("watch requests", err)
	}
	return &source{stream: stream}, nil
}

// source reads one change stream. Next and Close must not be called
// concurrently.
type source struct {
	stream *mongod.ChangeStream
	closed bool
}

func (src *source) Next(ctx context.Context) (feed.Event, error) {
	if src.closed {
		return feed.Event{}, bridge.ErrFeedClosed
	}
	if !src.stream.Next(ctx) {
		if err := ctx.Err(); err != nil {
			return feed.Event{}, err
		}
		if err := src.stream.Err(); err != nil {
			return feed.Event{}, transport("read change stream", err)
		}
		return feed.Event{}, bridge.ErrFeedClosed
	}

	var ev insertEvent
	if err := src.stream.Decode(&ev); err != nil {
		return feed.Event{}, fmt.Errorf("bridge/mongo: decode change event: %w", err)
	}
	token, ok := ev.ID.Lookup("_data").StringValueOK()
	if !ok {
		return feed.Event{}, fmt.Errorf("bridge/mongo: change event without resume token")
	}
	return feed.Event{Cursor: feed.Cursor(token), Request: fromRequestModel(&ev.FullDocument)}, nil
}

func (src *source) Close() error {
	if src.closed {
		return nil
	}
	src.closed = true
	return src.stream.Close(context.Background())
}
