// Package feed defines the change feed of newly created requests and the
// checkpoint cursor that makes it restartable.
//
// Delivery is at least once: after a restart the feed resumes from the
// last saved cursor and may replay events that were handled but not yet
// checkpointed. Handlers must be idempotent, which the coordinator's
// conditional claim guarantees.
package feed

import (
	"context"

	"github.com/xraph/bridge/request"
)

// Cursor is an opaque, backend-defined position in the feed. The empty
// cursor means the beginning.
type Cursor string

// Event is one created record, snapshotted when it was written.
type Event struct {
	Cursor  Cursor
	Request *request.Request
}

// Source yields events in feed order.
type Source interface {
	// Next blocks until the next event is available or ctx is done.
	// It returns bridge.ErrFeedClosed after Close.
	Next(ctx context.Context) (Event, error)

	// Close releases the subscription.
	Close() error
}

// Opener opens a Source positioned just after from.
type Opener interface {
	OpenFeed(ctx context.Context, from Cursor) (Source, error)
}

// CheckpointStore persists the last fully handled cursor per consumer.
type CheckpointStore interface {
	// LoadCheckpoint returns the saved cursor, or "" if none exists.
	LoadCheckpoint(ctx context.Context, consumer string) (Cursor, error)

	// SaveCheckpoint records cursor for consumer.
	SaveCheckpoint(ctx context.Context, consumer string, cursor Cursor) error
}
