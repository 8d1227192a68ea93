// Package store defines the aggregate persistence interface. Each concern
// (request, reconcile, feed) defines its own store interface and a single
// backend implements all of them. Backends: Memory, Postgres, Bun
// (Postgres or SQLite), Redis and MongoDB.
package store

import (
	"context"

	"github.com/xraph/bridge/feed"
	"github.com/xraph/bridge/reconcile"
	"github.com/xraph/bridge/request"
)

// Store is the aggregate persistence interface.
type Store interface {
	request.Store
	reconcile.Store
	feed.Opener
	feed.CheckpointStore

	// Migrate creates or upgrades the schema.
	Migrate(ctx context.Context) error

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// Close releases the connection.
	Close() error
}
