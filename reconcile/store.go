package reconcile

import (
	"context"

	"github.com/xraph/bridge/id"
)

// ListOpts controls pagination and filtering for reconcile list queries.
type ListOpts struct {
	// Limit is the maximum number of entries to return. Zero means no limit.
	Limit int
	// Offset is the number of entries to skip.
	Offset int
	// OpenOnly excludes resolved entries.
	OpenOnly bool
	// RequestID restricts the list to one request. Nil matches all.
	RequestID id.RequestID
}

// Store is the persistence contract for reconcile entries.
type Store interface {
	// PushReconcile persists a new entry.
	PushReconcile(ctx context.Context, entry *Entry) error

	// ListReconcile returns entries matching opts, oldest first.
	ListReconcile(ctx context.Context, opts ListOpts) ([]*Entry, error)

	// GetReconcile returns an entry or bridge.ErrReconcileNotFound.
	GetReconcile(ctx context.Context, entryID id.ReconcileID) (*Entry, error)

	// ResolveReconcile marks an entry resolved with a note.
	ResolveReconcile(ctx context.Context, entryID id.ReconcileID, resolution string) error

	// CountReconcile counts entries; openOnly excludes resolved ones.
	CountReconcile(ctx context.Context, openOnly bool) (int64, error)
}
