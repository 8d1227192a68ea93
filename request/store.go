package request

import (
	"context"
	"time"

	"github.com/xraph/bridge/id"
)

// ListOpts filters request list queries.
type ListOpts struct {
	// Status filters by status. Empty means all statuses.
	Status Status
	// UpdatedBefore keeps records last written strictly before this time.
	// Zero means no bound.
	UpdatedBefore time.Time
	// Limit is the maximum number of records to return. Zero means no limit.
	Limit int
	// Offset is the number of records to skip.
	Offset int
}

// Store is the persistence contract for request records.
type Store interface {
	// CreateRequest persists a new record after [Prepare]. It returns
	// bridge.ErrRequestExists if the ID is taken. Backends with a change
	// feed emit the created record on it.
	CreateRequest(ctx context.Context, r *Request) error

	// GetRequest returns the current record or bridge.ErrRequestNotFound.
	GetRequest(ctx context.Context, requestID id.RequestID) (*Request, error)

	// ConditionalUpdate applies patch only if the stored version equals
	// expectedVersion, and returns the written record. It fails with
	// bridge.ErrConflict on a version mismatch, bridge.ErrRequestNotFound
	// if the record is gone, the patch's own error if it rejects the
	// change, and an error wrapping bridge.ErrStoreTransport on I/O failure.
	ConditionalUpdate(ctx context.Context, requestID id.RequestID, expectedVersion int64, patch Patch) (*Request, error)

	// ListRequests returns records matching opts, oldest update first.
	ListRequests(ctx context.Context, opts ListOpts) ([]*Request, error)

	// CountRequests counts records with the given status. Empty counts all.
	CountRequests(ctx context.Context, status Status) (int64, error)
}
