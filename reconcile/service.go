package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/bridge"
	"github.com/xraph/bridge/id"
	"github.com/xraph/bridge/request"
)

// Service provides reconcile operations over a Store.
type Service struct {
	store    Store
	requests request.Store
}

// NewService creates a reconcile service.
func NewService(store Store, requests request.Store) *Service {
	return &Service{store: store, requests: requests}
}

// Push records that r was accepted by the backend as runID but the
// processing write failed with cause.
func (s *Service) Push(ctx context.Context, r *request.Request, runID string, attempts int, cause error) (*Entry, error) {
	entry := &Entry{
		ID:        id.NewReconcileID(),
		RequestID: r.ID,
		RunID:     runID,
		Year:      r.Year,
		Type:      r.Type,
		Attempts:  attempts,
		Reason:    cause.Error(),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.PushReconcile(ctx, entry); err != nil {
		return nil, fmt.Errorf("reconcile: push %s: %w", r.ID, err)
	}
	return entry, nil
}

// Resolve closes an entry. With apply set, it first writes the processing
// transition with the entry's run id if the record is still dispatching
// without one; a record that has moved on is left alone.
func (s *Service) Resolve(ctx context.Context, entryID id.ReconcileID, apply bool) (*Entry, error) {
	entry, err := s.store.GetReconcile(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if !entry.Open() {
		return entry, nil
	}

	resolution := "acknowledged"
	if apply {
		resolution, err = s.apply(ctx, entry)
		if err != nil {
			return nil, err
		}
	}

	if err := s.store.ResolveReconcile(ctx, entryID, resolution); err != nil {
		return nil, fmt.Errorf("reconcile: resolve %s: %w", entryID, err)
	}
	return s.store.GetReconcile(ctx, entryID)
}

// OpenFor returns the oldest open entry for requestID, or nil when there
// is none.
func (s *Service) OpenFor(ctx context.Context, requestID id.RequestID) (*Entry, error) {
	entries, err := s.store.ListReconcile(ctx, ListOpts{OpenOnly: true, RequestID: requestID, Limit: 1})
	if err != nil {
		return nil, fmt.Errorf("reconcile: lookup %s: %w", requestID, err)
	}
	if len(entries) == 0 {
		return nil, nil //nolint:nilnil // no open entry
	}
	return entries[0], nil
}

func (s *Service) apply(ctx context.Context, entry *Entry) (string, error) {
	r, err := s.requests.GetRequest(ctx, entry.RequestID)
	if errors.Is(err, bridge.ErrRequestNotFound) {
		return "request deleted", nil
	}
	if err != nil {
		return "", fmt.Errorf("reconcile: load %s: %w", entry.RequestID, err)
	}

	if r.Status != request.StatusDispatching || r.RunID != "" {
		return fmt.Sprintf("request already %s", r.Status), nil
	}

	_, err = s.requests.ConditionalUpdate(ctx, r.ID, r.Version, request.Dispatched(entry.RunID, entry.Attempts))
	switch {
	case err == nil:
		return "processing applied", nil
	case bridge.IsConflict(err):
		return "request changed concurrently", nil
	default:
		return "", fmt.Errorf("reconcile: apply %s: %w", entry.RequestID, err)
	}
}

// Store returns the underlying store for list and count access.
func (s *Service) Store() Store { return s.store }
