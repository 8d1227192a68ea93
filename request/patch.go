package request

import (
	"fmt"
	"time"

	"github.com/xraph/bridge"
	"github.com/xraph/bridge/id"
)

// Patch mutates a copy of the stored record inside a conditional update.
// It returns an error to abort the write.
type Patch func(r *Request, now time.Time) error

// Apply checks the version precondition, applies p to a copy of cur and
// bumps the version. Store implementations call it between reading the
// current record and writing it back with the same version guard.
func Apply(cur *Request, expectedVersion int64, p Patch, now time.Time) (*Request, error) {
	if cur.Version != expectedVersion {
		return nil, fmt.Errorf("%w: request %s at version %d, expected %d",
			bridge.ErrConflict, cur.ID, cur.Version, expectedVersion)
	}
	next := cur.Clone()
	if err := p(next, now); err != nil {
		return nil, err
	}
	next.Version = cur.Version + 1
	next.UpdatedAt = now
	return next, nil
}

// Claim takes a pending request for worker.
func Claim(worker id.WorkerID) Patch {
	return func(r *Request, now time.Time) error {
		if err := checkTransition(r.Status, StatusDispatching); err != nil {
			return err
		}
		r.Status = StatusDispatching
		r.ClaimedBy = worker
		r.ClaimedAt = &now
		r.Attempts = 0
		r.LastError = ""
		return nil
	}
}

// Dispatched records the backend's run id. RunID is written once.
func Dispatched(runID string, attempts int) Patch {
	return func(r *Request, _ time.Time) error {
		if runID == "" {
			return fmt.Errorf("%w: empty run id", bridge.ErrInvalidRequest)
		}
		if r.RunID != "" {
			return fmt.Errorf("%w: run id already set to %q", bridge.ErrInvalidTransition, r.RunID)
		}
		if err := checkTransition(r.Status, StatusProcessing); err != nil {
			return err
		}
		r.Status = StatusProcessing
		r.RunID = runID
		r.Attempts = attempts
		r.LastError = ""
		return nil
	}
}

// Failed marks the request failed with reason.
func Failed(reason string, attempts int) Patch {
	return func(r *Request, _ time.Time) error {
		if err := checkTransition(r.Status, StatusFailed); err != nil {
			return err
		}
		r.Status = StatusFailed
		r.LastError = reason
		if attempts > 0 {
			r.Attempts = attempts
		}
		return nil
	}
}

// Released returns an abandoned claim to pending.
func Released() Patch {
	return func(r *Request, _ time.Time) error {
		if r.Status != StatusDispatching {
			return fmt.Errorf("%w: release from %s", bridge.ErrInvalidTransition, r.Status)
		}
		r.Status = StatusPending
		r.ClaimedBy = id.Nil
		r.ClaimedAt = nil
		r.Attempts = 0
		return nil
	}
}

// Completed is the downstream write after a run finishes.
func Completed() Patch {
	return func(r *Request, _ time.Time) error {
		if err := checkTransition(r.Status, StatusCompleted); err != nil {
			return err
		}
		r.Status = StatusCompleted
		return nil
	}
}
