package bridge

import "errors"

var (
	// Store errors.
	ErrNoStore         = errors.New("bridge: no store configured")
	ErrStoreClosed     = errors.New("bridge: store closed")
	ErrStoreTransport  = errors.New("bridge: store unavailable")
	ErrMigrationFailed = errors.New("bridge: migration failed")
	ErrNoBackend       = errors.New("bridge: no backend client configured")
	ErrNoFeed          = errors.New("bridge: store does not provide a change feed")
	ErrFeedClosed      = errors.New("bridge: change feed closed")
	ErrInvalidConfig   = errors.New("bridge: invalid configuration")
	ErrInvalidRequest  = errors.New("bridge: invalid request")
	ErrInvalidCursor   = errors.New("bridge: invalid feed cursor")
	ErrAlreadyStarted  = errors.New("bridge: already started")

	// Not found errors.
	ErrRequestNotFound   = errors.New("bridge: request not found")
	ErrReconcileNotFound = errors.New("bridge: reconcile entry not found")

	// Conflict errors.
	ErrConflict      = errors.New("bridge: version conflict")
	ErrRequestExists = errors.New("bridge: request already exists")

	// State errors.
	ErrInvalidTransition = errors.New("bridge: invalid status transition")

	// ErrReconciliationNeeded is returned when the backend accepted a job
	// but the processing status could not be recorded. The job may be
	// running without the store knowing about it.
	ErrReconciliationNeeded = errors.New("bridge: reconciliation needed")
)

// IsConflict reports whether err is a lost conditional update.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// IsNotFound reports whether err is a missing request or reconcile entry.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRequestNotFound) || errors.Is(err, ErrReconcileNotFound)
}
