package reconcile

import (
	"time"

	"github.com/xraph/bridge/id"
)

// Entry is one unrecorded dispatch.
type Entry struct {
	ID         id.ReconcileID `json:"id"`
	RequestID  id.RequestID   `json:"request_id"`
	RunID      string         `json:"run_id"`
	Year       string         `json:"year"`
	Type       string         `json:"type"`
	Attempts   int            `json:"attempts"`
	Reason     string         `json:"reason"`
	Resolution string         `json:"resolution,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	ResolvedAt *time.Time     `json:"resolved_at,omitempty"`
}

// Open reports whether the entry still needs attention.
func (e *Entry) Open() bool { return e.ResolvedAt == nil }
