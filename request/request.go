package request

import (
	"fmt"
	"strings"
	"time"

	"github.com/xraph/bridge"
	"github.com/xraph/bridge/id"
)

// Status is the lifecycle status of a request.
type Status string

const (
	// StatusPending means the request is waiting to be dispatched.
	StatusPending Status = "pending"
	// StatusDispatching means a coordinator holds the claim and is
	// submitting to the backend.
	StatusDispatching Status = "dispatching"
	// StatusProcessing means the backend accepted the job and returned a
	// run id.
	StatusProcessing Status = "processing"
	// StatusCompleted is written downstream when the run finishes.
	StatusCompleted Status = "completed"
	// StatusFailed means dispatch or the run failed.
	StatusFailed Status = "failed"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{StatusPending, StatusDispatching, StatusProcessing, StatusCompleted, StatusFailed}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, v := range Statuses {
		if s == v {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ParseStatus parses a status name.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("%w: unknown status %q", bridge.ErrInvalidRequest, s)
	}
	return st, nil
}

// Request is one job request document.
type Request struct {
	ID        id.RequestID `json:"id"`
	Year      string       `json:"year"`
	Type      string       `json:"type"`
	Status    Status       `json:"status"`
	RunID     string       `json:"run_id,omitempty"`
	LastError string       `json:"last_error,omitempty"`
	Attempts  int          `json:"attempts"`
	ClaimedBy id.WorkerID  `json:"claimed_by,omitempty"`
	ClaimedAt *time.Time   `json:"claimed_at,omitempty"`
	Version   int64        `json:"version"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// New returns a pending request for the given job parameters.
func New(year, typ string) *Request {
	return &Request{
		ID:     id.NewRequestID(),
		Year:   year,
		Type:   typ,
		Status: StatusPending,
	}
}

// Clone returns a deep copy of r.
func (r *Request) Clone() *Request {
	c := *r
	if r.ClaimedAt != nil {
		t := *r.ClaimedAt
		c.ClaimedAt = &t
	}
	return &c
}

// Prepare validates a request before its first write and fills in the
// defaults every store applies: an ID, pending status, version 1 and
// timestamps.
func Prepare(r *Request, now time.Time) error {
	if r == nil {
		return fmt.Errorf("%w: nil request", bridge.ErrInvalidRequest)
	}
	if strings.TrimSpace(r.Year) == "" || strings.TrimSpace(r.Type) == "" {
		return fmt.Errorf("%w: year and type are required", bridge.ErrInvalidRequest)
	}
	if r.ID.IsNil() {
		r.ID = id.NewRequestID()
	}
	if r.Status == "" {
		r.Status = StatusPending
	}
	if !r.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", bridge.ErrInvalidRequest, r.Status)
	}
	r.Version = 1
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	return nil
}
