package mongo

import (
	"fmt"
	"time"

	"github.com/xraph/bridge/id"
	"github.com/xraph/bridge/reconcile"
	"github.com/xraph/bridge/request"
)

// ── Request model ─────────────────────────────────────────────────

type requestModel struct {
	ID        string     `bson:"_id"`
	Year      string     `bson:"year"`
	Type      string     `bson:"type"`
	Status    string     `bson:"status"`
	RunID     string     `bson:"run_id,omitempty"`
	LastError string     `bson:"last_error,omitempty"`
	Attempts  int        `bson:"attempts"`
	ClaimedBy string     `bson:"claimed_by,omitempty"`
	ClaimedAt *time.Time `bson:"claimed_at,omitempty"`
	Version   int64      `bson:"version"`
	CreatedAt time.Time  `bson:"created_at"`
	UpdatedAt time.Time  `bson:"updated_at"`
}

func toRequestModel(r *request.Request) *requestModel {
	return &requestModel{
		ID:        r.ID.String(),
		Year:      r.Year,
		Type:      r.Type,
		Status:    string(r.Status),
		RunID:     r.RunID,
		LastError: r.LastError,
		Attempts:  r.Attempts,
		ClaimedBy: r.ClaimedBy.String(),
		ClaimedAt: r.ClaimedAt,
		Version:   r.Version,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

// fromRequestModel keeps ids it did not mint verbatim; documents may be
// inserted by other services.
func fromRequestModel(m *requestModel) *request.Request {
	return &request.Request{
		ID:        id.FromString(m.ID),
		Year:      m.Year,
		Type:      m.Type,
		Status:    request.Status(m.Status),
		RunID:     m.RunID,
		LastError: m.LastError,
		Attempts:  m.Attempts,
		ClaimedAt: m.ClaimedAt,
		Version:   m.Version,
		CreatedAt: m.CreatedAt.UTC(),
		UpdatedAt: m.UpdatedAt.UTC(),
		ClaimedBy: id.FromString(m.ClaimedBy),
	}
}

// ── Checkpoint model ──────────────────────────────────────────────

type checkpointModel struct {
	Consumer  string    `bson:"_id"`
	Cursor    string    `bson:"cursor"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// ── Reconcile model ───────────────────────────────────────────────

type reconcileModel struct {
	ID         string     `bson:"_id"`
	RequestID  string     `bson:"request_id"`
	RunID      string     `bson:"run_id"`
	Year       string     `bson:"year"`
	Type       string     `bson:"type"`
	Attempts   int        `bson:"attempts"`
	Reason     string     `bson:"reason"`
	Resolution string     `bson:"resolution,omitempty"`
	CreatedAt  time.Time  `bson:"created_at"`
	ResolvedAt *time.Time `bson:"resolved_at"`
}

func toReconcileModel(e *reconcile.Entry) *reconcileModel {
	return &reconcileModel{
		ID:         e.ID.String(),
		RequestID:  e.RequestID.String(),
		RunID:      e.RunID,
		Year:       e.Year,
		Type:       e.Type,
		Attempts:   e.Attempts,
		Reason:     e.Reason,
		Resolution: e.Resolution,
		CreatedAt:  e.CreatedAt,
		ResolvedAt: e.ResolvedAt,
	}
}

func fromReconcileModel(m *reconcileModel) (*reconcile.Entry, error) {
	entryID, err := id.ParseReconcileID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("bridge/mongo: parse reconcile id %q: %w", m.ID, err)
	}
	return &reconcile.Entry{
		ID:         entryID,
		RequestID:  id.FromString(m.RequestID),
		RunID:      m.RunID,
		Year:       m.Year,
		Type:       m.Type,
		Attempts:   m.Attempts,
		Reason:     m.Reason,
		Resolution: m.Resolution,
		CreatedAt:  m.CreatedAt.UTC(),
		ResolvedAt: m.ResolvedAt,
	}, nil
}
