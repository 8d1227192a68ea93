package postgres

import (
	"fmt"
	"time"

	"github.com/xraph/bridge/id"
	"github.com/xraph/bridge/reconcile"
	"github.com/xraph/bridge/request"
)

// ── Request model ─────────────────────────────────────────────────

// requestModel maps a bridge_requests row. The json tags match the keys
// to_jsonb produces for feed snapshots.
type requestModel struct {
	ID        string     `db:"id"         json:"id"`
	Year      string     `db:"year"       json:"year"`
	Type      string     `db:"type"       json:"type"`
	Status    string     `db:"status"     json:"status"`
	RunID     string     `db:"run_id"     json:"run_id"`
	LastError string     `db:"last_error" json:"last_error"`
	Attempts  int        `db:"attempts"   json:"attempts"`
	ClaimedBy *string    `db:"claimed_by" json:"claimed_by"`
	ClaimedAt *time.Time `db:"claimed_at" json:"claimed_at"`
	Version   int64      `db:"version"    json:"version"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
}

const requestColumns = `id, year, type, status, run_id, last_error, attempts,
	claimed_by, claimed_at, version, created_at, updated_at`

func toRequestModel(r *request.Request) *requestModel {
	m := &requestModel{
		ID:        r.ID.String(),
		Year:      r.Year,
		Type:      r.Type,
		Status:    string(r.Status),
		RunID:     r.RunID,
		LastError: r.LastError,
		Attempts:  r.Attempts,
		ClaimedAt: r.ClaimedAt,
		Version:   r.Version,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if !r.ClaimedBy.IsNil() {
		s := r.ClaimedBy.String()
		m.ClaimedBy = &s
	}
	return m
}

// fromRequestModel keeps ids it did not mint verbatim; the feed trigger
// also captures rows inserted by other services.
func fromRequestModel(m *requestModel) *request.Request {
	r := &request.Request{
		ID:        id.FromString(m.ID),
		Year:      m.Year,
		Type:      m.Type,
		Status:    request.Status(m.Status),
		RunID:     m.RunID,
		LastError: m.LastError,
		Attempts:  m.Attempts,
		ClaimedAt: m.ClaimedAt,
		Version:   m.Version,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
	if m.ClaimedBy != nil {
		r.ClaimedBy = id.FromString(*m.ClaimedBy)
	}
	return r
}

// ── Reconcile model ───────────────────────────────────────────────

type reconcileModel struct {
	ID         string     `db:"id"`
	RequestID  string     `db:"request_id"`
	RunID      string     `db:"run_id"`
	Year       string     `db:"year"`
	Type       string     `db:"type"`
	Attempts   int        `db:"attempts"`
	Reason     string     `db:"reason"`
	Resolution string     `db:"resolution"`
	CreatedAt  time.Time  `db:"created_at"`
	ResolvedAt *time.Time `db:"resolved_at"`
}

const reconcileColumns = `id, request_id, run_id, year, type, attempts,
	reason, resolution, created_at, resolved_at`

func fromReconcileModel(m *reconcileModel) (*reconcile.Entry, error) {
	entryID, err := id.ParseReconcileID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("bridge/postgres: parse reconcile id %q: %w", m.ID, err)
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
		CreatedAt:  m.CreatedAt,
		ResolvedAt: m.ResolvedAt,
	}, nil
}
