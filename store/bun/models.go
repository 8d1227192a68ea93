package bunstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/xraph/bridge/id"
	"github.com/xraph/bridge/reconcile"
	"github.com/xraph/bridge/request"
)

// ── Request model ─────────────────────────────────────────────────

type requestModel struct {
	bun.BaseModel `bun:"table:bridge_requests"`

	ID        string     `bun:"id,pk"`
	Year      string     `bun:"year,notnull"`
	Type      string     `bun:"type,notnull"`
	Status    string     `bun:"status,notnull"`
	RunID     string     `bun:"run_id,notnull"`
	LastError string     `bun:"last_error,notnull"`
	Attempts  int        `bun:"attempts,notnull"`
	ClaimedBy string     `bun:"claimed_by,nullzero"`
	ClaimedAt *time.Time `bun:"claimed_at"`
	Version   int64      `bun:"version,notnull"`
	CreatedAt time.Time  `bun:"created_at,notnull"`
	UpdatedAt time.Time  `bun:"updated_at,notnull"`
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

// fromRequestModel keeps ids it did not mint verbatim; rows may be
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
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
		ClaimedBy: id.FromString(m.ClaimedBy),
	}
}

// ── Feed model ────────────────────────────────────────────────────

// feedModel is one outbox row. Snapshot holds the created record as JSON.
type feedModel struct {
	bun.BaseModel `bun:"table:bridge_feed"`

	Seq       int64     `bun:"seq,pk,autoincrement"`
	RequestID string    `bun:"request_id,notnull"`
	Snapshot  string    `bun:"snapshot,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull"`
}

func toFeedModel(r *request.Request) (*feedModel, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("bridge/bun: encode snapshot: %w", err)
	}
	return &feedModel{RequestID: r.ID.String(), Snapshot: string(data), CreatedAt: r.CreatedAt}, nil
}

func (m *feedModel) request() (*request.Request, error) {
	var r request.Request
	if err := json.Unmarshal([]byte(m.Snapshot), &r); err != nil {
		return nil, fmt.Errorf("bridge/bun: decode snapshot %d: %w", m.Seq, err)
	}
	return &r, nil
}

// ── Checkpoint model ──────────────────────────────────────────────

type checkpointModel struct {
	bun.BaseModel `bun:"table:bridge_checkpoints"`

	Consumer  string    `bun:"consumer,pk"`
	Cursor    string    `bun:"cursor,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

// ── Reconcile model ───────────────────────────────────────────────

type reconcileModel struct {
	bun.BaseModel `bun:"table:bridge_reconcile"`

	ID         string     `bun:"id,pk"`
	RequestID  string     `bun:"request_id,notnull"`
	RunID      string     `bun:"run_id,notnull"`
	Year       string     `bun:"year,notnull"`
	Type       string     `bun:"type,notnull"`
	Attempts   int        `bun:"attempts,notnull"`
	Reason     string     `bun:"reason,notnull"`
	Resolution string     `bun:"resolution,notnull"`
	CreatedAt  time.Time  `bun:"created_at,notnull"`
	ResolvedAt *time.Time `bun:"resolved_at"`
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
		return nil, fmt.Errorf("bridge/bun: parse reconcile id %q: %w", m.ID, err)
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
