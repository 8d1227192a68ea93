package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/bridge"
	"github.com/xraph/bridge/id"
	"github.com/xraph/bridge/reconcile"
)

// PushReconcile inserts a new entry.
func (s *Store) PushReconcile(ctx context.Context, e *reconcile.Entry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO bridge_reconcile (`+reconcileColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID.String(), e.RequestID.String(), e.RunID, e.Year, e.Type, e.Attempts,
		e.Reason, e.Resolution, e.CreatedAt, e.ResolvedAt,
	)
	if err != nil {
		return transport("push reconcile", err)
	}
	return nil
}

// ListReconcile returns entries oldest first.
func (s *Store) ListReconcile(ctx context.Context, opts reconcile.ListOpts) ([]*reconcile.Entry, error) {
	limit := any(nil)
	if opts.Limit > 0 {
		limit = opts.Limit
	}
	args := []any{limit, opts.Offset}

	query := `SELECT ` + reconcileColumns + ` FROM bridge_reconcile WHERE TRUE`
	if opts.OpenOnly {
		query += ` AND resolved_at IS NULL`
	}
	if !opts.RequestID.IsNil() {
		args = append(args, opts.RequestID.String())
		query += ` AND request_id = $3`
	}
	query += ` ORDER BY created_at ASC, id ASC LIMIT $1 OFFSET $2`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, transport("list reconcile", err)
	}
	models, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[reconcileModel])
	if err != nil {
		return nil, transport("list reconcile", err)
	}

	result := make([]*reconcile.Entry, 0, len(models))
	for _, m := range models {
		e, err := fromReconcileModel(m)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, nil
}

// GetReconcile retrieves one entry.
func (s *Store) GetReconcile(ctx context.Context, entryID id.ReconcileID) (*reconcile.Entry, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+reconcileColumns+` FROM bridge_reconcile WHERE id = $1`, entryID.String())
	if err != nil {
		return nil, transport("get reconcile", err)
	}
	m, err := pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByName[reconcileModel])
	if err != nil {
		if isNoRows(err) {
			return nil, bridge.ErrReconcileNotFound
		}
		return nil, transport("get reconcile", err)
	}
	return fromReconcileModel(m)
}

// ResolveReconcile marks an entry resolved.
func (s *Store) ResolveReconcile(ctx context.Context, entryID id.ReconcileID, resolution string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE bridge_reconcile SET resolution = $2, resolved_at = $3
		WHERE id = $1`,
		entryID.String(), resolution, s.now(),
	)
	if err != nil {
		return transport("resolve reconcile", err)
	}
	if tag.RowsAffected() == 0 {
		return bridge.ErrReconcileNotFound
	}
	return nil
}

// CountReconcile counts entries.
func (s *Store) CountReconcile(ctx context.Context, openOnly bool) (int64, error) {
	query := `SELECT COUNT(*) FROM bridge_reconcile`
	if openOnly {
		query += ` WHERE resolved_at IS NULL`
	}
	var n int64
	if err := s.pool.QueryRow(ctx, query).Scan(&n); err != nil {
		return 0, transport("count reconcile", err)
	}
	return n, nil
}
