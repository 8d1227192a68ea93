package bunstore

import (
	"context"

	"github.com/xraph/bridge"
	"github.com/xraph/bridge/id"
	"github.com/xraph/bridge/reconcile"
)

// PushReconcile inserts a new entry.
func (s *Store) PushReconcile(ctx context.Context, e *reconcile.Entry) error {
	if _, err := s.db.NewInsert().Model(toReconcileModel(e)).Exec(ctx); err != nil {
		return transport("push reconcile", err)
	}
	return nil
}

// ListReconcile returns entries oldest first.
func (s *Store) ListReconcile(ctx context.Context, opts reconcile.ListOpts) ([]*reconcile.Entry, error) {
	var models []reconcileModel
	q := s.db.NewSelect().Model(&models).Order("created_at ASC", "id ASC")
	if opts.OpenOnly {
		q = q.Where("resolved_at IS NULL")
	}
	if !opts.RequestID.IsNil() {
		q = q.Where("request_id = ?", opts.RequestID.String())
	}
	q = paginate(q, opts.Limit, opts.Offset)
	if err := q.Scan(ctx); err != nil {
		return nil, transport("list reconcile", err)
	}

	result := make([]*reconcile.Entry, 0, len(models))
	for i := range models {
		e, err := fromReconcileModel(&models[i])
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, nil
}

// GetReconcile retrieves one entry.
func (s *Store) GetReconcile(ctx context.Context, entryID id.ReconcileID) (*reconcile.Entry, error) {
	m := new(reconcileModel)
	if err := s.db.NewSelect().Model(m).Where("id = ?", entryID.String()).Scan(ctx); err != nil {
		if isNoRows(err) {
			return nil, bridge.ErrReconcileNotFound
		}
		return nil, transport("get reconcile", err)
	}
	return fromReconcileModel(m)
}

// ResolveReconcile marks an entry resolved.
func (s *Store) ResolveReconcile(ctx context.Context, entryID id.ReconcileID, resolution string) error {
	res, err := s.db.NewUpdate().
		Model((*reconcileModel)(nil)).
		Set("resolution = ?", resolution).
		Set("resolved_at = ?", s.now()).
		Where("id = ?", entryID.String()).
		Exec(ctx)
	if err != nil {
		return transport("resolve reconcile", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return bridge.ErrReconcileNotFound
	}
	return nil
}

// CountReconcile counts entries.
func (s *Store) CountReconcile(ctx context.Context, openOnly bool) (int64, error) {
	q := s.db.NewSelect().Model((*reconcileModel)(nil))
	if openOnly {
		q = q.Where("resolved_at IS NULL")
	}
	n, err := q.Count(ctx)
	if err != nil {
		return 0, transport("count reconcile", err)
	}
	return int64(n), nil
}
