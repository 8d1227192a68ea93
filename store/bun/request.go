package bunstore

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/xraph/bridge"
	"github.com/xraph/bridge/id"
	"github.com/xraph/bridge/request"
)

// CreateRequest inserts the record and its outbox row in one transaction.
func (s *Store) CreateRequest(ctx context.Context, r *request.Request) error {
	if err := request.Prepare(r, s.now()); err != nil {
		return err
	}
	outbox, err := toFeedModel(r)
	if err != nil {
		return err
	}

	err = s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(toRequestModel(r)).Exec(ctx); err != nil {
			return err
		}
		_, err := tx.NewInsert().Model(outbox).Exec(ctx)
		return err
	})
	if err != nil {
		if isDuplicateKey(err) {
			return bridge.ErrRequestExists
		}
		return transport("create request", err)
	}
	return nil
}

// GetRequest retrieves a record by ID.
func (s *Store) GetRequest(ctx context.Context, requestID id.RequestID) (*request.Request, error) {
	m := new(requestModel)
	err := s.db.NewSelect().Model(m).Where("id = ?", requestID.String()).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, bridge.ErrRequestNotFound
		}
		return nil, transport("get request", err)
	}
	return fromRequestModel(m), nil
}

// ConditionalUpdate writes the patched record with a version guard.
func (s *Store) ConditionalUpdate(ctx context.Context, requestID id.RequestID, expectedVersion int64, patch request.Patch) (*request.Request, error) {
	cur, err := s.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	next, err := request.Apply(cur, expectedVersion, patch, s.now())
	if err != nil {
		return nil, err
	}

	res, err := s.db.NewUpdate().
		Model(toRequestModel(next)).
		Column("status", "run_id", "last_error", "attempts", "claimed_by", "claimed_at", "version", "updated_at").
		WherePK().
		Where("version = ?", expectedVersion).
		Exec(ctx)
	if err != nil {
		return nil, transport("conditional update", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, transport("conditional update", err)
	}
	if affected == 0 {
		if _, err := s.GetRequest(ctx, requestID); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: request %s moved past version %d", bridge.ErrConflict, requestID, expectedVersion)
	}
	return next, nil
}

// ListRequests returns records matching opts, oldest update first.
func (s *Store) ListRequests(ctx context.Context, opts request.ListOpts) ([]*request.Request, error) {
	var models []requestModel
	q := s.db.NewSelect().Model(&models).Order("updated_at ASC", "id ASC")
	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
	}
	if !opts.UpdatedBefore.IsZero() {
		q = q.Where("updated_at < ?", opts.UpdatedBefore.UTC())
	}
	q = paginate(q, opts.Limit, opts.Offset)
	if err := q.Scan(ctx); err != nil {
		return nil, transport("list requests", err)
	}

	result := make([]*request.Request, 0, len(models))
	for i := range models {
		result = append(result, fromRequestModel(&models[i]))
	}
	return result, nil
}

// CountRequests counts records with status, or all records.
func (s *Store) CountRequests(ctx context.Context, status request.Status) (int64, error) {
	q := s.db.NewSelect().Model((*requestModel)(nil))
	if status != "" {
		q = q.Where("status = ?", string(status))
	}
	n, err := q.Count(ctx)
	if err != nil {
		return 0, transport("count requests", err)
	}
	return int64(n), nil
}
