package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/bridge"
	"github.com/xraph/bridge/id"
	"github.com/xraph/bridge/request"
)

// CreateRequest inserts a new record. The insert trigger appends it to
// the feed in the same transaction.
func (s *Store) CreateRequest(ctx context.Context, r *request.Request) error {
	if err := request.Prepare(r, s.now()); err != nil {
		return err
	}
	m := toRequestModel(r)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO bridge_requests (`+requestColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		m.ID, m.Year, m.Type, m.Status, m.RunID, m.LastError, m.Attempts,
		m.ClaimedBy, m.ClaimedAt, m.Version, m.CreatedAt, m.UpdatedAt,
	)
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
	rows, err := s.pool.Query(ctx, `SELECT `+requestColumns+` FROM bridge_requests WHERE id = $1`, requestID.String())
	if err != nil {
		return nil, transport("get request", err)
	}
	m, err := pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByName[requestModel])
	if err != nil {
		if isNoRows(err) {
			return nil, bridge.ErrRequestNotFound
		}
		return nil, transport("get request", err)
	}
	return fromRequestModel(m), nil
}

// ConditionalUpdate reads the record, applies patch and writes it back
// with "WHERE version = expectedVersion". A concurrent writer makes the
// guarded UPDATE match no rows, which is reported as a conflict.
func (s *Store) ConditionalUpdate(ctx context.Context, requestID id.RequestID, expectedVersion int64, patch request.Patch) (*request.Request, error) {
	cur, err := s.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	next, err := request.Apply(cur, expectedVersion, patch, s.now())
	if err != nil {
		return nil, err
	}

	m := toRequestModel(next)
	tag, err := s.pool.Exec(ctx, `
		UPDATE bridge_requests SET
			status = $3, run_id = $4, last_error = $5, attempts = $6,
			claimed_by = $7, claimed_at = $8, version = $9, updated_at = $10
		WHERE id = $1 AND version = $2`,
		m.ID, expectedVersion,
		m.Status, m.RunID, m.LastError, m.Attempts,
		m.ClaimedBy, m.ClaimedAt, m.Version, m.UpdatedAt,
	)
	if err != nil {
		return nil, transport("conditional update", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetRequest(ctx, requestID); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: request %s moved past version %d", bridge.ErrConflict, requestID, expectedVersion)
	}
	return next, nil
}

// ListRequests returns records matching opts, oldest update first.
func (s *Store) ListRequests(ctx context.Context, opts request.ListOpts) ([]*request.Request, error) {
	var (
		where []string
		args  []any
	)
	if opts.Status != "" {
		args = append(args, string(opts.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if !opts.UpdatedBefore.IsZero() {
		args = append(args, opts.UpdatedBefore)
		where = append(where, fmt.Sprintf("updated_at < $%d", len(args)))
	}

	query := `SELECT ` + requestColumns + ` FROM bridge_requests`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY updated_at ASC, id ASC`
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, transport("list requests", err)
	}
	models, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[requestModel])
	if err != nil {
		return nil, transport("list requests", err)
	}

	result := make([]*request.Request, 0, len(models))
	for _, m := range models {
		result = append(result, fromRequestModel(m))
	}
	return result, nil
}

// CountRequests counts records with status, or all records.
func (s *Store) CountRequests(ctx context.Context, status request.Status) (int64, error) {
	var n int64
	var err error
	if status == "" {
		err = s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM bridge_requests`).Scan(&n)
	} else {
		err = s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM bridge_requests WHERE status = $1`, string(status)).Scan(&n)
	}
	if err != nil {
		return 0, transport("count requests", err)
	}
	return n, nil
}
