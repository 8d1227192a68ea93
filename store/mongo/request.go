package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/bridge"
	"github.com/xraph/bridge/id"
	"github.com/xraph/bridge/request"
)

// CreateRequest inserts a new record. The insert itself is the feed event.
func (s *Store) CreateRequest(ctx context.Context, r *request.Request) error {
	if err := request.Prepare(r, s.now()); err != nil {
		return err
	}
	_, err := s.db.Collection(colRequests).InsertOne(ctx, toRequestModel(r))
	if err != nil {
		if mongod.IsDuplicateKeyError(err) {
			return bridge.ErrRequestExists
		}
		return transport("create request", err)
	}
	return nil
}

// GetRequest retrieves a record by ID.
func (s *Store) GetRequest(ctx context.Context, requestID id.RequestID) (*request.Request, error) {
	var m requestModel
	err := s.db.Collection(colRequests).FindOne(ctx, bson.M{"_id": requestID.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, bridge.ErrRequestNotFound
		}
		return nil, transport("get request", err)
	}
	return fromRequestModel(&m), nil
}

// ConditionalUpdate replaces the document only while its version equals
// expectedVersion.
func (s *Store) ConditionalUpdate(ctx context.Context, requestID id.RequestID, expectedVersion int64, patch request.Patch) (*request.Request, error) {
	cur, err := s.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	next, err := request.Apply(cur, expectedVersion, patch, s.now())
	if err != nil {
		return nil, err
	}

	filter := bson.M{"_id": requestID.String(), "version": expectedVersion}
	res, err := s.db.Collection(colRequests).ReplaceOne(ctx, filter, toRequestModel(next))
	if err != nil {
		return nil, transport("conditional update", err)
	}
	if res.MatchedCount == 0 {
		if _, err := s.GetRequest(ctx, requestID); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: request %s moved past version %d", bridge.ErrConflict, requestID, expectedVersion)
	}
	return next, nil
}

// ListRequests returns records matching opts, oldest update first.
func (s *Store) ListRequests(ctx context.Context, opts request.ListOpts) ([]*request.Request, error) {
	filter := bson.M{}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}
	if !opts.UpdatedBefore.IsZero() {
		filter["updated_at"] = bson.M{"$lt": opts.UpdatedBefore}
	}

	findOpts := options.Find().SetSort(bson.D{
		{Key: "updated_at", Value: 1},
		{Key: "_id", Value: 1},
	})
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		findOpts.SetSkip(int64(opts.Offset))
	}

	cursor, err := s.db.Collection(colRequests).Find(ctx, filter, findOpts)
	if err != nil {
		return nil, transport("list requests", err)
	}
	var models []requestModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, transport("decode requests", err)
	}

	result := make([]*request.Request, 0, len(models))
	for i := range models {
		result = append(result, fromRequestModel(&models[i]))
	}
	return result, nil
}

// CountRequests counts records with status, or all records.
func (s *Store) CountRequests(ctx context.Context, status request.Status) (int64, error) {
	filter := bson.M{}
	if status != "" {
		filter["status"] = string(status)
	}
	n, err := s.db.Collection(colRequests).CountDocuments(ctx, filter)
	if err != nil {
		return 0, transport("count requests", err)
	}
	return n, nil
}
