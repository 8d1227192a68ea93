package mongo

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/bridge"
	"github.com/xraph/bridge/id"
	"github.com/xraph/bridge/reconcile"
)

// PushReconcile inserts a new entry.
func (s *Store) PushReconcile(ctx context.Context, e *reconcile.Entry) error {
	if _, err := s.db.Collection(colReconcile).InsertOne(ctx, toReconcileModel(e)); err != nil {
		return transport("push reconcile", err)
	}
	return nil
}

// ListReconcile returns entries oldest first.
func (s *Store) ListReconcile(ctx context.Context, opts reconcile.ListOpts) ([]*reconcile.Entry, error) {
	findOpts := options.Find().SetSort(bson.D{
		{Key: "created_at", Value: 1},
		{Key: "_id", Value: 1},
	})
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		findOpts.SetSkip(int64(opts.Offset))
	}

	cursor, err := s.db.Collection(colReconcile).Find(ctx, reconcileFilter(opts), findOpts)
	if err != nil {
		return nil, transport("list reconcile", err)
	}
	var models []reconcileModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, transport("decode reconcile", err)
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
	var m reconcileModel
	err := s.db.Collection(colReconcile).FindOne(ctx, bson.M{"_id": entryID.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, bridge.ErrReconcileNotFound
		}
		return nil, transport("get reconcile", err)
	}
	return fromReconcileModel(&m)
}

// ResolveReconcile marks an entry resolved.
func (s *Store) ResolveReconcile(ctx context.Context, entryID id.ReconcileID, resolution string) error {
	update := bson.M{"$set": bson.M{
		"resolution":  resolution,
		"resolved_at": s.now(),
	}}
	res, err := s.db.Collection(colReconcile).UpdateOne(ctx, bson.M{"_id": entryID.String()}, update)
	if err != nil {
		return transport("resolve reconcile", err)
	}
	if res.MatchedCount == 0 {
		return bridge.ErrReconcileNotFound
	}
	return nil
}

// CountReconcile counts entries.
func (s *Store) CountReconcile(ctx context.Context, openOnly bool) (int64, error) {
	n, err := s.db.Collection(colReconcile).CountDocuments(ctx, reconcileFilter(reconcile.ListOpts{OpenOnly: openOnly}))
	if err != nil {
		return 0, transport("count reconcile", err)
	}
	return n, nil
}

// reconcileFilter matches open entries when OpenOnly is set. A null
// resolved_at matches both null and missing fields.
func reconcileFilter(opts reconcile.ListOpts) bson.M {
	filter := bson.M{}
	if opts.OpenOnly {
		filter["resolved_at"] = nil
	}
	if !opts.RequestID.IsNil() {
		filter["request_id"] = opts.RequestID.String()
	}
	return filter
}
