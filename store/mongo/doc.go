// Package mongo implements store.Store on MongoDB with the official v2
// driver.
//
// The change feed is a change stream over inserts into the requests
// collection and its cursor is the stream's resume token. Change streams
// need a replica set or sharded cluster. A consumer without a checkpoint
// starts at the current end of the stream; records created before that are
// picked up by the watchdog's pending sweep.
//
// The caller owns the client lifecycle:
//
//	client, _ := mongod.Connect(options.Client().ApplyURI(uri))
//	s := mongo.New(client.Database("bridge"))
//	s.Migrate(ctx)
package mongo
