// Package redis implements store.Store on Redis. Requests and reconcile
// entries are Hashes, the change feed is a Stream and checkpoints are plain
// string keys. Claims and creates run as Lua scripts so the version check
// and the write are atomic.
//
// Every key shares the "{bridge}" hash tag, so a Redis Cluster keeps them in
// one slot and the scripts may touch several keys.
//
// The caller owns the client lifecycle:
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	s := redis.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis
