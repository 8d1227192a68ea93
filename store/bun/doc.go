// Package bunstore implements store.Store using the Bun ORM. It runs on
// PostgreSQL (pgdialect) or SQLite (sqlitedialect); the change feed is an
// outbox table written in the same transaction as each new request and
// polled by feed readers.
//
// The caller owns the *bun.DB lifecycle; bunstore never closes it:
//
//	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
//	db := bun.NewDB(sqldb, pgdialect.New())
//	store := bunstore.New(db)
//	store.Migrate(ctx)
//
// or, for a single-node deployment:
//
//	sqldb, _ := sql.Open("sqlite", "file:bridge.db?_pragma=busy_timeout(5000)")
//	db := bun.NewDB(sqldb, sqlitedialect.New())
package bunstore
