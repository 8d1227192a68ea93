// Package postgres implements the store using pgx/v5 with raw SQL.
// Features: version-guarded conditional updates, a trigger-fed outbox
// table as the change feed with LISTEN/NOTIFY wake-ups, and embedded
// golang-migrate migrations.
package postgres
