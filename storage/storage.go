// Package storage defines the storage-driver contract the local store is
// built on (spec §6, "Storage driver (consumed)") and ships one concrete,
// exercised implementation of it backed by SQLite — grounded on the
// teacher's internal/db package (connection setup, WAL pragmas, single
// writer, cross-process file lock).
//
// The interface is intentionally row-oriented and untyped (string-keyed
// maps of scalars) so the local store — not this package — owns all
// entity-shape knowledge.
package storage

import (
	"context"
	"database/sql"
)

// Values is a string-keyed map of primitive scalar column values: string,
// int64, float64, bool, []byte, or nil.
type Values map[string]any

// Driver is the contract any storage engine must satisfy to back the local
// store. Implementations need not be SQLite — the engine and store only
// depend on this interface.
type Driver interface {
	// Initialize opens the underlying handle. Idempotent.
	Initialize(ctx context.Context) error
	// Close releases the underlying handle.
	Close() error

	// CreateTable executes a CREATE TABLE IF NOT EXISTS statement (or
	// any other idempotent DDL, e.g. CREATE INDEX IF NOT EXISTS).
	CreateTable(ctx context.Context, ddl string) error

	// Insert writes a new row and returns its primary key. If values
	// already contains "id", that value is used verbatim; otherwise the
	// driver is free to assign one (the local store always supplies an
	// id itself, per spec's client-generated-id model).
	Insert(ctx context.Context, table string, values Values) (string, error)

	// Update applies values to rows matching the where clause (a raw SQL
	// predicate with whereArgs for placeholders) and returns the number
	// of rows affected.
	Update(ctx context.Context, table string, values Values, where string, whereArgs []any) (int64, error)

	// Delete removes rows matching the where clause and returns the
	// number of rows affected.
	Delete(ctx context.Context, table string, where string, whereArgs []any) (int64, error)

	// Query returns every column of rows matching an optional where
	// clause (empty string = no filter), ordered by orderBy (empty =
	// unspecified), limited to limit rows (0 = unlimited).
	Query(ctx context.Context, table string, where string, whereArgs []any, orderBy string, limit int) ([]Values, error)

	// RawQuery executes an arbitrary SELECT and returns every row.
	RawQuery(ctx context.Context, query string, args []any) ([]Values, error)

	// RawExec executes an arbitrary non-SELECT statement.
	RawExec(ctx context.Context, query string, args []any) (sql.Result, error)

	// Transaction runs fn with a Driver bound to a single transaction;
	// fn's returned error rolls back, nil commits.
	Transaction(ctx context.Context, fn func(tx Driver) error) error

	// WithWriteLock runs fn while holding the driver's exclusive
	// cross-process write lock, so two processes sharing the same
	// database file never interleave writes.
	WithWriteLock(fn func() error) error
}
