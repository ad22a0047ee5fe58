package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// execer is satisfied by both *sql.DB and *sql.Tx, letting query/scan logic
// be shared between the top-level driver and its transaction-bound variant.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// SQLiteDriver is the reference Driver implementation, grounded on the
// teacher's internal/db/db.go connection setup: single pinned connection,
// WAL journal mode, busy timeout, NORMAL synchronous, and a TRUNCATE
// checkpoint on close so no stale -wal/-shm files are left for the next
// process to trip over.
type SQLiteDriver struct {
	path string
	conn *sql.DB
	lock *writeLocker
}

// NewSQLiteDriver returns a driver for the database file at path. Call
// Initialize before use.
func NewSQLiteDriver(path string) *SQLiteDriver {
	return &SQLiteDriver{path: path, lock: newWriteLocker(path)}
}

func (d *SQLiteDriver) Initialize(ctx context.Context) error {
	if d.conn != nil {
		return nil
	}
	if dir := filepath.Dir(d.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("storage: create db dir: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", d.path)
	if err != nil {
		return fmt.Errorf("storage: open database: %w", err)
	}

	// SQLite has exactly one writer; pinning the pool to a single
	// connection keeps database/sql from opening extras that would
	// corrupt the WAL/SHM files under concurrent access.
	conn.SetMaxOpenConns(1)

	if _, err := conn.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return fmt.Errorf("storage: enable WAL mode: %w", err)
	}
	if _, err := conn.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return fmt.Errorf("storage: set busy timeout: %w", err)
	}
	conn.ExecContext(ctx, "PRAGMA synchronous=NORMAL")

	d.conn = conn
	return nil
}

func (d *SQLiteDriver) Close() error {
	if d.conn == nil {
		return nil
	}
	// Best-effort checkpoint: flush WAL back into the main file so a
	// stale -wal/-shm pair can't corrupt the next process's view.
	d.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	err := d.conn.Close()
	d.conn = nil
	return err
}

func (d *SQLiteDriver) CreateTable(ctx context.Context, ddl string) error {
	if d.conn == nil {
		return fmt.Errorf("storage: not initialized")
	}
	_, err := d.conn.ExecContext(ctx, ddl)
	return err
}

func (d *SQLiteDriver) Insert(ctx context.Context, table string, values Values) (string, error) {
	return insertRow(ctx, d.conn, table, values)
}

func (d *SQLiteDriver) Update(ctx context.Context, table string, values Values, where string, whereArgs []any) (int64, error) {
	return updateRows(ctx, d.conn, table, values, where, whereArgs)
}

func (d *SQLiteDriver) Delete(ctx context.Context, table string, where string, whereArgs []any) (int64, error) {
	return deleteRows(ctx, d.conn, table, where, whereArgs)
}

func (d *SQLiteDriver) Query(ctx context.Context, table string, where string, whereArgs []any, orderBy string, limit int) ([]Values, error) {
	return queryRows(ctx, d.conn, table, where, whereArgs, orderBy, limit)
}

func (d *SQLiteDriver) RawQuery(ctx context.Context, query string, args []any) ([]Values, error) {
	return rawQuery(ctx, d.conn, query, args)
}

func (d *SQLiteDriver) RawExec(ctx context.Context, query string, args []any) (sql.Result, error) {
	return d.conn.ExecContext(ctx, query, args...)
}

func (d *SQLiteDriver) Transaction(ctx context.Context, fn func(tx Driver) error) error {
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin transaction: %w", err)
	}
	if err := fn(&txDriver{tx: tx}); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// WithWriteLock acquires the cross-process file lock around fn. The local
// store wraps every write in it (schema creation, inserts, updates, deletes,
// raw execs, transactions) so they cannot race with another process
// touching the same database file.
func (d *SQLiteDriver) WithWriteLock(fn func() error) error {
	if err := d.lock.acquire(defaultLockTimeout); err != nil {
		return err
	}
	defer d.lock.release()
	return fn()
}

// txDriver adapts a *sql.Tx to the Driver interface so callers can nest
// Driver-shaped calls inside Transaction without a separate type.
type txDriver struct {
	tx *sql.Tx
}

func (t *txDriver) Initialize(context.Context) error { return nil }
func (t *txDriver) Close() error                     { return nil }

func (t *txDriver) CreateTable(ctx context.Context, ddl string) error {
	_, err := t.tx.ExecContext(ctx, ddl)
	return err
}
func (t *txDriver) Insert(ctx context.Context, table string, values Values) (string, error) {
	return insertRow(ctx, t.tx, table, values)
}
func (t *txDriver) Update(ctx context.Context, table string, values Values, where string, whereArgs []any) (int64, error) {
	return updateRows(ctx, t.tx, table, values, where, whereArgs)
}
func (t *txDriver) Delete(ctx context.Context, table string, where string, whereArgs []any) (int64, error) {
	return deleteRows(ctx, t.tx, table, where, whereArgs)
}
func (t *txDriver) Query(ctx context.Context, table string, where string, whereArgs []any, orderBy string, limit int) ([]Values, error) {
	return queryRows(ctx, t.tx, table, where, whereArgs, orderBy, limit)
}
func (t *txDriver) RawQuery(ctx context.Context, query string, args []any) ([]Values, error) {
	return rawQuery(ctx, t.tx, query, args)
}
func (t *txDriver) RawExec(ctx context.Context, query string, args []any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, query, args...)
}
func (t *txDriver) Transaction(ctx context.Context, fn func(tx Driver) error) error {
	// Nested transactions aren't meaningful on a single *sql.Tx; run fn
	// against the same transaction.
	return fn(t)
}

// WithWriteLock is a no-op inside a transaction: Store.Transaction already
// acquired the write lock on the parent driver before opening this tx.
func (t *txDriver) WithWriteLock(fn func() error) error { return fn() }

// --- shared row helpers, operating through the execer interface ---

func insertRow(ctx context.Context, e execer, table string, values Values) (string, error) {
	cols, placeholders, args, err := buildInsert(values)
	if err != nil {
		return "", err
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, cols, placeholders)
	if _, err := e.ExecContext(ctx, query, args...); err != nil {
		return "", fmt.Errorf("storage: insert into %s: %w", table, err)
	}
	id, _ := values["id"].(string)
	return id, nil
}

func buildInsert(values Values) (cols, placeholders string, args []any, err error) {
	keys := make([]string, 0, len(values))
	for k := range values {
		if !validIdentifier(k) {
			return "", "", nil, fmt.Errorf("storage: invalid column name %q", k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ph := make([]string, len(keys))
	args = make([]any, len(keys))
	for i, k := range keys {
		ph[i] = "?"
		args[i] = values[k]
	}
	return strings.Join(keys, ", "), strings.Join(ph, ", "), args, nil
}

func updateRows(ctx context.Context, e execer, table string, values Values, where string, whereArgs []any) (int64, error) {
	keys := make([]string, 0, len(values))
	for k := range values {
		if !validIdentifier(k) {
			return 0, fmt.Errorf("storage: invalid column name %q", k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	setClauses := make([]string, len(keys))
	args := make([]any, 0, len(keys)+len(whereArgs))
	for i, k := range keys {
		setClauses[i] = fmt.Sprintf("%s = ?", k)
		args = append(args, values[k])
	}
	args = append(args, whereArgs...)

	query := fmt.Sprintf("UPDATE %s SET %s", table, strings.Join(setClauses, ", "))
	if where != "" {
		query += " WHERE " + where
	}
	res, err := e.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("storage: update %s: %w", table, err)
	}
	return res.RowsAffected()
}

func deleteRows(ctx context.Context, e execer, table string, where string, whereArgs []any) (int64, error) {
	query := fmt.Sprintf("DELETE FROM %s", table)
	if where != "" {
		query += " WHERE " + where
	}
	res, err := e.ExecContext(ctx, query, whereArgs...)
	if err != nil {
		return 0, fmt.Errorf("storage: delete from %s: %w", table, err)
	}
	return res.RowsAffected()
}

func queryRows(ctx context.Context, e execer, table string, where string, whereArgs []any, orderBy string, limit int) ([]Values, error) {
	query := fmt.Sprintf("SELECT * FROM %s", table)
	if where != "" {
		query += " WHERE " + where
	}
	if orderBy != "" {
		query += " ORDER BY " + orderBy
	}
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	return rawQuery(ctx, e, query, whereArgs)
}

func rawQuery(ctx context.Context, e execer, query string, args []any) ([]Values, error) {
	rows, err := e.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("storage: columns: %w", err)
	}

	var results []Values
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("storage: scan: %w", err)
		}
		row := make(Values, len(cols))
		for i, c := range cols {
			row[c] = normalizeScanned(vals[i])
		}
		results = append(results, row)
	}
	return results, rows.Err()
}

// normalizeScanned converts driver-returned []byte (the common
// representation for TEXT columns under modernc.org/sqlite) into string so
// callers never have to type-switch on []byte themselves.
func normalizeScanned(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

func validIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, c := range s {
		isAlpha := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '_'
		isDigit := c >= '0' && c <= '9'
		if i == 0 && !isAlpha {
			return false
		}
		if !isAlpha && !isDigit {
			return false
		}
	}
	return true
}

const defaultLockTimeout = 500 * time.Millisecond
