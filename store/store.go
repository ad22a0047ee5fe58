// Package store implements the local store (spec §4.1): the sole writer of
// entity, queue, and conflict tables, backed by a storage.Driver. It knows
// nothing about domain fields — every entity table is addressed purely by
// name and codec.Row — which is what lets one store serve an arbitrary set
// of registered entity types, mirroring the teacher's table-registry split
// between internal/db (mechanics) and the caller-supplied schema.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/marcus/synckit/codec"
	"github.com/marcus/synckit/entity"
	"github.com/marcus/synckit/storage"
	"github.com/marcus/synckit/synerr"
)

// registration bundles what the store needs to remember about each entity
// table: the factory used to materialize rows, grounded in the polymorphic
// entity design (spec §7 "Polymorphic entities").
type registration struct {
	factory entity.Factory
}

// Store is the local store described in spec §4.1.
type Store struct {
	driver storage.Driver

	mu            sync.RWMutex
	initialized   bool
	registrations map[string]registration
}

// New wraps driver in a Store. Call Initialize before any other method.
func New(driver storage.Driver) *Store {
	return &Store{
		driver:        driver,
		registrations: make(map[string]registration),
	}
}

// Initialize opens the underlying driver and creates the bookkeeping tables
// plus every table registered so far. Idempotent.
func (s *Store) Initialize(ctx context.Context) error {
	if err := s.driver.Initialize(ctx); err != nil {
		return synerr.Wrap(synerr.StorageFailure, "initialize storage driver", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.driver.WithWriteLock(func() error {
		for _, ddl := range bootstrapDDL() {
			if err := s.driver.CreateTable(ctx, ddl); err != nil {
				return synerr.Wrap(synerr.StorageFailure, "create bookkeeping tables", err)
			}
		}
		for table := range s.registrations {
			if err := s.createEntityTableLocked(ctx, table); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.initialized = true
	return nil
}

// createEntityTable acquires the write lock itself; used by RegisterEntity
// after Initialize has already run.
func (s *Store) createEntityTable(ctx context.Context, table string) error {
	return s.driver.WithWriteLock(func() error {
		return s.createEntityTableLocked(ctx, table)
	})
}

// createEntityTableLocked assumes the caller already holds the write lock.
func (s *Store) createEntityTableLocked(ctx context.Context, table string) error {
	for _, ddl := range entityTableDDL(table) {
		if err := s.driver.CreateTable(ctx, ddl); err != nil {
			return synerr.Wrap(synerr.StorageFailure, fmt.Sprintf("create table %s", table), err)
		}
	}
	return nil
}

// RegisterEntity associates table with factory. If the store is already
// initialized, the table (and its indexes) are created immediately;
// otherwise creation is deferred to Initialize.
func (s *Store) RegisterEntity(ctx context.Context, table string, factory entity.Factory) error {
	s.mu.Lock()
	s.registrations[table] = registration{factory: factory}
	initialized := s.initialized
	s.mu.Unlock()

	if initialized {
		return s.createEntityTable(ctx, table)
	}
	return nil
}

// Factory returns the factory registered for table, if any.
func (s *Store) Factory(table string) (entity.Factory, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.registrations[table]
	if !ok {
		return nil, false
	}
	return r.factory, true
}

func (s *Store) requireInitialized() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized {
		return synerr.New(synerr.NotInitialized, "store not initialized")
	}
	return nil
}

// Insert stamps created_at/updated_at when absent and writes row to table.
func (s *Store) Insert(ctx context.Context, table string, row codec.Row, nowMillis int64) error {
	if err := s.requireInitialized(); err != nil {
		return err
	}
	if row.CreatedAt == 0 {
		row.CreatedAt = nowMillis
	}
	if row.UpdatedAt == 0 {
		row.UpdatedAt = nowMillis
	}

	values, err := rowToValues(row)
	if err != nil {
		return err
	}
	return s.driver.WithWriteLock(func() error {
		if _, err := s.driver.Insert(ctx, table, values); err != nil {
			return synerr.Wrap(synerr.StorageFailure, fmt.Sprintf("insert into %s", table), err)
		}
		return nil
	})
}

// Update stamps updated_at and overwrites row in table by id.
func (s *Store) Update(ctx context.Context, table string, row codec.Row, nowMillis int64) error {
	if err := s.requireInitialized(); err != nil {
		return err
	}
	row.UpdatedAt = nowMillis

	values, err := rowToValues(row)
	if err != nil {
		return err
	}
	delete(values, "id")
	return s.driver.WithWriteLock(func() error {
		if _, err := s.driver.Update(ctx, table, values, "id = ?", []any{row.ID}); err != nil {
			return synerr.Wrap(synerr.StorageFailure, fmt.Sprintf("update %s", table), err)
		}
		return nil
	})
}

// Delete hard-deletes the row with the given id.
func (s *Store) Delete(ctx context.Context, table, id string) error {
	if err := s.requireInitialized(); err != nil {
		return err
	}
	return s.driver.WithWriteLock(func() error {
		if _, err := s.driver.Delete(ctx, table, "id = ?", []any{id}); err != nil {
			return synerr.Wrap(synerr.StorageFailure, fmt.Sprintf("delete from %s", table), err)
		}
		return nil
	})
}

// SoftDelete marks the row deleted without removing it: is_deleted=1,
// deleted_at=now, sync_status=pending, synced_at=NULL, so the next sync
// pass pushes the tombstone.
func (s *Store) SoftDelete(ctx context.Context, table, id string, nowMillis int64) error {
	if err := s.requireInitialized(); err != nil {
		return err
	}
	values := storage.Values{
		"is_deleted":  true,
		"deleted_at":  nowMillis,
		"updated_at":  nowMillis,
		"sync_status": string(codec.StatusPending),
		"synced_at":   nil,
	}
	return s.driver.WithWriteLock(func() error {
		if _, err := s.driver.Update(ctx, table, values, "id = ?", []any{id}); err != nil {
			return synerr.Wrap(synerr.StorageFailure, fmt.Sprintf("soft delete in %s", table), err)
		}
		return nil
	})
}

// FindByID returns the row with the given id, or ok=false if absent.
func (s *Store) FindByID(ctx context.Context, table, id string) (codec.Row, bool, error) {
	if err := s.requireInitialized(); err != nil {
		return codec.Row{}, false, err
	}
	rows, err := s.driver.Query(ctx, table, "id = ?", []any{id}, "", 1)
	if err != nil {
		return codec.Row{}, false, synerr.Wrap(synerr.StorageFailure, fmt.Sprintf("find %s/%s", table, id), err)
	}
	if len(rows) == 0 {
		return codec.Row{}, false, nil
	}
	row, err := valuesToRow(table, rows[0])
	return row, true, err
}

// FindAll returns every row in table, oldest created_at first.
func (s *Store) FindAll(ctx context.Context, table string) ([]codec.Row, error) {
	if err := s.requireInitialized(); err != nil {
		return nil, err
	}
	return s.queryRows(ctx, table, "", nil, "created_at ASC")
}

// FindUnsynced returns rows where sync_status != 'synced' OR sync_status IS NULL.
func (s *Store) FindUnsynced(ctx context.Context, table string) ([]codec.Row, error) {
	if err := s.requireInitialized(); err != nil {
		return nil, err
	}
	return s.queryRows(ctx, table, "sync_status != ? OR sync_status IS NULL", []any{string(codec.StatusSynced)}, "created_at ASC")
}

func (s *Store) queryRows(ctx context.Context, table, where string, args []any, orderBy string) ([]codec.Row, error) {
	values, err := s.driver.Query(ctx, table, where, args, orderBy, 0)
	if err != nil {
		return nil, synerr.Wrap(synerr.StorageFailure, fmt.Sprintf("query %s", table), err)
	}
	rows := make([]codec.Row, 0, len(values))
	for _, v := range values {
		row, err := valuesToRow(table, v)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Count returns the number of rows currently in table.
func (s *Store) Count(ctx context.Context, table string) (int64, error) {
	if err := s.requireInitialized(); err != nil {
		return 0, err
	}
	results, err := s.driver.RawQuery(ctx, fmt.Sprintf("SELECT COUNT(*) AS n FROM %s", table), nil)
	if err != nil {
		return 0, synerr.Wrap(synerr.StorageFailure, fmt.Sprintf("count %s", table), err)
	}
	if len(results) == 0 {
		return 0, nil
	}
	switch n := results[0]["n"].(type) {
	case int64:
		return n, nil
	case float64:
		return int64(n), nil
	default:
		return 0, nil
	}
}

// RawQuery executes an arbitrary SELECT against the underlying driver.
func (s *Store) RawQuery(ctx context.Context, query string, args []any) ([]storage.Values, error) {
	if err := s.requireInitialized(); err != nil {
		return nil, err
	}
	return s.driver.RawQuery(ctx, query, args)
}

// RawExecute executes an arbitrary non-SELECT statement.
func (s *Store) RawExecute(ctx context.Context, query string, args []any) error {
	if err := s.requireInitialized(); err != nil {
		return err
	}
	return s.driver.WithWriteLock(func() error {
		_, err := s.driver.RawExec(ctx, query, args)
		return err
	})
}

// Transaction runs fn with a Store bound to a single underlying
// transaction; registrations are shared with the parent. The write lock is
// held for the whole transaction so another process can't interleave writes
// between statements.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	if err := s.requireInitialized(); err != nil {
		return err
	}
	return s.driver.WithWriteLock(func() error {
		return s.driver.Transaction(ctx, func(txDriver storage.Driver) error {
			txStore := &Store{driver: txDriver, registrations: s.registrations, initialized: true}
			return fn(txStore)
		})
	})
}

func rowToValues(row codec.Row) (storage.Values, error) {
	var metaJSON []byte
	if row.Metadata != nil {
		b, err := json.Marshal(row.Metadata)
		if err != nil {
			return nil, synerr.Wrap(synerr.Validation, "marshal row metadata", err)
		}
		metaJSON = b
	}

	values := storage.Values{
		"id":          row.ID,
		"payload":     string(row.Payload),
		"sync_status": string(row.SyncStatus),
		"version":     row.Version,
		"is_deleted":  row.IsDeleted,
		"created_at":  row.CreatedAt,
		"updated_at":  row.UpdatedAt,
	}
	if row.SyncedAt != nil {
		values["synced_at"] = *row.SyncedAt
	} else {
		values["synced_at"] = nil
	}
	if row.DeletedAt != nil {
		values["deleted_at"] = *row.DeletedAt
	} else {
		values["deleted_at"] = nil
	}
	if metaJSON != nil {
		values["metadata"] = string(metaJSON)
	} else {
		values["metadata"] = nil
	}
	if row.LastError != nil {
		values["last_error"] = *row.LastError
	} else {
		values["last_error"] = nil
	}
	return values, nil
}

func valuesToRow(table string, v storage.Values) (codec.Row, error) {
	row := codec.Row{TableName: table}

	if id, ok := v["id"].(string); ok {
		row.ID = id
	}
	if payload, ok := v["payload"].(string); ok {
		row.Payload = []byte(payload)
	}
	if status, ok := v["sync_status"].(string); ok {
		parsed, err := codec.ParseSyncStatus(status)
		if err != nil {
			return codec.Row{}, synerr.Wrap(synerr.StorageFailure, "parse sync_status", err)
		}
		row.SyncStatus = parsed
	}
	row.Version = asInt64(v["version"])
	row.IsDeleted = asBool(v["is_deleted"])
	row.CreatedAt = asInt64(v["created_at"])
	row.UpdatedAt = asInt64(v["updated_at"])

	if sa := asInt64Ptr(v["synced_at"]); sa != nil {
		row.SyncedAt = sa
	}
	if da := asInt64Ptr(v["deleted_at"]); da != nil {
		row.DeletedAt = da
	}
	if le, ok := v["last_error"].(string); ok && le != "" {
		row.LastError = &le
	}
	if meta, ok := v["metadata"].(string); ok && meta != "" {
		var m map[string]any
		if err := json.Unmarshal([]byte(meta), &m); err == nil {
			row.Metadata = m
		}
	}
	return row, nil
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case float64:
		return int64(n)
	default:
		return 0
	}
}

func asInt64Ptr(v any) *int64 {
	if v == nil {
		return nil
	}
	n := asInt64(v)
	return &n
}

func asBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case int64:
		return b != 0
	case float64:
		return b != 0
	default:
		return false
	}
}
