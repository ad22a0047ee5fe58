package store

import (
	"context"

	"github.com/marcus/synckit/synerr"
)

// HistoryEntry is one row of the append-only sync_history audit trail,
// grounded on the teacher's SyncHistoryEntry (internal/db/sync_history.go),
// adapted from time.Time/SQLite-DATETIME to the millisecond epoch ints used
// throughout this module.
type HistoryEntry struct {
	ID         int64
	Direction  string // "push" or "pull"
	ActionType string // "create", "update", "delete"
	EntityType string
	EntityID   string
	DeviceID   string
	Timestamp  int64
}

// RecordSyncHistory appends one audit entry. Supplements the status
// snapshot's aggregate counts with a decomposed, queryable trail (spec's
// supplemented-features note on sync_history).
func (s *Store) RecordSyncHistory(ctx context.Context, entry HistoryEntry) error {
	if err := s.requireInitialized(); err != nil {
		return err
	}
	err := s.driver.WithWriteLock(func() error {
		_, err := s.driver.RawExec(ctx,
			`INSERT INTO sync_history (direction, action_type, entity_type, entity_id, device_id, timestamp)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			[]any{entry.Direction, entry.ActionType, entry.EntityType, entry.EntityID, entry.DeviceID, entry.Timestamp})
		return err
	})
	if err != nil {
		return synerr.Wrap(synerr.StorageFailure, "record sync history", err)
	}
	return nil
}

// SyncHistoryTail returns the last limit entries, oldest first.
func (s *Store) SyncHistoryTail(ctx context.Context, limit int) ([]HistoryEntry, error) {
	if err := s.requireInitialized(); err != nil {
		return nil, err
	}
	rows, err := s.driver.RawQuery(ctx,
		`SELECT id, direction, action_type, entity_type, entity_id, device_id, timestamp
		 FROM sync_history ORDER BY id DESC LIMIT ?`, []any{limit})
	if err != nil {
		return nil, synerr.Wrap(synerr.StorageFailure, "sync history tail", err)
	}
	entries := make([]HistoryEntry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, scanHistoryEntry(r))
	}
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// SyncHistorySince returns entries with id > afterID, ascending, for
// follow-mode polling (e.g. a CLI "sync tail -f" command).
func (s *Store) SyncHistorySince(ctx context.Context, afterID int64, limit int) ([]HistoryEntry, error) {
	if err := s.requireInitialized(); err != nil {
		return nil, err
	}
	rows, err := s.driver.RawQuery(ctx,
		`SELECT id, direction, action_type, entity_type, entity_id, device_id, timestamp
		 FROM sync_history WHERE id > ? ORDER BY id ASC LIMIT ?`, []any{afterID, limit})
	if err != nil {
		return nil, synerr.Wrap(synerr.StorageFailure, "sync history since", err)
	}
	entries := make([]HistoryEntry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, scanHistoryEntry(r))
	}
	return entries, nil
}

// PruneSyncHistory deletes every row outside the newest maxRows entries.
func (s *Store) PruneSyncHistory(ctx context.Context, maxRows int) error {
	if err := s.requireInitialized(); err != nil {
		return err
	}
	return s.RawExecute(ctx,
		`DELETE FROM sync_history WHERE id NOT IN (SELECT id FROM sync_history ORDER BY id DESC LIMIT ?)`,
		[]any{maxRows})
}

func scanHistoryEntry(r map[string]any) HistoryEntry {
	e := HistoryEntry{ID: asInt64(r["id"])}
	e.Direction, _ = r["direction"].(string)
	e.ActionType, _ = r["action_type"].(string)
	e.EntityType, _ = r["entity_type"].(string)
	e.EntityID, _ = r["entity_id"].(string)
	e.DeviceID, _ = r["device_id"].(string)
	e.Timestamp = asInt64(r["timestamp"])
	return e
}
