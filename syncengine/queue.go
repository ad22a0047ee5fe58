package syncengine

import (
	"context"
	"fmt"
)

// queueEntry mirrors one row of the sync_queue bookkeeping table (spec §3).
// sync_queue is not a registered entity table, so it is read and written
// through the store's raw SQL escape hatch rather than the CRUD methods.
type queueEntry struct {
	id         string
	entityID   string
	tableName  string
	endpoint   string
	retryCount int64
	maxRetries int64
}

// processSyncQueue drains sync_queue rows whose next_retry_at has arrived,
// re-attempting push_entity for each (spec §4.4.1's queue-draining step,
// run once at the start of every sync_all before any table is pushed).
func (e *Engine) processSyncQueue(ctx context.Context) error {
	now := nowMillis()
	rows, err := e.store.RawQuery(ctx,
		`SELECT id, entity_id, table_name, endpoint, retry_count, max_retries
		 FROM sync_queue WHERE next_retry_at IS NULL OR next_retry_at <= ?
		 ORDER BY next_retry_at ASC`,
		[]any{now})
	if err != nil {
		return fmt.Errorf("query sync_queue: %w", err)
	}

	for _, raw := range rows {
		entry, err := scanQueueEntry(raw)
		if err != nil {
			e.logger.Warn("skipping malformed sync_queue row", "err", err)
			continue
		}
		if err := e.drainQueueEntry(ctx, entry); err != nil {
			e.logger.Warn("drain queue entry failed", "entity_id", entry.entityID, "table", entry.tableName, "err", err)
		}
	}
	return nil
}

func (e *Engine) drainQueueEntry(ctx context.Context, entry queueEntry) error {
	localRow, found, err := e.store.FindByID(ctx, entry.tableName, entry.entityID)
	if err != nil {
		return err
	}
	if !found {
		// Source row is gone (hard-deleted or table unregistered); the
		// queued retry has nothing left to deliver.
		return e.deleteQueueEntry(ctx, entry.id)
	}

	pushErr := e.pushEntity(ctx, entry.tableName, entry.endpoint, localRow, false)
	if pushErr == nil {
		return e.deleteQueueEntry(ctx, entry.id)
	}

	now := nowMillis()
	retryCount := entry.retryCount + 1
	if retryCount >= entry.maxRetries {
		// push_entity has already marked the entity row sync_status='error'
		// with last_error set; the queue row's job is done.
		return e.deleteQueueEntry(ctx, entry.id)
	}

	nextRetry := now + queueRetryDelay(int(retryCount)).Milliseconds()
	return e.store.RawExecute(ctx,
		`UPDATE sync_queue SET retry_count = ?, next_retry_at = ?, last_error = ?, updated_at = ? WHERE id = ?`,
		[]any{retryCount, nextRetry, pushErr.Error(), now, entry.id})
}

func (e *Engine) deleteQueueEntry(ctx context.Context, id string) error {
	return e.store.RawExecute(ctx, `DELETE FROM sync_queue WHERE id = ?`, []any{id})
}

func scanQueueEntry(raw map[string]any) (queueEntry, error) {
	id, ok := raw["id"].(string)
	if !ok {
		return queueEntry{}, fmt.Errorf("sync_queue row missing id")
	}
	entityID, _ := raw["entity_id"].(string)
	tableName, _ := raw["table_name"].(string)
	endpoint, _ := raw["endpoint"].(string)
	retryCount := asInt64Loose(raw["retry_count"])
	maxRetries := asInt64Loose(raw["max_retries"])
	if maxRetries <= 0 {
		maxRetries = int64(defaultMaxRetries)
	}
	return queueEntry{
		id:         id,
		entityID:   entityID,
		tableName:  tableName,
		endpoint:   endpoint,
		retryCount: retryCount,
		maxRetries: maxRetries,
	}, nil
}

func asInt64Loose(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}
