package syncengine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/cenkalti/backoff/v4"

	"github.com/marcus/synckit/codec"
	"github.com/marcus/synckit/synerr"
)

// pushPhase implements spec §4.4.1: find every unsynced row in table,
// chunk it into batch_size pieces, and push each row in order. Chunks are
// processed sequentially to preserve the ordering guarantee in spec §5.
func (e *Engine) pushPhase(ctx context.Context, table, endpoint string) error {
	rows, err := e.store.FindUnsynced(ctx, table)
	if err != nil {
		return err
	}

	factory, _ := e.store.Factory(table)
	for _, batch := range chunk(rows, e.cfg.BatchSize) {
		for _, row := range batch {
			if _, materializeErr := codec.Materialize(row, factory); materializeErr != nil {
				fallback := newRawFallback(table, row.ID, row.CreatedAt, row.UpdatedAt, row.Payload)
				e.logger.Warn("materialize failed, pushing raw fallback", "table", table, "id", row.ID, "err", materializeErr, "entity", marshalEntityForLog(fallback))
			}
			if err := e.pushEntity(ctx, table, endpoint, row, true); err != nil {
				e.logger.Warn("push_entity failed", "table", table, "id", row.ID, "err", err)
			}
		}
	}
	return nil
}

// chunk splits rows into pieces no larger than size.
func chunk(rows []codec.Row, size int) [][]codec.Row {
	if size <= 0 || len(rows) == 0 {
		return [][]codec.Row{rows}
	}
	var out [][]codec.Row
	for i := 0; i < len(rows); i += size {
		end := i + size
		if end > len(rows) {
			end = len(rows)
		}
		out = append(out, rows[i:end])
	}
	return out
}

// pushEntity posts row to endpoint, retrying with backoff on failure.
// queueOnFailure controls whether an exhausted row is appended to
// sync_queue (spec §4.4.1); process_sync_queue calls this with
// queueOnFailure=false since it already owns the queue row's bookkeeping.
func (e *Engine) pushEntity(ctx context.Context, table, endpoint string, row codec.Row, queueOnFailure bool) error {
	pushErr := e.attemptPush(ctx, endpoint, row)
	now := nowMillis()

	if pushErr == nil {
		row.SyncStatus = codec.StatusSynced
		row.SyncedAt = &now
		row.LastError = nil
		if err := e.store.Update(ctx, table, row, now); err != nil {
			return err
		}
		e.recordHistory(ctx, "push", "update", table, row.ID)
		return nil
	}

	msg := pushErr.Error()
	row.SyncStatus = codec.StatusError
	row.LastError = &msg

	if queueOnFailure {
		row.SyncStatus = codec.StatusQueued
		if err := e.store.Update(ctx, table, row, now); err != nil {
			return err
		}
		if err := e.enqueueRetry(ctx, row.ID, table, endpoint, row.Payload, msg, now); err != nil {
			return err
		}
		return pushErr
	}

	if err := e.store.Update(ctx, table, row, now); err != nil {
		return err
	}
	return pushErr
}

// attemptPush performs the actual HTTP POST with up to MaxRetries
// retries, waiting retry·2s between attempts (spec §5).
func (e *Engine) attemptPush(ctx context.Context, endpoint string, row codec.Row) error {
	operation := func() error {
		resp, err := e.adapter.Post(ctx, endpoint, json.RawMessage(row.Payload))
		if err != nil {
			return err
		}
		if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
			return nil
		}
		return synerr.New(synerr.NetworkFailure, fmt.Sprintf("push %s: unexpected status %d", endpoint, resp.StatusCode))
	}

	bo := backoff.WithMaxRetries(newPushBackOff(), uint64(e.cfg.MaxRetries))
	return backoff.Retry(operation, bo)
}

// enqueueRetry appends a durable sync_queue row for a push that exhausted
// its inline retries (spec §3's sync_queue schema).
func (e *Engine) enqueueRetry(ctx context.Context, entityID, table, endpoint string, payload []byte, lastError string, now int64) error {
	nextRetry := now + initialQueueDelay.Milliseconds()
	values := map[string]any{
		"id":            newID(),
		"entity_id":     entityID,
		"table_name":    table,
		"endpoint":      endpoint,
		"operation":     "push",
		"payload":       string(payload),
		"retry_count":   int64(0),
		"max_retries":   int64(e.cfg.MaxRetries),
		"next_retry_at": nextRetry,
		"last_error":    lastError,
		"created_at":    now,
		"updated_at":    now,
	}
	return e.store.RawExecute(ctx,
		`INSERT INTO sync_queue (id, entity_id, table_name, endpoint, operation, payload, retry_count, max_retries, next_retry_at, last_error, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		[]any{
			values["id"], values["entity_id"], values["table_name"], values["endpoint"], values["operation"],
			values["payload"], values["retry_count"], values["max_retries"], values["next_retry_at"],
			values["last_error"], values["created_at"], values["updated_at"],
		})
}
