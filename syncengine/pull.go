package syncengine

import (
	"context"
	"fmt"

	"github.com/cenkalti/backoff/v4"

	"github.com/marcus/synckit/codec"
	"github.com/marcus/synckit/conflict"
	"github.com/marcus/synckit/entity"
	"github.com/marcus/synckit/synerr"
)

// pullPhase implements spec §4.4.2: GET endpoint, expect a JSON array, and
// reconcile each element against the local row with the same id.
func (e *Engine) pullPhase(ctx context.Context, table, endpoint string) error {
	data, err := e.attemptPull(ctx, endpoint)
	if err != nil {
		e.logger.Warn("pull exhausted retries, skipping", "table", table, "endpoint", endpoint, "err", err)
		return nil
	}
	if data == nil {
		return nil
	}

	elements, ok := data.([]any)
	if !ok {
		e.logger.Warn("pull response was not a JSON array, skipping", "table", table)
		return nil
	}

	factory, _ := e.store.Factory(table)
	now := nowMillis()

	for _, elem := range elements {
		obj, ok := elem.(map[string]any)
		if !ok {
			e.logger.Warn("pull element was not a JSON object, skipping", "table", table)
			continue
		}
		if err := e.reconcilePulledElement(ctx, table, obj, factory, now); err != nil {
			e.logger.Warn("reconcile pulled element failed", "table", table, "err", err)
		}
	}
	return nil
}

func (e *Engine) reconcilePulledElement(ctx context.Context, table string, obj map[string]any, factory entity.Factory, now int64) error {
	id, ok := obj["id"].(string)
	if !ok || id == "" {
		return synerr.New(synerr.Validation, "pulled element missing id")
	}

	fields := make(map[string]any, len(obj)+1)
	for k, v := range obj {
		fields[k] = v
	}
	fields["synced_at"] = now

	remoteEnt, err := factory(fields)
	if err != nil {
		return fmt.Errorf("materialize remote element %s: %w", id, err)
	}

	localRow, found, err := e.store.FindByID(ctx, table, id)
	if err != nil {
		return err
	}
	if !found {
		row, err := codec.SerializeForStorage(remoteEnt, codec.StatusSynced, true, nil)
		if err != nil {
			return err
		}
		if err := e.store.Insert(ctx, table, row, now); err != nil {
			return err
		}
		e.recordHistory(ctx, "pull", "create", table, id)
		return nil
	}

	localEnt, err := codec.Materialize(localRow, factory)
	if err != nil {
		localEnt = newRawFallback(table, localRow.ID, localRow.CreatedAt, localRow.UpdatedAt, localRow.Payload)
	}

	if !conflict.HasConflict(localEnt, remoteEnt) {
		row, err := codec.SerializeForStorage(remoteEnt, codec.StatusSynced, true, nil)
		if err != nil {
			return err
		}
		row.LastError = nil
		if err := e.store.Update(ctx, table, row, now); err != nil {
			return err
		}
		e.recordHistory(ctx, "pull", "update", table, id)
		return nil
	}

	return e.handleConflict(ctx, table, id, localEnt, remoteEnt, now)
}

// attemptPull performs the GET with up to MaxRetries retries. On
// exhaustion it returns an error for the caller to log (no engine-level
// failure is surfaced, per spec §4.4.2).
func (e *Engine) attemptPull(ctx context.Context, endpoint string) (any, error) {
	var result any
	operation := func() error {
		resp, err := e.adapter.Get(ctx, endpoint)
		if err != nil {
			return err
		}
		if resp.StatusCode != 200 {
			return synerr.New(synerr.NetworkFailure, fmt.Sprintf("pull %s: unexpected status %d", endpoint, resp.StatusCode))
		}
		result = resp.Data
		return nil
	}

	bo := backoff.WithMaxRetries(newPullBackOff(), uint64(e.cfg.MaxRetries))
	if err := backoff.Retry(operation, bo); err != nil {
		return nil, err
	}
	return result, nil
}
