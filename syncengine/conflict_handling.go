package syncengine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/marcus/synckit/codec"
	"github.com/marcus/synckit/conflict"
	"github.com/marcus/synckit/entity"
)

const conflictManualResolutionMsg = "Conflict requires manual resolution"

// handleConflict runs a detected conflict through the resolver chain
// (spec §4.4.3/§4.4.4). A resolved conflict is written straight back as
// synced; an unresolved one is persisted to sync_conflicts and the local
// row is marked sync_status='conflict' pending manual resolution.
func (e *Engine) handleConflict(ctx context.Context, table, entityID string, local, remote entity.SyncEntity, now int64) error {
	c := conflict.Conflict{
		ID:         newID(),
		EntityID:   entityID,
		EntityType: table,
		Local:      local,
		Remote:     remote,
		Kind:       conflict.ClassifyKind(local, remote),
		DetectedAt: now,
		IsResolved: false,
	}

	winner, _, ok := conflict.Resolve(c, e.resolversSnapshot())
	if ok {
		return e.applyResolvedConflict(ctx, table, winner, now)
	}
	return e.persistUnresolvedConflict(ctx, c, now)
}

func (e *Engine) applyResolvedConflict(ctx context.Context, table string, winner entity.SyncEntity, now int64) error {
	row, err := codec.SerializeForStorage(winner, codec.StatusSynced, true, nil)
	if err != nil {
		return err
	}
	row.SyncedAt = &now
	row.LastError = nil
	return e.store.Update(ctx, table, row, now)
}

func (e *Engine) persistUnresolvedConflict(ctx context.Context, c conflict.Conflict, now int64) error {
	localJSON, err := json.Marshal(c.Local)
	if err != nil {
		return fmt.Errorf("marshal local snapshot: %w", err)
	}
	remoteJSON, err := json.Marshal(c.Remote)
	if err != nil {
		return fmt.Errorf("marshal remote snapshot: %w", err)
	}

	if err := e.store.RawExecute(ctx,
		`INSERT INTO sync_conflicts (id, entity_id, entity_type, local_data, remote_data, conflict_type, detected_at, is_resolved, resolution_strategy, resolved_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 0, NULL, NULL, ?, ?)`,
		[]any{c.ID, c.EntityID, c.EntityType, string(localJSON), string(remoteJSON), string(c.Kind), c.DetectedAt, now, now},
	); err != nil {
		return fmt.Errorf("persist conflict: %w", err)
	}

	localRow, found, err := e.store.FindByID(ctx, c.EntityType, c.EntityID)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}

	// DataCorruption never routes to a resolver and is surfaced as a push
	// failure, not a pending conflict (spec's Open Question 3 decision).
	msg := conflictManualResolutionMsg
	localRow.SyncStatus = codec.StatusConflict
	if c.Kind == conflict.DataCorruption {
		msg = "data corruption detected, not routed to a resolver"
		localRow.SyncStatus = codec.StatusError
		e.logger.Warn("data corruption conflict recorded without resolution", "entity_id", c.EntityID, "table", c.EntityType)
	}
	localRow.LastError = &msg
	return e.store.Update(ctx, c.EntityType, localRow, now)
}

// retryStoredConflicts re-runs every unresolved sync_conflicts row for
// table through the current resolver chain, in case a newly registered
// resolver (or a strategy change) can now settle it (spec §4.4.4).
func (e *Engine) retryStoredConflicts(ctx context.Context, table string) error {
	rows, err := e.store.RawQuery(ctx,
		`SELECT id, entity_id, entity_type, local_data, remote_data, conflict_type, detected_at
		 FROM sync_conflicts WHERE entity_type = ? AND is_resolved = 0`,
		[]any{table})
	if err != nil {
		return fmt.Errorf("query sync_conflicts: %w", err)
	}

	factory, _ := e.store.Factory(table)
	now := nowMillis()

	for _, raw := range rows {
		c, err := rebuildConflict(raw, factory)
		if err != nil {
			e.logger.Warn("skipping malformed sync_conflicts row", "table", table, "err", err)
			continue
		}

		winner, _, ok := conflict.Resolve(c, e.resolversSnapshot())
		if !ok {
			continue
		}
		if err := e.applyResolvedConflict(ctx, table, winner, now); err != nil {
			e.logger.Warn("apply resolved stored conflict failed", "id", c.ID, "err", err)
			continue
		}
		if err := e.store.RawExecute(ctx,
			`UPDATE sync_conflicts SET is_resolved = 1, resolved_at = ?, updated_at = ? WHERE id = ?`,
			[]any{now, now, c.ID},
		); err != nil {
			e.logger.Warn("mark conflict resolved failed", "id", c.ID, "err", err)
		}
	}
	return nil
}

func rebuildConflict(raw map[string]any, factory entity.Factory) (conflict.Conflict, error) {
	id, _ := raw["id"].(string)
	entityID, _ := raw["entity_id"].(string)
	entityType, _ := raw["entity_type"].(string)
	localData, _ := raw["local_data"].(string)
	remoteData, _ := raw["remote_data"].(string)
	conflictType, _ := raw["conflict_type"].(string)
	detectedAt := asInt64Loose(raw["detected_at"])

	if id == "" || factory == nil {
		return conflict.Conflict{}, fmt.Errorf("conflict row missing id or unregistered table %q", entityType)
	}

	local, err := unmarshalEntity(localData, factory)
	if err != nil {
		return conflict.Conflict{}, fmt.Errorf("unmarshal local snapshot: %w", err)
	}
	remote, err := unmarshalEntity(remoteData, factory)
	if err != nil {
		return conflict.Conflict{}, fmt.Errorf("unmarshal remote snapshot: %w", err)
	}

	kind, err := conflict.ParseKind(conflictType)
	if err != nil {
		kind = conflict.ClassifyKind(local, remote)
	}

	return conflict.Conflict{
		ID:         id,
		EntityID:   entityID,
		EntityType: entityType,
		Local:      local,
		Remote:     remote,
		Kind:       kind,
		DetectedAt: detectedAt,
		IsResolved: false,
	}, nil
}

func unmarshalEntity(data string, factory entity.Factory) (entity.SyncEntity, error) {
	fields := map[string]any{}
	if len(data) > 0 {
		if err := json.Unmarshal([]byte(data), &fields); err != nil {
			return nil, err
		}
	}
	return factory(fields)
}
