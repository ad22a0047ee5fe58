// Package codec converts between a domain entity.SyncEntity and the
// storage row representation persisted by the local store. It is the only
// place that knows how to go from "struct" to "payload blob + control
// columns" and back — the engine and store never unmarshal payload JSON
// themselves, the way the teacher's upsertEntity/materialize split keeps
// all JSON handling inside internal/sync/events.go.
package codec

import (
	"encoding/json"
	"fmt"

	"github.com/marcus/synckit/entity"
)

// SyncStatus is the canonical wire string stored in a row's sync_status
// column. Parsing is case-insensitive; unrecognized strings fail.
type SyncStatus string

const (
	StatusPending  SyncStatus = "pending"
	StatusQueued   SyncStatus = "queued"
	StatusSynced   SyncStatus = "synced"
	StatusConflict SyncStatus = "conflict"
	StatusError    SyncStatus = "error"
)

// ParseSyncStatus parses a case-insensitive wire string into a SyncStatus.
func ParseSyncStatus(s string) (SyncStatus, error) {
	switch SyncStatus(lower(s)) {
	case StatusPending:
		return StatusPending, nil
	case StatusQueued:
		return StatusQueued, nil
	case StatusSynced:
		return StatusSynced, nil
	case StatusConflict:
		return StatusConflict, nil
	case StatusError:
		return StatusError, nil
	default:
		return "", fmt.Errorf("codec: unrecognized sync_status %q", s)
	}
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// Row is the storage-row representation of an entity: payload plus the
// indexed control columns described in spec §3.
type Row struct {
	ID         string
	TableName  string
	Payload    []byte // JSON form of the entity
	SyncStatus SyncStatus
	Version    int64
	IsDeleted  bool
	CreatedAt  int64
	UpdatedAt  int64
	SyncedAt   *int64
	DeletedAt  *int64
	Metadata   map[string]any
	LastError  *string
}

// SerializeForStorage produces the storage row for e. includeID controls
// whether the caller wants Row.ID populated from e.ID() (false is used when
// the row's primary key is supplied separately, e.g. on first insert before
// the id column exists).
func SerializeForStorage(e entity.SyncEntity, status SyncStatus, includeID bool, lastError *string) (Row, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return Row{}, fmt.Errorf("codec: marshal entity %s/%s: %w", e.TableName(), e.ID(), err)
	}

	row := Row{
		TableName:  e.TableName(),
		Payload:    payload,
		SyncStatus: status,
		Version:    e.Version(),
		IsDeleted:  e.IsDeleted(),
		CreatedAt:  e.CreatedAt(),
		UpdatedAt:  e.UpdatedAt(),
		SyncedAt:   e.SyncedAt(),
		Metadata:   e.Metadata(),
		LastError:  lastError,
	}
	if includeID {
		row.ID = e.ID()
	}
	if e.IsDeleted() {
		deletedAt := e.UpdatedAt()
		row.DeletedAt = &deletedAt
	}
	return row, nil
}

// Materialize decodes row.Payload into a field map, overlays authoritative
// control-column values, and invokes factory to construct the concrete
// entity. If payload is missing or malformed, an empty map is used — the
// overlay still produces a structurally valid entity from control columns
// alone.
func Materialize(row Row, factory entity.Factory) (entity.SyncEntity, error) {
	if factory == nil {
		return nil, fmt.Errorf("codec: no factory registered for table %q", row.TableName)
	}

	fields := map[string]any{}
	if len(row.Payload) > 0 {
		if err := json.Unmarshal(row.Payload, &fields); err != nil {
			fields = map[string]any{}
		}
	}

	fields["id"] = row.ID
	fields["updated_at"] = row.UpdatedAt
	fields["is_deleted"] = row.IsDeleted
	if row.SyncedAt != nil {
		fields["synced_at"] = *row.SyncedAt
	}
	if row.DeletedAt != nil {
		fields["deleted_at"] = *row.DeletedAt
	}
	if row.LastError != nil {
		fields["last_error"] = *row.LastError
	}
	if _, ok := fields["created_at"]; !ok {
		fields["created_at"] = row.CreatedAt
	}
	if _, ok := fields["version"]; !ok {
		fields["version"] = row.Version
	}
	if row.Metadata != nil {
		fields["metadata"] = row.Metadata
	}

	e, err := factory(fields)
	if err != nil {
		return nil, fmt.Errorf("codec: materialize %s/%s: %w", row.TableName, row.ID, err)
	}
	return e, nil
}
