// Package testentity provides TodoItem, a minimal entity.SyncEntity used
// by the demo CLI and by synckit's own facade tests. Its shape (title plus a
// status enum) is grounded on the teacher's internal/models.Issue,
// trimmed to the fields a sync demo actually exercises.
package testentity

import "github.com/marcus/synckit/entity"

// Status is the lifecycle state of a TodoItem.
type Status string

const (
	StatusOpen   Status = "open"
	StatusDone   Status = "done"
	StatusBlocked Status = "blocked"
)

// TodoItem is the demo domain entity synced by cmd/synckit-demo.
type TodoItem struct {
	entity.Base
	Title  string `json:"title"`
	Status Status `json:"status"`
}

// Touch returns a copy with bookkeeping fields advanced; Title/Status are
// preserved verbatim since Touch never changes domain fields itself.
func (t TodoItem) Touch(now int64) entity.SyncEntity {
	t.Base = entity.TouchBase(t.Base, now)
	return t
}

// NewTodoItem constructs a fresh, never-synced TodoItem with version 1.
func NewTodoItem(id, title string, now int64) TodoItem {
	return TodoItem{
		Base: entity.Base{
			IDValue:        id,
			Table:          "todos",
			CreatedAtValue: now,
			UpdatedAtValue: now,
			VersionValue:   1,
		},
		Title:  title,
		Status: StatusOpen,
	}
}

// Factory decodes a field map (from the codec, or a pulled remote payload)
// into a TodoItem. Registered per table name with the store/engine.
func Factory(fields map[string]any) (entity.SyncEntity, error) {
	t := TodoItem{Base: entity.Base{Table: "todos"}, Status: StatusOpen}

	if v, ok := fields["id"].(string); ok {
		t.IDValue = v
	}
	t.CreatedAtValue = toInt64(fields["created_at"])
	t.UpdatedAtValue = toInt64(fields["updated_at"])
	t.VersionValue = toInt64(fields["version"])
	t.SyncedAtValue = toInt64Ptr(fields["synced_at"])
	if v, ok := fields["is_deleted"].(bool); ok {
		t.Deleted = v
	}
	if m, ok := fields["metadata"].(map[string]any); ok {
		t.MetadataValue = m
	}
	if v, ok := fields["title"].(string); ok {
		t.Title = v
	}
	if v, ok := fields["status"].(string); ok {
		t.Status = Status(v)
	}
	return t, nil
}

func toInt64(v any) int64 {
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

func toInt64Ptr(v any) *int64 {
	if v == nil {
		return nil
	}
	n := toInt64(v)
	return &n
}
