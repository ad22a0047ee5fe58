package synckit

import (
	"context"

	"github.com/marcus/synckit/entity"
)

// Typed is the generics-based convenience facade spec.md calls out as
// non-core: it saves callers from juggling entity.SyncEntity type
// assertions when every row in a table is known to be the same concrete
// type. It has no teacher precedent (the teacher targets dynamic JSON
// payloads throughout) but is a thin layer over Engine.
type Typed[T entity.SyncEntity] struct {
	engine *Engine
	table  string
}

// NewTyped binds a Typed facade to table on engine. table must already be
// registered via Engine.RegisterEntity.
func NewTyped[T entity.SyncEntity](engine *Engine, table string) Typed[T] {
	return Typed[T]{engine: engine, table: table}
}

// Save inserts v as a new row.
func (t Typed[T]) Save(ctx context.Context, v T) error {
	return t.engine.Save(ctx, v)
}

// Update overwrites v's row.
func (t Typed[T]) Update(ctx context.Context, v T) error {
	return t.engine.Update(ctx, v)
}

// Delete hard-deletes the row with the given id.
func (t Typed[T]) Delete(ctx context.Context, id string) error {
	return t.engine.Delete(ctx, t.table, id)
}

// SoftDelete tombstones the row with the given id.
func (t Typed[T]) SoftDelete(ctx context.Context, id string) error {
	return t.engine.SoftDelete(ctx, t.table, id)
}

// FindByID returns the row for id typed as T, or found=false.
func (t Typed[T]) FindByID(ctx context.Context, id string) (v T, found bool, err error) {
	ent, found, err := t.engine.FindByID(ctx, t.table, id)
	if err != nil || !found {
		return v, found, err
	}
	v, ok := ent.(T)
	if !ok {
		return v, false, &typeMismatchError{table: t.table}
	}
	return v, true, nil
}

// FindAll returns every row in the table typed as T.
func (t Typed[T]) FindAll(ctx context.Context) ([]T, error) {
	ents, err := t.engine.FindAll(ctx, t.table)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(ents))
	for _, ent := range ents {
		v, ok := ent.(T)
		if !ok {
			return nil, &typeMismatchError{table: t.table}
		}
		out = append(out, v)
	}
	return out, nil
}

// Count returns the number of rows in the table.
func (t Typed[T]) Count(ctx context.Context) (int64, error) {
	return t.engine.Count(ctx, t.table)
}

type typeMismatchError struct{ table string }

func (e *typeMismatchError) Error() string {
	return "synckit: row in table " + e.table + " does not decode to the expected type"
}
