package synckit_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/marcus/synckit"
	"github.com/marcus/synckit/internal/testentity"
)

func newTestEngine(t *testing.T) *synckit.Engine {
	t.Helper()
	ctx := context.Background()
	engine, err := synckit.New(ctx, synckit.Options{
		DBPath: filepath.Join(t.TempDir(), "synckit.db"),
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	t.Cleanup(func() { engine.Close() })

	if err := engine.RegisterEntity(ctx, "todos", "/todos", testentity.Factory); err != nil {
		t.Fatalf("register entity: %v", err)
	}
	return engine
}

func TestSaveThenFindByID_RoundTrips(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)

	item := testentity.NewTodoItem("t1", "buy milk", 1000)
	if err := engine.Save(ctx, item); err != nil {
		t.Fatalf("save: %v", err)
	}

	found, ok, err := engine.FindByID(ctx, "todos", "t1")
	if err != nil {
		t.Fatalf("find by id: %v", err)
	}
	if !ok {
		t.Fatal("expected row to be found")
	}
	todo := found.(testentity.TodoItem)
	if todo.Title != "buy milk" {
		t.Fatalf("expected title buy milk, got %q", todo.Title)
	}
	if todo.SyncedAt() != nil {
		t.Fatal("expected synced_at to be nil after save")
	}
}

func TestUpdate_StampsUpdatedAtAndClearsSyncedAt(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)

	item := testentity.NewTodoItem("t1", "buy milk", 1000)
	if err := engine.Save(ctx, item); err != nil {
		t.Fatalf("save: %v", err)
	}

	item.Title = "buy oat milk"
	if err := engine.Update(ctx, item); err != nil {
		t.Fatalf("update: %v", err)
	}

	found, ok, err := engine.FindByID(ctx, "todos", "t1")
	if err != nil || !ok {
		t.Fatalf("find by id: ok=%v err=%v", ok, err)
	}
	todo := found.(testentity.TodoItem)
	if todo.Title != "buy oat milk" {
		t.Fatalf("expected updated title, got %q", todo.Title)
	}
	if todo.SyncedAt() != nil {
		t.Fatal("expected synced_at to stay nil across update")
	}
}

func TestFindAllAndCount(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)

	for i, title := range []string{"a", "b", "c"} {
		item := testentity.NewTodoItem(string(rune('a'+i)), title, 1000)
		if err := engine.Save(ctx, item); err != nil {
			t.Fatalf("save %s: %v", title, err)
		}
	}

	all, err := engine.FindAll(ctx, "todos")
	if err != nil {
		t.Fatalf("find all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(all))
	}

	count, err := engine.Count(ctx, "todos")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected count 3, got %d", count)
	}
}

func TestSoftDeleteThenDelete(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)

	item := testentity.NewTodoItem("t1", "buy milk", 1000)
	if err := engine.Save(ctx, item); err != nil {
		t.Fatalf("save: %v", err)
	}

	if err := engine.SoftDelete(ctx, "todos", "t1"); err != nil {
		t.Fatalf("soft delete: %v", err)
	}
	found, ok, err := engine.FindByID(ctx, "todos", "t1")
	if err != nil || !ok {
		t.Fatalf("expected tombstoned row still queryable: ok=%v err=%v", ok, err)
	}
	if !found.IsDeleted() {
		t.Fatal("expected row to be marked deleted")
	}

	if err := engine.Delete(ctx, "todos", "t1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, err := engine.FindByID(ctx, "todos", "t1"); err != nil || ok {
		t.Fatalf("expected row gone after hard delete: ok=%v err=%v", ok, err)
	}
}

func TestSync_NoOpWhenOffline(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)

	if err := engine.Sync(ctx); err != nil {
		t.Fatalf("sync offline: %v", err)
	}
	if engine.Status().IsOnline {
		t.Fatal("expected engine with no server URL to stay offline")
	}
}

func TestRawQueryAndRawExecute(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)

	item := testentity.NewTodoItem("t1", "buy milk", 1000)
	if err := engine.Save(ctx, item); err != nil {
		t.Fatalf("save: %v", err)
	}

	rows, err := engine.RawQuery(ctx, "SELECT id FROM todos WHERE id = ?", []any{"t1"})
	if err != nil {
		t.Fatalf("raw query: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}

	if err := engine.RawExecute(ctx, "UPDATE todos SET payload = json_set(payload, '$.title', ?) WHERE id = ?", []any{"renamed", "t1"}); err != nil {
		t.Fatalf("raw execute: %v", err)
	}
	found, _, err := engine.FindByID(ctx, "todos", "t1")
	if err != nil {
		t.Fatalf("find by id: %v", err)
	}
	if found.(testentity.TodoItem).Title != "renamed" {
		t.Fatal("expected raw execute to persist")
	}
}
