package testentity

import "testing"

func TestNewTodoItem_Defaults(t *testing.T) {
	item := NewTodoItem("t1", "buy milk", 1000)
	if item.Status != StatusOpen {
		t.Fatalf("expected open status, got %s", item.Status)
	}
	if item.Version() != 1 {
		t.Fatalf("expected version 1, got %d", item.Version())
	}
}

func TestTouch_AdvancesBookkeepingPreservesDomainFields(t *testing.T) {
	item := NewTodoItem("t1", "buy milk", 1000)
	touched := item.Touch(2000).(TodoItem)

	if touched.UpdatedAt() != 2000 {
		t.Fatalf("expected updated_at 2000, got %d", touched.UpdatedAt())
	}
	if touched.Version() != 2 {
		t.Fatalf("expected version bumped to 2, got %d", touched.Version())
	}
	if touched.Title != "buy milk" {
		t.Fatalf("touch must preserve domain fields, got title %q", touched.Title)
	}
}

func TestFactory_RoundTripsFields(t *testing.T) {
	fields := map[string]any{
		"id":         "t2",
		"title":      "walk dog",
		"status":     "done",
		"version":    float64(3),
		"created_at": float64(1000),
		"updated_at": float64(2000),
	}
	e, err := Factory(fields)
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	item := e.(TodoItem)
	if item.Title != "walk dog" || item.Status != StatusDone || item.Version() != 3 {
		t.Fatalf("unexpected decode: %+v", item)
	}
}
