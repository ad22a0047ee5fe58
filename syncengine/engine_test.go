package syncengine

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/marcus/synckit/codec"
	"github.com/marcus/synckit/conflict"
	"github.com/marcus/synckit/entity"
	"github.com/marcus/synckit/status"
	"github.com/marcus/synckit/storage"
	"github.com/marcus/synckit/store"
	"github.com/marcus/synckit/transport"
)

// noteEntity is a minimal domain entity used only by this package's tests;
// it round-trips every Base field except Metadata, unlike store's
// bare-bones stubEntity.
type noteEntity struct {
	entity.Base
	Title string `json:"title"`
}

func (n noteEntity) Touch(now int64) entity.SyncEntity {
	n.Base = entity.TouchBase(n.Base, now)
	return n
}

func noteFactory(fields map[string]any) (entity.SyncEntity, error) {
	n := noteEntity{Base: entity.Base{Table: "notes"}}
	if v, ok := fields["id"].(string); ok {
		n.IDValue = v
	}
	n.CreatedAtValue = toInt64(fields["created_at"])
	n.UpdatedAtValue = toInt64(fields["updated_at"])
	n.VersionValue = toInt64(fields["version"])
	n.SyncedAtValue = toInt64Ptr(fields["synced_at"])
	if v, ok := fields["is_deleted"].(bool); ok {
		n.Deleted = v
	}
	if v, ok := fields["title"].(string); ok {
		n.Title = v
	}
	return n, nil
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

// fakeAdapter is a fully scriptable transport.Adapter for deterministic
// engine tests, the same role httptest plays in transport's own tests but
// without a real listener.
type fakeAdapter struct {
	mu       sync.Mutex
	online   bool
	postFunc func(ctx context.Context, path string, data any) (transport.Response, error)
	getFunc  func(ctx context.Context, path string) (transport.Response, error)
	stream   chan bool
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{online: true, stream: make(chan bool, 4)}
}

func (a *fakeAdapter) Initialize(baseURL string, headers map[string]string, timeout time.Duration) error {
	return nil
}
func (a *fakeAdapter) Get(ctx context.Context, path string) (transport.Response, error) {
	if a.getFunc != nil {
		return a.getFunc(ctx, path)
	}
	return transport.Response{StatusCode: 200, Data: []any{}}, nil
}
func (a *fakeAdapter) Post(ctx context.Context, path string, data any) (transport.Response, error) {
	if a.postFunc != nil {
		return a.postFunc(ctx, path, data)
	}
	return transport.Response{StatusCode: 200}, nil
}
func (a *fakeAdapter) Put(ctx context.Context, path string, data any) (transport.Response, error) {
	return transport.Response{StatusCode: 200}, nil
}
func (a *fakeAdapter) Patch(ctx context.Context, path string, data any) (transport.Response, error) {
	return transport.Response{StatusCode: 200}, nil
}
func (a *fakeAdapter) Delete(ctx context.Context, path string) (transport.Response, error) {
	return transport.Response{StatusCode: 200}, nil
}
func (a *fakeAdapter) IsOnline() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.online
}
func (a *fakeAdapter) setOnline(online bool) {
	a.mu.Lock()
	a.online = online
	a.mu.Unlock()
	a.stream <- online
}
func (a *fakeAdapter) ConnectivityStream() <-chan bool { return a.stream }
func (a *fakeAdapter) TestConnection(ctx context.Context, url string) bool {
	return a.IsOnline()
}

func newTestEngine(t *testing.T, adapter transport.Adapter) (*Engine, *store.Store) {
	t.Helper()
	driver := storage.NewSQLiteDriver(filepath.Join(t.TempDir(), "engine.db"))
	t.Cleanup(func() { driver.Close() })

	st := store.New(driver)
	ctx := context.Background()
	if err := st.RegisterEntity(ctx, "notes", noteFactory); err != nil {
		t.Fatalf("register entity: %v", err)
	}
	if err := st.Initialize(ctx); err != nil {
		t.Fatalf("initialize store: %v", err)
	}

	bcast := status.NewBroadcaster(status.Snapshot{IsOnline: true})
	e := New(st, adapter, bcast, Config{MaxRetries: 2, BatchSize: 10, AutoSyncInterval: time.Hour}, nil)
	if err := e.RegisterTable(ctx, "notes", "/notes", noteFactory); err != nil {
		t.Fatalf("register table: %v", err)
	}
	return e, st
}

func insertNote(t *testing.T, st *store.Store, id, title string, status codec.SyncStatus, now int64) {
	t.Helper()
	n := noteEntity{Base: entity.Base{IDValue: id, Table: "notes", CreatedAtValue: now, UpdatedAtValue: now, VersionValue: 1}, Title: title}
	row, err := codec.SerializeForStorage(n, status, true, nil)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	if err := st.Insert(context.Background(), "notes", row, now); err != nil {
		t.Fatalf("insert: %v", err)
	}
}

func TestSyncAll_SkipsWhenOffline(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.online = false
	e, _ := newTestEngine(t, adapter)

	if err := e.SyncAll(context.Background()); err != nil {
		t.Fatalf("sync_all offline should not error: %v", err)
	}
	if e.bcast.Current().IsSyncing {
		t.Fatalf("is_syncing should remain false when offline")
	}
}

func TestSyncAll_SkipsWhenAlreadySyncing(t *testing.T) {
	adapter := newFakeAdapter()
	e, _ := newTestEngine(t, adapter)

	e.mu.Lock()
	e.syncing = true
	e.mu.Unlock()

	if err := e.SyncAll(context.Background()); err != nil {
		t.Fatalf("sync_all should not error when already syncing: %v", err)
	}
}

func TestPushPhase_SyncsUnsyncedRowAndClearsStatus(t *testing.T) {
	ctx := context.Background()
	adapter := newFakeAdapter()
	e, st := newTestEngine(t, adapter)

	now := nowMillis()
	insertNote(t, st, "n1", "buy milk", codec.StatusPending, now)

	if err := e.pushPhase(ctx, "notes", "/notes"); err != nil {
		t.Fatalf("push phase: %v", err)
	}

	row, found, err := st.FindByID(ctx, "notes", "n1")
	if err != nil || !found {
		t.Fatalf("find after push: found=%v err=%v", found, err)
	}
	if row.SyncStatus != codec.StatusSynced {
		t.Fatalf("expected synced, got %s", row.SyncStatus)
	}
	if row.SyncedAt == nil {
		t.Fatalf("expected synced_at to be set")
	}
}

func TestPushPhase_ExhaustsRetriesThenQueues(t *testing.T) {
	ctx := context.Background()
	adapter := newFakeAdapter()
	adapter.postFunc = func(ctx context.Context, path string, data any) (transport.Response, error) {
		return transport.Response{StatusCode: 500}, nil
	}
	e, st := newTestEngine(t, adapter)

	now := nowMillis()
	insertNote(t, st, "n2", "call mom", codec.StatusPending, now)

	// pushPhase never surfaces per-row failures as an engine-level error
	// (spec §4.4.1) — it only logs and moves on.
	if err := e.pushPhase(ctx, "notes", "/notes"); err != nil {
		t.Fatalf("push phase itself should not error on row failures: %v", err)
	}

	row, found, err := st.FindByID(ctx, "notes", "n2")
	if err != nil || !found {
		t.Fatalf("find after push: found=%v err=%v", found, err)
	}
	if row.SyncStatus != codec.StatusQueued {
		t.Fatalf("expected queued after exhausted retries, got %s", row.SyncStatus)
	}
}

func TestPushEntity_QueuesOnExhaustion(t *testing.T) {
	ctx := context.Background()
	adapter := newFakeAdapter()
	adapter.postFunc = func(ctx context.Context, path string, data any) (transport.Response, error) {
		return transport.Response{StatusCode: 500}, nil
	}
	e, st := newTestEngine(t, adapter)

	now := nowMillis()
	insertNote(t, st, "n3", "pay rent", codec.StatusPending, now)
	row, _, _ := st.FindByID(ctx, "notes", "n3")

	err := e.pushEntity(ctx, "notes", "/notes", row, true)
	if err == nil {
		t.Fatalf("expected pushEntity to return the exhausted error")
	}

	updated, found, _ := st.FindByID(ctx, "notes", "n3")
	if !found || updated.SyncStatus != codec.StatusQueued {
		t.Fatalf("expected row queued after exhaustion, got %v found=%v", updated.SyncStatus, found)
	}

	rows, err := st.RawQuery(ctx, `SELECT id FROM sync_queue WHERE entity_id = ?`, []any{"n3"})
	if err != nil || len(rows) != 1 {
		t.Fatalf("expected one sync_queue row, got %d err=%v", len(rows), err)
	}
}

func TestProcessSyncQueue_DrainsOnSuccess(t *testing.T) {
	ctx := context.Background()
	adapter := newFakeAdapter()
	attempts := 0
	adapter.postFunc = func(ctx context.Context, path string, data any) (transport.Response, error) {
		attempts++
		// Fail the first attempt and both inline retries (MaxRetries=2) so
		// the row lands in sync_queue; the queued retry then succeeds.
		if attempts <= 3 {
			return transport.Response{StatusCode: 500}, nil
		}
		return transport.Response{StatusCode: 200}, nil
	}
	e, st := newTestEngine(t, adapter)

	now := nowMillis()
	insertNote(t, st, "n4", "walk dog", codec.StatusPending, now)
	row, _, _ := st.FindByID(ctx, "notes", "n4")
	_ = e.pushEntity(ctx, "notes", "/notes", row, true)

	if err := st.RawExecute(ctx, `UPDATE sync_queue SET next_retry_at = ? WHERE entity_id = ?`, []any{now, "n4"}); err != nil {
		t.Fatalf("force due: %v", err)
	}

	if err := e.processSyncQueue(ctx); err != nil {
		t.Fatalf("process_sync_queue: %v", err)
	}

	rows, err := st.RawQuery(ctx, `SELECT id FROM sync_queue WHERE entity_id = ?`, []any{"n4"})
	if err != nil || len(rows) != 0 {
		t.Fatalf("expected queue drained, got %d rows", len(rows))
	}
	updated, _, _ := st.FindByID(ctx, "notes", "n4")
	if updated.SyncStatus != codec.StatusSynced {
		t.Fatalf("expected synced after drain, got %s", updated.SyncStatus)
	}
}

func TestPullPhase_InsertsNewRemoteEntity(t *testing.T) {
	ctx := context.Background()
	adapter := newFakeAdapter()
	adapter.getFunc = func(ctx context.Context, path string) (transport.Response, error) {
		return transport.Response{StatusCode: 200, Data: []any{
			map[string]any{"id": "remote-1", "title": "from server", "version": float64(1), "created_at": float64(1000), "updated_at": float64(1000)},
		}}, nil
	}
	e, st := newTestEngine(t, adapter)

	if err := e.pullPhase(ctx, "notes", "/notes"); err != nil {
		t.Fatalf("pull phase: %v", err)
	}

	row, found, err := st.FindByID(ctx, "notes", "remote-1")
	if err != nil || !found {
		t.Fatalf("expected remote entity inserted, found=%v err=%v", found, err)
	}
	if row.SyncStatus != codec.StatusSynced {
		t.Fatalf("expected synced, got %s", row.SyncStatus)
	}
}

func TestPullPhase_NoConflictOverwritesLocal(t *testing.T) {
	ctx := context.Background()
	now := nowMillis()
	adapter := newFakeAdapter()
	adapter.getFunc = func(ctx context.Context, path string) (transport.Response, error) {
		return transport.Response{StatusCode: 200, Data: []any{
			map[string]any{"id": "n5", "title": "updated remotely", "version": float64(1), "created_at": float64(now), "updated_at": float64(now + 10)},
		}}, nil
	}
	e, st := newTestEngine(t, adapter)
	insertNote(t, st, "n5", "original", codec.StatusSynced, now)
	// Re-save the local row unchanged. It has no synced_at, so the
	// timestamp clause cannot fire, and equal versions mean no conflict.
	row, _, _ := st.FindByID(ctx, "notes", "n5")
	st.Update(ctx, "notes", row, now)

	if err := e.pullPhase(ctx, "notes", "/notes"); err != nil {
		t.Fatalf("pull phase: %v", err)
	}

	updated, found, _ := st.FindByID(ctx, "notes", "n5")
	if !found {
		t.Fatalf("expected row to still exist")
	}
	var payload map[string]any
	json.Unmarshal(updated.Payload, &payload)
	if payload["title"] != "updated remotely" {
		t.Fatalf("expected local overwritten with remote, got %v", payload["title"])
	}
}

func TestPullPhase_VersionMismatchRoutesToConflict(t *testing.T) {
	ctx := context.Background()
	now := nowMillis()
	adapter := newFakeAdapter()
	// Remote has a different version than local but identical timestamps:
	// spec invariant 6 says this alone must be treated as a conflict.
	adapter.getFunc = func(ctx context.Context, path string) (transport.Response, error) {
		return transport.Response{StatusCode: 200, Data: []any{
			map[string]any{"id": "n6", "title": "remote edit", "version": float64(5), "created_at": float64(now), "updated_at": float64(now)},
		}}, nil
	}
	e, st := newTestEngine(t, adapter)
	insertNote(t, st, "n6", "local edit", codec.StatusPending, now)

	if err := e.pullPhase(ctx, "notes", "/notes"); err != nil {
		t.Fatalf("pull phase: %v", err)
	}

	rows, err := st.RawQuery(ctx, `SELECT id FROM sync_conflicts WHERE entity_id = ?`, []any{"n6"})
	if err != nil {
		t.Fatalf("query sync_conflicts: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected one persisted conflict (no resolver registered), got %d", len(rows))
	}

	updated, found, _ := st.FindByID(ctx, "notes", "n6")
	if !found || updated.SyncStatus != codec.StatusConflict {
		t.Fatalf("expected row marked conflict, got %v found=%v", updated.SyncStatus, found)
	}
}

func TestHandleConflict_ResolverWinsAndClearsConflict(t *testing.T) {
	ctx := context.Background()
	now := nowMillis()
	adapter := newFakeAdapter()
	e, st := newTestEngine(t, adapter)
	e.RegisterResolver(conflict.DefaultResolver{})

	local := noteEntity{Base: entity.Base{IDValue: "n7", Table: "notes", CreatedAtValue: now, UpdatedAtValue: now, VersionValue: 1}, Title: "local"}
	remote := noteEntity{Base: entity.Base{IDValue: "n7", Table: "notes", CreatedAtValue: now, UpdatedAtValue: now + 1000, VersionValue: 2}, Title: "remote wins"}
	insertNote(t, st, "n7", "local", codec.StatusPending, now)

	if err := e.handleConflict(ctx, "notes", "n7", local, remote, now); err != nil {
		t.Fatalf("handle conflict: %v", err)
	}

	updated, found, _ := st.FindByID(ctx, "notes", "n7")
	if !found || updated.SyncStatus != codec.StatusSynced {
		t.Fatalf("expected conflict auto-resolved to synced, got %v found=%v", updated.SyncStatus, found)
	}
	var payload map[string]any
	json.Unmarshal(updated.Payload, &payload)
	if payload["title"] != "remote wins" {
		t.Fatalf("expected default resolver to pick the newer remote title, got %v", payload["title"])
	}

	rows, _ := st.RawQuery(ctx, `SELECT id FROM sync_conflicts WHERE entity_id = ?`, []any{"n7"})
	if len(rows) != 0 {
		t.Fatalf("resolved conflicts should never be persisted, got %d rows", len(rows))
	}
}

func TestRetryStoredConflicts_ResolvesOnceResolverRegistered(t *testing.T) {
	ctx := context.Background()
	now := nowMillis()
	adapter := newFakeAdapter()
	e, st := newTestEngine(t, adapter)

	local := noteEntity{Base: entity.Base{IDValue: "n8", Table: "notes", CreatedAtValue: now, UpdatedAtValue: now, VersionValue: 1}, Title: "local"}
	remote := noteEntity{Base: entity.Base{IDValue: "n8", Table: "notes", CreatedAtValue: now, UpdatedAtValue: now + 1000, VersionValue: 2}, Title: "remote"}
	insertNote(t, st, "n8", "local", codec.StatusPending, now)

	if err := e.handleConflict(ctx, "notes", "n8", local, remote, now); err != nil {
		t.Fatalf("handle conflict: %v", err)
	}
	rows, _ := st.RawQuery(ctx, `SELECT id FROM sync_conflicts WHERE entity_id = ? AND is_resolved = 0`, []any{"n8"})
	if len(rows) != 1 {
		t.Fatalf("expected an unresolved conflict row before a resolver exists")
	}

	e.RegisterResolver(conflict.DefaultResolver{})
	if err := e.retryStoredConflicts(ctx, "notes"); err != nil {
		t.Fatalf("retry stored conflicts: %v", err)
	}

	rows, _ = st.RawQuery(ctx, `SELECT id FROM sync_conflicts WHERE entity_id = ? AND is_resolved = 0`, []any{"n8"})
	if len(rows) != 0 {
		t.Fatalf("expected conflict resolved after registering a resolver, still %d unresolved", len(rows))
	}
}

func TestTriggerAutoSync_SkipsWhenOffline(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.online = false
	e, _ := newTestEngine(t, adapter)

	e.triggerAutoSync(context.Background())
	if e.bcast.Current().LastSyncAt != nil {
		t.Fatalf("expected no sync to have run while offline")
	}
}

func TestEnableAutoSync_IsIdempotent(t *testing.T) {
	adapter := newFakeAdapter()
	e, _ := newTestEngine(t, adapter)

	e.EnableAutoSync(context.Background())
	t.Cleanup(e.DisableAutoSync)
	firstStop := e.autoSyncStop

	e.EnableAutoSync(context.Background())
	if e.autoSyncStop != firstStop {
		t.Fatalf("expected enabling twice to be a no-op")
	}
}

func TestDisableAutoSync_SafeWithoutEnable(t *testing.T) {
	adapter := newFakeAdapter()
	e, _ := newTestEngine(t, adapter)
	e.DisableAutoSync() // must not panic
}
