// Package synckit is the facade described in spec §4.6: a composition root
// wiring the local store, network adapter, sync engine, and status
// broadcaster into the small set of operations an application actually
// calls. It is not a singleton: every New call builds an independent
// Engine. Initialization order mirrors cmd/td-sync/main.go's
// serverdb.Open -> api.NewServer -> srv.Start() chain.
package synckit

import (
	"context"
	"log/slog"
	"net/url"
	"time"

	"github.com/marcus/synckit/codec"
	"github.com/marcus/synckit/conflict"
	"github.com/marcus/synckit/connectivity"
	"github.com/marcus/synckit/entity"
	"github.com/marcus/synckit/status"
	"github.com/marcus/synckit/storage"
	"github.com/marcus/synckit/store"
	"github.com/marcus/synckit/syncengine"
	"github.com/marcus/synckit/transport"
)

// connectivityPollInterval is how often Engine probes the remote server
// for link- and application-level reachability.
const connectivityPollInterval = 15 * time.Second

// Options configures a new Engine. DBPath is the SQLite file to open;
// ServerURL and RequestTimeout configure the HTTP adapter. Leave ServerURL
// empty to run permanently offline (local CRUD only, sync is a no-op).
type Options struct {
	DBPath         string
	ServerURL      string
	RequestHeaders map[string]string
	RequestTimeout time.Duration
	Sync           syncengine.Config
	Logger         *slog.Logger
}

// Engine is the composition root (named Engine, not Facade, per spec;
// distinct from syncengine.Engine which it wraps). Construct with New,
// RegisterEntity each synced table, then use the CRUD/Sync methods.
type Engine struct {
	driver   storage.Driver
	store    *store.Store
	adapter  transport.Adapter
	sync     *syncengine.Engine
	bcast    *status.Broadcaster
	logger   *slog.Logger
	poller   *connectivity.Poller
	deviceID string
	stopPump chan struct{}
}

// New opens storage, constructs the transport adapter (plus the
// connectivity poller when a server URL is set), creates the status
// broadcaster, and then builds the sync engine, which publishes through
// that broadcaster.
func New(ctx context.Context, opts Options) (*Engine, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	driver := storage.NewSQLiteDriver(opts.DBPath)
	st := store.New(driver)
	if err := st.Initialize(ctx); err != nil {
		return nil, err
	}

	adapter := transport.Adapter(offlineAdapter{})
	var httpAdapter *transport.HTTPAdapter
	var poller *connectivity.Poller
	stopPump := make(chan struct{})
	if opts.ServerURL != "" {
		httpAdapter = transport.NewHTTPAdapter()
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		if err := httpAdapter.Initialize(opts.ServerURL, opts.RequestHeaders, timeout); err != nil {
			return nil, err
		}
		adapter = httpAdapter

		poller = connectivity.NewPoller(dialTargetFor(opts.ServerURL), opts.ServerURL, httpAdapter, connectivityPollInterval)
		poller.Start(ctx)
	}

	bcast := status.NewBroadcaster(status.Snapshot{IsOnline: adapter.IsOnline()})
	syncCfg := opts.Sync
	if syncCfg.MaxRetries == 0 && syncCfg.BatchSize == 0 && syncCfg.AutoSyncInterval == 0 {
		syncCfg = syncengine.DefaultConfig()
	}
	syncEng := syncengine.New(st, adapter, bcast, syncCfg, logger)

	if poller != nil {
		go pumpConnectivity(poller, httpAdapter, bcast, stopPump)
	}

	return &Engine{driver: driver, store: st, adapter: adapter, sync: syncEng, bcast: bcast, logger: logger, poller: poller, deviceID: syncCfg.DeviceID, stopPump: stopPump}, nil
}

// dialTargetFor extracts a host:port suitable for connectivity.NewPoller's
// link-level TCP probe from a server base URL.
func dialTargetFor(serverURL string) string {
	u, err := url.Parse(serverURL)
	if err != nil || u.Host == "" {
		return ""
	}
	if u.Port() != "" {
		return u.Host
	}
	if u.Scheme == "https" {
		return u.Host + ":443"
	}
	return u.Host + ":80"
}

// pumpConnectivity forwards the poller's coalesced online/offline
// transitions into the HTTP adapter and republishes a fresh status snapshot
// so subscribers see is_online change on reconnect/disconnect rather than a
// value frozen at New. Returns when stop is closed.
func pumpConnectivity(poller *connectivity.Poller, adapter *transport.HTTPAdapter, bcast *status.Broadcaster, stop <-chan struct{}) {
	stream := poller.Stream()
	for {
		select {
		case <-stop:
			return
		case online := <-stream:
			adapter.SetOnline(online)
			snapshot := bcast.Current()
			snapshot.IsOnline = online
			bcast.Publish(snapshot)
		}
	}
}

// Close disables auto-sync, stops the connectivity poller, and closes the
// storage handle (checkpointing the SQLite WAL). It does not close the
// status broadcaster; channels from Subscribe stay open.
func (e *Engine) Close() error {
	e.DisableAutoSync()
	if e.poller != nil {
		close(e.stopPump)
		e.poller.Close()
	}
	return e.driver.Close()
}

// RegisterEntity registers table's factory with the store and associates
// it with endpoint for sync (spec §4.1's register_entity).
func (e *Engine) RegisterEntity(ctx context.Context, table, endpoint string, factory entity.Factory) error {
	return e.sync.RegisterTable(ctx, table, endpoint, factory)
}

// RegisterConflictResolver adds a resolver to the chain consulted when a
// pull detects a conflict.
func (e *Engine) RegisterConflictResolver(r conflict.Resolver) {
	e.sync.RegisterResolver(r)
}

// Save inserts a brand-new entity, stamping updated_at=now, clearing
// synced_at, and marking sync_status='pending' (spec §4.6). The row's
// metadata is tagged with this Engine's device id, the same way the
// teacher's server stamps device_id on locally originated rows.
func (e *Engine) Save(ctx context.Context, ent entity.SyncEntity) error {
	now := nowMillis()
	row, err := e.buildPendingRow(ent, now)
	if err != nil {
		return err
	}
	return e.store.Insert(ctx, ent.TableName(), row, now)
}

// Update overwrites an existing entity's row with the same stamping rules
// as Save (spec §4.6).
func (e *Engine) Update(ctx context.Context, ent entity.SyncEntity) error {
	now := nowMillis()
	row, err := e.buildPendingRow(ent, now)
	if err != nil {
		return err
	}
	return e.store.Update(ctx, ent.TableName(), row, now)
}

func (e *Engine) buildPendingRow(ent entity.SyncEntity, now int64) (codec.Row, error) {
	row, err := codec.SerializeForStorage(ent, codec.StatusPending, true, nil)
	if err != nil {
		return codec.Row{}, err
	}
	row.UpdatedAt = now
	row.SyncedAt = nil
	if e.deviceID != "" {
		if row.Metadata == nil {
			row.Metadata = make(map[string]any, 1)
		}
		row.Metadata["device_id"] = e.deviceID
	}
	return row, nil
}

// Delete hard-deletes a row by id.
func (e *Engine) Delete(ctx context.Context, table, id string) error {
	return e.store.Delete(ctx, table, id)
}

// SoftDelete tombstones a row (spec §4.1's soft_delete).
func (e *Engine) SoftDelete(ctx context.Context, table, id string) error {
	return e.store.SoftDelete(ctx, table, id, nowMillis())
}

// FindByID returns the materialized entity for id, or found=false.
func (e *Engine) FindByID(ctx context.Context, table, id string) (entity.SyncEntity, bool, error) {
	row, found, err := e.store.FindByID(ctx, table, id)
	if err != nil || !found {
		return nil, found, err
	}
	factory, _ := e.store.Factory(table)
	ent, err := codec.Materialize(row, factory)
	return ent, true, err
}

// FindAll returns every materialized entity in table.
func (e *Engine) FindAll(ctx context.Context, table string) ([]entity.SyncEntity, error) {
	rows, err := e.store.FindAll(ctx, table)
	if err != nil {
		return nil, err
	}
	factory, _ := e.store.Factory(table)
	out := make([]entity.SyncEntity, 0, len(rows))
	for _, row := range rows {
		ent, err := codec.Materialize(row, factory)
		if err != nil {
			return nil, err
		}
		out = append(out, ent)
	}
	return out, nil
}

// Count returns the number of rows in table.
func (e *Engine) Count(ctx context.Context, table string) (int64, error) {
	return e.store.Count(ctx, table)
}

// RawQuery runs an arbitrary SELECT through the local store's escape hatch.
func (e *Engine) RawQuery(ctx context.Context, query string, args []any) ([]storage.Values, error) {
	return e.store.RawQuery(ctx, query, args)
}

// RawExecute runs an arbitrary non-SELECT statement.
func (e *Engine) RawExecute(ctx context.Context, query string, args []any) error {
	return e.store.RawExecute(ctx, query, args)
}

// Transaction runs fn against a Store bound to one underlying transaction.
func (e *Engine) Transaction(ctx context.Context, fn func(tx *store.Store) error) error {
	return e.store.Transaction(ctx, fn)
}

// Sync runs one full sync_all pass (spec §4.4).
func (e *Engine) Sync(ctx context.Context) error {
	return e.sync.SyncAll(ctx)
}

// EnableAutoSync / DisableAutoSync pass through to the engine's periodic
// timer (spec §4.4.5).
func (e *Engine) EnableAutoSync(ctx context.Context) { e.sync.EnableAutoSync(ctx) }
func (e *Engine) DisableAutoSync()                   { e.sync.DisableAutoSync() }

// Status returns the current status snapshot.
func (e *Engine) Status() status.Snapshot { return e.bcast.Current() }

// Subscribe returns a channel of status snapshots and an unsubscribe func.
func (e *Engine) Subscribe() (<-chan status.Snapshot, func()) { return e.bcast.Subscribe() }

// SyncHistoryTail returns the last limit sync_history entries.
func (e *Engine) SyncHistoryTail(ctx context.Context, limit int) ([]store.HistoryEntry, error) {
	return e.store.SyncHistoryTail(ctx, limit)
}

func nowMillis() int64 { return time.Now().UnixMilli() }

// offlineAdapter is used when Options.ServerURL is empty: every network
// operation reports unreachable, so the engine stays permanently offline
// and Sync is always a no-op.
type offlineAdapter struct{}

func (offlineAdapter) Initialize(string, map[string]string, time.Duration) error { return nil }
func (offlineAdapter) Get(context.Context, string) (transport.Response, error) {
	return transport.Response{}, errOffline
}
func (offlineAdapter) Post(context.Context, string, any) (transport.Response, error) {
	return transport.Response{}, errOffline
}
func (offlineAdapter) Put(context.Context, string, any) (transport.Response, error) {
	return transport.Response{}, errOffline
}
func (offlineAdapter) Patch(context.Context, string, any) (transport.Response, error) {
	return transport.Response{}, errOffline
}
func (offlineAdapter) Delete(context.Context, string) (transport.Response, error) {
	return transport.Response{}, errOffline
}
func (offlineAdapter) IsOnline() bool                              { return false }
func (offlineAdapter) ConnectivityStream() <-chan bool             { return nil }
func (offlineAdapter) TestConnection(context.Context, string) bool { return false }

var errOffline = &offlineError{}

type offlineError struct{}

func (*offlineError) Error() string { return "synckit: no network adapter configured" }
