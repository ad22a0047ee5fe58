// Package syncengine implements the sync engine (spec §4.4): the full
// protocol of push, pull, conflict arbitration, retry-queue processing,
// auto-sync timer, and status updates. It is the largest component by
// design — the store, codec, and conflict packages are its supporting
// cast, the way internal/sync/engine.go sits atop internal/db in the
// teacher.
package syncengine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marcus/synckit/conflict"
	"github.com/marcus/synckit/entity"
	"github.com/marcus/synckit/status"
	"github.com/marcus/synckit/store"
	"github.com/marcus/synckit/transport"
)

const (
	defaultMaxRetries        = 3
	defaultBatchSize         = 50
	minBatchSize             = 1
	maxBatchSize             = 500
	defaultAutoSyncInterval  = 5 * time.Minute
)

// Config holds the engine's tunables, each with the spec's stated default.
type Config struct {
	MaxRetries       int
	BatchSize        int
	AutoSyncInterval time.Duration
	// DeviceID tags this engine's sync_history entries (spec's
	// supplemented-features note on syncconfig.GenerateDeviceID). Optional.
	DeviceID string
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries:       defaultMaxRetries,
		BatchSize:        defaultBatchSize,
		AutoSyncInterval: defaultAutoSyncInterval,
	}
}

func (c Config) normalized() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.BatchSize < minBatchSize {
		c.BatchSize = minBatchSize
	}
	if c.BatchSize > maxBatchSize {
		c.BatchSize = maxBatchSize
	}
	if c.AutoSyncInterval <= 0 {
		c.AutoSyncInterval = defaultAutoSyncInterval
	}
	return c
}

// tableRegistration pairs a registered table with its remote endpoint, in
// the order tables were registered (sync_all processes them in that
// order, per spec §5).
type tableRegistration struct {
	table    string
	endpoint string
}

// Engine is the sync engine described in spec §4.4.
type Engine struct {
	store   *store.Store
	adapter transport.Adapter
	bcast   *status.Broadcaster
	logger  *slog.Logger

	cfg Config

	mu           sync.Mutex
	tables       []tableRegistration
	resolvers    []conflict.Resolver
	syncing      bool
	autoSync     bool
	autoSyncStop chan struct{}
	connSub      func()
}

// New builds an Engine. bcast must be non-nil; callers typically share one
// Broadcaster between the engine and the facade.
func New(st *store.Store, adapter transport.Adapter, bcast *status.Broadcaster, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:   st,
		adapter: adapter,
		bcast:   bcast,
		logger:  logger,
		cfg:     cfg.normalized(),
	}
}

// RegisterTable associates table with its remote endpoint and entity
// factory. Order of registration determines sync_all's per-table
// processing order.
func (e *Engine) RegisterTable(ctx context.Context, table, endpoint string, factory entity.Factory) error {
	if err := e.store.RegisterEntity(ctx, table, factory); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, reg := range e.tables {
		if reg.table == table {
			return nil
		}
	}
	e.tables = append(e.tables, tableRegistration{table: table, endpoint: endpoint})
	return nil
}

// RegisterResolver adds a conflict resolver to the chain consulted by
// resolve_conflict.
func (e *Engine) RegisterResolver(r conflict.Resolver) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resolvers = append(e.resolvers, r)
}

func (e *Engine) resolversSnapshot() []conflict.Resolver {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]conflict.Resolver, len(e.resolvers))
	copy(out, e.resolvers)
	return out
}

func (e *Engine) tablesSnapshot() []tableRegistration {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]tableRegistration, len(e.tables))
	copy(out, e.tables)
	return out
}

func nowMillis() int64 { return time.Now().UnixMilli() }

// SyncAll is the public entry point (spec §4.4). It is a no-op — not an
// error — when already syncing or currently offline.
func (e *Engine) SyncAll(ctx context.Context) error {
	e.mu.Lock()
	if e.syncing {
		e.mu.Unlock()
		e.logger.Info("sync_all skipped: already syncing")
		return nil
	}
	if !e.adapter.IsOnline() {
		e.mu.Unlock()
		e.logger.Info("sync_all skipped: offline")
		return nil
	}
	e.syncing = true
	e.mu.Unlock()

	e.publish(func(s status.Snapshot) status.Snapshot {
		s.IsSyncing = true
		s.SyncProgress = 0
		return s
	})

	var syncErr error
	func() {
		defer func() {
			e.mu.Lock()
			e.syncing = false
			e.mu.Unlock()
		}()

		if err := e.processSyncQueue(ctx); err != nil {
			e.logger.Warn("process_sync_queue failed", "err", err)
		}

		tables := e.tablesSnapshot()
		failedCount := int64(0)
		for i, reg := range tables {
			if err := e.syncTable(ctx, reg.table, reg.endpoint); err != nil {
				failedCount++
				syncErr = err
				e.logger.Warn("sync_table failed", "table", reg.table, "err", err)
			}
			progress := float64(i+1) / float64(len(tables))
			e.publish(func(s status.Snapshot) status.Snapshot {
				s.SyncProgress = progress
				s.FailedCount = failedCount
				return s
			})
		}
	}()

	pendingTotal, err := e.totalPending(ctx)
	if err != nil {
		e.logger.Warn("count pending after sync_all", "err", err)
	}

	var lastErr *string
	if syncErr != nil {
		msg := syncErr.Error()
		lastErr = &msg
	}

	now := nowMillis()
	e.publish(func(s status.Snapshot) status.Snapshot {
		s.IsSyncing = false
		s.LastSyncAt = &now
		s.SyncProgress = 1.0
		s.LastError = lastErr
		s.PendingCount = pendingTotal
		return s
	})

	return syncErr
}

func (e *Engine) totalPending(ctx context.Context) (int64, error) {
	var total int64
	for _, reg := range e.tablesSnapshot() {
		rows, err := e.store.FindUnsynced(ctx, reg.table)
		if err != nil {
			return total, err
		}
		total += int64(len(rows))
	}
	return total, nil
}

// publish applies mutate to the broadcaster's current snapshot and
// republishes it, giving callers a compare-and-swap-free way to update a
// subset of fields.
func (e *Engine) publish(mutate func(status.Snapshot) status.Snapshot) {
	if e.bcast == nil {
		return
	}
	e.bcast.Publish(mutate(e.bcast.Current()))
}

// syncTable runs push, then pull, then stored-conflict retry for one
// registered table, in that order (spec §4.4, "sync_table").
func (e *Engine) syncTable(ctx context.Context, table, endpoint string) error {
	if err := e.pushPhase(ctx, table, endpoint); err != nil {
		return fmt.Errorf("push %s: %w", table, err)
	}
	if err := e.pullPhase(ctx, table, endpoint); err != nil {
		return fmt.Errorf("pull %s: %w", table, err)
	}
	if err := e.retryStoredConflicts(ctx, table); err != nil {
		return fmt.Errorf("retry stored conflicts %s: %w", table, err)
	}
	return nil
}

func newID() string {
	return uuid.NewString()
}

// recordHistory appends an audit entry, logging (not failing) on error —
// the history trail is diagnostic, never load-bearing for sync correctness.
func (e *Engine) recordHistory(ctx context.Context, direction, actionType, table, entityID string) {
	err := e.store.RecordSyncHistory(ctx, store.HistoryEntry{
		Direction:  direction,
		ActionType: actionType,
		EntityType: table,
		EntityID:   entityID,
		DeviceID:   e.cfg.DeviceID,
		Timestamp:  nowMillis(),
	})
	if err != nil {
		e.logger.Warn("record sync history failed", "direction", direction, "table", table, "id", entityID, "err", err)
	}
}

func marshalEntityForLog(e entity.SyncEntity) string {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf("<unmarshalable:%v>", err)
	}
	return string(b)
}
