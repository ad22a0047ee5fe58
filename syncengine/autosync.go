package syncengine

import (
	"context"
	"time"
)

// EnableAutoSync starts the periodic timer (spec §4.4.5): every
// AutoSyncInterval, sync_all runs automatically if the engine is online and
// not already mid-sync. It also subscribes to the transport's connectivity
// stream so a reconnect triggers an immediate sync rather than waiting for
// the next tick. Calling it while already enabled is a no-op.
func (e *Engine) EnableAutoSync(ctx context.Context) {
	e.mu.Lock()
	if e.autoSync {
		e.mu.Unlock()
		return
	}
	e.autoSync = true
	e.autoSyncStop = make(chan struct{})
	stop := e.autoSyncStop
	e.mu.Unlock()

	go e.runAutoSyncTimer(ctx, stop)
	e.subscribeConnectivity(ctx)
}

// DisableAutoSync stops the timer and connectivity subscription. A no-op if
// auto-sync was never enabled.
func (e *Engine) DisableAutoSync() {
	e.mu.Lock()
	if !e.autoSync {
		e.mu.Unlock()
		return
	}
	e.autoSync = false
	close(e.autoSyncStop)
	unsub := e.connSub
	e.connSub = nil
	e.mu.Unlock()

	if unsub != nil {
		unsub()
	}
}

func (e *Engine) isAutoSyncEnabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.autoSync
}

func (e *Engine) runAutoSyncTimer(ctx context.Context, stop chan struct{}) {
	timer := time.NewTimer(e.cfg.AutoSyncInterval)
	defer timer.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-timer.C:
			e.triggerAutoSync(ctx)
			timer.Reset(e.cfg.AutoSyncInterval)
		}
	}
}

func (e *Engine) triggerAutoSync(ctx context.Context) {
	if !e.adapter.IsOnline() {
		return
	}
	if err := e.SyncAll(ctx); err != nil {
		e.logger.Warn("auto_sync run failed", "err", err)
	}
}

// subscribeConnectivity wires an offline->online transition into an
// immediate sync_all, and stores the unsubscribe closure for DisableAutoSync.
func (e *Engine) subscribeConnectivity(ctx context.Context) {
	stream := e.adapter.ConnectivityStream()
	if stream == nil {
		return
	}

	done := make(chan struct{})
	go func() {
		wasOnline := e.adapter.IsOnline()
		for {
			select {
			case <-done:
				return
			case online, ok := <-stream:
				if !ok {
					return
				}
				if online && !wasOnline && e.isAutoSyncEnabled() {
					e.triggerAutoSync(ctx)
				}
				wasOnline = online
			}
		}
	}()

	e.mu.Lock()
	e.connSub = func() { close(done) }
	e.mu.Unlock()
}
