package status

import (
	"testing"
	"time"
)

func TestSnapshot_Predicates(t *testing.T) {
	s := Snapshot{IsOnline: true, PendingCount: 3, FailedCount: 0}
	if !s.HasPendingItems() {
		t.Error("expected HasPendingItems true")
	}
	if s.HasFailedSyncs() {
		t.Error("expected HasFailedSyncs false")
	}
	if !s.IsHealthy() {
		t.Error("expected IsHealthy true")
	}
}

func TestSnapshot_IsHealthy_IgnoresOnlineFalseWhenFailed(t *testing.T) {
	offline := Snapshot{IsOnline: false}
	if !offline.IsHealthy() {
		t.Error("offline with no failures and no error should be healthy")
	}
	failed := Snapshot{IsOnline: true, FailedCount: 1}
	if failed.IsHealthy() {
		t.Error("failed count > 0 should not be healthy")
	}
}

func TestSnapshot_TimeSinceLastSync(t *testing.T) {
	never := Snapshot{}
	if never.TimeSinceLastSync(1000) != -1 {
		t.Error("expected -1 when never synced")
	}

	last := int64(1000)
	s := Snapshot{LastSyncAt: &last}
	if got := s.TimeSinceLastSync(1500); got != 500*time.Millisecond {
		t.Errorf("got %v want 500ms", got)
	}
}

func TestSnapshot_IsRecentlySynced(t *testing.T) {
	last := int64(0)
	s := Snapshot{LastSyncAt: &last}
	if !s.IsRecentlySynced(int64(30 * time.Minute / time.Millisecond)) {
		t.Error("expected recently synced within an hour")
	}
	if s.IsRecentlySynced(int64(2 * time.Hour / time.Millisecond)) {
		t.Error("expected not recently synced after two hours")
	}
}

func TestBroadcaster_NewSubscriberGetsCurrentImmediately(t *testing.T) {
	b := NewBroadcaster(Snapshot{PendingCount: 7})
	ch, unsubscribe := b.Subscribe()
	defer unsubscribe()

	select {
	case snap := <-ch:
		if snap.PendingCount != 7 {
			t.Errorf("got %d want 7", snap.PendingCount)
		}
	default:
		t.Fatal("expected immediate snapshot on subscribe")
	}
}

func TestBroadcaster_PublishCoalescesUnreadValues(t *testing.T) {
	b := NewBroadcaster(Snapshot{})
	ch, unsubscribe := b.Subscribe()
	defer unsubscribe()
	<-ch // drain initial

	b.Publish(Snapshot{PendingCount: 1})
	b.Publish(Snapshot{PendingCount: 2})
	b.Publish(Snapshot{PendingCount: 3})

	select {
	case snap := <-ch:
		if snap.PendingCount != 3 {
			t.Errorf("expected latest value 3, got %d", snap.PendingCount)
		}
	default:
		t.Fatal("expected a coalesced value to be available")
	}

	select {
	case <-ch:
		t.Fatal("expected only one buffered value")
	default:
	}
}

func TestBroadcaster_CurrentReflectsLastPublish(t *testing.T) {
	b := NewBroadcaster(Snapshot{})
	b.Publish(Snapshot{IsSyncing: true})
	if !b.Current().IsSyncing {
		t.Fatal("expected Current to reflect last Publish")
	}
}
