package connectivity

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"
)

type stubProber struct {
	reachable atomic.Bool
}

func (s *stubProber) TestConnection(ctx context.Context, url string) bool {
	return s.reachable.Load()
}

func listenOnLoopback(t *testing.T) (addr string, closeFn func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()
	return ln.Addr().String(), func() { ln.Close() }
}

func TestPoller_OnlineRequiresBothLinkAndAppReachability(t *testing.T) {
	addr, closeLn := listenOnLoopback(t)
	defer closeLn()

	prober := &stubProber{}
	prober.reachable.Store(true)

	p := NewPoller(addr, "", prober, 20*time.Millisecond)
	p.Start(context.Background())
	defer p.Close()

	deadline := time.Now().Add(time.Second)
	for !p.IsOnline() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !p.IsOnline() {
		t.Fatal("expected online when both link and app reachable")
	}
}

func TestPoller_OfflineWhenAppProbeFails(t *testing.T) {
	addr, closeLn := listenOnLoopback(t)
	defer closeLn()

	prober := &stubProber{}
	prober.reachable.Store(false)

	p := NewPoller(addr, "", prober, 20*time.Millisecond)
	p.Start(context.Background())
	defer p.Close()

	time.Sleep(60 * time.Millisecond)
	if p.IsOnline() {
		t.Fatal("expected offline when app-level probe fails even if link is up")
	}
}

func TestPoller_OfflineWhenLinkUnreachable(t *testing.T) {
	prober := &stubProber{}
	prober.reachable.Store(true)

	p := NewPoller("127.0.0.1:1", "", prober, 20*time.Millisecond)
	p.Start(context.Background())
	defer p.Close()

	time.Sleep(60 * time.Millisecond)
	if p.IsOnline() {
		t.Fatal("expected offline when link-level dial fails")
	}
}

func TestPoller_StreamCoalescesDuplicateStates(t *testing.T) {
	addr, closeLn := listenOnLoopback(t)
	defer closeLn()

	prober := &stubProber{}
	prober.reachable.Store(true)

	p := NewPoller(addr, "", prober, 10*time.Millisecond)
	ch := p.Stream()
	<-ch // drain initial false

	p.Start(context.Background())
	defer p.Close()

	select {
	case v := <-ch:
		if !v {
			t.Fatal("expected transition to true")
		}
	case <-time.After(time.Second):
		t.Fatal("expected a state transition")
	}

	// No further values should arrive purely from repeated identical polls.
	select {
	case v := <-ch:
		t.Fatalf("expected no duplicate state transition, got %v", v)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestClose_SafeWithoutStart(t *testing.T) {
	p := NewPoller("127.0.0.1:1", "", &stubProber{}, time.Second)
	p.Close() // must not hang
}
