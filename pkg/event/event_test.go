package event

import (
	"context"
	"sync"
	"testing"
	"time"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestBroadcastDeliversToSubscriber(t *testing.T) {
	b := New(4, nil)
	var mu sync.Mutex
	var received []Kind
	b.Subscribe("collector", HandlerFunc(func(ctx context.Context, ev Event) error {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, ev.Kind)
		return nil
	}))

	if err := b.Broadcast(Event{Kind: KindTrApply}); err != nil {
		t.Fatalf("Broadcast() error = %v", err)
	}

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	})
	b.Stop(context.Background())
}

func TestBroadcastBlockingDeliversSynchronously(t *testing.T) {
	b := New(4, nil)
	delivered := false
	b.Subscribe("sync", HandlerFunc(func(ctx context.Context, ev Event) error {
		delivered = true
		return nil
	}))
	// BroadcastBlocking calls the handler on this goroutine, so it does not
	// depend on the delivery goroutine Subscribe started; this wait returns
	// at once.
	waitFor(t, time.Second, func() bool { return true })

	if err := b.BroadcastBlocking(context.Background(), Event{Kind: KindCreate}); err != nil {
		t.Fatalf("BroadcastBlocking() error = %v", err)
	}
	if !delivered {
		t.Fatalf("expected BroadcastBlocking to deliver before returning")
	}
	b.Stop(context.Background())
}

func TestBroadcastAfterStopReturnsBusShut(t *testing.T) {
	b := New(4, nil)
	b.Stop(context.Background())
	if err := b.Broadcast(Event{Kind: KindDestroy}); err == nil {
		t.Fatalf("expected error broadcasting on a stopped bus")
	}
}

func TestEnqueueDropsOldestWhenQueueFull(t *testing.T) {
	b := New(1, nil)
	release := make(chan struct{})
	var mu sync.Mutex
	var received []Kind
	b.Subscribe("slow", HandlerFunc(func(ctx context.Context, ev Event) error {
		<-release // block the first delivery so the queue backs up
		mu.Lock()
		received = append(received, ev.Kind)
		mu.Unlock()
		return nil
	}))

	_ = b.Broadcast(Event{Kind: KindCreate})
	// Give the handler goroutine time to pick up KindCreate and block on
	// release, so the next two broadcasts queue up behind it.
	time.Sleep(20 * time.Millisecond)
	_ = b.Broadcast(Event{Kind: KindUndo})
	_ = b.Broadcast(Event{Kind: KindRedo})
	close(release)

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) >= 2
	})
	mu.Lock()
	got := append([]Kind(nil), received...)
	mu.Unlock()
	// The queue holds one event: KindRedo evicts the pending KindUndo.
	if got[0] != KindCreate || got[1] != KindRedo {
		t.Fatalf("received = %v, want [%s %s] (oldest pending event dropped)", got, KindCreate, KindRedo)
	}
	b.Stop(context.Background())
}

func TestAddEventHandlersRegistersAll(t *testing.T) {
	b := New(4, nil)
	var mu sync.Mutex
	calls := map[string]bool{}
	b.AddEventHandlers(map[string]Handler{
		"a": HandlerFunc(func(ctx context.Context, ev Event) error {
			mu.Lock()
			calls["a"] = true
			mu.Unlock()
			return nil
		}),
		"b": HandlerFunc(func(ctx context.Context, ev Event) error {
			mu.Lock()
			calls["b"] = true
			mu.Unlock()
			return nil
		}),
	})
	_ = b.Broadcast(Event{Kind: KindCreate})
	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls["a"] && calls["b"]
	})
	b.Stop(context.Background())
}
