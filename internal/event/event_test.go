package event

import (
	"sync"
	"testing"
	"time"

	"github.com/OpenVisualCloud/Media-Communications-Mesh-sub001/internal/meshctx"
)

type recordingExporter struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingExporter) Export(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recordingExporter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestBrokerDeliversToMatchingConsumer(t *testing.T) {
	t.Parallel()
	b := New(nil, nil)
	defer b.Shutdown()

	received := make(chan Event, 1)
	unsub := b.Subscribe("session-a", SubscriberFunc(func(ctx meshctx.Context, ev Event) bool {
		received <- ev
		return true
	}))
	defer unsub()

	b.Publish(meshctx.Background(), "session-a", string(KindSessionStarted), map[string]any{"x": 1})

	select {
	case ev := <-received:
		if ev.ConsumerID != "session-a" || ev.Kind != KindSessionStarted {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestBrokerDoesNotDeliverToOtherConsumers(t *testing.T) {
	t.Parallel()
	b := New(nil, nil)
	defer b.Shutdown()

	var got int32
	unsub := b.Subscribe("session-b", SubscriberFunc(func(ctx meshctx.Context, ev Event) bool {
		got++
		return true
	}))
	defer unsub()

	done := make(chan struct{})
	unsubA := b.Subscribe("session-a", SubscriberFunc(func(ctx meshctx.Context, ev Event) bool {
		close(done)
		return true
	}))
	defer unsubA()

	b.Publish(meshctx.Background(), "session-a", string(KindSessionStarted), nil)
	<-done

	if got != 0 {
		t.Fatalf("session-b subscriber should not have been called, got %d deliveries", got)
	}
}

func TestSubscribeAllReceivesEveryConsumerID(t *testing.T) {
	t.Parallel()
	b := New(nil, nil)
	defer b.Shutdown()

	events := make(chan Event, 4)
	unsub := b.SubscribeAll(SubscriberFunc(func(ctx meshctx.Context, ev Event) bool {
		events <- ev
		return true
	}))
	defer unsub()

	b.Publish(meshctx.Background(), "session-a", string(KindSessionStarted), nil)
	b.Publish(meshctx.Background(), "session-b", string(KindSessionStopped), nil)

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case ev := <-events:
			seen[ev.ConsumerID] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out, saw %v", seen)
		}
	}
	if !seen["session-a"] || !seen["session-b"] {
		t.Fatalf("wildcard subscriber missed events: %v", seen)
	}
}

func TestBrokerExportsEveryEvent(t *testing.T) {
	t.Parallel()
	exp := &recordingExporter{}
	b := New(nil, exp)
	defer b.Shutdown()

	b.Publish(meshctx.Background(), "session-a", string(KindSessionStarted), nil)
	b.Publish(meshctx.Background(), "session-a", string(KindSessionStopped), nil)

	waitFor(t, func() bool { return exp.count() == 2 })
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	t.Parallel()
	b := New(nil, nil)
	defer b.Shutdown()

	var calls int32
	unsub := b.Subscribe("session-a", SubscriberFunc(func(ctx meshctx.Context, ev Event) bool {
		calls++
		return true
	}))
	unsub()

	// Publish after unsubscribe; use a second, still-subscribed consumer
	// to synchronize without relying on timing.
	sentinel := make(chan struct{})
	unsub2 := b.Subscribe("sentinel", SubscriberFunc(func(ctx meshctx.Context, ev Event) bool {
		close(sentinel)
		return true
	}))
	defer unsub2()

	b.Publish(meshctx.Background(), "session-a", string(KindSessionStarted), nil)
	b.Publish(meshctx.Background(), "sentinel", string(KindSessionStarted), nil)
	<-sentinel

	if calls != 0 {
		t.Fatalf("unsubscribed consumer received %d events, want 0", calls)
	}
}

func TestPublishNeverBlocksOnSaturatedQueue(t *testing.T) {
	t.Parallel()
	b := New(nil, nil)
	defer b.Shutdown()

	ok := true
	for i := 0; i < queueCapacity+10 && ok; i++ {
		ok = b.Publish(meshctx.Background(), "x", string(KindSessionStarted), nil)
	}
	// Either every publish succeeded (broker drained fast enough) or one
	// eventually reported false; both are acceptable, but Publish must
	// never block or panic under a saturated queue.
	_ = ok
}
