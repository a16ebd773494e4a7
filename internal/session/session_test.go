package session

import (
	"testing"
	"time"

	"github.com/OpenVisualCloud/Media-Communications-Mesh-sub001/internal/event"
	"github.com/OpenVisualCloud/Media-Communications-Mesh-sub001/internal/meshctx"
	"github.com/OpenVisualCloud/Media-Communications-Mesh-sub001/mesherr"
)

func newTestRegistry(t *testing.T) (*Registry, *event.Broker) {
	t.Helper()
	broker := event.New(nil, nil)
	t.Cleanup(broker.Shutdown)
	return New(nil, broker, nil, nil), broker
}

func rdmaRequest() Request {
	return Request{
		PayloadType:  PayloadRDMAVideo,
		LocalAddr:    Addr{IP: "127.0.0.1", Port: 20000},
		RemoteAddr:   Addr{IP: "127.0.0.1", Port: 20001},
		TransferSize: 1500,
		QueueSize:    8,
		NumEndpoints: 1,
	}
}

func TestTxStartStatsAndStop(t *testing.T) {
	t.Parallel()
	reg, _ := newTestRegistry(t)
	ctx := meshctx.Background()

	id, res := reg.TxStart(ctx, rdmaRequest())
	if !res.OK() {
		t.Fatalf("TxStart: %v", res)
	}
	if id == "" {
		t.Fatal("TxStart returned empty session id")
	}

	stats := reg.Stats()
	if len(stats) != 1 || stats[0].SessionID != id {
		t.Fatalf("Stats after TxStart = %+v", stats)
	}

	if res := reg.Stop(ctx, id); !res.OK() {
		t.Fatalf("Stop: %v", res)
	}
	if stats := reg.Stats(); len(stats) != 0 {
		t.Fatalf("Stats after Stop should be empty, got %+v", stats)
	}
}

func TestStopUnknownSessionFails(t *testing.T) {
	t.Parallel()
	reg, _ := newTestRegistry(t)
	ctx := meshctx.Background()

	res := reg.Stop(ctx, "does-not-exist")
	if res.OK() || res.Kind != mesherr.ErrBadArgument {
		t.Fatalf("Stop on unknown session should fail with ErrBadArgument, got %v", res)
	}
}

func TestStartRejectsUnknownPayloadType(t *testing.T) {
	t.Parallel()
	reg, _ := newTestRegistry(t)
	ctx := meshctx.Background()

	req := rdmaRequest()
	req.PayloadType = "NOT_A_REAL_PAYLOAD"
	_, res := reg.TxStart(ctx, req)
	if res.OK() || res.Kind != mesherr.ErrBadArgument {
		t.Fatalf("expected ErrBadArgument for unknown payload type, got %v", res)
	}
}

func TestStartPublishesSessionStartedEvent(t *testing.T) {
	t.Parallel()
	reg, broker := newTestRegistry(t)
	ctx := meshctx.Background()

	events := make(chan event.Event, 4)
	unsub := broker.SubscribeAll(event.SubscriberFunc(func(ctx meshctx.Context, ev event.Event) bool {
		events <- ev
		return true
	}))
	defer unsub()

	id, res := reg.TxStart(ctx, rdmaRequest())
	if !res.OK() {
		t.Fatalf("TxStart: %v", res)
	}

	select {
	case ev := <-events:
		if ev.Kind != event.KindSessionStarted || ev.ConsumerID != id {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for session_started event")
	}
}

func TestMultipleSessionsAreIndependentlyTracked(t *testing.T) {
	t.Parallel()
	reg, _ := newTestRegistry(t)
	ctx := meshctx.Background()

	req1 := rdmaRequest()
	req2 := rdmaRequest()
	req2.LocalAddr.Port = 21000
	req2.RemoteAddr.Port = 21001

	id1, res := reg.TxStart(ctx, req1)
	if !res.OK() {
		t.Fatalf("TxStart 1: %v", res)
	}
	id2, res := reg.TxStart(ctx, req2)
	if !res.OK() {
		t.Fatalf("TxStart 2: %v", res)
	}
	if id1 == id2 {
		t.Fatal("two TxStart calls returned the same session id")
	}

	stats := reg.Stats()
	if len(stats) != 2 {
		t.Fatalf("want 2 tracked sessions, got %d", len(stats))
	}

	if res := reg.Stop(ctx, id1); !res.OK() {
		t.Fatalf("Stop 1: %v", res)
	}
	if stats := reg.Stats(); len(stats) != 1 || stats[0].SessionID != id2 {
		t.Fatalf("after stopping id1, want only id2 left, got %+v", stats)
	}
	reg.Stop(ctx, id2)
}
