package qchan

import (
	"testing"
	"time"

	"github.com/OpenVisualCloud/Media-Communications-Mesh-sub001/internal/meshctx"
)

func TestSendReceiveFIFO(t *testing.T) {
	t.Parallel()
	c := New[int](4)
	ctx := meshctx.Background()

	for i := 0; i < 4; i++ {
		if !c.Send(ctx, i) {
			t.Fatalf("Send(%d) = false, want true", i)
		}
	}
	for i := 0; i < 4; i++ {
		v, ok := c.Receive(ctx)
		if !ok || v != i {
			t.Fatalf("Receive() = (%d, %v), want (%d, true)", v, ok, i)
		}
	}
}

func TestSendBlocksUntilSlotFree(t *testing.T) {
	t.Parallel()
	c := New[int](1)
	ctx := meshctx.Background()

	if !c.Send(ctx, 1) {
		t.Fatal("first Send should succeed")
	}

	done := make(chan bool, 1)
	go func() { done <- c.Send(ctx, 2) }()

	select {
	case <-done:
		t.Fatal("Send should block while the single slot is occupied")
	case <-time.After(20 * time.Millisecond):
	}

	if v, ok := c.Receive(ctx); !ok || v != 1 {
		t.Fatalf("Receive() = (%d, %v), want (1, true)", v, ok)
	}

	select {
	case ok := <-done:
		if !ok {
			t.Fatal("blocked Send should have succeeded once a slot freed")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Send never unblocked after Receive freed a slot")
	}
}

func TestSendRespectsContextCancellation(t *testing.T) {
	t.Parallel()
	c := New[int](1)
	c.Send(meshctx.Background(), 1) // fill the only slot

	ctx, cancel := meshctx.WithCancel(meshctx.Background())
	cancel()

	if c.Send(ctx, 2) {
		t.Fatal("Send on a cancelled context should return false")
	}
}

func TestReceiveRespectsContextCancellation(t *testing.T) {
	t.Parallel()
	c := New[int](1)

	ctx, cancel := meshctx.WithCancel(meshctx.Background())
	cancel()

	if _, ok := c.Receive(ctx); ok {
		t.Fatal("Receive on a cancelled context should return false")
	}
}

func TestCloseUnblocksWaiters(t *testing.T) {
	t.Parallel()
	c := New[int](1)

	done := make(chan bool, 1)
	go func() {
		_, ok := c.Receive(meshctx.Background())
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	c.Close()

	select {
	case ok := <-done:
		if ok {
			t.Fatal("Receive after Close should return false")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not unblock the waiting Receive")
	}

	if c.Send(meshctx.Background(), 1) {
		t.Fatal("Send on a closed channel should return false")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	t.Parallel()
	c := New[int](1)
	c.Close()
	c.Close() // must not panic a second time
}

func TestCloseDoesNotDropAlreadyQueuedItems(t *testing.T) {
	t.Parallel()
	c := New[int](2)
	c.Send(meshctx.Background(), 42)
	c.Close()

	v, ok := c.Receive(meshctx.Background())
	if !ok || v != 42 {
		t.Fatalf("Receive() after Close = (%d, %v), want (42, true) for an already-queued item", v, ok)
	}
	if _, ok := c.Receive(meshctx.Background()); ok {
		t.Fatal("Receive() on a drained, closed channel should return false")
	}
}

func TestTrySendNeverBlocksWhenFull(t *testing.T) {
	t.Parallel()
	c := New[int](1)
	if !c.TrySend(1) {
		t.Fatal("first TrySend on an empty channel should succeed")
	}
	if c.TrySend(2) {
		t.Fatal("TrySend on a full channel should return false, not block")
	}
	if got := c.Len(); got != 1 {
		t.Fatalf("Len() = %d, want 1", got)
	}
}

func TestTrySendFailsAfterClose(t *testing.T) {
	t.Parallel()
	c := New[int](1)
	c.Close()
	if c.TrySend(1) {
		t.Fatal("TrySend on a closed channel should return false")
	}
}

func TestNewClampsCapacityToAtLeastOne(t *testing.T) {
	t.Parallel()
	c := New[int](0)
	if !c.TrySend(1) {
		t.Fatal("capacity 0 should be clamped to 1, so one TrySend should succeed")
	}
}
