package rdma

import (
	"testing"
	"time"

	"github.com/OpenVisualCloud/Media-Communications-Mesh-sub001/internal/fabric"
	"github.com/OpenVisualCloud/Media-Communications-Mesh-sub001/internal/meshctx"
	"github.com/OpenVisualCloud/Media-Communications-Mesh-sub001/mesherr"
)

func newTestDomain(t *testing.T) fabric.Domain {
	t.Helper()
	dev, err := fabric.NewSimulatedDevice(fabric.ProviderVerbs)
	if err != nil {
		t.Fatalf("new simulated device: %v", err)
	}
	domain, err := dev.OpenDomain()
	if err != nil {
		t.Fatalf("open domain: %v", err)
	}
	return domain
}

func TestPoolConsumeAndAdd(t *testing.T) {
	t.Parallel()
	domain := newTestDomain(t)
	pool, res := newPool(domain, 4, 128)
	if !res.OK() {
		t.Fatalf("newPool: %v", res)
	}
	defer pool.close()

	if got := pool.freeCount(); got != 4 {
		t.Fatalf("freeCount = %d, want 4", got)
	}

	s, res := pool.consume()
	if !res.OK() {
		t.Fatalf("consume: %v", res)
	}
	if got := pool.freeCount(); got != 3 {
		t.Fatalf("freeCount after consume = %d, want 3", got)
	}

	pool.add(s)
	if got := pool.freeCount(); got != 4 {
		t.Fatalf("freeCount after add = %d, want 4", got)
	}
}

func TestPoolConsumeFailsWhenEmpty(t *testing.T) {
	t.Parallel()
	domain := newTestDomain(t)
	pool, res := newPool(domain, 1, 64)
	if !res.OK() {
		t.Fatalf("newPool: %v", res)
	}
	defer pool.close()

	if _, res := pool.consume(); !res.OK() {
		t.Fatalf("first consume should succeed: %v", res)
	}
	_, res = pool.consume()
	if res.OK() || res.Kind != mesherr.ErrNoBuffer {
		t.Fatalf("second consume should fail with ErrNoBuffer, got %v", res)
	}
}

func TestPoolWaitUnblocksOnAdd(t *testing.T) {
	t.Parallel()
	domain := newTestDomain(t)
	pool, res := newPool(domain, 1, 64)
	if !res.OK() {
		t.Fatalf("newPool: %v", res)
	}
	defer pool.close()

	s, _ := pool.consume()

	done := make(chan mesherr.Result, 1)
	go func() {
		done <- pool.wait(meshctx.Background())
	}()

	time.Sleep(20 * time.Millisecond)
	pool.add(s)

	select {
	case res := <-done:
		if !res.OK() {
			t.Fatalf("wait: %v", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("wait did not unblock after add")
	}
}

func TestPoolWaitRespectsCancellation(t *testing.T) {
	t.Parallel()
	domain := newTestDomain(t)
	pool, res := newPool(domain, 1, 64)
	if !res.OK() {
		t.Fatalf("newPool: %v", res)
	}
	defer pool.close()

	pool.consume() // drain the only slot

	ctx, cancel := meshctx.WithCancel(meshctx.Background())
	cancel()

	res = pool.wait(ctx)
	if res.OK() || res.Kind != mesherr.ErrContextCancelled {
		t.Fatalf("wait on cancelled context should fail with ErrContextCancelled, got %v", res)
	}
}

func TestSlotSeqRoundTrip(t *testing.T) {
	t.Parallel()
	domain := newTestDomain(t)
	pool, res := newPool(domain, 1, 32)
	if !res.OK() {
		t.Fatalf("newPool: %v", res)
	}
	defer pool.close()

	s, _ := pool.consume()
	s.setSeq(12345)
	if got := s.seq(); got != 12345 {
		t.Fatalf("seq round trip = %d, want 12345", got)
	}
	if len(s.payload()) != 32 {
		t.Fatalf("payload length = %d, want 32", len(s.payload()))
	}
}
