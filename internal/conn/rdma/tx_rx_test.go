package rdma

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/OpenVisualCloud/Media-Communications-Mesh-sub001/internal/conn"
	"github.com/OpenVisualCloud/Media-Communications-Mesh-sub001/internal/fabric"
	"github.com/OpenVisualCloud/Media-Communications-Mesh-sub001/internal/meshctx"
	"github.com/OpenVisualCloud/Media-Communications-Mesh-sub001/mesherr"
)

// recordingSink is a minimal terminal Connection: every accepted buffer
// is appended, in receive order, to received. It stands in for the
// LocalTx a real Rx chain forwards into (spec §2's RdmaRx -> LocalTx
// data-flow diagram).
type recordingSink struct {
	*conn.Base

	mu       sync.Mutex
	received [][]byte
}

func newRecordingSink() *recordingSink {
	s := &recordingSink{}
	s.Base = conn.NewBase(conn.KindTransmitter, s, nil)
	return s
}

func (s *recordingSink) OnEstablish(ctx meshctx.Context) mesherr.Result { return mesherr.Ok() }
func (s *recordingSink) OnShutdown(ctx meshctx.Context) mesherr.Result  { return mesherr.Ok() }

func (s *recordingSink) HandleReceive(ctx meshctx.Context, p []byte) (int, mesherr.Result) {
	cp := make([]byte, len(p))
	copy(cp, p)
	s.mu.Lock()
	s.received = append(s.received, cp)
	s.mu.Unlock()
	return len(p), mesherr.Ok()
}

func (s *recordingSink) snapshot() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.received...)
}

// portAllocator hands out disjoint local/remote port pairs per test so
// the process-wide simulated bus (internal/fabric's defaultBus) never
// confuses one test's endpoints for another's.
var portAllocator struct {
	mu   sync.Mutex
	next int
}

func allocPortPair() (rxPort, txPort int) {
	portAllocator.mu.Lock()
	defer portAllocator.mu.Unlock()
	if portAllocator.next == 0 {
		portAllocator.next = 20000
	}
	rxPort = portAllocator.next
	txPort = portAllocator.next + 1000
	portAllocator.next += 2000
	return rxPort, txPort
}

func newLinkedPair(t *testing.T, numEndpoints, queueSize, transferSize int) (*Tx, *Rx, *recordingSink) {
	t.Helper()
	rxPort, txPort := allocPortPair()

	rxCfg := Config{
		LocalAddr:    Addr{IP: "127.0.0.1", Port: rxPort},
		RemoteAddr:   Addr{IP: "127.0.0.1", Port: txPort},
		TransferSize: transferSize,
		QueueSize:    queueSize,
		NumEndpoints: numEndpoints,
		Provider:     fabric.ProviderTCP,
	}
	txCfg := Config{
		LocalAddr:    Addr{IP: "127.0.0.1", Port: txPort},
		RemoteAddr:   Addr{IP: "127.0.0.1", Port: rxPort},
		TransferSize: transferSize,
		QueueSize:    queueSize,
		NumEndpoints: numEndpoints,
		Provider:     fabric.ProviderTCP,
	}
	if res := rxCfg.Validate(); !res.OK() {
		t.Fatalf("rx config validate: %v", res)
	}
	if res := txCfg.Validate(); !res.OK() {
		t.Fatalf("tx config validate: %v", res)
	}

	ctx := meshctx.Background()

	rx := NewRx(rxCfg, nil)
	rx.ConfigureDone()
	if res := rx.Establish(ctx); !res.OK() {
		t.Fatalf("rx establish: %v", res)
	}

	sink := newRecordingSink()
	sink.ConfigureDone()
	if res := sink.Establish(ctx); !res.OK() {
		t.Fatalf("sink establish: %v", res)
	}
	if res := rx.SetLink(ctx, sink, rx); !res.OK() {
		t.Fatalf("rx set link: %v", res)
	}

	tx := NewTx(txCfg, nil)
	tx.ConfigureDone()
	if res := tx.Establish(ctx); !res.OK() {
		t.Fatalf("tx establish: %v", res)
	}

	t.Cleanup(func() {
		tx.Shutdown(meshctx.Background())
		rx.Shutdown(meshctx.Background())
		sink.Shutdown(meshctx.Background())
	})

	return tx, rx, sink
}

func waitForCount(t *testing.T, get func() int, want int, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if get() >= want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for count >= %d, got %d", want, get())
}

// TestEchoFiveBuffers is spec §8 scenario 1: a single-endpoint RDMA
// pair carries five "Hello World\0" buffers from Tx to Rx, each
// delivered in order downstream with no errors, and both sides'
// transactions_successful settle at 5.
func TestEchoFiveBuffers(t *testing.T) {
	t.Parallel()
	const payload = "Hello World\x00" // 12 bytes
	const n = 5

	ctx := meshctx.Background()
	tx, rx, sink := newLinkedPair(t, 1, 8, len(payload))

	for i := 0; i < n; i++ {
		if _, res := tx.OnReceive(ctx, []byte(payload)); !res.OK() {
			t.Fatalf("tx.OnReceive(%d): %v", i, res)
		}
	}

	waitForCount(t, func() int { return len(sink.snapshot()) }, n, 2*time.Second)

	got := sink.snapshot()
	if len(got) != n {
		t.Fatalf("delivered %d buffers, want %d", len(got), n)
	}
	for i, buf := range got {
		if string(buf) != payload {
			t.Fatalf("buffer %d = %q, want %q", i, buf, payload)
		}
	}

	waitForCount(t, func() int { return int(tx.Metrics().TransactionsSuccessful) }, n, time.Second)
	if got := tx.Metrics().TransactionsSuccessful; got != n {
		t.Fatalf("tx transactions_successful = %d, want %d", got, n)
	}
	if got := tx.Metrics().Errors; got != 0 {
		t.Fatalf("tx errors = %d, want 0", got)
	}
	if got := tx.Metrics().InboundBytes; got != uint64(n*len(payload)) {
		t.Fatalf("tx inbound_bytes = %d, want %d", got, n*len(payload))
	}

	waitForCount(t, func() int { return int(rx.Metrics().TransactionsSuccessful) }, n, time.Second)
	if got := rx.Metrics().TransactionsSuccessful; got != n {
		t.Fatalf("rx transactions_successful = %d, want %d", got, n)
	}
}

// TestOutOfOrderDeliveryReassemblesInOrder is spec §8 scenario 2: with
// num_endpoints=2 and queue_size=32, a run of sequential sends striped
// round-robin across two endpoints completes out of trailer-sequence
// order at the reactor, yet the reorder ring still hands the sink
// every buffer in strict sequence order.
func TestOutOfOrderDeliveryReassemblesInOrder(t *testing.T) {
	t.Parallel()
	const transferSize = 16
	const total = 1000

	ctx := meshctx.Background()
	tx, _, sink := newLinkedPair(t, 2, 32, transferSize)

	for i := 0; i < total; i++ {
		buf := make([]byte, transferSize)
		copy(buf, fmt.Sprintf("msg-%d", i))
		if _, res := tx.OnReceive(ctx, buf); !res.OK() {
			t.Fatalf("tx.OnReceive(%d): %v", i, res)
		}
	}

	waitForCount(t, func() int { return len(sink.snapshot()) }, total, 10*time.Second)

	got := sink.snapshot()
	if len(got) != total {
		t.Fatalf("delivered %d buffers, want %d", len(got), total)
	}
	for i, buf := range got {
		want := fmt.Sprintf("msg-%d", i)
		trimmed := string(buf[:len(want)])
		if trimmed != want {
			t.Fatalf("buffer %d out of order: got %q, want prefix %q", i, buf, want)
		}
	}
}

// TestRepeatedEstablishRejectedWhileActive is spec §8 scenario 5: a
// second Establish call on an already-active connection must fail with
// error_wrong_state and leave the connection active, and after
// Shutdown an Establish with no fresh Configure (ConfigureDone) in
// between is rejected.
func TestRepeatedEstablishRejectedWhileActive(t *testing.T) {
	t.Parallel()
	ctx := meshctx.Background()
	tx, _, _ := newLinkedPair(t, 1, 4, 12)

	if got := tx.State(); got != conn.StateActive {
		t.Fatalf("tx state = %v, want active", got)
	}

	res := tx.Establish(ctx)
	if res.OK() || res.Kind != mesherr.ErrWrongState {
		t.Fatalf("re-establish while active: got %v, want error_wrong_state", res)
	}
	if got := tx.State(); got != conn.StateActive {
		t.Fatalf("tx state after rejected re-establish = %v, want still active", got)
	}

	if res := tx.Shutdown(ctx); !res.OK() {
		t.Fatalf("shutdown: %v", res)
	}
	if got := tx.State(); got != conn.StateClosed {
		t.Fatalf("tx state after shutdown = %v, want closed", got)
	}

	// Establish again straight from closed, with no intervening
	// ConfigureDone, must still be rejected: closed only leaves via
	// ConfigureDone.
	if res := tx.Establish(ctx); res.OK() {
		t.Fatal("establish from closed without reconfiguring should fail")
	}
}
