package rdma

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"

	"github.com/OpenVisualCloud/Media-Communications-Mesh-sub001/internal/conn"
	"github.com/OpenVisualCloud/Media-Communications-Mesh-sub001/internal/fabric"
	"github.com/OpenVisualCloud/Media-Communications-Mesh-sub001/internal/meshctx"
	"github.com/OpenVisualCloud/Media-Communications-Mesh-sub001/mesherr"
)

const cqBatchSize = 32

// consumeRetryInterval/consumeRetryBudget implement spec §4.5.3 step 1:
// "Repeatedly consume a slot; on error_no_buffer sleep 100 µs and
// retry, total budget 500 ms. On timeout return error_timeout." Unlike
// Rx's posting loop (which blocks on pool.wait with no deadline, since
// nothing downstream bounds how long the wire side may take), Tx's
// caller is an upstream Transmit that needs a bounded answer.
const (
	consumeRetryInterval = 100 * time.Microsecond
	consumeRetryBudget   = 500 * time.Millisecond
)

// Tx is the transmit side of the RDMA transport (spec §4.5.3). It
// consumes buffers out of its pool in OnReceive, stamps them, and
// round-robins sends across its endpoint set; a per-endpoint CQ reactor
// recycles slots back to the pool once the send completes.
type Tx struct {
	*conn.Base

	cfg    Config
	domain fabric.Domain
	release func() mesherr.Result

	pool *Pool
	eps  *endpointSet

	rrCounter uint64

	// seq is this connection's monotonic send sequence, stamped into
	// every outgoing slot's trailer with fetch-add semantics. It is per
	// Tx so the peer Rx sees a contiguous run it can reassemble.
	seq uint64

	workers *errgroup.Group
	cancel  meshctx.CancelFunc
}

// NewTx constructs a transmit connection. cfg must already pass
// Validate; sink may be nil in tests.
func NewTx(cfg Config, sink conn.EventSink) *Tx {
	t := &Tx{cfg: cfg}
	t.Base = conn.NewBase(conn.KindTransmitter, t, sink)
	return t
}

// OnEstablish brings up the shared device, the endpoint set and the
// buffer pool, then starts one CQ reactor goroutine per endpoint (spec
// §4.5.1 steps 1-6).
func (t *Tx) OnEstablish(ctx meshctx.Context) mesherr.Result {
	domain, release, res := acquireDevice(t.cfg.Provider)
	if !res.OK() {
		return res
	}
	t.domain = domain
	t.release = release

	pool, res := newPool(domain, t.cfg.QueueSize, t.cfg.TransferSize)
	if !res.OK() {
		t.release()
		return res
	}
	t.pool = pool

	eps, res := bringUpEndpoints(domain, t.cfg, false)
	if !res.OK() {
		t.pool.close()
		t.release()
		return res
	}
	t.eps = eps

	runCtx, cancel := meshctx.WithCancel(ctx)
	t.cancel = cancel
	t.workers = &errgroup.Group{}
	for i := range t.eps.eps {
		i := i
		t.workers.Go(func() error {
			t.reactorLoop(runCtx, i)
			return nil
		})
	}
	return mesherr.Ok()
}

// OnShutdown cancels the reactor goroutines, joins them, then tears
// down endpoints (highest index first), the pool and finally releases
// the shared device (spec §4.5.5).
func (t *Tx) OnShutdown(ctx meshctx.Context) mesherr.Result {
	if t.cancel != nil {
		t.cancel()
	}
	if t.workers != nil {
		t.workers.Wait()
	}
	if t.eps != nil {
		t.eps.closeAll()
		t.eps.av.Close()
	}
	if t.pool != nil {
		t.pool.close()
	}
	if t.release != nil {
		return t.release()
	}
	return mesherr.Ok()
}

// HandleReceive is the transmit entry point, reached through
// Base.OnReceive: an upstream connection (Local,
// ST 2110, gateway) forwards a buffer in and this pulls a pool slot,
// copies the payload in, stamps the trailer, and posts a send on the
// next endpoint in round-robin order (spec §4.5.3).
func (t *Tx) HandleReceive(ctx meshctx.Context, p []byte) (int, mesherr.Result) {
	s, res := t.consumeWithRetry(ctx)
	if !res.OK() {
		return 0, res
	}

	n := copy(s.payload(), p)
	seq := atomic.AddUint64(&t.seq, 1) - 1
	s.setSeq(seq)

	epIndex := int(atomic.AddUint64(&t.rrCounter, 1)-1) % len(t.eps.eps)
	dest := t.eps.remotes[epIndex]
	ep := t.eps.eps[epIndex]

	sendErr := sendWithRetry(ctx, ep, s, dest)
	if sendErr != nil {
		t.pool.add(s)
		return 0, mesherr.Wrap(mesherr.ErrGeneralFailure, sendErr, "post rdma send")
	}
	return n, mesherr.Ok()
}

// consumeWithRetry implements spec §4.5.3 step 1's bounded retry over
// Pool.consume: a 100 µs sleep between attempts, up to a 500 ms total
// budget, surfacing error_timeout if no slot frees up in time.
func (t *Tx) consumeWithRetry(ctx meshctx.Context) (*slot, mesherr.Result) {
	deadline := time.Now().Add(consumeRetryBudget)
	for {
		s, res := t.pool.consume()
		if res.OK() {
			return s, res
		}
		if res.Kind != mesherr.ErrNoBuffer {
			return nil, res
		}
		if !time.Now().Before(deadline) {
			return nil, mesherr.New(mesherr.ErrTimeout,
				fmt.Errorf("rdma tx: no free buffer within %s", consumeRetryBudget))
		}
		if sleepRes := meshctx.Sleep(ctx, consumeRetryInterval); !sleepRes.OK() {
			return nil, sleepRes
		}
	}
}

// sendWithRetry posts one send, retrying transient EAGAIN-class
// failures with a bounded backoff budget (spec §4.5.3: "EAGAIN on post
// retries with backoff up to a budget before surfacing
// error_general_failure").
func sendWithRetry(ctx meshctx.Context, ep fabric.Endpoint, s *slot, dest fabric.Address) error {
	op := func() (struct{}, error) {
		err := ep.Send(s.buf, nil, dest, s)
		if err == nil || err == fabric.ErrAgain {
			return struct{}{}, err
		}
		// Anything other than EAGAIN is fatal for this send; stop
		// retrying immediately instead of burning the backoff budget.
		return struct{}{}, backoff.Permanent(err)
	}
	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(2*time.Second),
	)
	return err
}

// reactorLoop drains endpoint i's completion queue, recycling the
// slot each completion references back to the pool (spec §4.5.3's CQ
// reactor thread; §5 "suspension point: blocking CQ read when
// comp_method is sread/wait_fd, busy-poll with back-off otherwise").
func (t *Tx) reactorLoop(ctx meshctx.Context, epIndex int) {
	cq := t.eps.eps[epIndex].CQ()
	idle := time.Millisecond
	for {
		if meshctx.Cancelled(ctx) {
			return
		}
		completions, err := cq.Read(cqBatchSize)
		if err == fabric.ErrQueueEmpty {
			if meshctx.Sleep(ctx, idle); idle < 10*time.Millisecond {
				idle *= 2
			}
			continue
		}
		if err == fabric.ErrCQEntryAvail {
			if c, rerr := cq.ReadErr(); rerr == nil {
				if s, ok := c.Context.(*slot); ok {
					t.pool.add(s)
				}
			}
			continue
		}
		if err != nil {
			return
		}
		idle = time.Millisecond
		for _, c := range completions {
			if s, ok := c.Context.(*slot); ok {
				t.pool.add(s)
			}
		}
	}
}
