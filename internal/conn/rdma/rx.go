package rdma

import (
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/OpenVisualCloud/Media-Communications-Mesh-sub001/internal/conn"
	"github.com/OpenVisualCloud/Media-Communications-Mesh-sub001/internal/fabric"
	"github.com/OpenVisualCloud/Media-Communications-Mesh-sub001/internal/meshctx"
	"github.com/OpenVisualCloud/Media-Communications-Mesh-sub001/mesherr"
)

// reorderWindow sizes the reassembly ring relative to the pool depth;
// a window as large as the whole pool means every outstanding receive
// can be held for reordering without the ring itself ever causing an
// eviction before the pool does (spec §4.5.4's W is "sized with the
// pool").
func reorderWindow(queueSize int) int { return queueSize }

// Rx is the receive side of the RDMA transport (spec §4.5.4). It posts
// receives round-robin across its endpoint set from a dedicated posting
// goroutine, and reassembles completions in trailer-sequence order
// behind a reorderRing before delivering each payload downstream via
// Transmit.
type Rx struct {
	*conn.Base

	cfg     Config
	domain  fabric.Domain
	release func() mesherr.Result

	pool *Pool
	eps  *endpointSet
	ring *reorderRing

	workers *errgroup.Group
	cancel  meshctx.CancelFunc
}

func NewRx(cfg Config, sink conn.EventSink) *Rx {
	r := &Rx{cfg: cfg}
	r.Base = conn.NewBase(conn.KindReceiver, r, sink)
	return r
}

func (r *Rx) OnEstablish(ctx meshctx.Context) mesherr.Result {
	domain, release, res := acquireDevice(r.cfg.Provider)
	if !res.OK() {
		return res
	}
	r.domain = domain
	r.release = release

	pool, res := newPool(domain, r.cfg.QueueSize, r.cfg.TransferSize)
	if !res.OK() {
		r.release()
		return res
	}
	r.pool = pool
	r.ring = newReorderRing(reorderWindow(r.cfg.QueueSize))

	eps, res := bringUpEndpoints(domain, r.cfg, true)
	if !res.OK() {
		r.pool.close()
		r.release()
		return res
	}
	r.eps = eps

	runCtx, cancel := meshctx.WithCancel(ctx)
	r.cancel = cancel
	r.workers = &errgroup.Group{}
	r.workers.Go(func() error {
		r.postingLoop(runCtx)
		return nil
	})
	r.workers.Go(func() error {
		r.reactorLoop(runCtx)
		return nil
	})
	return mesherr.Ok()
}

func (r *Rx) OnShutdown(ctx meshctx.Context) mesherr.Result {
	if r.cancel != nil {
		r.cancel()
	}
	if r.workers != nil {
		r.workers.Wait()
	}
	if r.ring != nil {
		for _, s := range r.ring.drain() {
			r.pool.add(s)
		}
	}
	if r.eps != nil {
		r.eps.closeAll()
		r.eps.av.Close()
	}
	if r.pool != nil {
		r.pool.close()
	}
	if r.release != nil {
		return r.release()
	}
	return mesherr.Ok()
}

// HandleReceive is unreachable in normal operation: a receiver is the
// wire end of a chain, never a forward target of another connection's
// Transmit. It forwards onward to a transmitter-kind peer (see
// conn.Base.SetLink) and never accepts data from one.
func (r *Rx) HandleReceive(ctx meshctx.Context, p []byte) (int, mesherr.Result) {
	return 0, mesherr.New(mesherr.ErrBadArgument, nil)
}

// postingLoop keeps every endpoint supplied with posted receive
// buffers, pulling from the pool and blocking on pool.wait when it runs
// dry (spec §4.5.4 "posting thread").
func (r *Rx) postingLoop(ctx meshctx.Context) {
	i := 0
	for {
		if meshctx.Cancelled(ctx) {
			return
		}
		s, res := r.pool.consume()
		if !res.OK() {
			if waitRes := r.pool.wait(ctx); !waitRes.OK() {
				return
			}
			continue
		}
		ep := r.eps.eps[i%len(r.eps.eps)]
		i++
		if err := ep.Recv(s.buf, nil, s); err != nil {
			r.pool.add(s)
			return
		}
	}
}

// reactorLoop drains the shared CQ (endpoint 0's, shared by every
// other endpoint per bringUpEndpoints), places each completed slot into
// the reorder ring, and delivers whatever the ring now makes
// contiguous via Transmit (spec §4.5.4).
func (r *Rx) reactorLoop(ctx meshctx.Context) {
	cq := r.eps.eps[0].CQ()
	idle := time.Millisecond
	for {
		if meshctx.Cancelled(ctx) {
			return
		}
		completions, err := cq.Read(cqBatchSize)
		switch err {
		case fabric.ErrQueueEmpty:
			if meshctx.Sleep(ctx, idle); idle < 10*time.Millisecond {
				idle *= 2
			}
			continue
		case fabric.ErrCanceled:
			// A canceled receive reports no payload, so there is
			// nothing in `completions` to recycle; recover the
			// slot via ReadErr and attempt a flush without
			// advancing head (spec §4.5.4: "recycle the slot,
			// attempt an in-order flush (a canceled receive does
			// not advance head)").
			r.recycleErrEntry(cq)
			for _, rs := range r.ring.flushReady() {
				r.deliver(ctx, rs)
			}
			continue
		case fabric.ErrConnReset, fabric.ErrNotConn:
			// These are recoverable at the link layer but not
			// instantaneous; sleep a fixed 50 ms, longer than the
			// empty-queue back-off, before retrying the read.
			meshctx.Sleep(ctx, 50*time.Millisecond)
			continue
		case fabric.ErrCQEntryAvail:
			// The error entry's Context is itself a pool slot (same
			// convention Tx's reactor uses); recycling it here is
			// what actually prevents the slot leak scenario 4 and
			// invariant 2 describe, since the batch-level ErrCanceled
			// case above has no completions of its own to recycle in
			// a real (non-simulated) libfabric where cancellations
			// only ever surface through FI_EAVAIL/fi_cq_readerr.
			if c, rerr := cq.ReadErr(); rerr == nil {
				if s, ok := c.Context.(*slot); ok {
					r.pool.add(s)
					if c.Err == fabric.ErrCanceled {
						for _, rs := range r.ring.flushReady() {
							r.deliver(ctx, rs)
						}
					}
				}
			}
			continue
		case nil:
			idle = time.Millisecond
		default:
			return
		}

		for _, c := range completions {
			s, ok := c.Context.(*slot)
			if !ok {
				continue
			}
			ready := r.ring.arrive(s)
			for _, rs := range ready {
				r.deliver(ctx, rs)
			}
		}
	}
}

func (r *Rx) deliver(ctx meshctx.Context, s *slot) {
	_, res := r.Base.Transmit(ctx, s.payload())
	r.pool.add(s)
	if !res.OK() && res.Kind == mesherr.ErrContextCancelled {
		return
	}
}

// recycleErrEntry pops one error completion off cq and, if its Context
// is a pool slot, returns it to the pool. Used when cq.Read itself
// signals ErrCanceled with no completions of its own to recycle.
func (r *Rx) recycleErrEntry(cq fabric.CQ) {
	c, err := cq.ReadErr()
	if err != nil {
		return
	}
	if s, ok := c.Context.(*slot); ok {
		r.pool.add(s)
	}
}
