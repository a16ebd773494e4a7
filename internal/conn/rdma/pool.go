package rdma

import (
	"encoding/binary"
	"sync"

	"github.com/OpenVisualCloud/Media-Communications-Mesh-sub001/internal/fabric"
	"github.com/OpenVisualCloud/Media-Communications-Mesh-sub001/internal/meshctx"
	"github.com/OpenVisualCloud/Media-Communications-Mesh-sub001/mesherr"
)

// slot is one fixed-size buffer out of the pool's registered region,
// with its own trailer (spec §4.5.2: "each slot carries an 8-byte
// trailer after the payload, stamped with a global send sequence
// number"). A slot is never copied; it is always passed by pointer so
// send/recv completions can carry it as opaque fabric.Completion
// context.
type slot struct {
	buf     []byte
	trxSize int
}

func (s *slot) payload() []byte { return s.buf[:s.trxSize] }
func (s *slot) trailer() []byte { return s.buf[s.trxSize : s.trxSize+trailerSize] }
func (s *slot) seq() uint64     { return binary.BigEndian.Uint64(s.trailer()) }
func (s *slot) setSeq(v uint64) { binary.BigEndian.PutUint64(s.trailer(), v) }

// Pool is RdmaBufferPool (spec §3, §4.5.2): a fixed-capacity FIFO of
// free slot pointers over one memory-registered region, protected by a
// mutex and condition variable. Grounded on the teacher's
// connectPool (internal/domain/registry/connect.go), a sync.Pool of
// reusable *connect values — generalized here from an unbounded,
// GC-reclaimable pool to a fixed-capacity pool whose backing memory is
// pinned for DMA and must never be garbage collected or resized.
type Pool struct {
	mu     sync.Mutex
	cond   *sync.Cond
	free   []*slot
	region []byte
	mr     fabric.MemoryRegion
	closed bool
}

func newPool(domain fabric.Domain, queueSize, trxSize int) (*Pool, mesherr.Result) {
	slotSize := alignedSlotSize(trxSize)
	region := make([]byte, slotSize*queueSize)
	mr, err := domain.RegisterMR(region)
	if err != nil {
		return nil, mesherr.Wrap(mesherr.ErrMemoryRegistrationFailed, err, "register pool region")
	}
	p := &Pool{region: region, mr: mr}
	p.cond = sync.NewCond(&p.mu)
	for i := 0; i < queueSize; i++ {
		p.free = append(p.free, &slot{
			buf:     region[i*slotSize : (i+1)*slotSize],
			trxSize: trxSize,
		})
	}
	return p, mesherr.Ok()
}

// consume removes one free slot, or returns error_no_buffer immediately
// (spec §4.5.2: "consume(ctx) -> slot | error_no_buffer |
// error_context_cancelled" — non-blocking; callers that want to wait
// call wait first).
func (p *Pool) consume() (*slot, mesherr.Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free) == 0 {
		return nil, mesherr.New(mesherr.ErrNoBuffer, nil)
	}
	s := p.free[0]
	p.free[0] = nil
	p.free = p.free[1:]
	return s, mesherr.Ok()
}

// add returns a slot to the free list and wakes one waiter.
func (p *Pool) add(s *slot) {
	p.mu.Lock()
	p.free = append(p.free, s)
	p.mu.Unlock()
	p.cond.Signal()
}

// wait blocks until a slot becomes free, the pool closes, or ctx is
// cancelled. A background goroutine bridges ctx.Done() into the
// condition variable since sync.Cond has no native context support.
func (p *Pool) wait(ctx meshctx.Context) mesherr.Result {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			p.cond.Broadcast()
		case <-stop:
		}
	}()

	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.free) == 0 && !p.closed {
		if meshctx.Cancelled(ctx) {
			return mesherr.New(mesherr.ErrContextCancelled, ctx.Err())
		}
		p.cond.Wait()
	}
	if p.closed && len(p.free) == 0 {
		return mesherr.New(mesherr.ErrWrongState, nil)
	}
	return mesherr.Ok()
}

// close marks the pool closed, waking every waiter, and releases the
// memory region registration.
func (p *Pool) close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.cond.Broadcast()
	return p.mr.Close()
}

func (p *Pool) freeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}
