package fabric

import (
	"fmt"
	"sync"
)

// simBus is the process-wide loopback switch: a simulated endpoint
// "sends" by handing the payload straight to whichever simulated
// endpoint last bound that destination address's posted receive.
// This is enough to drive the RDMA core's real concurrency/ordering
// logic (pool, CQ reactor, reorder ring) end-to-end without a NIC.
type simBus struct {
	mu        sync.Mutex
	listeners map[Address]*simEndpoint
	nextAddr  uint64
}

var defaultBus = &simBus{listeners: make(map[Address]*simEndpoint)}

// NewSimulatedDevice returns a Device backed by an in-process loopback
// bus. Used by tests and by deployments with no libfabric provider
// available (spec §6: the core "wraps these behind small interfaces...
// so tests can substitute fakes").
func NewSimulatedDevice(Provider) (Device, error) {
	return &simDevice{}, nil
}

type simDevice struct{}

func (d *simDevice) OpenDomain() (Domain, error) { return &simDomain{}, nil }
func (d *simDevice) Close() error                { return nil }

type simDomain struct{}

func (d *simDomain) RegisterMR(region []byte) (MemoryRegion, error) {
	return &simMR{region: region}, nil
}

func (d *simDomain) OpenAV() (AddressVector, error) { return &simAV{}, nil }

func (d *simDomain) OpenEndpoint(cfg EndpointConfig, sharedCQ CQ) (Endpoint, error) {
	cq := sharedCQ
	if cq == nil {
		cq = newSimCQ()
	}
	ep := &simEndpoint{cfg: cfg, cq: cq.(*simCQ)}

	defaultBus.mu.Lock()
	defaultBus.nextAddr++
	addr := Address(defaultBus.nextAddr)
	ep.localAddr = addr
	if cfg.IsReceiver {
		defaultBus.listeners[addr] = ep
	}
	defaultBus.mu.Unlock()

	return ep, nil
}

func (d *simDomain) Close() error { return nil }

type simMR struct{ region []byte }

func (m *simMR) Close() error { return nil }

type simAV struct {
	mu   sync.Mutex
	next uint64
}

func (a *simAV) Insert(ip string, port int) (Address, error) {
	// In the simulated bus, addresses are resolved by looking up which
	// listener bound (ip,port) — see simEndpoint.localKey. A real AV
	// resolves via the fabric's name service; here it is a map lookup.
	defaultBus.mu.Lock()
	defer defaultBus.mu.Unlock()
	key := fmt.Sprintf("%s:%d", ip, port)
	for addr, ep := range defaultBus.listeners {
		if ep.localKey() == key {
			return addr, nil
		}
	}
	return 0, fmt.Errorf("fabric: simulated av insert: no listener bound to %s", key)
}

func (a *simAV) Close() error { return nil }

type simEndpoint struct {
	cfg       EndpointConfig
	cq        *simCQ
	localAddr Address
}

func (e *simEndpoint) localKey() string {
	return fmt.Sprintf("%s:%d", e.cfg.LocalIP, e.cfg.LocalPort)
}

func (e *simEndpoint) Send(buf []byte, mr MemoryRegion, dest Address, ctx any) error {
	defaultBus.mu.Lock()
	target, ok := defaultBus.listeners[dest]
	defaultBus.mu.Unlock()
	if !ok {
		return fmt.Errorf("fabric: simulated send: no listener at address %d", dest)
	}
	cp := make([]byte, len(buf))
	copy(cp, buf)
	target.cq.deliver(cp)
	e.cq.complete(Completion{Context: ctx, Len: len(buf)})
	return nil
}

func (e *simEndpoint) Recv(buf []byte, mr MemoryRegion, ctx any) error {
	e.cq.postRecv(buf, ctx)
	return nil
}

func (e *simEndpoint) CQ() CQ { return e.cq }

func (e *simEndpoint) Close() error {
	defaultBus.mu.Lock()
	delete(defaultBus.listeners, e.localAddr)
	defaultBus.mu.Unlock()
	return nil
}

// simCQ pairs posted receive buffers with delivered payloads FIFO,
// emulating a completion queue without real hardware. Sends complete
// immediately (no backpressure modeled on the transmit side).
type simCQ struct {
	mu      sync.Mutex
	pending []pendingRecv
	ready   []Completion
}

type pendingRecv struct {
	buf []byte
	ctx any
}

func newSimCQ() *simCQ { return &simCQ{} }

func (q *simCQ) postRecv(buf []byte, ctx any) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, pendingRecv{buf: buf, ctx: ctx})
}

func (q *simCQ) deliver(payload []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		// No posted receive: drop, mirroring a real NIC dropping an
		// unexpected message with no pre-posted buffer.
		return
	}
	pr := q.pending[0]
	q.pending = q.pending[1:]
	n := copy(pr.buf, payload)
	q.ready = append(q.ready, Completion{Context: pr.ctx, Len: n})
}

func (q *simCQ) complete(c Completion) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ready = append(q.ready, c)
}

func (q *simCQ) Read(max int) ([]Completion, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.ready) == 0 {
		return nil, ErrQueueEmpty
	}
	if max > len(q.ready) {
		max = len(q.ready)
	}
	out := q.ready[:max]
	q.ready = q.ready[max:]
	return out, nil
}

func (q *simCQ) ReadErr() (Completion, error) {
	return Completion{}, ErrFatal
}

func (q *simCQ) Close() error { return nil }
