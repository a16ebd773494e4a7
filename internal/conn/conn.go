// Package conn implements the polymorphic bridge element spec.md calls
// Connection (§3, §4.3): the state machine, link graph, metrics and
// common validation every transport (Local, RDMA, ST 2110, the zero-copy
// gateway) embeds. It is grounded on the teacher's
// registry.Connector/connect pair (internal/domain/registry/connect.go):
// an interface for external layers over an unexported concrete type,
// atomic counters, a sync.Once-guarded close — generalized from "one
// gRPC session" to "one link in a forward-only transport chain".
package conn

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/OpenVisualCloud/Media-Communications-Mesh-sub001/internal/meshctx"
	"github.com/OpenVisualCloud/Media-Communications-Mesh-sub001/mesherr"
)

// Kind is immutable for the lifetime of a Connection, set at
// construction (spec §3).
type Kind int

const (
	KindTransmitter Kind = iota + 1
	KindReceiver
)

func (k Kind) String() string {
	if k == KindTransmitter {
		return "transmitter"
	}
	return "receiver"
}

// State is the connection's position in the
// not_configured -> configured -> active <-> suspended -> closed
// machine (spec §3).
type State int32

const (
	StateNotConfigured State = iota
	StateConfigured
	StateActive
	StateSuspended
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNotConfigured:
		return "not_configured"
	case StateConfigured:
		return "configured"
	case StateActive:
		return "active"
	case StateSuspended:
		return "suspended"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Metrics are the monotonic counters every Connection exposes (spec §3).
// Readers observe monotonically increasing values; updates happen under
// the owning Base's metrics lock or via atomics, never both for the
// same field.
type Metrics struct {
	TransactionsSuccessful uint64
	TransactionsFailed     uint64
	InboundBytes           uint64
	OutboundBytes          uint64
	Errors                 uint64
}

// Callbacks are the three subclass-overridden hooks the base invokes
// exactly once per corresponding public call (spec §4.3).
type Callbacks interface {
	// OnEstablish starts workers; the base transitions to Active only
	// if this returns a successful Result.
	OnEstablish(ctx meshctx.Context) mesherr.Result
	// OnShutdown signals workers and blocks until they stop.
	OnShutdown(ctx meshctx.Context) mesherr.Result
	// HandleReceive is called by Base.OnReceive (spec's on_receive
	// callback). sent must be filled with the number of bytes accepted.
	// Named distinctly from Connection.OnReceive on purpose: if a
	// transport defined its own OnReceive method directly, Go's method
	// promotion would let that shallower method shadow Base.OnReceive
	// on the embedding type, silently skipping the active-state check
	// and inbound counter bookkeeping below.
	HandleReceive(ctx meshctx.Context, p []byte) (sent int, result mesherr.Result)
}

// EventSink is the narrow producer interface Base uses to announce
// conn_unlink_requested when SetLink displaces an existing link
// (spec §4.3, §4.7). Satisfied by *event.Broker; kept as an interface
// here so the leaf conn package never imports the broker.
type EventSink interface {
	Publish(ctx meshctx.Context, consumerID string, kind string, params map[string]any) bool
}

// Connection is the external API every transport implements. The link
// graph (producers hold their peer's Connection value) is expressed in
// terms of this interface, not concrete types, so chains can mix Local,
// RDMA, ST 2110 and gateway connections freely (spec §2 "a graph may be
// longer than two nodes").
type Connection interface {
	ID() string
	Kind() Kind
	State() State
	Metrics() Metrics
	LastResult() mesherr.Result

	SetLink(ctx meshctx.Context, peer Connection, requester Connection) mesherr.Result
	Link() Connection

	Establish(ctx meshctx.Context) mesherr.Result
	Suspend(ctx meshctx.Context) mesherr.Result
	Resume(ctx meshctx.Context) mesherr.Result
	Shutdown(ctx meshctx.Context) mesherr.Result

	// Transmit forwards p to this connection's link, invoking the
	// peer's OnReceive and updating this connection's outbound
	// counters (spec §4.3).
	Transmit(ctx meshctx.Context, p []byte) (sent int, result mesherr.Result)

	// OnReceive is the public entry point upstream connections call;
	// it delegates to Callbacks.HandleReceive and updates inbound counters.
	OnReceive(ctx meshctx.Context, p []byte) (sent int, result mesherr.Result)
}

// Base implements the Connection interface's bookkeeping. Transports
// embed *Base and supply Callbacks; Base never calls back into the
// embedding struct except through that interface.
type Base struct {
	id   string
	kind Kind
	impl Callbacks

	// linkMu protects link/backref. Spec requires link() be stable for
	// the duration of any in-flight transmit; a short RWMutex (readers
	// in Transmit, writers in SetLink) satisfies that without needing a
	// lock-free shared pointer.
	linkMu  sync.RWMutex
	link    Connection
	backref Connection // weak: receiver's pointer to its feeder, event delivery only

	stateMu sync.Mutex
	state   State

	metricsMu sync.Mutex
	metrics   Metrics

	lastResult atomic.Value // mesherr.Result

	sink       EventSink
	sinkConsID string
}

// NewBase constructs the shared bookkeeping for a transport and gives
// it a fresh uuid as its id. The session registry does not assign
// connection ids; its session ids are separate values.
func NewBase(kind Kind, impl Callbacks, sink EventSink) *Base {
	b := &Base{
		id:      uuid.NewString(),
		kind:    kind,
		impl:    impl,
		state:   StateNotConfigured,
		sink:    sink,
	}
	b.sinkConsID = b.id
	b.lastResult.Store(mesherr.Ok())
	return b
}

func (b *Base) ID() string   { return b.id }
func (b *Base) Kind() Kind   { return b.kind }

func (b *Base) State() State {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	return b.state
}

func (b *Base) Metrics() Metrics {
	b.metricsMu.Lock()
	defer b.metricsMu.Unlock()
	return b.metrics
}

func (b *Base) LastResult() mesherr.Result {
	return b.lastResult.Load().(mesherr.Result)
}

func (b *Base) setResult(r mesherr.Result) mesherr.Result {
	b.lastResult.Store(r)
	return r
}

// transition moves the state machine from one of `from` into `to`,
// returning error_wrong_state if the current state isn't in `from`.
func (b *Base) transition(to State, from ...State) mesherr.Result {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	if b.state == StateClosed && to != StateClosed && to != StateConfigured {
		return b.setResult(mesherr.New(mesherr.ErrWrongState, fmt.Errorf("connection %s is closed", b.id)))
	}
	ok := false
	for _, f := range from {
		if b.state == f {
			ok = true
			break
		}
	}
	if !ok {
		return b.setResult(mesherr.New(mesherr.ErrWrongState, fmt.Errorf("connection %s: cannot move %s -> %s", b.id, b.state, to)))
	}
	b.state = to
	return mesherr.Ok()
}

// ConfigureDone is called by a subclass's Configure once it has
// validated its own arguments, transitioning not_configured/closed ->
// configured (spec §4.3 table).
func (b *Base) ConfigureDone() mesherr.Result {
	return b.transition(StateConfigured, StateNotConfigured, StateClosed)
}

// MarkClosed force-transitions to closed without going through
// Shutdown's callback; used by RDMA's establish rollback (§4.5.1) when
// a mid-step failure tears down partial state before any worker ever
// started.
func (b *Base) MarkClosed() {
	b.stateMu.Lock()
	b.state = StateClosed
	b.stateMu.Unlock()
}

func (b *Base) Establish(ctx meshctx.Context) mesherr.Result {
	if r := b.transition(StateActive, StateConfigured, StateSuspended); !r.OK() {
		return r
	}
	res := b.impl.OnEstablish(ctx)
	if !res.OK() {
		// Roll the state back; the subclass already tore down whatever
		// partial resources it created (§4.5.1).
		b.stateMu.Lock()
		b.state = StateClosed
		b.stateMu.Unlock()
	}
	return b.setResult(res)
}

func (b *Base) Suspend(ctx meshctx.Context) mesherr.Result {
	if r := b.transition(StateSuspended, StateActive); !r.OK() {
		return r
	}
	return b.setResult(mesherr.Ok())
}

func (b *Base) Resume(ctx meshctx.Context) mesherr.Result {
	if r := b.transition(StateActive, StateSuspended); !r.OK() {
		return r
	}
	return b.setResult(mesherr.Ok())
}

func (b *Base) Shutdown(ctx meshctx.Context) mesherr.Result {
	b.stateMu.Lock()
	if b.state == StateClosed {
		b.stateMu.Unlock()
		return b.setResult(mesherr.Ok()) // idempotent (spec §8)
	}
	b.state = StateClosed
	b.stateMu.Unlock()

	res := b.impl.OnShutdown(ctx)
	return b.setResult(res)
}

// Link returns the current forward peer, or nil.
func (b *Base) Link() Connection {
	b.linkMu.RLock()
	defer b.linkMu.RUnlock()
	return b.link
}

// Backref returns the weak feeder reference a receiver keeps purely for
// event delivery (spec §3 "never for ownership").
func (b *Base) Backref() Connection {
	b.linkMu.RLock()
	defer b.linkMu.RUnlock()
	return b.backref
}

// SetLink validates kind compatibility and installs peer as this
// connection's forward link. requester, when non-nil, is recorded as
// peer's weak backref.
//
// A Kind describes which external boundary a connection pulls from or
// pushes to, not its position in the chain: a receiver-kind connection
// pulls from an external source (the SHM ring on the publish side, the
// wire on the subscribe side) and forwards via Transmit; a
// transmitter-kind connection is the terminal sink that only ever
// accepts via OnReceive and pushes to its own external boundary (the
// wire on the publish side, the SHM ring on the subscribe side). Every
// chain this repository builds is therefore receiver-kind ->
// transmitter-kind (LocalRx -> RdmaTx/ST2110Tx for outbound sessions,
// RdmaRx/ST2110Rx -> LocalTx for inbound ones, spec §2's data-flow
// diagram); only the reverse, a terminal transmitter forwarding into a
// receiver, is nonsensical and rejected here.
func (b *Base) SetLink(ctx meshctx.Context, peer Connection, requester Connection) mesherr.Result {
	if peer != nil {
		if b.kind == KindTransmitter && peer.Kind() == KindReceiver {
			return b.setResult(mesherr.New(mesherr.ErrBadArgument,
				fmt.Errorf("link %s(transmitter) -> %s(receiver) is invalid direction", b.id, peer.ID())))
		}
	}

	b.linkMu.Lock()
	old := b.link
	b.link = peer
	if pb, ok := peer.(interface {
		setBackref(Connection)
	}); ok && requester != nil {
		pb.setBackref(requester)
	}
	b.linkMu.Unlock()

	if old != nil && old != peer && b.sink != nil {
		b.sink.Publish(ctx, b.sinkConsID, "conn_unlink_requested", map[string]any{
			"connection_id": b.id,
			"old_link_id":   old.ID(),
		})
	}
	return b.setResult(mesherr.Ok())
}

func (b *Base) setBackref(peer Connection) {
	b.linkMu.Lock()
	b.backref = peer
	b.linkMu.Unlock()
}

// Transmit forwards p to the linked connection's OnReceive, updating
// this side's outbound counters and transaction counters per the
// failure/success rule in spec §4.3.
func (b *Base) Transmit(ctx meshctx.Context, p []byte) (int, mesherr.Result) {
	if b.State() != StateActive {
		r := mesherr.New(mesherr.ErrWrongState, fmt.Errorf("transmit on %s while %s", b.id, b.State()))
		b.bumpFailure()
		return 0, b.setResult(r)
	}
	if meshctx.Cancelled(ctx) {
		r := mesherr.New(mesherr.ErrContextCancelled, ctx.Err())
		b.bumpFailure()
		return 0, b.setResult(r)
	}

	b.linkMu.RLock()
	peer := b.link
	b.linkMu.RUnlock()
	if peer == nil {
		r := mesherr.New(mesherr.ErrNoLinkAssigned, fmt.Errorf("connection %s has no forward link", b.id))
		b.bumpFailure()
		return 0, b.setResult(r)
	}

	sent, res := peer.OnReceive(ctx, p)
	if res.OK() {
		b.bumpSuccess(uint64(sent))
	} else {
		b.bumpFailure()
	}
	return sent, b.setResult(res)
}

// OnReceive is the public entry point called by an upstream Transmit.
// It requires Active state, delegates to Callbacks.HandleReceive, and
// updates inbound counters.
func (b *Base) OnReceive(ctx meshctx.Context, p []byte) (int, mesherr.Result) {
	if b.State() != StateActive {
		r := mesherr.New(mesherr.ErrWrongState, fmt.Errorf("on_receive on %s while %s", b.id, b.State()))
		b.bumpFailure()
		return 0, b.setResult(r)
	}
	sent, res := b.impl.HandleReceive(ctx, p)
	if res.OK() {
		b.metricsMu.Lock()
		b.metrics.TransactionsSuccessful++
		b.metrics.InboundBytes += uint64(sent)
		b.metricsMu.Unlock()
	} else {
		b.bumpFailure()
	}
	return sent, b.setResult(res)
}

func (b *Base) bumpSuccess(outboundBytes uint64) {
	b.metricsMu.Lock()
	b.metrics.TransactionsSuccessful++
	b.metrics.OutboundBytes += outboundBytes
	b.metricsMu.Unlock()
}

func (b *Base) bumpFailure() {
	b.metricsMu.Lock()
	b.metrics.TransactionsFailed++
	b.metrics.Errors++
	b.metricsMu.Unlock()
}
