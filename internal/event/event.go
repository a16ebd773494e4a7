// Package event implements the single-loop broadcaster spec §4.7
// describes: producers call Publish, a broker goroutine fans the event
// out to every subscriber registered for that consumer_id within a
// bounded per-send timeout. Grounded directly on the teacher's
// registry.Hub/registry.Cell pair (internal/domain/registry/hub.go,
// cell.go): Hub's per-user sync.Map of Cells becomes Broker's
// per-consumer_id map of subscriber lists under an RWMutex, and Cell's buffered
// mailbox + batch-drain loop becomes the broker's own single internal
// channel (spec.md asks for exactly one loop, not one per consumer, so
// the per-user fan-out here is collapsed into delivery fan-out within
// that one loop rather than one goroutine per consumer_id). The queue
// itself is qchan.Channel[Event] (§4.2), not a bare Go channel, so the
// broker gets Channel<T>'s context-aware close/drain semantics for
// free.
package event

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/OpenVisualCloud/Media-Communications-Mesh-sub001/internal/meshctx"
	"github.com/OpenVisualCloud/Media-Communications-Mesh-sub001/internal/qchan"
)

// Kind enumerates the event types spec §4.7 names explicitly plus the
// session-lifecycle events §4.8/§10 add.
type Kind string

const (
	KindConnUnlinkRequested Kind = "conn_unlink_requested"
	KindConnZeroCopyConfig  Kind = "conn_zero_copy_config"
	KindSessionStarted      Kind = "session_started"
	KindSessionStopped      Kind = "session_stopped"
)

// Event is one item on the broker's internal channel.
type Event struct {
	ConsumerID string
	Kind       Kind
	Params     map[string]any
}

// Subscriber receives events for one consumer_id. Deliver must not
// block indefinitely; the broker already bounds the wait to the
// per-send timeout via ctx.
type Subscriber interface {
	Deliver(ctx meshctx.Context, ev Event) bool
}

// SubscriberFunc adapts a plain function to Subscriber.
type SubscriberFunc func(ctx meshctx.Context, ev Event) bool

func (f SubscriberFunc) Deliver(ctx meshctx.Context, ev Event) bool { return f(ctx, ev) }

// Exporter is the broker's optional external-export hook (spec §10/§11:
// every event is also published to AMQP for out-of-process observers).
// The broker loop calls Export synchronously for each event, before
// delivering it to subscribers, so a slow exporter delays delivery.
type Exporter interface {
	Export(ev Event)
}

const (
	queueCapacity   = 100
	deliveryTimeout = 3 * time.Second
)

// Broker is the single broadcaster loop (spec §4.7: "a single
// broadcaster goroutine-equivalent loop").
type Broker struct {
	logger *slog.Logger

	queue *qchan.Channel[Event]

	mu     sync.RWMutex
	subs   map[string][]subEntry
	nextID uint64

	exporter Exporter

	cancel meshctx.CancelFunc
	done   chan struct{}
}

type subEntry struct {
	id  uint64
	sub Subscriber
}

const wildcardConsumerID = "*"

// SubscribeAll registers sub to receive every event regardless of
// ConsumerID — a debug tap (the /debug/stream websocket) rather than a
// per-session production subscriber, which always uses Subscribe with
// a concrete consumer_id.
func (b *Broker) SubscribeAll(sub Subscriber) func() {
	return b.Subscribe(wildcardConsumerID, sub)
}

// New constructs a Broker and starts its loop. exporter may be nil.
func New(logger *slog.Logger, exporter Exporter) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Broker{
		logger:   logger,
		queue:    qchan.New[Event](queueCapacity),
		subs:     make(map[string][]subEntry),
		exporter: exporter,
		done:     make(chan struct{}),
	}
	ctx, cancel := meshctx.WithCancel(meshctx.Background())
	b.cancel = cancel
	go b.loop(ctx)
	return b
}

// Subscribe registers sub to receive events addressed to consumerID.
// Returns an unsubscribe func.
func (b *Broker) Subscribe(consumerID string, sub Subscriber) func() {
	id := atomic.AddUint64(&b.nextID, 1)

	b.mu.Lock()
	b.subs[consumerID] = append(b.subs[consumerID], subEntry{id: id, sub: sub})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[consumerID]
		for i, e := range list {
			if e.id == id {
				b.subs[consumerID] = append(list[:i], list[i+1:]...)
				break
			}
		}
		if len(b.subs[consumerID]) == 0 {
			delete(b.subs, consumerID)
		}
	}
}

// Publish pushes ev onto the broker's channel, matching spec §4.7's
// "send(consumer_id, type, params) which pushes onto an internal
// channel (capacity 100)". Returns false if the channel is full —
// mirrors the teacher's Cell.Push backpressure-drop rule rather than
// blocking a producer on a congested broker.
func (b *Broker) Publish(ctx meshctx.Context, consumerID string, kind string, params map[string]any) bool {
	ev := Event{ConsumerID: consumerID, Kind: Kind(kind), Params: params}
	if b.queue.TrySend(ev) {
		return true
	}
	b.logger.Warn("event broker queue full, dropping event", "consumer_id", consumerID, "kind", kind)
	return false
}

func (b *Broker) loop(ctx meshctx.Context) {
	defer close(b.done)
	for {
		ev, ok := b.queue.Receive(ctx)
		if !ok {
			return
		}
		b.deliver(ev)
	}
}

func (b *Broker) deliver(ev Event) {
	b.mu.RLock()
	subs := append([]subEntry(nil), b.subs[ev.ConsumerID]...)
	if ev.ConsumerID != wildcardConsumerID {
		subs = append(subs, b.subs[wildcardConsumerID]...)
	}
	b.mu.RUnlock()

	if b.exporter != nil {
		b.exporter.Export(ev)
	}

	if len(subs) == 0 {
		return
	}
	ctx, cancel := meshctx.WithTimeout(meshctx.Background(), deliveryTimeout)
	defer cancel()
	for _, e := range subs {
		if !e.sub.Deliver(ctx, ev) {
			b.logger.Warn("event delivery timed out, dropping", "consumer_id", ev.ConsumerID, "kind", ev.Kind)
		}
	}
}

// Shutdown stops the broker loop and waits for it to exit.
func (b *Broker) Shutdown() {
	b.cancel()
	b.queue.Close()
	<-b.done
}
