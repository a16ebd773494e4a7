// Package local implements the Local (shared-memory) connection spec
// §4.4 describes: a thin Connection wrapper around an external SHM
// ring library, one polling thread pumping the ring's event loop until
// shutdown cancels its context. Grounded on the teacher's
// registry.Cell.loop/deliver background-goroutine shape
// (internal/domain/registry/cell.go) and on
// internal/handler/amqp/router.go's fx.Lifecycle-scoped goroutine for
// establish/shutdown symmetry.
package local

import (
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/OpenVisualCloud/Media-Communications-Mesh-sub001/internal/conn"
	"github.com/OpenVisualCloud/Media-Communications-Mesh-sub001/internal/meshctx"
	"github.com/OpenVisualCloud/Media-Communications-Mesh-sub001/internal/shmring"
	"github.com/OpenVisualCloud/Media-Communications-Mesh-sub001/mesherr"
)

// Rx is the receive side of a Local connection: the ring's inbound
// frames are forwarded onward via transmit (spec §4.4:
// "on_memif_receive(ptr, sz) -> transmit(Background, ptr, sz) (for
// LocalRx)").
type Rx struct {
	*conn.Base

	cfg  shmring.Config
	open shmring.Open
	ring shmring.Ring

	workers *errgroup.Group
	cancel  meshctx.CancelFunc
}

// NewRx constructs a receive-side Local connection. open defaults to
// shmring.Simulated when nil, so production wiring can substitute a
// real ring-library binding without this package changing.
func NewRx(cfg shmring.Config, open shmring.Open, sink conn.EventSink) *Rx {
	if open == nil {
		open = shmring.Simulated
	}
	r := &Rx{cfg: cfg, open: open}
	r.Base = conn.NewBase(conn.KindReceiver, r, sink)
	return r
}

func (r *Rx) OnEstablish(ctx meshctx.Context) mesherr.Result {
	ring, err := r.open(r.cfg)
	if err != nil {
		return mesherr.Wrap(mesherr.ErrInitializationFailed, err, "open shm ring")
	}
	r.ring = ring

	runCtx, cancel := meshctx.WithCancel(ctx)
	r.cancel = cancel
	r.workers = &errgroup.Group{}
	r.workers.Go(func() error {
		r.ring.Pump(runCtx, r.onMemifReceive(runCtx), nil)
		return nil
	})
	return mesherr.Ok()
}

func (r *Rx) onMemifReceive(ctx meshctx.Context) shmring.ReceiveFunc {
	return func(p []byte) {
		r.Base.Transmit(ctx, p)
	}
}

func (r *Rx) OnShutdown(ctx meshctx.Context) mesherr.Result {
	if r.cancel != nil {
		r.cancel()
	}
	if r.ring != nil {
		r.ring.Close()
	}
	if r.workers != nil {
		r.workers.Wait()
	}
	return mesherr.Ok()
}

// HandleReceive: a Local receiver is never the forward link of
// another connection — its data comes from the ring, not the link
// graph — so this is never legitimately called.
func (r *Rx) HandleReceive(ctx meshctx.Context, p []byte) (int, mesherr.Result) {
	return 0, mesherr.New(mesherr.ErrBadArgument, nil)
}

// Tx is the transmit side: bytes arriving via OnReceive (forwarded by
// whatever upstream Connection feeds it) are burst onto the ring (spec
// §4.4: "LocalTx's on_receive allocates one ring slot with a bounded
// timeout, copies bytes, and bursts it out").
type Tx struct {
	*conn.Base

	cfg  shmring.Config
	open shmring.Open
	ring shmring.Ring

	workers *errgroup.Group
	cancel  meshctx.CancelFunc
}

func NewTx(cfg shmring.Config, open shmring.Open, sink conn.EventSink) *Tx {
	if open == nil {
		open = shmring.Simulated
	}
	t := &Tx{cfg: cfg, open: open}
	t.Base = conn.NewBase(conn.KindTransmitter, t, sink)
	return t
}

func (t *Tx) OnEstablish(ctx meshctx.Context) mesherr.Result {
	ring, err := t.open(t.cfg)
	if err != nil {
		return mesherr.Wrap(mesherr.ErrInitializationFailed, err, "open shm ring")
	}
	t.ring = ring

	runCtx, cancel := meshctx.WithCancel(ctx)
	t.cancel = cancel
	t.workers = &errgroup.Group{}
	t.workers.Go(func() error {
		// LocalTx never receives on the ring (spec §4.4); the pump
		// still runs so on_connect fires and readiness tracking works,
		// but inbound frames are simply logged, never forwarded.
		t.ring.Pump(runCtx, t.logUnexpectedFrame, nil)
		return nil
	})
	return mesherr.Ok()
}

func (t *Tx) logUnexpectedFrame(p []byte) {
	slog.Warn("local tx: unexpected inbound ring frame dropped", "connection_id", t.ID(), "bytes", len(p))
}

func (t *Tx) OnShutdown(ctx meshctx.Context) mesherr.Result {
	if t.cancel != nil {
		t.cancel()
	}
	if t.ring != nil {
		t.ring.Close()
	}
	if t.workers != nil {
		t.workers.Wait()
	}
	return mesherr.Ok()
}

func (t *Tx) HandleReceive(ctx meshctx.Context, p []byte) (int, mesherr.Result) {
	n, err := t.ring.AllocBurst(ctx, p)
	if err != nil {
		// Spec §4.4 failure rule: one burst failure reports
		// error_general_failure but the connection stays active;
		// there is no retry at this layer.
		return 0, mesherr.Wrap(mesherr.ErrGeneralFailure, err, "burst onto shm ring")
	}
	return n, mesherr.Ok()
}
