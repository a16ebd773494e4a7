package gateway

import (
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/OpenVisualCloud/Media-Communications-Mesh-sub001/internal/conn"
	"github.com/OpenVisualCloud/Media-Communications-Mesh-sub001/internal/meshctx"
	"github.com/OpenVisualCloud/Media-Communications-Mesh-sub001/mesherr"
)

// Rx polls the shared write counter against its own read counter
// (spec §4.9: "the peer's posting side polls the same offset counter")
// and forwards each newly written slot onward via Transmit.
type Rx struct {
	*conn.Base

	cfg Config
	seg *segment

	workers *errgroup.Group
	cancel  meshctx.CancelFunc
}

func NewRx(cfg Config, sink conn.EventSink) *Rx {
	r := &Rx{cfg: cfg}
	r.Base = conn.NewBase(conn.KindReceiver, r, sink)
	return r
}

func (r *Rx) OnEstablish(ctx meshctx.Context) mesherr.Result {
	seg, err := attach(r.cfg, true)
	if err != nil {
		return mesherr.Wrap(mesherr.ErrInitializationFailed, err, "attach gateway sysv segment")
	}
	r.seg = seg

	runCtx, cancel := meshctx.WithCancel(ctx)
	r.cancel = cancel
	r.workers = &errgroup.Group{}
	r.workers.Go(func() error {
		r.pollLoop(runCtx)
		return nil
	})
	return mesherr.Ok()
}

func (r *Rx) pollLoop(ctx meshctx.Context) {
	idle := time.Millisecond
	for {
		if meshctx.Cancelled(ctx) {
			return
		}
		rc := r.seg.readCounter()
		wc := r.seg.writeCounter()
		if rc == wc {
			if meshctx.Sleep(ctx, idle); idle < 10*time.Millisecond {
				idle *= 2
			}
			continue
		}
		idle = time.Millisecond

		buf := r.seg.slot(r.cfg, rc)
		payload := buf[:len(buf)-trailerSize]
		r.Base.Transmit(ctx, payload)
		r.seg.setReadCounter(rc + 1)
	}
}

func (r *Rx) OnShutdown(ctx meshctx.Context) mesherr.Result {
	if r.cancel != nil {
		r.cancel()
	}
	if r.workers != nil {
		r.workers.Wait()
	}
	if r.seg != nil {
		r.seg.close()
	}
	return mesherr.Ok()
}

func (r *Rx) HandleReceive(ctx meshctx.Context, p []byte) (int, mesherr.Result) {
	return 0, mesherr.New(mesherr.ErrBadArgument, nil)
}
