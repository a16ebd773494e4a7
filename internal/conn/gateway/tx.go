package gateway

import (
	"encoding/binary"
	"time"

	"github.com/OpenVisualCloud/Media-Communications-Mesh-sub001/internal/conn"
	"github.com/OpenVisualCloud/Media-Communications-Mesh-sub001/internal/meshctx"
	"github.com/OpenVisualCloud/Media-Communications-Mesh-sub001/mesherr"
)

// Tx writes each received payload into the next SysV ring slot,
// stamping the slot's trailer with the write counter as its sequence
// number (spec §4.9: "on_receive writes directly into the SysV segment
// at the next ring offset").
type Tx struct {
	*conn.Base

	cfg Config
	seg *segment
}

func NewTx(cfg Config, sink conn.EventSink) *Tx {
	t := &Tx{cfg: cfg}
	t.Base = conn.NewBase(conn.KindTransmitter, t, sink)
	return t
}

func (t *Tx) OnEstablish(ctx meshctx.Context) mesherr.Result {
	seg, err := attach(t.cfg, true)
	if err != nil {
		return mesherr.Wrap(mesherr.ErrInitializationFailed, err, "attach gateway sysv segment")
	}
	t.seg = seg
	return mesherr.Ok()
}

func (t *Tx) OnShutdown(ctx meshctx.Context) mesherr.Result {
	if t.seg != nil {
		t.seg.close()
	}
	return mesherr.Ok()
}

func (t *Tx) HandleReceive(ctx meshctx.Context, p []byte) (int, mesherr.Result) {
	for {
		wc := t.seg.writeCounter()
		rc := t.seg.readCounter()
		if wc-rc < ringSlots {
			break
		}
		if meshctx.Cancelled(ctx) {
			return 0, mesherr.New(mesherr.ErrContextCancelled, ctx.Err())
		}
		meshctx.Sleep(ctx, time.Millisecond)
	}

	wc := t.seg.writeCounter()
	buf := t.seg.slot(t.cfg, wc)
	payload := buf[:len(buf)-trailerSize]
	n := copy(payload, p)
	binary.BigEndian.PutUint64(buf[len(buf)-trailerSize:], wc)
	t.seg.setWriteCounter(wc + 1)
	return n, mesherr.Ok()
}
