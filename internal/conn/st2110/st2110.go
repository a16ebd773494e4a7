// Package st2110 implements the ST 2110 connection template spec §4.6
// describes: a transmit side that pulls an empty frame and fills it,
// and a receive side with a dedicated acquisition thread that forwards
// full frames onward via Transmit. -20, -22, -30 and -40 sessions all
// share this template, distinguished only by st2110pipeline.Kind.
package st2110

import (
	"encoding/binary"

	"golang.org/x/sync/errgroup"

	"github.com/OpenVisualCloud/Media-Communications-Mesh-sub001/internal/conn"
	"github.com/OpenVisualCloud/Media-Communications-Mesh-sub001/internal/meshctx"
	"github.com/OpenVisualCloud/Media-Communications-Mesh-sub001/internal/st2110pipeline"
	"github.com/OpenVisualCloud/Media-Communications-Mesh-sub001/mesherr"
)

// headerSize is the receive-side header spec §4.6 names: "timestamp +
// sequence + payload length", each a uint64/uint64/uint32.
const headerSize = 8 + 8 + 4

// Config is the session configuration shared by Tx and Rx.
type Config struct {
	Kind         st2110pipeline.Kind
	TransferSize int
	Device       st2110pipeline.DeviceConfig
}

// Tx acquires an empty frame from the pipeline library on every
// OnReceive, copies up to TransferSize bytes in, and returns the full
// frame to the library (spec §4.6 "Transmit").
type Tx struct {
	*conn.Base

	cfg     Config
	device  st2110pipeline.Device
	release func()
	handle  st2110pipeline.Handle
}

func NewTx(cfg Config, sink conn.EventSink) *Tx {
	t := &Tx{cfg: cfg}
	t.Base = conn.NewBase(conn.KindTransmitter, t, sink)
	return t
}

func (t *Tx) OnEstablish(ctx meshctx.Context) mesherr.Result {
	dev, release, res := acquireDevice(t.cfg.Device)
	if !res.OK() {
		return res
	}
	t.device = dev
	t.release = release

	handle, err := dev.CreateSession(st2110pipeline.SessionConfig{
		Kind:         t.cfg.Kind,
		IsReceiver:   false,
		TransferSize: t.cfg.TransferSize,
		DeviceConfig: t.cfg.Device,
	})
	if err != nil {
		t.release()
		return mesherr.Wrap(mesherr.ErrInitializationFailed, err, "create st2110 tx session")
	}
	t.handle = handle
	return mesherr.Ok()
}

func (t *Tx) OnShutdown(ctx meshctx.Context) mesherr.Result {
	if t.handle != nil {
		t.handle.Close()
	}
	if t.release != nil {
		t.release()
	}
	return mesherr.Ok()
}

func (t *Tx) HandleReceive(ctx meshctx.Context, p []byte) (int, mesherr.Result) {
	f, err := t.handle.GetFrame(ctx)
	if err != nil {
		return 0, mesherr.New(mesherr.ErrContextCancelled, err)
	}
	n := copy(f.Payload, p)
	if err := t.handle.PutFrame(f); err != nil {
		return 0, mesherr.Wrap(mesherr.ErrGeneralFailure, err, "put full st2110 tx frame")
	}
	return n, mesherr.Ok()
}

// Rx runs a dedicated acquisition goroutine that loops pulling full
// frames, copying the payload plus header into a fresh buffer, and
// forwarding it via Transmit (spec §4.6 "Receive").
type Rx struct {
	*conn.Base

	cfg     Config
	device  st2110pipeline.Device
	release func()
	handle  st2110pipeline.Handle

	workers *errgroup.Group
	cancel  meshctx.CancelFunc
}

func NewRx(cfg Config, sink conn.EventSink) *Rx {
	r := &Rx{cfg: cfg}
	r.Base = conn.NewBase(conn.KindReceiver, r, sink)
	return r
}

func (r *Rx) OnEstablish(ctx meshctx.Context) mesherr.Result {
	dev, release, res := acquireDevice(r.cfg.Device)
	if !res.OK() {
		return res
	}
	r.device = dev
	r.release = release

	handle, err := dev.CreateSession(st2110pipeline.SessionConfig{
		Kind:         r.cfg.Kind,
		IsReceiver:   true,
		TransferSize: r.cfg.TransferSize,
		DeviceConfig: r.cfg.Device,
	})
	if err != nil {
		r.release()
		return mesherr.Wrap(mesherr.ErrInitializationFailed, err, "create st2110 rx session")
	}
	r.handle = handle

	runCtx, cancel := meshctx.WithCancel(ctx)
	r.cancel = cancel
	r.workers = &errgroup.Group{}
	r.workers.Go(func() error {
		r.acquireLoop(runCtx)
		return nil
	})
	return mesherr.Ok()
}

func (r *Rx) acquireLoop(ctx meshctx.Context) {
	for {
		if meshctx.Cancelled(ctx) {
			return
		}
		f, err := r.handle.AcquireFull(ctx)
		if err != nil {
			return
		}
		buf := make([]byte, headerSize+len(f.Payload))
		binary.BigEndian.PutUint64(buf[0:8], f.Timestamp)
		binary.BigEndian.PutUint64(buf[8:16], f.Seq)
		binary.BigEndian.PutUint32(buf[16:20], uint32(len(f.Payload)))
		copy(buf[headerSize:], f.Payload)

		r.Base.Transmit(ctx, buf)
		r.handle.PutFrame(f)
	}
}

func (r *Rx) OnShutdown(ctx meshctx.Context) mesherr.Result {
	if r.cancel != nil {
		r.cancel()
	}
	if r.workers != nil {
		r.workers.Wait()
	}
	if r.handle != nil {
		r.handle.Close()
	}
	if r.release != nil {
		r.release()
	}
	return mesherr.Ok()
}

func (r *Rx) HandleReceive(ctx meshctx.Context, p []byte) (int, mesherr.Result) {
	return 0, mesherr.New(mesherr.ErrBadArgument, nil)
}
