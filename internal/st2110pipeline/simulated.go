package st2110pipeline

import (
	"fmt"
	"sync"

	"github.com/OpenVisualCloud/Media-Communications-Mesh-sub001/internal/meshctx"
)

// Simulated returns an in-process Device: CreateSession hands back a
// Handle whose GetFrame/AcquireFull never actually block on hardware,
// backed by a small free-frame pool so transmit/receive pressure can
// still be exercised by tests.
func Simulated(cfg DeviceConfig) (Device, error) {
	return &simDevice{}, nil
}

type simDevice struct {
	mu       sync.Mutex
	sessions int
}

func (d *simDevice) CreateSession(cfg SessionConfig) (Handle, error) {
	d.mu.Lock()
	d.sessions++
	d.mu.Unlock()

	h := &simHandle{cfg: cfg, free: make(chan *Frame, 8), full: make(chan *Frame, 8)}
	for i := 0; i < 8; i++ {
		h.free <- &Frame{Payload: make([]byte, cfg.TransferSize)}
	}
	return h, nil
}

func (d *simDevice) Close() error { return nil }

type simHandle struct {
	cfg  SessionConfig
	free chan *Frame
	full chan *Frame
}

func (h *simHandle) GetFrame(ctx meshctx.Context) (*Frame, error) {
	select {
	case f := <-h.free:
		return f, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *simHandle) PutFrame(f *Frame) error {
	if h.cfg.IsReceiver {
		// Receive side: a consumed frame is released back to the pool.
		select {
		case h.free <- f:
		default:
		}
		return nil
	}
	// Transmit side: the library "sends" the frame immediately in this
	// fake and recycles it back to the free pool, standing in for a
	// real send-completion callback.
	select {
	case h.free <- f:
		return nil
	default:
		return fmt.Errorf("st2110pipeline: free-frame queue saturated")
	}
}

func (h *simHandle) AcquireFull(ctx meshctx.Context) (*Frame, error) {
	select {
	case f := <-h.full:
		return f, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *simHandle) Close() error { return nil }
