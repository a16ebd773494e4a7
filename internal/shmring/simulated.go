package shmring

import (
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/OpenVisualCloud/Media-Communications-Mesh-sub001/internal/meshctx"
)

// simBus pairs master/non-master rings opened against the same socket
// path, the same role the real ring library's UNIX-domain socket
// handshake plays.
type simBus struct {
	mu    sync.Mutex
	peers map[string]*simRing
}

var defaultBus = &simBus{peers: make(map[string]*simRing)}

// Simulated opens an in-process ring, unlinking a stale socket file
// first when cfg.IsMaster (spec §4.4). Used by tests and by
// deployments with no memif-style ring library installed.
func Simulated(cfg Config) (Ring, error) {
	if cfg.IsMaster && cfg.SocketPath != "" {
		if err := unix.Unlink(cfg.SocketPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("shmring: unlink stale socket %s: %w", cfg.SocketPath, err)
		}
	}

	r := &simRing{cfg: cfg, inbox: make(chan []byte, 64)}

	defaultBus.mu.Lock()
	defer defaultBus.mu.Unlock()
	if peer, ok := defaultBus.peers[cfg.SocketPath]; ok {
		r.peer = peer
		peer.peer = r
		delete(defaultBus.peers, cfg.SocketPath)
		r.connected.Store(true)
		peer.connected.Store(true)
	} else {
		defaultBus.peers[cfg.SocketPath] = r
	}
	return r, nil
}

type simRing struct {
	cfg   Config
	inbox chan []byte

	mu        sync.Mutex
	peer      *simRing
	connected atomicBool
	closed    bool
}

// atomicBool avoids pulling in sync/atomic's Bool for this narrow use
// (set once at pairing time, read by the poll loop).
type atomicBool struct {
	mu sync.Mutex
	v  bool
}

func (b *atomicBool) Store(v bool) { b.mu.Lock(); b.v = v; b.mu.Unlock() }
func (b *atomicBool) Load() bool   { b.mu.Lock(); defer b.mu.Unlock(); return b.v }

func (r *simRing) Pump(ctx meshctx.Context, onReceive ReceiveFunc, onConnect ConnectFunc) error {
	notified := false
	for {
		if meshctx.Cancelled(ctx) {
			return nil
		}
		if !notified && r.connected.Load() {
			notified = true
			if onConnect != nil {
				onConnect()
			}
		}
		select {
		case p, ok := <-r.inbox:
			if !ok {
				return nil
			}
			onReceive(p)
		case <-ctx.Done():
			return nil
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func (r *simRing) AllocBurst(ctx meshctx.Context, p []byte) (int, error) {
	r.mu.Lock()
	peer := r.peer
	r.mu.Unlock()
	if peer == nil {
		return 0, fmt.Errorf("shmring: no peer attached to %s", r.cfg.SocketPath)
	}
	cp := make([]byte, len(p))
	copy(cp, p)
	select {
	case peer.inbox <- cp:
		return len(p), nil
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-time.After(250 * time.Millisecond):
		return 0, fmt.Errorf("shmring: burst timed out, ring full")
	}
}

func (r *simRing) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	close(r.inbox)
	defaultBus.mu.Lock()
	if defaultBus.peers[r.cfg.SocketPath] == r {
		delete(defaultBus.peers, r.cfg.SocketPath)
	}
	defaultBus.mu.Unlock()
	return nil
}
