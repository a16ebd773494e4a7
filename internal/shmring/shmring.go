// Package shmring is the narrow boundary spec.md §4.4 draws around the
// external shared-memory ring library the Local connection wraps
// ("wraps an external SHM ring library"). The real library is a CGo
// binding outside this repository's scope (the memif-style ring that
// ships with the original media proxy); this package fixes the contract
// the core depends on and ships an in-process fake so the Local
// connection's polling-thread and backpressure logic can be exercised
// without it.
package shmring

import "github.com/OpenVisualCloud/Media-Communications-Mesh-sub001/internal/meshctx"

// Config is the ring configuration spec §4.4 lists: "a ring socket
// path, interface name and id, and a frame size".
type Config struct {
	SocketPath    string
	InterfaceName string
	InterfaceID   int
	FrameSize     int
	IsMaster      bool
}

// ReceiveFunc is invoked by the ring library's event pump for each
// inbound frame (spec §4.4 "on_memif_receive(ptr, sz)").
type ReceiveFunc func(p []byte)

// ConnectFunc is invoked once a peer attaches to the ring (spec §4.4
// "the ring library invokes an on_connect callback that refills the
// receive queue").
type ConnectFunc func()

// Ring is one open shared-memory ring interface.
type Ring interface {
	// Pump blocks, dispatching onReceive/onConnect until ctx is
	// cancelled (spec §4.4: "spawn one polling thread that blocks in
	// the ring library's event pump until the socket is cancelled").
	Pump(ctx meshctx.Context, onReceive ReceiveFunc, onConnect ConnectFunc) error
	// AllocBurst reserves one ring slot of up to len(p) bytes with a
	// bounded wait, copies p in, and bursts it to the peer (spec §4.4:
	// "allocates one ring slot with a bounded timeout, copies bytes,
	// and bursts it out").
	AllocBurst(ctx meshctx.Context, p []byte) (int, error)
	Close() error
}

// Open creates (master) or attaches to (non-master) the ring named by
// cfg, unlinking a stale socket file first on the master side (spec
// §4.4: "create the socket file (master side unlinks any stale file
// first)").
type Open func(cfg Config) (Ring, error)
