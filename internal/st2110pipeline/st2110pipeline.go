// Package st2110pipeline is the narrow boundary around the external
// ST 2110 media pipeline library (the MTL-style library spec.md §4.6
// calls "the external pipeline library"). The real bindings are CGo and
// outside this repository's scope; this package fixes the
// (Frame, Handle, Ops) contract the core depends on and ships an
// in-process fake.
package st2110pipeline

import "github.com/OpenVisualCloud/Media-Communications-Mesh-sub001/internal/meshctx"

// Kind distinguishes the four ST 2110 payload families: -20
// (uncompressed video), -22 (JPEG-XS), -30 (audio) and -40 (ancillary).
type Kind int

const (
	KindVideoUncompressed Kind = iota
	KindVideoJPEGXS
	KindAudio
	KindAncillary
)

// SessionConfig carries the per-session pipeline parameters; the
// process-wide Device is lazily built from the first session's
// DeviceConfig (spec §4.6: "its configuration is built from the first
// session's parameters").
type SessionConfig struct {
	Kind         Kind
	IsReceiver   bool
	TransferSize int
	DeviceConfig DeviceConfig
}

// DeviceConfig is the subset of session parameters that seed the
// process-wide MTL device on first use.
type DeviceConfig struct {
	LocalIP      string
	InterfaceID  string
	DMAQueues    int
}

// Frame is one handle returned by the pipeline library: a payload
// buffer plus the header fields the receive side stamps on
// (spec §4.6: "timestamp + sequence + payload length").
type Frame struct {
	Payload   []byte
	Timestamp uint64
	Seq       uint64
}

// Handle is a bound pipeline session (one per Connection).
type Handle interface {
	// GetFrame acquires an empty frame for the transmit side, blocking
	// on the library's frame_available event if none is free.
	GetFrame(ctx meshctx.Context) (*Frame, error)
	// PutFrame returns a filled transmit frame to the library to send,
	// or (on the receive side) releases a consumed frame back to the
	// pool.
	PutFrame(f *Frame) error
	// AcquireFull blocks until a fully received frame is ready (receive
	// side only).
	AcquireFull(ctx meshctx.Context) (*Frame, error)
	Close() error
}

// Device is the process-wide pipeline singleton (spec §4.6: "lazily
// initialised on first use").
type Device interface {
	CreateSession(cfg SessionConfig) (Handle, error)
	Close() error
}

// Dial constructs a Device for the given config. The real
// implementation calls into the MTL-style library; Simulated (simulated.go)
// returns an in-process fake.
type Dial func(cfg DeviceConfig) (Device, error)
