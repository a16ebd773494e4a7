// Package fabric declares the narrow interfaces the RDMA transport core
// consumes from libfabric (spec §6 "dev_ops, ep_ops, cq_ops, mr_ops").
// Real bindings live behind a CGo implementation outside this repository's
// scope; this package only fixes the contract and ships an in-process
// Simulated implementation (see simulated.go) so the transport core's
// concurrency, ordering and failure-handling logic can be exercised
// without real RDMA hardware or a libfabric provider installed — exactly
// the substitution spec §6 asks for ("so tests can substitute fakes").
package fabric

import "errors"

// Provider selects the libfabric provider (spec §4.5 config).
type Provider string

const (
	ProviderVerbs Provider = "verbs"
	ProviderTCP   Provider = "tcp"
)

// CompMethod selects how a CQ reports readiness (spec §5 suspension
// points: "CQ blocking reads when completion method is sread or
// wait_fd; otherwise busy-poll with back-off").
type CompMethod int

const (
	CompSpin CompMethod = iota
	CompSread
	CompWaitFD
)

// EndpointConfig is the per-endpoint fi_info clone spec §4.5.1 step 2
// describes: the base config with its port bumped by index.
type EndpointConfig struct {
	LocalIP    string
	LocalPort  int
	RemoteIP   string
	RemotePort int
	Provider   Provider
	IsReceiver bool
	CompMethod CompMethod
}

// Address is the short handle an address-vector insert resolves a
// remote ip:port to (fi_addr_t analog).
type Address uint64

// Sentinel completion-queue error codes spec §4.5.4 dispatches on.
var (
	ErrCanceled    = errors.New("fabric: operation canceled")     // -FI_ECANCELED
	ErrConnReset   = errors.New("fabric: connection reset")       // -FI_ECONNRESET
	ErrNotConn     = errors.New("fabric: not connected")          // -FI_ENOTCONN
	ErrAgain       = errors.New("fabric: try again")              // -EAGAIN
	ErrFatal       = errors.New("fabric: fatal device error")     // anything else
	ErrQueueEmpty  = errors.New("fabric: completion queue empty")
	ErrCQEntryAvail = errors.New("fabric: error entry available") // FI_EAVAIL
)

// Completion is one entry read off a completion queue. Context is
// whatever opaque value was passed to Send/Recv — the RDMA core always
// passes a *rdma pool slot.
type Completion struct {
	Context any
	Len     int
	Err     error
}

// MemoryRegion is a registered, addressable buffer (spec §3 "Memory
// region registration covers the whole region on every endpoint").
type MemoryRegion interface {
	Close() error
}

// AddressVector maps remote addresses to short handles.
type AddressVector interface {
	Insert(ip string, port int) (Address, error)
	Close() error
}

// CQ is a completion queue, optionally shared by several endpoints
// (spec §4.5.1 step 3: "endpoints 1..N-1 share endpoint 0's receive
// CQ").
type CQ interface {
	// Read pops up to max completions without blocking. Returns
	// ErrQueueEmpty (EAGAIN analog) when nothing is ready and
	// ErrCQEntryAvail when an error entry should be read via ReadErr.
	Read(max int) ([]Completion, error)
	ReadErr() (Completion, error)
	Close() error
}

// Endpoint is a bound libfabric endpoint; it owns no payload memory,
// only references the pool's registered region via MemoryRegion.
type Endpoint interface {
	// Send posts a send with ctx as opaque completion context.
	Send(buf []byte, mr MemoryRegion, dest Address, ctx any) error
	// Recv posts a receive of len(buf) bytes with ctx as opaque
	// completion context.
	Recv(buf []byte, mr MemoryRegion, ctx any) error
	CQ() CQ
	Close() error
}

// Domain is a libfabric domain: the scope memory regions and endpoints
// are registered/opened against.
type Domain interface {
	RegisterMR(region []byte) (MemoryRegion, error)
	OpenAV() (AddressVector, error)
	// OpenEndpoint brings up one endpoint. sharedCQ, when non-nil, is
	// used instead of opening a new CQ (spec §4.5.1 step 3).
	OpenEndpoint(cfg EndpointConfig, sharedCQ CQ) (Endpoint, error)
	Close() error
}

// Device is the process-wide fabric/domain singleton (spec §4.5.1 step
// 1, §5 "process-wide singleton behind a mutex").
type Device interface {
	OpenDomain() (Domain, error)
	Close() error
}

// Dial constructs a Device for the given provider. The real
// implementation (outside this repository's scope) calls fi_getinfo/
// fi_fabric/fi_domain; NewSimulatedDevice (simulated.go) returns an in-process
// loopback device for tests and for environments with no RDMA NIC.
type Dial func(provider Provider) (Device, error)
