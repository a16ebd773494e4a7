// Package session implements the session registry spec §4.8 describes:
// a process-wide table pairing one Local (or gateway) connection with
// one transport connection per session, dispatched on payload type.
// Grounded on the teacher's service.DeliveryService
// (internal/service/delivery.go, see DESIGN.md): a thin service
// sitting over the registry/hub that the transport handler calls into
// (there: Subscribe/Unsubscribe; here: TxStart/RxStart/Stop).
package session

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/OpenVisualCloud/Media-Communications-Mesh-sub001/internal/conn"
	"github.com/OpenVisualCloud/Media-Communications-Mesh-sub001/internal/conn/gateway"
	"github.com/OpenVisualCloud/Media-Communications-Mesh-sub001/internal/conn/local"
	"github.com/OpenVisualCloud/Media-Communications-Mesh-sub001/internal/conn/rdma"
	"github.com/OpenVisualCloud/Media-Communications-Mesh-sub001/internal/conn/st2110"
	"github.com/OpenVisualCloud/Media-Communications-Mesh-sub001/internal/event"
	"github.com/OpenVisualCloud/Media-Communications-Mesh-sub001/internal/fabric"
	"github.com/OpenVisualCloud/Media-Communications-Mesh-sub001/internal/meshctx"
	"github.com/OpenVisualCloud/Media-Communications-Mesh-sub001/internal/shmring"
	"github.com/OpenVisualCloud/Media-Communications-Mesh-sub001/internal/st2110pipeline"
	"github.com/OpenVisualCloud/Media-Communications-Mesh-sub001/mesherr"
)

// Direction is the `type` field of a session request (spec §6:
// "type ∈ {is_tx, is_rx}").
type Direction int

const (
	DirTx Direction = iota
	DirRx
)

// PayloadType enumerates spec §4.8's dispatch set plus GATEWAY_ZC, the
// zero-copy gateway payload kind §4.9 adds.
type PayloadType string

const (
	PayloadST20Video     PayloadType = "ST20_VIDEO"
	PayloadST22Video     PayloadType = "ST22_VIDEO"
	PayloadST30Audio     PayloadType = "ST30_AUDIO"
	PayloadST40Ancillary PayloadType = "ST40_ANCILLARY"
	PayloadRDMAVideo     PayloadType = "RDMA_VIDEO"
	PayloadRTSPVideo     PayloadType = "RTSP_VIDEO"
	PayloadGatewayZC     PayloadType = "GATEWAY_ZC"
)

// Addr is a local or remote endpoint address (spec §6 request fields).
type Addr struct {
	IP   string
	Port int
}

// Request carries every field spec §6's "Session request fields
// (enumerated)" lists, covering the video/audio/rdma parameter unions
// plus the gateway pair §4.9 adds.
type Request struct {
	Direction   Direction
	LocalAddr   Addr
	RemoteAddr  Addr
	PayloadType PayloadType

	// Video (ST20/ST22/RTSP).
	Width, Height, FPS int
	PixFmt             string

	// Audio (ST30).
	Channels     int
	SampleRate   int
	Format       string
	PacketTimeUs int

	// RDMA.
	TransferSize int
	QueueSize    int
	Provider     string
	NumEndpoints int

	// Gateway zero-copy (§4.9).
	SysvKey       int32
	MemRegionSize uint64

	// Local/SHM ring identity (spec §4.4, §6 persisted state layout).
	InterfaceName string
	InterfaceID   int
}

type pair struct {
	id        string
	local     conn.Connection
	transport conn.Connection
}

// Registry is the process-wide session table (spec §4.8). It never
// tears down the shared RDMA fabric/MTL device singletons itself —
// those are refcounted independently by the transport packages (spec
// §4.8 "stop ... never tears down the shared device").
type Registry struct {
	logger *slog.Logger
	broker *event.Broker

	stPipeline st2110pipeline.Dial
	ringOpen   shmring.Open

	mu       sync.Mutex
	sessions map[string]*pair
}

// New constructs a Registry. ringOpen may be nil to use the in-process
// simulated SHM ring. stPipeline is stored but not consulted: ST 2110
// sessions always use the st2110 package's process-wide device, which
// dials st2110pipeline.Simulated.
func New(logger *slog.Logger, broker *event.Broker, stPipeline st2110pipeline.Dial, ringOpen shmring.Open) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:     logger,
		broker:     broker,
		stPipeline: stPipeline,
		ringOpen:   ringOpen,
		sessions:   make(map[string]*pair),
	}
}

// socketPath builds the persisted SHM ring socket path spec §6 names:
// "/run/mcm/mcm_<direction>_memif_<id>.sock" (or, when InterfaceName is
// set, "mcm_memif_<name>.sock").
func socketPath(dir Direction, req Request, sessionID string) string {
	if req.InterfaceName != "" {
		return fmt.Sprintf("/run/mcm/mcm_memif_%s.sock", req.InterfaceName)
	}
	d := "tx"
	if dir == DirRx {
		d = "rx"
	}
	return fmt.Sprintf("/run/mcm/mcm_%s_memif_%s.sock", d, sessionID)
}

func (r *Registry) buildLocal(dir Direction, req Request, sessionID string) conn.Connection {
	cfg := shmring.Config{
		SocketPath:    socketPath(dir, req, sessionID),
		InterfaceName: req.InterfaceName,
		InterfaceID:   req.InterfaceID,
		FrameSize:     req.TransferSize,
		IsMaster:      true,
	}
	if dir == DirTx {
		// Outbound session: the local side pulls app data off the ring
		// and forwards it into the transport's transmitter (spec §4.4,
		// DESIGN.md "Link-direction validation").
		return local.NewRx(cfg, r.ringOpen, r.broker)
	}
	// Inbound session: the local side is the terminal sink writing
	// reassembled wire data back onto the ring for the app.
	return local.NewTx(cfg, r.ringOpen, r.broker)
}

func (r *Registry) buildTransport(dir Direction, req Request) (conn.Connection, mesherr.Result) {
	switch req.PayloadType {
	case PayloadRDMAVideo:
		cfg := rdma.Config{
			LocalAddr:    rdma.Addr{IP: req.LocalAddr.IP, Port: req.LocalAddr.Port},
			RemoteAddr:   rdma.Addr{IP: req.RemoteAddr.IP, Port: req.RemoteAddr.Port},
			TransferSize: req.TransferSize,
			QueueSize:    req.QueueSize,
			Provider:     fabric.Provider(req.Provider),
			NumEndpoints: req.NumEndpoints,
		}
		if res := cfg.Validate(); !res.OK() {
			return nil, res
		}
		if dir == DirTx {
			return rdma.NewTx(cfg, r.broker), mesherr.Ok()
		}
		return rdma.NewRx(cfg, r.broker), mesherr.Ok()

	case PayloadST20Video, PayloadST22Video, PayloadST30Audio, PayloadST40Ancillary, PayloadRTSPVideo:
		kind := st2110pipeline.KindVideoUncompressed
		switch req.PayloadType {
		case PayloadST22Video, PayloadRTSPVideo:
			kind = st2110pipeline.KindVideoJPEGXS
		case PayloadST30Audio:
			kind = st2110pipeline.KindAudio
		case PayloadST40Ancillary:
			kind = st2110pipeline.KindAncillary
		}
		cfg := st2110.Config{
			Kind:         kind,
			TransferSize: req.TransferSize,
			Device: st2110pipeline.DeviceConfig{
				LocalIP:     req.LocalAddr.IP,
				InterfaceID: req.InterfaceName,
			},
		}
		if dir == DirTx {
			return st2110.NewTx(cfg, r.broker), mesherr.Ok()
		}
		return st2110.NewRx(cfg, r.broker), mesherr.Ok()

	case PayloadGatewayZC:
		cfg := gateway.Config{SysvKey: req.SysvKey, MemRegionSize: req.MemRegionSize}
		if dir == DirTx {
			return gateway.NewTx(cfg, r.broker), mesherr.Ok()
		}
		return gateway.NewRx(cfg, r.broker), mesherr.Ok()

	default:
		return nil, mesherr.New(mesherr.ErrBadArgument, fmt.Errorf("unknown payload_type %q", req.PayloadType))
	}
}

// start is the shared body of TxStart/RxStart: build the Local (or
// gateway) connection and the transport connection, link them, bring
// both up, and record the pair under a fresh session id.
func (r *Registry) start(ctx meshctx.Context, dir Direction, req Request) (string, mesherr.Result) {
	sessionID := uuid.NewString()

	localConn := r.buildLocal(dir, req, sessionID)
	transport, res := r.buildTransport(dir, req)
	if !res.OK() {
		return "", res
	}

	// Outbound: local (receiver) forwards into transport (transmitter).
	// Inbound: transport (receiver) forwards into local (transmitter).
	var head, tail conn.Connection
	if dir == DirTx {
		head, tail = localConn, transport
	} else {
		head, tail = transport, localConn
	}
	if res := head.SetLink(ctx, tail, head); !res.OK() {
		return "", res
	}
	for _, c := range []conn.Connection{tail, head} {
		if cd, ok := c.(interface{ ConfigureDone() mesherr.Result }); ok {
			if res := cd.ConfigureDone(); !res.OK() {
				return "", res
			}
		}
	}

	if res := tail.Establish(ctx); !res.OK() {
		return "", res
	}
	if res := head.Establish(ctx); !res.OK() {
		tail.Shutdown(ctx)
		return "", res
	}

	r.mu.Lock()
	r.sessions[sessionID] = &pair{id: sessionID, local: localConn, transport: transport}
	r.mu.Unlock()

	r.logger.Info("STREAM_ESTABLISHED", "session_id", sessionID, "payload_type", req.PayloadType, "direction", dirString(dir))
	if r.broker != nil {
		r.broker.Publish(ctx, sessionID, string(event.KindSessionStarted), map[string]any{
			"payload_type": string(req.PayloadType),
			"direction":    dirString(dir),
		})
	}
	return sessionID, mesherr.Ok()
}

// TxStart allocates a session id, builds the Local+transport pair for
// an outbound session and links them (spec §4.8).
func (r *Registry) TxStart(ctx meshctx.Context, req Request) (string, mesherr.Result) {
	req.Direction = DirTx
	return r.start(ctx, DirTx, req)
}

// RxStart is TxStart's inbound counterpart.
func (r *Registry) RxStart(ctx meshctx.Context, req Request) (string, mesherr.Result) {
	req.Direction = DirRx
	return r.start(ctx, DirRx, req)
}

// Stop looks up sessionID, shuts both sides down, and erases the
// record. It never tears down the shared RDMA/MTL device singletons
// (spec §4.8) — those release themselves via refcounting inside
// Shutdown.
func (r *Registry) Stop(ctx meshctx.Context, sessionID string) mesherr.Result {
	r.mu.Lock()
	p, ok := r.sessions[sessionID]
	if ok {
		delete(r.sessions, sessionID)
	}
	r.mu.Unlock()
	if !ok {
		return mesherr.New(mesherr.ErrBadArgument, fmt.Errorf("unknown session %q", sessionID))
	}

	resLocal := p.local.Shutdown(ctx)
	resTransport := p.transport.Shutdown(ctx)

	r.logger.Info("STREAM_STOPPED", "session_id", sessionID)
	if r.broker != nil {
		r.broker.Publish(ctx, sessionID, string(event.KindSessionStopped), nil)
	}

	if !resLocal.OK() {
		return resLocal
	}
	return resTransport
}

// Stats returns a snapshot of every live session's metrics, for the
// debug HTTP surface and the `mediaproxy stats` terminal dashboard
// (§10/§11 domain stack).
type Stats struct {
	SessionID          string
	LocalMetrics       conn.Metrics
	TransportMetrics   conn.Metrics
	TransportState     conn.State
}

func (r *Registry) Stats() []Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Stats, 0, len(r.sessions))
	for _, p := range r.sessions {
		out = append(out, Stats{
			SessionID:        p.id,
			LocalMetrics:     p.local.Metrics(),
			TransportMetrics: p.transport.Metrics(),
			TransportState:   p.transport.State(),
		})
	}
	return out
}

func dirString(d Direction) string {
	if d == DirTx {
		return "is_tx"
	}
	return "is_rx"
}
