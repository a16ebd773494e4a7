// Package tcpserver implements the control plane's length-prefixed TCP
// framing transport: spec §6.1's second wire path, sharing the same
// controlplane.Dispatcher, Envelope/Response types, and validator as
// infra/server/grpc so the two control planes have "identical
// semantics" by construction rather than by convention.
package tcpserver

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"

	"github.com/OpenVisualCloud/Media-Communications-Mesh-sub001/internal/controlplane"
	"github.com/OpenVisualCloud/Media-Communications-Mesh-sub001/internal/meshctx"
)

// maxFrameSize bounds a single request/response frame; a control-plane
// envelope is a handful of scalar fields, never close to this size, so
// this only guards against a misbehaving or hostile peer.
const maxFrameSize = 1 << 20

// Server accepts connections and, for each, reads one uint32-length-
// prefixed JSON controlplane.Envelope per frame and writes back one
// equally-framed controlplane.Response.
type Server struct {
	dispatcher controlplane.Dispatcher
	logger     *slog.Logger
}

func New(d controlplane.Dispatcher, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{dispatcher: d, logger: logger}
}

// Serve accepts on lis until ctx is cancelled or Accept fails.
func (s *Server) Serve(ctx meshctx.Context, lis net.Listener) error {
	go func() {
		<-ctx.Done()
		lis.Close()
	}()

	for {
		conn, err := lis.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx meshctx.Context, conn net.Conn) {
	defer conn.Close()
	for {
		env, err := readEnvelope(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Warn("tcp control plane: read failed", "error", err, "remote", conn.RemoteAddr())
			}
			return
		}

		resp := controlplane.Dispatch(ctx, s.dispatcher, *env)
		if err := writeResponse(conn, resp); err != nil {
			s.logger.Warn("tcp control plane: write failed", "error", err, "remote", conn.RemoteAddr())
			return
		}
	}
}

func readEnvelope(r io.Reader) (*controlplane.Envelope, error) {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return nil, err
	}
	if length == 0 || length > maxFrameSize {
		return nil, errors.New("tcp control plane: invalid frame length")
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	var env controlplane.Envelope
	if err := json.Unmarshal(buf, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

func writeResponse(w io.Writer, resp controlplane.Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, uint32(len(data))); err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// DialAndSend is a small client helper: write one framed request, read
// one framed response. Nothing in this repository calls it.
func DialAndSend(ctx context.Context, addr string, env controlplane.Envelope) (*controlplane.Response, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	data, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}
	if err := binary.Write(conn, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := conn.Write(data); err != nil {
		return nil, err
	}

	var length uint32
	if err := binary.Read(conn, binary.BigEndian, &length); err != nil {
		return nil, err
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(conn, buf); err != nil {
		return nil, err
	}
	var resp controlplane.Response
	if err := json.Unmarshal(buf, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
