// Package controlplane implements the shared request/response envelope
// and dispatch logic spec §6/§6.1 describe: one Go-level Dispatcher
// interface (TxStart/RxStart/TxStop/RxStop/Stop) consumed identically
// by the gRPC and TCP transports, so the "identical semantics" spec.md
// requires of both is enforced by construction rather than by keeping
// two implementations in sync.
package controlplane

import (
	"fmt"

	"github.com/OpenVisualCloud/Media-Communications-Mesh-sub001/internal/meshctx"
	"github.com/OpenVisualCloud/Media-Communications-Mesh-sub001/internal/session"
	"github.com/OpenVisualCloud/Media-Communications-Mesh-sub001/mesherr"
)

// Verb is the request's dispatch key, spec §6: "TxStart, RxStart,
// TxStop, RxStop, Stop".
type Verb string

const (
	VerbTxStart Verb = "TxStart"
	VerbRxStart Verb = "RxStart"
	VerbTxStop  Verb = "TxStop"
	VerbRxStop  Verb = "RxStop"
	VerbStop    Verb = "Stop"
)

// Envelope is the one JSON request shape both the gRPC JSON codec and
// the TCP length-prefixed framing exchange (spec §6.1).
type Envelope struct {
	Verb      Verb   `json:"verb"`
	SessionID string `json:"session_id,omitempty"`

	session.Request
}

// Response carries the new/target session id on success. On failure
// Failed is set and Reason starts with FailedLiteral, followed by the
// structured error kind and cause.
type Response struct {
	SessionID string `json:"session_id,omitempty"`
	Failed    bool   `json:"failed,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// FailedLiteral is the exact wire value spec §6/§7 names: "the reply
// ... embeds ... the word Failed" on failure.
const FailedLiteral = "Failed"

// Dispatcher is the interface both transports drive. *session.Registry
// satisfies it via the Service adapter below.
type Dispatcher interface {
	TxStart(ctx meshctx.Context, req session.Request) (string, mesherr.Result)
	RxStart(ctx meshctx.Context, req session.Request) (string, mesherr.Result)
	TxStop(ctx meshctx.Context, sessionID string) mesherr.Result
	RxStop(ctx meshctx.Context, sessionID string) mesherr.Result
	Stop(ctx meshctx.Context, sessionID string) mesherr.Result
}

// Service adapts *session.Registry (whose Stop doesn't distinguish
// direction) onto the five-verb Dispatcher spec §6 names; TxStop and
// RxStop both resolve to the registry's single Stop, which already
// shuts down both sides of the pair regardless of which end a caller
// names (spec §4.8 "stop ... shuts both sides down").
type Service struct {
	Registry *session.Registry
}

func (s Service) TxStart(ctx meshctx.Context, req session.Request) (string, mesherr.Result) {
	return s.Registry.TxStart(ctx, req)
}

func (s Service) RxStart(ctx meshctx.Context, req session.Request) (string, mesherr.Result) {
	return s.Registry.RxStart(ctx, req)
}

func (s Service) TxStop(ctx meshctx.Context, sessionID string) mesherr.Result {
	return s.Registry.Stop(ctx, sessionID)
}

func (s Service) RxStop(ctx meshctx.Context, sessionID string) mesherr.Result {
	return s.Registry.Stop(ctx, sessionID)
}

func (s Service) Stop(ctx meshctx.Context, sessionID string) mesherr.Result {
	return s.Registry.Stop(ctx, sessionID)
}

// Validate applies the request validator spec §6.1 asks for: a small
// hand-written function per request type rather than
// protovalidate-generated CEL checks (see SPEC_FULL.md §11).
func (e Envelope) Validate() error {
	switch e.Verb {
	case VerbTxStart, VerbRxStart:
		if e.Request.PayloadType == "" {
			return fmt.Errorf("controlplane: payload_type is required for %s", e.Verb)
		}
	case VerbTxStop, VerbRxStop, VerbStop:
		if e.SessionID == "" {
			return fmt.Errorf("controlplane: session_id is required for %s", e.Verb)
		}
	default:
		return fmt.Errorf("controlplane: unknown verb %q", e.Verb)
	}
	return nil
}

// Dispatch validates env, routes it to d and renders the Response; it
// never panics on an unknown verb. The gRPC and TCP servers both call
// it directly, so Validate runs here for both; the default case below
// only guards the switch.
func Dispatch(ctx meshctx.Context, d Dispatcher, env Envelope) Response {
	if err := env.Validate(); err != nil {
		return Response{Failed: true, Reason: FailedLiteral + ": " + err.Error()}
	}

	var (
		sessionID string
		res       mesherr.Result
	)
	switch env.Verb {
	case VerbTxStart:
		sessionID, res = d.TxStart(ctx, env.Request)
	case VerbRxStart:
		sessionID, res = d.RxStart(ctx, env.Request)
	case VerbTxStop:
		res = d.TxStop(ctx, env.SessionID)
		sessionID = env.SessionID
	case VerbRxStop:
		res = d.RxStop(ctx, env.SessionID)
		sessionID = env.SessionID
	case VerbStop:
		res = d.Stop(ctx, env.SessionID)
		sessionID = env.SessionID
	default:
		return Response{Failed: true, Reason: fmt.Sprintf("%s: unknown verb %q", FailedLiteral, env.Verb)}
	}

	if !res.OK() {
		return Response{Failed: true, Reason: FailedLiteral + ": " + res.Error()}
	}
	return Response{SessionID: sessionID}
}
