// Package mesherr implements the structured error kinds every public
// Connection operation returns (spec §7). Kinds are plain values, not
// exception types: callers switch on Kind, workers log the wrapped
// cause and move on.
package mesherr

import (
	"github.com/pkg/errors"
	"google.golang.org/grpc/codes"
)

// Kind enumerates the outcomes a Connection operation can report.
type Kind int

const (
	Success Kind = iota
	ErrBadArgument
	ErrWrongState
	ErrOutOfMemory
	ErrInitializationFailed
	ErrMemoryRegistrationFailed
	ErrThreadCreationFailed
	ErrAlreadyInitialized
	ErrNoBuffer
	ErrNoLinkAssigned
	ErrTimeout
	ErrContextCancelled
	ErrGeneralFailure
)

func (k Kind) String() string {
	switch k {
	case Success:
		return "success"
	case ErrBadArgument:
		return "error_bad_argument"
	case ErrWrongState:
		return "error_wrong_state"
	case ErrOutOfMemory:
		return "error_out_of_memory"
	case ErrInitializationFailed:
		return "error_initialization_failed"
	case ErrMemoryRegistrationFailed:
		return "error_memory_registration_failed"
	case ErrThreadCreationFailed:
		return "error_thread_creation_failed"
	case ErrAlreadyInitialized:
		return "error_already_initialized"
	case ErrNoBuffer:
		return "error_no_buffer"
	case ErrNoLinkAssigned:
		return "error_no_link_assigned"
	case ErrTimeout:
		return "error_timeout"
	case ErrContextCancelled:
		return "error_context_cancelled"
	case ErrGeneralFailure:
		return "error_general_failure"
	default:
		return "error_unknown"
	}
}

// GRPCCode maps a Kind onto a gRPC status code. Neither control-plane
// server calls it: the gRPC server reports every failed request as
// codes.Internal carrying the Response's Reason, and the TCP server
// writes the JSON Response.
func (k Kind) GRPCCode() codes.Code {
	switch k {
	case Success:
		return codes.OK
	case ErrBadArgument:
		return codes.InvalidArgument
	case ErrWrongState, ErrAlreadyInitialized:
		return codes.FailedPrecondition
	case ErrOutOfMemory, ErrInitializationFailed, ErrMemoryRegistrationFailed, ErrThreadCreationFailed:
		return codes.Internal
	case ErrNoBuffer:
		return codes.ResourceExhausted
	case ErrNoLinkAssigned:
		return codes.FailedPrecondition
	case ErrTimeout:
		return codes.DeadlineExceeded
	case ErrContextCancelled:
		return codes.Canceled
	default:
		return codes.Unknown
	}
}

// Result is the return value of every public Connection operation. A
// Connection keeps its last Result so callers can inspect a structured
// error without holding onto the transient return (spec §3 "Result").
type Result struct {
	Kind Kind
	Err  error
	// Fields carries structured key-value context for the logger.
	Fields map[string]any
}

func Ok() Result { return Result{Kind: Success} }

// New builds a Result wrapping cause with a stack trace via pkg/errors,
// so the first failing libfabric/MTL/ring call site is recoverable from
// the log stream even though the core never unwinds via panics.
func New(kind Kind, cause error, fields ...map[string]any) Result {
	r := Result{Kind: kind}
	if cause != nil {
		r.Err = errors.WithStack(cause)
	}
	if len(fields) > 0 {
		r.Fields = fields[0]
	}
	return r
}

func Wrap(kind Kind, cause error, msg string) Result {
	if cause == nil {
		return Result{Kind: kind}
	}
	return Result{Kind: kind, Err: errors.Wrap(cause, msg)}
}

func (r Result) OK() bool { return r.Kind == Success }

func (r Result) Error() string {
	if r.Err != nil {
		return r.Kind.String() + ": " + r.Err.Error()
	}
	return r.Kind.String()
}

// AsError returns nil for a successful Result and itself otherwise, so
// Result satisfies the `error` interface at call sites that want a
// plain Go error.
func (r Result) AsError() error {
	if r.OK() {
		return nil
	}
	return r
}
