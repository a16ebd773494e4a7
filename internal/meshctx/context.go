// Package meshctx implements the cancellation-propagating scope every
// blocking primitive in this repository accepts (spec §3, §4.1). It is
// a thin named wrapper over stdlib context.Context: the contract spec.md
// describes — immutable tree, parent cancellation propagates to
// children, a child may add a timeout, cooperative cancellation checked
// on every wake-up — is exactly what context.Context already provides,
// so this package does not reimplement it, only narrows the surface to
// the primitives the spec names.
package meshctx

import (
	"context"
	"errors"
	"time"

	"github.com/OpenVisualCloud/Media-Communications-Mesh-sub001/mesherr"
)

// Context is the scope type every public operation in this repository
// accepts. It is a plain context.Context under the hood.
type Context = context.Context

// CancelFunc cancels a Context and its descendants.
type CancelFunc = context.CancelFunc

// Background returns the root context; it is never cancelled.
func Background() Context {
	return context.Background()
}

// WithCancel derives a child scope. Calling the returned CancelFunc
// cancels the child and every context derived from it; it does not
// affect parent.
func WithCancel(parent Context) (Context, CancelFunc) {
	return context.WithCancel(parent)
}

// WithTimeout derives a child scope that cancels itself after d or when
// parent cancels, whichever comes first.
func WithTimeout(parent Context, d time.Duration) (Context, CancelFunc) {
	return context.WithTimeout(parent, d)
}

// Cancelled performs the non-blocking test spec.md names `cancelled()`.
func Cancelled(ctx Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// Done exposes the recv-only channel spec.md names `done_channel()`,
// used to plumb cancellation into select-like waits (channels, sleeps,
// CQ reactors).
func Done(ctx Context) <-chan struct{} {
	return ctx.Done()
}

// Sleep blocks for d or until ctx cancels, returning a Result carrying
// ErrContextCancelled in the latter case. Every "sleep N and retry"
// step in the RDMA pipeline (§4.5.3, §4.5.4) goes through this instead
// of a bare time.Sleep, so cancellation during a back-off is immediate
// rather than bounded by the sleep duration.
func Sleep(ctx Context, d time.Duration) mesherr.Result {
	if Cancelled(ctx) {
		return mesherr.New(mesherr.ErrContextCancelled, ctx.Err())
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return mesherr.Ok()
	case <-ctx.Done():
		return mesherr.New(mesherr.ErrContextCancelled, ctx.Err())
	}
}

// ErrCancelled is a bare-error form of cancellation for callers that
// need an error rather than a mesherr.Result (e.g. to satisfy
// errgroup.Group). Nothing in this repository returns it.
var ErrCancelled = errors.New("meshctx: context cancelled")
