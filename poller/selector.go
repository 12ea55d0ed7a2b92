package poller

import (
	"errors"
	"sync/atomic"
	"time"
)

var (
	// ErrSelectorClosed is returned when an operation reaches a selector
	// whose descriptor has already been released.
	ErrSelectorClosed = errors.New("selector closed")

	// ErrTokenInUse is returned when a registration names a token that is
	// still bound to another live source. Silent overwrite would misroute
	// every later event for that token.
	ErrTokenInUse = errors.New("token already registered")
)

// Source is any entity that owns an OS-level readable/writable handle, e.g.
// a socket. The registry keeps only the raw descriptor for the duration of
// the registration, never ownership of the source.
type Source interface {
	Fd() int
}

// Selector is the narrow contract over the OS readiness facility. All raw
// syscall interaction lives behind it; everything above deals in Token,
// Interest and Event values, so alternate platform backends can be
// substituted without touching Registry, Poll or anything built on them.
type Selector interface {
	// Register adds interest for fd, correlated by token, or updates the
	// interest if fd is already in the queue.
	Register(fd int, token Token, interest Interest) error

	// Deregister removes fd from the queue. Failure is reported, not
	// swallowed.
	Deregister(fd int) error

	// Wait blocks until at least one event is ready or timeout elapses.
	// A negative timeout blocks indefinitely; expiry yields an empty
	// slice and no error. Waits interrupted by a signal are retried
	// transparently.
	Wait(timeout time.Duration) ([]Event, error)

	// Close releases the queue descriptor. Closing twice is an error.
	Close() error
}

// selectorRef shares one selector between a Poll and any Registry clones.
// The descriptor is released when the last holder lets go.
type selectorRef struct {
	sel  Selector
	refs int32
}

func newSelectorRef(sel Selector) *selectorRef {
	return &selectorRef{sel: sel, refs: 1}
}

// tryRetain takes a new reference unless the count already hit zero, in
// which case the descriptor is gone and must not be resurrected.
func (h *selectorRef) tryRetain() bool {
	for {
		refs := atomic.LoadInt32(&h.refs)
		if refs == 0 {
			return false
		}
		if atomic.CompareAndSwapInt32(&h.refs, refs, refs+1) {
			return true
		}
	}
}

func (h *selectorRef) release() error {
	if atomic.AddInt32(&h.refs, -1) == 0 {
		return h.sel.Close()
	}
	return nil
}
