package poller

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/fzft/go-mini-reactor/log"
)

// registryState is the registration bookkeeping shared by every clone of a
// registry: which token belongs to which descriptor and vice versa. The
// epoll descriptor itself tolerates concurrent mutation while another
// thread blocks in a wait, so the mutex here only protects the tables.
type registryState struct {
	mu     sync.Mutex
	tokens map[Token]int // token -> fd
	fds    map[int]Token // fd -> token
}

// Registry records and cancels interest for I/O sources, independent of any
// in-progress blocking wait. Clones share the same underlying queue and the
// same token space; the queue descriptor is released when the last holder
// (the Poll included) closes.
type Registry struct {
	ref      *selectorRef
	state    *registryState
	released int32
}

func newRegistry(ref *selectorRef) *Registry {
	return &Registry{
		ref: ref,
		state: &registryState{
			tokens: make(map[Token]int),
			fds:    make(map[int]Token),
		},
	}
}

// Register adds interest for src under token. Registering a token that is
// still bound to another live source fails with ErrTokenInUse. Registering
// a source that is already in the queue updates its interest, and its token
// when that changed.
func (r *Registry) Register(src Source, token Token, interest Interest) error {
	fd := src.Fd()

	r.state.mu.Lock()
	defer r.state.mu.Unlock()

	if owner, ok := r.state.tokens[token]; ok && owner != fd {
		return ErrTokenInUse
	}

	if err := r.ref.sel.Register(fd, token, interest); err != nil {
		return err
	}

	if old, ok := r.state.fds[fd]; ok && old != token {
		delete(r.state.tokens, old)
	}
	r.state.tokens[token] = fd
	r.state.fds[fd] = token

	log.Logger.Debug("registered source",
		zap.Int("fd", fd), zap.Uint32("token", uint32(token)), zap.Stringer("interest", interest))
	return nil
}

// Deregister removes interest for src. The caller must do this before the
// source's descriptor closes, or the queue is left referencing an invalid
// descriptor.
func (r *Registry) Deregister(src Source) error {
	fd := src.Fd()

	r.state.mu.Lock()
	defer r.state.mu.Unlock()

	if err := r.ref.sel.Deregister(fd); err != nil {
		return err
	}

	if token, ok := r.state.fds[fd]; ok {
		delete(r.state.tokens, token)
		delete(r.state.fds, fd)
	}
	return nil
}

// DeregisterAll cancels every outstanding registration. The sources stay
// open and owned by their registrants; only the queue's interest in them is
// dropped.
func (r *Registry) DeregisterAll() error {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()

	var errs error
	for fd := range r.state.fds {
		if err := r.ref.sel.Deregister(fd); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("deregister fd %d: %w", fd, err))
		}
	}

	r.state.tokens = make(map[Token]int)
	r.state.fds = make(map[int]Token)
	return errs
}

// Clone returns a new handle to the same queue and token space. The clone
// keeps the queue descriptor alive until it is closed. Cloning a released
// handle, or one whose queue already fully closed, fails rather than
// resurrecting a dead descriptor.
func (r *Registry) Clone() (*Registry, error) {
	if atomic.LoadInt32(&r.released) == 1 {
		return nil, ErrSelectorClosed
	}
	if !r.ref.tryRetain() {
		return nil, ErrSelectorClosed
	}
	return &Registry{ref: r.ref, state: r.state}, nil
}

// Close releases this handle's reference to the queue descriptor. The
// descriptor itself closes once the last reference is gone.
func (r *Registry) Close() error {
	if !atomic.CompareAndSwapInt32(&r.released, 0, 1) {
		return ErrSelectorClosed
	}
	return r.ref.release()
}
