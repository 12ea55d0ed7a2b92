package runtime

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/fzft/go-mini-reactor/log"
	"github.com/fzft/go-mini-reactor/poller"
)

// ErrReactorShutdown is reported when the reactor loop observes its poll
// instance invalidated underneath it. The loop exits gracefully; it never
// crashes the process.
var ErrReactorShutdown = errors.New("reactor shut down")

// wakeToken is reserved for the reactor's internal wakeup source. Task ids
// start at 1, so it never collides.
const wakeToken poller.Token = 0

// Reactor runs the poll loop on a dedicated goroutine and translates raw
// readiness events into task wakeups through the token -> waker mapping.
// The mapping is one-shot: an entry is consumed by the event that fires it,
// and the task must re-register to be notified again, matching
// edge-triggered delivery.
type Reactor struct {
	poll     *poller.Poll
	registry *poller.Registry

	// wakeupMu keeps Stop from writing to the eventfd after an exiting
	// loop has closed it and the descriptor number may be recycled
	wakeupMu     sync.Mutex
	wakeup       *poller.Wakeup
	wakeupClosed bool

	mu     sync.Mutex
	wakers map[uint64]*Waker

	nextID   uint64
	timeout  time.Duration
	stopping int32
	done     chan struct{}
}

func NewReactor(cfg Config) (*Reactor, error) {
	poll, err := poller.NewWithCapacity(cfg.MaxEvents)
	if err != nil {
		return nil, err
	}

	wakeup, err := poller.NewWakeup()
	if err != nil {
		poll.Close()
		return nil, err
	}
	if err := poll.Registry().Register(wakeup, wakeToken, poller.Readable); err != nil {
		wakeup.Close()
		poll.Close()
		return nil, err
	}

	return &Reactor{
		poll:     poll,
		registry: poll.Registry(),
		wakeup:   wakeup,
		wakers:   make(map[uint64]*Waker),
		timeout:  cfg.pollTimeout(),
		done:     make(chan struct{}),
	}, nil
}

// NextID hands out a fresh id for a task / interest registration.
func (r *Reactor) NextID() uint64 {
	return atomic.AddUint64(&r.nextID, 1)
}

// Register records interest for src under the task id. The source stays
// owned by the caller; the reactor only routes its events.
func (r *Reactor) Register(src poller.Source, interest poller.Interest, id uint64) error {
	return r.registry.Register(src, poller.Token(id), interest)
}

// Deregister cancels interest for src and forgets any waker parked under
// the id. Callers must do this before closing the source's descriptor.
func (r *Reactor) Deregister(src poller.Source, id uint64) error {
	r.mu.Lock()
	delete(r.wakers, id)
	r.mu.Unlock()
	return r.registry.Deregister(src)
}

// SetWaker installs or replaces the waker woken when the event registered
// under id fires. Always the latest waker wins.
func (r *Reactor) SetWaker(w *Waker, id uint64) {
	r.mu.Lock()
	r.wakers[id] = w
	r.mu.Unlock()
}

// Run drives the poll loop until Stop is called or the poll instance is
// invalidated. It blocks the calling goroutine.
func (r *Reactor) Run() error {
	defer close(r.done)

	for {
		events, err := r.poll.Poll(r.timeout)
		if err != nil {
			// steady-state per-event errors never get here; a wait
			// failure means the queue itself is gone
			log.Logger.Warn("event wait failed, reactor exiting", zap.Error(err))
			r.closeWakeup()
			r.mu.Lock()
			r.wakers = make(map[uint64]*Waker)
			r.mu.Unlock()
			return ErrReactorShutdown
		}

		for _, ev := range events {
			if ev.Token == wakeToken {
				r.wakeup.Clear()
				continue
			}
			r.dispatch(ev)
		}

		if atomic.LoadInt32(&r.stopping) == 1 {
			r.shutdown()
			return nil
		}
	}
}

// dispatch consumes the waker mapped to the event's token and invokes it.
// A token with no mapping was already consumed or deregistered; the race
// between consumption and delivery is expected and benign.
func (r *Reactor) dispatch(ev poller.Event) {
	id := uint64(ev.Token)

	r.mu.Lock()
	w, ok := r.wakers[id]
	if ok {
		delete(r.wakers, id)
	}
	r.mu.Unlock()

	if !ok {
		log.Logger.Debug("stale token ignored", zap.Uint32("token", uint32(ev.Token)))
		return
	}
	w.Wake()
}

// Stop asks the loop to exit. It interrupts an in-progress wait, so it
// returns promptly even with an infinite poll timeout.
func (r *Reactor) Stop() {
	if !atomic.CompareAndSwapInt32(&r.stopping, 0, 1) {
		return
	}

	r.wakeupMu.Lock()
	defer r.wakeupMu.Unlock()
	if r.wakeupClosed {
		// the loop already exited on its own
		return
	}
	if err := r.wakeup.Set(); err != nil {
		log.Logger.Warn("failed to interrupt reactor wait", zap.Error(err))
	}
}

func (r *Reactor) closeWakeup() {
	r.wakeupMu.Lock()
	defer r.wakeupMu.Unlock()
	if r.wakeupClosed {
		return
	}
	r.wakeupClosed = true
	if err := r.wakeup.Close(); err != nil {
		log.Logger.Debug("wakeup close failed", zap.Error(err))
	}
}

// Done is closed when the loop has exited.
func (r *Reactor) Done() <-chan struct{} {
	return r.done
}

func (r *Reactor) shutdown() {
	// outstanding registrations, the internal wakeup included, are
	// invalidated with the queue
	if err := r.registry.DeregisterAll(); err != nil {
		log.Logger.Debug("deregister on shutdown failed", zap.Error(err))
	}
	r.closeWakeup()
	if err := r.poll.Close(); err != nil {
		log.Logger.Debug("poll close failed", zap.Error(err))
	}

	r.mu.Lock()
	r.wakers = make(map[uint64]*Waker)
	r.mu.Unlock()

	log.Logger.Info("reactor stopped")
}
