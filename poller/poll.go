package poller

import (
	"sync"
	"time"
)

// Poll owns the event queue lifecycle and is the single blocking entry
// point. Interest registration happens through the paired Registry, which
// may be shared across threads while a wait is in progress; that split is
// what keeps "thread blocked waiting for events" from ever deadlocking
// against "thread wanting to register new interest".
type Poll struct {
	registry *Registry

	// serializes waiters: two concurrent waits on one queue would only
	// degenerate to sequential waits anyway, so the second caller just
	// queues behind the first
	mu sync.Mutex
}

// New creates a selector-backed event queue and its paired registry.
func New() (*Poll, error) {
	return NewWithCapacity(DefaultMaxEvents)
}

// NewWithCapacity is New with an explicit cap on events drained per wait.
func NewWithCapacity(maxEvents int) (*Poll, error) {
	sel, err := NewSelector(maxEvents)
	if err != nil {
		return nil, err
	}
	return &Poll{registry: newRegistry(newSelectorRef(sel))}, nil
}

// Registry returns the shared registration front-end for this queue.
func (p *Poll) Registry() *Registry {
	return p.registry
}

// Poll blocks the calling thread until at least one registered source is
// ready or timeout elapses (negative means forever), and returns the
// drained events in OS order. The slice is empty on timeout.
func (p *Poll) Poll(timeout time.Duration) ([]Event, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.registry.ref.sel.Wait(timeout)
}

// Close releases the Poll's reference to the queue descriptor. Outstanding
// Registry clones keep the descriptor open until they close too.
func (p *Poll) Close() error {
	return p.registry.Close()
}
