package runtime

import (
	"sync"

	"github.com/eapache/queue"
	"go.uber.org/zap"

	"github.com/fzft/go-mini-reactor/log"
)

// readyQueue is the unbounded channel between wakers (producers, typically
// on the reactor thread) and the executor (consumer). Ids already queued
// coalesce, so N wakes between two polls of a task cost one resumption.
type readyQueue struct {
	mu     sync.Mutex
	fifo   *queue.Queue
	queued map[uint64]struct{}
	closed bool

	// 1-buffered: a pending token is enough, pop re-checks the fifo
	wakeCh chan struct{}
}

func newReadyQueue() *readyQueue {
	return &readyQueue{
		fifo:   queue.New(),
		queued: make(map[uint64]struct{}),
		wakeCh: make(chan struct{}, 1),
	}
}

// push enqueues id and unparks the consumer. Reports false once the queue
// has been closed.
func (q *readyQueue) push(id uint64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	if _, dup := q.queued[id]; dup {
		// coalesce: the task is already due for one more poll
		return true
	}

	q.queued[id] = struct{}{}
	q.fifo.Add(id)

	select {
	case q.wakeCh <- struct{}{}:
	default:
	}
	return true
}

// pop parks the caller until an id is available or the queue closes.
func (q *readyQueue) pop() (uint64, bool) {
	for {
		q.mu.Lock()
		if q.fifo.Length() > 0 {
			id := q.fifo.Remove().(uint64)
			delete(q.queued, id)
			q.mu.Unlock()
			return id, true
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return 0, false
		}
		<-q.wakeCh
	}
}

func (q *readyQueue) close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()
	close(q.wakeCh)
}

// Waker marks one task ready and unparks its executor. It decouples the
// reactor from executor internals: all the reactor ever holds is this
// handle. Copies are equivalent and safe to invoke from any goroutine.
type Waker struct {
	id    uint64
	ready *readyQueue
}

// Wake pushes the waker's task id onto the executor's ready queue. Waking a
// task whose executor has already shut down is a no-op.
func (w *Waker) Wake() {
	if !w.ready.push(w.id) {
		log.Logger.Debug("wake after executor shutdown", zap.Uint64("task", w.id))
	}
}
