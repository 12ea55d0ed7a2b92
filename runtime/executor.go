package runtime

import (
	"errors"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/fzft/go-mini-reactor/log"
)

// ErrExecutorClosed is delivered as a task's result when it was spawned on
// an executor that has already shut down.
var ErrExecutorClosed = errors.New("executor closed")

type task struct {
	id     uint64
	fut    Future
	handle *TaskHandle

	// serializes polls of this task: a task is never polled concurrently
	// with itself, no matter how wakes and spawns interleave
	pollMu sync.Mutex
}

// TaskHandle is the submitter's side of a spawned task.
type TaskHandle struct {
	id     uint64
	exec   *Executor
	result chan any
}

// Result yields the future's completion value exactly once. Failure values
// arrive the same way as successes.
func (h *TaskHandle) Result() <-chan any {
	return h.result
}

// Cancel removes the task best-effort: it is dropped from the executor, its
// future is closed (deregistering any outstanding interest), and in-flight
// wakes for it become no-ops. Cancelling a completed task does nothing.
func (h *TaskHandle) Cancel() {
	h.exec.cancel(h.id)
}

// Executor owns the task set and drives every task to completion. Tasks are
// resumed only when a waker says so; the executor parks between wakes
// instead of busy-polling.
type Executor struct {
	reactor *Reactor
	ready   *readyQueue

	mu     sync.Mutex
	tasks  map[uint64]*task
	closed bool
}

func NewExecutor(r *Reactor) *Executor {
	return &Executor{
		reactor: r,
		ready:   newReadyQueue(),
		tasks:   make(map[uint64]*task),
	}
}

// Spawn wraps the future as a task and polls it once synchronously, so a
// future that completes without suspending never touches the ready queue.
func (e *Executor) Spawn(f Future) *TaskHandle {
	id := e.reactor.NextID()
	h := &TaskHandle{id: id, exec: e, result: make(chan any, 1)}
	t := &task{id: id, fut: f, handle: h}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		closeFuture(f)
		h.result <- ErrExecutorClosed
		return h
	}
	// the task must be visible before the first poll: the poll may
	// register interest, and the event can fire before it returns
	e.tasks[id] = t
	e.mu.Unlock()

	e.pollTask(t)
	return h
}

// Run processes the ready queue until Shutdown. It blocks the calling
// goroutine, parking whenever no task is ready.
func (e *Executor) Run() {
	for {
		id, ok := e.ready.pop()
		if !ok {
			return
		}

		e.mu.Lock()
		t, ok := e.tasks[id]
		e.mu.Unlock()
		if !ok {
			// cancelled or completed between wake and pop
			log.Logger.Debug("stale wakeup dropped", zap.Uint64("task", id))
			continue
		}
		e.pollTask(t)
	}
}

func (e *Executor) pollTask(t *task) {
	t.pollMu.Lock()
	defer t.pollMu.Unlock()

	// the task may have been cancelled while we waited for the poll lock
	e.mu.Lock()
	_, live := e.tasks[t.id]
	e.mu.Unlock()
	if !live {
		return
	}

	w := &Waker{id: t.id, ready: e.ready}
	st := t.fut.Poll(w)
	if !st.Ready {
		// the future has registered interest and stashed the waker;
		// the task stays parked until that fires
		return
	}

	e.mu.Lock()
	_, live = e.tasks[t.id]
	delete(e.tasks, t.id)
	e.mu.Unlock()

	if live {
		t.handle.result <- st.Value
	}
}

func (e *Executor) cancel(id uint64) {
	e.mu.Lock()
	t, ok := e.tasks[id]
	delete(e.tasks, id)
	e.mu.Unlock()
	if !ok {
		return
	}

	// wait out any in-flight poll before tearing the future down
	t.pollMu.Lock()
	t.pollMu.Unlock()

	closeFuture(t.fut)
	log.Logger.Debug("task cancelled", zap.Uint64("task", id))
}

// Shutdown stops accepting wakeups, drops the remaining tasks and stops the
// reactor.
func (e *Executor) Shutdown() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	remaining := make([]*task, 0, len(e.tasks))
	for _, t := range e.tasks {
		remaining = append(remaining, t)
	}
	e.tasks = make(map[uint64]*task)
	e.mu.Unlock()

	e.ready.close()

	for _, t := range remaining {
		// wait out any in-flight poll; a future must never observe its
		// own Close while a Poll is still running
		t.pollMu.Lock()
		closeFuture(t.fut)
		t.pollMu.Unlock()
	}
	if len(remaining) > 0 {
		log.Logger.Info("dropped unfinished tasks", zap.Int("count", len(remaining)))
	}

	e.reactor.Stop()
}

// closeFuture gives a dropped future its teardown hook, which is where it
// deregisters interest and releases its source.
func closeFuture(f Future) {
	if c, ok := f.(io.Closer); ok {
		if err := c.Close(); err != nil {
			log.Logger.Debug("future close failed", zap.Error(err))
		}
	}
}
