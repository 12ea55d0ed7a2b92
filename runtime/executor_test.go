//go:build linux
// +build linux

package runtime

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/fzft/go-mini-reactor/poller"
)

type futureFunc func(w *Waker) PollState

func (f futureFunc) Poll(w *Waker) PollState { return f(w) }

func newTestRuntime(t *testing.T) *Runtime {
	t.Helper()

	rt, err := New(DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(rt.Shutdown)
	return rt
}

func TestImmediatelyReadyFuture(t *testing.T) {
	rt := newTestRuntime(t)

	var polls int32
	f := futureFunc(func(w *Waker) PollState {
		atomic.AddInt32(&polls, 1)
		return Ready(42)
	})

	v := rt.BlockOn(f)
	assert.Equal(t, 42, v, "completion should deliver the future's value")
	assert.Equal(t, int32(1), atomic.LoadInt32(&polls), "an eagerly-completing future is polled exactly once")

	// it never suspended, so the ready queue was never involved
	rt.exec.ready.mu.Lock()
	queued := rt.exec.ready.fifo.Length()
	rt.exec.ready.mu.Unlock()
	assert.Zero(t, queued)
}

// sourceFuture registers read interest on its first poll and completes on
// the second, once readiness woke it.
type sourceFuture struct {
	reactor    *Reactor
	fd         int
	id         uint64
	polls      int32
	registered bool
	closed     int32
}

func (f *sourceFuture) Fd() int { return f.fd }

func (f *sourceFuture) Poll(w *Waker) PollState {
	atomic.AddInt32(&f.polls, 1)

	if !f.registered {
		f.id = f.reactor.NextID()
		if err := f.reactor.Register(f, poller.Readable, f.id); err != nil {
			return Ready(err)
		}
		f.reactor.SetWaker(w, f.id)
		f.registered = true
		return NotReady
	}

	buf := make([]byte, 16)
	if _, err := unix.Read(f.fd, buf); err == unix.EAGAIN {
		// woken for a sibling's readiness (e.g. under JoinAll);
		// re-arm and keep waiting
		f.reactor.SetWaker(w, f.id)
		return NotReady
	}

	f.reactor.Deregister(f, f.id)
	return Ready("woken")
}

func (f *sourceFuture) Close() error {
	atomic.StoreInt32(&f.closed, 1)
	if f.registered {
		f.reactor.Deregister(f, f.id)
	}
	return nil
}

func TestSuspendedFutureResumesOnReadiness(t *testing.T) {
	rt := newTestRuntime(t)
	a, b := socketPair(t)

	f := &sourceFuture{reactor: rt.Reactor(), fd: a}

	go func() {
		time.Sleep(100 * time.Millisecond)
		unix.Write(b, []byte("x"))
	}()

	start := time.Now()
	v := rt.BlockOn(f)
	elapsed := time.Since(start)

	assert.Equal(t, "woken", v)
	assert.Equal(t, int32(2), atomic.LoadInt32(&f.polls),
		"one poll to suspend, one to complete after the wake, nothing in between")
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond, "completion cannot beat the readiness")
	assert.Less(t, elapsed, time.Second, "resumption should follow the wake promptly, not a busy-loop timeout")
}

func TestCancelRemovesTask(t *testing.T) {
	rt := newTestRuntime(t)

	var wakerSlot atomic.Value
	var closed int32
	f := &closablePending{wakerSlot: &wakerSlot, closed: &closed}

	h := rt.Spawn(f)
	h.Cancel()

	assert.Equal(t, int32(1), atomic.LoadInt32(&closed), "cancelling must close the future")

	// a wake that was already in flight for the cancelled task is a no-op
	if w, ok := wakerSlot.Load().(*Waker); ok {
		w.Wake()
	}

	select {
	case v := <-h.Result():
		t.Fatalf("cancelled task must not deliver a result, got %v", v)
	case <-time.After(200 * time.Millisecond):
	}
}

type closablePending struct {
	wakerSlot *atomic.Value
	closed    *int32
}

func (f *closablePending) Poll(w *Waker) PollState {
	f.wakerSlot.Store(w)
	return NotReady
}

func (f *closablePending) Close() error {
	atomic.AddInt32(f.closed, 1)
	return nil
}

func TestShutdownDropsPendingTasks(t *testing.T) {
	rt, err := New(DefaultConfig())
	require.NoError(t, err)

	var wakerSlot atomic.Value
	var closed int32
	rt.Spawn(&closablePending{wakerSlot: &wakerSlot, closed: &closed})

	rt.Shutdown()

	assert.Equal(t, int32(1), atomic.LoadInt32(&closed), "shutdown must close dropped futures")

	// producers holding stale wakers must not panic after teardown
	if w, ok := wakerSlot.Load().(*Waker); ok {
		assert.NotPanics(t, func() { w.Wake() })
	}
}

// slowClosable records whether Close ever overlapped a running Poll.
type slowClosable struct {
	polling         int32
	observedPolling int32
	closed          int32
}

func (f *slowClosable) Poll(w *Waker) PollState {
	atomic.StoreInt32(&f.polling, 1)
	time.Sleep(300 * time.Millisecond)
	atomic.StoreInt32(&f.polling, 0)
	return NotReady
}

func (f *slowClosable) Close() error {
	atomic.StoreInt32(&f.observedPolling, atomic.LoadInt32(&f.polling))
	atomic.AddInt32(&f.closed, 1)
	return nil
}

func TestShutdownWaitsOutInFlightPoll(t *testing.T) {
	rt, err := New(DefaultConfig())
	require.NoError(t, err)

	f := &slowClosable{}
	go rt.Spawn(f)

	// shut down while the eager first poll is still sleeping
	time.Sleep(50 * time.Millisecond)
	rt.Shutdown()

	assert.Equal(t, int32(1), atomic.LoadInt32(&f.closed), "shutdown must still close the dropped future")
	assert.Zero(t, atomic.LoadInt32(&f.observedPolling),
		"Close must not run while the future's Poll is still in flight")
}

func TestSpawnAfterShutdown(t *testing.T) {
	rt, err := New(DefaultConfig())
	require.NoError(t, err)
	rt.Shutdown()

	h := rt.Spawn(futureFunc(func(w *Waker) PollState { return Ready(1) }))

	select {
	case v := <-h.Result():
		assert.Equal(t, ErrExecutorClosed, v)
	case <-time.After(time.Second):
		t.Fatal("spawn on a closed executor should resolve immediately")
	}
}

func TestJoinAllCompletesWhenAllChildrenDo(t *testing.T) {
	rt := newTestRuntime(t)
	a1, b1 := socketPair(t)
	a2, b2 := socketPair(t)

	f1 := &sourceFuture{reactor: rt.Reactor(), fd: a1}
	f2 := &sourceFuture{reactor: rt.Reactor(), fd: a2}

	go func() {
		time.Sleep(50 * time.Millisecond)
		unix.Write(b1, []byte("x"))
		time.Sleep(50 * time.Millisecond)
		unix.Write(b2, []byte("x"))
	}()

	v := rt.BlockOn(JoinAll(f1, f2))
	assert.Nil(t, v, "join resolves once every child has")
	assert.GreaterOrEqual(t, atomic.LoadInt32(&f1.polls), int32(2))
	assert.GreaterOrEqual(t, atomic.LoadInt32(&f2.polls), int32(2))
}
