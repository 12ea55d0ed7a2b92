package runtime

import "io"

// PollState is the outcome of driving a future one step: either it
// completed with a value, or it arranged to be woken and yields.
type PollState struct {
	Value any
	Ready bool
}

// Ready wraps a completed value. A future's own failure value travels the
// same way as a success; the runtime imposes no error type on task results.
func Ready(v any) PollState {
	return PollState{Value: v, Ready: true}
}

// NotReady is the suspended state. A future returning it must have stashed
// the waker somewhere that will eventually call Wake, or it is never
// resumed.
var NotReady = PollState{}

// Future is the pollable unit of work: an explicit state machine with one
// tagged state per suspension point. Poll resumes it from where it last
// yielded. A future that also implements io.Closer is closed when its task
// is cancelled or its executor shuts down, which is its chance to
// deregister outstanding interest.
type Future interface {
	Poll(w *Waker) PollState
}

type joinEntry struct {
	fut  Future
	done bool
}

type joinAll struct {
	entries  []joinEntry
	finished int
}

// JoinAll combines futures into one that completes when all of them have.
// Each inner poll passes the parent waker down, so whichever child becomes
// ready wakes the combined task and every unfinished child is re-polled.
func JoinAll(futures ...Future) Future {
	entries := make([]joinEntry, len(futures))
	for i, f := range futures {
		entries[i] = joinEntry{fut: f}
	}
	return &joinAll{entries: entries}
}

func (j *joinAll) Poll(w *Waker) PollState {
	for i := range j.entries {
		if j.entries[i].done {
			continue
		}
		if st := j.entries[i].fut.Poll(w); st.Ready {
			j.entries[i].done = true
			j.finished++
		}
	}

	if j.finished == len(j.entries) {
		return Ready(nil)
	}
	return NotReady
}

func (j *joinAll) Close() error {
	var firstErr error
	for i := range j.entries {
		if j.entries[i].done {
			continue
		}
		if c, ok := j.entries[i].fut.(io.Closer); ok {
			if err := c.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
