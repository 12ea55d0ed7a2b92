package runtime

// Runtime wires a reactor and an executor together and runs each on its own
// goroutine: the reactor blocks in the event wait, the executor parks on
// its ready queue.
type Runtime struct {
	reactor  *Reactor
	exec     *Executor
	execDone chan struct{}
}

func New(cfg Config) (*Runtime, error) {
	r, err := NewReactor(cfg)
	if err != nil {
		return nil, err
	}

	rt := &Runtime{
		reactor:  r,
		exec:     NewExecutor(r),
		execDone: make(chan struct{}),
	}

	go rt.reactor.Run()
	go func() {
		defer close(rt.execDone)
		rt.exec.Run()
	}()

	return rt, nil
}

// Reactor exposes the reactor so leaf futures can register interest and
// park their wakers.
func (rt *Runtime) Reactor() *Reactor {
	return rt.reactor
}

func (rt *Runtime) Spawn(f Future) *TaskHandle {
	return rt.exec.Spawn(f)
}

// BlockOn spawns the future and blocks until it completes, returning its
// value.
func (rt *Runtime) BlockOn(f Future) any {
	return <-rt.Spawn(f).Result()
}

// Shutdown drops remaining tasks, stops both loops and waits for them.
func (rt *Runtime) Shutdown() {
	rt.exec.Shutdown()
	<-rt.execDone
	<-rt.reactor.Done()
}
