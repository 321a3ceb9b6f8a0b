// Package reactive provides a small single-threaded reactivity runtime:
// a serial task loop, value signals, and effects that re-run when the
// signals they watch change.
//
// All state mutations happen as tasks on one goroutine ("the loop"), so
// signal updates and effect runs never race with each other. Code running
// off the loop interacts through Do/Run and untracked signal reads.
package reactive

import "sync"

// Runtime owns the serial loop that executes all reactive work.
type Runtime struct {
	mu    sync.Mutex
	tasks []func()

	wake chan struct{}
	quit chan struct{}
	done chan struct{}

	closeOnce sync.Once
}

// NewRuntime creates a runtime and starts its loop goroutine.
func NewRuntime() *Runtime {
	r := &Runtime{
		wake: make(chan struct{}, 1),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go r.loop()
	return r
}

// Do enqueues fn onto the loop. It never blocks; tasks enqueued after Close
// are dropped.
func (r *Runtime) Do(fn func()) {
	if fn == nil {
		return
	}
	select {
	case <-r.quit:
		return
	default:
	}

	r.mu.Lock()
	r.tasks = append(r.tasks, fn)
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Run enqueues fn and waits until the loop has executed it.
//
// Run must not be called from inside a loop task; that would wait on the
// loop from the loop and deadlock. If the runtime is closed before fn runs,
// Run returns without executing it.
func (r *Runtime) Run(fn func()) {
	if fn == nil {
		return
	}
	ran := make(chan struct{})
	r.Do(func() {
		defer close(ran)
		fn()
	})
	select {
	case <-ran:
	case <-r.done:
	}
}

// Close stops the loop after the currently queued tasks drain. It is safe to
// call multiple times.
func (r *Runtime) Close() {
	r.closeOnce.Do(func() {
		close(r.quit)
		select {
		case r.wake <- struct{}{}:
		default:
		}
	})
	<-r.done
}

func (r *Runtime) loop() {
	defer close(r.done)
	for {
		r.mu.Lock()
		batch := r.tasks
		r.tasks = nil
		r.mu.Unlock()

		for _, fn := range batch {
			fn()
		}

		r.mu.Lock()
		pending := len(r.tasks)
		r.mu.Unlock()
		if pending > 0 {
			continue
		}

		select {
		case <-r.quit:
			// Drain whatever was enqueued before quit won the race.
			r.mu.Lock()
			rest := r.tasks
			r.tasks = nil
			r.mu.Unlock()
			for _, fn := range rest {
				fn()
			}
			return
		case <-r.wake:
		}
	}
}
