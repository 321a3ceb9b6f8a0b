package reactive

// Tracker is handed to an effect function for the duration of one run. It
// registers dependencies (via Signal.Watch) and per-run cleanups.
type Tracker struct {
	effect *Effect
}

// OnCleanup registers fn to run before the effect's next run and when the
// effect is stopped. Cleanups run in reverse registration order.
func (t *Tracker) OnCleanup(fn func()) {
	if t == nil || t.effect == nil || fn == nil {
		return
	}
	t.effect.cleanups = append(t.effect.cleanups, fn)
}

// Effect re-runs a function whenever one of the signals it watched during
// its previous run is set.
type Effect struct {
	rt *Runtime
	fn func(*Tracker)

	// Loop-confined state.
	deps      []source
	cleanups  []func()
	scheduled bool
	stopped   bool
}

// NewEffect creates the effect and blocks until its first run completes on
// the loop, so state established by the effect is visible to the caller.
//
// Must not be called from inside a loop task (see Runtime.Run).
func (r *Runtime) NewEffect(fn func(*Tracker)) *Effect {
	e := &Effect{rt: r, fn: fn}
	r.Run(e.run)
	return e
}

// Stop prevents any further runs and executes pending cleanups. It is safe
// to call multiple times and from any goroutine; it returns once the
// teardown has executed on the loop.
func (e *Effect) Stop() {
	e.rt.Run(func() {
		if e.stopped {
			return
		}
		e.stopped = true
		e.flushCleanups()
		e.detach()
	})
}

// schedule runs on the loop.
func (e *Effect) schedule() {
	if e.stopped || e.scheduled {
		return
	}
	e.scheduled = true
	e.rt.Do(e.run)
}

// run runs on the loop.
func (e *Effect) run() {
	if e.stopped {
		return
	}
	e.scheduled = false
	e.flushCleanups()
	e.detach()
	e.fn(&Tracker{effect: e})
}

// flushCleanups runs on the loop.
func (e *Effect) flushCleanups() {
	cleanups := e.cleanups
	e.cleanups = nil
	for i := len(cleanups) - 1; i >= 0; i-- {
		cleanups[i]()
	}
}

// detach runs on the loop.
func (e *Effect) detach() {
	for _, s := range e.deps {
		s.removeSub(e)
	}
	e.deps = nil
}
