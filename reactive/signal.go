package reactive

import "sync"

// source is the non-generic view of a signal used by effects to detach
// themselves from dependencies of arbitrary value types.
type source interface {
	removeSub(e *Effect)
}

// Signal is a value cell that effects can watch.
//
// Get is a snapshot read valid from any goroutine. Watch additionally
// registers the calling effect as a dependent and is only valid inside an
// effect run. Set applies on the loop and re-runs dependents regardless of
// value equality.
type Signal[T any] struct {
	rt *Runtime

	mu sync.RWMutex
	v  T

	// subs is loop-confined: only read or mutated from loop tasks.
	subs map[*Effect]struct{}
}

// NewSignal creates a signal owned by rt holding initial.
func NewSignal[T any](rt *Runtime, initial T) *Signal[T] {
	return &Signal[T]{
		rt:   rt,
		v:    initial,
		subs: make(map[*Effect]struct{}),
	}
}

// Get returns the current value without dependency tracking.
func (s *Signal[T]) Get() T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v
}

// Watch returns the current value and registers the running effect as a
// dependent, so it re-runs when the signal is set.
func (s *Signal[T]) Watch(t *Tracker) T {
	if t != nil && t.effect != nil {
		s.subs[t.effect] = struct{}{}
		t.effect.deps = append(t.effect.deps, s)
	}
	return s.Get()
}

// Set schedules an update to v on the loop and notifies dependents.
//
// Dependents are notified on every Set, even when v is deep-equal to the
// previous value; consumers that need equality cuts apply them downstream.
func (s *Signal[T]) Set(v T) {
	s.rt.Do(func() {
		s.mu.Lock()
		s.v = v
		s.mu.Unlock()
		s.notify()
	})
}

// Apply runs a read-modify-write on the loop like Update, but blocks until
// it has executed, so the caller observes the new value on return. Like
// Runtime.Run it must not be called from inside a loop task.
func (s *Signal[T]) Apply(fn func(T) T) {
	if fn == nil {
		return
	}
	s.rt.Run(func() {
		s.mu.Lock()
		s.v = fn(s.v)
		s.mu.Unlock()
		s.notify()
	})
}

// Update schedules a read-modify-write of the value as one loop task.
func (s *Signal[T]) Update(fn func(T) T) {
	if fn == nil {
		return
	}
	s.rt.Do(func() {
		s.mu.Lock()
		s.v = fn(s.v)
		s.mu.Unlock()
		s.notify()
	})
}

// notify runs on the loop.
func (s *Signal[T]) notify() {
	for e := range s.subs {
		e.schedule()
	}
}

// removeSub runs on the loop.
func (s *Signal[T]) removeSub(e *Effect) {
	delete(s.subs, e)
}
