package binding

import (
	"context"
	"sync"

	"github.com/mkoppen/pulse/reactive"
	"github.com/mkoppen/pulse/wire"
)

// CallState is the observable state of a mutation/action binding.
// After a completed call exactly one of Data/Err is set; both are unset
// before the first call and after Reset.
type CallState struct {
	// Data is the result of the last successful call when HasData is true.
	Data any
	// HasData distinguishes a nil result from no result.
	HasData bool
	// Err is the normalized failure of the last call, if it failed.
	Err error
	// IsLoading is true while a call is in flight.
	IsLoading bool
}

// CallBinding wraps a one-shot remote function with observable state.
// Mutations and actions share the same client contract; they differ only in
// the remote side-effect class.
type CallBinding struct {
	scope *Scope
	fn    wire.FunctionRef
	kind  wire.FunctionKind

	state *reactive.Signal[CallState]

	// gen guards in-flight completions against Reset and newer calls: a
	// completion only applies if the binding has not moved on since the
	// call started.
	mu  sync.Mutex
	gen uint64
}

// Mutation creates a binding that invokes the mutation function fn.
func Mutation(scope *Scope, fn wire.FunctionRef) (*CallBinding, error) {
	return newCallBinding(scope, fn, wire.FunctionMutation)
}

// Action creates a binding that invokes the action function fn.
func Action(scope *Scope, fn wire.FunctionRef) (*CallBinding, error) {
	return newCallBinding(scope, fn, wire.FunctionAction)
}

func newCallBinding(scope *Scope, fn wire.FunctionRef, kind wire.FunctionKind) (*CallBinding, error) {
	if scope == nil || scope.backend == nil {
		return nil, ErrNoBackend
	}
	b := &CallBinding{
		scope: scope,
		fn:    fn,
		kind:  kind,
		state: reactive.NewSignal(scope.rt, CallState{}),
	}
	if err := scope.register(b); err != nil {
		return nil, err
	}
	return b, nil
}

// Call invokes the remote function and blocks until it completes. The result
// (or the normalized error) is both stored in the binding state and returned,
// so callers can await the call directly or poll the accessors.
//
// Data from a previous call stays visible while the new call is in flight;
// a prior error is cleared immediately.
//
// Call blocks on the network and must not be invoked from inside an effect;
// it belongs on application goroutines.
func (b *CallBinding) Call(ctx context.Context, args wire.Args) (any, error) {
	b.mu.Lock()
	b.gen++
	g := b.gen
	b.mu.Unlock()

	b.applyIfCurrent(g, func(s CallState) CallState {
		s.IsLoading = true
		s.Err = nil
		return s
	})

	var res any
	var err error
	switch b.kind {
	case wire.FunctionAction:
		res, err = b.scope.backend.Action(ctx, b.fn, args)
	default:
		res, err = b.scope.backend.Mutation(ctx, b.fn, args)
	}

	if err != nil {
		err = normalizeCallError(b.fn, b.kind, err)
		b.applyIfCurrent(g, func(CallState) CallState {
			return CallState{Err: err}
		})
		return nil, err
	}

	b.applyIfCurrent(g, func(CallState) CallState {
		return CallState{Data: res, HasData: true}
	})
	return res, nil
}

// Data returns the last successful result, or nil.
func (b *CallBinding) Data() any { return b.state.Get().Data }

// Err returns the last call's normalized failure, or nil.
func (b *CallBinding) Err() error { return b.state.Get().Err }

// IsLoading reports whether a call is in flight.
func (b *CallBinding) IsLoading() bool { return b.state.Get().IsLoading }

// Snapshot returns the current state without dependency tracking.
func (b *CallBinding) Snapshot() CallState { return b.state.Get() }

// Watch returns the current state and registers the running effect as a
// dependent.
func (b *CallBinding) Watch(t *reactive.Tracker) CallState { return b.state.Watch(t) }

// Reset clears data and error and forces IsLoading to false. A call still in
// flight when Reset runs cannot resurrect the cleared state: its completion
// is dropped by the generation guard.
func (b *CallBinding) Reset() {
	b.mu.Lock()
	b.gen++
	b.mu.Unlock()
	b.state.Apply(func(CallState) CallState {
		return CallState{}
	})
}

// Stop makes the binding inert; any in-flight completion is dropped.
func (b *CallBinding) Stop() {
	b.mu.Lock()
	b.gen++
	b.mu.Unlock()
}

// applyIfCurrent mutates the state as one loop task unless the binding has
// moved past generation g. It blocks until the mutation has executed so
// Call's callers observe completion state on return.
func (b *CallBinding) applyIfCurrent(g uint64, fn func(CallState) CallState) {
	b.state.Apply(func(s CallState) CallState {
		b.mu.Lock()
		current := b.gen == g
		b.mu.Unlock()
		if !current {
			return s
		}
		return fn(s)
	})
}
