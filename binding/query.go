package binding

import (
	"github.com/mkoppen/pulse/reactive"
	"github.com/mkoppen/pulse/wire"
)

// Result is the externally visible state of a query binding at one instant.
// Value and Err are mutually exclusive.
type Result struct {
	// Value is the reconciled query result when HasValue is true.
	Value any
	// HasValue distinguishes a nil result from no result.
	HasValue bool
	// Err is the live subscription failure, if any.
	Err error
	// IsLoading is true while no value and no error are exposed for an
	// enabled binding.
	IsLoading bool
	// IsStale is true while Value is retained from a previous argument set.
	IsStale bool
}

// QueryBinding keeps one live subscription matching the current
// (function, arguments) pair and reconciles cache reads, live pushes, and
// initial data into a single Result.
type QueryBinding struct {
	scope  *Scope
	fn     wire.FunctionRef
	argsFn func(*reactive.Tracker) wire.Args
	optsFn func(*reactive.Tracker) QueryOptions

	refetch *reactive.Signal[uint64]
	result  *reactive.Signal[Result]
	effect  *reactive.Effect

	// Everything below is loop-confined: touched only from runtime tasks.

	// gen invalidates pushes from superseded subscriptions: callbacks carry
	// the generation they were created under and are dropped on mismatch.
	gen   uint64
	unsub func()

	curKey   string
	curArgs  wire.Args
	hasKey   bool
	firstKey string
	lastOpts QueryOptions

	// lastFetch records the refetch counter consumed by the previous pass.
	lastFetch uint64

	// version counts live pushes for the current argument set; everPushed
	// records whether any live push was ever received (initial data is
	// never exposed again once it is set).
	version    uint64
	everPushed bool
	liveVal    any
	hasLive    bool
	liveErr    error

	// prevVal retains the previous argument set's value for the
	// keep-previous-data policy until fresh data arrives.
	prevVal any
	hasPrev bool
}

// Query creates a reactive binding to the query function fn.
//
// args may be a wire.Args literal, nil, or an accessor (func() wire.Args or
// func(*reactive.Tracker) wire.Args); opts likewise for QueryOptions.
// Accessors are re-resolved on every pass, and tracked accessors make the
// binding re-evaluate when the signals they read change.
func Query(scope *Scope, fn wire.FunctionRef, args any, opts any) (*QueryBinding, error) {
	if scope == nil || scope.backend == nil {
		return nil, ErrNoBackend
	}
	argsFn, err := argsResolver(args)
	if err != nil {
		return nil, err
	}
	optsFn, err := optionsResolver(opts)
	if err != nil {
		return nil, err
	}

	q := &QueryBinding{
		scope:   scope,
		fn:      fn,
		argsFn:  argsFn,
		optsFn:  optsFn,
		refetch: reactive.NewSignal(scope.rt, uint64(0)),
		result:  reactive.NewSignal(scope.rt, Result{IsLoading: true}),
	}
	if err := scope.register(q); err != nil {
		return nil, err
	}
	q.effect = scope.rt.NewEffect(q.sync)
	return q, nil
}

// Snapshot returns the current result without dependency tracking.
func (q *QueryBinding) Snapshot() Result { return q.result.Get() }

// Watch returns the current result and registers the running effect as a
// dependent. Dependents re-run on every live push, even when the pushed
// value is deep-equal to the previous one.
func (q *QueryBinding) Watch(t *reactive.Tracker) Result { return q.result.Watch(t) }

// Data returns the reconciled value, or nil when none is exposed.
func (q *QueryBinding) Data() any { return q.result.Get().Value }

// Err returns the live subscription failure, or nil.
func (q *QueryBinding) Err() error { return q.result.Get().Err }

// IsLoading reports whether no value and no error are exposed yet.
func (q *QueryBinding) IsLoading() bool { return q.result.Get().IsLoading }

// IsStale reports whether the exposed value belongs to a previous argument set.
func (q *QueryBinding) IsStale() bool { return q.result.Get().IsStale }

// Refetch tears the current subscription down and re-establishes it for the
// same arguments. The current value stays exposed while the fresh result is
// in flight.
func (q *QueryBinding) Refetch() {
	q.refetch.Update(func(v uint64) uint64 { return v + 1 })
}

// Stop releases the subscription and stops reacting. Idempotent.
func (q *QueryBinding) Stop() {
	if q.effect != nil {
		q.effect.Stop()
	}
	q.scope.rt.Run(func() {
		q.teardown()
	})
}

// sync is the binding's effect body; it runs on the loop.
func (q *QueryBinding) sync(t *reactive.Tracker) {
	fetch := q.refetch.Watch(t)
	opts := q.optsFn(t)
	args := q.argsFn(t)
	q.lastOpts = opts

	forced := fetch != q.lastFetch
	q.lastFetch = fetch

	if !opts.enabled() {
		// Tear down and forget live state: re-enabling starts from
		// pending (or a cache hit), never from retained pushes.
		q.teardown()
		q.resetLive()
		q.hasPrev = false
		q.prevVal = nil
		q.publish()
		return
	}

	key, err := wire.SubscriptionKey(q.fn, args)
	if err != nil {
		q.teardown()
		q.resetLive()
		q.liveErr = err
		q.publish()
		return
	}

	changed := !q.hasKey || key != q.curKey
	if changed || forced || q.unsub == nil {
		// Old subscription goes first so nothing from the stale argument
		// set can reach this binding's state after the change.
		q.teardown()

		if changed {
			if q.hasLive && opts.KeepPreviousData {
				q.prevVal = q.liveVal
				q.hasPrev = true
			}
			if !q.hasKey {
				q.firstKey = key
			}
			q.resetLive()
			q.curKey = key
			q.hasKey = true
		}
		q.curArgs = args
		q.subscribe(args)
	}

	q.publish()
}

// subscribe establishes a new subscription under a fresh generation. Push
// callbacks hop onto the loop and are dropped if the generation has moved on
// in the meantime.
func (q *QueryBinding) subscribe(args wire.Args) {
	q.gen++
	g := q.gen
	unsub, err := q.scope.backend.Subscribe(q.fn, args,
		func(v any) {
			q.scope.rt.Do(func() { q.applyValue(g, v) })
		},
		func(e error) {
			q.scope.rt.Do(func() { q.applyError(g, e) })
		},
	)
	if err != nil {
		// Failed setup surfaces like a failure push for these arguments.
		q.liveErr = err
		return
	}
	q.unsub = unsub
}

// teardown releases the current subscription (exactly once) and invalidates
// in-flight push callbacks.
func (q *QueryBinding) teardown() {
	q.gen++
	if q.unsub != nil {
		q.unsub()
		q.unsub = nil
	}
}

func (q *QueryBinding) resetLive() {
	q.version = 0
	q.liveVal = nil
	q.hasLive = false
	q.liveErr = nil
}

// applyValue runs on the loop: value, error, and version move as one update.
func (q *QueryBinding) applyValue(gen uint64, v any) {
	if gen != q.gen {
		return
	}
	q.version++
	q.everPushed = true
	q.liveVal = v
	q.hasLive = true
	q.liveErr = nil
	q.hasPrev = false
	q.prevVal = nil
	q.publish()
}

// applyError runs on the loop.
func (q *QueryBinding) applyError(gen uint64, e error) {
	if gen != q.gen {
		return
	}
	q.version++
	q.everPushed = true
	q.liveVal = nil
	q.hasLive = false
	q.liveErr = e
	q.hasPrev = false
	q.prevVal = nil
	q.publish()
}

// publish reconciles the candidate sources into the exposed result:
// local cache read, then live push state, then initial data, then retained
// previous data, then pending. Runs on the loop.
func (q *QueryBinding) publish() {
	opts := q.lastOpts

	if !opts.enabled() {
		q.result.Set(Result{})
		return
	}

	// The cache read is a latency optimization only: it is consulted before
	// the first push for the current arguments and never overrides live
	// data. Lookup failures count as a miss.
	if q.version == 0 && q.liveErr == nil {
		if v, ok, err := q.scope.backend.LocalCacheRead(q.fn, q.curArgs); err == nil && ok {
			q.result.Set(Result{Value: v, HasValue: true})
			return
		}
	}

	switch {
	case q.liveErr != nil:
		q.result.Set(Result{Err: q.liveErr})
	case q.hasLive:
		q.result.Set(Result{Value: q.liveVal, HasValue: true})
	case q.initialAllowed():
		q.result.Set(Result{Value: opts.InitialData, HasValue: true})
	case opts.KeepPreviousData && q.hasPrev:
		q.result.Set(Result{Value: q.prevVal, HasValue: true, IsStale: true})
	default:
		q.result.Set(Result{IsLoading: true})
	}
}

// initialAllowed reports whether the caller-supplied initial value may be
// exposed: only for the first argument set, only before any live push.
func (q *QueryBinding) initialAllowed() bool {
	return q.lastOpts.InitialData != nil &&
		!q.everPushed &&
		q.hasKey &&
		q.curKey == q.firstKey
}
