// Package funcs holds the server-side function registry: named queries,
// mutations, and actions that clients subscribe to or call over the socket.
package funcs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mkoppen/pulse/internal/server/store"
	"github.com/mkoppen/pulse/wire"
)

// ErrUnknownFunction is returned when no handler is registered for a name.
var ErrUnknownFunction = errors.New("funcs: unknown function")

// Env carries the per-call dependencies a handler needs.
type Env struct {
	Store    *store.Store
	Presence *store.Presence
	// Account is the authenticated caller.
	Account store.Account
	Now     func() time.Time
	NewID   func() string
}

// Handler implements one named function. Query handlers must be pure reads:
// they are re-evaluated after every mutation to compute pushes.
type Handler func(ctx context.Context, env *Env, args wire.Args) (any, error)

type entry struct {
	kind    wire.FunctionKind
	handler Handler
}

// Registry maps function names to handlers, each under exactly one kind.
type Registry struct {
	mu      sync.RWMutex
	entries map[wire.FunctionRef]entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[wire.FunctionRef]entry)}
}

// Register binds fn to h under the given kind. Registering a name twice is
// an error.
func (r *Registry) Register(kind wire.FunctionKind, fn wire.FunctionRef, h Handler) error {
	if h == nil {
		return fmt.Errorf("funcs: nil handler for %s", fn)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[fn]; ok {
		return fmt.Errorf("funcs: %s already registered", fn)
	}
	r.entries[fn] = entry{kind: kind, handler: h}
	return nil
}

// Lookup returns the handler for fn, verifying the caller's expected kind.
func (r *Registry) Lookup(kind wire.FunctionKind, fn wire.FunctionRef) (Handler, error) {
	r.mu.RLock()
	e, ok := r.entries[fn]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFunction, fn)
	}
	if e.kind != kind {
		return nil, fmt.Errorf("funcs: %s is a %s, not a %s", fn, e.kind, kind)
	}
	return e.handler, nil
}

// Invoke looks the handler up and runs it.
func (r *Registry) Invoke(ctx context.Context, env *Env, kind wire.FunctionKind, fn wire.FunctionRef, args wire.Args) (any, error) {
	h, err := r.Lookup(kind, fn)
	if err != nil {
		return nil, err
	}
	return h(ctx, env, args)
}

// Queries returns the names of all registered query functions.
func (r *Registry) Queries() []wire.FunctionRef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []wire.FunctionRef
	for fn, e := range r.entries {
		if e.kind == wire.FunctionQuery {
			out = append(out, fn)
		}
	}
	return out
}
