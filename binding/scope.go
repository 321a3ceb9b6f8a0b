// Package binding bridges a pulse backend client and the reactive runtime:
// query bindings keep one live subscription per argument set and reconcile
// its pushes with the client-local cache into a single coherent result, and
// call bindings wrap one-shot mutations/actions with observable state.
package binding

import (
	"context"
	"io"
	"sync"

	"github.com/mkoppen/pulse/client"
	"github.com/mkoppen/pulse/reactive"
	"github.com/mkoppen/pulse/wire"
)

// Backend is the narrow client surface the binding layer consumes.
// *client.Client implements it; tests substitute fakes.
type Backend interface {
	Subscribe(fn wire.FunctionRef, args wire.Args, onValue func(any), onError func(error)) (func(), error)
	LocalCacheRead(fn wire.FunctionRef, args wire.Args) (any, bool, error)
	Mutation(ctx context.Context, fn wire.FunctionRef, args wire.Args) (any, error)
	Action(ctx context.Context, fn wire.FunctionRef, args wire.Args) (any, error)
}

type stopper interface{ Stop() }

// Scope carries one backend client and one reactive runtime for a tree of
// bindings, standing in for provider/context injection: bindings receive the
// scope explicitly instead of discovering a client ambiently.
type Scope struct {
	backend Backend
	rt      *reactive.Runtime

	// owned is closed together with the scope when the scope constructed
	// the client itself (OpenScope).
	owned io.Closer

	mu       sync.Mutex
	bindings []stopper
	closed   bool
}

// NewScope creates a scope around an existing backend client. A nil backend
// fails fast with ErrNoBackend.
func NewScope(backend Backend) (*Scope, error) {
	if backend == nil {
		return nil, ErrNoBackend
	}
	return &Scope{
		backend: backend,
		rt:      reactive.NewRuntime(),
	}, nil
}

// OpenScope connects to the backend at url (sharing the process-wide client
// for that URL) and returns a scope that owns its reference: closing the
// scope releases the connection.
func OpenScope(url string, opts client.Options) (*Scope, error) {
	c, err := client.Connect(url, opts)
	if err != nil {
		return nil, err
	}
	s, err := NewScope(c)
	if err != nil {
		return nil, err
	}
	s.owned = c
	return s, nil
}

// Runtime exposes the scope's reactive runtime so applications can create
// signals and effects that cooperate with the bindings.
func (s *Scope) Runtime() *reactive.Runtime { return s.rt }

// Close stops every binding, shuts the runtime down, and releases the client
// if the scope owns it. Safe to call multiple times.
func (s *Scope) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	bindings := s.bindings
	s.bindings = nil
	s.mu.Unlock()

	for _, b := range bindings {
		b.Stop()
	}
	s.rt.Close()

	if s.owned != nil {
		_ = s.owned.Close()
	}
}

// register adds a binding to the scope's teardown list.
func (s *Scope) register(b stopper) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrScopeClosed
	}
	s.bindings = append(s.bindings, b)
	return nil
}
