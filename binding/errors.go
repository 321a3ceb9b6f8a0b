package binding

import (
	"errors"
	"fmt"

	"github.com/mkoppen/pulse/wire"
)

// ErrNoBackend is returned when a scope or binding is constructed without a
// backend client. This is a configuration error: bindings fail fast rather
// than silently operating against no backend.
var ErrNoBackend = errors.New("binding: no backend client configured")

// ErrScopeClosed is returned when constructing a binding on a closed scope.
var ErrScopeClosed = errors.New("binding: scope is closed")

// CallError wraps a failure from a one-shot mutation or action call. The
// same normalized error is stored in the binding state and returned to the
// caller, so consumers can poll the state or handle the return directly.
type CallError struct {
	// Fn is the function that failed.
	Fn wire.FunctionRef
	// Kind is "mutation" or "action".
	Kind wire.FunctionKind
	// Cause is the underlying failure.
	Cause error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s %s failed: %v", e.Kind, e.Fn, e.Cause)
}

func (e *CallError) Unwrap() error { return e.Cause }

// normalizeCallError wraps err into a *CallError unless it already is one.
func normalizeCallError(fn wire.FunctionRef, kind wire.FunctionKind, err error) error {
	if err == nil {
		return nil
	}
	var ce *CallError
	if errors.As(err, &ce) {
		return err
	}
	return &CallError{Fn: fn, Kind: kind, Cause: err}
}
