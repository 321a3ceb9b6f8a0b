package binding

import (
	"fmt"

	"github.com/mkoppen/pulse/reactive"
	"github.com/mkoppen/pulse/wire"
)

// QueryOptions configures a query binding.
type QueryOptions struct {
	// Enabled controls whether a subscription is held. nil means enabled.
	// While disabled the binding holds no subscription and exposes a
	// non-loading pending result.
	Enabled *bool
	// InitialData is exposed before any live or cached value has arrived,
	// for the very first argument set only. nil means none.
	InitialData any
	// KeepPreviousData exposes the previous argument set's value, tagged
	// stale, while a fetch for changed arguments is in flight.
	KeepPreviousData bool
}

func (o QueryOptions) enabled() bool {
	return o.Enabled == nil || *o.Enabled
}

// Bool is a convenience for QueryOptions.Enabled literals.
func Bool(b bool) *bool { return &b }

// Argument and option sources may be literals or accessors. Accessors are
// re-invoked on every reactive pass, never cached, so changes in the
// underlying reactive sources are observed; the tracked variants register
// the binding's effect as a dependent of the signals they read.

// argsResolver normalizes an args source into a per-pass resolver function.
func argsResolver(src any) (func(*reactive.Tracker) wire.Args, error) {
	switch v := src.(type) {
	case nil:
		return func(*reactive.Tracker) wire.Args { return nil }, nil
	case wire.Args:
		return func(*reactive.Tracker) wire.Args { return v }, nil
	case map[string]any:
		return func(*reactive.Tracker) wire.Args { return v }, nil
	case func() wire.Args:
		return func(*reactive.Tracker) wire.Args { return v() }, nil
	case func(*reactive.Tracker) wire.Args:
		return v, nil
	default:
		return nil, fmt.Errorf("binding: unsupported args source %T", src)
	}
}

// optionsResolver normalizes an options source into a per-pass resolver
// function. Absent options resolve to the defaults.
func optionsResolver(src any) (func(*reactive.Tracker) QueryOptions, error) {
	switch v := src.(type) {
	case nil:
		return func(*reactive.Tracker) QueryOptions { return QueryOptions{} }, nil
	case QueryOptions:
		return func(*reactive.Tracker) QueryOptions { return v }, nil
	case func() QueryOptions:
		return func(*reactive.Tracker) QueryOptions { return v() }, nil
	case func(*reactive.Tracker) QueryOptions:
		return v, nil
	default:
		return nil, fmt.Errorf("binding: unsupported options source %T", src)
	}
}
