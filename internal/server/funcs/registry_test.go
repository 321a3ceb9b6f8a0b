package funcs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mkoppen/pulse/wire"
)

func TestRegistryRejectsDuplicatesAndNilHandlers(t *testing.T) {
	r := NewRegistry()
	h := func(context.Context, *Env, wire.Args) (any, error) { return nil, nil }

	require.NoError(t, r.Register(wire.FunctionQuery, "channels:list", h))
	require.Error(t, r.Register(wire.FunctionQuery, "channels:list", h))
	require.Error(t, r.Register(wire.FunctionMutation, "channels:list", h))
	require.Error(t, r.Register(wire.FunctionQuery, "broken", nil))
}

func TestRegistryLookupChecksKind(t *testing.T) {
	r := NewRegistry()
	h := func(context.Context, *Env, wire.Args) (any, error) { return "ok", nil }
	require.NoError(t, r.Register(wire.FunctionMutation, "messages:send", h))

	_, err := r.Lookup(wire.FunctionMutation, "messages:send")
	require.NoError(t, err)

	_, err = r.Lookup(wire.FunctionQuery, "messages:send")
	require.Error(t, err)

	_, err = r.Lookup(wire.FunctionQuery, "missing")
	require.ErrorIs(t, err, ErrUnknownFunction)

	res, err := r.Invoke(context.Background(), nil, wire.FunctionMutation, "messages:send", nil)
	require.NoError(t, err)
	require.Equal(t, "ok", res)

	_, err = r.Invoke(context.Background(), nil, wire.FunctionAction, "messages:send", nil)
	require.Error(t, err)
}

func TestRegistryQueriesListsOnlyQueries(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, RegisterChat(r))

	queries := r.Queries()
	require.ElementsMatch(t, []wire.FunctionRef{"channels:list", "messages:list"}, queries)
}
