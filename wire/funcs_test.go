package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanonicalArgs_Empty(t *testing.T) {
	canon, err := CanonicalArgs(nil)
	require.NoError(t, err)
	require.Equal(t, "{}", canon)

	canon2, err := CanonicalArgs(Args{})
	require.NoError(t, err)
	require.Equal(t, canon, canon2)
}

func TestCanonicalArgs_KeyOrderIndependent(t *testing.T) {
	a, err := CanonicalArgs(Args{"channel": "general", "limit": 10})
	require.NoError(t, err)
	b, err := CanonicalArgs(Args{"limit": 10, "channel": "general"})
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestCanonicalArgs_StructCollapsesToMap(t *testing.T) {
	type listArgs struct {
		Channel string `json:"channel"`
		Limit   int    `json:"limit"`
	}
	a, err := CanonicalArgs(Args{"q": listArgs{Channel: "general", Limit: 10}})
	require.NoError(t, err)
	b, err := CanonicalArgs(Args{"q": map[string]any{"channel": "general", "limit": 10}})
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestCanonicalArgs_DistinguishesValues(t *testing.T) {
	a, err := CanonicalArgs(Args{"channel": "general"})
	require.NoError(t, err)
	b, err := CanonicalArgs(Args{"channel": "random"})
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestSubscriptionKey_IncludesFunction(t *testing.T) {
	a, err := SubscriptionKey("messages:list", Args{"channel": "general"})
	require.NoError(t, err)
	b, err := SubscriptionKey("messages:count", Args{"channel": "general"})
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestNormalizeValue(t *testing.T) {
	v, err := NormalizeValue(nil)
	require.NoError(t, err)
	require.Nil(t, v)

	type msg struct {
		Text string `json:"text"`
	}
	norm, err := NormalizeValue([]msg{{Text: "hi"}})
	require.NoError(t, err)
	require.Equal(t, []any{map[string]any{"text": "hi"}}, norm)

	// Numbers normalize to float64, matching decoded push payloads.
	n, err := NormalizeValue(10)
	require.NoError(t, err)
	require.Equal(t, float64(10), n)
}

func TestDecodeAny(t *testing.T) {
	var p SubscribePayload
	err := DecodeAny(map[string]any{
		"sub":  "s1",
		"fn":   "messages:list",
		"args": map[string]any{"channel": "general"},
	}, &p)
	require.NoError(t, err)
	require.Equal(t, "s1", p.Sub)
	require.Equal(t, FunctionRef("messages:list"), p.Fn)
	require.Equal(t, Args{"channel": "general"}, p.Args)
}
