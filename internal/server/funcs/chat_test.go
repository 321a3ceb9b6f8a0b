package funcs

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mkoppen/pulse/internal/server/database"
	"github.com/mkoppen/pulse/internal/server/store"
	"github.com/mkoppen/pulse/wire"
)

func newChatEnv(t *testing.T) (*Registry, *Env) {
	t.Helper()
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s := store.New(db.DB)
	now := time.UnixMilli(1_700_000_000_000)

	hash, err := store.HashSecret("hunter2")
	require.NoError(t, err)
	account := store.Account{ID: "a1", Handle: "mira", SecretHash: hash, CreatedAt: now}
	require.NoError(t, s.CreateAccount(context.Background(), account))

	ids := 0
	env := &Env{
		Store:    s,
		Presence: store.NewPresence(func() time.Time { return now }),
		Account:  account,
		Now:      func() time.Time { return now },
		NewID: func() string {
			ids++
			return fmt.Sprintf("id-%d", ids)
		},
	}

	r := NewRegistry()
	require.NoError(t, RegisterChat(r))
	return r, env
}

func TestChannelsCreateIsIdempotent(t *testing.T) {
	r, env := newChatEnv(t)
	ctx := context.Background()

	res, err := r.Invoke(ctx, env, wire.FunctionMutation, "channels:create", wire.Args{"name": "general"})
	require.NoError(t, err)
	require.Equal(t, ChannelView{Name: "general", CreatedBy: "mira"}, res)

	// Creating it again returns the existing channel instead of failing.
	_, err = r.Invoke(ctx, env, wire.FunctionMutation, "channels:create", wire.Args{"name": "general"})
	require.NoError(t, err)

	res, err = r.Invoke(ctx, env, wire.FunctionQuery, "channels:list", nil)
	require.NoError(t, err)
	require.Len(t, res.([]ChannelView), 1)

	_, err = r.Invoke(ctx, env, wire.FunctionMutation, "channels:create", wire.Args{"name": "  "})
	require.Error(t, err)
}

func TestMessagesSendAndList(t *testing.T) {
	r, env := newChatEnv(t)
	ctx := context.Background()

	_, err := r.Invoke(ctx, env, wire.FunctionMutation, "channels:create", wire.Args{"name": "general"})
	require.NoError(t, err)

	res, err := r.Invoke(ctx, env, wire.FunctionMutation, "messages:send", wire.Args{"channel": "general", "text": "hello"})
	require.NoError(t, err)
	sent := res.(MessageView)
	require.Equal(t, int64(1), sent.Seq)
	require.Equal(t, "mira", sent.Author)
	require.Equal(t, "hello", sent.Text)

	_, err = r.Invoke(ctx, env, wire.FunctionMutation, "messages:send", wire.Args{"channel": "general", "text": "again"})
	require.NoError(t, err)

	res, err = r.Invoke(ctx, env, wire.FunctionQuery, "messages:list", wire.Args{"channel": "general"})
	require.NoError(t, err)
	msgs := res.([]MessageView)
	require.Len(t, msgs, 2)
	require.Equal(t, "hello", msgs[0].Text)
	require.Equal(t, "again", msgs[1].Text)
	require.Equal(t, int64(2), msgs[1].Seq)
}

func TestMessagesRequireExistingChannel(t *testing.T) {
	r, env := newChatEnv(t)
	ctx := context.Background()

	_, err := r.Invoke(ctx, env, wire.FunctionMutation, "messages:send", wire.Args{"channel": "nope", "text": "x"})
	require.ErrorContains(t, err, "not found")

	_, err = r.Invoke(ctx, env, wire.FunctionQuery, "messages:list", wire.Args{"channel": "nope"})
	require.ErrorContains(t, err, "not found")

	_, err = r.Invoke(ctx, env, wire.FunctionMutation, "messages:send", wire.Args{"channel": "nope"})
	require.ErrorContains(t, err, "text is required")
}

func TestPresenceHeartbeatReturnsRoster(t *testing.T) {
	r, env := newChatEnv(t)
	ctx := context.Background()

	res, err := r.Invoke(ctx, env, wire.FunctionAction, "presence:heartbeat", wire.Args{"channel": "general"})
	require.NoError(t, err)
	require.Equal(t, RosterView{Channel: "general", Present: []string{"mira"}}, res)

	_, err = r.Invoke(ctx, env, wire.FunctionAction, "presence:heartbeat", nil)
	require.Error(t, err)
}
