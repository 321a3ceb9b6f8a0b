package websocket

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mkoppen/pulse/internal/server/database"
	"github.com/mkoppen/pulse/internal/server/funcs"
	"github.com/mkoppen/pulse/internal/server/store"
	"github.com/mkoppen/pulse/wire"
)

// recorder captures pushes emitted to one fake socket.
type recorder struct {
	mu      sync.Mutex
	updates []wire.UpdatePayload
}

func (r *recorder) emit(event string, payload any) {
	if event != "update" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, payload.(wire.UpdatePayload))
}

func (r *recorder) all() []wire.UpdatePayload {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]wire.UpdatePayload, len(r.updates))
	copy(out, r.updates)
	return out
}

func newSyncServer(t *testing.T) (*Server, store.Account) {
	t.Helper()
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	st := store.New(db.DB)
	now := time.UnixMilli(1_700_000_000_000)

	hash, err := store.HashSecret("hunter2")
	require.NoError(t, err)
	account := store.Account{ID: "a1", Handle: "mira", SecretHash: hash, CreatedAt: now}
	require.NoError(t, st.CreateAccount(context.Background(), account))

	registry := funcs.NewRegistry()
	require.NoError(t, funcs.RegisterChat(registry))

	ids := 0
	s := &Server{
		store:    st,
		presence: store.NewPresence(func() time.Time { return now }),
		registry: registry,
		subs:     NewSubscriptionRegistry(),
		now:      func() time.Time { return now },
		newID: func() string {
			ids++
			return fmt.Sprintf("id-%d", ids)
		},
	}
	return s, account
}

func attach(s *Server, socketID string, account store.Account) *recorder {
	rec := &recorder{}
	s.socketData.Store(socketID, &SocketData{Account: account, Emit: rec.emit})
	return rec
}

func captureAck() (func(...any), func() []any) {
	var mu sync.Mutex
	var got []any
	ack := func(args ...any) {
		mu.Lock()
		defer mu.Unlock()
		got = args
	}
	read := func() []any {
		mu.Lock()
		defer mu.Unlock()
		return got
	}
	return ack, read
}

func TestSubscribeAckCarriesInitialResult(t *testing.T) {
	s, account := newSyncServer(t)
	attach(s, "sock1", account)

	ack, read := captureAck()
	s.handleSubscribe("sock1", wire.SubscribePayload{Sub: "sub1", Fn: "channels:list"}, ack)

	got := read()
	require.Len(t, got, 1)
	result := got[0].(wire.SubscribeAck)
	require.Equal(t, "success", result.Result)
	require.True(t, result.HasValue)
	require.Equal(t, []funcs.ChannelView{}, result.Value)
}

func TestMutationPushesChangedResults(t *testing.T) {
	s, account := newSyncServer(t)
	rec := attach(s, "sock1", account)

	ack, _ := captureAck()
	s.handleSubscribe("sock1", wire.SubscribePayload{Sub: "sub1", Fn: "channels:list"}, ack)

	callAck, readCall := captureAck()
	s.handleCall("sock1", wire.CallPayload{
		Kind: wire.FunctionMutation,
		Fn:   "channels:create",
		Args: wire.Args{"name": "general"},
	}, callAck)

	got := readCall()
	require.Len(t, got, 1)
	require.True(t, got[0].(wire.CallAck).OK)

	updates := rec.all()
	require.Len(t, updates, 1)
	require.Equal(t, "sub1", updates[0].Sub)
	require.Equal(t, wire.UpdateValue, updates[0].T)
	require.Equal(t, []funcs.ChannelView{{Name: "general", CreatedBy: "mira"}}, updates[0].Value)

	// An idempotent re-create leaves the result unchanged: no push.
	s.handleCall("sock1", wire.CallPayload{
		Kind: wire.FunctionMutation,
		Fn:   "channels:create",
		Args: wire.Args{"name": "general"},
	}, nil)
	require.Len(t, rec.all(), 1)
}

func TestFailedSubscriptionRecoversAfterMutation(t *testing.T) {
	s, account := newSyncServer(t)
	rec := attach(s, "sock1", account)

	ack, read := captureAck()
	s.handleSubscribe("sock1", wire.SubscribePayload{
		Sub:  "sub1",
		Fn:   "messages:list",
		Args: wire.Args{"channel": "general"},
	}, ack)

	got := read()
	require.Len(t, got, 1)
	require.Equal(t, "error", got[0].(wire.SubscribeAck).Result)

	// Creating the channel repairs the query; the recovered result is
	// pushed to the registered subscription.
	s.handleCall("sock1", wire.CallPayload{
		Kind: wire.FunctionMutation,
		Fn:   "channels:create",
		Args: wire.Args{"name": "general"},
	}, nil)

	updates := rec.all()
	require.Len(t, updates, 1)
	require.Equal(t, wire.UpdateValue, updates[0].T)
	require.Equal(t, []funcs.MessageView{}, updates[0].Value)

	s.handleCall("sock1", wire.CallPayload{
		Kind: wire.FunctionMutation,
		Fn:   "messages:send",
		Args: wire.Args{"channel": "general", "text": "hello"},
	}, nil)

	updates = rec.all()
	require.Len(t, updates, 2)
	msgs := updates[1].Value.([]funcs.MessageView)
	require.Len(t, msgs, 1)
	require.Equal(t, "hello", msgs[0].Text)
	require.Equal(t, "mira", msgs[0].Author)
}

func TestUnsubscribeStopsPushes(t *testing.T) {
	s, account := newSyncServer(t)
	rec := attach(s, "sock1", account)

	s.handleSubscribe("sock1", wire.SubscribePayload{Sub: "sub1", Fn: "channels:list"}, nil)

	ack, read := captureAck()
	s.handleUnsubscribe("sock1", wire.UnsubscribePayload{Sub: "sub1"}, ack)
	require.Equal(t, "success", read()[0].(wire.ResultAck).Result)

	s.handleCall("sock1", wire.CallPayload{
		Kind: wire.FunctionMutation,
		Fn:   "channels:create",
		Args: wire.Args{"name": "general"},
	}, nil)
	require.Empty(t, rec.all())
}

func TestPushesFanOutPerSocket(t *testing.T) {
	s, account := newSyncServer(t)
	rec1 := attach(s, "sock1", account)
	rec2 := attach(s, "sock2", account)

	s.handleSubscribe("sock1", wire.SubscribePayload{Sub: "sub1", Fn: "channels:list"}, nil)
	s.handleSubscribe("sock2", wire.SubscribePayload{Sub: "subX", Fn: "channels:list"}, nil)

	s.handleCall("sock1", wire.CallPayload{
		Kind: wire.FunctionMutation,
		Fn:   "channels:create",
		Args: wire.Args{"name": "general"},
	}, nil)

	require.Len(t, rec1.all(), 1)
	updates := rec2.all()
	require.Len(t, updates, 1)
	require.Equal(t, "subX", updates[0].Sub)
}

func TestCallValidation(t *testing.T) {
	s, account := newSyncServer(t)
	attach(s, "sock1", account)

	ack, read := captureAck()
	s.handleCall("sock1", wire.CallPayload{Kind: wire.FunctionQuery, Fn: "channels:list"}, ack)
	result := read()[0].(wire.CallAck)
	require.False(t, result.OK)
	require.Contains(t, result.Error, "mutation or action")

	s.handleCall("sock1", wire.CallPayload{Kind: wire.FunctionMutation, Fn: "nope:nothing"}, ack)
	result = read()[0].(wire.CallAck)
	require.False(t, result.OK)

	// Actions never trigger query re-evaluation.
	rec := attach(s, "sock2", account)
	s.handleSubscribe("sock2", wire.SubscribePayload{Sub: "sub1", Fn: "channels:list"}, nil)
	s.handleCall("sock1", wire.CallPayload{
		Kind: wire.FunctionAction,
		Fn:   "presence:heartbeat",
		Args: wire.Args{"channel": "general"},
	}, ack)
	require.True(t, read()[0].(wire.CallAck).OK)
	require.Empty(t, rec.all())
}

func TestUnknownSocketIsRejected(t *testing.T) {
	s, _ := newSyncServer(t)

	ack, read := captureAck()
	s.handleSubscribe("ghost", wire.SubscribePayload{Sub: "sub1", Fn: "channels:list"}, ack)
	require.Equal(t, "error", read()[0].(wire.SubscribeAck).Result)

	s.handleCall("ghost", wire.CallPayload{Kind: wire.FunctionMutation, Fn: "channels:create", Args: wire.Args{"name": "x"}}, ack)
	require.False(t, read()[0].(wire.CallAck).OK)
}
