// Package client implements the sync client for a pulse backend: live query
// subscriptions with server push, a client-local result cache shared across
// subscriptions, and one-shot mutation/action calls.
package client

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	socket "github.com/zishang520/socket.io/clients/socket/v3"
	"github.com/zishang520/socket.io/v3/pkg/types"

	"github.com/mkoppen/pulse/pkg/logger"
	"github.com/mkoppen/pulse/wire"
)

// SyncPath is the Socket.IO mount point on the backend.
const SyncPath = "/v1/sync"

// DefaultAckTimeout bounds how long calls wait for a server acknowledgement.
const DefaultAckTimeout = 10 * time.Second

// Options configures a client.
type Options struct {
	// Token is the bearer token presented in the socket handshake.
	Token string
	// AckTimeout overrides DefaultAckTimeout when positive.
	AckTimeout time.Duration
}

// subscription is one live (function, args) binding to a delivery callback
// pair.
type subscription struct {
	id      string
	key     string
	fn      wire.FunctionRef
	args    wire.Args
	onValue func(any)
	onError func(error)
	active  bool
}

// Client holds one socket connection to a pulse backend plus the local
// result cache fed by pushes for all active subscriptions.
type Client struct {
	serverURL string

	mu         sync.Mutex
	socket     *socket.Socket
	token      string
	connected  bool
	closed     bool
	subs       map[string]*subscription
	cache      map[string]any
	cacheRefs  map[string]int
	ackTimeout time.Duration

	closeOnce sync.Once

	// registryKey is set for clients owned by the per-process registry.
	registryKey string
}

// New creates an unconnected client. Most callers should use Connect, which
// also dials and shares one client per URL within the process.
func New(serverURL string, opts Options) (*Client, error) {
	u, err := url.Parse(serverURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid backend URL %q", serverURL)
	}
	ackTimeout := opts.AckTimeout
	if ackTimeout <= 0 {
		ackTimeout = DefaultAckTimeout
	}
	return &Client{
		serverURL:  serverURL,
		token:      opts.Token,
		subs:       make(map[string]*subscription),
		cache:      make(map[string]any),
		cacheRefs:  make(map[string]int),
		ackTimeout: ackTimeout,
	}, nil
}

// Dial establishes the Socket.IO connection.
func (c *Client) Dial() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	token := c.token
	c.mu.Unlock()

	opts := socket.DefaultOptions()
	opts.SetPath(SyncPath)
	opts.SetTransports(types.NewSet(socket.Polling, socket.WebSocket))
	opts.SetAuth(map[string]any{"token": token})

	sock, err := socket.Connect(c.serverURL, opts)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	sock.On(types.EventName("connect"), func(args ...any) {
		logger.Debugf("sync socket connected: %s", sock.Id())
		c.mu.Lock()
		c.connected = true
		c.mu.Unlock()
		c.resubscribeAll()
	})

	sock.On(types.EventName("disconnect"), func(args ...any) {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
		logger.Debugf("sync socket disconnected")
	})

	sock.On(types.EventName("connect_error"), func(args ...any) {
		if len(args) > 0 {
			logger.Warnf("sync socket connection error: %v", args[0])
		}
	})

	sock.On(types.EventName("error"), func(args ...any) {
		if len(args) > 0 {
			logger.Warnf("sync server error: %v", args[0])
		}
	})

	sock.On(types.EventName("update"), func(args ...any) {
		if len(args) == 0 {
			return
		}
		var p wire.UpdatePayload
		if err := wire.DecodeAny(args[0], &p); err != nil {
			logger.Warnf("malformed update push: %v", err)
			return
		}
		c.handleUpdate(p)
	})

	c.mu.Lock()
	c.socket = sock
	c.mu.Unlock()
	return nil
}

// SetAuth replaces the bearer token used for authentication. A live socket
// is re-authenticated in place.
func (c *Client) SetAuth(token string) {
	c.mu.Lock()
	c.token = token
	sock := c.socket
	c.mu.Unlock()

	if sock != nil {
		sock.Emit("auth", wire.SocketAuthPayload{Token: token})
	}
}

// Subscribe establishes a live subscription for (fn, args). Success pushes
// invoke onValue, failure pushes invoke onError with a *ServerError. The
// returned function releases the subscription; after it returns, neither
// callback is invoked again for this handle.
//
// Callbacks run on the socket's receive path and must return quickly without
// calling back into the client.
func (c *Client) Subscribe(fn wire.FunctionRef, args wire.Args, onValue func(any), onError func(error)) (func(), error) {
	key, err := wire.SubscriptionKey(fn, args)
	if err != nil {
		return nil, err
	}

	sub := &subscription{
		id:      uuid.NewString(),
		key:     key,
		fn:      fn,
		args:    args,
		onValue: onValue,
		onError: onError,
		active:  true,
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.subs[sub.id] = sub
	c.cacheRefs[key]++
	sock := c.socket
	c.mu.Unlock()

	if sock != nil {
		c.emitSubscribe(sock, sub)
	}

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			c.mu.Lock()
			sub.active = false
			delete(c.subs, sub.id)
			c.releaseCacheRefLocked(sub.key)
			sock := c.socket
			c.mu.Unlock()

			if sock != nil {
				sock.Emit("unsubscribe", wire.UnsubscribePayload{Sub: sub.id})
			}
		})
	}
	return unsubscribe, nil
}

// LocalCacheRead returns the cached result for (fn, args) when the client
// already holds one (for example from another active subscription on the
// same query). A miss is reported via ok=false, not an error.
func (c *Client) LocalCacheRead(fn wire.FunctionRef, args wire.Args) (any, bool, error) {
	key, err := wire.SubscriptionKey(fn, args)
	if err != nil {
		return nil, false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.cache[key]
	return v, ok, nil
}

// Mutation invokes a one-shot mutation on the backend.
func (c *Client) Mutation(ctx context.Context, fn wire.FunctionRef, args wire.Args) (any, error) {
	return c.call(ctx, wire.FunctionMutation, fn, args)
}

// Action invokes a one-shot action on the backend.
func (c *Client) Action(ctx context.Context, fn wire.FunctionRef, args wire.Args) (any, error) {
	return c.call(ctx, wire.FunctionAction, fn, args)
}

func (c *Client) call(ctx context.Context, kind wire.FunctionKind, fn wire.FunctionRef, args wire.Args) (any, error) {
	c.mu.Lock()
	sock := c.socket
	closed := c.closed
	timeout := c.ackTimeout
	c.mu.Unlock()

	if closed {
		return nil, ErrClosed
	}
	if sock == nil {
		return nil, ErrNotConnected
	}

	resultCh := make(chan wire.CallAck, 1)
	errCh := make(chan error, 1)

	sock.Emit("call", wire.CallPayload{Kind: kind, Fn: fn, Args: args}, func(resp []any, err error) {
		if err != nil {
			errCh <- err
			return
		}
		var ack wire.CallAck
		if len(resp) > 0 {
			if derr := wire.DecodeAny(resp[0], &ack); derr != nil {
				errCh <- derr
				return
			}
		}
		resultCh <- ack
	})

	select {
	case ack := <-resultCh:
		if !ack.OK {
			return nil, &ServerError{Fn: fn, Kind: kind, Message: ack.Error}
		}
		return ack.Result, nil
	case err := <-errCh:
		return nil, fmt.Errorf("%s %s failed: %w", kind, fn, err)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(timeout):
		return nil, fmt.Errorf("%s %s: %w", kind, fn, ErrAckTimeout)
	}
}

// Close disconnects the socket and drops all subscriptions. Registry-owned
// clients are reference counted; see Connect.
func (c *Client) Close() error {
	if c.registryKey != "" && !releaseShared(c.registryKey) {
		return nil
	}
	c.closeNow()
	return nil
}

func (c *Client) closeNow() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		sock := c.socket
		c.socket = nil
		c.connected = false
		for id, sub := range c.subs {
			sub.active = false
			delete(c.subs, id)
		}
		c.cache = make(map[string]any)
		c.cacheRefs = make(map[string]int)
		c.mu.Unlock()

		if sock != nil {
			sock.Disconnect()
		}
	})
}

// IsConnected reports whether the socket is currently connected.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connected {
		return true
	}
	return c.socket != nil && c.socket.Connected()
}

// handleUpdate routes one push to its subscription. The callback runs under
// the client mutex so that an unsubscribe that has returned can never be
// followed by a delivery for the same handle.
func (c *Client) handleUpdate(p wire.UpdatePayload) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub, ok := c.subs[p.Sub]
	if !ok || !sub.active {
		logger.Tracef("dropping push for inactive subscription %s", p.Sub)
		return
	}

	switch p.T {
	case wire.UpdateValue:
		c.cache[sub.key] = p.Value
		if sub.onValue != nil {
			sub.onValue(p.Value)
		}
	case wire.UpdateError:
		if sub.onError != nil {
			sub.onError(&ServerError{Fn: sub.fn, Kind: wire.FunctionQuery, Message: p.Error})
		}
	default:
		logger.Warnf("unknown update push type %q", p.T)
	}
}

// emitSubscribe sends the subscribe event; the ack carries the initial query
// result, which is treated like a regular value push.
func (c *Client) emitSubscribe(sock *socket.Socket, sub *subscription) {
	sock.Emit("subscribe", wire.SubscribePayload{Sub: sub.id, Fn: sub.fn, Args: sub.args}, func(resp []any, err error) {
		if err != nil {
			logger.Warnf("subscribe %s ack failed: %v", sub.fn, err)
			return
		}
		var ack wire.SubscribeAck
		if len(resp) > 0 {
			if derr := wire.DecodeAny(resp[0], &ack); derr != nil {
				logger.Warnf("subscribe %s malformed ack: %v", sub.fn, derr)
				return
			}
		}
		switch {
		case ack.Result == "success" && ack.HasValue:
			c.handleUpdate(wire.UpdatePayload{Sub: sub.id, T: wire.UpdateValue, Value: ack.Value})
		case ack.Result != "success":
			c.handleUpdate(wire.UpdatePayload{Sub: sub.id, T: wire.UpdateError, Error: ack.Message})
		}
	})
}

// resubscribeAll re-establishes every active subscription after (re)connect.
func (c *Client) resubscribeAll() {
	c.mu.Lock()
	sock := c.socket
	subs := make([]*subscription, 0, len(c.subs))
	for _, sub := range c.subs {
		if sub.active {
			subs = append(subs, sub)
		}
	}
	c.mu.Unlock()

	if sock == nil {
		return
	}
	for _, sub := range subs {
		c.emitSubscribe(sock, sub)
	}
}

// releaseCacheRefLocked drops the cached result once no subscription keeps
// the key live; stale entries must not outlive their last subscriber.
func (c *Client) releaseCacheRefLocked(key string) {
	if c.cacheRefs[key] <= 1 {
		delete(c.cacheRefs, key)
		delete(c.cache, key)
		return
	}
	c.cacheRefs[key]--
}
