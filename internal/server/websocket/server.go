// Package websocket mounts the sync protocol on Socket.IO: authenticated
// sockets subscribe to query functions, call mutations and actions, and
// receive "update" pushes whenever a mutation changes a subscribed result.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	socket "github.com/zishang520/socket.io/servers/socket/v3"
	sockettypes "github.com/zishang520/socket.io/v3/pkg/types"

	"github.com/mkoppen/pulse/internal/server/api"
	"github.com/mkoppen/pulse/internal/server/funcs"
	"github.com/mkoppen/pulse/internal/server/store"
	"github.com/mkoppen/pulse/pkg/logger"
	"github.com/mkoppen/pulse/wire"
)

// SyncPath is the Socket.IO mount point.
const SyncPath = "/v1/sync"

const (
	// pingInterval defines how frequently the server pings clients to detect
	// stale sockets, which bounds how long dead subscriptions linger.
	pingInterval = 5 * time.Second
	// pingTimeout defines how long the server waits before considering a
	// socket dead (no pong received).
	pingTimeout = 15 * time.Second
)

// Server wraps the Socket.IO server with the function registry and the
// per-socket subscription registry.
type Server struct {
	store      *store.Store
	presence   *store.Presence
	registry   *funcs.Registry
	jwtManager *api.JWTManager
	server     *socket.Server
	socketData sync.Map // socket id -> *SocketData
	subs       *SubscriptionRegistry
	now        func() time.Time
	newID      func() string
}

// SocketData stores connection metadata for each socket. Emit sends an
// event to the connected peer.
type SocketData struct {
	Account store.Account
	Emit    func(event string, payload any)
}

// NewServer creates the sync server.
func NewServer(st *store.Store, presence *store.Presence, registry *funcs.Registry, jwtManager *api.JWTManager) *Server {
	opts := socket.DefaultServerOptions()
	opts.SetCors(&sockettypes.Cors{
		Origin:      "*",
		Credentials: false,
	})
	opts.SetPingTimeout(pingTimeout)
	opts.SetPingInterval(pingInterval)
	opts.SetPath(SyncPath)

	server := socket.NewServer(nil, opts)

	s := &Server{
		store:      st,
		presence:   presence,
		registry:   registry,
		jwtManager: jwtManager,
		server:     server,
		subs:       NewSubscriptionRegistry(),
		now:        time.Now,
		newID:      uuid.NewString,
	}

	s.server.On("connection", func(clients ...any) {
		client := clients[0].(*socket.Socket)
		s.handleConnection(client)
	})

	return s
}

// handleConnection authenticates the handshake and registers the sync events.
func (s *Server) handleConnection(client *socket.Socket) {
	socketID := string(client.Id())
	logger.Debugf("sync connection attempt (socket %s)", socketID)

	handshake := client.Handshake()
	var auth wire.SocketAuthPayload
	if err := decodeAny(handshake.Auth, &auth); err != nil || auth.Token == "" {
		logger.Warnf("sync handshake missing token (socket %s)", socketID)
		client.Emit("error", map[string]string{"message": "missing authentication token"})
		client.Disconnect(true)
		return
	}

	claims, err := s.jwtManager.VerifyToken(auth.Token)
	if err != nil {
		logger.Warnf("sync handshake invalid token (socket %s): %v", socketID, err)
		client.Emit("error", map[string]string{"message": "invalid authentication token"})
		client.Disconnect(true)
		return
	}

	account, err := s.store.GetAccountByID(context.Background(), claims.Subject)
	if err != nil {
		logger.Warnf("sync handshake unknown account %s (socket %s)", claims.Subject, socketID)
		client.Emit("error", map[string]string{"message": "unknown account"})
		client.Disconnect(true)
		return
	}

	s.socketData.Store(socketID, &SocketData{
		Account: account,
		Emit: func(event string, payload any) {
			client.Emit(event, payload)
		},
	})
	logger.Infof("sync client ready (account %s, socket %s)", account.Handle, socketID)

	s.registerClientHandlers(client, socketID)
}

func (s *Server) registerClientHandlers(client *socket.Socket, socketID string) {
	client.On("subscribe", func(data ...any) {
		raw, ack := getFirstAnyWithAck(data)
		s.handleSubscribe(socketID, raw, ack)
	})

	client.On("unsubscribe", func(data ...any) {
		raw, ack := getFirstAnyWithAck(data)
		s.handleUnsubscribe(socketID, raw, ack)
	})

	client.On("call", func(data ...any) {
		raw, ack := getFirstAnyWithAck(data)
		s.handleCall(socketID, raw, ack)
	})

	client.On("disconnect", func(...any) {
		logger.Debugf("sync client disconnected (socket %s)", socketID)
		s.socketData.Delete(socketID)
		s.subs.RemoveSocket(socketID)
	})
}

// handleSubscribe evaluates the query once and registers the subscription.
// The ack carries the initial result; later changes arrive as "update"
// pushes.
func (s *Server) handleSubscribe(socketID string, raw any, ack func(...any)) {
	var p wire.SubscribePayload
	if err := decodeAny(raw, &p); err != nil || p.Sub == "" || p.Fn == "" {
		ackSubscribeError(ack, "invalid subscribe payload")
		return
	}

	env, ok := s.envFor(socketID)
	if !ok {
		ackSubscribeError(ack, "not authenticated")
		return
	}

	res, err := s.registry.Invoke(context.Background(), env, wire.FunctionQuery, p.Fn, p.Args)
	if err != nil {
		logger.Debugf("subscribe %s failed for %s: %v", p.Fn, env.Account.Handle, err)
		// The subscription is registered anyway: a later mutation that
		// repairs the failure pushes the recovered result.
		s.subs.Add(socketID, p.Sub, p.Fn, p.Args, canonicalError(err))
		ackSubscribeError(ack, err.Error())
		return
	}

	s.subs.Add(socketID, p.Sub, p.Fn, p.Args, canonicalValue(res))
	if ack != nil {
		ack(wire.SubscribeAck{Result: "success", Value: res, HasValue: true})
	}
}

func (s *Server) handleUnsubscribe(socketID string, raw any, ack func(...any)) {
	var p wire.UnsubscribePayload
	if err := decodeAny(raw, &p); err != nil || p.Sub == "" {
		if ack != nil {
			ack(wire.ResultAck{Result: "error", Message: "invalid unsubscribe payload"})
		}
		return
	}
	s.subs.Remove(socketID, p.Sub)
	if ack != nil {
		ack(wire.ResultAck{Result: "success"})
	}
}

// handleCall runs a mutation or action. After a successful mutation every
// live subscription is re-evaluated and changed results are pushed.
func (s *Server) handleCall(socketID string, raw any, ack func(...any)) {
	var p wire.CallPayload
	if err := decodeAny(raw, &p); err != nil || p.Fn == "" {
		ackCallError(ack, "invalid call payload")
		return
	}
	if p.Kind != wire.FunctionMutation && p.Kind != wire.FunctionAction {
		ackCallError(ack, "call kind must be mutation or action")
		return
	}

	env, ok := s.envFor(socketID)
	if !ok {
		ackCallError(ack, "not authenticated")
		return
	}

	res, err := s.registry.Invoke(context.Background(), env, p.Kind, p.Fn, p.Args)
	if err != nil {
		logger.Debugf("call %s %s failed for %s: %v", p.Kind, p.Fn, env.Account.Handle, err)
		ackCallError(ack, err.Error())
		return
	}

	if ack != nil {
		ack(wire.CallAck{OK: true, Result: res})
	}

	if p.Kind == wire.FunctionMutation {
		s.broadcastQueryUpdates()
	}
}

// broadcastQueryUpdates re-evaluates every live subscription and pushes the
// results that changed since their last delivery.
func (s *Server) broadcastQueryUpdates() {
	for _, sub := range s.subs.Snapshot() {
		sd := s.getSocketData(sub.SocketID)
		if sd == nil || sd.Emit == nil {
			s.subs.RemoveSocket(sub.SocketID)
			continue
		}

		env := s.envForAccount(sd.Account)
		res, err := s.registry.Invoke(context.Background(), env, wire.FunctionQuery, sub.Fn, sub.Args)
		if err != nil {
			if s.subs.UpdateLast(sub.SocketID, sub.SubID, canonicalError(err)) {
				sd.Emit("update", wire.UpdatePayload{
					Sub:   sub.SubID,
					T:     wire.UpdateError,
					Error: err.Error(),
				})
			}
			continue
		}

		if s.subs.UpdateLast(sub.SocketID, sub.SubID, canonicalValue(res)) {
			logger.Tracef("pushing %s to socket %s sub %s", sub.Fn, sub.SocketID, sub.SubID)
			sd.Emit("update", wire.UpdatePayload{
				Sub:   sub.SubID,
				T:     wire.UpdateValue,
				Value: res,
			})
		}
	}
}

func (s *Server) envFor(socketID string) (*funcs.Env, bool) {
	sd := s.getSocketData(socketID)
	if sd == nil {
		return nil, false
	}
	return s.envForAccount(sd.Account), true
}

func (s *Server) envForAccount(account store.Account) *funcs.Env {
	return &funcs.Env{
		Store:    s.store,
		Presence: s.presence,
		Account:  account,
		Now:      s.now,
		NewID:    s.newID,
	}
}

// getSocketData retrieves socket metadata by socket id.
func (s *Server) getSocketData(socketID string) *SocketData {
	if data, ok := s.socketData.Load(socketID); ok {
		if sd, ok := data.(*SocketData); ok {
			return sd
		}
	}
	return nil
}

// HandleSocketIO creates a gin handler for the Socket.IO mount.
func (s *Server) HandleSocketIO() gin.HandlerFunc {
	httpHandler := s.server.ServeHandler(nil)

	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")

		if c.Request.Method == "OPTIONS" {
			c.Status(http.StatusOK)
			return
		}

		httpHandler.ServeHTTP(c.Writer, c.Request)
	}
}

// Close shuts down the Socket.IO server.
func (s *Server) Close() error {
	s.server.Close(nil)
	return nil
}

func decodeAny(input any, out any) error {
	raw, err := json.Marshal(input)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func getFirstAnyWithAck(data []any) (any, func(...any)) {
	var ack func(...any)
	if len(data) == 0 {
		return nil, nil
	}
	if cb, ok := data[len(data)-1].(func(...any)); ok {
		ack = cb
		data = data[:len(data)-1]
	} else if cb, ok := data[len(data)-1].(socket.Ack); ok {
		ack = func(args ...any) {
			cb(args, nil)
		}
		data = data[:len(data)-1]
	}
	if len(data) == 0 {
		return nil, ack
	}
	return data[0], ack
}

func ackSubscribeError(ack func(...any), msg string) {
	if ack != nil {
		ack(wire.SubscribeAck{Result: "error", Message: msg})
	}
}

func ackCallError(ack func(...any), msg string) {
	if ack != nil {
		ack(wire.CallAck{OK: false, Error: msg})
	}
}

// canonicalValue encodes a query result deterministically so equal results
// can be recognized and their pushes suppressed. Encoding failures fall back
// to an always-push sentinel.
func canonicalValue(v any) string {
	norm, err := wire.NormalizeValue(v)
	if err != nil {
		return "opaque:" + time.Now().String()
	}
	raw, err := json.Marshal(norm)
	if err != nil {
		return "opaque:" + time.Now().String()
	}
	return "value:" + string(raw)
}

func canonicalError(err error) string {
	return "error:" + err.Error()
}
