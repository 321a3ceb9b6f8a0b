package client

import (
	"errors"
	"fmt"

	"github.com/mkoppen/pulse/wire"
)

var (
	// ErrNotConnected is returned by calls that require a live socket.
	ErrNotConnected = errors.New("client not connected")
	// ErrAckTimeout is returned when the server does not acknowledge a call
	// within the configured timeout.
	ErrAckTimeout = errors.New("ack timeout")
	// ErrClosed is returned by operations on a closed client.
	ErrClosed = errors.New("client closed")
)

// ServerError is a failure reported by the backend for a function call or a
// live subscription.
type ServerError struct {
	// Fn is the function the failure belongs to.
	Fn wire.FunctionRef
	// Kind is the function's side-effect class.
	Kind wire.FunctionKind
	// Message is the server-reported failure message.
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Kind, e.Fn, e.Message)
}
