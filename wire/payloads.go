package wire

import "encoding/json"

// SocketAuthPayload is the Socket.IO handshake auth payload.
type SocketAuthPayload struct {
	// Token is the bearer token issued by POST /v1/auth.
	Token string `json:"token"`
}

// SubscribePayload starts a live subscription to a query function.
type SubscribePayload struct {
	// Sub is the client-generated subscription id.
	Sub string `json:"sub"`
	// Fn is the query function reference.
	Fn FunctionRef `json:"fn"`
	// Args is the argument payload for the query.
	Args Args `json:"args,omitempty"`
}

// UnsubscribePayload tears down a live subscription.
type UnsubscribePayload struct {
	// Sub is the subscription id to release.
	Sub string `json:"sub"`
}

// CallPayload invokes a one-shot mutation or action.
type CallPayload struct {
	// Kind is "mutation" or "action".
	Kind FunctionKind `json:"kind"`
	// Fn is the function reference.
	Fn FunctionRef `json:"fn"`
	// Args is the argument payload for the call.
	Args Args `json:"args,omitempty"`
}

// Update push types for the "update" event.
const (
	// UpdateValue carries a fresh query result.
	UpdateValue = "value"
	// UpdateError carries a query evaluation failure.
	UpdateError = "error"
)

// UpdatePayload is a server push for one live subscription.
//
// Exactly one of Value/Error is meaningful, selected by T.
type UpdatePayload struct {
	// Sub is the subscription id this push belongs to.
	Sub string `json:"sub"`
	// T is UpdateValue or UpdateError.
	T string `json:"t"`
	// Value is the query result when T == UpdateValue.
	Value any `json:"value,omitempty"`
	// Error is the failure message when T == UpdateError.
	Error string `json:"error,omitempty"`
}

// AuthRequest is the body for POST /v1/auth.
type AuthRequest struct {
	// Handle is the account handle. Created on first use.
	Handle string `json:"handle"`
	// Secret is the account secret, verified against the stored bcrypt hash.
	Secret string `json:"secret"`
}

// AuthResponse is the response for POST /v1/auth.
type AuthResponse struct {
	// Success indicates whether authentication succeeded.
	Success bool `json:"success"`
	// Token is the issued JWT on success.
	Token string `json:"token,omitempty"`
	// Error contains an error message when Success is false.
	Error string `json:"error,omitempty"`
}

// DecodeAny converts a loosely typed Socket.IO payload into a typed struct
// via a JSON round trip.
func DecodeAny(input any, out any) error {
	raw, err := json.Marshal(input)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
