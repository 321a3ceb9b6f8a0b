package wire

// SubscribeAck is the ACK response shape for "subscribe".
type SubscribeAck struct {
	// Result is "success" or "error".
	Result string `json:"result"`
	// Message is an optional error annotation.
	Message string `json:"message,omitempty"`
	// Value is the initial query result on success.
	Value any `json:"value,omitempty"`
	// HasValue distinguishes a nil initial result from an absent one.
	HasValue bool `json:"hasValue,omitempty"`
}

// CallAck is the ACK response shape for "call".
type CallAck struct {
	// OK indicates whether the call succeeded.
	OK bool `json:"ok"`
	// Error contains an error string when OK is false.
	Error string `json:"error,omitempty"`
	// Result contains the function's return value when OK is true.
	Result any `json:"result,omitempty"`
}

// ResultAck is the minimal ACK response shape for fire-and-forget events.
type ResultAck struct {
	// Result is "success" or "error".
	Result string `json:"result"`
	// Message is an optional error annotation.
	Message string `json:"message,omitempty"`
}
