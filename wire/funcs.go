package wire

import (
	"encoding/json"
	"fmt"
)

// FunctionKind classifies a remote function by its side-effect class.
type FunctionKind string

const (
	// FunctionQuery is a read-only function with a subscribable result.
	FunctionQuery FunctionKind = "query"
	// FunctionMutation is a transactional write function.
	FunctionMutation FunctionKind = "mutation"
	// FunctionAction is a non-transactional side-effecting function.
	FunctionAction FunctionKind = "action"
)

// FunctionRef names a remote function, e.g. "messages:list".
//
// The reference is opaque to the binding layer; only the server-side registry
// interprets it.
type FunctionRef string

// Args is the argument payload for a remote function call or subscription.
//
// Values must be JSON-shaped: nested maps/slices of primitives. Anything else
// is normalized through a JSON round trip before comparison or transmission.
type Args map[string]any

// CanonicalArgs returns the canonical serialization of args.
//
// Two argument values are considered equal exactly when their canonical
// serializations are byte-equal. The encoding is a JSON round trip: structs
// collapse into maps, and map keys serialize in sorted order. Each call costs
// O(size of args).
func CanonicalArgs(args Args) (string, error) {
	if len(args) == 0 {
		return "{}", nil
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("failed to encode args: %w", err)
	}
	var norm any
	if err := json.Unmarshal(raw, &norm); err != nil {
		return "", fmt.Errorf("failed to normalize args: %w", err)
	}
	canon, err := json.Marshal(norm)
	if err != nil {
		return "", fmt.Errorf("failed to re-encode args: %w", err)
	}
	return string(canon), nil
}

// SubscriptionKey returns the cache/identity key for a (function, args) pair.
func SubscriptionKey(fn FunctionRef, args Args) (string, error) {
	canon, err := CanonicalArgs(args)
	if err != nil {
		return "", err
	}
	return string(fn) + "|" + canon, nil
}

// NormalizeValue runs a value through a JSON round trip so that results read
// from the local cache and results delivered by a push have identical shapes.
func NormalizeValue(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode value: %w", err)
	}
	var norm any
	if err := json.Unmarshal(raw, &norm); err != nil {
		return nil, fmt.Errorf("failed to normalize value: %w", err)
	}
	return norm, nil
}
