package websocket

import (
	"sync"

	"github.com/mkoppen/pulse/wire"
)

// ActiveSub is a snapshot of one live subscription for re-evaluation.
type ActiveSub struct {
	SocketID string
	SubID    string
	Fn       wire.FunctionRef
	Args     wire.Args
}

type subState struct {
	fn   wire.FunctionRef
	args wire.Args
	// last is the canonical encoding of the most recently delivered result
	// (value or error). Pushes whose encoding matches are suppressed.
	last string
}

// SubscriptionRegistry tracks live subscriptions per socket in a
// concurrency-safe way. It stores socket ids (not socket pointers) so
// lookups can be validated against the current connection map.
type SubscriptionRegistry struct {
	mu   sync.RWMutex
	subs map[string]map[string]*subState // socketID -> subID -> state
}

func NewSubscriptionRegistry() *SubscriptionRegistry {
	return &SubscriptionRegistry{
		subs: make(map[string]map[string]*subState),
	}
}

// Add registers a subscription with the canonical encoding of the result it
// was initialized with. Re-adding an existing sub id replaces it.
func (r *SubscriptionRegistry) Add(socketID, subID string, fn wire.FunctionRef, args wire.Args, last string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	socketSubs, ok := r.subs[socketID]
	if !ok {
		socketSubs = make(map[string]*subState)
		r.subs[socketID] = socketSubs
	}
	socketSubs[subID] = &subState{fn: fn, args: args, last: last}
}

// Remove drops one subscription.
func (r *SubscriptionRegistry) Remove(socketID, subID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	socketSubs, ok := r.subs[socketID]
	if !ok {
		return
	}
	delete(socketSubs, subID)
	if len(socketSubs) == 0 {
		delete(r.subs, socketID)
	}
}

// RemoveSocket drops every subscription of a disconnected socket.
func (r *SubscriptionRegistry) RemoveSocket(socketID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subs, socketID)
}

// Snapshot returns all live subscriptions for re-evaluation.
func (r *SubscriptionRegistry) Snapshot() []ActiveSub {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []ActiveSub
	for socketID, socketSubs := range r.subs {
		for subID, st := range socketSubs {
			out = append(out, ActiveSub{
				SocketID: socketID,
				SubID:    subID,
				Fn:       st.fn,
				Args:     st.args,
			})
		}
	}
	return out
}

// UpdateLast stores the canonical encoding of a freshly evaluated result and
// reports whether it differs from the previous one. A subscription that was
// removed in the meantime reports false, so its push is dropped.
func (r *SubscriptionRegistry) UpdateLast(socketID, subID, canonical string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	socketSubs, ok := r.subs[socketID]
	if !ok {
		return false
	}
	st, ok := socketSubs[subID]
	if !ok {
		return false
	}
	if st.last == canonical {
		return false
	}
	st.last = canonical
	return true
}
