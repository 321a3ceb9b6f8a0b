package store

import (
	"sort"
	"sync"
	"time"
)

// presenceTTL is how long a heartbeat keeps an account on a channel roster.
const presenceTTL = 30 * time.Second

// Presence tracks which accounts recently heartbeated per channel. It is
// in-memory only; rosters reset on server restart.
type Presence struct {
	mu    sync.Mutex
	seen  map[string]map[string]time.Time // channel -> handle -> last heartbeat
	clock func() time.Time
}

func NewPresence(clock func() time.Time) *Presence {
	if clock == nil {
		clock = time.Now
	}
	return &Presence{
		seen:  make(map[string]map[string]time.Time),
		clock: clock,
	}
}

// Heartbeat records handle as present on channel and returns the current
// roster, sorted, with expired entries pruned.
func (p *Presence) Heartbeat(channel, handle string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock()
	roster, ok := p.seen[channel]
	if !ok {
		roster = make(map[string]time.Time)
		p.seen[channel] = roster
	}
	roster[handle] = now

	handles := make([]string, 0, len(roster))
	for h, last := range roster {
		if now.Sub(last) > presenceTTL {
			delete(roster, h)
			continue
		}
		handles = append(handles, h)
	}
	sort.Strings(handles)
	return handles
}
