package processor

import (
	"sync"
	"time"
)

// backoffMap holds per-agent cooldown expiries in process memory. Entries
// are pruned lazily on read, so a window rollover clears the agent the next
// time it is checked. Single-process state: a multi-replica deployment must
// partition agents across replicas or move this to an external store.
type backoffMap struct {
	mu      sync.Mutex
	expires map[int]time.Time
}

func newBackoffMap() *backoffMap {
	return &backoffMap{expires: make(map[int]time.Time)}
}

// Active reports whether the agent is still cooling down at now. Expired
// entries are removed as a side effect.
func (b *backoffMap) Active(agentNumber int, now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	until, ok := b.expires[agentNumber]
	if !ok {
		return false
	}
	if !now.Before(until) {
		delete(b.expires, agentNumber)
		return false
	}
	return true
}

// Set installs or extends a cooldown. A shorter until than the current one
// never shrinks an installed cooldown.
func (b *backoffMap) Set(agentNumber int, until time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cur, ok := b.expires[agentNumber]; ok && cur.After(until) {
		return
	}
	b.expires[agentNumber] = until
}

// Clear removes the agent's cooldown.
func (b *backoffMap) Clear(agentNumber int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.expires, agentNumber)
}

// Len returns the number of live entries, expired ones included until read.
func (b *backoffMap) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.expires)
}
