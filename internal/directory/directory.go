// Package directory holds the process-lifetime username→profile lookup
// table used to enrich chat previews. It is a bounded cache, never
// authoritative: entries are last-known snapshots from directory syncs
// and join events.
package directory

import (
	"sync"

	"courier/internal/wire"
)

// DefaultCapacity bounds the table when no capacity is configured.
const DefaultCapacity = 512

// Table is a bounded username→profile map with FIFO eviction.
type Table struct {
	mu    sync.Mutex
	cap   int
	m     map[string]wire.Profile
	order []string
}

// New creates a table holding at most capacity entries. A non-positive
// capacity falls back to DefaultCapacity.
func New(capacity int) *Table {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Table{
		cap: capacity,
		m:   make(map[string]wire.Profile, capacity),
	}
}

// Insert stores the latest snapshot for a username. Updating an existing
// entry does not change its eviction position; when the table is full the
// oldest entry is evicted.
func (t *Table) Insert(p wire.Profile) {
	if p.Username == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.m[p.Username]; ok {
		t.m[p.Username] = p
		return
	}
	if len(t.order) >= t.cap {
		oldest := t.order[0]
		t.order = t.order[1:]
		delete(t.m, oldest)
	}
	t.m[p.Username] = p
	t.order = append(t.order, p.Username)
}

// Get returns the last-known profile for a username.
func (t *Table) Get(username string) (wire.Profile, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.m[username]
	return p, ok
}

// Len returns the number of cached entries.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.m)
}
