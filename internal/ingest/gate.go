package ingest

import "sync"

// gate serializes work per conversation so messages are processed in
// arrival order. Locking is in-process only: the cross-process invariants
// (agent counters, open-deal uniqueness) are enforced in the database.
type gate struct {
	mu      sync.Mutex
	entries map[string]*gateEntry
}

type gateEntry struct {
	mu   sync.Mutex
	refs int
}

func newGate() *gate {
	return &gate{entries: make(map[string]*gateEntry)}
}

// lock acquires the per-key mutex and returns its release func. Entries are
// reference-counted and removed when the last holder releases, so the map
// does not grow with conversation history.
func (g *gate) lock(key string) func() {
	g.mu.Lock()
	e, ok := g.entries[key]
	if !ok {
		e = &gateEntry{}
		g.entries[key] = e
	}
	e.refs++
	g.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		g.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(g.entries, key)
		}
		g.mu.Unlock()
	}
}
