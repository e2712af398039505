// Package identity provides the ownership arena and weak-handle table that
// track live instance state for the persistence core. The arena owns each
// instance's attribute state keyed by a stable identifier; external
// structures such as an identity map hold non-owning handles. Reclamation is
// an explicit two-phase check: an evicted entry may be resurrected through a
// registered hook before its handle is declared dead.
package identity

import (
	"fmt"
	"sort"
	"sync"

	"attrcore/pkg/attribute"
)

// ResurrectionHook decides whether an evicted instance can be recovered.
// Collection-owned backrefs typically resurrect a child while its parent is
// still reachable; returning false lets the arena drop the entry for good.
type ResurrectionHook func(id string, st *attribute.State) bool

// Arena owns instance state records keyed by identifier.
type Arena struct {
	mu     sync.Mutex
	live   map[string]*attribute.State
	limbo  map[string]*attribute.State
	revive ResurrectionHook
}

// NewArena constructs an empty arena. The hook may be nil, in which case
// evicted entries are never resurrected.
func NewArena(hook ResurrectionHook) *Arena {
	return &Arena{
		live:   make(map[string]*attribute.State),
		limbo:  make(map[string]*attribute.State),
		revive: hook,
	}
}

// Handle is a non-owning reference to an arena entry. Resolving a handle
// whose entry was evicted triggers the resurrection check.
type Handle struct {
	arena *Arena
	id    string
}

// ID returns the stable identifier the handle points at.
func (h Handle) ID() string { return h.id }

// Put registers state under id and returns a non-owning handle. Registering
// an existing id replaces the owned state.
func (a *Arena) Put(id string, st *attribute.State) Handle {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.limbo, id)
	a.live[id] = st
	return Handle{arena: a, id: id}
}

// Handle returns a non-owning handle for id without asserting liveness.
func (a *Arena) Handle(id string) Handle {
	return Handle{arena: a, id: id}
}

// Get resolves id to live state, attempting resurrection for evicted
// entries. A dead entry yields ErrNotTrackable wrapped with the id.
func (a *Arena) Get(id string) (*attribute.State, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if st, ok := a.live[id]; ok {
		return st, nil
	}
	if st, ok := a.limbo[id]; ok {
		if a.revive != nil && a.revive(id, st) {
			delete(a.limbo, id)
			a.live[id] = st
			return st, nil
		}
		delete(a.limbo, id)
	}
	return nil, fmt.Errorf("identity: %q: %w", id, attribute.ErrNotTrackable)
}

// Resolve resolves the handle to live state, with the same resurrection
// semantics as Get.
func (h Handle) Resolve() (*attribute.State, error) {
	if h.arena == nil {
		return nil, fmt.Errorf("identity: unbound handle: %w", attribute.ErrNotTrackable)
	}
	return h.arena.Get(h.id)
}

// Evict moves id out of the owned set. The entry lingers in limbo until the
// next resolution or sweep decides between resurrection and reclamation.
func (a *Arena) Evict(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if st, ok := a.live[id]; ok {
		delete(a.live, id)
		a.limbo[id] = st
	}
}

// Remove drops id entirely, bypassing the resurrection check.
func (a *Arena) Remove(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.live, id)
	delete(a.limbo, id)
}

// Sweep runs the two-phase check over every limbo entry: resurrect what the
// hook recovers, reclaim the rest. It returns the ids reclaimed.
func (a *Arena) Sweep() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var reclaimed []string
	for id, st := range a.limbo {
		if a.revive != nil && a.revive(id, st) {
			a.live[id] = st
		} else {
			reclaimed = append(reclaimed, id)
		}
		delete(a.limbo, id)
	}
	sort.Strings(reclaimed)
	return reclaimed
}

// Contains reports whether id is currently owned (live, not limbo).
func (a *Arena) Contains(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.live[id]
	return ok
}

// IDs returns the sorted identifiers of owned entries.
func (a *Arena) IDs() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	ids := make([]string, 0, len(a.live))
	for id := range a.live {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of owned entries.
func (a *Arena) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.live)
}
