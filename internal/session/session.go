// Package session implements the unit of work that sits between instance
// attribute state and the storage backends. A session tracks instances by
// identifier through the ownership arena, classifies them as new, dirty, or
// deleted, and turns their accumulated attribute histories into change
// records on flush. Nested transaction scopes map onto attribute savepoints
// across every tracked instance.
package session

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"attrcore/internal/storage"
	"attrcore/pkg/attribute"
	"attrcore/pkg/identity"
)

// Change is the unit-of-work output persisted to the change journal.
type Change = storage.Change

// Session coordinates tracked instances and flushes their changes to a store.
type Session struct {
	mu      sync.Mutex
	store   storage.Store
	arena   *identity.Arena
	states  map[string]*attribute.State
	new     map[string]struct{}
	dirty   map[string]struct{}
	deleted map[string]struct{}
	depth   int
}

// New constructs a session backed by the given store. The resurrection hook
// is passed through to the ownership arena; it may be nil.
func New(store storage.Store, hook identity.ResurrectionHook) *Session {
	return &Session{
		store:   store,
		arena:   identity.NewArena(hook),
		states:  make(map[string]*attribute.State),
		new:     make(map[string]struct{}),
		dirty:   make(map[string]struct{}),
		deleted: make(map[string]struct{}),
	}
}

// Arena exposes the session's ownership arena.
func (s *Session) Arena() *identity.Arena { return s.arena }

// Track registers a freshly constructed instance. Its attribute state is
// treated as pending in full and the instance is flushed as a create.
func (s *Session) Track(id string, st *attribute.State) (identity.Handle, error) {
	return s.track(id, st, true)
}

// TrackLoaded registers an instance hydrated from storage. Its attribute
// state is treated as committed; only subsequent mutations dirty it.
func (s *Session) TrackLoaded(id string, st *attribute.State) (identity.Handle, error) {
	return s.track(id, st, false)
}

func (s *Session) track(id string, st *attribute.State, isNew bool) (identity.Handle, error) {
	if id == "" {
		return identity.Handle{}, fmt.Errorf("session: empty instance id")
	}
	if st == nil {
		return identity.Handle{}, fmt.Errorf("session: nil state for %q", id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.states[id]; ok {
		return identity.Handle{}, fmt.Errorf("session: %q already tracked", id)
	}
	s.states[id] = st
	if isNew {
		s.new[id] = struct{}{}
	}
	// Instances joining inside a nested scope get cushion layers so a later
	// rollback peels uniformly across all tracked states.
	for i := 0; i < s.depth; i++ {
		st.SetSavepoint()
	}
	st.OnModify(func() { s.markDirty(id) })
	return s.arena.Put(id, st), nil
}

func (s *Session) markDirty(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, tracked := s.states[id]; !tracked {
		return
	}
	s.dirty[id] = struct{}{}
}

// Get resolves a tracked instance through the arena, with its resurrection
// semantics for evicted entries.
func (s *Session) Get(id string) (*attribute.State, error) {
	return s.arena.Get(id)
}

// MarkDeleted schedules a tracked instance for deletion at the next flush.
func (s *Session) MarkDeleted(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.states[id]; !ok {
		return fmt.Errorf("session: %q not tracked", id)
	}
	s.deleted[id] = struct{}{}
	return nil
}

// New returns the sorted identifiers of instances pending creation.
func (s *Session) New() []string { return s.idSet(func() map[string]struct{} { return s.new }) }

// Dirty returns the sorted identifiers of instances with pending mutations.
func (s *Session) Dirty() []string { return s.idSet(func() map[string]struct{} { return s.dirty }) }

// Deleted returns the sorted identifiers of instances pending deletion.
func (s *Session) Deleted() []string {
	return s.idSet(func() map[string]struct{} { return s.deleted })
}

func (s *Session) idSet(pick func() map[string]struct{}) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := pick()
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of tracked instances.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.states)
}

// BeginNested opens a nested transaction scope by pushing a savepoint onto
// every tracked state.
func (s *Session) BeginNested() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.states {
		st.SetSavepoint()
	}
	s.depth++
}

// ReleaseNested closes the innermost nested scope, rolling its pending
// changes forward into the enclosing scope.
func (s *Session) ReleaseNested() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.depth == 0 {
		return attribute.ErrNoSavepoint
	}
	for _, st := range s.states {
		if err := st.RemoveSavepoint(); err != nil {
			return err
		}
	}
	s.depth--
	return nil
}

// Rollback reverts pending attribute changes. Inside a nested scope it peels
// exactly that scope; at top level it reverts everything back to the last
// flush and clears the dirty and deleted sets.
func (s *Session) Rollback() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.states {
		st.Rollback()
	}
	if s.depth > 0 {
		s.depth--
		return
	}
	s.dirty = make(map[string]struct{})
	s.deleted = make(map[string]struct{})
}

// Flush builds change records for every new, dirty, and deleted instance,
// persists the resulting snapshot and journal, and commits the attribute
// state of each flushed instance. Deleted instances leave the session.
func (s *Session) Flush(ctx context.Context) ([]Change, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var changes []Change
	for _, id := range sortedIDs(s.deleted) {
		st := s.states[id]
		changes = append(changes, Change{
			Class:  st.Class().Name(),
			ID:     id,
			Action: storage.ActionDelete,
			Before: st.Snapshot(),
		})
	}
	for _, id := range sortedIDs(s.new) {
		if _, gone := s.deleted[id]; gone {
			continue
		}
		st := s.states[id]
		fields, err := fieldDeltas(st)
		if err != nil {
			return nil, err
		}
		changes = append(changes, Change{
			Class:  st.Class().Name(),
			ID:     id,
			Action: storage.ActionCreate,
			After:  st.Snapshot(),
			Fields: fields,
		})
	}
	for _, id := range sortedIDs(s.dirty) {
		if _, gone := s.deleted[id]; gone {
			continue
		}
		if _, created := s.new[id]; created {
			continue
		}
		st := s.states[id]
		fields, err := fieldDeltas(st)
		if err != nil {
			return nil, err
		}
		if len(fields) == 0 {
			continue
		}
		changes = append(changes, Change{
			Class:  st.Class().Name(),
			ID:     id,
			Action: storage.ActionUpdate,
			Before: st.CommittedStateFull(),
			After:  st.Snapshot(),
			Fields: fields,
		})
	}

	for id := range s.deleted {
		delete(s.states, id)
		delete(s.new, id)
		delete(s.dirty, id)
		s.arena.Remove(id)
	}

	snapshot := storage.Snapshot{Instances: make(map[string]storage.InstanceRecord, len(s.states))}
	for id, st := range s.states {
		snapshot.Instances[id] = storage.InstanceRecord{
			ID:     id,
			Class:  st.Class().Name(),
			Values: st.Snapshot(),
		}
	}
	if err := s.store.Save(ctx, snapshot, changes); err != nil {
		return nil, fmt.Errorf("session: flush: %w", err)
	}

	for _, st := range s.states {
		st.CommitAll()
	}
	s.new = make(map[string]struct{})
	s.dirty = make(map[string]struct{})
	s.deleted = make(map[string]struct{})
	s.depth = 0
	return changes, nil
}

func sortedIDs(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// fieldDeltas converts per-attribute histories into the persisted diff form,
// covering every key with a pending change in any scope.
func fieldDeltas(st *attribute.State) (map[string]storage.FieldDelta, error) {
	keys := st.PendingKeys()
	if len(keys) == 0 {
		return nil, nil
	}
	fields := make(map[string]storage.FieldDelta, len(keys))
	for _, key := range keys {
		h, err := st.History(key)
		if err != nil {
			return nil, err
		}
		if h.Empty() {
			continue
		}
		fields[key] = storage.FieldDelta{Added: h.Added, Unchanged: h.Unchanged, Deleted: h.Deleted}
	}
	return fields, nil
}
