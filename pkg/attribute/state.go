package attribute

import (
	"maps"
	"sort"
)

// State is the per-instance transactional record for all tracked attributes
// of one entity. It holds the instance dict (current values), the baseline
// map for keys modified in the current savepoint scope, and the savepoint
// stack. State is single-writer: concurrent mutation requires external
// synchronization, matching one unit of work per logical transaction.
//
// The baseline map records, per modified key, the value the attribute held
// when it was first modified after the last commit or the nearest enclosing
// savepoint, whichever is later. NoValue baselines mark keys that had never
// been loaded. CommittedState exposes this map.
type State struct {
	class *Class

	// values is the backing dict holding current attribute values. The
	// location is pluggable: collaborators may supply their own map via
	// NewStateWithDict so tracked values live where the identity map wants
	// them.
	values map[string]any

	baseline   map[string]any
	savepoints []map[string]any

	hasParent map[string]bool
	modified  bool
	onModify  func()
}

func newState(class *Class, dict map[string]any) *State {
	if dict == nil {
		dict = make(map[string]any)
	}
	return &State{
		class:    class,
		values:   dict,
		baseline: make(map[string]any),
	}
}

// Class returns the registered class this state belongs to.
func (st *State) Class() *Class { return st.class }

// Dict exposes the backing dict holding current attribute values.
func (st *State) Dict() map[string]any { return st.values }

// Modified reports whether any attribute changed since the last commit.
func (st *State) Modified() bool { return st.modified }

// OnModify installs a callback fired on every recorded mutation. The session
// layer uses it for dirty tracking.
func (st *State) OnModify(fn func()) { st.onModify = fn }

func (st *State) markModified() {
	st.modified = true
	if st.onModify != nil {
		st.onModify()
	}
}

// Set assigns value to the registered attribute key.
func (st *State) Set(key string, value any) error {
	d, err := st.descriptor(key)
	if err != nil {
		return err
	}
	return d.Set(st, value)
}

// Get reads the current value for key, lazily materializing defaults.
func (st *State) Get(key string) (any, error) {
	d, err := st.descriptor(key)
	if err != nil {
		return nil, err
	}
	return d.Get(st)
}

// Delete removes the value for key: scalars revert to NoValue, collections
// clear membership.
func (st *State) Delete(key string) error {
	d, err := st.descriptor(key)
	if err != nil {
		return err
	}
	return d.Delete(st)
}

// History computes the (added, unchanged, deleted) partition for key. Pure
// read: calling it twice without intervening mutation yields equal results.
func (st *State) History(key string) (History, error) {
	d, err := st.descriptor(key)
	if err != nil {
		return History{}, err
	}
	return computeHistory(d, st), nil
}

// CommitAll promotes every pending value to committed state, discards all
// baselines and invalidates the entire savepoint stack.
func (st *State) CommitAll() {
	st.baseline = make(map[string]any)
	st.savepoints = nil
	st.modified = false
}

// CommitKeys commits the given keys only. The savepoint stack is still
// cleared unconditionally, mirroring CommitAll; savepoint layers recorded
// for untouched keys do not survive a partial commit.
func (st *State) CommitKeys(keys ...string) {
	for _, key := range keys {
		delete(st.baseline, key)
	}
	st.savepoints = nil
	if len(st.baseline) == 0 {
		st.modified = false
	}
}

// SetSavepoint pushes the current modification scope onto the savepoint
// stack and opens a fresh one. The snapshot is a shallow copy of the
// baseline map, not a deep copy of mutable values.
func (st *State) SetSavepoint() {
	st.savepoints = append(st.savepoints, st.baseline)
	st.baseline = make(map[string]any)
}

// RemoveSavepoint discards the most recent savepoint without restoring:
// changes made after it roll forward into the next-outer scope. Baselines
// recorded by the outer scope win over inner ones, since they are older.
func (st *State) RemoveSavepoint() error {
	if len(st.savepoints) == 0 {
		return ErrNoSavepoint
	}
	outer := st.savepoints[len(st.savepoints)-1]
	st.savepoints = st.savepoints[:len(st.savepoints)-1]
	for key, value := range st.baseline {
		if _, ok := outer[key]; !ok {
			outer[key] = value
		}
	}
	st.baseline = outer
	return nil
}

// Rollback reverts the innermost modification scope. With savepoints open it
// peels one layer, restoring values modified since the savepoint; with none
// it reverts everything to committed state. Rolling back with nothing
// pending is a no-op, not an error.
func (st *State) Rollback() {
	for key, value := range st.baseline {
		st.restoreValue(key, value)
	}
	if len(st.savepoints) > 0 {
		st.baseline = st.savepoints[len(st.savepoints)-1]
		st.savepoints = st.savepoints[:len(st.savepoints)-1]
	} else {
		st.baseline = make(map[string]any)
		st.modified = false
	}
}

func (st *State) restoreValue(key string, value any) {
	if IsNoValue(value) {
		delete(st.values, key)
		return
	}
	if snapshot, ok := value.(collectionSnapshot); ok {
		if coll, live := st.values[key].(*TrackedCollection); live {
			coll.replaceAll(snapshot.items)
		} else {
			d, err := st.descriptor(key)
			if err != nil {
				return
			}
			coll := newTrackedCollection(d, st, nil)
			for _, item := range snapshot.items {
				coll.AppendWithoutEvent(item)
			}
			st.values[key] = coll
		}
		return
	}
	st.values[key] = value
}

// SavepointDepth returns the number of open savepoints.
func (st *State) SavepointDepth() int { return len(st.savepoints) }

// CommittedState returns a copy of the baseline map for the current scope:
// per modified key, the value held when the key was first modified in this
// scope. Keys absent from the map are unmodified. Collection baselines are
// returned as []any snapshots.
func (st *State) CommittedState() map[string]any {
	out := make(map[string]any, len(st.baseline))
	for key, value := range st.baseline {
		if snapshot, ok := value.(collectionSnapshot); ok {
			out[key] = append([]any(nil), snapshot.items...)
			continue
		}
		out[key] = value
	}
	return out
}

// CommittedStateFull folds every open savepoint layer into one map: per key
// modified since the last commit in any scope, the value it held at that
// commit. The oldest baseline wins, matching committedValue. Flush logic uses
// it so a mid-savepoint flush still reports pre-transaction values.
func (st *State) CommittedStateFull() map[string]any {
	out := make(map[string]any, len(st.baseline))
	fold := func(layer map[string]any) {
		for key, value := range layer {
			if _, ok := out[key]; ok {
				continue
			}
			if snapshot, isColl := value.(collectionSnapshot); isColl {
				out[key] = append([]any(nil), snapshot.items...)
				continue
			}
			out[key] = value
		}
	}
	for _, layer := range st.savepoints {
		fold(layer)
	}
	fold(st.baseline)
	return out
}

// PendingKeys returns the sorted keys modified since the last commit,
// across every open savepoint scope.
func (st *State) PendingKeys() []string {
	seen := make(map[string]struct{})
	for _, layer := range st.savepoints {
		for key := range layer {
			seen[key] = struct{}{}
		}
	}
	for key := range st.baseline {
		seen[key] = struct{}{}
	}
	keys := make([]string, 0, len(seen))
	for key := range seen {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Keys returns the sorted attribute keys registered for the class.
func (st *State) Keys() []string {
	return st.class.Keys()
}

// Snapshot returns a copy of the current attribute values for persistence.
// Collections are flattened to []any membership; unmaterialized keys are
// omitted.
func (st *State) Snapshot() map[string]any {
	out := make(map[string]any, len(st.values))
	for key, value := range st.values {
		if coll, ok := value.(*TrackedCollection); ok {
			out[key] = coll.Values()
			continue
		}
		out[key] = value
	}
	return out
}

// collectionSnapshot is the baseline representation for collection keys.
type collectionSnapshot struct {
	items []any
}

// recordScalarBaseline captures the pre-modification value for key in the
// current scope. Setting a key back to its recorded baseline collapses the
// modification, except when the baseline is NoValue: a never-loaded scalar
// stays pending so rollback materializes nil rather than reverting to
// NoValue.
func (st *State) recordScalarBaseline(key string, newValue any) {
	if existing, ok := st.baseline[key]; ok {
		if !IsNoValue(existing) && valueEqual(existing, newValue) {
			delete(st.baseline, key)
		}
		return
	}
	if current, ok := st.values[key]; ok {
		st.baseline[key] = current
	} else {
		st.baseline[key] = NoValue
	}
}

// recordCollectionBaseline snapshots the current membership for key before
// its first mutation in the current scope.
func (st *State) recordCollectionBaseline(key string) {
	if _, ok := st.baseline[key]; ok {
		return
	}
	if coll, ok := st.values[key].(*TrackedCollection); ok {
		st.baseline[key] = collectionSnapshot{items: coll.Values()}
	} else {
		st.baseline[key] = NoValue
	}
}

// committedValue resolves the effective committed value for key: the oldest
// baseline across open scopes when modified, otherwise the current value.
func (st *State) committedValue(key string) any {
	if baseline, ok := st.oldestBaseline(key); ok {
		if snapshot, isColl := baseline.(collectionSnapshot); isColl {
			return append([]any(nil), snapshot.items...)
		}
		return baseline
	}
	if value, ok := st.values[key]; ok {
		if coll, isColl := value.(*TrackedCollection); isColl {
			return coll.Values()
		}
		return value
	}
	return NoValue
}

// oldestBaseline finds the baseline recorded closest to the last commit:
// savepoint layers are searched oldest-first before the current scope.
func (st *State) oldestBaseline(key string) (any, bool) {
	for _, layer := range st.savepoints {
		if value, ok := layer[key]; ok {
			return value, true
		}
	}
	value, ok := st.baseline[key]
	return value, ok
}

func (st *State) descriptor(key string) (*Descriptor, error) {
	d, ok := st.class.descriptors[key]
	if !ok {
		return nil, KeyError{Class: st.class.name, Key: key}
	}
	return d, nil
}

func (st *State) setHasParentFlag(d *Descriptor, flag bool) {
	if st.hasParent == nil {
		st.hasParent = make(map[string]bool)
	}
	st.hasParent[d.class.name+"."+d.key] = flag
}

// HasParent reports whether this state is attached to a parent through the
// given descriptor's attribute. The identity arena consults it when deciding
// whether an evicted instance can be resurrected by its owner.
func (st *State) HasParent(d *Descriptor) bool {
	return st.hasParent[d.class.name+"."+d.key]
}

// HasAnyParent reports whether any parent-tracking attribute currently owns
// this state.
func (st *State) HasAnyParent() bool {
	for _, flag := range st.hasParent {
		if flag {
			return true
		}
	}
	return false
}

func setHasParent(item any, d *Descriptor, flag bool) {
	if peer, ok := item.(*State); ok && peer != nil {
		peer.setHasParentFlag(d, flag)
	}
}

// CloneDict returns a copy of the backing dict. Test harnesses use it to
// assert on raw storage without aliasing live state.
func (st *State) CloneDict() map[string]any {
	return maps.Clone(st.values)
}
