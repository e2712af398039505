package attribute

// computeHistory partitions the current value(s) for a key against the
// oldest recorded baseline. It is a pure read over the state layers; no
// materialization or mutation happens here, so an untouched attribute
// reports an empty history until something reads or writes it.
func computeHistory(d *Descriptor, st *State) History {
	baseline, modified := st.oldestBaseline(d.key)
	if d.cardinality == Collection {
		return collectionHistory(st, d.key, baseline, modified)
	}
	return scalarHistory(st, d.key, baseline, modified)
}

func scalarHistory(st *State, key string, baseline any, modified bool) History {
	current, present := st.values[key]
	if !modified {
		if !present {
			return History{}
		}
		return History{Unchanged: []any{current}}
	}
	h := History{}
	if present {
		h.Added = []any{current}
	}
	if !IsNoValue(baseline) {
		h.Deleted = []any{baseline}
	}
	return h
}

func collectionHistory(st *State, key string, baseline any, modified bool) History {
	var current []any
	if coll, ok := st.values[key].(*TrackedCollection); ok {
		current = coll.Values()
	}
	if !modified {
		if len(current) == 0 {
			return History{}
		}
		return History{Unchanged: current}
	}
	var committed []any
	if snapshot, ok := baseline.(collectionSnapshot); ok {
		committed = snapshot.items
	}
	h := History{}
	for _, item := range current {
		if containsValue(committed, item) {
			h.Unchanged = append(h.Unchanged, item)
		} else {
			h.Added = append(h.Added, item)
		}
	}
	for _, item := range committed {
		if !containsValue(current, item) {
			h.Deleted = append(h.Deleted, item)
		}
	}
	return h
}

func containsValue(items []any, item any) bool {
	for _, existing := range items {
		if valueEqual(existing, item) {
			return true
		}
	}
	return false
}
