// Package attribute implements per-instance attribute instrumentation and
// change tracking for the persistence core. Every tracked attribute of a
// registered class routes reads and writes through an explicit accessor pair
// dispatched by the Registry; the owning InstanceState records a baseline for
// each modified key so flush logic can reconstruct what changed across nested
// savepoint scopes.
package attribute

import "reflect"

// Cardinality distinguishes scalar attributes from collection-valued ones.
type Cardinality int

const (
	// Scalar marks a single-valued attribute.
	Scalar Cardinality = iota
	// Collection marks a multi-valued attribute backed by a Container.
	Collection
)

// String returns the lowercase identifier for the cardinality.
func (c Cardinality) String() string {
	switch c {
	case Scalar:
		return "scalar"
	case Collection:
		return "collection"
	default:
		return "unknown"
	}
}

type noValue struct{}

func (noValue) String() string { return "NO_VALUE" }

// NoValue is the sentinel marking "never loaded or set". It is distinct from
// an explicit nil, which is a materialized value in its own right.
var NoValue any = noValue{}

// IsNoValue reports whether v is the NoValue sentinel.
func IsNoValue(v any) bool {
	_, ok := v.(noValue)
	return ok
}

// DefaultProvider produces the initial value for an attribute on first
// unmanaged read. Scalar providers return the materialized value; collection
// providers return the initial membership.
type DefaultProvider func() (any, error)

// History partitions an attribute's current value(s) against its last
// committed value(s). Scalar attributes carry at most one element per bucket;
// collection attributes may carry several, preserving insertion order.
type History struct {
	Added     []any
	Unchanged []any
	Deleted   []any
}

// Empty reports whether no bucket carries a value.
func (h History) Empty() bool {
	return len(h.Added) == 0 && len(h.Unchanged) == 0 && len(h.Deleted) == 0
}

// HasChanges reports whether the attribute differs from its committed value.
func (h History) HasChanges() bool {
	return len(h.Added) > 0 || len(h.Deleted) > 0
}

// Equal compares two histories bucket by bucket.
func (h History) Equal(other History) bool {
	return valuesEqual(h.Added, other.Added) &&
		valuesEqual(h.Unchanged, other.Unchanged) &&
		valuesEqual(h.Deleted, other.Deleted)
}

func valuesEqual(a, b []any) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !valueEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}

// valueEqual compares attribute values without panicking on uncomparable
// types. Comparable values take the fast path; everything else falls back to
// reflect.DeepEqual.
func valueEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if reflect.TypeOf(a).Comparable() && reflect.TypeOf(b).Comparable() {
		return a == b
	}
	return reflect.DeepEqual(a, b)
}
