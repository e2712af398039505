package attribute

import "fmt"

// Descriptor declares a tracked attribute for a registered class: its key,
// cardinality, lazy default and optional extensions. Descriptors are
// immutable once registered.
type Descriptor struct {
	class       *Class
	key         string
	cardinality Cardinality
	defaultFn   DefaultProvider
	container   ContainerFactory
	extensions  []Extension
	trackParent bool
}

// Key returns the attribute key.
func (d *Descriptor) Key() string { return d.key }

// Cardinality returns whether the attribute is scalar or collection-valued.
func (d *Descriptor) Cardinality() Cardinality { return d.cardinality }

// Class returns the owning class.
func (d *Descriptor) Class() *Class { return d.class }

func (d *Descriptor) newContainer() Container {
	if d.container != nil {
		return d.container()
	}
	return NewSliceContainer()
}

// Initialize materializes the attribute on first unmanaged read. Scalars
// without a default provider materialize nil; collections materialize an
// empty tracked container. Materialized values count as freshly committed,
// never as pending modifications.
func (d *Descriptor) Initialize(st *State) (any, error) {
	if d.cardinality == Collection {
		coll := newTrackedCollection(d, st, nil)
		if d.defaultFn != nil {
			initial, err := d.defaultFn()
			if err != nil {
				return nil, fmt.Errorf("attribute: default for %q: %w", d.key, err)
			}
			for _, item := range asValues(initial) {
				coll.AppendWithoutEvent(item)
			}
		}
		st.values[d.key] = coll
		return coll, nil
	}
	if d.defaultFn != nil {
		value, err := d.defaultFn()
		if err != nil {
			return nil, fmt.Errorf("attribute: default for %q: %w", d.key, err)
		}
		st.values[d.key] = value
		return value, nil
	}
	st.values[d.key] = nil
	return nil, nil
}

// Get reads the current value, materializing a default when the attribute
// has never been loaded or set.
func (d *Descriptor) Get(st *State) (any, error) {
	if value, ok := st.values[d.key]; ok {
		return value, nil
	}
	return d.Initialize(st)
}

// GetCommitted returns the last committed value for the key, or NoValue.
// For collections the committed membership snapshot is returned.
func (d *Descriptor) GetCommitted(st *State) any {
	return st.committedValue(d.key)
}

// Set assigns a new value. For collection attributes the value is adapted
// into a tracked container; items of an existing Container or []any value
// are carried over.
func (d *Descriptor) Set(st *State, value any) error {
	return d.set(st, value, nil)
}

func (d *Descriptor) set(st *State, value any, origin *Descriptor) error {
	if origin == d {
		return nil
	}
	if d.cardinality == Collection {
		coll := newTrackedCollection(d, st, nil)
		items := asValues(value)
		for _, item := range items {
			coll.AppendWithoutEvent(item)
		}
		st.recordCollectionBaseline(d.key)
		st.values[d.key] = coll
		st.markModified()
		// Wholesale assignment adopts each item: an append event fires per
		// element so backrefs and parent flags track the new membership.
		for _, item := range items {
			d.fireAppend(origin, st, item)
		}
		return nil
	}
	old, hadOld := st.values[d.key]
	if !hadOld {
		old = NoValue
	}
	st.recordScalarBaseline(d.key, value)
	if IsNoValue(value) {
		delete(st.values, d.key)
	} else {
		st.values[d.key] = value
	}
	st.markModified()
	d.fireSet(origin, st, value, old)
	return nil
}

// Delete removes the value: scalars revert to NoValue, collections clear
// membership.
func (d *Descriptor) Delete(st *State) error {
	return d.delete(st, nil)
}

func (d *Descriptor) delete(st *State, origin *Descriptor) error {
	if origin == d {
		return nil
	}
	if d.cardinality == Collection {
		coll, err := d.collection(st)
		if err != nil {
			return err
		}
		coll.Clear()
		return nil
	}
	return d.set(st, NoValue, origin)
}

// Append adds an item to a collection attribute, or sets a scalar attribute
// to the item. Backref extensions use it to mirror changes independent of
// cardinality.
func (d *Descriptor) Append(st *State, item any) error {
	return d.append(st, item, nil)
}

func (d *Descriptor) append(st *State, item any, origin *Descriptor) error {
	if origin == d {
		return nil
	}
	if d.cardinality == Collection {
		coll, err := d.collection(st)
		if err != nil {
			return err
		}
		coll.appendWithOrigin(item, origin)
		return nil
	}
	return d.set(st, item, origin)
}

// Remove deletes an item from a collection attribute, or resets a scalar
// attribute to nil. The counterpart of Append for backref mirroring.
func (d *Descriptor) Remove(st *State, item any) error {
	return d.remove(st, item, nil)
}

func (d *Descriptor) remove(st *State, item any, origin *Descriptor) error {
	if origin == d {
		return nil
	}
	if d.cardinality == Collection {
		coll, err := d.collection(st)
		if err != nil {
			return err
		}
		coll.removeWithOrigin(item, origin)
		return nil
	}
	return d.set(st, nil, origin)
}

func (d *Descriptor) collection(st *State) (*TrackedCollection, error) {
	value, err := d.Get(st)
	if err != nil {
		return nil, err
	}
	coll, ok := value.(*TrackedCollection)
	if !ok {
		return nil, CardinalityError{Class: d.class.name, Key: d.key, Want: Collection, Got: Scalar}
	}
	return coll, nil
}

func (d *Descriptor) fireSet(origin *Descriptor, st *State, value, old any) {
	if d.trackParent {
		if !IsNoValue(value) {
			setHasParent(value, d, true)
		}
		if !IsNoValue(old) {
			setHasParent(old, d, false)
		}
	}
	if origin == nil {
		origin = d
	}
	for _, ext := range d.extensions {
		ext.OnSet(origin, st, value, old)
	}
}

func (d *Descriptor) fireAppend(origin *Descriptor, st *State, item any) {
	if d.trackParent {
		setHasParent(item, d, true)
	}
	if origin == nil {
		origin = d
	}
	for _, ext := range d.extensions {
		ext.OnAppend(origin, st, item)
	}
}

func (d *Descriptor) fireRemove(origin *Descriptor, st *State, item any) {
	if d.trackParent {
		setHasParent(item, d, false)
	}
	if origin == nil {
		origin = d
	}
	for _, ext := range d.extensions {
		ext.OnRemove(origin, st, item)
	}
}

// asValues flattens the accepted collection assignment shapes into items.
func asValues(value any) []any {
	switch v := value.(type) {
	case nil:
		return nil
	case *TrackedCollection:
		return v.Values()
	case Container:
		return append([]any(nil), v.Values()...)
	case []any:
		return v
	default:
		return []any{v}
	}
}
