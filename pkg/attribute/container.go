package attribute

// Container is the minimal capability a collection type must provide to be
// instrumented. Any ordered container implementing append, remove and
// iteration can back a collection attribute; the engine never assumes a
// concrete type.
type Container interface {
	// Append adds an item at the end of the container.
	Append(item any)
	// Remove deletes the first occurrence of item. It reports whether the
	// item was present.
	Remove(item any) bool
	// Len returns the number of items held.
	Len() int
	// Values returns the items in order. Implementations may return the
	// backing slice; callers must not mutate the result.
	Values() []any
}

// ContainerFactory produces a fresh empty Container for an attribute.
type ContainerFactory func() Container

// SliceContainer is the default slice-backed container.
type SliceContainer struct {
	items []any
}

// NewSliceContainer returns an empty slice-backed container.
func NewSliceContainer() Container {
	return &SliceContainer{}
}

// Append adds an item at the end.
func (c *SliceContainer) Append(item any) {
	c.items = append(c.items, item)
}

// Remove deletes the first occurrence of item.
func (c *SliceContainer) Remove(item any) bool {
	for i, existing := range c.items {
		if valueEqual(existing, item) {
			c.items = append(c.items[:i], c.items[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of items held.
func (c *SliceContainer) Len() int { return len(c.items) }

// Values returns the backing slice.
func (c *SliceContainer) Values() []any { return c.items }

// TrackedCollection wraps a Container so that membership mutations are
// reported to the owning InstanceState and any attribute extensions. It is
// the value stored in the instance dict for collection attributes.
type TrackedCollection struct {
	descriptor *Descriptor
	state      *State
	data       Container
}

func newTrackedCollection(d *Descriptor, st *State, data Container) *TrackedCollection {
	if data == nil {
		data = d.newContainer()
	}
	return &TrackedCollection{descriptor: d, state: st, data: data}
}

// Append adds an item, records the modification and fires append events.
func (t *TrackedCollection) Append(item any) {
	t.appendWithOrigin(item, nil)
}

// Remove deletes an item, records the modification and fires remove events.
// It reports whether the item was present.
func (t *TrackedCollection) Remove(item any) bool {
	return t.removeWithOrigin(item, nil)
}

func (t *TrackedCollection) appendWithOrigin(item any, origin *Descriptor) {
	t.state.recordCollectionBaseline(t.descriptor.key)
	t.data.Append(item)
	t.descriptor.fireAppend(origin, t.state, item)
}

func (t *TrackedCollection) removeWithOrigin(item any, origin *Descriptor) bool {
	t.state.recordCollectionBaseline(t.descriptor.key)
	removed := t.data.Remove(item)
	if removed {
		t.descriptor.fireRemove(origin, t.state, item)
	}
	return removed
}

// AppendWithoutEvent adds an item without recording history or firing
// events. Loaders use it to populate committed membership.
func (t *TrackedCollection) AppendWithoutEvent(item any) {
	t.data.Append(item)
}

// Clear removes every item, firing remove events per element.
func (t *TrackedCollection) Clear() {
	for _, item := range append([]any(nil), t.data.Values()...) {
		t.Remove(item)
	}
}

// Len returns the number of items held.
func (t *TrackedCollection) Len() int { return t.data.Len() }

// Values returns a copy of the current membership in order.
func (t *TrackedCollection) Values() []any {
	return append([]any(nil), t.data.Values()...)
}

// Contains reports whether item is currently a member.
func (t *TrackedCollection) Contains(item any) bool {
	for _, existing := range t.data.Values() {
		if valueEqual(existing, item) {
			return true
		}
	}
	return false
}

// replaceAll swaps the membership without firing events. Rollback restores
// the baseline contents in place so outstanding references stay valid.
func (t *TrackedCollection) replaceAll(items []any) {
	fresh := t.descriptor.newContainer()
	for _, item := range items {
		fresh.Append(item)
	}
	t.data = fresh
}
