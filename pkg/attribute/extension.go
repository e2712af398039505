package attribute

// Extension receives change events for a single attribute. The origin
// descriptor identifies which attribute started the mutation chain so
// two-way synchronization does not recurse.
type Extension interface {
	OnSet(origin *Descriptor, st *State, value, old any)
	OnAppend(origin *Descriptor, st *State, item any)
	OnRemove(origin *Descriptor, st *State, item any)
}

// NopExtension implements Extension with no behavior, for embedding.
type NopExtension struct{}

// OnSet does nothing.
func (NopExtension) OnSet(*Descriptor, *State, any, any) {}

// OnAppend does nothing.
func (NopExtension) OnAppend(*Descriptor, *State, any) {}

// OnRemove does nothing.
func (NopExtension) OnRemove(*Descriptor, *State, any) {}

// BackrefExtension keeps a two-way relationship synchronized. When a value
// changes on one side, the named attribute on the peer state is updated in
// the opposite direction: a parent holding a collection of children where
// each child references the parent, or two states holding scalar references
// to each other.
type BackrefExtension struct {
	key string
}

// NewBackref returns an extension mirroring changes onto the peer's key
// attribute.
func NewBackref(key string) *BackrefExtension {
	return &BackrefExtension{key: key}
}

// Key returns the peer attribute key kept in sync.
func (b *BackrefExtension) Key() string { return b.key }

// OnSet detaches the old peer and attaches the new one.
func (b *BackrefExtension) OnSet(origin *Descriptor, st *State, value, old any) {
	oldPeer, _ := old.(*State)
	newPeer, _ := value.(*State)
	if oldPeer == newPeer {
		return
	}
	if oldPeer != nil {
		if d, ok := oldPeer.class.descriptors[b.key]; ok {
			_ = d.remove(oldPeer, st, origin)
		}
	}
	if newPeer != nil {
		if d, ok := newPeer.class.descriptors[b.key]; ok {
			_ = d.append(newPeer, st, origin)
		}
	}
}

// OnAppend attaches this state to the appended peer.
func (b *BackrefExtension) OnAppend(origin *Descriptor, st *State, item any) {
	peer, ok := item.(*State)
	if !ok || peer == nil {
		return
	}
	if d, ok := peer.class.descriptors[b.key]; ok {
		_ = d.append(peer, st, origin)
	}
}

// OnRemove detaches this state from the removed peer.
func (b *BackrefExtension) OnRemove(origin *Descriptor, st *State, item any) {
	peer, ok := item.(*State)
	if !ok || peer == nil {
		return
	}
	if d, ok := peer.class.descriptors[b.key]; ok {
		_ = d.remove(peer, st, origin)
	}
}
