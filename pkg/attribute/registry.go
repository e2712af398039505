package attribute

import (
	"sort"
	"sync"
)

// Class is the registered declaration of a tracked entity type: its name and
// the set of attribute descriptors keyed by attribute name. Classes are
// populated at startup and read-only afterwards.
type Class struct {
	name        string
	descriptors map[string]*Descriptor
}

// Name returns the registered class name.
func (c *Class) Name() string { return c.name }

// Descriptor returns the descriptor for key, if registered.
func (c *Class) Descriptor(key string) (*Descriptor, bool) {
	d, ok := c.descriptors[key]
	return d, ok
}

// Keys returns the sorted registered attribute keys.
func (c *Class) Keys() []string {
	keys := make([]string, 0, len(c.descriptors))
	for key := range c.descriptors {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Descriptors returns the descriptors sorted by key.
func (c *Class) Descriptors() []*Descriptor {
	out := make([]*Descriptor, 0, len(c.descriptors))
	for _, key := range c.Keys() {
		out = append(out, c.descriptors[key])
	}
	return out
}

// Registry is the process-wide mapping from class name to descriptors. All
// instance-level attribute access dispatches through it. Registration-time
// writes are mutex-guarded; once classes are registered, reads do not
// contend.
type Registry struct {
	mu      sync.RWMutex
	classes map[string]*Class
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{classes: make(map[string]*Class)}
}

// DescriptorOption configures an attribute registration.
type DescriptorOption func(*Descriptor)

// WithDefault installs a lazy default provider, executed on first unmanaged
// read.
func WithDefault(fn DefaultProvider) DescriptorOption {
	return func(d *Descriptor) { d.defaultFn = fn }
}

// WithContainer overrides the container type backing a collection attribute.
func WithContainer(fn ContainerFactory) DescriptorOption {
	return func(d *Descriptor) { d.container = fn }
}

// WithExtension attaches a change-event extension to the attribute.
func WithExtension(ext Extension) DescriptorOption {
	return func(d *Descriptor) { d.extensions = append(d.extensions, ext) }
}

// WithBackref attaches a backref extension mirroring changes onto the
// peer's key attribute.
func WithBackref(key string) DescriptorOption {
	return func(d *Descriptor) { d.extensions = append(d.extensions, NewBackref(key)) }
}

// WithParentTracking records has-parent flags on attached values so the
// identity arena can resurrect collection-owned instances.
func WithParentTracking() DescriptorOption {
	return func(d *Descriptor) { d.trackParent = true }
}

// RegisterClass declares a class. Registering the same name twice returns
// the existing class, so attribute registration can be spread across
// packages.
func (r *Registry) RegisterClass(name string) (*Class, error) {
	if name == "" {
		return nil, ConfigError{Class: name, Reason: "class name must not be empty"}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.classes[name]; ok {
		return existing, nil
	}
	class := &Class{name: name, descriptors: make(map[string]*Descriptor)}
	r.classes[name] = class
	return class, nil
}

// RegisterAttribute declares a tracked attribute for the class. Registering
// an existing key again is an error; registering it with a different
// cardinality is a configuration error called out explicitly.
func (r *Registry) RegisterAttribute(class *Class, key string, cardinality Cardinality, opts ...DescriptorOption) (*Descriptor, error) {
	if class == nil {
		return nil, ConfigError{Key: key, Reason: "class must be registered first"}
	}
	if key == "" {
		return nil, ConfigError{Class: class.name, Reason: "attribute key must not be empty"}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := class.descriptors[key]; ok {
		if existing.cardinality != cardinality {
			return nil, ConfigError{Class: class.name, Key: key, Reason: "registered twice with conflicting cardinality"}
		}
		return nil, ConfigError{Class: class.name, Key: key, Reason: "already registered"}
	}
	d := &Descriptor{class: class, key: key, cardinality: cardinality}
	for _, opt := range opts {
		opt(d)
	}
	class.descriptors[key] = d
	return d, nil
}

// Class resolves a registered class by name.
func (r *Registry) Class(name string) (*Class, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	class, ok := r.classes[name]
	return class, ok
}

// Classes returns the registered class names, sorted.
func (r *Registry) Classes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.classes))
	for name := range r.classes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewState creates transactional state for one instance of the class, with
// a hidden per-instance dict.
func (r *Registry) NewState(class *Class) *State {
	return newState(class, nil)
}

// NewStateWithDict creates state whose current values live in the supplied
// dict. Collaborators use it to control where tracked values are physically
// stored.
func (r *Registry) NewStateWithDict(class *Class, dict map[string]any) *State {
	return newState(class, dict)
}

// Get dispatches a read of key on the instance state.
func (r *Registry) Get(st *State, key string) (any, error) {
	return st.Get(key)
}

// Set dispatches a write of key on the instance state.
func (r *Registry) Set(st *State, key string, value any) error {
	return st.Set(key, value)
}

// Delete dispatches removal of key on the instance state.
func (r *Registry) Delete(st *State, key string) error {
	return st.Delete(key)
}

// GetHistory computes the change history for key on the instance state.
func (r *Registry) GetHistory(st *State, key string) (History, error) {
	return st.History(key)
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry.
func Default() *Registry { return defaultRegistry }
