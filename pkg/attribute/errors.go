package attribute

import (
	"errors"
	"fmt"
)

// ErrNoSavepoint indicates RemoveSavepoint was called with no savepoint open.
var ErrNoSavepoint = errors.New("attribute: no savepoint to remove")

// ErrNotTrackable indicates an instance handle can no longer be resolved to
// live tracked state.
var ErrNotTrackable = errors.New("attribute: instance no longer trackable")

// KeyError reports an access to an attribute key that is not registered for
// the class.
type KeyError struct {
	Class string
	Key   string
}

func (e KeyError) Error() string {
	return fmt.Sprintf("attribute: key %q is not registered for class %q", e.Key, e.Class)
}

// ConfigError reports an invalid registration, such as a duplicate key or a
// cardinality conflict.
type ConfigError struct {
	Class  string
	Key    string
	Reason string
}

func (e ConfigError) Error() string {
	return fmt.Sprintf("attribute: class %q key %q: %s", e.Class, e.Key, e.Reason)
}

// CardinalityError reports an operation applied to an attribute of the wrong
// cardinality, such as appending to a scalar.
type CardinalityError struct {
	Class string
	Key   string
	Want  Cardinality
	Got   Cardinality
}

func (e CardinalityError) Error() string {
	return fmt.Sprintf("attribute: class %q key %q is %s, operation requires %s", e.Class, e.Key, e.Got, e.Want)
}
