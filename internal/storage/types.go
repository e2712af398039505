// Package storage defines the persistence abstractions for flushed
// instance state. A Store holds the latest committed snapshot of every
// tracked instance plus an append-only journal of the change records
// produced by each flush. Concrete backends live under
// internal/infra/persistence; callers outside the factory depend on the
// Store interface only.
package storage

import "context"

// Driver identifies a concrete persistent storage implementation.
type Driver string

const (
	DriverMemory   Driver = "memory"   // in-memory only (tests / ephemeral)
	DriverSQLite   Driver = "sqlite"   // embedded sqlite file
	DriverPostgres Driver = "postgres" // PostgreSQL server
)

// Action classifies a change record.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// FieldDelta is the per-attribute diff carried by a change record: values
// added since the last flush, values carried over unchanged, and values
// removed.
type FieldDelta struct {
	Added     []any `json:"added,omitempty"`
	Unchanged []any `json:"unchanged,omitempty"`
	Deleted   []any `json:"deleted,omitempty"`
}

// Change captures one flushed mutation of a single instance.
type Change struct {
	Class  string                `json:"class"`
	ID     string                `json:"id"`
	Action Action                `json:"action"`
	Before map[string]any        `json:"before,omitempty"`
	After  map[string]any        `json:"after,omitempty"`
	Fields map[string]FieldDelta `json:"fields,omitempty"`
}

// InstanceRecord is the persisted form of one instance: its identifier,
// class name, and flattened attribute values (collections as []any).
type InstanceRecord struct {
	ID     string         `json:"id"`
	Class  string         `json:"class"`
	Values map[string]any `json:"values"`
}

// Snapshot is the full persisted state: every live instance keyed by id.
type Snapshot struct {
	Instances map[string]InstanceRecord `json:"instances"`
}

// Clone returns a deep copy so callers can mutate without aliasing the
// store's internal state.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{Instances: make(map[string]InstanceRecord, len(s.Instances))}
	for id, rec := range s.Instances {
		values := make(map[string]any, len(rec.Values))
		for k, v := range rec.Values {
			if items, ok := v.([]any); ok {
				cp := make([]any, len(items))
				copy(cp, items)
				values[k] = cp
				continue
			}
			values[k] = v
		}
		out.Instances[id] = InstanceRecord{ID: rec.ID, Class: rec.Class, Values: values}
	}
	return out
}

// Store persists flushed snapshots and their change journal.
type Store interface {
	// Save atomically replaces the stored snapshot and appends the change
	// records produced by the flush that built it.
	Save(ctx context.Context, snapshot Snapshot, changes []Change) error
	// Load returns the latest stored snapshot.
	Load(ctx context.Context) (Snapshot, error)
	// Changes returns the full change journal in append order.
	Changes(ctx context.Context) ([]Change, error)
	Driver() Driver
	Close() error
}
