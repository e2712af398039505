// Package memory provides the in-memory storage backend. The durable
// backends embed it and add a persistence step after each save.
package memory

import (
	"context"
	"sync"

	"attrcore/internal/storage"
)

// Compile-time contract assertion ensuring the store satisfies the storage interface.
var _ storage.Store = (*Store)(nil)

// Store keeps the snapshot and change journal in process memory.
type Store struct {
	mu       sync.RWMutex
	snapshot storage.Snapshot
	journal  []storage.Change
}

// NewStore constructs an empty in-memory store.
func NewStore() *Store {
	return &Store{snapshot: storage.Snapshot{Instances: map[string]storage.InstanceRecord{}}}
}

func (s *Store) Driver() storage.Driver { return storage.DriverMemory }

// Save replaces the snapshot and appends changes to the journal.
func (s *Store) Save(_ context.Context, snapshot storage.Snapshot, changes []storage.Change) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = snapshot.Clone()
	s.journal = append(s.journal, changes...)
	return nil
}

// Load returns a copy of the stored snapshot.
func (s *Store) Load(_ context.Context) (storage.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot.Clone(), nil
}

// Changes returns a copy of the journal in append order.
func (s *Store) Changes(_ context.Context) ([]storage.Change, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]storage.Change, len(s.journal))
	copy(out, s.journal)
	return out, nil
}

// Close is a no-op for the in-memory backend.
func (s *Store) Close() error { return nil }

// ImportState replaces the full in-memory state. Used by durable backends
// to hydrate from disk on startup.
func (s *Store) ImportState(snapshot storage.Snapshot, journal []storage.Change) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = snapshot.Clone()
	s.journal = make([]storage.Change, len(journal))
	copy(s.journal, journal)
}

// ExportState returns the full in-memory state for serialization.
func (s *Store) ExportState() (storage.Snapshot, []storage.Change) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	journal := make([]storage.Change, len(s.journal))
	copy(journal, s.journal)
	return s.snapshot.Clone(), journal
}
