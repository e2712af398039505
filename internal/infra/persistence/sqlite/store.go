// Package sqlite provides a SQLite-backed storage backend. It persists the
// snapshot and change journal to a single table as JSON blobs after every
// successful save.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"attrcore/internal/infra/persistence/memory"
	"attrcore/internal/storage"
)

var _ storage.Store = (*Store)(nil)

const (
	bucketInstances = "instances"
	bucketChanges   = "changes"
)

// Store persists the in-memory state to a SQLite file as JSON blobs.
type Store struct {
	*memory.Store
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// NewStore opens (or creates) the SQLite file at path and hydrates the
// in-memory state from any existing snapshot. An empty path falls back to
// attrcore.db in the working directory.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = "attrcore.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("create state table: %w", err)
	}
	s := &Store{Store: memory.NewStore(), db: db, path: path}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Driver() storage.Driver { return storage.DriverSQLite }

func (s *Store) load() error {
	rows, err := s.db.Query(`SELECT bucket, payload FROM state`)
	if err != nil {
		return fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	snapshot := storage.Snapshot{Instances: map[string]storage.InstanceRecord{}}
	var journal []storage.Change
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			return fmt.Errorf("scan state: %w", err)
		}
		if len(payload) == 0 {
			continue
		}
		switch bucket {
		case bucketInstances:
			if err := json.Unmarshal(payload, &snapshot.Instances); err != nil {
				return fmt.Errorf("decode instances: %w", err)
			}
		case bucketChanges:
			if err := json.Unmarshal(payload, &journal); err != nil {
				return fmt.Errorf("decode changes: %w", err)
			}
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate state: %w", err)
	}
	s.ImportState(snapshot, journal)
	return nil
}

func (s *Store) persist(ctx context.Context) (retErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot, journal := s.ExportState()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	for _, b := range orderedBuckets(snapshot, journal) {
		data, err := json.Marshal(b.value)
		if err != nil {
			retErr = fmt.Errorf("encode %s: %w", b.name, err)
			return retErr
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO state(bucket,payload) VALUES(?,?) ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload`, b.name, data); err != nil {
			retErr = fmt.Errorf("upsert %s: %w", b.name, err)
			return retErr
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type bucketPayload struct {
	name  string
	value any
}

func orderedBuckets(snapshot storage.Snapshot, journal []storage.Change) []bucketPayload {
	return []bucketPayload{
		{name: bucketInstances, value: snapshot.Instances},
		{name: bucketChanges, value: journal},
	}
}

// Save updates the in-memory state, then snapshots it to SQLite.
func (s *Store) Save(ctx context.Context, snapshot storage.Snapshot, changes []storage.Change) error {
	if err := s.Store.Save(ctx, snapshot, changes); err != nil {
		return err
	}
	return s.persist(ctx)
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }
