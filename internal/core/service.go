package core

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"attrcore/internal/archive"
	"attrcore/internal/session"
	"attrcore/internal/storage"
	"attrcore/pkg/attribute"
	"attrcore/pkg/identity"
)

// Service exposes the instrumented-attribute engine behind a transactional
// facade: instance lifecycle, nested scopes, flush, and snapshot archival.
type Service struct {
	registry *attribute.Registry
	store    storage.Store
	session  *session.Session
	archive  archive.Store
	metrics  MetricsRecorder
	logger   Logger
	hook     identity.ResurrectionHook
}

// ServiceOption customizes service construction.
type ServiceOption func(*Service)

// WithMetricsRecorder attaches a metrics recorder to the service.
func WithMetricsRecorder(rec MetricsRecorder) ServiceOption {
	return func(s *Service) {
		if rec != nil {
			s.metrics = rec
		}
	}
}

// WithLogger attaches a logger to the service.
func WithLogger(logger Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithArchive attaches an archive store for snapshot export.
func WithArchive(store archive.Store) ServiceOption {
	return func(s *Service) { s.archive = store }
}

// WithResurrectionHook sets the arena resurrection hook used for evicted
// instances.
func WithResurrectionHook(hook identity.ResurrectionHook) ServiceOption {
	return func(s *Service) { s.hook = hook }
}

// NewService constructs a service over the given registry and store.
func NewService(registry *attribute.Registry, store storage.Store, opts ...ServiceOption) *Service {
	s := &Service{
		registry: registry,
		store:    store,
		metrics:  noopMetricsRecorder{},
		logger:   noopLogger{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.session = session.New(store, s.hook)
	return s
}

// Registry returns the attribute registry backing the service.
func (s *Service) Registry() *attribute.Registry { return s.registry }

// Session returns the underlying unit of work.
func (s *Service) Session() *session.Session { return s.session }

// Store returns the underlying storage backend.
func (s *Service) Store() storage.Store { return s.store }

// Archive returns the configured archive store, or nil when unset.
func (s *Service) Archive() archive.Store { return s.archive }

func (s *Service) observe(ctx context.Context, op string, start time.Time, err error) {
	s.metrics.Observe(ctx, op, err == nil, time.Since(start))
}

// CreateInstance constructs state for the named class and tracks it as new.
func (s *Service) CreateInstance(ctx context.Context, className, id string) (st *attribute.State, err error) {
	defer func(start time.Time) { s.observe(ctx, "create_instance", start, err) }(time.Now())
	class, ok := s.registry.Class(className)
	if !ok {
		return nil, attribute.ConfigError{Class: className, Reason: "class not registered"}
	}
	st = s.registry.NewState(class)
	if _, err = s.session.Track(id, st); err != nil {
		return nil, err
	}
	s.logger.Debug("instance created", "class", className, "id", id)
	return st, nil
}

// GetInstance resolves a tracked instance by identifier.
func (s *Service) GetInstance(id string) (*attribute.State, error) {
	return s.session.Get(id)
}

// DeleteInstance schedules a tracked instance for deletion at the next flush.
func (s *Service) DeleteInstance(ctx context.Context, id string) (err error) {
	defer func(start time.Time) { s.observe(ctx, "delete_instance", start, err) }(time.Now())
	return s.session.MarkDeleted(id)
}

// Hydrate loads the stored snapshot and tracks every instance as committed.
func (s *Service) Hydrate(ctx context.Context) (err error) {
	defer func(start time.Time) { s.observe(ctx, "hydrate", start, err) }(time.Now())
	snap, err := s.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	for id, rec := range snap.Instances {
		class, ok := s.registry.Class(rec.Class)
		if !ok {
			return attribute.ConfigError{Class: rec.Class, Reason: "class not registered"}
		}
		st := s.registry.NewState(class)
		keys := make([]string, 0, len(rec.Values))
		for key, value := range rec.Values {
			if err := st.Set(key, value); err != nil {
				return fmt.Errorf("hydrate %s.%s: %w", id, key, err)
			}
			keys = append(keys, key)
		}
		st.CommitKeys(keys...)
		if _, err := s.session.TrackLoaded(id, st); err != nil {
			return err
		}
	}
	s.logger.Info("hydrated snapshot", "instances", len(snap.Instances))
	return nil
}

// Flush persists pending changes and returns the emitted change records.
func (s *Service) Flush(ctx context.Context) (changes []session.Change, err error) {
	defer func(start time.Time) { s.observe(ctx, "flush", start, err) }(time.Now())
	changes, err = s.session.Flush(ctx)
	if err != nil {
		s.logger.Error("flush failed", "error", err)
		return nil, err
	}
	s.logger.Info("flushed", "changes", len(changes))
	return changes, nil
}

// Rollback reverts pending changes; inside a nested scope it peels one scope.
func (s *Service) Rollback(ctx context.Context) {
	start := time.Now()
	s.session.Rollback()
	s.observe(ctx, "rollback", start, nil)
}

// BeginNested opens a nested transaction scope.
func (s *Service) BeginNested(ctx context.Context) {
	start := time.Now()
	s.session.BeginNested()
	s.observe(ctx, "begin_nested", start, nil)
}

// ReleaseNested closes the innermost nested scope, keeping its changes.
func (s *Service) ReleaseNested(ctx context.Context) (err error) {
	defer func(start time.Time) { s.observe(ctx, "release_nested", start, err) }(time.Now())
	return s.session.ReleaseNested()
}

// Changes returns the persisted change journal.
func (s *Service) Changes(ctx context.Context) ([]storage.Change, error) {
	return s.store.Changes(ctx)
}

// archiveDocument is the JSON document written by ArchiveSnapshot.
type archiveDocument struct {
	Snapshot   storage.Snapshot `json:"snapshot"`
	Changes    []storage.Change `json:"changes"`
	ArchivedAt time.Time        `json:"archived_at"`
}

// ArchiveSnapshot exports the current stored snapshot and change journal to
// the configured archive under the given key.
func (s *Service) ArchiveSnapshot(ctx context.Context, key string) (info archive.Info, err error) {
	defer func(start time.Time) { s.observe(ctx, "archive_snapshot", start, err) }(time.Now())
	if s.archive == nil {
		return archive.Info{}, fmt.Errorf("no archive configured")
	}
	snap, err := s.store.Load(ctx)
	if err != nil {
		return archive.Info{}, fmt.Errorf("load snapshot: %w", err)
	}
	journal, err := s.store.Changes(ctx)
	if err != nil {
		return archive.Info{}, fmt.Errorf("load changes: %w", err)
	}
	doc := archiveDocument{Snapshot: snap, Changes: journal, ArchivedAt: time.Now().UTC()}
	payload, err := json.Marshal(doc)
	if err != nil {
		return archive.Info{}, fmt.Errorf("encode archive document: %w", err)
	}
	info, err = s.archive.Put(ctx, key, strings.NewReader(string(payload)), archive.PutOptions{
		ContentType: "application/json",
		Metadata:    map[string]string{"driver": string(s.store.Driver())},
	})
	if err != nil {
		return archive.Info{}, fmt.Errorf("archive put: %w", err)
	}
	s.logger.Info("archived snapshot", "key", key, "bytes", info.Size)
	return info, nil
}
