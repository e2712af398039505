package session

import (
	"context"
	"errors"
	"testing"

	"attrcore/internal/infra/persistence/memory"
	"attrcore/internal/storage"
	"attrcore/pkg/attribute"
)

func newFixture(t *testing.T) (*attribute.Registry, *attribute.Class, *Session, *memory.Store) {
	t.Helper()
	r := attribute.NewRegistry()
	class, err := r.RegisterClass("User")
	if err != nil {
		t.Fatalf("register class: %v", err)
	}
	if _, err := r.RegisterAttribute(class, "name", attribute.Scalar); err != nil {
		t.Fatalf("register name: %v", err)
	}
	if _, err := r.RegisterAttribute(class, "tags", attribute.Collection); err != nil {
		t.Fatalf("register tags: %v", err)
	}
	store := memory.NewStore()
	return r, class, New(store, nil), store
}

func set(t *testing.T, st *attribute.State, key string, v any) {
	t.Helper()
	if err := st.Set(key, v); err != nil {
		t.Fatalf("set %s: %v", key, err)
	}
}

func TestTrackClassifiesNewInstances(t *testing.T) {
	r, class, s, _ := newFixture(t)
	st := r.NewState(class)
	if _, err := s.Track("u1", st); err != nil {
		t.Fatalf("track: %v", err)
	}

	if got := s.New(); len(got) != 1 || got[0] != "u1" {
		t.Fatalf("new = %v", got)
	}
	if got := s.Dirty(); len(got) != 0 {
		t.Fatalf("dirty = %v", got)
	}
	if s.Len() != 1 {
		t.Fatalf("len = %d", s.Len())
	}
}

func TestMutationMarksLoadedInstanceDirty(t *testing.T) {
	r, class, s, _ := newFixture(t)
	st := r.NewState(class)
	set(t, st, "name", "a")
	st.CommitAll()
	if _, err := s.TrackLoaded("u1", st); err != nil {
		t.Fatalf("track loaded: %v", err)
	}

	if got := s.Dirty(); len(got) != 0 {
		t.Fatalf("loaded instance already dirty: %v", got)
	}
	set(t, st, "name", "b")
	if got := s.Dirty(); len(got) != 1 || got[0] != "u1" {
		t.Fatalf("dirty = %v", got)
	}
}

func TestDuplicateTrackFails(t *testing.T) {
	r, class, s, _ := newFixture(t)
	st := r.NewState(class)
	if _, err := s.Track("u1", st); err != nil {
		t.Fatalf("track: %v", err)
	}
	if _, err := s.Track("u1", r.NewState(class)); err == nil {
		t.Fatalf("expected duplicate track error")
	}
}

func TestFlushInsideNestedScopeReportsCommittedBefore(t *testing.T) {
	r, class, s, _ := newFixture(t)
	ctx := context.Background()
	st := r.NewState(class)
	set(t, st, "name", "a")
	if _, err := s.Track("u1", st); err != nil {
		t.Fatalf("track: %v", err)
	}
	if _, err := s.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}

	set(t, st, "name", "b")
	s.BeginNested()
	set(t, st, "name", "c")

	changes, err := s.Flush(ctx)
	if err != nil {
		t.Fatalf("nested flush: %v", err)
	}
	if len(changes) != 1 || changes[0].Action != storage.ActionUpdate {
		t.Fatalf("changes = %+v", changes)
	}
	if changes[0].Before["name"] != "a" {
		t.Fatalf("before = %v, want last committed value", changes[0].Before)
	}
	if changes[0].After["name"] != "c" {
		t.Fatalf("after = %v", changes[0].After)
	}
}

func TestFlushCreatesThenUpdates(t *testing.T) {
	r, class, s, store := newFixture(t)
	ctx := context.Background()
	st := r.NewState(class)
	set(t, st, "name", "a")
	if _, err := s.Track("u1", st); err != nil {
		t.Fatalf("track: %v", err)
	}

	changes, err := s.Flush(ctx)
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if len(changes) != 1 || changes[0].Action != storage.ActionCreate || changes[0].ID != "u1" {
		t.Fatalf("changes = %+v", changes)
	}
	delta, ok := changes[0].Fields["name"]
	if !ok || len(delta.Added) != 1 || delta.Added[0] != "a" {
		t.Fatalf("create delta = %+v", delta)
	}
	if len(s.New()) != 0 || len(s.Dirty()) != 0 {
		t.Fatalf("flush must clear pending sets")
	}
	if st.Modified() {
		t.Fatalf("flush must commit attribute state")
	}

	set(t, st, "name", "b")
	changes, err = s.Flush(ctx)
	if err != nil {
		t.Fatalf("second flush: %v", err)
	}
	if len(changes) != 1 || changes[0].Action != storage.ActionUpdate {
		t.Fatalf("changes = %+v", changes)
	}
	if changes[0].Before["name"] != "a" || changes[0].After["name"] != "b" {
		t.Fatalf("update before/after = %v / %v", changes[0].Before, changes[0].After)
	}

	snap, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if snap.Instances["u1"].Values["name"] != "b" {
		t.Fatalf("persisted snapshot = %+v", snap.Instances["u1"])
	}
}

func TestFlushDeleteRemovesInstance(t *testing.T) {
	r, class, s, store := newFixture(t)
	ctx := context.Background()
	st := r.NewState(class)
	set(t, st, "name", "a")
	if _, err := s.Track("u1", st); err != nil {
		t.Fatalf("track: %v", err)
	}
	if _, err := s.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}

	if err := s.MarkDeleted("u1"); err != nil {
		t.Fatalf("mark deleted: %v", err)
	}
	changes, err := s.Flush(ctx)
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if len(changes) != 1 || changes[0].Action != storage.ActionDelete {
		t.Fatalf("changes = %+v", changes)
	}
	if changes[0].Before["name"] != "a" {
		t.Fatalf("delete before = %v", changes[0].Before)
	}
	if s.Len() != 0 {
		t.Fatalf("deleted instance still tracked")
	}
	if _, err := s.Get("u1"); !errors.Is(err, attribute.ErrNotTrackable) {
		t.Fatalf("expected ErrNotTrackable after delete, got %v", err)
	}

	snap, _ := store.Load(ctx)
	if len(snap.Instances) != 0 {
		t.Fatalf("snapshot still holds deleted instance: %+v", snap)
	}
}

func TestDeleteBeforeFirstFlushSkipsCreate(t *testing.T) {
	r, class, s, _ := newFixture(t)
	st := r.NewState(class)
	if _, err := s.Track("u1", st); err != nil {
		t.Fatalf("track: %v", err)
	}
	if err := s.MarkDeleted("u1"); err != nil {
		t.Fatalf("mark deleted: %v", err)
	}

	changes, err := s.Flush(context.Background())
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	for _, c := range changes {
		if c.Action == storage.ActionCreate {
			t.Fatalf("create emitted for deleted new instance: %+v", changes)
		}
	}
}

func TestNestedScopeRollback(t *testing.T) {
	r, class, s, _ := newFixture(t)
	st := r.NewState(class)
	set(t, st, "name", "a")
	st.CommitAll()
	if _, err := s.TrackLoaded("u1", st); err != nil {
		t.Fatalf("track loaded: %v", err)
	}

	set(t, st, "name", "b")
	s.BeginNested()
	set(t, st, "name", "c")

	s.Rollback()
	v, _ := st.Get("name")
	if v != "b" {
		t.Fatalf("name after nested rollback = %v, want b", v)
	}

	s.Rollback()
	v, _ = st.Get("name")
	if v != "a" {
		t.Fatalf("name after top-level rollback = %v, want a", v)
	}
	if len(s.Dirty()) != 0 {
		t.Fatalf("top-level rollback must clear dirty set")
	}
}

func TestReleaseNestedRollsChangeForward(t *testing.T) {
	r, class, s, _ := newFixture(t)
	st := r.NewState(class)
	set(t, st, "name", "a")
	st.CommitAll()
	if _, err := s.TrackLoaded("u1", st); err != nil {
		t.Fatalf("track loaded: %v", err)
	}

	s.BeginNested()
	set(t, st, "name", "b")
	if err := s.ReleaseNested(); err != nil {
		t.Fatalf("release nested: %v", err)
	}

	s.Rollback()
	v, _ := st.Get("name")
	if v != "a" {
		t.Fatalf("name = %v, want a after release then rollback", v)
	}
}

func TestReleaseNestedWithoutScopeIsUsageError(t *testing.T) {
	_, _, s, _ := newFixture(t)
	if err := s.ReleaseNested(); !errors.Is(err, attribute.ErrNoSavepoint) {
		t.Fatalf("expected ErrNoSavepoint, got %v", err)
	}
}

func TestTrackInsideNestedScopeAlignsDepth(t *testing.T) {
	r, class, s, _ := newFixture(t)
	s.BeginNested()

	st := r.NewState(class)
	if _, err := s.Track("u1", st); err != nil {
		t.Fatalf("track: %v", err)
	}
	if st.SavepointDepth() != 1 {
		t.Fatalf("savepoint depth = %d, want 1", st.SavepointDepth())
	}
}

func TestFlushCollectsCollectionDeltas(t *testing.T) {
	r, class, s, _ := newFixture(t)
	ctx := context.Background()
	st := r.NewState(class)
	coll, err := st.Get("tags")
	if err != nil {
		t.Fatalf("get tags: %v", err)
	}
	coll.(*attribute.TrackedCollection).Append("x")
	if _, err := s.Track("u1", st); err != nil {
		t.Fatalf("track: %v", err)
	}

	changes, err := s.Flush(ctx)
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	delta, ok := changes[0].Fields["tags"]
	if !ok || len(delta.Added) != 1 || delta.Added[0] != "x" {
		t.Fatalf("tags delta = %+v", delta)
	}
	after, ok := changes[0].After["tags"].([]any)
	if !ok || len(after) != 1 {
		t.Fatalf("after tags = %v", changes[0].After["tags"])
	}
}
