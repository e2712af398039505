package memory

import (
	"context"
	"testing"

	"attrcore/internal/storage"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	snap := storage.Snapshot{Instances: map[string]storage.InstanceRecord{
		"u1": {ID: "u1", Class: "User", Values: map[string]any{"name": "a", "tags": []any{"x"}}},
	}}
	changes := []storage.Change{{Class: "User", ID: "u1", Action: storage.ActionCreate}}
	if err := s.Save(ctx, snap, changes); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	rec, ok := got.Instances["u1"]
	if !ok || rec.Class != "User" || rec.Values["name"] != "a" {
		t.Fatalf("loaded record = %+v", rec)
	}

	journal, err := s.Changes(ctx)
	if err != nil || len(journal) != 1 || journal[0].Action != storage.ActionCreate {
		t.Fatalf("journal = %+v, %v", journal, err)
	}
}

func TestLoadReturnsIsolatedCopy(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	snap := storage.Snapshot{Instances: map[string]storage.InstanceRecord{
		"u1": {ID: "u1", Class: "User", Values: map[string]any{"tags": []any{"x"}}},
	}}
	if err := s.Save(ctx, snap, nil); err != nil {
		t.Fatalf("save: %v", err)
	}

	first, _ := s.Load(ctx)
	first.Instances["u1"].Values["tags"].([]any)[0] = "mutated"
	delete(first.Instances, "u1")

	second, _ := s.Load(ctx)
	rec, ok := second.Instances["u1"]
	if !ok {
		t.Fatalf("mutation of loaded copy leaked into store")
	}
	if rec.Values["tags"].([]any)[0] != "x" {
		t.Fatalf("collection mutation leaked into store: %v", rec.Values["tags"])
	}
}

func TestJournalIsAppendOnly(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	empty := storage.Snapshot{Instances: map[string]storage.InstanceRecord{}}

	if err := s.Save(ctx, empty, []storage.Change{{ID: "a", Action: storage.ActionCreate}}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Save(ctx, empty, []storage.Change{{ID: "a", Action: storage.ActionDelete}}); err != nil {
		t.Fatalf("save: %v", err)
	}

	journal, _ := s.Changes(ctx)
	if len(journal) != 2 || journal[0].Action != storage.ActionCreate || journal[1].Action != storage.ActionDelete {
		t.Fatalf("journal = %+v", journal)
	}
}

func TestImportExportState(t *testing.T) {
	s := NewStore()
	snap := storage.Snapshot{Instances: map[string]storage.InstanceRecord{
		"u1": {ID: "u1", Class: "User", Values: map[string]any{"name": "a"}},
	}}
	s.ImportState(snap, []storage.Change{{ID: "u1", Action: storage.ActionCreate}})

	gotSnap, gotJournal := s.ExportState()
	if len(gotSnap.Instances) != 1 || len(gotJournal) != 1 {
		t.Fatalf("export = %+v, %+v", gotSnap, gotJournal)
	}
}
