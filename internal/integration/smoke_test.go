package integration

import (
	"context"
	"encoding/json"
	"io"
	"path/filepath"
	"testing"

	"attrcore/internal/archive"
	"attrcore/internal/core"
	"attrcore/internal/infra/persistence/memory"
	"attrcore/internal/infra/persistence/sqlite"
	"attrcore/internal/storage"
	"attrcore/pkg/attribute"
)

func newRegistry(t *testing.T) *attribute.Registry {
	t.Helper()
	r := attribute.NewRegistry()
	class, err := r.RegisterClass("Account")
	if err != nil {
		t.Fatalf("register class: %v", err)
	}
	if _, err := r.RegisterAttribute(class, "owner", attribute.Scalar); err != nil {
		t.Fatalf("register owner: %v", err)
	}
	if _, err := r.RegisterAttribute(class, "labels", attribute.Collection); err != nil {
		t.Fatalf("register labels: %v", err)
	}
	return r
}

// TestIntegrationSmoke exercises a minimal end-to-end write/flush/archive
// cycle for each supported in-process storage and archive backend. It
// intentionally keeps scope tiny so it can act as a fast CI health check.
func TestIntegrationSmoke(t *testing.T) {
	ctx := context.Background()

	storeVariants := []struct {
		name string
		open func(t *testing.T) storage.Store
	}{
		{
			name: "memory-store",
			open: func(*testing.T) storage.Store { return memory.NewStore() },
		},
		{
			name: "sqlite-store",
			open: func(t *testing.T) storage.Store {
				s, err := sqlite.NewStore(filepath.Join(t.TempDir(), "smoke.db"))
				if err != nil {
					t.Fatalf("new sqlite store: %v", err)
				}
				t.Cleanup(func() { _ = s.Close() })
				return s
			},
		},
	}
	archiveVariants := []struct {
		name string
		open func(t *testing.T) archive.Store
	}{
		{
			name: "memory-archive",
			open: func(*testing.T) archive.Store { return archive.NewMemory() },
		},
		{
			name: "fs-archive",
			open: func(t *testing.T) archive.Store {
				a, err := archive.NewFilesystem(t.TempDir())
				if err != nil {
					t.Fatalf("new fs archive: %v", err)
				}
				return a
			},
		},
	}

	for _, sv := range storeVariants {
		for _, av := range archiveVariants {
			t.Run(sv.name+"/"+av.name, func(t *testing.T) {
				metrics := core.NewExpvarMetricsRecorder("")
				svc := core.NewService(newRegistry(t), sv.open(t),
					core.WithArchive(av.open(t)),
					core.WithMetricsRecorder(metrics),
				)

				st, err := svc.CreateInstance(ctx, "Account", "a1")
				if err != nil {
					t.Fatalf("create: %v", err)
				}
				if err := st.Set("owner", "ops"); err != nil {
					t.Fatalf("set owner: %v", err)
				}
				coll, err := st.Get("labels")
				if err != nil {
					t.Fatalf("get labels: %v", err)
				}
				coll.(*attribute.TrackedCollection).Append("prod")

				changes, err := svc.Flush(ctx)
				if err != nil || len(changes) != 1 {
					t.Fatalf("flush = %+v, %v", changes, err)
				}

				info, err := svc.ArchiveSnapshot(ctx, "smoke/export.json")
				if err != nil {
					t.Fatalf("archive: %v", err)
				}
				gotInfo, body, err := readArchive(ctx, t, svc, info.Key)
				if err != nil {
					t.Fatalf("read archive: %v", err)
				}
				if gotInfo.Size == 0 {
					t.Fatalf("archived document empty")
				}
				var doc struct {
					Snapshot storage.Snapshot `json:"snapshot"`
				}
				if err := json.Unmarshal(body, &doc); err != nil {
					t.Fatalf("decode archived document: %v", err)
				}
				if doc.Snapshot.Instances["a1"].Values["owner"] != "ops" {
					t.Fatalf("archived snapshot = %+v", doc.Snapshot)
				}

				snap := metrics.Snapshot()
				if snap.Results["flush"]["success"] != 1 {
					t.Fatalf("flush metrics = %+v", snap.Results)
				}
			})
		}
	}
}

func readArchive(ctx context.Context, t *testing.T, svc *core.Service, key string) (archive.Info, []byte, error) {
	t.Helper()
	info, rc, err := svc.Archive().Get(ctx, key)
	if err != nil {
		return archive.Info{}, nil, err
	}
	defer func() { _ = rc.Close() }()
	body, err := io.ReadAll(rc)
	return info, body, err
}

// TestSQLiteSurvivesReopen verifies flushed state hydrates after reopening
// the database file.
func TestSQLiteSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "reopen.db")

	first, err := sqlite.NewStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	svc := core.NewService(newRegistry(t), first)
	st, err := svc.CreateInstance(ctx, "Account", "a1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := st.Set("owner", "ops"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := svc.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	second, err := sqlite.NewStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = second.Close() }()
	revived := core.NewService(newRegistry(t), second)
	if err := revived.Hydrate(ctx); err != nil {
		t.Fatalf("hydrate: %v", err)
	}
	got, err := revived.GetInstance("a1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	v, _ := got.Get("owner")
	if v != "ops" {
		t.Fatalf("owner after reopen = %v", v)
	}
}
