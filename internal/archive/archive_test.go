package archive

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

// storeContract runs the shared behavior tests against any backend.
func storeContract(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	info, err := s.Put(ctx, "snapshots/2026/flush.json", strings.NewReader(`{"instances":{}}`), PutOptions{
		ContentType: "application/json",
		Metadata:    map[string]string{"source": "flush"},
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Key != "snapshots/2026/flush.json" || info.Size != int64(len(`{"instances":{}}`)) {
		t.Fatalf("put info = %+v", info)
	}

	if _, err := s.Put(ctx, "snapshots/2026/flush.json", strings.NewReader("x"), PutOptions{}); err == nil {
		t.Fatalf("expected create-only conflict on second put")
	}

	got, rc, err := s.Get(ctx, "snapshots/2026/flush.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, err := io.ReadAll(rc)
	_ = rc.Close()
	if err != nil || string(body) != `{"instances":{}}` {
		t.Fatalf("get body = %q, %v", body, err)
	}
	if got.Size != info.Size {
		t.Fatalf("get info = %+v", got)
	}

	head, err := s.Head(ctx, "snapshots/2026/flush.json")
	if err != nil || head.Size != info.Size {
		t.Fatalf("head = %+v, %v", head, err)
	}

	if _, err := s.Put(ctx, "snapshots/2026/other.json", strings.NewReader("{}"), PutOptions{}); err != nil {
		t.Fatalf("put other: %v", err)
	}
	infos, err := s.List(ctx, "snapshots/2026/")
	if err != nil || len(infos) != 2 {
		t.Fatalf("list = %+v, %v", infos, err)
	}
	if infos[0].Key > infos[1].Key {
		t.Fatalf("list not sorted: %+v", infos)
	}

	ok, err := s.Delete(ctx, "snapshots/2026/other.json")
	if err != nil || !ok {
		t.Fatalf("delete = %v, %v", ok, err)
	}
}

func TestMemoryStoreContract(t *testing.T) {
	storeContract(t, NewMemory())
}

func TestFilesystemStoreContract(t *testing.T) {
	s, err := NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("new filesystem: %v", err)
	}
	storeContract(t, s)
}

func TestS3StoreContract(t *testing.T) {
	storeContract(t, NewS3MockForTests())
}

func TestMemoryPresignUnsupported(t *testing.T) {
	if _, err := NewMemory().PresignURL(context.Background(), "k", SignedURLOptions{}); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}

func TestFilesystemRejectsTraversalKeys(t *testing.T) {
	s, err := NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("new filesystem: %v", err)
	}
	for _, key := range []string{"", "../escape", "/abs"} {
		if _, err := s.Put(context.Background(), key, strings.NewReader("x"), PutOptions{}); err == nil {
			t.Fatalf("expected rejection for key %q", key)
		}
	}
}

func TestFilesystemPresignReturnsLocalURL(t *testing.T) {
	s, err := NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("new filesystem: %v", err)
	}
	url, err := s.PresignURL(context.Background(), "a/b", SignedURLOptions{})
	if err != nil || !strings.Contains(url, "local.archive") {
		t.Fatalf("presign = %q, %v", url, err)
	}
	if _, err := s.PresignURL(context.Background(), "a/b", SignedURLOptions{Method: "PUT"}); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported for PUT presign, got %v", err)
	}
}

func TestOpenSelectsDriverFromEnv(t *testing.T) {
	t.Setenv("ATTRCORE_ARCHIVE_DRIVER", "memory")
	s, err := Open(context.Background())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if s.Driver() != DriverMemory {
		t.Fatalf("driver = %s", s.Driver())
	}

	t.Setenv("ATTRCORE_ARCHIVE_DRIVER", "fs")
	t.Setenv("ATTRCORE_ARCHIVE_FS_ROOT", t.TempDir())
	s, err = Open(context.Background())
	if err != nil || s.Driver() != DriverFilesystem {
		t.Fatalf("open fs = %v, %v", s, err)
	}

	t.Setenv("ATTRCORE_ARCHIVE_DRIVER", "bogus")
	if _, err := Open(context.Background()); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}

func TestOpenS3RequiresBucket(t *testing.T) {
	t.Setenv("ATTRCORE_ARCHIVE_DRIVER", "s3")
	t.Setenv("ATTRCORE_ARCHIVE_S3_BUCKET", "")
	if _, err := Open(context.Background()); err == nil {
		t.Fatalf("expected missing bucket error")
	}
}
