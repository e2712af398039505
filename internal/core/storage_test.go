package core

import (
	"database/sql"
	"path/filepath"
	"testing"

	"attrcore/internal/infra/persistence/postgres"
	"attrcore/internal/infra/persistence/postgres/testutil"
	"attrcore/internal/storage"
)

func TestOpenPersistentStoreMemory(t *testing.T) {
	t.Setenv("ATTRCORE_STORAGE_DRIVER", "memory")
	store, err := OpenPersistentStore()
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if store.Driver() != storage.DriverMemory {
		t.Fatalf("driver = %s", store.Driver())
	}
}

func TestOpenPersistentStoreDefaultsToSQLite(t *testing.T) {
	t.Setenv("ATTRCORE_STORAGE_DRIVER", "")
	t.Setenv("ATTRCORE_SQLITE_PATH", filepath.Join(t.TempDir(), "attrcore.db"))
	store, err := OpenPersistentStore()
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = store.Close() }()
	if store.Driver() != storage.DriverSQLite {
		t.Fatalf("driver = %s", store.Driver())
	}
}

func TestOpenPersistentStorePostgres(t *testing.T) {
	db, _ := testutil.NewStubDB()
	restore := postgres.OverrideSQLOpen(func(string, string) (*sql.DB, error) { return db, nil })
	defer restore()

	t.Setenv("ATTRCORE_STORAGE_DRIVER", "postgres")
	t.Setenv("ATTRCORE_POSTGRES_DSN", "postgres://stub/attrcore")
	store, err := OpenPersistentStore()
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = store.Close() }()
	if store.Driver() != storage.DriverPostgres {
		t.Fatalf("driver = %s", store.Driver())
	}
}

func TestOpenPersistentStoreUnknownDriver(t *testing.T) {
	t.Setenv("ATTRCORE_STORAGE_DRIVER", "bogus")
	if _, err := OpenPersistentStore(); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}
