// Package core wires the attribute engine, session, storage, and archive
// tiers into a single service facade with observability hooks.
package core

import (
	"fmt"
	"os"

	"attrcore/internal/infra/persistence/memory"
	"attrcore/internal/infra/persistence/postgres"
	"attrcore/internal/infra/persistence/sqlite"
	"attrcore/internal/storage"
)

// OpenPersistentStore selects a storage backend using environment variables.
// Defaults to sqlite when unset.
//
//	ATTRCORE_STORAGE_DRIVER: memory|sqlite|postgres (default sqlite)
//	ATTRCORE_SQLITE_PATH: path to sqlite file (default ./attrcore.db)
//	ATTRCORE_POSTGRES_DSN: postgres DSN when driver=postgres
func OpenPersistentStore() (storage.Store, error) {
	driver := os.Getenv("ATTRCORE_STORAGE_DRIVER")
	if driver == "" {
		driver = string(storage.DriverSQLite)
	}
	switch storage.Driver(driver) {
	case storage.DriverMemory:
		return memory.NewStore(), nil
	case storage.DriverSQLite:
		return sqlite.NewStore(os.Getenv("ATTRCORE_SQLITE_PATH"))
	case storage.DriverPostgres:
		return postgres.NewStore(os.Getenv("ATTRCORE_POSTGRES_DSN"))
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}
