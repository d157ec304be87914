package store

import (
	"fmt"
	"path/filepath"
)

// DatabaseFile is the SQLite file name inside the data directory.
const DatabaseFile = "restaurant.db"

// OpenBackend creates a Backend based on the backend name.
//
// Supported backends:
//
//	"sqlite" - SQLite database at dataDir/restaurant.db (default)
//	"json"   - one JSON file per collection in dataDir
//	"memory" - In-memory (ephemeral, for testing)
func OpenBackend(backend, dataDir string) (Backend, error) {
	switch backend {
	case "sqlite", "":
		return NewSqliteBackend(filepath.Join(dataDir, DatabaseFile))
	case "json":
		return NewJsonFileBackend(dataDir)
	case "memory":
		return NewMemoryBackend(), nil
	default:
		return nil, fmt.Errorf("unknown store backend: %q (supported: sqlite, json, memory)", backend)
	}
}
