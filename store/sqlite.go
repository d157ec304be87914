package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/mattn/go-sqlite3"
)

// SqliteBackend stores each collection as its own table in one SQLite
// database.
//
// Tables:
//
//	<collection>(id TEXT PRIMARY KEY, data TEXT NOT NULL)
//
// Rows are read back in rowid order, which is insertion order.
type SqliteBackend struct {
	mu sync.RWMutex
	db *sql.DB
}

func NewSqliteBackend(dbPath string) (*SqliteBackend, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	// One connection: writes are serialized by SQLite anyway and this avoids
	// SQLITE_BUSY between pooled connections.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}
	return &SqliteBackend{db: db}, nil
}

func (s *SqliteBackend) Close() error {
	return s.db.Close()
}

func quoteIdent(name string) string {
	return `"` + name + `"`
}

func (s *SqliteBackend) EnsureCollection(collection string) error {
	if err := ValidateCollectionName(collection); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS ` + quoteIdent(collection) + ` (
		id TEXT PRIMARY KEY,
		data TEXT NOT NULL
	)`)
	return err
}

func (s *SqliteBackend) Rows(collection string) ([]Row, error) {
	if err := ValidateCollectionName(collection); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.Query("SELECT id, data FROM " + quoteIdent(collection) + " ORDER BY rowid")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []Row
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		result = append(result, Row{ID: id, Data: []byte(raw)})
	}
	return result, rows.Err()
}

func (s *SqliteBackend) Insert(collection string, row Row) error {
	if err := ValidateCollectionName(collection); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		"INSERT INTO "+quoteIdent(collection)+" (id, data) VALUES (?, ?)",
		row.ID, string(row.Data),
	)
	return mapSqliteError(err, row.ID)
}

func (s *SqliteBackend) Write(collection string, puts []Row, deletes []string) error {
	if err := ValidateCollectionName(collection); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after Commit
	table := quoteIdent(collection)
	for _, r := range puts {
		res, err := tx.Exec("UPDATE "+table+" SET data = ? WHERE id = ?", string(r.Data), r.ID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			if _, err := tx.Exec("INSERT INTO "+table+" (id, data) VALUES (?, ?)", r.ID, string(r.Data)); err != nil {
				return mapSqliteError(err, r.ID)
			}
		}
	}
	for _, id := range deletes {
		if _, err := tx.Exec("DELETE FROM "+table+" WHERE id = ?", id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SqliteBackend) ListCollections() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.Query("SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// mapSqliteError turns primary key violations into ErrDuplicateKey.
func mapSqliteError(err error, id string) error {
	if err == nil {
		return nil
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		if sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return fmt.Errorf("%w: _id %q", ErrDuplicateKey, id)
		}
	}
	return err
}
