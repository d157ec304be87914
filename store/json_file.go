package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// JsonFileBackend stores each collection as a separate JSON file on disk.
// A sibling .lock file guards every read-modify-write of a collection file
// against other processes sharing the directory.
//
// Layout:
//
//	data_dir/
//	  items.json        # [{"id": "...", "data": {...}}, ...]
//	  items.json.lock
//	  sales.json
type JsonFileBackend struct {
	mu          sync.RWMutex
	dir         string
	lockTimeout time.Duration
}

// jsonRow is the on-disk form of a Row.
type jsonRow struct {
	ID   string          `json:"id"`
	Data json.RawMessage `json:"data"`
}

func NewJsonFileBackend(dir string) (*JsonFileBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &JsonFileBackend{dir: dir, lockTimeout: 3 * time.Second}, nil
}

func (s *JsonFileBackend) collectionPath(collection string) string {
	return filepath.Join(s.dir, collection+".json")
}

// withLock runs fn while holding the collection's file lock, shared for
// readers and exclusive for writers.
func (s *JsonFileBackend) withLock(collection string, shared bool, fn func() error) error {
	lock := flock.New(s.collectionPath(collection) + ".lock")
	ctx, cancel := context.WithTimeout(context.Background(), s.lockTimeout)
	defer cancel()
	try := lock.TryLockContext
	if shared {
		try = lock.TryRLockContext
	}
	locked, err := try(ctx, 20*time.Millisecond)
	if err != nil {
		return fmt.Errorf("lock %s: %w", collection, err)
	}
	if !locked {
		return fmt.Errorf("lock %s: could not acquire file lock", collection)
	}
	defer func() { _ = lock.Unlock() }()
	return fn()
}

func (s *JsonFileBackend) load(collection string) ([]jsonRow, error) {
	data, err := os.ReadFile(s.collectionPath(collection))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	var rows []jsonRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSerialization, collection, err)
	}
	return rows, nil
}

// save writes the file through a temporary sibling so readers never observe
// a half-written collection.
func (s *JsonFileBackend) save(collection string, rows []jsonRow) error {
	if rows == nil {
		rows = []jsonRow{}
	}
	b, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return err
	}
	path := s.collectionPath(collection)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (s *JsonFileBackend) EnsureCollection(collection string) error {
	if err := ValidateCollectionName(collection); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.withLock(collection, false, func() error {
		if _, err := os.Stat(s.collectionPath(collection)); err == nil {
			return nil
		} else if !os.IsNotExist(err) {
			return err
		}
		return s.save(collection, nil)
	})
}

func (s *JsonFileBackend) Rows(collection string) ([]Row, error) {
	if err := ValidateCollectionName(collection); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Row
	err := s.withLock(collection, true, func() error {
		rows, err := s.load(collection)
		if err != nil {
			return err
		}
		out = make([]Row, len(rows))
		for i, r := range rows {
			out[i] = Row{ID: r.ID, Data: []byte(r.Data)}
		}
		return nil
	})
	return out, err
}

func (s *JsonFileBackend) Insert(collection string, row Row) error {
	if err := ValidateCollectionName(collection); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.withLock(collection, false, func() error {
		rows, err := s.load(collection)
		if err != nil {
			return err
		}
		for _, r := range rows {
			if r.ID == row.ID {
				return fmt.Errorf("%w: _id %q", ErrDuplicateKey, row.ID)
			}
		}
		rows = append(rows, jsonRow{ID: row.ID, Data: row.Data})
		return s.save(collection, rows)
	})
}

func (s *JsonFileBackend) Write(collection string, puts []Row, deletes []string) error {
	if err := ValidateCollectionName(collection); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.withLock(collection, false, func() error {
		rows, err := s.load(collection)
		if err != nil {
			return err
		}
		index := make(map[string]int, len(rows))
		for i, r := range rows {
			index[r.ID] = i
		}
		for _, p := range puts {
			if i, ok := index[p.ID]; ok {
				rows[i].Data = p.Data
				continue
			}
			index[p.ID] = len(rows)
			rows = append(rows, jsonRow{ID: p.ID, Data: p.Data})
		}
		if len(deletes) > 0 {
			gone := make(map[string]bool, len(deletes))
			for _, id := range deletes {
				gone[id] = true
			}
			kept := rows[:0]
			for _, r := range rows {
				if !gone[r.ID] {
					kept = append(kept, r)
				}
			}
			rows = kept
		}
		return s.save(collection, rows)
	})
}

func (s *JsonFileBackend) ListCollections() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, "_") || !strings.HasSuffix(name, ".json") {
			continue
		}
		names = append(names, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(names)
	return names, nil
}

func (s *JsonFileBackend) Close() error {
	return nil
}
