package store

import (
	"fmt"
	"slices"
	"sort"
	"sync"
)

// MemoryBackend keeps everything in memory. Data is lost on restart.
// Safe for concurrent use.
type MemoryBackend struct {
	mu     sync.RWMutex
	tables map[string]*memTable
	closed bool
}

type memTable struct {
	order []string
	rows  map[string][]byte
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{tables: make(map[string]*memTable)}
}

func (m *MemoryBackend) table(collection string) *memTable {
	t, ok := m.tables[collection]
	if !ok {
		t = &memTable{rows: make(map[string][]byte)}
		m.tables[collection] = t
	}
	return t
}

func (m *MemoryBackend) EnsureCollection(collection string) error {
	if err := ValidateCollectionName(collection); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.table(collection)
	return nil
}

func (m *MemoryBackend) Rows(collection string) ([]Row, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	t, ok := m.tables[collection]
	if !ok {
		return nil, nil
	}
	rows := make([]Row, 0, len(t.order))
	for _, id := range t.order {
		rows = append(rows, Row{ID: id, Data: slices.Clone(t.rows[id])})
	}
	return rows, nil
}

func (m *MemoryBackend) Insert(collection string, row Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	t := m.table(collection)
	if _, exists := t.rows[row.ID]; exists {
		return fmt.Errorf("%w: _id %q", ErrDuplicateKey, row.ID)
	}
	t.order = append(t.order, row.ID)
	t.rows[row.ID] = slices.Clone(row.Data)
	return nil
}

func (m *MemoryBackend) Write(collection string, puts []Row, deletes []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	t := m.table(collection)
	for _, r := range puts {
		if _, exists := t.rows[r.ID]; !exists {
			t.order = append(t.order, r.ID)
		}
		t.rows[r.ID] = slices.Clone(r.Data)
	}
	if len(deletes) > 0 {
		gone := make(map[string]bool, len(deletes))
		for _, id := range deletes {
			if _, exists := t.rows[id]; exists {
				gone[id] = true
				delete(t.rows, id)
			}
		}
		t.order = slices.DeleteFunc(t.order, func(id string) bool { return gone[id] })
	}
	return nil
}

func (m *MemoryBackend) ListCollections() ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.tables))
	for name := range m.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
