package store

import (
	"context"
	"log/slog"
	"sync"
)

// LocalStore serves collections from a Backend in this process. It owns the
// backend and one lock per collection; every read-modify-write runs under
// the collection's write lock, so concurrent updates of the same document
// are serialized instead of racing.
type LocalStore struct {
	backend Backend
	logger  *slog.Logger

	mu          sync.Mutex
	collections map[string]*localCollection
}

// NewLocalStore wraps backend and creates the named collections up front.
// Other collections are created on first use.
func NewLocalStore(backend Backend, logger *slog.Logger, collections ...string) (*LocalStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &LocalStore{
		backend:     backend,
		logger:      logger,
		collections: make(map[string]*localCollection),
	}
	for _, name := range collections {
		if c := s.collection(name); c.err != nil {
			return nil, c.err
		}
	}
	return s, nil
}

// Collection implements Store.
func (s *LocalStore) Collection(name string) Collection {
	return s.collection(name)
}

func (s *LocalStore) collection(name string) *localCollection {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.collections[name]; ok {
		return c
	}
	c := &localCollection{
		name:    name,
		backend: s.backend,
		logger:  s.logger.With("collection", name),
	}
	if err := ValidateCollectionName(name); err != nil {
		c.err = err
		return c
	}
	if err := s.backend.EnsureCollection(name); err != nil {
		// Not cached: a later call may succeed once the backend recovers.
		c.err = err
		return c
	}
	s.collections[name] = c
	return c
}

// ListCollections implements Store.
func (s *LocalStore) ListCollections(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.backend.ListCollections()
}

// Close implements Store.
func (s *LocalStore) Close() error {
	return s.backend.Close()
}
