package store

import (
	"fmt"
	"regexp"
)

// Row is one persisted document: its _id and the serialized body.
type Row struct {
	ID   string
	Data []byte
}

// Backend is the row-level persistence contract the collections are built
// on. Rows are returned in insertion order; overwriting a row keeps its
// position.
type Backend interface {
	// EnsureCollection creates the collection's table if needed.
	EnsureCollection(collection string) error

	// Rows returns every row of a collection.
	Rows(collection string) ([]Row, error)

	// Insert appends a row. It fails with ErrDuplicateKey if the id exists.
	Insert(collection string, row Row) error

	// Write overwrites puts and removes deletes as one unit.
	Write(collection string, puts []Row, deletes []string) error

	// ListCollections returns the names of all collections, sorted.
	ListCollections() ([]string, error)

	// Close releases the backend.
	Close() error
}

// collectionNamePattern restricts names to SQL identifiers, which also keeps
// them safe as file names.
var collectionNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ValidateCollectionName reports whether name can be used as a collection.
func ValidateCollectionName(name string) error {
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrBadCollection, name)
	}
	return nil
}
