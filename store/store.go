// Package store implements the embedded document store: MongoDB-style
// collections (find, insert, update operators, array filters, upserts) on top
// of a row table where each row is an id and a serialized JSON document.
package store

import "context"

// Document is a schema-less record. Every stored document carries a string
// "_id" field.
type Document map[string]any

// ID returns the document's identity, or "" if it has none.
func (d Document) ID() string {
	id, _ := d[IDField].(string)
	return id
}

// Filter selects documents. Top-level keys are ANDed equality tests, except
// "$or" whose value is a list of sub-filters.
type Filter map[string]any

// Update is a set of update operators ($set, $unset, $inc, $pull) keyed by
// operator name.
type Update map[string]any

// IDField is the name of the identity field.
const IDField = "_id"

// InsertOneResult is returned by InsertOne.
type InsertOneResult struct {
	InsertedID string
}

// UpdateResult is returned by UpdateOne, UpdateMany and ReplaceOne.
type UpdateResult struct {
	MatchedCount  int
	ModifiedCount int
	// UpsertedID is set when an upsert inserted a new document.
	UpsertedID string
}

// DeleteResult is returned by DeleteOne.
type DeleteResult struct {
	DeletedCount int
}

// Options controls UpdateOne, ReplaceOne and FindOneAndUpdate.
type Options struct {
	ArrayFilters []Filter
	Upsert       bool
	ReturnNew    bool
}

// Option mutates Options.
type Option func(*Options)

// WithArrayFilters supplies the predicates for "$[ident]" placeholders in $set
// paths.
func WithArrayFilters(filters ...Filter) Option {
	return func(o *Options) { o.ArrayFilters = append(o.ArrayFilters, filters...) }
}

// WithUpsert makes ReplaceOne and FindOneAndUpdate insert when nothing matches.
func WithUpsert(upsert bool) Option {
	return func(o *Options) { o.Upsert = upsert }
}

// WithReturnNew selects whether FindOneAndUpdate returns the document after
// (true, the default) or before the update.
func WithReturnNew(returnNew bool) Option {
	return func(o *Options) { o.ReturnNew = returnNew }
}

func buildOptions(opts []Option) Options {
	o := Options{ReturnNew: true}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// Collection is the operation contract shared by the local and the remote
// store. A zero match is not an error: counts are 0 and documents are nil.
type Collection interface {
	// Name returns the collection name.
	Name() string

	// InsertOne stores doc, generating an _id if it has none.
	InsertOne(ctx context.Context, doc Document) (InsertOneResult, error)

	// Find returns every matching document in storage order.
	Find(ctx context.Context, filter Filter) ([]Document, error)

	// FindOne returns the first matching document, or nil.
	FindOne(ctx context.Context, filter Filter) (Document, error)

	// UpdateOne applies update to the first matching document.
	UpdateOne(ctx context.Context, filter Filter, update Update, opts ...Option) (UpdateResult, error)

	// UpdateMany applies update to every matching document.
	UpdateMany(ctx context.Context, filter Filter, update Update) (UpdateResult, error)

	// DeleteOne removes the first matching document.
	DeleteOne(ctx context.Context, filter Filter) (DeleteResult, error)

	// ReplaceOne overwrites the body of the first matching document, keeping
	// its _id.
	ReplaceOne(ctx context.Context, filter Filter, doc Document, opts ...Option) (UpdateResult, error)

	// FindOneAndUpdate updates the first matching document and returns it.
	FindOneAndUpdate(ctx context.Context, filter Filter, update Update, opts ...Option) (Document, error)
}

// Store hands out collections by name.
type Store interface {
	// Collection returns the named collection. Invalid names yield a
	// collection whose operations fail with ErrBadCollection.
	Collection(name string) Collection

	// ListCollections returns the names of all collections.
	ListCollections(ctx context.Context) ([]string, error)

	// Close releases the underlying resources.
	Close() error
}
