package pos

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stevemurr/pos-server/store"
)

var (
	ErrNotImportable = errors.New("collection does not accept imports")
	ErrNoImportKey   = errors.New("record has no unique key")
)

// importKeys is the field identifying an imported record when it carries no
// _id. Only these collections accept imports.
var importKeys = map[string]string{
	Users:             "email",
	Tables:            "table_number",
	Items:             "item_name",
	Customers:         "phone_number",
	Sales:             "invoice_no",
	PickedUpItems:     "customerName",
	PosOpeningEntries: "name",
	PosClosingEntries: "name",
	SystemSettings:    store.IDField,
	Kitchens:          "kitchen_name",
	ItemGroups:        "group_name",
	CustomerGroups:    "group_name",
}

// Importable reports whether collection accepts imports.
func Importable(collection string) bool {
	_, ok := importKeys[collection]
	return ok
}

// Import upserts records into collection, matching existing documents by _id
// or by the collection's natural key, and stamps each with imported_at. It
// stops at the first failing record and returns how many were written.
func (s *Service) Import(ctx context.Context, collection string, records []store.Document) (int, error) {
	key, ok := importKeys[collection]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotImportable, collection)
	}
	c := s.store.Collection(collection)
	stamp := s.now().UTC().Format(time.RFC3339Nano)
	for i, rec := range records {
		doc := rec.Clone()
		if doc == nil {
			doc = store.Document{}
		}
		if id, ok := doc[store.IDField]; ok && id != nil {
			doc[store.IDField] = fmt.Sprint(id)
		}
		doc["imported_at"] = stamp

		var filter store.Filter
		switch {
		case doc[store.IDField] != nil:
			filter = store.Filter{store.IDField: doc[store.IDField]}
		case doc[key] != nil:
			filter = store.Filter{key: doc[key]}
		default:
			return i, fmt.Errorf("%w: record %d in %s", ErrNoImportKey, i, collection)
		}
		if _, err := c.ReplaceOne(ctx, filter, doc, store.WithUpsert(true)); err != nil {
			return i, fmt.Errorf("record %d in %s: %w", i, collection, err)
		}
	}
	s.logger.Info("import finished", "collection", collection, "records", len(records))
	return len(records), nil
}
