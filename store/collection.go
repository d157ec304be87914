package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// localCollection implements Collection over a Backend.
type localCollection struct {
	name    string
	backend Backend
	logger  *slog.Logger
	err     error // set when the collection could not be opened

	mu sync.RWMutex
}

type storedDoc struct {
	id  string
	doc Document
}

func (c *localCollection) Name() string { return c.name }

func (c *localCollection) check(ctx context.Context) error {
	if c.err != nil {
		return c.err
	}
	return ctx.Err()
}

// scan decodes every row. Rows that no longer parse are skipped and logged
// so one corrupt document does not hide the rest of the collection.
func (c *localCollection) scan() ([]storedDoc, error) {
	rows, err := c.backend.Rows(c.name)
	if err != nil {
		return nil, fmt.Errorf("%s: read rows: %w", c.name, err)
	}
	docs := make([]storedDoc, 0, len(rows))
	for _, r := range rows {
		d, err := decodeDocument(r.ID, r.Data)
		if err != nil {
			c.logger.Warn("skipping unreadable document", "id", r.ID, "err", err)
			continue
		}
		docs = append(docs, storedDoc{id: r.ID, doc: d})
	}
	return docs, nil
}

func (c *localCollection) first(filter Filter) (*storedDoc, error) {
	docs, err := c.scan()
	if err != nil {
		return nil, err
	}
	for i := range docs {
		if matches(docs[i].doc, filter) {
			return &docs[i], nil
		}
	}
	return nil, nil
}

func (c *localCollection) InsertOne(ctx context.Context, doc Document) (InsertOneResult, error) {
	if err := c.check(ctx); err != nil {
		return InsertOneResult{}, err
	}
	d, err := normalizeDocument(doc)
	if err != nil {
		return InsertOneResult{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	id, err := c.insertLocked(d)
	if err != nil {
		return InsertOneResult{}, err
	}
	return InsertOneResult{InsertedID: id}, nil
}

// insertLocked assigns an _id if needed and appends the row. d must be
// normalized.
func (c *localCollection) insertLocked(d Document) (string, error) {
	raw, hasID := d[IDField]
	if !hasID || raw == nil {
		d[IDField] = uuid.New().String()
	} else if _, ok := raw.(string); !ok {
		return "", &PathError{Op: "insert", Path: IDField, Err: fmt.Errorf("%w: _id must be a string, got %s", ErrTypeMismatch, typeName(raw))}
	}
	id := d.ID()
	if id == "" {
		return "", &PathError{Op: "insert", Path: IDField, Err: ErrMalformedPath}
	}
	data, err := encodeDocument(d)
	if err != nil {
		return "", err
	}
	if err := c.backend.Insert(c.name, Row{ID: id, Data: data}); err != nil {
		return "", fmt.Errorf("%s: insert: %w", c.name, err)
	}
	c.logger.Debug("inserted", "id", id)
	return id, nil
}

func (c *localCollection) Find(ctx context.Context, filter Filter) ([]Document, error) {
	if err := c.check(ctx); err != nil {
		return nil, err
	}
	f, err := normalizeFilter(filter)
	if err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	docs, err := c.scan()
	if err != nil {
		return nil, err
	}
	out := []Document{}
	for _, sd := range docs {
		if matches(sd.doc, f) {
			out = append(out, sd.doc)
		}
	}
	return out, nil
}

func (c *localCollection) FindOne(ctx context.Context, filter Filter) (Document, error) {
	if err := c.check(ctx); err != nil {
		return nil, err
	}
	f, err := normalizeFilter(filter)
	if err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	sd, err := c.first(f)
	if err != nil || sd == nil {
		return nil, err
	}
	return sd.doc, nil
}

// patch applies cu to a copy of sd's document. changed is false when the
// result is identical to what is stored.
func patch(sd *storedDoc, cu *compiledUpdate) (after Document, changed bool, err error) {
	after = sd.doc.Clone()
	if err := cu.apply(after); err != nil {
		return nil, false, err
	}
	if after.ID() != sd.id {
		return nil, false, &PathError{Op: "update", Path: IDField, Err: ErrImmutableID}
	}
	return after, !Equal(after, sd.doc), nil
}

func (c *localCollection) put(docs ...Document) error {
	rows := make([]Row, len(docs))
	for i, d := range docs {
		data, err := encodeDocument(d)
		if err != nil {
			return err
		}
		rows[i] = Row{ID: d.ID(), Data: data}
	}
	if err := c.backend.Write(c.name, rows, nil); err != nil {
		return fmt.Errorf("%s: write: %w", c.name, err)
	}
	return nil
}

func (c *localCollection) UpdateOne(ctx context.Context, filter Filter, update Update, opts ...Option) (UpdateResult, error) {
	if err := c.check(ctx); err != nil {
		return UpdateResult{}, err
	}
	o := buildOptions(opts)
	f, err := normalizeFilter(filter)
	if err != nil {
		return UpdateResult{}, err
	}
	cu, err := compileUpdate(update, o.ArrayFilters)
	if err != nil {
		return UpdateResult{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	sd, err := c.first(f)
	if err != nil || sd == nil {
		return UpdateResult{}, err
	}
	after, changed, err := patch(sd, cu)
	if err != nil {
		return UpdateResult{}, err
	}
	if !changed {
		return UpdateResult{MatchedCount: 1}, nil
	}
	if err := c.put(after); err != nil {
		return UpdateResult{}, err
	}
	return UpdateResult{MatchedCount: 1, ModifiedCount: 1}, nil
}

func (c *localCollection) UpdateMany(ctx context.Context, filter Filter, update Update) (UpdateResult, error) {
	if err := c.check(ctx); err != nil {
		return UpdateResult{}, err
	}
	f, err := normalizeFilter(filter)
	if err != nil {
		return UpdateResult{}, err
	}
	cu, err := compileUpdate(update, nil)
	if err != nil {
		return UpdateResult{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	docs, err := c.scan()
	if err != nil {
		return UpdateResult{}, err
	}
	var res UpdateResult
	var dirty []Document
	for i := range docs {
		if !matches(docs[i].doc, f) {
			continue
		}
		res.MatchedCount++
		after, changed, err := patch(&docs[i], cu)
		if err != nil {
			return UpdateResult{}, err
		}
		if changed {
			dirty = append(dirty, after)
		}
	}
	if len(dirty) == 0 {
		return res, nil
	}
	if err := c.put(dirty...); err != nil {
		return UpdateResult{}, err
	}
	res.ModifiedCount = len(dirty)
	return res, nil
}

func (c *localCollection) DeleteOne(ctx context.Context, filter Filter) (DeleteResult, error) {
	if err := c.check(ctx); err != nil {
		return DeleteResult{}, err
	}
	f, err := normalizeFilter(filter)
	if err != nil {
		return DeleteResult{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	sd, err := c.first(f)
	if err != nil || sd == nil {
		return DeleteResult{}, err
	}
	if err := c.backend.Write(c.name, nil, []string{sd.id}); err != nil {
		return DeleteResult{}, fmt.Errorf("%s: delete: %w", c.name, err)
	}
	c.logger.Debug("deleted", "id", sd.id)
	return DeleteResult{DeletedCount: 1}, nil
}

func (c *localCollection) ReplaceOne(ctx context.Context, filter Filter, doc Document, opts ...Option) (UpdateResult, error) {
	if err := c.check(ctx); err != nil {
		return UpdateResult{}, err
	}
	o := buildOptions(opts)
	f, err := normalizeFilter(filter)
	if err != nil {
		return UpdateResult{}, err
	}
	repl, err := normalizeDocument(doc)
	if err != nil {
		return UpdateResult{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	sd, err := c.first(f)
	if err != nil {
		return UpdateResult{}, err
	}
	if sd == nil {
		if !o.Upsert {
			return UpdateResult{}, nil
		}
		if _, ok := repl[IDField]; !ok {
			if id, ok := f[IDField].(string); ok {
				repl[IDField] = id
			}
		}
		id, err := c.insertLocked(repl)
		if err != nil {
			return UpdateResult{}, err
		}
		return UpdateResult{ModifiedCount: 1, UpsertedID: id}, nil
	}
	if raw, ok := repl[IDField]; ok && raw != nil && !Equal(raw, sd.id) {
		return UpdateResult{}, &PathError{Op: "replace", Path: IDField, Err: ErrImmutableID}
	}
	repl[IDField] = sd.id
	if Equal(repl, sd.doc) {
		return UpdateResult{MatchedCount: 1}, nil
	}
	if err := c.put(repl); err != nil {
		return UpdateResult{}, err
	}
	return UpdateResult{MatchedCount: 1, ModifiedCount: 1}, nil
}

func (c *localCollection) FindOneAndUpdate(ctx context.Context, filter Filter, update Update, opts ...Option) (Document, error) {
	if err := c.check(ctx); err != nil {
		return nil, err
	}
	o := buildOptions(opts)
	f, err := normalizeFilter(filter)
	if err != nil {
		return nil, err
	}
	cu, err := compileUpdate(update, o.ArrayFilters)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	sd, err := c.first(f)
	if err != nil {
		return nil, err
	}
	if sd == nil {
		if !o.Upsert {
			return nil, nil
		}
		doc := seedFromFilter(f)
		if err := cu.apply(doc); err != nil {
			return nil, err
		}
		if _, err := c.insertLocked(doc); err != nil {
			return nil, err
		}
		return doc, nil
	}
	after, changed, err := patch(sd, cu)
	if err != nil {
		return nil, err
	}
	if changed {
		if err := c.put(after); err != nil {
			return nil, err
		}
	}
	if o.ReturnNew {
		return after, nil
	}
	return sd.doc, nil
}
