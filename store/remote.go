package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// RemoteStore forwards every operation to a server-mode instance over the
// document-store wire API. It is used by client-mode terminals, which keep
// no local database.
type RemoteStore struct {
	baseURL string
	client  *http.Client
}

// NewRemoteStore returns a store backed by the server at baseURL
// (e.g. "http://192.168.1.10:8000"). A nil client gets a 15s timeout.
func NewRemoteStore(baseURL string, client *http.Client) *RemoteStore {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &RemoteStore{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

// Collection implements Store.
func (s *RemoteStore) Collection(name string) Collection {
	return &remoteCollection{store: s, name: name}
}

// ListCollections implements Store.
func (s *RemoteStore) ListCollections(ctx context.Context) ([]string, error) {
	var names []string
	if err := s.do(ctx, http.MethodGet, "/api/collections", nil, &names); err != nil {
		return nil, err
	}
	return names, nil
}

// Close implements Store.
func (s *RemoteStore) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

func (s *RemoteStore) do(ctx context.Context, method, path string, body, out any) error {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrSerialization, err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		var e struct {
			Detail string `json:"detail"`
			Code   string `json:"code"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Detail == "" {
			e.Detail = resp.Status
		}
		return &RemoteError{Status: resp.StatusCode, Code: e.Code, Message: e.Detail}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type remoteCollection struct {
	store *RemoteStore
	name  string
}

func (c *remoteCollection) Name() string { return c.name }

// call normalizes every value of the request, so the server stores and
// compares exactly what a LocalStore would, then posts it.
func (c *remoteCollection) call(ctx context.Context, op string, call Call) (Reply, error) {
	var reply Reply
	call, err := normalizeCall(call)
	if err != nil {
		return reply, err
	}
	path := "/api/db/" + url.PathEscape(c.name) + "/" + op
	err = c.store.do(ctx, http.MethodPost, path, call, &reply)
	return reply, err
}

func normalizeCall(call Call) (Call, error) {
	f, err := normalizeMap(call.Filter, 0)
	if err != nil {
		return call, err
	}
	call.Filter = Filter(f)
	u, err := normalizeMap(call.Update, 0)
	if err != nil {
		return call, err
	}
	call.Update = Update(u)
	if call.Document, err = normalizeDocument(call.Document); err != nil {
		return call, err
	}
	if len(call.ArrayFilters) > 0 {
		afs := make([]Filter, len(call.ArrayFilters))
		for i, af := range call.ArrayFilters {
			n, err := normalizeMap(af, 0)
			if err != nil {
				return call, err
			}
			afs[i] = Filter(n)
		}
		call.ArrayFilters = afs
	}
	return call, nil
}

func withOptions(call Call, opts []Option) Call {
	o := buildOptions(opts)
	call.ArrayFilters = o.ArrayFilters
	call.Upsert = o.Upsert
	call.ReturnNew = &o.ReturnNew
	return call
}

func updateFromReply(r Reply) UpdateResult {
	return UpdateResult{MatchedCount: r.MatchedCount, ModifiedCount: r.ModifiedCount, UpsertedID: r.UpsertedID}
}

func (c *remoteCollection) InsertOne(ctx context.Context, doc Document) (InsertOneResult, error) {
	r, err := c.call(ctx, OpInsertOne, Call{Document: doc})
	return InsertOneResult{InsertedID: r.InsertedID}, err
}

func (c *remoteCollection) Find(ctx context.Context, filter Filter) ([]Document, error) {
	r, err := c.call(ctx, OpFind, Call{Filter: filter})
	if err != nil {
		return nil, err
	}
	if r.Documents == nil {
		r.Documents = []Document{}
	}
	return r.Documents, nil
}

func (c *remoteCollection) FindOne(ctx context.Context, filter Filter) (Document, error) {
	r, err := c.call(ctx, OpFindOne, Call{Filter: filter})
	return r.Document, err
}

func (c *remoteCollection) UpdateOne(ctx context.Context, filter Filter, update Update, opts ...Option) (UpdateResult, error) {
	r, err := c.call(ctx, OpUpdateOne, withOptions(Call{Filter: filter, Update: update}, opts))
	return updateFromReply(r), err
}

func (c *remoteCollection) UpdateMany(ctx context.Context, filter Filter, update Update) (UpdateResult, error) {
	r, err := c.call(ctx, OpUpdateMany, Call{Filter: filter, Update: update})
	return updateFromReply(r), err
}

func (c *remoteCollection) DeleteOne(ctx context.Context, filter Filter) (DeleteResult, error) {
	r, err := c.call(ctx, OpDeleteOne, Call{Filter: filter})
	return DeleteResult{DeletedCount: r.DeletedCount}, err
}

func (c *remoteCollection) ReplaceOne(ctx context.Context, filter Filter, doc Document, opts ...Option) (UpdateResult, error) {
	r, err := c.call(ctx, OpReplaceOne, withOptions(Call{Filter: filter, Document: doc}, opts))
	return updateFromReply(r), err
}

func (c *remoteCollection) FindOneAndUpdate(ctx context.Context, filter Filter, update Update, opts ...Option) (Document, error) {
	r, err := c.call(ctx, OpFindOneAndUpdate, withOptions(Call{Filter: filter, Update: update}, opts))
	return r.Document, err
}
