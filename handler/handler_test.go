package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stevemurr/pos-server/handler"
	"github.com/stevemurr/pos-server/housekeeping"
	"github.com/stevemurr/pos-server/pos"
	"github.com/stevemurr/pos-server/schema"
	"github.com/stevemurr/pos-server/store"
)

type env struct {
	ts        *httptest.Server
	store     store.Store
	uploadDir string
	resched   *countingScheduler
}

type countingScheduler struct{ n int }

func (c *countingScheduler) Reschedule() { c.n++ }

func setup(t *testing.T, mutate ...func(*handler.Options)) *env {
	t.Helper()
	s, err := store.NewLocalStore(store.NewMemoryBackend(), nil, pos.Collections...)
	if err != nil {
		t.Fatal(err)
	}
	reg, err := schema.NewRegistry(map[string]map[string]any{
		pos.Items: {
			"type":       "object",
			"required":   []any{"item_name"},
			"properties": map[string]any{"price": map[string]any{"type": "number", "minimum": 0}},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	e := &env{store: s, uploadDir: t.TempDir(), resched: &countingScheduler{}}
	opts := handler.Options{
		Store:     s,
		Schemas:   reg,
		Backuper:  housekeeping.NewBackuper(s, t.TempDir(), 3, nil),
		Scheduler: e.resched,
		UploadDir: e.uploadDir,
	}
	for _, m := range mutate {
		m(&opts)
	}
	h := handler.New(opts)
	e.ts = httptest.NewServer(h)
	t.Cleanup(func() {
		e.ts.Close()
		h.Close()
		s.Close()
	})
	return e
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func decodeJSON(t *testing.T, r io.Reader) map[string]any {
	t.Helper()
	var v map[string]any
	if err := json.NewDecoder(r).Decode(&v); err != nil {
		t.Fatal(err)
	}
	return v
}

func decodeJSONArray(t *testing.T, r io.Reader) []any {
	t.Helper()
	var v []any
	if err := json.NewDecoder(r).Decode(&v); err != nil {
		t.Fatal(err)
	}
	return v
}

func do(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(mustJSON(t, body))
	}
	req, err := http.NewRequest(method, url, r)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected %d, got %d: %s", want, resp.StatusCode, b)
	}
}

func TestRootAndHealth(t *testing.T) {
	e := setup(t)

	resp := do(t, "GET", e.ts.URL+"/", nil)
	expectStatus(t, resp, 200)
	body := decodeJSON(t, resp.Body)
	if body["status"] != "ok" {
		t.Fatalf("expected status=ok, got %v", body["status"])
	}

	resp = do(t, "GET", e.ts.URL+"/health", nil)
	expectStatus(t, resp, 200)

	resp = do(t, "GET", e.ts.URL+"/nope", nil)
	expectStatus(t, resp, 404)
}

func TestListCollections(t *testing.T) {
	e := setup(t)
	resp := do(t, "GET", e.ts.URL+"/api/collections", nil)
	expectStatus(t, resp, 200)
	names := decodeJSONArray(t, resp.Body)
	if len(names) != len(pos.Collections) {
		t.Fatalf("expected %d collections, got %d", len(pos.Collections), len(names))
	}
}

func TestWireAPI(t *testing.T) {
	e := setup(t)
	base := e.ts.URL + "/api/db/customers/"

	resp := do(t, "POST", base+"insert_one", map[string]any{"document": map[string]any{"_id": "c1", "name": "Ann", "visits": 1}})
	expectStatus(t, resp, 200)
	if got := decodeJSON(t, resp.Body)["inserted_id"]; got != "c1" {
		t.Fatalf("expected inserted_id=c1, got %v", got)
	}

	resp = do(t, "POST", base+"update_one", map[string]any{
		"filter": map[string]any{"_id": "c1"},
		"update": map[string]any{"$inc": map[string]any{"visits": 2}},
	})
	expectStatus(t, resp, 200)
	body := decodeJSON(t, resp.Body)
	if body["matched_count"] != float64(1) || body["modified_count"] != float64(1) {
		t.Fatalf("unexpected update reply %v", body)
	}

	resp = do(t, "POST", base+"find", map[string]any{"filter": map[string]any{"name": "Ann"}})
	expectStatus(t, resp, 200)
	docs := decodeJSON(t, resp.Body)["documents"].([]any)
	if len(docs) != 1 || docs[0].(map[string]any)["visits"] != float64(3) {
		t.Fatalf("unexpected find reply %v", docs)
	}

	resp = do(t, "POST", base+"find_one", map[string]any{"filter": map[string]any{"_id": "missing"}})
	expectStatus(t, resp, 200)
	if doc, ok := decodeJSON(t, resp.Body)["document"]; !ok || doc != nil {
		t.Fatalf("expected document=null, got %v", doc)
	}

	resp = do(t, "POST", base+"insert_one", map[string]any{"document": map[string]any{"_id": "c1"}})
	expectStatus(t, resp, 409)
	if code := decodeJSON(t, resp.Body)["code"]; code != "duplicate_key" {
		t.Fatalf("expected code=duplicate_key, got %v", code)
	}

	resp = do(t, "POST", base+"update_one", map[string]any{
		"filter": map[string]any{"_id": "c1"},
		"update": map[string]any{"$push": map[string]any{"tags": "x"}},
	})
	expectStatus(t, resp, 400)

	resp = do(t, "POST", base+"drop", map[string]any{})
	expectStatus(t, resp, 400)

	resp = do(t, "POST", e.ts.URL+"/api/db/bad-name/find", map[string]any{})
	expectStatus(t, resp, 400)

	req, _ := http.NewRequest("POST", base+"find", bytes.NewReader([]byte("{not json")))
	r2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer r2.Body.Close()
	expectStatus(t, r2, 400)
}

func TestWireAPISchemaValidation(t *testing.T) {
	e := setup(t)
	resp := do(t, "POST", e.ts.URL+"/api/db/items/insert_one", map[string]any{"document": map[string]any{"price": 3}})
	expectStatus(t, resp, 422)

	resp = do(t, "POST", e.ts.URL+"/api/db/items/insert_one", map[string]any{"document": map[string]any{"item_name": "Tea", "price": -1}})
	expectStatus(t, resp, 422)

	resp = do(t, "POST", e.ts.URL+"/api/db/items/insert_one", map[string]any{"document": map[string]any{"item_name": "Tea", "price": 3}})
	expectStatus(t, resp, 200)
}

func TestRemoteStore(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	remote := store.NewRemoteStore(e.ts.URL, nil)
	defer remote.Close()

	c := remote.Collection(pos.Tables)
	res, err := c.InsertOne(ctx, store.Document{"table_number": 4, "status": "free"})
	if err != nil {
		t.Fatal(err)
	}
	if res.InsertedID == "" {
		t.Fatal("expected generated _id")
	}
	_, err = c.InsertOne(ctx, store.Document{"_id": res.InsertedID})
	if !errors.Is(err, store.ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey across the wire, got %v", err)
	}

	upd, err := c.UpdateOne(ctx, store.Filter{"table_number": 4}, store.Update{"$set": map[string]any{"status": "busy"}})
	if err != nil {
		t.Fatal(err)
	}
	if upd.MatchedCount != 1 || upd.ModifiedCount != 1 {
		t.Fatalf("unexpected update result %+v", upd)
	}
	upd, err = c.UpdateOne(ctx, store.Filter{"table_number": 4}, store.Update{"$set": map[string]any{"status": "busy"}})
	if err != nil || upd.ModifiedCount != 0 {
		t.Fatalf("expected no-op update, got %+v, %v", upd, err)
	}

	// The remote write is visible through the server's own store.
	local, err := e.store.Collection(pos.Tables).FindOne(ctx, store.Filter{"_id": res.InsertedID})
	if err != nil {
		t.Fatal(err)
	}
	if local["status"] != "busy" {
		t.Fatalf("expected status busy, got %v", local)
	}

	doc, err := c.FindOne(ctx, store.Filter{"_id": "absent"})
	if err != nil || doc != nil {
		t.Fatalf("expected nil document, got %v, %v", doc, err)
	}
	docs, err := c.Find(ctx, store.Filter{"status": "none"})
	if err != nil || docs == nil || len(docs) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v, %v", docs, err)
	}

	_, err = c.UpdateOne(ctx, store.Filter{"_id": res.InsertedID}, store.Update{"$set": map[string]any{"status.x": 1}})
	if !errors.Is(err, store.ErrTypeMismatch) {
		t.Fatalf("expected ErrTypeMismatch across the wire, got %v", err)
	}

	counters := remote.Collection(pos.OrderCounters)
	for want := 1.0; want <= 2; want++ {
		doc, err := counters.FindOneAndUpdate(ctx, store.Filter{"_id": "Dine In"},
			store.Update{"$inc": map[string]any{"count": 1}}, store.WithUpsert(true))
		if err != nil {
			t.Fatal(err)
		}
		if doc["count"] != want {
			t.Fatalf("expected count %v, got %v", want, doc["count"])
		}
	}

	rep, err := remote.Collection(pos.Users).ReplaceOne(ctx, store.Filter{"_id": "u1"},
		store.Document{"email": "a@b.c"}, store.WithUpsert(true))
	if err != nil {
		t.Fatal(err)
	}
	if rep.UpsertedID != "u1" {
		t.Fatalf("expected upsert of u1, got %+v", rep)
	}
	del, err := remote.Collection(pos.Users).DeleteOne(ctx, store.Filter{"_id": "u1"})
	if err != nil || del.DeletedCount != 1 {
		t.Fatalf("expected one delete, got %+v, %v", del, err)
	}

	items := remote.Collection(pos.Items)
	if _, err := items.InsertOne(ctx, store.Document{
		"_id": "i1", "item_name": "Mezze",
		"variants": []any{map[string]any{"size": "S", "sold_out": false}, map[string]any{"size": "L", "sold_out": false}},
	}); err != nil {
		t.Fatal(err)
	}
	upd, err = items.UpdateOne(ctx, store.Filter{"_id": "i1"},
		store.Update{"$set": map[string]any{"variants.$[v].sold_out": true}},
		store.WithArrayFilters(store.Filter{"v.size": "L"}))
	if err != nil || upd.ModifiedCount != 1 {
		t.Fatalf("array filter update over the wire failed: %+v, %v", upd, err)
	}
	many, err := items.UpdateMany(ctx, store.Filter{}, store.Update{"$set": map[string]any{"active": true}})
	if err != nil || many.MatchedCount != 1 {
		t.Fatalf("update many failed: %+v, %v", many, err)
	}

	names, err := remote.ListCollections(ctx)
	if err != nil || len(names) != len(pos.Collections) {
		t.Fatalf("expected %d collections, got %d, %v", len(pos.Collections), len(names), err)
	}
}

func TestRemoteStoreNormalizesArguments(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	remote := store.NewRemoteStore(e.ts.URL, nil)
	defer remote.Close()

	zone := time.FixedZone("UTC+2", 2*60*60)
	when := time.Date(2024, 1, 15, 10, 30, 0, 0, zone)
	if _, err := e.store.Collection(pos.Sales).InsertOne(ctx, store.Document{"_id": "s1", "t": when}); err != nil {
		t.Fatal(err)
	}

	sales := remote.Collection(pos.Sales)
	doc, err := sales.FindOne(ctx, store.Filter{"t": when})
	if err != nil {
		t.Fatal(err)
	}
	if doc == nil || doc["_id"] != "s1" {
		t.Fatalf("expected time filter to match s1 through the remote store, got %v", doc)
	}

	later := when.Add(time.Hour)
	if _, err := sales.UpdateOne(ctx, store.Filter{"_id": "s1"}, store.Update{"$set": map[string]any{"t": later}}); err != nil {
		t.Fatal(err)
	}
	got, err := e.store.Collection(pos.Sales).FindOne(ctx, store.Filter{"_id": "s1"})
	if err != nil {
		t.Fatal(err)
	}
	if got["t"] != "2024-01-15T09:30:00Z" {
		t.Fatalf("expected UTC timestamp, got %v", got["t"])
	}

	if _, err := sales.InsertOne(ctx, store.Document{"_id": "s2", "lines": []any{map[string]any{"at": when, "void": false}}}); err != nil {
		t.Fatal(err)
	}
	upd, err := sales.UpdateOne(ctx, store.Filter{"_id": "s2"},
		store.Update{"$set": map[string]any{"lines.$[l].void": true}},
		store.WithArrayFilters(store.Filter{"l.at": when}))
	if err != nil || upd.ModifiedCount != 1 {
		t.Fatalf("expected time array filter to match, got %+v, %v", upd, err)
	}

	_, err = sales.FindOne(ctx, store.Filter{"t": make(chan int)})
	if !errors.Is(err, store.ErrSerialization) {
		t.Fatalf("expected ErrSerialization before the round trip, got %v", err)
	}
}

func TestOrderNumber(t *testing.T) {
	e := setup(t)
	for _, want := range []string{"Dine In-0001", "Dine In-0002"} {
		resp := do(t, "POST", e.ts.URL+"/api/order-number/Dine%20In", nil)
		expectStatus(t, resp, 200)
		if got := decodeJSON(t, resp.Body)["order_no"]; got != want {
			t.Fatalf("expected %s, got %v", want, got)
		}
	}
}

func TestSettings(t *testing.T) {
	e := setup(t)
	resp := do(t, "GET", e.ts.URL+"/api/settings", nil)
	expectStatus(t, resp, 200)
	got := decodeJSON(t, resp.Body)
	if got["_id"] != "system_settings" || got["backup_interval_hours"] != float64(6) {
		t.Fatalf("expected default settings, got %v", got)
	}

	resp = do(t, "PUT", e.ts.URL+"/api/settings", map[string]any{"backup_interval_hours": 12, "sessionExpiry": "08:00"})
	expectStatus(t, resp, 200)
	if e.resched.n != 1 {
		t.Fatalf("expected scheduler to be told once, got %d", e.resched.n)
	}
	resp = do(t, "GET", e.ts.URL+"/api/settings", nil)
	got = decodeJSON(t, resp.Body)
	if got["backup_interval_hours"] != float64(12) {
		t.Fatalf("expected 12, got %v", got["backup_interval_hours"])
	}
}

func TestItemsExpireOffers(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	if _, err := e.store.Collection(pos.Items).InsertOne(ctx, store.Document{
		"_id": "i1", "item_name": "Tea", "offer_price": 1, "offer_end_time": "2000-01-01T00:00:00Z",
	}); err != nil {
		t.Fatal(err)
	}
	resp := do(t, "GET", e.ts.URL+"/api/items", nil)
	expectStatus(t, resp, 200)
	items := decodeJSONArray(t, resp.Body)
	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}
	if _, ok := items[0].(map[string]any)["offer_price"]; ok {
		t.Fatal("expired offer should not be listed")
	}
}

func TestDeleteImage(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	if err := os.WriteFile(filepath.Join(e.uploadDir, "p.jpg"), []byte("jpg"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := e.store.Collection(pos.Items).InsertOne(ctx, store.Document{
		"_id": "i1", "item_name": "Tea", "combos": []any{map[string]any{"combo_image": "p.jpg"}},
	}); err != nil {
		t.Fatal(err)
	}
	resp := do(t, "DELETE", e.ts.URL+"/api/images/p.jpg?item_id=i1&field=combo_image", nil)
	expectStatus(t, resp, 200)
	if _, err := os.Stat(filepath.Join(e.uploadDir, "p.jpg")); !os.IsNotExist(err) {
		t.Fatal("expected file removed")
	}
	doc, _ := e.store.Collection(pos.Items).FindOne(ctx, store.Filter{"_id": "i1"})
	combo := doc["combos"].([]any)[0].(map[string]any)
	if v, ok := combo["combo_image"]; !ok || v != nil {
		t.Fatalf("expected combo_image=null, got %v", combo)
	}

	resp = do(t, "DELETE", e.ts.URL+"/api/images/p.jpg?item_id=i1&field=combo_image", nil)
	expectStatus(t, resp, 404)
	resp = do(t, "DELETE", e.ts.URL+"/api/images/p.jpg?item_id=i1&field=logo", nil)
	expectStatus(t, resp, 400)
	resp = do(t, "DELETE", e.ts.URL+"/api/images/p.jpg", nil)
	expectStatus(t, resp, 400)
}

func TestDeleteImageClientMode(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	if _, err := e.store.Collection(pos.Items).InsertOne(ctx, store.Document{
		"_id": "i1", "item_name": "Tea", "images": []any{"p.jpg", "q.jpg"},
	}); err != nil {
		t.Fatal(err)
	}
	clientDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(clientDir, "p.jpg"), []byte("jpg"), 0644); err != nil {
		t.Fatal(err)
	}
	remote := store.NewRemoteStore(e.ts.URL, nil)
	client := handler.New(handler.Options{Store: remote, UploadDir: clientDir})
	cs := httptest.NewServer(client)
	t.Cleanup(func() {
		cs.Close()
		client.Close()
		remote.Close()
	})

	resp := do(t, "DELETE", cs.URL+"/api/images/p.jpg?item_id=i1&field=images", nil)
	expectStatus(t, resp, 200)
	doc, _ := e.store.Collection(pos.Items).FindOne(ctx, store.Filter{"_id": "i1"})
	if !store.Equal(doc["images"], []any{"q.jpg"}) {
		t.Fatalf("expected p.jpg pulled on the server, got %v", doc["images"])
	}
	if _, err := os.Stat(filepath.Join(clientDir, "p.jpg")); err != nil {
		t.Fatalf("client must not delete files from its own upload dir: %v", err)
	}
}

func TestImport(t *testing.T) {
	e := setup(t)
	resp := do(t, "POST", e.ts.URL+"/api/import/kitchens", []map[string]any{
		{"kitchen_name": "Grill"},
		{"kitchen_name": "Bar"},
		{"kitchen_name": "Grill", "printer": "P1"},
	})
	expectStatus(t, resp, 200)
	if got := decodeJSON(t, resp.Body)["imported"]; got != float64(3) {
		t.Fatalf("expected 3 imported, got %v", got)
	}
	docs, _ := e.store.Collection(pos.Kitchens).Find(context.Background(), nil)
	if len(docs) != 2 {
		t.Fatalf("expected natural-key upsert to leave 2 kitchens, got %d", len(docs))
	}

	resp = do(t, "POST", e.ts.URL+"/api/import/vat", []map[string]any{{"rate": 5}})
	expectStatus(t, resp, 400)
	resp = do(t, "POST", e.ts.URL+"/api/import/kitchens", map[string]any{"not": "a list"})
	expectStatus(t, resp, 400)
	resp = do(t, "POST", e.ts.URL+"/api/import/items", []map[string]any{{"price": 1}})
	expectStatus(t, resp, 422)
}

func TestBackupEndpoints(t *testing.T) {
	e := setup(t)
	resp := do(t, "POST", e.ts.URL+"/api/backup", nil)
	expectStatus(t, resp, 200)
	file, _ := decodeJSON(t, resp.Body)["file"].(string)
	if _, err := housekeeping.Load(file); err != nil {
		t.Fatalf("backup not loadable: %v", err)
	}

	resp = do(t, "GET", e.ts.URL+"/api/backup/info", nil)
	expectStatus(t, resp, 200)
	info := decodeJSON(t, resp.Body)
	if backups := info["backups"].([]any); len(backups) != 1 {
		t.Fatalf("expected 1 backup, got %v", backups)
	}
	if info["max_backups"] != float64(3) || info["interval_hours"] != float64(6) {
		t.Fatalf("unexpected info %v", info)
	}

	noBackups := setup(t, func(o *handler.Options) { o.Backuper = nil })
	resp = do(t, "POST", noBackups.ts.URL+"/api/backup", nil)
	expectStatus(t, resp, 501)
}

func TestCORS(t *testing.T) {
	e := setup(t, func(o *handler.Options) { o.AllowedOrigins = []string{"http://pos.local"} })
	req, _ := http.NewRequest("OPTIONS", e.ts.URL+"/api/settings", nil)
	req.Header.Set("Origin", "http://pos.local")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	expectStatus(t, resp, 204)
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "http://pos.local" {
		t.Fatalf("expected allowed origin echoed, got %q", got)
	}

	req, _ = http.NewRequest("GET", e.ts.URL+"/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp2.Body.Close()
	if got := resp2.Header.Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("unexpected allow origin %q", got)
	}
}

func TestRateLimit(t *testing.T) {
	e := setup(t, func(o *handler.Options) {
		o.RateLimit = handler.RateLimit{RequestsPerMinute: 1, Burst: 2}
	})
	for i := range 2 {
		resp := do(t, "GET", e.ts.URL+"/health", nil)
		if resp.StatusCode != 200 {
			t.Fatalf("request %d: expected 200, got %d", i, resp.StatusCode)
		}
	}
	resp := do(t, "GET", e.ts.URL+"/health", nil)
	expectStatus(t, resp, 429)
	if resp.Header.Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
}
