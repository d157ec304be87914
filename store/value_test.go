package store_test

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stevemurr/pos-server/store"
)

func TestNormalize(t *testing.T) {
	type addon struct{ Name string }
	when := time.Date(2024, 3, 1, 18, 0, 0, 0, time.FixedZone("IST", 5*3600+1800))
	tests := []struct {
		name string
		in   any
		want any
	}{
		{"int", 3, float64(3)},
		{"uint8", uint8(7), float64(7)},
		{"time in UTC", when, "2024-03-01T12:30:00Z"},
		{"string slice", []string{"a"}, []any{"a"}},
		{"typed map", map[string]int{"x": 1}, map[string]any{"x": float64(1)}},
		{"nil pointer", (*int)(nil), nil},
		{"document", store.Document{"k": []int{1}}, map[string]any{"k": []any{float64(1)}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.Normalize(tt.in)
			if err != nil {
				t.Fatal(err)
			}
			if !store.Equal(got, tt.want) {
				t.Fatalf("got %#v, want %#v", got, tt.want)
			}
		})
	}

	for _, bad := range []any{math.NaN(), math.Inf(1), func() {}, map[int]string{1: "a"}, addon{"x"}} {
		if _, err := store.Normalize(bad); !errors.Is(err, store.ErrSerialization) {
			t.Errorf("Normalize(%T): expected ErrSerialization, got %v", bad, err)
		}
	}
}

func TestEqual(t *testing.T) {
	if store.Equal(float64(1), "1") {
		t.Error("number and string must differ")
	}
	if store.Equal(false, nil) {
		t.Error("false and null must differ")
	}
	if !store.Equal([]any{map[string]any{"a": 1.0}}, []any{map[string]any{"a": 1.0}}) {
		t.Error("deep equal lists should match")
	}
	if store.Equal([]any{1.0, 2.0}, []any{2.0, 1.0}) {
		t.Error("list order matters")
	}
	if !store.Equal(store.Document{"a": "b"}, map[string]any{"a": "b"}) {
		t.Error("Document and plain map should compare by content")
	}
}

func TestMatch(t *testing.T) {
	doc := store.Document{"_id": "1", "type": "Dine In", "table": 4, "tags": []any{"a"}}
	tests := []struct {
		filter store.Filter
		want   bool
	}{
		{nil, true},
		{store.Filter{}, true},
		{store.Filter{"type": "Dine In"}, true},
		{store.Filter{"type": "Dine In", "table": 4}, true},
		{store.Filter{"type": "Dine In", "table": 5}, false},
		{store.Filter{"tags": []string{"a"}}, true},
		{store.Filter{"waiter": nil}, true},
		{store.Filter{"$or": []any{map[string]any{"table": 1}, map[string]any{"table": 4}}}, true},
		{store.Filter{"$or": []any{map[string]any{"table": 1}}, "type": "Dine In"}, false},
		{store.Filter{"$or": []any{}}, false},
		{store.Filter{"$gt": 1}, false},
	}
	for _, tt := range tests {
		if got := store.Match(doc, tt.filter); got != tt.want {
			t.Errorf("Match(%v) = %v, want %v", tt.filter, got, tt.want)
		}
	}
}

func TestErrorCode(t *testing.T) {
	err := &store.PathError{Op: "$inc", Path: "a", Err: store.ErrTypeMismatch}
	if got := store.ErrorCode(err); got != "type_mismatch" {
		t.Fatalf("expected type_mismatch, got %q", got)
	}
	if !store.IsClientError(err) {
		t.Fatal("type mismatch is a client error")
	}
	if store.IsClientError(store.ErrDuplicateKey) {
		t.Fatal("duplicate key is reported as a conflict, not a client error")
	}
	remote := &store.RemoteError{Status: 409, Code: "duplicate_key", Message: "duplicate key"}
	if !errors.Is(remote, store.ErrDuplicateKey) {
		t.Fatal("RemoteError should unwrap to its sentinel")
	}
}
