// Package schema validates documents written through the document-store API
// against per-collection JSON Schema fragments from the server config.
package schema

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/stevemurr/pos-server/store"
)

// ErrInvalid is wrapped by every *ValidationError.
var ErrInvalid = errors.New("schema validation failed")

// ValidationError reports the first rule a document broke.
type ValidationError struct {
	Collection string
	Path       string // "$" for the document itself, "$.addons[0].price" below it
	Reason     string
}

func (e *ValidationError) Error() string {
	if e.Collection == "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Reason)
	}
	return fmt.Sprintf("%s %s: %s", e.Collection, e.Path, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalid }

// Validate checks doc against a JSON Schema subset. A nil schema accepts
// everything.
//
// Supported keywords:
//   - type (string, number, integer, boolean, object, array, null)
//   - properties, required, additionalProperties
//   - items
//   - minimum, maximum, exclusiveMinimum, exclusiveMaximum
//   - minLength, maxLength, minItems, maxItems
//   - enum
func Validate(schema map[string]any, doc store.Document) error {
	if schema == nil {
		return nil
	}
	s, err := store.Normalize(schema)
	if err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	v, err := store.Normalize(doc)
	if err != nil {
		return err
	}
	return check(s.(map[string]any), v, "$")
}

// Registry holds the schema of each collection that has one.
type Registry struct {
	schemas map[string]map[string]any
}

// NewRegistry builds a registry from collection → schema. Schemas are
// normalized once so numeric keywords compare as float64.
func NewRegistry(schemas map[string]map[string]any) (*Registry, error) {
	r := &Registry{schemas: make(map[string]map[string]any, len(schemas))}
	for name, s := range schemas {
		n, err := store.Normalize(s)
		if err != nil {
			return nil, fmt.Errorf("schema for %s: %w", name, err)
		}
		m, _ := n.(map[string]any)
		r.schemas[name] = m
	}
	return r, nil
}

// Collections lists the collections with a schema, sorted.
func (r *Registry) Collections() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.schemas))
	for n := range r.schemas {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Validate checks doc against the collection's schema. Collections without a
// schema accept any document. A nil Registry accepts everything.
func (r *Registry) Validate(collection string, doc store.Document) error {
	if r == nil {
		return nil
	}
	s, ok := r.schemas[collection]
	if !ok {
		return nil
	}
	err := Validate(s, doc)
	var ve *ValidationError
	if errors.As(err, &ve) {
		ve.Collection = collection
	}
	return err
}

func check(schema map[string]any, value any, path string) error {
	if t, ok := schema["type"].(string); ok {
		if !hasType(t, value) {
			return fail(path, "expected type %q, got %q", t, jsonType(value))
		}
	}
	if allowed, ok := schema["enum"].([]any); ok {
		found := false
		for _, a := range allowed {
			if store.Equal(a, value) {
				found = true
				break
			}
		}
		if !found {
			return fail(path, "value not in enum %v", allowed)
		}
	}

	switch v := value.(type) {
	case map[string]any:
		return checkObject(schema, v, path)
	case []any:
		return checkArray(schema, v, path)
	case string:
		return checkLength(schema, "Length", len([]rune(v)), path)
	case float64:
		return checkNumber(schema, v, path)
	}
	return nil
}

func fail(path, format string, args ...any) error {
	return &ValidationError{Path: path, Reason: fmt.Sprintf(format, args...)}
}

func hasType(want string, v any) bool {
	got := jsonType(v)
	switch want {
	case "integer":
		f, ok := v.(float64)
		return ok && f == math.Trunc(f)
	case "number":
		return got == "number"
	}
	return got == want
}

func jsonType(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64:
		return "number"
	}
	return fmt.Sprintf("%T", v)
}

func checkObject(schema map[string]any, obj map[string]any, path string) error {
	if req, ok := schema["required"].([]any); ok {
		for _, r := range req {
			if field, ok := r.(string); ok {
				if _, exists := obj[field]; !exists {
					return fail(path, "missing required field %q", field)
				}
			}
		}
	}

	props, _ := schema["properties"].(map[string]any)
	for _, field := range sortedFields(props) {
		val, exists := obj[field]
		if !exists {
			continue
		}
		ps, ok := props[field].(map[string]any)
		if !ok {
			continue
		}
		if err := check(ps, val, path+"."+field); err != nil {
			return err
		}
	}

	if ap, ok := schema["additionalProperties"].(bool); ok && !ap {
		var extra []string
		for field := range obj {
			if _, defined := props[field]; !defined && field != store.IDField {
				extra = append(extra, field)
			}
		}
		if len(extra) > 0 {
			sort.Strings(extra)
			return fail(path, "additional properties not allowed: %s", strings.Join(extra, ", "))
		}
	}
	return nil
}

func checkArray(schema map[string]any, arr []any, path string) error {
	if err := checkLength(schema, "Items", len(arr), path); err != nil {
		return err
	}
	if items, ok := schema["items"].(map[string]any); ok {
		for i, elem := range arr {
			if err := check(items, elem, fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
	}
	return nil
}

// checkLength applies min<suffix>/max<suffix> (minLength, maxItems, ...).
func checkLength(schema map[string]any, suffix string, n int, path string) error {
	if v, ok := schema["min"+suffix].(float64); ok && float64(n) < v {
		return fail(path, "length %d is less than min%s %v", n, suffix, v)
	}
	if v, ok := schema["max"+suffix].(float64); ok && float64(n) > v {
		return fail(path, "length %d is greater than max%s %v", n, suffix, v)
	}
	return nil
}

func checkNumber(schema map[string]any, n float64, path string) error {
	if v, ok := schema["minimum"].(float64); ok && n < v {
		return fail(path, "%v is less than minimum %v", n, v)
	}
	if v, ok := schema["maximum"].(float64); ok && n > v {
		return fail(path, "%v is greater than maximum %v", n, v)
	}
	if v, ok := schema["exclusiveMinimum"].(float64); ok && n <= v {
		return fail(path, "%v is not greater than exclusiveMinimum %v", n, v)
	}
	if v, ok := schema["exclusiveMaximum"].(float64); ok && n >= v {
		return fail(path, "%v is not less than exclusiveMaximum %v", n, v)
	}
	return nil
}

func sortedFields(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
