package store

import (
	"fmt"
	"strconv"
	"strings"
)

// maxListGrowth bounds how far past its end a single path may grow a list.
const maxListGrowth = 256

// splitPath splits a dotted path into segments.
func splitPath(path string) ([]string, error) {
	if path == "" {
		return nil, ErrMalformedPath
	}
	segs := strings.Split(path, ".")
	for _, s := range segs {
		if s == "" {
			return nil, ErrMalformedPath
		}
	}
	return segs, nil
}

// listIndex parses a segment addressing a list element.
func listIndex(seg string) (int, bool) {
	for i := 0; i < len(seg); i++ {
		if seg[i] < '0' || seg[i] > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(seg)
	if err != nil {
		return 0, false
	}
	return n, true
}

// newContainer returns the container a missing intermediate segment should
// hold: a list if the next segment is an index, a map otherwise.
func newContainer(next string) any {
	if _, ok := listIndex(next); ok {
		return []any{}
	}
	return map[string]any{}
}

// modifyFunc computes the new leaf value from the old one.
type modifyFunc func(old any, exists bool) (any, error)

// modifyPath walks segs from cur, creating intermediate containers as
// needed, and replaces the leaf with fn's result. It returns cur, which may
// be a new slice if a list had to grow. On a map every segment is a key; on
// a list it must be an index.
func modifyPath(cur any, segs []string, fn modifyFunc) (any, error) {
	seg := segs[0]
	last := len(segs) == 1
	switch c := cur.(type) {
	case map[string]any:
		old, exists := c[seg]
		if last {
			v, err := fn(old, exists)
			if err != nil {
				return nil, err
			}
			c[seg] = v
			return c, nil
		}
		if old == nil {
			old = newContainer(segs[1])
		}
		child, err := modifyPath(old, segs[1:], fn)
		if err != nil {
			return nil, err
		}
		c[seg] = child
		return c, nil
	case []any:
		idx, ok := listIndex(seg)
		if !ok {
			return nil, fmt.Errorf("%w: %q is not a list index", ErrTypeMismatch, seg)
		}
		exists := idx < len(c)
		if idx-len(c) >= maxListGrowth {
			return nil, fmt.Errorf("%w: index %d is more than %d past the end of a list of %d", ErrMalformedPath, idx, maxListGrowth, len(c))
		}
		for len(c) <= idx {
			c = append(c, nil)
		}
		if last {
			v, err := fn(c[idx], exists)
			if err != nil {
				return nil, err
			}
			c[idx] = v
			return c, nil
		}
		old := c[idx]
		if old == nil {
			old = newContainer(segs[1])
		}
		child, err := modifyPath(old, segs[1:], fn)
		if err != nil {
			return nil, err
		}
		c[idx] = child
		return c, nil
	}
	return nil, fmt.Errorf("%w: cannot descend into %s at %q", ErrTypeMismatch, typeName(cur), seg)
}

// lookupPath returns the value at segs, if every step exists.
func lookupPath(cur any, segs []string) (any, bool) {
	for _, seg := range segs {
		switch c := cur.(type) {
		case map[string]any:
			v, ok := c[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			idx, ok := listIndex(seg)
			if !ok || idx >= len(c) {
				return nil, false
			}
			cur = c[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

// removePath deletes the field at segs. Missing paths are a no-op. A list
// element is set to null rather than removed so sibling indexes stay valid.
func removePath(cur any, segs []string) {
	parent, ok := lookupPath(cur, segs[:len(segs)-1])
	if !ok {
		return
	}
	leaf := segs[len(segs)-1]
	switch c := parent.(type) {
	case map[string]any:
		delete(c, leaf)
	case []any:
		if idx, ok := listIndex(leaf); ok && idx < len(c) {
			c[idx] = nil
		}
	}
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "bool"
	case float64:
		return "number"
	case string:
		return "string"
	case []any:
		return "list"
	case map[string]any:
		return "document"
	}
	return fmt.Sprintf("%T", v)
}
