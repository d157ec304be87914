package store

import (
	"fmt"
	"sort"
	"strings"
)

const (
	opSet   = "$set"
	opUnset = "$unset"
	opInc   = "$inc"
	opPull  = "$pull"
)

// compiledUpdate is an update document that has been validated and normalized.
type compiledUpdate struct {
	set      []assignment
	unset    []string
	inc      []assignment
	pull     []assignment
	filtered []filteredSet
}

type assignment struct {
	path  string
	segs  []string
	value any
}

// filteredSet is a $set through an "$[ident]" placeholder:
// prefix.$[ident].rest = value for every element of prefix matching pred.
type filteredSet struct {
	path   string
	prefix []string
	rest   []string
	value  any
	pred   arrayPredicate
}

type arrayPredicate struct {
	field []string // path inside the element; empty compares the element itself
	value any
}

// compileUpdate validates update and resolves array filters. Operators are
// applied in the order $set, $unset, $inc, $pull, then the array-filter $set
// pass. Paths inside an operator are applied in sorted order so results do
// not depend on map iteration.
func compileUpdate(update Update, arrayFilters []Filter) (*compiledUpdate, error) {
	n, err := normalizeMap(update, 0)
	if err != nil {
		return nil, err
	}
	cu := &compiledUpdate{}
	for op := range n {
		switch op {
		case opSet, opUnset, opInc, opPull:
		default:
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedOperator, op)
		}
	}

	if raw, ok := n[opSet]; ok {
		fields, err := operatorFields(opSet, raw)
		if err != nil {
			return nil, err
		}
		for _, path := range sortedKeys(fields) {
			if strings.Contains(path, "$[") {
				fs, err := compileFilteredSet(path, fields[path], arrayFilters)
				if err != nil {
					return nil, err
				}
				cu.filtered = append(cu.filtered, fs)
				continue
			}
			a, err := newAssignment(opSet, path, fields[path])
			if err != nil {
				return nil, err
			}
			cu.set = append(cu.set, a)
		}
	}

	if raw, ok := n[opUnset]; ok {
		var paths []string
		switch t := raw.(type) {
		case map[string]any:
			paths = sortedKeys(t)
		case []any:
			for _, p := range t {
				s, ok := p.(string)
				if !ok {
					return nil, fmt.Errorf("%w: $unset list holds %s", ErrUnsupportedOperator, typeName(p))
				}
				paths = append(paths, s)
			}
		default:
			return nil, fmt.Errorf("%w: $unset takes a document or a list", ErrUnsupportedOperator)
		}
		for _, p := range paths {
			if _, err := splitPath(p); err != nil {
				return nil, &PathError{Op: opUnset, Path: p, Err: err}
			}
			cu.unset = append(cu.unset, p)
		}
	}

	if raw, ok := n[opInc]; ok {
		fields, err := operatorFields(opInc, raw)
		if err != nil {
			return nil, err
		}
		for _, path := range sortedKeys(fields) {
			a, err := newAssignment(opInc, path, fields[path])
			if err != nil {
				return nil, err
			}
			if _, ok := a.value.(float64); !ok {
				return nil, &PathError{Op: opInc, Path: path, Err: fmt.Errorf("%w: delta is %s", ErrTypeMismatch, typeName(a.value))}
			}
			cu.inc = append(cu.inc, a)
		}
	}

	if raw, ok := n[opPull]; ok {
		fields, err := operatorFields(opPull, raw)
		if err != nil {
			return nil, err
		}
		for _, path := range sortedKeys(fields) {
			a, err := newAssignment(opPull, path, fields[path])
			if err != nil {
				return nil, err
			}
			cu.pull = append(cu.pull, a)
		}
	}
	return cu, nil
}

func operatorFields(op string, raw any) (map[string]any, error) {
	fields, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s takes a document, got %s", ErrUnsupportedOperator, op, typeName(raw))
	}
	return fields, nil
}

func newAssignment(op, path string, v any) (assignment, error) {
	segs, err := splitPath(path)
	if err != nil {
		return assignment{}, &PathError{Op: op, Path: path, Err: err}
	}
	return assignment{path: path, segs: segs, value: v}, nil
}

func compileFilteredSet(path string, v any, arrayFilters []Filter) (filteredSet, error) {
	bad := func(format string, args ...any) (filteredSet, error) {
		return filteredSet{}, &PathError{Op: opSet, Path: path, Err: fmt.Errorf("%w: "+format, append([]any{ErrMalformedPath}, args...)...)}
	}
	segs, err := splitPath(path)
	if err != nil {
		return bad("empty segment")
	}
	at := -1
	for i, s := range segs {
		if !strings.Contains(s, "$[") {
			continue
		}
		if at >= 0 {
			return bad("only one array filter placeholder is supported")
		}
		if !strings.HasPrefix(s, "$[") || !strings.HasSuffix(s, "]") || len(s) < 4 {
			return bad("bad placeholder %q", s)
		}
		at = i
	}
	if at == 0 {
		return bad("placeholder needs an array field before it")
	}
	ident := segs[at][2 : len(segs[at])-1]
	if len(arrayFilters) == 0 {
		return bad("placeholder $[%s] without array filters", ident)
	}
	if len(arrayFilters) > 1 {
		return filteredSet{}, fmt.Errorf("%w: only one array filter is supported", ErrBadFilter)
	}
	af, err := normalizeMap(arrayFilters[0], 0)
	if err != nil {
		return filteredSet{}, err
	}
	if len(af) != 1 {
		return filteredSet{}, fmt.Errorf("%w: array filter must have exactly one predicate", ErrBadFilter)
	}
	var pred arrayPredicate
	for key, want := range af {
		if key != ident && !strings.HasPrefix(key, ident+".") {
			return filteredSet{}, fmt.Errorf("%w: array filter %q does not reference $[%s]", ErrBadFilter, key, ident)
		}
		if key != ident {
			pred.field = strings.Split(strings.TrimPrefix(key, ident+"."), ".")
		}
		pred.value = want
	}
	return filteredSet{
		path:   path,
		prefix: segs[:at],
		rest:   segs[at+1:],
		value:  v,
		pred:   pred,
	}, nil
}

// apply mutates doc in place.
func (cu *compiledUpdate) apply(doc Document) error {
	root := map[string]any(doc)
	for _, a := range cu.set {
		v := cloneValue(a.value)
		if _, err := modifyPath(root, a.segs, func(any, bool) (any, error) { return v, nil }); err != nil {
			return &PathError{Op: opSet, Path: a.path, Err: err}
		}
	}
	for _, p := range cu.unset {
		segs, _ := splitPath(p)
		removePath(root, segs)
	}
	for _, a := range cu.inc {
		delta := a.value.(float64)
		_, err := modifyPath(root, a.segs, func(old any, exists bool) (any, error) {
			if !exists || old == nil {
				return delta, nil
			}
			n, ok := old.(float64)
			if !ok {
				return nil, fmt.Errorf("%w: cannot increment %s", ErrTypeMismatch, typeName(old))
			}
			return n + delta, nil
		})
		if err != nil {
			return &PathError{Op: opInc, Path: a.path, Err: err}
		}
	}
	for _, a := range cu.pull {
		cur, ok := lookupPath(root, a.segs)
		if !ok {
			continue
		}
		list, ok := cur.([]any)
		if !ok {
			continue
		}
		kept := make([]any, 0, len(list))
		for _, e := range list {
			if !Equal(e, a.value) {
				kept = append(kept, e)
			}
		}
		if _, err := modifyPath(root, a.segs, func(any, bool) (any, error) { return kept, nil }); err != nil {
			return &PathError{Op: opPull, Path: a.path, Err: err}
		}
	}
	for _, fs := range cu.filtered {
		if err := fs.apply(root); err != nil {
			return &PathError{Op: opSet, Path: fs.path, Err: err}
		}
	}
	return nil
}

func (fs filteredSet) apply(root map[string]any) error {
	cur, ok := lookupPath(root, fs.prefix)
	if !ok || cur == nil {
		return nil
	}
	list, ok := cur.([]any)
	if !ok {
		return fmt.Errorf("%w: %s is %s, not a list", ErrTypeMismatch, strings.Join(fs.prefix, "."), typeName(cur))
	}
	for i, elem := range list {
		got, found := elem, true
		if len(fs.pred.field) > 0 {
			got, found = lookupPath(elem, fs.pred.field)
		}
		if !found || !Equal(got, fs.pred.value) {
			continue
		}
		v := cloneValue(fs.value)
		if len(fs.rest) == 0 {
			list[i] = v
			continue
		}
		if _, isMap := elem.(map[string]any); !isMap {
			continue
		}
		if _, err := modifyPath(elem, fs.rest, func(any, bool) (any, error) { return v, nil }); err != nil {
			return err
		}
	}
	return nil
}

// seedFromFilter builds the base document for an upsert from the filter's
// equality fields.
func seedFromFilter(filter Filter) Document {
	doc := Document{}
	for k, v := range filter {
		if strings.HasPrefix(k, "$") {
			continue
		}
		doc[k] = cloneValue(v)
	}
	return doc
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
