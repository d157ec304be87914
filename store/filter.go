package store

import (
	"fmt"
	"strings"
)

const opOr = "$or"

// Match reports whether doc satisfies filter. An empty filter matches every
// document. A field absent from doc compares equal to null. Filter values are
// normalized first, so Filter{"a": 1} matches a stored 1.0; an invalid filter
// matches nothing.
func Match(doc Document, filter Filter) bool {
	f, err := normalizeFilter(filter)
	if err != nil {
		return false
	}
	return matches(doc, f)
}

func matches(doc Document, filter Filter) bool {
	for key, want := range filter {
		if key == opOr {
			subs, _ := want.([]any)
			if !matchAny(doc, subs) {
				return false
			}
			continue
		}
		if !Equal(doc[key], want) {
			return false
		}
	}
	return true
}

func matchAny(doc Document, subs []any) bool {
	for _, s := range subs {
		if f, ok := s.(map[string]any); ok && matches(doc, Filter(f)) {
			return true
		}
	}
	return false
}

// normalizeFilter validates filter and converts its values to the stored
// value set so equality is comparable with decoded rows.
func normalizeFilter(filter Filter) (Filter, error) {
	if len(filter) == 0 {
		return nil, nil
	}
	n, err := normalizeMap(filter, 0)
	if err != nil {
		return nil, err
	}
	if err := validateFilter(n); err != nil {
		return nil, err
	}
	return Filter(n), nil
}

func validateFilter(f map[string]any) error {
	for key, v := range f {
		if key == opOr {
			subs, ok := v.([]any)
			if !ok || len(subs) == 0 {
				return fmt.Errorf("%w: $or needs a non-empty list of filters", ErrBadFilter)
			}
			for _, s := range subs {
				sub, ok := s.(map[string]any)
				if !ok {
					return fmt.Errorf("%w: $or element is %s, not a document", ErrBadFilter, typeName(s))
				}
				if err := validateFilter(sub); err != nil {
					return err
				}
			}
			continue
		}
		if strings.HasPrefix(key, "$") {
			return fmt.Errorf("%w: operator %s", ErrBadFilter, key)
		}
	}
	return nil
}
