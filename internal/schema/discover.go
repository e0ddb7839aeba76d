package schema

import (
	"encoding/json"
	"fmt"

	"github.com/hyperjump/tansaku/internal/core"
)

// Discover infers a schema from sample documents. Nested objects become
// dot-path fields; arrays are flagged IsArray with the element kind; a field
// absent from at least one sample is Optional. String fields default to
// searchable/facetable, numeric fields to filterable/sortable; callers
// adjust roles afterwards with SetRole.
func Discover(samples []map[string]any) (*Schema, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: no sample documents", core.ErrSchemaViolation)
	}

	seen := make(map[string]*Field)
	counts := make(map[string]int)
	for _, doc := range samples {
		discoverValue("", doc, seen, counts)
	}

	s := New()
	for name, f := range seen {
		f.Optional = counts[name] < len(samples)
		applyDefaultRoles(f)
		if err := s.AddField(*f); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func discoverValue(prefix string, v any, seen map[string]*Field, counts map[string]int) {
	switch val := v.(type) {
	case map[string]any:
		for k, child := range val {
			path := k
			if prefix != "" {
				path = prefix + "." + k
			}
			discoverValue(path, child, seen, counts)
		}
	case []any:
		f := record(prefix, seen, counts)
		f.IsArray = true
		if len(val) > 0 {
			f.Kind = kindOf(val[0])
			if f.Kind == KindObject {
				// Arrays of objects expose their element fields too.
				for _, elem := range val {
					if m, ok := elem.(map[string]any); ok {
						discoverValue(prefix, m, seen, counts)
					}
				}
			}
		}
	default:
		f := record(prefix, seen, counts)
		f.Kind = kindOf(v)
	}
}

func record(path string, seen map[string]*Field, counts map[string]int) *Field {
	if path == "" {
		path = "."
	}
	counts[path]++
	f, ok := seen[path]
	if !ok {
		f = &Field{Name: path, Weight: core.WeightMed}
		seen[path] = f
	}
	return f
}

func kindOf(v any) Kind {
	switch v.(type) {
	case string:
		return KindString
	case float64, float32, int, int64, uint64, json.Number:
		return KindNumber
	case bool:
		return KindBool
	default:
		return KindObject
	}
}

func applyDefaultRoles(f *Field) {
	switch f.Kind {
	case KindString:
		f.Searchable = true
		f.Facetable = true
		f.Filterable = true
		if !f.IsArray {
			f.Sortable = true
		}
	case KindNumber:
		f.Filterable = true
		f.Facetable = true
		if !f.IsArray {
			f.Sortable = true
		}
	case KindBool:
		f.Filterable = true
		f.Facetable = true
	}
}
