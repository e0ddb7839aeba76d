// Package facet computes value histograms over facetable fields for a given
// document-key set.
package facet

import (
	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/hyperjump/tansaku/internal/document"
	"github.com/hyperjump/tansaku/internal/schema"
)

// Count is one histogram bucket: a distinct rendered value and how many
// documents (or array elements) carry it.
type Count struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// Aggregator counts field values over key sets.
type Aggregator struct {
	schema *schema.Schema
	store  *document.Store
}

// New creates an aggregator.
func New(s *schema.Schema, store *document.Store) *Aggregator {
	return &Aggregator{schema: s, store: store}
}

// Aggregate builds a histogram per facetable field over the documents in
// keys. Array-valued fields contribute one count per element. Zero-count
// values are omitted and bucket order is unspecified; callers sort as
// needed.
func (a *Aggregator) Aggregate(keys *roaring64.Bitmap) map[string][]Count {
	fields := a.schema.FieldsWithRole(schema.RoleFacetable)
	if len(fields) == 0 || keys == nil || keys.IsEmpty() {
		return nil
	}

	counts := make(map[string]map[string]int, len(fields))
	for _, f := range fields {
		counts[f.Name] = make(map[string]int)
	}

	it := keys.Iterator()
	for it.HasNext() {
		doc, err := a.store.Doc(it.Next())
		if err != nil {
			continue
		}
		for _, f := range fields {
			for _, v := range doc.Fields[f.Name] {
				counts[f.Name][v.String()]++
			}
		}
	}

	out := make(map[string][]Count, len(counts))
	for field, values := range counts {
		if len(values) == 0 {
			continue
		}
		buckets := make([]Count, 0, len(values))
		for value, n := range values {
			buckets = append(buckets, Count{Value: value, Count: n})
		}
		out[field] = buckets
	}
	return out
}
