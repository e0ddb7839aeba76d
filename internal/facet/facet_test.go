package facet

import (
	"strings"
	"testing"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/hyperjump/tansaku/internal/document"
	"github.com/hyperjump/tansaku/internal/schema"
)

func setup(t *testing.T) (*Aggregator, *roaring64.Bitmap) {
	t.Helper()
	s := schema.New()
	for _, f := range []schema.Field{
		{Name: "category", Kind: schema.KindString, Facetable: true},
		{Name: "tags", Kind: schema.KindString, IsArray: true, Facetable: true},
		{Name: "title", Kind: schema.KindString, Searchable: true},
	} {
		if err := s.AddField(f); err != nil {
			t.Fatal(err)
		}
	}
	store := document.NewStore(0)
	_, err := store.Load(strings.NewReader(`[
		{"title": "a", "category": "audio", "tags": ["sale", "new"]},
		{"title": "b", "category": "audio", "tags": ["sale"]},
		{"title": "c", "category": "video"}
	]`))
	if err != nil {
		t.Fatal(err)
	}
	keys := roaring64.New()
	keys.AddMany(store.Keys())
	return New(s, store), keys
}

func bucket(t *testing.T, counts []Count, value string) int {
	t.Helper()
	for _, c := range counts {
		if c.Value == value {
			return c.Count
		}
	}
	return 0
}

func TestAggregate(t *testing.T) {
	a, keys := setup(t)
	facets := a.Aggregate(keys)

	cat := facets["category"]
	if got := bucket(t, cat, "audio"); got != 2 {
		t.Errorf("audio count = %d, want 2", got)
	}
	if got := bucket(t, cat, "video"); got != 1 {
		t.Errorf("video count = %d, want 1", got)
	}

	total := 0
	for _, c := range cat {
		total += c.Count
	}
	if total != 3 {
		t.Errorf("category histogram sums to %d, want total document count 3", total)
	}

	// Array fields count one per element.
	tags := facets["tags"]
	if got := bucket(t, tags, "sale"); got != 2 {
		t.Errorf("sale count = %d, want 2", got)
	}
	if got := bucket(t, tags, "new"); got != 1 {
		t.Errorf("new count = %d, want 1", got)
	}

	// Non-facetable fields are absent, zero counts omitted.
	if _, ok := facets["title"]; ok {
		t.Error("non-facetable field in histogram")
	}
	for _, c := range append(cat, tags...) {
		if c.Count == 0 {
			t.Error("zero-count bucket emitted")
		}
	}
}

func TestAggregateRestrictedKeySet(t *testing.T) {
	a, _ := setup(t)
	keys := roaring64.New()
	keys.Add(3)
	facets := a.Aggregate(keys)
	if got := bucket(t, facets["category"], "audio"); got != 0 {
		t.Errorf("audio count over restricted set = %d, want 0", got)
	}
	if got := bucket(t, facets["category"], "video"); got != 1 {
		t.Errorf("video count over restricted set = %d, want 1", got)
	}
}

func TestAggregateEmpty(t *testing.T) {
	a, _ := setup(t)
	if got := a.Aggregate(roaring64.New()); got != nil {
		t.Errorf("empty key set should aggregate to nil, got %v", got)
	}
	if got := a.Aggregate(nil); got != nil {
		t.Errorf("nil key set should aggregate to nil, got %v", got)
	}
}
