package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/hyperjump/tansaku/internal/core"
	"github.com/hyperjump/tansaku/internal/coverage"
	"github.com/hyperjump/tansaku/internal/models"
)

func searchQuery(text string) *models.Query {
	return &models.Query{Text: text}
}

func scoreOf(res *models.Result, key core.DocKey) (core.Score, bool) {
	for _, h := range res.Hits {
		if h.Key == key {
			return h.Score, true
		}
	}
	return 0, false
}

func TestSearchWholeQueryScenario(t *testing.T) {
	e := newReadyEngine(t)

	res, err := e.Search(context.Background(), searchQuery("wireless headphones"))
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res.Hits) == 0 {
		t.Fatal("no hits")
	}
	if res.Hits[0].Key != 1 || res.Hits[0].Score != core.MaxScore {
		t.Fatalf("top hit = key %d score %d, want key 1 score 255",
			res.Hits[0].Key, res.Hits[0].Score)
	}
	s2, ok := scoreOf(res, 2)
	if !ok {
		t.Fatal("wired headphones absent from results")
	}
	if s2 >= core.MaxScore {
		t.Errorf("second document score %d, want below 255", s2)
	}
	if s3, ok := scoreOf(res, 3); ok && s3 >= s2 {
		t.Errorf("bluetooth speaker score %d not below wired headphones %d", s3, s2)
	}
	for _, h := range res.Hits {
		if h.Score < core.MinScore || h.Score > core.MaxScore {
			t.Errorf("key %d score %d out of [0,255]", h.Key, h.Score)
		}
	}
	if res.DidTimeOut {
		t.Error("unexpected timeout flag")
	}
}

func TestSearchWithRangeFilter(t *testing.T) {
	e := newReadyEngine(t)
	f, err := e.CreateRangeFilter("price", 10, 100)
	if err != nil {
		t.Fatalf("CreateRangeFilter: %v", err)
	}

	q := searchQuery("headphones")
	q.Filter = f
	res, err := e.Search(context.Background(), q)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for _, h := range res.Hits {
		if h.Key == 1 {
			t.Errorf("key 1 (price 199.99) leaked past the range filter")
		}
	}
	if _, ok := scoreOf(res, 2); !ok {
		t.Error("key 2 (price 49.99) missing")
	}
}

func TestSearchKeyIncludeExclude(t *testing.T) {
	e := newReadyEngine(t)
	include, err := e.CreateKeyFilter(1, 2)
	if err != nil {
		t.Fatalf("CreateKeyFilter: %v", err)
	}
	exclude, err := e.CreateKeyFilter(2)
	if err != nil {
		t.Fatalf("CreateKeyFilter: %v", err)
	}

	q := searchQuery("headphones")
	q.KeyIncludeFilter = include
	q.KeyExcludeFilter = exclude
	res, err := e.Search(context.Background(), q)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for _, h := range res.Hits {
		if h.Key != 1 {
			t.Errorf("key %d outside include minus exclude", h.Key)
		}
	}
	if _, ok := scoreOf(res, 1); !ok {
		t.Error("key 1 missing")
	}
}

func TestSearchEmptyQueryFacets(t *testing.T) {
	e := newReadyEngine(t)

	q := &models.Query{EnableFacets: true}
	res, err := e.Search(context.Background(), q)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if res.Total != 3 {
		t.Errorf("total = %d, want all 3 documents", res.Total)
	}
	counts := res.Facets["category"]
	sum := 0
	for _, c := range counts {
		sum += c.Count
	}
	if sum != 3 {
		t.Errorf("category histogram sums to %d, want 3", sum)
	}
}

func TestSearchEmptyQueryWithoutFacetsOrSortRejected(t *testing.T) {
	e := newReadyEngine(t)
	if _, err := e.Search(context.Background(), searchQuery("")); !errors.Is(err, core.ErrSchemaViolation) {
		t.Fatalf("empty query without facets or sort = %v, want ErrSchemaViolation", err)
	}
}

func TestSearchSortByPriceAscending(t *testing.T) {
	e := newReadyEngine(t)

	q := &models.Query{SortBy: "price", SortAscending: true}
	res, err := e.Search(context.Background(), q)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	want := []core.DocKey{2, 3, 1} // 49.99, 89.99, 199.99
	if len(res.Hits) != len(want) {
		t.Fatalf("got %d hits, want %d", len(res.Hits), len(want))
	}
	for i, k := range want {
		if res.Hits[i].Key != k {
			t.Errorf("position %d = key %d, want %d", i, res.Hits[i].Key, k)
		}
	}
}

func TestSearchSortFieldMustBeSortable(t *testing.T) {
	e := newReadyEngine(t)
	q := searchQuery("headphones")
	q.SortBy = "no_such_field"
	if _, err := e.Search(context.Background(), q); !errors.Is(err, core.ErrSchemaViolation) {
		t.Fatalf("unknown sort field = %v, want ErrSchemaViolation", err)
	}
}

func TestSearchDuringRebuildServesPriorSnapshot(t *testing.T) {
	e := newReadyEngine(t)
	e.mu.Lock()
	e.state = StateIndexing
	e.mu.Unlock()

	res, err := e.Search(context.Background(), searchQuery("wireless headphones"))
	if err != nil {
		t.Fatalf("search during rebuild: %v", err)
	}
	if len(res.Hits) == 0 || res.Hits[0].Key != 1 || res.Hits[0].Score != core.MaxScore {
		t.Fatalf("prior snapshot not served: %+v", res.Hits)
	}
}

func TestSearchDuringFirstBuildRejected(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	if _, err := e.DiscoverSchema(ctx, strings.NewReader(productJSON)); err != nil {
		t.Fatalf("DiscoverSchema: %v", err)
	}
	if _, err := e.LoadDocuments(ctx, strings.NewReader(productJSON)); err != nil {
		t.Fatalf("LoadDocuments: %v", err)
	}
	// First build in flight: no snapshot has ever been published.
	e.mu.Lock()
	e.state = StateIndexing
	e.mu.Unlock()

	if _, err := e.Search(ctx, searchQuery("headphones")); !errors.Is(err, core.ErrInvalidState) {
		t.Fatalf("search before first build = %v, want ErrInvalidState", err)
	}
}

func TestSearchMaxResultsTruncation(t *testing.T) {
	e := newReadyEngine(t)

	q := &models.Query{EnableFacets: true, MaxResults: 2}
	res, err := e.Search(context.Background(), q)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(res.Hits) != 2 {
		t.Errorf("returned %d hits, want 2", len(res.Hits))
	}
	if res.Total != 3 {
		t.Errorf("total = %d, want pre-truncation 3", res.Total)
	}
	// Facets cover the pre-truncation set.
	sum := 0
	for _, c := range res.Facets["category"] {
		sum += c.Count
	}
	if sum != 3 {
		t.Errorf("facet histogram sums to %d, want 3", sum)
	}
}

func TestSearchRemoveDuplicates(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	docs := `[
		{"title": "wireless headphones", "price": 1},
		{"title": "Wireless  Headphones!", "price": 2},
		{"title": "bluetooth speaker", "price": 3}
	]`
	if _, err := e.DiscoverSchema(ctx, strings.NewReader(docs)); err != nil {
		t.Fatalf("DiscoverSchema: %v", err)
	}
	if _, err := e.LoadDocuments(ctx, strings.NewReader(docs)); err != nil {
		t.Fatalf("LoadDocuments: %v", err)
	}
	if err := e.BuildIndexSync(ctx); err != nil {
		t.Fatalf("BuildIndexSync: %v", err)
	}

	q := searchQuery("wireless headphones")
	q.RemoveDuplicates = true
	res, err := e.Search(ctx, q)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	_, has1 := scoreOf(res, 1)
	_, has2 := scoreOf(res, 2)
	if has1 && has2 {
		t.Error("both near-duplicate documents kept")
	}
	if !has1 && !has2 {
		t.Error("both near-duplicate documents dropped")
	}
}

func TestDedupeShiftsTruncationIndex(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	docs := `[
		{"title": "wireless headphones", "price": 1},
		{"title": "Wireless  Headphones!", "price": 2},
		{"title": "bluetooth speaker", "price": 3}
	]`
	if _, err := e.DiscoverSchema(ctx, strings.NewReader(docs)); err != nil {
		t.Fatalf("DiscoverSchema: %v", err)
	}
	if _, err := e.LoadDocuments(ctx, strings.NewReader(docs)); err != nil {
		t.Fatalf("LoadDocuments: %v", err)
	}

	hits := []coverage.Hit{{Key: 1}, {Key: 2}, {Key: 3}}

	out, idx := e.dedupe(hits, 2)
	if len(out) != 2 {
		t.Fatalf("kept %d hits, want 2", len(out))
	}
	if idx != 1 {
		t.Errorf("boundary after dropping a hit before it = %d, want 1", idx)
	}
	if idx >= len(out) {
		t.Errorf("boundary %d points past the %d remaining hits", idx, len(out))
	}

	hits = []coverage.Hit{{Key: 1}, {Key: 2}, {Key: 3}}
	if _, idx := e.dedupe(hits, 0); idx != 0 {
		t.Errorf("boundary before the dropped hit moved to %d", idx)
	}

	hits = []coverage.Hit{{Key: 1}, {Key: 2}, {Key: 3}}
	if _, idx := e.dedupe(hits, -1); idx != -1 {
		t.Errorf("untruncated list got boundary %d", idx)
	}
}

func TestSearchCancelledContext(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	var b strings.Builder
	b.WriteString("[")
	for i := 0; i < 200; i++ {
		if i > 0 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, `{"title": "document number %d"}`, i)
	}
	b.WriteString("]")
	if _, err := e.DiscoverSchema(ctx, strings.NewReader(b.String())); err != nil {
		t.Fatalf("DiscoverSchema: %v", err)
	}
	if _, err := e.LoadDocuments(ctx, strings.NewReader(b.String())); err != nil {
		t.Fatalf("LoadDocuments: %v", err)
	}
	if err := e.BuildIndexSync(ctx); err != nil {
		t.Fatalf("BuildIndexSync: %v", err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := e.Search(cancelled, searchQuery("document number")); !errors.Is(err, core.ErrCancelled) {
		t.Fatalf("search with cancelled context = %v, want ErrCancelled", err)
	}
}

func TestSearchCountsSearches(t *testing.T) {
	e := newReadyEngine(t)
	for i := 0; i < 3; i++ {
		if _, err := e.Search(context.Background(), searchQuery("headphones")); err != nil {
			t.Fatalf("Search: %v", err)
		}
	}
	if got := e.Status().SearchCount; got != 3 {
		t.Errorf("search count = %d, want 3", got)
	}
}
