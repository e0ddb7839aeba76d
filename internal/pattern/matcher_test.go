package pattern

import (
	"context"
	"strings"
	"testing"

	"github.com/hyperjump/tansaku/internal/core"
	"github.com/hyperjump/tansaku/internal/document"
	"github.com/hyperjump/tansaku/internal/schema"
)

func testSchema(t *testing.T) *schema.Schema {
	t.Helper()
	s := schema.New()
	if err := s.AddField(schema.Field{
		Name: "title", Kind: schema.KindString, Searchable: true, Weight: core.WeightHigh,
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.AddField(schema.Field{
		Name: "description", Kind: schema.KindString, Searchable: true, Weight: core.WeightLow,
	}); err != nil {
		t.Fatal(err)
	}
	return s
}

func testStore(t *testing.T, docs string) *document.Store {
	t.Helper()
	store := document.NewStore(0)
	if _, err := store.Load(strings.NewReader(docs)); err != nil {
		t.Fatal(err)
	}
	return store
}

func TestMatchRanksByAlignment(t *testing.T) {
	store := testStore(t, `[
		{"title": "wireless headphones"},
		{"title": "wired headphones"},
		{"title": "bluetooth speaker"}
	]`)
	m := NewMatcher(testSchema(t), nil)

	cands, err := m.Match(context.Background(), store.All(), "wireless headphones", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) == 0 {
		t.Fatal("no candidates")
	}
	if cands[0].Key != 1 {
		t.Errorf("top candidate = %d, want document 1", cands[0].Key)
	}
	for _, c := range cands {
		if c.Score < core.MinScore || c.Score > core.MaxPatternScore {
			t.Errorf("pattern score %d outside [0,254]", c.Score)
		}
	}
	// Exact alignment outranks partial alignment.
	for i := 1; i < len(cands); i++ {
		if cands[i].Score > cands[i-1].Score {
			t.Error("candidates not sorted by score descending")
		}
	}
}

func TestMatchEmptyQuery(t *testing.T) {
	store := testStore(t, `[{"title": "anything"}]`)
	m := NewMatcher(testSchema(t), nil)

	cands, err := m.Match(context.Background(), store.All(), "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 0 {
		t.Errorf("empty query matched %d documents, want 0", len(cands))
	}

	cands, err = m.Match(context.Background(), store.All(), "   ?!", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 0 {
		t.Errorf("punctuation-only query matched %d documents, want 0", len(cands))
	}
}

func TestMatchTypoTolerance(t *testing.T) {
	store := testStore(t, `[{"title": "mechanical keyboard"}]`)
	m := NewMatcher(testSchema(t), nil)

	cands, err := m.Match(context.Background(), store.All(), "mechanicl keybord", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 1 {
		t.Fatalf("typo query matched %d documents, want 1", len(cands))
	}
	if cands[0].Score < 200 {
		t.Errorf("typo match score = %d, want near-exact", cands[0].Score)
	}
}

func TestWeightBreaksTiesWithinBucket(t *testing.T) {
	// Same text in a high-weight field vs a low-weight field: identical
	// alignment quality, so the weight tier decides.
	store := testStore(t, `[
		{"description": "ergonomic office chair"},
		{"title": "ergonomic office chair"}
	]`)
	m := NewMatcher(testSchema(t), nil)

	cands, err := m.Match(context.Background(), store.All(), "ergonomic office chair", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 2 {
		t.Fatalf("matched %d, want 2", len(cands))
	}
	if cands[0].Key != 2 {
		t.Errorf("high-weight field should win the tie, top = %d", cands[0].Key)
	}
}

func TestWeightCannotCrossBucket(t *testing.T) {
	// Document 1 has a clearly better alignment in a low-weight field than
	// document 2 has in a high-weight field. The weight bonus must not
	// overcome a full quality-bucket difference.
	store := testStore(t, `[
		{"description": "standing desk converter"},
		{"title": "standing lamp"}
	]`)
	m := NewMatcher(testSchema(t), nil)

	cands, err := m.Match(context.Background(), store.All(), "standing desk converter", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) == 0 || cands[0].Key != 1 {
		t.Fatalf("better alignment must win regardless of weight, got %+v", cands)
	}
}

func TestScaleScoreBounds(t *testing.T) {
	for _, sim := range []float64{0.01, 0.25, 0.5, 0.99, 1.0} {
		for _, w := range []core.Weight{core.WeightLow, core.WeightMed, core.WeightHigh} {
			s := scaleScore(sim, w)
			if s < 1 || s > core.MaxPatternScore {
				t.Errorf("scaleScore(%v, %v) = %d outside [1,254]", sim, w, s)
			}
		}
	}
	if scaleScore(0, core.WeightHigh) != 0 {
		t.Error("zero similarity must not produce a score")
	}
}

func TestMatchHonorsCancellation(t *testing.T) {
	// Enough documents to guarantee at least one poll.
	var b strings.Builder
	b.WriteString("[")
	for i := 0; i < 200; i++ {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(`{"title": "filler document text"}`)
	}
	b.WriteString("]")
	store := testStore(t, b.String())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := NewMatcher(testSchema(t), nil)
	_, err := m.Match(ctx, store.All(), "filler", nil)
	if err == nil {
		t.Error("expected context error from cancelled match")
	}
}
