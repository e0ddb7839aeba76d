package boost

import (
	"testing"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/hyperjump/tansaku/internal/core"
)

func bitmap(keys ...uint64) *roaring64.Bitmap {
	bm := roaring64.New()
	bm.AddMany(keys)
	return bm
}

func TestBoostedDocumentKeepsScore(t *testing.T) {
	b, err := New(bitmap(1, 2), core.StrengthHigh)
	if err != nil {
		t.Fatal(err)
	}
	if got := b.Apply(1, 200); got != 200 {
		t.Errorf("boosted document score = %d, want unchanged 200", got)
	}
	if got := b.Apply(3, 200); got >= 200 {
		t.Errorf("non-boosted document score = %d, want lowered", got)
	}
}

func TestStrengthMonotone(t *testing.T) {
	var prev core.Score = 0
	for i, strength := range []core.Strength{core.StrengthLow, core.StrengthMed, core.StrengthHigh} {
		b, err := New(bitmap(1), strength)
		if err != nil {
			t.Fatal(err)
		}
		lowered := b.Apply(2, 200)
		drop := 200 - lowered
		if i > 0 && drop <= prev {
			t.Errorf("strength %v drop = %d, want more than previous tier's %d", strength, drop, prev)
		}
		prev = drop

		// The boosted document's own score never increases with strength.
		if own := b.Apply(1, 200); own > 200 {
			t.Errorf("strength %v raised boosted score to %d", strength, own)
		}
	}
}

func TestApplyFloor(t *testing.T) {
	b, _ := New(bitmap(1), core.StrengthHigh)
	if got := b.Apply(2, 10); got != 1 {
		t.Errorf("lowered score = %d, want floor 1", got)
	}
}

func TestSnapshotSemantics(t *testing.T) {
	src := bitmap(1, 2)
	b, _ := New(src, core.StrengthLow)
	src.Add(3)
	if b.Contains(3) {
		t.Error("boost must snapshot its key set at creation")
	}
	if b.Len() != 2 {
		t.Errorf("boost covers %d keys, want 2", b.Len())
	}
}

func TestApplyAll(t *testing.T) {
	b1, _ := New(bitmap(1), core.StrengthLow)
	b2, _ := New(bitmap(2), core.StrengthLow)

	// Document 1 escapes b1 but is lowered by b2, and vice versa; document
	// 3 is lowered by both.
	s1 := ApplyAll([]*Boost{b1, b2}, 1, 200)
	s3 := ApplyAll([]*Boost{b1, b2}, 3, 200)
	if s1 <= s3 {
		t.Errorf("doc in one boost (%d) must outscore doc in none (%d)", s1, s3)
	}
}
