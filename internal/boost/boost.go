// Package boost provides precomputed score adjustments keyed by a document
// key set and a strength tier. Boosts only touch coverage-confirmed
// candidates: rather than raising boosted documents (which would break the
// 255 ceiling), the deltas lower the non-boosted confirmed documents.
package boost

import (
	"fmt"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/hyperjump/tansaku/internal/core"
)

// Score deltas per strength tier. Tuning constants: callers may rely on
// monotonicity across Low < Med < High, nothing more.
var strengthDelta = map[core.Strength]core.Score{
	core.StrengthLow:  16,
	core.StrengthMed:  32,
	core.StrengthHigh: 64,
}

// Boost pairs a snapshot of document keys with a strength tier. The key set
// and per-key delta are fixed at creation time; documents loaded or deleted
// afterwards do not change an existing boost.
type Boost struct {
	keys     *roaring64.Bitmap
	strength core.Strength
	delta    core.Score
}

// New creates a boost over the given key set. The set is copied.
func New(keys *roaring64.Bitmap, strength core.Strength) (*Boost, error) {
	delta, ok := strengthDelta[strength]
	if !ok {
		return nil, fmt.Errorf("%w: unknown boost strength %d", core.ErrSchemaViolation, strength)
	}
	cp := roaring64.New()
	if keys != nil {
		cp.Or(keys)
	}
	return &Boost{keys: cp, strength: strength, delta: delta}, nil
}

// Strength returns the boost's tier.
func (b *Boost) Strength() core.Strength { return b.strength }

// Contains reports whether the boost covers a document.
func (b *Boost) Contains(key core.DocKey) bool { return b.keys.Contains(key) }

// Len returns the number of covered documents.
func (b *Boost) Len() uint64 { return b.keys.GetCardinality() }

// Apply adjusts the score of one coverage-confirmed document. Documents in
// the boost set keep their score; all other confirmed documents are lowered
// by the delta, floored at 1 so a confirmed hit never drops to zero.
func (b *Boost) Apply(key core.DocKey, score core.Score) core.Score {
	if b.Contains(key) {
		return score
	}
	score -= b.delta
	if score < 1 {
		score = 1
	}
	return score
}

// ApplyAll runs every boost in order over one confirmed document's score.
func ApplyAll(boosts []*Boost, key core.DocKey, score core.Score) core.Score {
	for _, b := range boosts {
		score = b.Apply(key, score)
	}
	return score
}
