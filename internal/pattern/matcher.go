package pattern

import (
	"context"
	"sort"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"go.uber.org/zap"

	"github.com/hyperjump/tansaku/internal/core"
	"github.com/hyperjump/tansaku/internal/document"
	"github.com/hyperjump/tansaku/internal/schema"
	"github.com/hyperjump/tansaku/pkg/utils"
)

// Candidate is one pattern-matched document with its raw pattern score.
type Candidate struct {
	Key   core.DocKey
	Score core.Score
	// Field is the searchable field whose alignment won for this document.
	Field string
}

// Similarity quantization. A field's alignment quality is bucketed before
// the weight tier is consulted, so weight reorders results within a bucket
// but can never lift a match a full quality bucket above a better-aligned
// low-weight match. See the scoring tests for the pinned behavior.
const (
	simBuckets  = 16
	bucketWidth = 16 // score points per bucket
)

// Within-bucket bonus per weight tier. Must stay below bucketWidth minus the
// fractional range so a bonus cannot cross a bucket boundary.
var weightBonus = map[core.Weight]int{
	core.WeightLow:  0,
	core.WeightMed:  2,
	core.WeightHigh: 4,
}

// Matcher computes approximate per-document relevance against a query
// string over the searchable fields of a schema.
type Matcher struct {
	schema *schema.Schema
	logger *zap.Logger

	// cancelEvery bounds how many documents are scanned between context
	// polls, so a query timeout is honored with small overshoot.
	cancelEvery int
}

// NewMatcher creates a matcher over the given schema.
func NewMatcher(s *schema.Schema, logger *zap.Logger) *Matcher {
	return &Matcher{
		schema:      s,
		logger:      utils.LoggerOrNop(logger),
		cancelEvery: 64,
	}
}

// Match scores every document the iterator yields against the query and
// returns candidates sorted by score descending, ties broken by ascending
// key. allowed, when non-nil, restricts which documents are scored.
// Zero-score documents are omitted. An empty query matches nothing.
//
// On context expiry Match returns the candidates accumulated so far together
// with the context error; partial output is still correctly sorted.
func (m *Matcher) Match(ctx context.Context, it *document.Iterator, query string, allowed *roaring64.Bitmap) ([]Candidate, error) {
	normalized := utils.NormalizeText(query)
	if normalized == "" {
		return nil, nil
	}
	qRunes := []rune(normalized)

	fields := m.schema.FieldsWithRole(schema.RoleSearchable)
	if len(fields) == 0 {
		return nil, nil
	}

	var cands []Candidate
	var err error
	scanned := 0
	for doc, ok := it.Next(); ok; doc, ok = it.Next() {
		if allowed != nil && !allowed.Contains(doc.Key) {
			continue
		}
		scanned++
		if scanned%m.cancelEvery == 0 {
			if ctxErr := ctx.Err(); ctxErr != nil {
				err = ctxErr
				break
			}
		}

		if c, hit := m.scoreDocument(qRunes, doc, fields); hit {
			cands = append(cands, c)
		}
	}

	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].Score != cands[j].Score {
			return cands[i].Score > cands[j].Score
		}
		return cands[i].Key < cands[j].Key
	})

	m.logger.Debug("pattern match complete",
		zap.Int("scanned", scanned),
		zap.Int("candidates", len(cands)),
	)
	return cands, err
}

// scoreDocument returns the best per-field score for one document.
func (m *Matcher) scoreDocument(qRunes []rune, doc *document.Document, fields []schema.Field) (Candidate, bool) {
	best := Candidate{Key: doc.Key}
	found := false
	for _, f := range fields {
		text := utils.NormalizeText(doc.Text(f.Name))
		if text == "" {
			continue
		}
		sim := WindowSimilarity(qRunes, []rune(text))
		score := scaleScore(sim, f.Weight)
		if score <= 0 {
			continue
		}
		if !found || score > best.Score {
			best.Score = score
			best.Field = f.Name
			found = true
		}
	}
	return best, found
}

// scaleScore maps a similarity in [0,1] and a weight tier to a pattern
// score in [1, MaxPatternScore].
func scaleScore(sim float64, w core.Weight) core.Score {
	if sim <= 0 {
		return 0
	}
	if sim > 1 {
		sim = 1
	}

	scaled := sim * simBuckets
	bucket := int(scaled)
	if bucket >= simBuckets {
		bucket = simBuckets - 1
	}
	// Tenths of a bucket keep ordering inside the bucket before the weight
	// bonus is added on top.
	frac := int((scaled - float64(bucket)) * 10)
	if frac > 9 {
		frac = 9
	}

	score := core.Score(bucket*bucketWidth + frac + weightBonus[w])
	if score > core.MaxPatternScore {
		score = core.MaxPatternScore
	}
	if score < 1 {
		score = 1
	}
	return score
}

// WindowSimilarity computes the best normalized edit-distance similarity
// between the query and any query-sized window of the text, tolerating
// insertions, deletions and substitutions. Windows advance by half the
// query length; the final window is anchored to the end of the text so the
// tail is always covered.
func WindowSimilarity(q, text []rune) float64 {
	if len(q) == 0 || len(text) == 0 {
		return 0
	}

	w := len(q)
	if len(text) <= w {
		longer := w
		if len(text) > longer {
			longer = len(text)
		}
		return 1 - float64(Distance(q, text))/float64(longer)
	}

	stride := w / 2
	if stride < 1 {
		stride = 1
	}

	best := 0.0
	for start := 0; start < len(text); start += stride {
		end := start + w
		if end > len(text) {
			end = len(text)
			start = end - w
		}
		d := Distance(q, text[start:end])
		sim := 1 - float64(d)/float64(w)
		if sim > best {
			best = sim
			if best >= 1 {
				break
			}
		}
		if end == len(text) {
			break
		}
	}
	return best
}
