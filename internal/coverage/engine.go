package coverage

import (
	"context"

	"go.uber.org/zap"

	"github.com/hyperjump/tansaku/internal/boost"
	"github.com/hyperjump/tansaku/internal/core"
	"github.com/hyperjump/tansaku/internal/document"
	"github.com/hyperjump/tansaku/internal/pattern"
	"github.com/hyperjump/tansaku/internal/schema"
	"github.com/hyperjump/tansaku/pkg/utils"
)

// Hit is one re-scored result record.
type Hit struct {
	Key core.DocKey
	// Score is the coverage score for confirmed documents, or the original
	// pattern score for unconfirmed ones.
	Score     core.Score
	WordHits  int
	Confirmed bool
}

// Result is the outcome of the coverage pass.
type Result struct {
	Hits []Hit
	// TruncationIndex is the last kept position when truncation applied,
	// or -1 when nothing was truncated at.
	TruncationIndex int
	// TruncationScore echoes the force-include threshold used.
	TruncationScore core.Score
}

// Engine runs the coverage state machine over a pattern candidate list.
type Engine struct {
	schema *schema.Schema
	store  *document.Store
	logger *zap.Logger

	cancelEvery int
}

// NewEngine creates a coverage engine.
func NewEngine(s *schema.Schema, store *document.Store, logger *zap.Logger) *Engine {
	return &Engine{
		schema:      s,
		store:       store,
		logger:      utils.LoggerOrNop(logger),
		cancelEvery: 16,
	}
}

// Refine re-scores the top depth candidates with the enabled detectors,
// applies boosts to confirmed documents, re-sorts confirmed hits above the
// unconfirmed remainder and computes the truncation boundary. depth is
// auto-raised to at least maxResults.
//
// On context expiry the candidates processed so far are returned together
// with the context error; the remainder is treated as unconfirmed.
func (e *Engine) Refine(
	ctx context.Context,
	cands []pattern.Candidate,
	query string,
	setup Setup,
	boosts []*boost.Boost,
	depth, maxResults int,
) (Result, error) {
	setup.ApplyDefaults()
	res := Result{TruncationIndex: -1, TruncationScore: setup.TruncationScore}

	if depth < maxResults {
		depth = maxResults
	}
	if depth > len(cands) {
		depth = len(cands)
	}

	qc := newQueryContext(query, &setup)
	fields := e.schema.FieldsWithRole(schema.RoleSearchable)

	confirmed := make([]Hit, 0, depth)
	var unconfirmed []Hit
	var err error

	processed := 0
	for i := 0; i < depth; i++ {
		if i > 0 && i%e.cancelEvery == 0 {
			if ctxErr := ctx.Err(); ctxErr != nil {
				err = ctxErr
				break
			}
		}
		processed = i + 1

		c := cands[i]
		doc, docErr := e.store.Doc(c.Key)
		if docErr != nil {
			// Deleted mid-query: drop from results.
			continue
		}

		hit, ok := e.scoreCandidate(qc, doc, fields)
		if ok {
			hit.Score = boost.ApplyAll(boosts, hit.Key, hit.Score)
			confirmed = append(confirmed, hit)
		} else {
			unconfirmed = append(unconfirmed, Hit{Key: c.Key, Score: c.Score})
		}
	}
	// Everything past the processed prefix (candidates beyond the
	// coverage depth, or skipped on timeout) stays pattern-only.
	for _, c := range cands[processed:] {
		unconfirmed = append(unconfirmed, Hit{Key: c.Key, Score: c.Score})
	}

	sortConfirmed(confirmed)

	res.Hits = confirmed
	if setup.IncludePattern() {
		res.Hits = append(res.Hits, unconfirmed...)
	}

	if setup.Truncate && len(confirmed) > 0 {
		res.TruncationIndex = truncationIndex(res.Hits, &setup, maxWordHits(confirmed))
		if res.TruncationIndex >= 0 {
			res.Hits = res.Hits[:res.TruncationIndex+1]
		}
	}

	e.logger.Debug("coverage refine complete",
		zap.Int("depth", depth),
		zap.Int("confirmed", len(confirmed)),
		zap.Int("truncation_index", res.TruncationIndex),
	)
	return res, err
}

// scoreCandidate runs the detectors over every searchable field and keeps
// the best-covered one. The second return is false for uncovered documents.
func (e *Engine) scoreCandidate(qc *queryContext, doc *document.Document, fields []schema.Field) (Hit, bool) {
	best := fieldCoverage{}
	bestCovered := 0
	for _, f := range fields {
		text := utils.NormalizeText(doc.Text(f.Name))
		if text == "" {
			continue
		}
		fc := qc.detect(text)
		covered := fc.coveredCount()
		if covered > bestCovered || (covered == bestCovered && fc.identical && !best.identical) ||
			(covered == bestCovered && covered > 0 && fc.wordHits > best.wordHits) {
			best = fc
			bestCovered = covered
		}
		if best.identical {
			break
		}
	}
	if bestCovered == 0 {
		return Hit{}, false
	}

	return Hit{
		Key:       doc.Key,
		Score:     coverageScore(&best, len(qc.tokens)),
		WordHits:  best.wordHits,
		Confirmed: true,
	}, true
}

// coverageScore derives the 0-255 score from covered-token share. The full
// 255 is reserved for a confirmed identical whole-query match; anything
// else tops out at 254.
func coverageScore(fc *fieldCoverage, totalTokens int) core.Score {
	if fc.identical {
		return core.MaxScore
	}
	if totalTokens == 0 {
		return 0
	}
	s := core.Score(float64(core.MaxPatternScore) * float64(fc.coveredCount()) / float64(totalTokens))
	if s < 1 {
		s = 1
	}
	if s > core.MaxPatternScore {
		s = core.MaxPatternScore
	}
	return s
}

// sortConfirmed orders confirmed hits by score descending, then word hits
// descending, keeping the original pattern order for full ties (the input
// order, hence stable insertion).
func sortConfirmed(hits []Hit) {
	// Insertion-stable sort: confirmed lists are at most coverageDepth long.
	for i := 1; i < len(hits); i++ {
		for j := i; j > 0 && confirmedLess(hits[j], hits[j-1]); j-- {
			hits[j], hits[j-1] = hits[j-1], hits[j]
		}
	}
}

func confirmedLess(a, b Hit) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.WordHits > b.WordHits
}

func maxWordHits(confirmed []Hit) int {
	m := 0
	for _, h := range confirmed {
		if h.WordHits > m {
			m = h.WordHits
		}
	}
	return m
}

// truncationIndex finds the last position whose word-hit count is within
// tolerance of the maximum (and at least the hit limit), or that the
// truncation score force-includes. Returns -1 when no position qualifies.
func truncationIndex(hits []Hit, setup *Setup, maxHits int) int {
	threshold := maxHits - setup.TruncateWordHitTolerance
	if threshold < setup.TruncateWordHitLimit {
		threshold = setup.TruncateWordHitLimit
	}
	idx := -1
	for i, h := range hits {
		if !h.Confirmed {
			continue
		}
		if h.WordHits >= threshold || h.Score >= setup.TruncationScore {
			idx = i
		}
	}
	return idx
}
