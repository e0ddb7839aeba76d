package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/hyperjump/tansaku/internal/boost"
	"github.com/hyperjump/tansaku/internal/core"
	"github.com/hyperjump/tansaku/internal/coverage"
	"github.com/hyperjump/tansaku/internal/models"
	"github.com/hyperjump/tansaku/internal/schema"
	"github.com/hyperjump/tansaku/pkg/utils"
)

// Search runs the query pipeline: resolve the allowed key set, pattern
// match, coverage refine with boosts, sort, de-duplicate, truncate, facet.
// The whole pipeline shares one wall-clock bound; on expiry the ranking
// computed so far is returned with DidTimeOut set.
func (e *Engine) Search(ctx context.Context, q *models.Query) (*models.Result, error) {
	start := time.Now()
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	// A rebuild in flight does not block reads: the prior snapshot stays
	// published until the new one lands. Only a never-built or hibernated
	// dataset has no snapshot to serve.
	e.mu.Lock()
	stateErr := e.requireState("search", StateReady, StateIndexing)
	e.mu.Unlock()
	if stateErr != nil {
		return nil, stateErr
	}
	idx := e.idx.Load()
	if idx == nil {
		return nil, fmt.Errorf("search: index snapshot missing: %w", core.ErrInvalidState)
	}

	var sortField schema.Field
	if q.SortBy != "" {
		f, err := e.schema.GetField(q.SortBy)
		if err != nil {
			return nil, fmt.Errorf("search: sort field: %w", err)
		}
		if !f.Sortable {
			return nil, fmt.Errorf("search: field %q is not sortable: %w", q.SortBy, core.ErrSchemaViolation)
		}
		sortField = f
	}

	queryCtx, cancel := context.WithTimeout(ctx, time.Duration(q.TimeoutMS)*time.Millisecond)
	defer cancel()

	res := &models.Result{TruncationIndex: -1}

	allowed, err := e.allowedKeys(q)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	var hits []coverage.Hit
	if q.Text == "" {
		hits = browseHits(allowed)
	} else {
		hits, err = e.rankedHits(queryCtx, idx, q, allowed, res)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				res.DidTimeOut = true
			} else if errors.Is(err, context.Canceled) {
				return nil, fmt.Errorf("search: %w", core.ErrCancelled)
			} else {
				return nil, fmt.Errorf("search: %w", err)
			}
		}
	}

	if q.SortBy != "" {
		e.sortHits(hits, sortField, q.SortAscending, q.Text != "")
	}
	if q.RemoveDuplicates {
		hits, res.TruncationIndex = e.dedupe(hits, res.TruncationIndex)
	}

	res.Total = len(hits)
	var matched *roaring64.Bitmap
	if q.EnableFacets {
		matched = roaring64.New()
		for _, h := range hits {
			matched.Add(h.Key)
		}
	}
	if len(hits) > q.MaxResults {
		hits = hits[:q.MaxResults]
		if res.TruncationIndex >= q.MaxResults {
			res.TruncationIndex = q.MaxResults - 1
		}
	}
	res.Hits = make([]models.Hit, len(hits))
	for i, h := range hits {
		res.Hits[i] = models.Hit{Key: h.Key, Score: h.Score}
	}
	if q.EnableFacets {
		res.Facets = idx.facets.Aggregate(matched)
	}

	res.QueryTime = time.Since(start).Milliseconds()
	e.searchCount.Add(1)
	e.logger.Debug("search complete",
		zap.String("text", utils.Truncate(q.Text, 80)),
		zap.Int("total", res.Total),
		zap.Int("returned", len(res.Hits)),
		zap.Bool("timed_out", res.DidTimeOut),
		zap.Int64("query_time_ms", res.QueryTime),
	)
	return res, nil
}

// allowedKeys resolves the filters to the candidate key set: intersect the
// include set, subtract the exclude set, intersect the field filter.
func (e *Engine) allowedKeys(q *models.Query) (*roaring64.Bitmap, error) {
	allowed := e.filters.AllKeys()
	if q.KeyIncludeFilter != nil {
		inc, err := e.filters.Evaluate(q.KeyIncludeFilter)
		if err != nil {
			return nil, fmt.Errorf("include filter: %w", err)
		}
		allowed.And(inc)
	}
	if q.KeyExcludeFilter != nil {
		exc, err := e.filters.Evaluate(q.KeyExcludeFilter)
		if err != nil {
			return nil, fmt.Errorf("exclude filter: %w", err)
		}
		allowed.AndNot(exc)
	}
	if q.Filter != nil {
		fk, err := e.filters.Evaluate(q.Filter)
		if err != nil {
			return nil, fmt.Errorf("filter: %w", err)
		}
		allowed.And(fk)
	}
	return allowed, nil
}

// browseHits is the empty-query form: every allowed document, score
// undefined, ordered by key until sorting applies.
func browseHits(allowed *roaring64.Bitmap) []coverage.Hit {
	hits := make([]coverage.Hit, 0, allowed.GetCardinality())
	it := allowed.Iterator()
	for it.HasNext() {
		hits = append(hits, coverage.Hit{Key: it.Next()})
	}
	return hits
}

// rankedHits runs pattern matching and, when enabled, the coverage pass.
// A context error is returned alongside the partial ranking.
func (e *Engine) rankedHits(
	ctx context.Context,
	idx *index,
	q *models.Query,
	allowed *roaring64.Bitmap,
	res *models.Result,
) ([]coverage.Hit, error) {
	cands, err := idx.matcher.Match(ctx, e.store.All(), q.Text, allowed)
	if err != nil {
		hits := make([]coverage.Hit, len(cands))
		for i, c := range cands {
			hits[i] = coverage.Hit{Key: c.Key, Score: c.Score}
		}
		return hits, err
	}

	if !q.CoverageEnabled() {
		hits := make([]coverage.Hit, len(cands))
		for i, c := range cands {
			hits[i] = coverage.Hit{Key: c.Key, Score: c.Score}
		}
		return hits, nil
	}

	setup := q.CoverageSetup
	if setup == (coverage.Setup{}) {
		setup = e.opts.Coverage
	}
	var boosts []*boost.Boost
	if q.BoostEnabled() {
		boosts = q.Boosts
	}
	covRes, covErr := idx.coverage.Refine(ctx, cands, q.Text, setup, boosts, q.CoverageDepth, q.MaxResults)
	res.TruncationIndex = covRes.TruncationIndex
	res.TruncationScore = covRes.TruncationScore
	return covRes.Hits, covErr
}

// sortHits orders by the sort field: secondary to the ranking when the
// query has text (confirmed above unconfirmed, then score), primary when
// the query is browse-only.
func (e *Engine) sortHits(hits []coverage.Hit, f schema.Field, ascending, textQuery bool) {
	vals := make(map[core.DocKey]sortValue, len(hits))
	for _, h := range hits {
		vals[h.Key] = e.sortValueOf(h.Key, f)
	}
	sort.SliceStable(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if textQuery {
			if a.Confirmed != b.Confirmed {
				return a.Confirmed
			}
			if a.Score != b.Score {
				return a.Score > b.Score
			}
		}
		if c := vals[a.Key].compare(vals[b.Key]); c != 0 {
			if ascending {
				return c < 0
			}
			return c > 0
		}
		return a.Key < b.Key
	})
}

type sortValue struct {
	num   float64
	str   string
	isNum bool
	ok    bool
}

func (a sortValue) compare(b sortValue) int {
	// Missing values sort last in either direction.
	if a.ok != b.ok {
		if a.ok {
			return -1
		}
		return 1
	}
	if a.isNum && b.isNum {
		switch {
		case a.num < b.num:
			return -1
		case a.num > b.num:
			return 1
		}
		return 0
	}
	return strings.Compare(a.str, b.str)
}

func (e *Engine) sortValueOf(key core.DocKey, f schema.Field) sortValue {
	doc, err := e.store.Doc(key)
	if err != nil {
		return sortValue{}
	}
	if f.Kind == schema.KindNumber {
		if n, ok := doc.Numeric(f.Name); ok {
			return sortValue{num: n, isNum: true, ok: true}
		}
		return sortValue{}
	}
	text := doc.Text(f.Name)
	return sortValue{str: strings.ToLower(text), ok: text != ""}
}

// dedupe collapses documents whose searchable text is identical, keeping
// the first (highest-ranked) occurrence. The truncation boundary shifts
// left for every hit dropped before it so it keeps pointing at the same
// surviving record.
func (e *Engine) dedupe(hits []coverage.Hit, truncIdx int) ([]coverage.Hit, int) {
	fields := e.schema.FieldsWithRole(schema.RoleSearchable)
	seen := make(map[uint64]struct{}, len(hits))
	out := hits[:0]
	adjusted := truncIdx
	for i, h := range hits {
		drop := false
		doc, err := e.store.Doc(h.Key)
		if err != nil {
			drop = true
		} else {
			d := xxhash.New()
			for _, f := range fields {
				_, _ = d.WriteString(utils.NormalizeText(doc.Text(f.Name)))
				_, _ = d.Write([]byte{0})
			}
			sum := d.Sum64()
			if _, dup := seen[sum]; dup {
				drop = true
			} else {
				seen[sum] = struct{}{}
			}
		}
		if drop {
			if truncIdx >= 0 && i <= truncIdx {
				adjusted--
			}
			continue
		}
		out = append(out, h)
	}
	if adjusted < -1 {
		adjusted = -1
	}
	return out, adjusted
}
