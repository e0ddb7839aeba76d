// Package models defines the query and result types of the search API.
package models

import (
	"fmt"

	"github.com/hyperjump/tansaku/internal/boost"
	"github.com/hyperjump/tansaku/internal/core"
	"github.com/hyperjump/tansaku/internal/coverage"
	"github.com/hyperjump/tansaku/internal/filter"
)

// Query is one search request. Immutable once submitted to the executor.
type Query struct {
	Text       string `json:"text"`
	MaxResults int    `json:"maxResults,omitempty"`

	// EnableCoverage turns the second ranking phase on (default true).
	EnableCoverage *bool `json:"enableCoverage,omitempty"`
	// CoverageDepth is how many top pattern candidates coverage re-scores.
	// Auto-raised to at least MaxResults.
	CoverageDepth int `json:"coverageDepth,omitempty"`
	// CoverageSetup tunes the detection algorithms and truncation.
	CoverageSetup coverage.Setup `json:"coverageSetup,omitempty"`

	EnableFacets bool  `json:"enableFacets,omitempty"`
	EnableBoost  *bool `json:"enableBoost,omitempty"`

	// SortBy names a sortable field. Secondary to score when Text is
	// non-empty, primary when empty.
	SortBy        string `json:"sortBy,omitempty"`
	SortAscending bool   `json:"sortAscending,omitempty"`

	RemoveDuplicates bool `json:"removeDuplicates,omitempty"`

	// TimeoutMS bounds the whole pipeline; on expiry the available ranking
	// is returned with DidTimeOut set instead of failing.
	TimeoutMS int64 `json:"timeoutMs,omitempty"`

	// Filter restricts candidates before pattern matching.
	Filter *filter.Filter `json:"-"`
	// KeyIncludeFilter and KeyExcludeFilter adjust the allowed key set
	// directly: intersect include, subtract exclude.
	KeyIncludeFilter *filter.Filter `json:"-"`
	KeyExcludeFilter *filter.Filter `json:"-"`
	// Boosts apply to coverage-confirmed candidates only.
	Boosts []*boost.Boost `json:"-"`
}

// Defaults applied by Validate.
const (
	DefaultMaxResults    = 10
	MaxMaxResults        = 1000
	DefaultCoverageDepth = 100
	DefaultTimeoutMS     = 5000
)

// Validate normalizes limits and fills defaults. An empty Text is valid
// only when facets or sorting can produce a meaningful order.
func (q *Query) Validate() error {
	if q.MaxResults <= 0 {
		q.MaxResults = DefaultMaxResults
	}
	if q.MaxResults > MaxMaxResults {
		q.MaxResults = MaxMaxResults
	}
	if q.CoverageDepth <= 0 {
		q.CoverageDepth = DefaultCoverageDepth
	}
	if q.TimeoutMS <= 0 {
		q.TimeoutMS = DefaultTimeoutMS
	}
	if q.Text == "" && !q.EnableFacets && q.SortBy == "" {
		return fmt.Errorf("%w: empty query text requires facets or a sort field", core.ErrSchemaViolation)
	}
	return nil
}

// CoverageEnabled reports whether the coverage phase runs (default true).
func (q *Query) CoverageEnabled() bool {
	return q.EnableCoverage == nil || *q.EnableCoverage
}

// BoostEnabled reports whether boosts apply (default true when present).
func (q *Query) BoostEnabled() bool {
	return q.EnableBoost == nil || *q.EnableBoost
}
