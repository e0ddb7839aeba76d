package models

import (
	"github.com/hyperjump/tansaku/internal/core"
	"github.com/hyperjump/tansaku/internal/facet"
)

// Hit is one result record.
type Hit struct {
	Key   core.DocKey `json:"key"`
	Score core.Score  `json:"score"`
}

// Result is the response for a search request.
type Result struct {
	Hits []Hit `json:"hits"`
	// Total is the matched count before truncation to MaxResults.
	Total int `json:"total"`

	// Facets holds per-field value histograms over the pre-truncation
	// matched set, when requested.
	Facets map[string][]facet.Count `json:"facets,omitempty"`

	// TruncationIndex is where coverage cut the list, -1 when it found
	// nothing to truncate at.
	TruncationIndex int        `json:"truncationIndex"`
	TruncationScore core.Score `json:"truncationScore,omitempty"`

	// DidTimeOut reports that the pipeline hit its wall-clock bound and
	// the ranking is partial.
	DidTimeOut bool `json:"didTimeOut,omitempty"`

	// QueryTime is the elapsed pipeline time in milliseconds.
	QueryTime int64 `json:"queryTimeMs"`
}
