// Package coverage re-scores the top pattern candidates with token-level
// detection rules, confirming exact and near-exact hits, and determines the
// truncation boundary of the final list.
package coverage

import "github.com/hyperjump/tansaku/internal/core"

// Setup carries the per-query coverage knobs.
type Setup struct {
	// MinWordSize is the minimum token rune length the detectors consider.
	MinWordSize int `json:"minWordSize"`
	// LevenshteinMaxWordSize bounds which tokens participate in fuzzy-word
	// detection; longer tokens are matched exactly or by prefix/suffix only.
	LevenshteinMaxWordSize int `json:"levenshteinMaxWordSize"`

	// Detector switches. All default on.
	WholeQuery   *bool `json:"wholeQuery,omitempty"`
	WholeWord    *bool `json:"wholeWord,omitempty"`
	FuzzyWord    *bool `json:"fuzzyWord,omitempty"`
	JoinedSplit  *bool `json:"joinedSplit,omitempty"`
	PrefixSuffix *bool `json:"prefixSuffix,omitempty"`

	// Truncate enables computing and applying the truncation boundary.
	Truncate bool `json:"truncate"`
	// TruncateWordHitTolerance is how far below the maximum observed
	// word-hit count a confirmed document may fall and still be kept.
	TruncateWordHitTolerance int `json:"truncateWordHitTolerance"`
	// TruncateWordHitLimit is the minimum word-hit count kept regardless
	// of tolerance.
	TruncateWordHitLimit int `json:"truncateWordHitLimit"`
	// TruncationScore force-includes any document scoring at or above it.
	TruncationScore core.Score `json:"truncationScore"`

	// IncludePatternMatches keeps unconfirmed pattern-only candidates,
	// appended after the confirmed ones. When false they are dropped.
	IncludePatternMatches *bool `json:"includePatternMatches,omitempty"`
}

// ApplyDefaults fills zero values with the engine defaults.
func (s *Setup) ApplyDefaults() {
	if s.MinWordSize == 0 {
		s.MinWordSize = 3
	}
	if s.LevenshteinMaxWordSize == 0 {
		s.LevenshteinMaxWordSize = 12
	}
	if s.TruncateWordHitTolerance == 0 {
		s.TruncateWordHitTolerance = 1
	}
	if s.TruncateWordHitLimit == 0 {
		s.TruncateWordHitLimit = 1
	}
	if s.TruncationScore == 0 {
		s.TruncationScore = 250
	}
}

func enabled(flag *bool) bool { return flag == nil || *flag }

func (s *Setup) wholeQueryOn() bool   { return enabled(s.WholeQuery) }
func (s *Setup) wholeWordOn() bool    { return enabled(s.WholeWord) }
func (s *Setup) fuzzyWordOn() bool    { return enabled(s.FuzzyWord) }
func (s *Setup) joinedSplitOn() bool  { return enabled(s.JoinedSplit) }
func (s *Setup) prefixSuffixOn() bool { return enabled(s.PrefixSuffix) }

// IncludePattern reports whether unconfirmed candidates are kept.
func (s *Setup) IncludePattern() bool { return enabled(s.IncludePatternMatches) }
