package coverage

import (
	"strings"

	ahocorasick "github.com/petar-dambovaliev/aho-corasick"

	"github.com/hyperjump/tansaku/internal/pattern"
	"github.com/hyperjump/tansaku/pkg/utils"
)

// queryContext is the per-query state shared by all candidates: the
// normalized query, its tokens, and the Aho-Corasick automaton the
// whole-word detector scans field text with.
type queryContext struct {
	normalized string
	tokens     []string
	tokenRunes [][]rune
	setup      *Setup
	ac         ahocorasick.AhoCorasick
	acReady    bool
}

// newQueryContext tokenizes the query and builds the scanner. Tokens shorter
// than MinWordSize are excluded; if that excludes everything (a query of
// only short words), all tokens are kept so short queries still get
// coverage.
func newQueryContext(query string, setup *Setup) *queryContext {
	qc := &queryContext{
		normalized: utils.NormalizeText(query),
		setup:      setup,
	}
	all := utils.Words(qc.normalized)
	for _, w := range all {
		if len([]rune(w)) >= setup.MinWordSize {
			qc.tokens = append(qc.tokens, w)
		}
	}
	if len(qc.tokens) == 0 {
		qc.tokens = all
	}
	for _, t := range qc.tokens {
		qc.tokenRunes = append(qc.tokenRunes, []rune(t))
	}

	if len(qc.tokens) > 0 && setup.wholeWordOn() {
		builder := ahocorasick.NewAhoCorasickBuilder(ahocorasick.Opts{
			AsciiCaseInsensitive: false, // text is already normalized
			MatchOnlyWholeWords:  true,
			MatchKind:            ahocorasick.LeftMostLongestMatch,
			DFA:                  true,
		})
		qc.ac = builder.Build(qc.tokens)
		qc.acReady = true
	}
	return qc
}

// fieldCoverage is the outcome of running the detectors against one field's
// text: which tokens were covered and how many word hits landed.
type fieldCoverage struct {
	covered    []bool
	wordHits   int
	wholeQuery bool // whole query found as a substring
	identical  bool // field text equals the query
}

func (fc *fieldCoverage) coveredCount() int {
	n := 0
	for _, c := range fc.covered {
		if c {
			n++
		}
	}
	return n
}

// detect runs every enabled detection algorithm over one normalized field
// text. Each algorithm independently marks the tokens it covers.
func (qc *queryContext) detect(fieldText string) fieldCoverage {
	fc := fieldCoverage{covered: make([]bool, len(qc.tokens))}
	if fieldText == "" || len(qc.tokens) == 0 {
		return fc
	}

	if qc.setup.wholeQueryOn() {
		qc.detectWholeQuery(fieldText, &fc)
		if fc.identical {
			return fc
		}
	}
	if qc.acReady {
		qc.detectWholeWord(fieldText, &fc)
	}

	words := utils.Words(fieldText)
	if qc.setup.joinedSplitOn() {
		qc.detectJoined(words, &fc)
		qc.detectSplit(words, &fc)
	}
	if qc.setup.fuzzyWordOn() {
		qc.detectFuzzy(words, &fc)
	}
	if qc.setup.prefixSuffixOn() {
		qc.detectPrefixSuffix(words, &fc)
	}
	return fc
}

// detectWholeQuery covers everything when the whole normalized query occurs
// in the field text; an identical field is the only way to reach score 255.
func (qc *queryContext) detectWholeQuery(fieldText string, fc *fieldCoverage) {
	if fieldText == qc.normalized {
		fc.identical = true
		fc.wholeQuery = true
		markAll(fc)
		fc.wordHits = len(qc.tokens)
		return
	}
	idx := strings.Index(fieldText, qc.normalized)
	for idx >= 0 {
		if boundedAt(fieldText, idx, len(qc.normalized)) {
			fc.wholeQuery = true
			markAll(fc)
			fc.wordHits = len(qc.tokens)
			return
		}
		next := strings.Index(fieldText[idx+1:], qc.normalized)
		if next < 0 {
			break
		}
		idx += 1 + next
	}
}

func markAll(fc *fieldCoverage) {
	for i := range fc.covered {
		fc.covered[i] = true
	}
}

// boundedAt reports whether text[idx:idx+n] sits on word boundaries.
func boundedAt(text string, idx, n int) bool {
	if idx > 0 && text[idx-1] != ' ' {
		return false
	}
	end := idx + n
	if end < len(text) && text[end] != ' ' {
		return false
	}
	return true
}

// detectWholeWord scans the field text with the token automaton. Every
// occurrence counts as a word hit; the matched token is covered.
func (qc *queryContext) detectWholeWord(fieldText string, fc *fieldCoverage) {
	matches := qc.ac.FindAll(fieldText)
	for _, m := range matches {
		if m.Pattern() < len(fc.covered) {
			fc.covered[m.Pattern()] = true
			fc.wordHits++
		}
	}
}

// detectJoined covers two adjacent tokens written as one word in the
// document ("key board" matching "keyboard").
func (qc *queryContext) detectJoined(words []string, fc *fieldCoverage) {
	for i := 0; i+1 < len(qc.tokens); i++ {
		if fc.covered[i] && fc.covered[i+1] {
			continue
		}
		joined := qc.tokens[i] + qc.tokens[i+1]
		for _, w := range words {
			if w == joined {
				if !fc.covered[i] {
					fc.covered[i] = true
					fc.wordHits++
				}
				if !fc.covered[i+1] {
					fc.covered[i+1] = true
					fc.wordHits++
				}
				break
			}
		}
	}
}

// detectSplit covers a token the document writes as two adjacent words
// ("keyboard" matching "key board").
func (qc *queryContext) detectSplit(words []string, fc *fieldCoverage) {
	for ti, token := range qc.tokens {
		if fc.covered[ti] {
			continue
		}
		for i := 0; i+1 < len(words); i++ {
			if words[i]+words[i+1] == token {
				fc.covered[ti] = true
				fc.wordHits++
				break
			}
		}
	}
}

// detectFuzzy covers tokens within a bounded edit distance of a document
// word. Only tokens up to LevenshteinMaxWordSize runes participate; the
// allowed distance is 1 for short tokens and 2 for longer ones.
func (qc *queryContext) detectFuzzy(words []string, fc *fieldCoverage) {
	for ti, tr := range qc.tokenRunes {
		if fc.covered[ti] {
			continue
		}
		if len(tr) > qc.setup.LevenshteinMaxWordSize {
			continue
		}
		maxDist := 1
		if len(tr) > 4 {
			maxDist = 2
		}
		for _, w := range words {
			if pattern.DistanceWithin(tr, []rune(w), maxDist) {
				fc.covered[ti] = true
				fc.wordHits++
				break
			}
		}
	}
}

// detectPrefixSuffix covers a token sharing a sufficiently long prefix or
// suffix with a document word, in either direction.
func (qc *queryContext) detectPrefixSuffix(words []string, fc *fieldCoverage) {
	minLen := qc.setup.MinWordSize
	for ti, token := range qc.tokens {
		if fc.covered[ti] {
			continue
		}
		if len([]rune(token)) < minLen {
			continue
		}
		for _, w := range words {
			if len(w) < minLen {
				continue
			}
			if strings.HasPrefix(w, token) || strings.HasSuffix(w, token) ||
				strings.HasPrefix(token, w) || strings.HasSuffix(token, w) {
				fc.covered[ti] = true
				fc.wordHits++
				break
			}
		}
	}
}
