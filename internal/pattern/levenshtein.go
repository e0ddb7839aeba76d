// Package pattern scores documents against a query string by approximate
// substring alignment, without tokenizing the query. It is the first of the
// two ranking phases; coverage refines its top candidates.
package pattern

// Distance calculates the minimum number of single-character edits
// (insertions, deletions, or substitutions) required to change one rune
// sequence into another. Two-row dynamic programming, O(min) space.
func Distance(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := 0; j <= len(b); j++ {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 0
			if a[i-1] != b[j-1] {
				cost = 1
			}
			curr[j] = min(
				prev[j]+1,      // deletion
				curr[j-1]+1,    // insertion
				prev[j-1]+cost, // substitution
			)
		}
		prev, curr = curr, prev
	}

	return prev[len(b)]
}

// DistanceWithin reports whether Distance(a, b) <= maxDist, without paying
// for the full matrix when the answer is no. The length difference alone is
// a lower bound, checked first.
func DistanceWithin(a, b []rune, maxDist int) bool {
	diff := len(a) - len(b)
	if diff < 0 {
		diff = -diff
	}
	if diff > maxDist {
		return false
	}
	if maxDist >= len(a) && maxDist >= len(b) {
		return true
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := 0; j <= len(b); j++ {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		rowMin := curr[0]
		for j := 1; j <= len(b); j++ {
			cost := 0
			if a[i-1] != b[j-1] {
				cost = 1
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
			if curr[j] < rowMin {
				rowMin = curr[j]
			}
		}
		if rowMin > maxDist {
			return false
		}
		prev, curr = curr, prev
	}

	return prev[len(b)] <= maxDist
}
