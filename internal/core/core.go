// Package core holds the primitive types shared across the engine:
// document keys, scores, weight and boost tiers, and error kinds.
package core

// DocKey uniquely identifies a loaded document. Keys are assigned
// monotonically at load time and are stable for the document's lifetime.
type DocKey = uint64

// Score is an integer relevance score in [0, 255].
type Score int

const (
	// MinScore is the lowest emitted score.
	MinScore Score = 0
	// MaxPatternScore is the ceiling for pattern-only matches. The full
	// 255 is reserved for a confirmed whole-query coverage match.
	MaxPatternScore Score = 254
	// MaxScore marks a confirmed identical/whole-query coverage match.
	MaxScore Score = 255
)

// Clamp bounds s to the valid score range.
func (s Score) Clamp() Score {
	if s < MinScore {
		return MinScore
	}
	if s > MaxScore {
		return MaxScore
	}
	return s
}

// Weight is the relative importance tier of a searchable field.
type Weight int

// Weight tiers. Higher tiers bias which field dominates when several
// fields match with comparable alignment quality.
const (
	WeightLow Weight = iota
	WeightMed
	WeightHigh
)

// String returns the tier name.
func (w Weight) String() string {
	switch w {
	case WeightLow:
		return "low"
	case WeightMed:
		return "med"
	case WeightHigh:
		return "high"
	default:
		return "unknown"
	}
}

// Strength is a boost strength tier.
type Strength int

// Boost strength tiers, monotone Low < Med < High.
const (
	StrengthLow Strength = iota
	StrengthMed
	StrengthHigh
)

// String returns the tier name.
func (s Strength) String() string {
	switch s {
	case StrengthLow:
		return "low"
	case StrengthMed:
		return "med"
	case StrengthHigh:
		return "high"
	default:
		return "unknown"
	}
}
