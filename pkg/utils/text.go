// Package utils provides shared utilities for text normalization and logging.
package utils

import (
	"strings"
	"unicode"
)

// NormalizeText lowercases s and collapses every run of non-alphanumeric
// characters into a single space. The result is the canonical form both the
// pattern and coverage passes score against, so punctuation and whitespace
// differences never influence ranking.
func NormalizeText(s string) string {
	var out strings.Builder
	out.Grow(len(s))

	for _, ch := range s {
		c := unicode.ToLower(ch)
		if unicode.IsLetter(c) || unicode.IsDigit(c) {
			out.WriteRune(c)
		} else {
			out.WriteRune(' ')
		}
	}

	return strings.Join(strings.Fields(out.String()), " ")
}

// Words splits normalized text into its space-separated words.
// The input is assumed to already be in NormalizeText form.
func Words(normalized string) []string {
	if normalized == "" {
		return nil
	}
	return strings.Split(normalized, " ")
}

// Truncate returns s truncated to maxLen characters, with "..." appended if
// truncated. If maxLen is 0 or negative, returns s unchanged.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
