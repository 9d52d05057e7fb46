package news

import (
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// DefaultSimilarityThreshold is the title similarity at which two
// articles are treated as the same story.
const DefaultSimilarityThreshold = 0.85

// TitleSimilarity returns the normalized edit-distance similarity of two
// titles in [0,1]. Comparison is case-insensitive and ignores leading and
// trailing whitespace; lengths are counted in runes.
func TitleSimilarity(a, b string) float64 {
	s1 := strings.ToLower(strings.TrimSpace(a))
	s2 := strings.ToLower(strings.TrimSpace(b))

	// covers the both-empty case
	if s1 == s2 {
		return 1.0
	}

	maxLen := utf8.RuneCountInString(s1)
	if l := utf8.RuneCountInString(s2); l > maxLen {
		maxLen = l
	}

	distance := levenshtein.ComputeDistance(s1, s2)
	return 1 - float64(distance)/float64(maxLen)
}
