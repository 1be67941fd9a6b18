package entities

import (
	"math"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/xrash/smetrics"
)

// levenshteinSimilarity is 1 minus the edit distance normalized by the longer string.
func levenshteinSimilarity(a, b string) float64 {
	la, lb := len([]rune(a)), len([]rune(b))
	longest := math.Max(float64(la), float64(lb))
	if longest == 0 {
		return 1
	}
	return 1 - float64(fuzzy.LevenshteinDistance(a, b))/longest
}

// jaroWinklerSimilarity rewards strings sharing a common prefix of up to
// four characters on top of the Jaro similarity. The prefix boost applies
// to every pair, not only close ones.
func jaroWinklerSimilarity(a, b string) float64 {
	if a == "" || b == "" {
		if a == b {
			return 1
		}
		return 0
	}
	return smetrics.JaroWinkler(a, b, 0, 4)
}
