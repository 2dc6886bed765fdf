package places

import (
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// Similarity is the normalized Levenshtein ratio of two keys in [0, 1],
// where 1 means identical.
func Similarity(a, b string) float64 {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	longest := max(la, lb)
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}

// canReach reports whether two keys of the given rune lengths could score at
// least threshold. The edit distance is never below the length difference.
func canReach(la, lb int, threshold float64) bool {
	longest := max(la, lb)
	if longest == 0 {
		return true
	}
	diff := la - lb
	if diff < 0 {
		diff = -diff
	}
	return 1-float64(diff)/float64(longest) >= threshold
}
