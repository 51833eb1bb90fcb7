package location

import (
	"strings"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

// matchThreshold is the minimum partial-ratio score for a hotspot to count
// as a fuzzy match.
const matchThreshold = 80

// normalizeForMatch folds full-width forms, applies compatibility
// normalization and lowercases, so "ｓｈａｎｇｈａｉ" and "Shanghai" compare
// equal.
func normalizeForMatch(s string) string {
	return strings.ToLower(norm.NFKC.String(width.Fold.String(s)))
}

// PartialRatio scores how well the shorter string matches any same-length
// window of the longer one, on a 0-100 scale. An exact substring scores 100.
func PartialRatio(a, b string) int {
	a = normalizeForMatch(a)
	b = normalizeForMatch(b)

	shorter := []rune(a)
	longer := []rune(b)
	if len(shorter) > len(longer) {
		shorter, longer = longer, shorter
	}
	if len(shorter) == 0 {
		return 0
	}

	best := 0
	for start := 0; start+len(shorter) <= len(longer); start++ {
		window := string(longer[start : start+len(shorter)])
		dist := levenshtein.ComputeDistance(string(shorter), window)
		score := 100 * (len(shorter) - dist) / len(shorter)
		if score > best {
			best = score
		}
		if best == 100 {
			break
		}
	}
	return best
}
