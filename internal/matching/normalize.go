// Package matching resolves free-text identifiers to directory entries and
// projects, and groups records by (payee, project, role).
package matching

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var folder = cases.Fold()

// Normalize strips diacritics, folds case and collapses whitespace, so
// "  Ștefan  POPESCU" and "stefan popescu" compare equal.
func Normalize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}
	return strings.Join(strings.Fields(folder.String(stripped)), " ")
}

// Levenshtein is the edit distance between a and b counted in runes.
func Levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}
	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(rb)]
}

// Similarity is 1 - distance/maxLen over normalized forms, in [0,1].
func Similarity(a, b string) float64 {
	na, nb := Normalize(a), Normalize(b)
	n := max(len([]rune(na)), len([]rune(nb)))
	if n == 0 {
		return 1
	}
	return 1 - float64(Levenshtein(na, nb))/float64(n)
}
