package search

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Normalize prepares a string for matching: NFKC (so full-width Latin and
// compatibility forms compare equal to their plain spelling), Unicode case
// folding, trimmed, with runs of whitespace collapsed to one space.
func Normalize(s string) string {
	s = norm.NFKC.String(s)
	// A Caser carries state and must not be shared between goroutines.
	s = cases.Fold().String(s)
	return strings.Join(strings.Fields(s), " ")
}
