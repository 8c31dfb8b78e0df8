// Package normalize canonicalizes text to plain ASCII so search terms stay
// consistent and output cells are safe for common spreadsheet tools.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Decompose first, drop combining marks, then drop whatever non-ASCII remains
// (symbols, emoji). NFKD also folds compatibility forms like ﬁ -> fi.
var toASCII = transform.Chain(
	norm.NFKD,
	runes.Remove(runes.In(unicode.Mn)),
	runes.Remove(runes.Predicate(func(r rune) bool { return r > unicode.MaxASCII })),
)

// Text reduces s to trimmed printable ASCII. Pure; safe on already-clean input.
func Text(s string) string {
	out, _, err := transform.String(toASCII, s)
	if err != nil {
		// transform.String only fails on transformer errors; ours never errors,
		// but fall back to the input rather than dropping data.
		out = s
	}
	return strings.TrimSpace(out)
}
