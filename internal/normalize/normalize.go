// Package normalize canonicalizes free text so that equivalent search terms,
// titles, and author names compare equal.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Combining Diacritical Marks block.
const (
	combiningFirst = '\u0300'
	combiningLast  = '\u036f'
)

// Text returns the canonical form of s.
//
// Steps, in order: NFD decomposition, removal of combining diacritical marks,
// replacement of anything that is not a letter, digit, or whitespace with a
// space, whitespace collapsing, trimming, and lower-casing.
//
// Text is total and idempotent: Text(Text(s)) == Text(s).
func Text(s string) string {
	if s == "" {
		return ""
	}

	// Decompose accented characters ("á" becomes "a" + U+0301).
	s = norm.NFD.String(s)

	// Drop combining marks and blank out punctuation.
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= combiningFirst && r <= combiningLast:
			return -1
		case unicode.IsLetter(r), unicode.IsDigit(r), unicode.IsSpace(r):
			return r
		default:
			return ' '
		}
	}, s)

	// Collapse and trim whitespace.
	s = strings.Join(strings.Fields(s), " ")

	return strings.ToLower(s)
}
