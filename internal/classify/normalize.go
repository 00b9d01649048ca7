// Package classify resolves contacts, savings plans and securities for statement draft entries
// and detects entries that were already booked.
package classify

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var umlautReplacer = strings.NewReplacer(
	"ä", "ae", "ö", "oe", "ü", "ue",
	"Ä", "Ae", "Ö", "Oe", "Ü", "Ue",
	"ß", "ss",
)

// Normalize prepares free text for matching: umlauts become ASCII digraphs, other diacritics are
// dropped and the result is lower-cased. With stripWhitespace all whitespace is removed,
// otherwise runs of whitespace collapse to one space.
func Normalize(s string, stripWhitespace bool) string {
	s = umlautReplacer.Replace(s)
	s = foldDiacritics(s)
	s = cases.Lower(language.Und).String(s)
	if stripWhitespace {
		return removeWhitespace(s)
	}
	return strings.Join(strings.Fields(s), " ")
}

// foldDiacritics strips combining marks, e.g. "é" -> "e".
func foldDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

func removeWhitespace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

// alphanumeric keeps only letters and digits of the normalized text.
func alphanumeric(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return -1
	}, Normalize(s, true))
}

// securityKey is the upper-case alphanumeric form used for security matching.
func securityKey(s string) string {
	return strings.ToUpper(alphanumeric(s))
}
