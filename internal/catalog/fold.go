package catalog

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// IsSeparator reports whether r is punctuation that speech-to-text output
// inserts between words and that phrase matching treats as a space.
func IsSeparator(r rune) bool {
	switch r {
	case ',', '.', '!', '¡', '?', '¿', ';', ':', '-':
		return true
	}
	return unicode.IsSpace(r)
}

// Canonical lowercases s, turns separator punctuation into spaces and
// collapses runs of whitespace.
func Canonical(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		if IsSeparator(r) {
			space = b.Len() > 0
			continue
		}
		if space {
			b.WriteByte(' ')
			space = false
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// Fold removes diacritics: "diagnóstico" becomes "diagnostico".
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// withFolded returns s followed by its accent-free form when that differs.
func withFolded(s string) []string {
	if f := Fold(s); f != s {
		return []string{s, f}
	}
	return []string{s}
}
