package matcher

import (
	"slices"
	"strings"
	"unicode"

	"github.com/MrWong99/dictaform/internal/catalog"
)

// text is a canonicalised fragment. lower holds the fragment lowercased with
// separator runs folded into single spaces; off[i] is the byte offset in src
// where lower[i] starts (for a folded space, the start of its separator run).
type text struct {
	src   string
	lower []rune
	off   []int
	str   string
}

func newText(s string) text {
	t := text{src: s}
	run := -1
	for i, r := range s {
		if catalog.IsSeparator(r) {
			if run < 0 && len(t.lower) > 0 {
				run = i
			}
			continue
		}
		if run >= 0 {
			t.lower = append(t.lower, ' ')
			t.off = append(t.off, run)
			run = -1
		}
		t.lower = append(t.lower, unicode.ToLower(r))
		t.off = append(t.off, i)
	}
	t.str = string(t.lower)
	return t
}

// pos returns the byte offset in src of canonical rune i; len(lower) maps to
// the end of src.
func (t text) pos(i int) int {
	if i >= len(t.off) {
		return len(t.src)
	}
	return t.off[i]
}

// lastIndex returns the rune offset of the right-most occurrence of phrase
// that starts and ends on a word boundary, or -1.
func (t text) lastIndex(phrase []rune) int {
	n, m := len(t.lower), len(phrase)
	if m == 0 || m > n {
		return -1
	}
	for i := n - m; i >= 0; i-- {
		if i > 0 && t.lower[i-1] != ' ' {
			continue
		}
		if end := i + m; end < n && t.lower[end] != ' ' {
			continue
		}
		if slices.Equal(t.lower[i:i+m], phrase) {
			return i
		}
	}
	return -1
}

// contains is a fast pre-filter before the boundary-aware scan.
func (t text) contains(phrase string) bool {
	return strings.Contains(t.str, phrase)
}

// before returns the source text preceding canonical rune i without its
// trailing separators.
func (t text) before(i int) string {
	return strings.TrimRightFunc(t.src[:t.pos(i)], catalog.IsSeparator)
}

// after returns the source text from canonical rune i on.
func (t text) after(i int) string {
	return t.src[t.pos(i):]
}

// remove deletes every boundary-aligned occurrence of phrase together with
// the separator run in front of it, and returns the re-canonicalised text.
func (t text) remove(phrase []rune) text {
	for {
		i := t.lastIndex(phrase)
		if i < 0 {
			return t
		}
		from := t.pos(i)
		if i > 0 {
			from = t.pos(i - 1)
		}
		t = newText(t.src[:from] + t.src[t.pos(i+len(phrase)):])
	}
}

// original returns the source text with whitespace runs collapsed.
func (t text) original() string {
	return strings.Join(strings.Fields(t.src), " ")
}
