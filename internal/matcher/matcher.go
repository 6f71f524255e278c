// Package matcher finds the trigger phrase a transcript fragment refers to.
//
// Fragments are canonicalised (lowercase, separator punctuation folded into
// single spaces) and searched for every uncheck, command and field phrase of
// the static catalog plus the session's dynamic layer. Phrases only match on
// word boundaries.
//
// Winner selection:
//
//  1. The longest phrase wins.
//  2. Equal lengths resolve to the occurrence ending furthest right.
//  3. Remaining ties resolve to the phrase declared first (static before
//     dynamic).
//
// One exception overrides length: when the right-most command starts at or
// after the end of the right-most field phrase, the command wins. This lets
// "motivo de consulta estrés listo" close the field it just opened.
package matcher

import (
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/MrWong99/dictaform/internal/catalog"
)

// Match is the result of a successful [Matcher.Match].
type Match struct {
	Phrase catalog.Phrase

	// Start and End are rune offsets of the phrase in the canonical fragment.
	Start, End int

	// Leading is the text spoken before the phrase, case preserved.
	Leading string

	// Trailing is the text spoken after the phrase, case preserved, with
	// leading connectors removed by [CleanCaptured].
	Trailing string
}

// IsCommand reports whether the match is a stop, clear or uncheck command.
func (m Match) IsCommand() bool {
	return m.Phrase.Kind != catalog.KindField
}

type entry struct {
	phrase catalog.Phrase
	runes  []rune
}

// Matcher matches fragments against a static catalog and an optional dynamic
// layer. It is read-only after construction and safe for concurrent use.
type Matcher struct {
	static   *catalog.Catalog
	layer    *catalog.Layer
	commands []entry
	fields   []entry
}

// New returns a Matcher over static and layer. layer may be nil.
func New(static *catalog.Catalog, layer *catalog.Layer) *Matcher {
	m := &Matcher{static: static, layer: layer}
	for _, p := range static.Uncheck() {
		m.commands = append(m.commands, entry{p, []rune(p.Text)})
	}
	for _, p := range static.Commands() {
		m.commands = append(m.commands, entry{p, []rune(p.Text)})
	}
	for _, p := range static.Fields() {
		m.fields = append(m.fields, entry{p, []rune(p.Text)})
	}
	for _, p := range layer.Fields() {
		m.fields = append(m.fields, entry{p, []rune(p.Text)})
	}
	return m
}

// Catalog returns the static catalog the matcher searches.
func (m *Matcher) Catalog() *catalog.Catalog { return m.static }

// Layer returns the session's dynamic layer, possibly nil.
func (m *Matcher) Layer() *catalog.Layer { return m.layer }

type candidate struct {
	e     *entry
	start int
}

func (c candidate) end() int { return c.start + len(c.e.runes) }

func (c candidate) valid() bool { return c.e != nil }

// longer reports whether c beats other under the length / right-most /
// declaration-order policy.
func (c candidate) longer(other candidate) bool {
	if !other.valid() {
		return true
	}
	if a, b := len(c.e.runes), len(other.e.runes); a != b {
		return a > b
	}
	if c.end() != other.end() {
		return c.end() > other.end()
	}
	return c.e.phrase.Order < other.e.phrase.Order
}

// later reports whether c starts further right than other, falling back to
// the length policy on equal starts.
func (c candidate) later(other candidate) bool {
	if !other.valid() {
		return true
	}
	if c.start != other.start {
		return c.start > other.start
	}
	return c.longer(other)
}

// laterEnd reports whether c ends further right than other, falling back to
// the length policy on equal ends.
func (c candidate) laterEnd(other candidate) bool {
	if !other.valid() {
		return true
	}
	if c.end() != other.end() {
		return c.end() > other.end()
	}
	return c.longer(other)
}

// Match returns the best trigger phrase in fragment. ok is false when no
// phrase occurs, which is not an error.
func (m *Matcher) Match(fragment string) (match Match, ok bool) {
	t := newText(fragment)
	if len(t.lower) == 0 {
		return Match{}, false
	}

	var best, bestCmd, bestField candidate
	for i := range m.commands {
		e := &m.commands[i]
		if !t.contains(e.phrase.Text) {
			continue
		}
		if idx := t.lastIndex(e.runes); idx >= 0 {
			c := candidate{e: e, start: idx}
			if c.longer(best) {
				best = c
			}
			if c.later(bestCmd) {
				bestCmd = c
			}
		}
	}
	for i := range m.fields {
		e := &m.fields[i]
		if !t.contains(e.phrase.Text) {
			continue
		}
		if idx := t.lastIndex(e.runes); idx >= 0 {
			c := candidate{e: e, start: idx}
			if c.longer(best) {
				best = c
			}
			if c.laterEnd(bestField) {
				bestField = c
			}
		}
	}

	if !best.valid() {
		return Match{}, false
	}
	if bestCmd.valid() && bestField.valid() && bestCmd.start >= bestField.end() {
		best = bestCmd
	}
	return Match{
		Phrase:   best.e.phrase,
		Start:    best.start,
		End:      best.end(),
		Leading:  t.before(best.start),
		Trailing: CleanCaptured(strings.TrimRightFunc(t.after(best.end()), catalog.IsSeparator)),
	}, true
}

// StripPhrases removes every occurrence of each phrase from s (on word
// boundaries, case-insensitively) and returns the remaining text with its
// original casing. Longer phrases are removed first.
func StripPhrases(s string, phrases ...string) string {
	t := newText(s)
	for _, p := range sortedByLength(phrases) {
		p = catalog.Canonical(p)
		if p == "" || !t.contains(p) {
			continue
		}
		t = t.remove([]rune(p))
	}
	return CleanCaptured(t.original())
}

// StripFieldPhrases removes every static and dynamic phrase that activates
// target, plus any extra phrases, from s.
func (m *Matcher) StripFieldPhrases(s, target string, extra ...string) string {
	phrases := make([]string, 0, 8+len(extra))
	phrases = append(phrases, m.static.Variants(target)...)
	phrases = append(phrases, m.layer.Variants(target)...)
	for _, x := range extra {
		phrases = append(phrases, x, catalog.Fold(x))
	}
	return StripPhrases(s, phrases...)
}

// StripTrailingCommands removes stop and clear commands spoken at the end of
// s, repeatedly, so "estrés listo" becomes "estrés".
func (m *Matcher) StripTrailingCommands(s string) string {
	t := newText(s)
	for changed := true; changed; {
		changed = false
		for i := range m.commands {
			e := &m.commands[i]
			if e.phrase.Kind != catalog.KindCommand {
				continue
			}
			n := len(t.lower) - len(e.runes)
			if n < 0 || (n > 0 && t.lower[n-1] != ' ') {
				continue
			}
			if string(t.lower[n:]) == e.phrase.Text {
				t = newText(t.before(n))
				changed = true
			}
		}
	}
	return t.original()
}

func sortedByLength(in []string) []string {
	out := slices.Clone(in)
	slices.SortStableFunc(out, func(a, b string) int {
		return utf8.RuneCountInString(b) - utf8.RuneCountInString(a)
	})
	return out
}
