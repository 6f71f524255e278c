// Package phonetic implements [transcript.PhoneticMatcher] with Double
// Metaphone codes and Jaro-Winkler similarity.
//
// A window of n spoken words is only compared with vocabulary entries of
// exactly n words. Comparison is accent- and case-insensitive. An entry is a
// phonetic candidate when every word of the window shares a Double Metaphone
// code with the word at the same position of the entry; candidates are
// accepted above the phonetic threshold. Entries that do not sound alike
// need the higher fuzzy threshold.
package phonetic

import (
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/dictaform/internal/catalog"
)

const (
	defaultPhoneticThreshold = 0.88
	defaultFuzzyThreshold    = 0.93
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score of a
// phonetically aligned entry. Default: 0.88.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score of an entry that
// does not align phonetically. Default: 0.93.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// Matcher is read-only after construction and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a new [Matcher] configured with the supplied options.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// entry is a vocabulary phrase with its comparison key and per-word codes.
type entry struct {
	text  string
	key   string
	codes []map[string]struct{}
}

// Vocabulary is a prepared set of phrases grouped by word count.
type Vocabulary struct {
	byWords  map[int][]entry
	maxWords int
}

// Prepare folds and encodes phrases once so that many windows can be matched
// against them cheaply.
func Prepare(phrases []string) *Vocabulary {
	v := &Vocabulary{byWords: make(map[int][]entry)}
	seen := make(map[string]struct{}, len(phrases))
	for _, p := range phrases {
		key := foldKey(p)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		tokens := strings.Fields(key)
		e := entry{text: strings.TrimSpace(p), key: key, codes: make([]map[string]struct{}, len(tokens))}
		for i, t := range tokens {
			e.codes[i] = codes(t)
		}
		v.byWords[len(tokens)] = append(v.byWords[len(tokens)], e)
		v.maxWords = max(v.maxWords, len(tokens))
	}
	return v
}

// MaxWords returns the word count of the longest phrase.
func (v *Vocabulary) MaxWords() int { return v.maxWords }

// Contains reports whether window equals a phrase after folding.
func (v *Vocabulary) Contains(window string) bool {
	key := foldKey(window)
	for _, e := range v.byWords[len(strings.Fields(key))] {
		if e.key == key {
			return true
		}
	}
	return false
}

// Match finds the entry of entities closest to word. When matched is false,
// corrected equals word and confidence is 0.
func (m *Matcher) Match(word string, entities []string) (corrected string, confidence float64, matched bool) {
	if len(entities) == 0 || strings.TrimSpace(word) == "" {
		return word, 0, false
	}
	return m.MatchPrepared(word, Prepare(entities))
}

// MatchPrepared is [Matcher.Match] against a prepared vocabulary.
func (m *Matcher) MatchPrepared(word string, v *Vocabulary) (string, float64, bool) {
	key := foldKey(word)
	if key == "" || v == nil {
		return word, 0, false
	}
	tokens := strings.Fields(key)
	input := make([]map[string]struct{}, len(tokens))
	for i, t := range tokens {
		input[i] = codes(t)
	}

	var (
		best         entry
		bestScore    float64
		bestPhonetic bool
	)
	for _, e := range v.byWords[len(tokens)] {
		score := matchr.JaroWinkler(key, e.key, false)
		if aligned(input, e.codes) {
			if score >= m.phoneticThreshold && (!bestPhonetic || score > bestScore) {
				best, bestScore, bestPhonetic = e, score, true
			}
		} else if !bestPhonetic && score >= m.fuzzyThreshold && score > bestScore {
			best, bestScore = e, score
		}
	}
	if best.text == "" {
		return word, 0, false
	}
	return best.text, bestScore, true
}

// aligned reports whether every word shares a code with its counterpart.
func aligned(a, b []map[string]struct{}) bool {
	for i := range a {
		if !overlap(a[i], b[i]) {
			return false
		}
	}
	return true
}

// codes returns the Double Metaphone codes of one word. Words too short to
// encode yield their folded text so that stop words still align.
func codes(word string) map[string]struct{} {
	out := make(map[string]struct{}, 2)
	p, s := matchr.DoubleMetaphone(word)
	if p != "" {
		out[p] = struct{}{}
	}
	if s != "" {
		out[s] = struct{}{}
	}
	if len(out) == 0 {
		out[word] = struct{}{}
	}
	return out
}

func overlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

func foldKey(s string) string {
	return catalog.Fold(catalog.Canonical(s))
}
