// Package tracker holds the single active field of a dictation session and
// the text accumulated for it.
//
// Accumulated text has two layers. The confirmed base holds utterances the
// speech recogniser has finalised; the in-flight layer holds the latest
// partial hypothesis, which restates the whole current utterance each time.
// The combination is modelled as an explicit state:
//
//	Empty                  no text for the active field (or no active field)
//	Accumulating(base)     confirmed text only
//	Previewing(base, cur)  confirmed text plus an in-flight hypothesis
//
// A Tracker is owned by one session goroutine and performs no locking.
package tracker

import (
	"strings"
	"unicode/utf8"
)

// DefaultMinPreviewChars is the minimum accumulated length [Tracker.Current]
// reports. Shorter text is recogniser noise.
const DefaultMinPreviewChars = 5

// State is the text state of the active field.
type State int

const (
	Empty State = iota
	Accumulating
	Previewing
)

// String implements [fmt.Stringer].
func (s State) String() string {
	switch s {
	case Accumulating:
		return "accumulating"
	case Previewing:
		return "previewing"
	default:
		return "empty"
	}
}

// Flush is the text of a field taken out of the tracker.
type Flush struct {
	FieldID string
	Text    string
}

// Option configures a [Tracker].
type Option func(*Tracker)

// WithMinPreviewChars sets the threshold used by [Tracker.Current].
func WithMinPreviewChars(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.minChars = n
		}
	}
}

// Tracker is the active-field state machine.
type Tracker struct {
	field      string
	lastPhrase string
	base       string
	current    string
	minChars   int
}

// New returns an empty Tracker.
func New(opts ...Option) *Tracker {
	t := &Tracker{minChars: DefaultMinPreviewChars}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Active returns the active field ID, or "" when no field is active.
func (t *Tracker) Active() string { return t.field }

// LastPhrase returns the trigger phrase that last activated the field.
func (t *Tracker) LastPhrase() string { return t.lastPhrase }

// State returns the current text state.
func (t *Tracker) State() State {
	switch {
	case t.current != "":
		return Previewing
	case t.base != "":
		return Accumulating
	default:
		return Empty
	}
}

// Base returns the confirmed layer.
func (t *Tracker) Base() string { return t.base }

// Text returns the accumulated text: the confirmed base and the in-flight
// hypothesis joined by one space.
func (t *Tracker) Text() string {
	switch t.State() {
	case Previewing:
		if t.base == "" {
			return t.current
		}
		return t.base + " " + t.current
	case Accumulating:
		return t.base
	default:
		return ""
	}
}

// Activate makes fieldID the active field, seeded with seed as its confirmed
// text. Re-activating the active field only records phrase and keeps the
// accumulated text. When a different field held text, that text is returned
// so the caller can emit it.
func (t *Tracker) Activate(fieldID, phrase, seed string) (Flush, bool) {
	if fieldID == t.field {
		t.lastPhrase = phrase
		return Flush{}, false
	}
	prev, hadPrev := t.flush()
	t.field = fieldID
	t.lastPhrase = phrase
	t.base = strings.TrimSpace(seed)
	t.current = ""
	return prev, hadPrev
}

// SetPartial replaces the in-flight hypothesis. The confirmed base is never
// touched.
func (t *Tracker) SetPartial(text string) {
	if t.field == "" {
		return
	}
	t.current = strings.TrimSpace(text)
}

// DiscardPartial drops the in-flight hypothesis and keeps the confirmed base.
func (t *Tracker) DiscardPartial() {
	t.current = ""
}

// ConfirmUtterance commits text as a finished utterance and clears the
// in-flight layer. Text the base already ends with is not added again.
func (t *Tracker) ConfirmUtterance(text string) {
	if t.field == "" {
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	t.current = ""
	if strings.HasSuffix(strings.ToLower(t.base), strings.ToLower(text)) {
		return
	}
	t.base = join(t.base, text)
}

// Append adds text to the confirmed base unless the base already contains it
// (case-insensitive), which guards against duplicate delivery.
func (t *Tracker) Append(text string) {
	if t.field == "" {
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if strings.Contains(strings.ToLower(t.base), strings.ToLower(text)) {
		return
	}
	t.base = join(t.base, text)
}

// Clear empties both layers and keeps the field active.
func (t *Tracker) Clear() {
	t.base = ""
	t.current = ""
}

// Current returns the active field and its text when the text is at least
// the configured minimum length.
func (t *Tracker) Current() (Flush, bool) {
	if t.field == "" {
		return Flush{}, false
	}
	text := t.Text()
	if utf8.RuneCountInString(text) < t.minChars {
		return Flush{}, false
	}
	return Flush{FieldID: t.field, Text: text}, true
}

// TakeAndClear deactivates the active field and returns its text, if any.
func (t *Tracker) TakeAndClear() (Flush, bool) {
	f, ok := t.flush()
	t.Reset()
	return f, ok
}

// Reset wipes all state.
func (t *Tracker) Reset() {
	t.field = ""
	t.lastPhrase = ""
	t.base = ""
	t.current = ""
}

func (t *Tracker) flush() (Flush, bool) {
	if t.field == "" {
		return Flush{}, false
	}
	text := t.Text()
	if text == "" {
		return Flush{}, false
	}
	return Flush{FieldID: t.field, Text: text}, true
}

func join(base, text string) string {
	if base == "" {
		return text
	}
	return base + " " + text
}
