package engine

import (
	"strings"
	"unicode/utf8"

	"github.com/MrWong99/dictaform/internal/catalog"
	"github.com/MrWong99/dictaform/internal/matcher"
	"github.com/MrWong99/dictaform/internal/tracker"
	"github.com/MrWong99/dictaform/pkg/form"
)

// keywordBufWords is how many trailing words of an unmatched final fragment
// are kept to complete a trigger phrase split across two fragments.
const keywordBufWords = 4

func (s *Session) processFinal(text string) Result {
	var out []form.Update

	m, ok := s.matcher.Match(text)
	spanned := false
	if !ok && s.keywordBuf != "" {
		m, ok = s.matchAcrossBuffer(text)
		spanned = ok
	}
	prevBuf := s.keywordBuf
	s.keywordBuf = ""
	// The final restates whatever the last partial hypothesised.
	s.tracker.DiscardPartial()
	folded := foldText(text)
	s.updateContext(folded)

	// 1-3: commands.
	if ok && m.IsCommand() {
		switch {
		case m.Phrase.Kind == catalog.KindUncheck:
			out = append(out, form.Update{FieldID: m.Phrase.Target, Value: "false", Confidence: form.ConfidenceCommand, SourceText: text})
			delete(s.filled, m.Phrase.Target)
			s.log.Debug("engine: field unchecked", "field", m.Phrase.Target)
		case m.Phrase.Target == catalog.CmdStop:
			if !spanned && m.Leading != "" {
				out = append(out, s.processFinal(m.Leading).Updates...)
				s.keywordBuf = ""
			}
			out = s.stop(out, text)
		case m.Phrase.Target == catalog.CmdClear:
			if active := s.tracker.Active(); active != "" {
				s.tracker.Clear()
				out = s.commit(out, active, "", form.ConfidenceCommand, text)
				s.log.Debug("engine: field cleared", "field", active)
			}
		}
		return Result{Updates: out}
	}

	// 4: anchored duration. Leaves the active field alone.
	consumed := false
	if d, found := s.findDuration(text); found {
		out = s.commit(out, EvolutionQuantityID, d.quantity, form.ConfidenceAnchored, text)
		out = s.commit(out, EvolutionUnitID, d.unit, form.ConfidenceAnchored, text)
		consumed = true
		if ok && isDurationTarget(m.Phrase.Target) {
			return Result{Updates: out}
		}
	}

	active := s.tracker.Active()

	// 5: contextual "normal". A specific structure checkbox still wins.
	if active == "" && (!ok || m.Phrase.Target == AllNormalID) {
		if upd, found := s.contextNormal(out, folded, text); found {
			return Result{Updates: upd}
		}
	}

	if ok && s.locked(active, m.Phrase.Target) {
		s.log.Debug("engine: trigger ignored, field locked", "active", active, "trigger", m.Phrase.Text)
	} else if ok {
		ft := s.FieldType(m.Phrase.Target)

		// 6: immediate-activation types.
		if ft.Immediate() {
			return Result{Updates: s.activateImmediate(out, m, ft, text)}
		}
		// 7: direct lead-in patterns, only while idle.
		if active == "" {
			if direct := s.findDirect(text); len(direct) > 0 {
				return Result{Updates: s.commitDirect(out, direct, text)}
			}
		}
		// 8: activation.
		return Result{Updates: s.activate(out, m, text)}
	}
	if consumed {
		return Result{Updates: out}
	}

	if active == "" {
		if direct := s.findDirect(text); len(direct) > 0 {
			return Result{Updates: s.commitDirect(out, direct, text)}
		}
	}

	// 9: accumulation.
	if active != "" {
		return Result{Updates: s.accumulate(out, text)}
	}

	// 10: findings for the current eye and section.
	if upd, found := s.contextFindings(out, folded, text); found {
		return Result{Updates: upd}
	}

	// 11: nothing consumed the fragment.
	s.keywordBuf = lastWords(joinBuf(prevBuf, text), keywordBufWords)
	return Result{Updates: out, Unmatched: true}
}

// matchAcrossBuffer retries the match on the buffered words followed by text
// and only accepts a phrase that starts in the buffer and ends in text.
func (s *Session) matchAcrossBuffer(text string) (matcher.Match, bool) {
	m, ok := s.matcher.Match(s.keywordBuf + " " + text)
	if !ok {
		return matcher.Match{}, false
	}
	n := utf8.RuneCountInString(s.keywordBuf)
	if m.Start >= n || m.End <= n {
		return matcher.Match{}, false
	}
	s.log.Debug("engine: trigger completed across fragments", "phrase", m.Phrase.Text)
	return m, true
}

// locked reports whether the active field refuses to hand over to target.
func (s *Session) locked(active, target string) bool {
	return active != "" && target != active && s.static.IsExclusive(active)
}

func (s *Session) commitDirect(out []form.Update, direct []directValue, src string) []form.Update {
	for _, d := range direct {
		out = s.commit(out, d.target, d.value, form.ConfidenceDirect, src)
	}
	return out
}

// stop closes the active field and emits its final text.
func (s *Session) stop(out []form.Update, src string) []form.Update {
	flush, ok := s.tracker.TakeAndClear()
	if !ok {
		return out
	}
	value := s.normalizeFor(flush.FieldID, s.matcher.StripTrailingCommands(flush.Text))
	s.log.Debug("engine: field finalized", "field", flush.FieldID)
	return s.commit(out, flush.FieldID, value, form.ConfidenceCommand, src)
}

// activateImmediate writes the value of a checkbox, select, radio or button
// directly and leaves no field active, except for checkboxes with a companion
// input which then receives dictation.
func (s *Session) activateImmediate(out []form.Update, m matcher.Match, ft form.FieldType, src string) []form.Update {
	if flush, ok := s.tracker.TakeAndClear(); ok {
		out = s.commitFlush(out, flush, src)
	}
	target := m.Phrase.Target
	out = s.commit(out, target, s.immediateValue(m, ft), form.ConfidenceCommand, src)
	s.log.Debug("engine: immediate field set", "field", target, "type", ft)

	companion, ok := s.static.Companion(target)
	if !ok {
		return out
	}
	seed := s.filled[companion]
	s.tracker.Activate(companion, m.Phrase.Text, seed)
	s.tracker.Append(m.Trailing)
	if cur, ok := s.current(); ok {
		out = s.commit(out, cur.FieldID, s.normalizeFor(cur.FieldID, cur.Text), form.ConfidenceFinal, src)
	}
	return out
}

// immediateValue is the value an immediate-activation field receives.
func (s *Session) immediateValue(m matcher.Match, ft form.FieldType) string {
	if ft != form.TypeSelect {
		return "true"
	}
	if v, ok := s.static.LookupSelectValue(m.Phrase.Text); ok {
		return v
	}
	if m.Trailing != "" {
		return s.norm.Normalize(s.static.SelectValue(m.Trailing), form.TypeSelect)
	}
	return s.norm.Normalize(m.Phrase.Text, form.TypeSelect)
}

// activate opens a dictation field seeded with its stored value and the
// text spoken after the trigger.
func (s *Session) activate(out []form.Update, m matcher.Match, src string) []form.Update {
	target := m.Phrase.Target
	if flush, ok := s.tracker.Activate(target, m.Phrase.Text, s.filled[target]); ok {
		out = s.commitFlush(out, flush, src)
	}
	s.log.Debug("engine: field activated", "field", target, "phrase", m.Phrase.Text)
	s.tracker.Append(m.Trailing)
	if cur, ok := s.current(); ok {
		out = s.commit(out, cur.FieldID, s.normalizeFor(cur.FieldID, cur.Text), form.ConfidenceFinal, src)
	}
	return out
}

// accumulate adds text to the active field, closing it when the text carries
// a finalize word.
func (s *Session) accumulate(out []form.Update, text string) []form.Update {
	active := s.tracker.Active()
	cleaned := s.matcher.StripFieldPhrases(text, active, s.tracker.LastPhrase())

	if s.hasFinalizeWord(cleaned) {
		s.tracker.ConfirmUtterance(matcher.StripPhrases(cleaned, s.finalizeWords...))
		flush, ok := s.tracker.TakeAndClear()
		if !ok {
			return out
		}
		s.log.Debug("engine: field auto-finalized", "field", flush.FieldID)
		return s.commitFlush(out, flush, text)
	}

	if cleaned == "" {
		s.tracker.SetPartial("")
	} else {
		s.tracker.ConfirmUtterance(cleaned)
	}
	if cur, ok := s.current(); ok {
		out = s.commit(out, cur.FieldID, s.normalizeFor(cur.FieldID, cur.Text), form.ConfidenceFinal, text)
	}
	return out
}

func (s *Session) processPartial(text string) Result {
	var out []form.Update
	m, ok := s.matcher.Match(text)
	active := s.tracker.Active()

	if ok && m.IsCommand() {
		switch {
		case m.Phrase.Kind == catalog.KindUncheck:
			out = preview(out, m.Phrase.Target, "false", text)
		case m.Phrase.Target == catalog.CmdStop:
			if cur, ok := s.current(); ok {
				out = preview(out, cur.FieldID, s.normalizeFor(cur.FieldID, s.matcher.StripTrailingCommands(cur.Text)), text)
			}
		case m.Phrase.Target == catalog.CmdClear:
			if active != "" {
				out = preview(out, active, "", text)
			}
		}
		return Result{Updates: out}
	}

	if d, found := s.findDuration(text); found {
		out = preview(out, EvolutionQuantityID, d.quantity, text)
		out = preview(out, EvolutionUnitID, d.unit, text)
		if ok && isDurationTarget(m.Phrase.Target) {
			return Result{Updates: out}
		}
	}

	if ok && !s.locked(active, m.Phrase.Target) {
		target := m.Phrase.Target
		ft := s.FieldType(target)
		switch {
		case ft.Immediate():
			if s.static.IsAmbiguousButton(m.Phrase.Text) {
				return Result{Updates: out}
			}
			return Result{Updates: preview(out, target, s.immediateValue(m, ft), text)}
		case target == active:
			s.tracker.SetPartial(s.matcher.StripFieldPhrases(text, active, m.Phrase.Text))
			return Result{Updates: s.previewCurrent(out, text)}
		default:
			if m.Trailing != "" && !s.IsFilled(target) {
				out = preview(out, target, s.normalizeFor(target, m.Trailing), text)
			}
			return Result{Updates: out}
		}
	}

	if active != "" {
		s.tracker.SetPartial(s.matcher.StripFieldPhrases(text, active, s.tracker.LastPhrase()))
		out = s.previewCurrent(out, text)
	}
	return Result{Updates: out}
}

func (s *Session) previewCurrent(out []form.Update, src string) []form.Update {
	cur, ok := s.current()
	if !ok {
		return out
	}
	return preview(out, cur.FieldID, s.normalizeFor(cur.FieldID, cur.Text), src)
}

// current is [tracker.Tracker.Current] except that number fields report any
// non-empty text; numbers are legitimately shorter than the noise threshold.
func (s *Session) current() (tracker.Flush, bool) {
	if cur, ok := s.tracker.Current(); ok {
		return cur, true
	}
	active := s.tracker.Active()
	if active == "" || s.FieldType(active) != form.TypeNumber {
		return tracker.Flush{}, false
	}
	if text := s.tracker.Text(); text != "" {
		return tracker.Flush{FieldID: active, Text: text}, true
	}
	return tracker.Flush{}, false
}

// commitFlush emits the text of a field that lost its active status.
func (s *Session) commitFlush(out []form.Update, f tracker.Flush, src string) []form.Update {
	value := s.normalizeFor(f.FieldID, f.Text)
	if value == "" {
		return out
	}
	return s.commit(out, f.FieldID, value, form.ConfidenceFinal, src)
}

func (s *Session) normalizeFor(id, text string) string {
	return s.norm.Normalize(strings.TrimSpace(text), s.FieldType(id))
}

func (s *Session) hasFinalizeWord(text string) bool {
	canon := " " + catalog.Canonical(text) + " "
	for _, w := range s.finalizeWords {
		if strings.Contains(canon, " "+w+" ") {
			return true
		}
	}
	return false
}

func joinBuf(buf, text string) string {
	if buf == "" {
		return catalog.Canonical(text)
	}
	return buf + " " + catalog.Canonical(text)
}

func lastWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) > n {
		words = words[len(words)-n:]
	}
	return strings.Join(words, " ")
}
