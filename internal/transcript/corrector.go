package transcript

import (
	"strings"
	"unicode/utf8"

	"github.com/MrWong99/dictaform/internal/catalog"
	"github.com/MrWong99/dictaform/internal/transcript/phonetic"
	"github.com/MrWong99/dictaform/pkg/provider/stt"
)

const (
	defaultTrustedConfidence = 0.9
	defaultMinRunes          = 5
)

// PipelineOption is a functional option for configuring a [CorrectionPipeline].
type PipelineOption func(*CorrectionPipeline)

// WithPhoneticMatcher replaces the default [phonetic.Matcher].
func WithPhoneticMatcher(m PhoneticMatcher) PipelineOption {
	return func(p *CorrectionPipeline) {
		p.phonetic = m
	}
}

// WithTrustedConfidence sets the STT word confidence from which a word is
// left alone. Only windows containing at least one less confident word are
// corrected. Transcripts without word details are always considered.
// Default: 0.9.
func WithTrustedConfidence(c float64) PipelineOption {
	return func(p *CorrectionPipeline) {
		p.trusted = c
	}
}

// WithMinLength sets the minimum number of letters a window needs to be
// corrected. Short windows are mostly function words. Default: 5.
func WithMinLength(n int) PipelineOption {
	return func(p *CorrectionPipeline) {
		p.minRunes = n
	}
}

// CorrectionPipeline replaces misheard word windows with vocabulary phrases.
// It is read-only after construction and safe for concurrent use.
type CorrectionPipeline struct {
	phonetic PhoneticMatcher
	vocab    []string
	prepared *phonetic.Vocabulary
	trusted  float64
	minRunes int
}

var _ Pipeline = (*CorrectionPipeline)(nil)

// NewPipeline builds a pipeline over vocabulary, typically the trigger
// phrases of the catalog.
func NewPipeline(vocabulary []string, opts ...PipelineOption) *CorrectionPipeline {
	p := &CorrectionPipeline{
		vocab:    vocabulary,
		prepared: phonetic.Prepare(vocabulary),
		trusted:  defaultTrustedConfidence,
		minRunes: defaultMinRunes,
	}
	for _, o := range opts {
		o(p)
	}
	if p.phonetic == nil {
		p.phonetic = phonetic.New()
	}
	return p
}

// Correct scans the transcript left to right. At each position the longest
// window (up to the longest vocabulary phrase) that matches is replaced and
// skipped; windows that already are vocabulary phrases are kept verbatim.
func (p *CorrectionPipeline) Correct(t stt.Transcript) *CorrectedTranscript {
	result := &CorrectedTranscript{
		Original:    t,
		Corrected:   t.Text,
		Corrections: []Correction{},
	}
	tokens := strings.Fields(t.Text)
	maxWords := p.prepared.MaxWords()
	if len(tokens) == 0 || maxWords == 0 {
		return result
	}

	var doubtful map[string]struct{}
	if len(t.Words) > 0 {
		doubtful = make(map[string]struct{})
		for _, w := range t.Words {
			if w.Confidence < p.trusted {
				doubtful[fold(w.Word)] = struct{}{}
			}
		}
	}

	match := func(window string) (string, float64, bool) {
		return p.phonetic.Match(window, p.vocab)
	}
	if pm, ok := p.phonetic.(*phonetic.Matcher); ok {
		match = func(window string) (string, float64, bool) {
			return pm.MatchPrepared(window, p.prepared)
		}
	}

	out := make([]string, 0, len(tokens))
	changed := false
	for i := 0; i < len(tokens); {
		n, replacement, corr, ok := p.bestWindow(tokens[i:min(i+maxWords, len(tokens))], doubtful, match)
		if !ok {
			out = append(out, tokens[i])
			i++
			continue
		}
		if replacement == "" {
			out = append(out, tokens[i:i+n]...)
		} else {
			out = append(out, replacement)
			result.Corrections = append(result.Corrections, corr)
			changed = true
		}
		i += n
	}
	if changed {
		result.Corrected = strings.Join(out, " ")
	}
	return result
}

// bestWindow tries windows from longest to shortest. It returns the number
// of tokens consumed and, for a correction, the replacement text. An empty
// replacement with ok set means the window is already correct.
func (p *CorrectionPipeline) bestWindow(
	tokens []string,
	doubtful map[string]struct{},
	match func(string) (string, float64, bool),
) (int, string, Correction, bool) {
	for n := len(tokens); n >= 1; n-- {
		lead, words, trail := splitPunct(tokens[:n])
		window := strings.Join(words, " ")
		if utf8.RuneCountInString(strings.ReplaceAll(window, " ", "")) < p.minRunes {
			continue
		}
		if p.prepared.Contains(window) {
			return n, "", Correction{}, true
		}
		if doubtful != nil && !anyDoubtful(words, doubtful) {
			continue
		}
		corrected, conf, ok := match(window)
		if !ok {
			continue
		}
		return n, lead + corrected + trail, Correction{Original: window, Corrected: corrected, Confidence: conf}, true
	}
	return 0, "", Correction{}, false
}

// splitPunct detaches opening marks of the first token and closing
// punctuation of the last so they survive a replacement.
func splitPunct(tokens []string) (lead string, words []string, trail string) {
	words = append([]string(nil), tokens...)
	first := words[0]
	trimmed := strings.TrimLeft(first, "¿¡(\"")
	lead = first[:len(first)-len(trimmed)]
	words[0] = trimmed

	last := words[len(words)-1]
	trimmed = strings.TrimRight(last, ".,;:!?)\"")
	trail = last[len(trimmed):]
	words[len(words)-1] = trimmed
	return lead, words, trail
}

func anyDoubtful(words []string, doubtful map[string]struct{}) bool {
	for _, w := range words {
		if _, ok := doubtful[fold(w)]; ok {
			return true
		}
	}
	return false
}

func fold(s string) string {
	return catalog.Fold(catalog.Canonical(s))
}
