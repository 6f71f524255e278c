// Package transcript corrects speech-to-text output toward the clinical
// vocabulary before it reaches the dictation engine.
//
// Speech recognisers regularly mishear rare terms ("conjuntiba",
// "motivo de consutla"). A missed trigger phrase means dictated text lands in
// the wrong field, so final transcripts can optionally pass a [Pipeline] that
// replaces near-miss word windows with the closest vocabulary phrase.
//
// Each [Correction] records the substitution and its confidence so callers
// can log or audit it.
package transcript

import (
	"github.com/MrWong99/dictaform/pkg/provider/stt"
)

// Correction captures a single substitution made by the pipeline.
type Correction struct {
	// Original is the word window as produced by the STT provider.
	Original string

	// Corrected is the vocabulary phrase that replaced it.
	Corrected string

	// Confidence is the similarity score of the substitution (0.0–1.0).
	Confidence float64
}

// CorrectedTranscript is the output of a [Pipeline.Correct] call.
type CorrectedTranscript struct {
	// Original is the raw transcript as received from the STT provider.
	Original stt.Transcript

	// Corrected is the full text with all substitutions applied.
	Corrected string

	// Corrections lists the substitutions in text order. An empty (non-nil)
	// slice means nothing was changed.
	Corrections []Correction
}

// Pipeline corrects a raw transcript. Implementations must be safe for
// concurrent use.
type Pipeline interface {
	Correct(t stt.Transcript) *CorrectedTranscript
}

// PhoneticMatcher resolves a word window to the most similar phrase of a
// vocabulary. When matched is false, corrected must equal word and
// confidence must be 0.
type PhoneticMatcher interface {
	Match(word string, entities []string) (corrected string, confidence float64, matched bool)
}
