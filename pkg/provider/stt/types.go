package stt

import "time"

// Transcript is a speech-to-text result. Partial and final hypotheses share
// the type.
type Transcript struct {
	// Text is the transcribed speech.
	Text string

	// IsFinal is true once the provider has committed to the hypothesis.
	IsFinal bool

	// SpeechFinal is true when the provider detected the end of an utterance
	// (an endpointing pause) with this result.
	SpeechFinal bool

	// Confidence is the overall score in [0, 1]; zero when not reported.
	Confidence float64

	// Words contains per-word detail when available.
	Words []WordDetail

	// Start marks where the utterance begins, relative to session start.
	Start time.Duration

	// Duration is the length of the utterance.
	Duration time.Duration
}

// WordDetail holds per-word metadata.
type WordDetail struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}

// KeywordBoost is a term to favour during recognition.
type KeywordBoost struct {
	// Keyword is the text to boost (e.g. "presión intraocular").
	Keyword string

	// Boost is the provider-specific intensity.
	Boost float64
}
