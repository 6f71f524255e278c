// Package stt defines the Provider interface for streaming Speech-to-Text
// backends.
//
// A provider wraps a real-time transcription service and exposes a uniform
// streaming interface. Once opened, a SessionHandle accepts raw PCM audio and
// emits Transcript values on a single channel: interim hypotheses and final
// results interleaved in the order the service produced them. Consumers that
// feed a dictation engine rely on that order, since a final supersedes every
// partial received before it.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
)

// ErrClosed is returned by SendAudio after the session has been closed.
var ErrClosed = errors.New("stt: session is closed")

// StreamConfig describes the audio format and recognition hints for a new STT
// session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. Dictation clients send
	// 16000 Hz mono.
	SampleRate int

	// Channels is the number of audio channels. 1 = mono.
	Channels int

	// Encoding names the PCM sample format (e.g. "linear16"). Empty uses the
	// provider default.
	Encoding string

	// Language is the language tag for recognition (e.g. "es", "es-419").
	// Empty uses the provider default.
	Language string

	// Keywords are vocabulary hints that raise recognition probability for
	// medical terms and trigger phrases.
	Keywords []KeywordBoost
}

// SessionHandle represents an open STT streaming session.
//
// Callers must call Close when the session is no longer needed. All methods
// must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of raw PCM audio. Calling SendAudio after
	// Close returns ErrClosed.
	SendAudio(chunk []byte) error

	// Results returns the ordered stream of partial and final transcripts.
	// The channel is closed when the session ends.
	Results() <-chan Transcript

	// Close flushes pending audio and releases the session. Results that the
	// service produces while flushing are still delivered before the channel
	// closes. Calling Close more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// StartStream opens a new streaming transcription session. The caller
	// owns the returned SessionHandle and must call Close when done.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
