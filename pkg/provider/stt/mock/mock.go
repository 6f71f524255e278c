// Package mock provides a scripted STT backend for dictation tests.
//
// A Session plays the role of the recognition service: the test pushes the
// partial and final hypotheses the service would produce and can hang up the
// stream the way a dropped connection would.
//
//	sess := mock.NewSession(4)
//	p := &mock.Provider{Session: sess}
//	handle, _ := p.StartStream(ctx, cfg)
//	sess.Partial("motivo de con")
//	sess.Final("motivo de consulta ardor")
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/dictaform/pkg/provider/stt"
)

// StartStreamCall records a single invocation of Provider.StartStream.
type StartStreamCall struct {
	// Ctx is the context passed to StartStream.
	Ctx context.Context
	// Cfg is the StreamConfig passed to StartStream.
	Cfg stt.StreamConfig
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by StartStream. If nil, StartStream
	// returns a new Session with a buffered results channel.
	Session stt.SessionHandle

	// StartStreamErr, if non-nil, is returned as the error from StartStream.
	StartStreamErr error

	// StartStreamCalls records every call to StartStream.
	StartStreamCalls []StartStreamCall

	// Recording and TranscribeErr are returned by Transcribe.
	Recording     stt.Recording
	TranscribeErr error

	transcribeCalls []stt.BatchConfig
}

// Transcribe records the call and returns Recording, TranscribeErr.
func (p *Provider) Transcribe(_ context.Context, _ []byte, cfg stt.BatchConfig) (stt.Recording, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.transcribeCalls = append(p.transcribeCalls, cfg)
	return p.Recording, p.TranscribeErr
}

// TranscribeCalls returns the configuration of every Transcribe call.
func (p *Provider) TranscribeCalls() []stt.BatchConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.transcribeCalls)
}

// StartStream records the call and returns Session, StartStreamErr.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = append(p.StartStreamCalls, StartStreamCall{Ctx: ctx, Cfg: cfg})
	if p.StartStreamErr != nil {
		return nil, p.StartStreamErr
	}
	if p.Session != nil {
		return p.Session, nil
	}
	return NewSession(16), nil
}

// Calls returns a copy of the recorded StartStream calls. Thread-safe.
func (p *Provider) Calls() []StartStreamCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]StartStreamCall, len(p.StartStreamCalls))
	copy(out, p.StartStreamCalls)
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = nil
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)

// Session is a mock implementation of stt.SessionHandle.
//
// Transcripts pushed with Push are delivered on Results in order. Close
// closes the results channel, so tests must not Push after Close.
type Session struct {
	mu sync.Mutex

	results chan stt.Transcript
	closed  bool

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	// --- Call records ---

	// SendAudioCalls holds a copy of every chunk passed to SendAudio, in order.
	SendAudioCalls [][]byte

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// NewSession returns a Session whose results channel buffers n transcripts.
func NewSession(n int) *Session {
	return &Session{results: make(chan stt.Transcript, n)}
}

// Push delivers t on the results channel, blocking while the buffer is full.
func (s *Session) Push(t stt.Transcript) {
	s.results <- t
}

// Partial pushes an interim hypothesis.
func (s *Session) Partial(text string) {
	s.Push(stt.Transcript{Text: text})
}

// Final pushes a committed hypothesis that ends an utterance.
func (s *Session) Final(text string) {
	s.Push(stt.Transcript{Text: text, IsFinal: true, SpeechFinal: true})
}

// Drop ends the stream from the service side: results stop and SendAudio
// returns stt.ErrClosed. It does not count as a Close call.
func (s *Session) Drop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.results)
	}
}

// SendAudio records the call and returns SendAudioErr, or stt.ErrClosed after
// Close.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return stt.ErrClosed
	}
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.SendAudioCalls = append(s.SendAudioCalls, cp)
	return s.SendAudioErr
}

// Results returns the results channel.
func (s *Session) Results() <-chan stt.Transcript {
	return s.results
}

// SendAudioCallCount returns the number of SendAudio calls. Thread-safe.
func (s *Session) SendAudioCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.SendAudioCalls)
}

// Closes returns the number of Close calls. Thread-safe.
func (s *Session) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCallCount
}

// Close records the call, closes the results channel once, and returns
// CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	if !s.closed {
		s.closed = true
		close(s.results)
	}
	return s.CloseErr
}

// Ensure Session implements stt.SessionHandle at compile time.
var _ stt.SessionHandle = (*Session)(nil)
