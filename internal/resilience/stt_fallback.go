package resilience

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/dictaform/pkg/provider/stt"
)

// ErrStreamDropped is reported to a backend's breaker when its stream closed
// while the session was still sending audio.
var ErrStreamDropped = errors.New("resilience: stt stream dropped")

// STTFallback is a chain of STT backends behind one [stt.Provider]. Opening a
// stream fails over like any call. A stream that the backend drops mid-dictation
// also counts against that backend, so repeated drops move the session's
// reconnect to the next backend.
//
// Backends that implement [stt.Transcriber] also form a second chain for
// complete recordings, with breakers of their own.
type STTFallback struct {
	cfg   FallbackConfig
	group *FallbackGroup[stt.Provider]
	batch *FallbackGroup[stt.Transcriber]
}

var (
	_ stt.Provider    = (*STTFallback)(nil)
	_ stt.Transcriber = (*STTFallback)(nil)
)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	f := &STTFallback{cfg: cfg, group: NewFallbackGroup(primary, primaryName, cfg)}
	f.addBatch(primaryName, primary)
	return f
}

// AddFallback appends a backend tried after every earlier one.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
	f.addBatch(name, provider)
}

func (f *STTFallback) addBatch(name string, provider stt.Provider) {
	t, ok := provider.(stt.Transcriber)
	if !ok {
		return
	}
	if f.batch == nil {
		f.batch = NewFallbackGroup(t, name, f.cfg)
		return
	}
	f.batch.AddFallback(name, t)
}

// Transcribe sends a recording to the first batch-capable backend that
// succeeds. It returns [stt.ErrBatchUnsupported] when no backend can
// transcribe recordings.
func (f *STTFallback) Transcribe(ctx context.Context, audio []byte, cfg stt.BatchConfig) (stt.Recording, error) {
	if f.batch == nil {
		return stt.Recording{}, stt.ErrBatchUnsupported
	}
	return ExecuteWithResult(ctx, f.batch, func(t stt.Transcriber) (stt.Recording, error) {
		return t.Transcribe(ctx, audio, cfg)
	})
}

// StartStream opens a stream on the first backend that accepts it.
func (f *STTFallback) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	return execute(ctx, f.group, func(e *fallbackEntry[stt.Provider]) (stt.SessionHandle, error) {
		h, err := e.value.StartStream(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return &trackedStream{SessionHandle: h, breaker: e.breaker}, nil
	})
}

// Healthy reports whether any backend currently accepts new streams.
func (f *STTFallback) Healthy() bool {
	return f.group.Healthy()
}

// trackedStream reports a backend-side hang-up to the serving breaker once.
type trackedStream struct {
	stt.SessionHandle
	breaker *CircuitBreaker
	closing atomic.Bool
	dropped sync.Once
}

func (s *trackedStream) SendAudio(chunk []byte) error {
	err := s.SessionHandle.SendAudio(chunk)
	if errors.Is(err, stt.ErrClosed) && !s.closing.Load() {
		s.dropped.Do(func() {
			_ = s.breaker.Execute(func() error { return ErrStreamDropped })
		})
	}
	return err
}

func (s *trackedStream) Close() error {
	s.closing.Store(true)
	return s.SessionHandle.Close()
}
