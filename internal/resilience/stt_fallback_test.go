package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/dictaform/pkg/provider/stt"
	sttmock "github.com/MrWong99/dictaform/pkg/provider/stt/mock"
)

var dictationStream = stt.StreamConfig{SampleRate: 16000, Channels: 1, Encoding: "linear16", Language: "es"}

func TestSTTFallback_PrimaryOpens(t *testing.T) {
	t.Parallel()
	sess := sttmock.NewSession(1)
	primary := &sttmock.Provider{Session: sess}
	secondary := &sttmock.Provider{}

	fb := NewSTTFallback(primary, "deepgram", testFallbackConfig(3))
	fb.AddFallback("backup", secondary)

	h, err := fb.StartStream(context.Background(), dictationStream)
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	if err := h.SendAudio([]byte{1, 2}); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	sess.Final("motivo de consulta")
	if got := <-h.Results(); got.Text != "motivo de consulta" {
		t.Errorf("result=%q", got.Text)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if len(primary.Calls()) != 1 || len(secondary.Calls()) != 0 {
		t.Errorf("calls=%d/%d, want 1/0", len(primary.Calls()), len(secondary.Calls()))
	}
}

func TestSTTFallback_OpenFailsOver(t *testing.T) {
	t.Parallel()
	primary := &sttmock.Provider{StartStreamErr: errors.New("handshake 401")}
	secondary := &sttmock.Provider{Session: sttmock.NewSession(1)}

	fb := NewSTTFallback(primary, "deepgram", testFallbackConfig(3))
	fb.AddFallback("backup", secondary)

	h, err := fb.StartStream(context.Background(), dictationStream)
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	defer h.Close()
	calls := secondary.Calls()
	if len(calls) != 1 || calls[0].Cfg.Language != "es" {
		t.Errorf("secondary calls=%+v, want one call with language es", calls)
	}
}

func TestSTTFallback_DroppedStreamMovesReconnect(t *testing.T) {
	t.Parallel()
	dropped := sttmock.NewSession(1)
	primary := &sttmock.Provider{Session: dropped}
	secondary := &sttmock.Provider{Session: sttmock.NewSession(1)}

	fb := NewSTTFallback(primary, "deepgram", testFallbackConfig(1))
	fb.AddFallback("backup", secondary)

	h, err := fb.StartStream(context.Background(), dictationStream)
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	dropped.Drop()
	for range 2 {
		if err := h.SendAudio([]byte{1}); !errors.Is(err, stt.ErrClosed) {
			t.Fatalf("SendAudio after drop: %v, want ErrClosed", err)
		}
	}

	h2, err := fb.StartStream(context.Background(), dictationStream)
	if err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	defer h2.Close()
	if len(primary.Calls()) != 1 || len(secondary.Calls()) != 1 {
		t.Errorf("calls=%d/%d, want the reconnect on the backup", len(primary.Calls()), len(secondary.Calls()))
	}
}

func TestSTTFallback_CloseIsNotADrop(t *testing.T) {
	t.Parallel()
	primary := &sttmock.Provider{}

	fb := NewSTTFallback(primary, "deepgram", testFallbackConfig(1))
	h, err := fb.StartStream(context.Background(), dictationStream)
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	_ = h.Close()
	if err := h.SendAudio([]byte{1}); !errors.Is(err, stt.ErrClosed) {
		t.Fatalf("SendAudio after Close: %v", err)
	}
	if !fb.Healthy() {
		t.Error("closing a stream opened the breaker")
	}
}

func TestSTTFallback_AllFail(t *testing.T) {
	t.Parallel()
	primary := &sttmock.Provider{StartStreamErr: errors.New("primary down")}

	fb := NewSTTFallback(primary, "deepgram", testFallbackConfig(1))

	_, err := fb.StartStream(context.Background(), stt.StreamConfig{})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err=%v, want ErrAllFailed", err)
	}
	if fb.Healthy() {
		t.Error("Healthy()=true, want false")
	}
}

// streamOnly hides the batch capability of the wrapped provider.
type streamOnly struct{ stt.Provider }

func TestSTTFallback_TranscribeSkipsStreamOnlyBackends(t *testing.T) {
	t.Parallel()

	live := &sttmock.Provider{}
	batch := &sttmock.Provider{Recording: stt.Recording{Text: "ojos normales", Segments: []string{"ojos normales"}}}

	fb := NewSTTFallback(streamOnly{live}, "live", testFallbackConfig(1))
	fb.AddFallback("batch", batch)

	rec, err := fb.Transcribe(t.Context(), []byte{1}, stt.BatchConfig{MimeType: "audio/wav"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if rec.Text != "ojos normales" {
		t.Errorf("text=%q", rec.Text)
	}
	if len(batch.TranscribeCalls()) != 1 {
		t.Errorf("batch calls=%d, want 1", len(batch.TranscribeCalls()))
	}
	// The streaming chain is untouched by batch traffic.
	if !fb.Healthy() {
		t.Error("streaming chain unhealthy after a batch request")
	}
}

func TestSTTFallback_TranscribeFailsOver(t *testing.T) {
	t.Parallel()

	primary := &sttmock.Provider{TranscribeErr: errors.New("upstream unavailable")}
	secondary := &sttmock.Provider{Recording: stt.Recording{Text: "listo"}}

	fb := NewSTTFallback(primary, "deepgram", testFallbackConfig(3))
	fb.AddFallback("backup", secondary)

	rec, err := fb.Transcribe(t.Context(), []byte{1}, stt.BatchConfig{MimeType: "audio/wav"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if rec.Text != "listo" {
		t.Errorf("text=%q, want listo", rec.Text)
	}
}

func TestSTTFallback_TranscribeUnsupported(t *testing.T) {
	t.Parallel()

	fb := NewSTTFallback(streamOnly{&sttmock.Provider{}}, "live", testFallbackConfig(1))
	if _, err := fb.Transcribe(t.Context(), []byte{1}, stt.BatchConfig{}); !errors.Is(err, stt.ErrBatchUnsupported) {
		t.Errorf("got %v, want ErrBatchUnsupported", err)
	}
}
