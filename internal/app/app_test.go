package app_test

import (
	"context"
	"encoding/base64"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/goleak"

	"github.com/MrWong99/dictaform/internal/app"
	"github.com/MrWong99/dictaform/internal/config"
	"github.com/MrWong99/dictaform/internal/engine"
	"github.com/MrWong99/dictaform/pkg/form"
	"github.com/MrWong99/dictaform/pkg/provider/llm"
	llmmock "github.com/MrWong99/dictaform/pkg/provider/llm/mock"
	sttmock "github.com/MrWong99/dictaform/pkg/provider/stt/mock"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreAnyFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreAnyFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreAnyFunction("github.com/hashicorp/golang-lru/v2/expirable.NewLRU[...].func1"),
	)
}

const (
	reasonID       = "attention-origin-reason-for-consulting-badge-field"
	observationsID = "oftalmology-observations-textarea"
)

var testFields = []form.FieldDescriptor{
	{ID: reasonID, Label: "Motivo de consulta", Type: form.TypeTextarea, Required: true},
	{ID: engine.CurrentDiseaseID, Type: form.TypeTextarea},
	{ID: observationsID, Label: "Observaciones", Type: form.TypeTextarea},
	{ID: engine.DiagnosisID, Type: form.TypeSelect},
}

// message is the union of every server message.
type message struct {
	Type          string        `json:"type"`
	Message       string        `json:"message"`
	SessionID     string        `json:"session_id"`
	Text          string        `json:"text"`
	IsFinal       bool          `json:"is_final"`
	Items         []form.Update `json:"items"`
	SourceText    string        `json:"source_text"`
	Valid         bool          `json:"is_valid"`
	MissingFields []string      `json:"missing_fields"`
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	return cfg
}

// startServer serves a over httptest and waits for every session to end on
// cleanup.
func startServer(t *testing.T, a *app.App) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(func() {
		deadline := time.Now().Add(5 * time.Second)
		for a.Sessions().Len() > 0 && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		srv.Close()
	})
	return srv
}

func newTestApp(t *testing.T, cfg *config.Config, p app.Providers) *app.App {
	t.Helper()
	a, err := app.New(cfg, p)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

// dial opens a voice stream and consumes the session greeting.
func dial(t *testing.T, ctx context.Context, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/voice-stream"
	c, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { c.Close(websocket.StatusNormalClosure, "") })

	hello := readUntil(t, ctx, c, "session")
	if hello.SessionID == "" {
		t.Fatal("session message without session_id")
	}
	return c
}

func send(t *testing.T, ctx context.Context, c *websocket.Conn, v any) {
	t.Helper()
	if err := wsjson.Write(ctx, c, v); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// readUntil reads messages until one of type typ arrives. Every partial
// autofill seen on the way is collected into the returned message's Items.
func readUntil(t *testing.T, ctx context.Context, c *websocket.Conn, typ string) message {
	t.Helper()
	var items []form.Update
	for {
		var m message
		if err := wsjson.Read(ctx, c, &m); err != nil {
			t.Fatalf("waiting for %q: %v", typ, err)
		}
		if m.Type == typ {
			m.Items = append(items, m.Items...)
			return m
		}
		if m.Type == "partial_autofill" {
			items = append(items, m.Items...)
		}
	}
}

func configure(t *testing.T, ctx context.Context, c *websocket.Conn, filled map[string]string) message {
	t.Helper()
	send(t, ctx, c, map[string]any{
		"type":           "form_structure",
		"fields":         testFields,
		"already_filled": filled,
	})
	return readUntil(t, ctx, c, "info")
}

// findItem returns the last update of id.
func findItem(items []form.Update, id string) (form.Update, bool) {
	for i := len(items) - 1; i >= 0; i-- {
		if items[i].FieldID == id {
			return items[i], true
		}
	}
	return form.Update{}, false
}

// waitFor polls cond until it holds or a second has passed.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestVoiceStream_DictationAndValidation(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)

	srv := startServer(t, newTestApp(t, testConfig(), app.Providers{}))
	c := dial(t, ctx, srv)

	info := configure(t, ctx, c, nil)
	if info.Message != "Modo Biowel activo (4 campos)" {
		t.Errorf("info=%q", info.Message)
	}

	send(t, ctx, c, map[string]any{"type": "transcript", "text": "motivo de consulta ardor ocular", "is_final": true})
	echo := readUntil(t, ctx, c, "final_segment")
	if echo.Text != "motivo de consulta ardor ocular" || !echo.IsFinal {
		t.Errorf("echo=%+v", echo)
	}

	send(t, ctx, c, map[string]any{"type": "end_stream"})
	v := readUntil(t, ctx, c, "validation")
	u, ok := findItem(v.Items, reasonID)
	if !ok || u.Value != "Ardor ocular" {
		t.Errorf("autofill items=%+v, want %s=Ardor ocular", v.Items, reasonID)
	}
	if !v.Valid || len(v.MissingFields) != 0 {
		t.Errorf("validation valid=%v missing=%v, want valid", v.Valid, v.MissingFields)
	}
}

func TestVoiceStream_ValidationReportsMissing(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)

	srv := startServer(t, newTestApp(t, testConfig(), app.Providers{}))
	c := dial(t, ctx, srv)
	configure(t, ctx, c, nil)

	send(t, ctx, c, map[string]any{"type": "end_stream"})
	v := readUntil(t, ctx, c, "validation")
	if v.Valid {
		t.Error("valid=true with required field empty")
	}
	if len(v.MissingFields) != 1 || v.MissingFields[0] != reasonID {
		t.Errorf("missing=%v, want [%s]", v.MissingFields, reasonID)
	}
	if !strings.Contains(v.Message, "Motivo de consulta") {
		t.Errorf("message=%q, want it to name the missing field", v.Message)
	}
}

func TestVoiceStream_MalformedJSONKeepsConnection(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)

	srv := startServer(t, newTestApp(t, testConfig(), app.Providers{}))
	c := dial(t, ctx, srv)

	if err := c.Write(ctx, websocket.MessageText, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if m := readUntil(t, ctx, c, "error"); m.Message != "Mensaje inválido: JSON mal formado" {
		t.Errorf("error message=%q", m.Message)
	}

	if m := configure(t, ctx, c, nil); !strings.HasPrefix(m.Message, "Modo Biowel activo") {
		t.Errorf("info after error=%q", m.Message)
	}
}

func TestVoiceStream_TranscriptBeforeForm(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)

	srv := startServer(t, newTestApp(t, testConfig(), app.Providers{}))
	c := dial(t, ctx, srv)

	send(t, ctx, c, map[string]any{"type": "transcript", "text": "ardor ocular", "is_final": true})
	if m := readUntil(t, ctx, c, "error"); m.Message != "Formulario no configurado" {
		t.Errorf("error message=%q", m.Message)
	}
	send(t, ctx, c, map[string]any{"type": "end_stream"})
	if m := readUntil(t, ctx, c, "error"); m.Message != "No hay sesión de streaming activa" {
		t.Errorf("error message=%q", m.Message)
	}
}

func TestVoiceStream_UnknownType(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)

	srv := startServer(t, newTestApp(t, testConfig(), app.Providers{}))
	c := dial(t, ctx, srv)

	send(t, ctx, c, map[string]any{"type": "dance"})
	if m := readUntil(t, ctx, c, "error"); !strings.Contains(m.Message, "dance") {
		t.Errorf("error message=%q", m.Message)
	}
}

func TestVoiceStream_ResetClearsDictation(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)

	srv := startServer(t, newTestApp(t, testConfig(), app.Providers{}))
	c := dial(t, ctx, srv)
	configure(t, ctx, c, nil)

	send(t, ctx, c, map[string]any{"type": "transcript", "text": "motivo de consulta ardor ocular", "is_final": true})
	readUntil(t, ctx, c, "final_segment")
	send(t, ctx, c, map[string]any{"type": "reset"})
	if m := readUntil(t, ctx, c, "info"); m.Message != "Sesión reiniciada" {
		t.Errorf("info=%q", m.Message)
	}

	send(t, ctx, c, map[string]any{"type": "end_stream"})
	v := readUntil(t, ctx, c, "validation")
	if v.Valid {
		t.Error("valid=true after reset discarded the dictation")
	}
}

func TestVoiceStream_STTRelay(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)

	sess := sttmock.NewSession(4)
	provider := &sttmock.Provider{Session: sess}
	srv := startServer(t, newTestApp(t, testConfig(), app.Providers{STT: provider}))
	c := dial(t, ctx, srv)

	if m := configure(t, ctx, c, nil); m.Message != "Modo Biowel activo (4 campos), streaming listo" {
		t.Errorf("info=%q", m.Message)
	}
	calls := provider.Calls()
	if len(calls) != 1 {
		t.Fatalf("StartStream calls=%d, want 1", len(calls))
	}
	cfg := calls[0].Cfg
	if cfg.Language != "es" || cfg.SampleRate != 16000 || cfg.Channels != 1 {
		t.Errorf("stream config=%+v", cfg)
	}
	if len(cfg.Keywords) == 0 {
		t.Error("no keyword boosts sent")
	}

	send(t, ctx, c, map[string]any{"type": "audio_chunk", "data": base64.StdEncoding.EncodeToString([]byte{1, 2, 3, 4})})
	if err := c.Write(ctx, websocket.MessageBinary, []byte{5, 6}); err != nil {
		t.Fatalf("write binary: %v", err)
	}
	waitFor(t, "audio forwarding", func() bool { return sess.SendAudioCallCount() == 2 })
	if got := string(sess.SendAudioCalls[0]); got != string([]byte{1, 2, 3, 4}) {
		t.Errorf("first chunk=%v", sess.SendAudioCalls[0])
	}

	sess.Partial("motivo de consulta")
	if m := readUntil(t, ctx, c, "partial_transcription"); m.IsFinal {
		t.Error("partial marked final")
	}
	sess.Final("motivo de consulta ardor ocular")
	readUntil(t, ctx, c, "final_segment")

	send(t, ctx, c, map[string]any{"type": "end_stream"})
	v := readUntil(t, ctx, c, "validation")
	if !v.Valid {
		t.Errorf("validation missing=%v, want valid", v.MissingFields)
	}
	if sess.Closes() == 0 {
		t.Error("stt session not closed on end_stream")
	}
}

func TestVoiceStream_AudioWithoutSTT(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)

	srv := startServer(t, newTestApp(t, testConfig(), app.Providers{}))
	c := dial(t, ctx, srv)

	send(t, ctx, c, map[string]any{"type": "audio_chunk", "data": "AAAA"})
	if m := readUntil(t, ctx, c, "error"); m.Message != "Reconocimiento de voz no configurado" {
		t.Errorf("error message=%q", m.Message)
	}
	send(t, ctx, c, map[string]any{"type": "audio_chunk", "data": "!!"})
	if m := readUntil(t, ctx, c, "error"); !strings.HasPrefix(m.Message, "Audio inválido") {
		t.Errorf("error message=%q", m.Message)
	}
}

func TestVoiceStream_MapperFillsFreeText(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)

	llmProvider := llmmock.Answering(`{"mappings":[{"field_name":"` + observationsID + `","value":"astigmatismo","confidence":0.9}]}`)
	cfg := testConfig()
	cfg.Mapper.Enabled = true
	cfg.Mapper.CacheSize = -1
	srv := startServer(t, newTestApp(t, cfg, app.Providers{LLM: llmProvider}))
	c := dial(t, ctx, srv)
	configure(t, ctx, c, map[string]string{engine.DiagnosisID: "Glaucoma"})

	const text = "el diagnóstico es astigmatismo"
	send(t, ctx, c, map[string]any{"type": "transcript", "text": text, "is_final": true})
	m := readUntil(t, ctx, c, "partial_autofill")
	u, ok := findItem(m.Items, observationsID)
	if !ok {
		t.Fatalf("items=%+v, want %s", m.Items, observationsID)
	}
	if u.Confidence > form.ConfidenceMapper {
		t.Errorf("confidence=%v, want <= %v", u.Confidence, form.ConfidenceMapper)
	}
	if m.SourceText != text {
		t.Errorf("source_text=%q, want %q", m.SourceText, text)
	}
	if llmProvider.Calls() == 0 {
		t.Error("LLM never called")
	}
}

func TestVoiceStream_MapperFailureAfterResetIsSilent(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)

	release := make(chan struct{})
	llmProvider := &llmmock.Provider{
		ModelName: "mock",
		CompleteFunc: func(ctx context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
			select {
			case <-release:
			case <-ctx.Done():
			}
			return nil, errors.New("upstream unavailable")
		},
	}
	cfg := testConfig()
	cfg.Mapper.Enabled = true
	cfg.Mapper.CacheSize = -1
	srv := startServer(t, newTestApp(t, cfg, app.Providers{LLM: llmProvider}))
	c := dial(t, ctx, srv)
	configure(t, ctx, c, map[string]string{engine.DiagnosisID: "Glaucoma"})

	send(t, ctx, c, map[string]any{"type": "transcript", "text": "el diagnóstico es astigmatismo", "is_final": true})
	waitFor(t, "mapper call", func() bool { return llmProvider.Calls() > 0 })

	send(t, ctx, c, map[string]any{"type": "reset"})
	readUntil(t, ctx, c, "info")
	close(release)

	// end_stream waits for the pending mapper answer before validating.
	send(t, ctx, c, map[string]any{"type": "end_stream"})
	for {
		var m message
		if err := wsjson.Read(ctx, c, &m); err != nil {
			t.Fatalf("read: %v", err)
		}
		if m.Type == "error" {
			t.Fatalf("stale mapper failure reported: %q", m.Message)
		}
		if m.Type == "validation" {
			return
		}
	}
}

func TestVoiceStream_SessionLimit(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)

	cfg := testConfig()
	cfg.Server.MaxSessions = 1
	srv := startServer(t, newTestApp(t, cfg, app.Providers{}))
	dial(t, ctx, srv)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/voice-stream"
	_, resp, err := websocket.Dial(ctx, url, nil)
	if err == nil {
		t.Fatal("second session accepted")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("response=%v, want 503", resp)
	}
}

func TestHandler_HealthAndSessions(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)

	a := newTestApp(t, testConfig(), app.Providers{})
	srv := startServer(t, a)
	dial(t, ctx, srv)

	for _, path := range []string{"/healthz", "/readyz", "/sessions"} {
		resp, err := srv.Client().Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s status=%d, want 200", path, resp.StatusCode)
		}
	}
	if n := a.Sessions().Len(); n != 1 {
		t.Errorf("sessions=%d, want 1", n)
	}
}

func TestApp_ServeAndShutdown(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, testConfig(), app.Providers{})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, ln) }()

	dctx := testContext(t)
	url := "ws://" + ln.Addr().String() + "/ws/voice-stream"
	c, _, err := websocket.Dial(dctx, url, nil)
	if err != nil {
		cancel()
		t.Fatalf("Dial: %v", err)
	}
	defer c.CloseNow()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve returned %v, want nil", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}

	// The session is closed by the server with a going-away status.
	for {
		var m message
		err := wsjson.Read(dctx, c, &m)
		if err == nil {
			continue
		}
		if s := websocket.CloseStatus(err); s != websocket.StatusGoingAway {
			t.Errorf("close status=%v, want going away", s)
		}
		break
	}

	waitFor(t, "session teardown", func() bool { return a.Sessions().Len() == 0 })
	if err := a.Shutdown(dctx); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
	if err := a.Shutdown(dctx); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
}

func TestApp_ApplyConfigTogglesMapper(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	a := newTestApp(t, cfg, app.Providers{LLM: &llmmock.Provider{}})

	next := testConfig()
	next.Mapper.Enabled = true
	next.Mapper.CacheSize = -1
	next.Engine.MinPreviewChars = 8
	d := config.Diff(cfg, next)
	if !d.MapperChanged || !d.EngineChanged {
		t.Fatalf("diff=%+v, want engine and mapper changes", d)
	}
	if err := a.ApplyConfig(next, d); err != nil {
		t.Fatalf("ApplyConfig: %v", err)
	}

	next.Engine.CatalogFile = "/does/not/exist.yaml"
	if err := a.ApplyConfig(next, config.ConfigDiff{EngineChanged: true}); err == nil {
		t.Error("ApplyConfig with missing catalog file succeeded")
	}
}

func TestNew_BadPromptsFile(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Mapper.Enabled = true
	cfg.Mapper.CacheSize = -1
	cfg.Mapper.PromptsFile = "/does/not/exist.yaml"
	if _, err := app.New(cfg, app.Providers{LLM: &llmmock.Provider{}}); err == nil {
		t.Error("New with missing prompts file succeeded")
	}
	// Without an LLM the mapper, and its prompts, are never built.
	if _, err := app.New(cfg, app.Providers{}); err != nil {
		t.Errorf("New without LLM: %v", err)
	}
}
