package app

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/dictaform/internal/catalog"
	"github.com/MrWong99/dictaform/internal/engine"
	"github.com/MrWong99/dictaform/internal/mapper"
	"github.com/MrWong99/dictaform/internal/observe"
	"github.com/MrWong99/dictaform/internal/transcript"
	"github.com/MrWong99/dictaform/pkg/form"
	"github.com/MrWong99/dictaform/pkg/provider/stt"
)

const (
	// writeTimeout bounds a single outbound message.
	writeTimeout = 5 * time.Second

	// readLimit covers base64 audio chunks of a few hundred milliseconds.
	readLimit = 4 << 20
)

// errIdle ends a session that stayed silent longer than the idle timeout.
var errIdle = errors.New("app: session idle timeout")

// frame is one message read from the client.
type frame struct {
	binary bool
	data   []byte
}

// mapResult is the outcome of one background mapper call.
type mapResult struct {
	gen     uint64
	text    string
	updates []form.Update
	err     error
	elapsed time.Duration
}

// session serves one WebSocket connection. A single goroutine, [session.run],
// owns the engine, the STT handle and every write to the connection; the
// reader and mapper goroutines only hand data to it through channels.
type session struct {
	id   string
	app  *App
	conn *websocket.Conn
	log  *slog.Logger

	eng      *engine.Session
	static   *catalog.Catalog
	pipeline transcript.Pipeline
	opts     *settings

	sttHandle  stt.SessionHandle
	sttResults <-chan stt.Transcript
	sttWarned  bool

	// gen is bumped whenever the dictation state is discarded so that late
	// mapper answers for the old state are dropped.
	gen     uint64
	pending int
	mapped  chan mapResult
	workers sync.WaitGroup

	readDone chan struct{}
}

func newSession(ctx context.Context, a *App, id string, conn *websocket.Conn) *session {
	s := &session{
		id:     id,
		app:    a,
		conn:   conn,
		log:    observe.Logger(ctx, "session_id", id),
		mapped: make(chan mapResult, 8),
	}
	s.reload()
	return s
}

// reload picks up the current catalog and engine settings. The engine keeps
// no state worth preserving until a form is configured.
func (s *session) reload() {
	s.static = s.app.catalog.Load()
	s.opts = s.app.settings.Load()
	s.eng = engine.New(s.static, s.opts.engineOptions(s.log)...)
}

// run drives the session until the client disconnects, the idle timeout
// fires or ctx is cancelled. The caller must close the connection afterwards
// and then call wait.
func (s *session) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	frames := make(chan frame)
	readErr := make(chan error, 1)
	s.readDone = make(chan struct{})
	// Reads are only unblocked by closing the connection, so that the
	// close handshake can still run after ctx ends.
	go func() {
		defer close(s.readDone)
		readErr <- s.readLoop(context.WithoutCancel(ctx), ctx.Done(), frames)
	}()

	defer func() {
		cancel()
		s.workers.Wait()
		s.closeSTT()
	}()

	if err := s.write(ctx, sessionMsg{Type: msgSessionOpen, SessionID: s.id}); err != nil {
		return err
	}

	var idle <-chan time.Time
	var timer *time.Timer
	if d := s.opts.idleTimeout; d > 0 {
		timer = time.NewTimer(d)
		defer timer.Stop()
		idle = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-readErr:
			return err

		case <-idle:
			return errIdle

		case f := <-frames:
			if timer != nil {
				timer.Reset(s.opts.idleTimeout)
			}
			if err := s.handleFrame(ctx, f); err != nil {
				return err
			}

		case t, ok := <-s.sttResults:
			if !ok {
				s.log.Info("app: stt stream ended")
				s.sttResults = nil
				continue
			}
			if err := s.handleTranscript(ctx, t); err != nil {
				return err
			}

		case r := <-s.mapped:
			if err := s.handleMapped(ctx, r); err != nil {
				return err
			}
		}
	}
}

// wait blocks until the reader goroutine has exited.
func (s *session) wait() {
	if s.readDone != nil {
		<-s.readDone
	}
}

// readLoop forwards client messages until the connection fails. A normal
// close from the client ends it with a nil error.
func (s *session) readLoop(ctx context.Context, stop <-chan struct{}, out chan<- frame) error {
	for {
		typ, data, err := s.conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return nil
			}
			return fmt.Errorf("app: read: %w", err)
		}
		select {
		case out <- frame{binary: typ == websocket.MessageBinary, data: data}:
		case <-stop:
			return nil
		}
	}
}

func (s *session) handleFrame(ctx context.Context, f frame) error {
	if f.binary {
		return s.sendAudio(ctx, f.data)
	}
	m, err := decodeInbound(f.data)
	if err != nil {
		s.log.Debug("app: malformed message", "err", err)
		return s.notice(ctx, msgError, "Mensaje inválido: JSON mal formado")
	}

	switch m.Type {
	case "":
		return nil
	case msgFormStructure, msgBiowelFormStructure:
		return s.configure(ctx, m)
	case msgAudioChunk:
		pcm, err := base64.StdEncoding.DecodeString(m.Data)
		if err != nil {
			return s.notice(ctx, msgError, "Audio inválido: base64 mal formado")
		}
		return s.sendAudio(ctx, pcm)
	case msgTranscript:
		if !s.eng.Configured() {
			return s.notice(ctx, msgError, "Formulario no configurado")
		}
		return s.handleTranscript(ctx, stt.Transcript{Text: m.Text, IsFinal: m.IsFinal})
	case msgReset:
		s.discard()
		return s.notice(ctx, msgInfo, "Sesión reiniciada")
	case msgEndStream:
		return s.endStream(ctx)
	default:
		return s.notice(ctx, msgError, "Tipo de mensaje desconocido: "+m.Type)
	}
}

func (s *session) configure(ctx context.Context, m inbound) error {
	s.reload()
	s.gen++
	if err := s.eng.Configure(m.Fields, m.AlreadyFilled); err != nil {
		s.log.Warn("app: configure failed", "err", err)
		return s.notice(ctx, msgError, "Estructura de formulario inválida: sin campos")
	}
	s.app.sessions.SetFields(s.id, len(m.Fields))

	s.pipeline = correctionPipeline(s.opts, s.static, s.eng)

	s.log.Info("app: form configured",
		"fields", len(m.Fields),
		"already_filled", len(m.AlreadyFilled),
		"dynamic_phrases", s.eng.Layer().Len(),
	)

	msg := fmt.Sprintf("Modo Biowel activo (%d campos)", len(m.Fields))
	if s.app.providers.STT != nil {
		if err := s.startSTT(ctx); err != nil {
			s.log.Error("app: failed to start stt", "err", err)
			return s.notice(ctx, msgError, "No se pudo conectar con el reconocimiento de voz")
		}
		msg += ", streaming listo"
	}
	return s.notice(ctx, msgInfo, msg)
}

func (s *session) startSTT(ctx context.Context) error {
	if s.sttHandle != nil {
		return nil
	}
	h, err := s.app.providers.STT.StartStream(ctx, stt.StreamConfig{
		SampleRate: 16000,
		Channels:   1,
		Encoding:   "linear16",
		Language:   "es",
		Keywords:   sttKeywords(s.static, s.opts.keywordBoostLimit),
	})
	if err != nil {
		s.app.metrics.RecordProviderError(ctx, "stt", "stream")
		return err
	}
	s.app.metrics.RecordProviderRequest(ctx, "stt", "stream", "ok")
	s.sttHandle = h
	s.sttResults = h.Results()
	return nil
}

// sttKeywords turns the catalog's recognition boosts into STT hints.
func sttKeywords(c *catalog.Catalog, limit int) []stt.KeywordBoost {
	boosts := c.Boosts(limit)
	keywords := make([]stt.KeywordBoost, len(boosts))
	for i, b := range boosts {
		keywords[i] = stt.KeywordBoost{Keyword: b.Term, Boost: float64(b.Weight)}
	}
	return keywords
}

// correctionPipeline returns the vocabulary corrector for a configured
// engine, or nil when phonetic correction is off.
func correctionPipeline(opts *settings, c *catalog.Catalog, eng *engine.Session) transcript.Pipeline {
	if !opts.phonetic {
		return nil
	}
	vocab := c.Vocabulary()
	for _, p := range eng.Layer().Fields() {
		vocab = append(vocab, p.Text)
	}
	return transcript.NewPipeline(vocab)
}

func (s *session) closeSTT() {
	if s.sttHandle == nil {
		return
	}
	if err := s.sttHandle.Close(); err != nil {
		s.log.Warn("app: stt close error", "err", err)
	}
	s.sttHandle = nil
	s.sttResults = nil
}

// sendAudio forwards PCM to the recogniser, reopening the stream once when
// the provider closed it.
func (s *session) sendAudio(ctx context.Context, pcm []byte) error {
	if s.app.providers.STT == nil {
		if s.sttWarned {
			return nil
		}
		s.sttWarned = true
		return s.notice(ctx, msgError, "Reconocimiento de voz no configurado")
	}
	if s.sttHandle == nil {
		if err := s.startSTT(ctx); err != nil {
			s.log.Error("app: failed to start stt", "err", err)
			return s.notice(ctx, msgError, "No se pudo conectar con el reconocimiento de voz")
		}
	}
	err := s.sttHandle.SendAudio(pcm)
	if errors.Is(err, stt.ErrClosed) {
		s.closeSTT()
		if err := s.startSTT(ctx); err != nil {
			s.log.Error("app: stt reconnect failed", "err", err)
			return s.notice(ctx, msgError, "No se pudo reconectar con el reconocimiento de voz")
		}
		s.log.Info("app: stt reconnected")
		if err := s.notice(ctx, msgInfo, "Reconectado a Deepgram"); err != nil {
			return err
		}
		err = s.sttHandle.SendAudio(pcm)
	}
	if err != nil {
		s.app.metrics.RecordProviderError(ctx, "stt", "send")
		s.log.Warn("app: stt send error", "err", err)
	}
	return nil
}

// handleTranscript echoes t to the client and feeds it to the engine.
func (s *session) handleTranscript(ctx context.Context, t stt.Transcript) error {
	text := t.Text
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if t.IsFinal && s.pipeline != nil {
		ct := s.pipeline.Correct(t)
		for _, c := range ct.Corrections {
			s.log.Debug("app: transcript corrected", "from", c.Original, "to", c.Corrected, "confidence", c.Confidence)
		}
		text = ct.Corrected
	}
	if err := s.write(ctx, transcriptMessage(text, t.IsFinal)); err != nil {
		return err
	}
	if !s.eng.Configured() {
		return nil
	}

	var res engine.Result
	start := time.Now()
	err := observe.Traced(ctx, "engine.process", func(context.Context) error {
		var err error
		res, err = s.eng.Process(engine.Fragment{Text: text, Final: t.IsFinal})
		return err
	}, observe.Attr("session_id", s.id))
	s.app.metrics.RecordFragment(ctx, t.IsFinal, time.Since(start))
	if err != nil {
		return s.notice(ctx, msgError, "Formulario no configurado")
	}

	if err := s.sendUpdates(ctx, res.Updates, text); err != nil {
		return err
	}
	if res.Unmatched {
		s.startMapping(ctx, text)
	}
	return nil
}

// startMapping hands unconsumed final text to the free-text mapper in the
// background. The request captures a snapshot of the form so the goroutine
// never touches the engine.
func (s *session) startMapping(ctx context.Context, text string) {
	m := s.app.mapper.Load()
	if m == nil {
		return
	}
	static, schema := s.static, s.eng.Schema()
	req := mapper.Request{
		Text:   text,
		Schema: schema,
		Filled: s.eng.Filled(),
		TypeOf: func(id string) form.FieldType { return static.FieldType(id, schema) },
	}
	gen := s.gen
	s.pending++
	s.workers.Go(func() {
		var ups []form.Update
		start := time.Now()
		err := observe.Traced(ctx, "mapper.map", func(ctx context.Context) error {
			var err error
			ups, err = m.Map(ctx, req)
			return err
		}, observe.Attr("session_id", s.id))
		select {
		case s.mapped <- mapResult{gen: gen, text: text, updates: ups, err: err, elapsed: time.Since(start)}:
		case <-ctx.Done():
		}
	})
}

func (s *session) handleMapped(ctx context.Context, r mapResult) error {
	s.pending--
	s.app.metrics.MapperDuration.Record(ctx, r.elapsed.Seconds())
	status := "ok"
	if r.err != nil {
		status = "error"
		s.app.metrics.RecordProviderError(ctx, "llm", "mapper")
	}
	s.app.metrics.RecordProviderRequest(ctx, "llm", "mapper", status)

	if r.gen != s.gen {
		s.log.Debug("app: dropping stale mapper result", "text", r.text, "err", r.err)
		return nil
	}
	if r.err != nil {
		s.log.Warn("app: mapper failed", "err", r.err)
		return s.notice(ctx, msgError, "No se pudo interpretar el texto libre")
	}
	return s.sendUpdates(ctx, s.eng.Apply(r.updates), r.text)
}

// endStream flushes the recogniser and the engine, validates the form and
// resets the dictation state. Pending mapper answers are awaited so they are
// part of the validated form.
func (s *session) endStream(ctx context.Context) error {
	if !s.eng.Configured() {
		return s.notice(ctx, msgError, "No hay sesión de streaming activa")
	}

	if h := s.sttHandle; h != nil {
		results := s.sttResults
		s.sttHandle, s.sttResults = nil, nil
		if err := h.Close(); err != nil {
			s.log.Warn("app: stt close error", "err", err)
		}
		for t := range results {
			if err := s.handleTranscript(ctx, t); err != nil {
				return err
			}
		}
	}

	for s.pending > 0 {
		select {
		case r := <-s.mapped:
			if err := s.handleMapped(ctx, r); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := s.sendUpdates(ctx, s.eng.Finish(), ""); err != nil {
		return err
	}

	res := s.app.validator.Validate(s.eng.Schema(), s.eng.Filled())
	s.app.metrics.RecordValidation(ctx, res.Valid)
	s.log.Info("app: dictation finished",
		"valid", res.Valid,
		"filled", len(res.FilledFields),
		"missing", len(res.MissingFields),
	)
	if err := s.write(ctx, validationMsg{Type: msgValidation, Result: res}); err != nil {
		return err
	}
	s.discard()
	return nil
}

// discard clears the dictation state but keeps the form.
func (s *session) discard() {
	s.eng.Reset()
	s.gen++
}

func (s *session) sendUpdates(ctx context.Context, ups []form.Update, source string) error {
	if len(ups) == 0 {
		return nil
	}
	for _, u := range ups {
		s.app.metrics.RecordUpdate(ctx, u.Confidence)
	}
	return s.write(ctx, autofillMsg{Type: msgAutofill, Items: ups, SourceText: source})
}

func (s *session) notice(ctx context.Context, typ, message string) error {
	return s.write(ctx, noticeMsg{Type: typ, Message: message})
}

func (s *session) write(ctx context.Context, v any) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, s.conn, v); err != nil {
		return fmt.Errorf("app: write: %w", err)
	}
	return nil
}
