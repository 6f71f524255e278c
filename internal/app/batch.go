package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/MrWong99/dictaform/internal/catalog"
	"github.com/MrWong99/dictaform/internal/engine"
	"github.com/MrWong99/dictaform/internal/observe"
	"github.com/MrWong99/dictaform/pkg/form"
	"github.com/MrWong99/dictaform/pkg/provider/stt"
)

// maxRecordingBytes bounds uploads to the batch endpoint. Five minutes of
// WAV already exceed 50 MB.
const maxRecordingBytes = 200 << 20

// batchStats summarises one batch run.
type batchStats struct {
	MappedCount               int `json:"mapped_count"`
	SkippedAlreadyFilledCount int `json:"skipped_already_filled_count"`
	TotalFields               int `json:"total_fields"`
}

// batchResponse is the body of a successful POST /api/biowel/audio/process.
type batchResponse struct {
	Transcript   string            `json:"transcript"`
	FilledFields map[string]string `json:"filled_fields"`
	Stats        batchStats        `json:"stats"`
}

// batchError is an HTTP failure with a client-facing detail.
type batchError struct {
	status int
	detail string
}

func (e *batchError) Error() string { return e.detail }

func badRequest(format string, args ...any) *batchError {
	return &batchError{status: http.StatusBadRequest, detail: fmt.Sprintf(format, args...)}
}

// batchRequest is a parsed upload.
type batchRequest struct {
	audio         []byte
	mime          string
	fields        []form.FieldDescriptor
	alreadyFilled map[string]string
}

// serveBatch transcribes a complete recording and fills the form from it in
// one request. The transcript runs through the same cascade as live
// dictation, one final fragment per spoken segment.
func (a *App) serveBatch(w http.ResponseWriter, r *http.Request) {
	resp, err := a.processBatch(r)
	if err != nil {
		var be *batchError
		if !errors.As(err, &be) {
			be = &batchError{status: http.StatusInternalServerError, detail: err.Error()}
		}
		slog.Warn("app: batch request failed", "status", be.status, "err", be.detail)
		writeJSON(w, be.status, map[string]string{"detail": be.detail})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *App) processBatch(r *http.Request) (*batchResponse, error) {
	transcriber, ok := a.providers.STT.(stt.Transcriber)
	if !ok {
		return nil, &batchError{status: http.StatusServiceUnavailable, detail: "Transcripción de archivos no disponible"}
	}
	req, err := parseBatchRequest(r)
	if err != nil {
		return nil, err
	}
	slog.Info("app: batch recording received",
		"bytes", len(req.audio),
		"mime", req.mime,
		"fields", len(req.fields),
		"already_filled", len(req.alreadyFilled),
	)

	static := a.catalog.Load()
	opts := a.settings.Load()
	ctx := r.Context()

	var rec stt.Recording
	err = observe.Traced(ctx, "stt.transcribe", func(ctx context.Context) error {
		var err error
		rec, err = transcriber.Transcribe(ctx, req.audio, stt.BatchConfig{
			MimeType: req.mime,
			Language: "es",
			Keywords: sttKeywords(static, opts.keywordBoostLimit),
		})
		return err
	}, observe.Attr("mime", req.mime))
	switch {
	case errors.Is(err, stt.ErrBatchUnsupported):
		return nil, &batchError{status: http.StatusServiceUnavailable, detail: "Transcripción de archivos no disponible"}
	case errors.Is(err, stt.ErrUnsupportedMedia):
		return nil, badRequest("Formato de audio no soportado: %s", req.mime)
	case err != nil:
		a.metrics.RecordProviderError(ctx, "stt", "batch")
		a.metrics.RecordProviderRequest(ctx, "stt", "batch", "error")
		return nil, &batchError{status: http.StatusBadGateway, detail: err.Error()}
	}
	a.metrics.RecordProviderRequest(ctx, "stt", "batch", "ok")

	resp := &batchResponse{
		Transcript:   rec.Text,
		FilledFields: map[string]string{},
		Stats: batchStats{
			SkippedAlreadyFilledCount: len(req.alreadyFilled),
			TotalFields:               len(req.fields),
		},
	}
	if len(rec.Segments) > 0 {
		filled, err := fillFromRecording(rec, req, static, opts)
		if err != nil {
			return nil, err
		}
		resp.FilledFields = filled
	}
	resp.Stats.MappedCount = len(resp.FilledFields)

	slog.Info("app: batch processed",
		"transcript_chars", len(rec.Text),
		"filled", resp.Stats.MappedCount,
		"skipped", resp.Stats.SkippedAlreadyFilledCount,
	)
	return resp, nil
}

func parseBatchRequest(r *http.Request) (*batchRequest, error) {
	r.Body = http.MaxBytesReader(nil, r.Body, maxRecordingBytes+1<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, &batchError{status: http.StatusRequestEntityTooLarge, detail: "El archivo de audio supera los 200 MB"}
		}
		return nil, badRequest("Formulario multipart inválido: %v", err)
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("audio_file")
	if err != nil || header.Filename == "" {
		return nil, badRequest("No se proporcionó archivo de audio")
	}
	defer file.Close()

	reported := header.Header.Get("Content-Type")
	mime, ok := stt.NormalizeMimeType(reported, header.Filename)
	if !ok {
		return nil, badRequest("Formato de audio no soportado: %s (%s)", reported, header.Filename)
	}
	audio, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("app: read recording: %w", err)
	}
	if len(audio) == 0 {
		return nil, badRequest("El archivo de audio está vacío")
	}

	req := &batchRequest{audio: audio, mime: mime, alreadyFilled: map[string]string{}}
	if err := json.Unmarshal([]byte(r.FormValue("fields")), &req.fields); err != nil {
		return nil, badRequest("El campo 'fields' no es un array JSON válido: %v", err)
	}
	if len(req.fields) == 0 {
		return nil, badRequest("Estructura de formulario inválida: sin campos")
	}
	if raw := strings.TrimSpace(r.FormValue("already_filled")); raw != "" {
		if err := json.Unmarshal([]byte(raw), &req.alreadyFilled); err != nil {
			return nil, badRequest("El campo 'already_filled' no es un objeto JSON válido: %v", err)
		}
	}
	return req, nil
}

// fillFromRecording runs every segment of rec through a fresh engine and
// returns the values it set or changed.
func fillFromRecording(rec stt.Recording, req *batchRequest, static *catalog.Catalog, opts *settings) (map[string]string, error) {
	eng := engine.New(static, opts.engineOptions(slog.Default())...)
	if err := eng.Configure(req.fields, req.alreadyFilled); err != nil {
		return nil, badRequest("Estructura de formulario inválida: sin campos")
	}
	pipeline := correctionPipeline(opts, static, eng)

	for _, seg := range rec.Segments {
		text := seg
		if pipeline != nil {
			text = pipeline.Correct(stt.Transcript{Text: seg, IsFinal: true}).Corrected
		}
		if _, err := eng.Process(engine.Fragment{Text: text, Final: true}); err != nil {
			return nil, fmt.Errorf("app: batch segment: %w", err)
		}
	}
	eng.Finish()

	filled := map[string]string{}
	for id, v := range eng.Filled() {
		if v != req.alreadyFilled[id] {
			filled[id] = v
		}
	}
	return filled, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("app: encode response", "err", err)
	}
}
