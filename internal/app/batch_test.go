package app_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"testing"

	"github.com/MrWong99/dictaform/internal/app"
	"github.com/MrWong99/dictaform/internal/engine"
	"github.com/MrWong99/dictaform/pkg/provider/stt"
	sttmock "github.com/MrWong99/dictaform/pkg/provider/stt/mock"
)

type batchReply struct {
	Detail       string            `json:"detail"`
	Transcript   string            `json:"transcript"`
	FilledFields map[string]string `json:"filled_fields"`
	Stats        struct {
		MappedCount               int `json:"mapped_count"`
		SkippedAlreadyFilledCount int `json:"skipped_already_filled_count"`
		TotalFields               int `json:"total_fields"`
	} `json:"stats"`
}

// upload describes one multipart request to the batch endpoint.
type upload struct {
	filename      string
	contentType   string
	audio         []byte
	fields        string
	alreadyFilled string
}

func defaultUpload(t *testing.T) upload {
	t.Helper()
	fields, err := json.Marshal(testFields)
	if err != nil {
		t.Fatalf("marshal fields: %v", err)
	}
	return upload{
		filename:      "consulta.wav",
		contentType:   "application/octet-stream",
		audio:         []byte("RIFF"),
		fields:        string(fields),
		alreadyFilled: `{"` + observationsID + `":"Sin cambios"}`,
	}
}

func postRecording(t *testing.T, p app.Providers, u upload) (int, batchReply) {
	t.Helper()
	srv := startServer(t, newTestApp(t, testConfig(), p))

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	h := textproto.MIMEHeader{}
	h.Set("Content-Disposition", `form-data; name="audio_file"; filename="`+u.filename+`"`)
	h.Set("Content-Type", u.contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		t.Fatalf("CreatePart: %v", err)
	}
	part.Write(u.audio)
	mw.WriteField("fields", u.fields)
	if u.alreadyFilled != "" {
		mw.WriteField("already_filled", u.alreadyFilled)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("multipart close: %v", err)
	}

	req, err := http.NewRequestWithContext(t.Context(), http.MethodPost, srv.URL+"/api/biowel/audio/process", &body)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()

	var reply batchReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	return resp.StatusCode, reply
}

func TestBatch_FillsFormFromRecording(t *testing.T) {
	t.Parallel()

	recognizer := &sttmock.Provider{Recording: stt.Recording{
		Text:     "motivo de consulta ardor ocular enfermedad actual migraña",
		Segments: []string{"motivo de consulta ardor ocular", "enfermedad actual migraña"},
	}}
	status, reply := postRecording(t, app.Providers{STT: recognizer}, defaultUpload(t))
	if status != http.StatusOK {
		t.Fatalf("status=%d detail=%q", status, reply.Detail)
	}

	if reply.Transcript != recognizer.Recording.Text {
		t.Errorf("transcript=%q", reply.Transcript)
	}
	for id, want := range map[string]string{reasonID: "Ardor ocular", engine.CurrentDiseaseID: "Migraña"} {
		if got := reply.FilledFields[id]; got != want {
			t.Errorf("filled[%s]=%q, want %q", id, got, want)
		}
	}
	if _, ok := reply.FilledFields[observationsID]; ok {
		t.Errorf("already filled field returned: %+v", reply.FilledFields)
	}
	if reply.Stats.MappedCount != len(reply.FilledFields) || reply.Stats.SkippedAlreadyFilledCount != 1 || reply.Stats.TotalFields != len(testFields) {
		t.Errorf("stats=%+v", reply.Stats)
	}

	calls := recognizer.TranscribeCalls()
	if len(calls) != 1 {
		t.Fatalf("transcribe calls=%d, want 1", len(calls))
	}
	if calls[0].MimeType != "audio/wav" || calls[0].Language != "es" {
		t.Errorf("batch config=%+v, want audio/wav in es", calls[0])
	}
}

func TestBatch_SilentRecording(t *testing.T) {
	t.Parallel()

	status, reply := postRecording(t, app.Providers{STT: &sttmock.Provider{}}, defaultUpload(t))
	if status != http.StatusOK {
		t.Fatalf("status=%d detail=%q", status, reply.Detail)
	}
	if reply.Transcript != "" || len(reply.FilledFields) != 0 || reply.Stats.MappedCount != 0 {
		t.Errorf("reply=%+v, want empty result", reply)
	}
}

func TestBatch_Rejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		p      app.Providers
		edit   func(*upload)
		status int
	}{
		{
			name:   "no transcriber",
			edit:   func(*upload) {},
			status: http.StatusServiceUnavailable,
		},
		{
			name:   "fields not JSON",
			p:      app.Providers{STT: &sttmock.Provider{}},
			edit:   func(u *upload) { u.fields = "campos" },
			status: http.StatusBadRequest,
		},
		{
			name:   "no fields",
			p:      app.Providers{STT: &sttmock.Provider{}},
			edit:   func(u *upload) { u.fields = "[]" },
			status: http.StatusBadRequest,
		},
		{
			name:   "already filled not an object",
			p:      app.Providers{STT: &sttmock.Provider{}},
			edit:   func(u *upload) { u.alreadyFilled = `["x"]` },
			status: http.StatusBadRequest,
		},
		{
			name:   "empty audio",
			p:      app.Providers{STT: &sttmock.Provider{}},
			edit:   func(u *upload) { u.audio = nil },
			status: http.StatusBadRequest,
		},
		{
			name: "unsupported media",
			p:    app.Providers{STT: &sttmock.Provider{}},
			edit: func(u *upload) {
				u.filename = "notas.txt"
				u.contentType = "text/plain"
			},
			status: http.StatusBadRequest,
		},
		{
			name:   "provider failure",
			p:      app.Providers{STT: &sttmock.Provider{TranscribeErr: errors.New("status 401")}},
			edit:   func(*upload) {},
			status: http.StatusBadGateway,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			u := defaultUpload(t)
			tc.edit(&u)
			status, reply := postRecording(t, tc.p, u)
			if status != tc.status {
				t.Errorf("status=%d, want %d (detail %q)", status, tc.status, reply.Detail)
			}
			if reply.Detail == "" {
				t.Error("error reply without detail")
			}
		})
	}
}
