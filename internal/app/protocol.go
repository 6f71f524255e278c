package app

import (
	"encoding/json"

	"github.com/MrWong99/dictaform/internal/validate"
	"github.com/MrWong99/dictaform/pkg/form"
)

// Inbound message types.
const (
	msgFormStructure       = "form_structure"
	msgBiowelFormStructure = "biowel_form_structure"
	msgAudioChunk          = "audio_chunk"
	msgTranscript          = "transcript"
	msgReset               = "reset"
	msgEndStream           = "end_stream"
)

// Outbound message types.
const (
	msgPartial     = "partial_transcription"
	msgFinal       = "final_segment"
	msgAutofill    = "partial_autofill"
	msgValidation  = "validation"
	msgInfo        = "info"
	msgError       = "error"
	msgSessionOpen = "session"
)

// inbound is the union of every client message. Fields not used by a type
// are left zero.
type inbound struct {
	Type string `json:"type"`

	// form_structure
	Fields        []form.FieldDescriptor `json:"fields,omitempty"`
	AlreadyFilled map[string]string      `json:"already_filled,omitempty"`

	// audio_chunk: base64 PCM16 mono at 16 kHz.
	Data string `json:"data,omitempty"`

	// transcript
	Text    string `json:"text,omitempty"`
	IsFinal bool   `json:"is_final,omitempty"`
}

// transcriptMsg echoes recognised text to the client.
type transcriptMsg struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	IsFinal bool   `json:"is_final"`
}

type autofillMsg struct {
	Type       string        `json:"type"`
	Items      []form.Update `json:"items"`
	SourceText string        `json:"source_text"`
}

type validationMsg struct {
	Type string `json:"type"`
	validate.Result
}

// noticeMsg carries info and error messages.
type noticeMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// sessionMsg is the first message of every connection.
type sessionMsg struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

func decodeInbound(data []byte) (inbound, error) {
	var m inbound
	err := json.Unmarshal(data, &m)
	return m, err
}

func transcriptMessage(text string, final bool) transcriptMsg {
	t := msgPartial
	if final {
		t = msgFinal
	}
	return transcriptMsg{Type: t, Text: text, IsFinal: final}
}
