package stt

import (
	"context"
	"errors"
	"strings"
)

// ErrBatchUnsupported is returned when no configured backend can transcribe
// complete recordings.
var ErrBatchUnsupported = errors.New("stt: provider cannot transcribe recordings")

// ErrUnsupportedMedia is returned by Transcribe for audio formats the backend
// cannot decode.
var ErrUnsupportedMedia = errors.New("stt: unsupported audio format")

// BatchConfig describes a complete recording handed to [Transcriber].
type BatchConfig struct {
	// MimeType is the container format of the recording (e.g. "audio/wav").
	MimeType string

	// Language is the language tag for recognition. Empty uses the provider
	// default.
	Language string

	// Keywords are vocabulary hints, as for streaming.
	Keywords []KeywordBoost
}

// Recording is the transcription of a complete recording.
type Recording struct {
	// Text is the full transcript.
	Text string

	// Segments splits Text into sentences or utterances in spoken order.
	// Feeding them one by one to a dictation engine reproduces the live
	// sequence of final results.
	Segments []string
}

// Transcriber is implemented by providers that can also transcribe a
// complete recording in a single request.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, cfg BatchConfig) (Recording, error)
}

// audioMimeTypes lists the container formats accepted for recordings, after
// normalisation by [NormalizeMimeType].
var audioMimeTypes = map[string]bool{
	"audio/wav": true, "audio/wave": true, "audio/x-wav": true,
	"audio/mpeg": true, "audio/mp3": true,
	"audio/mp4": true, "audio/m4a": true, "audio/x-m4a": true,
	"audio/flac": true, "audio/x-flac": true,
	"audio/ogg": true, "audio/webm": true,
}

// extensionMimeTypes maps file extensions to MIME types for uploads whose
// reported type is generic.
var extensionMimeTypes = map[string]string{
	"wav":  "audio/wav",
	"mp3":  "audio/mpeg",
	"m4a":  "audio/mp4",
	"flac": "audio/flac",
	"ogg":  "audio/ogg",
	"webm": "audio/webm",
}

// NormalizeMimeType cleans a reported content type. Parameters are dropped,
// generic or video types fall back to the file extension, and video
// containers map to their audio equivalents. ok is false when the result is
// not a supported audio format.
func NormalizeMimeType(contentType, filename string) (mime string, ok bool) {
	mime = strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	if mime == "" || mime == "application/octet-stream" || strings.HasPrefix(mime, "video/") {
		if i := strings.LastIndexByte(filename, '.'); i >= 0 {
			if m, found := extensionMimeTypes[strings.ToLower(filename[i+1:])]; found {
				mime = m
			}
		}
	}
	switch mime {
	case "video/mp4":
		mime = "audio/mp4"
	case "video/webm":
		mime = "audio/webm"
	}
	return mime, audioMimeTypes[mime]
}
