package stt

import "testing"

func TestNormalizeMimeType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		contentType string
		filename    string
		want        string
		ok          bool
	}{
		{"audio/wav", "consulta.wav", "audio/wav", true},
		{"Audio/WAV; rate=16000", "", "audio/wav", true},
		{"application/octet-stream", "dictado.M4A", "audio/mp4", true},
		{"video/mp4", "nota.m4a", "audio/mp4", true},
		{"video/webm", "", "audio/webm", true},
		{"", "grabacion.flac", "audio/flac", true},
		{"application/octet-stream", "notas.txt", "application/octet-stream", false},
		{"text/plain", "dictado.wav", "text/plain", false},
	}
	for _, tc := range tests {
		got, ok := NormalizeMimeType(tc.contentType, tc.filename)
		if got != tc.want || ok != tc.ok {
			t.Errorf("NormalizeMimeType(%q, %q) = %q, %v; want %q, %v", tc.contentType, tc.filename, got, ok, tc.want, tc.ok)
		}
	}
}
