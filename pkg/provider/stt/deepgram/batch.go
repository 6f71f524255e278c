package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrWong99/dictaform/pkg/provider/stt"
)

const (
	deepgramBatchEndpoint = "https://api.deepgram.com/v1/listen"

	// Recordings of a whole consultation take minutes to process.
	defaultBatchTimeout = 10 * time.Minute
)

// WithBatchEndpoint overrides the pre-recorded transcription URL.
func WithBatchEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.batchEndpoint = endpoint
	}
}

// WithHTTPClient sets the client used for pre-recorded transcription.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// batchResponse is the part of a pre-recorded response the provider reads.
type batchResponse struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string `json:"transcript"`
				Paragraphs struct {
					Paragraphs []struct {
						Sentences []struct {
							Text string `json:"text"`
						} `json:"sentences"`
					} `json:"paragraphs"`
				} `json:"paragraphs"`
			} `json:"alternatives"`
		} `json:"channels"`
		Utterances []struct {
			Transcript string `json:"transcript"`
		} `json:"utterances"`
	} `json:"results"`
}

// Transcribe sends a complete recording to the Deepgram pre-recorded API.
// It implements [stt.Transcriber].
func (p *Provider) Transcribe(ctx context.Context, audio []byte, cfg stt.BatchConfig) (stt.Recording, error) {
	if len(audio) == 0 {
		return stt.Recording{}, errors.New("deepgram: empty recording")
	}
	mime, ok := stt.NormalizeMimeType(cfg.MimeType, "")
	if !ok {
		return stt.Recording{}, fmt.Errorf("deepgram: %w: %q", stt.ErrUnsupportedMedia, cfg.MimeType)
	}

	u, err := p.buildBatchURL(cfg)
	if err != nil {
		return stt.Recording{}, fmt.Errorf("deepgram: build URL: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(audio))
	if err != nil {
		return stt.Recording{}, fmt.Errorf("deepgram: %w", err)
	}
	req.Header.Set("Authorization", "Token "+p.apiKey)
	req.Header.Set("Content-Type", mime)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return stt.Recording{}, fmt.Errorf("deepgram: transcribe: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return stt.Recording{}, fmt.Errorf("deepgram: transcribe: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var br batchResponse
	if err := json.NewDecoder(resp.Body).Decode(&br); err != nil {
		return stt.Recording{}, fmt.Errorf("deepgram: decode response: %w", err)
	}
	return br.recording()
}

func (p *Provider) buildBatchURL(cfg stt.BatchConfig) (string, error) {
	u, err := url.Parse(p.batchEndpoint)
	if err != nil {
		return "", err
	}
	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	q.Set("utterances", "true")
	q.Set("paragraphs", "true")
	for _, kw := range cfg.Keywords {
		q.Add("keywords", fmt.Sprintf("%s:%g", kw.Keyword, kw.Boost))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// recording extracts the transcript, preferring paragraph sentences, then
// utterances, then the plain alternative.
func (br batchResponse) recording() (stt.Recording, error) {
	chans := br.Results.Channels
	if len(chans) == 0 || len(chans[0].Alternatives) == 0 {
		return stt.Recording{}, errors.New("deepgram: response has no alternatives")
	}
	alt := chans[0].Alternatives[0]

	var segments []string
	for _, para := range alt.Paragraphs.Paragraphs {
		for _, s := range para.Sentences {
			segments = appendSegment(segments, s.Text)
		}
	}
	if len(segments) == 0 {
		for _, u := range br.Results.Utterances {
			segments = appendSegment(segments, u.Transcript)
		}
	}
	if len(segments) == 0 {
		segments = appendSegment(segments, alt.Transcript)
	}
	return stt.Recording{Text: strings.Join(segments, " "), Segments: segments}, nil
}

func appendSegment(segments []string, text string) []string {
	if text = strings.TrimSpace(text); text != "" {
		segments = append(segments, text)
	}
	return segments
}

var _ stt.Transcriber = (*Provider)(nil)
