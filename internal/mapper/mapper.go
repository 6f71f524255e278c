// Package mapper maps free dictated text that no trigger phrase consumed onto
// form fields with the help of an LLM.
//
// Text is first screened with [relevance.IsClinicallyRelevant]. When
// [relevance.ClassifySection] recognises a form section that has a dedicated
// prompt, a short section prompt listing only that section's fields is tried
// first; otherwise, or when it yields nothing, the generic prompt listing
// every unfilled field of the form is used. Answers naming unknown or
// already-filled fields are dropped.
//
// LLM calls are bounded by a timeout, guarded by a circuit breaker and
// memoised in an expirable LRU cache.
package mapper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/MrWong99/dictaform/internal/catalog"
	"github.com/MrWong99/dictaform/internal/normalize"
	"github.com/MrWong99/dictaform/internal/relevance"
	"github.com/MrWong99/dictaform/internal/resilience"
	"github.com/MrWong99/dictaform/pkg/form"
	"github.com/MrWong99/dictaform/pkg/provider/llm"
)

// ErrNoAnswer is returned when the LLM answer contains no JSON object.
var ErrNoAnswer = errors.New("mapper: answer contains no JSON object")

// Defaults.
const (
	DefaultTimeout     = 4 * time.Second
	DefaultCacheSize   = 256
	DefaultCacheTTL    = 10 * time.Minute
	DefaultTemperature = 0.1
)

// excludedKeyParts mark controls the mapper must never fill.
var excludedKeyParts = []string{"button", "btn", "link", "load-previous"}

var fenceRe = regexp.MustCompile("```(?:json)?\\s*([\\s\\S]*?)```")

// Request is one mapping job.
type Request struct {
	// Text is the unconsumed final transcript segment.
	Text string

	// Schema is the form on screen.
	Schema *form.Schema

	// Filled holds the keys that already carry a value.
	Filled map[string]string

	// TypeOf resolves the effective type of a field for value
	// normalisation. Nil falls back to the schema's reported type.
	TypeOf func(id string) form.FieldType
}

// Option configures a [Mapper].
type Option func(*Mapper)

// WithTimeout bounds each LLM call. Default: [DefaultTimeout].
func WithTimeout(d time.Duration) Option {
	return func(m *Mapper) {
		m.timeout = d
	}
}

// WithCache sets the answer cache size and entry lifetime. A size of zero
// disables caching.
func WithCache(size int, ttl time.Duration) Option {
	return func(m *Mapper) {
		m.cacheSize = size
		m.cacheTTL = ttl
	}
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(m *Mapper) {
		m.breaker = cb
	}
}

// WithPrompts replaces [DefaultPrompts].
func WithPrompts(p *Prompts) Option {
	return func(m *Mapper) {
		m.prompts = p
	}
}

// WithNormalizer sets the value normalizer. Default: [normalize.New].
func WithNormalizer(n *normalize.Normalizer) Option {
	return func(m *Mapper) {
		m.norm = n
	}
}

// WithLogger sets the logger. Default: [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(m *Mapper) {
		m.log = l
	}
}

// Mapper is safe for concurrent use by many sessions.
type Mapper struct {
	llm       llm.Provider
	prompts   *Prompts
	norm      *normalize.Normalizer
	breaker   *resilience.CircuitBreaker
	log       *slog.Logger
	timeout   time.Duration
	cacheSize int
	cacheTTL  time.Duration

	cache *expirable.LRU[string, []mapping]
}

// New returns a Mapper backed by p.
func New(p llm.Provider, opts ...Option) *Mapper {
	m := &Mapper{
		llm:       p,
		timeout:   DefaultTimeout,
		cacheSize: DefaultCacheSize,
		cacheTTL:  DefaultCacheTTL,
	}
	for _, o := range opts {
		o(m)
	}
	if m.log == nil {
		m.log = slog.Default()
	}
	if m.prompts == nil {
		m.prompts = DefaultPrompts()
	}
	if m.norm == nil {
		m.norm = normalize.New()
	}
	if m.breaker == nil {
		m.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:   "mapper",
			Logger: m.log,
		})
	}
	if m.cacheSize > 0 {
		m.cache = expirable.NewLRU[string, []mapping](m.cacheSize, nil, m.cacheTTL)
	}
	return m
}

// Healthy reports whether the breaker currently lets LLM calls through.
func (m *Mapper) Healthy() bool {
	return m.breaker.State() != resilience.StateOpen
}

// BreakerState returns the state of the mapper's circuit breaker.
func (m *Mapper) BreakerState() resilience.State {
	return m.breaker.State()
}

// Map returns the field updates the LLM extracted from req.Text. Irrelevant
// text and forms without unfilled fields yield no updates and no error.
func (m *Mapper) Map(ctx context.Context, req Request) ([]form.Update, error) {
	text := strings.TrimSpace(req.Text)
	if !relevance.IsClinicallyRelevant(text) {
		m.log.Debug("mapper: skipping non-clinical text", "text", text)
		return nil, nil
	}

	if name, ok := relevance.ClassifySection(text); ok {
		if sp, ok := m.prompts.Sections[name]; ok {
			ups, err := m.mapSection(ctx, name, &sp, text, req)
			if err != nil {
				return nil, err
			}
			if len(ups) > 0 {
				return ups, nil
			}
			m.log.Debug("mapper: section prompt found nothing, trying generic", "section", name)
		}
	}
	return m.mapGeneric(ctx, text, req)
}

func (m *Mapper) mapSection(ctx context.Context, name string, sp *Prompt, text string, req Request) ([]form.Update, error) {
	var lines []string
	for _, f := range sp.Fields {
		if _, done := req.Filled[f.Key]; done {
			continue
		}
		lines = append(lines, fmt.Sprintf("- %s (%s) [%s]", f.Key, f.Label, f.Type))
	}
	if len(lines) == 0 {
		m.log.Debug("mapper: every field of section already filled", "section", name)
		return nil, nil
	}

	raw, err := m.complete(ctx, "section:"+name, sp, promptData{Segment: text, Fields: lines}, req.Schema)
	if err != nil {
		return nil, err
	}
	var out []form.Update
	for _, mp := range raw {
		ft, ok := sp.fieldType(mp.FieldName)
		if !ok {
			m.log.Warn("mapper: field outside section ignored", "section", name, "field", mp.FieldName)
			continue
		}
		if u, ok := m.accept(mp, ft, text, req); ok {
			out = append(out, u)
		}
	}
	m.log.Info("mapper: section mapped", "section", name, "updates", len(out))
	return out, nil
}

func (m *Mapper) mapGeneric(ctx context.Context, text string, req Request) ([]form.Update, error) {
	var lines []string
	for _, d := range req.Schema.Fields() {
		key := d.Key()
		if _, done := req.Filled[key]; done || excluded(key) {
			continue
		}
		lines = append(lines, describeField(d))
	}
	if len(lines) == 0 {
		return nil, nil
	}

	raw, err := m.complete(ctx, "generic", &m.prompts.Generic, promptData{Segment: text, Fields: lines}, req.Schema)
	if err != nil {
		return nil, err
	}
	var out []form.Update
	for _, mp := range raw {
		d, ok := req.Schema.Lookup(mp.FieldName)
		if !ok {
			m.log.Warn("mapper: unknown field ignored", "field", mp.FieldName)
			continue
		}
		ft := d.Type
		if req.TypeOf != nil {
			ft = req.TypeOf(d.Key())
		}
		mp.FieldName = d.Key()
		if u, ok := m.accept(mp, ft, text, req); ok {
			out = append(out, u)
		}
	}
	m.log.Info("mapper: text mapped", "updates", len(out))
	return out, nil
}

// accept filters and normalises one mapping.
func (m *Mapper) accept(mp mapping, ft form.FieldType, text string, req Request) (form.Update, bool) {
	if excluded(mp.FieldName) {
		return form.Update{}, false
	}
	if _, done := req.Filled[mp.FieldName]; done {
		return form.Update{}, false
	}
	value := m.norm.Normalize(strings.TrimSpace(mp.Value), ft)
	if value == "" {
		return form.Update{}, false
	}
	conf := mp.Confidence
	if conf <= 0 || conf > form.ConfidenceMapper {
		conf = form.ConfidenceMapper
	}
	return form.Update{FieldID: mp.FieldName, Value: value, Confidence: conf, SourceText: text}, true
}

// complete asks the LLM, going through cache and breaker.
func (m *Mapper) complete(ctx context.Context, prompt string, p *Prompt, data promptData, schema *form.Schema) ([]mapping, error) {
	key := cacheKey(prompt, data, schema)
	if m.cache != nil {
		if hit, ok := m.cache.Get(key); ok {
			m.log.Debug("mapper: cache hit", "prompt", prompt)
			return hit, nil
		}
	}

	user, err := p.render(data)
	if err != nil {
		return nil, err
	}
	var resp *llm.CompletionResponse
	err = m.breaker.Execute(func() error {
		cctx, cancel := context.WithTimeout(ctx, m.timeout)
		defer cancel()
		var cerr error
		resp, cerr = m.llm.Complete(cctx, llm.CompletionRequest{
			SystemPrompt: p.System,
			Messages:     []llm.Message{{Role: llm.RoleUser, Content: user}},
			Temperature:  DefaultTemperature,
			MaxTokens:    p.MaxTokens,
			JSON:         true,
		})
		if cerr == nil && resp == nil {
			cerr = errors.New("nil response")
		}
		return cerr
	})
	if err != nil {
		return nil, fmt.Errorf("mapper: %s prompt: %w", prompt, err)
	}

	mappings, err := parseAnswer(resp.Content)
	if err != nil {
		m.log.Warn("mapper: unusable answer", "prompt", prompt, "err", err)
		return nil, err
	}
	if m.cache != nil {
		m.cache.Add(key, mappings)
	}
	return mappings, nil
}

// mapping is one entry of the LLM answer.
type mapping struct {
	FieldName  string
	Value      string
	Confidence float64
}

type answerJSON struct {
	Mappings []struct {
		FieldName  string  `json:"field_name"`
		Value      any     `json:"value"`
		Confidence float64 `json:"confidence"`
	} `json:"mappings"`
}

// parseAnswer extracts the mapping list from an LLM answer. A null or empty
// list is a valid answer with no mappings.
func parseAnswer(content string) ([]mapping, error) {
	raw := extractJSON(content)
	if raw == "" {
		return nil, ErrNoAnswer
	}
	var a answerJSON
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		return nil, fmt.Errorf("mapper: decode answer: %w", err)
	}
	out := make([]mapping, 0, len(a.Mappings))
	for _, e := range a.Mappings {
		v, ok := stringify(e.Value)
		if !ok || e.FieldName == "" {
			continue
		}
		out = append(out, mapping{FieldName: e.FieldName, Value: v, Confidence: e.Confidence})
	}
	return out, nil
}

// extractJSON returns the JSON object inside content, unwrapping Markdown
// code fences.
func extractJSON(content string) string {
	if m := fenceRe.FindStringSubmatch(content); m != nil {
		content = m[1]
	}
	start := strings.IndexByte(content, '{')
	end := strings.LastIndexByte(content, '}')
	if start < 0 || end < start {
		return ""
	}
	return content[start : end+1]
}

func stringify(v any) (string, bool) {
	switch v := v.(type) {
	case string:
		return v, strings.TrimSpace(v) != ""
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(v), true
	}
	return "", false
}

func excluded(key string) bool {
	k := strings.ToLower(key)
	for _, p := range excludedKeyParts {
		if strings.Contains(k, p) {
			return true
		}
	}
	return false
}

// cacheKey identifies a prompt by its name, the folded segment, the listed
// fields and the form.
func cacheKey(prompt string, data promptData, schema *form.Schema) string {
	h := fnv.New64a()
	for _, f := range schema.Fields() {
		h.Write([]byte(f.Key()))
		h.Write([]byte{0})
	}
	for _, l := range data.Fields {
		h.Write([]byte(l))
		h.Write([]byte{0})
	}
	return prompt + "\x00" + catalog.Fold(catalog.Canonical(data.Segment)) + "\x00" + strconv.FormatUint(h.Sum64(), 16)
}
