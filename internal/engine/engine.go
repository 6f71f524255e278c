// Package engine turns a stream of transcript fragments into form field
// updates for one dictation session.
//
// A [Session] owns all per-connection state: the active field tracker, the
// map of already-filled fields, the dynamic catalog layer built from the form
// on screen and a short rolling buffer used to catch trigger phrases split
// across two final fragments. Fragments must be delivered one at a time in
// arrival order; a Session performs no locking and no I/O.
//
// Final fragments run the full priority cascade:
//
//  1. uncheck command
//  2. stop command
//  3. clear command
//  4. anchored evolution-time pattern (does not stop the cascade)
//  5. "normal" said of one eye or structure, only while no field is active
//  6. immediate-activation field (checkbox, select, radio, button)
//  7. direct lead-in pattern, only while no field is active
//  8. activation of a dictation field, unless the active field is locked
//  9. accumulation into the active field, with auto-finalize words
//  10. clinical findings for the current eye and section, only while idle
//  11. otherwise the fragment is reported as unmatched
//
// Every final fragment also updates the eye and anatomical section being
// examined ("ojo derecho", "córnea"). Steps 5 and 10 address the form fields
// whose descriptors carry that eye and section.
//
// Partial fragments run a restricted, side-effect free subset and produce
// provisional updates at [form.ConfidencePreview].
package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"

	"github.com/MrWong99/dictaform/internal/catalog"
	"github.com/MrWong99/dictaform/internal/matcher"
	"github.com/MrWong99/dictaform/internal/normalize"
	"github.com/MrWong99/dictaform/internal/tracker"
	"github.com/MrWong99/dictaform/pkg/form"
)

// ErrNotInitialized is returned by [Session.Process] before [Session.Configure]
// supplied a form schema.
var ErrNotInitialized = errors.New("engine: session has no form schema")

// ErrEmptySchema is returned by [Session.Configure] when no usable field
// descriptor was supplied.
var ErrEmptySchema = errors.New("engine: form schema has no fields")

// DefaultFinalizeWords close the active field when dictated at the end of an
// utterance.
var DefaultFinalizeWords = []string{"listo", "terminado", "eso es todo", "fin del campo"}

// Fragment is one transcript hypothesis.
type Fragment struct {
	Text  string
	Final bool
}

// Result is the outcome of processing one fragment.
type Result struct {
	Updates []form.Update

	// Unmatched is true for final fragments that no step of the cascade
	// consumed while no field was active. Such text may be handed to an
	// external free-text mapper.
	Unmatched bool
}

// Option configures a [Session].
type Option func(*Session)

// WithNormalizer sets the value normalizer. Default: [normalize.New].
func WithNormalizer(n *normalize.Normalizer) Option {
	return func(s *Session) {
		s.norm = n
	}
}

// WithMinPreviewChars sets the minimum accumulated length that produces an
// update. Default: [tracker.DefaultMinPreviewChars].
func WithMinPreviewChars(n int) Option {
	return func(s *Session) {
		s.minPreview = n
	}
}

// WithFinalizeWords replaces [DefaultFinalizeWords].
func WithFinalizeWords(words []string) Option {
	return func(s *Session) {
		s.finalizeWords = nil
		for _, w := range words {
			if w = catalog.Canonical(w); w != "" {
				s.finalizeWords = append(s.finalizeWords, w)
			}
		}
	}
}

// WithManualMappings adds explicit phrase to field mappings to every dynamic
// layer the session builds.
func WithManualMappings(m map[string]string) Option {
	return func(s *Session) {
		s.manual = maps.Clone(m)
	}
}

// WithLogger sets the logger. Default: [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		s.log = l
	}
}

// Session is the dictation state of one connection.
type Session struct {
	static        *catalog.Catalog
	norm          *normalize.Normalizer
	log           *slog.Logger
	finalizeWords []string
	manual        map[string]string
	minPreview    int

	schema  *form.Schema
	layer   *catalog.Layer
	matcher *matcher.Matcher
	tracker *tracker.Tracker
	filled  map[string]string

	// keywordBuf holds the last words of the previous final fragment.
	keywordBuf string

	// eye and section are the examination context of the last final
	// fragments that named one.
	eye     form.EyeSide
	section string
}

// New returns an unconfigured session over the shared static catalog.
func New(static *catalog.Catalog, opts ...Option) *Session {
	s := &Session{
		static:        static,
		finalizeWords: DefaultFinalizeWords,
		minPreview:    tracker.DefaultMinPreviewChars,
		filled:        make(map[string]string),
	}
	for _, o := range opts {
		o(s)
	}
	if s.norm == nil {
		s.norm = normalize.New()
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	s.tracker = tracker.New(tracker.WithMinPreviewChars(s.minPreview))
	return s
}

// Configure installs the form schema, builds the dynamic phrase layer from
// its labels and seeds the already-filled map. Calling Configure again
// replaces the schema and resets all dictation state.
func (s *Session) Configure(fields []form.FieldDescriptor, alreadyFilled map[string]string) error {
	schema := form.NewSchema(fields)
	if schema.Len() == 0 {
		return ErrEmptySchema
	}
	s.Reset()
	s.schema = schema
	s.layer = catalog.NewBuilder(s.static).
		AddFields(schema.Fields()).
		AddManual(s.manual).
		Build()
	s.matcher = matcher.New(s.static, s.layer)
	for id, v := range alreadyFilled {
		if strings.TrimSpace(v) != "" {
			s.filled[id] = v
		}
	}
	s.log.Debug("engine: session configured",
		"fields", schema.Len(),
		"dynamic_phrases", s.layer.Len(),
		"already_filled", len(s.filled),
	)
	return nil
}

// Configured reports whether a schema has been installed.
func (s *Session) Configured() bool { return s.schema != nil }

// Schema returns the installed schema, or nil.
func (s *Session) Schema() *form.Schema { return s.schema }

// Layer returns the dynamic phrase layer built from the schema, or nil.
func (s *Session) Layer() *catalog.Layer { return s.layer }

// Active returns the ID of the field currently receiving dictation, or "".
func (s *Session) Active() string { return s.tracker.Active() }

// Filled returns a copy of the already-filled map.
func (s *Session) Filled() map[string]string { return maps.Clone(s.filled) }

// IsFilled reports whether id holds a value.
func (s *Session) IsFilled(id string) bool {
	_, ok := s.filled[id]
	return ok
}

// FieldType returns the effective type of id for the installed schema.
func (s *Session) FieldType(id string) form.FieldType {
	return s.static.FieldType(id, s.schema)
}

// Process runs one fragment through the cascade. Unmatched fragments yield an
// empty result, never an error; the only error is [ErrNotInitialized].
func (s *Session) Process(f Fragment) (Result, error) {
	if s.schema == nil {
		return Result{}, ErrNotInitialized
	}
	text := strings.TrimSpace(f.Text)
	if text == "" {
		return Result{}, nil
	}
	if f.Final {
		return s.processFinal(text), nil
	}
	return s.processPartial(text), nil
}

// Finish closes the active field at the end of a dictation and returns its
// final value.
func (s *Session) Finish() []form.Update {
	flush, ok := s.tracker.TakeAndClear()
	s.keywordBuf = ""
	if !ok {
		return nil
	}
	value := s.norm.Normalize(s.matcher.StripTrailingCommands(flush.Text), form.TypeTextarea)
	if value == "" {
		return nil
	}
	var out []form.Update
	return s.commit(out, flush.FieldID, value, form.ConfidenceFinal, "[fin del dictado]")
}

// Apply records updates produced outside the cascade, such as free-text
// mapper results, and returns those that were accepted. Updates for fields
// that are already filled or currently active, and empty values, are
// dropped.
func (s *Session) Apply(updates []form.Update) []form.Update {
	var out []form.Update
	for _, u := range updates {
		if u.Value == "" || s.IsFilled(u.FieldID) || u.FieldID == s.tracker.Active() {
			continue
		}
		out = s.commit(out, u.FieldID, u.Value, u.Confidence, u.SourceText)
	}
	return out
}

// Reset clears the dictation state (active field, already-filled map,
// keyword buffer, examination context). The schema and its dynamic layer are
// kept.
func (s *Session) Reset() {
	s.tracker.Reset()
	clear(s.filled)
	s.keywordBuf = ""
	s.eye, s.section = "", ""
}

// commit appends a persistent update and records it as filled. Empty values
// remove the field from the filled map.
func (s *Session) commit(out []form.Update, id, value string, confidence float64, src string) []form.Update {
	if value == "" {
		delete(s.filled, id)
	} else {
		s.filled[id] = value
	}
	return append(out, form.Update{FieldID: id, Value: value, Confidence: confidence, SourceText: src})
}

// preview appends a provisional update without touching session state.
func preview(out []form.Update, id, value, src string) []form.Update {
	return append(out, form.Update{FieldID: id, Value: value, Confidence: form.ConfidencePreview, SourceText: src})
}

func (s *Session) String() string {
	return fmt.Sprintf("engine.Session{active=%q filled=%d}", s.tracker.Active(), len(s.filled))
}
