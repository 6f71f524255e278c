// Package catalog holds the trigger-phrase registry used to recognise spoken
// commands and field activations.
//
// A [Catalog] is immutable after construction and safe to share between
// sessions. The static tables ship embedded in catalog.yaml and may be
// extended at startup with additional YAML documents. Per-session phrases
// derived from the labels of the form on screen live in a separate [Layer]
// produced by a [Builder]; the static catalog is never mutated.
package catalog

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/MrWong99/dictaform/pkg/form"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var embeddedCatalog []byte

// Pseudo-targets of control commands.
const (
	CmdStop  = "cmd_stop"
	CmdClear = "cmd_clear"
)

// Kind classifies a trigger phrase.
type Kind int

const (
	// KindField activates (or directly sets) a form field.
	KindField Kind = iota

	// KindCommand is a control command targeting [CmdStop] or [CmdClear].
	KindCommand

	// KindUncheck resets a checkbox to false. Its target is the checkbox ID.
	KindUncheck
)

// String implements [fmt.Stringer].
func (k Kind) String() string {
	switch k {
	case KindField:
		return "field"
	case KindCommand:
		return "command"
	case KindUncheck:
		return "uncheck"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Phrase is a single trigger phrase.
type Phrase struct {
	// Text is the canonical (lowercase, punctuation-free) phrase.
	Text string

	// Target is the field ID or command pseudo-ID the phrase resolves to.
	Target string

	Kind Kind

	// Order is the declaration index. Static phrases always order before
	// dynamic ones; lower wins when every other tie-break is equal.
	Order int

	// Dynamic is true for phrases derived from the session's form labels.
	Dynamic bool
}

// Boost is a recognition hint for the speech-to-text provider.
type Boost struct {
	Term   string `yaml:"term"`
	Weight int    `yaml:"weight"`
}

// Catalog is the immutable static phrase registry.
type Catalog struct {
	uncheck  []Phrase
	commands []Phrase
	fields   []Phrase

	// variants lists every field phrase (including accent-folded forms) per
	// target, longest first.
	variants map[string][]string
	known    map[string]struct{}

	overrides    map[string]form.FieldType
	exclusive    map[string]struct{}
	companions   map[string]string
	selectValues map[string]string
	ambiguous    map[string]struct{}
	boosts       []Boost
}

type phraseGroup struct {
	Target  string   `yaml:"target"`
	Phrases []string `yaml:"phrases"`
}

type document struct {
	Fields        []phraseGroup     `yaml:"fields"`
	Uncheck       []phraseGroup     `yaml:"uncheck"`
	Commands      []phraseGroup     `yaml:"commands"`
	TypeOverrides map[string]string `yaml:"type_overrides"`
	Exclusive     []string          `yaml:"exclusive"`
	Companions    map[string]string `yaml:"companions"`
	SelectValues  map[string]string `yaml:"select_values"`
	Boosts        []Boost           `yaml:"boosts"`
}

var defaultCatalog = sync.OnceValues(func() (*Catalog, error) {
	return New()
})

// Default returns the catalog built from the embedded tables only. The result
// is computed once and shared.
func Default() (*Catalog, error) {
	return defaultCatalog()
}

// New builds a catalog from the embedded tables followed by each document in
// extra. Later documents add phrases after the embedded ones; map sections
// (type overrides, companions, select values) override earlier entries.
func New(extra ...[]byte) (*Catalog, error) {
	docs := make([]document, 0, len(extra)+1)
	for i, src := range append([][]byte{embeddedCatalog}, extra...) {
		var doc document
		dec := yaml.NewDecoder(bytes.NewReader(src))
		dec.KnownFields(true)
		if err := dec.Decode(&doc); err != nil {
			return nil, fmt.Errorf("catalog: decode document %d: %w", i, err)
		}
		docs = append(docs, doc)
	}
	return build(docs)
}

func build(docs []document) (*Catalog, error) {
	c := &Catalog{
		variants:     make(map[string][]string),
		known:        make(map[string]struct{}),
		overrides:    make(map[string]form.FieldType),
		exclusive:    make(map[string]struct{}),
		companions:   make(map[string]string),
		selectValues: make(map[string]string),
		ambiguous:    make(map[string]struct{}),
	}

	var errs []error
	order := 0
	seen := map[Kind]map[string]struct{}{
		KindField:   {},
		KindCommand: {},
		KindUncheck: {},
	}
	add := func(dst *[]Phrase, kind Kind, groups []phraseGroup) {
		for _, g := range groups {
			if g.Target == "" {
				errs = append(errs, fmt.Errorf("catalog: %s group without target", kind))
				continue
			}
			if kind == KindCommand && g.Target != CmdStop && g.Target != CmdClear {
				errs = append(errs, fmt.Errorf("catalog: unknown command target %q", g.Target))
				continue
			}
			for _, raw := range g.Phrases {
				for _, text := range withFolded(Canonical(raw)) {
					if text == "" {
						continue
					}
					if _, dup := seen[kind][text]; dup {
						continue
					}
					seen[kind][text] = struct{}{}
					*dst = append(*dst, Phrase{Text: text, Target: g.Target, Kind: kind, Order: order})
					order++
				}
			}
		}
	}

	for _, d := range docs {
		add(&c.uncheck, KindUncheck, d.Uncheck)
		add(&c.commands, KindCommand, d.Commands)
		add(&c.fields, KindField, d.Fields)

		for id, t := range d.TypeOverrides {
			ft := form.FieldType(t)
			if !ft.IsValid() {
				errs = append(errs, fmt.Errorf("catalog: type override %q: invalid type %q", id, t))
				continue
			}
			c.overrides[id] = ft
		}
		for _, id := range d.Exclusive {
			if id = strings.TrimSpace(id); id != "" {
				c.exclusive[id] = struct{}{}
			}
		}
		for cb, input := range d.Companions {
			c.companions[cb] = input
		}
		for kw, v := range d.SelectValues {
			c.selectValues[Canonical(kw)] = v
			c.selectValues[Fold(Canonical(kw))] = v
		}
		c.boosts = append(c.boosts, d.Boosts...)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	for _, p := range c.fields {
		c.variants[p.Target] = append(c.variants[p.Target], p.Text)
		c.known[p.Text] = struct{}{}
	}
	for target := range c.variants {
		sortLongestFirst(c.variants[target])
	}
	c.computeAmbiguous()
	return c, nil
}

// computeAmbiguous records button phrases that are a word prefix of some
// longer non-button phrase (e.g. "antecedentes" vs "antecedentes oculares").
func (c *Catalog) computeAmbiguous() {
	var buttons, others []string
	for _, p := range c.fields {
		if c.IsButton(p.Target) {
			buttons = append(buttons, p.Text)
		} else {
			others = append(others, p.Text)
		}
	}
	for _, b := range buttons {
		for _, o := range others {
			if strings.HasPrefix(o, b+" ") {
				c.ambiguous[b] = struct{}{}
				break
			}
		}
	}
}

// Uncheck returns the uncheck phrases in declaration order.
func (c *Catalog) Uncheck() []Phrase { return c.uncheck }

// Commands returns the stop/clear command phrases in declaration order.
func (c *Catalog) Commands() []Phrase { return c.commands }

// Fields returns the static field-activation phrases in declaration order.
func (c *Catalog) Fields() []Phrase { return c.fields }

// Len returns the total number of static phrases of all kinds.
func (c *Catalog) Len() int {
	return len(c.uncheck) + len(c.commands) + len(c.fields)
}

// Variants returns every static phrase that activates target, longest first.
func (c *Catalog) Variants(target string) []string {
	return c.variants[target]
}

// HasField reports whether text is a static field-activation phrase.
func (c *Catalog) HasField(text string) bool {
	_, ok := c.known[text]
	return ok
}

// IsExclusive reports whether id, once active, can only be closed by an
// explicit stop or clear command.
func (c *Catalog) IsExclusive(id string) bool {
	_, ok := c.exclusive[id]
	return ok
}

// Companion returns the free-text input paired with a checkbox, if any.
func (c *Catalog) Companion(checkboxID string) (string, bool) {
	id, ok := c.companions[checkboxID]
	return id, ok
}

// IsButton reports whether id is a clickable control rather than a value.
func (c *Catalog) IsButton(id string) bool {
	return c.overrides[id] == form.TypeButton || strings.HasSuffix(id, "-button")
}

// IsAmbiguousButton reports whether phrase is a button trigger that is also
// the beginning of a longer non-button phrase. Such phrases are ignored on
// partial fragments because the rest of the utterance may still arrive.
func (c *Catalog) IsAmbiguousButton(phrase string) bool {
	_, ok := c.ambiguous[phrase]
	return ok
}

// SelectValue maps a spoken select trigger to the option label the select
// expects. Unknown phrases are returned unchanged.
func (c *Catalog) SelectValue(phrase string) string {
	if v, ok := c.LookupSelectValue(phrase); ok {
		return v
	}
	return phrase
}

// LookupSelectValue is like [Catalog.SelectValue] but reports whether phrase
// has a mapping.
func (c *Catalog) LookupSelectValue(phrase string) (string, bool) {
	v, ok := c.selectValues[Canonical(phrase)]
	return v, ok
}

// Boosts returns the speech-to-text recognition hints, at most limit of them
// when limit > 0.
func (c *Catalog) Boosts(limit int) []Boost {
	if limit > 0 && len(c.boosts) > limit {
		return slices.Clone(c.boosts[:limit])
	}
	return slices.Clone(c.boosts)
}

// Vocabulary returns the distinct texts of every trigger phrase.
func (c *Catalog) Vocabulary() []string {
	seen := make(map[string]struct{}, c.Len())
	var out []string
	for _, group := range [][]Phrase{c.uncheck, c.commands, c.fields} {
		for _, p := range group {
			if _, dup := seen[p.Text]; dup {
				continue
			}
			seen[p.Text] = struct{}{}
			out = append(out, p.Text)
		}
	}
	return out
}

func sortLongestFirst(s []string) {
	slices.SortStableFunc(s, func(a, b string) int {
		return len(b) - len(a)
	})
}
