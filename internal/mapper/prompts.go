package mapper

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/dictaform/pkg/form"
)

//go:embed prompts.yaml
var defaultPromptsYAML []byte

// SectionField is a field a section prompt may fill.
type SectionField struct {
	Key   string         `yaml:"key"`
	Label string         `yaml:"label"`
	Type  form.FieldType `yaml:"type"`
}

// Prompt is one system/user prompt pair. User is a text/template source.
type Prompt struct {
	MaxTokens int            `yaml:"max_tokens"`
	System    string         `yaml:"system"`
	User      string         `yaml:"user"`
	Fields    []SectionField `yaml:"fields"`

	tmpl *template.Template
}

// Prompts is the full prompt set: one generic prompt listing the whole form
// and optional mini-prompts keyed by form section.
type Prompts struct {
	Generic  Prompt            `yaml:"generic"`
	Sections map[string]Prompt `yaml:"sections"`
}

type promptData struct {
	Segment string
	Fields  []string
}

// LoadPrompts decodes and compiles a prompt set. Unknown keys are rejected.
func LoadPrompts(r io.Reader) (*Prompts, error) {
	var p Prompts
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("mapper: decode prompts: %w", err)
	}
	if err := p.compile(); err != nil {
		return nil, err
	}
	return &p, nil
}

var (
	defaultOnce    sync.Once
	defaultPrompts *Prompts
)

// DefaultPrompts returns the embedded prompt set.
func DefaultPrompts() *Prompts {
	defaultOnce.Do(func() {
		p, err := LoadPrompts(bytes.NewReader(defaultPromptsYAML))
		if err != nil {
			panic(err)
		}
		defaultPrompts = p
	})
	return defaultPrompts
}

func (p *Prompts) compile() error {
	var errs []error
	if err := p.Generic.compile("generic"); err != nil {
		errs = append(errs, err)
	}
	for name, sp := range p.Sections {
		if len(sp.Fields) == 0 {
			errs = append(errs, fmt.Errorf("mapper: section %q has no fields", name))
		}
		for _, f := range sp.Fields {
			if f.Key == "" {
				errs = append(errs, fmt.Errorf("mapper: section %q has a field without key", name))
			}
			if f.Type != "" && !f.Type.IsValid() {
				errs = append(errs, fmt.Errorf("mapper: section %q field %q: invalid type %q", name, f.Key, f.Type))
			}
		}
		if err := sp.compile(name); err != nil {
			errs = append(errs, err)
		}
		p.Sections[name] = sp
	}
	return errors.Join(errs...)
}

func (p *Prompt) compile(name string) error {
	if strings.TrimSpace(p.User) == "" {
		return fmt.Errorf("mapper: prompt %q has no user template", name)
	}
	t, err := template.New(name).Option("missingkey=error").Parse(p.User)
	if err != nil {
		return fmt.Errorf("mapper: prompt %q: %w", name, err)
	}
	p.tmpl = t
	return nil
}

func (p *Prompt) render(data promptData) (string, error) {
	var b strings.Builder
	if err := p.tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("mapper: render prompt: %w", err)
	}
	return b.String(), nil
}

// fieldType returns the declared type of key in a section prompt.
func (p *Prompt) fieldType(key string) (form.FieldType, bool) {
	for _, f := range p.Fields {
		if f.Key == key {
			if f.Type == "" {
				return form.TypeText, true
			}
			return f.Type, true
		}
	}
	return "", false
}

// describeField renders one line of the generic prompt's field list.
func describeField(d form.FieldDescriptor) string {
	var b strings.Builder
	fmt.Fprintf(&b, "- %s (%s)", d.Key(), d.Label)
	if d.Eye != "" {
		fmt.Fprintf(&b, " [%s]", d.Eye)
	}
	if d.Section != "" {
		fmt.Fprintf(&b, " [%s]", d.Section)
	}
	if len(d.Options) > 0 {
		opts := make([]string, 0, maxListedOptions)
		for i, o := range d.Options {
			if i == maxListedOptions {
				break
			}
			if o.Label != "" {
				opts = append(opts, o.Label)
			} else {
				opts = append(opts, o.Value)
			}
		}
		fmt.Fprintf(&b, " opciones: %s", strings.Join(opts, ", "))
	}
	return b.String()
}

// maxListedOptions bounds the options listed per field to keep prompts short.
const maxListedOptions = 5
