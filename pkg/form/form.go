// Package form defines the vocabulary shared by every dictaform component:
// the field descriptors a client reports for its form, the schema built from
// them, and the field-update events the engine emits.
//
// The types are plain data. They carry JSON tags because they travel over the
// WebSocket protocol unchanged.
package form

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FieldType is the kind of input control behind a form field. It decides how a
// captured value is normalised and whether a trigger phrase fills the field
// immediately or opens it for dictation.
type FieldType string

const (
	TypeText     FieldType = "text"
	TypeTextarea FieldType = "textarea"
	TypeSelect   FieldType = "select"
	TypeCheckbox FieldType = "checkbox"
	TypeRadio    FieldType = "radio"
	TypeNumber   FieldType = "number"
	TypeButton   FieldType = "button"
)

// IsValid reports whether t is a recognised field type.
func (t FieldType) IsValid() bool {
	switch t {
	case TypeText, TypeTextarea, TypeSelect, TypeCheckbox, TypeRadio, TypeNumber, TypeButton:
		return true
	}
	return false
}

// Immediate reports whether a trigger phrase for a field of this type sets the
// value directly instead of opening the field for dictation.
func (t FieldType) Immediate() bool {
	switch t {
	case TypeCheckbox, TypeSelect, TypeRadio, TypeButton:
		return true
	}
	return false
}

// EyeSide identifies which eye an ophthalmology field refers to.
type EyeSide string

const (
	EyeRight EyeSide = "OD"
	EyeLeft  EyeSide = "OI"
	EyeBoth  EyeSide = "AO"
)

// Option is a selectable value of a select or radio field.
type Option struct {
	Value string `json:"value"`
	Label string `json:"label,omitempty"`
}

// UnmarshalJSON accepts an object or a bare string. Form scanners report
// dropdown entries by their visible text, which then serves as both value
// and label.
func (o *Option) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		*o = Option{Value: text, Label: text}
		return nil
	}
	type option Option
	var v option
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("form: option: %w", err)
	}
	*o = Option(v)
	return nil
}

// FieldDescriptor describes one field of the form currently on screen, as
// scanned by the client.
type FieldDescriptor struct {
	// ID is the field's stable identifier (the DOM data-testid).
	ID string `json:"data_testid"`

	// UniqueKey is the key the client uses when applying updates. Empty means
	// the same as ID.
	UniqueKey string `json:"unique_key,omitempty"`

	// Label is the human-visible label. Dynamic trigger phrases are derived
	// from it.
	Label string `json:"label,omitempty"`

	// Type is the reported control type. May be empty or misleading; see
	// catalog type inference.
	Type FieldType `json:"field_type,omitempty"`

	Section  string   `json:"section,omitempty"`
	Eye      EyeSide  `json:"eye,omitempty"`
	Options  []Option `json:"options,omitempty"`
	Required bool     `json:"required,omitempty"`

	// Keywords are extra trigger phrases the client registered for the field.
	Keywords []string `json:"keywords,omitempty"`

	// Tag is the HTML tag of the scanned input element.
	Tag string `json:"tag,omitempty"`
}

// Key returns the identifier updates should be addressed to.
func (d FieldDescriptor) Key() string {
	if d.UniqueKey != "" {
		return d.UniqueKey
	}
	return d.ID
}

// Schema is an indexed, read-only view over a set of field descriptors.
type Schema struct {
	fields []FieldDescriptor
	byID   map[string]int
}

// NewSchema indexes fields by both ID and UniqueKey. Later duplicates are
// ignored.
func NewSchema(fields []FieldDescriptor) *Schema {
	s := &Schema{
		fields: make([]FieldDescriptor, 0, len(fields)),
		byID:   make(map[string]int, len(fields)*2),
	}
	for _, f := range fields {
		if strings.TrimSpace(f.ID) == "" {
			continue
		}
		if _, dup := s.byID[f.ID]; dup {
			continue
		}
		s.fields = append(s.fields, f)
		idx := len(s.fields) - 1
		s.byID[f.ID] = idx
		if f.UniqueKey != "" {
			if _, dup := s.byID[f.UniqueKey]; !dup {
				s.byID[f.UniqueKey] = idx
			}
		}
	}
	return s
}

// Fields returns the descriptors in declaration order. The caller must not
// modify the returned slice.
func (s *Schema) Fields() []FieldDescriptor {
	if s == nil {
		return nil
	}
	return s.fields
}

// Len returns the number of distinct fields.
func (s *Schema) Len() int {
	if s == nil {
		return 0
	}
	return len(s.fields)
}

// Lookup returns the descriptor registered under id (ID or UniqueKey).
func (s *Schema) Lookup(id string) (FieldDescriptor, bool) {
	if s == nil {
		return FieldDescriptor{}, false
	}
	idx, ok := s.byID[id]
	if !ok {
		return FieldDescriptor{}, false
	}
	return s.fields[idx], true
}

// Update is a single field-update event produced by the engine or the
// free-text mapper.
type Update struct {
	FieldID    string  `json:"unique_key"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
	SourceText string  `json:"-"`
}

// Confidence tiers encode where an update came from. Consumers treat anything
// below [ConfidenceCommand] produced by a partial fragment as provisional.
const (
	ConfidenceCommand  = 1.0
	ConfidenceAnchored = 0.98
	ConfidenceFinal    = 0.95
	ConfidenceDirect   = 0.95
	ConfidenceContext  = 0.90
	ConfidenceMapper   = 0.85
	ConfidencePreview  = 0.80
)
