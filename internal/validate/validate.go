// Package validate checks a dictated form for completeness before it is
// saved: required fields without a value and select or radio values that are
// not among the field's options.
package validate

import (
	"fmt"
	"slices"
	"strings"

	"github.com/MrWong99/dictaform/internal/catalog"
	"github.com/MrWong99/dictaform/pkg/form"
)

// Messages read to the doctor.
const (
	MessageComplete = "Todos los campos obligatorios están completos"
	missingPrefix   = "Faltan los siguientes campos obligatorios: "
)

// Result is the outcome of [Validator.Validate]. Its JSON form is sent to the
// client as the "validation" message.
type Result struct {
	Valid         bool     `json:"is_valid"`
	MissingFields []string `json:"missing_fields"`
	FilledFields  []string `json:"filled_fields"`
	Errors        []string `json:"errors"`
	Message       string   `json:"message"`
}

// Rule narrows the required set depending on the value of one field. When
// Field holds Value (compared accent- and case-insensitively), only the keys
// in Only are required if Only is non-empty; keys in Except are never
// required.
type Rule struct {
	Field  string
	Value  string
	Only   []string
	Except []string
}

// DilationRules are the conditional requirements of the pupil dilation
// record: declining dilation only needs a reason, performing it does not.
var DilationRules = []Rule{
	{Field: "requiere_dilatacion", Value: "no", Only: []string{"requiere_dilatacion", "motivo_no_dilatacion"}},
	{Field: "requiere_dilatacion", Value: "si", Except: []string{"motivo_no_dilatacion"}},
}

// Option configures a [Validator].
type Option func(*Validator)

// WithRules replaces [DilationRules].
func WithRules(rules []Rule) Option {
	return func(v *Validator) {
		v.rules = rules
	}
}

// Validator is immutable and safe for concurrent use.
type Validator struct {
	rules []Rule
}

// New returns a Validator.
func New(opts ...Option) *Validator {
	v := &Validator{rules: DilationRules}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Validate checks filled against schema. Required fields are reported by
// key in declaration order; the message names them by label.
func (v *Validator) Validate(schema *form.Schema, filled map[string]string) Result {
	res := Result{
		MissingFields: []string{},
		FilledFields:  []string{},
		Errors:        []string{},
	}

	required := v.required(schema, filled)
	var labels []string
	for _, d := range schema.Fields() {
		key := d.Key()
		value, ok := filled[key]
		if !ok {
			value, ok = filled[d.ID]
		}
		ok = ok && strings.TrimSpace(value) != ""
		if ok {
			res.FilledFields = append(res.FilledFields, key)
			if msg, bad := checkOption(d, value); bad {
				res.Errors = append(res.Errors, msg)
			}
			continue
		}
		if required[key] {
			res.MissingFields = append(res.MissingFields, key)
			labels = append(labels, label(d))
		}
	}

	res.Valid = len(res.MissingFields) == 0 && len(res.Errors) == 0
	if len(labels) == 0 {
		res.Message = MessageComplete
	} else {
		res.Message = missingPrefix + strings.Join(labels, ", ")
	}
	return res
}

// required returns the keys that must carry a value after applying the
// first matching rule.
func (v *Validator) required(schema *form.Schema, filled map[string]string) map[string]bool {
	out := make(map[string]bool)
	for _, d := range schema.Fields() {
		if d.Required {
			out[d.Key()] = true
		}
	}
	for _, r := range v.rules {
		got, ok := filled[r.Field]
		if !ok || !sameValue(got, r.Value) {
			continue
		}
		if len(r.Only) > 0 {
			clear(out)
			for _, k := range r.Only {
				out[k] = true
			}
		}
		for _, k := range r.Except {
			delete(out, k)
		}
		break
	}
	return out
}

// checkOption reports a value of a select or radio field that matches
// neither an option value nor an option label.
func checkOption(d form.FieldDescriptor, value string) (string, bool) {
	if len(d.Options) == 0 || (d.Type != form.TypeSelect && d.Type != form.TypeRadio) {
		return "", false
	}
	ok := slices.ContainsFunc(d.Options, func(o form.Option) bool {
		return sameValue(o.Value, value) || (o.Label != "" && sameValue(o.Label, value))
	})
	if ok {
		return "", false
	}
	return fmt.Sprintf("Valor inválido para %s: '%s' no está en las opciones", label(d), value), true
}

func sameValue(a, b string) bool {
	return catalog.Fold(catalog.Canonical(a)) == catalog.Fold(catalog.Canonical(b))
}

func label(d form.FieldDescriptor) string {
	if d.Label != "" {
		return d.Label
	}
	return d.Key()
}
