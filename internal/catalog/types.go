package catalog

import (
	"strings"

	"github.com/MrWong99/dictaform/pkg/form"
)

// FieldType resolves the effective type of id. Static overrides win over the
// type reported by the client schema, which in turn wins over heuristics on
// the identifier itself.
func (c *Catalog) FieldType(id string, schema *form.Schema) form.FieldType {
	if id == "" {
		return form.TypeText
	}
	if ft, ok := c.overrides[id]; ok {
		return ft
	}
	if d, ok := schema.Lookup(id); ok && d.Type.IsValid() {
		return d.Type
	}
	return InferType(id)
}

// InferType guesses a field type from naming conventions of the form's
// identifiers. Used when the client did not report a usable type.
func InferType(id string) form.FieldType {
	switch {
	case strings.HasPrefix(id, "select-option"):
		return form.TypeButton
	case strings.Contains(id, "select"):
		return form.TypeSelect
	case strings.Contains(id, "switch"), strings.Contains(id, "check"):
		return form.TypeCheckbox
	case strings.Contains(id, "evolution-time-input"):
		return form.TypeNumber
	case strings.Contains(id, "badge-field"), strings.Contains(id, "history"), strings.Contains(id, "textarea"):
		return form.TypeTextarea
	case strings.Contains(id, "radio"):
		return form.TypeRadio
	case strings.Contains(id, "button"), strings.Contains(id, "dropdown-item"), strings.HasPrefix(id, "preconsultation-tab"):
		return form.TypeButton
	}
	return form.TypeText
}
