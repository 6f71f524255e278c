package validate

import (
	"slices"
	"testing"

	"github.com/MrWong99/dictaform/pkg/form"
)

func schema() *form.Schema {
	return form.NewSchema([]form.FieldDescriptor{
		{ID: "reason", Label: "Motivo de consulta", Type: form.TypeTextarea, Required: true},
		{ID: "disease", Label: "Enfermedad actual", Type: form.TypeTextarea, Required: true},
		{ID: "origin", UniqueKey: "origin-key", Label: "Origen de la atención", Type: form.TypeSelect, Required: true, Options: []form.Option{
			{Value: "general", Label: "Enfermedad general"},
			{Value: "work", Label: "Accidente de trabajo"},
		}},
		{ID: "notes", Label: "Observaciones", Type: form.TypeTextarea},
	})
}

func TestValidate_Complete(t *testing.T) {
	t.Parallel()

	got := New().Validate(schema(), map[string]string{
		"reason":     "Visión borrosa",
		"disease":    "Catarata",
		"origin-key": "Enfermedad general",
	})
	if !got.Valid {
		t.Fatalf("Valid: got false, result %+v", got)
	}
	if got.Message != MessageComplete {
		t.Errorf("Message: got %q", got.Message)
	}
	if len(got.MissingFields) != 0 || len(got.Errors) != 0 {
		t.Errorf("got missing %v errors %v", got.MissingFields, got.Errors)
	}
	if want := []string{"reason", "disease", "origin-key"}; !slices.Equal(got.FilledFields, want) {
		t.Errorf("FilledFields: got %v, want %v", got.FilledFields, want)
	}
}

func TestValidate_Missing(t *testing.T) {
	t.Parallel()

	got := New().Validate(schema(), map[string]string{
		"reason":  "Visión borrosa",
		"disease": "   ",
		"notes":   "x",
	})
	if got.Valid {
		t.Fatal("Valid: got true")
	}
	if want := []string{"disease", "origin-key"}; !slices.Equal(got.MissingFields, want) {
		t.Errorf("MissingFields: got %v, want %v", got.MissingFields, want)
	}
	want := "Faltan los siguientes campos obligatorios: Enfermedad actual, Origen de la atención"
	if got.Message != want {
		t.Errorf("Message: got %q, want %q", got.Message, want)
	}
}

func TestValidate_OptionMembership(t *testing.T) {
	t.Parallel()

	tests := []struct {
		value string
		ok    bool
	}{
		{"work", true},
		{"accidente de trabajo", true},
		{"ENFERMEDAD GENERAL", true},
		{"Accidente de tránsito", false},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Parallel()
			got := New().Validate(schema(), map[string]string{
				"reason": "a", "disease": "b", "origin": tt.value,
			})
			if got.Valid != tt.ok {
				t.Errorf("Valid: got %v, want %v (errors %v)", got.Valid, tt.ok, got.Errors)
			}
			if !tt.ok && len(got.Errors) != 1 {
				t.Errorf("Errors: got %v, want one", got.Errors)
			}
		})
	}
}

func TestValidate_DilationRules(t *testing.T) {
	t.Parallel()

	s := form.NewSchema([]form.FieldDescriptor{
		{ID: "requiere_dilatacion", Label: "Requiere dilatación", Type: form.TypeRadio, Required: true},
		{ID: "motivo_no_dilatacion", Label: "Motivo de no dilatación", Required: true},
		{ID: "hora_dilatacion", Label: "Hora de dilatación", Required: true},
	})
	v := New()

	declined := v.Validate(s, map[string]string{"requiere_dilatacion": "No"})
	if want := []string{"motivo_no_dilatacion"}; !slices.Equal(declined.MissingFields, want) {
		t.Errorf("declined: got %v, want %v", declined.MissingFields, want)
	}

	performed := v.Validate(s, map[string]string{"requiere_dilatacion": "sí"})
	if want := []string{"hora_dilatacion"}; !slices.Equal(performed.MissingFields, want) {
		t.Errorf("performed: got %v, want %v", performed.MissingFields, want)
	}

	unset := v.Validate(s, nil)
	if len(unset.MissingFields) != 3 {
		t.Errorf("unset: got %v, want all three", unset.MissingFields)
	}
}

func TestValidate_WithoutRules(t *testing.T) {
	t.Parallel()

	s := form.NewSchema([]form.FieldDescriptor{
		{ID: "requiere_dilatacion", Required: true},
		{ID: "motivo_no_dilatacion", Label: "Motivo", Required: true},
	})
	got := New(WithRules(nil)).Validate(s, map[string]string{"requiere_dilatacion": "si"})
	if want := []string{"motivo_no_dilatacion"}; !slices.Equal(got.MissingFields, want) {
		t.Errorf("got %v, want %v", got.MissingFields, want)
	}
}
