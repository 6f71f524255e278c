package catalog

import (
	"slices"
	"testing"

	"github.com/MrWong99/dictaform/pkg/form"
)

func TestLabelKeywords(t *testing.T) {
	t.Parallel()

	got := LabelKeywords("presión intraocular ojo derecho")

	for _, want := range []string{
		"presión intraocular ojo derecho",
		"presion intraocular ojo derecho",
		"presión intraocular",
		"intraocular",
		"pio", "tonometría",
	} {
		if !slices.Contains(got, want) {
			t.Errorf("missing %q in %v", want, got)
		}
	}
	for _, banned := range []string{"ojo", "derecho", "ojo derecho"} {
		if slices.Contains(got, banned) {
			t.Errorf("blacklisted %q present in %v", banned, got)
		}
	}
	if got[0] != "presión intraocular ojo derecho" {
		t.Errorf("first keyword: got %q, want full label", got[0])
	}
}

func TestBuilderAddFields(t *testing.T) {
	t.Parallel()

	c := mustDefault(t)
	layer := NewBuilder(c).AddFields([]form.FieldDescriptor{
		{ID: "custom-pressure-input", Label: "Presión intraocular"},
		{ID: "other-pressure-input", Label: "Presión intraocular"},
		{ID: "select-option-7", Label: "Ectasia corneal severa"},
		{ID: "select-default-1", Label: "Seleccione una opción"},
		{ID: "empty-label"},
	}).Build()

	targetOf := func(text string) string {
		for _, p := range layer.Fields() {
			if p.Text == text {
				return p.Target
			}
		}
		return ""
	}

	if got := targetOf("presión intraocular"); got != "custom-pressure-input" {
		t.Errorf("presión intraocular: got %q, want first field to keep it", got)
	}
	if got := targetOf("ectasia corneal severa"); got != "select-option-7" {
		t.Errorf("option label: got %q", got)
	}
	if got := targetOf("ectasia"); got != "" {
		t.Errorf("option sub-keyword registered for %q", got)
	}
	if got := targetOf("seleccione una opción"); got != "" {
		t.Errorf("select-default registered for %q", got)
	}

	for _, p := range layer.Fields() {
		if !p.Dynamic || p.Kind != KindField {
			t.Errorf("phrase %q: dynamic=%v kind=%v", p.Text, p.Dynamic, p.Kind)
		}
		if p.Order < c.Len() {
			t.Errorf("phrase %q order %d precedes static catalog", p.Text, p.Order)
		}
		if c.HasField(p.Text) {
			t.Errorf("phrase %q duplicates a static phrase", p.Text)
		}
	}
}

func TestBuilderAddFieldsKeywords(t *testing.T) {
	t.Parallel()

	layer := NewBuilder(mustDefault(t)).AddFields([]form.FieldDescriptor{
		{ID: "notes-input", Keywords: []string{"Marcador Personalizado", "x"}},
		{ID: "other-input", Label: "Marcador personalizado"},
	}).Build()

	if got := layer.Variants("notes-input"); !slices.Equal(got, []string{"marcador personalizado"}) {
		t.Errorf("Variants(notes-input): got %v", got)
	}
	if got := layer.Variants("other-input"); slices.Contains(got, "marcador personalizado") {
		t.Errorf("label took over a registered keyword: %v", got)
	}
}

func TestBuilderAddManual(t *testing.T) {
	t.Parallel()

	layer := NewBuilder(nil).
		AddFields([]form.FieldDescriptor{{ID: "a-input", Label: "Tensión ocular"}}).
		AddManual(map[string]string{"Tensión Ocular": "b-input", "vacío": " "}).
		Build()

	if got := layer.Variants("b-input"); !slices.Equal(got, []string{"tensión ocular"}) {
		t.Errorf("Variants(b-input): got %v", got)
	}
	for _, p := range layer.Fields() {
		if p.Text == "vacío" {
			t.Error("blank manual target registered")
		}
	}
}

func TestNilLayer(t *testing.T) {
	t.Parallel()

	var l *Layer
	if l.Len() != 0 || l.Fields() != nil || l.Variants("x") != nil {
		t.Error("nil layer should be empty")
	}
}
