package relevance

import "testing"

func TestIsClinicallyRelevant(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text string
		want bool
	}{
		{"", false},
		{"córnea", false},
		{"buenos días", false},
		{"muchas gracias doctor", false},
		{"está bien", false},
		{"vamos a revisar sus ojos", false},
		{"córnea transparente sin edema", true},
		{"Agudeza visual de 20/40", true},
		{"presión en ojo derecho", true},
		{"tiene 15 mm", true},
		{"me duele mucho", false},
		{"el paciente está tranquilo", false},
		{"el paciente llegó acompañado por su hija", true},
		{"desde hace dos semanas", true},
		{"todo normal", false},
	}
	for _, tt := range tests {
		if got := IsClinicallyRelevant(tt.text); got != tt.want {
			t.Errorf("IsClinicallyRelevant(%q): got %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestClassifySection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text   string
		want   string
		wantOK bool
	}{
		{"viene por visión borrosa", SectionAttentionOrigin, true},
		{"el motivo es ardor", SectionAttentionOrigin, true},
		{"Padecimiento actual de tres días", SectionAttentionOrigin, true},
		{"córnea clara", "", false},
		{"consultaron antes", "", false},
		{"   ", "", false},
	}
	for _, tt := range tests {
		got, ok := ClassifySection(tt.text)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ClassifySection(%q): got %q %v, want %q %v", tt.text, got, ok, tt.want, tt.wantOK)
		}
	}
}
