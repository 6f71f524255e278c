package phonetic_test

import (
	"testing"

	"github.com/MrWong99/dictaform/internal/transcript/phonetic"
)

func TestMatcher_AccentInsensitiveExactMatch(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	corrected, conf, matched := m.Match("cornea", []string{"córnea", "conjuntiva"})
	if !matched {
		t.Fatal("matched=false, want true")
	}
	if corrected != "córnea" {
		t.Errorf("corrected=%q, want %q", corrected, "córnea")
	}
	if conf != 1 {
		t.Errorf("confidence=%f, want 1", conf)
	}
}

func TestMatcher_CaseInsensitivity(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	corrected, _, matched := m.Match("BIOMICROSCOPIA", []string{"biomicroscopia"})
	if !matched || corrected != "biomicroscopia" {
		t.Errorf("got %q, %v; want biomicroscopia, true", corrected, matched)
	}
}

func TestMatcher_MultiWordTypo(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	entities := []string{"enfermedad actual", "motivo de consulta"}

	corrected, conf, matched := m.Match("motivo de consutla", entities)
	if !matched {
		t.Fatal("matched=false, want true")
	}
	if corrected != "motivo de consulta" {
		t.Errorf("corrected=%q, want %q", corrected, "motivo de consulta")
	}
	if conf < 0.93 {
		t.Errorf("confidence=%f, want >= 0.93", conf)
	}
}

func TestMatcher_SingleWordTypo(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	corrected, _, matched := m.Match("conjuntiba", []string{"córnea", "conjuntiva"})
	if !matched || corrected != "conjuntiva" {
		t.Errorf("got %q, %v; want conjuntiva, true", corrected, matched)
	}
}

func TestMatcher_WordCountMustAgree(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	if corrected, _, matched := m.Match("ardor", []string{"ardor ocular"}); matched {
		t.Errorf("one word matched two-word entry %q", corrected)
	}
	if corrected, _, matched := m.Match("córnea clara", []string{"córnea"}); matched {
		t.Errorf("two words matched one-word entry %q", corrected)
	}
}

func TestMatcher_NoMatch(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	corrected, conf, matched := m.Match("hola", []string{"biomicroscopia", "conjuntiva"})
	if matched {
		t.Fatalf("matched=true with %q", corrected)
	}
	if corrected != "hola" {
		t.Errorf("corrected=%q, want original word", corrected)
	}
	if conf != 0 {
		t.Errorf("confidence=%f, want 0", conf)
	}
}

func TestMatcher_ThresholdFiltering(t *testing.T) {
	t.Parallel()

	m := phonetic.New(
		phonetic.WithPhoneticThreshold(0.999),
		phonetic.WithFuzzyThreshold(0.999),
	)
	if _, _, matched := m.Match("motivo de consutla", []string{"motivo de consulta"}); matched {
		t.Fatal("threshold 0.999 should reject near-matches")
	}
}

func TestMatcher_EmptyInputs(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	if corrected, conf, matched := m.Match("cornea", nil); matched || corrected != "cornea" || conf != 0 {
		t.Errorf("nil entities: got %q, %f, %v", corrected, conf, matched)
	}
	if corrected, conf, matched := m.Match("", []string{"córnea"}); matched || corrected != "" || conf != 0 {
		t.Errorf("empty word: got %q, %f, %v", corrected, conf, matched)
	}
}

func TestVocabulary(t *testing.T) {
	t.Parallel()

	v := phonetic.Prepare([]string{"córnea", "Motivo de consulta", "córnea", "  "})
	if v.MaxWords() != 3 {
		t.Errorf("MaxWords=%d, want 3", v.MaxWords())
	}
	if !v.Contains("motivo de consulta") {
		t.Error("Contains(motivo de consulta)=false")
	}
	if !v.Contains("CORNEA") {
		t.Error("Contains(CORNEA)=false")
	}
	if v.Contains("retina") {
		t.Error("Contains(retina)=true")
	}
}
