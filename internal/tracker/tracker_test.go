package tracker

import "testing"

func TestActivateFlushesPreviousField(t *testing.T) {
	t.Parallel()

	tr := New()
	if _, ok := tr.Activate("reason", "motivo de consulta", "dolor de cabeza"); ok {
		t.Fatal("first activation should not flush")
	}
	prev, ok := tr.Activate("disease", "enfermedad actual", "migraña")
	if !ok {
		t.Fatal("expected flush of previous field")
	}
	if prev.FieldID != "reason" || prev.Text != "dolor de cabeza" {
		t.Errorf("flush: got %+v", prev)
	}
	if tr.Active() != "disease" || tr.Text() != "migraña" {
		t.Errorf("active=%q text=%q", tr.Active(), tr.Text())
	}
}

func TestActivateSameFieldKeepsText(t *testing.T) {
	t.Parallel()

	tr := New()
	tr.Activate("reason", "motivo de consulta", "dolor")
	tr.Append("intenso")
	if _, ok := tr.Activate("reason", "motivo", ""); ok {
		t.Error("re-activation should not flush")
	}
	if got := tr.Text(); got != "dolor intenso" {
		t.Errorf("text: got %q", got)
	}
	if got := tr.LastPhrase(); got != "motivo" {
		t.Errorf("last phrase: got %q", got)
	}
}

func TestActivateEmptyPreviousDoesNotFlush(t *testing.T) {
	t.Parallel()

	tr := New()
	tr.Activate("reason", "motivo de consulta", "")
	if _, ok := tr.Activate("disease", "enfermedad actual", ""); ok {
		t.Error("empty field should not produce a flush")
	}
}

func TestPartialAndConfirm(t *testing.T) {
	t.Parallel()

	tr := New()
	tr.SetPartial("ignored without active field")
	if tr.State() != Empty {
		t.Fatalf("state: got %v, want empty", tr.State())
	}

	tr.Activate("reason", "motivo", "dolor de cabeza")
	if tr.State() != Accumulating {
		t.Errorf("state: got %v, want accumulating", tr.State())
	}

	tr.SetPartial("también tiene")
	tr.SetPartial("también tiene fiebre")
	if tr.State() != Previewing {
		t.Errorf("state: got %v, want previewing", tr.State())
	}
	if got := tr.Text(); got != "dolor de cabeza también tiene fiebre" {
		t.Errorf("preview text: got %q", got)
	}
	if got := tr.Base(); got != "dolor de cabeza" {
		t.Errorf("partial touched base: %q", got)
	}

	tr.ConfirmUtterance("también tiene fiebre")
	if tr.State() != Accumulating {
		t.Errorf("state after confirm: got %v", tr.State())
	}
	if got := tr.Base(); got != "dolor de cabeza también tiene fiebre" {
		t.Errorf("base: got %q", got)
	}

	tr.ConfirmUtterance("Tiene fiebre")
	if got := tr.Base(); got != "dolor de cabeza también tiene fiebre" {
		t.Errorf("trailing duplicate merged: %q", got)
	}
}

func TestAppendIsIdempotent(t *testing.T) {
	t.Parallel()

	tr := New()
	tr.Activate("obs", "observaciones", "")
	tr.Append("Paciente colaborador")
	before := len(tr.Base())
	tr.Append("paciente COLABORADOR")
	tr.Append("colaborador")
	if got := len(tr.Base()); got != before {
		t.Errorf("append of contained text changed length: %d -> %d", before, got)
	}
	tr.Append("sin dolor")
	if got := tr.Base(); got != "Paciente colaborador sin dolor" {
		t.Errorf("base: got %q", got)
	}
}

func TestCurrentThreshold(t *testing.T) {
	t.Parallel()

	tr := New()
	if _, ok := tr.Current(); ok {
		t.Error("no active field should report nothing")
	}
	tr.Activate("obs", "observaciones", "")
	tr.SetPartial("ojo")
	if _, ok := tr.Current(); ok {
		t.Error("text below threshold reported")
	}
	tr.SetPartial("ojo rojo")
	cur, ok := tr.Current()
	if !ok || cur.FieldID != "obs" || cur.Text != "ojo rojo" {
		t.Errorf("Current: got %+v ok=%v", cur, ok)
	}

	tr2 := New(WithMinPreviewChars(20))
	tr2.Activate("obs", "observaciones", "ojo rojo")
	if _, ok := tr2.Current(); ok {
		t.Error("custom threshold ignored")
	}
}

func TestClearKeepsFieldActive(t *testing.T) {
	t.Parallel()

	tr := New()
	tr.Activate("obs", "observaciones", "algo")
	tr.SetPartial("más")
	tr.Clear()
	if tr.Active() != "obs" || tr.Text() != "" || tr.State() != Empty {
		t.Errorf("after clear: active=%q text=%q state=%v", tr.Active(), tr.Text(), tr.State())
	}
}

func TestTakeAndClear(t *testing.T) {
	t.Parallel()

	tr := New()
	tr.Activate("obs", "observaciones", "ok")
	f, ok := tr.TakeAndClear()
	if !ok || f.FieldID != "obs" || f.Text != "ok" {
		t.Errorf("TakeAndClear: got %+v ok=%v", f, ok)
	}
	if tr.Active() != "" || tr.LastPhrase() != "" {
		t.Error("field still active after TakeAndClear")
	}

	tr.Activate("obs", "observaciones", "")
	if _, ok := tr.TakeAndClear(); ok {
		t.Error("empty field reported text")
	}
	if tr.Active() != "" {
		t.Error("empty field not deactivated")
	}
}

func TestReset(t *testing.T) {
	t.Parallel()

	tr := New()
	tr.Activate("obs", "observaciones", "texto")
	tr.SetPartial("parcial")
	tr.Reset()
	if tr.Active() != "" || tr.Text() != "" || tr.State() != Empty {
		t.Error("reset left state behind")
	}
}

func TestDiscardPartial(t *testing.T) {
	t.Parallel()

	tr := New()
	tr.Activate("reason", "motivo", "dolor de cabeza")
	tr.SetPartial("enfermedad")
	if tr.State() != Previewing {
		t.Fatalf("state: got %v, want previewing", tr.State())
	}

	tr.DiscardPartial()
	if tr.State() != Accumulating || tr.Text() != "dolor de cabeza" {
		t.Errorf("after discard: state=%v text=%q", tr.State(), tr.Text())
	}
	prev, ok := tr.Activate("disease", "enfermedad actual", "")
	if !ok || prev.Text != "dolor de cabeza" {
		t.Errorf("flush after discard: got %+v ok=%v", prev, ok)
	}
}
