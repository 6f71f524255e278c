package catalog

import (
	"maps"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/MrWong99/dictaform/pkg/form"
)

// Generic words that appear naturally in clinical dictation. They never become
// dynamic triggers even when a label contains them.
var labelBlacklist = setOf(
	"ambos ojos", "ambos", "ojos", "normal", "examen", "examen normal",
	"normal en", "en ambos", "en ambos ojos", "normal en ambos",
	"ojo", "derecho", "izquierdo", "ojo derecho", "ojo izquierdo",
	"bilateral", "los dos",
	"ocular", "preconsulta", "signos", "vitales", "signos vitales",
	"medicamentosa", "conciliación", "conciliacion",
	"ortopédica", "ortopedica",
	"enfermedad", "enfermedades",
	"actual",
	"observaciones", "observacion", "observación",
	"notas", "comentarios",
	"análisis", "analisis", "plan", "y plan", "analisis y", "análisis y",
	"consulta", "consulta por", "motivo", "de consulta", "motivo de",
	"cuadro", "cuadro clínico", "cuadro clinico",
	"padecimiento", "padecimiento actual",
	"generales", "general", "en general", "oculares", "familiares",
	"antecedentes", "antecedente",
)

// Medical synonyms added for any label containing the key.
var labelSynonyms = []struct {
	contains string
	synonyms []string
}{
	{"presión intraocular", []string{"pio", "tonometría", "tonometria"}},
	{"agudeza visual", []string{"agudeza", "av", "visual"}},
	{"refracción", []string{"refraccion", "refraction"}},
	{"córnea", []string{"cornea", "corneal"}},
}

const (
	minWordRunes  = 3
	minNGramRunes = 5
)

// Layer is the per-session dynamic phrase set derived from the form on
// screen. A nil *Layer is valid and empty.
type Layer struct {
	phrases  []Phrase
	variants map[string][]string
}

// Fields returns the dynamic field phrases in declaration order.
func (l *Layer) Fields() []Phrase {
	if l == nil {
		return nil
	}
	return l.phrases
}

// Len returns the number of dynamic phrases.
func (l *Layer) Len() int {
	if l == nil {
		return 0
	}
	return len(l.phrases)
}

// Variants returns the dynamic phrases that activate target, longest first.
func (l *Layer) Variants(target string) []string {
	if l == nil {
		return nil
	}
	return l.variants[target]
}

// Builder assembles a [Layer] from form labels and manual mappings. A Builder
// is used once per schema message and is not safe for concurrent use.
type Builder struct {
	static  *Catalog
	phrases []Phrase
	index   map[string]int
}

// NewBuilder returns a Builder whose phrases are ordered after every phrase in
// static.
func NewBuilder(static *Catalog) *Builder {
	return &Builder{
		static: static,
		index:  make(map[string]int),
	}
}

// AddFields derives trigger phrases from the keywords and labels of fields.
// Phrases already registered (statically or by an earlier field) are never
// overwritten.
func (b *Builder) AddFields(fields []form.FieldDescriptor) *Builder {
	for _, f := range fields {
		if f.ID == "" {
			continue
		}
		for _, kw := range f.Keywords {
			b.add(Canonical(kw), f.ID, false)
		}
		label := Canonical(f.Label)
		if label == "" {
			continue
		}
		switch {
		case strings.Contains(f.ID, "select-default-"):
			// Placeholder entries of dropdowns.
		case strings.HasPrefix(f.ID, "select-option-"):
			// Option IDs are reused by every dropdown, only the full label is
			// specific enough.
			b.add(label, f.ID, false)
		default:
			for _, kw := range LabelKeywords(label) {
				b.add(kw, f.ID, false)
			}
		}
	}
	return b
}

// AddManual registers explicit phrase to target mappings. Unlike label
// derived phrases these replace earlier dynamic entries for the same phrase.
func (b *Builder) AddManual(mappings map[string]string) *Builder {
	for _, k := range slices.Sorted(maps.Keys(mappings)) {
		target := strings.TrimSpace(mappings[k])
		if target == "" {
			continue
		}
		b.add(Canonical(k), target, true)
	}
	return b
}

func (b *Builder) add(text, target string, replace bool) {
	if utf8.RuneCountInString(text) < 2 {
		return
	}
	if b.static != nil && b.static.HasField(text) {
		return
	}
	if i, ok := b.index[text]; ok {
		if replace {
			b.phrases[i].Target = target
		}
		return
	}
	base := 0
	if b.static != nil {
		base = b.static.Len()
	}
	b.index[text] = len(b.phrases)
	b.phrases = append(b.phrases, Phrase{
		Text:    text,
		Target:  target,
		Kind:    KindField,
		Order:   base + len(b.phrases),
		Dynamic: true,
	})
}

// Build returns the assembled layer. The Builder must not be used afterwards.
func (b *Builder) Build() *Layer {
	l := &Layer{
		phrases:  b.phrases,
		variants: make(map[string][]string),
	}
	for _, p := range l.phrases {
		l.variants[p.Target] = append(l.variants[p.Target], p.Text)
	}
	for target := range l.variants {
		sortLongestFirst(l.variants[target])
	}
	return l
}

// LabelKeywords derives candidate trigger phrases from a canonical label: the
// full label, every run of consecutive words of at least five characters,
// single words of at least three characters, accent-free variants of all of
// them and any medical synonyms. Blacklisted generic words are dropped.
func LabelKeywords(label string) []string {
	words := strings.Fields(label)
	var out []string
	seen := make(map[string]struct{})
	push := func(kw string) {
		if _, ok := seen[kw]; ok {
			return
		}
		seen[kw] = struct{}{}
		out = append(out, kw)
	}

	var base []string
	base = append(base, label)
	for n := len(words); n >= 2; n-- {
		for i := 0; i+n <= len(words); i++ {
			if p := strings.Join(words[i:i+n], " "); utf8.RuneCountInString(p) >= minNGramRunes {
				base = append(base, p)
			}
		}
	}
	for _, w := range words {
		if utf8.RuneCountInString(w) >= minWordRunes {
			base = append(base, w)
		}
	}
	for _, kw := range base {
		for _, v := range withFolded(kw) {
			if _, bad := labelBlacklist[v]; bad || utf8.RuneCountInString(v) < minWordRunes {
				continue
			}
			push(v)
		}
	}

	for _, s := range labelSynonyms {
		if strings.Contains(label, s.contains) {
			for _, syn := range s.synonyms {
				push(syn)
			}
		}
	}
	return out
}

func setOf(items ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(items))
	for _, it := range items {
		m[it] = struct{}{}
	}
	return m
}
