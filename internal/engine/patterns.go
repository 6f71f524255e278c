package engine

import (
	"regexp"
	"slices"
	"strings"
	"unicode"

	"github.com/MrWong99/dictaform/internal/catalog"
	"github.com/MrWong99/dictaform/internal/matcher"
	"github.com/MrWong99/dictaform/internal/normalize"
	"github.com/MrWong99/dictaform/pkg/form"
)

// Fields written by the anchored and direct patterns.
const (
	EvolutionQuantityID = "attention-origin-evolution-time-input"
	EvolutionUnitID     = "attention-origin-evolution-time-unit-select"
	CurrentDiseaseID    = "attention-origin-current-disease-badge-field"
	DiagnosisID         = "diagnostic-impression-diagnosis-select"
)

// AllNormalID is the checkbox for a normal examination of both eyes.
// Contextual "normal" statements never set it.
const AllNormalID = "oftalmology-all-normal-checkbox"

// durationRe finds "<number> <time unit>" anywhere in a fragment:
// "hace 2 semanas", "1,5 meses", "3-días".
var durationRe = regexp.MustCompile(`(?i)\b(\d{1,2}(?:[.,]\d{1,2})?)\s*-?\s*(segundos?|minutos?|días?|dias?|semanas?|meses|mes|horas?|años?|anios?)(?:$|[^\p{L}\d])`)

// duration is an evolution time extracted from a fragment.
type duration struct {
	quantity string
	unit     string
}

// findDuration returns the first anchored duration in text.
func (s *Session) findDuration(text string) (duration, bool) {
	m := durationRe.FindStringSubmatch(text)
	if m == nil {
		return duration{}, false
	}
	unit, ok := normalize.TimeUnit(m[2])
	if !ok {
		return duration{}, false
	}
	return duration{
		quantity: s.norm.Normalize(strings.ReplaceAll(m[1], ",", "."), form.TypeNumber),
		unit:     unit,
	}, true
}

func isDurationTarget(id string) bool {
	return id == EvolutionQuantityID || id == EvolutionUnitID
}

// directRule captures the free text following a fixed lead-in phrase.
type directRule struct {
	target   string
	patterns []*regexp.Regexp
}

var (
	currentDiseaseRe   = regexp.MustCompile(`(?i)(?:la\s+)?enfermedad\s+actual\s*(?:es|fue|será|son)?[:.,;\s]+(.+)`)
	presentIllnessRe   = regexp.MustCompile(`(?i)padecimiento\s+actual\s*(?:es|fue)?[:.,;\s]+(.+)`)
	clinicalPictureRe  = regexp.MustCompile(`(?i)cuadro\s+cl[ií]nico\s*(?:es|fue)?[:.,;\s]+(.+)`)
	illnessHistoryRe   = regexp.MustCompile(`(?i)historia\s+de\s+(?:la\s+)?enfermedad\s*[:.,;\s]+(.+)`)
	diagnosisRe        = regexp.MustCompile(`(?i)(?:el\s+)?diagn[oó]stico\s*(?:es|fue|será)?[:.,;\s]+(.+)`)
	diagnosticImprRe   = regexp.MustCompile(`(?i)impresi[oó]n\s+diagn[oó]stica\s*(?:es|fue)?[:.,;\s]+(.+)`)
	defaultDirectRules = []directRule{
		{CurrentDiseaseID, []*regexp.Regexp{currentDiseaseRe, presentIllnessRe, clinicalPictureRe, illnessHistoryRe}},
		// The diagnosis search box shares the current-disease lead-ins.
		{DiagnosisID, []*regexp.Regexp{diagnosisRe, diagnosticImprRe, currentDiseaseRe, presentIllnessRe}},
	}
)

// directValue is one value captured by a direct rule.
type directValue struct {
	target string
	value  string
}

// findDirect applies every direct rule whose target is not filled yet. At
// most one pattern per rule contributes.
func (s *Session) findDirect(text string) []directValue {
	var out []directValue
	for _, r := range defaultDirectRules {
		if s.IsFilled(r.target) {
			continue
		}
		for _, re := range r.patterns {
			m := re.FindStringSubmatch(text)
			if m == nil {
				continue
			}
			v := matcher.CleanCaptured(m[1])
			if v == "" {
				continue
			}
			out = append(out, directValue{r.target, s.norm.Normalize(v, form.TypeTextarea)})
			break
		}
	}
	return out
}

// Eye and structure cues are matched against the folded canonical form of a
// fragment: lower case, no accents, punctuation turned into spaces.
type eyeCue struct {
	eye form.EyeSide
	re  *regexp.Regexp
}

type sectionCue struct {
	section string
	re      *regexp.Regexp
}

var (
	eyeCues = []eyeCue{
		{form.EyeRight, regexp.MustCompile(`\b(?:derech[oa]|o ?d)\b`)},
		{form.EyeLeft, regexp.MustCompile(`\b(?:izquierd[oa]|o ?i)\b`)},
		{form.EyeBoth, regexp.MustCompile(`\b(?:ambos|los dos|bilateral|a ?o)\b`)},
	}
	sectionCues = []sectionCue{
		{"cornea", regexp.MustCompile(`\bcorneal?\b`)},
		{"conjuntiva", regexp.MustCompile(`\bconjuntival?\b`)},
		{"iris", regexp.MustCompile(`\biris\b`)},
		{"pupila", regexp.MustCompile(`\bpupila(?:s|r)?\b`)},
		{"cristalino", regexp.MustCompile(`\b(?:cristalino|lente)\b`)},
		{"retina", regexp.MustCompile(`\bretin(?:a|al|iana)\b`)},
		{"vitreo", regexp.MustCompile(`\bvitreo\b`)},
		{"nervio", regexp.MustCompile(`\b(?:nervio|papilar)\b`)},
		{"macula", regexp.MustCompile(`\bmacular?\b`)},
		{"parpado", regexp.MustCompile(`\b(?:parpados?|palpebral)\b`)},
		{"esclera", regexp.MustCompile(`\bescleral?\b`)},
		{"camara", regexp.MustCompile(`\bcamara\b`)},
		{"presion", regexp.MustCompile(`\b(?:presion|pio|tonometria)\b`)},
		{"agudeza", regexp.MustCompile(`\b(?:agudeza|visual|av)\b`)},
		{"fondo", regexp.MustCompile(`\b(?:fondo de ojo|fondoscopia)\b`)},
		{"biomicroscopia", regexp.MustCompile(`\b(?:biomicroscopia|lampara de hendidura)\b`)},
		{"segmento_anterior", regexp.MustCompile(`\bsegmento anterior\b`)},
		{"segmento_posterior", regexp.MustCompile(`\bsegmento posterior\b`)},
		{"anexos", regexp.MustCompile(`\banexos\b`)},
	}

	// contextNormalRe finds "normal" said of one eye or one structure.
	contextNormalRe = regexp.MustCompile(`\b(?:ojo (?:derecho|izquierdo) normal|` +
		`(?:cornea|conjuntiva|iris|pupila|cristalino|retina|vitreo|nervio|macula|parpado|esclera|camara|fondo|segmento) (?:\w+ )?normal|` +
		`(?:od|oi|ao) normal|(?:derecho|izquierdo) (?:es )?normal)\b`)
)

// findingRule recognises one clinical finding. value may refer to submatches
// as ${1}.
type findingRule struct {
	hint  string
	value string
	re    *regexp.Regexp
}

var findingRules = []findingRule{
	{"normal", "Normal", regexp.MustCompile(`\b(?:sin alteraciones|sano|sin hallazgos|sin lesiones)\b`)},
	{"transparente", "Transparente", regexp.MustCompile(`\b(?:transparente|clara|limpia)\b`)},
	{"profunda", "Profunda", regexp.MustCompile(`\bprofunda\b`)},
	{"reactiva", "Reactiva", regexp.MustCompile(`\breactivas?\b`)},
	{"redonda", "Redonda", regexp.MustCompile(`\bredondas?\b`)},
	{"opacidad", "Opacidad", regexp.MustCompile(`\b(?:opacidad|opaco)\b`)},
	{"edema", "Edema", regexp.MustCompile(`\b(?:edema|edematosa)\b`)},
	{"hiperemia", "Hiperemia", regexp.MustCompile(`\b(?:hiperemia|hiperemica)\b`)},
	{"infiltrado", "Infiltrado", regexp.MustCompile(`\binfiltrado\b`)},
	{"neovascularizacion", "Neovascularización", regexp.MustCompile(`\b(?:neovascularizacion|neovasos)\b`)},
	{"hemorragia", "Hemorragia", regexp.MustCompile(`\bhemorragia\b`)},
	{"exudado", "Exudado", regexp.MustCompile(`\bexudados?\b`)},
	{"desprendimiento", "Desprendimiento", regexp.MustCompile(`\bdesprendimiento\b`)},
	{"catarata", "Catarata", regexp.MustCompile(`\bcatarata\b`)},
	{"glaucoma", "Glaucoma", regexp.MustCompile(`\bglaucoma\b`)},
	{"pterigion", "Pterigión", regexp.MustCompile(`\bpterigion\b`)},
	{"pinguecula", "Pingüécula", regexp.MustCompile(`\bpinguecula\b`)},
	{"agudeza", "20/20", regexp.MustCompile(`\bveinte veinte\b`)},
	{"agudeza", "20/${1}", regexp.MustCompile(`\b20 ?/? ?(20|25|30|40|50|60|80|100|200|400)\b`)},
	{"pio", "${1}", regexp.MustCompile(`\b(\d{1,2}) ?(?:mmhg|milimetros)\b`)},
}

// finding is one value extracted from a fragment.
type finding struct {
	hint  string
	value string
	pos   int
}

func foldText(text string) string {
	return catalog.Fold(catalog.Canonical(text))
}

// lastCue returns the cue mentioned last in text.
func lastCue[C any](text string, cues []C, re func(C) *regexp.Regexp) (C, bool) {
	var best C
	bestEnd := -1
	for _, c := range cues {
		for _, loc := range re(c).FindAllStringIndex(text, -1) {
			if loc[1] > bestEnd {
				best, bestEnd = c, loc[1]
			}
		}
	}
	return best, bestEnd >= 0
}

// updateContext moves the current eye and section to the last ones the
// fragment mentions.
func (s *Session) updateContext(folded string) {
	if c, ok := lastCue(folded, eyeCues, func(c eyeCue) *regexp.Regexp { return c.re }); ok && c.eye != s.eye {
		s.eye = c.eye
		s.log.Debug("engine: eye context", "eye", s.eye)
	}
	if c, ok := lastCue(folded, sectionCues, func(c sectionCue) *regexp.Regexp { return c.re }); ok && c.section != s.section {
		s.section = c.section
		s.log.Debug("engine: section context", "section", s.section)
	}
}

// findFindings extracts the clinical findings in folded in spoken order, at
// most one per rule.
func findFindings(folded string) []finding {
	var out []finding
	for _, r := range findingRules {
		idx := r.re.FindStringSubmatchIndex(folded)
		if idx == nil {
			continue
		}
		out = append(out, finding{r.hint, string(r.re.ExpandString(nil, r.value, folded, idx)), idx[0]})
	}
	slices.SortStableFunc(out, func(a, b finding) int { return a.pos - b.pos })
	return out
}

// contextual reports whether f is an empty free-text field compatible with
// the current eye. Without an eye, or with both, every side qualifies.
// Fields without an eye are checked for a contradicting side in their
// identifier.
func (s *Session) contextual(f form.FieldDescriptor) bool {
	if s.IsFilled(f.ID) {
		return false
	}
	if ft := s.FieldType(f.ID); ft != form.TypeTextarea && ft != form.TypeText {
		return false
	}
	if s.eye == "" || s.eye == form.EyeBoth {
		return true
	}
	if f.Eye != "" {
		return strings.EqualFold(string(f.Eye), string(s.eye))
	}
	other := map[form.EyeSide][]string{
		form.EyeRight: {"oi", "izquierdo", "left"},
		form.EyeLeft:  {"od", "derecho", "right"},
	}[s.eye]
	for _, tok := range strings.FieldsFunc(strings.ToLower(f.ID+" "+f.UniqueKey), isIDSeparator) {
		if slices.Contains(other, tok) {
			return false
		}
	}
	return true
}

func isIDSeparator(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

// sectionFields returns the free-text fields of the current section and eye.
func (s *Session) sectionFields() []form.FieldDescriptor {
	if s.section == "" {
		return nil
	}
	var out []form.FieldDescriptor
	for _, f := range s.schema.Fields() {
		if strings.EqualFold(catalog.Fold(f.Section), s.section) && s.contextual(f) {
			out = append(out, f)
		}
	}
	return out
}

// findingFields returns the fields a finding addresses by name, preferring
// those in the current section. Without such fields the finding goes to the
// current section.
func (s *Session) findingFields(hint string) []form.FieldDescriptor {
	var best []form.FieldDescriptor
	bestScore := 0.0
	for _, f := range s.schema.Fields() {
		if !s.contextual(f) {
			continue
		}
		var score float64
		switch {
		case strings.Contains(strings.ToLower(f.ID+" "+f.UniqueKey), hint):
			score = 0.5
		case strings.Contains(foldText(f.Label), hint):
			score = 0.3
		default:
			continue
		}
		if s.section != "" && f.Section != "" {
			if strings.EqualFold(catalog.Fold(f.Section), s.section) {
				score += 0.2
			} else {
				score *= 0.5
			}
		}
		switch {
		case score > bestScore:
			best, bestScore = []form.FieldDescriptor{f}, score
		case score == bestScore:
			best = append(best, f)
		}
	}
	if len(best) == 0 {
		return s.sectionFields()
	}
	return best
}

// contextNormal fills the fields of the current section with "Normal" when
// the fragment calls one eye or structure normal. found is false when no
// field qualifies, which leaves the fragment to the rest of the cascade.
func (s *Session) contextNormal(out []form.Update, folded, src string) ([]form.Update, bool) {
	if !contextNormalRe.MatchString(folded) {
		return out, false
	}
	fields := s.sectionFields()
	if len(fields) == 0 {
		s.log.Debug("engine: contextual normal without section field", "eye", s.eye, "section", s.section)
		return out, false
	}
	for _, f := range fields {
		out = s.commit(out, f.ID, "Normal", form.ConfidenceContext, src)
	}
	s.log.Debug("engine: contextual normal", "eye", s.eye, "section", s.section, "fields", len(fields))
	return out, true
}

// contextFindings writes the clinical findings of an otherwise unmatched
// fragment to the fields they address. Several findings for one field are
// joined in spoken order.
func (s *Session) contextFindings(out []form.Update, folded, src string) ([]form.Update, bool) {
	var order []string
	values := map[string][]string{}
	for _, fd := range findFindings(folded) {
		for _, f := range s.findingFields(fd.hint) {
			if _, seen := values[f.ID]; !seen {
				order = append(order, f.ID)
			}
			if !slices.Contains(values[f.ID], fd.value) {
				values[f.ID] = append(values[f.ID], fd.value)
			}
		}
	}
	for _, id := range order {
		out = s.commit(out, id, strings.Join(values[id], ", "), form.ConfidenceMapper, src)
	}
	return out, len(order) > 0
}
