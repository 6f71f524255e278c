// Package relevance decides whether dictated text that no trigger phrase
// claimed is worth sending to the free-text mapper, and which section prompt
// should handle it.
//
// Both functions are pure regular-expression checks and safe for concurrent
// use.
package relevance

import (
	"regexp"
	"strings"
)

// Section names returned by [ClassifySection].
const (
	SectionAttentionOrigin = "attention-origin"
)

// wordStart and wordEnd delimit whole words, accented letters included.
const (
	wordStart = `(?:^|[^\p{L}\p{N}_])`
	wordEnd   = `(?:$|[^\p{L}\p{N}_])`
)

// casualPatterns match greetings, courtesy and instructions to the patient.
var casualPatterns = compileAll(
	`^\s*(?:hola|buenos?\s+(?:días|tardes|noches))\s*$`,
	`^\s*(?:cómo\s+(?:está|estás|se\s+siente|le\s+va|amaneció))`,
	`^\s*(?:mucho\s+gusto|un\s+placer|encantado)`,
	`^\s*(?:gracias|muchas\s+gracias|de\s+nada)`,
	`^\s*(?:sí|no|ok|bueno|listo|vale|claro|perfecto|entiendo)\s*$`,
	`^\s*(?:siéntese|siéntate|pase|tome\s+asiento|póngase\s+cómodo)`,
	`^\s*(?:me\s+(?:llamo|nombre)|soy\s+el\s+doctor)`,
	`^\s*(?:cuántos\s+años\s+tiene|qué\s+edad|dónde\s+vive)`,
	`^\s*(?:vamos\s+a\s+(?:ver|revisar|examinar|empezar))`,
	`^\s*(?:mire\s+(?:aquí|acá|hacia)|abra\s+los\s+ojos|cierre)`,
	`^\s*(?:un\s+momento|espere|ya\s+(?:casi|terminamos))`,
	`^\s*(?:tiene\s+(?:alguna\s+)?(?:pregunta|duda|consulta))`,
	`^\s*(?:nos\s+vemos|hasta\s+(?:luego|pronto)|cuídese|chao|adiós)`,
	`^\s*(?:le\s+voy\s+a\s+(?:poner|aplicar|echar)\s+unas?\s+gotas)`,
	`^\s*(?:no\s+se\s+preocupe|tranquilo|está\s+bien|todo\s+(?:bien|normal))\s*$`,
	`^\s*(?:qué\s+(?:lo|le)\s+trae|cuál\s+es\s+el\s+motivo)`,
)

// clinicalTerms is the vocabulary of the ophthalmology consultation.
var clinicalTerms = []string{
	// anatomy
	`córnea`, `cornea`, `conjuntiva`, `iris`, `pupila`, `cristalino`, `retina`, `vítreo`, `vitreo`,
	`nervio`, `mácula`, `macula`, `párpado`, `parpado`, `esclera`, `cámara`, `camara`,
	// findings
	`normal`, `transparente`, `opacidad`, `edema`, `hiperemia`, `infiltrado`, `hemorragia`,
	`exudado`, `catarata`, `glaucoma`, `pterigión`, `pterigion`, `desprendimiento`,
	`neovascularización`, `neovasos`, `reactiva`, `redonda`, `profunda`,
	// measurements
	`agudeza`, `visual`, `presión`, `presion`, `pio`, `tonometría`, `tonometria`,
	`20\s*/\s*\d+`, `mmhg`, `dioptrías`, `dioptrias`,
	// eyes
	`ojo\s+derecho`, `ojo\s+izquierdo`, `ambos\s+ojos`, `od`, `oi`, `ao`,
	`derecho`, `izquierdo`, `bilateral`,
	// exam sections
	`biomicroscopia`, `lámpara`, `lampara`, `fondo\s+de\s+ojo`, `fondoscopia`,
	`segmento\s+anterior`, `segmento\s+posterior`, `anexos`,
	// drugs
	`tropicamida`, `fenilefrina`, `ciclopentolato`, `atropina`, `latanoprost`,
	`timolol`, `dorzolamida`, `brimonidina`,
	// clinical actions
	`dilatación`, `dilatacion`, `dilatar`, `refracción`, `refraccion`,
	`diagnóstico`, `diagnostico`, `tratamiento`, `hallazgo`,
	// history fields and evolution time
	`motivo\s+de\s+consulta`, `enfermedad\s+actual`, `consulta\s+por`, `viene\s+por`,
	`origen`, `general`, `evento\s+adverso`, `soat`, `tránsito`, `transito`, `url`, `laboral`, `profesional`, `resultados`,
	`padecimiento`, `cuadro\s+clínico`, `cuadro\s+clinico`,
	`antecedente`, `alergia`, `medicamento`, `cirugía`, `cirugia`,
	`evolución`, `evolucion`, `tiempo`, `cantidad`, `valor`, `unidad`,
	`segundos?`, `minutos?`, `horas?`, `días?`, `dias?`, `semanas?`, `meses`, `mes`, `años?`, `anios?`,
	// fall risk
	`clasificación`, `clasificacion`, `riesgo\s+de\s+caída`, `riesgo\s+de\s+caida`,
	`caídas?\s+previas?`, `caidas?\s+previas?`, `déficit\s+sensorial`, `deficit\s+sensorial`,
	`estado\s+mental`, `marcha\s+actual`, `medicación\s+actual`, `medicacion\s+actual`,
	`difícil\s+sensorial`, `dificil\s+sensorial`, `sensorial`, `mental`, `marcha`, `caídas`, `caidas`, `medicación`, `medicacion`,
	// preconsultation navigation
	`signos\s+vitales`, `tamizaje`, `conciliación`, `conciliacion`, `medicamentosa`, `dilatado`,
	`ortopédica`, `ortopedica`, `ortóptica`, `ortoptica`, `preconsulta`,
	// clear commands
	`borrar`, `limpiar`, `deshacer`,
	// external exam
	`externo`, `hallazgos`, `justificación`, `justificacion`, `guardar`,
	`texto\s+predefinido`, `buscar\s+texto`,
	`párpados`, `parpados`, `simétricos`, `simetricos`, `edema\s+palpebral`,
	`pestañas`, `pestanas`, `distribución`, `distribucion`, `uniformes?`,
	`movimientos\s+oculares`, `conjugados`, `lesiones`, `lesión`, `lesion`, `rosácea`, `rosacea`,
	// unremarkable
	`sin\s+alteraciones`, `sin\s+hallazgos`, `sin\s+lesiones`, `sano`,
}

var (
	clinicalRe = regexp.MustCompile(`(?i)` + wordStart + `(?:` + strings.Join(clinicalTerms, "|") + `)` + wordEnd)

	fractionRe    = regexp.MustCompile(wordStart + `\d{1,2}\s*/\s*\d{1,3}` + wordEnd)
	millimetresRe = regexp.MustCompile(`(?i)` + wordStart + `\d{1,2}\s*(?:mmhg|mm)` + wordEnd)
)

// minWords is the shortest text considered at all; ambiguousWords is the
// length from which unclassified text is passed on anyway.
const (
	minWords       = 2
	ambiguousWords = 5
)

// IsClinicallyRelevant reports whether text carries clinical content rather
// than conversation with the patient. Long text that matches nothing is
// considered relevant so the mapper can decide.
func IsClinicallyRelevant(text string) bool {
	text = strings.TrimSpace(text)
	words := len(strings.Fields(text))
	if words < minWords {
		return false
	}
	for _, re := range casualPatterns {
		if re.MatchString(text) {
			return false
		}
	}
	switch {
	case clinicalRe.MatchString(text):
		return true
	case fractionRe.MatchString(text), millimetresRe.MatchString(text):
		return true
	}
	return words >= ambiguousWords
}

type section struct {
	name     string
	patterns []*regexp.Regexp
}

// sections are tried in order.
var sections = []section{
	{SectionAttentionOrigin, compileAll(
		wordStart+`(?:motivo|consulta)`+wordEnd,
		wordStart+`(?:enfermedad\s+actual|padecimiento\s+actual)`+wordEnd,
		wordStart+`(?:viene\s+por|consulta\s+por|acude\s+por)`+wordEnd,
	)},
}

// ClassifySection returns the form section text belongs to, or "" and false
// when no section keyword occurs.
func ClassifySection(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", false
	}
	for _, s := range sections {
		for _, re := range s.patterns {
			if re.MatchString(text) {
				return s.name, true
			}
		}
	}
	return "", false
}

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(`(?i)` + p)
	}
	return out
}
