// Package normalize converts raw dictated text into the canonical value a
// form field expects: ISO dates, fixed enumeration labels, plain numbers,
// boolean strings and capitalised free text.
//
// Normalisation is idempotent: feeding a normalised value back through
// [Normalizer.Normalize] with the same field type returns it unchanged.
package normalize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/MrWong99/dictaform/pkg/form"
)

var (
	longDateRe = regexp.MustCompile(`(?i)^(\d{1,2})\s+de\s+(enero|febrero|marzo|abril|mayo|junio|julio|agosto|septiembre|octubre|noviembre|diciembre)(?:\s+(?:de\s+|del\s+)?(\d{4}))?$`)
	numDateRe  = regexp.MustCompile(`^(\d{1,2})[/\-](\d{1,2})[/\-](\d{2}|\d{4})$`)

	affirmativeRe = regexp.MustCompile(`(?i)(?:^|[^\p{L}\d])(sí|si|afirmativo|correcto|marcar|activar|yes|true|1)(?:$|[^\p{L}\d])`)
	negativeRe    = regexp.MustCompile(`(?i)(?:^|[^\p{L}\d])(no|negativo|desactivar|quitar|false|0)(?:$|[^\p{L}\d])`)
)

var months = map[string]int{
	"enero": 1, "febrero": 2, "marzo": 3, "abril": 4,
	"mayo": 5, "junio": 6, "julio": 7, "agosto": 8,
	"septiembre": 9, "octubre": 10, "noviembre": 11, "diciembre": 12,
}

// originOfCare maps spoken categories to the labels of the origin-of-care
// select.
var originOfCare = map[string]string{
	"general":                      "Enfermedad general",
	"enfermedad general":           "Enfermedad general",
	"url":                          "Accidente de trabajo",
	"laboral":                      "Accidente de trabajo",
	"accidente laboral":            "Accidente de trabajo",
	"accidente de trabajo":         "Accidente de trabajo",
	"profesional":                  "Enfermedad profesional",
	"enfermedad profesional":       "Enfermedad profesional",
	"transito":                     "SOAT (Accidente de tránsito)",
	"tránsito":                     "SOAT (Accidente de tránsito)",
	"soat":                         "SOAT (Accidente de tránsito)",
	"soat tránsito":                "SOAT (Accidente de tránsito)",
	"soat transito":                "SOAT (Accidente de tránsito)",
	"soat (accidente de tránsito)": "SOAT (Accidente de tránsito)",
}

// timeUnits maps spoken evolution-time units to the labels of the unit
// select.
var timeUnits = map[string]string{
	"segundo": "Segundo(s)", "segundos": "Segundo(s)", "segundo(s)": "Segundo(s)",
	"minuto": "Minuto(s)", "minutos": "Minuto(s)", "minuto(s)": "Minuto(s)",
	"hora": "Hora(s)", "horas": "Hora(s)", "hora(s)": "Hora(s)",
	"dia": "Día(s)", "día": "Día(s)", "dias": "Día(s)", "días": "Día(s)", "día(s)": "Día(s)",
	"semana": "Semana(s)", "semanas": "Semana(s)", "semana(s)": "Semana(s)",
	"mes": "Mes(es)", "meses": "Mes(es)", "mes(es)": "Mes(es)",
	"año": "Año(s)", "años": "Año(s)", "año(s)": "Año(s)", "anio": "Año(s)", "anios": "Año(s)",
}

// Option configures a [Normalizer].
type Option func(*Normalizer)

// WithClock sets the time source used to resolve relative dates such as
// "hoy" and "ayer". Default: [time.Now].
func WithClock(now func() time.Time) Option {
	return func(n *Normalizer) {
		n.now = now
	}
}

// Normalizer is stateless apart from its clock and safe for concurrent use.
type Normalizer struct {
	now func() time.Time
}

// New returns a Normalizer configured with opts.
func New(opts ...Option) *Normalizer {
	n := &Normalizer{now: time.Now}
	for _, o := range opts {
		o(n)
	}
	return n
}

// Normalize returns the canonical form of raw for a field of type ft.
// Checks run in order: date expressions, enumeration maps, then type rules.
func (n *Normalizer) Normalize(raw string, ft form.FieldType) string {
	if strings.TrimSpace(raw) == "" {
		return raw
	}
	if d, ok := n.date(raw); ok {
		return d
	}

	key := stripMarks(strings.TrimSuffix(strings.ToLower(strings.TrimSpace(raw)), "."))
	key = strings.TrimSpace(key)
	if v, ok := originOfCare[key]; ok {
		return v
	}
	if v, ok := timeUnits[key]; ok {
		return v
	}

	switch ft {
	case form.TypeNumber:
		return number(raw)
	case form.TypeCheckbox:
		return checkbox(raw)
	case form.TypeText, form.TypeTextarea:
		return capitalise(strings.TrimSpace(stripMarks(raw)))
	}
	return raw
}

// TimeUnit returns the select label for a spoken evolution-time unit.
func TimeUnit(word string) (string, bool) {
	v, ok := timeUnits[strings.ToLower(strings.TrimSpace(word))]
	return v, ok
}

func (n *Normalizer) date(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	lower := strings.ToLower(s)
	today := n.now()

	switch lower {
	case "hoy":
		return today.Format(time.DateOnly), true
	case "ayer":
		return today.AddDate(0, 0, -1).Format(time.DateOnly), true
	}

	if m := longDateRe.FindStringSubmatch(s); m != nil {
		day, _ := strconv.Atoi(m[1])
		year := today.Year()
		if m[3] != "" {
			year, _ = strconv.Atoi(m[3])
		}
		return fmt.Sprintf("%04d-%02d-%02d", year, months[strings.ToLower(m[2])], day), true
	}
	if m := numDateRe.FindStringSubmatch(s); m != nil {
		day, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		year := m[3]
		if len(year) == 2 {
			year = "20" + year
		}
		return fmt.Sprintf("%s-%02d-%02d", year, month, day), true
	}
	return "", false
}

func number(raw string) string {
	cleaned := strings.ReplaceAll(strings.TrimSpace(raw), ",", ".")
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return raw
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func checkbox(raw string) string {
	lower := strings.ToLower(raw)
	if affirmativeRe.MatchString(lower) {
		return "true"
	}
	if negativeRe.MatchString(lower) {
		return "false"
	}
	return raw
}

// stripMarks removes punctuation that dictation inserts but form values never
// carry. A comma between two digits is a decimal separator and stays.
func stripMarks(s string) string {
	rs := []rune(s)
	var b strings.Builder
	b.Grow(len(s))
	for i, r := range rs {
		switch r {
		case '?', '¿', '!', '¡':
			continue
		case ',':
			if i == 0 || i == len(rs)-1 || !unicode.IsDigit(rs[i-1]) || !unicode.IsDigit(rs[i+1]) {
				continue
			}
		}
		b.WriteRune(r)
	}
	return b.String()
}

// capitalise upper-cases the first letter and leaves the rest untouched so
// acronyms and proper names survive.
func capitalise(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError || unicode.IsUpper(r) {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
