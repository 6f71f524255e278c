package matcher

import (
	"regexp"
	"strings"
)

// leadingConnectorRe matches one connector, article or punctuation run at the
// start of a captured value ("es el", "la", ", ").
var leadingConnectorRe = regexp.MustCompile(`(?i)^(?:` +
	`es\s+(?:el|la|un|una|los|las|que)\s+|` +
	`es\s+|` +
	`son\s+(?:los|las|unos|unas)?\s*|` +
	`fue\s+(?:el|la|un|una)?\s*|` +
	`(?:el|la|los|las|un|una|de|del|di)\s+|` +
	`[,.\s:;]+` +
	`)`)

// CleanCaptured strips leading connectors, articles and punctuation from a
// captured value until none remain. "es el astigmatismo" becomes
// "astigmatismo". The result may be empty.
func CleanCaptured(s string) string {
	v := strings.TrimSpace(s)
	for {
		next := strings.TrimSpace(leadingConnectorRe.ReplaceAllString(v, ""))
		if next == v {
			return v
		}
		v = next
	}
}
