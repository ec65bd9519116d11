package workflow

import "strings"

// RenderTemplate substitutes {{key}} placeholders with values. Substitution is
// literal and non-recursive: replacement values are never re-scanned for
// placeholders, so backslashes (native path separators) survive unchanged.
// Unresolved placeholders pass through as-is.
func RenderTemplate(template string, vars map[string]string) string {
	if len(vars) == 0 {
		return template
	}
	pairs := make([]string, 0, len(vars)*2)
	for key, value := range vars {
		pairs = append(pairs, "{{"+key+"}}", value)
	}
	// strings.Replacer performs a single left-to-right pass, which gives the
	// non-recursive guarantee above.
	return strings.NewReplacer(pairs...).Replace(template)
}

// HasUnresolved reports whether the rendered string still contains a
// {{...}} placeholder.
func HasUnresolved(rendered string) bool {
	open := strings.Index(rendered, "{{")
	if open < 0 {
		return false
	}
	return strings.Contains(rendered[open:], "}}")
}
