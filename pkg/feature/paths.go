package feature

import (
	"fmt"
	"sort"
	"strings"
)

// UnknownPathTypeError reports a path type outside the supported enumeration.
type UnknownPathTypeError struct {
	Type      string
	Supported []string
}

func (e *UnknownPathTypeError) Error() string {
	return fmt.Sprintf("unknown path type %q; supported types: %s",
		e.Type, strings.Join(e.Supported, ", "))
}

// pathTemplates is the closed enumeration of feature-scoped path types.
// Templates use the same {{key}} substitution as workflow instructions; the
// available keys are feature, epic, epic_name, story, and date.
var pathTemplates = map[string]string{
	"feature_dir":            "docs/features/{{feature}}",
	"prd":                    "docs/features/{{feature}}/prd.md",
	"architecture":           "docs/features/{{feature}}/architecture.md",
	"readme":                 "docs/features/{{feature}}/README.md",
	"epics_overview":         "docs/features/{{feature}}/epics.md",
	"qa_folder":              "docs/features/{{feature}}/qa",
	"retrospectives_folder":  "docs/features/{{feature}}/retrospectives",
	"standups_folder":        "docs/features/{{feature}}/standups",
	"epic_folder":            "docs/features/{{feature}}/epic-{{epic}}",
	"epic_location":          "docs/features/{{feature}}/epic-{{epic}}/epic-{{epic}}-{{epic_name}}.md",
	"story_folder":           "docs/features/{{feature}}/epic-{{epic}}/stories",
	"story_location":         "docs/features/{{feature}}/epic-{{epic}}/stories/story-{{epic}}.{{story}}.md",
	"context_xml_folder":     "docs/features/{{feature}}/epic-{{epic}}/context",
	"retrospective_location": "docs/features/{{feature}}/retrospectives/epic-{{epic}}-retro-{{date}}.md",
	"standup_location":       "docs/features/{{feature}}/standups/standup-{{date}}.md",
}

// SupportedPathTypes returns the path type enumeration, sorted.
func SupportedPathTypes() []string {
	types := make([]string, 0, len(pathTemplates))
	for t := range pathTemplates {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// GeneratePath expands a single path type for a feature. vars may carry epic,
// epic_name, story, and date.
func GeneratePath(pathType, feature string, vars map[string]string) (string, error) {
	tmpl, ok := pathTemplates[pathType]
	if !ok {
		return "", &UnknownPathTypeError{Type: pathType, Supported: SupportedPathTypes()}
	}
	return expand(tmpl, feature, vars), nil
}

// GeneratePaths expands the full path family for a feature. Path types whose
// templates reference unbound keys are omitted.
func (r *Resolver) GeneratePaths(feature string, vars map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(pathTemplates))
	for pathType, tmpl := range pathTemplates {
		p := expand(tmpl, feature, vars)
		if strings.Contains(p, "{{") {
			continue
		}
		out[pathType] = p
	}
	return out, nil
}

func expand(tmpl, feature string, vars map[string]string) string {
	pairs := []string{"{{feature}}", feature}
	for _, key := range []string{"epic", "epic_name", "story", "date"} {
		if v, ok := vars[key]; ok && v != "" {
			pairs = append(pairs, "{{"+key+"}}", v)
		}
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}
