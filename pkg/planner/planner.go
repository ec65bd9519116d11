// Package planner classifies a project request into a scale level and project
// type, then maps the classification to an ordered workflow sequence.
package planner

import (
	"context"
	"log/slog"

	"github.com/memyselfmike/gao-agile-dev-sub008/pkg/models"
)

// Analysis is the classification returned by the external analysis service.
type Analysis struct {
	ScaleLevel         models.ScaleLevel `json:"scale_level"`
	ProjectType        models.ProjectType `json:"project_type"`
	EstimatedStories   int                `json:"estimated_stories"`
	EstimatedEpics     int                `json:"estimated_epics"`
	Confidence         float64            `json:"confidence"`
	NeedsClarification bool               `json:"needs_clarification"`
	Questions          []string           `json:"questions,omitempty"`
}

// Analyzer is the external analysis service boundary.
type Analyzer interface {
	Analyze(ctx context.Context, prompt string) (*Analysis, error)
}

// Plan is an ordered workflow sequence: setup workflows run once, loop
// workflows repeat per story. A non-empty Questions list means the caller
// must supply answers and re-plan before anything runs.
type Plan struct {
	Analysis     Analysis
	Setup        []string
	Loop         []string
	JITTechSpecs bool
	Questions    []string
}

// WorkflowSet reports which workflow names are installed. Satisfied by the
// workflow registry.
type WorkflowSet interface {
	Has(name string) bool
}

// clarificationQuestions are the canned questions returned when analysis
// fails and a conservative default classification is used.
var clarificationQuestions = []string{
	"What is the primary goal of this project?",
	"Is this a new codebase or a change to an existing one?",
	"Roughly how many distinct features do you expect?",
}

// Planner builds workflow sequences from request classifications.
type Planner struct {
	analyzer  Analyzer
	workflows WorkflowSet
}

// New creates a planner.
func New(analyzer Analyzer, workflows WorkflowSet) *Planner {
	return &Planner{analyzer: analyzer, workflows: workflows}
}

// PlanRequest classifies the prompt and builds the workflow sequence for it.
// Analysis failure degrades to a conservative default classification that
// asks for clarification rather than guessing.
func (p *Planner) PlanRequest(ctx context.Context, prompt string) (*Plan, error) {
	analysis, err := p.analyzer.Analyze(ctx, prompt)
	if err != nil {
		slog.Warn("Analysis service failed, using conservative default", "error", err)
		analysis = &Analysis{
			ScaleLevel:         models.ScaleLevel2,
			ProjectType:        models.ProjectSoftware,
			NeedsClarification: true,
			Questions:          clarificationQuestions,
		}
	}

	if analysis.NeedsClarification {
		questions := analysis.Questions
		if len(questions) == 0 {
			questions = clarificationQuestions
		}
		return &Plan{Analysis: *analysis, Questions: questions}, nil
	}

	plan := p.route(*analysis)
	plan.Setup = p.filterInstalled(plan.Setup)
	plan.Loop = p.filterInstalled(plan.Loop)
	return plan, nil
}

// route applies the fixed routing table plus the brownfield and game
// overrides.
func (p *Planner) route(a Analysis) *Plan {
	plan := &Plan{Analysis: a}

	if a.ProjectType == models.ProjectGame {
		plan.Setup = []string{"game-brief", "gdd"}
		if a.ScaleLevel >= models.ScaleLevel3 {
			plan.Setup = append(plan.Setup, "architecture")
		}
		plan.Loop = storyLoop(a.ScaleLevel)
		plan.JITTechSpecs = a.ScaleLevel >= models.ScaleLevel3
		return plan
	}

	switch a.ScaleLevel {
	case models.ScaleLevel0, models.ScaleLevel1:
		plan.Setup = []string{"tech-spec"}
	case models.ScaleLevel2:
		plan.Setup = []string{"prd", "tech-spec"}
	default: // levels 3 and 4
		plan.Setup = []string{"prd", "architecture"}
		plan.JITTechSpecs = true
	}
	plan.Loop = storyLoop(a.ScaleLevel)

	// Brownfield always documents the existing project first.
	if a.ProjectType == models.ProjectBrownfield {
		plan.Setup = append([]string{"document-project"}, plan.Setup...)
	}
	return plan
}

// storyLoop returns the per-story loop for a scale level. Levels 3 and up
// generate tech specs just in time inside the loop.
func storyLoop(level models.ScaleLevel) []string {
	if level >= models.ScaleLevel3 {
		return []string{"tech-spec", "create-story", "dev-story", "story-done"}
	}
	return []string{"create-story", "dev-story", "story-done"}
}


// filterInstalled drops workflows missing from the registry, warning per drop.
func (p *Planner) filterInstalled(names []string) []string {
	out := names[:0:0]
	for _, name := range names {
		if !p.workflows.Has(name) {
			slog.Warn("Planned workflow not installed, skipping", "workflow", name)
			continue
		}
		out = append(out, name)
	}
	return out
}
