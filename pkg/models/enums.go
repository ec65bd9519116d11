package models

import "fmt"

// ScaleLevel estimates project size on an ordinal 0-4 scale. It selects the
// workflow routing table entry and the ceremony cadence.
type ScaleLevel int

// Scale levels, smallest to largest.
const (
	ScaleLevel0 ScaleLevel = iota // atomic — single story, no planning docs
	ScaleLevel1                   // small — tech spec plus story loop
	ScaleLevel2                   // medium — PRD before tech spec
	ScaleLevel3                   // large — architecture phase, JIT tech specs
	ScaleLevel4                   // enterprise — level 3 with mandatory JIT specs
)

var scaleLevelNames = map[ScaleLevel]string{
	ScaleLevel0: "atomic",
	ScaleLevel1: "small",
	ScaleLevel2: "medium",
	ScaleLevel3: "large",
	ScaleLevel4: "enterprise",
}

func (l ScaleLevel) String() string {
	if name, ok := scaleLevelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("level_%d", int(l))
}

// IsValid reports whether l is one of the defined scale levels.
func (l ScaleLevel) IsValid() bool {
	_, ok := scaleLevelNames[l]
	return ok
}

// ProjectType classifies the kind of project a request describes.
type ProjectType string

// Project types.
const (
	ProjectGreenfield  ProjectType = "greenfield"
	ProjectBrownfield  ProjectType = "brownfield"
	ProjectGame        ProjectType = "game"
	ProjectSoftware    ProjectType = "software"
	ProjectBugFix      ProjectType = "bug_fix"
	ProjectEnhancement ProjectType = "enhancement"
)

// IsValid reports whether t is a known project type.
func (t ProjectType) IsValid() bool {
	switch t {
	case ProjectGreenfield, ProjectBrownfield, ProjectGame,
		ProjectSoftware, ProjectBugFix, ProjectEnhancement:
		return true
	}
	return false
}

// EpicStatus is the lifecycle state of an epic.
type EpicStatus string

// Epic statuses.
const (
	EpicPlanned    EpicStatus = "planned"
	EpicInProgress EpicStatus = "in_progress"
	EpicDone       EpicStatus = "done"
)

// StoryStatus is the lifecycle state of a story. Transitions are monotonic
// forward; rework increments a counter instead of reverting from done.
type StoryStatus string

// Story statuses.
const (
	StoryPending    StoryStatus = "pending"
	StoryInProgress StoryStatus = "in_progress"
	StoryInReview   StoryStatus = "in_review"
	StoryDone       StoryStatus = "done"
)

var storyStatusOrder = map[StoryStatus]int{
	StoryPending:    0,
	StoryInProgress: 1,
	StoryInReview:   2,
	StoryDone:       3,
}

// CanTransition reports whether moving from s to next is a forward transition.
func (s StoryStatus) CanTransition(next StoryStatus) bool {
	from, ok := storyStatusOrder[s]
	to, ok2 := storyStatusOrder[next]
	return ok && ok2 && to >= from
}

// WorkflowStatus is the lifecycle state of a workflow run or sequence.
type WorkflowStatus string

// Workflow statuses.
const (
	WorkflowPending   WorkflowStatus = "pending"
	WorkflowRunning   WorkflowStatus = "running"
	WorkflowCompleted WorkflowStatus = "completed"
	WorkflowFailed    WorkflowStatus = "failed"
	WorkflowCancelled WorkflowStatus = "cancelled"
)

// IsTerminal reports whether the status is a terminal state.
func (s WorkflowStatus) IsTerminal() bool {
	switch s {
	case WorkflowCompleted, WorkflowFailed, WorkflowCancelled:
		return true
	}
	return false
}

// CeremonyType identifies the kind of collaborative ceremony.
type CeremonyType string

// Ceremony types.
const (
	CeremonyPlanning      CeremonyType = "planning"
	CeremonyStandup       CeremonyType = "standup"
	CeremonyRetrospective CeremonyType = "retrospective"
)

// IsValid reports whether t is a known ceremony type.
func (t CeremonyType) IsValid() bool {
	switch t {
	case CeremonyPlanning, CeremonyStandup, CeremonyRetrospective:
		return true
	}
	return false
}

// CeremonyFailurePolicy is the action taken when a ceremony fails.
type CeremonyFailurePolicy string

// Failure policies.
const (
	PolicyAbort    CeremonyFailurePolicy = "abort"    // fatal — abort the workflow
	PolicyRetry    CeremonyFailurePolicy = "retry"    // retry the ceremony
	PolicyContinue CeremonyFailurePolicy = "continue" // log and proceed
	PolicySkip     CeremonyFailurePolicy = "skip"     // circuit open — do not attempt
)

// QualityGateStatus is the outcome of artifact validation after a workflow.
type QualityGateStatus string

// Quality gate statuses.
const (
	GatePassed  QualityGateStatus = "passed"
	GateAdapted QualityGateStatus = "adapted"
	GateFailed  QualityGateStatus = "failed"
)

// QualityGateAction is the next action a quality gate result prescribes.
type QualityGateAction string

// Quality gate actions.
const (
	ActionContinue QualityGateAction = "continue"
	ActionRetry    QualityGateAction = "retry"
	ActionAdapt    QualityGateAction = "adapt"
)
