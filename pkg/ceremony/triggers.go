// Package ceremony decides when collaborative ceremonies fire, runs them as
// atomic file+database+VCS transactions, and applies per-type failure
// policies backed by a circuit breaker.
package ceremony

import (
	"context"
	"fmt"

	"github.com/memyselfmike/gao-agile-dev-sub008/pkg/models"
	"github.com/memyselfmike/gao-agile-dev-sub008/pkg/services"
)

// TriggerContext is a snapshot of epic progress evaluated against the
// trigger rules.
type TriggerContext struct {
	EpicNum            int
	StoryNum           *int
	ScaleLevel         models.ScaleLevel
	StoriesCompleted   int
	TotalStories       int
	QualityGatesPassed bool
	FailureCount       int
	ProjectType        models.ProjectType
}

// standupCadence is the every-K-stories standup frequency per scale level.
// Levels 0-2 never hold standups.
var standupCadence = map[models.ScaleLevel]int{
	models.ScaleLevel3: 2,
	models.ScaleLevel4: 5,
}

// TriggerEngine evaluates the trigger rule table. Every firing is recorded in
// the safety-tracking table so the same trigger never fires twice.
type TriggerEngine struct {
	tracking *services.CeremonyService
	cadence  map[models.ScaleLevel]int
}

// NewTriggerEngine creates a trigger engine with the built-in standup cadence.
func NewTriggerEngine(tracking *services.CeremonyService) *TriggerEngine {
	return &TriggerEngine{tracking: tracking, cadence: standupCadence}
}

// OverrideStandupCadence replaces the standup cadence for the given scale
// levels. Levels absent from the override keep the built-in value; a zero or
// negative K disables standups for that level.
func (e *TriggerEngine) OverrideStandupCadence(overrides map[models.ScaleLevel]int) {
	if len(overrides) == 0 {
		return
	}
	merged := make(map[models.ScaleLevel]int, len(standupCadence)+len(overrides))
	for level, k := range standupCadence {
		merged[level] = k
	}
	for level, k := range overrides {
		if k <= 0 {
			delete(merged, level)
			continue
		}
		merged[level] = k
	}
	e.cadence = merged
}

// Evaluate returns the ceremonies to fire for the given progress snapshot, in
// a fixed order: planning, standup, retrospective.
func (e *TriggerEngine) Evaluate(ctx context.Context, tc TriggerContext) ([]models.CeremonyType, error) {
	var fire []models.CeremonyType

	// Planning fires once at epic start for scale >= 3.
	if tc.ScaleLevel >= models.ScaleLevel3 && tc.StoriesCompleted == 0 {
		fired, err := e.alreadyFired(ctx, tc.EpicNum, models.CeremonyPlanning, 1)
		if err != nil {
			return nil, err
		}
		if !fired {
			fire = append(fire, models.CeremonyPlanning)
		}
	}

	// Standup fires every K completed stories, K from the scale level.
	if k, ok := e.cadence[tc.ScaleLevel]; ok && tc.StoriesCompleted > 0 && tc.StoriesCompleted%k == 0 {
		due := tc.StoriesCompleted / k
		fired, err := e.alreadyFired(ctx, tc.EpicNum, models.CeremonyStandup, due)
		if err != nil {
			return nil, err
		}
		if !fired {
			fire = append(fire, models.CeremonyStandup)
		}
	}

	// Retrospective fires when the epic's stories are all complete.
	if tc.TotalStories > 0 && tc.StoriesCompleted == tc.TotalStories {
		fired, err := e.alreadyFired(ctx, tc.EpicNum, models.CeremonyRetrospective, 1)
		if err != nil {
			return nil, err
		}
		if !fired {
			fire = append(fire, models.CeremonyRetrospective)
		}
	}

	return fire, nil
}

// RecordExecution records a trigger firing in the safety-tracking table.
func (e *TriggerEngine) RecordExecution(ctx context.Context, epicNum int, cType models.CeremonyType, success bool) error {
	return e.tracking.RecordExecution(ctx, epicNum, cType, success)
}

// alreadyFired reports whether the trigger has fired at least `due` times.
func (e *TriggerEngine) alreadyFired(ctx context.Context, epicNum int, cType models.CeremonyType, due int) (bool, error) {
	n, err := e.tracking.ExecutionCount(ctx, epicNum, cType)
	if err != nil {
		return false, fmt.Errorf("failed to check ceremony executions: %w", err)
	}
	return n >= due, nil
}
