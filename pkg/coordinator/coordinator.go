// Package coordinator executes planned workflow sequences: setup workflows
// once, then the story loop, with per-step retry, artifact tracking, quality
// gates, and ceremony triggers.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/memyselfmike/gao-agile-dev-sub008/pkg/artifacts"
	"github.com/memyselfmike/gao-agile-dev-sub008/pkg/bus"
	"github.com/memyselfmike/gao-agile-dev-sub008/pkg/ceremony"
	"github.com/memyselfmike/gao-agile-dev-sub008/pkg/events"
	"github.com/memyselfmike/gao-agile-dev-sub008/pkg/gates"
	"github.com/memyselfmike/gao-agile-dev-sub008/pkg/models"
	"github.com/memyselfmike/gao-agile-dev-sub008/pkg/planner"
	"github.com/memyselfmike/gao-agile-dev-sub008/pkg/services"
	"github.com/memyselfmike/gao-agile-dev-sub008/pkg/workflow"
)

// defaultStoryCap bounds the story loop regardless of the estimate, so a bad
// estimate cannot run forever.
const defaultStoryCap = 100

// defaultMaxRetries is the per-step retry count when the config leaves it
// unset. Zero retries means exactly one attempt.
const defaultMaxRetries = 2

// ErrEmptySequence is returned when a plan contains no workflows at all.
var ErrEmptySequence = errors.New("empty workflow sequence")

// Stream is one step execution in flight. Read Chunks until it closes, then
// check Err for the terminal error, scanner-style.
type Stream interface {
	Chunks() <-chan string
	Err() error
}

// Executor is the agent runtime boundary. It runs one workflow step and
// streams its output.
type Executor interface {
	Execute(ctx context.Context, req ExecRequest) (Stream, error)
}

// ExecRequest is everything the agent runtime needs to run one step.
type ExecRequest struct {
	WorkflowName string
	Instructions string
	Variables    map[string]string
	EpicNum      int
	StoryNum     *int
}

// CeremonyRunner holds a single ceremony. Implemented by the ceremony
// orchestrator.
type CeremonyRunner interface {
	HoldCeremony(ctx context.Context, cType models.CeremonyType, epicNum int, storyNum *int, participants []string) (*models.Ceremony, error)
}

// TriggerEvaluator decides which ceremonies are due. Implemented by the
// ceremony trigger engine.
type TriggerEvaluator interface {
	Evaluate(ctx context.Context, tc ceremony.TriggerContext) ([]models.CeremonyType, error)
	RecordExecution(ctx context.Context, epicNum int, cType models.CeremonyType, success bool) error
}

// SequenceRequest describes one planned sequence to execute.
type SequenceRequest struct {
	Plan         *planner.Plan
	EpicNum      int
	TotalStories int // falls back to the plan's estimate when zero
	Params       map[string]string
	Metadata     map[string]string
	Participants []string
}

// SequenceResult is the outcome of a completed sequence.
type SequenceResult struct {
	SequenceID       string
	Steps            []models.StepResult
	StoriesCompleted int
}

// Config tunes coordinator behavior.
type Config struct {
	// MaxRetries is the number of retries after the first attempt of a
	// failed step. Negative means use the default.
	MaxRetries int

	// StoryCap bounds the story loop. Zero or negative means the default.
	StoryCap int
}

// Coordinator drives planned sequences through the agent runtime.
type Coordinator struct {
	registry   *workflow.Registry
	resolver   *workflow.Resolver
	executor   Executor
	gate       *gates.Gate
	artifacts  *artifacts.Manager
	runs       *services.WorkflowService
	stories    *services.StoryService
	epics      *services.EpicService
	triggers   TriggerEvaluator
	ceremonies CeremonyRunner
	failures   *ceremony.FailureHandler
	bus        *bus.Bus
	maxRetries int
	storyCap   int
	logger     *slog.Logger

	// sleep is replaced in tests to skip retry backoff.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a coordinator. triggers and ceremonies may be nil to disable
// ceremony orchestration.
func New(
	registry *workflow.Registry,
	resolver *workflow.Resolver,
	executor Executor,
	gate *gates.Gate,
	am *artifacts.Manager,
	runs *services.WorkflowService,
	stories *services.StoryService,
	epics *services.EpicService,
	triggers TriggerEvaluator,
	ceremonies CeremonyRunner,
	failures *ceremony.FailureHandler,
	b *bus.Bus,
	cfg Config,
) *Coordinator {
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = defaultMaxRetries
	}
	storyCap := cfg.StoryCap
	if storyCap <= 0 {
		storyCap = defaultStoryCap
	}
	return &Coordinator{
		registry:   registry,
		resolver:   resolver,
		executor:   executor,
		gate:       gate,
		artifacts:  am,
		runs:       runs,
		stories:    stories,
		epics:      epics,
		triggers:   triggers,
		ceremonies: ceremonies,
		failures:   failures,
		bus:        b,
		maxRetries: maxRetries,
		storyCap:   storyCap,
		logger:     slog.With("component", "coordinator"),
		sleep:      sleepCtx,
	}
}

// RunSequence executes a planned sequence: setup workflows once, then the
// story loop once per story. Every step run produces exactly one terminal
// step event and one step result.
func (c *Coordinator) RunSequence(ctx context.Context, req SequenceRequest) (*SequenceResult, error) {
	sequenceID := uuid.NewString()

	if len(req.Plan.Setup) == 0 && len(req.Plan.Loop) == 0 {
		c.bus.Publish(events.New(events.TypeSequenceFailed, map[string]any{
			"sequence_id":   sequenceID,
			"error_message": "Empty workflow sequence",
		}))
		return nil, fmt.Errorf("sequence %s: %w", sequenceID, ErrEmptySequence)
	}

	totalStories := req.TotalStories
	if totalStories == 0 {
		totalStories = req.Plan.Analysis.EstimatedStories
	}
	if totalStories > c.storyCap {
		c.logger.Warn("Story estimate exceeds cap, truncating",
			"estimate", totalStories, "cap", c.storyCap)
		totalStories = c.storyCap
	}

	c.bus.Publish(events.New(events.TypeSequenceStarted, map[string]any{
		"sequence_id":   sequenceID,
		"epic_num":      req.EpicNum,
		"setup":         req.Plan.Setup,
		"loop":          req.Plan.Loop,
		"total_stories": totalStories,
	}))

	result := &SequenceResult{SequenceID: sequenceID}

	// Phase one: setup workflows run once, in order.
	for _, name := range req.Plan.Setup {
		step, err := c.runStep(ctx, sequenceID, name, req, nil)
		if step != nil {
			result.Steps = append(result.Steps, *step)
		}
		if err != nil {
			return result, c.failSequence(sequenceID, req.EpicNum, err)
		}
	}

	// Phase two: the story loop.
	if len(req.Plan.Loop) > 0 {
		if err := c.runStoryLoop(ctx, sequenceID, req, totalStories, result); err != nil {
			return result, c.failSequence(sequenceID, req.EpicNum, err)
		}
	}

	c.bus.Publish(events.New(events.TypeSequenceCompleted, map[string]any{
		"sequence_id":       sequenceID,
		"epic_num":          req.EpicNum,
		"steps":             len(result.Steps),
		"stories_completed": result.StoriesCompleted,
	}))
	return result, nil
}

func (c *Coordinator) runStoryLoop(ctx context.Context, sequenceID string, req SequenceRequest, totalStories int, result *SequenceResult) error {
	// Epic-start ceremonies (planning) fire before the first story.
	if err := c.runCeremonies(ctx, req, 0, totalStories, nil); err != nil {
		return err
	}

	for storyNum := 1; storyNum <= totalStories; storyNum++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.beginStory(ctx, req.EpicNum, storyNum); err != nil {
			return err
		}

		num := storyNum
		for _, name := range req.Plan.Loop {
			step, err := c.runStep(ctx, sequenceID, name, req, &num)
			if step != nil {
				result.Steps = append(result.Steps, *step)
			}
			if err != nil {
				// A failed completion report does not undo the work
				// the story produced.
				if name == "story-done" {
					c.logger.Warn("Story completion report failed, continuing",
						"epic_num", req.EpicNum, "story_num", num, "error", err)
					continue
				}
				return err
			}
		}

		if err := c.stories.UpdateStatus(ctx, req.EpicNum, num, models.StoryDone); err != nil {
			c.logger.Warn("Failed to mark story done",
				"epic_num", req.EpicNum, "story_num", num, "error", err)
		}
		result.StoriesCompleted++

		if err := c.runCeremonies(ctx, req, result.StoriesCompleted, totalStories, &num); err != nil {
			return err
		}
	}
	return nil
}

// beginStory ensures the story row exists and is in progress.
func (c *Coordinator) beginStory(ctx context.Context, epicNum, storyNum int) error {
	if _, err := c.stories.Get(ctx, epicNum, storyNum); err != nil {
		if !errors.Is(err, services.ErrNotFound) {
			return err
		}
		if _, err := c.stories.Create(ctx, services.CreateStoryRequest{
			EpicNum:  epicNum,
			StoryNum: storyNum,
			Title:    fmt.Sprintf("Story %d.%d", epicNum, storyNum),
			Points:   1,
		}); err != nil {
			return fmt.Errorf("failed to create story %d.%d: %w", epicNum, storyNum, err)
		}
	}
	if err := c.stories.UpdateStatus(ctx, epicNum, storyNum, models.StoryInProgress); err != nil {
		return fmt.Errorf("failed to start story %d.%d: %w", epicNum, storyNum, err)
	}
	return nil
}

// runCeremonies evaluates the trigger table after a story completes and holds
// whatever is due, applying each type's failure policy.
func (c *Coordinator) runCeremonies(ctx context.Context, req SequenceRequest, completed, total int, storyNum *int) error {
	if c.triggers == nil || c.ceremonies == nil {
		return nil
	}
	due, err := c.triggers.Evaluate(ctx, ceremony.TriggerContext{
		EpicNum:          req.EpicNum,
		StoryNum:         storyNum,
		ScaleLevel:       req.Plan.Analysis.ScaleLevel,
		StoriesCompleted: completed,
		TotalStories:     total,
		ProjectType:      req.Plan.Analysis.ProjectType,
	})
	if err != nil {
		return fmt.Errorf("failed to evaluate ceremony triggers: %w", err)
	}

	for _, cType := range due {
		_, cErr := c.ceremonies.HoldCeremony(ctx, cType, req.EpicNum, storyNum, req.Participants)
		if recErr := c.triggers.RecordExecution(ctx, req.EpicNum, cType, cErr == nil); recErr != nil {
			c.logger.Warn("Failed to record ceremony execution",
				"type", cType, "epic_num", req.EpicNum, "error", recErr)
		}
		if cErr == nil {
			continue
		}
		switch c.failures.Decide(cType, req.EpicNum, cErr) {
		case models.PolicyAbort:
			return fmt.Errorf("%s ceremony failed: %w", cType, cErr)
		case models.PolicySkip:
			c.logger.Warn("Ceremony skipped, circuit open",
				"type", cType, "epic_num", req.EpicNum)
		default:
			c.logger.Warn("Ceremony failed, continuing",
				"type", cType, "epic_num", req.EpicNum, "error", cErr)
		}
	}
	return nil
}

// runStep executes one workflow with retries. It publishes exactly one
// terminal step event and returns exactly one step result per call.
func (c *Coordinator) runStep(ctx context.Context, sequenceID, name string, req SequenceRequest, storyNum *int) (*models.StepResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	def, err := c.registry.Get(name)
	if err != nil {
		return nil, err
	}

	params := withStoryParams(req.Params, req.EpicNum, storyNum)
	vars, err := c.resolver.Resolve(ctx, def, params, req.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve variables for %s: %w", name, err)
	}
	instructions := c.loadInstructions(def, vars)

	workflowID := uuid.NewString()
	epicNum := req.EpicNum
	if err := c.runs.StartRun(ctx, workflowID, name, &epicNum, storyNum); err != nil {
		return nil, err
	}

	c.publishStep(events.TypeStepStarted, sequenceID, workflowID, name, epicNum, storyNum, nil)

	started := time.Now().UTC()
	step := models.StepResult{Name: name, StartedAt: started}

	attempts := c.maxRetries + 1
	var produced []string
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<attempt) * time.Second
			c.logger.Info("Retrying workflow step", "workflow", name,
				"attempt", attempt+1, "backoff", backoff)
			if err := c.sleep(ctx, backoff); err != nil {
				lastErr = err
				break
			}
		}

		produced, lastErr = c.attemptStep(ctx, name, instructions, vars, epicNum, storyNum)
		if lastErr == nil {
			break
		}
	}

	completedAt := time.Now().UTC()
	step.CompletedAt = &completedAt
	step.DurationMS = completedAt.Sub(started).Milliseconds()
	step.Outputs = produced

	output := models.WorkflowOutput{
		Steps:     []models.StepResult{step},
		Variables: vars,
		Artifacts: produced,
	}
	if lastErr != nil {
		status := models.WorkflowFailed
		recordCtx := ctx
		if isCancellation(lastErr) {
			status = models.WorkflowCancelled
			// The run row must still reach its terminal state.
			recordCtx = context.WithoutCancel(ctx)
		}
		step.Status = string(status)
		output.Errors = []string{lastErr.Error()}
		if err := c.runs.CompleteRun(recordCtx, workflowID, status, output, lastErr.Error()); err != nil {
			c.logger.Warn("Failed to record workflow run failure",
				"workflow_id", workflowID, "error", err)
		}
		c.publishStep(events.TypeStepFailed, sequenceID, workflowID, name, epicNum, storyNum, map[string]any{
			"error":  lastErr.Error(),
			"status": string(status),
		})
		if status == models.WorkflowCancelled {
			return &step, fmt.Errorf("workflow %s cancelled: %w", name, lastErr)
		}
		return &step, fmt.Errorf("workflow %s failed: %w", name, lastErr)
	}

	step.Status = string(models.WorkflowCompleted)
	if err := c.runs.CompleteRun(ctx, workflowID, models.WorkflowCompleted, output, ""); err != nil {
		c.logger.Warn("Failed to record workflow run completion",
			"workflow_id", workflowID, "error", err)
	}
	c.publishStep(events.TypeStepCompleted, sequenceID, workflowID, name, epicNum, storyNum, map[string]any{
		"artifacts": len(produced),
	})
	return &step, nil
}

// attemptStep runs one execution attempt: snapshot, execute, diff, register,
// gate. Any returned error is retryable.
func (c *Coordinator) attemptStep(ctx context.Context, name, instructions string, vars map[string]string, epicNum int, storyNum *int) ([]string, error) {
	before := c.artifacts.TakeSnapshot()

	stream, err := c.executor.Execute(ctx, ExecRequest{
		WorkflowName: name,
		Instructions: instructions,
		Variables:    vars,
		EpicNum:      epicNum,
		StoryNum:     storyNum,
	})
	if err != nil {
		return nil, err
	}

	var out strings.Builder
	for chunk := range stream.Chunks() {
		out.WriteString(chunk)
	}
	if err := stream.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(out.String()) == "" {
		return nil, fmt.Errorf("agent produced no output")
	}

	produced := artifacts.Detect(before, c.artifacts.TakeSnapshot())
	c.artifacts.Register(ctx, produced, name, &epicNum, storyNum, "", 0, "")

	gate := c.gate.ValidateArtifacts(name, vars, nil)
	switch gate.Action {
	case models.ActionRetry:
		return nil, fmt.Errorf("quality gate failed for %s: missing %v", name, gate.Missing)
	case models.ActionAdapt:
		c.logger.Warn("Quality gate adapted", "workflow", name,
			"note", gate.AdaptationNote, "missing", gate.Missing)
	}
	return produced, nil
}

// loadInstructions renders the workflow's instruction template. A definition
// without a readable template falls back to its description.
func (c *Coordinator) loadInstructions(def *workflow.Definition, vars map[string]string) string {
	raw, err := os.ReadFile(def.InstructionsPath())
	if err != nil {
		c.logger.Warn("Workflow has no instruction template, using description",
			"workflow", def.Name)
		return def.Description
	}
	return workflow.RenderTemplate(string(raw), vars)
}

func (c *Coordinator) failSequence(sequenceID string, epicNum int, err error) error {
	status := string(models.WorkflowFailed)
	if isCancellation(err) {
		status = string(models.WorkflowCancelled)
	}
	c.bus.Publish(events.New(events.TypeSequenceFailed, map[string]any{
		"sequence_id":   sequenceID,
		"epic_num":      epicNum,
		"status":        status,
		"error_message": err.Error(),
	}))
	return err
}

// isCancellation reports whether err stems from the caller's context rather
// than a step failure.
func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (c *Coordinator) publishStep(eventType, sequenceID, workflowID, name string, epicNum int, storyNum *int, extra map[string]any) {
	data := map[string]any{
		"sequence_id":   sequenceID,
		"workflow_id":   workflowID,
		"workflow_name": name,
		"epic_num":      epicNum,
	}
	if storyNum != nil {
		data["story_num"] = *storyNum
	}
	for k, v := range extra {
		data[k] = v
	}
	c.bus.Publish(events.New(eventType, data))
}

// withStoryParams copies params and adds the epic and story bindings used by
// path generation.
func withStoryParams(params map[string]string, epicNum int, storyNum *int) map[string]string {
	out := make(map[string]string, len(params)+2)
	for k, v := range params {
		out[k] = v
	}
	out["epic"] = fmt.Sprintf("%d", epicNum)
	if storyNum != nil {
		out["story"] = fmt.Sprintf("%d", *storyNum)
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
