package ceremony

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/memyselfmike/gao-agile-dev-sub008/pkg/bus"
	"github.com/memyselfmike/gao-agile-dev-sub008/pkg/events"
	"github.com/memyselfmike/gao-agile-dev-sub008/pkg/models"
	"github.com/memyselfmike/gao-agile-dev-sub008/pkg/vcs"
)

// transcriptDirName is the per-project directory holding ceremony transcripts.
const transcriptDirName = "ceremonies"

// ceremonyDeadline bounds a single ceremony including all retry attempts.
const ceremonyDeadline = 10 * time.Minute

// Runner executes a ceremony session with the agent runtime and returns its
// outcome. The orchestrator owns persistence; the runner owns conversation.
type Runner interface {
	RunCeremony(ctx context.Context, cc *Context) (*Outcome, error)
}

// Store persists ceremony records. Implemented by services.CeremonyService.
type Store interface {
	BeginTx(ctx context.Context) (*sql.Tx, error)
	InsertTx(ctx context.Context, tx *sql.Tx, c *models.Ceremony) error
}

// StoryLister supplies recent completed work for the prepare phase.
// Implemented by services.StoryService.
type StoryLister interface {
	ListByEpic(ctx context.Context, epicNum int) ([]models.Story, error)
}

// Context is everything a runner needs to hold a ceremony.
type Context struct {
	Type         models.CeremonyType
	EpicNum      int
	StoryNum     *int
	Participants []string
	Agenda       []string
	RecentWork   []string
}

// Outcome is what a runner produced: the transcript plus the structured
// results extracted from it.
type Outcome struct {
	Transcript  string
	ActionItems []string
	Learnings   []string
}

// ExecutionError wraps a ceremony failure with the phase it failed in.
type ExecutionError struct {
	Type    models.CeremonyType
	EpicNum int
	Phase   string
	Err     error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s ceremony for epic %d failed during %s: %v",
		e.Type, e.EpicNum, e.Phase, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// agendas per ceremony type.
var agendas = map[models.CeremonyType][]string{
	models.CeremonyPlanning: {
		"Review epic scope and stories",
		"Identify risks and dependencies",
		"Agree on story order",
	},
	models.CeremonyStandup: {
		"What was completed since the last standup",
		"What is in progress",
		"Blockers",
	},
	models.CeremonyRetrospective: {
		"What went well",
		"What could improve",
		"Action items for the next epic",
	},
}

// Orchestrator runs ceremonies as a prepare, execute, record pipeline. The
// record phase is atomic across the transcript file, the database row, and
// the git commit: a failure in any of them rolls back all three.
type Orchestrator struct {
	runner      Runner
	store       Store
	stories     StoryLister
	git         *vcs.Git
	bus         *bus.Bus
	breaker     *CircuitBreaker
	projectRoot string
	autoCommit  bool
	logger      *slog.Logger

	// sleep is replaced in tests to skip retry backoff.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewOrchestrator creates a ceremony orchestrator. git may be nil when the
// project is not a repository or auto-commit is disabled.
func NewOrchestrator(
	runner Runner,
	store Store,
	stories StoryLister,
	git *vcs.Git,
	b *bus.Bus,
	breaker *CircuitBreaker,
	projectRoot string,
	autoCommit bool,
) *Orchestrator {
	return &Orchestrator{
		runner:      runner,
		store:       store,
		stories:     stories,
		git:         git,
		bus:         b,
		breaker:     breaker,
		projectRoot: projectRoot,
		autoCommit:  autoCommit,
		logger:      slog.With("component", "ceremony"),
		sleep:       sleepCtx,
	}
}

// HoldCeremony runs a single ceremony end to end and returns the persisted
// record. Retries follow the type's failure policy with exponential backoff.
// Returns ErrCircuitOpen without attempting when the circuit for this
// (type, epic) pair is open.
func (o *Orchestrator) HoldCeremony(ctx context.Context, cType models.CeremonyType, epicNum int, storyNum *int, participants []string) (*models.Ceremony, error) {
	if !cType.IsValid() {
		return nil, fmt.Errorf("unknown ceremony type %q", cType)
	}
	if o.breaker.IsOpen(cType, epicNum) {
		o.logger.Warn("Ceremony skipped, circuit open", "type", cType, "epic_num", epicNum)
		return nil, fmt.Errorf("%s ceremony for epic %d: %w", cType, epicNum, ErrCircuitOpen)
	}

	ctx, cancel := context.WithTimeout(ctx, ceremonyDeadline)
	defer cancel()

	o.publish(events.TypeCeremonyStarted, cType, epicNum, nil)

	cc, err := o.prepare(ctx, cType, epicNum, storyNum, participants)
	if err != nil {
		return nil, o.fail(cType, epicNum, "prepare", err)
	}

	attempts := attemptsFor(cType)
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<attempt) * time.Second
			o.logger.Info("Retrying ceremony", "type", cType, "epic_num", epicNum,
				"attempt", attempt+1, "backoff", backoff)
			if err := o.sleep(ctx, backoff); err != nil {
				return nil, o.fail(cType, epicNum, "retry", err)
			}
		}

		c, err := o.attempt(ctx, cc)
		if err == nil {
			o.breaker.Reset(cType, epicNum)
			o.publish(events.TypeCeremonyCompleted, cType, epicNum, map[string]any{
				"ceremony_id":     c.ID,
				"transcript_path": c.TranscriptPath,
			})
			return c, nil
		}
		lastErr = err
	}

	count := o.breaker.RecordFailure(cType, epicNum)
	if count >= failureThreshold {
		o.logger.Error("Ceremony circuit opened", "type", cType, "epic_num", epicNum,
			"consecutive_failures", count)
	}
	return nil, o.fail(cType, epicNum, "execute", lastErr)
}

// HoldPlanning runs the epic kickoff planning session.
func (o *Orchestrator) HoldPlanning(ctx context.Context, epicNum int, participants []string) (*models.Ceremony, error) {
	return o.HoldCeremony(ctx, models.CeremonyPlanning, epicNum, nil, participants)
}

// HoldStandup runs a progress standup, optionally pinned to a story.
func (o *Orchestrator) HoldStandup(ctx context.Context, epicNum int, storyNum *int, participants []string) (*models.Ceremony, error) {
	return o.HoldCeremony(ctx, models.CeremonyStandup, epicNum, storyNum, participants)
}

// HoldRetrospective runs the end-of-epic retrospective.
func (o *Orchestrator) HoldRetrospective(ctx context.Context, epicNum int, participants []string) (*models.Ceremony, error) {
	return o.HoldCeremony(ctx, models.CeremonyRetrospective, epicNum, nil, participants)
}

// prepare assembles the ceremony context, including recent completed work
// pulled from the state store.
func (o *Orchestrator) prepare(ctx context.Context, cType models.CeremonyType, epicNum int, storyNum *int, participants []string) (*Context, error) {
	cc := &Context{
		Type:         cType,
		EpicNum:      epicNum,
		StoryNum:     storyNum,
		Participants: participants,
		Agenda:       agendas[cType],
	}
	stories, err := o.stories.ListByEpic(ctx, epicNum)
	if err != nil {
		return nil, err
	}
	for _, s := range stories {
		if s.Status == models.StoryDone {
			cc.RecentWork = append(cc.RecentWork,
				fmt.Sprintf("Story %d.%d: %s", s.EpicNum, s.StoryNum, s.Title))
		}
	}
	return cc, nil
}

// attempt runs execute then record for one try.
func (o *Orchestrator) attempt(ctx context.Context, cc *Context) (*models.Ceremony, error) {
	out, err := o.runner.RunCeremony(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("runner failed: %w", err)
	}
	if out == nil || strings.TrimSpace(out.Transcript) == "" {
		return nil, fmt.Errorf("runner returned an empty transcript")
	}
	return o.record(ctx, cc, out)
}

// record persists the outcome atomically. Order matters: the transcript file
// and the git commit are both reversible, so the database commit is the final
// point of no return. Any failure before it rolls everything back.
func (o *Orchestrator) record(ctx context.Context, cc *Context, out *Outcome) (*models.Ceremony, error) {
	useGit := o.autoCommit && o.git != nil && o.git.IsRepo(ctx)
	var head string
	if useGit {
		var err error
		if head, err = o.git.HeadSHA(ctx); err != nil {
			return nil, fmt.Errorf("failed to capture head before ceremony commit: %w", err)
		}
	}

	id := uuid.NewString()
	rel := transcriptPath(cc, id)
	abs := filepath.Join(o.projectRoot, filepath.FromSlash(rel))

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create transcript directory: %w", err)
	}
	if err := os.WriteFile(abs, []byte(renderTranscript(cc, out)), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write transcript: %w", err)
	}

	if useGit {
		msg := fmt.Sprintf("chore: record %s ceremony for epic %d", cc.Type, cc.EpicNum)
		if err := o.git.CommitAll(ctx, msg); err != nil {
			o.rollback(ctx, abs, head, useGit)
			return nil, fmt.Errorf("failed to commit transcript: %w", err)
		}
	}

	c := &models.Ceremony{
		ID:             id,
		Type:           cc.Type,
		EpicNum:        cc.EpicNum,
		StoryNum:       cc.StoryNum,
		TranscriptPath: rel,
		ActionItems:    out.ActionItems,
		Learnings:      out.Learnings,
		Participants:   cc.Participants,
	}
	tx, err := o.store.BeginTx(ctx)
	if err != nil {
		o.rollback(ctx, abs, head, useGit)
		return nil, fmt.Errorf("failed to open ceremony transaction: %w", err)
	}
	if err := o.store.InsertTx(ctx, tx, c); err != nil {
		_ = tx.Rollback()
		o.rollback(ctx, abs, head, useGit)
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		o.rollback(ctx, abs, head, useGit)
		return nil, fmt.Errorf("failed to commit ceremony transaction: %w", err)
	}
	return c, nil
}

// rollback undoes the reversible parts of a record attempt: the transcript
// file and, when auto-commit ran, the git commit.
func (o *Orchestrator) rollback(ctx context.Context, transcriptAbs, head string, useGit bool) {
	if err := os.Remove(transcriptAbs); err != nil && !os.IsNotExist(err) {
		o.logger.Warn("Failed to remove transcript during rollback",
			"path", transcriptAbs, "error", err)
	}
	if useGit && head != "" {
		if err := o.git.ResetHard(ctx, head); err != nil {
			o.logger.Error("Failed to reset repository during rollback",
				"head", head, "error", err)
		}
	}
}

func (o *Orchestrator) fail(cType models.CeremonyType, epicNum int, phase string, err error) error {
	o.publish(events.TypeCeremonyFailed, cType, epicNum, map[string]any{
		"phase": phase,
		"error": err.Error(),
	})
	return &ExecutionError{Type: cType, EpicNum: epicNum, Phase: phase, Err: err}
}

func (o *Orchestrator) publish(eventType string, cType models.CeremonyType, epicNum int, extra map[string]any) {
	data := map[string]any{
		"ceremony_type": string(cType),
		"epic_num":      epicNum,
	}
	for k, v := range extra {
		data[k] = v
	}
	o.bus.Publish(events.New(eventType, data))
}

// transcriptPath builds the slash-separated transcript path relative to the
// project root.
func transcriptPath(cc *Context, id string) string {
	name := fmt.Sprintf("%s-epic%d", cc.Type, cc.EpicNum)
	if cc.StoryNum != nil {
		name += fmt.Sprintf("-story%d", *cc.StoryNum)
	}
	return transcriptDirName + "/" + name + "-" + id + ".md"
}

// renderTranscript formats the transcript file with its structured footer.
func renderTranscript(cc *Context, out *Outcome) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s ceremony, epic %d\n\n", cc.Type, cc.EpicNum)
	fmt.Fprintf(&b, "Participants: %s\n\n", strings.Join(cc.Participants, ", "))
	b.WriteString(out.Transcript)
	if !strings.HasSuffix(out.Transcript, "\n") {
		b.WriteString("\n")
	}
	if len(out.ActionItems) > 0 {
		b.WriteString("\n## Action items\n\n")
		for _, item := range out.ActionItems {
			fmt.Fprintf(&b, "- %s\n", item)
		}
	}
	if len(out.Learnings) > 0 {
		b.WriteString("\n## Learnings\n\n")
		for _, l := range out.Learnings {
			fmt.Fprintf(&b, "- %s\n", l)
		}
	}
	return b.String()
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
