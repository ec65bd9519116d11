package services

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memyselfmike/gao-agile-dev-sub008/pkg/database"
	"github.com/memyselfmike/gao-agile-dev-sub008/pkg/models"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	client, err := database.NewClient(context.Background(), database.Config{
		Path:        filepath.Join(t.TempDir(), "state.db"),
		BusyTimeout: time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client.DB()
}

func seedFeature(t *testing.T, db *sql.DB, name string) {
	t.Helper()
	_, err := NewFeatureService(db).Create(context.Background(), name, "")
	require.NoError(t, err)
}

func seedEpic(t *testing.T, db *sql.DB, epicNum, points int) {
	t.Helper()
	seedFeature(t, db, "mvp")
	_, err := NewEpicService(db).Create(context.Background(), CreateEpicRequest{
		EpicNum: epicNum, Title: "Epic", Feature: "mvp", TotalPoints: points,
	})
	require.NoError(t, err)
}

func TestEpicService_CreateAndComplete(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	svc := NewEpicService(db)
	seedEpic(t, db, 1, 5)

	epic, err := svc.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.EpicPlanned, epic.Status)

	require.NoError(t, svc.AddCompletedPoints(ctx, 1, 2))
	epic, err = svc.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.EpicInProgress, epic.Status)
	assert.Equal(t, 2, epic.CompletedPoints)

	require.NoError(t, svc.AddCompletedPoints(ctx, 1, 3))
	epic, err = svc.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.EpicDone, epic.Status)
	assert.Equal(t, 5, epic.CompletedPoints)
}

func TestEpicService_RejectsInvalidNum(t *testing.T) {
	db := newTestDB(t)
	_, err := NewEpicService(db).Create(context.Background(), CreateEpicRequest{EpicNum: 0})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestStoryService_ForwardOnlyTransitions(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedEpic(t, db, 1, 5)
	svc := NewStoryService(db)

	_, err := svc.Create(ctx, CreateStoryRequest{EpicNum: 1, StoryNum: 1, Title: "s", Points: 2})
	require.NoError(t, err)

	require.NoError(t, svc.UpdateStatus(ctx, 1, 1, models.StoryInProgress))
	require.NoError(t, svc.UpdateStatus(ctx, 1, 1, models.StoryDone))

	// Going back from done fails; rework increments the counter instead.
	err = svc.UpdateStatus(ctx, 1, 1, models.StoryPending)
	var te *TransitionError
	require.ErrorAs(t, err, &te)

	require.NoError(t, svc.Rework(ctx, 1, 1))
	story, err := svc.Get(ctx, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, models.StoryDone, story.Status)
	assert.Equal(t, 1, story.ReworkCount)
}

func TestStoryService_CountByStatus(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedEpic(t, db, 1, 5)
	svc := NewStoryService(db)

	for i := 1; i <= 3; i++ {
		_, err := svc.Create(ctx, CreateStoryRequest{EpicNum: 1, StoryNum: i, Title: "s"})
		require.NoError(t, err)
	}
	require.NoError(t, svc.UpdateStatus(ctx, 1, 1, models.StoryDone))

	n, err := svc.CountByStatus(ctx, 1, models.StoryDone)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestWorkflowService_RunRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	svc := NewWorkflowService(db)

	require.NoError(t, svc.StartRun(ctx, "wf-1", "tech-spec", nil, nil))

	output := models.WorkflowOutput{
		Steps:     []models.StepResult{{Name: "tech-spec", Status: "success"}},
		Variables: map[string]string{"feature_name": "mvp"},
		Artifacts: []string{"docs/features/mvp/tech-spec.md"},
	}
	require.NoError(t, svc.CompleteRun(ctx, "wf-1", models.WorkflowCompleted, output, ""))

	run, err := svc.GetRun(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowCompleted, run.Status)
	require.NotNil(t, run.CompletedAt)
	require.NotNil(t, run.DurationMS)
	assert.GreaterOrEqual(t, *run.DurationMS, int64(0))
	assert.Len(t, run.Output.Steps, 1)
	assert.Equal(t, "mvp", run.Output.Variables["feature_name"])
}

func TestWorkflowService_CompleteRequiresTerminalStatus(t *testing.T) {
	db := newTestDB(t)
	svc := NewWorkflowService(db)
	err := svc.CompleteRun(context.Background(), "wf-1", models.WorkflowRunning, models.WorkflowOutput{}, "")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestWorkflowService_CompleteUnknownRun(t *testing.T) {
	db := newTestDB(t)
	svc := NewWorkflowService(db)
	err := svc.CompleteRun(context.Background(), "ghost", models.WorkflowCompleted, models.WorkflowOutput{}, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCeremonyService_InsertTxAndTracking(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedEpic(t, db, 1, 5)
	svc := NewCeremonyService(db)

	storyNum := 2
	tx, err := svc.BeginTx(ctx)
	require.NoError(t, err)
	err = svc.InsertTx(ctx, tx, &models.Ceremony{
		ID:             "cer-1",
		Type:           models.CeremonyStandup,
		EpicNum:        1,
		StoryNum:       &storyNum,
		TranscriptPath: "docs/features/mvp/standups/standup-1.md",
		ActionItems:    []string{"unblock story 3"},
		Learnings:      []string{"tests first"},
		Participants:   []string{"dev", "qa"},
	})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	got, err := svc.Get(ctx, "cer-1")
	require.NoError(t, err)
	assert.Equal(t, models.CeremonyStandup, got.Type)
	assert.Equal(t, []string{"unblock story 3"}, got.ActionItems)
	assert.Equal(t, []string{"tests first"}, got.Learnings)
	assert.Equal(t, []string{"dev", "qa"}, got.Participants)

	require.NoError(t, svc.RecordExecution(ctx, 1, models.CeremonyStandup, true))
	n, err := svc.ExecutionCount(ctx, 1, models.CeremonyStandup)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCeremonyService_RollbackLeavesNoRow(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	seedEpic(t, db, 1, 5)
	svc := NewCeremonyService(db)

	tx, err := svc.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, svc.InsertTx(ctx, tx, &models.Ceremony{
		ID: "cer-rb", Type: models.CeremonyPlanning, EpicNum: 1,
		TranscriptPath: "x.md",
	}))
	require.NoError(t, tx.Rollback())

	_, err = svc.Get(ctx, "cer-rb")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestThreadService_ReplyCounters(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	svc := NewThreadService(db)

	parent, err := svc.CreateMessage(ctx, CreateMessageRequest{
		ConversationID:   "dm-1",
		ConversationType: models.ConversationDM,
		Content:          "hello",
		Role:             "user",
	})
	require.NoError(t, err)

	thread, err := svc.CreateThread(ctx, parent.ID)
	require.NoError(t, err)
	assert.Zero(t, thread.ReplyCount)

	for i := 0; i < 3; i++ {
		_, err = svc.CreateMessage(ctx, CreateMessageRequest{
			ConversationID:   "dm-1",
			ConversationType: models.ConversationDM,
			Content:          "reply",
			Role:             "agent",
			AgentID:          "dev",
			ThreadID:         &thread.ID,
		})
		require.NoError(t, err)
	}

	thread, err = svc.GetThread(ctx, thread.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, thread.ReplyCount)

	parent, err = svc.GetMessage(ctx, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, parent.ThreadCount)

	replies, err := svc.ListThreadMessages(ctx, thread.ID)
	require.NoError(t, err)
	assert.Len(t, replies, 3)
}

func TestFeatureService(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	svc := NewFeatureService(db)

	_, err := svc.Create(ctx, "payments", "payment flows")
	require.NoError(t, err)

	_, err = svc.Create(ctx, "payments", "")
	assert.ErrorIs(t, err, ErrAlreadyExists)

	ok, err := svc.Exists(ctx, "payments")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.Exists(ctx, "ghost")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestArtifactService_Register(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	svc := NewArtifactService(db)

	epic := 1
	require.NoError(t, svc.Register(ctx, models.Artifact{
		Path:         "docs/features/mvp/prd.md",
		Type:         "prd",
		WorkflowName: "prd",
		EpicNum:      &epic,
	}))

	got, err := svc.ListByWorkflow(ctx, "prd")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "prd", got[0].Type)
}
