package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/memyselfmike/gao-agile-dev-sub008/pkg/models"
)

// WorkflowService persists workflow runs.
type WorkflowService struct {
	db *sql.DB
}

// NewWorkflowService creates a workflow run service.
func NewWorkflowService(db *sql.DB) *WorkflowService {
	return &WorkflowService{db: db}
}

// StartRun records a new run in status running.
func (s *WorkflowService) StartRun(ctx context.Context, workflowID, workflowName string, epicNum, storyNum *int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO workflow_runs (workflow_id, workflow_name, epic_num, story_num, status, started_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		workflowID, workflowName, epicNum, storyNum, models.WorkflowRunning, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to start workflow run %s: %w", workflowID, err)
	}
	return nil
}

// CompleteRun records a terminal status, duration, and the output blob.
func (s *WorkflowService) CompleteRun(ctx context.Context, workflowID string, status models.WorkflowStatus, output models.WorkflowOutput, errMsg string) error {
	if !status.IsTerminal() {
		return fmt.Errorf("%w: status %s is not terminal", ErrInvalidInput, status)
	}
	blob, err := json.Marshal(output)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow output: %w", err)
	}
	var started time.Time
	err = s.db.QueryRowContext(ctx,
		`SELECT started_at FROM workflow_runs WHERE workflow_id = ?`, workflowID).
		Scan(&started)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("workflow run %s: %w", workflowID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to complete workflow run %s: %w", workflowID, err)
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`UPDATE workflow_runs
		 SET status = ?, completed_at = ?, output = ?, error_message = ?, duration_ms = ?
		 WHERE workflow_id = ?`,
		status, now, string(blob), nullIfEmpty(errMsg), now.Sub(started).Milliseconds(), workflowID)
	if err != nil {
		return fmt.Errorf("failed to complete workflow run %s: %w", workflowID, err)
	}
	return nil
}

// GetRun returns a workflow run by ID.
func (s *WorkflowService) GetRun(ctx context.Context, workflowID string) (*models.WorkflowRun, error) {
	var (
		run    models.WorkflowRun
		output string
		errMsg sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT workflow_id, workflow_name, epic_num, story_num, status,
		        started_at, completed_at, duration_ms, output, error_message
		 FROM workflow_runs WHERE workflow_id = ?`, workflowID).
		Scan(&run.WorkflowID, &run.WorkflowName, &run.EpicNum, &run.StoryNum,
			&run.Status, &run.StartedAt, &run.CompletedAt, &run.DurationMS,
			&output, &errMsg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("workflow run %s: %w", workflowID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow run %s: %w", workflowID, err)
	}
	if err := json.Unmarshal([]byte(output), &run.Output); err != nil {
		return nil, fmt.Errorf("corrupt output blob for run %s: %w", workflowID, err)
	}
	run.ErrorMessage = errMsg.String
	return &run, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
