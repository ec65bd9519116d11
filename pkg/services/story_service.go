package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/memyselfmike/gao-agile-dev-sub008/pkg/models"
)

// StoryService persists stories. Status transitions are monotonic forward;
// rework after done increments rework_count instead of reverting.
type StoryService struct {
	db *sql.DB
}

// NewStoryService creates a story service.
func NewStoryService(db *sql.DB) *StoryService {
	return &StoryService{db: db}
}

// CreateStoryRequest holds the fields for creating a story.
type CreateStoryRequest struct {
	EpicNum  int
	StoryNum int
	Title    string
	Owner    string
	Points   int
	Priority int
}

// Create inserts a new story in status pending.
func (s *StoryService) Create(ctx context.Context, req CreateStoryRequest) (*models.Story, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO stories (epic_num, story_num, title, status, owner, points, priority)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		req.EpicNum, req.StoryNum, req.Title, models.StoryPending,
		req.Owner, req.Points, req.Priority)
	if err != nil {
		return nil, fmt.Errorf("failed to create story %d.%d: %w", req.EpicNum, req.StoryNum, err)
	}
	return s.Get(ctx, req.EpicNum, req.StoryNum)
}

// Get returns the story with the given composite key.
func (s *StoryService) Get(ctx context.Context, epicNum, storyNum int) (*models.Story, error) {
	var st models.Story
	err := s.db.QueryRowContext(ctx,
		`SELECT epic_num, story_num, title, status, owner, points, priority,
		        rework_count, created_at, updated_at
		 FROM stories WHERE epic_num = ? AND story_num = ?`, epicNum, storyNum).
		Scan(&st.EpicNum, &st.StoryNum, &st.Title, &st.Status, &st.Owner,
			&st.Points, &st.Priority, &st.ReworkCount, &st.CreatedAt, &st.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("story %d.%d: %w", epicNum, storyNum, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get story %d.%d: %w", epicNum, storyNum, err)
	}
	return &st, nil
}

// UpdateStatus moves the story forward. Moving from done back to an earlier
// status fails with *TransitionError; use Rework instead.
func (s *StoryService) UpdateStatus(ctx context.Context, epicNum, storyNum int, status models.StoryStatus) error {
	st, err := s.Get(ctx, epicNum, storyNum)
	if err != nil {
		return err
	}
	if !st.Status.CanTransition(status) {
		return &TransitionError{From: string(st.Status), To: string(status)}
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE stories SET status = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE epic_num = ? AND story_num = ?`,
		status, epicNum, storyNum)
	if err != nil {
		return fmt.Errorf("failed to update story %d.%d: %w", epicNum, storyNum, err)
	}
	return nil
}

// Rework reopens a done story by incrementing its rework counter. The status
// stays done; the counter records the explicit rework.
func (s *StoryService) Rework(ctx context.Context, epicNum, storyNum int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE stories SET rework_count = rework_count + 1, updated_at = CURRENT_TIMESTAMP
		 WHERE epic_num = ? AND story_num = ?`,
		epicNum, storyNum)
	if err != nil {
		return fmt.Errorf("failed to rework story %d.%d: %w", epicNum, storyNum, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("story %d.%d: %w", epicNum, storyNum, ErrNotFound)
	}
	return nil
}

// ListByEpic returns an epic's stories ordered by story number.
func (s *StoryService) ListByEpic(ctx context.Context, epicNum int) ([]models.Story, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT epic_num, story_num, title, status, owner, points, priority,
		        rework_count, created_at, updated_at
		 FROM stories WHERE epic_num = ? ORDER BY story_num`, epicNum)
	if err != nil {
		return nil, fmt.Errorf("failed to list stories for epic %d: %w", epicNum, err)
	}
	defer rows.Close()

	var out []models.Story
	for rows.Next() {
		var st models.Story
		if err := rows.Scan(&st.EpicNum, &st.StoryNum, &st.Title, &st.Status,
			&st.Owner, &st.Points, &st.Priority, &st.ReworkCount,
			&st.CreatedAt, &st.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan story: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// CountByStatus returns the number of an epic's stories in the given status.
func (s *StoryService) CountByStatus(ctx context.Context, epicNum int, status models.StoryStatus) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM stories WHERE epic_num = ? AND status = ?`,
		epicNum, status).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count stories: %w", err)
	}
	return n, nil
}
