package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/memyselfmike/gao-agile-dev-sub008/pkg/models"
)

// CeremonyService persists ceremonies and the trigger safety-tracking table.
type CeremonyService struct {
	db *sql.DB
}

// NewCeremonyService creates a ceremony service.
func NewCeremonyService(db *sql.DB) *CeremonyService {
	return &CeremonyService{db: db}
}

// BeginTx opens a transaction for the ceremony orchestrator's atomic record
// phase.
func (s *CeremonyService) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, nil)
}

// InsertTx inserts a ceremony row with its action items and learnings inside
// an open transaction. The caller owns commit/rollback.
func (s *CeremonyService) InsertTx(ctx context.Context, tx *sql.Tx, c *models.Ceremony) error {
	participants, err := json.Marshal(c.Participants)
	if err != nil {
		return fmt.Errorf("failed to marshal participants: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO ceremonies (id, type, epic_num, story_num, transcript_path, participants)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.Type, c.EpicNum, c.StoryNum, c.TranscriptPath, string(participants))
	if err != nil {
		return fmt.Errorf("failed to insert ceremony %s: %w", c.ID, err)
	}
	for _, item := range c.ActionItems {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO ceremony_action_items (ceremony_id, description) VALUES (?, ?)`,
			c.ID, item); err != nil {
			return fmt.Errorf("failed to insert action item: %w", err)
		}
	}
	for _, learning := range c.Learnings {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO ceremony_learnings (ceremony_id, content) VALUES (?, ?)`,
			c.ID, learning); err != nil {
			return fmt.Errorf("failed to insert learning: %w", err)
		}
	}
	return nil
}

// Get returns a ceremony with its action items and learnings.
func (s *CeremonyService) Get(ctx context.Context, id string) (*models.Ceremony, error) {
	var (
		c            models.Ceremony
		participants string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, type, epic_num, story_num, transcript_path, participants, created_at
		 FROM ceremonies WHERE id = ?`, id).
		Scan(&c.ID, &c.Type, &c.EpicNum, &c.StoryNum, &c.TranscriptPath,
			&participants, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("ceremony %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ceremony %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(participants), &c.Participants); err != nil {
		return nil, fmt.Errorf("corrupt participants for ceremony %s: %w", id, err)
	}

	c.ActionItems, err = s.readStrings(ctx,
		`SELECT description FROM ceremony_action_items WHERE ceremony_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, err
	}
	c.Learnings, err = s.readStrings(ctx,
		`SELECT content FROM ceremony_learnings WHERE ceremony_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// CountByEpic returns how many ceremonies of the given type exist for an epic.
func (s *CeremonyService) CountByEpic(ctx context.Context, epicNum int, cType models.CeremonyType) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ceremonies WHERE epic_num = ? AND type = ?`,
		epicNum, cType).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count ceremonies: %w", err)
	}
	return n, nil
}

// RecordExecution appends a row to the safety-tracking table so a trigger
// never fires twice for the same epic milestone.
func (s *CeremonyService) RecordExecution(ctx context.Context, epicNum int, cType models.CeremonyType, success bool) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ceremony_executions (epic_num, type, success) VALUES (?, ?, ?)`,
		epicNum, cType, success)
	if err != nil {
		return fmt.Errorf("failed to record ceremony execution: %w", err)
	}
	return nil
}

// ExecutionCount returns how many times a trigger of the given type has fired
// for an epic (successful or not).
func (s *CeremonyService) ExecutionCount(ctx context.Context, epicNum int, cType models.CeremonyType) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ceremony_executions WHERE epic_num = ? AND type = ?`,
		epicNum, cType).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count ceremony executions: %w", err)
	}
	return n, nil
}

func (s *CeremonyService) readStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
