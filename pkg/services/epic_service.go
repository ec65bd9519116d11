// Package services implements the store layer over the embedded database:
// one service per entity family, raw SQL, sentinel errors.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/memyselfmike/gao-agile-dev-sub008/pkg/models"
)

// EpicService persists epics.
type EpicService struct {
	db *sql.DB
}

// NewEpicService creates an epic service.
func NewEpicService(db *sql.DB) *EpicService {
	return &EpicService{db: db}
}

// CreateEpicRequest holds the fields for creating an epic.
type CreateEpicRequest struct {
	EpicNum     int
	Title       string
	Feature     string
	TotalPoints int
}

// Create inserts a new epic in status planned.
func (s *EpicService) Create(ctx context.Context, req CreateEpicRequest) (*models.Epic, error) {
	if req.EpicNum < 1 {
		return nil, fmt.Errorf("%w: epic_num must be >= 1", ErrInvalidInput)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO epics (epic_num, title, feature, status, total_points)
		 VALUES (?, ?, ?, ?, ?)`,
		req.EpicNum, req.Title, req.Feature, models.EpicPlanned, req.TotalPoints)
	if err != nil {
		return nil, fmt.Errorf("failed to create epic %d: %w", req.EpicNum, err)
	}
	return s.Get(ctx, req.EpicNum)
}

// Get returns the epic with the given number.
func (s *EpicService) Get(ctx context.Context, epicNum int) (*models.Epic, error) {
	var e models.Epic
	err := s.db.QueryRowContext(ctx,
		`SELECT epic_num, title, feature, status, total_points, completed_points,
		        created_at, updated_at
		 FROM epics WHERE epic_num = ?`, epicNum).
		Scan(&e.EpicNum, &e.Title, &e.Feature, &e.Status, &e.TotalPoints,
			&e.CompletedPoints, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("epic %d: %w", epicNum, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get epic %d: %w", epicNum, err)
	}
	return &e, nil
}

// UpdateStatus sets the epic status.
func (s *EpicService) UpdateStatus(ctx context.Context, epicNum int, status models.EpicStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE epics SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE epic_num = ?`,
		status, epicNum)
	if err != nil {
		return fmt.Errorf("failed to update epic %d: %w", epicNum, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("epic %d: %w", epicNum, ErrNotFound)
	}
	return nil
}

// AddCompletedPoints increments completed_points after a story completes and
// marks the epic done when all points are complete.
func (s *EpicService) AddCompletedPoints(ctx context.Context, epicNum, points int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE epics
		 SET completed_points = MIN(completed_points + ?, total_points),
		     status = CASE
		         WHEN completed_points + ? >= total_points AND total_points > 0 THEN 'done'
		         ELSE 'in_progress'
		     END,
		     updated_at = CURRENT_TIMESTAMP
		 WHERE epic_num = ?`,
		points, points, epicNum)
	if err != nil {
		return fmt.Errorf("failed to add points to epic %d: %w", epicNum, err)
	}
	return nil
}

// List returns all epics ordered by number.
func (s *EpicService) List(ctx context.Context) ([]models.Epic, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT epic_num, title, feature, status, total_points, completed_points,
		        created_at, updated_at
		 FROM epics ORDER BY epic_num`)
	if err != nil {
		return nil, fmt.Errorf("failed to list epics: %w", err)
	}
	defer rows.Close()

	var out []models.Epic
	for rows.Next() {
		var e models.Epic
		if err := rows.Scan(&e.EpicNum, &e.Title, &e.Feature, &e.Status,
			&e.TotalPoints, &e.CompletedPoints, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan epic: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
