package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/memyselfmike/gao-agile-dev-sub008/pkg/models"
)

// FeatureService persists feature scopes.
type FeatureService struct {
	db *sql.DB
}

// NewFeatureService creates a feature service.
func NewFeatureService(db *sql.DB) *FeatureService {
	return &FeatureService{db: db}
}

// Create registers a feature scope. Creating an existing feature fails with
// ErrAlreadyExists.
func (s *FeatureService) Create(ctx context.Context, name, description string) (*models.Feature, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: feature name is required", ErrInvalidInput)
	}
	if _, err := s.Get(ctx, name); err == nil {
		return nil, fmt.Errorf("feature %s: %w", name, ErrAlreadyExists)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO features (name, description) VALUES (?, ?)`, name, description)
	if err != nil {
		return nil, fmt.Errorf("failed to create feature %s: %w", name, err)
	}
	return s.Get(ctx, name)
}

// Get returns a feature by name.
func (s *FeatureService) Get(ctx context.Context, name string) (*models.Feature, error) {
	var f models.Feature
	err := s.db.QueryRowContext(ctx,
		`SELECT name, description, created_at FROM features WHERE name = ?`, name).
		Scan(&f.Name, &f.Description, &f.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("feature %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get feature %s: %w", name, err)
	}
	return &f, nil
}

// Exists reports whether a feature is registered.
func (s *FeatureService) Exists(ctx context.Context, name string) (bool, error) {
	_, err := s.Get(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ListNames returns all feature names, alphabetically.
func (s *FeatureService) ListNames(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM features ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list features: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan feature: %w", err)
		}
		out = append(out, name)
	}
	return out, rows.Err()
}
