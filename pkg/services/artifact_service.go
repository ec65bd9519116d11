package services

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/memyselfmike/gao-agile-dev-sub008/pkg/models"
)

// ArtifactService persists artifact registrations from the artifact manager.
type ArtifactService struct {
	db *sql.DB
}

// NewArtifactService creates an artifact service.
func NewArtifactService(db *sql.DB) *ArtifactService {
	return &ArtifactService{db: db}
}

// Register stores artifact metadata.
func (s *ArtifactService) Register(ctx context.Context, a models.Artifact) error {
	variables := a.Variables
	if variables == "" {
		variables = "{}"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO artifacts (path, type, workflow_name, epic_num, story_num, agent, phase, variables)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.Path, a.Type, a.WorkflowName, a.EpicNum, a.StoryNum, a.Agent, a.Phase, variables)
	if err != nil {
		return fmt.Errorf("failed to register artifact %s: %w", a.Path, err)
	}
	return nil
}

// ListByWorkflow returns artifacts registered for a workflow name.
func (s *ArtifactService) ListByWorkflow(ctx context.Context, workflowName string) ([]models.Artifact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, path, type, workflow_name, epic_num, story_num, agent, phase, variables, created_at
		 FROM artifacts WHERE workflow_name = ? ORDER BY id`, workflowName)
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}
	defer rows.Close()

	var out []models.Artifact
	for rows.Next() {
		var (
			a     models.Artifact
			agent sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.Path, &a.Type, &a.WorkflowName,
			&a.EpicNum, &a.StoryNum, &agent, &a.Phase, &a.Variables, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan artifact: %w", err)
		}
		a.Agent = agent.String
		out = append(out, a)
	}
	return out, rows.Err()
}
