package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/lyzr/workflows/internal/model"
	"github.com/lyzr/workflows/internal/store"
)

// UpsertTag points name at versionNumber, creating the tag if it doesn't
// already exist for this workflow.
func (s *Store) UpsertTag(ctx context.Context, tag *model.WorkflowTag) error {
	query := `
		INSERT INTO workflow_tag (workflow_id, name, version_number, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (workflow_id, name)
		DO UPDATE SET version_number = EXCLUDED.version_number, updated_at = NOW()
	`
	_, err := s.db.Exec(ctx, query, tag.WorkflowID, tag.Name, tag.VersionNumber)
	if err != nil {
		return fmt.Errorf("upsert workflow tag: %w", err)
	}
	return nil
}

func (s *Store) GetTag(ctx context.Context, workflowID uuid.UUID, name string) (*model.WorkflowTag, error) {
	query := `
		SELECT workflow_id, name, version_number, created_at, updated_at
		FROM workflow_tag WHERE workflow_id = $1 AND name = $2
	`
	return scanWorkflowTag(s.db.QueryRow(ctx, query, workflowID, name))
}

func (s *Store) ListTags(ctx context.Context, workflowID uuid.UUID) ([]model.WorkflowTag, error) {
	query := `
		SELECT workflow_id, name, version_number, created_at, updated_at
		FROM workflow_tag WHERE workflow_id = $1 ORDER BY name
	`
	rows, err := s.db.Query(ctx, query, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list workflow tags: %w", err)
	}
	defer rows.Close()

	var tags []model.WorkflowTag
	for rows.Next() {
		tag, err := scanWorkflowTag(rows)
		if err != nil {
			return nil, err
		}
		tags = append(tags, *tag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list workflow tags: %w", err)
	}
	return tags, nil
}

func scanWorkflowTag(row rowScanner) (*model.WorkflowTag, error) {
	var t model.WorkflowTag
	err := row.Scan(&t.WorkflowID, &t.Name, &t.VersionNumber, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("scan workflow tag: %w", err)
	}
	return &t, nil
}
