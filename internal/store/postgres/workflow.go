package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/lyzr/workflows/internal/model"
	"github.com/lyzr/workflows/internal/store"
)

func (s *Store) CreateWorkflow(ctx context.Context, wf *model.Workflow) error {
	nodes, edges, settings, counters, err := marshalWorkflowColumns(wf)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO workflow (id, owner, name, slug, nodes, edges, settings, status, counters, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = s.db.Exec(ctx, query,
		wf.ID, wf.Owner, wf.Name, wf.Slug, nodes, edges, settings, wf.Status, counters, wf.Version, wf.CreatedAt, wf.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create workflow: %w", err)
	}
	return nil
}

func (s *Store) GetWorkflow(ctx context.Context, id uuid.UUID) (*model.Workflow, error) {
	query := `
		SELECT id, owner, name, slug, nodes, edges, settings, status, counters, version, created_at, updated_at
		FROM workflow WHERE id = $1
	`
	return s.scanWorkflow(s.db.QueryRow(ctx, query, id))
}

func (s *Store) GetWorkflowBySlug(ctx context.Context, owner, slug string) (*model.Workflow, error) {
	query := `
		SELECT id, owner, name, slug, nodes, edges, settings, status, counters, version, created_at, updated_at
		FROM workflow WHERE owner = $1 AND slug = $2
	`
	return s.scanWorkflow(s.db.QueryRow(ctx, query, owner, slug))
}

func (s *Store) ListWorkflows(ctx context.Context, owner string) ([]model.Workflow, error) {
	query := `
		SELECT id, owner, name, slug, nodes, edges, settings, status, counters, version, created_at, updated_at
		FROM workflow WHERE owner = $1 ORDER BY updated_at DESC
	`
	rows, err := s.db.Query(ctx, query, owner)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	var out []model.Workflow
	for rows.Next() {
		wf, err := s.scanWorkflowRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *wf)
	}
	return out, rows.Err()
}

func (s *Store) UpdateWorkflow(ctx context.Context, wf *model.Workflow) error {
	nodes, edges, settings, counters, err := marshalWorkflowColumns(wf)
	if err != nil {
		return err
	}
	query := `
		UPDATE workflow
		SET name = $2, slug = $3, nodes = $4, edges = $5, settings = $6, status = $7,
		    counters = $8, version = version + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING version
	`
	if err := s.db.QueryRow(ctx, query, wf.ID, wf.Name, wf.Slug, nodes, edges, settings, wf.Status, counters).Scan(&wf.Version); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ErrNotFound
		}
		return fmt.Errorf("update workflow: %w", err)
	}
	return nil
}

// CompareAndSwapStatus transitions a workflow's status only if its stored
// version still matches expectedVersion, mirroring the teacher's
// optimistic-lock tag CAS.
func (s *Store) CompareAndSwapStatus(ctx context.Context, id uuid.UUID, expectedVersion int, next model.WorkflowStatus) error {
	query := `
		UPDATE workflow
		SET status = $3, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND version = $2
	`
	tag, err := s.db.Exec(ctx, query, id, expectedVersion, next)
	if err != nil {
		return fmt.Errorf("compare-and-swap workflow status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrVersionConflict
	}
	return nil
}

func (s *Store) DeleteWorkflow(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.Exec(ctx, `DELETE FROM workflow WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete workflow: %w", err)
	}
	return nil
}

func (s *Store) CreateWorkflowVersion(ctx context.Context, v *model.WorkflowVersion) error {
	nodes, err := json.Marshal(v.Nodes)
	if err != nil {
		return fmt.Errorf("marshal workflow version nodes: %w", err)
	}
	edges, err := json.Marshal(v.Edges)
	if err != nil {
		return fmt.Errorf("marshal workflow version edges: %w", err)
	}
	query := `
		INSERT INTO workflow_version (id, workflow_id, version_number, nodes, edges, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = s.db.Exec(ctx, query, v.ID, v.WorkflowID, v.VersionNumber, nodes, edges, v.CreatedAt)
	if err != nil {
		return fmt.Errorf("create workflow version: %w", err)
	}
	return nil
}

func (s *Store) GetWorkflowVersion(ctx context.Context, workflowID uuid.UUID, versionNumber int) (*model.WorkflowVersion, error) {
	query := `
		SELECT id, workflow_id, version_number, nodes, edges, created_at
		FROM workflow_version WHERE workflow_id = $1 AND version_number = $2
	`
	return s.scanWorkflowVersion(s.db.QueryRow(ctx, query, workflowID, versionNumber))
}

func (s *Store) LatestWorkflowVersion(ctx context.Context, workflowID uuid.UUID) (*model.WorkflowVersion, error) {
	query := `
		SELECT id, workflow_id, version_number, nodes, edges, created_at
		FROM workflow_version WHERE workflow_id = $1 ORDER BY version_number DESC LIMIT 1
	`
	return s.scanWorkflowVersion(s.db.QueryRow(ctx, query, workflowID))
}

func marshalWorkflowColumns(wf *model.Workflow) (nodes, edges, settings, counters []byte, err error) {
	if nodes, err = json.Marshal(wf.Nodes); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal nodes: %w", err)
	}
	if edges, err = json.Marshal(wf.Edges); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal edges: %w", err)
	}
	if settings, err = json.Marshal(wf.Settings); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal settings: %w", err)
	}
	if counters, err = json.Marshal(wf.Counters); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal counters: %w", err)
	}
	return nodes, edges, settings, counters, nil
}

// rowScanner abstracts pgx.Row / pgx.Rows so scanWorkflow can serve both a
// single QueryRow and a Query loop.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *Store) scanWorkflow(row rowScanner) (*model.Workflow, error) {
	return scanWorkflowRow(row)
}

func (s *Store) scanWorkflowRows(rows rowScanner) (*model.Workflow, error) {
	return scanWorkflowRow(rows)
}

func scanWorkflowRow(row rowScanner) (*model.Workflow, error) {
	var wf model.Workflow
	var nodes, edges, settings, counters []byte
	err := row.Scan(&wf.ID, &wf.Owner, &wf.Name, &wf.Slug, &nodes, &edges, &settings, &wf.Status, &counters, &wf.Version, &wf.CreatedAt, &wf.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("scan workflow: %w", err)
	}
	if err := json.Unmarshal(nodes, &wf.Nodes); err != nil {
		return nil, fmt.Errorf("unmarshal nodes: %w", err)
	}
	if err := json.Unmarshal(edges, &wf.Edges); err != nil {
		return nil, fmt.Errorf("unmarshal edges: %w", err)
	}
	if err := json.Unmarshal(settings, &wf.Settings); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}
	if err := json.Unmarshal(counters, &wf.Counters); err != nil {
		return nil, fmt.Errorf("unmarshal counters: %w", err)
	}
	return &wf, nil
}

func (s *Store) scanWorkflowVersion(row rowScanner) (*model.WorkflowVersion, error) {
	var v model.WorkflowVersion
	var nodes, edges []byte
	err := row.Scan(&v.ID, &v.WorkflowID, &v.VersionNumber, &nodes, &edges, &v.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("scan workflow version: %w", err)
	}
	if err := json.Unmarshal(nodes, &v.Nodes); err != nil {
		return nil, fmt.Errorf("unmarshal version nodes: %w", err)
	}
	if err := json.Unmarshal(edges, &v.Edges); err != nil {
		return nil, fmt.Errorf("unmarshal version edges: %w", err)
	}
	return &v, nil
}
