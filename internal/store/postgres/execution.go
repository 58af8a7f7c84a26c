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

func (s *Store) CreateExecutionLog(ctx context.Context, e *model.ExecutionLog) error {
	input, output, err := marshalExecutionColumns(e)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO execution_log (execution_id, workflow_id, user_id, status, input_data, output, error,
			parent_execution_id, nesting_depth, timeout_budget_ms, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = s.db.Exec(ctx, query, e.ExecutionID, e.WorkflowID, e.UserID, e.Status, input, output, e.Error,
		e.ParentExecutionID, e.NestingDepth, e.TimeoutBudgetMs, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create execution log: %w", err)
	}
	return nil
}

func (s *Store) UpdateExecutionLog(ctx context.Context, e *model.ExecutionLog) error {
	input, output, err := marshalExecutionColumns(e)
	if err != nil {
		return err
	}
	query := `
		UPDATE execution_log
		SET status = $2, input_data = $3, output = $4, error = $5, updated_at = NOW()
		WHERE execution_id = $1
	`
	_, err = s.db.Exec(ctx, query, e.ExecutionID, e.Status, input, output, e.Error)
	if err != nil {
		return fmt.Errorf("update execution log: %w", err)
	}
	return nil
}

func (s *Store) GetExecutionLog(ctx context.Context, id uuid.UUID) (*model.ExecutionLog, error) {
	query := `
		SELECT execution_id, workflow_id, user_id, status, input_data, output, error,
			parent_execution_id, nesting_depth, timeout_budget_ms, created_at, updated_at
		FROM execution_log WHERE execution_id = $1
	`
	var e model.ExecutionLog
	var input, output []byte
	err := s.db.QueryRow(ctx, query, id).Scan(&e.ExecutionID, &e.WorkflowID, &e.UserID, &e.Status, &input, &output,
		&e.Error, &e.ParentExecutionID, &e.NestingDepth, &e.TimeoutBudgetMs, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("get execution log: %w", err)
	}
	if err := json.Unmarshal(input, &e.InputData); err != nil {
		return nil, fmt.Errorf("unmarshal input data: %w", err)
	}
	if err := json.Unmarshal(output, &e.Output); err != nil {
		return nil, fmt.Errorf("unmarshal output: %w", err)
	}
	return &e, nil
}

func (s *Store) ListExecutionLogs(ctx context.Context, workflowID uuid.UUID, limit int) ([]model.ExecutionLog, error) {
	query := `
		SELECT execution_id, workflow_id, user_id, status, input_data, output, error,
			parent_execution_id, nesting_depth, timeout_budget_ms, created_at, updated_at
		FROM execution_log WHERE workflow_id = $1 ORDER BY created_at DESC LIMIT $2
	`
	rows, err := s.db.Query(ctx, query, workflowID, limit)
	if err != nil {
		return nil, fmt.Errorf("list execution logs: %w", err)
	}
	defer rows.Close()

	var out []model.ExecutionLog
	for rows.Next() {
		var e model.ExecutionLog
		var input, output []byte
		if err := rows.Scan(&e.ExecutionID, &e.WorkflowID, &e.UserID, &e.Status, &input, &output,
			&e.Error, &e.ParentExecutionID, &e.NestingDepth, &e.TimeoutBudgetMs, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan execution log: %w", err)
		}
		_ = json.Unmarshal(input, &e.InputData)
		_ = json.Unmarshal(output, &e.Output)
		out = append(out, e)
	}
	return out, rows.Err()
}

func marshalExecutionColumns(e *model.ExecutionLog) (input, output []byte, err error) {
	if input, err = json.Marshal(e.InputData); err != nil {
		return nil, nil, fmt.Errorf("marshal input data: %w", err)
	}
	if output, err = json.Marshal(e.Output); err != nil {
		return nil, nil, fmt.Errorf("marshal output: %w", err)
	}
	return input, output, nil
}

func (s *Store) AppendNodeExecutionLog(ctx context.Context, n *model.NodeExecutionLog) error {
	input, err := json.Marshal(n.Input)
	if err != nil {
		return fmt.Errorf("marshal node input: %w", err)
	}
	output, err := json.Marshal(n.Output)
	if err != nil {
		return fmt.Errorf("marshal node output: %w", err)
	}
	query := `
		INSERT INTO node_execution_log (id, execution_id, node_id, node_type, execution_order, status,
			input, output, output_handle, error, retry_count, started_at, completed_at, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err = s.db.Exec(ctx, query, n.ID, n.ExecutionID, n.NodeID, n.NodeType, n.ExecutionOrder, n.Status,
		input, output, n.OutputHandle, n.Error, n.RetryCount, n.StartedAt, n.CompletedAt, n.DurationMs)
	if err != nil {
		return fmt.Errorf("append node execution log: %w", err)
	}
	return nil
}

func (s *Store) ListNodeExecutionLogs(ctx context.Context, executionID uuid.UUID) ([]model.NodeExecutionLog, error) {
	query := `
		SELECT id, execution_id, node_id, node_type, execution_order, status, input, output,
			output_handle, error, retry_count, started_at, completed_at, duration_ms
		FROM node_execution_log WHERE execution_id = $1 ORDER BY execution_order ASC
	`
	rows, err := s.db.Query(ctx, query, executionID)
	if err != nil {
		return nil, fmt.Errorf("list node execution logs: %w", err)
	}
	defer rows.Close()

	var out []model.NodeExecutionLog
	for rows.Next() {
		var n model.NodeExecutionLog
		var input, output []byte
		if err := rows.Scan(&n.ID, &n.ExecutionID, &n.NodeID, &n.NodeType, &n.ExecutionOrder, &n.Status, &input, &output,
			&n.OutputHandle, &n.Error, &n.RetryCount, &n.StartedAt, &n.CompletedAt, &n.DurationMs); err != nil {
			return nil, fmt.Errorf("scan node execution log: %w", err)
		}
		_ = json.Unmarshal(input, &n.Input)
		_ = json.Unmarshal(output, &n.Output)
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *Store) AppendStreamEvent(ctx context.Context, evt model.StreamEvent) error {
	data, err := json.Marshal(evt.Data)
	if err != nil {
		return fmt.Errorf("marshal stream event data: %w", err)
	}
	query := `
		INSERT INTO stream_event (event_id, execution_id, event_type, data, sequence, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = s.db.Exec(ctx, query, evt.EventID, evt.ExecutionID, evt.EventType, data, evt.Sequence, evt.Timestamp)
	if err != nil {
		return fmt.Errorf("append stream event: %w", err)
	}
	return nil
}

func (s *Store) ListStreamEvents(ctx context.Context, executionID uuid.UUID, sinceSequence int64) ([]model.StreamEvent, error) {
	query := `
		SELECT event_id, execution_id, event_type, data, sequence, created_at
		FROM stream_event WHERE execution_id = $1 AND sequence > $2 ORDER BY sequence ASC
	`
	rows, err := s.db.Query(ctx, query, executionID, sinceSequence)
	if err != nil {
		return nil, fmt.Errorf("list stream events: %w", err)
	}
	defer rows.Close()

	var out []model.StreamEvent
	for rows.Next() {
		var evt model.StreamEvent
		var data []byte
		if err := rows.Scan(&evt.EventID, &evt.ExecutionID, &evt.EventType, &data, &evt.Sequence, &evt.Timestamp); err != nil {
			return nil, fmt.Errorf("scan stream event: %w", err)
		}
		_ = json.Unmarshal(data, &evt.Data)
		out = append(out, evt)
	}
	return out, rows.Err()
}

func (s *Store) AppendAuditEntry(ctx context.Context, entry model.AuditEntry) error {
	query := `
		INSERT INTO audit_entry (id, execution_id, user_id, action, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.db.Exec(ctx, query, entry.ID, entry.ExecutionID, entry.UserID, entry.Action, entry.Detail, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}
