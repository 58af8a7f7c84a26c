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

func (s *Store) CreateHITLRequest(ctx context.Context, r *model.HITLRequest) error {
	options, context_, err := marshalHitlColumns(r)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO hitl_request (id, execution_id, user_id, node_id, type, title, message, options,
			context_data, status, timeout_seconds, auto_action, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err = s.db.Exec(ctx, query, r.ID, r.ExecutionID, r.UserID, r.NodeID, r.Type, r.Title, r.Message, options,
		context_, r.Status, r.TimeoutSeconds, r.AutoAction, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("create hitl request: %w", err)
	}
	return nil
}

func (s *Store) UpdateHITLRequest(ctx context.Context, r *model.HITLRequest) error {
	var response []byte
	var err error
	if r.Response != nil {
		response, err = json.Marshal(r.Response)
		if err != nil {
			return fmt.Errorf("marshal hitl response: %w", err)
		}
	}
	query := `
		UPDATE hitl_request SET status = $2, response = $3, responded_at = $4
		WHERE id = $1
	`
	_, err = s.db.Exec(ctx, query, r.ID, r.Status, response, r.RespondedAt)
	if err != nil {
		return fmt.Errorf("update hitl request: %w", err)
	}
	return nil
}

func (s *Store) GetHITLRequest(ctx context.Context, id uuid.UUID) (*model.HITLRequest, error) {
	query := `
		SELECT id, execution_id, user_id, node_id, type, title, message, options, context_data,
			status, response, timeout_seconds, auto_action, created_at, responded_at
		FROM hitl_request WHERE id = $1
	`
	return scanHitl(s.db.QueryRow(ctx, query, id))
}

func (s *Store) ListPendingHITLRequests(ctx context.Context, userID string) ([]model.HITLRequest, error) {
	query := `
		SELECT id, execution_id, user_id, node_id, type, title, message, options, context_data,
			status, response, timeout_seconds, auto_action, created_at, responded_at
		FROM hitl_request WHERE user_id = $1 AND status = $2 ORDER BY created_at ASC
	`
	rows, err := s.db.Query(ctx, query, userID, model.HITLPending)
	if err != nil {
		return nil, fmt.Errorf("list pending hitl requests: %w", err)
	}
	defer rows.Close()

	var out []model.HITLRequest
	for rows.Next() {
		r, err := scanHitl(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func marshalHitlColumns(r *model.HITLRequest) (options, contextData []byte, err error) {
	if options, err = json.Marshal(r.Options); err != nil {
		return nil, nil, fmt.Errorf("marshal hitl options: %w", err)
	}
	if contextData, err = json.Marshal(r.ContextData); err != nil {
		return nil, nil, fmt.Errorf("marshal hitl context data: %w", err)
	}
	return options, contextData, nil
}

func scanHitl(row rowScanner) (*model.HITLRequest, error) {
	var r model.HITLRequest
	var options, contextData, response []byte
	err := row.Scan(&r.ID, &r.ExecutionID, &r.UserID, &r.NodeID, &r.Type, &r.Title, &r.Message, &options,
		&contextData, &r.Status, &response, &r.TimeoutSeconds, &r.AutoAction, &r.CreatedAt, &r.RespondedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("scan hitl request: %w", err)
	}
	if err := json.Unmarshal(options, &r.Options); err != nil {
		return nil, fmt.Errorf("unmarshal hitl options: %w", err)
	}
	if err := json.Unmarshal(contextData, &r.ContextData); err != nil {
		return nil, fmt.Errorf("unmarshal hitl context data: %w", err)
	}
	if len(response) > 0 {
		r.Response = &model.HITLResponse{}
		if err := json.Unmarshal(response, r.Response); err != nil {
			return nil, fmt.Errorf("unmarshal hitl response: %w", err)
		}
	}
	return &r, nil
}
