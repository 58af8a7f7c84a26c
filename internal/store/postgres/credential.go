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

func (s *Store) CreateCredential(ctx context.Context, c *model.Credential) error {
	query := `
		INSERT INTO credential (id, user_id, name, type, encrypted_blob, nonce, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.db.Exec(ctx, query, c.ID, c.UserID, c.Name, c.Type, c.EncryptedBlob, c.Nonce, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create credential: %w", err)
	}
	return nil
}

func (s *Store) GetCredential(ctx context.Context, id uuid.UUID) (*model.Credential, error) {
	query := `
		SELECT id, user_id, name, type, encrypted_blob, nonce, created_at, updated_at
		FROM credential WHERE id = $1
	`
	return scanCredential(s.db.QueryRow(ctx, query, id))
}

func (s *Store) ListCredentials(ctx context.Context, userID string) ([]model.Credential, error) {
	query := `
		SELECT id, user_id, name, type, encrypted_blob, nonce, created_at, updated_at
		FROM credential WHERE user_id = $1 ORDER BY created_at DESC
	`
	rows, err := s.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var out []model.Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (s *Store) UpdateCredential(ctx context.Context, c *model.Credential) error {
	query := `
		UPDATE credential SET name = $2, encrypted_blob = $3, nonce = $4, updated_at = NOW()
		WHERE id = $1
	`
	_, err := s.db.Exec(ctx, query, c.ID, c.Name, c.EncryptedBlob, c.Nonce)
	if err != nil {
		return fmt.Errorf("update credential: %w", err)
	}
	return nil
}

func (s *Store) DeleteCredential(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.Exec(ctx, `DELETE FROM credential WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	return nil
}

func (s *Store) AppendCredentialAudit(ctx context.Context, entry model.CredentialAuditLog) error {
	query := `
		INSERT INTO credential_audit_log (id, credential_id, user_id, action, success, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.db.Exec(ctx, query, entry.ID, entry.CredentialID, entry.UserID, entry.Action, entry.Success, entry.Detail, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("append credential audit log: %w", err)
	}
	return nil
}

func scanCredential(row rowScanner) (*model.Credential, error) {
	var c model.Credential
	err := row.Scan(&c.ID, &c.UserID, &c.Name, &c.Type, &c.EncryptedBlob, &c.Nonce, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("scan credential: %w", err)
	}
	return &c, nil
}
