package model

import (
	"time"

	"github.com/google/uuid"
)

// EventType enumerates the StreamEvent payload shapes defined for the broadcaster.
type EventType string

const (
	EventWorkflowStart    EventType = "workflow_start"
	EventWorkflowComplete EventType = "workflow_complete"
	EventWorkflowError    EventType = "workflow_error"
	EventNodeStarted      EventType = "node_started"
	EventNodeComplete     EventType = "node_complete"
	EventNodeSkipped      EventType = "node_skipped"
	EventHitlRequest      EventType = "hitl_request"
	EventProgress         EventType = "progress"
	EventHeartbeat        EventType = "heartbeat"
	EventConnected        EventType = "connected"
)

// StreamEvent is one ordered, sequence-numbered event for a single execution.
type StreamEvent struct {
	EventID     uuid.UUID              `json:"eventId"`
	ExecutionID uuid.UUID              `json:"executionId"`
	EventType   EventType              `json:"eventType"`
	Data        map[string]interface{} `json:"data"`
	Sequence    int64                  `json:"sequence"`
	Timestamp   time.Time              `json:"timestamp"`
}

// Credential describes a stored, encrypted secret owned by a single user.
type CredentialType string

const (
	CredentialAPIKey  CredentialType = "api_key"
	CredentialOAuth2  CredentialType = "oauth2"
	CredentialBasic   CredentialType = "basic"
	CredentialBearer  CredentialType = "bearer"
	CredentialCustom  CredentialType = "custom"
)

// Credential is the encrypted-at-rest record; EncryptedBlob is opaque ciphertext,
// never logged or returned to API callers.
type Credential struct {
	ID            uuid.UUID      `db:"id"`
	UserID        string         `db:"user_id"`
	Name          string         `db:"name"`
	Type          CredentialType `db:"type"`
	EncryptedBlob []byte         `db:"encrypted_blob"`
	Nonce         []byte         `db:"nonce"`
	OAuthAccessToken  string     `db:"-"`
	OAuthRefreshToken string     `db:"-"`
	OAuthExpiresAt    *time.Time `db:"-"`
	CreatedAt     time.Time      `db:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at"`
}

// CredentialAuditAction classifies an audit log entry.
type CredentialAuditAction string

const (
	AuditFetch  CredentialAuditAction = "fetch"
	AuditDecrypt CredentialAuditAction = "decrypt"
	AuditCreate CredentialAuditAction = "create"
	AuditUpdate CredentialAuditAction = "update"
	AuditDelete CredentialAuditAction = "delete"
	AuditVerify CredentialAuditAction = "verify"
	AuditRefresh CredentialAuditAction = "refresh"
)

// CredentialAuditLog records every access to a credential for compliance review.
type CredentialAuditLog struct {
	ID           uuid.UUID             `db:"id"`
	CredentialID uuid.UUID             `db:"credential_id"`
	UserID       string                `db:"user_id"`
	Action       CredentialAuditAction `db:"action"`
	Success      bool                  `db:"success"`
	Detail       string                `db:"detail"`
	CreatedAt    time.Time             `db:"created_at"`
}

// AuditEntry records a lifecycle transition (pause/resume/cancel) on an execution.
type AuditEntry struct {
	ID          uuid.UUID `db:"id"`
	ExecutionID uuid.UUID `db:"execution_id"`
	UserID      string    `db:"user_id"`
	Action      string    `db:"action"`
	Detail      string    `db:"detail"`
	CreatedAt   time.Time `db:"created_at"`
}
