// Package store defines the persistence contracts the server, orchestrator,
// and credential manager depend on. internal/store/postgres provides the
// pgx-backed implementation; nothing outside this package and its postgres
// subpackage should construct SQL.
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/lyzr/workflows/internal/model"
)

// ErrNotFound is returned by any lookup that finds no matching row.
var ErrNotFound = errors.New("store: not found")

// ErrVersionConflict is returned by a CompareAndSwap whose expected version
// no longer matches the stored row.
var ErrVersionConflict = errors.New("store: version conflict")

// WorkflowStore persists workflow definitions and their immutable versions.
type WorkflowStore interface {
	CreateWorkflow(ctx context.Context, wf *model.Workflow) error
	GetWorkflow(ctx context.Context, id uuid.UUID) (*model.Workflow, error)
	GetWorkflowBySlug(ctx context.Context, owner, slug string) (*model.Workflow, error)
	ListWorkflows(ctx context.Context, owner string) ([]model.Workflow, error)
	UpdateWorkflow(ctx context.Context, wf *model.Workflow) error
	// CompareAndSwapStatus performs an optimistic-lock transition, failing
	// with ErrVersionConflict if wf.Version no longer matches the stored row.
	CompareAndSwapStatus(ctx context.Context, id uuid.UUID, expectedVersion int, next model.WorkflowStatus) error
	DeleteWorkflow(ctx context.Context, id uuid.UUID) error

	CreateWorkflowVersion(ctx context.Context, v *model.WorkflowVersion) error
	GetWorkflowVersion(ctx context.Context, workflowID uuid.UUID, versionNumber int) (*model.WorkflowVersion, error)
	LatestWorkflowVersion(ctx context.Context, workflowID uuid.UUID) (*model.WorkflowVersion, error)

	// UpsertTag points name at versionNumber, creating the tag if it doesn't
	// already exist for this workflow.
	UpsertTag(ctx context.Context, tag *model.WorkflowTag) error
	GetTag(ctx context.Context, workflowID uuid.UUID, name string) (*model.WorkflowTag, error)
	ListTags(ctx context.Context, workflowID uuid.UUID) ([]model.WorkflowTag, error)
}

// ExecutionStore persists execution and per-node run history.
type ExecutionStore interface {
	CreateExecutionLog(ctx context.Context, e *model.ExecutionLog) error
	UpdateExecutionLog(ctx context.Context, e *model.ExecutionLog) error
	GetExecutionLog(ctx context.Context, id uuid.UUID) (*model.ExecutionLog, error)
	ListExecutionLogs(ctx context.Context, workflowID uuid.UUID, limit int) ([]model.ExecutionLog, error)

	AppendNodeExecutionLog(ctx context.Context, n *model.NodeExecutionLog) error
	ListNodeExecutionLogs(ctx context.Context, executionID uuid.UUID) ([]model.NodeExecutionLog, error)

	AppendStreamEvent(ctx context.Context, evt model.StreamEvent) error
	ListStreamEvents(ctx context.Context, executionID uuid.UUID, sinceSequence int64) ([]model.StreamEvent, error)

	AppendAuditEntry(ctx context.Context, entry model.AuditEntry) error
}

// HITLStore persists human-in-the-loop requests for durability across process
// restarts; the live response channel itself only ever lives in memory.
type HITLStore interface {
	CreateHITLRequest(ctx context.Context, r *model.HITLRequest) error
	UpdateHITLRequest(ctx context.Context, r *model.HITLRequest) error
	GetHITLRequest(ctx context.Context, id uuid.UUID) (*model.HITLRequest, error)
	ListPendingHITLRequests(ctx context.Context, userID string) ([]model.HITLRequest, error)
}

// CredentialStore persists encrypted credentials and their audit trail.
type CredentialStore interface {
	CreateCredential(ctx context.Context, c *model.Credential) error
	GetCredential(ctx context.Context, id uuid.UUID) (*model.Credential, error)
	ListCredentials(ctx context.Context, userID string) ([]model.Credential, error)
	UpdateCredential(ctx context.Context, c *model.Credential) error
	DeleteCredential(ctx context.Context, id uuid.UUID) error
	AppendCredentialAudit(ctx context.Context, entry model.CredentialAuditLog) error
}

// Store is the full persistence surface the server container wires up.
type Store interface {
	WorkflowStore
	ExecutionStore
	HITLStore
	CredentialStore
}
