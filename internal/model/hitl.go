package model

import (
	"time"

	"github.com/google/uuid"
)

// HITLType classifies why a human is being asked to intervene.
type HITLType string

const (
	HITLApproval      HITLType = "approval"
	HITLClarification HITLType = "clarification"
	HITLErrorRecovery HITLType = "error_recovery"
)

// HITLStatus is the lifecycle state of a human-in-the-loop request.
type HITLStatus string

const (
	HITLPending   HITLStatus = "pending"
	HITLApproved  HITLStatus = "approved"
	HITLRejected  HITLStatus = "rejected"
	HITLAnswered  HITLStatus = "answered"
	HITLTimeout   HITLStatus = "timeout"
	HITLCancelled HITLStatus = "cancelled"
)

// HITLAction is the action a user (or an auto-action on timeout) submits.
type HITLAction string

const (
	ActionApprove HITLAction = "approve"
	ActionReject  HITLAction = "reject"
	ActionAnswer  HITLAction = "answer"
	ActionSkip    HITLAction = "skip"
	ActionRetry   HITLAction = "retry"
)

// HITLResponse is the payload delivered on a request's response channel.
type HITLResponse struct {
	Action  HITLAction  `json:"action"`
	Value   interface{} `json:"value,omitempty"`
	Message string      `json:"message,omitempty"`
}

// HITLRequest pairs a persisted record with an in-memory response channel of
// capacity one, created with the request and never closed or cleared.
type HITLRequest struct {
	ID             uuid.UUID     `json:"id" db:"id"`
	ExecutionID    uuid.UUID     `json:"executionId" db:"execution_id"`
	UserID         string        `json:"userId" db:"user_id"`
	NodeID         string        `json:"nodeId" db:"node_id"`
	Type           HITLType      `json:"type" db:"type"`
	Title          string        `json:"title" db:"title"`
	Message        string        `json:"message" db:"message"`
	Options        []string      `json:"options" db:"options"`
	ContextData    map[string]interface{} `json:"contextData" db:"context_data"`
	Status         HITLStatus    `json:"status" db:"status"`
	Response       *HITLResponse `json:"response,omitempty" db:"response"`
	TimeoutSeconds int           `json:"timeoutSeconds" db:"timeout_seconds"`
	AutoAction     HITLAction    `json:"autoAction" db:"auto_action"`
	CreatedAt      time.Time     `json:"createdAt" db:"created_at"`
	RespondedAt    *time.Time    `json:"respondedAt,omitempty" db:"responded_at"`

	responseCh chan HITLResponse `json:"-" db:"-"`
}

// NewHITLRequest constructs a pending request with its response channel open.
func NewHITLRequest(executionID uuid.UUID, userID, nodeID string, t HITLType, title, message string, options []string, timeoutSeconds int, autoAction HITLAction) *HITLRequest {
	return &HITLRequest{
		ID:             uuid.New(),
		ExecutionID:    executionID,
		UserID:         userID,
		NodeID:         nodeID,
		Type:           t,
		Title:          title,
		Message:        message,
		Options:        options,
		Status:         HITLPending,
		TimeoutSeconds: timeoutSeconds,
		AutoAction:     autoAction,
		CreatedAt:      time.Now(),
		responseCh:     make(chan HITLResponse, 1),
	}
}

// ResponseChannel exposes the channel the asking goroutine waits on.
func (r *HITLRequest) ResponseChannel() <-chan HITLResponse {
	return r.responseCh
}

// Deliver sends a response without blocking; it returns false, dropping resp,
// while an earlier response is still waiting in the channel.
func (r *HITLRequest) Deliver(resp HITLResponse) bool {
	select {
	case r.responseCh <- resp:
		return true
	default:
		return false
	}
}
