package model

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// ExecutionState is the lifecycle state of a live or completed run.
type ExecutionState string

const (
	StatePending       ExecutionState = "PENDING"
	StateRunning       ExecutionState = "RUNNING"
	StatePaused        ExecutionState = "PAUSED"
	StateWaitingHuman  ExecutionState = "WAITING_HUMAN"
	StateCompleted     ExecutionState = "COMPLETED"
	StateFailed        ExecutionState = "FAILED"
	StateCancelled     ExecutionState = "CANCELLED"
)

// SupervisionLevel governs which orchestrator hooks the engine invokes per node.
type SupervisionLevel string

const (
	SupervisionFull      SupervisionLevel = "FULL"
	SupervisionErrorOnly SupervisionLevel = "ERROR_ONLY"
	SupervisionNone      SupervisionLevel = "NONE"
)

// NodeItem is the canonical per-item shape flowing between nodes.
type NodeItem struct {
	JSON       map[string]interface{} `json:"json"`
	Binary     map[string]interface{} `json:"binary,omitempty"`
	PairedItem *PairedItem            `json:"pairedItem,omitempty"`
}

// PairedItem tracks which upstream item produced a derived item.
type PairedItem struct {
	Item int `json:"item"`
}

// WrapItems normalizes a handler's raw return value into the Items shape: a bare
// map is auto-wrapped as a single-item list; a list of maps is wrapped item-by-item;
// an already-wrapped []NodeItem passes through unchanged.
func WrapItems(raw interface{}) []NodeItem {
	switch v := raw.(type) {
	case []NodeItem:
		return v
	case nil:
		return []NodeItem{}
	case map[string]interface{}:
		return []NodeItem{{JSON: v}}
	case []map[string]interface{}:
		items := make([]NodeItem, 0, len(v))
		for _, m := range v {
			items = append(items, NodeItem{JSON: m})
		}
		return items
	case []interface{}:
		items := make([]NodeItem, 0, len(v))
		for _, e := range v {
			if m, ok := e.(map[string]interface{}); ok {
				items = append(items, NodeItem{JSON: m})
			} else {
				items = append(items, NodeItem{JSON: map[string]interface{}{"value": e}})
			}
		}
		return items
	default:
		return []NodeItem{{JSON: map[string]interface{}{"value": raw}}}
	}
}

// ExecutionHandle is the process-resident record controlling one live run.
type ExecutionHandle struct {
	mu sync.RWMutex

	ExecutionID       uuid.UUID         `json:"executionId"`
	WorkflowID        uuid.UUID         `json:"workflowId"`
	UserID            string            `json:"userId"`
	State             ExecutionState    `json:"state"`
	CurrentNode       string            `json:"currentNode,omitempty"`
	Progress          float64           `json:"progress"`
	StartedAt         time.Time         `json:"startedAt"`
	CompletedAt       *time.Time        `json:"completedAt,omitempty"`
	Error             string            `json:"error,omitempty"`
	ParentExecutionID *uuid.UUID        `json:"parentExecutionId,omitempty"`
	LoopCounters      map[string]int    `json:"loopCounters"`
	PendingHitl       *HITLRequest      `json:"pendingHitl,omitempty"`
	Output            []NodeItem        `json:"output,omitempty"`
	SupervisionLevel  SupervisionLevel  `json:"supervisionLevel"`
}

// NewExecutionHandle builds a handle in PENDING state.
func NewExecutionHandle(workflowID uuid.UUID, userID string, parent *uuid.UUID, level SupervisionLevel) *ExecutionHandle {
	return &ExecutionHandle{
		ExecutionID:       uuid.New(),
		WorkflowID:        workflowID,
		UserID:            userID,
		State:             StatePending,
		LoopCounters:      make(map[string]int),
		ParentExecutionID: parent,
		SupervisionLevel:  level,
	}
}

// SetState transitions the handle under lock.
func (h *ExecutionHandle) SetState(s ExecutionState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.State = s
	if s == StateCompleted || s == StateFailed || s == StateCancelled {
		now := time.Now()
		h.CompletedAt = &now
	}
}

// GetState reads the state under lock.
func (h *ExecutionHandle) GetState() ExecutionState {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.State
}

// Snapshot returns a lock-safe copy for API responses.
func (h *ExecutionHandle) Snapshot() ExecutionHandle {
	h.mu.RLock()
	defer h.mu.RUnlock()
	cp := *h
	cp.LoopCounters = make(map[string]int, len(h.LoopCounters))
	for k, v := range h.LoopCounters {
		cp.LoopCounters[k] = v
	}
	return cp
}

// SetCurrentNode records progress under lock.
func (h *ExecutionHandle) SetCurrentNode(nodeID string, progress float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.CurrentNode = nodeID
	h.Progress = progress
}

// IncrementLoopCounter bumps the counter for a node and returns the new value.
func (h *ExecutionHandle) IncrementLoopCounter(nodeID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.LoopCounters[nodeID]++
	return h.LoopCounters[nodeID]
}

// SetPendingHitl stores or clears the pending HITL request under lock.
func (h *ExecutionHandle) SetPendingHitl(r *HITLRequest) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.PendingHitl = r
}

// GetPendingHitl reads the pending HITL request under lock.
func (h *ExecutionHandle) GetPendingHitl() *HITLRequest {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.PendingHitl
}

// ExecutionLog is the persistent mirror of a handle.
type ExecutionLog struct {
	ExecutionID       uuid.UUID      `db:"execution_id"`
	WorkflowID        uuid.UUID      `db:"workflow_id"`
	UserID            string         `db:"user_id"`
	Status            ExecutionState `db:"status"`
	InputData         map[string]interface{} `db:"input_data"`
	Output            []NodeItem     `db:"output"`
	Error             string         `db:"error"`
	ParentExecutionID *uuid.UUID     `db:"parent_execution_id"`
	NestingDepth      int            `db:"nesting_depth"`
	TimeoutBudgetMs   int64          `db:"timeout_budget_ms"`
	CreatedAt         time.Time      `db:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at"`
}

// NodeExecutionStatus is the per-node run status within a NodeExecutionLog.
type NodeExecutionStatus string

const (
	NodePending   NodeExecutionStatus = "pending"
	NodeRunning   NodeExecutionStatus = "running"
	NodeCompleted NodeExecutionStatus = "completed"
	NodeFailed    NodeExecutionStatus = "failed"
	NodeSkipped   NodeExecutionStatus = "skipped"
)

// NodeExecutionLog is the per-node record of one node's run within an execution.
type NodeExecutionLog struct {
	ID            uuid.UUID              `db:"id"`
	ExecutionID   uuid.UUID              `db:"execution_id"`
	NodeID        string                 `db:"node_id"`
	NodeType      string                 `db:"node_type"`
	ExecutionOrder int                   `db:"execution_order"`
	Status        NodeExecutionStatus    `db:"status"`
	Input         []NodeItem             `db:"input"`
	Output        []NodeItem             `db:"output"`
	OutputHandle  string                 `db:"output_handle"`
	Error         string                 `db:"error"`
	RetryCount    int                    `db:"retry_count"`
	StartedAt     *time.Time             `db:"started_at"`
	CompletedAt   *time.Time             `db:"completed_at"`
	DurationMs    int64                  `db:"duration_ms"`
}
