package model

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// ExecutionContext is the in-memory per-run data model shared by the compiler-resolved
// plan, the engine driver, and the handlers it invokes. It is owned by exactly one
// driver goroutine; reads from concurrently running handlers are safe because each
// handler only reads fields relevant to its own invocation, but the warnings/variables
// maps are still mutex-guarded since a handler may run its own background goroutines.
type ExecutionContext struct {
	mu sync.Mutex

	ExecutionID    uuid.UUID
	UserID         string
	WorkflowID     uuid.UUID
	NodeOutputs    map[string][]NodeItem
	OutputHandles  map[string]string
	Credentials    map[string]interface{}
	Variables      map[string]interface{}
	LoopStats      map[string]int
	ExecutedNodes  []string
	CurrentNodeID  string
	NodeLabelToID  map[string]string
	CurrentInput   []NodeItem
	NestingDepth   int
	MaxNestingDepth int
	WorkflowChain  []uuid.UUID
	TimeoutBudgetMs int64
	Warnings       []ExecutionWarning

	// AskHuman is wired in by the orchestrator at execution start; handlers that
	// need a human decision (humanApproval, and any node with requireApproval set)
	// call it rather than reaching into the orchestrator directly.
	AskHuman func(ctx context.Context, nodeID, question string, options []string, timeoutSeconds int, autoAction HITLAction) (HITLResponse, error)

	// StartSubworkflow is wired in the same way for sub-workflow nodes.
	StartSubworkflow func(ctx context.Context, workflowID uuid.UUID, input []NodeItem, waitForCompletion bool) (SubworkflowResult, error)
}

// SubworkflowResult is what StartSubworkflow returns to the calling handler.
type SubworkflowResult struct {
	ExecutionID uuid.UUID
	Started     bool
	Output      []NodeItem
	Error       string
}

// ExecutionWarning records a non-fatal condition surfaced to callers, such as an
// expression that resolved to a missing path.
type ExecutionWarning struct {
	NodeID  string `json:"nodeId,omitempty"`
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}

// NewExecutionContext builds an empty context for a fresh run.
func NewExecutionContext(executionID uuid.UUID, userID string, workflowID uuid.UUID, nodeLabelToID map[string]string) *ExecutionContext {
	return &ExecutionContext{
		ExecutionID:     executionID,
		UserID:          userID,
		WorkflowID:      workflowID,
		NodeOutputs:     make(map[string][]NodeItem),
		OutputHandles:   make(map[string]string),
		Credentials:     make(map[string]interface{}),
		Variables:       make(map[string]interface{}),
		LoopStats:       make(map[string]int),
		NodeLabelToID:   nodeLabelToID,
		MaxNestingDepth: 3,
	}
}

// AddWarning appends a warning under lock; used by the expression resolver when a
// path does not resolve to a value.
func (c *ExecutionContext) AddWarning(nodeID, path, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Warnings = append(c.Warnings, ExecutionWarning{NodeID: nodeID, Path: path, Message: message})
}

// StoreNodeOutput records a node's items and the output handle it exited on.
func (c *ExecutionContext) StoreNodeOutput(nodeID string, items []NodeItem, handle string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.NodeOutputs[nodeID] = items
	c.OutputHandles[nodeID] = handle
	c.ExecutedNodes = append(c.ExecutedNodes, nodeID)
}

// GetNodeOutput reads a previously stored node's items.
func (c *ExecutionContext) GetNodeOutput(nodeID string) ([]NodeItem, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	items, ok := c.NodeOutputs[nodeID]
	return items, ok
}

// ResolveLabelOrID implements the label-lookup order from the expression grammar:
// exact label, then exact ID, then case-insensitive label as a last-resort fallback.
func (c *ExecutionContext) ResolveLabelOrID(labelOrID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id, ok := c.NodeLabelToID[labelOrID]; ok {
		return id, true
	}
	if _, ok := c.NodeOutputs[labelOrID]; ok {
		return labelOrID, true
	}
	lower := strings.ToLower(labelOrID)
	for label, id := range c.NodeLabelToID {
		if strings.ToLower(label) == lower {
			return id, true
		}
	}
	return "", false
}
