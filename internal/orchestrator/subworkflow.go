package orchestrator

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/lyzr/workflows/internal/model"
)

const defaultSubworkflowTimeoutMs = 5 * 60 * 1000

// startSubworkflow implements §4.5's executeSubworkflow contract: reject on a
// circular reference or excess nesting depth, otherwise spawn a child execution
// whose workflowChain and timeout budget are derived from the parent's, per the
// REDESIGN FLAGS guidance to propagate these explicitly rather than via a global
// "current parent" stack.
func (m *Manager) startSubworkflow(parent *managedExecution, ctx context.Context, workflowID uuid.UUID, input []model.NodeItem, waitForCompletion bool, childTimeoutMs int64) (model.SubworkflowResult, error) {
	parentCtx := parent.execCtx

	for _, seen := range parentCtx.WorkflowChain {
		if seen == workflowID {
			return model.SubworkflowResult{Error: fmt.Sprintf("circular sub-workflow reference: %s already in chain", workflowID)}, nil
		}
	}
	if parentCtx.NestingDepth >= parentCtx.MaxNestingDepth {
		return model.SubworkflowResult{Error: fmt.Sprintf("max nesting depth %d exceeded", parentCtx.MaxNestingDepth)}, nil
	}
	if m.lookup == nil {
		return model.SubworkflowResult{Error: "sub-workflow execution is not configured on this node"}, nil
	}

	plan, err := m.lookup.CompiledPlan(ctx, workflowID)
	if err != nil {
		return model.SubworkflowResult{Error: fmt.Sprintf("loading sub-workflow %s: %v", workflowID, err)}, nil
	}

	budget := remainingBudgetMs(parentCtx.TimeoutBudgetMs)
	if childTimeoutMs > 0 && (budget == 0 || childTimeoutMs < budget) {
		budget = childTimeoutMs
	}
	if budget == 0 {
		budget = defaultSubworkflowTimeoutMs
	}

	req := StartRequest{
		WorkflowID:       workflowID,
		UserID:           parent.handle.UserID,
		Plan:             plan,
		InputData:        input,
		Credentials:      parentCtx.Credentials,
		SupervisionLevel: parent.handle.SupervisionLevel,
		Parent:           &parent.handle.ExecutionID,
		NestingDepth:     parentCtx.NestingDepth + 1,
		WorkflowChain:    append(append([]uuid.UUID(nil), parentCtx.WorkflowChain...), parent.handle.WorkflowID),
		TimeoutBudgetMs:  budget,
	}

	handle, err := m.Start(ctx, req)
	if err != nil {
		return model.SubworkflowResult{Error: err.Error()}, nil
	}

	if !waitForCompletion {
		return model.SubworkflowResult{ExecutionID: handle.ExecutionID, Started: true}, nil
	}

	outcome, err := m.Wait(handle.ExecutionID)
	if err != nil {
		return model.SubworkflowResult{ExecutionID: handle.ExecutionID, Error: err.Error()}, nil
	}
	if outcome.State != model.StateCompleted {
		reason := outcome.Error
		if reason == "" {
			reason = fmt.Sprintf("sub-workflow ended in state %s", outcome.State)
		}
		return model.SubworkflowResult{ExecutionID: handle.ExecutionID, Error: reason}, nil
	}
	return model.SubworkflowResult{ExecutionID: handle.ExecutionID, Output: outcome.Output}, nil
}

func remainingBudgetMs(total int64) int64 {
	if total <= 0 {
		return 0
	}
	return total
}
