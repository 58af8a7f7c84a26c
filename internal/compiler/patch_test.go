package compiler

import (
	"testing"

	"github.com/lyzr/workflows/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateOperationsAcceptsWellFormedOps(t *testing.T) {
	ops := []map[string]interface{}{
		{"op": "replace", "path": "/nodes/1", "value": map[string]interface{}{
			"id": "B", "type": "set", "data": map[string]interface{}{"label": "B"},
		}},
		{"op": "remove", "path": "/nodes/2"},
		{"op": "add", "path": "/nodes/-", "value": map[string]interface{}{
			"id": "D", "type": "http",
		}},
	}
	assert.NoError(t, ValidateOperations(ops))
}

func TestValidateOperationsRejectsMissingOp(t *testing.T) {
	ops := []map[string]interface{}{{"path": "/nodes/1"}}
	assert.Error(t, ValidateOperations(ops))
}

func TestValidateOperationsRejectsMissingPath(t *testing.T) {
	ops := []map[string]interface{}{{"op": "remove"}}
	assert.Error(t, ValidateOperations(ops))
}

func TestValidateOperationsRejectsUnsupportedOp(t *testing.T) {
	ops := []map[string]interface{}{{"op": "splice", "path": "/nodes/1"}}
	assert.Error(t, ValidateOperations(ops))
}

func TestValidateOperationsRequiresValueForAddAndReplace(t *testing.T) {
	assert.Error(t, ValidateOperations([]map[string]interface{}{{"op": "add", "path": "/nodes/-"}}))
	assert.Error(t, ValidateOperations([]map[string]interface{}{{"op": "replace", "path": "/nodes/0"}}))
}

func TestValidateOperationsRejectsMalformedAppendedNode(t *testing.T) {
	ops := []map[string]interface{}{
		{"op": "add", "path": "/nodes/-", "value": map[string]interface{}{"id": "D"}},
	}
	assert.Error(t, ValidateOperations(ops))
}

func TestValidateOperationsRejectsNonObjectNodeData(t *testing.T) {
	ops := []map[string]interface{}{
		{"op": "add", "path": "/nodes/-", "value": map[string]interface{}{
			"id": "D", "type": "http", "data": "not an object",
		}},
	}
	assert.Error(t, ValidateOperations(ops))
}

func TestExecutedNodeSetStopsAtCurrentNode(t *testing.T) {
	plan := &model.ExecutionPlan{Order: []string{"A", "B", "C", "D"}}
	executed := ExecutedNodeSet(plan, "B")
	assert.Equal(t, map[string]bool{"A": true, "B": true}, executed)
}

func TestExecutedNodeSetEmptyWhenRunNotStarted(t *testing.T) {
	plan := &model.ExecutionPlan{Order: []string{"A", "B"}}
	assert.Empty(t, ExecutedNodeSet(plan, ""))
}

func TestCheckNoExecutedNodeMutationRejectsPatchedExecutedNode(t *testing.T) {
	nodes := []model.Node{node("A", "noOp", nil), node("B", "noOp", nil), node("C", "noOp", nil)}
	executed := map[string]bool{"A": true, "B": true}
	ops := []map[string]interface{}{{"op": "remove", "path": "/nodes/1"}}
	err := CheckNoExecutedNodeMutation(nodes, ops, executed)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "B")
}

func TestCheckNoExecutedNodeMutationAllowsUpcomingNode(t *testing.T) {
	nodes := []model.Node{node("A", "noOp", nil), node("B", "noOp", nil), node("C", "noOp", nil)}
	executed := map[string]bool{"A": true}
	ops := []map[string]interface{}{{"op": "remove", "path": "/nodes/2"}}
	assert.NoError(t, CheckNoExecutedNodeMutation(nodes, ops, executed))
}

func TestCheckNoExecutedNodeMutationIgnoresNonIndexPaths(t *testing.T) {
	nodes := []model.Node{node("A", "noOp", nil)}
	executed := map[string]bool{"A": true}
	ops := []map[string]interface{}{{"op": "remove", "path": "/edges/0"}}
	assert.NoError(t, CheckNoExecutedNodeMutation(nodes, ops, executed))
}

func TestCheckDependentsSurviveRejectsRemovedDependent(t *testing.T) {
	oldPlan := &model.ExecutionPlan{
		Order: []string{"A", "B"},
		Nodes: map[string]*model.PlanNode{
			"A": {ID: "A", Dependents: []string{"B"}},
			"B": {ID: "B"},
		},
	}
	newPlan := &model.ExecutionPlan{
		Order: []string{"A"},
		Nodes: map[string]*model.PlanNode{
			"A": {ID: "A"},
		},
	}
	executed := map[string]bool{"A": true}
	err := CheckDependentsSurvive(oldPlan, newPlan, executed)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "B")
}

func TestCheckDependentsSurviveAllowsIntactGraph(t *testing.T) {
	oldPlan := &model.ExecutionPlan{
		Order: []string{"A", "B"},
		Nodes: map[string]*model.PlanNode{
			"A": {ID: "A", Dependents: []string{"B"}},
			"B": {ID: "B"},
		},
	}
	newPlan := &model.ExecutionPlan{
		Order: []string{"A", "B", "C"},
		Nodes: map[string]*model.PlanNode{
			"A": {ID: "A", Dependents: []string{"B"}},
			"B": {ID: "B"},
			"C": {ID: "C"},
		},
	}
	executed := map[string]bool{"A": true}
	assert.NoError(t, CheckDependentsSurvive(oldPlan, newPlan, executed))
}
