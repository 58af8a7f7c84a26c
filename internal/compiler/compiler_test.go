package compiler

import (
	"net/http"
	"testing"

	"github.com/lyzr/workflows/internal/condition"
	"github.com/lyzr/workflows/internal/model"
	"github.com/lyzr/workflows/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry() *registry.Registry {
	r := registry.New()
	registry.RegisterBuiltins(r, http.DefaultClient, condition.New())
	r.Seal()
	return r
}

func node(id, typ string, config map[string]interface{}) model.Node {
	return model.Node{ID: id, Type: typ, Data: model.NodeData{Label: id, Config: config}}
}

func TestCompileLinearPipeline(t *testing.T) {
	in := Input{
		Nodes: []model.Node{
			node("A", "manualTrigger", map[string]interface{}{}),
			node("B", "set", map[string]interface{}{"values": map[string]interface{}{"x": 1.0}}),
			node("C", "http", map[string]interface{}{"url": "https://example.com"}),
		},
		Edges: []model.Edge{
			{Source: "A", Target: "B"},
			{Source: "B", Target: "C"},
		},
	}
	res := Compile(in, newTestRegistry())
	require.True(t, res.Success, "%+v", res.Errors)
	require.NotNil(t, res.ExecutionPlan)
	assert.Equal(t, []string{"A", "B", "C"}, res.ExecutionPlan.Order)
	assert.Equal(t, []string{"A"}, res.ExecutionPlan.EntryNodes)
}

func TestCompileRejectsCycle(t *testing.T) {
	in := Input{
		Nodes: []model.Node{
			node("n1", "noOp", nil),
			node("n2", "noOp", nil),
		},
		Edges: []model.Edge{
			{Source: "n1", Target: "n2"},
			{Source: "n2", Target: "n1"},
		},
	}
	res := Compile(in, newTestRegistry())
	assert.False(t, res.Success)
	assert.Nil(t, res.ExecutionPlan)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, CodeDagCycle, res.Errors[0].Code)
}

func TestCompileRejectsEmptyWorkflow(t *testing.T) {
	res := Compile(Input{}, newTestRegistry())
	assert.False(t, res.Success)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, CodeEmptyWorkflow, res.Errors[0].Code)
}

func TestCompileRejectsThreeNodeCycle(t *testing.T) {
	in := Input{
		Nodes: []model.Node{node("a", "noOp", nil), node("b", "noOp", nil), node("c", "noOp", nil)},
		Edges: []model.Edge{{Source: "a", Target: "b"}, {Source: "b", Target: "c"}, {Source: "c", Target: "a"}},
	}
	res := Compile(in, newTestRegistry())
	assert.False(t, res.Success)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, CodeDagCycle, res.Errors[0].Code)
}

func TestCompileDeterministicOrder(t *testing.T) {
	in := Input{
		Nodes: []model.Node{
			node("A", "manualTrigger", nil),
			node("B", "noOp", nil),
			node("C", "noOp", nil),
		},
		Edges: []model.Edge{
			{Source: "A", Target: "B"},
			{Source: "A", Target: "C"},
		},
	}
	reg := newTestRegistry()
	res1 := Compile(in, reg)
	res2 := Compile(in, reg)
	require.True(t, res1.Success)
	require.True(t, res2.Success)
	assert.Equal(t, res1.ExecutionPlan.Order, res2.ExecutionPlan.Order)
}

func TestCompileMissingCredential(t *testing.T) {
	in := Input{
		Nodes: []model.Node{
			node("A", "manualTrigger", nil),
			node("B", "http", map[string]interface{}{"url": "https://example.com", "credential": "cred-1"}),
		},
		Edges:             []model.Edge{{Source: "A", Target: "B"}},
		UserCredentialIDs: map[string]bool{},
	}
	res := Compile(in, newTestRegistry())
	assert.False(t, res.Success)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, CodeMissingCredential, res.Errors[0].Code)
}

func TestCompileUnknownNodeType(t *testing.T) {
	in := Input{
		Nodes: []model.Node{
			node("A", "manualTrigger", nil),
			node("B", "doesNotExist", nil),
		},
		Edges: []model.Edge{{Source: "A", Target: "B"}},
	}
	res := Compile(in, newTestRegistry())
	assert.False(t, res.Success)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, CodeUnknownNodeType, res.Errors[0].Code)
}
