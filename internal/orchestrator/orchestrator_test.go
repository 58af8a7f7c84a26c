package orchestrator

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lyzr/workflows/internal/compiler"
	"github.com/lyzr/workflows/internal/condition"
	"github.com/lyzr/workflows/internal/model"
	"github.com/lyzr/workflows/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopSink struct{}

func (nopSink) Emit(uuid.UUID, model.EventType, map[string]interface{}) {}

func newTestRegistry() *registry.Registry {
	r := registry.New()
	registry.RegisterBuiltins(r, http.DefaultClient, condition.New())
	r.Seal()
	return r
}

func nodeFor(id, typ string, config map[string]interface{}) model.Node {
	return model.Node{ID: id, Type: typ, Data: model.NodeData{Label: id, Config: config}}
}

func compilePlan(t *testing.T, reg *registry.Registry, nodes []model.Node, edges []model.Edge) *model.ExecutionPlan {
	t.Helper()
	res := compiler.Compile(compiler.Input{Nodes: nodes, Edges: edges}, reg)
	require.True(t, res.Success, "%+v", res.Errors)
	return res.ExecutionPlan
}

func TestManagerRunsToCompletion(t *testing.T) {
	reg := newTestRegistry()
	plan := compilePlan(t, reg, []model.Node{
		nodeFor("A", "manualTrigger", nil),
		nodeFor("B", "noOp", nil),
	}, []model.Edge{{Source: "A", Target: "B"}})

	mgr := New(reg, nopSink{}, nil, nil)
	handle, err := mgr.Start(context.Background(), StartRequest{
		WorkflowID: uuid.New(), UserID: "u1", Plan: plan, SupervisionLevel: model.SupervisionFull,
	})
	require.NoError(t, err)

	outcome, err := mgr.Wait(handle.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, model.StateCompleted, outcome.State)
}

func TestManagerPauseResume(t *testing.T) {
	reg := newTestRegistry()
	plan := compilePlan(t, reg, []model.Node{
		nodeFor("A", "manualTrigger", nil),
		nodeFor("B", "noOp", nil),
		nodeFor("C", "noOp", nil),
	}, []model.Edge{{Source: "A", Target: "B"}, {Source: "B", Target: "C"}})

	mgr := New(reg, nopSink{}, nil, nil)
	handle, err := mgr.Start(context.Background(), StartRequest{
		WorkflowID: uuid.New(), UserID: "u1", Plan: plan, SupervisionLevel: model.SupervisionFull,
	})
	require.NoError(t, err)

	require.NoError(t, mgr.Pause(handle.ExecutionID))
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, mgr.Resume(handle.ExecutionID))

	outcome, err := mgr.Wait(handle.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, model.StateCompleted, outcome.State)
}

func TestManagerCancel(t *testing.T) {
	reg := newTestRegistry()
	plan := compilePlan(t, reg, []model.Node{
		nodeFor("A", "manualTrigger", nil),
		nodeFor("B", "noOp", nil),
	}, []model.Edge{{Source: "A", Target: "B"}})

	mgr := New(reg, nopSink{}, nil, nil)
	handle, err := mgr.Start(context.Background(), StartRequest{
		WorkflowID: uuid.New(), UserID: "u1", Plan: plan, SupervisionLevel: model.SupervisionNone,
	})
	require.NoError(t, err)
	require.NoError(t, mgr.Cancel(handle.ExecutionID))

	outcome, err := mgr.Wait(handle.ExecutionID)
	require.NoError(t, err)
	assert.Contains(t, []model.ExecutionState{model.StateCancelled, model.StateCompleted}, outcome.State)
}

func TestManagerHitlTimeoutAppliesAutoAction(t *testing.T) {
	reg := newTestRegistry()
	plan := compilePlan(t, reg, []model.Node{
		nodeFor("A", "manualTrigger", nil),
		nodeFor("Gate", "humanApproval", map[string]interface{}{
			"question": "approve?", "options": []interface{}{"approve", "reject"},
			"timeoutSeconds": 1.0, "autoAction": "reject",
		}),
		nodeFor("Rejected", "noOp", nil),
	}, []model.Edge{
		{Source: "A", Target: "Gate"},
		{Source: "Gate", Target: "Rejected", SourceHandle: "reject"},
	})

	mgr := New(reg, nopSink{}, nil, nil)
	handle, err := mgr.Start(context.Background(), StartRequest{
		WorkflowID: uuid.New(), UserID: "u1", Plan: plan, SupervisionLevel: model.SupervisionFull,
	})
	require.NoError(t, err)

	outcome, err := mgr.Wait(handle.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, model.StateCompleted, outcome.State)
}

func TestManagerLoopZeroMaxLoopCountFallsBackToCeiling(t *testing.T) {
	reg := newTestRegistry()
	plan := compilePlan(t, reg, []model.Node{
		nodeFor("A", "manualTrigger", nil),
		nodeFor("L", "loop", map[string]interface{}{"maxLoopCount": 0.0}),
	}, []model.Edge{{Source: "A", Target: "L"}})

	mgr := New(reg, nopSink{}, nil, nil)
	handle, err := mgr.Start(context.Background(), StartRequest{
		WorkflowID: uuid.New(), UserID: "u1", Plan: plan, SupervisionLevel: model.SupervisionNone,
	})
	require.NoError(t, err)

	outcome, err := mgr.Wait(handle.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, model.StateCompleted, outcome.State, "maxLoopCount<=0 falls back to the system ceiling, not an immediate abort")
}

func TestManagerRespondToHitlBeforeTimeout(t *testing.T) {
	reg := newTestRegistry()
	plan := compilePlan(t, reg, []model.Node{
		nodeFor("A", "manualTrigger", nil),
		nodeFor("Gate", "humanApproval", map[string]interface{}{
			"question": "approve?", "timeoutSeconds": 5.0, "autoAction": "reject",
		}),
		nodeFor("Approved", "noOp", nil),
	}, []model.Edge{
		{Source: "A", Target: "Gate"},
		{Source: "Gate", Target: "Approved", SourceHandle: "approve"},
	})

	mgr := New(reg, nopSink{}, nil, nil)
	handle, err := mgr.Start(context.Background(), StartRequest{
		WorkflowID: uuid.New(), UserID: "u1", Plan: plan, SupervisionLevel: model.SupervisionFull,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		status, ok := mgr.GetStatus(handle.ExecutionID)
		return ok && status.PendingHitl != nil
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, mgr.RespondToHitl(handle.ExecutionID, model.HITLResponse{Action: model.ActionApprove}))

	outcome, err := mgr.Wait(handle.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, model.StateCompleted, outcome.State)
}

func TestManagerApplyPatchedPlanRequiresPause(t *testing.T) {
	reg := newTestRegistry()
	plan := compilePlan(t, reg, []model.Node{
		nodeFor("A", "manualTrigger", nil),
		nodeFor("B", "noOp", nil),
	}, []model.Edge{{Source: "A", Target: "B"}})

	mgr := New(reg, nopSink{}, nil, nil)
	handle, err := mgr.Start(context.Background(), StartRequest{
		WorkflowID: uuid.New(), UserID: "u1", Plan: plan, SupervisionLevel: model.SupervisionNone,
	})
	require.NoError(t, err)

	err = mgr.ApplyPatchedPlan(handle.ExecutionID, plan)
	assert.Error(t, err, "a run that isn't paused must reject a patch")

	_, _ = mgr.Wait(handle.ExecutionID)
}

func TestManagerApplyPatchedPlanSwapsOrderWhilePaused(t *testing.T) {
	reg := newTestRegistry()
	plan := compilePlan(t, reg, []model.Node{
		nodeFor("A", "manualTrigger", nil),
		nodeFor("B", "noOp", nil),
		nodeFor("C", "noOp", nil),
	}, []model.Edge{{Source: "A", Target: "B"}, {Source: "B", Target: "C"}})

	mgr := New(reg, nopSink{}, nil, nil)
	handle, err := mgr.Start(context.Background(), StartRequest{
		WorkflowID: uuid.New(), UserID: "u1", Plan: plan, SupervisionLevel: model.SupervisionFull,
	})
	require.NoError(t, err)
	require.NoError(t, mgr.Pause(handle.ExecutionID))
	time.Sleep(20 * time.Millisecond)

	currentPlan, _, ok := mgr.CurrentPlan(handle.ExecutionID)
	require.True(t, ok)

	newPlan := compilePlan(t, reg, []model.Node{
		nodeFor("A", "manualTrigger", nil),
		nodeFor("B", "noOp", nil),
		nodeFor("D", "noOp", nil),
	}, []model.Edge{{Source: "A", Target: "B"}, {Source: "B", Target: "D"}})

	require.NoError(t, mgr.ApplyPatchedPlan(handle.ExecutionID, newPlan))
	assert.Equal(t, []string{"A", "B", "D"}, currentPlan.Order, "the swap mutates the plan in place so the running driver sees it")

	require.NoError(t, mgr.Resume(handle.ExecutionID))
	outcome, err := mgr.Wait(handle.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, model.StateCompleted, outcome.State)
}

func TestManagerApplyPatchedPlanUnknownExecution(t *testing.T) {
	mgr := New(newTestRegistry(), nopSink{}, nil, nil)
	err := mgr.ApplyPatchedPlan(uuid.New(), &model.ExecutionPlan{})
	assert.Error(t, err)
}

func TestManagerCurrentPlanUnknownExecution(t *testing.T) {
	mgr := New(newTestRegistry(), nopSink{}, nil, nil)
	_, _, ok := mgr.CurrentPlan(uuid.New())
	assert.False(t, ok)
}
