package engine

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lyzr/workflows/internal/compiler"
	"github.com/lyzr/workflows/internal/condition"
	"github.com/lyzr/workflows/internal/expr"
	"github.com/lyzr/workflows/internal/model"
	"github.com/lyzr/workflows/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// passHooks never pauses or aborts, so a failed node is retried up to its maxRetries.
type passHooks struct{}

func (passHooks) BeforeNode(context.Context, *model.ExecutionHandle, string, *model.ExecutionContext) (HookDecision, string) {
	return Continue, ""
}
func (passHooks) AfterNode(*model.ExecutionHandle, string, registry.NodeExecutionResult, *model.ExecutionContext) (HookDecision, string) {
	return Continue, ""
}
func (passHooks) OnError(*model.ExecutionHandle, string, error, *model.ExecutionContext) (HookDecision, string) {
	return Continue, ""
}

// abortOnErrorHooks aborts the run on the first node failure, modeling the
// default onError behavior for a node without continueOnError set.
type abortOnErrorHooks struct{}

func (abortOnErrorHooks) BeforeNode(context.Context, *model.ExecutionHandle, string, *model.ExecutionContext) (HookDecision, string) {
	return Continue, ""
}
func (abortOnErrorHooks) AfterNode(*model.ExecutionHandle, string, registry.NodeExecutionResult, *model.ExecutionContext) (HookDecision, string) {
	return Continue, ""
}
func (abortOnErrorHooks) OnError(_ *model.ExecutionHandle, nodeID string, err error, _ *model.ExecutionContext) (HookDecision, string) {
	return Abort, err.Error()
}

type recordingSink struct {
	events []model.EventType
}

func (s *recordingSink) Emit(_ uuid.UUID, eventType model.EventType, _ map[string]interface{}) {
	s.events = append(s.events, eventType)
}

func newRegistry() *registry.Registry {
	r := registry.New()
	registry.RegisterBuiltins(r, http.DefaultClient, condition.New())
	r.Seal()
	return r
}

func newDriver(t *testing.T, in compiler.Input, inputData []model.NodeItem, hooks Hooks, sink EventSink) *Driver {
	t.Helper()
	reg := newRegistry()
	res := compiler.Compile(in, reg)
	require.True(t, res.Success, "%+v", res.Errors)

	nodeLabelToID := make(map[string]string, len(in.Nodes))
	for _, n := range in.Nodes {
		nodeLabelToID[n.Data.Label] = n.ID
	}

	execID := uuid.New()
	handle := model.NewExecutionHandle(uuid.New(), "user-1", nil, model.SupervisionNone)
	handle.ExecutionID = execID
	execCtx := model.NewExecutionContext(execID, "user-1", handle.WorkflowID, nodeLabelToID)

	return &Driver{
		Plan:      res.ExecutionPlan,
		Handle:    handle,
		ExecCtx:   execCtx,
		Registry:  reg,
		Resolver:  expr.NewResolver(),
		Hooks:     hooks,
		Events:    sink,
		InputData: inputData,
	}
}

func nodeFor(id, typ string, config map[string]interface{}) model.Node {
	return model.Node{ID: id, Type: typ, Data: model.NodeData{Label: id, Config: config}}
}

func TestDriverRunsLinearPipelineToCompletion(t *testing.T) {
	in := compiler.Input{
		Nodes: []model.Node{
			nodeFor("A", "manualTrigger", nil),
			nodeFor("B", "set", map[string]interface{}{"values": map[string]interface{}{"x": 1.0}}),
			nodeFor("C", "noOp", nil),
		},
		Edges: []model.Edge{
			{Source: "A", Target: "B"},
			{Source: "B", Target: "C"},
		},
	}
	sink := &recordingSink{}
	d := newDriver(t, in, nil, passHooks{}, sink)

	outcome := d.Run(context.Background())

	require.Equal(t, model.StateCompleted, outcome.State)
	require.Len(t, outcome.Output, 1)
	assert.Equal(t, 1.0, outcome.Output[0].JSON["x"])
	assert.Contains(t, sink.events, model.EventWorkflowComplete)
	assert.Contains(t, sink.events, model.EventNodeComplete)
}

func TestDriverConditionalRoutingSkipsFalseBranch(t *testing.T) {
	in := compiler.Input{
		Nodes: []model.Node{
			nodeFor("A", "manualTrigger", nil),
			nodeFor("Gate", "if", map[string]interface{}{"condition": "output.flag == true"}),
			nodeFor("TrueBranch", "noOp", nil),
			nodeFor("FalseBranch", "noOp", nil),
		},
		Edges: []model.Edge{
			{Source: "A", Target: "Gate"},
			{Source: "Gate", Target: "TrueBranch", SourceHandle: "true"},
			{Source: "Gate", Target: "FalseBranch", SourceHandle: "false"},
		},
	}
	sink := &recordingSink{}
	inputData := []model.NodeItem{{JSON: map[string]interface{}{"flag": false}}}
	d := newDriver(t, in, inputData, passHooks{}, sink)

	outcome := d.Run(context.Background())

	require.Equal(t, model.StateCompleted, outcome.State)
	_, falseRan := d.ExecCtx.GetNodeOutput("FalseBranch")
	assert.True(t, falseRan, "false branch should have executed")
	assert.True(t, d.skip["TrueBranch"], "true branch should have been skipped by the dominance rule")
}

func TestDriverCancelMidRunReturnsCancelledOutcome(t *testing.T) {
	in := compiler.Input{
		Nodes: []model.Node{
			nodeFor("A", "manualTrigger", nil),
			nodeFor("B", "noOp", nil),
		},
		Edges: []model.Edge{{Source: "A", Target: "B"}},
	}
	sink := &recordingSink{}
	d := newDriver(t, in, nil, passHooks{}, sink)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome := d.Run(ctx)

	assert.Equal(t, model.StateCancelled, outcome.State)
}

func TestDriverRetriesBeforeFailing(t *testing.T) {
	in := compiler.Input{
		Nodes: []model.Node{
			nodeFor("A", "manualTrigger", nil),
			nodeFor("B", "http", map[string]interface{}{
				"url":               "http://127.0.0.1:1",
				"maxRetries":        2.0,
				"retryDelaySeconds": 0.0,
			}),
		},
		Edges: []model.Edge{{Source: "A", Target: "B"}},
	}
	sink := &recordingSink{}
	d := newDriver(t, in, nil, passHooks{}, sink)

	outcome := d.Run(context.Background())

	require.Equal(t, model.StateFailed, outcome.State)
	assert.Equal(t, "B", outcome.FailedNode)
}

func TestDriverRoutesToErrorHandleWhenDownstreamConsumerExists(t *testing.T) {
	in := compiler.Input{
		Nodes: []model.Node{
			nodeFor("A", "manualTrigger", nil),
			nodeFor("B", "http", map[string]interface{}{"url": "http://127.0.0.1:1"}),
			nodeFor("Recover", "noOp", nil),
		},
		Edges: []model.Edge{
			{Source: "A", Target: "B"},
			{Source: "B", Target: "Recover", SourceHandle: "error"},
		},
	}
	sink := &recordingSink{}
	d := newDriver(t, in, nil, passHooks{}, sink)

	outcome := d.Run(context.Background())

	require.Equal(t, model.StateCompleted, outcome.State)
	_, recovered := d.ExecCtx.GetNodeOutput("Recover")
	assert.True(t, recovered)
}

func TestDriverEmitsProgressAndNodeStartedEvents(t *testing.T) {
	in := compiler.Input{
		Nodes: []model.Node{
			nodeFor("A", "manualTrigger", nil),
			nodeFor("B", "noOp", nil),
		},
		Edges: []model.Edge{{Source: "A", Target: "B"}},
	}
	sink := &recordingSink{}
	d := newDriver(t, in, nil, passHooks{}, sink)

	start := time.Now()
	outcome := d.Run(context.Background())
	require.Equal(t, model.StateCompleted, outcome.State)
	assert.Less(t, time.Since(start), 5*time.Second)

	assert.Contains(t, sink.events, model.EventProgress)
	assert.Contains(t, sink.events, model.EventNodeStarted)
}
