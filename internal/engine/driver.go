package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/lyzr/workflows/internal/expr"
	"github.com/lyzr/workflows/internal/model"
	"github.com/lyzr/workflows/internal/registry"
)

// Driver runs one execution's plan to completion, failure, or cancellation. It is
// owned by exactly one goroutine; nothing else touches its ExecutionContext.
type Driver struct {
	Plan      *model.ExecutionPlan
	Handle    *model.ExecutionHandle
	ExecCtx   *model.ExecutionContext
	Registry  *registry.Registry
	Resolver  *expr.Resolver
	Hooks     Hooks
	Events    EventSink
	InputData []model.NodeItem

	skip          map[string]bool
	takenHandle   map[string]string
}

// Outcome is the terminal result of Run.
type Outcome struct {
	State      model.ExecutionState
	Output     []model.NodeItem
	Error      string
	FailedNode string
}

// Run drives the plan's topological order per §4.4. The only blocking operations
// inside this loop are handler I/O (via the per-node timeout context), the
// retry delay between failed attempts, the beforeNode pause-gate, and waits
// delegated to Hooks.
func (d *Driver) Run(ctx context.Context) Outcome {
	d.skip = make(map[string]bool)
	d.takenHandle = make(map[string]string)
	d.Handle.SetState(model.StateRunning)
	d.emit(model.EventWorkflowStart, map[string]interface{}{"workflowId": d.Handle.WorkflowID, "status": string(model.StateRunning)})

	var lastOutput []model.NodeItem
	startedAt := time.Now()

	// Indexed rather than range-over-slice: a patch applied while the run is
	// paused at BeforeNode rewrites d.Plan.Order in place, and re-indexing on
	// every iteration is what lets the driver pick that up for the nodes it
	// hasn't reached yet instead of running against a snapshot taken at Run's
	// entry.
	for i := 0; i < len(d.Plan.Order); i++ {
		nodeID := d.Plan.Order[i]
		select {
		case <-ctx.Done():
			return d.finishCancelled()
		default:
		}

		plan := d.Plan.NodeByID(nodeID)

		if d.isDominatedSkip(plan) {
			d.skip[nodeID] = true
			d.ExecCtx.StoreNodeOutput(nodeID, nil, "")
			d.emit(model.EventNodeSkipped, map[string]interface{}{"nodeId": nodeID, "reason": "conditional branch not taken"})
			continue
		}

		d.ExecCtx.CurrentNodeID = nodeID
		input := d.gatherInput(plan, nodeID == firstOf(d.Plan.EntryNodes))
		d.ExecCtx.CurrentInput = input

		d.Handle.SetCurrentNode(nodeID, float64(i+1)/float64(len(d.Plan.Order)))
		d.emit(model.EventProgress, map[string]interface{}{
			"current": i + 1, "total": len(d.Plan.Order),
			"percentage": 100 * float64(i+1) / float64(len(d.Plan.Order)),
		})

		decision, reason := d.Hooks.BeforeNode(ctx, d.Handle, nodeID, d.ExecCtx)
		switch decision {
		case Abort:
			return d.finishFailed(nodeID, reason)
		case Pause:
			d.Handle.SetState(model.StatePaused)
			// The orchestrator's pause-gate wait happens inside BeforeNode itself
			// (suspension point (c) in §5); by the time it returns Continue the
			// handle has already been moved back to RUNNING by BeforeNode, once
			// Resume's signal arrived.
		}

		d.emit(model.EventNodeStarted, map[string]interface{}{"nodeId": nodeID, "nodeType": plan.Type, "nodeName": plan.Label, "status": "running"})

		result, terminal := d.executeNodeWithRetry(ctx, plan, input)
		if terminal != nil {
			return *terminal
		}

		d.ExecCtx.StoreNodeOutput(nodeID, result.Items, result.OutputHandle)
		d.takenHandle[nodeID] = result.OutputHandle
		lastOutput = result.Items

		if plan.Type == "loop" || plan.Type == "splitInBatches" {
			d.Handle.IncrementLoopCounter(nodeID)
		}

		afterDecision, afterReason := d.Hooks.AfterNode(d.Handle, nodeID, result, d.ExecCtx)
		if afterDecision == Abort {
			return d.finishFailed(nodeID, afterReason)
		}

		d.emit(model.EventNodeComplete, map[string]interface{}{
			"nodeId": nodeID, "status": string(statusFor(result)), "output": result.Items,
			"error": result.Error, "warnings": d.ExecCtx.Warnings,
		})
	}

	d.Handle.SetState(model.StateCompleted)
	d.Handle.Output = lastOutput
	d.emit(model.EventWorkflowComplete, map[string]interface{}{
		"output": lastOutput, "durationMs": time.Since(startedAt).Milliseconds(), "status": string(model.StateCompleted),
	})
	return Outcome{State: model.StateCompleted, Output: lastOutput}
}

func statusFor(r registry.NodeExecutionResult) model.NodeExecutionStatus {
	if r.Success {
		return model.NodeCompleted
	}
	return model.NodeFailed
}

// isDominatedSkip implements the dominance rule from §4.4 step 8: a node with at
// least one incoming edge is skipped only if every incoming edge's source is
// either itself skipped or did not take that edge's handle. A node with no
// incoming edges (an entry point) is never skipped by this rule.
func (d *Driver) isDominatedSkip(plan *model.PlanNode) bool {
	if len(plan.IncomingEdges) == 0 {
		return false
	}
	for _, e := range plan.IncomingEdges {
		if d.skip[e.Source] {
			continue
		}
		if d.takenHandle[e.Source] == e.NormalizedSourceHandle() {
			return false
		}
	}
	return true
}

// gatherInput concatenates each predecessor's stored output into one items list;
// entry-point nodes additionally merge the execution's initial input data.
func (d *Driver) gatherInput(plan *model.PlanNode, isEntry bool) []model.NodeItem {
	var items []model.NodeItem
	if isEntry {
		items = append(items, d.InputData...)
	}
	for _, e := range plan.IncomingEdges {
		if d.skip[e.Source] {
			continue
		}
		if d.takenHandle[e.Source] != e.NormalizedSourceHandle() {
			continue
		}
		out, _ := d.ExecCtx.GetNodeOutput(e.Source)
		items = append(items, out...)
	}
	return items
}

func firstOf(ids []string) string {
	if len(ids) == 0 {
		return ""
	}
	return ids[0]
}

// executeNodeWithRetry runs one node, invoking OnError for each failed attempt
// (timeout, handler exception, or result.Success=false) and obeying its decision.
// It returns either a usable result to route on, or a non-nil Outcome that ends
// the whole execution.
func (d *Driver) executeNodeWithRetry(ctx context.Context, plan *model.PlanNode, input []model.NodeItem) (registry.NodeExecutionResult, *Outcome) {
	handler, ok := d.Registry.Get(plan.Type)
	if !ok {
		o := d.finishFailed(plan.ID, fmt.Sprintf("no handler registered for type %q", plan.Type))
		return registry.NodeExecutionResult{}, &o
	}

	maxRetries := intField(plan.Config, "maxRetries", 0)
	retryDelay := time.Duration(intField(plan.Config, "retryDelaySeconds", 0)) * time.Second

	var result registry.NodeExecutionResult
	for attempt := 0; ; attempt++ {
		resolved := d.Resolver.ResolveConfig(plan.Config, d.ExecCtx)

		nodeCtx, cancel := context.WithTimeout(ctx, time.Duration(plan.TimeoutSeconds)*time.Second)
		result = d.invoke(nodeCtx, handler, input, resolved)
		timedOut := nodeCtx.Err() != nil
		cancel()
		if timedOut {
			result = registry.NodeExecutionResult{Success: false, Error: fmt.Sprintf("node %q timed out after %ds", plan.ID, plan.TimeoutSeconds), OutputHandle: "error"}
		}

		if result.Success {
			return result, nil
		}

		nodeErr := fmt.Errorf("%s", result.Error)
		decision, reason := d.Hooks.OnError(d.Handle, plan.ID, nodeErr, d.ExecCtx)
		if decision == Abort {
			o := d.finishFailed(plan.ID, reason)
			return registry.NodeExecutionResult{}, &o
		}
		if attempt < maxRetries {
			time.Sleep(retryDelay)
			continue
		}

		// Retries exhausted (or none configured): route via the error handle if a
		// downstream consumer exists, otherwise the failure is fatal.
		if len(plan.OutgoingBySourceHandle["error"]) == 0 {
			o := d.finishFailed(plan.ID, result.Error)
			return registry.NodeExecutionResult{}, &o
		}
		result.OutputHandle = "error"
		return result, nil
	}
}

func (d *Driver) invoke(ctx context.Context, handler registry.Handler, input []model.NodeItem, config map[string]interface{}) registry.NodeExecutionResult {
	resultCh := make(chan registry.NodeExecutionResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultCh <- registry.NodeExecutionResult{Success: false, Error: fmt.Sprintf("handler panic: %v", r), OutputHandle: "error"}
			}
		}()
		resultCh <- handler.Execute(ctx, input, config, d.ExecCtx)
	}()
	select {
	case res := <-resultCh:
		return res
	case <-ctx.Done():
		return registry.NodeExecutionResult{Success: false, Error: "timeout", OutputHandle: "error"}
	}
}

func (d *Driver) finishFailed(nodeID, reason string) Outcome {
	d.Handle.SetState(model.StateFailed)
	d.Handle.Error = reason
	d.emit(model.EventWorkflowError, map[string]interface{}{"error": reason, "nodeId": nodeID, "status": string(model.StateFailed)})
	return Outcome{State: model.StateFailed, Error: reason, FailedNode: nodeID}
}

func (d *Driver) finishCancelled() Outcome {
	d.Handle.SetState(model.StateCancelled)
	d.emit(model.EventWorkflowError, map[string]interface{}{"error": "cancelled", "status": string(model.StateCancelled)})
	return Outcome{State: model.StateCancelled}
}

func (d *Driver) emit(t model.EventType, data map[string]interface{}) {
	if d.Events == nil {
		return
	}
	d.Events.Emit(d.Handle.ExecutionID, t, data)
}

func intField(config map[string]interface{}, key string, def int) int {
	switch v := config[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return def
	}
}
