package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/lyzr/workflows/internal/engine"
	"github.com/lyzr/workflows/internal/model"
	"github.com/lyzr/workflows/internal/registry"
)

// supervisorHooks implements engine.Hooks for one managedExecution. Supervision
// level NONE still runs BeforeNode's pause-gate and loop-ceiling enforcement —
// those are safety invariants, not observability — but skips the beforeNode/
// afterNode callouts a FULL-level caller would otherwise receive.
//
// nodeStart is only ever touched from the driver's single goroutine for this
// execution, so it needs no lock of its own.
type supervisorHooks struct {
	mgr       *Manager
	me        *managedExecution
	nodeStart map[string]time.Time
}

// BeforeNode is the pause-gate suspension point (c) from §5: a pending pause
// signal blocks here until Resume or Cancel arrives. It also enforces the loop
// safety ceiling before a loop/splitInBatches node is allowed to run again.
func (h *supervisorHooks) BeforeNode(ctx context.Context, handle *model.ExecutionHandle, nodeID string, execCtx *model.ExecutionContext) (engine.HookDecision, string) {
	plan := h.me.plan.NodeByID(nodeID)

	if plan.Type == "loop" || plan.Type == "splitInBatches" {
		maxLoop := intField(plan.Config, "maxLoopCount", systemLoopSafetyCeiling)
		if maxLoop > systemLoopSafetyCeiling || maxLoop <= 0 {
			maxLoop = systemLoopSafetyCeiling
		}
		if handle.LoopCounters[nodeID] >= maxLoop {
			reason := fmt.Sprintf("node %q exceeded loop limit (%d)", nodeID, maxLoop)
			h.mgr.logAt("warn", reason)
			return engine.Abort, reason
		}
	}

	select {
	case sig := <-h.me.control:
		switch sig {
		case signalCancel:
			return engine.Abort, "cancelled"
		case signalPause:
			handle.SetState(model.StatePaused)
			if dec, reason := h.waitForResume(ctx); dec != engine.Continue {
				return dec, reason
			}
			handle.SetState(model.StateRunning)
		}
	default:
	}

	if handle.SupervisionLevel == model.SupervisionFull {
		h.mgr.emit(handle, model.EventProgress, map[string]interface{}{"hook": "beforeNode", "nodeId": nodeID})
	}
	h.nodeStart[nodeID] = time.Now()
	return engine.Continue, ""
}

// waitForResume blocks at suspension point (c) until a Resume/Cancel control
// signal arrives or the execution's own context ends.
func (h *supervisorHooks) waitForResume(ctx context.Context) (engine.HookDecision, string) {
	for {
		select {
		case <-ctx.Done():
			return engine.Abort, "cancelled while paused"
		case sig := <-h.me.control:
			switch sig {
			case signalResume:
				return engine.Continue, ""
			case signalCancel:
				return engine.Abort, "cancelled"
			case signalPause:
				// already paused; ignore repeat pause requests
			}
		}
	}
}

// AfterNode records the loop counter against the same ceiling checked in
// BeforeNode, catching a loop whose single iteration already overshoots, and
// relays a FULL-level observability event.
func (h *supervisorHooks) AfterNode(handle *model.ExecutionHandle, nodeID string, result registry.NodeExecutionResult, execCtx *model.ExecutionContext) (engine.HookDecision, string) {
	plan := h.me.plan.NodeByID(nodeID)
	if plan.Type == "loop" || plan.Type == "splitInBatches" {
		maxLoop := intField(plan.Config, "maxLoopCount", systemLoopSafetyCeiling)
		if maxLoop > systemLoopSafetyCeiling || maxLoop <= 0 {
			maxLoop = systemLoopSafetyCeiling
		}
		if handle.LoopCounters[nodeID] > maxLoop {
			reason := fmt.Sprintf("node %q loop counter %d exceeded limit %d", nodeID, handle.LoopCounters[nodeID], maxLoop)
			return engine.Abort, reason
		}
	}

	if handle.SupervisionLevel == model.SupervisionFull {
		h.mgr.emit(handle, model.EventProgress, map[string]interface{}{
			"hook": "afterNode", "nodeId": nodeID, "success": result.Success, "outputHandle": result.OutputHandle,
		})
	}
	h.recordNodeMetric(plan.Type, nodeID, result.Success)
	return engine.Continue, ""
}

func (h *supervisorHooks) recordNodeMetric(nodeType, nodeID string, success bool) {
	if h.mgr.metrics == nil {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	duration := 0.0
	if started, ok := h.nodeStart[nodeID]; ok {
		duration = time.Since(started).Seconds()
		delete(h.nodeStart, nodeID)
	}
	h.mgr.metrics.RecordNodeExecution(nodeType, status, duration)
}

// OnError is invoked for every failed attempt (handler success=false, exception,
// or timeout). Default is Abort unless the node config declares continueOnError,
// matching §4.5's onError contract.
func (h *supervisorHooks) OnError(handle *model.ExecutionHandle, nodeID string, err error, execCtx *model.ExecutionContext) (engine.HookDecision, string) {
	plan := h.me.plan.NodeByID(nodeID)

	if handle.SupervisionLevel != model.SupervisionNone {
		h.mgr.emit(handle, model.EventProgress, map[string]interface{}{"hook": "onError", "nodeId": nodeID, "error": err.Error()})
	}
	h.recordNodeMetric(plan.Type, nodeID, false)

	continueOnError, _ := plan.Config["continueOnError"].(bool)
	if continueOnError {
		return engine.Continue, ""
	}
	return engine.Abort, err.Error()
}

func (m *Manager) emit(handle *model.ExecutionHandle, t model.EventType, data map[string]interface{}) {
	if m.events == nil {
		return
	}
	m.events.Emit(handle.ExecutionID, t, data)
}

func (m *Manager) logAt(level, msg string) {
	if m.logger == nil {
		return
	}
	switch level {
	case "warn":
		m.logger.Warn(msg)
	case "error":
		m.logger.Error(msg)
	default:
		m.logger.Info(msg)
	}
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
