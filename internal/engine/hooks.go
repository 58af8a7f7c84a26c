// Package engine drives one compiled ExecutionPlan: it pulls inputs, invokes
// handlers, routes conditional outputs, enforces per-node timeouts and retries,
// and reports progress through the Hooks and EventSink collaborators supplied by
// the orchestrator, without importing it — the dependency points one way.
package engine

import (
	"context"

	"github.com/google/uuid"
	"github.com/lyzr/workflows/internal/model"
	"github.com/lyzr/workflows/internal/registry"
)

// HookDecision is the verdict an orchestrator hook returns to the driver.
type HookDecision int

const (
	Continue HookDecision = iota
	Pause
	Abort
)

// Hooks is implemented by the orchestrator; the engine calls it at the three
// points named in §4.5 and obeys the returned decision. The driver calls every
// hook at every supervision level; the orchestrator's one implementation handles
// the level itself, skipping its progress callouts at NONE while still enforcing
// the pause gate, the loop ceiling and the onError decision.
type Hooks interface {
	BeforeNode(ctx context.Context, handle *model.ExecutionHandle, nodeID string, execCtx *model.ExecutionContext) (HookDecision, string)
	AfterNode(handle *model.ExecutionHandle, nodeID string, result registry.NodeExecutionResult, execCtx *model.ExecutionContext) (HookDecision, string)
	OnError(handle *model.ExecutionHandle, nodeID string, err error, execCtx *model.ExecutionContext) (HookDecision, string)
}

// EventSink receives the driver's StreamEvent emissions; the broadcaster implements it.
type EventSink interface {
	Emit(executionID uuid.UUID, eventType model.EventType, data map[string]interface{})
}
