// Package orchestrator owns one ExecutionHandle per live run: it spawns the
// engine driver, mediates its hooks per supervision level, exposes
// pause/resume/cancel and HITL response delivery, and enforces loop and
// sub-workflow recursion limits. It is the only package that imports
// internal/engine as a collaborator rather than a dependency target — the
// engine never imports this package back.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lyzr/workflows/internal/engine"
	"github.com/lyzr/workflows/internal/expr"
	"github.com/lyzr/workflows/internal/metrics"
	"github.com/lyzr/workflows/internal/model"
	"github.com/lyzr/workflows/internal/registry"
)

// systemLoopSafetyCeiling mirrors the compiler's own constant of the same
// value: no node may run more than this many loop iterations regardless of
// what its own maxLoopCount config declares.
const systemLoopSafetyCeiling = 1000

const defaultMaxNestingDepth = 3

// signal is a control-channel message sent from the Manager to a running driver.
type signal int

const (
	signalPause signal = iota
	signalResume
	signalCancel
)

// Logger is the minimal structured-logging surface the orchestrator needs;
// satisfied by the common/logger wrapper used across the rest of the module.
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// WorkflowLookup resolves a workflow ID to its compiled plan so the orchestrator
// can start sub-workflows without importing the store or compiler packages directly.
type WorkflowLookup interface {
	CompiledPlan(ctx context.Context, workflowID uuid.UUID) (*model.ExecutionPlan, error)
}

// CredentialProvider decrypts a user's stored credentials into the plain values
// handlers need at execution time; the orchestrator never decrypts directly.
type CredentialProvider interface {
	Resolve(ctx context.Context, userID string, credentialIDs []string) (map[string]interface{}, error)
}

// managedExecution is everything the Manager tracks about one in-flight run.
type managedExecution struct {
	handle  *model.ExecutionHandle
	execCtx *model.ExecutionContext
	plan    *model.ExecutionPlan
	control chan signal
	cancel  context.CancelFunc
	done    chan struct{}
	outcome engine.Outcome
}

// StartRequest bundles everything Start needs; zero-value Parent/NestingDepth/
// WorkflowChain/TimeoutBudgetMs model a top-level (non-nested) execution.
type StartRequest struct {
	WorkflowID        uuid.UUID
	UserID            string
	Plan              *model.ExecutionPlan
	NodeLabelToID     map[string]string
	InputData         []model.NodeItem
	Credentials       map[string]interface{}
	SupervisionLevel  model.SupervisionLevel
	Parent            *uuid.UUID
	NestingDepth      int
	WorkflowChain     []uuid.UUID
	TimeoutBudgetMs   int64
}

// Manager owns the process-resident table of ExecutionHandles.
type Manager struct {
	mu         sync.RWMutex
	executions map[uuid.UUID]*managedExecution

	reg      *registry.Registry
	resolver *expr.Resolver
	events   engine.EventSink
	logger   Logger
	lookup   WorkflowLookup
	metrics  *metrics.Metrics
}

// WithMetrics attaches a collector set; unset, every recording call is a no-op.
func (m *Manager) WithMetrics(mx *metrics.Metrics) *Manager {
	m.metrics = mx
	return m
}

func New(reg *registry.Registry, events engine.EventSink, logger Logger, lookup WorkflowLookup) *Manager {
	return &Manager{
		executions: make(map[uuid.UUID]*managedExecution),
		reg:        reg,
		resolver:   expr.NewResolver(),
		events:     events,
		logger:     logger,
		lookup:     lookup,
	}
}

// Start compiles nothing itself (the caller supplies an already-compiled Plan),
// builds a fresh ExecutionHandle and ExecutionContext, and spawns the driver in
// its own goroutine. It returns as soon as the handle exists, per §5's start contract.
func (m *Manager) Start(ctx context.Context, req StartRequest) (*model.ExecutionHandle, error) {
	if req.Plan == nil {
		return nil, fmt.Errorf("orchestrator: Start requires a compiled plan")
	}
	nestingDepth := req.NestingDepth
	maxNesting := defaultMaxNestingDepth
	if nestingDepth > maxNesting {
		return nil, fmt.Errorf("orchestrator: nesting depth %d exceeds max %d", nestingDepth, maxNesting)
	}

	handle := model.NewExecutionHandle(req.WorkflowID, req.UserID, req.Parent, req.SupervisionLevel)
	execCtx := model.NewExecutionContext(handle.ExecutionID, req.UserID, req.WorkflowID, req.NodeLabelToID)
	execCtx.NestingDepth = nestingDepth
	execCtx.MaxNestingDepth = maxNesting
	execCtx.WorkflowChain = req.WorkflowChain
	execCtx.TimeoutBudgetMs = req.TimeoutBudgetMs
	if req.Credentials != nil {
		execCtx.Credentials = req.Credentials
	}

	runCtx, cancel := context.WithCancel(ctx)
	if req.TimeoutBudgetMs > 0 {
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(req.TimeoutBudgetMs)*time.Millisecond)
	}

	me := &managedExecution{
		handle:  handle,
		execCtx: execCtx,
		plan:    req.Plan,
		control: make(chan signal, 4),
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	execCtx.AskHuman = func(ctx context.Context, nodeID, question string, options []string, timeoutSeconds int, autoAction model.HITLAction) (model.HITLResponse, error) {
		return m.askHuman(me, ctx, nodeID, question, options, timeoutSeconds, autoAction)
	}
	execCtx.StartSubworkflow = func(ctx context.Context, workflowID uuid.UUID, input []model.NodeItem, waitForCompletion bool) (model.SubworkflowResult, error) {
		return m.startSubworkflow(me, ctx, workflowID, input, waitForCompletion, 0)
	}

	hooks := &supervisorHooks{mgr: m, me: me, nodeStart: make(map[string]time.Time)}
	d := &engine.Driver{
		Plan:      req.Plan,
		Handle:    handle,
		ExecCtx:   execCtx,
		Registry:  m.reg,
		Resolver:  m.resolver,
		Hooks:     hooks,
		Events:    m.events,
		InputData: req.InputData,
	}

	m.mu.Lock()
	m.executions[handle.ExecutionID] = me
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.IncActiveExecutions()
	}

	go func() {
		defer close(me.done)
		defer cancel()
		if m.metrics != nil {
			defer m.metrics.DecActiveExecutions()
		}
		me.outcome = d.Run(runCtx)
	}()

	return handle, nil
}

// Pause asks a running execution to suspend before its next node. The actual
// suspension happens inside BeforeNode, the pause-gate suspension point from §5.
func (m *Manager) Pause(executionID uuid.UUID) error {
	me, ok := m.get(executionID)
	if !ok {
		return fmt.Errorf("orchestrator: no such execution %s", executionID)
	}
	select {
	case me.control <- signalPause:
	default:
	}
	return nil
}

// Resume releases a paused execution's BeforeNode gate.
func (m *Manager) Resume(executionID uuid.UUID) error {
	me, ok := m.get(executionID)
	if !ok {
		return fmt.Errorf("orchestrator: no such execution %s", executionID)
	}
	select {
	case me.control <- signalResume:
	default:
	}
	return nil
}

// CurrentPlan returns the live plan a paused (or running) execution is
// following, plus the node it was last at, for a patch request to diff
// against. The returned plan is the same value the driver reads; the caller
// must not mutate it except through ApplyPatchedPlan.
func (m *Manager) CurrentPlan(executionID uuid.UUID) (plan *model.ExecutionPlan, currentNode string, ok bool) {
	me, found := m.get(executionID)
	if !found {
		return nil, "", false
	}
	return me.plan, me.handle.Snapshot().CurrentNode, true
}

// ApplyPatchedPlan swaps a paused execution's remaining plan for a recompiled
// one. It requires the execution to be PAUSED: the driver only ever reads
// d.Plan between BeforeNode calls, and BeforeNode itself blocks a paused
// execution at the pause gate, so mutating the plan's fields in place here is
// race-free with no extra locking. The swap is in-place rather than replacing
// the pointer because the engine driver was handed this same *ExecutionPlan
// at Start and keeps no other reference to refresh.
func (m *Manager) ApplyPatchedPlan(executionID uuid.UUID, newPlan *model.ExecutionPlan) error {
	me, ok := m.get(executionID)
	if !ok {
		return fmt.Errorf("orchestrator: no such execution %s", executionID)
	}
	if me.handle.GetState() != model.StatePaused {
		return fmt.Errorf("orchestrator: execution %s must be paused to apply a patch", executionID)
	}
	me.plan.Order = newPlan.Order
	me.plan.Nodes = newPlan.Nodes
	me.plan.EntryNodes = newPlan.EntryNodes
	m.emit(me.handle, model.EventProgress, map[string]interface{}{"hook": "planPatched"})
	return nil
}

// Cancel stops the execution's context, unblocking whichever suspension point
// it is currently waiting at.
func (m *Manager) Cancel(executionID uuid.UUID) error {
	me, ok := m.get(executionID)
	if !ok {
		return fmt.Errorf("orchestrator: no such execution %s", executionID)
	}
	me.cancel()
	return nil
}

// GetStatus returns a lock-safe snapshot of the handle.
func (m *Manager) GetStatus(executionID uuid.UUID) (model.ExecutionHandle, bool) {
	me, ok := m.get(executionID)
	if !ok {
		return model.ExecutionHandle{}, false
	}
	return me.handle.Snapshot(), true
}

// RespondToHitl delivers a user's response to the pending HITLRequest, if any.
func (m *Manager) RespondToHitl(executionID uuid.UUID, resp model.HITLResponse) error {
	me, ok := m.get(executionID)
	if !ok {
		return fmt.Errorf("orchestrator: no such execution %s", executionID)
	}
	req := me.handle.GetPendingHitl()
	if req == nil {
		return fmt.Errorf("orchestrator: execution %s has no pending HITL request", executionID)
	}
	if !req.Deliver(resp) {
		return fmt.Errorf("orchestrator: HITL request %s already resolved", req.ID)
	}
	return nil
}

// Wait blocks until the execution's driver goroutine returns, for callers (tests,
// sub-workflow waits) that need the final Outcome rather than just the handle.
func (m *Manager) Wait(executionID uuid.UUID) (engine.Outcome, error) {
	me, ok := m.get(executionID)
	if !ok {
		return engine.Outcome{}, fmt.Errorf("orchestrator: no such execution %s", executionID)
	}
	<-me.done
	return me.outcome, nil
}

func (m *Manager) get(executionID uuid.UUID) (*managedExecution, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	me, ok := m.executions[executionID]
	return me, ok
}
