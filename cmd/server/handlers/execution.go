package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/lyzr/workflows/cmd/server/container"
	"github.com/lyzr/workflows/cmd/server/middleware"
	"github.com/lyzr/workflows/internal/compiler"
	"github.com/lyzr/workflows/internal/model"
	"github.com/lyzr/workflows/internal/orchestrator"
)

// ExecutionHandler starts and supervises workflow runs.
type ExecutionHandler struct {
	c     *container.Container
	creds *container.CredentialProvider
}

func NewExecutionHandler(c *container.Container) *ExecutionHandler {
	return &ExecutionHandler{c: c, creds: &container.CredentialProvider{Mgr: c.Credential}}
}

type executeRequest struct {
	InputData map[string]interface{} `json:"inputData"`
	Async     *bool                  `json:"async"`
}

// Execute starts a new run of a workflow's latest compiled version, or of the
// version a "tag" query parameter names.
// POST /workflows/{id}/execute/
func (h *ExecutionHandler) Execute(c echo.Context) error {
	ctx := c.Request().Context()
	workflowID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": "invalid workflow id"})
	}
	var req executeRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": "invalid request body"})
	}

	version, err := h.resolveVersion(ctx, workflowID, c.QueryParam("tag"))
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]interface{}{"error": "workflow has no compiled version"})
	}

	result := compiler.Compile(compiler.Input{Nodes: version.Nodes, Edges: version.Edges}, h.c.Registry)
	if !result.Success {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": "workflow no longer compiles", "errors": result.Errors})
	}

	nodeLabelToID := make(map[string]string, len(version.Nodes))
	credentialIDs := make([]string, 0)
	for _, n := range version.Nodes {
		if n.Data.Label != "" {
			nodeLabelToID[n.Data.Label] = n.ID
		}
		if credID, ok := n.Data.Config["credential"].(string); ok && credID != "" {
			credentialIDs = append(credentialIDs, credID)
		}
	}

	userID := middleware.UserID(c)
	credentials, err := h.creds.Resolve(ctx, userID, credentialIDs)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": fmt.Sprintf("failed to resolve credentials: %v", err)})
	}

	handle, err := h.c.Orch.Start(ctx, orchestrator.StartRequest{
		WorkflowID:       workflowID,
		UserID:           userID,
		Plan:             result.ExecutionPlan,
		NodeLabelToID:    nodeLabelToID,
		InputData:        model.WrapItems(req.InputData),
		Credentials:      credentials,
		SupervisionLevel: model.SupervisionFull,
	})
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": err.Error()})
	}

	logEntry := &model.ExecutionLog{
		ExecutionID: handle.ExecutionID,
		WorkflowID:  workflowID,
		UserID:      userID,
		Status:      handle.State,
		InputData:   req.InputData,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	if err := h.c.Store.CreateExecutionLog(ctx, logEntry); err != nil {
		h.c.Components.Logger.Error("failed to persist execution log", "error", err)
	}

	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"executionId": handle.ExecutionID,
		"workflowId":  handle.WorkflowID,
		"state":       handle.State,
		"startedAt":   handle.StartedAt,
	})
}

// Status returns a snapshot of a live or completed execution.
// GET /executions/{id}/status/
func (h *ExecutionHandler) Status(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": "invalid execution id"})
	}
	handle, ok := h.c.Orch.GetStatus(id)
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]interface{}{"error": "execution not found"})
	}
	return c.JSON(http.StatusOK, handle)
}

// Pause suspends a running execution before its next node.
// POST /executions/{id}/pause/
func (h *ExecutionHandler) Pause(c echo.Context) error {
	return h.transition(c, h.c.Orch.Pause, model.StatePaused)
}

// Resume releases a paused execution.
// POST /executions/{id}/resume/
func (h *ExecutionHandler) Resume(c echo.Context) error {
	return h.transition(c, h.c.Orch.Resume, model.StateRunning)
}

// Stop cancels a running or paused execution.
// POST /executions/{id}/stop/
func (h *ExecutionHandler) Stop(c echo.Context) error {
	return h.transition(c, h.c.Orch.Cancel, model.StateCancelled)
}

type patchRequest struct {
	Operations []map[string]interface{} `json:"operations"`
}

// Patch applies a JSON Patch (RFC 6902) to the workflow graph a paused
// execution is running and recompiles it, so a run can be steered mid-flight
// without restarting it. Nodes already executed may not be restructured, and
// a node an already-executed node depends on downstream may not be removed.
// POST /executions/{id}/patch/
func (h *ExecutionHandler) Patch(c echo.Context) error {
	ctx := c.Request().Context()
	executionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": "invalid execution id"})
	}
	var req patchRequest
	if err := c.Bind(&req); err != nil || len(req.Operations) == 0 {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": "operations array is required and cannot be empty"})
	}
	if err := compiler.ValidateOperations(req.Operations); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": err.Error()})
	}

	oldPlan, currentNode, ok := h.c.Orch.CurrentPlan(executionID)
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]interface{}{"error": "execution not found"})
	}
	handle, _ := h.c.Orch.GetStatus(executionID)
	if handle.UserID != middleware.UserID(c) {
		return c.JSON(http.StatusForbidden, map[string]interface{}{"error": "not your execution"})
	}

	version, err := h.c.Store.LatestWorkflowVersion(ctx, handle.WorkflowID)
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]interface{}{"error": "workflow has no compiled version"})
	}

	executed := compiler.ExecutedNodeSet(oldPlan, currentNode)
	if err := compiler.CheckNoExecutedNodeMutation(version.Nodes, req.Operations, executed); err != nil {
		return c.JSON(http.StatusConflict, map[string]interface{}{"error": err.Error()})
	}

	doc, err := json.Marshal(struct {
		Nodes []model.Node `json:"nodes"`
		Edges []model.Edge `json:"edges"`
	}{Nodes: version.Nodes, Edges: version.Edges})
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{"error": "failed to encode workflow graph"})
	}
	patchOps, err := json.Marshal(req.Operations)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": "invalid operations"})
	}
	patch, err := jsonpatch.DecodePatch(patchOps)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": fmt.Sprintf("invalid json patch: %v", err)})
	}
	patched, err := patch.Apply(doc)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": fmt.Sprintf("failed to apply patch: %v", err)})
	}

	var patchedGraph struct {
		Nodes []model.Node `json:"nodes"`
		Edges []model.Edge `json:"edges"`
	}
	if err := json.Unmarshal(patched, &patchedGraph); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": "patched document is not a valid workflow graph"})
	}

	result := compiler.Compile(compiler.Input{Nodes: patchedGraph.Nodes, Edges: patchedGraph.Edges}, h.c.Registry)
	if !result.Success {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": "patched workflow does not compile", "errors": result.Errors})
	}
	if err := compiler.CheckDependentsSurvive(oldPlan, result.ExecutionPlan, executed); err != nil {
		return c.JSON(http.StatusConflict, map[string]interface{}{"error": err.Error()})
	}

	if err := h.c.Orch.ApplyPatchedPlan(executionID, result.ExecutionPlan); err != nil {
		return c.JSON(http.StatusConflict, map[string]interface{}{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"executionId": executionID, "nodeCount": result.NodeCount, "edgeCount": result.EdgeCount})
}

// resolveVersion looks up the version a tag points at when tag is non-empty,
// falling back to the workflow's latest compiled version otherwise. This is
// what lets a caller address a run by a stable name ("main", "exp/quality")
// instead of tracking version numbers.
func (h *ExecutionHandler) resolveVersion(ctx context.Context, workflowID uuid.UUID, tag string) (*model.WorkflowVersion, error) {
	if tag == "" {
		return h.c.Store.LatestWorkflowVersion(ctx, workflowID)
	}
	t, err := h.c.Store.GetTag(ctx, workflowID, tag)
	if err != nil {
		return nil, err
	}
	return h.c.Store.GetWorkflowVersion(ctx, workflowID, t.VersionNumber)
}

func (h *ExecutionHandler) transition(c echo.Context, action func(uuid.UUID) error, reported model.ExecutionState) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": "invalid execution id"})
	}
	if err := action(id); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":      reported,
		"executionId": id,
	})
}

