package handlers

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/lyzr/workflows/cmd/server/container"
	"github.com/lyzr/workflows/cmd/server/middleware"
	"github.com/lyzr/workflows/internal/compiler"
	"github.com/lyzr/workflows/internal/model"
)

// WorkflowHandler serves workflow CRUD, compile, and validate, mirroring the
// teacher's pattern of a handler struct holding the service container and
// binding/validating the request before delegating to a service call.
type WorkflowHandler struct {
	c *container.Container
}

func NewWorkflowHandler(c *container.Container) *WorkflowHandler {
	return &WorkflowHandler{c: c}
}

type createWorkflowRequest struct {
	Name     string             `json:"name"`
	Nodes    []model.Node       `json:"nodes"`
	Edges    []model.Edge       `json:"edges"`
	Settings model.WorkflowSettings `json:"settings"`
}

// Create persists a new draft workflow.
// POST /workflows/
func (h *WorkflowHandler) Create(c echo.Context) error {
	ctx := c.Request().Context()
	var req createWorkflowRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": "invalid request body"})
	}
	if req.Name == "" {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": "name is required"})
	}

	owner := middleware.UserID(c)
	wf := &model.Workflow{
		ID:       uuid.New(),
		Owner:    owner,
		Name:     req.Name,
		Slug:     slugify(req.Name),
		Nodes:    req.Nodes,
		Edges:    req.Edges,
		Settings: req.Settings,
		Status:   model.WorkflowDraft,
		Version:  1,
	}
	if err := h.c.Store.CreateWorkflow(ctx, wf); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{"error": fmt.Sprintf("failed to create workflow: %v", err)})
	}
	return c.JSON(http.StatusCreated, wf)
}

// Get returns one workflow by ID.
// GET /workflows/{id}/
func (h *WorkflowHandler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": "invalid workflow id"})
	}
	wf, err := h.c.Store.GetWorkflow(c.Request().Context(), id)
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]interface{}{"error": "workflow not found"})
	}
	return c.JSON(http.StatusOK, wf)
}

// List returns the caller's workflows.
// GET /workflows/
func (h *WorkflowHandler) List(c echo.Context) error {
	wfs, err := h.c.Store.ListWorkflows(c.Request().Context(), middleware.UserID(c))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{"error": fmt.Sprintf("failed to list workflows: %v", err)})
	}
	return c.JSON(http.StatusOK, wfs)
}

// Compile validates a workflow's current graph and, on success, persists a new
// immutable WorkflowVersion snapshot of the compiled nodes and edges.
// POST /workflows/{id}/compile/
func (h *WorkflowHandler) Compile(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": "invalid workflow id"})
	}
	wf, err := h.c.Store.GetWorkflow(ctx, id)
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]interface{}{"error": "workflow not found"})
	}

	result := compiler.Compile(compiler.Input{
		Nodes:    wf.Nodes,
		Edges:    wf.Edges,
		Settings: wf.Settings,
	}, h.c.Registry)

	resp := map[string]interface{}{
		"success":  result.Success,
		"errors":   result.Errors,
		"warnings": result.Warnings,
		"stats": map[string]int{
			"nodeCount": result.NodeCount,
			"edgeCount": result.EdgeCount,
		},
	}
	if !result.Success {
		return c.JSON(http.StatusBadRequest, resp)
	}
	resp["executionPlan"] = result.ExecutionPlan

	latest, err := h.c.Store.LatestWorkflowVersion(ctx, id)
	nextVersion := 1
	if err == nil && latest != nil {
		nextVersion = latest.VersionNumber + 1
	}
	version := &model.WorkflowVersion{
		ID:            uuid.New(),
		WorkflowID:    id,
		VersionNumber: nextVersion,
		Nodes:         wf.Nodes,
		Edges:         wf.Edges,
	}
	if err := h.c.Store.CreateWorkflowVersion(ctx, version); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{"error": fmt.Sprintf("failed to persist compiled version: %v", err)})
	}

	return c.JSON(http.StatusOK, resp)
}

// Validate runs the compiler but reports only a truncated error summary, for
// editor-time feedback that doesn't need the full execution plan.
// POST /workflows/{id}/validate/
func (h *WorkflowHandler) Validate(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": "invalid workflow id"})
	}
	wf, err := h.c.Store.GetWorkflow(ctx, id)
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]interface{}{"error": "workflow not found"})
	}

	result := compiler.Compile(compiler.Input{
		Nodes:    wf.Nodes,
		Edges:    wf.Edges,
		Settings: wf.Settings,
	}, h.c.Registry)

	errs := result.Errors
	truncated := errs
	if len(truncated) > 5 {
		truncated = truncated[:5]
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"valid":      result.Success,
		"errorCount": len(errs),
		"errors":     truncated,
	})
}

type putTagRequest struct {
	VersionNumber int `json:"versionNumber"`
}

// PutTag points a named tag (e.g. "main", "exp/quality") at a compiled
// version, creating the tag if it doesn't exist yet. Omitting versionNumber
// points the tag at the workflow's latest compiled version.
// PUT /workflows/{id}/tags/{name}/
func (h *WorkflowHandler) PutTag(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": "invalid workflow id"})
	}
	name := c.Param("name")
	if name == "" {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": "tag name is required"})
	}

	var req putTagRequest
	_ = c.Bind(&req)
	versionNumber := req.VersionNumber
	if versionNumber == 0 {
		latest, err := h.c.Store.LatestWorkflowVersion(ctx, id)
		if err != nil {
			return c.JSON(http.StatusNotFound, map[string]interface{}{"error": "workflow has no compiled version"})
		}
		versionNumber = latest.VersionNumber
	} else if _, err := h.c.Store.GetWorkflowVersion(ctx, id, versionNumber); err != nil {
		return c.JSON(http.StatusNotFound, map[string]interface{}{"error": "version not found"})
	}

	tag := &model.WorkflowTag{WorkflowID: id, Name: name, VersionNumber: versionNumber}
	if err := h.c.Store.UpsertTag(ctx, tag); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{"error": fmt.Sprintf("failed to set tag: %v", err)})
	}
	return c.JSON(http.StatusOK, tag)
}

// ListTags returns every tag defined on a workflow.
// GET /workflows/{id}/tags/
func (h *WorkflowHandler) ListTags(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": "invalid workflow id"})
	}
	tags, err := h.c.Store.ListTags(c.Request().Context(), id)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{"error": fmt.Sprintf("failed to list tags: %v", err)})
	}
	return c.JSON(http.StatusOK, tags)
}

func slugify(name string) string {
	out := make([]rune, 0, len(name))
	lastDash := false
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			out = append(out, r)
			lastDash = false
		case r >= 'A' && r <= 'Z':
			out = append(out, r-'A'+'a')
			lastDash = false
		default:
			if !lastDash && len(out) > 0 {
				out = append(out, '-')
				lastDash = true
			}
		}
	}
	for len(out) > 0 && out[len(out)-1] == '-' {
		out = out[:len(out)-1]
	}
	return string(out)
}
