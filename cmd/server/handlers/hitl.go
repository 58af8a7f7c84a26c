package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/lyzr/workflows/cmd/server/container"
	"github.com/lyzr/workflows/cmd/server/middleware"
	"github.com/lyzr/workflows/internal/model"
)

// HITLHandler lists pending human-in-the-loop requests and delivers responses.
type HITLHandler struct {
	c *container.Container
}

func NewHITLHandler(c *container.Container) *HITLHandler {
	return &HITLHandler{c: c}
}

// Pending lists the caller's outstanding requests.
// GET /hitl/pending/
func (h *HITLHandler) Pending(c echo.Context) error {
	requests, err := h.c.Store.ListPendingHITLRequests(c.Request().Context(), middleware.UserID(c))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{"error": "failed to list pending requests"})
	}
	return c.JSON(http.StatusOK, requests)
}

type hitlRespondRequest struct {
	Action  model.HITLAction `json:"action"`
	Value   interface{}      `json:"value"`
	Message string           `json:"message"`
}

// Respond delivers a user's decision to the execution waiting on it.
// POST /hitl/{requestId}/respond/
func (h *HITLHandler) Respond(c echo.Context) error {
	ctx := c.Request().Context()
	requestID, err := uuid.Parse(c.Param("requestId"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": "invalid request id"})
	}
	var req hitlRespondRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": "invalid request body"})
	}

	stored, err := h.c.Store.GetHITLRequest(ctx, requestID)
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]interface{}{"error": "hitl request not found"})
	}
	if stored.UserID != middleware.UserID(c) {
		return c.JSON(http.StatusForbidden, map[string]interface{}{"error": "not authorized to respond to this request"})
	}

	resp := model.HITLResponse{Action: req.Action, Value: req.Value, Message: req.Message}
	if err := h.c.Orch.RespondToHitl(stored.ExecutionID, resp); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": err.Error()})
	}

	stored.Response = &resp
	stored.Status = statusForAction(req.Action)
	if err := h.c.Store.UpdateHITLRequest(ctx, stored); err != nil {
		h.c.Components.Logger.Error("failed to persist hitl response", "error", err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{"requestId": requestID, "status": stored.Status})
}

func statusForAction(action model.HITLAction) model.HITLStatus {
	switch action {
	case model.ActionApprove:
		return model.HITLApproved
	case model.ActionReject:
		return model.HITLRejected
	case model.ActionAnswer:
		return model.HITLAnswered
	default:
		return model.HITLAnswered
	}
}
