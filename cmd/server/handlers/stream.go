package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/lyzr/workflows/cmd/server/container"
	"github.com/lyzr/workflows/cmd/server/middleware"
	"github.com/lyzr/workflows/internal/model"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 30 * time.Second
	wsPingPeriod = 25 * time.Second
	wsMaxMessage = 4096

	closeAuthFailed   = 4001
	closeAccessDenied = 4003
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// StreamHandler serves the SSE and WebSocket execution event feeds, plus
// paginated event-history replay, all fed by the shared broadcast.Hub.
type StreamHandler struct {
	c *container.Container
}

func NewStreamHandler(c *container.Container) *StreamHandler {
	return &StreamHandler{c: c}
}

// SSE streams one execution's events as text/event-stream.
// GET /streaming/executions/{id}/stream/
func (h *StreamHandler) SSE(c echo.Context) error {
	executionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": "invalid execution id"})
	}

	w := c.Response()
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	err = h.c.Hub.StreamExecution(c.Request().Context(), executionID, func(evt model.StreamEvent) error {
		payload, marshalErr := json.Marshal(evt)
		if marshalErr != nil {
			return marshalErr
		}
		if _, writeErr := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", evt.Sequence, evt.EventType, payload); writeErr != nil {
			return writeErr
		}
		w.Flush()
		return nil
	})
	if err != nil {
		h.c.Components.Logger.Warn("sse stream ended", "executionId", executionID, "error", err)
	}
	return nil
}

// History replays persisted events after a given sequence number.
// GET /streaming/executions/{id}/events/?after_sequence=N&limit=L
func (h *StreamHandler) History(c echo.Context) error {
	executionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": "invalid execution id"})
	}
	after, _ := strconv.ParseInt(c.QueryParam("after_sequence"), 10, 64)

	events, err := h.c.Store.ListStreamEvents(c.Request().Context(), executionID, after)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{"error": "failed to load event history"})
	}
	if limitParam := c.QueryParam("limit"); limitParam != "" {
		if limit, err := strconv.Atoi(limitParam); err == nil && limit > 0 && limit < len(events) {
			events = events[:limit]
		}
	}
	return c.JSON(http.StatusOK, events)
}

type wsServerMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

type wsClientMessage struct {
	Type    string           `json:"type"`
	Action  model.HITLAction `json:"action,omitempty"`
	Value   interface{}      `json:"value,omitempty"`
	Message string           `json:"message,omitempty"`
}

// WS upgrades to a WebSocket and relays one execution's events, also accepting
// hitl_response/subscribe/unsubscribe/ping messages from the client.
// /ws/execution/{executionId}/
func (h *StreamHandler) WS(c echo.Context) error {
	executionID, err := uuid.Parse(c.Param("executionId"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"error": "invalid execution id"})
	}
	claims, err := middleware.ParseToken(h.c.Components.Config.Auth.JWTSecret, middleware.Token(c))
	if err != nil {
		conn, upgradeErr := upgrader.Upgrade(c.Response(), c.Request(), nil)
		if upgradeErr == nil {
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(closeAuthFailed, "authentication required"), time.Now().Add(wsWriteWait))
			conn.Close()
		}
		return nil
	}
	userID := claims.UserID

	handle, ok := h.c.Orch.GetStatus(executionID)
	if ok && handle.UserID != userID {
		conn, upgradeErr := upgrader.Upgrade(c.Response(), c.Request(), nil)
		if upgradeErr == nil {
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(closeAccessDenied, "access denied"), time.Now().Add(wsWriteWait))
			conn.Close()
		}
		return nil
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return nil
	}
	defer conn.Close()

	send := make(chan wsServerMessage, 64)
	done := make(chan struct{})

	go h.writePump(conn, send, done)
	h.readPump(conn, executionID, send, done)
	return nil
}

func (h *StreamHandler) writePump(conn *websocket.Conn, send <-chan wsServerMessage, done <-chan struct{}) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case msg, ok := <-send:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *StreamHandler) readPump(conn *websocket.Conn, executionID uuid.UUID, send chan<- wsServerMessage, done chan<- struct{}) {
	conn.SetReadLimit(wsMaxMessage)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	events, unsubscribe := h.c.Hub.Subscribe(executionID)
	stopForward := make(chan struct{})
	forwardDone := make(chan struct{})
	go func() {
		defer close(forwardDone)
		select {
		case send <- wsServerMessage{Type: "connected"}:
		case <-stopForward:
			return
		}
		for {
			select {
			case evt, ok := <-events:
				if !ok {
					return
				}
				select {
				case send <- wsServerMessage{Type: "execution.event", Data: evt}:
				case <-stopForward:
					return
				}
			case <-stopForward:
				return
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var msg wsClientMessage
		if jsonErr := json.Unmarshal(raw, &msg); jsonErr != nil {
			continue
		}
		switch msg.Type {
		case "ping":
			send <- wsServerMessage{Type: "pong"}
		case "hitl_response":
			handle, ok := h.c.Orch.GetStatus(executionID)
			if !ok || handle.PendingHitl == nil {
				send <- wsServerMessage{Type: "error", Data: "no pending hitl request"}
				continue
			}
			respErr := h.c.Orch.RespondToHitl(executionID, model.HITLResponse{Action: msg.Action, Value: msg.Value, Message: msg.Message})
			if respErr != nil {
				send <- wsServerMessage{Type: "error", Data: respErr.Error()}
			}
		case "subscribe", "unsubscribe":
			// This connection is already scoped to one execution; these are no-ops.
		}
	}

	unsubscribe()
	close(stopForward)
	<-forwardDone
	close(done)
}
