package broadcast

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/lyzr/workflows/internal/model"
)

const heartbeatInterval = 20 * time.Second

// StreamExecution subscribes to one execution and forwards a synthetic
// "connected" event immediately, followed by every subsequent event, with a
// periodic heartbeat filling silent gaps. It returns once the caller's context
// ends, the subscription is explicitly closed, or a terminal event
// (workflow_complete/workflow_error) has been delivered — matching the stream
// lifecycle named in §4.6.
func (h *Hub) StreamExecution(ctx context.Context, executionID uuid.UUID, deliver func(model.StreamEvent) error) error {
	events, unsubscribe := h.Subscribe(executionID)
	defer unsubscribe()

	if err := deliver(model.StreamEvent{
		EventID: uuid.New(), ExecutionID: executionID, EventType: model.EventConnected,
		Data: map[string]interface{}{}, Timestamp: time.Now(),
	}); err != nil {
		return err
	}

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			if err := deliver(evt); err != nil {
				return err
			}
			if evt.EventType == model.EventWorkflowComplete || evt.EventType == model.EventWorkflowError {
				return nil
			}
		case <-ticker.C:
			if err := deliver(model.StreamEvent{
				EventID: uuid.New(), ExecutionID: executionID, EventType: model.EventHeartbeat,
				Data: map[string]interface{}{}, Timestamp: time.Now(),
			}); err != nil {
				return err
			}
		}
	}
}
