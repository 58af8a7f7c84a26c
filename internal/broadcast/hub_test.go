package broadcast

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lyzr/workflows/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubDeliversInSequenceOrder(t *testing.T) {
	h := NewHub(nil)
	execID := uuid.New()
	events, unsubscribe := h.Subscribe(execID)
	defer unsubscribe()

	h.Emit(execID, model.EventNodeStarted, map[string]interface{}{"nodeId": "A"})
	h.Emit(execID, model.EventNodeComplete, map[string]interface{}{"nodeId": "A"})

	first := <-events
	second := <-events
	assert.Equal(t, int64(1), first.Sequence)
	assert.Equal(t, int64(2), second.Sequence)
}

func TestHubDropsEventsForFullSubscriberQueue(t *testing.T) {
	h := NewHub(nil)
	execID := uuid.New()
	events, unsubscribe := h.Subscribe(execID)
	defer unsubscribe()

	for i := 0; i < subscriberQueueCap+10; i++ {
		h.Emit(execID, model.EventProgress, map[string]interface{}{"i": i})
	}
	assert.LessOrEqual(t, len(events), subscriberQueueCap)
}

func TestHubUnsubscribeRemovesListener(t *testing.T) {
	h := NewHub(nil)
	execID := uuid.New()
	_, unsubscribe := h.Subscribe(execID)
	require.Equal(t, 1, h.SubscriberCount(execID))
	unsubscribe()
	assert.Equal(t, 0, h.SubscriberCount(execID))
}

func TestStreamExecutionDeliversConnectedThenTerminates(t *testing.T) {
	h := NewHub(nil)
	execID := uuid.New()

	var received []model.EventType
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- h.StreamExecution(ctx, execID, func(evt model.StreamEvent) error {
			received = append(received, evt.EventType)
			return nil
		})
	}()

	time.Sleep(10 * time.Millisecond)
	h.Emit(execID, model.EventWorkflowComplete, map[string]interface{}{})

	err := <-done
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(received), 2)
	assert.Equal(t, model.EventConnected, received[0])
	assert.Equal(t, model.EventWorkflowComplete, received[len(received)-1])
}
