// Package broadcast fans StreamEvents out to per-execution subscribers: the
// engine and orchestrator call Emit, and SSE/WebSocket handlers call Subscribe.
// The design mirrors the teacher's WebSocket hub (register/unregister/broadcast
// channels owned by one goroutine) but keys connections by executionId instead
// of username, and adds the monotonic Sequence numbering and drop-newest
// backpressure the spec requires.
package broadcast

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/lyzr/workflows/internal/metrics"
	"github.com/lyzr/workflows/internal/model"
)

// subscriberQueueCap bounds each subscriber's backlog; once full, new events for
// that subscriber are dropped rather than blocking the emitting goroutine or
// growing without bound (drop-newest per §4.6).
const subscriberQueueCap = 100

// Logger is the minimal structured-logging surface the hub needs.
type Logger interface {
	Warn(msg string, keysAndValues ...interface{})
}

type subscriber struct {
	id    uuid.UUID
	queue chan model.StreamEvent
}

// Hub holds every execution's subscriber set behind one mutex and fans events
// out on the emitting goroutine; there is one Hub for the whole process, keyed
// internally by executionId.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[uuid.UUID]map[uuid.UUID]*subscriber
	sequences   map[uuid.UUID]*int64
	logger      Logger
	metrics     *metrics.Metrics
}

func NewHub(logger Logger) *Hub {
	return &Hub{
		subscribers: make(map[uuid.UUID]map[uuid.UUID]*subscriber),
		sequences:   make(map[uuid.UUID]*int64),
		logger:      logger,
	}
}

// WithMetrics attaches a collector set; unset, dropped events are only logged.
func (h *Hub) WithMetrics(m *metrics.Metrics) *Hub {
	h.metrics = m
	return h
}

// Subscribe registers a new listener for one execution's events and returns a
// receive-only channel plus an unsubscribe func the caller must invoke when done.
func (h *Hub) Subscribe(executionID uuid.UUID) (<-chan model.StreamEvent, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub := &subscriber{id: uuid.New(), queue: make(chan model.StreamEvent, subscriberQueueCap)}
	if h.subscribers[executionID] == nil {
		h.subscribers[executionID] = make(map[uuid.UUID]*subscriber)
	}
	h.subscribers[executionID][sub.id] = sub

	unsubscribe := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if set, ok := h.subscribers[executionID]; ok {
			if s, ok := set[sub.id]; ok {
				close(s.queue)
				delete(set, sub.id)
			}
			if len(set) == 0 {
				delete(h.subscribers, executionID)
			}
		}
	}
	return sub.queue, unsubscribe
}

// Emit implements engine.EventSink: it stamps the event with the next sequence
// number for this execution and fans it out, dropping it for any subscriber
// whose queue is already full rather than blocking the caller.
func (h *Hub) Emit(executionID uuid.UUID, eventType model.EventType, data map[string]interface{}) {
	seq := h.nextSequence(executionID)
	event := model.StreamEvent{
		EventID:     uuid.New(),
		ExecutionID: executionID,
		EventType:   eventType,
		Data:        data,
		Sequence:    seq,
		Timestamp:   time.Now(),
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subscribers[executionID] {
		select {
		case sub.queue <- event:
		default:
			if h.logger != nil {
				h.logger.Warn("broadcast: dropping event for slow subscriber", "executionId", executionID, "eventType", eventType)
			}
			if h.metrics != nil {
				h.metrics.RecordBroadcastDrop(string(eventType))
			}
		}
	}
}

func (h *Hub) nextSequence(executionID uuid.UUID) int64 {
	h.mu.Lock()
	counter, ok := h.sequences[executionID]
	if !ok {
		var zero int64
		counter = &zero
		h.sequences[executionID] = counter
	}
	h.mu.Unlock()
	return atomic.AddInt64(counter, 1)
}

// SubscriberCount reports how many listeners are attached to one execution,
// mainly for tests and metrics.
func (h *Hub) SubscriberCount(executionID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[executionID])
}

// Forget drops sequence bookkeeping for a finished execution so the map does
// not grow without bound across a long-lived process.
func (h *Hub) Forget(executionID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sequences, executionID)
}
