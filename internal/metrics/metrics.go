// Package metrics collects Prometheus counters and gauges for the engine,
// orchestrator, and broadcaster, following the collectors-struct-plus-Register
// shape used across the example pack's Prometheus integrations.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds every collector the service exposes at /metrics.
type Metrics struct {
	NodesExecutedTotal    *prometheus.CounterVec
	NodeExecutionDuration *prometheus.HistogramVec
	ActiveExecutions      prometheus.Gauge
	HITLPending           prometheus.Gauge
	BroadcastQueueDrops   *prometheus.CounterVec
}

// New builds every collector, ready to Register.
func New() *Metrics {
	return &Metrics{
		NodesExecutedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workflows_nodes_executed_total",
				Help: "Total number of node executions by node type and outcome",
			},
			[]string{"node_type", "status"},
		),
		NodeExecutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "workflows_node_execution_duration_seconds",
				Help:    "Node execution duration in seconds by node type",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"node_type"},
		),
		ActiveExecutions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "workflows_active_executions",
			Help: "Number of workflow executions currently running",
		}),
		HITLPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "workflows_hitl_pending",
			Help: "Number of executions currently suspended awaiting a human response",
		}),
		BroadcastQueueDrops: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workflows_broadcast_queue_drops_total",
				Help: "Total number of stream events dropped for a slow subscriber",
			},
			[]string{"event_type"},
		),
	}
}

// Register adds every collector to registry, matching the teacher's
// one-err-per-collector loop.
func (m *Metrics) Register(registry *prometheus.Registry) error {
	collectors := []prometheus.Collector{
		m.NodesExecutedTotal,
		m.NodeExecutionDuration,
		m.ActiveExecutions,
		m.HITLPending,
		m.BroadcastQueueDrops,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// RecordNodeExecution records one node's terminal outcome and latency.
func (m *Metrics) RecordNodeExecution(nodeType, status string, durationSeconds float64) {
	m.NodesExecutedTotal.WithLabelValues(nodeType, status).Inc()
	m.NodeExecutionDuration.WithLabelValues(nodeType).Observe(durationSeconds)
}

// IncActiveExecutions increments the in-flight execution gauge.
func (m *Metrics) IncActiveExecutions() { m.ActiveExecutions.Inc() }

// DecActiveExecutions decrements the in-flight execution gauge.
func (m *Metrics) DecActiveExecutions() { m.ActiveExecutions.Dec() }

// IncHITLPending increments the pending-HITL gauge.
func (m *Metrics) IncHITLPending() { m.HITLPending.Inc() }

// DecHITLPending decrements the pending-HITL gauge.
func (m *Metrics) DecHITLPending() { m.HITLPending.Dec() }

// RecordBroadcastDrop records one dropped stream event for a slow subscriber.
func (m *Metrics) RecordBroadcastDrop(eventType string) {
	m.BroadcastQueueDrops.WithLabelValues(eventType).Inc()
}
