package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersCleanly(t *testing.T) {
	m := New()
	require.NotNil(t, m)

	reg := prometheus.NewRegistry()
	assert.NoError(t, m.Register(reg))
}

func TestRegisterTwiceFails(t *testing.T) {
	m := New()
	reg := prometheus.NewRegistry()
	require.NoError(t, m.Register(reg))
	assert.Error(t, m.Register(reg))
}

func TestRecordNodeExecution(t *testing.T) {
	m := New()

	m.RecordNodeExecution("httpRequest", "success", 0.25)
	m.RecordNodeExecution("httpRequest", "error", 1.5)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.NodesExecutedTotal.WithLabelValues("httpRequest", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.NodesExecutedTotal.WithLabelValues("httpRequest", "error")))
}

func TestActiveExecutionsGauge(t *testing.T) {
	m := New()

	m.IncActiveExecutions()
	m.IncActiveExecutions()
	m.DecActiveExecutions()

	assert.Equal(t, float64(1), testutil.ToFloat64(m.ActiveExecutions))
}

func TestHITLPendingGauge(t *testing.T) {
	m := New()

	m.IncHITLPending()
	assert.Equal(t, float64(1), testutil.ToFloat64(m.HITLPending))

	m.DecHITLPending()
	assert.Equal(t, float64(0), testutil.ToFloat64(m.HITLPending))
}

func TestRecordBroadcastDrop(t *testing.T) {
	m := New()

	m.RecordBroadcastDrop("execution.progress")

	assert.Equal(t, float64(1), testutil.ToFloat64(m.BroadcastQueueDrops.WithLabelValues("execution.progress")))
}
