package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_NilReceiver(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.MutationQueued()
		m.MutationSynced()
		m.MutationFailed()
		m.MutationRetried()
		m.SetPending(3)
		m.SyncTimer()()
		m.SyncSkipped()
		m.ConflictDetected("node")
		m.ConflictResolved("merge", true, time.Millisecond)
		m.SetIndexEdges(1)
		m.IndexQuery("scan", time.Millisecond, true)
	})
}

func TestMetrics_Records(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.MutationQueued()
	m.MutationQueued()
	m.SetPending(2)
	m.ConflictResolved("server-wins", false, 5*time.Millisecond)
	m.IndexQuery("source", time.Microsecond, false)
	m.IndexQuery("scan", 10*time.Millisecond, true)

	families, err := reg.Gather()
	require.NoError(t, err)
	byName := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		byName[f.GetName()] = f
	}

	assert.Equal(t, 2.0, byName["lattice_queue_mutations_queued_total"].GetMetric()[0].GetCounter().GetValue())
	assert.Equal(t, 2.0, byName["lattice_queue_pending"].GetMetric()[0].GetGauge().GetValue())
	assert.Equal(t, 1.0, byName["lattice_index_slow_queries_total"].GetMetric()[0].GetCounter().GetValue())
	assert.Len(t, byName["lattice_index_queries_total"].GetMetric(), 2)

	resolved := byName["lattice_conflict_resolved_total"].GetMetric()
	require.Len(t, resolved, 1)
	labels := map[string]string{}
	for _, l := range resolved[0].GetLabel() {
		labels[l.GetName()] = l.GetValue()
	}
	assert.Equal(t, map[string]string{"strategy": "server-wins", "requires_sync": "false"}, labels)
}

func TestMetrics_SeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		NewMetrics(prometheus.NewRegistry())
		NewMetrics(prometheus.NewRegistry())
	})
}
