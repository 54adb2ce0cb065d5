package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "lattice"

// Metrics groups every collector recorded by the queue, resolver and index.
type Metrics struct {
	mutationsQueued   prometheus.Counter
	mutationsSynced   prometheus.Counter
	mutationsFailed   prometheus.Counter
	mutationRetries   prometheus.Counter
	queuePending      prometheus.Gauge
	syncDuration      prometheus.Histogram
	syncSkipped       prometheus.Counter
	conflictsDetected *prometheus.CounterVec
	conflictsResolved *prometheus.CounterVec
	resolutionLatency prometheus.Histogram
	indexEdges        prometheus.Gauge
	indexQueries      *prometheus.CounterVec
	indexSlowQueries  prometheus.Counter
	queryDuration     prometheus.Histogram
}

// NewMetrics builds the collectors and registers them on reg.
// A nil registerer leaves the collectors unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		mutationsQueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "queue", Name: "mutations_queued_total",
			Help: "Mutations accepted into the offline queue.",
		}),
		mutationsSynced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "queue", Name: "mutations_synced_total",
			Help: "Mutations applied to the remote target.",
		}),
		mutationsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "queue", Name: "mutations_failed_total",
			Help: "Mutations that exhausted their retries.",
		}),
		mutationRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "queue", Name: "mutation_retries_total",
			Help: "Failed remote applications that will be retried.",
		}),
		queuePending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "queue", Name: "pending",
			Help: "Mutations waiting to be synced.",
		}),
		syncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "queue", Name: "sync_duration_seconds",
			Help:    "Duration of sync passes.",
			Buckets: prometheus.DefBuckets,
		}),
		syncSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "queue", Name: "sync_skipped_total",
			Help: "Sync requests skipped because a pass was already running.",
		}),
		conflictsDetected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "conflict", Name: "detected_total",
			Help: "Conflicts detected between queued mutations and server state.",
		}, []string{"entity_type"}),
		conflictsResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "conflict", Name: "resolved_total",
			Help: "Conflicts resolved, by strategy.",
		}, []string{"strategy", "requires_sync"}),
		resolutionLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "conflict", Name: "resolution_duration_seconds",
			Help:    "Time from detection to resolution.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		indexEdges: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "index", Name: "edges",
			Help: "Cross-graph edges held by the index.",
		}),
		indexQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "index", Name: "queries_total",
			Help: "Index queries, by the bucket used to answer them.",
		}, []string{"plan"}),
		indexSlowQueries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "index", Name: "slow_queries_total",
			Help: "Index queries exceeding the configured budget.",
		}),
		queryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "index", Name: "query_duration_seconds",
			Help:    "Index query duration.",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
		}),
	}
	if reg != nil {
		reg.MustRegister(m.collectors()...)
	}
	return m
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.mutationsQueued, m.mutationsSynced, m.mutationsFailed, m.mutationRetries,
		m.queuePending, m.syncDuration, m.syncSkipped,
		m.conflictsDetected, m.conflictsResolved, m.resolutionLatency,
		m.indexEdges, m.indexQueries, m.indexSlowQueries, m.queryDuration,
	}
}

func (m *Metrics) MutationQueued() {
	if m == nil {
		return
	}
	m.mutationsQueued.Inc()
}

func (m *Metrics) MutationSynced() {
	if m == nil {
		return
	}
	m.mutationsSynced.Inc()
}

func (m *Metrics) MutationFailed() {
	if m == nil {
		return
	}
	m.mutationsFailed.Inc()
}

func (m *Metrics) MutationRetried() {
	if m == nil {
		return
	}
	m.mutationRetries.Inc()
}

// SetPending records the current number of pending mutations.
func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.queuePending.Set(float64(n))
}

// SyncTimer starts timing a sync pass. Call the returned func when it ends.
func (m *Metrics) SyncTimer() func() {
	if m == nil {
		return func() {}
	}
	timer := prometheus.NewTimer(m.syncDuration)
	return func() { timer.ObserveDuration() }
}

func (m *Metrics) SyncSkipped() {
	if m == nil {
		return
	}
	m.syncSkipped.Inc()
}

func (m *Metrics) ConflictDetected(entityType string) {
	if m == nil {
		return
	}
	m.conflictsDetected.WithLabelValues(entityType).Inc()
}

// ConflictResolved records one resolution and its latency since detection.
func (m *Metrics) ConflictResolved(strategy string, requiresSync bool, latency time.Duration) {
	if m == nil {
		return
	}
	sync := "false"
	if requiresSync {
		sync = "true"
	}
	m.conflictsResolved.WithLabelValues(strategy, sync).Inc()
	m.resolutionLatency.Observe(latency.Seconds())
}

func (m *Metrics) SetIndexEdges(n int) {
	if m == nil {
		return
	}
	m.indexEdges.Set(float64(n))
}

// IndexQuery records one query answered from the named bucket.
func (m *Metrics) IndexQuery(plan string, d time.Duration, slow bool) {
	if m == nil {
		return
	}
	m.indexQueries.WithLabelValues(plan).Inc()
	m.queryDuration.Observe(d.Seconds())
	if slow {
		m.indexSlowQueries.Inc()
	}
}
