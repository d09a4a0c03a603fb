// Package telemetry exposes retrieval and indexing counters/histograms as
// Prometheus metrics (spec §9's ambient observability stack). Grounded on
// the teacher's internal/telemetry package (query-event shape: strategy,
// zero-result tracking, latency buckets) but backed by a real Prometheus
// registry instead of the teacher's hand-rolled in-memory aggregates and
// circular buffers, following the idiomatic choice shown by
// semaj90-mau5law's cmd/metrics-server (CounterVec/Gauge registered
// against a process-wide registry, served over promhttp).
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every counter/histogram the retrieval core emits. One
// Metrics is process-wide, built over its own registry so tests can
// assert on isolated values without colliding with prometheus.DefaultRegisterer.
type Metrics struct {
	registry *prometheus.Registry

	queriesTotal       *prometheus.CounterVec
	zeroResultQueries  *prometheus.CounterVec
	lowConfidenceTotal *prometheus.CounterVec
	queryLatency       *prometheus.HistogramVec

	jobsTotal    *prometheus.CounterVec
	jobDuration  *prometheus.HistogramVec
	jobsRunning  *prometheus.GaugeVec

	chunksIndexedTotal   *prometheus.CounterVec
	sourcesFailedTotal   *prometheus.CounterVec
	sourcesSkippedTotal  *prometheus.CounterVec
}

// New builds a Metrics instance with every collector registered against
// a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		queriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rcpretrieval_queries_total",
			Help: "Total retrieve() calls, by strategy.",
		}, []string{"strategy"}),
		zeroResultQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rcpretrieval_zero_result_queries_total",
			Help: "Total retrieve() calls that returned no results, by strategy.",
		}, []string{"strategy"}),
		lowConfidenceTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rcpretrieval_low_confidence_queries_total",
			Help: "Total retrieve() calls flagged low_confidence, by strategy.",
		}, []string{"strategy"}),
		queryLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rcpretrieval_query_latency_seconds",
			Help:    "retrieve() wall-clock latency, by strategy.",
			Buckets: prometheus.DefBuckets,
		}, []string{"strategy"}),
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rcpretrieval_jobs_total",
			Help: "Total jobs by op and terminal status.",
		}, []string{"op", "status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rcpretrieval_job_duration_seconds",
			Help:    "Job wall-clock duration from start to terminal status, by op.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 900, 1800, 3600},
		}, []string{"op"}),
		jobsRunning: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rcpretrieval_jobs_running",
			Help: "Currently running jobs, by op.",
		}, []string{"op"}),
		chunksIndexedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rcpretrieval_chunks_indexed_total",
			Help: "Total chunks successfully written to both BM25 and the vector store, by collection.",
		}, []string{"collection"}),
		sourcesFailedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rcpretrieval_sources_failed_total",
			Help: "Total per-source indexing failures, by collection.",
		}, []string{"collection"}),
		sourcesSkippedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rcpretrieval_sources_skipped_total",
			Help: "Total sources skipped because they were already indexed, by collection.",
		}, []string{"collection"}),
	}

	m.registry.MustRegister(
		m.queriesTotal, m.zeroResultQueries, m.lowConfidenceTotal, m.queryLatency,
		m.jobsTotal, m.jobDuration, m.jobsRunning,
		m.chunksIndexedTotal, m.sourcesFailedTotal, m.sourcesSkippedTotal,
	)
	return m
}

// Handler serves the registry's metrics in the Prometheus exposition
// format, wired to an HTTP mux by the caller (spec §6's /metrics
// surface, where exposed).
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordQuery captures one retrieve() call's outcome.
func (m *Metrics) RecordQuery(strategy string, resultCount int, lowConfidence bool, latency time.Duration) {
	m.queriesTotal.WithLabelValues(strategy).Inc()
	m.queryLatency.WithLabelValues(strategy).Observe(latency.Seconds())
	if resultCount == 0 {
		m.zeroResultQueries.WithLabelValues(strategy).Inc()
	}
	if lowConfidence {
		m.lowConfidenceTotal.WithLabelValues(strategy).Inc()
	}
}

// JobStarted increments the running-jobs gauge for op.
func (m *Metrics) JobStarted(op string) {
	m.jobsRunning.WithLabelValues(op).Inc()
}

// JobFinished records a job's terminal status and decrements the
// running-jobs gauge.
func (m *Metrics) JobFinished(op, status string, duration time.Duration) {
	m.jobsRunning.WithLabelValues(op).Dec()
	m.jobsTotal.WithLabelValues(op, status).Inc()
	m.jobDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordIndexing captures one process_bucket/process_single outcome for
// collection.
func (m *Metrics) RecordIndexing(collection string, chunksIndexed, failed, skipped int) {
	m.chunksIndexedTotal.WithLabelValues(collection).Add(float64(chunksIndexed))
	m.sourcesFailedTotal.WithLabelValues(collection).Add(float64(failed))
	m.sourcesSkippedTotal.WithLabelValues(collection).Add(float64(skipped))
}
