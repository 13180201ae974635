// Package metrics exposes Prometheus instrumentation for the placement and
// dispatch pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values for counters that track success and failure.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// Metrics holds all collectors on a private registry so tests can build
// isolated instances without duplicate-registration panics.
type Metrics struct {
	registry *prometheus.Registry

	JobsSubmittedTotal    *prometheus.CounterVec
	JobsCompletedTotal    *prometheus.CounterVec
	JobsRetriedTotal      prometheus.Counter
	JobsReroutedTotal     *prometheus.CounterVec
	RouteDecisionsTotal   *prometheus.CounterVec
	TelemetryIngestTotal  *prometheus.CounterVec
	SLABreachesTotal      prometheus.Counter
	DeadlineRisksTotal    prometheus.Counter
	PriceLookupsTotal     *prometheus.CounterVec
	JobsByStatus          *prometheus.GaugeVec
	DispatchDurationSecs  *prometheus.HistogramVec
	RoutingDurationSecs   prometheus.Histogram
	PredictionErrorAbsMS  prometheus.Histogram
	PredictionErrorAbsUSD prometheus.Histogram
}

// New builds a metrics set on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		JobsSubmittedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatchd_jobs_submitted_total",
			Help: "Jobs accepted for placement, by job type and initial status.",
		}, []string{"job_type", "status"}),

		JobsCompletedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatchd_jobs_completed_total",
			Help: "Jobs that reached a terminal state, by job type and outcome.",
		}, []string{"job_type", "outcome"}),

		JobsRetriedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "dispatchd_jobs_retried_total",
			Help: "Failed attempts requeued with backoff.",
		}),

		JobsReroutedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatchd_jobs_rerouted_total",
			Help: "Reroute attempts, by trigger (retry, deadline) and outcome.",
		}, []string{"trigger", "outcome"}),

		RouteDecisionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatchd_route_decisions_total",
			Help: "Routing decisions, by chosen resource type and SLA verdict.",
		}, []string{"resource_type", "verdict"}),

		TelemetryIngestTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatchd_telemetry_ingest_total",
			Help: "Telemetry points ingested, by resource type and outcome.",
		}, []string{"resource_type", "outcome"}),

		SLABreachesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "dispatchd_sla_breaches_total",
			Help: "Jobs whose deadline passed before completion.",
		}),

		DeadlineRisksTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "dispatchd_deadline_risks_total",
			Help: "Queued jobs flagged at risk of missing their deadline.",
		}),

		PriceLookupsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatchd_price_lookups_total",
			Help: "External price lookups, by source (cache, api) and outcome.",
		}, []string{"source", "outcome"}),

		JobsByStatus: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dispatchd_jobs_by_status",
			Help: "Current job counts per lifecycle status.",
		}, []string{"status"}),

		DispatchDurationSecs: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dispatchd_dispatch_duration_seconds",
			Help:    "Wall time of one dispatch attempt.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"resource_type"}),

		RoutingDurationSecs: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "dispatchd_routing_duration_seconds",
			Help:    "Wall time of one routing decision.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),

		PredictionErrorAbsMS: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "dispatchd_prediction_error_latency_ms",
			Help:    "Absolute latency prediction error of completed jobs.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		}),

		PredictionErrorAbsUSD: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "dispatchd_prediction_error_cost_usd",
			Help:    "Absolute cost prediction error of completed jobs.",
			Buckets: prometheus.ExponentialBuckets(0.000001, 4, 12),
		}),
	}
}

// Registry returns the underlying registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SetJobStats updates the per-status gauges from a stats snapshot.
func (m *Metrics) SetJobStats(queued, running, completed, failed, blocked, cancelled int) {
	m.JobsByStatus.WithLabelValues("QUEUED").Set(float64(queued))
	m.JobsByStatus.WithLabelValues("RUNNING").Set(float64(running))
	m.JobsByStatus.WithLabelValues("COMPLETED").Set(float64(completed))
	m.JobsByStatus.WithLabelValues("FAILED").Set(float64(failed))
	m.JobsByStatus.WithLabelValues("BLOCKED").Set(float64(blocked))
	m.JobsByStatus.WithLabelValues("CANCELLED").Set(float64(cancelled))
}
