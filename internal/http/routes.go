package httpx

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/edgeplane/dispatchd/internal/observability/metrics"
	"github.com/edgeplane/dispatchd/internal/service"
)

// RouterServices holds all the services needed by the HTTP router.
type RouterServices struct {
	Jobs      *service.JobService
	Telemetry *service.TelemetryService
	Metrics   *metrics.Metrics // Optional: nil disables /metrics
	Logger    *slog.Logger     // Optional
}

// NewRouter creates and configures the API router.
func NewRouter(services RouterServices) http.Handler {
	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()

	jobHandlers := &JobHandlers{Svc: services.Jobs}
	telemetryHandlers := &TelemetryHandlers{Svc: services.Telemetry}

	mux.HandleFunc("POST /api/jobs", jobHandlers.SubmitJob)
	mux.HandleFunc("POST /api/jobs/route", jobHandlers.RouteJob)
	mux.HandleFunc("GET /api/jobs", jobHandlers.ListJobs)
	mux.HandleFunc("GET /api/jobs/stats", jobHandlers.JobStats)
	mux.HandleFunc("GET /api/jobs/{id}", jobHandlers.GetJob)
	mux.HandleFunc("POST /api/jobs/{id}/cancel", jobHandlers.CancelJob)
	mux.HandleFunc("POST /api/jobs/{id}/complete", jobHandlers.CompleteJob)
	mux.HandleFunc("GET /api/jobs/{id}/events", jobHandlers.JobEvents)
	mux.HandleFunc("GET /api/jobs/{id}/attempts", jobHandlers.JobAttempts)

	mux.HandleFunc("GET /api/sla/events", jobHandlers.SLAEvents)
	mux.HandleFunc("GET /api/model/metrics", jobHandlers.ModelMetrics)

	mux.HandleFunc("POST /api/telemetry", telemetryHandlers.IngestPoint)
	mux.HandleFunc("POST /api/telemetry/batch", telemetryHandlers.IngestBatch)
	mux.HandleFunc("GET /api/resources", telemetryHandlers.ListResources)
	mux.HandleFunc("GET /api/resources/{id}", telemetryHandlers.GetResource)

	mux.HandleFunc("GET /healthz", healthHandler)
	mux.HandleFunc("HEAD /healthz", healthHandler)

	if services.Metrics != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(
			services.Metrics.Registry(),
			promhttp.HandlerOpts{},
		))
	}

	var handler http.Handler = mux
	handler = Logging(logger)(handler)
	handler = Recover(logger)(handler)
	return handler
}
