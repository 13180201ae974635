package httpx

import (
	"net/http"

	"github.com/edgeplane/dispatchd/internal/core"
	"github.com/edgeplane/dispatchd/internal/domain/model"
	"github.com/edgeplane/dispatchd/internal/service"
)

const (
	defaultListLimit  = 50
	maxListLimit      = 2000
	defaultEventLimit = 200
)

// JobHandlers provides HTTP handlers for job-related operations.
type JobHandlers struct {
	Svc *service.JobService
}

// SubmitJob handles job submission: the request is validated, routed, and
// enqueued in one call, with the placement decision in the response.
func (h *JobHandlers) SubmitJob(w http.ResponseWriter, r *http.Request) {
	var req model.JobRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	result, err := h.Svc.Submit(r.Context(), &req)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, result)
}

// RouteJob handles dry-run routing: same decision as submission, nothing
// persisted.
func (h *JobHandlers) RouteJob(w http.ResponseWriter, r *http.Request) {
	var req model.JobRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	decision, err := h.Svc.Route(r.Context(), &req)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, decision)
}

// GetJob handles fetching one job by id.
func (h *JobHandlers) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.Svc.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

// ListJobs handles listing jobs with optional status/type filters.
func (h *JobHandlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	limit, offset := ParseLimitOffset(r, defaultListLimit, maxListLimit)
	opts := core.ListJobsOptions{Limit: limit, Offset: offset}

	if v := r.URL.Query().Get("status"); v != "" {
		status := model.JobStatus(v)
		opts.Status = &status
	}
	if v := r.URL.Query().Get("type"); v != "" {
		jobType := model.JobType(v)
		opts.Type = &jobType
	}

	jobs, err := h.Svc.List(r.Context(), opts)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

// CancelJob handles cancelling a non-terminal job.
func (h *JobHandlers) CancelJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.Svc.Cancel(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

// CompleteJob handles recording externally measured actuals for a running job.
func (h *JobHandlers) CompleteJob(w http.ResponseWriter, r *http.Request) {
	var result model.CompletionResult
	if !DecodeJSON(w, r, &result) {
		return
	}

	job, err := h.Svc.Complete(r.Context(), r.PathValue("id"), &result)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, job)
}

// JobEvents handles listing the event log of one job.
func (h *JobHandlers) JobEvents(w http.ResponseWriter, r *http.Request) {
	limit, _ := ParseLimitOffset(r, defaultEventLimit, maxListLimit)
	events, err := h.Svc.Events(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"events": events})
}

// JobAttempts handles listing the attempt records of one job.
func (h *JobHandlers) JobAttempts(w http.ResponseWriter, r *http.Request) {
	limit, _ := ParseLimitOffset(r, defaultEventLimit, maxListLimit)
	attempts, err := h.Svc.Attempts(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"attempts": attempts})
}

// JobStats handles the per-status job counts.
func (h *JobHandlers) JobStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Svc.Stats(r.Context())
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, stats)
}

// SLAEvents handles the SLA trouble view: blocked jobs plus jobs placed with
// recorded violations.
func (h *JobHandlers) SLAEvents(w http.ResponseWriter, r *http.Request) {
	limit, _ := ParseLimitOffset(r, defaultEventLimit, maxListLimit)
	events, err := h.Svc.SLAEvents(r.Context(), limit)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"events": events})
}

// ModelMetrics handles the prediction accuracy summary.
func (h *JobHandlers) ModelMetrics(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "samples", 0)
	out, err := h.Svc.PredictionMetrics(r.Context(), limit)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, out)
}
