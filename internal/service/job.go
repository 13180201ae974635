package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/edgeplane/dispatchd/internal/core"
	"github.com/edgeplane/dispatchd/internal/data"
	"github.com/edgeplane/dispatchd/internal/domain/model"
	apperrors "github.com/edgeplane/dispatchd/internal/errors"
	"github.com/edgeplane/dispatchd/internal/observability/metrics"
)

// JobServiceOptions groups dependencies for JobService.
type JobServiceOptions struct {
	Jobs     core.JobRepository     // Required: durable job queue
	Attempts core.AttemptRepository // Required: per-attempt records
	Events   core.EventRepository   // Required: append-only event log
	Router   core.Router            // Required: placement decisions
	Logger   *slog.Logger           // Optional: structured logger
	Metrics  *metrics.Metrics       // Optional: submission/decision counters
}

// JobService provides business logic for job submission, lifecycle queries,
// and cancellation. Submission routes synchronously so the caller gets the
// placement decision in the response; execution happens asynchronously in the
// worker loop.
type JobService struct {
	jobs     core.JobRepository
	attempts core.AttemptRepository
	events   core.EventRepository
	router   core.Router
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewJobService constructs a new JobService.
func NewJobService(opts JobServiceOptions) (*JobService, error) {
	if opts.Jobs == nil {
		return nil, errors.New("JobRepository is required")
	}
	if opts.Attempts == nil {
		return nil, errors.New("AttemptRepository is required")
	}
	if opts.Events == nil {
		return nil, errors.New("EventRepository is required")
	}
	if opts.Router == nil {
		return nil, errors.New("Router is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &JobService{
		jobs:     opts.Jobs,
		attempts: opts.Attempts,
		events:   opts.Events,
		router:   opts.Router,
		logger:   logger.With("component", "job_service"),
		metrics:  opts.Metrics,
	}, nil
}

// SubmitResult is the synchronous response to a job submission: the stored
// job and the routing decision that placed it.
type SubmitResult struct {
	Job      *model.Job           `json:"job"`
	Decision *model.RouteDecision `json:"decision"`
}

// Submit validates, routes, and enqueues one job. A decision that found no
// acceptable resource leaves the job BLOCKED instead of QUEUED so workers
// never claim it.
func (s *JobService) Submit(ctx context.Context, req *model.JobRequest) (*SubmitResult, error) {
	if req == nil {
		return nil, apperrors.Validation("job request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	started := time.Now()
	decision, err := s.router.Route(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("route job %s: %w", req.JobID, err)
	}
	s.observeDecision(decision, time.Since(started))

	snapshot, err := req.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("snapshot job %s: %w", req.JobID, err)
	}

	status := model.JobStatusQueued
	if !decision.Resolved() {
		status = model.JobStatusBlocked
	}

	job, err := s.jobs.Create(ctx, core.CreateJobParams{
		Req:      req,
		Snapshot: snapshot,
		Status:   status,
		Decision: decision,
	})
	if err != nil {
		return nil, fmt.Errorf("create job %s: %w", req.JobID, apperrors.MapDBError(err))
	}

	if err := s.events.Append(ctx, job.ID, model.EventSubmitted, decision.Explanation); err != nil {
		s.logger.WarnContext(ctx, "append submitted event failed", "job_id", job.ID, "error", err)
	}

	if s.metrics != nil {
		s.metrics.JobsSubmittedTotal.WithLabelValues(string(job.Type), string(job.Status)).Inc()
	}
	s.logger.InfoContext(ctx, "job submitted",
		"job_id", job.ID,
		"job_type", job.Type,
		"status", job.Status,
		"chosen_resource", decision.ChosenResourceID,
	)

	return &SubmitResult{Job: job, Decision: decision}, nil
}

// Route runs a placement decision without persisting anything. Dry-run
// surface for capacity planning and debugging.
func (s *JobService) Route(ctx context.Context, req *model.JobRequest) (*model.RouteDecision, error) {
	if req == nil {
		return nil, apperrors.Validation("job request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, apperrors.Validation(err.Error())
	}
	decision, err := s.router.Route(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("route job %s: %w", req.JobID, err)
	}
	return decision, nil
}

// Get returns one job by id.
func (s *JobService) Get(ctx context.Context, jobID string) (*model.Job, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, data.ErrJobNotFound) {
			return nil, apperrors.NotFoundf("job %q not found", jobID)
		}
		return nil, fmt.Errorf("get job %s: %w", jobID, err)
	}
	return job, nil
}

// List returns jobs newest-first with optional status and type filters.
func (s *JobService) List(ctx context.Context, opts core.ListJobsOptions) ([]*model.Job, error) {
	if opts.Status != nil && !opts.Status.Valid() {
		return nil, apperrors.Validationf("invalid status filter: %q", *opts.Status)
	}
	if opts.Type != nil && !opts.Type.Valid() {
		return nil, apperrors.Validationf("invalid job_type filter: %q", *opts.Type)
	}
	jobs, err := s.jobs.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// Cancel moves a non-terminal job to CANCELLED. A running job's in-flight
// attempt finishes, but its result is discarded by the worker.
func (s *JobService) Cancel(ctx context.Context, jobID string) (*model.Job, error) {
	job, err := s.jobs.Cancel(ctx, jobID)
	if err != nil {
		switch {
		case errors.Is(err, data.ErrJobNotFound):
			return nil, apperrors.NotFoundf("job %q not found", jobID)
		case errors.Is(err, data.ErrJobNotCancellable):
			return nil, apperrors.Conflictf("job %q is already terminal", jobID)
		default:
			return nil, fmt.Errorf("cancel job %s: %w", jobID, err)
		}
	}

	if err := s.events.Append(ctx, job.ID, model.EventCancelled, "cancelled by caller"); err != nil {
		s.logger.WarnContext(ctx, "append cancelled event failed", "job_id", job.ID, "error", err)
	}
	s.logger.InfoContext(ctx, "job cancelled", "job_id", job.ID)
	return job, nil
}

// Complete force-sets externally measured actuals on a job. Any non-terminal
// job accepts completion so callers can close out work no worker executes;
// terminal jobs are a conflict.
func (s *JobService) Complete(ctx context.Context, jobID string, result *model.CompletionResult) (*model.Job, error) {
	if result == nil {
		return nil, apperrors.Validation("completion result is required")
	}
	if err := result.Validate(); err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	completed, err := s.jobs.Complete(ctx, jobID, result)
	if err != nil {
		return nil, fmt.Errorf("complete job %s: %w", jobID, err)
	}
	if !completed {
		// Distinguish a missing job from a bad state for the caller.
		if _, err := s.Get(ctx, jobID); err != nil {
			return nil, err
		}
		return nil, apperrors.Conflictf("job %q is already terminal", jobID)
	}

	if err := s.events.Append(ctx, jobID, model.EventCompleted,
		fmt.Sprintf("completed by caller: actual_latency_ms=%.1f actual_cost_usd=%.6f",
			result.ActualLatencyMS, result.ActualCostUSD)); err != nil {
		s.logger.WarnContext(ctx, "append completed event failed", "job_id", jobID, "error", err)
	}

	job, err := s.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.JobsCompletedTotal.WithLabelValues(string(job.Type), metrics.OutcomeSuccess).Inc()
	}
	return job, nil
}

// Events returns the event log of one job, newest-first.
func (s *JobService) Events(ctx context.Context, jobID string, limit int) ([]*model.JobEvent, error) {
	if _, err := s.Get(ctx, jobID); err != nil {
		return nil, err
	}
	events, err := s.events.ListByJob(ctx, jobID, limit)
	if err != nil {
		return nil, fmt.Errorf("list events for %s: %w", jobID, err)
	}
	return events, nil
}

// Attempts returns the attempt records of one job, newest-first.
func (s *JobService) Attempts(ctx context.Context, jobID string, limit int) ([]*model.JobAttempt, error) {
	if _, err := s.Get(ctx, jobID); err != nil {
		return nil, err
	}
	attempts, err := s.attempts.ListByJob(ctx, jobID, limit)
	if err != nil {
		return nil, fmt.Errorf("list attempts for %s: %w", jobID, err)
	}
	return attempts, nil
}

// SLAEvent is one row of the SLA trouble view: a job that is blocked, or one
// that was routed despite recorded violations.
type SLAEvent struct {
	JobID              string              `json:"job_id"`
	Status             model.JobStatus     `json:"status"`
	ChosenResourceID   *string             `json:"chosen_resource_id"`
	ChosenResourceType *model.ResourceType `json:"chosen_resource_type"`
	PredictedLatencyMS *float64            `json:"predicted_latency_ms"`
	PredictedCostUSD   *float64            `json:"predicted_cost_usd"`
	Violations         []string            `json:"violations"`
	UpdatedAt          time.Time           `json:"updated_at"`
}

// SLAEvents returns the jobs whose placement is in SLA trouble, newest
// activity first: blocked jobs plus jobs placed with recorded violations.
func (s *JobService) SLAEvents(ctx context.Context, limit int) ([]SLAEvent, error) {
	jobs, err := s.jobs.ListSLAAffected(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list sla affected jobs: %w", err)
	}
	out := make([]SLAEvent, 0, len(jobs))
	for _, job := range jobs {
		violations := job.SLAViolations
		if violations == nil {
			violations = []string{}
		}
		out = append(out, SLAEvent{
			JobID:              job.ID,
			Status:             job.Status,
			ChosenResourceID:   job.ChosenResourceID,
			ChosenResourceType: job.ChosenResourceType,
			PredictedLatencyMS: job.PredictedLatencyMS,
			PredictedCostUSD:   job.PredictedCostUSD,
			Violations:         violations,
			UpdatedAt:          job.UpdatedAt,
		})
	}
	return out, nil
}

// Stats returns job counts per lifecycle status and refreshes the gauges.
func (s *JobService) Stats(ctx context.Context) (*model.JobStats, error) {
	stats, err := s.jobs.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	if s.metrics != nil {
		s.metrics.SetJobStats(
			stats.Queued, stats.Running, stats.Completed,
			stats.Failed, stats.Blocked, stats.Cancelled,
		)
	}
	return stats, nil
}

// ModelMetrics summarizes prediction accuracy over completed jobs.
type ModelMetrics struct {
	Samples        int     `json:"samples"`
	LatencyMAEMS   float64 `json:"latency_mae_ms"`
	CostMAEUSD     float64 `json:"cost_mae_usd"`
	LatencyBiasMS  float64 `json:"latency_bias_ms"`
	CostBiasUSD    float64 `json:"cost_bias_usd"`
	SampleLimitHit bool    `json:"sample_limit_hit"`
}

// PredictionMetrics computes mean absolute error and signed bias of the
// latency and cost predictors over recent completed jobs.
func (s *JobService) PredictionMetrics(ctx context.Context, limit int) (*ModelMetrics, error) {
	if limit <= 0 {
		limit = 1000
	}
	samples, err := s.jobs.ListPredictionSamples(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list prediction samples: %w", err)
	}

	out := &ModelMetrics{
		Samples:        len(samples),
		SampleLimitHit: len(samples) == limit,
	}
	if len(samples) == 0 {
		return out, nil
	}

	var latAbs, costAbs, latSigned, costSigned float64
	for _, sample := range samples {
		latErr := sample.PredictedLatencyMS - sample.ActualLatencyMS
		costErr := sample.PredictedCostUSD - sample.ActualCostUSD
		latAbs += math.Abs(latErr)
		costAbs += math.Abs(costErr)
		latSigned += latErr
		costSigned += costErr
	}
	n := float64(len(samples))
	out.LatencyMAEMS = latAbs / n
	out.CostMAEUSD = costAbs / n
	out.LatencyBiasMS = latSigned / n
	out.CostBiasUSD = costSigned / n
	return out, nil
}

func (s *JobService) observeDecision(decision *model.RouteDecision, took time.Duration) {
	if s.metrics == nil || decision == nil {
		return
	}
	s.metrics.RoutingDurationSecs.Observe(took.Seconds())

	verdict := "fallback"
	if score := decision.ChosenScore(); score != nil && score.SLAOK {
		verdict = "sla_ok"
	} else if !decision.Resolved() {
		verdict = "blocked"
	}
	s.metrics.RouteDecisionsTotal.WithLabelValues(string(decision.ChosenResourceType), verdict).Inc()
}
