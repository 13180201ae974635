// Package worker implements the dispatch loop: claim a queued job, execute
// it on its routed resource, and record the outcome with retry, backoff, and
// reroute on failure.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/edgeplane/dispatchd/config"
	"github.com/edgeplane/dispatchd/internal/core"
	"github.com/edgeplane/dispatchd/internal/data"
	"github.com/edgeplane/dispatchd/internal/dispatch"
	"github.com/edgeplane/dispatchd/internal/domain/model"
	"github.com/edgeplane/dispatchd/internal/observability/metrics"
	"github.com/edgeplane/dispatchd/internal/scoring"
)

const maxBackoff = 60 * time.Second

// RunnerOptions groups dependencies for Runner.
type RunnerOptions struct {
	Config     config.WorkerConfig
	Jobs       core.JobRepository       // Required
	Attempts   core.AttemptRepository   // Required
	Events     core.EventRepository     // Required
	Telemetry  core.TelemetryRepository // Required: feature capture
	Router     core.Router              // Required: reroute on retry
	Dispatcher core.Dispatcher          // Required: job execution
	Logger     *slog.Logger             // Optional
	Metrics    *metrics.Metrics         // Optional
	Time       data.TimeProvider        // Optional: defaults to real time
}

// Runner polls the queue and executes claimed jobs. Each of the configured
// worker goroutines has at most one job in flight.
type Runner struct {
	cfg        config.WorkerConfig
	jobs       core.JobRepository
	attempts   core.AttemptRepository
	events     core.EventRepository
	telemetry  core.TelemetryRepository
	router     core.Router
	dispatcher core.Dispatcher
	logger     *slog.Logger
	metrics    *metrics.Metrics
	time       data.TimeProvider
}

// NewRunner constructs a new Runner.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	switch {
	case opts.Jobs == nil:
		return nil, errors.New("JobRepository is required")
	case opts.Attempts == nil:
		return nil, errors.New("AttemptRepository is required")
	case opts.Events == nil:
		return nil, errors.New("EventRepository is required")
	case opts.Telemetry == nil:
		return nil, errors.New("TelemetryRepository is required")
	case opts.Router == nil:
		return nil, errors.New("Router is required")
	case opts.Dispatcher == nil:
		return nil, errors.New("Dispatcher is required")
	}

	cfg := opts.Config
	cfg.Sanitize()
	if cfg.ID == "" {
		cfg.ID = "worker-" + uuid.NewString()[:8]
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tp := opts.Time
	if tp == nil {
		tp = &data.RealTimeProvider{}
	}

	return &Runner{
		cfg:        cfg,
		jobs:       opts.Jobs,
		attempts:   opts.Attempts,
		events:     opts.Events,
		telemetry:  opts.Telemetry,
		router:     opts.Router,
		dispatcher: opts.Dispatcher,
		logger:     logger.With("component", "worker", "worker_id", cfg.ID),
		metrics:    opts.Metrics,
		time:       tp,
	}, nil
}

// Run starts the worker goroutines and blocks until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "worker runner starting",
		"concurrency", r.cfg.Concurrency,
		"poll_interval", r.cfg.PollInterval,
		"reroute_on_retry", r.cfg.RerouteOnRetry,
	)

	group, ctx := errgroup.WithContext(ctx)
	for i := 0; i < r.cfg.Concurrency; i++ {
		claimant := fmt.Sprintf("%s-%d", r.cfg.ID, i)
		group.Go(func() error {
			return r.workerLoop(ctx, claimant)
		})
	}
	err := group.Wait()
	r.logger.Info("worker runner stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (r *Runner) workerLoop(ctx context.Context, claimant string) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		job, err := r.jobs.ClaimNext(ctx, claimant)
		switch {
		case errors.Is(err, model.ErrNoJobsAvailable):
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.cfg.PollInterval):
			}
			continue
		case err != nil:
			r.logger.ErrorContext(ctx, "claim failed", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.cfg.PollInterval):
			}
			continue
		}

		r.processJob(ctx, job)
	}
}

// processJob runs one claimed job end to end. Errors are recorded on the job
// and its attempt; they never abort the loop.
func (r *Runner) processJob(ctx context.Context, job *model.Job) {
	logger := r.logger.With("job_id", job.ID, "attempt", job.Attempts)

	// The denormalized row carries everything dispatch needs, so an
	// unreadable snapshot degrades the attempt (no features, no reroute)
	// instead of failing the job.
	req, err := job.ParsedRequest()
	if err != nil {
		logger.WarnContext(ctx, "stored request unreadable, dispatching without it", "error", err)
		req = nil
	}

	attempt, err := r.attempts.Open(ctx, openAttemptParams(job))
	if err != nil {
		logger.ErrorContext(ctx, "open attempt failed", "error", err)
	}

	r.appendEvent(ctx, job.ID, model.EventRunning,
		fmt.Sprintf("attempt %d/%d on %s", job.Attempts, job.MaxAttempts, job.CurrentResourceID()))

	r.captureFeatures(ctx, job, req, attempt)

	started := r.time.Now()
	result, dispatchErr := r.dispatch(ctx, job, req)
	elapsed := r.time.Now().Sub(started)
	r.observeDispatch(job, elapsed)

	if dispatchErr != nil {
		r.handleFailure(ctx, job, req, attempt, dispatchErr)
		return
	}
	r.handleSuccess(ctx, job, attempt, result, logger)
}

func (r *Runner) dispatch(ctx context.Context, job *model.Job, req *model.JobRequest) (*model.CompletionResult, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.DispatchTimeout)
	defer cancel()
	return r.dispatcher.Dispatch(ctx, job, req)
}

func (r *Runner) handleSuccess(ctx context.Context, job *model.Job, attempt *model.JobAttempt, result *model.CompletionResult, logger *slog.Logger) {
	if attempt != nil {
		if err := r.attempts.FinishSuccess(ctx, attempt.ID, result); err != nil {
			logger.WarnContext(ctx, "finish attempt failed", "error", err)
		}
	}

	completed, err := r.jobs.Complete(ctx, job.ID, result)
	if err != nil {
		logger.ErrorContext(ctx, "complete job failed", "error", err)
		return
	}
	if !completed {
		// The job left RUNNING while we executed, almost always a cancel.
		// The work is done but the result is discarded.
		r.appendEvent(ctx, job.ID, model.EventSkipped, "job no longer running, result discarded")
		logger.InfoContext(ctx, "job result discarded", "reason", "not running")
		return
	}

	r.appendEvent(ctx, job.ID, model.EventCompleted,
		fmt.Sprintf("actual_latency_ms=%.1f actual_cost_usd=%.6f", result.ActualLatencyMS, result.ActualCostUSD))
	r.observeCompletion(job, result)
	logger.InfoContext(ctx, "job completed",
		"actual_latency_ms", result.ActualLatencyMS,
		"actual_cost_usd", result.ActualCostUSD,
	)
}

func (r *Runner) handleFailure(ctx context.Context, job *model.Job, req *model.JobRequest, attempt *model.JobAttempt, dispatchErr error) {
	logger := r.logger.With("job_id", job.ID, "attempt", job.Attempts)
	class := dispatch.FailureClass(dispatchErr)

	if attempt != nil {
		failure := model.AttemptFailure{
			Class:   class,
			Message: dispatchErr.Error(),
		}
		if err := r.attempts.FinishFailure(ctx, attempt.ID, failure); err != nil {
			logger.WarnContext(ctx, "record attempt failure failed", "error", err)
		}
	}

	maxAttempts := job.MaxAttempts
	if job.Attempts >= maxAttempts {
		failed, err := r.jobs.FailTerminal(ctx, job.ID)
		if err != nil {
			logger.ErrorContext(ctx, "fail terminal failed", "error", err)
			return
		}
		if !failed {
			r.appendEvent(ctx, job.ID, model.EventSkipped, "job no longer running, failure discarded")
			return
		}
		r.appendEvent(ctx, job.ID, model.EventFailed,
			fmt.Sprintf("attempt %d/%d failed (%s): %s", job.Attempts, maxAttempts, class, dispatchErr.Error()))
		if r.metrics != nil {
			r.metrics.JobsCompletedTotal.WithLabelValues(string(job.Type), metrics.OutcomeError).Inc()
		}
		logger.WarnContext(ctx, "job failed terminally", "class", class, "error", dispatchErr)
		return
	}

	if r.cfg.RerouteOnRetry {
		if req != nil {
			r.rerouteForRetry(ctx, job, req, attempt)
		} else {
			r.appendEvent(ctx, job.ID, model.EventRerouteFailed,
				"stored request unreadable, retrying on "+job.CurrentResourceID())
		}
	}

	backoff := retryBackoff(job.Attempts)
	nextRunAt := r.time.Now().Add(backoff)
	requeued, err := r.jobs.RequeueWithBackoff(ctx, job.ID, nextRunAt)
	if err != nil {
		logger.ErrorContext(ctx, "requeue failed", "error", err)
		return
	}
	if !requeued {
		r.appendEvent(ctx, job.ID, model.EventSkipped, "job no longer running, retry discarded")
		return
	}

	r.appendEvent(ctx, job.ID, model.EventRetry,
		fmt.Sprintf("attempt %d/%d failed (%s), retrying in %s: %s",
			job.Attempts, maxAttempts, class, backoff, dispatchErr.Error()))
	if r.metrics != nil {
		r.metrics.JobsRetriedTotal.Inc()
	}
	logger.InfoContext(ctx, "job requeued",
		"class", class,
		"backoff", backoff,
		"next_run_at", nextRunAt,
	)
}

// rerouteForRetry routes the job away from the resource that just failed it.
// The failed resource joins the request's exclusion list, and the updated
// snapshot is persisted so later retries keep honoring it.
func (r *Runner) rerouteForRetry(ctx context.Context, job *model.Job, req *model.JobRequest, attempt *model.JobAttempt) {
	fromResource := job.CurrentResourceID()

	rerouted := *req
	rerouted.Hints = req.Hints.WithExcluded(fromResource)

	decision, err := r.router.Route(ctx, &rerouted)
	if err != nil {
		r.appendEvent(ctx, job.ID, model.EventRerouteError, "reroute error: "+err.Error())
		r.countReroute("retry", metrics.OutcomeError)
		return
	}
	if !decision.Resolved() || decision.ChosenResourceID == fromResource {
		r.appendEvent(ctx, job.ID, model.EventRerouteFailed,
			"no alternative resource available, retrying on "+fromResource)
		r.countReroute("retry", metrics.OutcomeError)
		return
	}

	snapshot, err := rerouted.Snapshot()
	if err != nil {
		r.appendEvent(ctx, job.ID, model.EventRerouteError, "reroute snapshot: "+err.Error())
		r.countReroute("retry", metrics.OutcomeError)
		return
	}

	applied, err := r.jobs.ApplyRoute(ctx, core.ApplyRouteParams{
		JobID:    job.ID,
		Decision: decision,
		Request:  snapshot,
	})
	if err != nil {
		r.appendEvent(ctx, job.ID, model.EventRerouteError, "apply reroute: "+err.Error())
		r.countReroute("retry", metrics.OutcomeError)
		return
	}
	if !applied {
		r.appendEvent(ctx, job.ID, model.EventRerouteFailed, "job no longer reroutable")
		r.countReroute("retry", metrics.OutcomeError)
		return
	}

	if attempt != nil {
		if err := r.attempts.MarkReroute(ctx, attempt.ID, fromResource, decision.ChosenResourceID); err != nil {
			r.logger.WarnContext(ctx, "mark reroute failed", "job_id", job.ID, "error", err)
		}
	}
	r.appendEvent(ctx, job.ID, model.EventRerouted,
		fmt.Sprintf("rerouted %s -> %s (%s)", fromResource, decision.ChosenResourceID, decision.ChosenResourceType))
	r.countReroute("retry", metrics.OutcomeSuccess)

	// Keep the in-memory row consistent for the retry event message.
	job.ChosenResourceID = &decision.ChosenResourceID
	chosenType := decision.ChosenResourceType
	job.ChosenResourceType = &chosenType
}

// captureFeatures snapshots the feature vector the dispatch ran against onto
// the job and its attempt; predictors train on these later. Failures degrade
// to an event, never to a dispatch abort.
func (r *Runner) captureFeatures(ctx context.Context, job *model.Job, req *model.JobRequest, attempt *model.JobAttempt) {
	if req == nil {
		r.appendEvent(ctx, job.ID, model.EventFeaturesSkipped, "stored request unreadable")
		return
	}
	resourceID := job.CurrentResourceID()
	if resourceID == "" {
		r.appendEvent(ctx, job.ID, model.EventFeaturesSkipped, "no routed resource")
		return
	}

	point, err := r.telemetry.LatestByResource(ctx, resourceID)
	if err != nil {
		r.appendEvent(ctx, job.ID, model.EventFeaturesSkipped, "telemetry unavailable for "+resourceID)
		return
	}

	features := scoring.BuildFeatures(point, req)
	raw, err := json.Marshal(features)
	if err != nil {
		r.appendEvent(ctx, job.ID, model.EventFeaturesSkipped, "encode features: "+err.Error())
		return
	}

	if _, err := r.jobs.SetFeatures(ctx, job.ID, raw); err != nil {
		r.appendEvent(ctx, job.ID, model.EventFeaturesSkipped, "persist features: "+err.Error())
		return
	}
	if attempt != nil {
		if err := r.attempts.SetFeatures(ctx, attempt.ID, raw); err != nil {
			r.logger.WarnContext(ctx, "persist attempt features failed", "job_id", job.ID, "error", err)
		}
	}
	r.appendEvent(ctx, job.ID, model.EventFeaturesCaptured, "features captured from "+resourceID)
}

func (r *Runner) appendEvent(ctx context.Context, jobID string, kind model.EventKind, message string) {
	if err := r.events.Append(ctx, jobID, kind, message); err != nil {
		r.logger.WarnContext(ctx, "append event failed", "job_id", jobID, "event", kind, "error", err)
	}
}

func (r *Runner) observeDispatch(job *model.Job, elapsed time.Duration) {
	if r.metrics == nil {
		return
	}
	resourceType := "unknown"
	if job.ChosenResourceType != nil {
		resourceType = string(*job.ChosenResourceType)
	}
	r.metrics.DispatchDurationSecs.WithLabelValues(resourceType).Observe(elapsed.Seconds())
}

func (r *Runner) observeCompletion(job *model.Job, result *model.CompletionResult) {
	if r.metrics == nil {
		return
	}
	r.metrics.JobsCompletedTotal.WithLabelValues(string(job.Type), metrics.OutcomeSuccess).Inc()
	if job.PredictedLatencyMS != nil {
		r.metrics.PredictionErrorAbsMS.Observe(math.Abs(*job.PredictedLatencyMS - result.ActualLatencyMS))
	}
	if job.PredictedCostUSD != nil {
		r.metrics.PredictionErrorAbsUSD.Observe(math.Abs(*job.PredictedCostUSD - result.ActualCostUSD))
	}
}

func (r *Runner) countReroute(trigger, outcome string) {
	if r.metrics == nil {
		return
	}
	r.metrics.JobsReroutedTotal.WithLabelValues(trigger, outcome).Inc()
}

// openAttemptParams maps a freshly claimed job to its attempt record.
func openAttemptParams(job *model.Job) core.OpenAttemptParams {
	return core.OpenAttemptParams{
		JobID:              job.ID,
		AttemptNo:          job.Attempts,
		ResourceID:         job.ChosenResourceID,
		ResourceType:       job.ChosenResourceType,
		PredictedLatencyMS: job.PredictedLatencyMS,
		PredictedCostUSD:   job.PredictedCostUSD,
		FinalScore:         job.FinalScore,
		SLAOK:              job.SLAOK,
		SLAViolations:      job.SLAViolations,
	}
}

// retryBackoff doubles per attempt, starting at 2s and capping at a minute.
func retryBackoff(attempts int) time.Duration {
	exp := attempts
	if exp < 1 {
		exp = 1
	}
	seconds := math.Min(maxBackoff.Seconds(), math.Pow(2, float64(exp)))
	return time.Duration(seconds * float64(time.Second))
}
