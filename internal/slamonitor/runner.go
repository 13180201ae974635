// Package slamonitor watches queued and running jobs against their SLA
// deadlines, flagging at-risk jobs before dispatch and recording breaches.
package slamonitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/edgeplane/dispatchd/config"
	"github.com/edgeplane/dispatchd/internal/core"
	"github.com/edgeplane/dispatchd/internal/data"
	"github.com/edgeplane/dispatchd/internal/domain/model"
	"github.com/edgeplane/dispatchd/internal/observability/metrics"
)

// RunnerOptions groups dependencies for Runner.
type RunnerOptions struct {
	Config  config.SLAMonitorConfig
	Jobs    core.JobRepository   // Required
	Events  core.EventRepository // Required
	Router  core.Router          // Required: proactive reroute of at-risk jobs
	Logger  *slog.Logger         // Optional
	Metrics *metrics.Metrics     // Optional
	Time    data.TimeProvider    // Optional: defaults to real time
}

// Runner periodically scans deadline-bearing jobs. A queued job whose
// remaining margin dropped below the configured buffer is flagged and, when
// enabled, rerouted to the currently fastest acceptable resource. Jobs whose
// deadline already passed get a breach event.
type Runner struct {
	cfg     config.SLAMonitorConfig
	jobs    core.JobRepository
	events  core.EventRepository
	router  core.Router
	logger  *slog.Logger
	metrics *metrics.Metrics
	time    data.TimeProvider

	// Dedup state so one job does not produce a risk or breach event on
	// every scan pass. Scoped to this process; duplicates after a restart
	// are acceptable.
	warned   map[string]struct{}
	breached map[string]struct{}
}

// NewRunner constructs a new Runner.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	switch {
	case opts.Jobs == nil:
		return nil, errors.New("JobRepository is required")
	case opts.Events == nil:
		return nil, errors.New("EventRepository is required")
	case opts.Router == nil:
		return nil, errors.New("Router is required")
	}

	cfg := opts.Config
	cfg.Sanitize()

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tp := opts.Time
	if tp == nil {
		tp = &data.RealTimeProvider{}
	}

	return &Runner{
		cfg:      cfg,
		jobs:     opts.Jobs,
		events:   opts.Events,
		router:   opts.Router,
		logger:   logger.With("component", "sla_monitor"),
		metrics:  opts.Metrics,
		time:     tp,
		warned:   make(map[string]struct{}),
		breached: make(map[string]struct{}),
	}, nil
}

// Run scans on the poll interval until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "sla monitor starting",
		"poll_interval", r.cfg.PollInterval,
		"queue_margin", r.cfg.QueueMargin,
		"reroute_on_risk", r.cfg.RerouteOnRisk,
	)

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("sla monitor stopped")
			return nil
		case <-ticker.C:
			if err := r.Scan(ctx); err != nil {
				r.logger.ErrorContext(ctx, "scan failed", "error", err)
			}
		}
	}
}

// Scan runs one pass over deadline-bearing queued and running jobs.
func (r *Runner) Scan(ctx context.Context) error {
	jobs, err := r.jobs.ListDeadlineCandidates(ctx, r.cfg.ScanLimit)
	if err != nil {
		return fmt.Errorf("list deadline candidates: %w", err)
	}

	now := r.time.Now()
	for _, job := range jobs {
		r.checkJob(ctx, job, now)
	}
	r.compactState(jobs)
	return nil
}

func (r *Runner) checkJob(ctx context.Context, job *model.Job, now time.Time) {
	deadlineAt := job.DeadlineAt()
	if deadlineAt == nil {
		return
	}
	remaining := deadlineAt.Sub(now)

	if remaining < 0 {
		r.recordBreach(ctx, job, remaining)
		return
	}
	if job.Status == model.JobStatusQueued && remaining <= r.cfg.QueueMargin {
		r.recordRisk(ctx, job, remaining)
	}
}

func (r *Runner) recordBreach(ctx context.Context, job *model.Job, remaining time.Duration) {
	if _, seen := r.breached[job.ID]; seen {
		return
	}
	r.breached[job.ID] = struct{}{}

	r.appendEvent(ctx, job.ID, model.EventSLABreachDeadline,
		fmt.Sprintf("deadline exceeded by %s while %s", (-remaining).Round(time.Millisecond), job.Status))
	if r.metrics != nil {
		r.metrics.SLABreachesTotal.Inc()
	}
	r.logger.WarnContext(ctx, "sla deadline breached",
		"job_id", job.ID,
		"status", job.Status,
		"overdue", -remaining,
	)
}

func (r *Runner) recordRisk(ctx context.Context, job *model.Job, remaining time.Duration) {
	if _, seen := r.warned[job.ID]; seen {
		return
	}
	r.warned[job.ID] = struct{}{}

	r.appendEvent(ctx, job.ID, model.EventDeadlineRisk,
		fmt.Sprintf("only %s left before deadline while queued", remaining.Round(time.Millisecond)))
	if r.metrics != nil {
		r.metrics.DeadlineRisksTotal.Inc()
	}
	r.logger.WarnContext(ctx, "job at deadline risk",
		"job_id", job.ID,
		"remaining", remaining,
	)

	if r.cfg.RerouteOnRisk {
		r.reroute(ctx, job)
	}
}

// reroute moves an at-risk queued job away from its current resource when a
// better placement exists right now.
func (r *Runner) reroute(ctx context.Context, job *model.Job) {
	req, err := job.ParsedRequest()
	if err != nil {
		r.appendEvent(ctx, job.ID, model.EventDeadlineRerouteError, "stored request unreadable: "+err.Error())
		r.countReroute(metrics.OutcomeError)
		return
	}

	fromResource := job.CurrentResourceID()
	rerouted := *req
	rerouted.Hints = req.Hints.WithExcluded(fromResource)

	decision, err := r.router.Route(ctx, &rerouted)
	if err != nil {
		r.appendEvent(ctx, job.ID, model.EventDeadlineRerouteError, "reroute error: "+err.Error())
		r.countReroute(metrics.OutcomeError)
		return
	}
	if !decision.Resolved() || decision.ChosenResourceID == fromResource {
		r.appendEvent(ctx, job.ID, model.EventDeadlineRerouteFailed,
			"no better resource available, staying on "+fromResource)
		r.countReroute(metrics.OutcomeError)
		return
	}

	snapshot, err := rerouted.Snapshot()
	if err != nil {
		r.appendEvent(ctx, job.ID, model.EventDeadlineRerouteError, "reroute snapshot: "+err.Error())
		r.countReroute(metrics.OutcomeError)
		return
	}

	applied, err := r.jobs.ApplyRoute(ctx, core.ApplyRouteParams{
		JobID:    job.ID,
		Decision: decision,
		Request:  snapshot,
	})
	if err != nil {
		r.appendEvent(ctx, job.ID, model.EventDeadlineRerouteError, "apply reroute: "+err.Error())
		r.countReroute(metrics.OutcomeError)
		return
	}
	if !applied {
		r.appendEvent(ctx, job.ID, model.EventDeadlineRerouteFailed, "job no longer reroutable")
		r.countReroute(metrics.OutcomeError)
		return
	}

	r.appendEvent(ctx, job.ID, model.EventDeadlineRerouted,
		fmt.Sprintf("rerouted %s -> %s (%s) to protect deadline",
			fromResource, decision.ChosenResourceID, decision.ChosenResourceType))
	r.countReroute(metrics.OutcomeSuccess)
	r.logger.InfoContext(ctx, "at-risk job rerouted",
		"job_id", job.ID,
		"from", fromResource,
		"to", decision.ChosenResourceID,
	)
}

// compactState drops dedup entries for jobs that left the candidate set so
// the maps do not grow with total job history.
func (r *Runner) compactState(jobs []*model.Job) {
	active := make(map[string]struct{}, len(jobs))
	for _, job := range jobs {
		active[job.ID] = struct{}{}
	}
	for id := range r.warned {
		if _, ok := active[id]; !ok {
			delete(r.warned, id)
		}
	}
	for id := range r.breached {
		if _, ok := active[id]; !ok {
			delete(r.breached, id)
		}
	}
}

func (r *Runner) appendEvent(ctx context.Context, jobID string, kind model.EventKind, message string) {
	if err := r.events.Append(ctx, jobID, kind, message); err != nil {
		r.logger.WarnContext(ctx, "append event failed", "job_id", jobID, "event", kind, "error", err)
	}
}

func (r *Runner) countReroute(outcome string) {
	if r.metrics == nil {
		return
	}
	r.metrics.JobsReroutedTotal.WithLabelValues("deadline", outcome).Inc()
}
