package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/edgeplane/dispatchd/internal/core"
	"github.com/edgeplane/dispatchd/internal/data"
	"github.com/edgeplane/dispatchd/internal/domain/model"
)

// FakeJobRepo is an in-memory core.JobRepository mirroring the conditional
// transition semantics of the Postgres repository. Safe for concurrent use.
type FakeJobRepo struct {
	mu    sync.Mutex
	jobs  map[string]*model.Job
	order []string
	clock data.TimeProvider

	// Error overrides injected per method; nil means normal behavior.
	CreateErr    error
	ClaimNextErr error
	CompleteErr  error
}

// NewFakeJobRepo creates an empty fake job store.
func NewFakeJobRepo(clock data.TimeProvider) *FakeJobRepo {
	if clock == nil {
		clock = &data.RealTimeProvider{}
	}
	return &FakeJobRepo{jobs: make(map[string]*model.Job), clock: clock}
}

// Put seeds a job directly, bypassing Create.
func (f *FakeJobRepo) Put(job *model.Job) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *job
	f.jobs[job.ID] = &cp
	f.order = append(f.order, job.ID)
}

// Snapshot returns a copy of the stored job, or nil.
func (f *FakeJobRepo) Snapshot(jobID string) *model.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok {
		return nil
	}
	cp := *job
	return &cp
}

func (f *FakeJobRepo) Create(_ context.Context, p core.CreateJobParams) (*model.Job, error) {
	if f.CreateErr != nil {
		return nil, f.CreateErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.jobs[p.Req.JobID]; exists {
		return nil, fmt.Errorf("duplicate job id %q", p.Req.JobID)
	}

	now := f.clock.Now().UTC()
	job := &model.Job{
		ID:                p.Req.JobID,
		Type:              p.Req.Type,
		Urgency:           p.Req.Urgency,
		PayloadSizeMB:     p.Req.PayloadSizeMB,
		RequiresGPU:       p.Req.RequiresGPU,
		AllowSLAFallback:  p.Req.FallbackAllowed(),
		SLADeadlineMS:     p.Req.SLA.DeadlineMS,
		SLAMaxCostUSD:     p.Req.SLA.MaxCostUSD,
		SLAMinReliability: p.Req.SLA.MinReliability,
		Request:           p.Snapshot,
		Status:            p.Status,
		MaxAttempts:       p.Req.EffectiveMaxAttempts(),
		SLAViolations:     []string{},
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	applyDecision(job, p.Decision)

	f.jobs[job.ID] = job
	f.order = append(f.order, job.ID)
	cp := *job
	return &cp, nil
}

func applyDecision(job *model.Job, d *model.RouteDecision) {
	if d == nil || !d.Resolved() {
		return
	}
	id := d.ChosenResourceID
	rt := d.ChosenResourceType
	job.ChosenResourceID = &id
	job.ChosenResourceType = &rt
	if s := d.ChosenScore(); s != nil {
		lat, cost, score := s.LatencyPredMS, s.CostPredUSD, s.FinalScore
		job.PredictedLatencyMS = &lat
		job.PredictedCostUSD = &cost
		job.FinalScore = &score
		job.SLAOK = s.SLAOK
		if s.SLAViolations != nil {
			job.SLAViolations = s.SLAViolations
		}
	}
}

func (f *FakeJobRepo) GetByID(_ context.Context, jobID string) (*model.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok {
		return nil, data.ErrJobNotFound
	}
	cp := *job
	return &cp, nil
}

func (f *FakeJobRepo) ClaimNext(_ context.Context, workerID string) (*model.Job, error) {
	if f.ClaimNextErr != nil {
		return nil, f.ClaimNextErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.clock.Now().UTC()
	for _, id := range f.order {
		job := f.jobs[id]
		if job.Status != model.JobStatusQueued {
			continue
		}
		if job.NextRunAt != nil && job.NextRunAt.After(now) {
			continue
		}
		job.Status = model.JobStatusRunning
		job.Attempts++
		job.WorkerID = &workerID
		job.NextRunAt = nil
		job.UpdatedAt = now
		cp := *job
		return &cp, nil
	}
	return nil, model.ErrNoJobsAvailable
}

func (f *FakeJobRepo) Complete(_ context.Context, jobID string, result *model.CompletionResult) (bool, error) {
	if f.CompleteErr != nil {
		return false, f.CompleteErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	job, ok := f.jobs[jobID]
	if !ok || job.Status.Terminal() {
		return false, nil
	}
	job.Status = model.JobStatusCompleted
	job.ActualLatencyMS = &result.ActualLatencyMS
	job.ActualCostUSD = &result.ActualCostUSD
	job.OutputRef = result.OutputRef
	job.WorkerID = nil
	job.NextRunAt = nil
	job.UpdatedAt = f.clock.Now().UTC()
	return true, nil
}

func (f *FakeJobRepo) FailTerminal(_ context.Context, jobID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	job, ok := f.jobs[jobID]
	if !ok || job.Status != model.JobStatusRunning {
		return false, nil
	}
	job.Status = model.JobStatusFailed
	job.WorkerID = nil
	job.NextRunAt = nil
	job.UpdatedAt = f.clock.Now().UTC()
	return true, nil
}

func (f *FakeJobRepo) RequeueWithBackoff(_ context.Context, jobID string, nextRunAt time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	job, ok := f.jobs[jobID]
	if !ok || job.Status != model.JobStatusRunning {
		return false, nil
	}
	t := nextRunAt.UTC()
	job.Status = model.JobStatusQueued
	job.WorkerID = nil
	job.NextRunAt = &t
	job.UpdatedAt = f.clock.Now().UTC()
	return true, nil
}

func (f *FakeJobRepo) Cancel(_ context.Context, jobID string) (*model.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	job, ok := f.jobs[jobID]
	if !ok {
		return nil, data.ErrJobNotFound
	}
	if job.Status.Terminal() {
		return nil, data.ErrJobNotCancellable
	}
	job.Status = model.JobStatusCancelled
	job.WorkerID = nil
	job.NextRunAt = nil
	job.UpdatedAt = f.clock.Now().UTC()
	cp := *job
	return &cp, nil
}

func (f *FakeJobRepo) ApplyRoute(_ context.Context, p core.ApplyRouteParams) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	job, ok := f.jobs[p.JobID]
	if !ok || job.Status.Terminal() {
		return false, nil
	}
	job.ChosenResourceID = nil
	job.ChosenResourceType = nil
	job.PredictedLatencyMS = nil
	job.PredictedCostUSD = nil
	job.FinalScore = nil
	job.SLAOK = false
	job.SLAViolations = []string{}
	applyDecision(job, p.Decision)
	if len(p.Request) > 0 {
		job.Request = p.Request
	}
	if p.Status != "" {
		job.Status = p.Status
	}
	job.UpdatedAt = f.clock.Now().UTC()
	return true, nil
}

func (f *FakeJobRepo) SetFeatures(_ context.Context, jobID string, features json.RawMessage) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	job, ok := f.jobs[jobID]
	if !ok {
		return false, nil
	}
	job.Features = features
	job.UpdatedAt = f.clock.Now().UTC()
	return true, nil
}

func (f *FakeJobRepo) List(_ context.Context, opts core.ListJobsOptions) ([]*model.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*model.Job
	for _, id := range f.order {
		job := f.jobs[id]
		if opts.Status != nil && job.Status != *opts.Status {
			continue
		}
		if opts.Type != nil && job.Type != *opts.Type {
			continue
		}
		cp := *job
		out = append(out, &cp)
	}
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (f *FakeJobRepo) ListDeadlineCandidates(_ context.Context, limit int) ([]*model.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*model.Job
	for _, id := range f.order {
		job := f.jobs[id]
		if job.Status != model.JobStatusQueued && job.Status != model.JobStatusRunning {
			continue
		}
		if job.SLADeadlineMS == nil {
			continue
		}
		cp := *job
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *FakeJobRepo) ListSLAAffected(_ context.Context, limit int) ([]*model.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*model.Job
	for _, id := range f.order {
		job := f.jobs[id]
		troubled := job.Status == model.JobStatusBlocked ||
			(!job.SLAOK && len(job.SLAViolations) > 0)
		if !troubled {
			continue
		}
		cp := *job
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *FakeJobRepo) ListPredictionSamples(_ context.Context, limit int) ([]core.PredictionSample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []core.PredictionSample
	for _, id := range f.order {
		job := f.jobs[id]
		if job.Status != model.JobStatusCompleted {
			continue
		}
		if job.PredictedLatencyMS == nil || job.ActualLatencyMS == nil {
			continue
		}
		s := core.PredictionSample{
			JobID:              job.ID,
			PredictedLatencyMS: *job.PredictedLatencyMS,
			ActualLatencyMS:    *job.ActualLatencyMS,
		}
		if job.PredictedCostUSD != nil {
			s.PredictedCostUSD = *job.PredictedCostUSD
		}
		if job.ActualCostUSD != nil {
			s.ActualCostUSD = *job.ActualCostUSD
		}
		out = append(out, s)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *FakeJobRepo) Stats(_ context.Context) (*model.JobStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	stats := &model.JobStats{}
	for _, job := range f.jobs {
		switch job.Status {
		case model.JobStatusQueued:
			stats.Queued++
		case model.JobStatusRunning:
			stats.Running++
		case model.JobStatusCompleted:
			stats.Completed++
		case model.JobStatusFailed:
			stats.Failed++
		case model.JobStatusBlocked:
			stats.Blocked++
		case model.JobStatusCancelled:
			stats.Cancelled++
		}
	}
	return stats, nil
}

// FakeAttemptRepo is an in-memory core.AttemptRepository.
type FakeAttemptRepo struct {
	mu       sync.Mutex
	attempts map[string]*model.JobAttempt
	order    []string

	OpenErr error
}

// NewFakeAttemptRepo creates an empty fake attempt store.
func NewFakeAttemptRepo() *FakeAttemptRepo {
	return &FakeAttemptRepo{attempts: make(map[string]*model.JobAttempt)}
}

func (f *FakeAttemptRepo) Open(_ context.Context, p core.OpenAttemptParams) (*model.JobAttempt, error) {
	if f.OpenErr != nil {
		return nil, f.OpenErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	attempt := &model.JobAttempt{
		ID:                 uuid.NewString(),
		JobID:              p.JobID,
		AttemptNo:          p.AttemptNo,
		ResourceID:         p.ResourceID,
		ResourceType:       p.ResourceType,
		StartedAt:          time.Now().UTC(),
		Status:             model.AttemptStatusRunning,
		PredictedLatencyMS: p.PredictedLatencyMS,
		PredictedCostUSD:   p.PredictedCostUSD,
		FinalScore:         p.FinalScore,
		SLAOK:              p.SLAOK,
		SLAViolations:      p.SLAViolations,
	}
	f.attempts[attempt.ID] = attempt
	f.order = append(f.order, attempt.ID)
	cp := *attempt
	return &cp, nil
}

func (f *FakeAttemptRepo) SetFeatures(_ context.Context, attemptID string, features json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	attempt, ok := f.attempts[attemptID]
	if !ok {
		return data.ErrAttemptNotFound
	}
	attempt.Features = features
	return nil
}

func (f *FakeAttemptRepo) MarkReroute(_ context.Context, attemptID, fromResourceID, toResourceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	attempt, ok := f.attempts[attemptID]
	if !ok {
		return data.ErrAttemptNotFound
	}
	attempt.ReroutedFromResourceID = &fromResourceID
	attempt.ReroutedToResourceID = &toResourceID
	return nil
}

func (f *FakeAttemptRepo) FinishSuccess(_ context.Context, attemptID string, result *model.CompletionResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	attempt, ok := f.attempts[attemptID]
	if !ok {
		return data.ErrAttemptNotFound
	}
	now := time.Now().UTC()
	attempt.Status = model.AttemptStatusCompleted
	attempt.FinishedAt = &now
	attempt.ActualLatencyMS = &result.ActualLatencyMS
	attempt.ActualCostUSD = &result.ActualCostUSD
	attempt.OutputRef = result.OutputRef
	return nil
}

func (f *FakeAttemptRepo) FinishFailure(_ context.Context, attemptID string, failure model.AttemptFailure) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	attempt, ok := f.attempts[attemptID]
	if !ok {
		return data.ErrAttemptNotFound
	}
	now := time.Now().UTC()
	attempt.Status = model.AttemptStatusFailed
	attempt.FinishedAt = &now
	attempt.ErrorClass = &failure.Class
	attempt.ErrorMessage = &failure.Message
	return nil
}

func (f *FakeAttemptRepo) ListByJob(_ context.Context, jobID string, limit int) ([]*model.JobAttempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*model.JobAttempt
	for _, id := range f.order {
		attempt := f.attempts[id]
		if attempt.JobID != jobID {
			continue
		}
		cp := *attempt
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// FakeEventRepo is an in-memory core.EventRepository.
type FakeEventRepo struct {
	mu     sync.Mutex
	events []*model.JobEvent

	AppendErr error
}

// NewFakeEventRepo creates an empty fake event log.
func NewFakeEventRepo() *FakeEventRepo {
	return &FakeEventRepo{}
}

func (f *FakeEventRepo) Append(_ context.Context, jobID string, kind model.EventKind, message string) error {
	if f.AppendErr != nil {
		return f.AppendErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, &model.JobEvent{
		ID:      int64(len(f.events) + 1),
		TS:      time.Now().UTC(),
		JobID:   jobID,
		Kind:    kind,
		Message: message,
	})
	return nil
}

func (f *FakeEventRepo) ListByJob(_ context.Context, jobID string, limit int) ([]*model.JobEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*model.JobEvent
	for _, e := range f.events {
		if e.JobID != jobID {
			continue
		}
		cp := *e
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Kinds returns the event kinds recorded for a job, in append order.
func (f *FakeEventRepo) Kinds(jobID string) []model.EventKind {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []model.EventKind
	for _, e := range f.events {
		if e.JobID == jobID {
			out = append(out, e.Kind)
		}
	}
	return out
}

// Messages returns the event messages recorded for a job, in append order.
func (f *FakeEventRepo) Messages(jobID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []string
	for _, e := range f.events {
		if e.JobID == jobID {
			out = append(out, e.Message)
		}
	}
	return out
}

// FakeTelemetryRepo is an in-memory core.TelemetryRepository keeping the
// latest point per resource.
type FakeTelemetryRepo struct {
	mu     sync.Mutex
	latest map[string]*model.TelemetryPoint
	order  []string

	InsertErr error
	LatestErr error
}

// NewFakeTelemetryRepo creates an empty fake telemetry store.
func NewFakeTelemetryRepo() *FakeTelemetryRepo {
	return &FakeTelemetryRepo{latest: make(map[string]*model.TelemetryPoint)}
}

func (f *FakeTelemetryRepo) Insert(_ context.Context, p *model.TelemetryPoint) (*model.TelemetryPoint, error) {
	if f.InsertErr != nil {
		return nil, f.InsertErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.latest[p.ResourceID]; !ok {
		f.order = append(f.order, p.ResourceID)
	}
	cp := *p
	f.latest[p.ResourceID] = &cp
	out := cp
	return &out, nil
}

func (f *FakeTelemetryRepo) LatestByResource(_ context.Context, resourceID string) (*model.TelemetryPoint, error) {
	if f.LatestErr != nil {
		return nil, f.LatestErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.latest[resourceID]
	if !ok {
		return nil, data.ErrTelemetryNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *FakeTelemetryRepo) ListLatestSnapshots(_ context.Context, limit int) ([]model.ResourceSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []model.ResourceSnapshot
	for _, id := range f.order {
		p := f.latest[id]
		out = append(out, model.ResourceSnapshot{
			ResourceID:   p.ResourceID,
			ResourceType: p.ResourceType,
			Last:         *p,
		})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// FakeRouter is a scripted core.Router: it returns the queued decisions in
// order, repeating the last one when exhausted.
type FakeRouter struct {
	mu        sync.Mutex
	Decisions []*model.RouteDecision
	Err       error
	Requests  []*model.JobRequest
}

func (f *FakeRouter) Route(_ context.Context, req *model.JobRequest) (*model.RouteDecision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	cp := *req
	f.Requests = append(f.Requests, &cp)
	if f.Err != nil {
		return nil, f.Err
	}
	if len(f.Decisions) == 0 {
		return &model.RouteDecision{
			JobID:              req.JobID,
			ChosenResourceID:   model.NoResourceID,
			ChosenResourceType: model.ResourceTypeEdge,
		}, nil
	}
	d := f.Decisions[0]
	if len(f.Decisions) > 1 {
		f.Decisions = f.Decisions[1:]
	}
	out := *d
	out.JobID = req.JobID
	return &out, nil
}

// FakeDispatcher is a scripted core.Dispatcher: results and errors are
// consumed in order, repeating the last entry when exhausted.
type FakeDispatcher struct {
	mu      sync.Mutex
	Results []*model.CompletionResult
	Errs    []error
	Calls   int
}

func (f *FakeDispatcher) Dispatch(_ context.Context, _ *model.Job, _ *model.JobRequest) (*model.CompletionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Calls++
	var err error
	if len(f.Errs) > 0 {
		err = f.Errs[0]
		if len(f.Errs) > 1 {
			f.Errs = f.Errs[1:]
		}
	}
	if err != nil {
		return nil, err
	}

	if len(f.Results) == 0 {
		return &model.CompletionResult{ActualLatencyMS: 100, ActualCostUSD: 0.001}, nil
	}
	res := f.Results[0]
	if len(f.Results) > 1 {
		f.Results = f.Results[1:]
	}
	cp := *res
	return &cp, nil
}
