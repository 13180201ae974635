// Package core defines the contracts between the service layer and the data
// and dispatch layers. Services depend on these interfaces, not on concrete
// implementations.
package core

import (
	"context"
	"encoding/json"
	"time"

	"github.com/edgeplane/dispatchd/internal/domain/model"
)

// CreateJobParams groups parameters for inserting a new job row.
type CreateJobParams struct {
	Req      *model.JobRequest
	Snapshot json.RawMessage
	Status   model.JobStatus
	// Decision carries the initial routing outcome to denormalize onto the
	// row. Nil or sentinel decisions leave the routing columns empty.
	Decision *model.RouteDecision
}

// ApplyRouteParams groups parameters for updating a job's routing outcome.
type ApplyRouteParams struct {
	JobID    string
	Decision *model.RouteDecision
	// Request optionally replaces the stored snapshot; reroutes persist the
	// hint changes (exclusion list) this way so retries honor them.
	Request json.RawMessage
	// Status optionally moves the job as part of the same update.
	Status model.JobStatus
}

// ListJobsOptions holds optional filters for listing jobs.
type ListJobsOptions struct {
	Status *model.JobStatus
	Type   *model.JobType
	Limit  int
	Offset int
}

// PredictionSample pairs the predictions in force at dispatch with the
// measured actuals of one completed job.
type PredictionSample struct {
	JobID              string
	PredictedLatencyMS float64
	ActualLatencyMS    float64
	PredictedCostUSD   float64
	ActualCostUSD      float64
}

// JobRepository defines the interface for the durable job queue.
type JobRepository interface {
	Create(ctx context.Context, p CreateJobParams) (*model.Job, error)
	GetByID(ctx context.Context, jobID string) (*model.Job, error)
	ClaimNext(ctx context.Context, workerID string) (*model.Job, error)
	Complete(ctx context.Context, jobID string, result *model.CompletionResult) (bool, error)
	FailTerminal(ctx context.Context, jobID string) (bool, error)
	RequeueWithBackoff(ctx context.Context, jobID string, nextRunAt time.Time) (bool, error)
	Cancel(ctx context.Context, jobID string) (*model.Job, error)
	ApplyRoute(ctx context.Context, p ApplyRouteParams) (bool, error)
	SetFeatures(ctx context.Context, jobID string, features json.RawMessage) (bool, error)
	List(ctx context.Context, opts ListJobsOptions) ([]*model.Job, error)
	ListDeadlineCandidates(ctx context.Context, limit int) ([]*model.Job, error)
	// ListSLAAffected returns blocked jobs and jobs routed despite recorded
	// SLA violations, newest activity first.
	ListSLAAffected(ctx context.Context, limit int) ([]*model.Job, error)
	ListPredictionSamples(ctx context.Context, limit int) ([]PredictionSample, error)
	Stats(ctx context.Context) (*model.JobStats, error)
}

// OpenAttemptParams groups parameters for opening a new attempt record.
type OpenAttemptParams struct {
	JobID        string
	AttemptNo    int
	ResourceID   *string
	ResourceType *model.ResourceType

	PredictedLatencyMS *float64
	PredictedCostUSD   *float64
	FinalScore         *float64
	SLAOK              bool
	SLAViolations      []string
}

// AttemptRepository defines the interface for per-attempt execution records.
type AttemptRepository interface {
	Open(ctx context.Context, p OpenAttemptParams) (*model.JobAttempt, error)
	SetFeatures(ctx context.Context, attemptID string, features json.RawMessage) error
	MarkReroute(ctx context.Context, attemptID, fromResourceID, toResourceID string) error
	FinishSuccess(ctx context.Context, attemptID string, result *model.CompletionResult) error
	FinishFailure(ctx context.Context, attemptID string, failure model.AttemptFailure) error
	ListByJob(ctx context.Context, jobID string, limit int) ([]*model.JobAttempt, error)
}

// EventRepository defines the interface for the append-only job event log.
type EventRepository interface {
	Append(ctx context.Context, jobID string, kind model.EventKind, message string) error
	ListByJob(ctx context.Context, jobID string, limit int) ([]*model.JobEvent, error)
}

// TelemetryRepository defines the interface for the resource telemetry store.
type TelemetryRepository interface {
	Insert(ctx context.Context, p *model.TelemetryPoint) (*model.TelemetryPoint, error)
	LatestByResource(ctx context.Context, resourceID string) (*model.TelemetryPoint, error)
	ListLatestSnapshots(ctx context.Context, limit int) ([]model.ResourceSnapshot, error)
}

// CachedPrice is the stored form of an external price lookup.
type CachedPrice struct {
	SKU          string    `json:"sku"`
	Region       string    `json:"region"`
	PricePerHour float64   `json:"price_per_hour"`
	FetchedAt    time.Time `json:"fetched_at"`
}

// PriceCacheRepository defines the interface for the external price cache.
type PriceCacheRepository interface {
	// Get returns (nil, nil) on cache miss.
	Get(ctx context.Context, sku, region string) (*CachedPrice, error)
	Set(ctx context.Context, price CachedPrice, ttl time.Duration) error
	Health(ctx context.Context) error
}

// Router defines the interface for placing one job onto a resource.
type Router interface {
	Route(ctx context.Context, req *model.JobRequest) (*model.RouteDecision, error)
}

// Dispatcher defines the interface for executing a claimed job on its chosen
// resource. Implementations return the measured actuals or an error.
type Dispatcher interface {
	Dispatch(ctx context.Context, job *model.Job, req *model.JobRequest) (*model.CompletionResult, error)
}
