// Package model defines the core data types and structures used throughout the dispatchd placement system.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// JobType represents the workload class of a submitted job.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type JobType string

// JobStatus represents the current lifecycle state of a job.
type JobStatus string

const (
	// JobTypeBatch represents a batch processing workload.
	JobTypeBatch JobType = "batch"
	// JobTypeInference represents a model inference workload.
	JobTypeInference JobType = "inference"
	// JobTypeTraining represents a model training workload.
	JobTypeTraining JobType = "training"

	// JobStatusQueued indicates a job is waiting to be claimed by a worker.
	JobStatusQueued JobStatus = "QUEUED"
	// JobStatusRunning indicates a job is currently being executed.
	JobStatusRunning JobStatus = "RUNNING"
	// JobStatusCompleted indicates a job finished successfully. Terminal.
	JobStatusCompleted JobStatus = "COMPLETED"
	// JobStatusFailed indicates a job exhausted its attempts. Terminal.
	JobStatusFailed JobStatus = "FAILED"
	// JobStatusBlocked indicates routing found no acceptable resource.
	JobStatusBlocked JobStatus = "BLOCKED"
	// JobStatusCancelled indicates a job was cancelled by the caller. Terminal.
	JobStatusCancelled JobStatus = "CANCELLED"
)

// RequestSchemaVersion is the current version of the stored job request snapshot.
const RequestSchemaVersion = 1

// DefaultMaxAttempts is applied when a submission does not specify a retry budget.
const DefaultMaxAttempts = 2

// UnmarshalText implements encoding.TextUnmarshaler for JobType to allow env parsing.
func (t *JobType) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	jt := JobType(v)
	if jt.Valid() {
		*t = jt
		return nil
	}
	return fmt.Errorf("invalid JobType: %q", v)
}

// Valid returns true if the JobType is valid.
func (t JobType) Valid() bool {
	return t == JobTypeBatch || t == JobTypeInference || t == JobTypeTraining
}

// Valid returns true if the JobStatus is valid.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusQueued, JobStatusRunning, JobStatusCompleted,
		JobStatusFailed, JobStatusBlocked, JobStatusCancelled:
		return true
	}
	return false
}

// Terminal returns true if no further transitions are allowed from this status.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// Cancellable returns true if a job in this status may be cancelled.
func (s JobStatus) Cancellable() bool {
	return s == JobStatusQueued || s == JobStatusRunning || s == JobStatusBlocked
}

// ErrNoJobsAvailable is returned when no claimable jobs exist.
var ErrNoJobsAvailable = errors.New("no jobs available")

// SLA holds the per-job service level constraints checked against
// conservative (p90) predictions at routing time.
type SLA struct {
	DeadlineMS     *int64   `json:"deadline_ms,omitempty"`
	MaxCostUSD     *float64 `json:"max_cost_usd,omitempty"`
	MinReliability *float64 `json:"min_reliability,omitempty"`
}

// Validate validates the SLA constraint fields.
func (s *SLA) Validate() error {
	if s.DeadlineMS != nil && *s.DeadlineMS < 0 {
		return errors.New("sla deadline_ms must be >= 0")
	}
	if s.MaxCostUSD != nil && *s.MaxCostUSD < 0 {
		return errors.New("sla max_cost_usd must be >= 0")
	}
	if s.MinReliability != nil && (*s.MinReliability < 0 || *s.MinReliability > 1) {
		return errors.New("sla min_reliability must be between 0 and 1")
	}
	return nil
}

// RoutingHints carries caller-supplied routing controls. Force hints narrow
// the candidate set; the exclude list is also how reroute steers away from a
// resource that just failed the job.
type RoutingHints struct {
	ForceResourceID    string       `json:"force_resource_id,omitempty"`
	ForceResourceType  ResourceType `json:"force_resource_type,omitempty"`
	ExcludeResourceIDs []string     `json:"exclude_resource_ids,omitempty"`
	// ForceFailFirst makes the first dispatch attempt fail deliberately.
	// Used to exercise the retry/reroute path end to end.
	ForceFailFirst bool `json:"force_fail_first,omitempty"`
}

// Excluded returns true if the given resource id is on the exclude list.
func (h *RoutingHints) Excluded(resourceID string) bool {
	for _, id := range h.ExcludeResourceIDs {
		if id == resourceID {
			return true
		}
	}
	return false
}

// WithExcluded returns a copy of the hints with the given resource id added
// to the exclude list (deduplicated). The receiver is not mutated.
func (h RoutingHints) WithExcluded(resourceID string) RoutingHints {
	if resourceID == "" || h.Excluded(resourceID) {
		return h
	}
	out := h
	out.ExcludeResourceIDs = append(append([]string(nil), h.ExcludeResourceIDs...), resourceID)
	return out
}

// JobRequest is the immutable submission snapshot of a job. It is persisted
// verbatim (versioned via SchemaVersion) so reroute and retry always operate
// on the typed request the caller made, never a reparsed blob of unknown shape.
type JobRequest struct {
	SchemaVersion    int          `json:"schema_version"`
	JobID            string       `json:"job_id"`
	Type             JobType      `json:"job_type"`
	Urgency          float64      `json:"urgency"`
	PayloadSizeMB    float64      `json:"payload_size_mb"`
	RequiresGPU      bool         `json:"requires_gpu"`
	AllowSLAFallback *bool        `json:"allow_sla_fallback,omitempty"`
	MaxAttempts      int          `json:"max_attempts,omitempty"`
	SLA              SLA          `json:"sla"`
	Hints            RoutingHints `json:"hints"`
}

// FallbackAllowed reports whether the job accepts a best-effort placement
// when no SLA-compliant resource exists. Defaults to true when unset.
func (r *JobRequest) FallbackAllowed() bool {
	return r.AllowSLAFallback == nil || *r.AllowSLAFallback
}

// EffectiveMaxAttempts returns the retry budget, applying the default when unset.
func (r *JobRequest) EffectiveMaxAttempts() int {
	if r.MaxAttempts > 0 {
		return r.MaxAttempts
	}
	return DefaultMaxAttempts
}

// Validate validates the JobRequest fields.
func (r *JobRequest) Validate() error {
	if strings.TrimSpace(r.JobID) == "" {
		return errors.New("job_id is required")
	}
	if !r.Type.Valid() {
		return fmt.Errorf("invalid job_type: %q", r.Type)
	}
	if r.Urgency < 0 || r.Urgency > 1 {
		return errors.New("urgency must be between 0 and 1")
	}
	if r.PayloadSizeMB < 0 {
		return errors.New("payload_size_mb must be >= 0")
	}
	if r.MaxAttempts < 0 {
		return errors.New("max_attempts must be >= 0")
	}
	if r.Hints.ForceResourceType != "" && !r.Hints.ForceResourceType.Valid() {
		return fmt.Errorf("invalid force_resource_type: %q", r.Hints.ForceResourceType)
	}
	return r.SLA.Validate()
}

// Snapshot serializes the request as the versioned stored form.
func (r *JobRequest) Snapshot() (json.RawMessage, error) {
	cp := *r
	cp.SchemaVersion = RequestSchemaVersion
	raw, err := json.Marshal(&cp)
	if err != nil {
		return nil, fmt.Errorf("marshal job request: %w", err)
	}
	return raw, nil
}

// ParseJobRequest decodes a stored request snapshot back into its typed form.
func ParseJobRequest(raw json.RawMessage) (*JobRequest, error) {
	if len(raw) == 0 {
		return nil, errors.New("empty job request snapshot")
	}
	var req JobRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("unmarshal job request: %w", err)
	}
	if req.SchemaVersion > RequestSchemaVersion {
		return nil, fmt.Errorf("unsupported request schema version %d", req.SchemaVersion)
	}
	return &req, nil
}

// Job represents a job row with its immutable request fields, lifecycle
// state, and the denormalized routing outcome.
type Job struct {
	ID               string  `json:"job_id"             db:"job_id"`
	Type             JobType `json:"job_type"           db:"job_type"`
	Urgency          float64 `json:"urgency"            db:"urgency"`
	PayloadSizeMB    float64 `json:"payload_size_mb"    db:"payload_size_mb"`
	RequiresGPU      bool    `json:"requires_gpu"       db:"requires_gpu"`
	AllowSLAFallback bool    `json:"allow_sla_fallback" db:"allow_sla_fallback"`

	SLADeadlineMS     *int64   `json:"sla_deadline_ms,omitempty"     db:"sla_deadline_ms"`
	SLAMaxCostUSD     *float64 `json:"sla_max_cost_usd,omitempty"    db:"sla_max_cost_usd"`
	SLAMinReliability *float64 `json:"sla_min_reliability,omitempty" db:"sla_min_reliability"`

	Request json.RawMessage `json:"request" db:"request"`

	Status      JobStatus  `json:"status"                db:"status"`
	Attempts    int        `json:"attempts"              db:"attempts"`
	MaxAttempts int        `json:"max_attempts"          db:"max_attempts"`
	NextRunAt   *time.Time `json:"next_run_at,omitempty" db:"next_run_at"`

	ChosenResourceID   *string       `json:"chosen_resource_id,omitempty"   db:"chosen_resource_id"`
	ChosenResourceType *ResourceType `json:"chosen_resource_type,omitempty" db:"chosen_resource_type"`
	WorkerID           *string       `json:"worker_id,omitempty"            db:"worker_id"`

	PredictedLatencyMS *float64 `json:"predicted_latency_ms,omitempty" db:"predicted_latency_ms"`
	PredictedCostUSD   *float64 `json:"predicted_cost_usd,omitempty"   db:"predicted_cost_usd"`
	FinalScore         *float64 `json:"final_score,omitempty"          db:"final_score"`
	SLAOK              bool     `json:"sla_ok"                         db:"sla_ok"`
	SLAViolations      []string `json:"sla_violations"                 db:"sla_violations"`

	Features json.RawMessage `json:"features,omitempty" db:"features"`

	ActualLatencyMS *float64 `json:"actual_latency_ms,omitempty" db:"actual_latency_ms"`
	ActualCostUSD   *float64 `json:"actual_cost_usd,omitempty"   db:"actual_cost_usd"`
	OutputRef       *string  `json:"output_ref,omitempty"        db:"output_ref"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// CurrentResourceID returns the routed resource id, or "" if the job has none.
func (j *Job) CurrentResourceID() string {
	if j.ChosenResourceID == nil {
		return ""
	}
	return *j.ChosenResourceID
}

// DeadlineAt computes the absolute deadline from submission time, or nil when
// the job has no deadline constraint.
func (j *Job) DeadlineAt() *time.Time {
	if j.SLADeadlineMS == nil {
		return nil
	}
	t := j.CreatedAt.Add(time.Duration(*j.SLADeadlineMS) * time.Millisecond)
	return &t
}

// ParsedRequest decodes the stored request snapshot for this job.
func (j *Job) ParsedRequest() (*JobRequest, error) {
	return ParseJobRequest(j.Request)
}

// JobStats represents job counts by lifecycle state.
type JobStats struct {
	Queued    int `json:"queued"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Blocked   int `json:"blocked"`
	Cancelled int `json:"cancelled"`
}

// CompletionResult carries the actuals recorded when a job finishes.
type CompletionResult struct {
	ActualLatencyMS float64 `json:"actual_latency_ms"`
	ActualCostUSD   float64 `json:"actual_cost_usd"`
	OutputRef       *string `json:"output_ref,omitempty"`
}

// Validate validates the CompletionResult fields.
func (c *CompletionResult) Validate() error {
	if c.ActualLatencyMS < 0 {
		return errors.New("actual_latency_ms must be >= 0")
	}
	if c.ActualCostUSD < 0 {
		return errors.New("actual_cost_usd must be >= 0")
	}
	return nil
}
