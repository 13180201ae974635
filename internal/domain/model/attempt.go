package model

import (
	"encoding/json"
	"time"
)

// AttemptStatus represents the state of one dispatch attempt.
type AttemptStatus string

const (
	// AttemptStatusRunning indicates the attempt is executing.
	AttemptStatusRunning AttemptStatus = "RUNNING"
	// AttemptStatusCompleted indicates the attempt finished successfully.
	AttemptStatusCompleted AttemptStatus = "COMPLETED"
	// AttemptStatusFailed indicates the attempt failed.
	AttemptStatusFailed AttemptStatus = "FAILED"
)

// Valid returns true if the AttemptStatus is valid.
func (s AttemptStatus) Valid() bool {
	return s == AttemptStatusRunning || s == AttemptStatusCompleted || s == AttemptStatusFailed
}

// JobAttempt is one execution try of a job against one resource. Created at
// claim time with the predictions in force, and closed exactly once with
// either actuals or error detail. The rows are the ground truth for model
// evaluation and failure forensics.
type JobAttempt struct {
	ID        string `json:"attempt_id" db:"attempt_id"`
	JobID     string `json:"job_id"     db:"job_id"`
	AttemptNo int    `json:"attempt_no" db:"attempt_no"`

	ResourceID   *string       `json:"resource_id,omitempty"   db:"resource_id"`
	ResourceType *ResourceType `json:"resource_type,omitempty" db:"resource_type"`

	StartedAt  time.Time     `json:"started_at"            db:"started_at"`
	FinishedAt *time.Time    `json:"finished_at,omitempty" db:"finished_at"`
	Status     AttemptStatus `json:"status"                db:"status"`

	PredictedLatencyMS *float64 `json:"predicted_latency_ms,omitempty" db:"predicted_latency_ms"`
	PredictedCostUSD   *float64 `json:"predicted_cost_usd,omitempty"   db:"predicted_cost_usd"`
	FinalScore         *float64 `json:"final_score,omitempty"          db:"final_score"`
	SLAOK              bool     `json:"sla_ok"                         db:"sla_ok"`
	SLAViolations      []string `json:"sla_violations"                 db:"sla_violations"`

	Features json.RawMessage `json:"features,omitempty" db:"features"`

	ActualLatencyMS *float64 `json:"actual_latency_ms,omitempty" db:"actual_latency_ms"`
	ActualCostUSD   *float64 `json:"actual_cost_usd,omitempty"   db:"actual_cost_usd"`
	OutputRef       *string  `json:"output_ref,omitempty"        db:"output_ref"`

	ErrorClass   *string `json:"error_class,omitempty"   db:"error_class"`
	ErrorMessage *string `json:"error_message,omitempty" db:"error_message"`
	ErrorDetail  *string `json:"error_detail,omitempty"  db:"error_detail"`

	ReroutedFromResourceID *string `json:"rerouted_from_resource_id,omitempty" db:"rerouted_from_resource_id"`
	ReroutedToResourceID   *string `json:"rerouted_to_resource_id,omitempty"   db:"rerouted_to_resource_id"`
}

// AttemptFailure captures the diagnostic context recorded when closing an
// attempt as failed. The full detail is written before any retry or reroute
// decision so failure history survives whatever happens to the job next.
type AttemptFailure struct {
	Class   string
	Message string
	Detail  string
}
