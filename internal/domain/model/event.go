package model

import "time"

// EventKind labels a job lifecycle transition in the audit log.
type EventKind string

const (
	// EventSubmitted records job creation with the initial routing outcome.
	EventSubmitted EventKind = "SUBMITTED"
	// EventRunning records a worker claiming the job.
	EventRunning EventKind = "RUNNING"
	// EventCompleted records successful completion.
	EventCompleted EventKind = "COMPLETED"
	// EventFailed records terminal failure after the retry budget is spent.
	EventFailed EventKind = "FAILED"
	// EventRetry records a requeue with backoff after a failed attempt.
	EventRetry EventKind = "RETRY"
	// EventCancelled records caller cancellation.
	EventCancelled EventKind = "CANCELLED"
	// EventSkipped records a claim of a job that was cancelled in the meantime.
	EventSkipped EventKind = "SKIPPED"
	// EventRerouted records a successful reroute to an alternative resource.
	EventRerouted EventKind = "REROUTED"
	// EventRerouteFailed records a reroute that found no alternative.
	EventRerouteFailed EventKind = "REROUTE_FAILED"
	// EventRerouteError records an error while attempting a reroute.
	EventRerouteError EventKind = "REROUTE_ERROR"
	// EventFeaturesCaptured records that the feature snapshot was persisted.
	EventFeaturesCaptured EventKind = "FEATURES_CAPTURED"
	// EventFeaturesSkipped records that feature capture was not possible.
	EventFeaturesSkipped EventKind = "FEATURES_SKIPPED"
	// EventDeadlineRisk records a queued job at risk of missing its deadline.
	EventDeadlineRisk EventKind = "DEADLINE_RISK"
	// EventDeadlineRerouted records a proactive reroute by the SLA monitor.
	EventDeadlineRerouted EventKind = "DEADLINE_REROUTED"
	// EventDeadlineRerouteFailed records a proactive reroute with no alternative.
	EventDeadlineRerouteFailed EventKind = "DEADLINE_REROUTE_FAILED"
	// EventDeadlineRerouteError records an error during a proactive reroute.
	EventDeadlineRerouteError EventKind = "DEADLINE_REROUTE_ERROR"
	// EventSLABreachDeadline records a deadline that has already passed.
	EventSLABreachDeadline EventKind = "SLA_BREACH_DEADLINE"
)

// JobEvent is one append-only audit log row. Events are never mutated or
// deleted.
type JobEvent struct {
	ID      int64     `json:"id"      db:"id"`
	TS      time.Time `json:"ts"      db:"ts"`
	JobID   string    `json:"job_id"  db:"job_id"`
	Kind    EventKind `json:"event"   db:"event"`
	Message string    `json:"message" db:"message"`
}
