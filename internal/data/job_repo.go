package data

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/edgeplane/dispatchd/internal/domain/model"
)

var (
	// ErrJobNotFound is returned when a job is not found.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobNotCancellable is returned when attempting to cancel a job that is
	// already terminal.
	ErrJobNotCancellable = errors.New("job cannot be cancelled (already terminal)")
	// ErrAttemptNotFound is returned when an attempt is not found.
	ErrAttemptNotFound = errors.New("attempt not found")
)

// RepoConfig holds configuration options for the data repositories.
type RepoConfig struct {
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// JobRepo provides database operations for the durable job queue.
type JobRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewJobRepo creates a new JobRepo instance with the given database connection and configuration.
func NewJobRepo(db *sql.DB, cfg RepoConfig) *JobRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}

	return &JobRepo{
		DB:           db,
		timeProvider: tp,
		logger:       cfg.Logger,
	}
}

const jobColumns = `
  job_id,
  job_type,
  urgency,
  payload_size_mb,
  requires_gpu,
  allow_sla_fallback,
  sla_deadline_ms,
  sla_max_cost_usd,
  sla_min_reliability,
  request,
  status,
  attempts,
  max_attempts,
  next_run_at,
  chosen_resource_id,
  chosen_resource_type,
  worker_id,
  predicted_latency_ms,
  predicted_cost_usd,
  final_score,
  sla_ok,
  sla_violations,
  features,
  actual_latency_ms,
  actual_cost_usd,
  output_ref,
  created_at,
  updated_at
`

type jobRowScanner interface {
	Scan(dest ...any) error
}

type jobRowData struct {
	request, violations, features                     []byte
	slaDeadlineMS                                     sql.NullInt64
	slaMaxCostUSD, slaMinReliability                  sql.NullFloat64
	chosenResourceID, chosenResourceType, workerID    sql.NullString
	predictedLatencyMS, predictedCostUSD, finalScore  sql.NullFloat64
	actualLatencyMS, actualCostUSD                    sql.NullFloat64
	outputRef                                         sql.NullString
	nextRunAt                                         sql.NullTime
}

func (d *jobRowData) scanInto(scanner jobRowScanner, job *model.Job) error {
	return scanner.Scan(
		&job.ID,
		&job.Type,
		&job.Urgency,
		&job.PayloadSizeMB,
		&job.RequiresGPU,
		&job.AllowSLAFallback,
		&d.slaDeadlineMS,
		&d.slaMaxCostUSD,
		&d.slaMinReliability,
		&d.request,
		&job.Status,
		&job.Attempts,
		&job.MaxAttempts,
		&d.nextRunAt,
		&d.chosenResourceID,
		&d.chosenResourceType,
		&d.workerID,
		&d.predictedLatencyMS,
		&d.predictedCostUSD,
		&d.finalScore,
		&job.SLAOK,
		&d.violations,
		&d.features,
		&d.actualLatencyMS,
		&d.actualCostUSD,
		&d.outputRef,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
}

func (d *jobRowData) apply(job *model.Job) error {
	job.Request = cloneJSON(d.request)
	job.Features = cloneOptionalJSON(d.features)
	job.SLADeadlineMS = cloneNullableInt64(d.slaDeadlineMS)
	job.SLAMaxCostUSD = cloneNullableFloat64(d.slaMaxCostUSD)
	job.SLAMinReliability = cloneNullableFloat64(d.slaMinReliability)
	job.ChosenResourceID = cloneNullableString(d.chosenResourceID)
	job.WorkerID = cloneNullableString(d.workerID)
	job.PredictedLatencyMS = cloneNullableFloat64(d.predictedLatencyMS)
	job.PredictedCostUSD = cloneNullableFloat64(d.predictedCostUSD)
	job.FinalScore = cloneNullableFloat64(d.finalScore)
	job.ActualLatencyMS = cloneNullableFloat64(d.actualLatencyMS)
	job.ActualCostUSD = cloneNullableFloat64(d.actualCostUSD)
	job.OutputRef = cloneNullableString(d.outputRef)
	job.NextRunAt = cloneNullableTime(d.nextRunAt)

	if d.chosenResourceType.Valid {
		rt := model.ResourceType(d.chosenResourceType.String)
		job.ChosenResourceType = &rt
	}

	job.SLAViolations = []string{}
	if len(d.violations) > 0 {
		if err := json.Unmarshal(d.violations, &job.SLAViolations); err != nil {
			return err
		}
		if job.SLAViolations == nil {
			job.SLAViolations = []string{}
		}
	}
	return nil
}

func scanJobFromRow(scanner jobRowScanner) (*model.Job, error) {
	job := &model.Job{}
	var data jobRowData
	if err := data.scanInto(scanner, job); err != nil {
		return nil, err
	}
	if err := data.apply(job); err != nil {
		return nil, err
	}
	return job, nil
}

func cloneJSON(raw []byte) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(`{}`)
	}
	return append(json.RawMessage(nil), raw...)
}

func cloneOptionalJSON(raw []byte) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}

func cloneNullableString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func cloneNullableInt64(ni sql.NullInt64) *int64 {
	if !ni.Valid {
		return nil
	}
	v := ni.Int64
	return &v
}

func cloneNullableFloat64(nf sql.NullFloat64) *float64 {
	if !nf.Valid {
		return nil
	}
	v := nf.Float64
	return &v
}

func cloneNullableTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

func marshalViolations(violations []string) ([]byte, error) {
	if violations == nil {
		violations = []string{}
	}
	return json.Marshal(violations)
}
