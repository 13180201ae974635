package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/edgeplane/dispatchd/internal/core"
	"github.com/edgeplane/dispatchd/internal/domain/model"
)

// AttemptRepo provides database operations for per-attempt execution records.
type AttemptRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewAttemptRepo creates a new AttemptRepo instance.
func NewAttemptRepo(db *sql.DB, cfg RepoConfig) *AttemptRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}

	return &AttemptRepo{
		DB:           db,
		timeProvider: tp,
		logger:       cfg.Logger,
	}
}

const attemptColumns = `
  attempt_id,
  job_id,
  attempt_no,
  resource_id,
  resource_type,
  started_at,
  finished_at,
  status,
  predicted_latency_ms,
  predicted_cost_usd,
  final_score,
  sla_ok,
  sla_violations,
  features,
  actual_latency_ms,
  actual_cost_usd,
  output_ref,
  error_class,
  error_message,
  error_detail,
  rerouted_from_resource_id,
  rerouted_to_resource_id
`

// Open creates a RUNNING attempt record at claim time, capturing the
// predictions in force. One row per try; (job_id, attempt_no) is unique.
func (r *AttemptRepo) Open(ctx context.Context, p core.OpenAttemptParams) (*model.JobAttempt, error) {
	if p.JobID == "" {
		return nil, errors.New("job id is required")
	}
	if p.AttemptNo <= 0 {
		return nil, errors.New("attempt number must be positive")
	}

	violationsJSON, err := marshalViolations(p.SLAViolations)
	if err != nil {
		return nil, fmt.Errorf("marshal sla violations: %w", err)
	}

	attemptID := uuid.NewString()
	now := r.timeProvider.Now().UTC()

	var resourceType *string
	if p.ResourceType != nil {
		rt := string(*p.ResourceType)
		resourceType = &rt
	}

	row := r.DB.QueryRowContext(ctx, `
		INSERT INTO job_attempts (
			attempt_id, job_id, attempt_no, resource_id, resource_type,
			started_at, status,
			predicted_latency_ms, predicted_cost_usd, final_score, sla_ok, sla_violations
		)
		VALUES ($1,$2,$3,$4,$5,$6,'RUNNING',$7,$8,$9,$10,$11)
		RETURNING `+attemptColumns, attemptID, p.JobID, p.AttemptNo, p.ResourceID, resourceType,
		now, p.PredictedLatencyMS, p.PredictedCostUSD, p.FinalScore, p.SLAOK, violationsJSON)

	attempt, scanErr := scanAttemptFromRow(row)
	if scanErr != nil {
		return nil, fmt.Errorf("insert attempt: %w", scanErr)
	}
	return attempt, nil
}

// SetFeatures persists the dispatch-time feature snapshot on the attempt record.
func (r *AttemptRepo) SetFeatures(ctx context.Context, attemptID string, features json.RawMessage) error {
	if len(features) == 0 {
		return errors.New("features are required")
	}

	res, err := r.DB.ExecContext(ctx, `
		UPDATE job_attempts
		SET features = $2
		WHERE attempt_id = $1
	`, attemptID, []byte(features))
	if err != nil {
		return fmt.Errorf("set attempt features: %w", err)
	}
	return requireAttemptUpdated(res)
}

// MarkReroute records where a reroute moved the job away from and to.
func (r *AttemptRepo) MarkReroute(ctx context.Context, attemptID, fromResourceID, toResourceID string) error {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE job_attempts
		SET rerouted_from_resource_id = $2,
		    rerouted_to_resource_id = $3
		WHERE attempt_id = $1
	`, attemptID, fromResourceID, toResourceID)
	if err != nil {
		return fmt.Errorf("mark attempt reroute: %w", err)
	}
	return requireAttemptUpdated(res)
}

// FinishSuccess closes a running attempt as completed with its actuals.
func (r *AttemptRepo) FinishSuccess(ctx context.Context, attemptID string, result *model.CompletionResult) error {
	if result == nil {
		return errors.New("completion result is required")
	}

	res, err := r.DB.ExecContext(ctx, `
		UPDATE job_attempts
		SET status = 'COMPLETED',
		    finished_at = $2,
		    actual_latency_ms = $3,
		    actual_cost_usd = $4,
		    output_ref = $5
		WHERE attempt_id = $1 AND status = 'RUNNING'
	`, attemptID, r.timeProvider.Now().UTC(), result.ActualLatencyMS, result.ActualCostUSD, result.OutputRef)
	if err != nil {
		return fmt.Errorf("finish attempt: %w", err)
	}
	return requireAttemptUpdated(res)
}

// FinishFailure closes a running attempt as failed with full error detail.
// The record is written before any retry or reroute decision so the failure
// history survives whatever happens to the job next.
func (r *AttemptRepo) FinishFailure(ctx context.Context, attemptID string, failure model.AttemptFailure) error {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE job_attempts
		SET status = 'FAILED',
		    finished_at = $2,
		    error_class = $3,
		    error_message = $4,
		    error_detail = $5
		WHERE attempt_id = $1 AND status = 'RUNNING'
	`, attemptID, r.timeProvider.Now().UTC(), failure.Class, failure.Message, failure.Detail)
	if err != nil {
		return fmt.Errorf("fail attempt: %w", err)
	}
	return requireAttemptUpdated(res)
}

// ListByJob returns the attempts for one job, newest-first.
func (r *AttemptRepo) ListByJob(ctx context.Context, jobID string, limit int) ([]*model.JobAttempt, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.DB.QueryContext(ctx, `
		SELECT `+attemptColumns+`
		FROM job_attempts
		WHERE job_id = $1
		ORDER BY started_at DESC, attempt_no DESC
		LIMIT $2
	`, jobID, limit)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var attempts []*model.JobAttempt
	for rows.Next() {
		attempt, scanErr := scanAttemptFromRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan attempt: %w", scanErr)
		}
		attempts = append(attempts, attempt)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, rowsErr
	}
	return attempts, nil
}

func requireAttemptUpdated(res sql.Result) error {
	updated, err := oneRowAffected(res)
	if err != nil {
		return err
	}
	if !updated {
		return ErrAttemptNotFound
	}
	return nil
}

type attemptRowData struct {
	violations, features                             []byte
	resourceID, resourceType                         sql.NullString
	finishedAt                                       sql.NullTime
	predictedLatencyMS, predictedCostUSD, finalScore sql.NullFloat64
	actualLatencyMS, actualCostUSD                   sql.NullFloat64
	outputRef, errorClass, errorMessage, errorDetail sql.NullString
	reroutedFrom, reroutedTo                         sql.NullString
}

func scanAttemptFromRow(scanner jobRowScanner) (*model.JobAttempt, error) {
	attempt := &model.JobAttempt{}
	var d attemptRowData

	if err := scanner.Scan(
		&attempt.ID,
		&attempt.JobID,
		&attempt.AttemptNo,
		&d.resourceID,
		&d.resourceType,
		&attempt.StartedAt,
		&d.finishedAt,
		&attempt.Status,
		&d.predictedLatencyMS,
		&d.predictedCostUSD,
		&d.finalScore,
		&attempt.SLAOK,
		&d.violations,
		&d.features,
		&d.actualLatencyMS,
		&d.actualCostUSD,
		&d.outputRef,
		&d.errorClass,
		&d.errorMessage,
		&d.errorDetail,
		&d.reroutedFrom,
		&d.reroutedTo,
	); err != nil {
		return nil, err
	}

	attempt.ResourceID = cloneNullableString(d.resourceID)
	if d.resourceType.Valid {
		rt := model.ResourceType(d.resourceType.String)
		attempt.ResourceType = &rt
	}
	attempt.FinishedAt = cloneNullableTime(d.finishedAt)
	attempt.PredictedLatencyMS = cloneNullableFloat64(d.predictedLatencyMS)
	attempt.PredictedCostUSD = cloneNullableFloat64(d.predictedCostUSD)
	attempt.FinalScore = cloneNullableFloat64(d.finalScore)
	attempt.ActualLatencyMS = cloneNullableFloat64(d.actualLatencyMS)
	attempt.ActualCostUSD = cloneNullableFloat64(d.actualCostUSD)
	attempt.OutputRef = cloneNullableString(d.outputRef)
	attempt.ErrorClass = cloneNullableString(d.errorClass)
	attempt.ErrorMessage = cloneNullableString(d.errorMessage)
	attempt.ErrorDetail = cloneNullableString(d.errorDetail)
	attempt.ReroutedFromResourceID = cloneNullableString(d.reroutedFrom)
	attempt.ReroutedToResourceID = cloneNullableString(d.reroutedTo)
	attempt.Features = cloneOptionalJSON(d.features)

	attempt.SLAViolations = []string{}
	if len(d.violations) > 0 {
		if err := json.Unmarshal(d.violations, &attempt.SLAViolations); err != nil {
			return nil, err
		}
		if attempt.SLAViolations == nil {
			attempt.SLAViolations = []string{}
		}
	}
	return attempt, nil
}
