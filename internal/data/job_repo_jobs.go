package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/edgeplane/dispatchd/internal/core"
	"github.com/edgeplane/dispatchd/internal/data/pgxutil"
	"github.com/edgeplane/dispatchd/internal/domain/model"
)

// SQL used by ClaimNext to atomically claim the oldest due queued job.
const claimNextUpdateSQL = `
  WITH cte AS (
    SELECT job_id FROM jobs
    WHERE status = 'QUEUED' AND (next_run_at IS NULL OR next_run_at <= $2)
    ORDER BY created_at ASC, job_id ASC
    LIMIT 1
    FOR UPDATE SKIP LOCKED
  )
  UPDATE jobs j
  SET
    status = 'RUNNING',
    attempts = j.attempts + 1,
    worker_id = $1,
    next_run_at = NULL,
    updated_at = $3
  FROM cte
  WHERE j.job_id = cte.job_id
  RETURNING j.job_id, j.job_type, j.urgency, j.payload_size_mb, j.requires_gpu, j.allow_sla_fallback, j.sla_deadline_ms, j.sla_max_cost_usd, j.sla_min_reliability, j.request, j.status, j.attempts, j.max_attempts, j.next_run_at, j.chosen_resource_id, j.chosen_resource_type, j.worker_id, j.predicted_latency_ms, j.predicted_cost_usd, j.final_score, j.sla_ok, j.sla_violations, j.features, j.actual_latency_ms, j.actual_cost_usd, j.output_ref, j.created_at, j.updated_at`

// Create inserts a new job row with its immutable request snapshot and the
// denormalized initial routing outcome.
func (r *JobRepo) Create(ctx context.Context, p core.CreateJobParams) (*model.Job, error) {
	if p.Req == nil {
		return nil, errors.New("job request is required")
	}
	if validateErr := p.Req.Validate(); validateErr != nil {
		return nil, validateErr
	}
	if !p.Status.Valid() {
		return nil, fmt.Errorf("invalid job status: %s", p.Status)
	}

	query, args, err := r.buildInsertQuery(&p)
	if err != nil {
		return nil, err
	}

	var job *model.Job
	if txErr := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			rows, qerr := tx.Query(ctx, query, args...)
			if qerr != nil {
				return fmt.Errorf("insert job: %w", qerr)
			}
			var collectErr error
			job, collectErr = collectJobFromRows(rows)
			rows.Close()
			if collectErr != nil {
				return fmt.Errorf("collect job: %w", collectErr)
			}
			return nil
		},
	}); txErr != nil {
		return nil, txErr
	}

	return job, nil
}

// buildInsertQuery builds the INSERT statement for a new job row.
func (r *JobRepo) buildInsertQuery(p *core.CreateJobParams) (string, []any, error) {
	req := p.Req

	snapshot := p.Snapshot
	if len(snapshot) == 0 {
		var err error
		snapshot, err = req.Snapshot()
		if err != nil {
			return "", nil, err
		}
	}

	var (
		chosenID, chosenType         *string
		predLatency, predCost, score *float64
		slaOK                        bool
		violations                   = []string{}
	)
	if p.Decision != nil && p.Decision.Resolved() {
		id := p.Decision.ChosenResourceID
		rt := string(p.Decision.ChosenResourceType)
		chosenID, chosenType = &id, &rt
		if s := p.Decision.ChosenScore(); s != nil {
			predLatency, predCost, score = &s.LatencyPredMS, &s.CostPredUSD, &s.FinalScore
			slaOK = s.SLAOK
			if s.SLAViolations != nil {
				violations = s.SLAViolations
			}
		}
	}

	violationsJSON, err := marshalViolations(violations)
	if err != nil {
		return "", nil, fmt.Errorf("marshal sla violations: %w", err)
	}

	now := r.timeProvider.Now().UTC()

	query := `
      INSERT INTO jobs(
        job_id, job_type, urgency, payload_size_mb, requires_gpu, allow_sla_fallback,
        sla_deadline_ms, sla_max_cost_usd, sla_min_reliability,
        request, status, attempts, max_attempts,
        chosen_resource_id, chosen_resource_type,
        predicted_latency_ms, predicted_cost_usd, final_score, sla_ok, sla_violations,
        created_at, updated_at
      )
      VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,0,$12,$13,$14,$15,$16,$17,$18,$19,$20,$20)
      RETURNING ` + jobColumns

	args := []any{
		req.JobID,
		req.Type,
		req.Urgency,
		req.PayloadSizeMB,
		req.RequiresGPU,
		req.FallbackAllowed(),
		req.SLA.DeadlineMS,
		req.SLA.MaxCostUSD,
		req.SLA.MinReliability,
		[]byte(snapshot),
		p.Status,
		req.EffectiveMaxAttempts(),
		chosenID,
		chosenType,
		predLatency,
		predCost,
		score,
		slaOK,
		violationsJSON,
		now,
	}
	return query, args, nil
}

// collectJobFromRows collects a single job from pgx rows using pgx v5 helpers.
func collectJobFromRows(rows pgx.Rows) (*model.Job, error) {
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, pgx.ErrNoRows
	}

	job, err := scanJobFromRow(rows)
	if err != nil {
		return nil, err
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, rowsErr
	}

	return job, nil
}

// ClaimNext atomically claims the oldest due queued job for the given worker.
// The claim is a single UPDATE over a locked subselect so two workers can
// never receive the same job. Returns model.ErrNoJobsAvailable when the
// queue has nothing due.
func (r *JobRepo) ClaimNext(ctx context.Context, workerID string) (*model.Job, error) {
	var job *model.Job
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Opts: &sql.TxOptions{
			Isolation: sql.LevelReadCommitted,
			ReadOnly:  false,
		},
		Fn: func(tx pgx.Tx) error {
			currentTime := r.timeProvider.Now().UTC()

			rows, qerr := tx.Query(ctx, claimNextUpdateSQL, workerID, currentTime, currentTime)
			if qerr != nil {
				return fmt.Errorf("claim job: %w", qerr)
			}
			defer rows.Close()

			j, cerr := collectJobFromRows(rows)
			if errors.Is(cerr, pgx.ErrNoRows) {
				return model.ErrNoJobsAvailable
			}
			if cerr != nil {
				return fmt.Errorf("claim job: %w", cerr)
			}
			job = j
			return nil
		},
	})
	if err != nil {
		if errors.Is(err, model.ErrNoJobsAvailable) {
			return nil, model.ErrNoJobsAvailable
		}
		return nil, err
	}
	return job, nil
}

// Complete force-sets actuals on a job and marks it completed. Any
// non-terminal state accepts completion so callers can close out jobs no
// worker will ever pick up. Returns false once the job is terminal.
func (r *JobRepo) Complete(ctx context.Context, jobID string, result *model.CompletionResult) (bool, error) {
	if result == nil {
		return false, errors.New("completion result is required")
	}

	currentTime := r.timeProvider.Now().UTC()

	query := `
		UPDATE jobs
		SET status = 'COMPLETED',
		    actual_latency_ms = $2,
		    actual_cost_usd = $3,
		    output_ref = $4,
		    worker_id = NULL,
		    next_run_at = NULL,
		    updated_at = $5
		WHERE job_id = $1 AND status NOT IN ('COMPLETED', 'FAILED', 'CANCELLED')
	`

	res, err := r.DB.ExecContext(ctx, query, jobID, result.ActualLatencyMS, result.ActualCostUSD, result.OutputRef, currentTime)
	if err != nil {
		return false, fmt.Errorf("complete job: %w", err)
	}
	return oneRowAffected(res)
}

// FailTerminal marks a running job as failed after its retry budget is spent.
func (r *JobRepo) FailTerminal(ctx context.Context, jobID string) (bool, error) {
	currentTime := r.timeProvider.Now().UTC()

	res, err := r.DB.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'FAILED',
		    worker_id = NULL,
		    next_run_at = NULL,
		    updated_at = $2
		WHERE job_id = $1 AND status = 'RUNNING'
	`, jobID, currentTime)
	if err != nil {
		return false, fmt.Errorf("fail job: %w", err)
	}
	return oneRowAffected(res)
}

// RequeueWithBackoff returns a running job to the queue, due again at nextRunAt.
func (r *JobRepo) RequeueWithBackoff(ctx context.Context, jobID string, nextRunAt time.Time) (bool, error) {
	currentTime := r.timeProvider.Now().UTC()

	res, err := r.DB.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'QUEUED',
		    worker_id = NULL,
		    next_run_at = $2,
		    updated_at = $3
		WHERE job_id = $1 AND status = 'RUNNING'
	`, jobID, nextRunAt.UTC(), currentTime)
	if err != nil {
		return false, fmt.Errorf("requeue job: %w", err)
	}
	return oneRowAffected(res)
}

// Cancel cancels a job that has not reached a terminal state. Returns
// ErrJobNotFound for unknown ids and ErrJobNotCancellable when the job is
// already terminal.
func (r *JobRepo) Cancel(ctx context.Context, jobID string) (*model.Job, error) {
	currentTime := r.timeProvider.Now().UTC()

	var job *model.Job
	err := pgxutil.WithPgxConn(ctx, r.DB, func(pgxConn *pgx.Conn) error {
		rows, qerr := pgxConn.Query(ctx, `
			UPDATE jobs
			SET status = 'CANCELLED',
			    worker_id = NULL,
			    next_run_at = NULL,
			    updated_at = $2
			WHERE job_id = $1 AND status IN ('QUEUED', 'RUNNING', 'BLOCKED')
			RETURNING `+jobColumns, jobID, currentTime)
		if qerr != nil {
			return qerr
		}
		defer rows.Close()
		var cerr error
		job, cerr = collectJobFromRows(rows)
		return cerr
	})
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("cancel job: %w", err)
	}

	// Zero rows: distinguish a missing job from a terminal one.
	existing, getErr := r.GetByID(ctx, jobID)
	if getErr != nil {
		return nil, getErr
	}
	if existing.Status.Terminal() {
		return nil, ErrJobNotCancellable
	}
	return nil, errors.New("unexpected state: job is cancellable but cancel failed")
}

// ApplyRoute denormalizes a routing decision onto the job row. Terminal jobs
// are never updated.
func (r *JobRepo) ApplyRoute(ctx context.Context, p core.ApplyRouteParams) (bool, error) {
	if p.Decision == nil {
		return false, errors.New("route decision is required")
	}
	if p.Status != "" && !p.Status.Valid() {
		return false, fmt.Errorf("invalid job status: %s", p.Status)
	}

	var (
		chosenID, chosenType         *string
		predLatency, predCost, score *float64
		slaOK                        bool
		violations                   = []string{}
	)
	if p.Decision.Resolved() {
		id := p.Decision.ChosenResourceID
		rt := string(p.Decision.ChosenResourceType)
		chosenID, chosenType = &id, &rt
		if s := p.Decision.ChosenScore(); s != nil {
			predLatency, predCost, score = &s.LatencyPredMS, &s.CostPredUSD, &s.FinalScore
			slaOK = s.SLAOK
			if s.SLAViolations != nil {
				violations = s.SLAViolations
			}
		}
	}

	violationsJSON, err := marshalViolations(violations)
	if err != nil {
		return false, fmt.Errorf("marshal sla violations: %w", err)
	}

	var requestJSON []byte
	if len(p.Request) > 0 {
		requestJSON = []byte(p.Request)
	}

	var statusArg *string
	if p.Status != "" {
		s := string(p.Status)
		statusArg = &s
	}

	currentTime := r.timeProvider.Now().UTC()

	res, execErr := r.DB.ExecContext(ctx, `
		UPDATE jobs
		SET chosen_resource_id = $2,
		    chosen_resource_type = $3,
		    predicted_latency_ms = $4,
		    predicted_cost_usd = $5,
		    final_score = $6,
		    sla_ok = $7,
		    sla_violations = $8,
		    request = COALESCE($9::jsonb, request),
		    status = COALESCE($10::text, status),
		    updated_at = $11
		WHERE job_id = $1
		  AND status NOT IN ('COMPLETED', 'FAILED', 'CANCELLED')
	`, p.JobID, chosenID, chosenType, predLatency, predCost, score, slaOK, violationsJSON, requestJSON, statusArg, currentTime)
	if execErr != nil {
		return false, fmt.Errorf("apply route: %w", execErr)
	}
	return oneRowAffected(res)
}

// SetFeatures persists the dispatch-time feature snapshot on the job row.
func (r *JobRepo) SetFeatures(ctx context.Context, jobID string, features json.RawMessage) (bool, error) {
	if len(features) == 0 {
		return false, errors.New("features are required")
	}

	currentTime := r.timeProvider.Now().UTC()

	res, err := r.DB.ExecContext(ctx, `
		UPDATE jobs
		SET features = $2,
		    updated_at = $3
		WHERE job_id = $1
	`, jobID, []byte(features), currentTime)
	if err != nil {
		return false, fmt.Errorf("set job features: %w", err)
	}
	return oneRowAffected(res)
}

func oneRowAffected(res sql.Result) (bool, error) {
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}
