package data

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/edgeplane/dispatchd/internal/core"
	"github.com/edgeplane/dispatchd/internal/data/pgxutil"
	"github.com/edgeplane/dispatchd/internal/domain/model"
)

// GetByID retrieves a job by its ID.
func (r *JobRepo) GetByID(ctx context.Context, jobID string) (*model.Job, error) {
	var job *model.Job
	err := pgxutil.WithPgxConn(ctx, r.DB, func(pgxConn *pgx.Conn) error {
		rows, err := pgxConn.Query(ctx, `
			SELECT `+jobColumns+`
			FROM jobs
			WHERE job_id = $1
		`, jobID)
		if err != nil {
			return err
		}
		defer rows.Close()
		job, err = collectJobFromRows(rows)
		return err
	})

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// jobFilterQueryBuilder accumulates AND-ed equality filters with positional args.
type jobFilterQueryBuilder struct {
	query  string
	args   []any
	argIdx int
}

func (b *jobFilterQueryBuilder) addFilter(column string, value any) {
	b.query += fmt.Sprintf(" AND %s = $%d", column, b.argIdx)
	b.args = append(b.args, value)
	b.argIdx++
}

// List returns jobs newest-first with optional status and type filters.
func (r *JobRepo) List(ctx context.Context, opts core.ListJobsOptions) ([]*model.Job, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50 // Default limit
	}
	if limit > 2000 {
		limit = 2000 // Max limit
	}
	offset := max(opts.Offset, 0)

	builder := &jobFilterQueryBuilder{
		query:  `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`,
		args:   []any{},
		argIdx: 1,
	}
	if opts.Status != nil && *opts.Status != "" {
		builder.addFilter("status", string(*opts.Status))
	}
	if opts.Type != nil && *opts.Type != "" {
		builder.addFilter("job_type", string(*opts.Type))
	}

	query := builder.query + fmt.Sprintf(
		" ORDER BY created_at DESC, job_id DESC LIMIT $%d OFFSET $%d",
		builder.argIdx, builder.argIdx+1,
	)
	args := append(builder.args, limit, offset)

	return r.queryJobs(ctx, query, args...)
}

// ListDeadlineCandidates returns non-terminal jobs that carry a deadline, for
// the SLA monitor scan. Oldest first so the jobs closest to breach come up
// before the limit cuts off.
func (r *JobRepo) ListDeadlineCandidates(ctx context.Context, limit int) ([]*model.Job, error) {
	if limit <= 0 {
		limit = 2000
	}

	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE status IN ('QUEUED', 'RUNNING')
		  AND sla_deadline_ms IS NOT NULL
		ORDER BY created_at ASC, job_id ASC
		LIMIT $1
	`
	return r.queryJobs(ctx, query, limit)
}

// ListSLAAffected returns jobs whose placement is in trouble: blocked jobs,
// plus jobs routed despite recorded deadline or budget violations. Newest
// activity first.
func (r *JobRepo) ListSLAAffected(ctx context.Context, limit int) ([]*model.Job, error) {
	if limit <= 0 {
		limit = 200
	}
	if limit > 2000 {
		limit = 2000
	}

	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE status = 'BLOCKED'
		   OR (sla_ok = FALSE AND sla_violations <> '[]'::jsonb)
		ORDER BY updated_at DESC, job_id DESC
		LIMIT $1
	`
	return r.queryJobs(ctx, query, limit)
}

func (r *JobRepo) queryJobs(ctx context.Context, query string, args ...any) ([]*model.Job, error) {
	var result []*model.Job
	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("query jobs: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			job, scanErr := scanJobFromRow(rows)
			if scanErr != nil {
				return fmt.Errorf("scan job: %w", scanErr)
			}
			result = append(result, job)
		}
		return rows.Err()
	}); err != nil {
		return nil, err
	}
	return result, nil
}

// Stats returns job counts by lifecycle state.
func (r *JobRepo) Stats(ctx context.Context) (*model.JobStats, error) {
	var s model.JobStats
	err := r.DB.QueryRowContext(ctx, `
  SELECT
    count(*) FILTER (WHERE status = 'QUEUED')    AS queued,
    count(*) FILTER (WHERE status = 'RUNNING')   AS running,
    count(*) FILTER (WHERE status = 'COMPLETED') AS completed,
    count(*) FILTER (WHERE status = 'FAILED')    AS failed,
    count(*) FILTER (WHERE status = 'BLOCKED')   AS blocked,
    count(*) FILTER (WHERE status = 'CANCELLED') AS cancelled
  FROM jobs
  `).Scan(
		&s.Queued,
		&s.Running,
		&s.Completed,
		&s.Failed,
		&s.Blocked,
		&s.Cancelled,
	)
	if err != nil {
		return nil, fmt.Errorf("get job stats: %w", err)
	}
	return &s, nil
}

// ListPredictionSamples returns completed jobs that carry both predictions
// and actuals, newest-first, for prediction error reporting.
func (r *JobRepo) ListPredictionSamples(ctx context.Context, limit int) ([]core.PredictionSample, error) {
	if limit <= 0 {
		limit = 1000
	}

	rows, err := r.DB.QueryContext(ctx, `
		SELECT job_id, predicted_latency_ms, actual_latency_ms, predicted_cost_usd, actual_cost_usd
		FROM jobs
		WHERE status = 'COMPLETED'
		  AND predicted_latency_ms IS NOT NULL
		  AND actual_latency_ms IS NOT NULL
		  AND predicted_cost_usd IS NOT NULL
		  AND actual_cost_usd IS NOT NULL
		ORDER BY updated_at DESC, job_id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query prediction samples: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var samples []core.PredictionSample
	for rows.Next() {
		var s core.PredictionSample
		if scanErr := rows.Scan(&s.JobID, &s.PredictedLatencyMS, &s.ActualLatencyMS, &s.PredictedCostUSD, &s.ActualCostUSD); scanErr != nil {
			return nil, fmt.Errorf("scan prediction sample: %w", scanErr)
		}
		samples = append(samples, s)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, rowsErr
	}
	return samples, nil
}
