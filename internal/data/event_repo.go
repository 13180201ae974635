package data

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/edgeplane/dispatchd/internal/domain/model"
)

// EventRepo provides database operations for the append-only job event log.
type EventRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewEventRepo creates a new EventRepo instance.
func NewEventRepo(db *sql.DB, cfg RepoConfig) *EventRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}

	return &EventRepo{
		DB:           db,
		timeProvider: tp,
		logger:       cfg.Logger,
	}
}

// Append records one job lifecycle event. Events are append-only.
func (r *EventRepo) Append(ctx context.Context, jobID string, kind model.EventKind, message string) error {
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO job_events (ts, job_id, event, message)
		VALUES ($1, $2, $3, $4)
	`, r.timeProvider.Now().UTC(), jobID, string(kind), message)
	if err != nil {
		return fmt.Errorf("append job event: %w", err)
	}
	return nil
}

// ListByJob returns the events for one job, newest-first.
func (r *EventRepo) ListByJob(ctx context.Context, jobID string, limit int) ([]*model.JobEvent, error) {
	if limit <= 0 {
		limit = 200
	}

	return r.queryEvents(ctx, `
		SELECT id, ts, job_id, event, message
		FROM job_events
		WHERE job_id = $1
		ORDER BY ts DESC, id DESC
		LIMIT $2
	`, jobID, limit)
}

func (r *EventRepo) queryEvents(ctx context.Context, query string, args ...any) ([]*model.JobEvent, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query job events: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var events []*model.JobEvent
	for rows.Next() {
		ev := &model.JobEvent{}
		if scanErr := rows.Scan(&ev.ID, &ev.TS, &ev.JobID, &ev.Kind, &ev.Message); scanErr != nil {
			return nil, fmt.Errorf("scan job event: %w", scanErr)
		}
		events = append(events, ev)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, rowsErr
	}
	return events, nil
}
