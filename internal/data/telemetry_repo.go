package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/edgeplane/dispatchd/internal/domain/model"
)

// ErrTelemetryNotFound is returned when a resource has no telemetry.
var ErrTelemetryNotFound = errors.New("telemetry not found")

// TelemetryRepo provides database operations for the resource telemetry
// time series. Points are append-only; routing reads the latest point per
// resource.
type TelemetryRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewTelemetryRepo creates a new TelemetryRepo instance.
func NewTelemetryRepo(db *sql.DB, cfg RepoConfig) *TelemetryRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}

	return &TelemetryRepo{
		DB:           db,
		timeProvider: tp,
		logger:       cfg.Logger,
	}
}

const telemetryColumns = `
  id,
  ts,
  resource_id,
  resource_type,
  cpu_util,
  mem_util,
  gpu_util,
  net_rtt_ms,
  net_bw_mbps,
  price_per_hour_usd,
  reliability,
  power_w,
  extra
`

// Insert appends one telemetry point and returns the stored row.
func (r *TelemetryRepo) Insert(ctx context.Context, p *model.TelemetryPoint) (*model.TelemetryPoint, error) {
	if p == nil {
		return nil, errors.New("telemetry point is required")
	}

	p.ApplyDefaults(r.timeProvider.Now().UTC())
	if err := p.Validate(); err != nil {
		return nil, err
	}

	row := r.DB.QueryRowContext(ctx, `
		INSERT INTO telemetry (
			ts, resource_id, resource_type,
			cpu_util, mem_util, gpu_util,
			net_rtt_ms, net_bw_mbps,
			price_per_hour_usd, reliability, power_w, extra
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING `+telemetryColumns,
		p.TS.UTC(), p.ResourceID, string(p.ResourceType),
		p.CPUUtil, p.MemUtil, p.GPUUtil,
		p.NetRTTMS, p.NetBWMbps,
		p.PricePerHourUSD, p.Reliability, p.PowerW, []byte(p.Extra))

	stored, err := scanTelemetryFromRow(row)
	if err != nil {
		return nil, fmt.Errorf("insert telemetry: %w", err)
	}
	return stored, nil
}

// LatestByResource returns the most recent telemetry point for one resource.
func (r *TelemetryRepo) LatestByResource(ctx context.Context, resourceID string) (*model.TelemetryPoint, error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT `+telemetryColumns+`
		FROM telemetry
		WHERE resource_id = $1
		ORDER BY ts DESC, id DESC
		LIMIT 1
	`, resourceID)

	p, err := scanTelemetryFromRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTelemetryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get latest telemetry: %w", err)
	}
	return p, nil
}

// ListLatestSnapshots returns the latest telemetry point per resource. The
// (resource_type, resource_id) ordering is deliberate: routing iterates in
// this order, so identical fleets always produce identical decisions.
func (r *TelemetryRepo) ListLatestSnapshots(ctx context.Context, limit int) ([]model.ResourceSnapshot, error) {
	if limit <= 0 {
		limit = 500
	}

	rows, err := r.DB.QueryContext(ctx, `
		SELECT `+telemetryColumns+`
		FROM (
			SELECT DISTINCT ON (resource_id) `+telemetryColumns+`
			FROM telemetry
			ORDER BY resource_id, ts DESC, id DESC
		) latest
		ORDER BY resource_type ASC, resource_id ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query latest telemetry: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var snapshots []model.ResourceSnapshot
	for rows.Next() {
		p, scanErr := scanTelemetryFromRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan telemetry: %w", scanErr)
		}
		snapshots = append(snapshots, model.ResourceSnapshot{
			ResourceID:   p.ResourceID,
			ResourceType: p.ResourceType,
			Last:         *p,
		})
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, rowsErr
	}
	return snapshots, nil
}

func scanTelemetryFromRow(scanner jobRowScanner) (*model.TelemetryPoint, error) {
	p := &model.TelemetryPoint{}
	var extra []byte
	if err := scanner.Scan(
		&p.ID,
		&p.TS,
		&p.ResourceID,
		&p.ResourceType,
		&p.CPUUtil,
		&p.MemUtil,
		&p.GPUUtil,
		&p.NetRTTMS,
		&p.NetBWMbps,
		&p.PricePerHourUSD,
		&p.Reliability,
		&p.PowerW,
		&extra,
	); err != nil {
		return nil, err
	}
	p.Extra = cloneJSON(extra)
	return p, nil
}
