package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/edgeplane/dispatchd/internal/core"
	"github.com/edgeplane/dispatchd/internal/data"
	apperrors "github.com/edgeplane/dispatchd/internal/errors"
	"github.com/edgeplane/dispatchd/internal/domain/model"
	"github.com/edgeplane/dispatchd/internal/observability/metrics"
)

// TelemetryService ingests resource telemetry and serves the latest-per-resource
// snapshots routing runs against. Cloud and gpu points arriving without a price
// are enriched from the pricing service so cost scoring never sees a zero.
type TelemetryService struct {
	repo    core.TelemetryRepository
	pricing *PricingService
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// TelemetryServiceOptions groups dependencies for TelemetryService.
type TelemetryServiceOptions struct {
	Repo    core.TelemetryRepository // Required: telemetry repository
	Pricing *PricingService          // Optional: price enrichment for cloud/gpu points
	Logger  *slog.Logger             // Optional: structured logger
	Metrics *metrics.Metrics         // Optional: ingest counters
}

// NewTelemetryService constructs a new TelemetryService.
func NewTelemetryService(opts TelemetryServiceOptions) (*TelemetryService, error) {
	if opts.Repo == nil {
		return nil, errors.New("TelemetryRepository is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &TelemetryService{
		repo:    opts.Repo,
		pricing: opts.Pricing,
		logger:  logger.With("component", "telemetry_service"),
		metrics: opts.Metrics,
	}, nil
}

// Ingest validates, enriches, and stores one telemetry point.
func (s *TelemetryService) Ingest(ctx context.Context, p *model.TelemetryPoint) (*model.TelemetryPoint, error) {
	if p == nil {
		return nil, apperrors.Validation("telemetry point is required")
	}

	if err := p.Validate(); err != nil {
		s.countIngest(p.ResourceType, metrics.OutcomeError)
		return nil, apperrors.Validation(err.Error())
	}

	s.enrichPrice(ctx, p)

	stored, err := s.repo.Insert(ctx, p)
	if err != nil {
		s.countIngest(p.ResourceType, metrics.OutcomeError)
		return nil, fmt.Errorf("insert telemetry: %w", apperrors.MapDBError(err))
	}
	s.countIngest(stored.ResourceType, metrics.OutcomeSuccess)

	s.logger.DebugContext(ctx, "telemetry ingested",
		"resource_id", stored.ResourceID,
		"resource_type", stored.ResourceType,
	)
	return stored, nil
}

// IngestBatch stores a batch of telemetry points, failing fast on the first
// invalid point so a bad batch never half-applies silently.
func (s *TelemetryService) IngestBatch(ctx context.Context, batch *model.TelemetryBatch) ([]*model.TelemetryPoint, error) {
	if batch == nil || len(batch.Points) == 0 {
		return nil, apperrors.Validation("telemetry batch must contain at least one point")
	}
	if err := batch.Validate(); err != nil {
		return nil, apperrors.Validation(err.Error())
	}

	stored := make([]*model.TelemetryPoint, 0, len(batch.Points))
	for i := range batch.Points {
		point, err := s.Ingest(ctx, &batch.Points[i])
		if err != nil {
			return stored, fmt.Errorf("ingest point %d: %w", i, err)
		}
		stored = append(stored, point)
	}
	return stored, nil
}

// LatestByResource returns the newest telemetry point for one resource.
func (s *TelemetryService) LatestByResource(ctx context.Context, resourceID string) (*model.TelemetryPoint, error) {
	point, err := s.repo.LatestByResource(ctx, resourceID)
	if err != nil {
		if errors.Is(err, data.ErrTelemetryNotFound) {
			return nil, apperrors.NotFoundf("no telemetry for resource %q", resourceID)
		}
		return nil, fmt.Errorf("load telemetry for %s: %w", resourceID, err)
	}
	return point, nil
}

// ListResources returns the latest snapshot of every known resource in the
// deterministic order routing evaluates them.
func (s *TelemetryService) ListResources(ctx context.Context, limit int) ([]model.ResourceSnapshot, error) {
	snapshots, err := s.repo.ListLatestSnapshots(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list resource snapshots: %w", err)
	}
	return snapshots, nil
}

// enrichPrice fills a missing cloud/gpu price from the pricing service.
// Lookup failures only log: degraded pricing falls back to the scoring
// defaults rather than rejecting telemetry.
func (s *TelemetryService) enrichPrice(ctx context.Context, p *model.TelemetryPoint) {
	if s.pricing == nil || p.PricePerHourUSD > 0 {
		return
	}
	sku := s.pricing.SKUForResourceType(p.ResourceType)
	if sku == "" {
		return
	}
	price, err := s.pricing.PricePerHour(ctx, sku)
	if err != nil {
		s.logger.WarnContext(ctx, "price enrichment failed",
			"resource_id", p.ResourceID,
			"sku", sku,
			"error", err,
		)
		return
	}
	p.PricePerHourUSD = price
}

func (s *TelemetryService) countIngest(rt model.ResourceType, outcome string) {
	if s.metrics == nil {
		return
	}
	s.metrics.TelemetryIngestTotal.WithLabelValues(string(rt), outcome).Inc()
}
