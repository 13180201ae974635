package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/edgeplane/dispatchd/config"
	"github.com/edgeplane/dispatchd/internal/core"
	"github.com/edgeplane/dispatchd/internal/data"
	"github.com/edgeplane/dispatchd/internal/domain/model"
	"github.com/edgeplane/dispatchd/internal/observability/metrics"
)

const maxPriceResponseBytes = 256 * 1024

// PricingService resolves per-hour compute prices from the retail prices API,
// caching results so ingest-path lookups stay off the external service.
type PricingService struct {
	cfg          config.PricingConfig
	cache        core.PriceCacheRepository
	http         *http.Client
	limiter      *rate.Limiter
	logger       *slog.Logger
	metrics      *metrics.Metrics
	timeProvider data.TimeProvider
}

// PricingServiceOptions groups dependencies for PricingService.
type PricingServiceOptions struct {
	Config       config.PricingConfig
	Cache        core.PriceCacheRepository // Optional: nil disables caching
	HTTPClient   *http.Client              // Optional: defaults with Config.RequestTimeout
	Logger       *slog.Logger              // Optional: structured logger
	Metrics      *metrics.Metrics          // Optional: lookup counters
	TimeProvider data.TimeProvider         // Optional: defaults to real time
}

// NewPricingService constructs a new PricingService.
func NewPricingService(opts PricingServiceOptions) *PricingService {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Config.RequestTimeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tp := opts.TimeProvider
	if tp == nil {
		tp = &data.RealTimeProvider{}
	}
	return &PricingService{
		cfg:          opts.Config,
		cache:        opts.Cache,
		http:         hc,
		limiter:      rate.NewLimiter(rate.Limit(opts.Config.RequestsPerSecond), 1),
		logger:       logger.With("component", "pricing_service"),
		metrics:      opts.Metrics,
		timeProvider: tp,
	}
}

// SKUForResourceType returns the configured SKU priced for a resource type.
// Edge hardware has no retail listing and returns "".
func (s *PricingService) SKUForResourceType(rt model.ResourceType) string {
	switch rt {
	case model.ResourceTypeCloud:
		return s.cfg.CloudSKU
	case model.ResourceTypeGPU:
		return s.cfg.GPUSKU
	default:
		return ""
	}
}

// PricePerHour returns the hourly price for a SKU, serving from cache when
// fresh and falling back to the external API otherwise.
func (s *PricingService) PricePerHour(ctx context.Context, sku string) (float64, error) {
	if sku == "" {
		return 0, fmt.Errorf("sku is required")
	}

	if s.cache != nil {
		cached, err := s.cache.Get(ctx, sku, s.cfg.Region)
		if err != nil {
			s.logger.WarnContext(ctx, "price cache read failed", "sku", sku, "error", err)
		} else if cached != nil {
			s.countLookup("cache", metrics.OutcomeSuccess)
			return cached.PricePerHour, nil
		}
	}

	price, err := s.fetchPrice(ctx, sku)
	if err != nil {
		s.countLookup("api", metrics.OutcomeError)
		return 0, err
	}
	s.countLookup("api", metrics.OutcomeSuccess)

	if s.cache != nil {
		entry := core.CachedPrice{
			SKU:          sku,
			Region:       s.cfg.Region,
			PricePerHour: price,
			FetchedAt:    s.timeProvider.Now(),
		}
		if err := s.cache.Set(ctx, entry, s.cfg.CacheTTL); err != nil {
			s.logger.WarnContext(ctx, "price cache write failed", "sku", sku, "error", err)
		}
	}
	return price, nil
}

type retailPriceItem struct {
	RetailPrice   float64 `json:"retailPrice"`
	UnitOfMeasure string  `json:"unitOfMeasure"`
	ArmSKUName    string  `json:"armSkuName"`
}

type retailPriceResponse struct {
	Items []retailPriceItem `json:"Items"`
}

func (s *PricingService) fetchPrice(ctx context.Context, sku string) (float64, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("pricing rate limit wait: %w", err)
	}

	filter := fmt.Sprintf(
		"serviceName eq 'Virtual Machines' and armRegionName eq '%s' and armSkuName eq '%s' and priceType eq 'Consumption'",
		s.cfg.Region, sku,
	)
	endpoint := s.cfg.BaseURL + "?$filter=" + url.QueryEscape(filter)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("build pricing request: %w", err)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetch price for %s: %w", sku, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxPriceResponseBytes))
	if err != nil {
		return 0, fmt.Errorf("read pricing response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("pricing API returned status %d", resp.StatusCode)
	}

	var out retailPriceResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return 0, fmt.Errorf("decode pricing response: %w", err)
	}
	for _, item := range out.Items {
		if item.RetailPrice > 0 {
			return item.RetailPrice, nil
		}
	}
	return 0, fmt.Errorf("no retail price found for sku %s in %s", sku, s.cfg.Region)
}

// CacheHealth pings the price cache backend; nil cache is always healthy.
func (s *PricingService) CacheHealth(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.cache.Health(ctx)
}

func (s *PricingService) countLookup(source, outcome string) {
	if s.metrics == nil {
		return
	}
	s.metrics.PriceLookupsTotal.WithLabelValues(source, outcome).Inc()
}
