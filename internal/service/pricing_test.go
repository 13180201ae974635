package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeplane/dispatchd/config"
	"github.com/edgeplane/dispatchd/internal/core"
	"github.com/edgeplane/dispatchd/internal/domain/model"
	"github.com/edgeplane/dispatchd/internal/testutil"
)

// fakePriceCache is an in-memory core.PriceCacheRepository.
type fakePriceCache struct {
	mu      sync.Mutex
	entries map[string]core.CachedPrice

	GetErr    error
	HealthErr error
}

func newFakePriceCache() *fakePriceCache {
	return &fakePriceCache{entries: make(map[string]core.CachedPrice)}
}

func (c *fakePriceCache) Get(_ context.Context, sku, region string) (*core.CachedPrice, error) {
	if c.GetErr != nil {
		return nil, c.GetErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[sku+"/"+region]
	if !ok {
		return nil, nil
	}
	cp := entry
	return &cp, nil
}

func (c *fakePriceCache) Set(_ context.Context, price core.CachedPrice, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[price.SKU+"/"+price.Region] = price
	return nil
}

func (c *fakePriceCache) Health(_ context.Context) error { return c.HealthErr }

func pricingConfig(baseURL string) config.PricingConfig {
	return config.PricingConfig{
		Enabled:           true,
		BaseURL:           baseURL,
		Region:            "eastus",
		CloudSKU:          "Standard_D4as_v5",
		GPUSKU:            "Standard_NC4as_T4_v3",
		CacheTTL:          time.Hour,
		RequestTimeout:    5 * time.Second,
		RequestsPerSecond: 100,
	}
}

func TestSKUForResourceType(t *testing.T) {
	svc := NewPricingService(PricingServiceOptions{Config: pricingConfig("http://unused")})

	assert.Equal(t, "Standard_D4as_v5", svc.SKUForResourceType(model.ResourceTypeCloud))
	assert.Equal(t, "Standard_NC4as_T4_v3", svc.SKUForResourceType(model.ResourceTypeGPU))
	assert.Empty(t, svc.SKUForResourceType(model.ResourceTypeEdge))
}

func TestPricePerHourFetchesAndCaches(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		filter := r.URL.Query().Get("$filter")
		assert.Contains(t, filter, "armRegionName eq 'eastus'")
		assert.Contains(t, filter, "armSkuName eq 'Standard_D4as_v5'")
		_, _ = w.Write([]byte(`{"Items":[{"retailPrice":0,"armSkuName":"spot"},{"retailPrice":0.192,"armSkuName":"Standard_D4as_v5"}]}`))
	}))
	defer srv.Close()

	cache := newFakePriceCache()
	svc := NewPricingService(PricingServiceOptions{
		Config: pricingConfig(srv.URL),
		Cache:  cache,
	})

	// Zero-price items are skipped; the first positive price wins.
	price, err := svc.PricePerHour(context.Background(), "Standard_D4as_v5")
	require.NoError(t, err)
	assert.Equal(t, 0.192, price)
	assert.Equal(t, 1, calls)

	// Second lookup is served from cache.
	price, err = svc.PricePerHour(context.Background(), "Standard_D4as_v5")
	require.NoError(t, err)
	assert.Equal(t, 0.192, price)
	assert.Equal(t, 1, calls)
}

func TestPricePerHourCacheReadFailureFallsThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"Items":[{"retailPrice":1.5}]}`))
	}))
	defer srv.Close()

	cache := newFakePriceCache()
	cache.GetErr = errors.New("redis down")
	svc := NewPricingService(PricingServiceOptions{
		Config: pricingConfig(srv.URL),
		Cache:  cache,
	})

	price, err := svc.PricePerHour(context.Background(), "sku-1")
	require.NoError(t, err)
	assert.Equal(t, 1.5, price)
}

func TestPricePerHourErrors(t *testing.T) {
	t.Run("empty sku", func(t *testing.T) {
		svc := NewPricingService(PricingServiceOptions{Config: pricingConfig("http://unused")})

		_, err := svc.PricePerHour(context.Background(), "")
		require.Error(t, err)
	})

	t.Run("api status error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "throttled", http.StatusTooManyRequests)
		}))
		defer srv.Close()

		svc := NewPricingService(PricingServiceOptions{Config: pricingConfig(srv.URL)})

		_, err := svc.PricePerHour(context.Background(), "sku-1")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "status 429")
	})

	t.Run("no positive price", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"Items":[{"retailPrice":0}]}`))
		}))
		defer srv.Close()

		svc := NewPricingService(PricingServiceOptions{Config: pricingConfig(srv.URL)})

		_, err := svc.PricePerHour(context.Background(), "sku-1")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no retail price found")
	})
}

func TestCacheHealth(t *testing.T) {
	t.Run("nil cache is healthy", func(t *testing.T) {
		svc := NewPricingService(PricingServiceOptions{Config: pricingConfig("http://unused")})

		assert.NoError(t, svc.CacheHealth(context.Background()))
	})

	t.Run("propagates backend error", func(t *testing.T) {
		cache := newFakePriceCache()
		cache.HealthErr = errors.New("redis down")
		svc := NewPricingService(PricingServiceOptions{
			Config: pricingConfig("http://unused"),
			Cache:  cache,
		})

		assert.Error(t, svc.CacheHealth(context.Background()))
	})
}

func TestIngestEnrichesMissingCloudPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"Items":[{"retailPrice":0.192}]}`))
	}))
	defer srv.Close()

	pricing := NewPricingService(PricingServiceOptions{Config: pricingConfig(srv.URL)})
	repo := testutil.NewFakeTelemetryRepo()
	svc, err := NewTelemetryService(TelemetryServiceOptions{Repo: repo, Pricing: pricing})
	require.NoError(t, err)

	t.Run("missing cloud price filled in", func(t *testing.T) {
		point := testutil.NewTelemetryPoint("cloud-1", model.ResourceTypeCloud).WithPrice(0).Build()

		stored, err := svc.Ingest(context.Background(), point)
		require.NoError(t, err)
		assert.Equal(t, 0.192, stored.PricePerHourUSD)
	})

	t.Run("reported price kept", func(t *testing.T) {
		point := testutil.NewTelemetryPoint("cloud-2", model.ResourceTypeCloud).WithPrice(0.08).Build()

		stored, err := svc.Ingest(context.Background(), point)
		require.NoError(t, err)
		assert.Equal(t, 0.08, stored.PricePerHourUSD)
	})

	t.Run("edge never priced", func(t *testing.T) {
		point := testutil.NewTelemetryPoint("edge-1", model.ResourceTypeEdge).WithPrice(0).Build()

		stored, err := svc.Ingest(context.Background(), point)
		require.NoError(t, err)
		assert.Zero(t, stored.PricePerHourUSD)
	})
}

func TestIngestToleratesPricingFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	pricing := NewPricingService(PricingServiceOptions{Config: pricingConfig(srv.URL)})
	repo := testutil.NewFakeTelemetryRepo()
	svc, err := NewTelemetryService(TelemetryServiceOptions{Repo: repo, Pricing: pricing})
	require.NoError(t, err)

	point := testutil.NewTelemetryPoint("gpu-1", model.ResourceTypeGPU).WithPrice(0).Build()

	stored, err := svc.Ingest(context.Background(), point)
	require.NoError(t, err)
	assert.Zero(t, stored.PricePerHourUSD)
}
