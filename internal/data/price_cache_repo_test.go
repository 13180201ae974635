package data_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeplane/dispatchd/internal/core"
	"github.com/edgeplane/dispatchd/internal/data"
)

// setupTestRedis connects to the test Redis instance or skips the test when
// it is not reachable.
func setupTestRedis(t *testing.T) redis.UniversalClient {
	t.Helper()

	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:56379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skip("Test Redis not available:", err)
	}

	t.Cleanup(func() {
		_ = client.Close()
	})
	return client
}

func TestRedisPriceCacheRoundTrip(t *testing.T) {
	client := setupTestRedis(t)
	repo := data.NewRedisPriceCacheRepo(client)
	ctx := context.Background()

	price := core.CachedPrice{
		SKU:          "Standard_D4as_v5",
		Region:       "eastus",
		PricePerHour: 0.192,
		FetchedAt:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, repo.Set(ctx, price, time.Minute))

	got, err := repo.Get(ctx, price.SKU, price.Region)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, price.PricePerHour, got.PricePerHour)
	assert.True(t, price.FetchedAt.Equal(got.FetchedAt))
}

func TestRedisPriceCacheMiss(t *testing.T) {
	client := setupTestRedis(t)
	repo := data.NewRedisPriceCacheRepo(client)

	got, err := repo.Get(context.Background(), "Unknown_SKU", "eastus")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisPriceCacheValidation(t *testing.T) {
	client := setupTestRedis(t)
	repo := data.NewRedisPriceCacheRepo(client)
	ctx := context.Background()

	_, err := repo.Get(ctx, "", "eastus")
	assert.Error(t, err)

	err = repo.Set(ctx, core.CachedPrice{SKU: "x"}, time.Minute)
	assert.Error(t, err)
}

func TestRedisPriceCacheHealth(t *testing.T) {
	client := setupTestRedis(t)
	repo := data.NewRedisPriceCacheRepo(client)

	assert.NoError(t, repo.Health(context.Background()))
}
