package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/edgeplane/dispatchd/internal/core"
)

// RedisPriceCacheRepo caches external hourly price lookups in Redis so the
// retail price API is hit at most once per SKU per TTL window.
type RedisPriceCacheRepo struct {
	client redis.UniversalClient
}

// NewRedisPriceCacheRepo creates a new RedisPriceCacheRepo with the given Redis client.
func NewRedisPriceCacheRepo(client redis.UniversalClient) *RedisPriceCacheRepo {
	return &RedisPriceCacheRepo{client: client}
}

func priceCacheKey(sku, region string) string {
	return "dispatchd:price:" + region + ":" + sku
}

// Get retrieves a cached price. Returns (nil, nil) on cache miss.
func (r *RedisPriceCacheRepo) Get(ctx context.Context, sku, region string) (*core.CachedPrice, error) {
	if sku == "" || region == "" {
		return nil, errors.New("sku and region are required")
	}

	raw, err := r.client.Get(ctx, priceCacheKey(sku, region)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // cache miss
		}
		return nil, fmt.Errorf("redis get price: %w", err)
	}

	var price core.CachedPrice
	if unmarshalErr := json.Unmarshal([]byte(raw), &price); unmarshalErr != nil {
		return nil, fmt.Errorf("decode cached price: %w", unmarshalErr)
	}
	return &price, nil
}

// Set stores a price with the given TTL.
func (r *RedisPriceCacheRepo) Set(ctx context.Context, price core.CachedPrice, ttl time.Duration) error {
	if price.SKU == "" || price.Region == "" {
		return errors.New("sku and region are required")
	}
	if ttl <= 0 {
		ttl = time.Second
	}

	raw, err := json.Marshal(price)
	if err != nil {
		return fmt.Errorf("encode cached price: %w", err)
	}
	return r.client.Set(ctx, priceCacheKey(price.SKU, price.Region), raw, ttl).Err()
}

// Health checks the health of the Redis connection.
func (r *RedisPriceCacheRepo) Health(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
