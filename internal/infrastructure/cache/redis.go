package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/hszk-dev/mediacache/internal/domain/model"
	"github.com/hszk-dev/mediacache/internal/infrastructure/metrics"
)

const (
	// assetCacheKeyPrefix is the prefix for asset cache keys in Redis.
	assetCacheKeyPrefix = "asset:"
)

// assetJSON is the cached representation of an Asset.
type assetJSON struct {
	ID        string            `json:"id"`
	Address   string            `json:"address"`
	Format    string            `json:"format"`
	Headers   map[string]string `json:"headers,omitempty"`
	CreatedAt string            `json:"created_at"`
}

// RedisAssetCache implements AssetCache using Redis as the backing store.
type RedisAssetCache struct {
	client *redis.Client
}

var _ AssetCache = (*RedisAssetCache)(nil)

// NewRedisAssetCache creates a new Redis-backed asset cache.
func NewRedisAssetCache(client *redis.Client) *RedisAssetCache {
	return &RedisAssetCache{
		client: client,
	}
}

// Get retrieves an asset from Redis.
// Returns nil, nil on cache miss.
func (c *RedisAssetCache) Get(ctx context.Context, assetID uuid.UUID) (*model.Asset, error) {
	data, err := c.client.Get(ctx, c.buildKey(assetID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			record(metrics.CacheOpGet, metrics.CacheStatusMiss)
			return nil, nil
		}
		record(metrics.CacheOpGet, metrics.CacheStatusError)
		return nil, fmt.Errorf("redis get: %w", err)
	}

	asset, err := c.deserialize(data)
	if err != nil {
		record(metrics.CacheOpGet, metrics.CacheStatusError)
		return nil, fmt.Errorf("deserialize asset: %w", err)
	}

	record(metrics.CacheOpGet, metrics.CacheStatusHit)
	return asset, nil
}

// Set stores an asset in Redis with the specified TTL.
func (c *RedisAssetCache) Set(ctx context.Context, asset *model.Asset, ttl time.Duration) error {
	data, err := c.serialize(asset)
	if err != nil {
		return fmt.Errorf("serialize asset: %w", err)
	}

	if err := c.client.Set(ctx, c.buildKey(asset.ID), data, ttl).Err(); err != nil {
		record(metrics.CacheOpSet, metrics.CacheStatusError)
		return fmt.Errorf("redis set: %w", err)
	}

	record(metrics.CacheOpSet, metrics.CacheStatusSuccess)
	return nil
}

// Delete removes an asset from Redis.
func (c *RedisAssetCache) Delete(ctx context.Context, assetID uuid.UUID) error {
	if err := c.client.Del(ctx, c.buildKey(assetID)).Err(); err != nil {
		record(metrics.CacheOpDelete, metrics.CacheStatusError)
		return fmt.Errorf("redis del: %w", err)
	}

	record(metrics.CacheOpDelete, metrics.CacheStatusSuccess)
	return nil
}

func (c *RedisAssetCache) buildKey(assetID uuid.UUID) string {
	return assetCacheKeyPrefix + assetID.String()
}

func (c *RedisAssetCache) serialize(asset *model.Asset) ([]byte, error) {
	return json.Marshal(assetJSON{
		ID:        asset.ID.String(),
		Address:   asset.Address,
		Format:    asset.Format.String(),
		Headers:   asset.Headers(),
		CreatedAt: asset.CreatedAt.Format(time.RFC3339Nano),
	})
}

func (c *RedisAssetCache) deserialize(data []byte) (*model.Asset, error) {
	var v assetJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}

	id, err := uuid.Parse(v.ID)
	if err != nil {
		return nil, fmt.Errorf("parse asset ID: %w", err)
	}

	createdAt, err := time.Parse(time.RFC3339Nano, v.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}

	return model.RestoreAsset(id, v.Address, model.StreamingFormat(v.Format), v.Headers, createdAt)
}

func record(op, status string) {
	metrics.CacheOperationsTotal.WithLabelValues(op, status, metrics.CacheTypeRedis).Inc()
}
