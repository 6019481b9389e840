package usecase

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/hszk-dev/mediacache/internal/domain/model"
	"github.com/hszk-dev/mediacache/internal/infrastructure/cache"
	"github.com/hszk-dev/mediacache/internal/infrastructure/metrics"
)

// CachedAssetServiceConfig holds configuration for the cached asset service.
type CachedAssetServiceConfig struct {
	// CacheTTL is the TTL for cached asset registrations.
	CacheTTL time.Duration
}

// DefaultCachedAssetServiceConfig returns the default configuration.
func DefaultCachedAssetServiceConfig() CachedAssetServiceConfig {
	return CachedAssetServiceConfig{
		CacheTTL: 5 * time.Minute,
	}
}

// cachedAssetService wraps AssetService with a cache-aside lookup.
// Every stream and prefetch resolves its asset first, so lookups are hot.
type cachedAssetService struct {
	delegate AssetService
	cache    cache.AssetCache
	sfGroup  singleflight.Group

	cacheTTL time.Duration
}

// NewCachedAssetService creates an AssetService that caches lookups.
func NewCachedAssetService(
	delegate AssetService,
	assetCache cache.AssetCache,
	cfg CachedAssetServiceConfig,
) AssetService {
	return &cachedAssetService{
		delegate: delegate,
		cache:    assetCache,
		cacheTTL: cfg.CacheTTL,
	}
}

func (s *cachedAssetService) CreateAsset(ctx context.Context, input CreateAssetInput) (*model.Asset, error) {
	return s.delegate.CreateAsset(ctx, input)
}

// GetAsset coalesces concurrent lookups of the same asset with singleflight.
func (s *cachedAssetService) GetAsset(ctx context.Context, assetID uuid.UUID) (*model.Asset, error) {
	result, err, shared := s.sfGroup.Do(assetID.String(), func() (any, error) {
		return s.getAssetWithCache(ctx, assetID)
	})

	if shared {
		metrics.SingleflightRequestsTotal.WithLabelValues(metrics.SingleflightShared).Inc()
	} else {
		metrics.SingleflightRequestsTotal.WithLabelValues(metrics.SingleflightInitiated).Inc()
	}

	if err != nil {
		return nil, err
	}
	return result.(*model.Asset), nil
}

func (s *cachedAssetService) getAssetWithCache(ctx context.Context, assetID uuid.UUID) (*model.Asset, error) {
	asset, err := s.cache.Get(ctx, assetID)
	if err != nil {
		slog.Warn("cache get failed, falling back to database",
			"asset_id", assetID,
			"error", err,
		)
	}
	if asset != nil {
		return asset, nil
	}

	asset, err = s.delegate.GetAsset(ctx, assetID)
	if err != nil {
		return nil, err
	}

	if err := s.cache.Set(ctx, asset, s.cacheTTL); err != nil {
		slog.Warn("failed to cache asset",
			"asset_id", assetID,
			"error", err,
		)
	}
	return asset, nil
}

// DeleteAsset invalidates the cached registration before deleting it.
func (s *cachedAssetService) DeleteAsset(ctx context.Context, assetID uuid.UUID) error {
	if err := s.cache.Delete(ctx, assetID); err != nil {
		slog.Warn("failed to invalidate cached asset",
			"asset_id", assetID,
			"error", err,
		)
	}
	return s.delegate.DeleteAsset(ctx, assetID)
}
