package handler

import (
	"context"

	"github.com/google/uuid"

	"github.com/hszk-dev/mediacache/internal/domain/model"
	"github.com/hszk-dev/mediacache/internal/domain/repository"
	"github.com/hszk-dev/mediacache/internal/mediacache"
	"github.com/hszk-dev/mediacache/internal/usecase"
)

type mockAssetService struct {
	createAssetFn func(ctx context.Context, input usecase.CreateAssetInput) (*model.Asset, error)
	getAssetFn    func(ctx context.Context, assetID uuid.UUID) (*model.Asset, error)
	deleteAssetFn func(ctx context.Context, assetID uuid.UUID) error
}

func (m *mockAssetService) CreateAsset(ctx context.Context, input usecase.CreateAssetInput) (*model.Asset, error) {
	if m.createAssetFn != nil {
		return m.createAssetFn(ctx, input)
	}
	return nil, nil
}

func (m *mockAssetService) GetAsset(ctx context.Context, assetID uuid.UUID) (*model.Asset, error) {
	if m.getAssetFn != nil {
		return m.getAssetFn(ctx, assetID)
	}
	return nil, repository.ErrAssetNotFound
}

func (m *mockAssetService) DeleteAsset(ctx context.Context, assetID uuid.UUID) error {
	if m.deleteAssetFn != nil {
		return m.deleteAssetFn(ctx, assetID)
	}
	return nil
}

type mockPrefetchService struct {
	requestPrefetchFn func(ctx context.Context, assetID uuid.UUID, offset, length int64) error
	processTaskFn     func(ctx context.Context, task repository.PrefetchTask) error
}

func (m *mockPrefetchService) RequestPrefetch(ctx context.Context, assetID uuid.UUID, offset, length int64) error {
	if m.requestPrefetchFn != nil {
		return m.requestPrefetchFn(ctx, assetID, offset, length)
	}
	return nil
}

func (m *mockPrefetchService) ProcessTask(ctx context.Context, task repository.PrefetchTask) error {
	if m.processTaskFn != nil {
		return m.processTaskFn(ctx, task)
	}
	return nil
}

type mockCacheAdmin struct {
	stats   mediacache.Stats
	evictFn func(ctx context.Context, targetBytes int64) (int64, error)
}

func (m *mockCacheAdmin) Stats() mediacache.Stats {
	return m.stats
}

func (m *mockCacheAdmin) Evict(ctx context.Context, targetBytes int64) (int64, error) {
	if m.evictFn != nil {
		return m.evictFn(ctx, targetBytes)
	}
	return 0, nil
}
