package usecase

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/hszk-dev/mediacache/internal/domain/model"
	"github.com/hszk-dev/mediacache/internal/domain/repository"
)

// mockAssetRepository provides a configurable mock for AssetRepository.
type mockAssetRepository struct {
	createFn  func(ctx context.Context, asset *model.Asset) error
	getByIDFn func(ctx context.Context, id uuid.UUID) (*model.Asset, error)
	deleteFn  func(ctx context.Context, id uuid.UUID) error
}

func (m *mockAssetRepository) Create(ctx context.Context, asset *model.Asset) error {
	if m.createFn != nil {
		return m.createFn(ctx, asset)
	}
	return nil
}

func (m *mockAssetRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Asset, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	return nil, repository.ErrAssetNotFound
}

func (m *mockAssetRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, id)
	}
	return nil
}

// mockAssetService is a mock implementation of AssetService.
type mockAssetService struct {
	createAssetFn func(ctx context.Context, input CreateAssetInput) (*model.Asset, error)
	getAssetFn    func(ctx context.Context, assetID uuid.UUID) (*model.Asset, error)
	deleteAssetFn func(ctx context.Context, assetID uuid.UUID) error
	getAssetCount atomic.Int32
}

func (m *mockAssetService) CreateAsset(ctx context.Context, input CreateAssetInput) (*model.Asset, error) {
	if m.createAssetFn != nil {
		return m.createAssetFn(ctx, input)
	}
	return nil, nil
}

func (m *mockAssetService) GetAsset(ctx context.Context, assetID uuid.UUID) (*model.Asset, error) {
	m.getAssetCount.Add(1)
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

// assetsByID returns a mockAssetService serving the given assets.
func assetsByID(assets ...*model.Asset) *mockAssetService {
	return &mockAssetService{
		getAssetFn: func(ctx context.Context, assetID uuid.UUID) (*model.Asset, error) {
			for _, a := range assets {
				if a.ID == assetID {
					return a, nil
				}
			}
			return nil, repository.ErrAssetNotFound
		},
	}
}

// mockAssetCache is an in-memory AssetCache with overridable behavior.
type mockAssetCache struct {
	mu       sync.RWMutex
	data     map[uuid.UUID]*model.Asset
	getFn    func(ctx context.Context, assetID uuid.UUID) (*model.Asset, error)
	setFn    func(ctx context.Context, asset *model.Asset, ttl time.Duration) error
	deleteFn func(ctx context.Context, assetID uuid.UUID) error
}

func newMockAssetCache() *mockAssetCache {
	return &mockAssetCache{
		data: make(map[uuid.UUID]*model.Asset),
	}
}

func (m *mockAssetCache) Get(ctx context.Context, assetID uuid.UUID) (*model.Asset, error) {
	if m.getFn != nil {
		return m.getFn(ctx, assetID)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data[assetID], nil
}

func (m *mockAssetCache) Set(ctx context.Context, asset *model.Asset, ttl time.Duration) error {
	if m.setFn != nil {
		return m.setFn(ctx, asset, ttl)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[asset.ID] = asset
	return nil
}

func (m *mockAssetCache) Delete(ctx context.Context, assetID uuid.UUID) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, assetID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, assetID)
	return nil
}

func (m *mockAssetCache) has(assetID uuid.UUID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.data[assetID]
	return ok
}

// mockMessageQueue provides a configurable mock for MessageQueue.
type mockMessageQueue struct {
	publishPrefetchTaskFn  func(ctx context.Context, task repository.PrefetchTask) error
	consumePrefetchTasksFn func(ctx context.Context, handler func(task repository.PrefetchTask) error) error
}

func (m *mockMessageQueue) PublishPrefetchTask(ctx context.Context, task repository.PrefetchTask) error {
	if m.publishPrefetchTaskFn != nil {
		return m.publishPrefetchTaskFn(ctx, task)
	}
	return nil
}

func (m *mockMessageQueue) ConsumePrefetchTasks(ctx context.Context, handler func(task repository.PrefetchTask) error) error {
	if m.consumePrefetchTasksFn != nil {
		return m.consumePrefetchTasksFn(ctx, handler)
	}
	return nil
}

func (m *mockMessageQueue) Close() error {
	return nil
}
