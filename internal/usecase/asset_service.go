package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/hszk-dev/mediacache/internal/domain/model"
	"github.com/hszk-dev/mediacache/internal/domain/repository"
)

var (
	// ErrAddressRequired is returned when registering an asset without an origin address.
	ErrAddressRequired = errors.New("asset address is required")
)

// CreateAssetInput contains the input parameters for registering an asset.
type CreateAssetInput struct {
	Address string
	Format  model.StreamingFormat
	Headers map[string]string
}

// AssetService defines the interface for asset registration.
type AssetService interface {
	// CreateAsset registers a playable resource and the headers used to fetch it.
	CreateAsset(ctx context.Context, input CreateAssetInput) (*model.Asset, error)

	// GetAsset retrieves an asset by ID.
	GetAsset(ctx context.Context, assetID uuid.UUID) (*model.Asset, error)

	// DeleteAsset removes an asset registration. Cached bytes are left to eviction.
	DeleteAsset(ctx context.Context, assetID uuid.UUID) error
}

type assetService struct {
	repo repository.AssetRepository
}

// NewAssetService creates a new AssetService instance.
func NewAssetService(repo repository.AssetRepository) AssetService {
	return &assetService{repo: repo}
}

func (s *assetService) CreateAsset(ctx context.Context, input CreateAssetInput) (*model.Asset, error) {
	address := strings.TrimSpace(input.Address)
	if address == "" {
		return nil, ErrAddressRequired
	}
	if input.Format == "" {
		input.Format = model.FormatProgressive
	}

	asset, err := model.NewAsset(address, input.Format, input.Headers)
	if err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, asset); err != nil {
		return nil, fmt.Errorf("create asset: %w", err)
	}
	return asset, nil
}

func (s *assetService) GetAsset(ctx context.Context, assetID uuid.UUID) (*model.Asset, error) {
	return s.repo.GetByID(ctx, assetID)
}

func (s *assetService) DeleteAsset(ctx context.Context, assetID uuid.UUID) error {
	return s.repo.Delete(ctx, assetID)
}
