package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/hszk-dev/mediacache/internal/domain/model"
)

// AssetRepository defines the interface for asset persistence operations.
// Implementations should be provided by the infrastructure layer (e.g., PostgreSQL).
type AssetRepository interface {
	// Create persists a new asset.
	// Returns ErrDuplicateAsset if an asset with the same ID exists.
	Create(ctx context.Context, asset *model.Asset) error

	// GetByID retrieves an asset by its unique identifier.
	// Returns nil and ErrAssetNotFound if the asset does not exist.
	GetByID(ctx context.Context, id uuid.UUID) (*model.Asset, error)

	// Delete removes an asset. Returns ErrAssetNotFound if it does not exist.
	Delete(ctx context.Context, id uuid.UUID) error
}
