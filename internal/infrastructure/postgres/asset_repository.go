package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hszk-dev/mediacache/internal/domain/model"
	"github.com/hszk-dev/mediacache/internal/domain/repository"
	"github.com/hszk-dev/mediacache/internal/infrastructure/metrics"
)

// DBTX is an interface that abstracts pgxpool.Pool and pgx.Tx for testability.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// AssetRepository implements repository.AssetRepository using PostgreSQL.
type AssetRepository struct {
	db DBTX
}

// NewAssetRepository creates a new AssetRepository instance.
func NewAssetRepository(db DBTX) *AssetRepository {
	return &AssetRepository{db: db}
}

// Create persists a new asset. Headers are stored as a JSON object.
func (r *AssetRepository) Create(ctx context.Context, asset *model.Asset) error {
	const query = `
		INSERT INTO assets (id, address, format, headers, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	headers, err := json.Marshal(asset.Headers())
	if err != nil {
		return fmt.Errorf("failed to encode asset headers: %w", err)
	}

	metrics.DBQueriesTotal.WithLabelValues(metrics.DBQueryInsert, metrics.TableAssets).Inc()
	_, err = r.db.Exec(ctx, query,
		asset.ID,
		asset.Address,
		asset.Format.String(),
		headers,
		asset.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return repository.ErrDuplicateAsset
		}
		return fmt.Errorf("failed to create asset: %w", err)
	}

	return nil
}

// GetByID retrieves an asset by its unique identifier.
func (r *AssetRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Asset, error) {
	const query = `
		SELECT id, address, format, headers, created_at
		FROM assets
		WHERE id = $1
	`

	metrics.DBQueriesTotal.WithLabelValues(metrics.DBQuerySelect, metrics.TableAssets).Inc()
	asset, err := scanAsset(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrAssetNotFound
		}
		return nil, fmt.Errorf("failed to get asset by ID: %w", err)
	}

	return asset, nil
}

// Delete removes an asset.
func (r *AssetRepository) Delete(ctx context.Context, id uuid.UUID) error {
	const query = `DELETE FROM assets WHERE id = $1`

	metrics.DBQueriesTotal.WithLabelValues(metrics.DBQueryDelete, metrics.TableAssets).Inc()
	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete asset: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return repository.ErrAssetNotFound
	}
	return nil
}

func scanAsset(row pgx.Row) (*model.Asset, error) {
	var (
		id        uuid.UUID
		address   string
		format    string
		raw       []byte
		createdAt time.Time
	)
	if err := row.Scan(&id, &address, &format, &raw, &createdAt); err != nil {
		return nil, err
	}

	var headers map[string]string
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &headers); err != nil {
		return nil, fmt.Errorf("invalid headers for asset %s: %w", id, err)
		}
	}

	return model.RestoreAsset(id, address, model.StreamingFormat(format), headers, createdAt)
}

// Compile-time verification that AssetRepository implements repository.AssetRepository.
var _ repository.AssetRepository = (*AssetRepository)(nil)
