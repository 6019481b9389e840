package usecase

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/hszk-dev/mediacache/internal/domain/model"
	"github.com/hszk-dev/mediacache/internal/source"
)

// ByteRange is a single requested range. A negative Length reads to the end
// of the resource. Suffix > 0 asks for the last Suffix bytes and overrides
// Offset and Length.
type ByteRange struct {
	Offset int64
	Length int64
	Suffix int64
}

// StreamOutput is an open stream over an asset.
type StreamOutput struct {
	Asset  *model.Asset
	Stream *source.Stream
	// MimeType is the manifest type of the asset's format; empty for
	// progressive resources.
	MimeType string
	// Offset is where the stream starts after resolving a suffix range.
	Offset int64
	// Ranged is false when a suffix range could not be resolved because the
	// resource length is unknown; the stream then covers the whole resource.
	Ranged bool
}

// StreamService opens byte streams over registered assets.
type StreamService interface {
	OpenStream(ctx context.Context, assetID uuid.UUID, rng ByteRange) (*StreamOutput, error)
}

type streamService struct {
	assets  AssetService
	factory *source.Factory
}

// NewStreamService creates a new StreamService instance.
func NewStreamService(assets AssetService, factory *source.Factory) StreamService {
	return &streamService{
		assets:  assets,
		factory: factory,
	}
}

// OpenStream resolves the asset and opens a stream through the caching source.
// The stream must be closed by the caller.
func (s *streamService) OpenStream(ctx context.Context, assetID uuid.UUID, rng ByteRange) (*StreamOutput, error) {
	asset, err := s.assets.GetAsset(ctx, assetID)
	if err != nil {
		return nil, err
	}

	src, err := s.factory.NewSource(asset)
	if err != nil {
		return nil, err
	}

	offset, length, ranged := rng.Offset, rng.Length, true
	if rng.Suffix > 0 {
		if size := src.Size(); size >= 0 {
			offset = max(size-rng.Suffix, 0)
			length = size - offset
		} else {
			offset, length, ranged = 0, -1, false
		}
	}

	st, err := src.Open(ctx, offset, length)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}

	return &StreamOutput{
		Asset:    asset,
		Stream:   st,
		MimeType: src.MimeType(),
		Offset:   offset,
		Ranged:   ranged,
	}, nil
}
