package source

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/hszk-dev/mediacache/internal/domain/model"
	"github.com/hszk-dev/mediacache/internal/domain/repository"
	"github.com/hszk-dev/mediacache/internal/mediacache"
)

// ErrNoAddress is returned for assets that cannot be fetched from an origin.
var ErrNoAddress = errors.New("asset has no address")

// FactoryConfig holds configuration for Factory.
type FactoryConfig struct {
	// SegmentBytes is how many origin bytes are committed to the cache at a time.
	SegmentBytes int64
}

// DefaultFactoryConfig returns the default configuration.
func DefaultFactoryConfig() FactoryConfig {
	return FactoryConfig{
		SegmentBytes: 1 << 20,
	}
}

// Factory creates caching sources. A Factory without a cache streams
// everything from the origin.
type Factory struct {
	cache        *mediacache.Manager
	fetcher      repository.Fetcher
	configurator *RequestConfigurator
	segmentBytes int64
}

// NewFactory creates a Factory. cache may be nil when the cache could not be
// opened.
func NewFactory(
	cache *mediacache.Manager,
	fetcher repository.Fetcher,
	configurator *RequestConfigurator,
	cfg FactoryConfig,
) *Factory {
	if cfg.SegmentBytes <= 0 {
		cfg.SegmentBytes = DefaultFactoryConfig().SegmentBytes
	}
	return &Factory{
		cache:        cache,
		fetcher:      fetcher,
		configurator: configurator,
		segmentBytes: cfg.SegmentBytes,
	}
}

// Cached reports whether sources from this factory use the cache.
func (f *Factory) Cached() bool {
	return f.cache != nil
}

// NewSource returns the read path for asset.
func (f *Factory) NewSource(asset *model.Asset) (*Source, error) {
	if !asset.HasAddress() {
		return nil, ErrNoAddress
	}
	return &Source{
		factory: f,
		asset:   asset,
		key:     asset.ResourceKey(),
		request: f.configurator.Configure(asset),
	}, nil
}

// Source reads one asset through the cache.
type Source struct {
	factory *Factory
	asset   *model.Asset
	key     model.ResourceKey
	request RequestConfig
}

func (s *Source) Key() model.ResourceKey {
	return s.key
}

// MimeType returns the manifest type of the asset's streaming format.
func (s *Source) MimeType() string {
	return s.asset.MimeType()
}

// Request returns the origin request configuration.
func (s *Source) Request() RequestConfig {
	return s.request
}

// Size returns the total length of the resource if the cache knows it, or -1.
func (s *Source) Size() int64 {
	if s.factory.cache == nil {
		return -1
	}
	if meta, ok := s.factory.cache.ResourceMeta(s.key); ok {
		return meta.ContentLength
	}
	return -1
}

// Open starts reading length bytes at offset; a negative length reads to the
// end of the resource. It fails with repository.ErrRangeNotSatisfiable when
// offset lies past the known end of the resource.
func (s *Source) Open(ctx context.Context, offset, length int64) (*Stream, error) {
	if offset < 0 {
		return nil, fmt.Errorf("invalid offset %d", offset)
	}
	end := int64(math.MaxInt64)
	if length >= 0 && length <= math.MaxInt64-offset {
		end = offset + length
	}

	st := &Stream{
		ctx:  ctx,
		src:  s,
		pos:  offset,
		end:  end,
		size: -1,
	}
	if s.factory.cache != nil {
		if meta, ok := s.factory.cache.ResourceMeta(s.key); ok {
			st.size = meta.ContentLength
			st.contentType = meta.ContentType
		}
	}
	if st.size >= 0 {
		if offset > 0 && offset >= st.size {
			return nil, fmt.Errorf("%w: offset %d, size %d", repository.ErrRangeNotSatisfiable, offset, st.size)
		}
		st.end = min(st.end, st.size)
	}
	return st, nil
}
