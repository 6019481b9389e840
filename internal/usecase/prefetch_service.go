package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/hszk-dev/mediacache/internal/domain/repository"
	"github.com/hszk-dev/mediacache/internal/infrastructure/metrics"
	"github.com/hszk-dev/mediacache/internal/source"
)

const (
	// DefaultMaxRetries is the default number of attempts before a task is dropped.
	DefaultMaxRetries = 3
)

var (
	// ErrPrefetchDisabled is returned when no task queue is configured.
	ErrPrefetchDisabled = errors.New("prefetch is disabled")

	// ErrInvalidRange is returned for prefetch requests with a negative offset or an empty range.
	ErrInvalidRange = errors.New("invalid byte range")
)

// PrefetchServiceConfig holds configuration for PrefetchService.
type PrefetchServiceConfig struct {
	// MaxRetries is the number of failed attempts after which a task is dropped.
	MaxRetries int
}

// DefaultPrefetchServiceConfig returns the default configuration.
func DefaultPrefetchServiceConfig() PrefetchServiceConfig {
	return PrefetchServiceConfig{
		MaxRetries: DefaultMaxRetries,
	}
}

// PrefetchService warms the cache ahead of playback.
type PrefetchService interface {
	// RequestPrefetch queues a prefetch of length bytes at offset; a negative
	// length prefetches to the end of the resource.
	RequestPrefetch(ctx context.Context, assetID uuid.UUID, offset, length int64) error

	// ProcessTask reads the task's range through the caching source.
	// Returns nil on success or when the task is dropped.
	// Returns error for transient failures that should trigger a retry.
	ProcessTask(ctx context.Context, task repository.PrefetchTask) error
}

type prefetchService struct {
	assets  AssetService
	factory *source.Factory
	queue   repository.MessageQueue

	maxRetries int
}

// NewPrefetchService creates a new PrefetchService instance. queue may be nil
// when prefetching is disabled; tasks can then still be processed directly.
func NewPrefetchService(
	assets AssetService,
	factory *source.Factory,
	queue repository.MessageQueue,
	cfg PrefetchServiceConfig,
) PrefetchService {
	return &prefetchService{
		assets:     assets,
		factory:    factory,
		queue:      queue,
		maxRetries: cfg.MaxRetries,
	}
}

func (s *prefetchService) RequestPrefetch(ctx context.Context, assetID uuid.UUID, offset, length int64) error {
	if s.queue == nil {
		return ErrPrefetchDisabled
	}
	if offset < 0 || length == 0 {
		return ErrInvalidRange
	}

	// Reject unknown assets before they reach the queue.
	if _, err := s.assets.GetAsset(ctx, assetID); err != nil {
		return err
	}

	task := repository.PrefetchTask{
		AssetID: assetID,
		Offset:  offset,
		Length:  length,
	}
	if err := s.queue.PublishPrefetchTask(ctx, task); err != nil {
		return fmt.Errorf("publish prefetch task: %w", err)
	}
	return nil
}

func (s *prefetchService) ProcessTask(ctx context.Context, task repository.PrefetchTask) error {
	if task.RetryCount >= s.maxRetries {
		slog.Error("dropping prefetch task after max retries",
			"asset_id", task.AssetID,
			"offset", task.Offset,
			"length", task.Length,
			"retry_count", task.RetryCount,
		)
		metrics.PrefetchTasksTotal.WithLabelValues(metrics.PrefetchDropped).Inc()
		return nil
	}

	n, err := s.prefetch(ctx, task)
	switch {
	case err == nil:
		slog.Info("prefetched range",
			"asset_id", task.AssetID,
			"offset", task.Offset,
			"bytes", n,
		)
		metrics.PrefetchTasksTotal.WithLabelValues(metrics.PrefetchSuccess).Inc()
		return nil
	case errors.Is(err, repository.ErrAssetNotFound),
		errors.Is(err, repository.ErrRangeNotSatisfiable),
		errors.Is(err, source.ErrNoAddress):
		slog.Warn("dropping prefetch task",
			"asset_id", task.AssetID,
			"offset", task.Offset,
			"error", err,
		)
		metrics.PrefetchTasksTotal.WithLabelValues(metrics.PrefetchDropped).Inc()
		return nil
	default:
		metrics.PrefetchTasksTotal.WithLabelValues(metrics.PrefetchRetried).Inc()
		return err
	}
}

func (s *prefetchService) prefetch(ctx context.Context, task repository.PrefetchTask) (int64, error) {
	asset, err := s.assets.GetAsset(ctx, task.AssetID)
	if err != nil {
		return 0, err
	}
	src, err := s.factory.NewSource(asset)
	if err != nil {
		return 0, err
	}
	st, err := src.Open(ctx, task.Offset, task.Length)
	if err != nil {
		return 0, err
	}
	defer st.Close()

	n, err := io.Copy(io.Discard, st)
	if err != nil {
		return n, fmt.Errorf("prefetch: %w", err)
	}
	return n, nil
}
