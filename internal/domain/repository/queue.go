package repository

import (
	"context"

	"github.com/google/uuid"
)

// PrefetchTask asks a worker to warm the cache for a byte range of an asset.
type PrefetchTask struct {
	AssetID    uuid.UUID `json:"asset_id"`
	Offset     int64     `json:"offset"`
	Length     int64     `json:"length"`
	RetryCount int       `json:"retry_count"`
}

// MessageQueue defines the interface for message queue operations.
// Implementations should be provided by the infrastructure layer (e.g., RabbitMQ).
type MessageQueue interface {
	// PublishPrefetchTask sends a prefetch task to the queue.
	PublishPrefetchTask(ctx context.Context, task PrefetchTask) error

	// ConsumePrefetchTasks consumes tasks until ctx is cancelled.
	// The handler function is called for each received task.
	ConsumePrefetchTasks(ctx context.Context, handler func(task PrefetchTask) error) error

	// Close gracefully closes the connection to the message queue.
	Close() error
}
