package repository

import (
	"context"
	"io"

	"github.com/hszk-dev/mediacache/internal/domain/model"
)

// IndexSnapshot is the full persisted state of a RangeIndex.
type IndexSnapshot struct {
	Spans     []model.Span
	Resources []model.ResourceMeta
}

// SpanRef addresses a span by its key and start offset.
type SpanRef struct {
	Key        model.ResourceKey
	Offset     int64
	LastAccess uint64
}

// IndexBatch is a set of changes applied atomically.
// Deletes are applied before puts, so a span may be replaced in one batch.
type IndexBatch struct {
	DeleteSpans     []SpanRef
	PutSpans        []model.Span
	TouchSpans      []SpanRef
	PutResources    []model.ResourceMeta
	DeleteResources []model.ResourceKey
}

func (b IndexBatch) Empty() bool {
	return len(b.DeleteSpans) == 0 && len(b.PutSpans) == 0 && len(b.TouchSpans) == 0 &&
		len(b.PutResources) == 0 && len(b.DeleteResources) == 0
}

// RangeIndex persists the span set so it survives process restarts.
type RangeIndex interface {
	// Load returns every persisted span and resource.
	// Returns an error wrapping ErrIndexCorrupted when the data is unreadable.
	Load(ctx context.Context) (*IndexSnapshot, error)

	// Apply commits a batch in a single transaction.
	Apply(ctx context.Context, batch IndexBatch) error

	Close() error
}

// BlobWriter streams a new blob to a temporary location.
// Nothing is visible in the store until Commit succeeds.
type BlobWriter interface {
	io.Writer
	// Size returns the number of bytes written so far.
	Size() int64
	// Commit makes the blob durable and returns its ID.
	Commit() (string, error)
	// Discard removes the temporary data.
	Discard() error
}

// BlobReader reads a committed blob.
type BlobReader interface {
	io.ReaderAt
	io.Closer
}

// ByteStore holds the blob files that back cached spans.
type ByteStore interface {
	Create() (BlobWriter, error)
	// Open returns ErrBlobNotFound when the blob does not exist.
	Open(blobID string) (BlobReader, error)
	Remove(blobID string) error
	Exists(blobID string) bool
	// List returns the IDs of all committed blobs.
	List() ([]string, error)
}
