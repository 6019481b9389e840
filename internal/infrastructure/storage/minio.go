// Package storage fetches media from S3-compatible object storage.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/hszk-dev/mediacache/internal/domain/repository"
	"github.com/hszk-dev/mediacache/internal/infrastructure/metrics"
)

// Scheme is the address scheme served by Fetcher: s3://bucket/object/key.
const Scheme = "s3"

// objectReader abstracts minio.Object for testability.
// *minio.Object satisfies this interface.
type objectReader interface {
	io.ReadCloser
	Stat() (minio.ObjectInfo, error)
}

// minioClient defines the MinIO operations the fetcher needs.
// This abstraction allows for easier unit testing with mocks.
type minioClient interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (objectReader, error)
	StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
}

// minioClientAdapter wraps *minio.Client to implement minioClient interface.
// This is necessary because *minio.Client.GetObject returns *minio.Object,
// but our interface returns objectReader for testability.
type minioClientAdapter struct {
	client *minio.Client
}

func (a *minioClientAdapter) BucketExists(ctx context.Context, bucketName string) (bool, error) {
	return a.client.BucketExists(ctx, bucketName)
}

func (a *minioClientAdapter) GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (objectReader, error) {
	return a.client.GetObject(ctx, bucketName, objectName, opts)
}

func (a *minioClientAdapter) StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error) {
	return a.client.StatObject(ctx, bucketName, objectName, opts)
}

// ClientConfig holds configuration for the MinIO client.
type ClientConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	// Bucket is checked at startup so misconfiguration fails fast.
	Bucket string
	UseSSL bool
}

// Fetcher implements repository.Fetcher for s3:// addresses.
type Fetcher struct {
	client minioClient
	bucket string
}

var _ repository.Fetcher = (*Fetcher)(nil)

// NewFetcher creates a new MinIO-backed fetcher.
// It verifies the configured bucket exists during initialization.
func NewFetcher(ctx context.Context, cfg ClientConfig) (*Fetcher, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return newFetcherWithMinioClient(ctx, &minioClientAdapter{client: client}, cfg.Bucket)
}

// newFetcherWithMinioClient creates a Fetcher with a given minioClient implementation.
// This is used for dependency injection in tests.
func newFetcherWithMinioClient(ctx context.Context, client minioClient, bucket string) (*Fetcher, error) {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", repository.ErrBucketNotFound, bucket)
	}

	return &Fetcher{
		client: client,
		bucket: bucket,
	}, nil
}

// Fetch reads a byte range of the object named by req.Address.
// Request headers do not apply to object storage and are ignored.
func (f *Fetcher) Fetch(ctx context.Context, req repository.FetchRequest) (*repository.FetchResult, error) {
	res, err := f.fetch(ctx, req)
	status := metrics.StatusSuccess
	if err != nil {
		status = metrics.StatusError
	}
	metrics.OriginRequestsTotal.WithLabelValues(Scheme, status).Inc()
	return res, err
}

func (f *Fetcher) fetch(ctx context.Context, req repository.FetchRequest) (*repository.FetchResult, error) {
	bucket, key, err := ParseAddress(req.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", repository.ErrNetwork, err)
	}
	if req.Offset < 0 {
		return nil, fmt.Errorf("%w: invalid offset %d", repository.ErrNetwork, req.Offset)
	}

	info, err := f.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to stat object %s/%s: %w", repository.ErrNetwork, bucket, key, err)
	}
	if req.Offset > 0 && req.Offset >= info.Size {
		return nil, fmt.Errorf("%w: offset %d, size %d", repository.ErrRangeNotSatisfiable, req.Offset, info.Size)
	}

	remaining := info.Size - req.Offset
	length := remaining
	if req.Length >= 0 {
		length = min(req.Length, remaining)
	}
	if length == 0 {
		return &repository.FetchResult{
			Body:        io.NopCloser(strings.NewReader("")),
			TotalLength: info.Size,
			ContentType: info.ContentType,
		}, nil
	}

	opts := minio.GetObjectOptions{}
	if req.Offset > 0 || length < remaining {
		if err := opts.SetRange(req.Offset, req.Offset+length-1); err != nil {
			return nil, fmt.Errorf("%w: %w", repository.ErrNetwork, err)
		}
	}

	obj, err := f.client.GetObject(ctx, bucket, key, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get object: %w", repository.ErrNetwork, err)
	}

	return &repository.FetchResult{
		Body:        &objectBody{obj: obj, reader: io.LimitReader(obj, length)},
		TotalLength: info.Size,
		ContentType: info.ContentType,
	}, nil
}

// Ping verifies the MinIO connection is alive by checking bucket access.
func (f *Fetcher) Ping(ctx context.Context) error {
	_, err := f.client.BucketExists(ctx, f.bucket)
	if err != nil {
		return fmt.Errorf("failed to ping minio: %w", err)
	}
	return nil
}

// Bucket returns the configured bucket name.
func (f *Fetcher) Bucket() string {
	return f.bucket
}

// ParseAddress splits s3://bucket/object/key into bucket and object key.
func ParseAddress(address string) (bucket, key string, err error) {
	u, err := url.Parse(address)
	if err != nil {
		return "", "", fmt.Errorf("invalid object address %q: %w", address, err)
	}
	if !strings.EqualFold(u.Scheme, Scheme) {
		return "", "", fmt.Errorf("invalid object address %q: scheme must be %s", address, Scheme)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return "", "", fmt.Errorf("invalid object address %q: want %s://bucket/key", address, Scheme)
	}
	return u.Host, key, nil
}

// objectBody marks read failures as network errors.
type objectBody struct {
	obj    io.Closer
	reader io.Reader
}

func (b *objectBody) Read(p []byte) (int, error) {
	n, err := b.reader.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		err = fmt.Errorf("%w: %w", repository.ErrNetwork, err)
	}
	return n, err
}

func (b *objectBody) Close() error {
	return b.obj.Close()
}
