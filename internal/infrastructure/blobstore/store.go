// Package blobstore stores cached span data as immutable files on local disk.
package blobstore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/hszk-dev/mediacache/internal/domain/repository"
)

const (
	defaultShardPrefixLen = 2
	defaultDirPerm        = 0o700
	tmpDirName            = "tmp"
)

// Store implements repository.ByteStore on the local filesystem.
// Blobs live at <dir>/<shard>/<id>; in-flight writes live in <dir>/tmp.
type Store struct {
	dir            string
	shardPrefixLen int
	dirPerm        os.FileMode
}

var _ repository.ByteStore = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithShardPrefixLen sets the number of ID characters used for sharding.
// Use 0 to disable sharding. Defaults to 2.
func WithShardPrefixLen(n int) Option {
	return func(s *Store) {
		s.shardPrefixLen = n
	}
}

// WithDirPerm sets the permissions used for created directories.
func WithDirPerm(mode os.FileMode) Option {
	return func(s *Store) {
		s.dirPerm = mode
	}
}

// New creates a Store rooted at dir. Leftover temporary files from a
// previous process are removed.
func New(dir string, opts ...Option) (*Store, error) {
	if dir == "" {
		return nil, errors.New("blob store dir is empty")
	}
	s := &Store{
		dir:            dir,
		shardPrefixLen: defaultShardPrefixLen,
		dirPerm:        defaultDirPerm,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.shardPrefixLen < 0 {
		return nil, errors.New("shard prefix length must be >= 0")
	}

	tmp := filepath.Join(dir, tmpDirName)
	if err := os.RemoveAll(tmp); err != nil {
		return nil, fmt.Errorf("clear temp dir: %w", err)
	}
	if err := os.MkdirAll(tmp, s.dirPerm); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return s, nil
}

// Dir returns the root directory of the store.
func (s *Store) Dir() string {
	return s.dir
}

// Create opens a writer for a new blob.
func (s *Store) Create() (repository.BlobWriter, error) {
	tmp, err := os.CreateTemp(filepath.Join(s.dir, tmpDirName), "blob-*")
	if err != nil {
		return nil, fmt.Errorf("create temp blob: %w", err)
	}
	return &blobWriter{store: s, file: tmp, tmpPath: tmp.Name()}, nil
}

// Open opens a committed blob for reading.
func (s *Store) Open(blobID string) (repository.BlobReader, error) {
	path, err := s.path(blobID)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path) //nolint:gosec // path is derived from a generated blob ID
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", repository.ErrBlobNotFound, blobID)
		}
		return nil, err
	}
	return f, nil
}

// Remove deletes a blob. Removing a missing blob is not an error.
func (s *Store) Remove(blobID string) error {
	path, err := s.path(blobID)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Exists reports whether a committed blob is present.
func (s *Store) Exists(blobID string) bool {
	path, err := s.path(blobID)
	if err != nil {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// List walks the shard directories and returns every committed blob ID.
func (s *Store) List() ([]string, error) {
	var ids []string
	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != s.dir && d.Name() == tmpDirName {
				return filepath.SkipDir
			}
			return nil
		}
		if _, perr := uuid.Parse(d.Name()); perr == nil {
			ids = append(ids, d.Name())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *Store) path(blobID string) (string, error) {
	if blobID == "" || strings.ContainsAny(blobID, `/\.`) {
		return "", fmt.Errorf("invalid blob id %q", blobID)
	}
	if s.shardPrefixLen <= 0 {
		return filepath.Join(s.dir, blobID), nil
	}
	prefixLen := min(s.shardPrefixLen, len(blobID))
	return filepath.Join(s.dir, blobID[:prefixLen], blobID), nil
}

type blobWriter struct {
	store   *Store
	file    *os.File
	tmpPath string
	size    int64
	done    bool
}

func (w *blobWriter) Write(p []byte) (int, error) {
	if w.done {
		return 0, errors.New("blob writer is closed")
	}
	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

func (w *blobWriter) Size() int64 {
	return w.size
}

// Commit syncs the temp file and moves it to its final, sharded location.
func (w *blobWriter) Commit() (string, error) {
	if w.done {
		return "", errors.New("blob writer is closed")
	}
	w.done = true

	if err := w.file.Sync(); err != nil {
		_ = w.file.Close()
		_ = os.Remove(w.tmpPath)
		return "", err
	}
	if err := w.file.Close(); err != nil {
		_ = os.Remove(w.tmpPath)
		return "", err
	}

	id := uuid.NewString()
	finalPath, err := w.store.path(id)
	if err != nil {
		_ = os.Remove(w.tmpPath)
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(finalPath), w.store.dirPerm); err != nil {
		_ = os.Remove(w.tmpPath)
		return "", err
	}
	if err := os.Rename(w.tmpPath, finalPath); err != nil {
		_ = os.Remove(w.tmpPath)
		return "", err
	}
	return id, nil
}

func (w *blobWriter) Discard() error {
	if w.done {
		return nil
	}
	w.done = true
	_ = w.file.Close()
	return os.Remove(w.tmpPath)
}
