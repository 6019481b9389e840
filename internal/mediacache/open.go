package mediacache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/dustin/go-humanize"

	"github.com/hszk-dev/mediacache/internal/domain/repository"
	"github.com/hszk-dev/mediacache/internal/infrastructure/blobstore"
	"github.com/hszk-dev/mediacache/internal/infrastructure/metrics"
	"github.com/hszk-dev/mediacache/internal/infrastructure/sqlite"
)

const (
	indexFile = "index.db"
	blobDir   = "blobs"
)

type registration struct {
	once    sync.Once
	manager *Manager
	err     error
}

var registry = struct {
	mu      sync.Mutex
	entries map[string]*registration
}{entries: make(map[string]*registration)}

// Open returns the Manager for storageRoot, creating it on first use. Every
// call for the same root returns the same Manager until it is closed, no
// matter how many goroutines race on the first call; later calls ignore
// capacityBytes and opts.
//
// An unreadable or inconsistent index is not an error: the cache under
// storageRoot is wiped and recreated empty. Open fails with an error wrapping
// repository.ErrStorageUnavailable only when the storage cannot be used at all.
func Open(ctx context.Context, storageRoot string, capacityBytes int64, opts ...Option) (*Manager, error) {
	root, err := filepath.Abs(storageRoot)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", repository.ErrStorageUnavailable, err)
	}

	registry.mu.Lock()
	reg, ok := registry.entries[root]
	if !ok {
		reg = &registration{}
		registry.entries[root] = reg
	}
	registry.mu.Unlock()

	reg.once.Do(func() {
		reg.manager, reg.err = open(ctx, root, capacityBytes, opts...)
		if reg.err == nil {
			reg.manager.release = func() { unregister(root, reg) }
		}
	})
	if reg.err != nil {
		// Let a later call try again.
		unregister(root, reg)
		return nil, reg.err
	}
	return reg.manager, nil
}

func unregister(root string, reg *registration) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	if registry.entries[root] == reg {
		delete(registry.entries, root)
	}
}

func open(ctx context.Context, root string, capacityBytes int64, opts ...Option) (*Manager, error) {
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("%w: %v", repository.ErrStorageUnavailable, err)
	}

	m, err := build(ctx, root, capacityBytes, opts...)
	if errors.Is(err, repository.ErrIndexCorrupted) {
		slog.Warn("span cache is corrupted, starting empty", "root", root, "error", err)
		metrics.SpanRecoveriesTotal.Inc()
		if err := wipe(root); err != nil {
			return nil, fmt.Errorf("%w: %v", repository.ErrStorageUnavailable, err)
		}
		m, err = build(ctx, root, capacityBytes, opts...)
	}
	if err != nil {
		if errors.Is(err, repository.ErrStorageUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", repository.ErrStorageUnavailable, err)
	}

	slog.Info("span cache opened",
		"root", root,
		"capacity", humanize.IBytes(uint64(capacityBytes)),
		"used", humanize.IBytes(uint64(m.Stats().TotalBytes)),
	)
	return m, nil
}

func build(ctx context.Context, root string, capacityBytes int64, opts ...Option) (*Manager, error) {
	store, err := blobstore.New(filepath.Join(root, blobDir))
	if err != nil {
		return nil, err
	}
	index, err := sqlite.Open(ctx, filepath.Join(root, indexFile))
	if err != nil {
		return nil, err
	}
	m, err := New(ctx, index, store, capacityBytes, opts...)
	if err != nil {
		_ = index.Close()
		return nil, err
	}
	return m, nil
}

// wipe removes the index database, its journal files and every blob.
func wipe(root string) error {
	for _, name := range []string{indexFile, indexFile + "-wal", indexFile + "-shm", indexFile + "-journal"} {
		if err := os.Remove(filepath.Join(root, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return os.RemoveAll(filepath.Join(root, blobDir))
}
