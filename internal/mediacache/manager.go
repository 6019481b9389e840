// Package mediacache implements a size-bounded, persistent byte-range cache
// for media resources.
//
// A Manager tracks which byte spans of which resources are cached, stores the
// bytes as immutable blob files and keeps the total size under a fixed
// capacity by evicting the least recently used spans across all resources.
package mediacache

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"

	"github.com/hszk-dev/mediacache/internal/domain/model"
	"github.com/hszk-dev/mediacache/internal/domain/repository"
	"github.com/hszk-dev/mediacache/internal/infrastructure/metrics"
)

// DefaultMaxSpanBytes bounds how large coalescing may grow a single span.
const DefaultMaxSpanBytes int64 = 16 << 20

// ErrClosed is returned by writes on a closed Manager.
var ErrClosed = errors.New("cache manager closed")

// Option configures a Manager.
type Option func(*Manager)

// WithMaxSpanBytes sets the coalescing limit for a single span.
func WithMaxSpanBytes(n int64) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxSpan = n
		}
	}
}

// WithPolicy replaces the default LRU eviction policy.
func WithPolicy(p EvictionPolicy) Option {
	return func(m *Manager) {
		if p != nil {
			m.policy = p
		}
	}
}

// Stats is a point-in-time view of the cache.
type Stats struct {
	TotalBytes    int64 `json:"total_bytes"`
	CapacityBytes int64 `json:"capacity_bytes"`
	Spans         int   `json:"spans"`
	Resources     int   `json:"resources"`
}

// Manager owns the range index, the byte store and the eviction policy.
// All methods are safe for concurrent use.
type Manager struct {
	index    repository.RangeIndex
	store    repository.ByteStore
	policy   EvictionPolicy
	capacity int64
	maxSpan  int64

	mu        sync.Mutex
	spans     map[model.ResourceKey][]model.Span // sorted by offset, never overlapping
	resources map[model.ResourceKey]model.ResourceMeta
	total     int64
	count     int
	clock     uint64
	refs      map[string]int // segments referencing each blob
	pins      map[string]int // in-flight reads per blob
	closed    bool
	release   func()
}

// New builds a Manager over an already opened index and store and loads the
// persisted span set. Spans whose blobs are missing are dropped, blobs no span
// references are removed, and if the restored size exceeds the capacity the
// least recently used spans are evicted.
//
// New returns an error wrapping repository.ErrIndexCorrupted when the index
// content is inconsistent. Open handles that case by starting over empty.
func New(ctx context.Context, index repository.RangeIndex, store repository.ByteStore, capacityBytes int64, opts ...Option) (*Manager, error) {
	if capacityBytes <= 0 {
		return nil, fmt.Errorf("invalid cache capacity %d", capacityBytes)
	}

	m := &Manager{
		index:     index,
		store:     store,
		policy:    LRUPolicy{},
		capacity:  capacityBytes,
		maxSpan:   DefaultMaxSpanBytes,
		spans:     make(map[model.ResourceKey][]model.Span),
		resources: make(map[model.ResourceKey]model.ResourceMeta),
		refs:      make(map[string]int),
		pins:      make(map[string]int),
	}
	for _, opt := range opts {
		opt(m)
	}

	if err := m.load(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) load(ctx context.Context) error {
	snap, err := m.index.Load(ctx)
	if err != nil {
		return err
	}

	slices.SortFunc(snap.Spans, func(a, b model.Span) int {
		if c := cmp.Compare(a.Key, b.Key); c != 0 {
			return c
		}
		return cmp.Compare(a.Offset, b.Offset)
	})

	var batch repository.IndexBatch
	for _, s := range snap.Spans {
		if missing := m.missingBlob(s); missing != "" {
			slog.Warn("dropping cached span with missing blob",
				"key", s.Key, "offset", s.Offset, "length", s.Length, "blob_id", missing)
			batch.DeleteSpans = append(batch.DeleteSpans, repository.SpanRef{Key: s.Key, Offset: s.Offset})
			continue
		}
		spans := m.spans[s.Key]
		if n := len(spans); n > 0 && spans[n-1].End() > s.Offset {
			return fmt.Errorf("%w: spans %s@%d and %s@%d overlap",
				repository.ErrIndexCorrupted, s.Key, spans[n-1].Offset, s.Key, s.Offset)
		}
		m.retain(s)
		m.spans[s.Key] = append(spans, s)
		m.total += s.Length
		m.count++
		m.clock = max(m.clock, s.LastAccess)
	}

	for _, meta := range snap.Resources {
		if _, ok := m.spans[meta.Key]; ok {
			m.resources[meta.Key] = meta
			continue
		}
		batch.DeleteResources = append(batch.DeleteResources, meta.Key)
	}

	if err := m.index.Apply(ctx, batch); err != nil {
		return fmt.Errorf("failed to drop stale index rows: %w", err)
	}

	m.removeOrphans()

	if m.total > m.capacity {
		freed, garbage, err := m.evictLocked(ctx, m.capacity, nil)
		if err != nil {
			return fmt.Errorf("failed to evict restored spans: %w", err)
		}
		m.removeBlobs(garbage)
		metrics.SpanEvictedBytesTotal.WithLabelValues(metrics.EvictTriggerOpen).Add(float64(freed))
	}

	m.reportLocked()
	slog.Info("span cache loaded",
		"spans", m.count, "resources", len(m.resources), "bytes", m.total, "capacity", m.capacity)
	return nil
}

func (m *Manager) missingBlob(s model.Span) string {
	for _, seg := range s.Segments {
		if !m.store.Exists(seg.BlobID) {
			return seg.BlobID
		}
	}
	return ""
}

func (m *Manager) removeOrphans() {
	ids, err := m.store.List()
	if err != nil {
		slog.Warn("failed to list blobs", "error", err)
		return
	}
	var orphans []string
	for _, id := range ids {
		if _, ok := m.refs[id]; !ok {
			orphans = append(orphans, id)
		}
	}
	if len(orphans) > 0 {
		slog.Info("removing orphaned blobs", "count", len(orphans))
		m.removeBlobs(orphans)
	}
}

// Spans returns copies of the cached spans for key in offset order.
func (m *Manager) Spans(key model.ResourceKey) []model.Span {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]model.Span, 0, len(m.spans[key]))
	for _, s := range m.spans[key] {
		out = append(out, s.Clone())
	}
	return out
}

// Stats returns the current size and population of the cache.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Stats{
		TotalBytes:    m.total,
		CapacityBytes: m.capacity,
		Spans:         m.count,
		Resources:     len(m.spans),
	}
}

// ResourceMeta returns what is known about the resource behind key.
func (m *Manager) ResourceMeta(key model.ResourceKey) (model.ResourceMeta, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	meta, ok := m.resources[key]
	return meta, ok
}

// SetResourceMeta records the length and content type reported by the origin.
// The record is dropped when the last span of the resource is evicted.
func (m *Manager) SetResourceMeta(ctx context.Context, meta model.ResourceMeta) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if cur, ok := m.resources[meta.Key]; ok && cur == meta {
		return nil
	}
	if err := m.index.Apply(ctx, repository.IndexBatch{PutResources: []model.ResourceMeta{meta}}); err != nil {
		return fmt.Errorf("failed to store resource meta: %w", err)
	}
	m.resources[meta.Key] = meta
	return nil
}

// Close releases the index. Blob files stay on disk for the next Open.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	release := m.release
	err := m.index.Close()
	m.mu.Unlock()

	if release != nil {
		release()
	}
	return err
}

// tick advances the logical access clock.
func (m *Manager) tick() uint64 {
	m.clock++
	return m.clock
}

func (m *Manager) retain(s model.Span) {
	for _, seg := range s.Segments {
		m.refs[seg.BlobID]++
	}
}

// findLocked returns the position of the span starting exactly at offset.
func (m *Manager) findLocked(key model.ResourceKey, offset int64) (int, bool) {
	spans := m.spans[key]
	i := sort.Search(len(spans), func(i int) bool { return spans[i].Offset >= offset })
	return i, i < len(spans) && spans[i].Offset == offset
}

// applyLocked persists and then performs the replacement of remove by put.
// It returns blobs that are no longer referenced nor pinned; the caller must
// remove them after releasing the lock.
func (m *Manager) applyLocked(ctx context.Context, remove, put []model.Span, touch ...repository.SpanRef) ([]string, error) {
	batch := repository.IndexBatch{PutSpans: put, TouchSpans: touch}

	removed := make(map[model.ResourceKey]int)
	for _, s := range remove {
		batch.DeleteSpans = append(batch.DeleteSpans, repository.SpanRef{Key: s.Key, Offset: s.Offset})
		removed[s.Key]++
	}
	kept := make(map[model.ResourceKey]bool)
	for _, s := range put {
		kept[s.Key] = true
	}
	var emptied []model.ResourceKey
	for key, n := range removed {
		if kept[key] || n < len(m.spans[key]) {
			continue
		}
		emptied = append(emptied, key)
		if _, ok := m.resources[key]; ok {
			batch.DeleteResources = append(batch.DeleteResources, key)
		}
	}

	if err := m.index.Apply(ctx, batch); err != nil {
		return nil, err
	}

	// Retain first so segments carried from removed spans into put spans never
	// drop to zero references in between.
	for _, s := range put {
		m.retain(s)
	}
	var garbage []string
	for _, s := range remove {
		garbage = append(garbage, m.unlinkLocked(s)...)
	}
	for _, s := range put {
		m.linkLocked(s)
	}
	for _, key := range emptied {
		delete(m.resources, key)
	}
	m.reportLocked()
	return garbage, nil
}

func (m *Manager) linkLocked(s model.Span) {
	i, _ := m.findLocked(s.Key, s.Offset)
	m.spans[s.Key] = slices.Insert(m.spans[s.Key], i, s)
	m.total += s.Length
	m.count++
}

func (m *Manager) unlinkLocked(s model.Span) []string {
	i, ok := m.findLocked(s.Key, s.Offset)
	if !ok {
		return nil
	}
	cur := m.spans[s.Key][i]
	spans := slices.Delete(m.spans[s.Key], i, i+1)
	if len(spans) == 0 {
		delete(m.spans, s.Key)
	} else {
		m.spans[s.Key] = spans
	}
	m.total -= cur.Length
	m.count--

	var garbage []string
	for _, seg := range cur.Segments {
		m.refs[seg.BlobID]--
		if m.refs[seg.BlobID] > 0 {
			continue
		}
		delete(m.refs, seg.BlobID)
		if m.pins[seg.BlobID] == 0 {
			garbage = append(garbage, seg.BlobID)
		}
	}
	return garbage
}

func (m *Manager) pinnedLocked(s model.Span) bool {
	for _, seg := range s.Segments {
		if m.pins[seg.BlobID] > 0 {
			return true
		}
	}
	return false
}

func (m *Manager) pinLocked(segs []model.Segment) {
	for _, seg := range segs {
		m.pins[seg.BlobID]++
	}
}

func (m *Manager) unpin(segs []model.Segment) {
	m.mu.Lock()
	var garbage []string
	for _, seg := range segs {
		m.pins[seg.BlobID]--
		if m.pins[seg.BlobID] > 0 {
			continue
		}
		delete(m.pins, seg.BlobID)
		if _, referenced := m.refs[seg.BlobID]; !referenced {
			garbage = append(garbage, seg.BlobID)
		}
	}
	m.mu.Unlock()
	m.removeBlobs(garbage)
}

func (m *Manager) removeBlobs(ids []string) {
	for _, id := range slices.Compact(slices.Sorted(slices.Values(ids))) {
		if err := m.store.Remove(id); err != nil {
			slog.Warn("failed to remove blob", "blob_id", id, "error", err)
		}
	}
}

func (m *Manager) reportLocked() {
	metrics.SpanBytes.Set(float64(m.total))
	metrics.SpanCount.Set(float64(m.count))
}
