package mediacache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/hszk-dev/mediacache/internal/domain/model"
	"github.com/hszk-dev/mediacache/internal/domain/repository"
	"github.com/hszk-dev/mediacache/internal/infrastructure/metrics"
)

var errWriterDone = errors.New("span writer already committed or discarded")

// SpanWriter accumulates the bytes of one span starting at a fixed offset.
// Nothing becomes visible to readers until Commit succeeds. A SpanWriter is
// not safe for concurrent use.
type SpanWriter struct {
	m      *Manager
	key    model.ResourceKey
	offset int64
	blob   repository.BlobWriter
	done   bool
}

// NewWriter starts a span of key at offset. The bytes are staged in the byte
// store without holding any cache lock.
func (m *Manager) NewWriter(key model.ResourceKey, offset int64) (*SpanWriter, error) {
	if offset < 0 {
		return nil, fmt.Errorf("invalid span offset %d", offset)
	}
	blob, err := m.store.Create()
	if err != nil {
		return nil, fmt.Errorf("failed to create blob: %w", err)
	}
	return &SpanWriter{m: m, key: key, offset: offset, blob: blob}, nil
}

func (w *SpanWriter) Write(p []byte) (int, error) {
	if w.done {
		return 0, errWriterDone
	}
	return w.blob.Write(p)
}

// Len returns the number of bytes written so far.
func (w *SpanWriter) Len() int64 {
	return w.blob.Size()
}

// Offset returns the offset the span starts at.
func (w *SpanWriter) Offset() int64 {
	return w.offset
}

// Commit records the written bytes in the cache. Parts of the range that are
// already cached are skipped, the new parts are coalesced with their
// neighbours and the least recently used spans are evicted first when the
// capacity would be exceeded. When the bytes cannot fit even after eviction
// the write is dropped and Commit still returns nil.
//
// On error nothing is recorded.
func (w *SpanWriter) Commit(ctx context.Context) error {
	if w.done {
		return errWriterDone
	}
	w.done = true

	n := w.blob.Size()
	if n == 0 {
		return w.blob.Discard()
	}
	if n > w.m.capacity {
		w.m.logDropped(w.key, w.offset, n)
		return w.blob.Discard()
	}

	blobID, err := w.blob.Commit()
	if err != nil {
		metrics.SpanWritesTotal.WithLabelValues(metrics.SpanWriteError).Inc()
		return fmt.Errorf("failed to commit blob: %w", err)
	}
	return w.m.commit(ctx, w.key, w.offset, n, blobID)
}

// Discard abandons the span.
func (w *SpanWriter) Discard() error {
	if w.done {
		return nil
	}
	w.done = true
	return w.blob.Discard()
}

// Write stores data as the bytes of key starting at offset.
func (m *Manager) Write(ctx context.Context, key model.ResourceKey, offset int64, data []byte) error {
	w, err := m.NewWriter(key, offset)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Discard()
		return fmt.Errorf("failed to write blob: %w", err)
	}
	return w.Commit(ctx)
}

func (m *Manager) logDropped(key model.ResourceKey, offset, length int64) {
	metrics.SpanWritesTotal.WithLabelValues(metrics.SpanWriteDropped).Inc()
	slog.Warn("cache write dropped, not enough evictable space",
		"key", key, "offset", offset, "length", length, "capacity", m.capacity)
}

func (m *Manager) commit(ctx context.Context, key model.ResourceKey, offset, length int64, blobID string) error {
	m.mu.Lock()
	garbage, result, err := m.commitLocked(ctx, key, offset, length, blobID)
	var split []gap
	if err == nil && result == resultSplit {
		split = gaps(m.spans[key], offset, offset+length)
	}
	m.mu.Unlock()

	m.removeBlobs(garbage)
	if split != nil {
		return m.commitGaps(ctx, key, offset, blobID, split)
	}
	if err != nil {
		metrics.SpanWritesTotal.WithLabelValues(metrics.SpanWriteError).Inc()
		return err
	}
	if result == metrics.SpanWriteDropped {
		m.logDropped(key, offset, length)
		return nil
	}
	metrics.SpanWritesTotal.WithLabelValues(result).Inc()
	return nil
}

// commitLocked records blobID as the bytes of [offset, offset+length) of key.
// Every returned blob ID, including blobID itself when nothing was stored, is
// garbage to be removed once the lock is released. When only part of the
// range is uncovered it records nothing and returns resultSplit.
func (m *Manager) commitLocked(ctx context.Context, key model.ResourceKey, offset, length int64, blobID string) ([]string, string, error) {
	if m.closed {
		return []string{blobID}, "", ErrClosed
	}
	end := offset + length

	// Only the uncovered gaps are stored; existing spans keep their bytes.
	var pieces []model.Span
	var newBytes int64
	for _, g := range gaps(m.spans[key], offset, end) {
		pieces = append(pieces, model.Span{
			Key:    key,
			Offset: g.lo,
			Length: g.hi - g.lo,
			Segments: []model.Segment{{
				BlobID:     blobID,
				BlobOffset: g.lo - offset,
				Offset:     g.lo,
				Length:     g.hi - g.lo,
			}},
		})
		newBytes += g.hi - g.lo
	}
	if len(pieces) == 0 {
		return []string{blobID}, metrics.SpanWriteCovered, nil
	}
	// A blob lives as long as any segment points into it, so a blob only
	// partly referenced would hold bytes nobody accounts for.
	if newBytes < length {
		return nil, resultSplit, nil
	}

	// Spans overlapping the new range define the gaps and must survive.
	overlapping := func(s model.Span) bool { return s.Key == key && s.Overlaps(offset, end) }
	victims, freed, ok := m.victimsLocked(m.total+newBytes-m.capacity, overlapping)
	if !ok {
		return []string{blobID}, metrics.SpanWriteDropped, nil
	}

	evicted := make(map[int64]bool)
	for _, v := range victims {
		if v.Key == key {
			evicted[v.Offset] = true
		}
	}
	var existing []model.Span
	for _, s := range m.spans[key] {
		if !evicted[s.Offset] {
			existing = append(existing, s)
		}
	}

	merged, absorbed := coalesce(existing, pieces, m.maxSpan, m.tick())

	remove := append(victims, absorbed...)
	garbage, err := m.applyLocked(ctx, remove, merged)
	if err != nil {
		return []string{blobID}, "", fmt.Errorf("failed to update index: %w", err)
	}

	if freed > 0 {
		metrics.SpanEvictedBytesTotal.WithLabelValues(metrics.EvictTriggerWrite).Add(float64(freed))
		slog.Debug("evicted spans for write", "count", len(victims), "bytes", freed, "key", key)
	}
	return garbage, metrics.SpanWriteStored, nil
}

// resultSplit asks commit to store the uncovered gaps as blobs of their own.
const resultSplit = "split"

// commitGaps copies each gap of the committed blob blobID, which starts at
// offset, into a blob of its own and commits those instead. Every copy is
// strictly smaller than blobID, so repeated splitting ends.
func (m *Manager) commitGaps(ctx context.Context, key model.ResourceKey, offset int64, blobID string, split []gap) error {
	defer m.removeBlobs([]string{blobID})

	src, err := m.store.Open(blobID)
	if err != nil {
		metrics.SpanWritesTotal.WithLabelValues(metrics.SpanWriteError).Inc()
		return fmt.Errorf("failed to open blob: %w", err)
	}
	defer src.Close()

	for _, g := range split {
		id, err := m.copyBlob(io.NewSectionReader(src, g.lo-offset, g.hi-g.lo))
		if err != nil {
			metrics.SpanWritesTotal.WithLabelValues(metrics.SpanWriteError).Inc()
			return err
		}
		if err := m.commit(ctx, key, g.lo, g.hi-g.lo, id); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) copyBlob(r io.Reader) (string, error) {
	w, err := m.store.Create()
	if err != nil {
		return "", fmt.Errorf("failed to create blob: %w", err)
	}
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Discard()
		return "", fmt.Errorf("failed to copy blob: %w", err)
	}
	id, err := w.Commit()
	if err != nil {
		return "", fmt.Errorf("failed to commit blob: %w", err)
	}
	return id, nil
}

type gap struct {
	lo, hi int64
}

// gaps returns the parts of [off, end) not covered by spans, which must be
// sorted and non-overlapping.
func gaps(spans []model.Span, off, end int64) []gap {
	var out []gap
	cur := off
	i := sort.Search(len(spans), func(i int) bool { return spans[i].End() > off })
	for ; i < len(spans) && spans[i].Offset < end; i++ {
		if spans[i].Offset > cur {
			out = append(out, gap{cur, spans[i].Offset})
		}
		cur = max(cur, spans[i].End())
	}
	if cur < end {
		out = append(out, gap{cur, end})
	}
	return out
}

// coalesce merges the new pieces into the existing spans of one resource.
// Adjacent spans join while the result stays within maxSpan bytes; only runs
// containing a new piece are rebuilt. It returns the spans to store and the
// existing spans they replace.
func coalesce(existing, pieces []model.Span, maxSpan int64, access uint64) (merged, absorbed []model.Span) {
	type entry struct {
		span  model.Span
		fresh bool
	}
	all := make([]entry, 0, len(existing)+len(pieces))
	i, j := 0, 0
	for i < len(existing) || j < len(pieces) {
		if j == len(pieces) || (i < len(existing) && existing[i].Offset < pieces[j].Offset) {
			all = append(all, entry{span: existing[i]})
			i++
		} else {
			all = append(all, entry{span: pieces[j], fresh: true})
			j++
		}
	}

	var (
		run      model.Span
		runFresh bool
		members  []model.Span
	)
	flush := func() {
		if !runFresh {
			return
		}
		run.LastAccess = access
		merged = append(merged, run)
		absorbed = append(absorbed, members...)
	}

	for k, e := range all {
		if k > 0 && run.End() == e.span.Offset && run.Length+e.span.Length <= maxSpan && (runFresh || e.fresh) {
			run.Length += e.span.Length
			run.Segments = appendSegments(run.Segments, e.span.Segments)
		} else {
			if k > 0 {
				flush()
			}
			run = e.span.Clone()
			runFresh = false
			members = nil
		}
		if e.fresh {
			runFresh = true
		} else {
			members = append(members, e.span)
		}
	}
	if len(all) > 0 {
		flush()
	}
	return merged, absorbed
}

// appendSegments concatenates segment lists, joining neighbours that are
// contiguous within the same blob.
func appendSegments(dst, src []model.Segment) []model.Segment {
	for _, seg := range src {
		if n := len(dst); n > 0 {
			last := &dst[n-1]
			if last.BlobID == seg.BlobID && last.BlobOffset+last.Length == seg.BlobOffset && last.End() == seg.Offset {
				last.Length += seg.Length
				continue
			}
		}
		dst = append(dst, seg)
	}
	return dst
}
