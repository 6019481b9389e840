package mediacache

import (
	"context"
	"errors"
	"io"
	"iter"
	"log/slog"
	"math"
	"sort"

	"github.com/hszk-dev/mediacache/internal/domain/model"
	"github.com/hszk-dev/mediacache/internal/domain/repository"
)

// Read returns the cached parts of [offset, offset+length) of key, in offset
// order. A negative length reads to the end of the resource. Uncached gaps
// are skipped silently; callers compare span offsets to find them.
//
// Each yielded span is clipped to the requested range. Its reader is valid
// until the loop body returns, and while it is valid the span cannot be
// evicted. Every yielded span counts as an access for eviction purposes.
func (m *Manager) Read(ctx context.Context, key model.ResourceKey, offset, length int64) iter.Seq2[model.Span, io.Reader] {
	return func(yield func(model.Span, io.Reader) bool) {
		if offset < 0 {
			return
		}
		end := int64(math.MaxInt64)
		if length >= 0 && length <= math.MaxInt64-offset {
			end = offset + length
		}

		cursor := offset
		for cursor < end {
			if ctx.Err() != nil {
				return
			}

			hit, start, ok := m.acquire(ctx, key, cursor, end)
			if !ok {
				return
			}

			r, closeBlobs, err := m.openSegments(hit.Segments)
			if err != nil {
				m.unpin(hit.Segments)
				if !errors.Is(err, repository.ErrBlobNotFound) {
					slog.Warn("failed to open cached span", "key", key, "offset", hit.Offset, "error", err)
					return
				}
				m.dropBroken(ctx, key, start)
				cursor = hit.End()
				continue
			}

			more := yield(hit, r)
			closeBlobs()
			m.unpin(hit.Segments)
			if !more {
				return
			}
			cursor = hit.End()
		}
	}
}

// acquire finds the first span of key ending after cursor and starting before
// end, clips it to [cursor, end), marks it as accessed and pins its blobs.
// start is the unclipped offset of the span.
func (m *Manager) acquire(ctx context.Context, key model.ResourceKey, cursor, end int64) (hit model.Span, start int64, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return model.Span{}, 0, false
	}

	spans := m.spans[key]
	i := sort.Search(len(spans), func(i int) bool { return spans[i].End() > cursor })
	if i == len(spans) || spans[i].Offset >= end {
		return model.Span{}, 0, false
	}

	spans[i].LastAccess = m.tick()
	s := spans[i]
	ref := repository.SpanRef{Key: s.Key, Offset: s.Offset, LastAccess: s.LastAccess}
	if err := m.index.Apply(ctx, repository.IndexBatch{TouchSpans: []repository.SpanRef{ref}}); err != nil {
		slog.Warn("failed to persist span access", "key", key, "offset", s.Offset, "error", err)
	}

	lo, hi := max(s.Offset, cursor), min(s.End(), end)
	hit = model.Span{
		Key:        s.Key,
		Offset:     lo,
		Length:     hi - lo,
		LastAccess: s.LastAccess,
		Segments:   clipSegments(s.Segments, lo, hi),
	}
	m.pinLocked(hit.Segments)
	return hit, s.Offset, true
}

// clipSegments returns the parts of segs that fall inside [lo, hi).
func clipSegments(segs []model.Segment, lo, hi int64) []model.Segment {
	var out []model.Segment
	for _, seg := range segs {
		if seg.End() <= lo || seg.Offset >= hi {
			continue
		}
		from, to := max(seg.Offset, lo), min(seg.End(), hi)
		out = append(out, model.Segment{
			BlobID:     seg.BlobID,
			BlobOffset: seg.BlobOffset + (from - seg.Offset),
			Offset:     from,
			Length:     to - from,
		})
	}
	return out
}

func (m *Manager) openSegments(segs []model.Segment) (io.Reader, func(), error) {
	readers := make([]io.Reader, 0, len(segs))
	closers := make([]io.Closer, 0, len(segs))
	closeAll := func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}

	for _, seg := range segs {
		br, err := m.store.Open(seg.BlobID)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		closers = append(closers, br)
		readers = append(readers, io.NewSectionReader(br, seg.BlobOffset, seg.Length))
	}
	return io.MultiReader(readers...), closeAll, nil
}

// dropBroken forgets the span starting at offset after one of its blobs
// turned out to be missing.
func (m *Manager) dropBroken(ctx context.Context, key model.ResourceKey, offset int64) {
	m.mu.Lock()
	var garbage []string
	if i, ok := m.findLocked(key, offset); ok && !m.closed {
		s := m.spans[key][i]
		var err error
		garbage, err = m.applyLocked(ctx, []model.Span{s}, nil)
		if err != nil {
			slog.Warn("failed to drop broken span", "key", key, "offset", offset, "error", err)
		} else {
			slog.Warn("dropped cached span with missing blob", "key", key, "offset", offset, "length", s.Length)
		}
	}
	m.mu.Unlock()
	m.removeBlobs(garbage)
}
