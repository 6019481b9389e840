package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"math"

	"github.com/hszk-dev/mediacache/internal/domain/model"
	"github.com/hszk-dev/mediacache/internal/domain/repository"
	"github.com/hszk-dev/mediacache/internal/infrastructure/metrics"
	"github.com/hszk-dev/mediacache/internal/mediacache"
)

var errStreamClosed = errors.New("stream closed")

// Stream is a sequential reader over a byte range of an asset.
//
// Cached spans are served from the cache. Gaps are fetched from the origin
// and written through into the cache in segments: a byte is handed to the
// caller only after it has been written to the current segment, and a
// segment becomes visible in the cache only once it is complete. Closing the
// stream or an origin failure discards the unfinished segment.
//
// A Stream is not safe for concurrent use.
type Stream struct {
	ctx         context.Context
	src         *Source
	pos         int64
	end         int64 // math.MaxInt64 when unbounded
	size        int64
	contentType string

	hit     io.Reader
	hitEnd  int64
	release func()

	body     io.ReadCloser
	fetchEnd int64
	writer   *mediacache.SpanWriter

	bypass  bool // stop reading from the cache
	noStore bool // stop writing to the cache
	closed  bool
	err     error
}

// Size returns the total length of the resource, or -1 while it is unknown.
func (s *Stream) Size() int64 {
	return s.size
}

// ContentType returns the content type reported by the origin, if any.
func (s *Stream) ContentType() string {
	return s.contentType
}

// Offset returns the position of the next byte Read will return.
func (s *Stream) Offset() int64 {
	return s.pos
}

func (s *Stream) Read(p []byte) (int, error) {
	if s.closed {
		return 0, errStreamClosed
	}
	if s.err != nil {
		return 0, s.err
	}
	if len(p) == 0 {
		return 0, nil
	}

	for {
		if s.pos >= s.end {
			return 0, io.EOF
		}

		var (
			n   int
			err error
		)
		switch {
		case s.hit != nil:
			n = s.readHit(p)
		case s.body != nil:
			n, err = s.readOrigin(p)
		default:
			err = s.advance()
		}
		if err != nil {
			s.err = err
			return n, err
		}
		if n > 0 {
			return n, nil
		}
	}
}

// advance positions the stream on the cached span starting at pos or, if
// there is none, on an origin fetch for the gap up to the next cached span.
func (s *Stream) advance() error {
	gapEnd := s.end
	if cache := s.src.factory.cache; cache != nil && !s.bypass {
		next, stop := iter.Pull2(cache.Read(s.ctx, s.src.key, s.pos, s.end-s.pos))
		span, r, ok := next()
		if ok && span.Offset == s.pos {
			s.hit, s.hitEnd, s.release = r, span.End(), stop
			return nil
		}
		stop()
		if ok {
			gapEnd = span.Offset
		}
	}
	return s.fetch(gapEnd)
}

func (s *Stream) readHit(p []byte) int {
	want := min(int64(len(p)), s.hitEnd-s.pos)
	n, err := s.hit.Read(p[:want])
	s.pos += int64(n)
	metrics.StreamBytesTotal.WithLabelValues(metrics.SourceCache).Add(float64(n))

	if s.pos >= s.hitEnd {
		s.releaseHit()
	} else if err != nil {
		slog.Warn("cached span unreadable, streaming from origin",
			"key", s.src.key, "offset", s.pos, "error", err)
		s.releaseHit()
		s.bypass = true
	}
	return n
}

func (s *Stream) releaseHit() {
	if s.release != nil {
		s.release()
	}
	s.hit, s.release = nil, nil
}

func (s *Stream) fetch(gapEnd int64) error {
	length := int64(-1)
	if gapEnd != math.MaxInt64 {
		length = gapEnd - s.pos
	}

	req := s.src.request.FetchRequest(s.src.asset.Address, s.pos, length)
	res, err := s.src.factory.fetcher.Fetch(s.ctx, req)
	if err != nil {
		return err
	}
	if res.TotalLength >= 0 {
		s.learnSize(res.TotalLength, res.ContentType)
	} else if res.ContentType != "" {
		s.contentType = res.ContentType
	}

	s.body = res.Body
	s.fetchEnd = min(gapEnd, s.end)
	return nil
}

func (s *Stream) learnSize(size int64, contentType string) {
	s.size = size
	s.end = min(s.end, size)
	if contentType != "" {
		s.contentType = contentType
	}

	cache := s.src.factory.cache
	if cache == nil || s.noStore {
		return
	}
	meta := model.ResourceMeta{Key: s.src.key, ContentLength: size, ContentType: s.contentType}
	if err := cache.SetResourceMeta(s.ctx, meta); err != nil {
		slog.Warn("failed to store resource meta", "key", s.src.key, "error", err)
	}
}

func (s *Stream) readOrigin(p []byte) (int, error) {
	if s.pos >= s.fetchEnd {
		s.finishFetch(true)
		return 0, nil
	}

	want := min(int64(len(p)), s.fetchEnd-s.pos)
	n, err := s.body.Read(p[:want])
	if n > 0 {
		s.writeThrough(p[:n])
		s.pos += int64(n)
		metrics.StreamBytesTotal.WithLabelValues(metrics.SourceOrigin).Add(float64(n))
	}

	switch {
	case s.pos >= s.fetchEnd:
		s.finishFetch(true)
		return n, nil
	case errors.Is(err, io.EOF):
		if s.size < 0 {
			// The origin did not report a length; a clean EOF marks the end.
			s.finishFetch(true)
			s.learnSize(s.pos, s.contentType)
			return n, nil
		}
		s.finishFetch(false)
		return n, fmt.Errorf("%w: %v at offset %d", repository.ErrNetwork, io.ErrUnexpectedEOF, s.pos)
	case err != nil:
		s.finishFetch(false)
		return n, err
	}
	return n, nil
}

func (s *Stream) writeThrough(p []byte) {
	cache := s.src.factory.cache
	if cache == nil || s.noStore {
		return
	}

	if s.writer == nil {
		w, err := cache.NewWriter(s.src.key, s.pos)
		if err != nil {
			s.disableStore(err)
			return
		}
		s.writer = w
	}
	if _, err := s.writer.Write(p); err != nil {
		_ = s.writer.Discard()
		s.writer = nil
		s.disableStore(err)
		return
	}
	if s.writer.Len() >= s.src.factory.segmentBytes {
		s.commitSegment()
	}
}

func (s *Stream) commitSegment() {
	w := s.writer
	s.writer = nil
	if err := w.Commit(s.ctx); err != nil {
		s.disableStore(err)
	}
}

func (s *Stream) disableStore(err error) {
	slog.Warn("cache write failed, continuing without caching",
		"key", s.src.key, "offset", s.pos, "error", err)
	s.noStore = true
}

func (s *Stream) finishFetch(complete bool) {
	if s.writer != nil {
		if complete {
			s.commitSegment()
		} else {
			_ = s.writer.Discard()
			s.writer = nil
		}
	}
	if s.body != nil {
		_ = s.body.Close()
		s.body = nil
	}
}

// Close releases the stream. An unfinished segment is discarded.
func (s *Stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.releaseHit()
	s.finishFetch(false)
	return nil
}
