package model

import (
	"fmt"

	"github.com/zeebo/xxh3"
)

// ResourceKey namespaces cached spans per resource.
type ResourceKey string

// NewResourceKey derives the key for an origin address.
// The same address always yields the same key, across processes.
func NewResourceKey(address string) ResourceKey {
	h := xxh3.HashString128(address)
	return ResourceKey(fmt.Sprintf("%016x%016x", h.Hi, h.Lo))
}

func (k ResourceKey) String() string {
	return string(k)
}

// Segment is a slice of one blob file backing part of a span.
type Segment struct {
	BlobID     string
	BlobOffset int64
	Offset     int64
	Length     int64
}

func (s Segment) End() int64 {
	return s.Offset + s.Length
}

// Span is a contiguous, fully cached byte range of a resource.
type Span struct {
	Key        ResourceKey
	Offset     int64
	Length     int64
	LastAccess uint64
	Segments   []Segment
}

// End returns the exclusive end offset of the span.
func (s Span) End() int64 {
	return s.Offset + s.Length
}

// Overlaps reports whether the span intersects [off, end).
func (s Span) Overlaps(off, end int64) bool {
	return s.Offset < end && off < s.End()
}

// Validate checks that the segments exactly tile the span.
func (s Span) Validate() error {
	if s.Offset < 0 || s.Length <= 0 {
		return fmt.Errorf("span %s@%d: invalid range length %d", s.Key, s.Offset, s.Length)
	}
	if len(s.Segments) == 0 {
		return fmt.Errorf("span %s@%d: no segments", s.Key, s.Offset)
	}
	next := s.Offset
	for _, seg := range s.Segments {
		if seg.Offset != next || seg.Length <= 0 || seg.BlobOffset < 0 || seg.BlobID == "" {
			return fmt.Errorf("span %s@%d: segment %s at %d does not continue at %d", s.Key, s.Offset, seg.BlobID, seg.Offset, next)
		}
		next = seg.End()
	}
	if next != s.End() {
		return fmt.Errorf("span %s@%d: segments end at %d, want %d", s.Key, s.Offset, next, s.End())
	}
	return nil
}

// Clone returns a deep copy of the span.
func (s Span) Clone() Span {
	c := s
	c.Segments = append([]Segment(nil), s.Segments...)
	return c
}

// ResourceMeta holds what the origin told us about a resource.
type ResourceMeta struct {
	Key           ResourceKey
	ContentLength int64 // -1 when unknown
	ContentType   string
}
