package mediacache

import (
	"cmp"
	"slices"

	"github.com/hszk-dev/mediacache/internal/domain/model"
)

// EvictionPolicy picks the spans to discard when the cache must free space.
// Implementations must be pure: the same input always yields the same output.
type EvictionPolicy interface {
	// Select returns, in removal order, spans from candidates whose lengths
	// sum to at least bytesToFree. When the candidates cannot free enough,
	// all of them are returned and the caller decides what to do.
	Select(candidates []model.Span, bytesToFree int64) []model.Span
}

// LRUPolicy evicts the least recently used spans first.
// Equal access times are ordered by resource key, then by offset.
type LRUPolicy struct{}

func (LRUPolicy) Select(candidates []model.Span, bytesToFree int64) []model.Span {
	if bytesToFree <= 0 || len(candidates) == 0 {
		return nil
	}

	ordered := slices.Clone(candidates)
	slices.SortFunc(ordered, compareLRU)

	var freed int64
	for i, s := range ordered {
		freed += s.Length
		if freed >= bytesToFree {
			return ordered[:i+1]
		}
	}
	return ordered
}

func compareLRU(a, b model.Span) int {
	if c := cmp.Compare(a.LastAccess, b.LastAccess); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Key, b.Key); c != 0 {
		return c
	}
	return cmp.Compare(a.Offset, b.Offset)
}
