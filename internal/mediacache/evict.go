package mediacache

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hszk-dev/mediacache/internal/domain/model"
	"github.com/hszk-dev/mediacache/internal/infrastructure/metrics"
)

// Evict removes least recently used spans across all resources until the
// cache holds at most targetBytes. Spans being read are skipped, so fewer
// bytes than requested may be freed. It returns the number of bytes freed.
func (m *Manager) Evict(ctx context.Context, targetBytes int64) (int64, error) {
	targetBytes = max(targetBytes, 0)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, ErrClosed
	}
	freed, garbage, err := m.evictLocked(ctx, targetBytes, nil)
	m.mu.Unlock()

	m.removeBlobs(garbage)
	if err != nil {
		return 0, fmt.Errorf("failed to evict: %w", err)
	}
	metrics.SpanEvictedBytesTotal.WithLabelValues(metrics.EvictTriggerManual).Add(float64(freed))
	return freed, nil
}

// victimsLocked asks the policy for spans worth at least need bytes, skipping
// pinned spans and spans for which keep returns true. ok is false when the
// evictable spans cannot free enough.
func (m *Manager) victimsLocked(need int64, keep func(model.Span) bool) (victims []model.Span, freed int64, ok bool) {
	if need <= 0 {
		return nil, 0, true
	}

	var candidates []model.Span
	for _, spans := range m.spans {
		for _, s := range spans {
			if m.pinnedLocked(s) || (keep != nil && keep(s)) {
				continue
			}
			candidates = append(candidates, s)
		}
	}

	victims = m.policy.Select(candidates, need)
	for _, s := range victims {
		freed += s.Length
	}
	return victims, freed, freed >= need
}

func (m *Manager) evictLocked(ctx context.Context, target int64, keep func(model.Span) bool) (int64, []string, error) {
	if m.total <= target {
		return 0, nil, nil
	}

	victims, freed, ok := m.victimsLocked(m.total-target, keep)
	if !ok {
		slog.Warn("eviction could not reach target, remaining spans are in use",
			"target", target, "total", m.total, "freeable", freed)
	}
	if len(victims) == 0 {
		return 0, nil, nil
	}

	garbage, err := m.applyLocked(ctx, victims, nil)
	if err != nil {
		return 0, nil, err
	}
	slog.Debug("evicted spans", "count", len(victims), "bytes", freed)
	return freed, garbage, nil
}
