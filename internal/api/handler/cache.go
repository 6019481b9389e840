package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/dustin/go-humanize"

	"github.com/hszk-dev/mediacache/internal/mediacache"
)

// CacheAdmin is the span cache as seen by the admin endpoints.
type CacheAdmin interface {
	Stats() mediacache.Stats
	Evict(ctx context.Context, targetBytes int64) (int64, error)
}

type EvictRequest struct {
	TargetBytes int64 `json:"target_bytes"`
}

type EvictResponse struct {
	FreedBytes int64            `json:"freed_bytes"`
	Stats      mediacache.Stats `json:"stats"`
}

// CacheHandler exposes span cache statistics and manual eviction.
type CacheHandler struct {
	cache CacheAdmin
}

// NewCacheHandler creates a CacheHandler. cache is nil when the span cache
// could not be opened.
func NewCacheHandler(cache CacheAdmin) *CacheHandler {
	return &CacheHandler{cache: cache}
}

// Stats handles GET /v1/cache
func (h *CacheHandler) Stats(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	JSON(w, http.StatusOK, h.cache.Stats())
}

// Evict handles POST /v1/cache/evict
func (h *CacheHandler) Evict(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}

	var req EvictRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.TargetBytes < 0 {
		Error(w, http.StatusBadRequest, "invalid_target", "Target bytes must be non-negative")
		return
	}

	freed, err := h.cache.Evict(r.Context(), req.TargetBytes)
	if err != nil {
		slog.Error("manual eviction failed", "target_bytes", req.TargetBytes, "error", err)
		Error(w, http.StatusInternalServerError, "internal_error", "Eviction failed")
		return
	}
	slog.Info("manual eviction", "freed", humanize.IBytes(uint64(freed)), "target_bytes", req.TargetBytes)

	JSON(w, http.StatusOK, EvictResponse{
		FreedBytes: freed,
		Stats:      h.cache.Stats(),
	})
}

func (h *CacheHandler) available(w http.ResponseWriter) bool {
	if h.cache == nil {
		Error(w, http.StatusServiceUnavailable, "cache_unavailable", "Span cache is disabled")
		return false
	}
	return true
}
