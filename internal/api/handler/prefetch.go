package handler

import (
	"net/http"

	"github.com/hszk-dev/mediacache/internal/usecase"
)

type PrefetchRequest struct {
	Offset int64 `json:"offset"`
	// Length defaults to the rest of the resource.
	Length *int64 `json:"length,omitempty"`
}

// PrefetchHandler queues cache warm-up requests.
type PrefetchHandler struct {
	svc usecase.PrefetchService
}

// NewPrefetchHandler creates a new PrefetchHandler.
func NewPrefetchHandler(svc usecase.PrefetchService) *PrefetchHandler {
	return &PrefetchHandler{svc: svc}
}

// Prefetch handles POST /v1/assets/{id}/prefetch
func (h *PrefetchHandler) Prefetch(w http.ResponseWriter, r *http.Request) {
	assetID, ok := parseAssetID(w, r)
	if !ok {
		return
	}

	var req PrefetchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	length := int64(-1)
	if req.Length != nil {
		length = *req.Length
	}

	if err := h.svc.RequestPrefetch(r.Context(), assetID, req.Offset, length); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}
