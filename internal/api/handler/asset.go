package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hszk-dev/mediacache/internal/domain/model"
	"github.com/hszk-dev/mediacache/internal/domain/repository"
	"github.com/hszk-dev/mediacache/internal/usecase"
)

type CreateAssetRequest struct {
	Address         string            `json:"address"`
	StreamingFormat string            `json:"streaming_format"`
	Headers         map[string]string `json:"headers,omitempty"`
}

type AssetResponse struct {
	ID              string            `json:"id"`
	Address         string            `json:"address"`
	StreamingFormat string            `json:"streaming_format"`
	MimeType        string            `json:"mime_type,omitempty"`
	ResourceKey     string            `json:"resource_key"`
	Headers         map[string]string `json:"headers,omitempty"`
	CreatedAt       string            `json:"created_at"`
}

// AssetHandler handles asset registration requests.
type AssetHandler struct {
	svc usecase.AssetService
}

// NewAssetHandler creates a new AssetHandler.
func NewAssetHandler(svc usecase.AssetService) *AssetHandler {
	return &AssetHandler{svc: svc}
}

// Create handles POST /v1/assets
func (h *AssetHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateAssetRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	asset, err := h.svc.CreateAsset(r.Context(), usecase.CreateAssetInput{
		Address: req.Address,
		Format:  model.StreamingFormat(req.StreamingFormat),
		Headers: req.Headers,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	JSON(w, http.StatusCreated, toAssetResponse(asset))
}

// Get handles GET /v1/assets/{id}
func (h *AssetHandler) Get(w http.ResponseWriter, r *http.Request) {
	assetID, ok := parseAssetID(w, r)
	if !ok {
		return
	}

	asset, err := h.svc.GetAsset(r.Context(), assetID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	JSON(w, http.StatusOK, toAssetResponse(asset))
}

// Delete handles DELETE /v1/assets/{id}
func (h *AssetHandler) Delete(w http.ResponseWriter, r *http.Request) {
	assetID, ok := parseAssetID(w, r)
	if !ok {
		return
	}

	if err := h.svc.DeleteAsset(r.Context(), assetID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func parseAssetID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	assetID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		Error(w, http.StatusBadRequest, "invalid_asset_id", "Asset ID must be a valid UUID")
		return uuid.Nil, false
	}
	return assetID, true
}

func handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repository.ErrAssetNotFound):
		Error(w, http.StatusNotFound, "asset_not_found", "Asset not found")
	case errors.Is(err, repository.ErrDuplicateAsset):
		Error(w, http.StatusConflict, "asset_exists", "Asset already exists")
	case errors.Is(err, usecase.ErrAddressRequired):
		Error(w, http.StatusBadRequest, "invalid_address", "Address is required")
	case errors.Is(err, model.ErrInvalidFormat):
		Error(w, http.StatusBadRequest, "invalid_streaming_format",
			"Streaming format must be one of SMOOTH, DYNAMIC_ADAPTIVE, HTTP_LIVE, PROGRESSIVE")
	case errors.Is(err, model.ErrInvalidHeader):
		Error(w, http.StatusBadRequest, "invalid_headers", "Header names cannot be empty")
	case errors.Is(err, usecase.ErrInvalidRange):
		Error(w, http.StatusBadRequest, "invalid_range", "Offset must be non-negative and length non-zero")
	case errors.Is(err, usecase.ErrPrefetchDisabled):
		Error(w, http.StatusServiceUnavailable, "prefetch_disabled", "Prefetching is not enabled")
	case errors.Is(err, repository.ErrNetwork):
		Error(w, http.StatusBadGateway, "origin_error", "Origin request failed")
	default:
		Error(w, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
	}
}

func toAssetResponse(a *model.Asset) AssetResponse {
	return AssetResponse{
		ID:              a.ID.String(),
		Address:         a.Address,
		StreamingFormat: a.Format.String(),
		MimeType:        a.MimeType(),
		ResourceKey:     a.ResourceKey().String(),
		Headers:         a.Headers(),
		CreatedAt:       a.CreatedAt.Format(time.RFC3339),
	}
}
