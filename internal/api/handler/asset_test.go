package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hszk-dev/mediacache/internal/domain/model"
	"github.com/hszk-dev/mediacache/internal/domain/repository"
	"github.com/hszk-dev/mediacache/internal/usecase"
)

func assetRouter(svc usecase.AssetService) http.Handler {
	h := NewAssetHandler(svc)
	r := chi.NewRouter()
	r.Post("/v1/assets", h.Create)
	r.Get("/v1/assets/{id}", h.Get)
	r.Delete("/v1/assets/{id}", h.Delete)
	return r
}

func testAsset(t *testing.T, format model.StreamingFormat, headers map[string]string) *model.Asset {
	t.Helper()
	asset, err := model.RestoreAsset(uuid.New(), "https://cdn.example.com/a.mpd", format, headers,
		time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	return asset
}

func TestAssetHandler_Create(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		createErr  error
		wantStatus int
		wantError  string
	}{
		{
			name:       "success",
			body:       `{"address":"https://cdn.example.com/a.mpd","streaming_format":"DYNAMIC_ADAPTIVE","headers":{"User-Agent":"MyApp/1.0"}}`,
			wantStatus: http.StatusCreated,
		},
		{name: "invalid json", body: `{`, wantStatus: http.StatusBadRequest, wantError: "invalid_request"},
		{name: "missing address", body: `{}`, createErr: usecase.ErrAddressRequired, wantStatus: http.StatusBadRequest, wantError: "invalid_address"},
		{name: "invalid format", body: `{"address":"x","streaming_format":"FLV"}`, createErr: model.ErrInvalidFormat, wantStatus: http.StatusBadRequest, wantError: "invalid_streaming_format"},
		{name: "empty header name", body: `{"address":"x","headers":{"":"v"}}`, createErr: model.ErrInvalidHeader, wantStatus: http.StatusBadRequest, wantError: "invalid_headers"},
		{name: "duplicate", body: `{"address":"x"}`, createErr: repository.ErrDuplicateAsset, wantStatus: http.StatusConflict, wantError: "asset_exists"},
		{name: "internal error", body: `{"address":"x"}`, createErr: errors.New("db down"), wantStatus: http.StatusInternalServerError, wantError: "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got usecase.CreateAssetInput
			svc := &mockAssetService{
				createAssetFn: func(ctx context.Context, input usecase.CreateAssetInput) (*model.Asset, error) {
					got = input
					if tt.createErr != nil {
						return nil, tt.createErr
					}
					return model.NewAsset(input.Address, input.Format, input.Headers)
				},
			}

			req := httptest.NewRequest(http.MethodPost, "/v1/assets", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			assetRouter(svc).ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantError != "" {
				var resp ErrorResponse
				if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
					t.Fatalf("decode error response: %v", err)
				}
				if resp.Error != tt.wantError {
					t.Errorf("error = %q, want %q", resp.Error, tt.wantError)
				}
				return
			}

			var resp AssetResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if got.Format != model.FormatDynamicAdaptive {
				t.Errorf("input format = %q, want %q", got.Format, model.FormatDynamicAdaptive)
			}
			if resp.MimeType != model.MimeTypeDASH {
				t.Errorf("mime_type = %q, want %q", resp.MimeType, model.MimeTypeDASH)
			}
			if resp.ResourceKey != model.NewResourceKey(resp.Address).String() {
				t.Errorf("resource_key = %q, want key of %q", resp.ResourceKey, resp.Address)
			}
			if resp.Headers["User-Agent"] != "MyApp/1.0" {
				t.Errorf("headers = %v, want User-Agent MyApp/1.0", resp.Headers)
			}
		})
	}
}

func TestAssetHandler_Get(t *testing.T) {
	asset := testAsset(t, model.FormatProgressive, nil)

	tests := []struct {
		name       string
		id         string
		getErr     error
		wantStatus int
	}{
		{name: "found", id: asset.ID.String(), wantStatus: http.StatusOK},
		{name: "not found", id: uuid.NewString(), getErr: repository.ErrAssetNotFound, wantStatus: http.StatusNotFound},
		{name: "invalid id", id: "not-a-uuid", wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockAssetService{
				getAssetFn: func(ctx context.Context, assetID uuid.UUID) (*model.Asset, error) {
					if tt.getErr != nil {
						return nil, tt.getErr
					}
					return asset, nil
				},
			}

			req := httptest.NewRequest(http.MethodGet, "/v1/assets/"+tt.id, nil)
			rec := httptest.NewRecorder()
			assetRouter(svc).ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			var resp AssetResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if resp.ID != asset.ID.String() {
				t.Errorf("id = %q, want %q", resp.ID, asset.ID)
			}
			if resp.StreamingFormat != "PROGRESSIVE" {
				t.Errorf("streaming_format = %q, want PROGRESSIVE", resp.StreamingFormat)
			}
			if resp.MimeType != "" {
				t.Errorf("mime_type = %q, want empty for progressive", resp.MimeType)
			}
			if resp.CreatedAt != "2026-01-02T03:04:05Z" {
				t.Errorf("created_at = %q", resp.CreatedAt)
			}
		})
	}
}

func TestAssetHandler_Delete(t *testing.T) {
	tests := []struct {
		name       string
		deleteErr  error
		wantStatus int
	}{
		{name: "deleted", wantStatus: http.StatusNoContent},
		{name: "not found", deleteErr: repository.ErrAssetNotFound, wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := uuid.New()
			var deleted uuid.UUID
			svc := &mockAssetService{
				deleteAssetFn: func(ctx context.Context, assetID uuid.UUID) error {
					deleted = assetID
					return tt.deleteErr
				},
			}

			req := httptest.NewRequest(http.MethodDelete, "/v1/assets/"+id.String(), nil)
			rec := httptest.NewRecorder()
			assetRouter(svc).ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if deleted != id {
				t.Errorf("deleted %s, want %s", deleted, id)
			}
		})
	}
}
