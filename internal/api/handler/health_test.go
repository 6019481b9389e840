package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealthHandler_Live(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHealthHandler(false, nil).Live(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestHealthHandler_Ready(t *testing.T) {
	ok := func(ctx context.Context) error { return nil }
	down := func(ctx context.Context) error { return errors.New("connection refused") }

	tests := []struct {
		name         string
		cacheEnabled bool
		checks       map[string]Pinger
		wantStatus   int
		wantHealth   string
	}{
		{name: "all healthy", cacheEnabled: true, checks: map[string]Pinger{"postgres": ok, "redis": ok}, wantStatus: http.StatusOK, wantHealth: "ok"},
		{name: "cache disabled", cacheEnabled: false, checks: map[string]Pinger{"postgres": ok}, wantStatus: http.StatusOK, wantHealth: "degraded"},
		{name: "dependency down", cacheEnabled: true, checks: map[string]Pinger{"postgres": ok, "redis": down}, wantStatus: http.StatusServiceUnavailable, wantHealth: "unavailable"},
		{name: "down and cache disabled", cacheEnabled: false, checks: map[string]Pinger{"redis": down}, wantStatus: http.StatusServiceUnavailable, wantHealth: "unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			NewHealthHandler(tt.cacheEnabled, tt.checks).Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			var resp HealthResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if resp.Status != tt.wantHealth {
				t.Errorf("status field = %q, want %q", resp.Status, tt.wantHealth)
			}
			if len(resp.Checks) != len(tt.checks)+1 {
				t.Errorf("checks = %v, want %d entries", resp.Checks, len(tt.checks)+1)
			}
		})
	}
}
