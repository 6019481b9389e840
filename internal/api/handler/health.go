package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

const healthCheckTimeout = 2 * time.Second

const (
	statusOK          = "ok"
	statusDegraded    = "degraded"
	statusUnavailable = "unavailable"
)

type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Pinger reports whether a dependency is reachable.
type Pinger func(ctx context.Context) error

// HealthHandler reports liveness and dependency readiness.
type HealthHandler struct {
	cacheEnabled bool
	checks       map[string]Pinger
}

// NewHealthHandler creates a HealthHandler. A disabled span cache reports the
// service as degraded: playback still works, straight from the origin.
func NewHealthHandler(cacheEnabled bool, checks map[string]Pinger) *HealthHandler {
	return &HealthHandler{cacheEnabled: cacheEnabled, checks: checks}
}

// Live handles GET /health
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, HealthResponse{
		Status: statusOK,
	})
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	resp := HealthResponse{Status: statusOK, Checks: make(map[string]string, len(h.checks)+1)}
	status := http.StatusOK

	for name, ping := range h.checks {
		if err := ping(ctx); err != nil {
			slog.Warn("health check failed", "dependency", name, "error", err)
			resp.Checks[name] = err.Error()
			resp.Status = statusUnavailable
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = statusOK
	}

	if h.cacheEnabled {
		resp.Checks["span_cache"] = statusOK
	} else {
		resp.Checks["span_cache"] = "disabled"
		if resp.Status == statusOK {
			resp.Status = statusDegraded
		}
	}

	JSON(w, status, resp)
}
