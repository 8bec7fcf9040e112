package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/chef-cts/internal/store"
	"github.com/go-chi/chi/v5"
)

const (
	healthCheckTimeout = 5 * time.Second
	statsWindow        = 24 * time.Hour
)

// HealthHandler serves health and turn statistics endpoints.
type HealthHandler struct {
	repo store.Repository
	now  func() time.Time
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(repo store.Repository) *HealthHandler {
	return &HealthHandler{repo: repo, now: time.Now}
}

// Health returns the health status of the API and its dependencies.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	status := map[string]interface{}{
		"status": "ok",
		"checks": map[string]string{"api": "ok"},
	}
	statusCode := http.StatusOK

	if err := h.repo.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		status["status"] = "degraded"
		status["checks"].(map[string]string)["database"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		status["checks"].(map[string]string)["database"] = "ok"
	}

	JSON(w, statusCode, status)
}

// Stats returns turn counts for the last 24 hours.
func (h *HealthHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.repo.TurnStats(r.Context(), h.now().Add(-statsWindow))
	if err != nil {
		slog.Error("Failed to load turn stats", "error", err)
		Error(w, http.StatusInternalServerError, "failed to load stats")
		return
	}
	JSON(w, http.StatusOK, stats)
}

// RegisterHealth registers the health and stats routes.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)
		r.Get("/stats", h.Stats)
	})
}
