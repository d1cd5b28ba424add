package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/wellness/internal/session"
	"github.com/ashureev/wellness/internal/store"
	"github.com/go-chi/chi/v5"
)

const healthCheckTimeout = 5 * time.Second

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	repo     store.Repository
	sessions *session.Manager
	model    string
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(repo store.Repository, sessions *session.Manager, modelName string) *HealthHandler {
	return &HealthHandler{repo: repo, sessions: sessions, model: modelName}
}

// Health returns the health status of the API and its dependencies.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := map[string]interface{}{
		"status":          "healthy",
		"checks":          checks,
		"model":           h.model,
		"active_sessions": h.sessions.Len(),
	}
	statusCode := http.StatusOK

	if err := h.repo.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		status["status"] = "degraded"
		checks["database"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	JSON(w, statusCode, status)
}

// RegisterHealth registers the detailed health route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/api/health", h.Health)
}
