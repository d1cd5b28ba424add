// Package api provides HTTP handlers for the wellness API.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ashureev/wellness/internal/chat"
	"github.com/ashureev/wellness/internal/config"
	"github.com/ashureev/wellness/internal/identity"
	"github.com/ashureev/wellness/internal/model"
	"github.com/ashureev/wellness/internal/persona"
	"github.com/ashureev/wellness/internal/recommend"
	"github.com/ashureev/wellness/internal/session"
	"github.com/ashureev/wellness/internal/store"
)

// Handler serves the chat API. Every request is bound to the State of its
// anonymous user and tab session.
type Handler struct {
	repo          store.Repository
	sessions      *session.Manager
	chat          *chat.Orchestrator
	limiter       *RateLimiter
	maxImageBytes int64
	allowedOrigin string
	isDev         bool
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository, sessions *session.Manager, orch *chat.Orchestrator, cfg *config.Config) *Handler {
	return &Handler{
		repo:          repo,
		sessions:      sessions,
		chat:          orch,
		limiter:       NewRateLimiter(cfg.RateLimit.PerMinute, cfg.RateLimit.Burst),
		maxImageBytes: cfg.MaxImageBytes,
		allowedOrigin: cfg.FrontendURL,
		isDev:         cfg.IsDevelopment(),
	}
}

// Limiter exposes the per-user rate limiter so idle entries can be pruned.
func (h *Handler) Limiter() *RateLimiter {
	return h.limiter
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// sessionRef identifies the caller of one request.
type sessionRef struct {
	userID    string
	sessionID string
	state     *session.State
}

func (h *Handler) session(r *http.Request) sessionRef {
	v := identity.FromContext(r.Context())
	return sessionRef{
		userID:    v.UserID,
		sessionID: v.SessionID,
		state:     h.sessions.Get(v.UserID, v.SessionID),
	}
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, chat.ErrCredentialRequired):
		return http.StatusPreconditionRequired
	case errors.Is(err, model.ErrCredentialInvalid):
		return http.StatusUnauthorized
	case errors.Is(err, persona.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errImageTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, errInvalidBody),
		errors.Is(err, chat.ErrEmptyMessage),
		errors.Is(err, recommend.ErrInvalidAnswer),
		errors.Is(err, session.ErrEmptyEntry),
		errors.Is(err, model.ErrUnsupportedImage):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
