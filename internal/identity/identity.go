// Package identity gives every browser an anonymous, cookie-backed visitor ID
// and tags each request with the tab it came from.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/ashureev/wellness/internal/domain"
	"github.com/ashureev/wellness/internal/session"
	"github.com/ashureev/wellness/internal/store"
)

const (
	AnonCookieName    = "wellness_anon_id"
	SessionHeaderName = "X-Wellness-Session-ID"
	sessionQueryParam = "session_id"

	cookieLifetime = 30 * 24 * time.Hour

	// AnonUserRetention is how long an unseen visitor row is kept.
	AnonUserRetention = cookieLifetime

	// lastSeenResolution bounds how often a returning visitor's row is rewritten.
	lastSeenResolution = time.Minute
)

var visitorIDPattern = regexp.MustCompile(`^anon_[a-f0-9]{32}$`)

// Visitor is the caller of one request: the browser and the tab.
type Visitor struct {
	UserID    string
	SessionID string
}

type visitorKey struct{}

// FromContext returns the visitor the middleware attached to ctx. Outside
// the middleware the zero UserID and the default tab are returned.
func FromContext(ctx context.Context) Visitor {
	if v, ok := ctx.Value(visitorKey{}).(Visitor); ok {
		return v
	}
	return Visitor{SessionID: session.DefaultID}
}

// WithVisitor attaches v to ctx.
func WithVisitor(ctx context.Context, v Visitor) context.Context {
	return context.WithValue(ctx, visitorKey{}, v)
}

// Middleware resolves the visitor from the anonymous cookie, issuing a new
// one when it is missing or malformed, and records the visit in repo. The
// tab comes from the session header, falling back to the session_id query
// parameter that WebSocket clients use.
func Middleware(repo store.Repository, isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := visitorID(r)
			if err != nil {
				http.Error(w, `{"error":"failed to establish anonymous identity"}`, http.StatusInternalServerError)
				return
			}
			setVisitorCookie(w, userID, !isDev)

			if err := recordVisit(r.Context(), repo, userID, time.Now()); err != nil {
				http.Error(w, `{"error":"failed to initialize anonymous user"}`, http.StatusInternalServerError)
				return
			}

			tab := r.Header.Get(SessionHeaderName)
			if tab == "" {
				tab = r.URL.Query().Get(sessionQueryParam)
			}
			v := Visitor{UserID: userID, SessionID: session.NormalizeID(tab)}
			next.ServeHTTP(w, r.WithContext(WithVisitor(r.Context(), v)))
		})
	}
}

// visitorID returns the cookie's ID when it is well formed, or a fresh one.
func visitorID(r *http.Request) (string, error) {
	if c, err := r.Cookie(AnonCookieName); err == nil && visitorIDPattern.MatchString(c.Value) {
		return c.Value, nil
	}
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate anonymous id: %w", err)
	}
	return "anon_" + hex.EncodeToString(buf), nil
}

// setVisitorCookie (re)issues the cookie so its lifetime slides with each visit.
func setVisitorCookie(w http.ResponseWriter, userID string, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     AnonCookieName,
		Value:    userID,
		Path:     "/",
		MaxAge:   int(cookieLifetime.Seconds()),
		Expires:  time.Now().Add(cookieLifetime),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   secure,
	})
}

func recordVisit(ctx context.Context, repo store.Repository, userID string, now time.Time) error {
	user, err := repo.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if user == nil {
		return repo.UpsertUser(ctx, &domain.User{
			UserID:     userID,
			LastSeenAt: now,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	}
	if user.IdleFor(now) < lastSeenResolution {
		return nil
	}
	return repo.UpdateLastSeen(ctx, userID, now)
}
