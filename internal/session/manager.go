package session

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/wellness/internal/persona"
)

// DefaultID names the session of a caller that sent no usable tab ID.
const DefaultID = "default"

var idPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// NormalizeID returns the trimmed tab ID, or DefaultID when it is empty or
// contains anything other than a short plain token.
func NormalizeID(id string) string {
	id = strings.TrimSpace(id)
	if !idPattern.MatchString(id) {
		return DefaultID
	}
	return id
}

// Manager isolates one State per user and browser tab. Nothing is shared
// between sessions: credentials, transcripts and remote handles all live on
// the State.
type Manager struct {
	mu       sync.Mutex
	registry *persona.Registry
	active   map[string]map[string]*tracked
	now      func() time.Time
}

type tracked struct {
	state      *State
	lastActive time.Time
}

// NewManager creates an empty session manager.
func NewManager(registry *persona.Registry) *Manager {
	return &Manager{
		registry: registry,
		active:   make(map[string]map[string]*tracked),
		now:      time.Now,
	}
}

// Get returns the state for a user/session, creating it on first use, and
// marks it active.
func (m *Manager) Get(userID, sessionID string) *State {
	m.mu.Lock()
	defer m.mu.Unlock()

	sessions, ok := m.active[userID]
	if !ok {
		sessions = make(map[string]*tracked)
		m.active[userID] = sessions
	}
	t, ok := sessions[sessionID]
	if !ok {
		t = &tracked{state: New(m.registry)}
		sessions[sessionID] = t
		slog.Info("Chat session created", "user_id", userID, "session_id", sessionID)
	}
	t.lastActive = m.now()
	return t.state
}

// Touch marks a session active without looking it up. A caller that holds
// st across requests, such as a WebSocket connection, reinstates it if the
// reaper dropped it in the meantime.
func (m *Manager) Touch(userID, sessionID string, st *State) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sessions, ok := m.active[userID]
	if !ok {
		sessions = make(map[string]*tracked)
		m.active[userID] = sessions
	}
	t, ok := sessions[sessionID]
	if !ok || t.state != st {
		t = &tracked{state: st}
		sessions[sessionID] = t
	}
	t.lastActive = m.now()
}

// Remove discards a single session.
func (m *Manager) Remove(userID, sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sessions, ok := m.active[userID]; ok {
		if _, exists := sessions[sessionID]; exists {
			delete(sessions, sessionID)
			if len(sessions) == 0 {
				delete(m.active, userID)
			}
			slog.Info("Chat session removed", "user_id", userID, "session_id", sessionID)
		}
	}
}

// CloseUser discards every session of a user and returns how many were dropped.
func (m *Manager) CloseUser(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.active[userID])
	delete(m.active, userID)
	return n
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, sessions := range m.active {
		n += len(sessions)
	}
	return n
}

// Reap drops sessions idle for longer than ttl and returns how many were dropped.
func (m *Manager) Reap(ttl time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-ttl)
	reaped := 0
	for userID, sessions := range m.active {
		for sid, t := range sessions {
			if t.lastActive.Before(cutoff) {
				delete(sessions, sid)
				reaped++
				slog.Debug("Chat session expired", "user_id", userID, "session_id", sid)
			}
		}
		if len(sessions) == 0 {
			delete(m.active, userID)
		}
	}
	return reaped
}

// StartReaper periodically drops idle sessions until ctx is done. The
// returned channel is closed once the worker has exited.
func StartReaper(ctx context.Context, m *Manager, interval, ttl time.Duration) <-chan struct{} {
	done := make(chan struct{})
	ticker := time.NewTicker(interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		slog.Info("Session reaper started", "interval", interval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				if n := m.Reap(ttl); n > 0 {
					slog.Info("Session reaper cleaned up idle sessions", "count", n, "remaining", m.Len())
				}
			case <-ctx.Done():
				slog.Info("Session reaper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
	return done
}
