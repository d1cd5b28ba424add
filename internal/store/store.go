// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/wellness/internal/domain"
)

// Repository persists anonymous visitors and archived feedback. Chat
// transcripts and journal entries are never written here.
type Repository interface {
	// GetUser retrieves a user by their user ID. A missing user is (nil, nil).
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates or updates a user record.
	UpsertUser(ctx context.Context, user *domain.User) error

	// UpdateLastSeen updates the last_seen_at timestamp for a user.
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error

	// DeleteInactiveUsers removes users not seen for longer than ttl and
	// returns their IDs.
	DeleteInactiveUsers(ctx context.Context, ttl time.Duration) ([]string, error)

	// SaveFeedback archives one feedback submission.
	SaveFeedback(ctx context.Context, rec *domain.FeedbackRecord) error

	// ListFeedback returns archived feedback newest first. An empty userID
	// lists every user. limit <= 0 means no limit.
	ListFeedback(ctx context.Context, userID string, limit int) ([]domain.FeedbackRecord, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
