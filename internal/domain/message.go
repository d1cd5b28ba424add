package domain

import (
	"time"
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of a chat transcript.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	HasImage  bool      `json:"has_image,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// UserMessage builds a user-authored message stamped with now.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content, CreatedAt: time.Now()}
}

// AssistantMessage builds an assistant-authored message stamped with now.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content, CreatedAt: time.Now()}
}

// EntryTimeLayout is the display format used for journal and feedback timestamps.
const EntryTimeLayout = "2006-01-02 15:04"

// Entry is a timestamped free-text note, used for both journal reflections and
// feedback submissions.
type Entry struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Stamp returns the entry timestamp in display format.
func (e Entry) Stamp() string {
	return e.CreatedAt.Format(EntryTimeLayout)
}

// FeedbackRecord is a feedback entry archived for operators, tagged with the
// session it came from.
type FeedbackRecord struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id"`
	PersonaID string    `json:"persona_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}
