// Package session holds per-visitor chat state: active persona, transcript,
// journal, feedback and the remote credential/conversation handles.
package session

import (
	"crypto/rand"
	"errors"
	"io"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/wellness/internal/domain"
	"github.com/ashureev/wellness/internal/model"
	"github.com/ashureev/wellness/internal/persona"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// ErrEmptyEntry is returned when a journal or feedback entry has no text.
var ErrEmptyEntry = errors.New("entry text is empty")

// Phase is the chat state machine position of a session.
type Phase string

const (
	PhaseIdle                Phase = "idle"
	PhaseCredentialPending   Phase = "credential_pending"
	PhaseReady               Phase = "ready"
	PhaseAwaitingPersonaInit Phase = "awaiting_persona_init"
	PhaseDispatching         Phase = "dispatching"
	PhaseResponded           Phase = "responded"
)

// State is the aggregate root for one interactive session. All methods are
// safe for concurrent use; LockTurn serialises whole chat turns.
type State struct {
	mu     sync.RWMutex
	turnMu sync.Mutex

	registry  *persona.Registry
	personaID string
	messages  []domain.Message
	journal   []domain.Entry
	feedback  []domain.Entry

	client         model.Client
	conversation   model.Conversation
	conversationID string
	phase          Phase

	entropy io.Reader
	now     func() time.Time
}

// New creates an empty state on the registry's default persona.
func New(registry *persona.Registry) *State {
	return &State{
		registry:  registry,
		personaID: registry.DefaultID(),
		phase:     PhaseIdle,
		entropy:   ulid.Monotonic(rand.Reader, 0),
		now:       time.Now,
	}
}

// LockTurn blocks until no other turn runs on this session and returns the
// matching unlock function.
func (s *State) LockTurn() func() {
	s.turnMu.Lock()
	return s.turnMu.Unlock
}

// PersonaID returns the active persona ID.
func (s *State) PersonaID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.personaID
}

// Persona returns the active persona.
func (s *State) Persona() persona.Persona {
	p, err := s.registry.Get(s.PersonaID())
	if err != nil {
		// personaID only ever holds registry members.
		panic(err)
	}
	return p
}

// SwitchPersona activates id. Switching to the active persona is a no-op;
// otherwise the transcript and the remote conversation are dropped together.
func (s *State) SwitchPersona(id string) (bool, error) {
	if _, err := s.registry.Get(id); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if id == s.personaID {
		return false, nil
	}
	s.personaID = id
	s.dropConversationLocked()
	return true, nil
}

// AppendMessage appends messages to the transcript in order.
func (s *State) AppendMessage(msgs ...domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msgs...)
}

// Messages returns a copy of the transcript, oldest first.
func (s *State) Messages() []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.messages)
}

// AppendJournal records a journal reflection.
func (s *State) AppendJournal(text string) (domain.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.newEntryLocked(text)
	if err != nil {
		return domain.Entry{}, err
	}
	s.journal = append(s.journal, e)
	return e, nil
}

// Journal returns journal entries newest first.
func (s *State) Journal() []domain.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := slices.Clone(s.journal)
	slices.Reverse(out)
	return out
}

// AppendFeedback records a feedback submission.
func (s *State) AppendFeedback(text string) (domain.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.newEntryLocked(text)
	if err != nil {
		return domain.Entry{}, err
	}
	s.feedback = append(s.feedback, e)
	return e, nil
}

// Feedback returns feedback entries oldest first.
func (s *State) Feedback() []domain.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.feedback)
}

func (s *State) newEntryLocked(text string) (domain.Entry, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.Entry{}, ErrEmptyEntry
	}
	now := s.now()
	return domain.Entry{
		ID:        ulid.MustNew(ulid.Timestamp(now), s.entropy).String(),
		Text:      text,
		CreatedAt: now,
	}, nil
}

// ClearChat drops the transcript and the remote conversation but keeps the
// active persona.
func (s *State) ClearChat() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropConversationLocked()
}

// CredentialValid reports whether a validated client is held.
func (s *State) CredentialValid() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client != nil
}

// Client returns the validated client, or nil.
func (s *State) Client() model.Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client
}

// SetCredential stores a validated client.
func (s *State) SetCredential(c model.Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.client = c
	s.phase = PhaseReady
}

// ResetCredential forgets the client, the remote conversation and the
// transcript. Journal and feedback are kept.
func (s *State) ResetCredential() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.client = nil
	s.dropConversationLocked()
	s.phase = PhaseCredentialPending
}

// Conversation returns the remote conversation handle and its ID, or nil.
func (s *State) Conversation() (model.Conversation, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conversation, s.conversationID
}

// InstallConversation stores conv as the remote handle for personaID and
// appends greeting as the first assistant message. It does nothing and
// returns false if the persona changed or a handle already exists.
func (s *State) InstallConversation(personaID string, conv model.Conversation, greeting string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.personaID != personaID || s.conversation != nil || s.client == nil {
		return false
	}
	s.conversation = conv
	s.conversationID = uuid.Must(uuid.NewV7()).String()
	s.messages = append(s.messages, domain.Message{
		Role:      domain.RoleAssistant,
		Content:   greeting,
		CreatedAt: s.now(),
	})
	return true
}

func (s *State) dropConversationLocked() {
	s.messages = nil
	s.conversation = nil
	s.conversationID = ""
}

// Phase returns the current state machine phase.
func (s *State) Phase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

// SetPhase moves the state machine.
func (s *State) SetPhase(p Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = p
}

// Snapshot is a read-only view of a session for rendering.
type Snapshot struct {
	PersonaID       string           `json:"persona_id"`
	Phase           Phase            `json:"phase"`
	CredentialValid bool             `json:"credential_valid"`
	ConversationID  string           `json:"conversation_id,omitempty"`
	Messages        []domain.Message `json:"messages"`
	Journal         []domain.Entry   `json:"journal"`
	Feedback        []domain.Entry   `json:"feedback"`
}

// Snapshot captures the current state.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	journal := slices.Clone(s.journal)
	slices.Reverse(journal)
	return Snapshot{
		PersonaID:       s.personaID,
		Phase:           s.phase,
		CredentialValid: s.client != nil,
		ConversationID:  s.conversationID,
		Messages:        nonNil(slices.Clone(s.messages)),
		Journal:         nonNil(journal),
		Feedback:        nonNil(slices.Clone(s.feedback)),
	}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
