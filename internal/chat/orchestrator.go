// Package chat runs conversation turns: the crisis gate, persona seeding of
// the remote conversation, dispatch and transcript bookkeeping.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/wellness/internal/domain"
	"github.com/ashureev/wellness/internal/model"
	"github.com/ashureev/wellness/internal/persona"
	"github.com/ashureev/wellness/internal/recommend"
	"github.com/ashureev/wellness/internal/safety"
	"github.com/ashureev/wellness/internal/session"
)

var (
	// ErrCredentialRequired is returned for chat operations on a session
	// without a validated credential.
	ErrCredentialRequired = errors.New("a valid API key is required")
	// ErrEmptyMessage is returned when the user sends only whitespace.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrRemoteDispatch wraps any failure talking to the remote model. It is
	// surfaced inline in the transcript, never returned from Send.
	ErrRemoteDispatch = errors.New("remote dispatch failed")
)

// DefaultTimeout bounds a single remote call.
const DefaultTimeout = 60 * time.Second

// Outcome classifies the assistant side of a turn.
type Outcome string

const (
	OutcomeReply  Outcome = "reply"
	OutcomeCrisis Outcome = "crisis"
	OutcomeError  Outcome = "error"
)

// TurnInput is one user submission.
type TurnInput struct {
	Text      string
	Image     *model.Image
	UserID    string
	SessionID string
}

// Turn is a user message paired with its response.
type Turn struct {
	PersonaID string         `json:"persona_id"`
	User      domain.Message `json:"user"`
	Reply     domain.Message `json:"reply"`
	Outcome   Outcome        `json:"outcome"`
	Err       error          `json:"-"`
	Latency   time.Duration  `json:"-"`
}

// Config wires an Orchestrator.
type Config struct {
	Registry   *persona.Registry
	Detector   *safety.Detector
	Timeout    time.Duration
	Transcript ConversationLogger
}

// Orchestrator mediates every chat operation on a session.State.
type Orchestrator struct {
	registry   *persona.Registry
	detector   *safety.Detector
	provider   model.Provider
	timeout    time.Duration
	transcript ConversationLogger
}

// New creates an orchestrator. Zero Config fields fall back to the built-in
// catalog, the default crisis detector, DefaultTimeout and no transcript.
func New(provider model.Provider, cfg Config) *Orchestrator {
	if cfg.Registry == nil {
		cfg.Registry = persona.Default()
	}
	if cfg.Detector == nil {
		cfg.Detector = safety.DefaultDetector()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Transcript == nil {
		cfg.Transcript = noopConversationLogger{}
	}
	return &Orchestrator{
		registry:   cfg.Registry,
		detector:   cfg.Detector,
		provider:   provider,
		timeout:    cfg.Timeout,
		transcript: cfg.Transcript,
	}
}

// Registry returns the persona catalog.
func (o *Orchestrator) Registry() *persona.Registry {
	return o.registry
}

// SubmitCredential validates apiKey with the remote service. On success the
// session becomes Ready and the active persona's greeting is shown. On
// failure the session stays in CredentialPending and the error wraps
// model.ErrCredentialInvalid.
func (o *Orchestrator) SubmitCredential(ctx context.Context, st *session.State, apiKey string) error {
	unlock := st.LockTurn()
	defer unlock()

	cctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	client, err := o.provider.Connect(cctx, apiKey)
	if err != nil {
		if !st.CredentialValid() {
			st.SetPhase(session.PhaseCredentialPending)
		}
		if !errors.Is(err, model.ErrCredentialInvalid) {
			err = fmt.Errorf("%w: %w", model.ErrCredentialInvalid, err)
		}
		slog.Warn("API key validation failed", "error", err)
		return err
	}

	if st.CredentialValid() {
		st.ResetCredential()
	}
	st.SetCredential(client)
	slog.Info("API key validated", "persona", st.PersonaID())

	if err := o.prepareLocked(ctx, st); err != nil {
		slog.Warn("Failed to start conversation after validation", "error", err)
	}
	return nil
}

// ChangeCredential forgets the credential, the remote conversation and the
// transcript. Journal and feedback survive.
func (o *Orchestrator) ChangeCredential(st *session.State) {
	unlock := st.LockTurn()
	defer unlock()
	st.ResetCredential()
}

// Prepare makes sure the remote conversation exists for the active persona.
// A newly created conversation puts the persona greeting into the transcript.
func (o *Orchestrator) Prepare(ctx context.Context, st *session.State) error {
	unlock := st.LockTurn()
	defer unlock()
	return o.prepareLocked(ctx, st)
}

func (o *Orchestrator) prepareLocked(ctx context.Context, st *session.State) error {
	client := st.Client()
	if client == nil {
		st.SetPhase(session.PhaseCredentialPending)
		return ErrCredentialRequired
	}
	if conv, _ := st.Conversation(); conv != nil {
		return nil
	}

	st.SetPhase(session.PhaseAwaitingPersonaInit)
	p := st.Persona()

	cctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	conv, err := client.StartConversation(cctx, p.Prompt, p.SeedTurns())
	if err != nil {
		st.SetPhase(session.PhaseReady)
		return fmt.Errorf("start conversation for %s: %w", p.ID, err)
	}

	if st.InstallConversation(p.ID, conv, p.Greeting()) {
		slog.Debug("Remote conversation started", "persona", p.ID)
	}
	st.SetPhase(session.PhaseReady)
	return nil
}

// Send runs one turn. The crisis gate runs before any remote call; a hit is
// answered with the static safety message and nothing is dispatched. Remote
// failures become an inline error reply. Either way the user message and the
// reply are appended to the transcript in that order.
//
// Send only returns an error when the turn is refused: no credential or an
// empty message.
func (o *Orchestrator) Send(ctx context.Context, st *session.State, in TurnInput) (Turn, error) {
	unlock := st.LockTurn()
	defer unlock()

	if !st.CredentialValid() {
		st.SetPhase(session.PhaseCredentialPending)
		return Turn{}, ErrCredentialRequired
	}

	text := strings.TrimSpace(in.Text)
	if text == "" {
		return Turn{}, ErrEmptyMessage
	}

	start := time.Now()
	prepErr := o.prepareLocked(ctx, st)

	userMsg := domain.UserMessage(text)
	userMsg.HasImage = in.Image != nil
	turn := Turn{PersonaID: st.PersonaID(), User: userMsg}

	if phrase, hit := o.detector.Match(text); hit {
		turn.Outcome = OutcomeCrisis
		turn.Reply = domain.AssistantMessage(safety.Response())
		slog.Warn("Crisis gate triggered",
			"user_id", in.UserID,
			"session_id", in.SessionID,
			"persona", turn.PersonaID,
			"phrase", phrase,
		)
	} else if prepErr != nil {
		turn.Outcome = OutcomeError
		turn.Err = fmt.Errorf("%w: %w", ErrRemoteDispatch, prepErr)
		turn.Reply = domain.AssistantMessage(inlineError(prepErr))
	} else {
		st.SetPhase(session.PhaseDispatching)
		conv, _ := st.Conversation()
		reply, err := o.dispatch(ctx, conv, text, in.Image)
		if err != nil {
			turn.Outcome = OutcomeError
			turn.Err = fmt.Errorf("%w: %w", ErrRemoteDispatch, err)
			turn.Reply = domain.AssistantMessage(inlineError(err))
		} else {
			turn.Outcome = OutcomeReply
			turn.Reply = domain.AssistantMessage(reply)
		}
	}

	st.AppendMessage(turn.User, turn.Reply)
	st.SetPhase(session.PhaseResponded)
	turn.Latency = time.Since(start)

	attrs := []any{
		"user_id", in.UserID,
		"session_id", in.SessionID,
		"persona", turn.PersonaID,
		"outcome", turn.Outcome,
		"message_length", len(text),
		"has_image", in.Image != nil,
		"latency", turn.Latency,
	}
	if turn.Err != nil {
		slog.Error("Chat turn failed", append(attrs, "error", turn.Err)...)
	} else {
		slog.Info("Chat turn completed", attrs...)
	}
	o.logTurn(in, turn)

	return turn, nil
}

func (o *Orchestrator) dispatch(ctx context.Context, conv model.Conversation, text string, image *model.Image) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	return conv.Send(ctx, text, image)
}

// inlineError renders a remote failure as an assistant message.
func inlineError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "Error: the assistant took too long to respond. Please try again."
	}
	return "Error: " + err.Error()
}

// SwitchPersona activates id. A real switch drops the transcript and, when a
// credential is held, immediately seeds a new conversation.
func (o *Orchestrator) SwitchPersona(ctx context.Context, st *session.State, id string) (bool, error) {
	unlock := st.LockTurn()
	defer unlock()
	return o.switchLocked(ctx, st, id)
}

func (o *Orchestrator) switchLocked(ctx context.Context, st *session.State, id string) (bool, error) {
	changed, err := st.SwitchPersona(id)
	if err != nil {
		return false, err
	}
	if changed {
		slog.Info("Persona switched", "persona", id)
		if st.CredentialValid() {
			if err := o.prepareLocked(ctx, st); err != nil {
				slog.Warn("Failed to start conversation after persona switch", "persona", id, "error", err)
			}
		}
	}
	return changed, nil
}

// ClearChat drops the transcript and conversation and, when a credential is
// held, seeds a fresh conversation for the same persona.
func (o *Orchestrator) ClearChat(ctx context.Context, st *session.State) {
	unlock := st.LockTurn()
	defer unlock()

	st.ClearChat()
	if st.CredentialValid() {
		if err := o.prepareLocked(ctx, st); err != nil {
			slog.Warn("Failed to start conversation after clear", "error", err)
		}
	}
}

// Recommend runs the questionnaire and switches to the suggested persona.
func (o *Orchestrator) Recommend(ctx context.Context, st *session.State, q recommend.Questionnaire) (persona.Persona, bool, error) {
	if err := q.Validate(); err != nil {
		return persona.Persona{}, false, err
	}
	p, err := o.registry.Get(q.Recommend())
	if err != nil {
		return persona.Persona{}, false, err
	}

	unlock := st.LockTurn()
	defer unlock()
	switched, err := o.switchLocked(ctx, st, p.ID)
	if err != nil {
		return persona.Persona{}, false, err
	}
	slog.Info("Persona recommended",
		"age_group", q.AgeGroup, "concern", q.Concern, "mood", q.Mood,
		"persona", p.ID, "switched", switched)
	return p, switched, nil
}

func (o *Orchestrator) logTurn(in TurnInput, turn Turn) {
	ts := time.Now().UTC().Format(time.RFC3339Nano)
	o.transcript.Log(ConversationLogEvent{
		Timestamp:  ts,
		UserID:     in.UserID,
		SessionID:  in.SessionID,
		PersonaID:  turn.PersonaID,
		Channel:    "chat",
		Direction:  "outbound",
		EventType:  "chat_user_message",
		ContentRaw: turn.User.Content,
		Meta: map[string]any{
			"has_image": turn.User.HasImage,
		},
	})
	meta := map[string]any{
		"outcome":    string(turn.Outcome),
		"latency_ms": turn.Latency.Milliseconds(),
	}
	if turn.Err != nil {
		meta["error"] = turn.Err.Error()
	}
	o.transcript.Log(ConversationLogEvent{
		Timestamp:  ts,
		UserID:     in.UserID,
		SessionID:  in.SessionID,
		PersonaID:  turn.PersonaID,
		Channel:    "chat",
		Direction:  "inbound",
		EventType:  "chat_assistant_message",
		ContentRaw: turn.Reply.Content,
		Meta:       meta,
	})
}
