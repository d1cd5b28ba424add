package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ashureev/wellness/internal/domain"
	"github.com/ashureev/wellness/internal/model"
	"github.com/ashureev/wellness/internal/model/modeltest"
	"github.com/ashureev/wellness/internal/persona"
	"github.com/ashureev/wellness/internal/recommend"
	"github.com/ashureev/wellness/internal/safety"
	"github.com/ashureev/wellness/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOrchestrator(t *testing.T) (*Orchestrator, *modeltest.Provider, *session.State) {
	t.Helper()
	provider := modeltest.New()
	o := New(provider, Config{})
	return o, provider, session.New(o.Registry())
}

func readyState(t *testing.T) (*Orchestrator, *modeltest.Provider, *session.State) {
	t.Helper()
	o, provider, st := newTestOrchestrator(t)
	require.NoError(t, o.SubmitCredential(context.Background(), st, modeltest.ValidKey))
	return o, provider, st
}

func TestSendRefusedWithoutCredential(t *testing.T) {
	o, provider, st := newTestOrchestrator(t)

	_, err := o.Send(context.Background(), st, TurnInput{Text: "hello"})
	assert.True(t, errors.Is(err, ErrCredentialRequired))
	assert.Empty(t, st.Messages())
	assert.Empty(t, provider.Sends())
	assert.Equal(t, session.PhaseCredentialPending, st.Phase())

	assert.True(t, errors.Is(o.Prepare(context.Background(), st), ErrCredentialRequired))

	_, err = o.Send(context.Background(), st, TurnInput{Text: "   "})
	assert.True(t, errors.Is(err, ErrCredentialRequired), "blank text is refused for the missing credential first")
}

func TestInvalidCredentialKeepsSessionPending(t *testing.T) {
	o, provider, st := newTestOrchestrator(t)

	err := o.SubmitCredential(context.Background(), st, "wrong")
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrCredentialInvalid))
	assert.False(t, st.CredentialValid())
	assert.Equal(t, session.PhaseCredentialPending, st.Phase())
	assert.Empty(t, provider.Starts())
}

func TestGreetingAppearsExactlyOnceAfterValidation(t *testing.T) {
	o, provider, st := readyState(t)

	require.NoError(t, o.Prepare(context.Background(), st))
	require.NoError(t, o.Prepare(context.Background(), st))

	msgs := st.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.RoleAssistant, msgs[0].Role)
	assert.Equal(t, st.Persona().Greeting(), msgs[0].Content)
	assert.Equal(t, session.PhaseReady, st.Phase())

	starts := provider.Starts()
	require.Len(t, starts, 1)
	sage, err := o.Registry().Get(persona.Sage)
	require.NoError(t, err)
	assert.Equal(t, sage.Prompt, starts[0].SystemPrompt)
	assert.Equal(t, sage.SeedTurns()[1].Content, starts[0].Seed[1].Content)
}

func TestSendReply(t *testing.T) {
	o, provider, st := readyState(t)

	turn, err := o.Send(context.Background(), st, TurnInput{Text: "  exams are stressful  "})
	require.NoError(t, err)
	assert.Equal(t, OutcomeReply, turn.Outcome)
	assert.Equal(t, "exams are stressful", turn.User.Content)
	assert.Equal(t, "echo: exams are stressful", turn.Reply.Content)
	assert.NoError(t, turn.Err)

	msgs := st.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, domain.RoleUser, msgs[1].Role)
	assert.Equal(t, domain.RoleAssistant, msgs[2].Role)
	assert.Len(t, provider.Sends(), 1)
	assert.Equal(t, session.PhaseResponded, st.Phase())
}

func TestSendEmptyMessage(t *testing.T) {
	o, _, st := readyState(t)

	_, err := o.Send(context.Background(), st, TurnInput{Text: " \n\t"})
	assert.True(t, errors.Is(err, ErrEmptyMessage))
	assert.Len(t, st.Messages(), 1)
}

func TestCrisisGateSkipsRemoteDispatch(t *testing.T) {
	inputs := []string{
		"I think about SUICIDE a lot",
		"i just want to end it all",
		"I feel worthless",
	}
	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			o, provider, st := readyState(t)

			turn, err := o.Send(context.Background(), st, TurnInput{Text: in, Image: &model.Image{MIMEType: "image/png", Data: []byte{1}}})
			require.NoError(t, err)
			assert.Equal(t, OutcomeCrisis, turn.Outcome)
			assert.Equal(t, safety.Response(), turn.Reply.Content)
			assert.Empty(t, provider.Sends())

			msgs := st.Messages()
			require.Len(t, msgs, 3)
			assert.Equal(t, in, msgs[1].Content)
			assert.Equal(t, safety.Response(), msgs[2].Content)
		})
	}
}

func TestRemoteFailureIsInlineAndRecoverable(t *testing.T) {
	o, provider, st := readyState(t)
	provider.SetErr(errors.New("quota exceeded"))

	turn, err := o.Send(context.Background(), st, TurnInput{Text: "help me plan"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeError, turn.Outcome)
	assert.True(t, errors.Is(turn.Err, ErrRemoteDispatch))
	assert.Equal(t, "Error: quota exceeded", turn.Reply.Content)

	msgs := st.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, domain.RoleUser, msgs[1].Role)
	assert.Equal(t, domain.RoleAssistant, msgs[2].Role)

	provider.SetErr(nil)
	turn, err = o.Send(context.Background(), st, TurnInput{Text: "try again"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeReply, turn.Outcome)
	assert.Len(t, st.Messages(), 5)
}

type slowProvider struct{}

func (slowProvider) Connect(context.Context, string) (model.Client, error) { return slowClient{}, nil }

type slowClient struct{}

func (slowClient) StartConversation(context.Context, string, []domain.Message) (model.Conversation, error) {
	return slowConversation{}, nil
}

type slowConversation struct{}

func (slowConversation) Send(ctx context.Context, _ string, _ *model.Image) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestDispatchTimeoutIsRecoverable(t *testing.T) {
	o := New(slowProvider{}, Config{Timeout: 20 * time.Millisecond})
	st := session.New(o.Registry())
	require.NoError(t, o.SubmitCredential(context.Background(), st, "any"))

	turn, err := o.Send(context.Background(), st, TurnInput{Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeError, turn.Outcome)
	assert.True(t, errors.Is(turn.Err, context.DeadlineExceeded))
	assert.Contains(t, turn.Reply.Content, "took too long")
	assert.True(t, st.CredentialValid())
}

func TestStartFailureBecomesInlineError(t *testing.T) {
	o, provider, st := newTestOrchestrator(t)
	provider.StartErr = errors.New("backend unavailable")
	require.NoError(t, o.SubmitCredential(context.Background(), st, modeltest.ValidKey))
	assert.Empty(t, st.Messages())

	turn, err := o.Send(context.Background(), st, TurnInput{Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeError, turn.Outcome)
	assert.Contains(t, turn.Reply.Content, "backend unavailable")
	assert.Len(t, st.Messages(), 2)
}

func TestImageIsForwarded(t *testing.T) {
	o, provider, st := readyState(t)
	img := &model.Image{MIMEType: "image/jpeg", Data: []byte{0xff, 0xd8, 0xff}}

	turn, err := o.Send(context.Background(), st, TurnInput{Text: "what is this drawing?", Image: img})
	require.NoError(t, err)
	assert.True(t, turn.User.HasImage)

	sends := provider.Sends()
	require.Len(t, sends, 1)
	assert.Same(t, img, sends[0].Image)
}

func TestSwitchPersonaRebuildsConversation(t *testing.T) {
	o, provider, st := readyState(t)
	_, err := o.Send(context.Background(), st, TurnInput{Text: "hello"})
	require.NoError(t, err)
	_, firstID := st.Conversation()

	changed, err := o.SwitchPersona(context.Background(), st, persona.Spark)
	require.NoError(t, err)
	assert.True(t, changed)

	_, secondID := st.Conversation()
	assert.NotEqual(t, firstID, secondID)

	spark, err := o.Registry().Get(persona.Spark)
	require.NoError(t, err)
	msgs := st.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, spark.Greeting(), msgs[0].Content)

	starts := provider.Starts()
	require.Len(t, starts, 2)
	assert.Equal(t, spark.Prompt, starts[1].SystemPrompt)

	_, err = o.Send(context.Background(), st, TurnInput{Text: "activity ideas"})
	require.NoError(t, err)
	sends := provider.Sends()
	assert.Equal(t, 1, sends[len(sends)-1].Conversation)
}

func TestSwitchToActivePersonaKeepsHistory(t *testing.T) {
	o, provider, st := readyState(t)
	_, err := o.Send(context.Background(), st, TurnInput{Text: "hello"})
	require.NoError(t, err)
	_, id := st.Conversation()

	changed, err := o.SwitchPersona(context.Background(), st, persona.Sage)
	require.NoError(t, err)
	assert.False(t, changed)

	_, idAfter := st.Conversation()
	assert.Equal(t, id, idAfter)
	assert.Len(t, st.Messages(), 3)
	assert.Len(t, provider.Starts(), 1)
}

func TestSwitchUnknownPersona(t *testing.T) {
	o, _, st := readyState(t)

	_, err := o.SwitchPersona(context.Background(), st, "oracle")
	assert.True(t, errors.Is(err, persona.ErrNotFound))
	assert.Equal(t, persona.Sage, st.PersonaID())
}

func TestClearChatReseedsSamePersona(t *testing.T) {
	o, provider, st := readyState(t)
	_, err := o.Send(context.Background(), st, TurnInput{Text: "hello"})
	require.NoError(t, err)

	o.ClearChat(context.Background(), st)

	msgs := st.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, st.Persona().Greeting(), msgs[0].Content)
	assert.Equal(t, persona.Sage, st.PersonaID())
	assert.Len(t, provider.Starts(), 2)
}

func TestChangeCredentialGatesChat(t *testing.T) {
	o, _, st := readyState(t)
	_, err := st.AppendJournal("today was fine")
	require.NoError(t, err)

	o.ChangeCredential(st)

	_, err = o.Send(context.Background(), st, TurnInput{Text: "hello"})
	assert.True(t, errors.Is(err, ErrCredentialRequired))
	assert.Empty(t, st.Messages())
	assert.Len(t, st.Journal(), 1)

	require.NoError(t, o.SubmitCredential(context.Background(), st, modeltest.ValidKey))
	assert.Len(t, st.Messages(), 1)
}

func TestResubmittingCredentialStartsFresh(t *testing.T) {
	o, provider, st := readyState(t)
	_, err := o.Send(context.Background(), st, TurnInput{Text: "hello"})
	require.NoError(t, err)

	require.NoError(t, o.SubmitCredential(context.Background(), st, modeltest.ValidKey))
	assert.Len(t, st.Messages(), 1)
	assert.Equal(t, 2, provider.Connects())
}

func TestRecommendSwitchesPersona(t *testing.T) {
	o, _, st := readyState(t)

	p, switched, err := o.Recommend(context.Background(), st, recommend.Questionnaire{AgeGroup: "13-17", Concern: "Mental health", Mood: 3})
	require.NoError(t, err)
	assert.Equal(t, persona.Sage, p.ID)
	assert.False(t, switched)

	p, switched, err = o.Recommend(context.Background(), st, recommend.Questionnaire{AgeGroup: "Parent/Guardian", Concern: "Parenting", Mood: 7})
	require.NoError(t, err)
	assert.Equal(t, persona.Nurture, p.ID)
	assert.True(t, switched)
	assert.Equal(t, persona.Nurture, st.PersonaID())

	_, _, err = o.Recommend(context.Background(), st, recommend.Questionnaire{AgeGroup: "Other", Concern: "Parenting", Mood: 42})
	assert.Error(t, err)
	assert.Equal(t, persona.Nurture, st.PersonaID())
}

func TestRecommendWithoutCredentialStillSwitches(t *testing.T) {
	o, provider, st := newTestOrchestrator(t)

	_, switched, err := o.Recommend(context.Background(), st, recommend.Questionnaire{AgeGroup: "Other", Concern: "Child development", Mood: 5})
	require.NoError(t, err)
	assert.True(t, switched)
	assert.Equal(t, persona.Spark, st.PersonaID())
	assert.Empty(t, provider.Starts())
}

type recordingLogger struct {
	events []ConversationLogEvent
}

func (r *recordingLogger) Log(e ConversationLogEvent) { r.events = append(r.events, e) }
func (r *recordingLogger) Close() error               { return nil }

func TestTurnsAreTranscribed(t *testing.T) {
	rec := &recordingLogger{}
	provider := modeltest.New()
	o := New(provider, Config{Transcript: rec})
	st := session.New(o.Registry())
	require.NoError(t, o.SubmitCredential(context.Background(), st, modeltest.ValidKey))

	_, err := o.Send(context.Background(), st, TurnInput{Text: "hello", UserID: "u1", SessionID: "s1"})
	require.NoError(t, err)

	require.Len(t, rec.events, 2)
	assert.Equal(t, "chat_user_message", rec.events[0].EventType)
	assert.Equal(t, "chat_assistant_message", rec.events[1].EventType)
	assert.Equal(t, "u1", rec.events[1].UserID)
	assert.Equal(t, persona.Sage, rec.events[1].PersonaID)
	assert.Equal(t, "reply", rec.events[1].Meta["outcome"])
}
