package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ashureev/wellness/internal/chat"
	"github.com/ashureev/wellness/internal/domain"
	"github.com/ashureev/wellness/internal/model"
	"github.com/ashureev/wellness/internal/recommend"
	"github.com/ashureev/wellness/internal/safety"
	"github.com/ashureev/wellness/internal/session"
	"github.com/ashureev/wellness/internal/store"
	"github.com/peterh/liner"
	"github.com/spf13/cobra"
)

const (
	cliUserID    = "cli"
	cliSessionID = "terminal"
)

var errQuit = errors.New("quit")

func init() {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with a persona in the terminal",
		RunE:  runChat,
	}
	cmd.Flags().String("persona", "", "Persona to start with (sage, nurture, spark, bridge)")
	RootCmd.AddCommand(cmd)
}

// lineReader is the subset of liner.State the REPL needs.
type lineReader interface {
	Prompt(prompt string) (string, error)
	PasswordPrompt(prompt string) (string, error)
	AppendHistory(item string)
}

// repl drives one terminal chat session.
type repl struct {
	orch *chat.Orchestrator
	st   *session.State
	repo store.Repository // nil when the archive is unavailable
	in   lineReader
	out  io.Writer
}

func runChat(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	level := cfg.LogLevel
	if level < slog.LevelWarn {
		level = slog.LevelWarn
	}
	setupLogger(os.Stderr, level)

	var repo store.Repository
	if s, err := store.NewSQLite(cfg.DBPath); err != nil {
		slog.Warn("Feedback archive unavailable", "error", err)
	} else {
		repo = s
		defer func() { _ = s.Close() }()
	}

	orch := chat.New(model.NewGemini(cfg.GeminiModel), chat.Config{Timeout: cfg.RequestTimeout})
	st := session.New(orch.Registry())
	if id, _ := cmd.Flags().GetString("persona"); id != "" {
		if _, err := st.SwitchPersona(id); err != nil {
			return err
		}
	}

	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	history := historyPath()
	if f, err := os.Open(history); err == nil {
		_, _ = line.ReadHistory(f)
		_ = f.Close()
	}
	defer func() {
		if f, err := os.OpenFile(history, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600); err == nil {
			_, _ = line.WriteHistory(f)
			_ = f.Close()
		}
		_ = line.Close()
	}()

	r := &repl{orch: orch, st: st, repo: repo, in: line, out: cmd.OutOrStdout()}
	ctx := cmd.Context()

	if err := r.authenticate(ctx, cfg.GeminiAPIKey); err != nil {
		if errors.Is(err, errQuit) {
			return nil
		}
		return err
	}
	return r.loop(ctx)
}

func historyPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	dir = filepath.Join(dir, "wellness")
	_ = os.MkdirAll(dir, 0o700)
	return filepath.Join(dir, "chat_history")
}

// authenticate validates key, prompting until a valid key is entered. The
// persona greeting is printed once the conversation is ready.
func (r *repl) authenticate(ctx context.Context, key string) error {
	for {
		if strings.TrimSpace(key) == "" {
			k, err := r.in.PasswordPrompt("Gemini API key: ")
			if err != nil {
				return errQuit
			}
			key = k
		}
		if err := r.orch.SubmitCredential(ctx, r.st, key); err != nil {
			fmt.Fprintln(r.out, "Invalid API key. Please check and try again.")
			key = ""
			continue
		}
		r.printTranscriptTail(1)
		fmt.Fprintln(r.out, "Type /help for commands.")
		return nil
	}
}

func (r *repl) loop(ctx context.Context) error {
	for {
		input, err := r.in.Prompt(r.prompt())
		if err != nil {
			// Ctrl+C or Ctrl+D.
			fmt.Fprintln(r.out)
			return nil
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		r.in.AppendHistory(input)

		if err := r.handle(ctx, input); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}
			fmt.Fprintf(r.out, "[Error] %v\n", err)
		}
	}
}

func (r *repl) prompt() string {
	return r.st.Persona().Name + " > "
}

// handle runs one line of input: a slash command or a chat message.
func (r *repl) handle(ctx context.Context, input string) error {
	if !strings.HasPrefix(input, "/") {
		return r.send(ctx, input, nil)
	}

	name, rest, _ := strings.Cut(input, " ")
	rest = strings.TrimSpace(rest)

	switch name {
	case "/quit", "/exit":
		return errQuit
	case "/help":
		r.printHelp()
	case "/personas":
		active := r.st.PersonaID()
		for _, p := range r.orch.Registry().List() {
			marker := " "
			if p.ID == active {
				marker = "*"
			}
			fmt.Fprintf(r.out, "%s %-8s %s: %s\n", marker, p.ID, p.Name, p.Description)
		}
	case "/persona":
		changed, err := r.orch.SwitchPersona(ctx, r.st, rest)
		if err != nil {
			return err
		}
		if !changed {
			fmt.Fprintf(r.out, "Already talking with %s.\n", r.st.Persona().Name)
			return nil
		}
		fmt.Fprintf(r.out, "Switched to %s.\n", r.st.Persona().Name)
		r.printTranscriptTail(1)
	case "/clear":
		r.orch.ClearChat(ctx, r.st)
		fmt.Fprintln(r.out, "Chat cleared.")
		r.printTranscriptTail(1)
	case "/key":
		r.orch.ChangeCredential(r.st)
		return r.authenticate(ctx, rest)
	case "/journal":
		if rest == "" {
			entries := r.st.Journal()
			if len(entries) == 0 {
				fmt.Fprintln(r.out, "No journal entries yet.")
			}
			for _, e := range entries {
				fmt.Fprintf(r.out, "%s\n> %s\n", e.Stamp(), e.Text)
			}
			return nil
		}
		if _, err := r.st.AppendJournal(rest); err != nil {
			return err
		}
		fmt.Fprintln(r.out, "Journal entry saved!")
	case "/feedback":
		return r.feedback(ctx, rest)
	case "/recommend":
		return r.recommend(ctx, rest)
	case "/image":
		path, msg, _ := strings.Cut(rest, " ")
		return r.sendImage(ctx, path, msg)
	case "/crisis":
		fmt.Fprintln(r.out, safety.Response())
	default:
		return fmt.Errorf("unknown command %s (try /help)", name)
	}
	return nil
}

func (r *repl) send(ctx context.Context, text string, img *model.Image) error {
	turn, err := r.orch.Send(ctx, r.st, chat.TurnInput{
		Text:      text,
		Image:     img,
		UserID:    cliUserID,
		SessionID: cliSessionID,
	})
	if err != nil {
		return err
	}
	r.printMessage(turn.Reply)
	return nil
}

func (r *repl) sendImage(ctx context.Context, path, text string) error {
	if path == "" {
		return errors.New("usage: /image <path> <message>")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read image: %w", err)
	}
	img, err := model.DetectImage(data)
	if err != nil {
		return err
	}
	if strings.TrimSpace(text) == "" {
		text = "What do you see in this image?"
	}
	return r.send(ctx, text, img)
}

func (r *repl) feedback(ctx context.Context, text string) error {
	entry, err := r.st.AppendFeedback(text)
	if err != nil {
		return err
	}
	if r.repo != nil {
		rec := &domain.FeedbackRecord{
			ID:        entry.ID,
			UserID:    cliUserID,
			SessionID: cliSessionID,
			PersonaID: r.st.PersonaID(),
			Text:      entry.Text,
			CreatedAt: entry.CreatedAt,
		}
		if err := r.repo.SaveFeedback(ctx, rec); err != nil {
			slog.Warn("Failed to archive feedback", "error", err)
		}
	}
	fmt.Fprintln(r.out, "Feedback submitted!")
	return nil
}

// recommend parses "age|concern|mood"; the mood part is optional.
func (r *repl) recommend(ctx context.Context, args string) error {
	parts := strings.Split(args, "|")
	if len(parts) < 2 {
		return fmt.Errorf("usage: /recommend <age>|<concern>|<mood>, ages: %s; concerns: %s",
			strings.Join(recommend.AgeGroups, ", "), strings.Join(recommend.Concerns, ", "))
	}
	q := recommend.DefaultQuestionnaire()
	q.AgeGroup = strings.TrimSpace(parts[0])
	q.Concern = strings.TrimSpace(parts[1])
	if len(parts) > 2 {
		mood, err := strconv.Atoi(strings.TrimSpace(parts[2]))
		if err != nil {
			return fmt.Errorf("mood must be a number: %w", err)
		}
		q.Mood = mood
	}

	p, switched, err := r.orch.Recommend(ctx, r.st, q)
	if err != nil {
		return err
	}
	if !switched {
		fmt.Fprintf(r.out, "%s is already a good fit.\n", p.Name)
		return nil
	}
	fmt.Fprintf(r.out, "Switched to %s\n", p.Name)
	r.printTranscriptTail(1)
	return nil
}

func (r *repl) printTranscriptTail(n int) {
	msgs := r.st.Messages()
	if len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	for _, m := range msgs {
		r.printMessage(m)
	}
}

func (r *repl) printMessage(m domain.Message) {
	who := "You"
	if m.Role == domain.RoleAssistant {
		who = r.st.Persona().Name
	}
	fmt.Fprintf(r.out, "\n%s: %s\n\n", who, m.Content)
}

func (r *repl) printHelp() {
	fmt.Fprint(r.out, `Commands:
  /personas                      list personas
  /persona <id>                  switch persona (clears the chat)
  /clear                         clear the chat
  /key [api-key]                 change API key
  /journal [text]                add a journal entry, or list entries
  /feedback <text>               send feedback
  /recommend <age>|<concern>|<mood>  suggest a persona
  /image <path> <message>        send a JPEG or PNG with a message
  /crisis                        show crisis resources
  /quit                          exit
`)
}
