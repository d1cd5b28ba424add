package chat

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestConversationLoggerWritesPerSessionNDJSON(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logger, err := NewConversationLogger(ConversationLogConfig{
		Enabled:   true,
		Dir:       dir,
		QueueSize: 16,
	}, slog.Default())
	if err != nil {
		t.Fatalf("NewConversationLogger failed: %v", err)
	}
	defer func() { _ = logger.Close() }()

	event := ConversationLogEvent{
		UserID:     "user-1",
		SessionID:  "sess-1",
		PersonaID:  "sage",
		Channel:    "chat",
		Direction:  "outbound",
		EventType:  "chat_user_message",
		ContentRaw: "exams next week",
	}
	logger.Log(event)

	path := filepath.Join(dir, "user-1", "sess-1.ndjson")
	line := waitForLogLine(t, path)
	var got ConversationLogEvent
	if err := json.Unmarshal([]byte(line), &got); err != nil {
		t.Fatalf("failed to unmarshal log line: %v", err)
	}
	if got.ContentRaw != "exams next week" {
		t.Fatalf("unexpected ContentRaw: %q", got.ContentRaw)
	}
	if got.Content == "" {
		t.Fatal("expected cleaned content to be populated")
	}
	if got.PersonaID != "sage" {
		t.Fatalf("unexpected PersonaID: %q", got.PersonaID)
	}
}

func TestConversationLoggerGlobalFileAndClose(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	global := filepath.Join(dir, "all", "all.ndjson")
	logger, err := NewConversationLogger(ConversationLogConfig{
		GlobalEnabled: true,
		GlobalPath:    global,
	}, nil)
	if err != nil {
		t.Fatalf("NewConversationLogger failed: %v", err)
	}

	logger.Log(ConversationLogEvent{UserID: "../escape", SessionID: "s", ContentRaw: "one"})
	logger.Log(ConversationLogEvent{UserID: "u", SessionID: "s", ContentRaw: "two"})
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	// Logging after close is dropped silently.
	logger.Log(ConversationLogEvent{ContentRaw: "late"})

	data, err := os.ReadFile(global)
	if err != nil {
		t.Fatalf("read global log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), data)
	}
	if _, err := os.Stat(filepath.Join(dir, "escape")); !os.IsNotExist(err) {
		t.Fatalf("per-session files must not be written when disabled")
	}
}

func TestConversationLoggerBoundsOpenFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logger, err := NewConversationLogger(ConversationLogConfig{
		Enabled:      true,
		Dir:          dir,
		QueueSize:    64,
		MaxOpenFiles: 2,
	}, nil)
	if err != nil {
		t.Fatalf("NewConversationLogger failed: %v", err)
	}
	defer func() { _ = logger.Close() }()
	fl := logger.(*fileConversationLogger)

	sessions := []string{"tab-0", "tab-1", "tab-2", "tab-3", "tab-4"}
	for _, sid := range sessions {
		fl.Log(ConversationLogEvent{UserID: "u", SessionID: sid, ContentRaw: "hello " + sid})
	}
	waitForLogLine(t, filepath.Join(dir, "u", "tab-4.ndjson"))

	if n := fl.openFiles(); n > 2 {
		t.Fatalf("open session files = %d, want at most 2", n)
	}

	// An evicted session is reopened in append mode.
	fl.Log(ConversationLogEvent{UserID: "u", SessionID: "tab-0", ContentRaw: "again"})
	path := filepath.Join(dir, "u", "tab-0.ndjson")
	deadline := time.Now().Add(2 * time.Second)
	for {
		data, _ := os.ReadFile(path)
		lines := strings.Split(strings.TrimSpace(string(data)), "\n")
		if len(lines) == 2 {
			if !strings.Contains(lines[0], "hello tab-0") || !strings.Contains(lines[1], "again") {
				t.Fatalf("unexpected transcript: %q", data)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected 2 lines in reopened transcript, got %q", data)
		}
		time.Sleep(20 * time.Millisecond)
	}
	if n := fl.openFiles(); n > 2 {
		t.Fatalf("open session files = %d after reopen, want at most 2", n)
	}
}

func TestDisabledConversationLoggerIsNoop(t *testing.T) {
	logger, err := NewConversationLogger(ConversationLogConfig{}, nil)
	if err != nil {
		t.Fatalf("NewConversationLogger failed: %v", err)
	}
	logger.Log(ConversationLogEvent{ContentRaw: "ignored"})
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

func TestCleanForReadabilityStripsANSI(t *testing.T) {
	t.Parallel()

	raw := "\x1b[31merror\x1b[0m plain\r\n"
	clean := cleanForReadability(raw)
	if strings.Contains(clean, "\x1b[31m") {
		t.Fatalf("expected ANSI sequence to be stripped: %q", clean)
	}
	if clean != "error plain" {
		t.Fatalf("expected readable text to remain: %q", clean)
	}
}

func TestSafePathComponent(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"anon_abc":  "anon_abc",
		"../../etc": "_.._etc",
		"":          "unknown",
		"a/b":       "a_b",
	}
	for in, want := range cases {
		if got := safePathComponent(in); got != want {
			t.Errorf("safePathComponent(%q) = %q, want %q", in, got, want)
		}
	}
}

func waitForLogLine(t *testing.T, path string) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		data, err := os.ReadFile(path)
		if err == nil && len(data) > 0 {
			lines := strings.Split(strings.TrimSpace(string(data)), "\n")
			if len(lines) > 0 {
				return lines[len(lines)-1]
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for log file %s", path)
	return ""
}
