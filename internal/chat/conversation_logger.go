package chat

import (
	"container/list"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

// ConversationLogEvent is one NDJSON line of a chat transcript.
type ConversationLogEvent struct {
	Timestamp  string         `json:"ts"`
	UserID     string         `json:"user_id"`
	SessionID  string         `json:"session_id"`
	PersonaID  string         `json:"persona_id,omitempty"`
	Channel    string         `json:"channel"`
	Direction  string         `json:"direction"`
	EventType  string         `json:"event_type"`
	ContentRaw string         `json:"content_raw"`
	Content    string         `json:"content"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// ConversationLogger records chat events.
type ConversationLogger interface {
	Log(event ConversationLogEvent)
	Close() error
}

// ConversationLogConfig controls transcript logging.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
	// MaxOpenFiles caps the per-session files kept open; the least recently
	// written one is closed first and reopened in append mode when needed.
	MaxOpenFiles int
}

type noopConversationLogger struct{}

func (noopConversationLogger) Log(ConversationLogEvent) {}
func (noopConversationLogger) Close() error             { return nil }

// NewConversationLogger returns an asynchronous NDJSON logger writing one file
// per user session under cfg.Dir, plus an optional global file. A disabled
// config yields a logger that discards everything.
func NewConversationLogger(cfg ConversationLogConfig, logger *slog.Logger) (ConversationLogger, error) {
	if !cfg.Enabled && !cfg.GlobalEnabled {
		return noopConversationLogger{}, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if cfg.MaxOpenFiles <= 0 {
		cfg.MaxOpenFiles = 64
	}
	if cfg.Enabled {
		if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
			return nil, fmt.Errorf("create conversation log dir: %w", err)
		}
	}

	l := &fileConversationLogger{
		cfg:    cfg,
		logger: logger,
		queue:  make(chan ConversationLogEvent, cfg.QueueSize),
		files:  make(map[string]*list.Element),
		lru:    list.New(),
		done:   make(chan struct{}),
	}
	if cfg.GlobalEnabled {
		if err := os.MkdirAll(filepath.Dir(cfg.GlobalPath), 0o700); err != nil {
			return nil, fmt.Errorf("create global conversation log dir: %w", err)
		}
		f, err := os.OpenFile(cfg.GlobalPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, fmt.Errorf("open global conversation log: %w", err)
		}
		l.global = f
	}

	go l.run()
	return l, nil
}

type fileConversationLogger struct {
	cfg    ConversationLogConfig
	logger *slog.Logger
	queue  chan ConversationLogEvent
	files  map[string]*list.Element // key -> element of lru holding *sessionLog
	lru    *list.List              // most recently written at the front
	global *os.File
	done   chan struct{}

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
	filesMu   sync.Mutex
}

type sessionLog struct {
	key string
	f   *os.File
}

// Log enqueues an event. Events are dropped when the queue is full.
func (l *fileConversationLogger) Log(event ConversationLogEvent) {
	if event.Content == "" {
		event.Content = cleanForReadability(event.ContentRaw)
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}
	select {
	case l.queue <- event:
	default:
		l.logger.Warn("conversation log queue full, dropping event",
			"user_id", event.UserID, "session_id", event.SessionID, "event_type", event.EventType)
	}
}

// Close drains the queue and closes every file.
func (l *fileConversationLogger) Close() error {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		close(l.queue)
		l.mu.Unlock()
	})
	<-l.done

	var firstErr error
	l.filesMu.Lock()
	for e := l.lru.Front(); e != nil; e = e.Next() {
		if err := e.Value.(*sessionLog).f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	l.files = make(map[string]*list.Element)
	l.lru.Init()
	l.filesMu.Unlock()
	if l.global != nil {
		if err := l.global.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (l *fileConversationLogger) run() {
	defer close(l.done)
	for event := range l.queue {
		line, err := json.Marshal(event)
		if err != nil {
			l.logger.Warn("failed to marshal conversation log event", "error", err)
			continue
		}
		line = append(line, '\n')

		if l.cfg.Enabled {
			l.writeSession(event, line)
		}
		if l.global != nil {
			if _, err := l.global.Write(line); err != nil {
				l.logger.Warn("failed to write global conversation log", "error", err)
			}
		}
	}
}

func (l *fileConversationLogger) writeSession(event ConversationLogEvent, line []byte) {
	l.filesMu.Lock()
	defer l.filesMu.Unlock()

	f, err := l.sessionFileLocked(event.UserID, event.SessionID)
	if err != nil {
		l.logger.Warn("failed to open conversation log", "error", err, "user_id", event.UserID)
		return
	}
	if _, err := f.Write(line); err != nil {
		l.logger.Warn("failed to write conversation log", "error", err, "user_id", event.UserID)
	}
}

func (l *fileConversationLogger) sessionFileLocked(userID, sessionID string) (*os.File, error) {
	userDir := safePathComponent(userID)
	key := userDir + "/" + safePathComponent(sessionID)
	if e, ok := l.files[key]; ok {
		l.lru.MoveToFront(e)
		return e.Value.(*sessionLog).f, nil
	}
	dir := filepath.Join(l.cfg.Dir, userDir)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(filepath.Join(dir, safePathComponent(sessionID)+".ndjson"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, err
	}
	l.files[key] = l.lru.PushFront(&sessionLog{key: key, f: f})

	for l.lru.Len() > l.cfg.MaxOpenFiles {
		oldest := l.lru.Back()
		sl := l.lru.Remove(oldest).(*sessionLog)
		delete(l.files, sl.key)
		if err := sl.f.Close(); err != nil {
			l.logger.Warn("failed to close conversation log", "error", err, "key", sl.key)
		}
	}
	return f, nil
}

func (l *fileConversationLogger) openFiles() int {
	l.filesMu.Lock()
	defer l.filesMu.Unlock()
	return l.lru.Len()
}

var (
	ansiPattern     = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)
	unsafePathChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)
)

func safePathComponent(s string) string {
	s = unsafePathChars.ReplaceAllString(s, "_")
	s = strings.Trim(s, ".")
	if s == "" {
		return "unknown"
	}
	return s
}

// cleanForReadability strips terminal escapes and normalises line endings.
func cleanForReadability(s string) string {
	s = ansiPattern.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return strings.TrimSpace(s)
}
