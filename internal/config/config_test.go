package config

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	unsetAll(t, "PORT", "DB_PATH", "GEMINI_MODEL", "REQUEST_TIMEOUT", "SESSION_TTL",
		"MAX_IMAGE_BYTES", "LOG_LEVEL", "CONVERSATION_LOG_ENABLED", "CONVERSATION_LOG_MAX_OPEN_FILES")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "./data/wellness.db", cfg.DBPath)
	assert.Equal(t, "gemini-2.5-flash", cfg.GeminiModel)
	assert.Equal(t, 60*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 60*time.Minute, cfg.SessionTTL)
	assert.Equal(t, int64(5<<20), cfg.MaxImageBytes)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.False(t, cfg.ConversationLog.Enabled)
	assert.Equal(t, 64, cfg.ConversationLog.MaxOpenFiles)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("REQUEST_TIMEOUT", "15s")
	t.Setenv("SESSION_TTL", "2h")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("RATE_LIMIT_PER_MINUTE", "60")
	t.Setenv("CONVERSATION_LOG_ENABLED", "yes")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, 15*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 2*time.Hour, cfg.SessionTTL)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, 60, cfg.RateLimit.PerMinute)
	assert.True(t, cfg.ConversationLog.Enabled)
}

func TestMalformedValuesFallBack(t *testing.T) {
	t.Setenv("REQUEST_TIMEOUT", "soon")
	t.Setenv("RATE_LIMIT_BURST", "many")
	t.Setenv("LOG_LEVEL", "chatty")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 60*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 5, cfg.RateLimit.Burst)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
}

func TestValidateRejects(t *testing.T) {
	t.Setenv("PORT", "")
	_, err := Load()
	assert.ErrorContains(t, err, "PORT")

	t.Setenv("PORT", "8080")
	t.Setenv("SESSION_TTL", "-1m")
	_, err = Load()
	assert.ErrorContains(t, err, "SESSION_TTL")
}

func TestIsDevelopment(t *testing.T) {
	assert.True(t, (&Config{}).IsDevelopment())
	assert.True(t, (&Config{FrontendURL: "http://localhost:5173"}).IsDevelopment())
	assert.False(t, (&Config{FrontendURL: "https://wellness.example.org"}).IsDevelopment())
}

// unsetAll removes keys for the duration of the test.
func unsetAll(t *testing.T, keys ...string) {
	t.Helper()
	for _, key := range keys {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}
