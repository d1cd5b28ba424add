package session

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/wellness/internal/persona"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestManagerIsolatesSessions(t *testing.T) {
	m := NewManager(persona.Default())

	a := m.Get("user-a", "tab-1")
	b := m.Get("user-b", "tab-1")
	a2 := m.Get("user-a", "tab-2")

	assert.NotSame(t, a, b)
	assert.NotSame(t, a, a2)
	assert.Same(t, a, m.Get("user-a", "tab-1"))

	_, err := a.SwitchPersona(persona.Bridge)
	require.NoError(t, err)
	_, err = a.AppendJournal("private")
	require.NoError(t, err)

	assert.Equal(t, persona.Sage, b.PersonaID())
	assert.Empty(t, b.Journal())
	assert.Equal(t, 3, m.Len())
}

func TestManagerRemoveAndCloseUser(t *testing.T) {
	m := NewManager(persona.Default())
	m.Get("u", "1")
	m.Get("u", "2")
	m.Get("v", "1")

	m.Remove("u", "1")
	assert.Equal(t, 2, m.Len())

	assert.Equal(t, 1, m.CloseUser("u"))
	assert.Equal(t, 1, m.Len())
	assert.Equal(t, 0, m.CloseUser("nobody"))
}

func TestManagerTouchKeepsHeldSessionAlive(t *testing.T) {
	m := NewManager(persona.Default())
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	st := m.Get("u", "ws")
	_, err := st.AppendJournal("still here")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		now = now.Add(40 * time.Minute)
		m.Touch("u", "ws", st)
	}
	assert.Equal(t, 0, m.Reap(time.Hour))
	assert.Same(t, st, m.Get("u", "ws"))

	// Reaped while held: the next touch puts the same state back.
	now = now.Add(2 * time.Hour)
	assert.Equal(t, 1, m.Reap(time.Hour))
	m.Touch("u", "ws", st)
	got := m.Get("u", "ws")
	assert.Same(t, st, got)
	assert.Len(t, got.Journal(), 1)
}

func TestManagerReap(t *testing.T) {
	m := NewManager(persona.Default())
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	stale := m.Get("u", "old")
	now = now.Add(30 * time.Minute)
	m.Get("u", "fresh")
	now = now.Add(31 * time.Minute)

	assert.Equal(t, 1, m.Reap(time.Hour))
	assert.Equal(t, 1, m.Len())
	assert.NotSame(t, stale, m.Get("u", "old"))
}

func TestReaperStopsOnCancel(t *testing.T) {
	m := NewManager(persona.Default())
	m.Get("u", "1")

	ctx, cancel := context.WithCancel(context.Background())
	done := StartReaper(ctx, m, 5*time.Millisecond, time.Nanosecond)

	require.Eventually(t, func() bool { return m.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop")
	}
}

func TestManagerConcurrentAccess(t *testing.T) {
	m := NewManager(persona.Default())

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				st := m.Get("user-"+strconv.Itoa(w), "tab-"+strconv.Itoa(i%10))
				_, _ = st.AppendJournal("entry")
				m.Reap(time.Hour)
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, 40, m.Len())
}

func TestNormalizeID(t *testing.T) {
	tests := map[string]string{
		"tab-1":                  "tab-1",
		"  tab-1 ":               "tab-1",
		"":                       DefaultID,
		"tab with spaces":        DefaultID,
		"../etc":                 DefaultID,
		strings.Repeat("a", 129): DefaultID,
		"0190b1c2.x:y_z":         "0190b1c2.x:y_z",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeID(in), "NormalizeID(%q)", in)
	}
}
