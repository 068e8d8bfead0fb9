package ui

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"github.com/chatcast/chatcast/internal/app"
	"github.com/chatcast/chatcast/internal/config"
	"github.com/chatcast/chatcast/internal/engines/mock"
	"github.com/chatcast/chatcast/internal/playback"
	"github.com/chatcast/chatcast/internal/ttypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const episode = `title: Episode
segments:
  - speaker: Host
    line: Hello there.
  - speaker: Guest
    line: Hi!
  - speaker: Caller
    line: Can you hear me?
voices:
  Host:
    voice: mock-host
  Guest:
    voice: mock-guest
`

func newTestApp(t *testing.T) *app.App {
	t.Helper()
	cfg := config.Default()
	cfg.Engine = config.EngineMock
	cfg.History.Enabled = false
	cfg.Playback.PingInterval = time.Hour

	engine := mock.New(mock.WithDuration(300 * time.Millisecond))
	a, err := app.New(context.Background(), cfg, log.New(io.Discard), app.WithEngine(engine))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	path := filepath.Join(t.TempDir(), "episode.yaml")
	require.NoError(t, os.WriteFile(path, []byte(episode), 0o644))
	_, _, err = a.Load(path)
	require.NoError(t, err)
	return a
}

func newTestModel(t *testing.T, a *app.App, cfg Config) model {
	t.Helper()
	m := newModel(cfg, a)
	t.Cleanup(m.cancel)
	return update(t, m, tea.WindowSizeMsg{Width: 80, Height: 20})
}

func update(t *testing.T, m model, msg tea.Msg) model {
	t.Helper()
	next, _ := m.Update(msg)
	return next.(model)
}

func press(t *testing.T, m model, k string) (model, tea.Cmd) {
	t.Helper()
	var msg tea.KeyMsg
	switch k {
	case " ":
		msg = tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}
	case "esc":
		msg = tea.KeyMsg{Type: tea.KeyEsc}
	default:
		msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)}
	}
	next, cmd := m.Update(msg)
	return next.(model), cmd
}

// waitFor runs cmd, expanding batches, until it yields a T. Commands that
// block are abandoned.
func waitFor[T any](t *testing.T, cmd tea.Cmd) T {
	t.Helper()
	require.NotNil(t, cmd)
	out := make(chan tea.Msg, 64)
	var run func(tea.Cmd)
	run = func(c tea.Cmd) {
		go func() {
			msg := c()
			if batch, ok := msg.(tea.BatchMsg); ok {
				for _, c := range batch {
					if c != nil {
						run(c)
					}
				}
				return
			}
			out <- msg
		}()
	}
	run(cmd)

	timeout := time.After(2 * time.Second)
	for {
		select {
		case msg := <-out:
			if v, ok := msg.(T); ok {
				return v
			}
		case <-timeout:
			var zero T
			t.Fatalf("no %T produced", zero)
			return zero
		}
	}
}

func nextEvent(t *testing.T, a *app.App, kind playback.EventKind) playback.Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-a.Events():
			if ev.Kind == kind {
				return ev
			}
		case <-timeout:
			t.Fatalf("no %s event", kind)
			return playback.Event{}
		}
	}
}

func TestNewModel(t *testing.T) {
	a := newTestApp(t)

	m := newTestModel(t, a, Config{StartIndex: 10})
	assert.Equal(t, 2, m.cursor, "start index is clamped")
	assert.Equal(t, a.Path(), m.cfg.Path)
	assert.Len(t, m.offsets, 4)

	m = newTestModel(t, a, Config{StartIndex: 1})
	assert.Equal(t, 1, m.cursor)
}

func TestCursorMovement(t *testing.T) {
	m := newTestModel(t, newTestApp(t), Config{})

	m, _ = press(t, m, "j")
	assert.Equal(t, 1, m.cursor)
	assert.False(t, m.follow)
	m, _ = press(t, m, "G")
	assert.Equal(t, 2, m.cursor)
	m, _ = press(t, m, "j")
	assert.Equal(t, 2, m.cursor)
	m, _ = press(t, m, "k")
	assert.Equal(t, 1, m.cursor)
	m, _ = press(t, m, "g")
	assert.Equal(t, 0, m.cursor)
}

func TestView(t *testing.T) {
	m := newTestModel(t, newTestApp(t), Config{MaxWidth: 100})
	view := m.View()

	assert.Contains(t, view, "Hello there.")
	assert.Contains(t, view, "Can you hear me?")
	assert.Contains(t, view, "chatcast")
	assert.Contains(t, view, "1/3")
	assert.Contains(t, view, "stopped")
	assert.NotContains(t, view, "toggle help")
}

func TestHelpToggle(t *testing.T) {
	m := newTestModel(t, newTestApp(t), Config{})
	height := m.viewport.Height

	m, _ = press(t, m, "?")
	assert.True(t, m.showHelp)
	assert.Less(t, m.viewport.Height, height)
	assert.Contains(t, m.View(), "play/pause")

	m, _ = press(t, m, "esc")
	assert.False(t, m.showHelp)
	assert.Equal(t, height, m.viewport.Height)
}

func TestToggleAndStop(t *testing.T) {
	a := newTestApp(t)
	m := newTestModel(t, a, Config{})

	m, _ = press(t, m, "j")
	m, cmd := press(t, m, " ")
	assert.True(t, m.pending)
	done := waitFor[transitionDoneMsg](t, cmd)
	require.NoError(t, done.err)
	m = update(t, m, done)
	assert.False(t, m.pending)

	ev := nextEvent(t, a, playback.EventSegmentStart)
	m = update(t, m, playbackEventMsg(ev))
	assert.Equal(t, 1, ev.Index)
	assert.Equal(t, 1, m.cursor)
	assert.Equal(t, playback.StatePlaying, m.snapshot.State)
	assert.True(t, m.isCurrent(1))
	assert.Contains(t, m.View(), "playing")
	assert.Contains(t, m.View(), "2/3")

	m, cmd = press(t, m, "s")
	done = waitFor[transitionDoneMsg](t, cmd)
	require.NoError(t, done.err)
	m = update(t, m, done)

	ev = nextEvent(t, a, playback.EventFinish)
	m = update(t, m, playbackEventMsg(ev))
	assert.Equal(t, playback.StateStopped, m.snapshot.State)
	assert.False(t, m.isCurrent(1))
}

func TestTransition_IgnoredWhilePending(t *testing.T) {
	m := newTestModel(t, newTestApp(t), Config{})
	m.pending = true

	_, cmd := press(t, m, " ")
	assert.Nil(t, cmd)
}

func TestTransitionDone_Errors(t *testing.T) {
	m := newTestModel(t, newTestApp(t), Config{})

	m = update(t, m, transitionDoneMsg{action: "toggle", err: playback.ErrBusy})
	assert.Equal(t, stateBrowse, m.state)

	m = update(t, m, transitionDoneMsg{action: "play", err: errors.New("engine unavailable")})
	assert.Equal(t, stateStatusMessage, m.state)
	assert.True(t, m.statusMessage.isError)
	assert.Contains(t, m.View(), "engine unavailable")

	m = update(t, m, statusMessageTimeoutMsg{})
	assert.Equal(t, stateBrowse, m.state)
}

func TestStep_MovesCursorWhenStopped(t *testing.T) {
	m := newTestModel(t, newTestApp(t), Config{})

	m, cmd := press(t, m, "n")
	assert.Nil(t, cmd)
	assert.Equal(t, 1, m.cursor)
	m, _ = press(t, m, "p")
	assert.Equal(t, 0, m.cursor)
}

func TestScriptReloaded(t *testing.T) {
	a := newTestApp(t)
	m := newTestModel(t, a, Config{StartIndex: 2})

	s := a.Owner().Script()
	s.Segments = s.Segments[:1]
	s.Segments[0].Line = "Edited."
	m = update(t, m, scriptReloadedMsg{script: s})

	assert.Len(t, m.script.Segments, 1)
	assert.Equal(t, 0, m.cursor)
	assert.Equal(t, "Edited.", a.Owner().Script().Segments[0].Line)
	assert.Equal(t, "Reloaded script", m.statusMessage.message)
	assert.Contains(t, m.View(), "Edited.")

	m = update(t, m, scriptReloadedMsg{err: errors.New("yaml: bad indent")})
	assert.True(t, m.statusMessage.isError)
	assert.Len(t, m.script.Segments, 1, "failed reloads keep the script")

	m = update(t, m, scriptReloadedMsg{script: ttypes.Script{}})
	assert.True(t, m.statusMessage.isError)
	assert.Contains(t, m.statusMessage.message, "Reload failed")
}

func TestVoicesRefresh(t *testing.T) {
	m := newTestModel(t, newTestApp(t), Config{})

	_, cmd := press(t, m, "r")
	msg := waitFor[voicesMsg](t, cmd)
	assert.True(t, msg.refresh)

	m = update(t, m, msg)
	assert.Equal(t, 3, m.voices)
	assert.Equal(t, "3 voices from mock", m.statusMessage.message)
}

func TestFatalError(t *testing.T) {
	m := newTestModel(t, newTestApp(t), Config{})

	m = update(t, m, errMsg{errors.New("boom")})
	assert.Contains(t, m.View(), "ERROR")
	assert.Contains(t, m.View(), "boom")

	_, cmd := press(t, m, "x")
	require.NotNil(t, cmd)
	assert.Equal(t, tea.QuitMsg{}, cmd())
	assert.Error(t, m.ctx.Err())
}

func TestIndent(t *testing.T) {
	assert.Equal(t, "  a\n  b\n", indent("a\nb", 2))
	assert.Equal(t, "a", indent("a", 0))
	assert.Equal(t, "", indent("", 2))
}
