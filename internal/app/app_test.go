package app

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/charmbracelet/log"
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
`

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Engine = config.EngineMock
	cfg.History.Path = filepath.Join(t.TempDir(), "history.db")
	cfg.Playback.PingInterval = time.Hour
	cfg.Voices = ttypes.VoiceMapping{"guest": {VoiceID: "mock-guest"}}
	return cfg
}

func newApp(t *testing.T, cfg config.Config) (*App, *mock.Engine) {
	t.Helper()
	engine := mock.New(mock.WithDuration(5 * time.Millisecond))
	a, err := New(context.Background(), cfg, log.New(io.Discard), WithEngine(engine))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a, engine
}

func writeScript(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "episode.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// collect gathers segment indexes until the session finishes.
func collect(t *testing.T, a *App) []int {
	t.Helper()
	var segments []int
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-a.Events():
			switch ev.Kind {
			case playback.EventSegmentStart:
				segments = append(segments, ev.Index)
			case playback.EventFinish:
				return segments
			}
		case <-timeout:
			t.Fatal("session did not finish")
			return nil
		}
	}
}

func TestLoad_AppliesConfigVoices(t *testing.T) {
	a, _ := newApp(t, testConfig(t))

	s, missing, err := a.Load(writeScript(t, episode))
	require.NoError(t, err)
	assert.Equal(t, []string{"Caller"}, missing)
	assert.Equal(t, "mock-guest", s.Voices["guest"].VoiceID)
	assert.Equal(t, "mock-host", s.Voices["Host"].VoiceID)
	assert.True(t, filepath.IsAbs(a.Path()))
	assert.Equal(t, s, a.Owner().Script())
}

func TestLoad_RejectsInvalidScript(t *testing.T) {
	a, _ := newApp(t, testConfig(t))
	_, _, err := a.Load(writeScript(t, "segments: []\n"))
	assert.ErrorContains(t, err, "no segments")
}

func TestPlay_SkipsUnvoicedAndRecordsPosition(t *testing.T) {
	a, engine := newApp(t, testConfig(t))
	_, _, err := a.Load(writeScript(t, episode))
	require.NoError(t, err)

	_, ok := a.ResumeIndex(context.Background())
	assert.False(t, ok, "nothing played yet")

	require.NoError(t, a.Owner().Play(context.Background(), 0))
	assert.Equal(t, []int{0, 1, 2}, collect(t, a))
	assert.Equal(t, []string{"Hello there.", "Hi!"}, engine.Spoken())

	idx, ok := a.ResumeIndex(context.Background())
	assert.True(t, ok)
	assert.Equal(t, 2, idx)

	recent, err := a.Recent(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, a.Path(), recent[0].Key)
}

func TestReload_AffectsNextSession(t *testing.T) {
	a, engine := newApp(t, testConfig(t))
	s, _, err := a.Load(writeScript(t, episode))
	require.NoError(t, err)

	s.Segments = s.Segments[:1]
	s.Segments[0].Line = "Edited."
	missing, err := a.Reload(s)
	require.NoError(t, err)
	assert.Empty(t, missing)

	require.NoError(t, a.Owner().Play(context.Background(), 0))
	assert.Equal(t, []int{0}, collect(t, a))
	assert.Equal(t, []string{"Edited."}, engine.Spoken())
}

func TestHistoryDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.History.Enabled = false
	a, _ := newApp(t, cfg)
	_, _, err := a.Load(writeScript(t, episode))
	require.NoError(t, err)

	_, ok := a.ResumeIndex(context.Background())
	assert.False(t, ok)
	recent, err := a.Recent(context.Background(), 5)
	assert.NoError(t, err)
	assert.Empty(t, recent)
	_, err = os.Stat(cfg.History.Path)
	assert.True(t, os.IsNotExist(err))
}

func TestVoicesAndStats(t *testing.T) {
	a, _ := newApp(t, testConfig(t))

	voices, err := a.Voices(false)
	require.NoError(t, err)
	assert.Len(t, voices, 3)
	voices, err = a.Voices(true)
	require.NoError(t, err)
	assert.Len(t, voices, 3)

	assert.Equal(t, "mock", a.EngineName())
	_, _, ok := a.CacheStats()
	assert.False(t, ok)
}

func TestNew_BuildsConfiguredEngine(t *testing.T) {
	cfg := testConfig(t)
	cfg.History.Enabled = false
	a, err := New(context.Background(), cfg, log.New(io.Discard))
	require.NoError(t, err)
	defer a.Close() //nolint:errcheck
	assert.Equal(t, "mock", a.EngineName())

	cfg.Engine = config.EnginePiper
	cfg.Piper.ModelDir = filepath.Join(t.TempDir(), "missing")
	_, err = New(context.Background(), cfg, log.New(io.Discard))
	assert.ErrorContains(t, err, "starting piper engine")
}

func TestPublish_KeepsFinishWhenBufferIsFull(t *testing.T) {
	a, _ := newApp(t, testConfig(t))

	for i := range eventBuffer + 10 {
		a.publish(playback.Event{Kind: playback.EventSegmentStart, Index: i})
	}
	a.publish(playback.Event{Kind: playback.EventError, Message: "engine unavailable"})
	a.publish(playback.Event{Kind: playback.EventFinish})
	require.Len(t, a.events, eventBuffer)

	var kinds []playback.EventKind
	for len(a.events) > 0 {
		kinds = append(kinds, (<-a.events).Kind)
	}
	require.Len(t, kinds, eventBuffer)
	assert.Equal(t, []playback.EventKind{playback.EventError, playback.EventFinish}, kinds[len(kinds)-2:])
	assert.Equal(t, playback.EventSegmentStart, kinds[0])
}
