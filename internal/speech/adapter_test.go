package speech_test

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chatcast/chatcast/internal/engines/mock"
	"github.com/chatcast/chatcast/internal/speech"
	"github.com/chatcast/chatcast/internal/ttypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *log.Logger {
	l := log.New(io.Discard)
	l.SetLevel(log.FatalLevel)
	return l
}

func newAdapter(engine speech.Engine, cfg speech.AdapterConfig) *speech.Adapter {
	if cfg.AckTimeout == 0 {
		cfg.AckTimeout = 50 * time.Millisecond
	}
	if cfg.HangTimeout == 0 {
		cfg.HangTimeout = 2 * time.Second
	}
	return speech.NewAdapter(engine, cfg, quietLogger())
}

func TestAdapter_SpeakCompletes(t *testing.T) {
	engine := mock.New()
	a := newAdapter(engine, speech.AdapterConfig{})

	err := a.Speak(context.Background(), "Hello world", "mock-guest", ttypes.DefaultSpeakOptions())
	require.NoError(t, err)

	us := engine.Utterances()
	require.Len(t, us, 1)
	assert.Equal(t, "mock-guest", us[0].VoiceID)
	assert.False(t, a.Busy())
}

func TestAdapter_BlankTextNeverReachesEngine(t *testing.T) {
	engine := mock.New()
	a := newAdapter(engine, speech.AdapterConfig{})

	for _, text := range []string{"", "   ", "\n\t"} {
		require.NoError(t, a.Speak(context.Background(), text, "mock-host", ttypes.DefaultSpeakOptions()))
	}
	assert.Empty(t, engine.Spoken())
	assert.Equal(t, 0, engine.Pings())
}

func TestAdapter_VoiceResolution(t *testing.T) {
	tests := []struct {
		name    string
		request string
		want    string
	}{
		{"exact id", "mock-narrator", "mock-narrator"},
		{"id ignoring case", "MOCK-GUEST", "mock-guest"},
		{"display name", "mock guest", "mock-guest"},
		{"unknown falls back to first", "nobody", "mock-host"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := mock.New(mock.WithDuration(time.Millisecond))
			a := newAdapter(engine, speech.AdapterConfig{})
			require.NoError(t, a.Speak(context.Background(), "text", tt.request, ttypes.DefaultSpeakOptions()))
			us := engine.Utterances()
			require.Len(t, us, 1)
			assert.Equal(t, tt.want, us[0].VoiceID)
		})
	}
}

func TestAdapter_NoVoicesIsUnavailable(t *testing.T) {
	a := newAdapter(mock.New(mock.WithVoices()), speech.AdapterConfig{})
	err := a.Speak(context.Background(), "Hello", "mock-host", ttypes.DefaultSpeakOptions())
	assert.ErrorIs(t, err, speech.ErrEngineUnavailable)
	assert.True(t, speech.IsFatal(err))

	a = newAdapter(mock.New(mock.WithVoicesError(errors.New("no daemon"))), speech.AdapterConfig{})
	err = a.Speak(context.Background(), "Hello", "mock-host", ttypes.DefaultSpeakOptions())
	assert.ErrorIs(t, err, speech.ErrEngineUnavailable)
	assert.ErrorContains(t, err, "no daemon")
}

func TestAdapter_VoicesAreCached(t *testing.T) {
	a := newAdapter(mock.New(), speech.AdapterConfig{})
	first, err := a.Voices()
	require.NoError(t, err)
	second, err := a.Voices()
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Len(t, first, 3)

	refreshed, err := a.RefreshVoices()
	require.NoError(t, err)
	assert.Equal(t, first, refreshed)
}

func TestAdapter_FailurePolicy(t *testing.T) {
	engine := mock.New()
	engine.FailOn("bad line", errors.New("model crashed"))
	a := newAdapter(engine, speech.AdapterConfig{})

	err := a.SpeakWith(context.Background(), speech.PolicyPropagate, "bad line", "mock-host", ttypes.DefaultSpeakOptions())
	require.Error(t, err)
	assert.ErrorIs(t, err, speech.ErrSynthesisFailed)
	assert.True(t, speech.IsSynthesisFailure(err))

	var serr *speech.Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, speech.CodeSynthesisFailed, serr.Code)

	err = a.SpeakWith(context.Background(), speech.PolicySwallow, "bad line", "mock-host", ttypes.DefaultSpeakOptions())
	assert.NoError(t, err)
}

func TestAdapter_ContextCancelInterrupts(t *testing.T) {
	engine := mock.New(mock.WithDuration(5 * time.Second))
	a := newAdapter(engine, speech.AdapterConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- a.Speak(ctx, "a long line", "mock-host", ttypes.DefaultSpeakOptions()) }()

	require.Eventually(t, func() bool { return len(engine.Spoken()) == 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		assert.True(t, speech.IsInterrupted(err))
		assert.False(t, speech.IsFatal(err))
	case <-time.After(time.Second):
		t.Fatal("speak did not return after cancel")
	}

	// The swallow policy never hides interruptions.
	err := a.SpeakWith(ctx, speech.PolicySwallow, "again", "mock-host", ttypes.DefaultSpeakOptions())
	assert.True(t, speech.IsInterrupted(err))
}

func TestAdapter_CancelWithoutAck(t *testing.T) {
	engine := mock.New(mock.WithDuration(5 * time.Second))
	engine.IgnoreCancelAck(true)
	a := newAdapter(engine, speech.AdapterConfig{AckTimeout: 30 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- a.Speak(ctx, "a long line", "mock-host", ttypes.DefaultSpeakOptions()) }()
	require.Eventually(t, func() bool { return len(engine.Spoken()) == 1 }, time.Second, time.Millisecond)

	start := time.Now()
	cancel()
	select {
	case err := <-errc:
		assert.True(t, speech.IsInterrupted(err))
		assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	case <-time.After(time.Second):
		t.Fatal("speak did not return without an acknowledgement")
	}
}

func TestAdapter_HangWatchdog(t *testing.T) {
	engine := mock.New()
	engine.HangOn("stuck")
	a := newAdapter(engine, speech.AdapterConfig{HangTimeout: 40 * time.Millisecond, WordsPerMinute: 6000})

	err := a.Speak(context.Background(), "stuck", "mock-host", ttypes.DefaultSpeakOptions())
	assert.ErrorIs(t, err, speech.ErrEngineHung)
	assert.True(t, speech.IsFatal(err))
	assert.False(t, speech.IsSynthesisFailure(err))
	assert.Equal(t, 1, engine.Cancels())
}

func TestAdapter_NewSpeakCancelsPrevious(t *testing.T) {
	engine := mock.New(mock.WithDuration(5 * time.Second))
	a := newAdapter(engine, speech.AdapterConfig{})

	first := make(chan error, 1)
	go func() { first <- a.Speak(context.Background(), "first", "mock-host", ttypes.DefaultSpeakOptions()) }()
	require.Eventually(t, func() bool { return len(engine.Spoken()) == 1 }, time.Second, time.Millisecond)

	second := make(chan error, 1)
	go func() {
		second <- a.Speak(context.Background(), "second", "mock-host", ttypes.DefaultSpeakOptions())
	}()

	select {
	case err := <-first:
		assert.True(t, speech.IsInterrupted(err))
	case <-time.After(time.Second):
		t.Fatal("first utterance was not interrupted")
	}
	assert.Equal(t, []string{"first", "second"}, engine.Spoken())
	a.Cancel()
	<-second
}

func TestAdapter_PauseWithoutSuspension(t *testing.T) {
	engine := mock.New(mock.WithDuration(5 * time.Second))
	a := newAdapter(engine, speech.AdapterConfig{})

	errc := make(chan error, 1)
	go func() { errc <- a.Speak(context.Background(), "line", "mock-host", ttypes.DefaultSpeakOptions()) }()
	require.Eventually(t, func() bool { return len(engine.Spoken()) == 1 }, time.Second, time.Millisecond)

	a.Pause()
	assert.True(t, a.Paused())
	select {
	case err := <-errc:
		assert.True(t, speech.IsInterrupted(err))
	case <-time.After(time.Second):
		t.Fatal("pause did not interrupt the utterance")
	}

	// Nothing new is issued while paused.
	err := a.Speak(context.Background(), "next", "mock-host", ttypes.DefaultSpeakOptions())
	assert.True(t, speech.IsInterrupted(err))
	assert.Equal(t, []string{"line"}, engine.Spoken())

	a.Resume()
	assert.False(t, a.Paused())
}

func TestAdapter_PauseWithSuspension(t *testing.T) {
	engine := mock.New(mock.WithDuration(80*time.Millisecond), mock.WithPause(true))
	a := newAdapter(engine, speech.AdapterConfig{HangTimeout: 100 * time.Millisecond, WordsPerMinute: 6000})

	errc := make(chan error, 1)
	go func() { errc <- a.Speak(context.Background(), "line", "mock-host", ttypes.DefaultSpeakOptions()) }()
	require.Eventually(t, func() bool { return len(engine.Spoken()) == 1 }, time.Second, time.Millisecond)

	a.Pause()
	// Longer than both the utterance and the hang budget.
	time.Sleep(250 * time.Millisecond)
	select {
	case err := <-errc:
		t.Fatalf("speak returned while paused: %v", err)
	default:
	}

	a.Resume()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("speak did not complete after resume")
	}
}

func TestAdapter_Ping(t *testing.T) {
	engine := mock.New(mock.WithDuration(200 * time.Millisecond))
	a := newAdapter(engine, speech.AdapterConfig{})
	_, err := a.Voices()
	require.NoError(t, err)

	assert.True(t, a.Ping())
	assert.Equal(t, 1, engine.Pings())
	assert.Empty(t, engine.Spoken())

	errc := make(chan error, 1)
	go func() { errc <- a.Speak(context.Background(), "busy", "mock-host", ttypes.DefaultSpeakOptions()) }()
	require.Eventually(t, func() bool { return len(engine.Spoken()) == 1 }, time.Second, time.Millisecond)
	assert.False(t, a.Ping(), "ping while speaking")
	require.NoError(t, <-errc)

	a.Pause()
	assert.False(t, a.Ping(), "ping while paused")
	a.Resume()
	assert.True(t, a.Ping())
	assert.Equal(t, 2, engine.Pings())
}

func TestParsePolicy(t *testing.T) {
	assert.Equal(t, speech.PolicySwallow, speech.ParsePolicy("skip"))
	assert.Equal(t, speech.PolicySwallow, speech.ParsePolicy("SKIP"))
	assert.Equal(t, speech.PolicyPropagate, speech.ParsePolicy("stop"))
	assert.Equal(t, speech.PolicyPropagate, speech.ParsePolicy(""))
}
