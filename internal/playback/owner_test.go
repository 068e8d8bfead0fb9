package playback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chatcast/chatcast/internal/engines/mock"
	"github.com/chatcast/chatcast/internal/ttypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memPositions struct {
	mu    sync.Mutex
	saved map[string][]int
	err   error
}

func (m *memPositions) SavePosition(_ context.Context, key string, index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saved == nil {
		m.saved = make(map[string][]int)
	}
	m.saved[key] = append(m.saved[key], index)
	return m.err
}

func (m *memPositions) get(key string) []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.saved[key]...)
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
	ch     chan Event
}

func newEventLog() *eventLog {
	return &eventLog{ch: make(chan Event, 128)}
}

func (l *eventLog) listen(ev Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
	l.ch <- ev
}

func (l *eventLog) snapshot() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

func (l *eventLog) kinds() []EventKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]EventKind, len(l.events))
	for i, ev := range l.events {
		out[i] = ev.Kind
	}
	return out
}

func (l *eventLog) waitFor(t *testing.T, kind EventKind) Event {
	t.Helper()
	deadline := time.After(waitFor)
	for {
		select {
		case ev := <-l.ch:
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event; got %v", kind, l.kinds())
			return Event{}
		}
	}
}

func testScript() ttypes.Script {
	return ttypes.Script{
		Title:    "Episode",
		Segments: []ttypes.Segment{seg("Host", "Hello"), seg("Guest", "Hi"), seg("Host", "Bye")},
		Voices:   hostGuest(),
	}
}

func TestOwner_PlayToEnd(t *testing.T) {
	rig := newRig(t, Config{})
	events := newEventLog()
	positions := &memPositions{}
	owner := NewOwner(rig.player, quietLogger(), WithListener(events.listen), WithPositions(positions))
	owner.SetScript("episode.yaml", testScript())

	require.NoError(t, owner.Play(context.Background(), 0))
	fin := events.waitFor(t, EventFinish)

	assert.Equal(t, StateStopped, fin.State)
	assert.Equal(t, []int{0, 1, 2}, positions.get("episode.yaml"))

	snap := owner.Snapshot()
	assert.Equal(t, StateStopped, snap.State)
	assert.False(t, snap.HasIndex)
	assert.Empty(t, snap.LastError)
	assert.False(t, owner.Busy())

	var segments []int
	for _, ev := range events.snapshot() {
		if ev.Kind == EventSegmentStart {
			segments = append(segments, ev.Index)
			assert.Equal(t, fin.SessionID, ev.SessionID)
		}
	}
	assert.Equal(t, []int{0, 1, 2}, segments)
}

func TestOwner_SnapshotTracksSegment(t *testing.T) {
	rig := newRig(t, Config{}, mock.WithDuration(time.Second))
	events := newEventLog()
	owner := NewOwner(rig.player, quietLogger(), WithListener(events.listen))
	owner.SetScript("", testScript())

	require.NoError(t, owner.Play(context.Background(), 1))
	ev := events.waitFor(t, EventSegmentStart)
	assert.Equal(t, 1, ev.Index)

	snap := owner.Snapshot()
	assert.Equal(t, StatePlaying, snap.State)
	assert.True(t, snap.HasIndex)
	assert.Equal(t, 1, snap.Index)
	assert.Equal(t, ev.SessionID, snap.SessionID)

	require.NoError(t, owner.Pause())
	assert.Equal(t, StatePaused, owner.Snapshot().State)

	require.NoError(t, owner.Resume())
	assert.Equal(t, StatePlaying, owner.Snapshot().State)

	require.NoError(t, owner.Stop(context.Background()))
	events.waitFor(t, EventFinish)
	assert.Equal(t, StateStopped, owner.Snapshot().State)
	assert.False(t, owner.Snapshot().HasIndex)
}

func TestOwner_RejectsOverlappingTransitions(t *testing.T) {
	rig := newRig(t, Config{StopTimeout: 2 * time.Second}, mock.WithDuration(time.Second))
	release := make(chan struct{})
	started := make(chan struct{}, 8)
	owner := NewOwner(rig.player, quietLogger(), WithListener(func(ev Event) {
		switch ev.Kind {
		case EventSegmentStart:
			started <- struct{}{}
		case EventFinish:
			<-release
		}
	}))
	owner.SetScript("", testScript())

	require.NoError(t, owner.Play(context.Background(), 0))
	<-started

	stopped := make(chan error, 1)
	go func() { stopped <- owner.Stop(context.Background()) }()
	require.Eventually(t, owner.Busy, waitFor, time.Millisecond)

	assert.ErrorIs(t, owner.Play(context.Background(), 0), ErrBusy)
	assert.ErrorIs(t, owner.Toggle(context.Background(), 0), ErrBusy)
	assert.ErrorIs(t, owner.Seek(context.Background(), 2), ErrBusy)
	assert.ErrorIs(t, owner.Pause(), ErrBusy)

	close(release)
	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("stop did not return")
	}
	assert.False(t, owner.Busy())
	assert.Equal(t, StateStopped, rig.player.State())
}

func TestOwner_Toggle(t *testing.T) {
	rig := newRig(t, Config{}, mock.WithDuration(time.Second))
	events := newEventLog()
	owner := NewOwner(rig.player, quietLogger(), WithListener(events.listen))
	owner.SetScript("", testScript())

	require.NoError(t, owner.Toggle(context.Background(), 2))
	ev := events.waitFor(t, EventSegmentStart)
	assert.Equal(t, 2, ev.Index)
	assert.Equal(t, StatePlaying, rig.player.State())

	require.NoError(t, owner.Toggle(context.Background(), 0))
	assert.Equal(t, StatePaused, rig.player.State())

	require.NoError(t, owner.Toggle(context.Background(), 0))
	assert.Equal(t, StatePlaying, rig.player.State())

	idx, ok := rig.player.CurrentIndex()
	require.True(t, ok)
	assert.Equal(t, 2, idx)
}

func TestOwner_ErrorIsRecorded(t *testing.T) {
	rig := newRig(t, Config{})
	rig.engine.FailOn("Hi", errors.New("quota exceeded"))
	events := newEventLog()
	owner := NewOwner(rig.player, quietLogger(), WithListener(events.listen))
	owner.SetScript("", testScript())

	require.NoError(t, owner.Play(context.Background(), 0))
	errEv := events.waitFor(t, EventError)
	events.waitFor(t, EventFinish)

	assert.Contains(t, errEv.Message, "quota exceeded")
	assert.Contains(t, owner.Snapshot().LastError, "quota exceeded")
}

func TestOwner_SeekReplacesSession(t *testing.T) {
	rig := newRig(t, Config{}, mock.WithDuration(time.Second))
	events := newEventLog()
	owner := NewOwner(rig.player, quietLogger(), WithListener(events.listen))
	owner.SetScript("", testScript())

	require.NoError(t, owner.Play(context.Background(), 0))
	first := events.waitFor(t, EventSegmentStart)

	require.NoError(t, owner.Seek(context.Background(), 2))
	fin := events.waitFor(t, EventFinish)
	assert.Equal(t, first.SessionID, fin.SessionID)

	next := events.waitFor(t, EventSegmentStart)
	assert.Equal(t, 2, next.Index)
	assert.NotEqual(t, first.SessionID, next.SessionID)

	snap := owner.Snapshot()
	assert.Equal(t, StatePlaying, snap.State)
	assert.Equal(t, 2, snap.Index)
	assert.Equal(t, next.SessionID, snap.SessionID)
}

func TestOwner_PositionErrorsDoNotStopPlayback(t *testing.T) {
	rig := newRig(t, Config{})
	events := newEventLog()
	positions := &memPositions{err: errors.New("disk full")}
	owner := NewOwner(rig.player, quietLogger(), WithListener(events.listen), WithPositions(positions))
	owner.SetScript("ep", testScript())

	require.NoError(t, owner.Play(context.Background(), 0))
	events.waitFor(t, EventFinish)

	assert.Equal(t, []int{0, 1, 2}, positions.get("ep"))
	assert.Empty(t, owner.Snapshot().LastError)
}

func TestOwner_PlayWithoutScript(t *testing.T) {
	rig := newRig(t, Config{})
	owner := NewOwner(rig.player, quietLogger())

	assert.ErrorIs(t, owner.Play(context.Background(), 0), ErrEmptyScript)
	assert.False(t, owner.Busy())
}

func TestEventKind_String(t *testing.T) {
	tests := []struct {
		kind EventKind
		want string
	}{
		{EventSegmentStart, "segment"},
		{EventFinish, "finish"},
		{EventError, "error"},
		{EventState, "state"},
		{EventKind(42), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.kind.String())
	}
}
