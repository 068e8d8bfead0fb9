package playback

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"github.com/chatcast/chatcast/internal/ttypes"
	"github.com/google/uuid"
)

// ErrBusy is returned when a transition is requested while another one is
// still in flight.
var ErrBusy = errors.New("playback transition in progress")

// EventKind identifies an Event.
type EventKind int

const (
	EventSegmentStart EventKind = iota
	EventFinish
	EventError
	EventState
)

// String returns the string representation of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventSegmentStart:
		return "segment"
	case EventFinish:
		return "finish"
	case EventError:
		return "error"
	case EventState:
		return "state"
	default:
		return "unknown"
	}
}

// Event is a playback notification for the interactive surface.
type Event struct {
	Kind      EventKind
	SessionID string
	Index     int
	State     State
	Message   string
}

// Snapshot is the owner's view of playback for rendering.
type Snapshot struct {
	State     State
	Index     int
	HasIndex  bool
	LastError string
	SessionID string
}

// PositionStore remembers where a script was last playing.
type PositionStore interface {
	SavePosition(ctx context.Context, key string, index int) error
}

// Owner is the single caller of the Player from the interactive surface.
// It rejects overlapping transitions and turns callbacks into events.
type Owner struct {
	player    *Player
	listener  func(Event)
	positions PositionStore
	logger    *log.Logger

	busy atomic.Bool

	mu     sync.Mutex
	script ttypes.Script
	key    string
	view   Snapshot
}

// OwnerOption configures an Owner.
type OwnerOption func(*Owner)

// WithListener registers the event listener. It is called from the
// playback goroutine and must not block.
func WithListener(fn func(Event)) OwnerOption {
	return func(o *Owner) { o.listener = fn }
}

// WithPositions records the current segment of each script.
func WithPositions(store PositionStore) OwnerOption {
	return func(o *Owner) { o.positions = store }
}

// NewOwner creates an owner for a player.
func NewOwner(player *Player, logger *log.Logger, opts ...OwnerOption) *Owner {
	if logger == nil {
		logger = log.Default()
	}
	o := &Owner{
		player: player,
		logger: logger.WithPrefix("owner"),
		view:   Snapshot{Index: -1},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// SetScript replaces the script used by future sessions. key identifies
// the script for position history.
func (o *Owner) SetScript(key string, script ttypes.Script) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.key = key
	o.script = script
}

// Script returns the script used by future sessions.
func (o *Owner) Script() ttypes.Script {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.script
}

// Snapshot returns the current view.
func (o *Owner) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.view
}

// Busy reports whether a transition is in flight.
func (o *Owner) Busy() bool {
	return o.busy.Load()
}

// guard runs fn unless another transition is running.
func (o *Owner) guard(fn func() error) error {
	if !o.busy.CompareAndSwap(false, true) {
		o.logger.Debug("Ignoring request while busy")
		return ErrBusy
	}
	defer o.busy.Store(false)
	return fn()
}

// Play starts a fresh session at index.
func (o *Owner) Play(ctx context.Context, index int) error {
	return o.guard(func() error { return o.play(ctx, index) })
}

func (o *Owner) play(ctx context.Context, index int) error {
	o.mu.Lock()
	script, key := o.script, o.key
	o.view.LastError = ""
	o.mu.Unlock()

	id := uuid.NewString()
	s, err := o.player.Play(ctx, Request{
		ID:       id,
		Segments: script.Segments,
		Voices:   script.Voices,
		Callbacks: Callbacks{
			OnSegmentStart: func(i int) { o.onSegment(id, key, i) },
			OnError:        func(msg string) { o.onError(id, msg) },
			OnFinish:       func() { o.onFinish(id) },
		},
		StartIndex: index,
	})
	if err != nil {
		return err
	}
	o.publishState(s, StatePlaying)
	return nil
}

// Pause pauses a playing session.
func (o *Owner) Pause() error {
	return o.guard(func() error {
		if o.player.Pause() {
			o.publishState(o.player.Current(), StatePaused)
		}
		return nil
	})
}

// Resume resumes a paused session.
func (o *Owner) Resume() error {
	return o.guard(func() error {
		if o.player.Resume() {
			o.publishState(o.player.Current(), StatePlaying)
		}
		return nil
	})
}

// Toggle plays, pauses or resumes depending on state. A stopped session
// starts from the last highlighted segment.
func (o *Owner) Toggle(ctx context.Context, index int) error {
	return o.guard(func() error {
		switch o.player.State() {
		case StatePlaying:
			if o.player.Pause() {
				o.publishState(o.player.Current(), StatePaused)
			}
			return nil
		case StatePaused:
			if o.player.Resume() {
				o.publishState(o.player.Current(), StatePlaying)
			}
			return nil
		default:
			return o.play(ctx, index)
		}
	})
}

// Stop ends the session and waits for teardown.
func (o *Owner) Stop(ctx context.Context) error {
	return o.guard(func() error {
		return o.player.Stop(ctx)
	})
}

// Seek restarts playback at index with the current script.
func (o *Owner) Seek(ctx context.Context, index int) error {
	return o.guard(func() error { return o.play(ctx, index) })
}

func (o *Owner) onSegment(id, key string, i int) {
	o.mu.Lock()
	o.view.State = StatePlaying
	o.view.Index, o.view.HasIndex, o.view.SessionID = i, true, id
	o.mu.Unlock()

	if o.positions != nil && key != "" {
		if err := o.positions.SavePosition(context.Background(), key, i); err != nil {
			o.logger.Warn("Could not save position", "err", err)
		}
	}
	o.emit(Event{Kind: EventSegmentStart, SessionID: id, Index: i, State: StatePlaying})
}

func (o *Owner) onError(id, msg string) {
	o.mu.Lock()
	o.view.LastError = msg
	o.mu.Unlock()
	o.emit(Event{Kind: EventError, SessionID: id, Message: msg, Index: -1})
}

func (o *Owner) onFinish(id string) {
	o.mu.Lock()
	// A newer session may already own the view.
	if o.view.SessionID == id || o.view.SessionID == "" {
		o.view.State = StateStopped
		o.view.Index, o.view.HasIndex = -1, false
	}
	o.mu.Unlock()
	o.emit(Event{Kind: EventFinish, SessionID: id, Index: -1, State: StateStopped})
}

// publishState records st unless the session has already moved on, for
// example a short script that finished before Play returned.
func (o *Owner) publishState(s *Session, st State) {
	if s == nil {
		return
	}
	o.mu.Lock()
	if s.State() != st {
		o.mu.Unlock()
		return
	}
	o.view.State = st
	o.view.SessionID = s.ID
	o.mu.Unlock()
	o.emit(Event{Kind: EventState, SessionID: s.ID, State: st, Index: -1})
}

func (o *Owner) emit(ev Event) {
	if o.listener != nil {
		o.listener(ev)
	}
}
