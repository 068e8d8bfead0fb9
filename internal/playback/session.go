package playback

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chatcast/chatcast/internal/ttypes"
	"github.com/google/uuid"
)

// Callbacks are the observer hooks for a session. They run on the session
// goroutine (or on the goroutine that forced a teardown) and must not call
// blocking Player operations synchronously.
type Callbacks struct {
	// OnSegmentStart fires once per segment, before its speech is requested.
	OnSegmentStart func(index int)

	// OnFinish fires exactly once when a session that started playing ends.
	OnFinish func()

	// OnError fires before OnFinish when the session ends on a fatal error.
	OnError func(message string)
}

// Request describes a playback session to start.
type Request struct {
	// ID names the session; a random one is generated when empty.
	ID string

	Segments   []ttypes.Segment
	Voices     ttypes.VoiceMapping
	Callbacks  Callbacks
	StartIndex int
}

// Session is one run of the playback loop, from Play to terminal stopped.
type Session struct {
	// ID uniquely identifies the session in logs and events.
	ID string

	req     Request
	created time.Time

	mu      sync.Mutex
	sm      *StateMachine
	changed chan struct{}
	current int
	started bool
	pauses  int
	err     error

	ctx    context.Context
	cancel context.CancelFunc

	finished atomic.Bool
	detached atomic.Bool
	done     chan struct{}
}

func newSession(req Request) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	s := &Session{
		ID:      id,
		req:     req,
		created: time.Now(),
		sm:      NewStateMachine(),
		changed: make(chan struct{}),
		current: -1,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	s.sm.OnEnter(StatePlaying, func() { s.started = true })
	s.sm.OnEnter(StatePaused, func() { s.pauses++ })
	return s
}

// transition changes state and wakes anyone waiting on a state change.
func (s *Session) transition(to State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionLocked(to)
}

func (s *Session) transitionLocked(to State) bool {
	if !s.sm.Transition(to) {
		return false
	}
	close(s.changed)
	s.changed = make(chan struct{})
	return true
}

// awaitPlayable blocks while paused. It returns false once the session is
// stopped, and otherwise the pause count observed while playing.
func (s *Session) awaitPlayable() (int, bool) {
	for {
		s.mu.Lock()
		st, ch, pauses := s.sm.Current(), s.changed, s.pauses
		s.mu.Unlock()

		switch st {
		case StatePlaying:
			return pauses, true
		case StateStopped:
			return 0, false
		}

		select {
		case <-ch:
		case <-s.ctx.Done():
			return 0, false
		}
	}
}

// pausedSince reports whether a pause happened after the given count.
func (s *Session) pausedSince(pauses int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pauses != pauses
}

func (s *Session) setCurrent(i int) {
	s.mu.Lock()
	s.current = i
	s.mu.Unlock()
}

// State returns the session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sm.Current()
}

// CurrentIndex returns the segment being spoken, if any.
func (s *Session) CurrentIndex() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, s.current >= 0
}

// Stopped reports whether the session reached its terminal state.
func (s *Session) Stopped() bool {
	return s.State() == StateStopped
}

// Done is closed when teardown completes.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until teardown completes or ctx is done.
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the fatal error that ended the session, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Detached reports whether teardown was forced while the loop was still
// blocked.
func (s *Session) Detached() bool {
	return s.detached.Load()
}

// Len returns the number of segments in the session.
func (s *Session) Len() int {
	return len(s.req.Segments)
}
