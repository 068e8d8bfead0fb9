package playback

import (
	"github.com/chatcast/chatcast/internal/ttypes"
)

// State aliases the shared playback state so callers need one import.
type State = ttypes.PlaybackState

const (
	StateStopped = ttypes.StateStopped
	StatePlaying = ttypes.StatePlaying
	StatePaused  = ttypes.StatePaused
)

// StateMachine enforces the session lifecycle:
// stopped -> playing <-> paused -> stopped. It is not safe for concurrent
// use; Session guards it.
type StateMachine struct {
	current     State
	transitions map[State][]State
	onEnter     map[State]func()
	onExit      map[State]func()
}

// NewStateMachine creates a state machine in the stopped state.
func NewStateMachine() *StateMachine {
	return &StateMachine{
		current: StateStopped,
		transitions: map[State][]State{
			StateStopped: {StatePlaying},
			StatePlaying: {StatePaused, StateStopped},
			StatePaused:  {StatePlaying, StateStopped},
		},
		onEnter: make(map[State]func()),
		onExit:  make(map[State]func()),
	}
}

// Transition attempts to transition to the specified state.
func (sm *StateMachine) Transition(to State) bool {
	if !sm.CanTransition(to) {
		return false
	}

	if exitFn, ok := sm.onExit[sm.current]; ok && exitFn != nil {
		exitFn()
	}

	sm.current = to

	if enterFn, ok := sm.onEnter[to]; ok && enterFn != nil {
		enterFn()
	}

	return true
}

// CanTransition reports whether moving to the state is allowed.
func (sm *StateMachine) CanTransition(to State) bool {
	for _, state := range sm.transitions[sm.current] {
		if state == to {
			return true
		}
	}
	return false
}

// Current returns the current state.
func (sm *StateMachine) Current() State {
	return sm.current
}

// OnEnter registers a callback for entering a state.
func (sm *StateMachine) OnEnter(state State, fn func()) {
	sm.onEnter[state] = fn
}

// OnExit registers a callback for exiting a state.
func (sm *StateMachine) OnExit(state State, fn func()) {
	sm.onExit[state] = fn
}
