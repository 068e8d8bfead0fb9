package playback

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateMachine_Transitions(t *testing.T) {
	tests := []struct {
		name  string
		path  []State
		want  []bool
		final State
	}{
		{"play then stop", []State{StatePlaying, StateStopped}, []bool{true, true}, StateStopped},
		{"pause and resume", []State{StatePlaying, StatePaused, StatePlaying}, []bool{true, true, true}, StatePlaying},
		{"stop while paused", []State{StatePlaying, StatePaused, StateStopped}, []bool{true, true, true}, StateStopped},
		{"pause from stopped", []State{StatePaused}, []bool{false}, StateStopped},
		{"stop from stopped", []State{StateStopped}, []bool{false}, StateStopped},
		{"double pause", []State{StatePlaying, StatePaused, StatePaused}, []bool{true, true, false}, StatePaused},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sm := NewStateMachine()
			for i, to := range tt.path {
				assert.Equal(t, tt.want[i], sm.Transition(to), "step %d to %s", i, to)
			}
			assert.Equal(t, tt.final, sm.Current())
		})
	}
}

func TestStateMachine_Hooks(t *testing.T) {
	sm := NewStateMachine()
	var log []string
	sm.OnExit(StatePlaying, func() { log = append(log, "exit playing") })
	sm.OnEnter(StatePaused, func() { log = append(log, "enter paused") })
	sm.OnEnter(StatePlaying, func() { log = append(log, "enter playing") })

	sm.Transition(StatePlaying)
	sm.Transition(StatePaused)
	sm.Transition(StateStopped)
	assert.False(t, sm.Transition(StatePaused))

	assert.Equal(t, []string{"enter playing", "exit playing", "enter paused"}, log)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "stopped", StateStopped.String())
	assert.Equal(t, "playing", StatePlaying.String())
	assert.Equal(t, "paused", StatePaused.String())
	assert.Equal(t, "unknown", State(9).String())
}
