package speech

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Classification(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		interrupted bool
		fatal       bool
		synthesis   bool
		sentinel    error
	}{
		{"nil", nil, false, false, false, nil},
		{"interrupted code", NewError(CodeInterrupted, "canceled", nil), true, false, false, ErrInterrupted},
		{"wrapped sentinel", fmt.Errorf("engine: %w", ErrInterrupted), true, false, false, ErrInterrupted},
		{"synthesis", NewError(CodeSynthesisFailed, "bad", errors.New("boom")), false, true, true, ErrSynthesisFailed},
		{"hung", NewError(CodeEngineHung, "silent", nil), false, true, false, ErrEngineHung},
		{"unavailable", NewError(CodeEngineUnavailable, "no voices", nil), false, true, false, ErrEngineUnavailable},
		{"plain", errors.New("other"), false, true, false, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.interrupted, IsInterrupted(tt.err))
			assert.Equal(t, tt.fatal, IsFatal(tt.err))
			assert.Equal(t, tt.synthesis, IsSynthesisFailure(tt.err))
			if tt.sentinel != nil {
				assert.ErrorIs(t, tt.err, tt.sentinel)
			}
		})
	}
}

func TestError_Message(t *testing.T) {
	cause := errors.New("exit status 1")
	err := NewError(CodeSynthesisFailed, "piper failed", cause).WithContext("voice", "amy")

	assert.Equal(t, "SYNTHESIS_FAILED: piper failed: exit status 1", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "amy", err.Context["voice"])
	assert.Equal(t, "ENGINE_HUNG: silent", NewError(CodeEngineHung, "silent", nil).Error())
}
