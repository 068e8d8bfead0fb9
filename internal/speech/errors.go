package speech

import (
	"errors"
	"fmt"
)

// Common speech errors
var (
	// ErrEngineUnavailable indicates the engine is missing or offers no voices.
	ErrEngineUnavailable = errors.New("speech engine unavailable")

	// ErrInterrupted indicates an utterance was canceled on purpose.
	ErrInterrupted = errors.New("utterance interrupted")

	// ErrEngineHung indicates the engine never reported completion.
	ErrEngineHung = errors.New("speech engine stopped responding")

	// ErrSynthesisFailed indicates the engine reported a genuine failure.
	ErrSynthesisFailed = errors.New("speech synthesis failed")
)

// ErrorCode identifies specific error types
type ErrorCode string

const (
	CodeEngineUnavailable ErrorCode = "ENGINE_UNAVAILABLE"
	CodeSynthesisFailed   ErrorCode = "SYNTHESIS_FAILED"
	CodeEngineHung        ErrorCode = "ENGINE_HUNG"
	CodeInterrupted       ErrorCode = "INTERRUPTED"
)

// Error is a speech error with a code and optional cause.
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
	Context map[string]any
}

// NewError creates a new speech error.
func NewError(code ErrorCode, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
		Context: make(map[string]any),
	}
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches the sentinel that corresponds to the error code.
func (e *Error) Is(target error) bool {
	switch e.Code {
	case CodeEngineUnavailable:
		return target == ErrEngineUnavailable
	case CodeSynthesisFailed:
		return target == ErrSynthesisFailed
	case CodeEngineHung:
		return target == ErrEngineHung
	case CodeInterrupted:
		return target == ErrInterrupted
	}
	return false
}

// WithContext adds context to the error
func (e *Error) WithContext(key string, value any) *Error {
	e.Context[key] = value
	return e
}

// IsInterrupted reports whether err is an intentional cancellation.
func IsInterrupted(err error) bool {
	return errors.Is(err, ErrInterrupted)
}

// IsFatal reports whether err should end a playback session.
func IsFatal(err error) bool {
	return err != nil && !IsInterrupted(err)
}

// IsSynthesisFailure reports whether err is a genuine engine failure that a
// caller may choose to swallow.
func IsSynthesisFailure(err error) bool {
	if IsInterrupted(err) {
		return false
	}
	return errors.Is(err, ErrSynthesisFailed)
}
