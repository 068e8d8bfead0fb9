// Package speech adapts a line-at-a-time speech engine into a blocking
// "speak until done" primitive and keeps the engine awake between lines.
package speech

import (
	"github.com/chatcast/chatcast/internal/ttypes"
)

// Utterance is one request to the engine.
type Utterance struct {
	Text    string
	VoiceID string
	ttypes.SpeakOptions
}

// Capabilities describes what an engine can do.
type Capabilities struct {
	// Name identifies the engine in logs and metrics.
	Name string

	// CanPause is true when Pause suspends the current utterance and Resume
	// continues it. Engines without it lose the utterance on pause.
	CanPause bool

	// MaxRate is the fastest rate the engine accepts.
	MaxRate float64
}

// Engine is a process-wide, stateful synthesizer that speaks one utterance
// at a time. Only the Adapter may call it.
type Engine interface {
	// Voices enumerates the currently available voices.
	Voices() ([]ttypes.Voice, error)

	// Speak enqueues an utterance. The returned channel receives exactly one
	// value: nil on normal completion, an error wrapping ErrInterrupted when
	// canceled, any other error on failure. A misbehaving engine may never
	// deliver at all.
	Speak(u Utterance) <-chan error

	// Cancel drops pending and in-flight utterances.
	Cancel()

	// Pause suspends the current utterance.
	Pause()

	// Resume continues a suspended utterance.
	Resume()

	// Speaking reports whether an utterance is being spoken.
	Speaking() bool

	// Pending reports whether utterances are queued.
	Pending() bool

	// Capabilities returns static engine capabilities.
	Capabilities() Capabilities
}

// Prefetcher is implemented by engines that can synthesize ahead of time.
type Prefetcher interface {
	Prefetch(items []Utterance)
}

// Closer is implemented by engines holding external resources.
type Closer interface {
	Close() error
}
