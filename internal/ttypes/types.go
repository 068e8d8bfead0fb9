// Package ttypes contains shared types for scripts, voices and playback.
// This package is used to break import cycles between speech, playback, script and engines.
package ttypes

import (
	"strings"
)

// Delivery bounds for per-segment and per-voice overrides.
const (
	MinRate   = 0.1
	MaxRate   = 10.0
	MinPitch  = 0.0
	MaxPitch  = 2.0
	MinVolume = 0.0
	MaxVolume = 1.0

	// DefaultDelivery is used for rate, pitch and volume when nothing overrides it.
	DefaultDelivery = 1.0
)

// PlaybackState represents the state of a playback session.
type PlaybackState int

const (
	// StateStopped is the initial and terminal state.
	StateStopped PlaybackState = iota

	// StatePlaying indicates segments are being spoken.
	StatePlaying

	// StatePaused indicates the session is suspended and may resume.
	StatePaused
)

// String returns the string representation of the state.
func (s PlaybackState) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}

// Segment is one line of dialogue in a script.
type Segment struct {
	// Speaker is the display name used to look up a voice.
	Speaker string `yaml:"speaker" json:"speaker"`

	// Line is the original generated text.
	Line string `yaml:"line" json:"line"`

	// EditedLine is a user override and takes precedence when set.
	EditedLine *string `yaml:"editedLine,omitempty" json:"editedLine,omitempty"`

	// Optional delivery overrides.
	Rate   *float64 `yaml:"rate,omitempty" json:"rate,omitempty"`
	Pitch  *float64 `yaml:"pitch,omitempty" json:"pitch,omitempty"`
	Volume *float64 `yaml:"volume,omitempty" json:"volume,omitempty"`
}

// Text returns the edited line when present, otherwise the original line.
func (s Segment) Text() string {
	if s.EditedLine != nil {
		return *s.EditedLine
	}
	return s.Line
}

// VoiceSetting maps a speaker to a synthesis voice and delivery defaults.
type VoiceSetting struct {
	// VoiceID is the engine voice identifier.
	VoiceID string `yaml:"voice" json:"voice" mapstructure:"voice"`

	// Name is the human-facing display name for the speaker.
	Name string `yaml:"name,omitempty" json:"name,omitempty" mapstructure:"name"`

	Rate   *float64 `yaml:"rate,omitempty" json:"rate,omitempty" mapstructure:"rate"`
	Pitch  *float64 `yaml:"pitch,omitempty" json:"pitch,omitempty" mapstructure:"pitch"`
	Volume *float64 `yaml:"volume,omitempty" json:"volume,omitempty" mapstructure:"volume"`
}

// VoiceMapping is keyed by speaker name.
type VoiceMapping map[string]VoiceSetting

// Lookup returns the voice for a speaker. An exact match wins; otherwise a
// case-insensitive match is tried.
func (m VoiceMapping) Lookup(speaker string) (VoiceSetting, bool) {
	if v, ok := m[speaker]; ok {
		return v, true
	}
	for name, v := range m {
		if strings.EqualFold(name, speaker) {
			return v, true
		}
	}
	return VoiceSetting{}, false
}

// Clone returns a shallow copy of the mapping.
func (m VoiceMapping) Clone() VoiceMapping {
	out := make(VoiceMapping, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Voice describes a voice offered by a speech engine.
type Voice struct {
	ID       string
	Name     string
	Language string
	Default  bool
}

// SpeakOptions carries delivery settings for one utterance.
type SpeakOptions struct {
	Rate   float64
	Pitch  float64
	Volume float64
}

// DefaultSpeakOptions returns neutral delivery.
func DefaultSpeakOptions() SpeakOptions {
	return SpeakOptions{Rate: DefaultDelivery, Pitch: DefaultDelivery, Volume: DefaultDelivery}
}

// ResolveOptions combines segment overrides with voice defaults. Segment
// values win, then voice values, then DefaultDelivery. Results are clamped.
func ResolveOptions(seg Segment, voice VoiceSetting) SpeakOptions {
	pick := func(a, b *float64) float64 {
		switch {
		case a != nil:
			return *a
		case b != nil:
			return *b
		default:
			return DefaultDelivery
		}
	}
	return SpeakOptions{
		Rate:   Clamp(pick(seg.Rate, voice.Rate), MinRate, MaxRate),
		Pitch:  Clamp(pick(seg.Pitch, voice.Pitch), MinPitch, MaxPitch),
		Volume: Clamp(pick(seg.Volume, voice.Volume), MinVolume, MaxVolume),
	}
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Script is an ordered list of segments with its voice mapping.
type Script struct {
	Title    string       `yaml:"title,omitempty" json:"title,omitempty"`
	Segments []Segment    `yaml:"segments" json:"segments"`
	Voices   VoiceMapping `yaml:"voices" json:"voices"`
}

// Speakers returns the distinct speakers in order of first appearance.
func (s Script) Speakers() []string {
	seen := make(map[string]bool)
	var out []string
	for _, seg := range s.Segments {
		if !seen[seg.Speaker] {
			seen[seg.Speaker] = true
			out = append(out, seg.Speaker)
		}
	}
	return out
}
