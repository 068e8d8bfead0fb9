package audio

import (
	"fmt"
	"time"
)

// PlayerState represents the current state of an output.
type PlayerState int32

const (
	StateStopped PlayerState = iota
	StatePlaying
	StatePaused
	StateClosed
)

// String returns the string representation of the player state.
func (s PlayerState) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Output plays one clip at a time. Play replaces whatever was playing; the
// returned channel is closed when the clip drains or is stopped.
type Output interface {
	Play(pcm []byte) (<-chan struct{}, error)
	Pause() error
	Resume() error
	Stop() error
	SetVolume(volume float64) error
	State() PlayerState
	Close() error
}

// PlayerConfig contains configuration for the audio output.
type PlayerConfig struct {
	SampleRate int // one of SupportedSampleRates
	Channels   int // 1 = mono, 2 = stereo
	BitDepth   int // 16 bits per sample
	BufferSize int // bytes
}

// SupportedSampleRates are the rates synthesizers in this module produce.
var SupportedSampleRates = []int{16000, 22050, 24000, 44100, 48000}

// DefaultPlayerConfig returns the default player configuration.
func DefaultPlayerConfig() PlayerConfig {
	return PlayerConfig{
		SampleRate: 22050, // piper medium voices
		Channels:   1,
		BitDepth:   16,
		BufferSize: 4096,
	}
}

// Validate checks the configuration.
func (c PlayerConfig) Validate() error {
	supported := false
	for _, r := range SupportedSampleRates {
		if c.SampleRate == r {
			supported = true
			break
		}
	}
	if !supported {
		return fmt.Errorf("sample rate must be one of %v Hz, got %d", SupportedSampleRates, c.SampleRate)
	}
	if c.Channels != 1 && c.Channels != 2 {
		return fmt.Errorf("channels must be 1 (mono) or 2 (stereo), got %d", c.Channels)
	}
	if c.BitDepth != 16 {
		return fmt.Errorf("bit depth must be 16, got %d", c.BitDepth)
	}
	if c.BufferSize <= 0 {
		return fmt.Errorf("buffer size must be positive, got %d", c.BufferSize)
	}
	return nil
}

// Duration returns how long pcm takes to play in this format.
func (c PlayerConfig) Duration(pcm []byte) time.Duration {
	frame := c.Channels * c.BitDepth / 8
	if frame <= 0 || c.SampleRate <= 0 {
		return 0
	}
	frames := len(pcm) / frame
	return time.Duration(frames) * time.Second / time.Duration(c.SampleRate)
}

// Silence returns d of silent PCM in this format.
func (c PlayerConfig) Silence(d time.Duration) []byte {
	frame := c.Channels * c.BitDepth / 8
	frames := int(d * time.Duration(c.SampleRate) / time.Second)
	return make([]byte, frames*frame)
}
