package audio

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// MockPlayer simulates playback on a timer without producing sound. Clips
// last as long as they would on a real device, scaled by the speed factor.
type MockPlayer struct {
	config PlayerConfig
	speed  float64

	mu        sync.Mutex
	state     PlayerState
	volume    float64
	done      chan struct{}
	timer     *time.Timer
	remaining time.Duration
	startedAt time.Time

	// Test callbacks
	callbacks MockCallbacks

	// Metrics for testing
	playCount   atomic.Int64
	pauseCount  atomic.Int64
	resumeCount atomic.Int64
	stopCount   atomic.Int64
}

// MockCallbacks provides hooks for testing.
type MockCallbacks struct {
	OnPlay   func(pcm []byte)
	OnPause  func()
	OnResume func()
	OnStop   func()
}

// NewMockPlayer creates a simulated output. A speed of 2 plays clips in
// half their real duration; zero or less means real time.
func NewMockPlayer(config PlayerConfig, speed float64, callbacks MockCallbacks) *MockPlayer {
	if speed <= 0 {
		speed = 1
	}
	return &MockPlayer{
		config:    config,
		speed:     speed,
		state:     StateStopped,
		volume:    1.0,
		callbacks: callbacks,
	}
}

// Play starts a simulated clip.
func (mp *MockPlayer) Play(pcm []byte) (<-chan struct{}, error) {
	if len(pcm) == 0 {
		return nil, errors.New("audio data is empty")
	}

	mp.mu.Lock()
	if mp.state == StateClosed {
		mp.mu.Unlock()
		return nil, errors.New("player is closed")
	}
	mp.stopLocked()

	done := make(chan struct{})
	mp.done = done
	mp.remaining = time.Duration(float64(mp.config.Duration(pcm)) / mp.speed)
	mp.arm(done)
	mp.state = StatePlaying
	mp.playCount.Add(1)
	cb := mp.callbacks.OnPlay
	mp.mu.Unlock()

	if cb != nil {
		cb(pcm)
	}
	return done, nil
}

// arm starts the completion timer for the remaining duration.
func (mp *MockPlayer) arm(done chan struct{}) {
	mp.startedAt = time.Now()
	mp.timer = time.AfterFunc(mp.remaining, func() {
		mp.mu.Lock()
		defer mp.mu.Unlock()
		if mp.done != done || mp.state != StatePlaying {
			return
		}
		mp.state = StateStopped
		mp.done = nil
		close(done)
	})
}

// Pause suspends the simulated clip.
func (mp *MockPlayer) Pause() error {
	mp.mu.Lock()
	if mp.state != StatePlaying {
		st := mp.state
		mp.mu.Unlock()
		return fmt.Errorf("cannot pause: player is %s", st)
	}
	if mp.timer.Stop() {
		mp.remaining -= time.Since(mp.startedAt)
		if mp.remaining < 0 {
			mp.remaining = 0
		}
	}
	mp.state = StatePaused
	mp.pauseCount.Add(1)
	cb := mp.callbacks.OnPause
	mp.mu.Unlock()

	if cb != nil {
		cb()
	}
	return nil
}

// Resume continues a paused clip.
func (mp *MockPlayer) Resume() error {
	mp.mu.Lock()
	if mp.state != StatePaused {
		st := mp.state
		mp.mu.Unlock()
		return fmt.Errorf("cannot resume: player is %s", st)
	}
	mp.state = StatePlaying
	mp.arm(mp.done)
	mp.resumeCount.Add(1)
	cb := mp.callbacks.OnResume
	mp.mu.Unlock()

	if cb != nil {
		cb()
	}
	return nil
}

// Stop ends the simulated clip.
func (mp *MockPlayer) Stop() error {
	mp.mu.Lock()
	stopped := mp.stopLocked()
	cb := mp.callbacks.OnStop
	mp.mu.Unlock()

	if stopped && cb != nil {
		cb()
	}
	return nil
}

func (mp *MockPlayer) stopLocked() bool {
	if mp.done == nil {
		return false
	}
	if mp.timer != nil {
		mp.timer.Stop()
	}
	close(mp.done)
	mp.done = nil
	mp.state = StateStopped
	mp.stopCount.Add(1)
	return true
}

// SetVolume sets the playback volume (0.0 to 1.0).
func (mp *MockPlayer) SetVolume(volume float64) error {
	if volume < 0.0 || volume > 1.0 {
		return fmt.Errorf("volume must be between 0.0 and 1.0, got %f", volume)
	}
	mp.mu.Lock()
	defer mp.mu.Unlock()
	mp.volume = volume
	return nil
}

// Volume returns the current volume.
func (mp *MockPlayer) Volume() float64 {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return mp.volume
}

// State returns the current state.
func (mp *MockPlayer) State() PlayerState {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return mp.state
}

// Close stops playback and rejects further clips.
func (mp *MockPlayer) Close() error {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	mp.stopLocked()
	mp.state = StateClosed
	return nil
}

// GetMetrics returns test metrics.
func (mp *MockPlayer) GetMetrics() (plays, pauses, resumes, stops int64) {
	return mp.playCount.Load(), mp.pauseCount.Load(), mp.resumeCount.Load(), mp.stopCount.Load()
}

var _ Output = (*MockPlayer)(nil)
