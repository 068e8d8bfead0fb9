package audio

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
)

// drainPoll is how often a playing clip is checked for completion.
const drainPoll = 20 * time.Millisecond

// Player plays PCM through the system audio device. oto allows a single
// context per process, so a Player should be created once and shared.
type Player struct {
	context *oto.Context
	config  PlayerConfig

	mu     sync.Mutex
	state  PlayerState
	volume float64
	clip   *clip
}

// clip keeps the PCM for one Play alive until it drains or is stopped.
type clip struct {
	data   []byte
	player *oto.Player
	done   chan struct{}
	stop   chan struct{}
	once   sync.Once
}

func (c *clip) finish() {
	c.once.Do(func() {
		close(c.stop)
		close(c.done)
	})
}

// NewPlayer opens the audio device.
func NewPlayer(config PlayerConfig) (*Player, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	op := &oto.NewContextOptions{
		SampleRate:   config.SampleRate,
		ChannelCount: config.Channels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   time.Duration(config.BufferSize) * time.Second / time.Duration(config.SampleRate*config.Channels*2),
	}

	ctx, ready, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("failed to create oto context: %w", err)
	}
	<-ready

	return &Player{
		context: ctx,
		config:  config,
		state:   StateStopped,
		volume:  1.0,
	}, nil
}

// Config returns the output format.
func (p *Player) Config() PlayerConfig {
	return p.config
}

// Play stops any current clip and starts pcm.
func (p *Player) Play(pcm []byte) (<-chan struct{}, error) {
	if len(pcm) == 0 {
		return nil, errors.New("audio data is empty")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == StateClosed {
		return nil, errors.New("player is closed")
	}
	p.stopLocked()

	data := make([]byte, len(pcm))
	copy(data, pcm)

	c := &clip{
		data: data,
		done: make(chan struct{}),
		stop: make(chan struct{}),
	}
	c.player = p.context.NewPlayer(bytes.NewReader(c.data))
	c.player.SetVolume(p.volume)
	c.player.Play()

	p.clip = c
	p.state = StatePlaying

	go p.watch(c)
	return c.done, nil
}

// watch closes the clip once oto has drained it.
func (p *Player) watch(c *clip) {
	ticker := time.NewTicker(drainPoll)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			p.mu.Lock()
			if p.clip != c {
				p.mu.Unlock()
				return
			}
			if p.state == StatePlaying && !c.player.IsPlaying() && c.player.BufferedSize() == 0 {
				p.releaseLocked()
				p.state = StateStopped
				p.mu.Unlock()
				return
			}
			p.mu.Unlock()
		}
	}
}

// Pause pauses the current clip.
func (p *Player) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StatePlaying {
		return fmt.Errorf("cannot pause: player is %s", p.state)
	}
	p.clip.player.Pause()
	p.state = StatePaused
	return nil
}

// Resume resumes a paused clip.
func (p *Player) Resume() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StatePaused {
		return fmt.Errorf("cannot resume: player is %s", p.state)
	}
	p.clip.player.Play()
	p.state = StatePlaying
	return nil
}

// Stop ends the current clip. Its done channel is closed.
func (p *Player) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
	return nil
}

func (p *Player) stopLocked() {
	if p.state == StateClosed || p.clip == nil {
		return
	}
	p.clip.player.Pause()
	p.releaseLocked()
	p.state = StateStopped
}

func (p *Player) releaseLocked() {
	if p.clip == nil {
		return
	}
	_ = p.clip.player.Close()
	p.clip.data = nil
	p.clip.finish()
	p.clip = nil
}

// SetVolume sets the playback volume (0.0 to 1.0).
func (p *Player) SetVolume(volume float64) error {
	if volume < 0.0 || volume > 1.0 {
		return fmt.Errorf("volume must be between 0.0 and 1.0, got %f", volume)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.volume = volume
	if p.clip != nil {
		p.clip.player.SetVolume(volume)
	}
	return nil
}

// State returns the current player state.
func (p *Player) State() PlayerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Close stops playback. oto/v3 contexts cannot be closed, so the device
// stays open until the process exits.
func (p *Player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
	p.state = StateClosed
	return nil
}

var _ Output = (*Player)(nil)
