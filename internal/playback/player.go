// Package playback drives a speech engine through a script one segment at a
// time with pause, resume, seek and stop.
package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chatcast/chatcast/internal/metrics"
	"github.com/chatcast/chatcast/internal/speech"
	"github.com/chatcast/chatcast/internal/ttypes"
)

var (
	// ErrEmptyScript is returned when Play is given no segments.
	ErrEmptyScript = errors.New("script has no segments")

	// ErrIndexOutOfRange is returned for a start or seek index outside the script.
	ErrIndexOutOfRange = errors.New("segment index out of range")

	// ErrNoSession is returned by Seek before anything was played.
	ErrNoSession = errors.New("no playback session to seek in")
)

// Config tunes the player.
type Config struct {
	// StopTimeout bounds how long Stop waits for the loop to exit before
	// forcing teardown.
	StopTimeout time.Duration

	// PingInterval is the keep-alive tick.
	PingInterval time.Duration

	// Lookahead is how many upcoming segments are offered for prefetch.
	Lookahead int

	// Policy decides whether synthesis failures end the session.
	Policy speech.Policy

	// StripMarkdown speaks markdown lines as plain prose.
	StripMarkdown bool
}

// DefaultConfig returns the default player configuration.
func DefaultConfig() Config {
	return Config{
		StopTimeout:  2 * time.Second,
		PingInterval: speech.DefaultPingInterval,
		Lookahead:    2,
		Policy:       speech.PolicyPropagate,
	}
}

// Player owns the speech adapter and at most one running session.
type Player struct {
	adapter *speech.Adapter
	pinger  *speech.Pinger
	cfg     Config
	logger  *log.Logger

	// opMu serializes Play, Stop, Seek, Pause and Resume.
	opMu sync.Mutex

	mu      sync.Mutex
	current *Session
	last    *Request
}

// NewPlayer creates a player around an adapter.
func NewPlayer(adapter *speech.Adapter, cfg Config, logger *log.Logger) *Player {
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultConfig().StopTimeout
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Player{
		adapter: adapter,
		pinger:  speech.NewPinger(adapter, cfg.PingInterval, logger),
		cfg:     cfg,
		logger:  logger.WithPrefix("playback"),
	}
}

// Play stops any running session, waits for it to release the engine, and
// starts a new one at req.StartIndex.
func (p *Player) Play(ctx context.Context, req Request) (*Session, error) {
	p.opMu.Lock()
	defer p.opMu.Unlock()
	return p.playLocked(ctx, req)
}

func (p *Player) playLocked(ctx context.Context, req Request) (*Session, error) {
	if len(req.Segments) == 0 {
		return nil, ErrEmptyScript
	}
	if req.StartIndex < 0 || req.StartIndex >= len(req.Segments) {
		return nil, fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, req.StartIndex, len(req.Segments))
	}

	if err := p.stopLocked(ctx); err != nil {
		return nil, err
	}

	req.Segments = copySegments(req.Segments)
	req.Voices = req.Voices.Clone()
	last := req

	s := newSession(req)
	p.mu.Lock()
	p.current = s
	p.last = &last
	p.mu.Unlock()

	s.transition(StatePlaying)
	metrics.SessionStarted()
	p.pinger.Start(func() bool { return s.State() == StatePlaying })

	p.logger.Debug("Session started", "id", s.ID, "segments", len(req.Segments), "start", req.StartIndex)
	go p.run(s)
	return s, nil
}

// run is the segment loop for one session.
func (p *Player) run(s *Session) {
	var fatal error
	defer func() { p.finish(s, fatal) }()

	segs := s.req.Segments
	announced := -1

	for i := s.req.StartIndex; i < len(segs); {
		pauses, ok := s.awaitPlayable()
		if !ok {
			return
		}

		if announced != i {
			announced = i
			s.setCurrent(i)
			metrics.SegmentStarted()
			if fn := s.req.Callbacks.OnSegmentStart; fn != nil {
				fn(i)
			}
		}

		seg := segs[i]
		voice, ok := s.req.Voices.Lookup(seg.Speaker)
		if !ok {
			p.logger.Warn("No voice for speaker, skipping", "speaker", seg.Speaker, "index", i)
			metrics.SegmentSkipped("no_voice")
			i++
			continue
		}

		text := p.speakable(seg)
		if text == "" {
			p.logger.Debug("Skipping empty segment", "index", i)
			metrics.SegmentSkipped("empty")
			i++
			continue
		}

		p.prefetch(s, i+1)

		err := p.adapter.SpeakWith(s.ctx, p.cfg.Policy, text, voice.VoiceID, ttypes.ResolveOptions(seg, voice))
		switch {
		case err == nil:
			i++
		case s.Stopped():
			return
		case speech.IsInterrupted(err) && s.pausedSince(pauses):
			// The engine lost the utterance on pause; replay it after resume.
			p.logger.Debug("Segment interrupted by pause", "index", i)
		default:
			fatal = err
			return
		}
	}
}

func (p *Player) speakable(seg ttypes.Segment) string {
	if p.cfg.StripMarkdown {
		return cleanText(StripMarkdown(seg.Text()))
	}
	return SpeakableText(seg)
}

// prefetch offers the next few speakable segments to the engine.
func (p *Player) prefetch(s *Session, from int) {
	if p.cfg.Lookahead <= 0 {
		return
	}
	segs := s.req.Segments
	var items []speech.Utterance
	for i := from; i < len(segs) && len(items) < p.cfg.Lookahead; i++ {
		voice, ok := s.req.Voices.Lookup(segs[i].Speaker)
		if !ok {
			continue
		}
		text := p.speakable(segs[i])
		if text == "" {
			continue
		}
		items = append(items, speech.Utterance{
			Text:         text,
			VoiceID:      voice.VoiceID,
			SpeakOptions: ttypes.ResolveOptions(segs[i], voice),
		})
	}
	p.adapter.Prefetch(items)
}

// finish tears a session down exactly once, from whichever side gets there
// first: the loop exiting or a forced stop.
func (p *Player) finish(s *Session, fatal error) {
	if !s.finished.CompareAndSwap(false, true) {
		return
	}

	s.mu.Lock()
	stoppedByCaller := s.sm.Current() == StateStopped
	s.transitionLocked(StateStopped)
	started := s.started
	s.current = -1
	s.err = fatal
	s.mu.Unlock()
	s.cancel()

	p.pinger.Stop()
	p.adapter.Cancel()

	outcome := "completed"
	switch {
	case fatal != nil:
		outcome = "error"
	case stoppedByCaller:
		outcome = "stopped"
	}

	if started {
		metrics.SessionEnded(outcome, time.Since(s.created))
		if fatal != nil {
			p.logger.Error("Playback failed", "id", s.ID, "err", fatal)
			if fn := s.req.Callbacks.OnError; fn != nil {
				fn(fatal.Error())
			}
		}
		if fn := s.req.Callbacks.OnFinish; fn != nil {
			fn()
		}
	}

	p.mu.Lock()
	if p.current == s {
		p.current = nil
	}
	p.mu.Unlock()

	p.logger.Debug("Session finished", "id", s.ID, "outcome", outcome)
	close(s.done)
}

// Stop ends the running session and waits for it to release the engine.
// It is a no-op when nothing is playing.
func (p *Player) Stop(ctx context.Context) error {
	p.opMu.Lock()
	defer p.opMu.Unlock()
	return p.stopLocked(ctx)
}

func (p *Player) stopLocked(ctx context.Context) error {
	p.mu.Lock()
	s := p.current
	p.mu.Unlock()
	if s == nil {
		return nil
	}

	metrics.Transition("stop")
	s.transition(StateStopped)
	s.cancel()
	p.adapter.Cancel()

	timer := time.NewTimer(p.cfg.StopTimeout)
	defer timer.Stop()

	select {
	case <-s.done:
		return nil
	case <-timer.C:
		p.logger.Warn("Playback loop did not exit, forcing teardown", "id", s.ID, "timeout", p.cfg.StopTimeout)
		s.detached.Store(true)
		p.finish(s, nil)
		return nil
	case <-ctx.Done():
		s.detached.Store(true)
		p.finish(s, nil)
		return fmt.Errorf("stopping playback: %w", ctx.Err())
	}
}

// Seek restarts playback at index using the last request.
func (p *Player) Seek(ctx context.Context, index int) (*Session, error) {
	p.opMu.Lock()
	defer p.opMu.Unlock()

	p.mu.Lock()
	last := p.last
	p.mu.Unlock()
	if last == nil {
		return nil, ErrNoSession
	}

	metrics.Transition("seek")
	req := *last
	req.ID = ""
	req.StartIndex = index
	return p.playLocked(ctx, req)
}

// Pause suspends a playing session. It reports whether anything changed.
func (p *Player) Pause() bool {
	p.opMu.Lock()
	defer p.opMu.Unlock()

	s := p.Current()
	if s == nil || !s.transition(StatePaused) {
		return false
	}
	p.adapter.Pause()
	metrics.Transition("pause")
	return true
}

// Resume continues a paused session. It reports whether anything changed.
func (p *Player) Resume() bool {
	p.opMu.Lock()
	defer p.opMu.Unlock()

	s := p.Current()
	if s == nil || s.State() != StatePaused {
		return false
	}
	// The adapter must be released before the loop wakes up.
	p.adapter.Resume()
	if !s.transition(StatePlaying) {
		return false
	}
	metrics.Transition("resume")
	return true
}

// Current returns the running session, if any.
func (p *Player) Current() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// State returns the state of the running session, or stopped.
func (p *Player) State() State {
	if s := p.Current(); s != nil {
		return s.State()
	}
	return StateStopped
}

// CurrentIndex returns the segment being spoken, if any.
func (p *Player) CurrentIndex() (int, bool) {
	if s := p.Current(); s != nil {
		return s.CurrentIndex()
	}
	return -1, false
}

// Adapter returns the speech adapter the player drives.
func (p *Player) Adapter() *speech.Adapter {
	return p.adapter
}

// Close stops playback and releases the engine.
func (p *Player) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.StopTimeout)
	defer cancel()
	_ = p.Stop(ctx)
	return p.adapter.Close()
}
