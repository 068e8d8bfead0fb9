// Package mock provides a deterministic in-process speech engine for tests
// and for running without an audio device.
package mock

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chatcast/chatcast/internal/speech"
	"github.com/chatcast/chatcast/internal/ttypes"
)

// Engine is a fake speech engine. Utterances "play" for a simulated
// duration and complete on a timer.
type Engine struct {
	mu sync.Mutex

	// Configuration
	voices    []ttypes.Voice
	voicesErr error
	canPause  bool
	perWord   time.Duration
	fixed     time.Duration
	failOn    map[string]error
	hangOn    map[string]bool
	deafToAck bool
	onSpeak   func(speech.Utterance)

	// State
	current *job
	queue   []*job
	spoken  []speech.Utterance
	pings   int
	cancels int
}

type job struct {
	u         speech.Utterance
	done      chan error
	timer     *time.Timer
	remaining time.Duration
	startedAt time.Time
	paused    bool
	hang      bool
	finished  bool
}

// Option configures the mock engine.
type Option func(*Engine)

// WithVoices replaces the default voice list. An empty list simulates an
// engine with no voices installed.
func WithVoices(voices ...ttypes.Voice) Option {
	return func(e *Engine) { e.voices = voices }
}

// WithVoicesError makes Voices fail.
func WithVoicesError(err error) Option {
	return func(e *Engine) { e.voicesErr = err }
}

// WithPause enables true suspension.
func WithPause(enabled bool) Option {
	return func(e *Engine) { e.canPause = enabled }
}

// WithDuration makes every utterance take d.
func WithDuration(d time.Duration) Option {
	return func(e *Engine) { e.fixed = d }
}

// WithWordDuration makes utterances take d per word at rate 1.0.
func WithWordDuration(d time.Duration) Option {
	return func(e *Engine) { e.perWord = d; e.fixed = 0 }
}

// New creates a mock engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		voices: []ttypes.Voice{
			{ID: "mock-host", Name: "Mock Host", Language: "en-US", Default: true},
			{ID: "mock-guest", Name: "Mock Guest", Language: "en-GB"},
			{ID: "mock-narrator", Name: "Mock Narrator", Language: "en-US"},
		},
		fixed:  20 * time.Millisecond,
		failOn: make(map[string]error),
		hangOn: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Voices returns the configured voices.
func (e *Engine) Voices() ([]ttypes.Voice, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.voicesErr != nil {
		return nil, e.voicesErr
	}
	return append([]ttypes.Voice(nil), e.voices...), nil
}

// Speak enqueues an utterance.
func (e *Engine) Speak(u speech.Utterance) <-chan error {
	j := &job{u: u, done: make(chan error, 1)}

	e.mu.Lock()
	var started *job
	if e.current == nil {
		started = e.startLocked(j)
	} else {
		e.queue = append(e.queue, j)
	}
	hook := e.onSpeak
	e.mu.Unlock()

	if started != nil && hook != nil && !isPing(started.u) {
		hook(started.u)
	}
	return j.done
}

// startLocked makes j the current utterance and arms its completion.
func (e *Engine) startLocked(j *job) *job {
	e.current = j
	if isPing(j.u) {
		e.pings++
	} else {
		e.spoken = append(e.spoken, j.u)
	}

	if err, ok := e.failOn[j.u.Text]; ok {
		j.timer = time.AfterFunc(0, func() { e.complete(j, err) })
		return j
	}
	if e.hangOn[j.u.Text] {
		j.hang = true
		return j
	}

	j.remaining = e.durationOf(j.u)
	j.startedAt = time.Now()
	j.timer = time.AfterFunc(j.remaining, func() { e.complete(j, nil) })
	return j
}

func (e *Engine) durationOf(u speech.Utterance) time.Duration {
	if isPing(u) {
		return 0
	}
	if e.perWord > 0 {
		rate := u.Rate
		if rate <= 0 {
			rate = 1
		}
		words := len(strings.Fields(u.Text))
		return time.Duration(float64(e.perWord) * float64(words) / rate)
	}
	return e.fixed
}

// complete delivers the result for j and starts the next queued utterance.
func (e *Engine) complete(j *job, err error) {
	e.mu.Lock()
	if j.finished {
		e.mu.Unlock()
		return
	}
	j.finished = true
	j.done <- err

	var started *job
	if e.current == j {
		e.current = nil
		if len(e.queue) > 0 {
			next := e.queue[0]
			e.queue = e.queue[1:]
			started = e.startLocked(next)
		}
	}
	hook := e.onSpeak
	e.mu.Unlock()

	if started != nil && hook != nil && !isPing(started.u) {
		hook(started.u)
	}
}

// Cancel drops the queue and interrupts the current utterance.
func (e *Engine) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.cancels++
	jobs := append([]*job(nil), e.queue...)
	if e.current != nil {
		jobs = append(jobs, e.current)
	}
	e.current = nil
	e.queue = nil

	for _, j := range jobs {
		if j.timer != nil {
			j.timer.Stop()
		}
		if j.finished {
			continue
		}
		j.finished = true
		if !e.deafToAck {
			j.done <- fmt.Errorf("mock: %w", speech.ErrInterrupted)
		}
	}
}

// Pause suspends the current utterance when pausing is enabled.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	j := e.current
	if !e.canPause || j == nil || j.paused || j.hang {
		return
	}
	if j.timer != nil && j.timer.Stop() {
		j.remaining -= time.Since(j.startedAt)
		if j.remaining < 0 {
			j.remaining = 0
		}
	}
	j.paused = true
}

// Resume continues a suspended utterance.
func (e *Engine) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	j := e.current
	if j == nil || !j.paused {
		return
	}
	j.paused = false
	j.startedAt = time.Now()
	j.timer = time.AfterFunc(j.remaining, func() { e.complete(j, nil) })
}

// Speaking reports whether an utterance is current.
func (e *Engine) Speaking() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current != nil
}

// Pending reports whether utterances are queued.
func (e *Engine) Pending() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue) > 0
}

// Capabilities returns the mock capabilities.
func (e *Engine) Capabilities() speech.Capabilities {
	e.mu.Lock()
	defer e.mu.Unlock()
	return speech.Capabilities{Name: "mock", CanPause: e.canPause, MaxRate: ttypes.MaxRate}
}

// Test control methods

// FailOn makes utterances with exactly this text fail with err.
func (e *Engine) FailOn(text string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failOn[text] = err
}

// HangOn makes utterances with exactly this text never report.
func (e *Engine) HangOn(text string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hangOn[text] = true
}

// IgnoreCancelAck stops Cancel from delivering interruption results.
func (e *Engine) IgnoreCancelAck(ignore bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.deafToAck = ignore
}

// OnSpeak registers a hook called whenever a non-ping utterance starts.
// The hook runs without the engine lock held.
func (e *Engine) OnSpeak(fn func(speech.Utterance)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onSpeak = fn
}

// Spoken returns the text of every non-ping utterance started so far.
func (e *Engine) Spoken() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.spoken))
	for i, u := range e.spoken {
		out[i] = u.Text
	}
	return out
}

// Utterances returns every non-ping utterance started so far.
func (e *Engine) Utterances() []speech.Utterance {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]speech.Utterance(nil), e.spoken...)
}

// Pings returns the number of keep-alive utterances received.
func (e *Engine) Pings() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pings
}

// Cancels returns how many times Cancel was called.
func (e *Engine) Cancels() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancels
}

func isPing(u speech.Utterance) bool {
	return strings.TrimSpace(u.Text) == "" && u.Volume == 0
}

var _ speech.Engine = (*Engine)(nil)
