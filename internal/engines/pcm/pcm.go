// Package pcm builds a speech engine out of a text-to-PCM synthesizer and an
// audio output. Synthesized clips are cached and upcoming lines are rendered
// ahead of time by a small worker pool.
package pcm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chatcast/chatcast/internal/audio"
	"github.com/chatcast/chatcast/internal/cache"
	"github.com/chatcast/chatcast/internal/queue"
	"github.com/chatcast/chatcast/internal/speech"
	"github.com/chatcast/chatcast/internal/ttypes"
)

// pingClip is what a blank utterance plays.
const pingClip = 50 * time.Millisecond

// Synthesizer renders text into raw PCM in the output format.
type Synthesizer interface {
	// Name identifies the backend in cache keys and logs.
	Name() string

	// Voices lists the voices the backend can render.
	Voices(ctx context.Context) ([]ttypes.Voice, error)

	// Synthesize renders one utterance. Volume is applied at playback and
	// can be ignored.
	Synthesize(ctx context.Context, u speech.Utterance) ([]byte, error)
}

// Options configures an Engine.
type Options struct {
	// Output plays the clips. Required.
	Output audio.Output

	// Format describes the PCM the synthesizer produces.
	Format audio.PlayerConfig

	// Cache stores rendered clips; nil disables caching.
	Cache *cache.Manager

	// Workers is the number of synthesis goroutines.
	Workers int

	// MaxRate is reported in the engine capabilities.
	MaxRate float64
}

// Engine speaks utterances one at a time through an audio output.
type Engine struct {
	synth  Synthesizer
	out    audio.Output
	format audio.PlayerConfig
	cache  *cache.Manager
	jobs   *queue.Queue[*job]
	caps   speech.Capabilities
	logger *log.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	current  *utterance
	pending  []*utterance
	paused   bool
	resumed  chan struct{} // closed on Resume
	inflight map[string]*job
	closed   bool
}

// job is one synthesis, shared by everyone waiting on the same clip.
type job struct {
	key     cache.Key
	u       speech.Utterance
	claimed atomic.Bool
	done    chan struct{}
	pcm     []byte
	err     error
}

type utterance struct {
	u      speech.Utterance
	result chan error
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

func (ut *utterance) deliver(err error) {
	ut.once.Do(func() { ut.result <- err })
}

var errInterrupted = speech.NewError(speech.CodeInterrupted, "playback canceled", nil)

// New creates an engine and starts its synthesis workers.
func New(synth Synthesizer, opts Options, logger *log.Logger) (*Engine, error) {
	if opts.Output == nil {
		return nil, fmt.Errorf("pcm: output is required")
	}
	if err := opts.Format.Validate(); err != nil {
		return nil, err
	}
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.MaxRate <= 0 {
		opts.MaxRate = 3
	}
	if logger == nil {
		logger = log.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		synth:  synth,
		out:    opts.Output,
		format: opts.Format,
		cache:  opts.Cache,
		jobs:   queue.New[*job](0),
		caps: speech.Capabilities{
			Name:     synth.Name(),
			CanPause: true,
			MaxRate:  opts.MaxRate,
		},
		logger:   logger.WithPrefix(synth.Name()),
		ctx:      ctx,
		cancel:   cancel,
		inflight: make(map[string]*job),
	}
	for range opts.Workers {
		e.wg.Add(1)
		go e.worker()
	}
	return e, nil
}

// Voices implements speech.Engine.
func (e *Engine) Voices() ([]ttypes.Voice, error) {
	ctx, cancel := context.WithTimeout(e.ctx, 10*time.Second)
	defer cancel()
	return e.synth.Voices(ctx)
}

// Capabilities implements speech.Engine.
func (e *Engine) Capabilities() speech.Capabilities {
	return e.caps
}

// Speak implements speech.Engine.
func (e *Engine) Speak(u speech.Utterance) <-chan error {
	ctx, cancel := context.WithCancel(e.ctx)
	ut := &utterance{u: u, result: make(chan error, 1), ctx: ctx, cancel: cancel}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		cancel()
		ut.deliver(speech.NewError(speech.CodeEngineUnavailable, "engine closed", nil))
		return ut.result
	}
	if e.current == nil {
		e.current = ut
		go e.play(ut)
	} else {
		e.pending = append(e.pending, ut)
	}
	return ut.result
}

func (e *Engine) play(ut *utterance) {
	defer e.next(ut)

	pcm, err := e.fetch(ut.ctx, ut.u, queue.PriorityNow)
	if err != nil {
		if ut.ctx.Err() != nil {
			ut.deliver(errInterrupted)
		} else {
			ut.deliver(err)
		}
		return
	}
	if len(pcm) == 0 {
		ut.deliver(nil)
		return
	}
	if err := e.waitResumed(ut.ctx); err != nil {
		ut.deliver(errInterrupted)
		return
	}

	// Starting the clip and checking for cancellation happen under the lock
	// Cancel holds while stopping the output, so a canceled utterance never
	// starts playing after Cancel returned.
	e.mu.Lock()
	if ut.ctx.Err() != nil {
		e.mu.Unlock()
		ut.deliver(errInterrupted)
		return
	}
	_ = e.out.SetVolume(ut.u.Volume)
	done, err := e.out.Play(pcm)
	if err == nil && e.paused {
		_ = e.out.Pause()
	}
	e.mu.Unlock()
	if err != nil {
		ut.deliver(fmt.Errorf("playing audio: %w", err))
		return
	}

	select {
	case <-done:
		if ut.ctx.Err() != nil {
			ut.deliver(errInterrupted)
			return
		}
		ut.deliver(nil)
	case <-ut.ctx.Done():
		ut.deliver(errInterrupted)
	}
}

// next releases the output and starts the following utterance.
func (e *Engine) next(ut *utterance) {
	ut.cancel()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == ut {
		e.current = nil
	}
	if e.current == nil && len(e.pending) > 0 && !e.closed {
		e.current = e.pending[0]
		e.pending = e.pending[1:]
		go e.play(e.current)
	}
}

// fetch returns the clip for u from the cache or a synthesis job.
func (e *Engine) fetch(ctx context.Context, u speech.Utterance, prio queue.Priority) ([]byte, error) {
	if strings.TrimSpace(u.Text) == "" {
		return e.format.Silence(pingClip), nil
	}
	key := e.keyFor(u)
	if e.cache != nil {
		if pcm, ok := e.cache.Get(key); ok {
			return pcm, nil
		}
	}

	j := e.enqueue(key, u, prio)
	select {
	case <-j.done:
		return j.pcm, j.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *Engine) keyFor(u speech.Utterance) cache.Key {
	return cache.Key{
		Engine: e.synth.Name(),
		Voice:  u.VoiceID,
		Text:   u.Text,
		Rate:   u.Rate,
		Pitch:  u.Pitch,
	}
}

// enqueue returns the job rendering key, creating it if needed. Pushing an
// existing job again raises its priority or requeues it after a Clear.
func (e *Engine) enqueue(key cache.Key, u speech.Utterance, prio queue.Priority) *job {
	k := key.String()

	e.mu.Lock()
	j, ok := e.inflight[k]
	if !ok {
		j = &job{key: key, u: u, done: make(chan struct{})}
		e.inflight[k] = j
	}
	e.mu.Unlock()

	if j.claimed.Load() {
		return j
	}
	if err := e.jobs.Push(k, prio, j); err != nil && j.claimed.CompareAndSwap(false, true) {
		e.complete(j, nil, err)
	}
	return j
}

func (e *Engine) worker() {
	defer e.wg.Done()
	for {
		j, err := e.jobs.Pop(e.ctx)
		if err != nil {
			return
		}
		if !j.claimed.CompareAndSwap(false, true) {
			continue
		}

		start := time.Now()
		pcm, err := e.synth.Synthesize(e.ctx, j.u)
		if err != nil {
			e.logger.Warn("Synthesis failed", "voice", j.u.VoiceID, "err", err)
			err = fmt.Errorf("%s: %w", e.synth.Name(), err)
		} else {
			e.logger.Debug("Synthesized", "voice", j.u.VoiceID, "bytes", len(pcm),
				"audio", e.format.Duration(pcm), "took", time.Since(start))
			if e.cache != nil {
				e.cache.Put(j.key, pcm)
			}
		}
		e.complete(j, pcm, err)
	}
}

func (e *Engine) complete(j *job, pcm []byte, err error) {
	k := j.key.String()
	e.mu.Lock()
	if e.inflight[k] == j {
		delete(e.inflight, k)
	}
	e.mu.Unlock()

	j.pcm, j.err = pcm, err
	close(j.done)
}

// Prefetch implements speech.Prefetcher. The first item is rendered before
// the rest.
func (e *Engine) Prefetch(items []speech.Utterance) {
	for i, u := range items {
		if strings.TrimSpace(u.Text) == "" {
			continue
		}
		key := e.keyFor(u)
		if e.cache != nil && e.cache.Contains(key) {
			continue
		}
		prio := queue.PriorityAhead
		if i == 0 {
			prio = queue.PriorityNext
		}
		e.enqueue(key, u, prio)
	}
}

// Cancel implements speech.Engine. Queued lookahead is dropped; renders the
// player is waiting on are kept so their clips land in the cache.
func (e *Engine) Cancel() {
	e.mu.Lock()
	victims := e.pending
	if e.current != nil {
		victims = append(victims, e.current)
	}
	e.current = nil
	e.pending = nil
	e.resumeLocked()
	for _, ut := range victims {
		ut.cancel()
	}
	_ = e.out.Stop()
	e.mu.Unlock()

	for _, ut := range victims {
		ut.deliver(errInterrupted)
	}
	if n := e.jobs.Clear(queue.PriorityNow); n > 0 {
		e.logger.Debug("Dropped lookahead", "jobs", n)
	}
}

// Pause implements speech.Engine. A clip still being synthesized starts
// paused.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.paused {
		return
	}
	e.paused = true
	e.resumed = make(chan struct{})
	if e.out.State() == audio.StatePlaying {
		_ = e.out.Pause()
	}
}

// Resume implements speech.Engine.
func (e *Engine) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.paused {
		return
	}
	e.resumeLocked()
	if e.out.State() == audio.StatePaused {
		_ = e.out.Resume()
	}
}

func (e *Engine) resumeLocked() {
	if e.paused {
		e.paused = false
		close(e.resumed)
	}
}

func (e *Engine) waitResumed(ctx context.Context) error {
	e.mu.Lock()
	if !e.paused {
		e.mu.Unlock()
		return nil
	}
	ch := e.resumed
	e.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Speaking implements speech.Engine.
func (e *Engine) Speaking() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current != nil
}

// Pending implements speech.Engine.
func (e *Engine) Pending() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending) > 0
}

// QueueStats reports synthesis queue activity.
func (e *Engine) QueueStats() queue.Stats {
	return e.jobs.Stats()
}

// Close stops the workers and releases the output and cache.
func (e *Engine) Close() error {
	e.Cancel()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.cancel()
	e.jobs.Close()
	e.wg.Wait()

	err := e.out.Close()
	if e.cache != nil {
		if cerr := e.cache.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
