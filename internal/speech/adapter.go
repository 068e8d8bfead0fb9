package speech

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chatcast/chatcast/internal/metrics"
	"github.com/chatcast/chatcast/internal/ttypes"
)

// Policy decides what happens to genuine synthesis failures.
type Policy int

const (
	// PolicyPropagate returns synthesis failures to the caller.
	PolicyPropagate Policy = iota

	// PolicySwallow logs synthesis failures and reports success so one bad
	// line does not halt a script. Interruptions and hangs still propagate.
	PolicySwallow
)

// ParsePolicy maps a config value ("stop" or "skip") to a policy.
func ParsePolicy(s string) Policy {
	if strings.EqualFold(s, "skip") {
		return PolicySwallow
	}
	return PolicyPropagate
}

// AdapterConfig tunes the adapter's bounded waits.
type AdapterConfig struct {
	// AckTimeout bounds the wait for the engine to acknowledge a cancel.
	AckTimeout time.Duration

	// HangTimeout is the minimum time an utterance may take before it is
	// considered hung. Longer text extends it.
	HangTimeout time.Duration

	// WordsPerMinute at rate 1.0, used to estimate utterance length.
	WordsPerMinute int

	// Policy is the default policy used by Speak.
	Policy Policy
}

// DefaultAdapterConfig returns the default adapter configuration.
func DefaultAdapterConfig() AdapterConfig {
	return AdapterConfig{
		AckTimeout:     500 * time.Millisecond,
		HangTimeout:    10 * time.Second,
		WordsPerMinute: 150,
		Policy:         PolicyPropagate,
	}
}

// Adapter turns the engine's event-based contract into a blocking call.
// It is the only code allowed to touch the engine.
type Adapter struct {
	engine Engine
	caps   Capabilities
	cfg    AdapterConfig
	logger *log.Logger

	mu       sync.Mutex
	voices   []ttypes.Voice
	inflight *inflight
	paused   bool
	pauses   int
}

// inflight tracks the utterance currently owned by a Speak call.
type inflight struct {
	done      <-chan error
	abort     chan struct{}
	abortOnce sync.Once
}

func (f *inflight) cancel() {
	f.abortOnce.Do(func() { close(f.abort) })
}

// NewAdapter wraps an engine.
func NewAdapter(engine Engine, cfg AdapterConfig, logger *log.Logger) *Adapter {
	def := DefaultAdapterConfig()
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = def.AckTimeout
	}
	if cfg.HangTimeout <= 0 {
		cfg.HangTimeout = def.HangTimeout
	}
	if cfg.WordsPerMinute <= 0 {
		cfg.WordsPerMinute = def.WordsPerMinute
	}
	if logger == nil {
		logger = log.Default()
	}
	caps := engine.Capabilities()
	if caps.MaxRate <= 0 {
		caps.MaxRate = ttypes.MaxRate
	}
	return &Adapter{
		engine: engine,
		caps:   caps,
		cfg:    cfg,
		logger: logger.WithPrefix("speech"),
	}
}

// Capabilities returns the wrapped engine's capabilities.
func (a *Adapter) Capabilities() Capabilities {
	return a.caps
}

// Voices returns the engine's voices, cached after the first non-empty list.
func (a *Adapter) Voices() ([]ttypes.Voice, error) {
	a.mu.Lock()
	cached := a.voices
	a.mu.Unlock()
	if len(cached) > 0 {
		return cached, nil
	}
	return a.RefreshVoices()
}

// RefreshVoices re-reads the voice list from the engine.
func (a *Adapter) RefreshVoices() ([]ttypes.Voice, error) {
	voices, err := a.engine.Voices()
	if err != nil {
		return nil, NewError(CodeEngineUnavailable, "listing voices", err)
	}
	a.mu.Lock()
	a.voices = voices
	a.mu.Unlock()
	return voices, nil
}

// resolveVoice finds a voice by id, then by name, and falls back to the
// first available voice.
func (a *Adapter) resolveVoice(id string) (ttypes.Voice, error) {
	voices, err := a.Voices()
	if err != nil {
		return ttypes.Voice{}, err
	}
	if len(voices) == 0 {
		return ttypes.Voice{}, NewError(CodeEngineUnavailable, "no voices available", nil)
	}
	for _, v := range voices {
		if v.ID == id {
			return v, nil
		}
	}
	for _, v := range voices {
		if strings.EqualFold(v.ID, id) || strings.EqualFold(v.Name, id) {
			return v, nil
		}
	}
	a.logger.Warn("Voice not found, using fallback", "voice", id, "fallback", voices[0].ID)
	return voices[0], nil
}

// Speak speaks text with the default policy and blocks until the engine
// finishes, fails, or ctx is canceled.
func (a *Adapter) Speak(ctx context.Context, text, voiceID string, opts ttypes.SpeakOptions) error {
	return a.SpeakWith(ctx, a.cfg.Policy, text, voiceID, opts)
}

// SpeakWith is Speak with an explicit error policy.
func (a *Adapter) SpeakWith(ctx context.Context, policy Policy, text, voiceID string, opts ttypes.SpeakOptions) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return NewError(CodeInterrupted, "canceled before speaking", err)
	}

	voice, err := a.resolveVoice(voiceID)
	if err != nil {
		return err
	}
	u := Utterance{Text: text, VoiceID: voice.ID, SpeakOptions: opts}

	a.mu.Lock()
	if a.paused {
		a.mu.Unlock()
		return NewError(CodeInterrupted, "adapter is paused", nil)
	}
	// Resolving the voice can block; a caller canceled meanwhile no longer
	// owns the engine.
	if err := ctx.Err(); err != nil {
		a.mu.Unlock()
		return NewError(CodeInterrupted, "canceled before speaking", err)
	}
	a.clearLocked()
	f := &inflight{done: a.engine.Speak(u), abort: make(chan struct{})}
	a.inflight = f
	a.mu.Unlock()

	start := time.Now()
	err = a.wait(ctx, f, u)

	a.mu.Lock()
	if a.inflight == f {
		a.inflight = nil
	}
	a.mu.Unlock()

	metrics.UtteranceFinished(a.caps.Name, resultLabel(err), time.Since(start))
	return a.classify(err, policy, u)
}

// clearLocked drops anything queued or playing on the engine. Must be
// called with a.mu held.
func (a *Adapter) clearLocked() {
	if a.inflight != nil {
		a.inflight.cancel()
		a.inflight = nil
	}
	if a.engine.Speaking() || a.engine.Pending() {
		a.engine.Cancel()
	}
}

func (a *Adapter) wait(ctx context.Context, f *inflight, u Utterance) error {
	budget := a.hangBudget(u)
	timer := time.NewTimer(budget)
	defer timer.Stop()
	pauses := a.pauseCount()

	for {
		select {
		case err := <-f.done:
			return err

		case <-f.abort:
			a.awaitAck(f)
			return NewError(CodeInterrupted, "utterance aborted", nil)

		case <-ctx.Done():
			a.engine.Cancel()
			a.awaitAck(f)
			return NewError(CodeInterrupted, "utterance canceled", ctx.Err())

		case <-timer.C:
			// Time spent paused does not count: a pause since the timer was
			// armed buys a fresh budget.
			if a.Paused() {
				pauses = -1
				timer.Reset(budget)
				continue
			}
			if n := a.pauseCount(); n != pauses {
				pauses = n
				timer.Reset(budget)
				continue
			}
			a.logger.Warn("Engine did not report completion", "after", budget, "text", truncate(u.Text, 40))
			a.engine.Cancel()
			return NewError(CodeEngineHung, "no completion event", nil).WithContext("budget", budget)
		}
	}
}

// awaitAck gives the engine a bounded window to report the cancellation.
func (a *Adapter) awaitAck(f *inflight) {
	t := time.NewTimer(a.cfg.AckTimeout)
	defer t.Stop()
	select {
	case <-f.done:
	case <-t.C:
		a.logger.Debug("Engine did not acknowledge cancel", "timeout", a.cfg.AckTimeout)
	}
}

// hangBudget estimates how long an utterance may reasonably take.
func (a *Adapter) hangBudget(u Utterance) time.Duration {
	rate := u.Rate
	if rate <= 0 {
		rate = ttypes.DefaultDelivery
	}
	words := float64(len(strings.Fields(u.Text)))
	minutes := words / (float64(a.cfg.WordsPerMinute) * rate)
	estimate := time.Duration(minutes * float64(time.Minute))
	return a.cfg.HangTimeout + 3*estimate
}

func (a *Adapter) classify(err error, policy Policy, u Utterance) error {
	if err == nil {
		return nil
	}
	if IsInterrupted(err) {
		return err
	}
	if _, ok := err.(*Error); !ok {
		err = NewError(CodeSynthesisFailed, "engine reported an error", err)
	}
	if policy == PolicySwallow && IsSynthesisFailure(err) {
		a.logger.Warn("Synthesis failed, continuing", "err", err, "text", truncate(u.Text, 40))
		return nil
	}
	return err
}

// Pause suspends the current utterance. Engines that cannot suspend lose
// the utterance, and the blocked Speak returns an interruption.
func (a *Adapter) Pause() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.paused {
		return
	}
	a.paused = true
	a.pauses++
	if a.caps.CanPause {
		a.engine.Pause()
		return
	}
	if a.inflight != nil {
		a.engine.Cancel()
		a.inflight.cancel()
	}
}

// Resume continues a suspended utterance when the engine supports it.
func (a *Adapter) Resume() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.paused {
		return
	}
	a.paused = false
	if a.caps.CanPause {
		a.engine.Resume()
	}
}

// Paused reports whether the adapter is paused.
func (a *Adapter) Paused() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.paused
}

func (a *Adapter) pauseCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pauses
}

// Cancel aborts the in-flight utterance, clears the engine queue and drops
// any pause.
func (a *Adapter) Cancel() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.paused = false
	if a.inflight != nil {
		a.inflight.cancel()
		a.inflight = nil
	}
	a.engine.Cancel()
}

// Busy reports whether anything is speaking or queued.
func (a *Adapter) Busy() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.inflight != nil || a.engine.Speaking() || a.engine.Pending()
}

// Ping issues a silent utterance if the engine is idle. It reports whether
// a ping was sent.
func (a *Adapter) Ping() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.paused || a.inflight != nil || a.engine.Speaking() || a.engine.Pending() {
		return false
	}

	var voiceID string
	if len(a.voices) > 0 {
		voiceID = a.voices[0].ID
	}
	done := a.engine.Speak(Utterance{
		Text:    " ",
		VoiceID: voiceID,
		SpeakOptions: ttypes.SpeakOptions{
			Rate:   a.caps.MaxRate,
			Pitch:  ttypes.DefaultDelivery,
			Volume: 0,
		},
	})
	metrics.Ping()

	drain := a.cfg.HangTimeout
	go func() {
		t := time.NewTimer(drain)
		defer t.Stop()
		select {
		case <-done:
		case <-t.C:
		}
	}()
	return true
}

// Prefetch forwards upcoming utterances to engines that can synthesize
// ahead. Voices are resolved the same way Speak resolves them.
func (a *Adapter) Prefetch(items []Utterance) {
	p, ok := a.engine.(Prefetcher)
	if !ok || len(items) == 0 {
		return
	}
	resolved := make([]Utterance, 0, len(items))
	for _, u := range items {
		if strings.TrimSpace(u.Text) == "" {
			continue
		}
		v, err := a.resolveVoice(u.VoiceID)
		if err != nil {
			return
		}
		u.VoiceID = v.ID
		resolved = append(resolved, u)
	}
	p.Prefetch(resolved)
}

// Close releases the engine if it holds resources.
func (a *Adapter) Close() error {
	a.Cancel()
	if c, ok := a.engine.(Closer); ok {
		return c.Close()
	}
	return nil
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsInterrupted(err):
		return "interrupted"
	default:
		return "error"
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
