// Package system speaks through the operating system's speech command:
// say on macOS and espeak-ng elsewhere.
package system

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chatcast/chatcast/internal/speech"
	"github.com/chatcast/chatcast/internal/ttypes"
)

// Command names a speech program family.
type Command string

const (
	Say      Command = "say"
	ESpeakNG Command = "espeak-ng"
	ESpeak   Command = "espeak"
)

// Config configures the engine.
type Config struct {
	// Command selects the program family. Empty picks say on macOS and the
	// first espeak variant on PATH elsewhere.
	Command Command

	// Binary overrides the executable path.
	Binary string

	// WordsPerMinute at rate 1.0.
	WordsPerMinute int
}

// Engine runs one speech process per utterance, one at a time.
type Engine struct {
	cmd    Command
	binary string
	wpm    int
	logger *log.Logger

	mu      sync.Mutex
	current *request
	pending []*request
	paused  bool
	resumed chan struct{}
}

type request struct {
	u      speech.Utterance
	result chan error
	proc   *exec.Cmd
	cancel context.CancelFunc
	ctx    context.Context
	once   sync.Once
}

func (r *request) deliver(err error) {
	r.once.Do(func() { r.result <- err })
}

var errInterrupted = speech.NewError(speech.CodeInterrupted, "speech process stopped", nil)

// New locates the speech program.
func New(cfg Config, logger *log.Logger) (*Engine, error) {
	if logger == nil {
		logger = log.Default()
	}
	if cfg.WordsPerMinute <= 0 {
		cfg.WordsPerMinute = 175
	}

	cmd := cfg.Command
	if cmd == "" {
		cmd = detect()
	}
	switch cmd {
	case Say, ESpeakNG, ESpeak:
	default:
		return nil, fmt.Errorf("unknown speech command %q", cmd)
	}

	binary := cfg.Binary
	if binary == "" {
		path, err := exec.LookPath(string(cmd))
		if err != nil {
			return nil, speech.NewError(speech.CodeEngineUnavailable, fmt.Sprintf("%s not found in PATH", cmd), err)
		}
		binary = path
	}

	return &Engine{
		cmd:    cmd,
		binary: binary,
		wpm:    cfg.WordsPerMinute,
		logger: logger.WithPrefix(string(cmd)),
	}, nil
}

func detect() Command {
	if runtime.GOOS == "darwin" {
		return Say
	}
	if _, err := exec.LookPath(string(ESpeakNG)); err == nil {
		return ESpeakNG
	}
	return ESpeak
}

// Capabilities implements speech.Engine. Pausing needs job control signals.
func (e *Engine) Capabilities() speech.Capabilities {
	return speech.Capabilities{
		Name:     string(e.cmd),
		CanPause: canSuspend,
		MaxRate:  3,
	}
}

// Voices implements speech.Engine.
func (e *Engine) Voices() ([]ttypes.Voice, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var args []string
	if e.cmd == Say {
		args = []string{"-v", "?"}
	} else {
		args = []string{"--voices"}
	}
	out, err := exec.CommandContext(ctx, e.binary, args...).Output()
	if err != nil {
		return nil, fmt.Errorf("listing voices: %w", err)
	}

	var voices []ttypes.Voice
	if e.cmd == Say {
		voices = parseSayVoices(out)
	} else {
		voices = parseESpeakVoices(out)
	}
	if len(voices) > 0 {
		voices[0].Default = true
	}
	return voices, nil
}

// parseSayVoices reads lines like "Alex   en_US    # Hello, my name is Alex.".
func parseSayVoices(out []byte) []ttypes.Voice {
	var voices []ttypes.Voice
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line, _, _ := strings.Cut(sc.Text(), "#")
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		lang := fields[len(fields)-1]
		name := strings.Join(fields[:len(fields)-1], " ")
		voices = append(voices, ttypes.Voice{
			ID:       name,
			Name:     name,
			Language: strings.ReplaceAll(lang, "_", "-"),
		})
	}
	return voices
}

// parseESpeakVoices reads the --voices table:
//
//	Pty Language       Age/Gender VoiceName          File                 Other Languages
//	 5  af              --/M      Afrikaans          gmw/af
func parseESpeakVoices(out []byte) []ttypes.Voice {
	var voices []ttypes.Voice
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 5 || fields[0] == "Pty" {
			continue
		}
		voices = append(voices, ttypes.Voice{
			ID:       fields[1],
			Name:     strings.ReplaceAll(fields[3], "_", " "),
			Language: fields[1],
		})
	}
	return voices
}

// args builds the command line; the text itself goes to stdin.
func (e *Engine) args(u speech.Utterance) []string {
	rate := u.Rate
	if rate <= 0 {
		rate = ttypes.DefaultDelivery
	}
	wpm := int(float64(e.wpm) * rate)

	if e.cmd == Say {
		args := []string{"-r", fmt.Sprint(wpm), "-f", "-"}
		if u.VoiceID != "" {
			args = append([]string{"-v", u.VoiceID}, args...)
		}
		return args
	}

	args := []string{
		"-s", fmt.Sprint(wpm),
		"-p", fmt.Sprint(int(ttypes.Clamp(u.Pitch*50, 0, 99))),
		"-a", fmt.Sprint(int(ttypes.Clamp(u.Volume*100, 0, 200))),
		"--stdin",
	}
	if u.VoiceID != "" {
		args = append([]string{"-v", u.VoiceID}, args...)
	}
	return args
}

// stdin returns the text fed to the process. say has no volume flag, so
// the level is set with an embedded command.
func (e *Engine) stdin(u speech.Utterance) string {
	if e.cmd == Say && u.Volume != ttypes.DefaultDelivery {
		return fmt.Sprintf("[[volm %.2f]] %s", u.Volume, u.Text)
	}
	return u.Text
}

// Speak implements speech.Engine.
func (e *Engine) Speak(u speech.Utterance) <-chan error {
	ctx, cancel := context.WithCancel(context.Background())
	r := &request{u: u, result: make(chan error, 1), ctx: ctx, cancel: cancel}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil {
		e.current = r
		go e.run(r)
	} else {
		e.pending = append(e.pending, r)
	}
	return r.result
}

func (e *Engine) run(r *request) {
	defer e.next(r)

	if err := e.waitResumed(r.ctx); err != nil {
		r.deliver(errInterrupted)
		return
	}

	cmd := exec.Command(e.binary, e.args(r.u)...)
	cmd.Stdin = strings.NewReader(e.stdin(r.u))
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	e.mu.Lock()
	if r.ctx.Err() != nil {
		e.mu.Unlock()
		r.deliver(errInterrupted)
		return
	}
	if err := cmd.Start(); err != nil {
		e.mu.Unlock()
		r.deliver(fmt.Errorf("starting %s: %w", e.cmd, err))
		return
	}
	r.proc = cmd
	if e.paused {
		_ = suspend(cmd.Process)
	}
	e.mu.Unlock()

	err := cmd.Wait()
	switch {
	case r.ctx.Err() != nil:
		r.deliver(errInterrupted)
	case err != nil:
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			err = fmt.Errorf("%w: %s", err, msg)
		}
		r.deliver(fmt.Errorf("%s failed: %w", e.cmd, err))
	default:
		r.deliver(nil)
	}
}

func (e *Engine) next(r *request) {
	r.cancel()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == r {
		e.current = nil
	}
	if e.current == nil && len(e.pending) > 0 {
		e.current = e.pending[0]
		e.pending = e.pending[1:]
		go e.run(e.current)
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

// Cancel implements speech.Engine.
func (e *Engine) Cancel() {
	e.mu.Lock()
	victims := e.pending
	if e.current != nil {
		victims = append(victims, e.current)
	}
	e.current = nil
	e.pending = nil
	if e.paused {
		e.paused = false
		close(e.resumed)
	}
	for _, r := range victims {
		r.cancel()
		if r.proc != nil {
			// A stopped process must be continued before it can die.
			_ = kill(r.proc.Process)
		}
	}
	e.mu.Unlock()

	for _, r := range victims {
		r.deliver(errInterrupted)
	}
}

// Pause implements speech.Engine. Without job control it only holds back
// the next utterance.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.paused {
		return
	}
	e.paused = true
	e.resumed = make(chan struct{})
	if e.current != nil && e.current.proc != nil {
		if err := suspend(e.current.proc.Process); err != nil {
			e.logger.Debug("Suspend failed", "err", err)
		}
	}
}

// Resume implements speech.Engine.
func (e *Engine) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.paused {
		return
	}
	e.paused = false
	close(e.resumed)
	if e.current != nil && e.current.proc != nil {
		if err := resume(e.current.proc.Process); err != nil {
			e.logger.Debug("Continue failed", "err", err)
		}
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

// Close stops any speech process.
func (e *Engine) Close() error {
	e.Cancel()
	return nil
}

var errNoProcess = errors.New("no process")
