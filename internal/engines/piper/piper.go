// Package piper renders speech offline with the Piper command line tool.
package piper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/chatcast/chatcast/internal/speech"
	"github.com/chatcast/chatcast/internal/ttypes"
	"github.com/mattn/go-shellwords"
)

const (
	// SampleRate is the rate of Piper's raw output for medium models.
	SampleRate = 22050

	maxTextSize  = 5000
	maxAudioSize = 10 * 1024 * 1024
)

// Config configures the synthesizer.
type Config struct {
	// Binary is the piper command line, for example "piper" or
	// "python3 -m piper". Defaults to "piper" on PATH.
	Binary string

	// ModelDir holds *.onnx voice models with their .onnx.json configs.
	ModelDir string

	// DefaultModel is used when an utterance names no voice.
	DefaultModel string

	// Timeout bounds a single synthesis.
	Timeout time.Duration
}

// Synthesizer runs one piper process per utterance. The text is handed over
// as the process stdin before it starts.
type Synthesizer struct {
	cfg     Config
	command []string
}

// New validates cfg and returns a synthesizer.
func New(cfg Config) (*Synthesizer, error) {
	if cfg.ModelDir == "" {
		return nil, errors.New("piper: model directory is required")
	}
	if info, err := os.Stat(cfg.ModelDir); err != nil {
		return nil, fmt.Errorf("piper: model directory not found: %w", err)
	} else if !info.IsDir() {
		return nil, fmt.Errorf("piper: %s is not a directory", cfg.ModelDir)
	}
	if cfg.Binary == "" {
		cfg.Binary = "piper"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	command, err := shellwords.Parse(cfg.Binary)
	if err != nil {
		return nil, fmt.Errorf("piper: parse command %q: %w", cfg.Binary, err)
	}
	if len(command) == 0 {
		return nil, errors.New("piper: command is empty")
	}
	return &Synthesizer{cfg: cfg, command: command}, nil
}

// Name implements pcm.Synthesizer.
func (s *Synthesizer) Name() string { return "piper" }

// Voices lists the models in the model directory. Voice IDs are model file
// names without the extension.
func (s *Synthesizer) Voices(context.Context) ([]ttypes.Voice, error) {
	matches, err := filepath.Glob(filepath.Join(s.cfg.ModelDir, "*.onnx"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)

	voices := make([]ttypes.Voice, 0, len(matches))
	for _, m := range matches {
		id := strings.TrimSuffix(filepath.Base(m), ".onnx")
		voices = append(voices, ttypes.Voice{
			ID:       id,
			Name:     displayName(id),
			Language: language(id),
			Default:  id == s.cfg.DefaultModel,
		})
	}
	if len(voices) > 0 && s.cfg.DefaultModel == "" {
		voices[0].Default = true
	}
	return voices, nil
}

// Synthesize implements pcm.Synthesizer.
func (s *Synthesizer) Synthesize(ctx context.Context, u speech.Utterance) ([]byte, error) {
	text := strings.TrimSpace(u.Text)
	if text == "" {
		return nil, errors.New("text cannot be empty")
	}
	if len(text) > maxTextSize {
		return nil, fmt.Errorf("text too long: %d characters (max %d)", len(text), maxTextSize)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, s.command[0], slices.Concat(s.command[1:], s.args(u))...)
	cmd.Stdin = strings.NewReader(text)
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = 100 * time.Millisecond

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("synthesis timeout: %w", ctx.Err())
		}
		return nil, fmt.Errorf("piper failed: %w, stderr: %s", err, strings.TrimSpace(stderr.String()))
	}

	pcm := stdout.Bytes()
	if len(pcm) == 0 {
		return nil, fmt.Errorf("piper produced no audio output, stderr: %s", strings.TrimSpace(stderr.String()))
	}
	if len(pcm) > maxAudioSize {
		return nil, fmt.Errorf("piper output too large: %d bytes (max %d)", len(pcm), maxAudioSize)
	}
	if len(pcm)%2 != 0 {
		pcm = pcm[:len(pcm)-1]
	}
	return pcm, nil
}

func (s *Synthesizer) args(u speech.Utterance) []string {
	model := u.VoiceID
	if model == "" {
		model = s.cfg.DefaultModel
	}
	path := filepath.Join(s.cfg.ModelDir, model+".onnx")

	rate := u.Rate
	if rate <= 0 {
		rate = ttypes.DefaultDelivery
	}
	return []string{
		"--model", path,
		"--config", path + ".json",
		"--output-raw",
		"--length-scale", fmt.Sprintf("%.2f", 1/rate),
	}
}

// displayName turns "en_US-amy-medium" into "amy (en_US, medium)".
func displayName(id string) string {
	parts := strings.Split(id, "-")
	if len(parts) != 3 {
		return id
	}
	return fmt.Sprintf("%s (%s, %s)", parts[1], parts[0], parts[2])
}

func language(id string) string {
	lang, _, ok := strings.Cut(id, "-")
	if !ok {
		return ""
	}
	return strings.ReplaceAll(lang, "_", "-")
}
