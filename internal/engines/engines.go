// Package engines builds the configured speech engine.
package engines

import (
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chatcast/chatcast/internal/audio"
	"github.com/chatcast/chatcast/internal/cache"
	"github.com/chatcast/chatcast/internal/config"
	"github.com/chatcast/chatcast/internal/engines/elevenlabs"
	"github.com/chatcast/chatcast/internal/engines/mock"
	"github.com/chatcast/chatcast/internal/engines/pcm"
	"github.com/chatcast/chatcast/internal/engines/piper"
	"github.com/chatcast/chatcast/internal/engines/system"
	"github.com/chatcast/chatcast/internal/speech"
)

// OutputFunc opens an audio output for the given format.
type OutputFunc func(audio.PlayerConfig) (audio.Output, error)

// Set is a built engine and the cache it renders into, if any.
type Set struct {
	Engine speech.Engine
	Cache  *cache.Manager
}

// Close releases the engine's resources.
func (s *Set) Close() error {
	if c, ok := s.Engine.(speech.Closer); ok {
		return c.Close()
	}
	return nil
}

// Option configures Build.
type Option func(*options)

type options struct {
	output OutputFunc
}

// WithOutput replaces the audio device, for tests and headless runs.
func WithOutput(fn OutputFunc) Option {
	return func(o *options) { o.output = fn }
}

func openDevice(format audio.PlayerConfig) (audio.Output, error) {
	return audio.NewPlayer(format)
}

// Build constructs the engine named by cfg.Engine.
func Build(cfg config.Config, logger *log.Logger, opts ...Option) (*Set, error) {
	if logger == nil {
		logger = log.Default()
	}
	o := options{output: openDevice}
	for _, opt := range opts {
		opt(&o)
	}

	switch cfg.Engine {
	case config.EngineMock:
		return &Set{Engine: mock.New(mock.WithPause(true), mock.WithWordDuration(250*time.Millisecond))}, nil

	case config.EngineSystem:
		e, err := system.New(system.Config{
			Command:        system.Command(cfg.System.Command),
			Binary:         cfg.System.Binary,
			WordsPerMinute: cfg.System.WordsPerMinute,
		}, logger)
		if err != nil {
			return nil, err
		}
		return &Set{Engine: e}, nil

	case config.EnginePiper:
		synth, err := piper.New(piper.Config{
			Binary:       cfg.Piper.Binary,
			ModelDir:     cfg.Piper.ModelDir,
			DefaultModel: cfg.Piper.Model,
			Timeout:      cfg.Piper.Timeout,
		})
		if err != nil {
			return nil, err
		}
		return buildPCM(cfg, synth, piper.SampleRate, 3, o, logger)

	case config.EngineElevenLabs:
		synth, err := elevenlabs.New(elevenlabs.Config{
			APIKey:            cfg.ElevenLabs.APIKey,
			BaseURL:           cfg.ElevenLabs.BaseURL,
			Model:             cfg.ElevenLabs.Model,
			SampleRate:        cfg.ElevenLabs.SampleRate,
			Stability:         cfg.ElevenLabs.Stability,
			SimilarityBoost:   cfg.ElevenLabs.SimilarityBoost,
			RequestsPerMinute: cfg.ElevenLabs.RequestsPerMinute,
			Timeout:           cfg.ElevenLabs.Timeout,
		})
		if err != nil {
			return nil, err
		}
		return buildPCM(cfg, synth, synth.SampleRate(), elevenlabs.MaxSpeed, o, logger)
	}
	return nil, fmt.Errorf("unknown engine %q", cfg.Engine)
}

func buildPCM(cfg config.Config, synth pcm.Synthesizer, sampleRate int, maxRate float64, o options, logger *log.Logger) (*Set, error) {
	format := audio.DefaultPlayerConfig()
	format.SampleRate = sampleRate
	if cfg.Audio.BufferSize > 0 {
		format.BufferSize = cfg.Audio.BufferSize
	}

	var mgr *cache.Manager
	if cfg.Cache.Enabled {
		var err error
		mgr, err = cache.NewManager(cache.Config{
			MemoryCapacity:   int64(cfg.Cache.MemoryMB) << 20,
			DiskCapacity:     int64(cfg.Cache.DiskMB) << 20,
			DiskPath:         cfg.Cache.Dir,
			CompressionLevel: cfg.Cache.Compression,
			TTL:              cfg.Cache.TTL,
			CleanupInterval:  time.Hour,
		}, logger)
		if err != nil {
			return nil, err
		}
	}

	out, err := o.output(format)
	if err != nil {
		if mgr != nil {
			_ = mgr.Close()
		}
		return nil, speech.NewError(speech.CodeEngineUnavailable, "audio output unavailable", err)
	}

	e, err := pcm.New(synth, pcm.Options{
		Output:  out,
		Format:  format,
		Cache:   mgr,
		Workers: cfg.Audio.Workers,
		MaxRate: maxRate,
	}, logger)
	if err != nil {
		_ = out.Close()
		if mgr != nil {
			_ = mgr.Close()
		}
		return nil, err
	}
	return &Set{Engine: e, Cache: mgr}, nil
}
