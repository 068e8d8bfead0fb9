// Package config holds chatcast's settings as read from the config file,
// the environment and .env files.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chatcast/chatcast/internal/speech"
	"github.com/chatcast/chatcast/internal/ttypes"
	"github.com/joho/godotenv"
	"github.com/mitchellh/go-homedir"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/viper"
)

// AppName scopes config, data and cache directories.
const AppName = "chatcast"

// Engine names accepted by the engine setting.
const (
	EngineSystem     = "system"
	EnginePiper      = "piper"
	EngineElevenLabs = "elevenlabs"
	EngineMock       = "mock"
)

// Config is the full application configuration.
type Config struct {
	// Engine selects the speech engine.
	Engine string `mapstructure:"engine"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `mapstructure:"log_level"`

	Playback   PlaybackConfig   `mapstructure:"playback"`
	Piper      PiperConfig      `mapstructure:"piper"`
	ElevenLabs ElevenLabsConfig `mapstructure:"elevenlabs"`
	System     SystemConfig     `mapstructure:"system"`
	Audio      AudioConfig      `mapstructure:"audio"`
	Cache      CacheConfig      `mapstructure:"cache"`
	History    HistoryConfig    `mapstructure:"history"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`

	// Voices are default voices per speaker. Scripts override them.
	// Keys are matched case-insensitively.
	Voices ttypes.VoiceMapping `mapstructure:"voices"`
}

// PlaybackConfig tunes the player and speech adapter.
type PlaybackConfig struct {
	// OnError is "stop" to end playback on a failed line or "skip" to move on.
	OnError        string        `mapstructure:"on_error"`
	StopTimeout    time.Duration `mapstructure:"stop_timeout"`
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	Lookahead      int           `mapstructure:"lookahead"`
	AckTimeout     time.Duration `mapstructure:"ack_timeout"`
	HangTimeout    time.Duration `mapstructure:"hang_timeout"`
	WordsPerMinute int           `mapstructure:"words_per_minute"`
	StripMarkdown  bool          `mapstructure:"strip_markdown"`
}

// PiperConfig configures the Piper synthesizer.
type PiperConfig struct {
	Binary   string        `mapstructure:"binary"`
	ModelDir string        `mapstructure:"model_dir"`
	Model    string        `mapstructure:"model"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// ElevenLabsConfig configures the ElevenLabs client.
type ElevenLabsConfig struct {
	APIKey            string        `mapstructure:"api_key"`
	BaseURL           string        `mapstructure:"base_url"`
	Model             string        `mapstructure:"model"`
	SampleRate        int           `mapstructure:"sample_rate"`
	Stability         float64       `mapstructure:"stability"`
	SimilarityBoost   float64       `mapstructure:"similarity_boost"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
	Timeout           time.Duration `mapstructure:"timeout"`
}

// SystemConfig configures the OS speech program.
type SystemConfig struct {
	// Command is say, espeak-ng or espeak. Empty detects one.
	Command        string `mapstructure:"command"`
	Binary         string `mapstructure:"binary"`
	WordsPerMinute int    `mapstructure:"words_per_minute"`
}

// AudioConfig configures the PCM output used by synthesizing engines.
type AudioConfig struct {
	BufferSize int `mapstructure:"buffer_size"`
	Workers    int `mapstructure:"workers"`
}

// CacheConfig configures the synthesized clip cache.
type CacheConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Dir         string        `mapstructure:"dir"`
	MemoryMB    int           `mapstructure:"memory_mb"`
	DiskMB      int           `mapstructure:"disk_mb"`
	Compression int           `mapstructure:"compression"`
	TTL         time.Duration `mapstructure:"ttl"`
}

// HistoryConfig configures the playback position store.
type HistoryConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Path    string        `mapstructure:"path"`
	MaxAge  time.Duration `mapstructure:"max_age"`
}

// MetricsConfig configures the Prometheus endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Engine:   EngineSystem,
		LogLevel: "info",
		Playback: PlaybackConfig{
			OnError:        "stop",
			StopTimeout:    2 * time.Second,
			PingInterval:   speech.DefaultPingInterval,
			Lookahead:      2,
			AckTimeout:     500 * time.Millisecond,
			HangTimeout:    10 * time.Second,
			WordsPerMinute: 150,
		},
		Piper: PiperConfig{
			Binary:  "piper",
			Timeout: 30 * time.Second,
		},
		ElevenLabs: ElevenLabsConfig{
			BaseURL:           "https://api.elevenlabs.io/v1",
			Model:             "eleven_multilingual_v2",
			SampleRate:        22050,
			Stability:         0.5,
			SimilarityBoost:   0.75,
			RequestsPerMinute: 120,
			Timeout:           30 * time.Second,
		},
		System: SystemConfig{
			WordsPerMinute: 175,
		},
		Audio: AudioConfig{
			BufferSize: 4096,
			Workers:    2,
		},
		Cache: CacheConfig{
			Enabled:     true,
			MemoryMB:    64,
			DiskMB:      512,
			Compression: 3,
			TTL:         7 * 24 * time.Hour,
		},
		History: HistoryConfig{
			Enabled: true,
			MaxAge:  90 * 24 * time.Hour,
		},
	}
}

// SetDefaults registers every default with v so environment variables can
// override keys that are absent from the config file.
func SetDefaults(v *viper.Viper) {
	d := Default()
	defaults := map[string]any{
		"engine":    d.Engine,
		"log_level": d.LogLevel,

		"playback.on_error":         d.Playback.OnError,
		"playback.stop_timeout":     d.Playback.StopTimeout,
		"playback.ping_interval":    d.Playback.PingInterval,
		"playback.lookahead":        d.Playback.Lookahead,
		"playback.ack_timeout":      d.Playback.AckTimeout,
		"playback.hang_timeout":     d.Playback.HangTimeout,
		"playback.words_per_minute": d.Playback.WordsPerMinute,
		"playback.strip_markdown":   d.Playback.StripMarkdown,

		"piper.binary":    d.Piper.Binary,
		"piper.model_dir": d.Piper.ModelDir,
		"piper.model":     d.Piper.Model,
		"piper.timeout":   d.Piper.Timeout,

		"elevenlabs.api_key":             d.ElevenLabs.APIKey,
		"elevenlabs.base_url":            d.ElevenLabs.BaseURL,
		"elevenlabs.model":               d.ElevenLabs.Model,
		"elevenlabs.sample_rate":         d.ElevenLabs.SampleRate,
		"elevenlabs.stability":           d.ElevenLabs.Stability,
		"elevenlabs.similarity_boost":    d.ElevenLabs.SimilarityBoost,
		"elevenlabs.requests_per_minute": d.ElevenLabs.RequestsPerMinute,
		"elevenlabs.timeout":             d.ElevenLabs.Timeout,

		"system.command":          d.System.Command,
		"system.binary":           d.System.Binary,
		"system.words_per_minute": d.System.WordsPerMinute,

		"audio.buffer_size": d.Audio.BufferSize,
		"audio.workers":     d.Audio.Workers,

		"cache.enabled":     d.Cache.Enabled,
		"cache.dir":         d.Cache.Dir,
		"cache.memory_mb":   d.Cache.MemoryMB,
		"cache.disk_mb":     d.Cache.DiskMB,
		"cache.compression": d.Cache.Compression,
		"cache.ttl":         d.Cache.TTL,

		"history.enabled": d.History.Enabled,
		"history.path":    d.History.Path,
		"history.max_age": d.History.MaxAge,

		"metrics.addr": d.Metrics.Addr,
	}
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
}

// BindEnv makes CHATCAST_PIPER_MODEL_DIR and friends override nested keys.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(AppName)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load decodes v into a Config, fills derived paths and validates the result.
func Load(v *viper.Viper) (Config, error) {
	cfg := Default()
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.ElevenLabs.APIKey == "" {
		cfg.ElevenLabs.APIKey = os.Getenv("ELEVENLABS_API_KEY")
	}

	var err error
	if cfg.Piper.ModelDir, err = expand(cfg.Piper.ModelDir); err != nil {
		return cfg, err
	}
	if cfg.Cache.Dir, err = expand(cfg.Cache.Dir); err != nil {
		return cfg, err
	}
	if cfg.History.Path, err = expand(cfg.History.Path); err != nil {
		return cfg, err
	}
	if cfg.Cache.Dir == "" {
		if cfg.Cache.Dir, err = CacheDir(); err != nil {
			return cfg, err
		}
	}
	if cfg.History.Path == "" {
		if cfg.History.Path, err = DataPath("history.db"); err != nil {
			return cfg, err
		}
	}

	return cfg, cfg.Validate()
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	switch c.Engine {
	case EngineSystem, EnginePiper, EngineElevenLabs, EngineMock:
	default:
		errs = append(errs, fmt.Errorf("engine: unknown engine %q", c.Engine))
	}
	switch strings.ToLower(c.Playback.OnError) {
	case "stop", "skip":
	default:
		errs = append(errs, fmt.Errorf("playback.on_error: must be stop or skip, got %q", c.Playback.OnError))
	}
	if c.Playback.StopTimeout <= 0 {
		errs = append(errs, errors.New("playback.stop_timeout: must be positive"))
	}
	if c.Playback.PingInterval < 0 {
		errs = append(errs, errors.New("playback.ping_interval: must not be negative"))
	}
	if c.Playback.Lookahead < 0 {
		errs = append(errs, errors.New("playback.lookahead: must not be negative"))
	}
	if c.Engine == EnginePiper && c.Piper.ModelDir == "" {
		errs = append(errs, errors.New("piper.model_dir: required for the piper engine"))
	}
	if c.Engine == EngineElevenLabs && c.ElevenLabs.APIKey == "" {
		errs = append(errs, errors.New("elevenlabs.api_key: required for the elevenlabs engine (or set ELEVENLABS_API_KEY)"))
	}
	if c.Cache.Compression < 0 || c.Cache.Compression > 22 {
		errs = append(errs, fmt.Errorf("cache.compression: level %d out of range [0, 22]", c.Cache.Compression))
	}
	if c.Cache.MemoryMB < 0 || c.Cache.DiskMB < 0 {
		errs = append(errs, errors.New("cache: sizes must not be negative"))
	}
	for speaker, voice := range c.Voices {
		if strings.TrimSpace(voice.VoiceID) == "" {
			errs = append(errs, fmt.Errorf("voices.%s: voice is required", speaker))
		}
	}
	return errors.Join(errs...)
}

// Policy returns the adapter policy for OnError.
func (c Config) Policy() speech.Policy {
	return speech.ParsePolicy(c.Playback.OnError)
}

// LoadDotEnv loads .env.local then .env from dir. Variables already set in
// the environment are kept. Missing files are ignored.
func LoadDotEnv(dir string) error {
	for _, name := range []string{".env.local", ".env"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("loading %s: %w", path, err)
		}
	}
	return nil
}

// SearchDirs returns the directories searched for chatcast.yml, highest
// priority first.
func SearchDirs() ([]string, error) {
	dirs, err := gap.NewScope(gap.User, AppName).ConfigDirs()
	if err != nil {
		return nil, fmt.Errorf("could not find configuration directory: %w", err)
	}
	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, AppName)}, dirs...)
	}
	if c := os.Getenv("CHATCAST_CONFIG_HOME"); c != "" {
		dirs = append([]string{c}, dirs...)
	}
	return dirs, nil
}

// DataPath returns a file path under the user's data directory.
func DataPath(name string) (string, error) {
	return gap.NewScope(gap.User, AppName).DataPath(name)
}

// CacheDir returns the user's cache directory for synthesized audio.
func CacheDir() (string, error) {
	dir, err := gap.NewScope(gap.User, AppName).CacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "audio"), nil
}

// LogPath returns the log file used while the TUI owns the terminal.
func LogPath() (string, error) {
	return gap.NewScope(gap.User, AppName).LogPath(AppName + ".log")
}

func expand(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	p, err := homedir.Expand(path)
	if err != nil {
		return "", fmt.Errorf("expanding %s: %w", path, err)
	}
	return p, nil
}
