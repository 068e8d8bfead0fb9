// Package app wires configuration, the speech engine, the player and the
// position history into one playback owner shared by the TUI and the
// headless play command.
package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/chatcast/chatcast/internal/cache"
	"github.com/chatcast/chatcast/internal/config"
	"github.com/chatcast/chatcast/internal/engines"
	"github.com/chatcast/chatcast/internal/history"
	"github.com/chatcast/chatcast/internal/playback"
	"github.com/chatcast/chatcast/internal/script"
	"github.com/chatcast/chatcast/internal/speech"
	"github.com/chatcast/chatcast/internal/ttypes"
)

const eventBuffer = 256

// App owns every long-lived playback resource.
type App struct {
	cfg     config.Config
	set     *engines.Set
	player  *playback.Player
	owner   *playback.Owner
	history *history.Store
	events  chan playback.Event
	logger  *log.Logger

	mu     sync.Mutex
	path   string
	script ttypes.Script
}

// Option configures New.
type Option func(*options)

type options struct {
	engine speech.Engine
	build  []engines.Option
}

// WithEngine uses e instead of building the configured engine.
func WithEngine(e speech.Engine) Option {
	return func(o *options) { o.engine = e }
}

// WithOutput replaces the audio device used by synthesizing engines.
func WithOutput(fn engines.OutputFunc) Option {
	return func(o *options) { o.build = append(o.build, engines.WithOutput(fn)) }
}

// New builds the engine and player described by cfg. History is opened
// when enabled; failing to open it only disables resume.
func New(ctx context.Context, cfg config.Config, logger *log.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = log.Default()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	set := &engines.Set{Engine: o.engine}
	if set.Engine == nil {
		var err error
		if set, err = engines.Build(cfg, logger, o.build...); err != nil {
			return nil, fmt.Errorf("starting %s engine: %w", cfg.Engine, err)
		}
	}

	adapter := speech.NewAdapter(set.Engine, speech.AdapterConfig{
		AckTimeout:     cfg.Playback.AckTimeout,
		HangTimeout:    cfg.Playback.HangTimeout,
		WordsPerMinute: cfg.Playback.WordsPerMinute,
		Policy:         cfg.Policy(),
	}, logger)
	player := playback.NewPlayer(adapter, playback.Config{
		StopTimeout:   cfg.Playback.StopTimeout,
		PingInterval:  cfg.Playback.PingInterval,
		Lookahead:     cfg.Playback.Lookahead,
		Policy:        cfg.Policy(),
		StripMarkdown: cfg.Playback.StripMarkdown,
	}, logger)

	a := &App{
		cfg:    cfg,
		set:    set,
		player: player,
		events: make(chan playback.Event, eventBuffer),
		logger: logger.WithPrefix("app"),
	}

	ownerOpts := []playback.OwnerOption{playback.WithListener(a.publish)}
	if cfg.History.Enabled {
		store, err := history.Open(ctx, cfg.History.Path, logger)
		if err != nil {
			a.logger.Warn("History unavailable, resume disabled", "path", cfg.History.Path, "err", err)
		} else {
			a.history = store
			if cfg.History.MaxAge > 0 {
				if _, err := store.Prune(ctx, cfg.History.MaxAge); err != nil {
					a.logger.Warn("Could not prune history", "err", err)
				}
			}
			ownerOpts = append(ownerOpts, playback.WithPositions(store))
		}
	}
	a.owner = playback.NewOwner(player, logger, ownerOpts...)
	return a, nil
}

// publish forwards owner events without blocking the playback goroutine.
// When the buffer is full, finish and error events evict the oldest event
// instead of being dropped.
func (a *App) publish(ev playback.Event) {
	for {
		select {
		case a.events <- ev:
			return
		default:
		}
		if !terminal(ev.Kind) {
			a.logger.Warn("Dropping playback event", "kind", ev.Kind, "index", ev.Index)
			return
		}
		select {
		case old := <-a.events:
			a.logger.Warn("Dropping playback event", "kind", old.Kind, "index", old.Index)
		default:
		}
	}
}

func terminal(kind playback.EventKind) bool {
	return kind == playback.EventFinish || kind == playback.EventError
}

// Events delivers playback events in order.
func (a *App) Events() <-chan playback.Event {
	return a.events
}

// Owner returns the playback owner.
func (a *App) Owner() *playback.Owner {
	return a.owner
}

// Config returns the configuration the app was built with.
func (a *App) Config() config.Config {
	return a.cfg
}

// Load reads, validates and installs the script at path. It returns the
// speakers that still have no voice after config defaults are applied;
// their lines are skipped.
func (a *App) Load(path string) (ttypes.Script, []string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return ttypes.Script{}, nil, err
	}
	s, format, err := script.Load(abs)
	if err != nil {
		return ttypes.Script{}, nil, err
	}
	if err := script.Validate(s); err != nil {
		return ttypes.Script{}, nil, fmt.Errorf("%s: %w", path, err)
	}
	a.logger.Debug("Loaded script", "path", abs, "format", format, "segments", len(s.Segments))
	return a.install(abs, s)
}

// Reload installs an edited version of the current script. Running sessions
// keep the script they started with.
func (a *App) Reload(s ttypes.Script) ([]string, error) {
	if err := script.Validate(s); err != nil {
		return nil, err
	}
	a.mu.Lock()
	path := a.path
	a.mu.Unlock()
	_, missing, err := a.install(path, s)
	return missing, err
}

func (a *App) install(path string, s ttypes.Script) (ttypes.Script, []string, error) {
	s = script.WithDefaults(s, a.cfg.Voices)
	missing := script.MissingVoices(s)
	for _, speaker := range missing {
		a.logger.Warn("No voice for speaker, lines will be skipped", "speaker", speaker)
	}
	a.mu.Lock()
	a.path, a.script = path, s
	a.mu.Unlock()
	a.owner.SetScript(path, s)
	return s, missing, nil
}

// Path returns the absolute path of the loaded script.
func (a *App) Path() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.path
}

// ResumeIndex returns where the loaded script was last playing. ok is false
// when there is no usable record.
func (a *App) ResumeIndex(ctx context.Context) (int, bool) {
	if a.history == nil {
		return 0, false
	}
	a.mu.Lock()
	path, n := a.path, len(a.script.Segments)
	a.mu.Unlock()

	p, err := a.history.LoadPosition(ctx, path)
	if err != nil {
		if !errors.Is(err, history.ErrNotFound) {
			a.logger.Warn("Could not read history", "err", err)
		}
		return 0, false
	}
	return history.ResumeIndex(p, n), true
}

// Recent lists recently played scripts, most recent first.
func (a *App) Recent(ctx context.Context, limit int) ([]history.Position, error) {
	if a.history == nil {
		return nil, nil
	}
	return a.history.Recent(ctx, limit)
}

// Voices lists the engine's voices. refresh bypasses the adapter's cache.
func (a *App) Voices(refresh bool) ([]ttypes.Voice, error) {
	if refresh {
		return a.player.Adapter().RefreshVoices()
	}
	return a.player.Adapter().Voices()
}

// EngineName names the active engine.
func (a *App) EngineName() string {
	return a.player.Adapter().Capabilities().Name
}

// CacheStats reports the audio cache tiers. ok is false when the engine
// does not cache.
func (a *App) CacheStats() (memory, disk cache.Stats, ok bool) {
	if a.set.Cache == nil {
		return cache.Stats{}, cache.Stats{}, false
	}
	memory, disk = a.set.Cache.Stats()
	return memory, disk, true
}

// Close stops playback and releases the engine and history.
func (a *App) Close() error {
	err := a.player.Close()
	if a.history != nil {
		err = errors.Join(err, a.history.Close())
	}
	return err
}
