// Package main provides the entry point for the chatcast CLI application.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"github.com/charmbracelet/log"
	"github.com/chatcast/chatcast/internal/app"
	"github.com/chatcast/chatcast/internal/config"
	"github.com/chatcast/chatcast/ui"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	scriptExtensions = []string{"yaml", "yml", "json"}

	configFile        string
	defaultConfigPath string
	engineName        string
	mouse             bool
	width             uint

	// cfg is loaded before any command runs.
	cfg config.Config

	rootCmd = &cobra.Command{
		Use:   "chatcast [SCRIPT]",
		Short: "Listen to chat logs as a podcast",
		Long: paragraph(
			fmt.Sprintf("\nPlay a podcast %s generated from a chat log, one voice per speaker.", keyword("script")),
		),
		SilenceErrors:    false,
		SilenceUsage:     true,
		TraverseChildren: true,
		Args:             cobra.MaximumNArgs(1),
		ValidArgsFunction: func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
			return scriptExtensions, cobra.ShellCompDirectiveFilterFileExt
		},
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return validateOptions(cmd)
		},
		RunE: execute,
	}
)

func validateOptions(cmd *cobra.Command) error {
	if cmd.Flags().Changed("config") {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("unable to read config file: %w", err)
		}
	}

	var err error
	cfg, err = config.Load(viper.GetViper())
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	setLogLevel(cfg.LogLevel, viper.GetBool("debug"))

	isTerminal := term.IsTerminal(int(os.Stdout.Fd()))

	// Detect terminal width
	if !cmd.Flags().Changed("width") {
		if isTerminal && width == 0 {
			w, _, err := term.GetSize(int(os.Stdout.Fd()))
			if err == nil {
				width = uint(w) //nolint:gosec
			}

			if width > 120 {
				width = 120
			}
		}
		if width == 0 {
			width = 80
		}
	}
	return nil
}

func execute(cmd *cobra.Command, args []string) error {
	var path string
	if len(args) == 1 {
		path = args[0]
	}

	// Without a terminal there is nothing to drive a TUI; play straight
	// through instead.
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		if path == "" {
			return errors.New("missing script")
		}
		return runPlay(cmd.Context(), path, os.Stdout)
	}
	return runTUI(cmd.Context(), path)
}

func runTUI(ctx context.Context, path string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// Read environment to get debugging stuff
	uiCfg, err := env.ParseAs[ui.Config]()
	if err != nil {
		return fmt.Errorf("error parsing config: %v", err)
	}

	closer, err := logToFile()
	if err != nil {
		return err
	}
	defer closer() //nolint:errcheck

	a, err := app.New(ctx, cfg, log.Default())
	if err != nil {
		return err
	}
	defer a.Close() //nolint:errcheck

	if path == "" {
		if path, err = lastPlayed(ctx, a); err != nil {
			return err
		}
	}
	if _, _, err := a.Load(path); err != nil {
		return err
	}

	uiCfg.Path = a.Path()
	uiCfg.EnableMouse = uiCfg.EnableMouse || mouse
	if width > 0 {
		uiCfg.MaxWidth = int(width) //nolint:gosec
	}
	if c, ok := a.ResumeIndex(ctx); ok {
		uiCfg.StartIndex = c
	}

	// Run Bubble Tea program
	if _, err := ui.NewProgram(uiCfg, a).Run(); err != nil {
		return fmt.Errorf("unable to run tui program: %w", err)
	}

	return nil
}

// lastPlayed returns the most recently played script that still exists.
func lastPlayed(ctx context.Context, a *app.App) (string, error) {
	recent, err := a.Recent(ctx, 10)
	if err != nil {
		return "", err
	}
	for _, p := range recent {
		if _, err := os.Stat(p.Key); err == nil {
			log.Debug("Reopening last script", "path", p.Key)
			return p.Key, nil
		}
	}
	return "", errors.New("missing script: nothing has been played yet")
}

func main() {
	closer, err := setupLog()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	if err := rootCmd.Execute(); err != nil {
		_ = closer()
		os.Exit(1)
	}
	_ = closer()
}

func init() {
	tryLoadConfigFromDefaultPlaces()
	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version
	rootCmd.InitDefaultCompletionCmd()

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", fmt.Sprintf("config file (default %s)", defaultConfigPath))
	rootCmd.PersistentFlags().StringVarP(&engineName, "engine", "e", "", "speech engine (system, piper, elevenlabs, mock)")
	rootCmd.PersistentFlags().Bool("debug", false, "log debug messages")
	rootCmd.PersistentFlags().UintVarP(&width, "width", "w", 0, "word-wrap at width (set to 0 to detect)")
	rootCmd.Flags().BoolVarP(&mouse, "mouse", "m", false, "enable mouse wheel (TUI-mode only)")
	_ = rootCmd.Flags().MarkHidden("mouse")

	playCmd.Flags().IntVar(&startIndex, "start", 1, "line to start from (1-based)")
	playCmd.Flags().BoolVar(&resume, "resume", false, "continue where this script last stopped")
	playCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	voicesCmd.Flags().StringVarP(&voiceFilter, "filter", "f", "", "fuzzy filter on id, name and language")
	historyCmd.Flags().StringVar(&forgetScript, "forget", "", "forget the position recorded for a script")

	// Config bindings
	_ = viper.BindPFlag("engine", rootCmd.PersistentFlags().Lookup("engine"))
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	_ = viper.BindPFlag("metrics.addr", playCmd.Flags().Lookup("metrics-addr"))

	rootCmd.AddCommand(playCmd, voicesCmd, showCmd, historyCmd, configCmd, manCmd)
}

func tryLoadConfigFromDefaultPlaces() {
	if wd, err := os.Getwd(); err == nil {
		if err := config.LoadDotEnv(wd); err != nil {
			log.Warn("Could not load .env file", "err", err)
		}
	}

	dirs, err := config.SearchDirs()
	if err != nil {
		fmt.Println("Could not load find configuration directory.")
		os.Exit(1)
	}

	for _, v := range dirs {
		viper.AddConfigPath(v)
	}

	viper.SetConfigName(config.AppName)
	viper.SetConfigType("yaml")
	config.SetDefaults(viper.GetViper())
	config.BindEnv(viper.GetViper())

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Warn("Could not parse configuration file", "err", err)
		}
	}

	if used := viper.ConfigFileUsed(); used != "" {
		log.Debug("Using configuration file", "path", used)
		defaultConfigPath = used
		return
	}

	defaultConfigPath = filepath.Join(dirs[0], config.AppName+".yml")
}
