package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/chatcast/chatcast/internal/config"
)

// setupLog sends logs to stderr until a command decides otherwise.
func setupLog() (func() error, error) {
	log.SetOutput(os.Stderr)
	log.SetLevel(log.WarnLevel)
	log.SetReportTimestamp(false)
	return func() error { return nil }, nil
}

// logToFile redirects logs to the log file while the TUI owns the terminal.
func logToFile() (func() error, error) {
	logFile, err := config.LogPath()
	if err != nil {
		return nil, fmt.Errorf("unable to find log file path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil { //nolint:gosec
		// log disabled
		log.SetOutput(io.Discard)
		return func() error { return nil }, nil //nolint:nilerr
	}
	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644) //nolint:gosec
	if err != nil {
		log.SetOutput(io.Discard)
		return func() error { return nil }, nil //nolint:nilerr
	}
	log.SetOutput(f)
	log.SetReportTimestamp(true)
	return func() error {
		log.SetOutput(os.Stderr)
		return f.Close()
	}, nil
}

// setLogLevel applies the configured level; --debug wins.
func setLogLevel(level string, debug bool) {
	if debug {
		log.SetLevel(log.DebugLevel)
		return
	}
	lvl, err := log.ParseLevel(level)
	if err != nil {
		log.Warn("Unknown log level, using info", "level", level)
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)
}
