package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/chatcast/chatcast/internal/app"
	"github.com/chatcast/chatcast/internal/metrics"
	"github.com/chatcast/chatcast/internal/playback"
	"github.com/chatcast/chatcast/internal/ttypes"
	"github.com/muesli/reflow/wordwrap"
	"github.com/spf13/cobra"
)

var (
	startIndex  int
	resume      bool
	metricsAddr string

	playCmd = &cobra.Command{
		Use:   "play SCRIPT",
		Short: "Play a script without the TUI",
		Long: paragraph(fmt.Sprintf("\n%s a script from start to finish, printing each line as it is spoken. Press ctrl+c to stop.",
			keyword("Play"))),
		Example: paragraph("chatcast play episode.yaml\nchatcast play episode.yaml --start 12\nchatcast play episode.yaml --resume"),
		Args:    cobra.ExactArgs(1),
		ValidArgsFunction: func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
			return scriptExtensions, cobra.ShellCompDirectiveFilterFileExt
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlay(cmd.Context(), args[0], os.Stdout)
		},
	}
)

// runPlay plays path once through and returns when the session ends or
// the process is interrupted.
func runPlay(ctx context.Context, path string, w io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log.Default())
	if err != nil {
		return err
	}
	defer a.Close() //nolint:errcheck

	s, missing, err := a.Load(path)
	if err != nil {
		return err
	}

	start := startIndex - 1
	if resume && !playCmd.Flags().Changed("start") {
		if idx, ok := a.ResumeIndex(ctx); ok {
			log.Info("Resuming", "line", idx+1)
			start = idx
		}
	}
	if start < 0 || start >= len(s.Segments) {
		return fmt.Errorf("--start %d out of range: script has %d lines", start+1, len(s.Segments))
	}

	if addr := cfg.Metrics.Addr; addr != "" {
		go func() {
			if err := metrics.Serve(ctx, addr); err != nil {
				log.Error("Metrics server failed", "addr", addr, "err", err)
			}
		}()
	}

	printHeader(w, s, a.EngineName(), missing)
	if err := a.Owner().Play(ctx, start); err != nil {
		return err
	}
	return follow(ctx, a, s, w)
}

// follow prints lines as they start until the session finishes. An
// interrupt stops playback and waits for teardown.
func follow(ctx context.Context, a *app.App, s ttypes.Script, w io.Writer) error {
	var lastErr string
	for {
		select {
		case ev := <-a.Events():
			switch ev.Kind {
			case playback.EventSegmentStart:
				printSegment(w, s, ev.Index)
			case playback.EventError:
				lastErr = ev.Message
			case playback.EventFinish:
				if lastErr != "" {
					return errors.New(lastErr)
				}
				fmt.Fprintln(w, subtleStyle.Render("\nDone."))
				return nil
			}

		case <-ctx.Done():
			stopCtx, cancel := context.WithTimeout(context.Background(), 2*cfg.Playback.StopTimeout)
			defer cancel()
			if err := a.Owner().Stop(stopCtx); err != nil && !errors.Is(err, playback.ErrBusy) {
				return err
			}
			fmt.Fprintln(w, subtleStyle.Render("\nStopped."))
			return nil
		}
	}
}

func printHeader(w io.Writer, s ttypes.Script, engine string, missing []string) {
	fmt.Fprintln(w, titleStyle.Render(s.Title))
	fmt.Fprintln(w, subtleStyle.Render(fmt.Sprintf("%d lines · %s", len(s.Segments), engine)))
	for _, speaker := range missing {
		fmt.Fprintln(w, errorStyle.Render(fmt.Sprintf("no voice for %s, their lines are skipped", speaker)))
	}
	fmt.Fprintln(w)
}

func printSegment(w io.Writer, s ttypes.Script, i int) {
	if i < 0 || i >= len(s.Segments) {
		return
	}
	seg := s.Segments[i]
	name := seg.Speaker
	if v, ok := s.Voices.Lookup(seg.Speaker); ok && v.Name != "" {
		name = v.Name
	}
	prefix := indexStyle.Render(fmt.Sprintf("%3d ", i+1)) + speakerStyle.Render(name) + " "
	text := wordwrap.String(seg.Text(), max(20, int(width)-lipgloss.Width(prefix))) //nolint:gosec
	fmt.Fprintln(w, prefix+indentAfterFirst(text, lipgloss.Width(prefix)))
}

// indentAfterFirst pads every line but the first by n spaces.
func indentAfterFirst(s string, n int) string {
	return strings.ReplaceAll(s, "\n", "\n"+strings.Repeat(" ", n))
}
