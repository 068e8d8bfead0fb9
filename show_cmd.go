package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/glamour/styles"
	"github.com/charmbracelet/lipgloss"
	"github.com/chatcast/chatcast/internal/script"
	"github.com/chatcast/chatcast/internal/ttypes"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var showCmd = &cobra.Command{
	Use:     "show SCRIPT",
	Short:   "Render a script as markdown",
	Long:    paragraph(fmt.Sprintf("\n%s a script with its speakers and voices, without playing it.", keyword("Render"))),
	Example: paragraph("chatcast show episode.yaml\nchatcast show project.json | less -r"),
	Args:    cobra.ExactArgs(1),
	ValidArgsFunction: func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return scriptExtensions, cobra.ShellCompDirectiveFilterFileExt
	},
	RunE: func(_ *cobra.Command, args []string) error {
		s, _, err := script.Load(args[0])
		if err != nil {
			return err
		}
		return renderScript(os.Stdout, script.WithDefaults(s, cfg.Voices), term.IsTerminal(int(os.Stdout.Fd())))
	},
}

func renderScript(w io.Writer, s ttypes.Script, isTerminal bool) error {
	style := glamour.WithAutoStyle()
	if !isTerminal {
		style = glamour.WithStandardStyle(styles.NoTTYStyle)
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithColorProfile(lipgloss.ColorProfile()),
		style,
		glamour.WithWordWrap(int(width)), //nolint:gosec
		glamour.WithPreservedNewLines(),
	)
	if err != nil {
		return fmt.Errorf("unable to create renderer: %w", err)
	}

	out, err := r.Render(scriptMarkdown(s))
	if err != nil {
		return fmt.Errorf("unable to render markdown: %w", err)
	}
	if _, err = fmt.Fprint(w, out); err != nil {
		return fmt.Errorf("unable to write to writer: %w", err)
	}
	return nil
}

// scriptMarkdown lays a script out as a markdown document: a voice table
// followed by one quoted paragraph per line.
func scriptMarkdown(s ttypes.Script) string {
	var b strings.Builder
	if s.Title != "" {
		fmt.Fprintf(&b, "# %s\n\n", s.Title)
	}

	speakers := s.Speakers()
	sort.Strings(speakers)
	b.WriteString("| Speaker | Voice |\n|---|---|\n")
	for _, speaker := range speakers {
		voice := "_none, skipped_"
		if v, ok := s.Voices.Lookup(speaker); ok {
			voice = "`" + v.VoiceID + "`"
			if v.Name != "" {
				voice = v.Name + " " + voice
			}
		}
		fmt.Fprintf(&b, "| %s | %s |\n", escapeCell(speaker), voice)
	}
	b.WriteString("\n")

	for i, seg := range s.Segments {
		fmt.Fprintf(&b, "**%d. %s**\n\n", i+1, seg.Speaker)
		text := strings.TrimSpace(seg.Text())
		if text == "" {
			b.WriteString("> _(silent)_\n\n")
			continue
		}
		b.WriteString("> " + strings.ReplaceAll(text, "\n", "\n> ") + "\n\n")
	}
	return b.String()
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
