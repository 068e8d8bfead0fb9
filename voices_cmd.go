package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/chatcast/chatcast/internal/app"
	"github.com/chatcast/chatcast/internal/ttypes"
	runewidth "github.com/mattn/go-runewidth"
	"github.com/sahilm/fuzzy"
	"github.com/spf13/cobra"
)

var (
	voiceFilter string

	voicesCmd = &cobra.Command{
		Use:     "voices",
		Short:   "List the voices of the speech engine",
		Long:    paragraph(fmt.Sprintf("\n%s the voices the configured engine offers. Use the ids in a script's voices section.", keyword("List"))),
		Example: paragraph("chatcast voices\nchatcast voices --filter en_GB\nchatcast voices -e piper"),
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c := cfg
			c.History.Enabled = false
			a, err := app.New(cmd.Context(), c, log.Default())
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			voices, err := a.Voices(true)
			if err != nil {
				return err
			}
			printVoices(os.Stdout, filterVoices(voices, voiceFilter))

			if mem, disk, ok := a.CacheStats(); ok {
				fmt.Println()
				fmt.Println(subtleStyle.Render("memory cache: " + mem.String()))
				fmt.Println(subtleStyle.Render("disk cache:   " + disk.String()))
			}
			return nil
		},
	}
)

// voiceList makes voices searchable by id, name and language.
type voiceList []ttypes.Voice

func (v voiceList) String(i int) string {
	return v[i].ID + " " + v[i].Name + " " + v[i].Language
}

func (v voiceList) Len() int { return len(v) }

// filterVoices keeps voices matching pattern, best match first.
func filterVoices(voices []ttypes.Voice, pattern string) []ttypes.Voice {
	if strings.TrimSpace(pattern) == "" {
		return voices
	}
	matches := fuzzy.FindFrom(pattern, voiceList(voices))
	out := make([]ttypes.Voice, 0, len(matches))
	for _, m := range matches {
		out = append(out, voices[m.Index])
	}
	return out
}

func printVoices(w io.Writer, voices []ttypes.Voice) {
	if len(voices) == 0 {
		fmt.Fprintln(w, subtleStyle.Render("No voices found."))
		return
	}
	idWidth := 0
	for _, v := range voices {
		idWidth = max(idWidth, runewidth.StringWidth(v.ID))
	}
	for _, v := range voices {
		line := runewidth.FillRight(v.ID, idWidth) + "  " + v.Name
		if v.Language != "" {
			line += subtleStyle.Render(" (" + v.Language + ")")
		}
		if v.Default {
			line += " " + keyword("default")
		}
		fmt.Fprintln(w, line)
	}
}
