package main

import (
	"fmt"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/chatcast/chatcast/internal/history"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	forgetScript string

	historyCmd = &cobra.Command{
		Use:     "history",
		Short:   "Show where recent scripts stopped",
		Long:    paragraph(fmt.Sprintf("\n%s the scripts played recently and the line each one reached. play --resume continues from there.", keyword("List"))),
		Example: paragraph("chatcast history\nchatcast history --forget episode.yaml"),
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := history.Open(cmd.Context(), cfg.History.Path, log.Default())
			if err != nil {
				return err
			}
			defer store.Close() //nolint:errcheck

			if forgetScript != "" {
				abs, err := filepath.Abs(forgetScript)
				if err != nil {
					return err
				}
				if err := store.Forget(cmd.Context(), abs); err != nil {
					return err
				}
				fmt.Println("Forgot", abs)
				return nil
			}

			recent, err := store.Recent(cmd.Context(), 20)
			if err != nil {
				return err
			}
			if len(recent) == 0 {
				fmt.Println(subtleStyle.Render("Nothing played yet."))
				return nil
			}
			for _, p := range recent {
				fmt.Printf("%s %s %s\n",
					speakerStyle.Render(filepath.Base(p.Key)),
					indexStyle.Render(fmt.Sprintf("line %d", p.Index+1)),
					subtleStyle.Render(humanize.Time(p.UpdatedAt)),
				)
			}
			return nil
		},
	}
)
