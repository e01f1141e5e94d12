package main

import (
	"fmt"

	"CodaChat/internal/config"
	"CodaChat/internal/render"
	"CodaChat/internal/store"

	"github.com/spf13/cobra"
)

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Browse the local archive of saved sessions",
}

var archiveListCmd = &cobra.Command{
	Use:   "list",
	Short: "List archived sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, archive, err := openArchive()
		if err != nil {
			return err
		}
		defer archive.Close()

		sessions, err := archive.List(cmd.Context())
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			cmd.Println("No archived sessions.")
			return nil
		}
		for _, s := range sessions {
			title := s.Title
			if title == "" {
				title = "(untitled)"
			}
			cmd.Printf("%s  %-40s %3d turns  %s\n", s.ID, title, s.TurnCount, s.SavedAt.Local().Format("2006-01-02 15:04"))
		}
		return nil
	},
}

var archiveShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Print an archived transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, archive, err := openArchive()
		if err != nil {
			return err
		}
		defer archive.Close()

		turns, err := archive.LoadTranscript(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if len(turns) == 0 {
			return fmt.Errorf("session %s is not archived", args[0])
		}
		r := render.New(cfg.GlamourStyle, 100)
		for _, t := range turns {
			cmd.Println(r.Turn(t))
		}
		return nil
	},
}

func init() {
	archiveCmd.AddCommand(archiveListCmd)
	archiveCmd.AddCommand(archiveShowCmd)
}

func openArchive() (config.Config, *store.Archive, error) {
	cfg, err := loadConfig()
	if err != nil {
		return cfg, nil, fmt.Errorf("failed to load config: %w", err)
	}
	archive, err := store.Open(cfg.ArchivePath)
	return cfg, archive, err
}
