package main

import (
	"encoding/json"

	"CodaChat/internal/chatbot"
	"CodaChat/internal/render"

	"github.com/spf13/cobra"
)

var exportDir string

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List saved sessions",
	RunE:  runSessions,
}

var exportCmd = &cobra.Command{
	Use:   "export <session-id>",
	Short: "Export a saved session as JSON",
	Long: `Export writes coda-chat-<session-id>.json with the session's transcript
and a meta block. Use --out - to print to stdout.`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportDir, "out", "o", "", "Directory to write the export to (default from config)")
}

func runSessions(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	sessions, err := a.client.ListSessions(cmd.Context())
	if err != nil {
		return err
	}
	if outputFormat == "json" {
		out, _ := json.MarshalIndent(sessions, "", "  ")
		cmd.Println(string(out))
		return nil
	}
	cmd.Print(render.SessionList(sessions, ""))
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	bot := chatbot.NewChatBot(a.cfg, a.client, chatbot.Options{
		Logger: a.logger,
		Tracer: a.tracer,
		Meter:  a.meter,
	})
	defer bot.Wait()
	if err := bot.RefreshSessions(ctx); err != nil {
		a.logger.Warn("failed to refresh sessions", "error", err)
	}
	if err := bot.LoadSession(ctx, args[0]); err != nil {
		return err
	}

	if exportDir == "-" {
		return bot.Export(cmd.OutOrStdout())
	}
	dir := exportDir
	if dir == "" {
		dir = a.cfg.ExportDir
	}
	path, err := bot.ExportFile(dir)
	if err != nil {
		return err
	}
	cmd.Printf("Exported to %s\n", path)
	return nil
}
