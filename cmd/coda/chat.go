package main

import (
	"os"

	"CodaChat/internal/chatbot"
	"CodaChat/internal/render"
	"CodaChat/internal/store"

	"github.com/spf13/cobra"
)

func runChat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	archive, err := store.Open(a.cfg.ArchivePath)
	if err != nil {
		a.logger.Warn("local archive unavailable", "path", a.cfg.ArchivePath, "error", err)
		archive = nil
	} else {
		defer archive.Close()
	}

	term := chatbot.NewTerminal(os.Stdout, render.New(a.cfg.GlamourStyle, 100))
	bot := chatbot.NewChatBot(a.cfg, a.client, chatbot.Options{
		Archive:  archive,
		Alerter:  term,
		OnUpdate: term.OnUpdate,
		Logger:   a.logger,
		Tracer:   a.tracer,
		Meter:    a.meter,
	})
	if err := bot.Start(ctx); err != nil {
		term.Alert("Could not load the requested session, starting a new chat.")
	}
	defer bot.Wait()

	return term.Run(ctx, bot, os.Stdin)
}
