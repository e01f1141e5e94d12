package main

import (
	"encoding/json"
	"fmt"

	"CodaChat/internal/backend"

	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check whether the backend is online",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		status, err := a.client.Health(cmd.Context())
		if err != nil || !backend.Online(status) {
			cmd.Printf("Backend: Offline (%s)\n", a.cfg.APIURL)
			return fmt.Errorf("backend is offline")
		}
		cmd.Printf("Backend: Online (%s)\n", a.cfg.APIURL)
		if outputFormat == "json" {
			out, _ := json.MarshalIndent(status, "", "  ")
			cmd.Println(string(out))
		}
		return nil
	},
}
