package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var analyticsCmd = &cobra.Command{
	Use:   "analytics",
	Short: "Show usage, tool and decision analytics",
	RunE:  runAnalytics,
}

func runAnalytics(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	usage, err := a.client.UsageAnalytics(ctx)
	if err != nil {
		return fmt.Errorf("failed to get usage analytics: %w", err)
	}
	tools, err := a.client.ToolAnalytics(ctx)
	if err != nil {
		return fmt.Errorf("failed to get tool analytics: %w", err)
	}
	decisions, err := a.client.DecisionAnalytics(ctx)
	if err != nil {
		return fmt.Errorf("failed to get decision analytics: %w", err)
	}

	if outputFormat == "json" {
		out, _ := json.MarshalIndent(map[string]interface{}{
			"usage":     usage,
			"tools":     tools,
			"decisions": decisions,
		}, "", "  ")
		cmd.Println(string(out))
		return nil
	}

	cmd.Println("Usage")
	cmd.Printf("  Sessions:           %d\n", usage.TotalSessions)
	cmd.Printf("  Messages:           %d\n", usage.TotalMessages)
	cmd.Printf("  Tokens:             %d\n", usage.TotalTokens)
	cmd.Printf("  Avg execution time: %.2fs\n", usage.AvgExecutionTime)

	cmd.Println("\nTools")
	if len(tools.Usage) == 0 {
		cmd.Println("  No tool usage recorded")
	}
	for _, t := range tools.Usage {
		cmd.Printf("  %-24s %d\n", t.ToolName, t.Count)
	}

	cmd.Println("\nDecisions")
	if len(decisions.Usage) == 0 {
		cmd.Println("  No decisions recorded")
	}
	for _, d := range decisions.Usage {
		cmd.Printf("  %-24s %d\n", d.Category, d.Count)
	}
	return nil
}
