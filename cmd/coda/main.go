package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"CodaChat/internal/backend"
	"CodaChat/internal/config"
	"CodaChat/internal/telemetry"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	// Version is set at build time via ldflags
	Version = "dev"
)

var (
	configPath   string
	apiURL       string
	streamURL    string
	model        string
	sessionID    string
	sessionURL   string
	debug        bool
	providerKeys map[string]string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "coda",
	Short: "Coda Agent terminal client",
	Long: `Coda talks to a Coda Agent backend: it streams answers into a local
transcript, resumes saved sessions and keeps a local archive of them.

Run without a subcommand to start an interactive chat. Resume a session with
--session-id or with a share link passed to --session-url.`,
	SilenceUsage: true,
	RunE:         runChat,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("coda %s\n", Version)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", config.Path(), "Path to the TOML config file")
	pf.StringVar(&apiURL, "api-url", "", "Backend base URL")
	pf.StringVar(&streamURL, "stream-url", "", "WebSocket endpoint for the chat stream (ws:// or wss://)")
	pf.StringVar(&model, "model", "", "Model requested for new turns")
	pf.BoolVar(&debug, "debug", false, "Enable debug logging")
	pf.StringToStringVar(&providerKeys, "api-key", nil, "Provider credential as provider=key (openai, anthropic, google)")
	pf.StringVarP(&outputFormat, "format", "f", "text", "Output format (text, json)")

	rootCmd.Flags().StringVar(&sessionID, "session-id", "", "Resume the session with this id")
	rootCmd.Flags().StringVar(&sessionURL, "session-url", "", "Resume the session named by a share link")

	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(analyticsCmd)
	rootCmd.AddCommand(archiveCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app bundles what every command needs.
type app struct {
	cfg    config.Config
	logger *slog.Logger
	tracer trace.Tracer
	meter  metric.Meter
	client *backend.Client
	close  []func()
}

func (a *app) Close() {
	for i := len(a.close) - 1; i >= 0; i-- {
		a.close[i]()
	}
}

// loadConfig layers command-line flags over the file and environment.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}
	if apiURL != "" {
		cfg.APIURL = apiURL
	}
	if streamURL != "" {
		cfg.StreamURL = streamURL
	}
	if model != "" {
		cfg.Model = model
	}
	if debug {
		cfg.Debug = true
	}
	cfg.SessionID = sessionID
	cfg.SessionURL = sessionURL
	for provider, key := range providerKeys {
		cfg.SetProviderKey(provider, key)
	}
	return cfg, cfg.Validate()
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, closeLog, err := telemetry.InitLogger(cfg.LogDir, cfg.Debug)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	a := &app{cfg: cfg, logger: logger}
	a.close = append(a.close, func() { closeLog() })

	tracer, meter, shutdown, err := telemetry.InitTelemetry(ctx, cfg.LogDir, Version)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	a.tracer, a.meter = tracer, meter
	a.close = append(a.close, shutdown)

	if cfg.Debug {
		logger.Info("Debug mode enabled", "api_url", cfg.APIURL, "stream_url", cfg.StreamURL)
	}
	for provider, key := range cfg.ProviderKeys {
		logger.Debug("provider credential configured", "provider", provider, "key", config.MaskKey(key))
	}

	a.client = backend.NewClient(cfg, Version, logger, tracer, meter)
	return a, nil
}
