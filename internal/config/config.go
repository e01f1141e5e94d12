package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGoogle    = "google"
)

const (
	DefaultAPIURL       = "http://localhost:8000"
	DefaultUIURL        = "http://localhost:5173/"
	DefaultModel        = "gpt-4"
	DefaultTimeoutSecs  = 30
	DefaultGlamourStyle = "dark"
	DefaultGreeting     = "Hello! I am Coda Agent. How can I help you today?"
	ApplicationName     = "Coda Agent"

	EnvAPIURL  = "CODA_API_URL"
	EnvModel   = "CODA_MODEL"
	EnvDebug   = "CODA_DEBUG"
	EnvTimeout = "CODA_TIMEOUT"

	ConfigDirName  = ".coda"
	ConfigFileName = "config.toml"
)

// providerEnv maps each provider to the environment variable holding its key.
var providerEnv = map[string]string{
	ProviderOpenAI:    "OPENAI_API_KEY",
	ProviderAnthropic: "ANTHROPIC_API_KEY",
	ProviderGoogle:    "GOOGLE_API_KEY",
}

// Config holds application configuration
type Config struct {
	APIURL         string            `toml:"api_url"`
	StreamURL      string            `toml:"stream_url"` // optional ws(s):// endpoint for the chat stream
	UIURL          string            `toml:"ui_url"`     // base of shareable links
	Model          string            `toml:"model"`
	SessionID      string            `toml:"-"`
	SessionURL     string            `toml:"-"` // share link to resume from
	Debug          bool              `toml:"debug"`
	LogDir         string            `toml:"log_dir"`
	ArchivePath    string            `toml:"archive_path"`
	ExportDir      string            `toml:"export_dir"`
	TimeoutSeconds int               `toml:"timeout_seconds"`
	GlamourStyle   string            `toml:"glamour_style"`
	Greeting       string            `toml:"greeting"`
	ProviderKeys   map[string]string `toml:"provider_keys"`
}

// Default returns the built-in configuration.
func Default() Config {
	base := DefaultDir()
	return Config{
		APIURL:         DefaultAPIURL,
		UIURL:          DefaultUIURL,
		Model:          DefaultModel,
		LogDir:         filepath.Join(base, "logs"),
		ArchivePath:    filepath.Join(base, "archive.db"),
		ExportDir:      ".",
		TimeoutSeconds: DefaultTimeoutSecs,
		GlamourStyle:   DefaultGlamourStyle,
		Greeting:       DefaultGreeting,
		ProviderKeys:   map[string]string{},
	}
}

// DefaultDir is the per-user state directory.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ConfigDirName
	}
	return filepath.Join(home, ConfigDirName)
}

// Path returns the default config file location.
func Path() string {
	return filepath.Join(DefaultDir(), ConfigFileName)
}

// Load layers defaults, the TOML file at path (missing is fine) and the
// environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return cfg, err
		}
	}
	cfg.applyEnv()
	return cfg, cfg.Validate()
}

func (c *Config) mergeFile(path string) error {
	var fileCfg Config
	if _, err := toml.DecodeFile(path, &fileCfg); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if fileCfg.APIURL != "" {
		c.APIURL = fileCfg.APIURL
	}
	if fileCfg.StreamURL != "" {
		c.StreamURL = fileCfg.StreamURL
	}
	if fileCfg.UIURL != "" {
		c.UIURL = fileCfg.UIURL
	}
	if fileCfg.Model != "" {
		c.Model = fileCfg.Model
	}
	if fileCfg.Debug {
		c.Debug = true
	}
	if fileCfg.LogDir != "" {
		c.LogDir = fileCfg.LogDir
	}
	if fileCfg.ArchivePath != "" {
		c.ArchivePath = fileCfg.ArchivePath
	}
	if fileCfg.ExportDir != "" {
		c.ExportDir = fileCfg.ExportDir
	}
	if fileCfg.TimeoutSeconds > 0 {
		c.TimeoutSeconds = fileCfg.TimeoutSeconds
	}
	if fileCfg.GlamourStyle != "" {
		c.GlamourStyle = fileCfg.GlamourStyle
	}
	if fileCfg.Greeting != "" {
		c.Greeting = fileCfg.Greeting
	}
	for provider, key := range fileCfg.ProviderKeys {
		c.SetProviderKey(provider, key)
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvAPIURL); v != "" {
		c.APIURL = v
	}
	if v := os.Getenv(EnvModel); v != "" {
		c.Model = v
	}
	if v := os.Getenv(EnvDebug); v == "1" || v == "true" {
		c.Debug = true
	}
	if v := os.Getenv(EnvTimeout); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.TimeoutSeconds = n
		}
	}
	for provider, env := range providerEnv {
		if v := os.Getenv(env); v != "" {
			c.SetProviderKey(provider, v)
		}
	}
}

// SetProviderKey records the credential for provider.
func (c *Config) SetProviderKey(provider, key string) {
	if c.ProviderKeys == nil {
		c.ProviderKeys = map[string]string{}
	}
	provider = strings.ToLower(strings.TrimSpace(provider))
	if key == "" {
		delete(c.ProviderKeys, provider)
		return
	}
	c.ProviderKeys[provider] = key
}

// Validate checks the fields the client cannot work without.
func (c Config) Validate() error {
	if strings.TrimSpace(c.APIURL) == "" {
		return errors.New("api url must not be empty")
	}
	if c.StreamURL != "" && !strings.HasPrefix(c.StreamURL, "ws://") && !strings.HasPrefix(c.StreamURL, "wss://") {
		return fmt.Errorf("stream url %q must use ws:// or wss://", c.StreamURL)
	}
	for provider := range c.ProviderKeys {
		if _, ok := providerEnv[provider]; !ok {
			return fmt.Errorf("unknown provider %q", provider)
		}
	}
	return nil
}

// MaskKey returns a masked version of a credential for display.
func MaskKey(key string) string {
	if len(key) <= 4 {
		return "***"
	}
	return "***..." + key[len(key)-4:]
}
