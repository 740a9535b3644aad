package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Config is the application configuration.
type Config struct {
	Server   Server `yaml:"server"`
	Sync     Sync   `yaml:"sync"`
	LogLevel string `yaml:"log_level"`
}

// Server points at the catalog server.
type Server struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// RateLimit caps catalog API requests per second; 0 disables.
	RateLimit float64 `yaml:"rate_limit"`
}

// Sync tunes one sync run.
type Sync struct {
	Device         string   `yaml:"device"`
	Albums         []string `yaml:"albums"`
	Playlists      []string `yaml:"playlists"`
	Concurrency    int      `yaml:"concurrency"`
	Retries        int      `yaml:"retries"`
	RetryBackoffMs int      `yaml:"retry_backoff_ms"`
	CommitEvery    int      `yaml:"commit_every"`
	DryRun         bool     `yaml:"dry_run"`
	WritePlaylists bool     `yaml:"write_playlists"`
	ResetManifest  bool     `yaml:"reset_manifest"`
	Force          bool     `yaml:"force"`
	ShowProgress   bool     `yaml:"show_progress"`
	MetricsAddr    string   `yaml:"metrics_addr"`
	History        string   `yaml:"history"`
}

// Load reads the YAML file (if given) and overlays changed flags.
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	cfg := &Config{
		LogLevel: "info",
		Sync: Sync{
			Concurrency:    4,
			Retries:        3,
			RetryBackoffMs: 500,
			CommitEvery:    8,
			WritePlaylists: true,
			ShowProgress:   true,
			History:        defaultHistoryPath(),
		},
	}

	if configFile != "" {
		if err := loadFromFile(cfg, configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := loadFromFlags(cfg, flags); err != nil {
		return nil, fmt.Errorf("failed to load flags: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// HistoryPath resolves the run-history database path from an optional
// config file, without requiring a full sync configuration.
func HistoryPath(configFile string) string {
	cfg := &Config{Sync: Sync{History: defaultHistoryPath()}}
	if configFile != "" {
		if err := loadFromFile(cfg, configFile); err != nil || cfg.Sync.History == "" {
			return defaultHistoryPath()
		}
	}
	return cfg.Sync.History
}

func defaultHistoryPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "tunesync-history.db"
	}
	return filepath.Join(dir, "tunesync", "history.db")
}

func loadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func loadFromFlags(cfg *Config, flags *pflag.FlagSet) error {
	if flags.Changed("server") {
		cfg.Server.URL, _ = flags.GetString("server")
	}
	if flags.Changed("username") {
		cfg.Server.Username, _ = flags.GetString("username")
	}
	if flags.Changed("password") {
		cfg.Server.Password, _ = flags.GetString("password")
	}
	if flags.Changed("rate-limit") {
		cfg.Server.RateLimit, _ = flags.GetFloat64("rate-limit")
	}

	if flags.Changed("device") {
		cfg.Sync.Device, _ = flags.GetString("device")
	}
	if flags.Changed("album") {
		cfg.Sync.Albums, _ = flags.GetStringArray("album")
	}
	if flags.Changed("playlist") {
		cfg.Sync.Playlists, _ = flags.GetStringArray("playlist")
	}
	if flags.Changed("concurrency") {
		cfg.Sync.Concurrency, _ = flags.GetInt("concurrency")
	}
	if flags.Changed("retries") {
		cfg.Sync.Retries, _ = flags.GetInt("retries")
	}
	if flags.Changed("retry-backoff-ms") {
		cfg.Sync.RetryBackoffMs, _ = flags.GetInt("retry-backoff-ms")
	}
	if flags.Changed("commit-every") {
		cfg.Sync.CommitEvery, _ = flags.GetInt("commit-every")
	}
	if flags.Changed("dry-run") {
		cfg.Sync.DryRun, _ = flags.GetBool("dry-run")
	}
	if flags.Changed("write-playlists") {
		cfg.Sync.WritePlaylists, _ = flags.GetBool("write-playlists")
	}
	if flags.Changed("reset-manifest") {
		cfg.Sync.ResetManifest, _ = flags.GetBool("reset-manifest")
	}
	if flags.Changed("force") {
		cfg.Sync.Force, _ = flags.GetBool("force")
	}
	if flags.Changed("show-progress") {
		cfg.Sync.ShowProgress, _ = flags.GetBool("show-progress")
	}
	if flags.Changed("metrics-addr") {
		cfg.Sync.MetricsAddr, _ = flags.GetString("metrics-addr")
	}
	if flags.Changed("history") {
		cfg.Sync.History, _ = flags.GetString("history")
	}
	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}

	return nil
}

func (c *Config) validate() error {
	if c.Server.URL == "" {
		return fmt.Errorf("server url is required")
	}
	if c.Server.Username == "" {
		return fmt.Errorf("server username is required")
	}
	if c.Sync.Device == "" {
		return fmt.Errorf("device mount path is required")
	}
	if len(c.Sync.Albums) == 0 && len(c.Sync.Playlists) == 0 {
		return fmt.Errorf("nothing selected: at least one album or playlist is required")
	}
	if c.Sync.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive")
	}
	if c.Sync.Retries < 1 {
		return fmt.Errorf("retries must be at least 1")
	}
	return nil
}
