package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/pflag"
)

func newFlags() *pflag.FlagSet {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("server", "", "")
	flags.String("username", "", "")
	flags.String("password", "", "")
	flags.Float64("rate-limit", 0, "")
	flags.String("device", "", "")
	flags.StringArray("album", nil, "")
	flags.StringArray("playlist", nil, "")
	flags.Int("concurrency", 4, "")
	flags.Int("retries", 3, "")
	flags.Int("retry-backoff-ms", 500, "")
	flags.Int("commit-every", 8, "")
	flags.Bool("dry-run", false, "")
	flags.Bool("write-playlists", true, "")
	flags.Bool("reset-manifest", false, "")
	flags.Bool("force", false, "")
	flags.Bool("show-progress", true, "")
	flags.String("metrics-addr", "", "")
	flags.String("history", "", "")
	flags.String("log-level", "info", "")
	return flags
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

const validYAML = `
server:
  url: https://music.example.com
  username: alice
  password: secret
sync:
  device: /mnt/player
  albums: [al-1, al-2]
`

func TestLoadFromFile(t *testing.T) {
	path := writeConfigFile(t, validYAML)

	cfg, err := Load(path, newFlags())
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.URL != "https://music.example.com" {
		t.Errorf("url = %s", cfg.Server.URL)
	}
	if cfg.Sync.Device != "/mnt/player" {
		t.Errorf("device = %s", cfg.Sync.Device)
	}
	if len(cfg.Sync.Albums) != 2 {
		t.Errorf("albums = %v", cfg.Sync.Albums)
	}
	// Defaults survive a file that does not mention them.
	if cfg.Sync.Concurrency != 4 || cfg.Sync.Retries != 3 || cfg.Sync.CommitEvery != 8 {
		t.Errorf("defaults not applied: %+v", cfg.Sync)
	}
	if !cfg.Sync.WritePlaylists {
		t.Error("write_playlists should default to true")
	}
	if cfg.LogLevel != "info" {
		t.Errorf("log level = %s", cfg.LogLevel)
	}
}

func TestFlagsOverrideFile(t *testing.T) {
	path := writeConfigFile(t, validYAML)

	flags := newFlags()
	if err := flags.Parse([]string{
		"--server", "https://other.example.com",
		"--concurrency", "8",
		"--dry-run",
		"--playlist", "pl-9",
	}); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path, flags)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.URL != "https://other.example.com" {
		t.Errorf("flag should override file url, got %s", cfg.Server.URL)
	}
	if cfg.Sync.Concurrency != 8 {
		t.Errorf("concurrency = %d", cfg.Sync.Concurrency)
	}
	if !cfg.Sync.DryRun {
		t.Error("dry-run flag not applied")
	}
	if len(cfg.Sync.Playlists) != 1 || cfg.Sync.Playlists[0] != "pl-9" {
		t.Errorf("playlists = %v", cfg.Sync.Playlists)
	}
	// Untouched file values stay.
	if cfg.Server.Username != "alice" {
		t.Errorf("username = %s", cfg.Server.Username)
	}
}

func TestLoadFlagsOnly(t *testing.T) {
	flags := newFlags()
	if err := flags.Parse([]string{
		"--server", "https://music.example.com",
		"--username", "bob",
		"--device", "/mnt/sd",
		"--album", "al-1",
		"--album", "al-2",
	}); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load("", flags)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Sync.Albums) != 2 {
		t.Errorf("repeated --album should accumulate, got %v", cfg.Sync.Albums)
	}
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing server", []string{"--username", "a", "--device", "/d", "--album", "x"}, "server url"},
		{"missing username", []string{"--server", "https://s", "--device", "/d", "--album", "x"}, "username"},
		{"missing device", []string{"--server", "https://s", "--username", "a", "--album", "x"}, "device"},
		{"empty selection", []string{"--server", "https://s", "--username", "a", "--device", "/d"}, "nothing selected"},
		{"zero concurrency", []string{"--server", "https://s", "--username", "a", "--device", "/d", "--album", "x", "--concurrency", "0"}, "concurrency"},
		{"zero retries", []string{"--server", "https://s", "--username", "a", "--device", "/d", "--album", "x", "--retries", "0"}, "retries"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flags := newFlags()
			if err := flags.Parse(tt.args); err != nil {
				t.Fatal(err)
			}
			_, err := Load("", flags)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), newFlags())
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestHistoryPath(t *testing.T) {
	if HistoryPath("") == "" {
		t.Error("default history path should not be empty")
	}

	path := writeConfigFile(t, "sync:\n  history: /tmp/runs.db\n")
	if got := HistoryPath(path); got != "/tmp/runs.db" {
		t.Errorf("HistoryPath = %s", got)
	}
}
