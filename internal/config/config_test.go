package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// isolate points every lookup at a fresh temp home.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("ROADMAP_HOME", home)
	t.Setenv("ROADMAP_CONFIG", "")
	t.Setenv("ROADMAP_ENV_FILE", "")
	return home
}

func writeConfig(t *testing.T, home, name, body string) string {
	t.Helper()
	dir := filepath.Join(home, ConfigDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir config dir: %v", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	home := isolate(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Paths.DataDir != filepath.Join(home, ".roadmap") {
		t.Fatalf("unexpected data dir %q", cfg.Paths.DataDir)
	}
	if cfg.Store.Path != filepath.Join(home, ".roadmap", "roadmap.db") {
		t.Fatalf("unexpected store path %q", cfg.Store.Path)
	}
	if cfg.Store.Driver != "sqlite" || cfg.Store.BusyTimeout != 5*time.Second {
		t.Fatalf("unexpected store defaults %+v", cfg.Store)
	}
	if cfg.Focus.HistoryLimit != 10 {
		t.Fatalf("expected history limit 10, got %d", cfg.Focus.HistoryLimit)
	}
	if cfg.Sync.OrphanPolicy != "soft" {
		t.Fatalf("expected soft orphan policy, got %q", cfg.Sync.OrphanPolicy)
	}
	if cfg.Relay.Kafka.Enabled || cfg.Relay.Slack.Enabled {
		t.Fatal("relays must be disabled by default")
	}
}

func TestLoadFileThenEnvOverride(t *testing.T) {
	home := isolate(t)
	writeConfig(t, home, ConfigFile, `{
		"store": {"driver": "sqlite3", "maxBusyRetries": 2},
		"focus": {"historyLimit": 4},
		"sync": {"orphanPolicy": "hard"},
		"relay": {"kafka": {"enabled": true, "brokers": ["a:9092"]}}
	}`)
	t.Setenv("ROADMAP_FOCUS_HISTORY_LIMIT", "7")
	t.Setenv("ROADMAP_RELAY_KAFKA_BROKERS", "b:9092,c:9092")
	t.Setenv("ROADMAP_STORE_BUSY_TIMEOUT", "250ms")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store.Driver != "sqlite3" || cfg.Store.MaxBusyRetries != 2 {
		t.Fatalf("file values not applied: %+v", cfg.Store)
	}
	if cfg.Store.BusyTimeout != 250*time.Millisecond {
		t.Fatalf("env busy timeout not applied: %v", cfg.Store.BusyTimeout)
	}
	if cfg.Focus.HistoryLimit != 7 {
		t.Fatalf("env should beat file, got %d", cfg.Focus.HistoryLimit)
	}
	if cfg.Sync.OrphanPolicy != "hard" {
		t.Fatalf("expected hard policy, got %q", cfg.Sync.OrphanPolicy)
	}
	if !cfg.Relay.Kafka.Enabled || len(cfg.Relay.Kafka.Brokers) != 2 || cfg.Relay.Kafka.Brokers[1] != "c:9092" {
		t.Fatalf("unexpected kafka relay %+v", cfg.Relay.Kafka)
	}
	if cfg.Relay.Kafka.Topic != "roadmap.signals" {
		t.Fatalf("expected default topic, got %q", cfg.Relay.Kafka.Topic)
	}
}

func TestLoadRejectsBadEnumerations(t *testing.T) {
	home := isolate(t)
	writeConfig(t, home, ConfigFile, `{"sync": {"orphanPolicy": "purge"}}`)
	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown orphan policy")
	}
	writeConfig(t, home, ConfigFile, `{"store": {"driver": "postgres"}}`)
	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown driver")
	}
	writeConfig(t, home, ConfigFile, `{"store": `)
	if _, err := Load(); err == nil {
		t.Fatal("expected error for malformed config")
	}
}

func TestConfigPathRespectsRoadmapConfigAndHome(t *testing.T) {
	t.Setenv("ROADMAP_HOME", "/srv/rmhome")
	t.Setenv("ROADMAP_CONFIG", "~/.roadmap/custom.json")

	path, err := ConfigPath()
	if err != nil {
		t.Fatalf("config path: %v", err)
	}
	if path != filepath.Join("/srv/rmhome", ".roadmap", "custom.json") {
		t.Fatalf("unexpected config path: %q", path)
	}

	t.Setenv("ROADMAP_CONFIG", "")
	path, err = ConfigPath()
	if err != nil {
		t.Fatalf("config path: %v", err)
	}
	if path != filepath.Join("/srv/rmhome", ".roadmap", "config.json") {
		t.Fatalf("unexpected default config path: %q", path)
	}
}

func TestLoadWithIncludeAndEnvSubstitution(t *testing.T) {
	home := isolate(t)
	writeConfig(t, home, "base.json", `{
		"relay": {"slack": {"channel": "C-base", "minSeverity": "error"}},
		"focus": {"historyLimit": 3}
	}`)
	writeConfig(t, home, ConfigFile, `{
		"$include": "base.json",
		"relay": {"slack": {"botToken": "${TEST_SLACK_TOKEN}"}},
		"focus": {"historyLimit": 6}
	}`)
	t.Setenv("TEST_SLACK_TOKEN", "xoxb-env")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Relay.Slack.BotToken != "xoxb-env" {
		t.Fatalf("expected substituted token, got %q", cfg.Relay.Slack.BotToken)
	}
	if cfg.Relay.Slack.Channel != "C-base" || cfg.Relay.Slack.MinSeverity != "error" {
		t.Fatalf("include values lost: %+v", cfg.Relay.Slack)
	}
	if cfg.Focus.HistoryLimit != 6 {
		t.Fatalf("main file should override include, got %d", cfg.Focus.HistoryLimit)
	}
}

func TestLoadIncludeCycle(t *testing.T) {
	home := isolate(t)
	writeConfig(t, home, "a.json", `{"$include": "config.json"}`)
	writeConfig(t, home, ConfigFile, `{"$include": "a.json"}`)
	if _, err := Load(); err == nil {
		t.Fatal("expected include cycle error")
	}
}

func TestSaveWritesPrivateFile(t *testing.T) {
	home := isolate(t)
	cfg := DefaultConfig()
	cfg.Focus.HistoryLimit = 3
	if err := Save(cfg); err != nil {
		t.Fatalf("save: %v", err)
	}
	path := filepath.Join(home, ".roadmap", "config.json")
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected 0600, got %v", info.Mode().Perm())
	}
	loaded, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Focus.HistoryLimit != 3 {
		t.Fatalf("round trip lost history limit: %d", loaded.Focus.HistoryLimit)
	}
}

func TestLoadEnvFile(t *testing.T) {
	home := isolate(t)
	envPath := filepath.Join(home, "roadmap.env")
	content := `
# comment
export ROADMAP_LOG_LEVEL=debug
ROADMAP_RELAY_SLACK_CHANNEL="C env"
ROADMAP_SYNC_ORPHAN_POLICY='hard'
INVALID_LINE
`
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("ROADMAP_ENV_FILE", envPath)
	t.Setenv("ROADMAP_LOG_LEVEL", "error")
	for _, k := range []string{"ROADMAP_RELAY_SLACK_CHANNEL", "ROADMAP_SYNC_ORPHAN_POLICY"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Log.Level != "error" {
		t.Fatalf("existing env must win over env file, got %q", cfg.Log.Level)
	}
	if cfg.Relay.Slack.Channel != "C env" {
		t.Fatalf("expected quoted value from env file, got %q", cfg.Relay.Slack.Channel)
	}
	if cfg.Sync.OrphanPolicy != "hard" {
		t.Fatalf("expected single-quoted value from env file, got %q", cfg.Sync.OrphanPolicy)
	}
}
