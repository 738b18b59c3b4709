package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

const (
	// ConfigDir is the default config directory name.
	ConfigDir = ".roadmap"
	// ConfigFile is the default config file name.
	ConfigFile = "config.json"
	// DBFile is the default database file name inside the data dir.
	DBFile = "roadmap.db"
)

// ConfigPath returns the path to the config file.
func ConfigPath() (string, error) {
	if explicit := strings.TrimSpace(os.Getenv("ROADMAP_CONFIG")); explicit != "" {
		if strings.HasPrefix(explicit, "~") {
			home, err := resolveHomeDir()
			if err != nil {
				return "", err
			}
			return filepath.Join(home, explicit[1:]), nil
		}
		return explicit, nil
	}
	home, err := resolveHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ConfigDir, ConfigFile), nil
}

func resolveHomeDir() (string, error) {
	if h := strings.TrimSpace(os.Getenv("ROADMAP_HOME")); h != "" {
		if strings.HasPrefix(h, "~") {
			base, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			return filepath.Join(base, h[1:]), nil
		}
		return h, nil
	}
	return os.UserHomeDir()
}

// envGroups lists each config group with its environment prefix.
func envGroups(cfg *Config) []struct {
	prefix string
	target any
} {
	return []struct {
		prefix string
		target any
	}{
		{"ROADMAP_PATHS", &cfg.Paths},
		{"ROADMAP_STORE", &cfg.Store},
		{"ROADMAP_FOCUS", &cfg.Focus},
		{"ROADMAP_SYNC", &cfg.Sync},
		{"ROADMAP_RELAY_KAFKA", &cfg.Relay.Kafka},
		{"ROADMAP_RELAY_SLACK", &cfg.Relay.Slack},
		{"ROADMAP_LOG", &cfg.Log},
	}
}

// Load loads the configuration from file and environment variables.
// Priority: environment > file > defaults.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	// Load process env vars from ~/.config/roadmap/env (and fallbacks) first.
	LoadEnvFileCandidates()

	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	data, err := loadResolvedConfig(path)
	if err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}
	// If file doesn't exist, continue with defaults

	for _, g := range envGroups(cfg) {
		if err := envconfig.Process(g.prefix, g.target); err != nil {
			return nil, fmt.Errorf("env %s: %w", g.prefix, err)
		}
	}

	if err := normalize(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// normalize fills derived paths and validates enumerations.
func normalize(cfg *Config) error {
	home, err := resolveHomeDir()
	if err != nil {
		return err
	}
	expandHome := func(p *string) {
		if strings.HasPrefix(*p, "~") {
			*p = filepath.Join(home, (*p)[1:])
		}
	}
	if strings.TrimSpace(cfg.Paths.DataDir) == "" {
		cfg.Paths.DataDir = filepath.Join(home, ConfigDir)
	}
	expandHome(&cfg.Paths.DataDir)
	expandHome(&cfg.Paths.Workspace)
	if strings.TrimSpace(cfg.Store.Path) == "" {
		cfg.Store.Path = filepath.Join(cfg.Paths.DataDir, DBFile)
	}
	expandHome(&cfg.Store.Path)

	def := DefaultConfig()
	switch cfg.Store.Driver = strings.ToLower(strings.TrimSpace(cfg.Store.Driver)); cfg.Store.Driver {
	case "":
		cfg.Store.Driver = def.Store.Driver
	case "sqlite", "sqlite3":
	default:
		return fmt.Errorf("config: unsupported store driver %q", cfg.Store.Driver)
	}
	if cfg.Store.BusyTimeout <= 0 {
		cfg.Store.BusyTimeout = def.Store.BusyTimeout
	}
	if cfg.Store.MaxBusyRetries < 0 {
		cfg.Store.MaxBusyRetries = 0
	}
	if cfg.Focus.HistoryLimit <= 0 {
		cfg.Focus.HistoryLimit = def.Focus.HistoryLimit
	}
	switch cfg.Sync.OrphanPolicy = strings.ToLower(strings.TrimSpace(cfg.Sync.OrphanPolicy)); cfg.Sync.OrphanPolicy {
	case "":
		cfg.Sync.OrphanPolicy = def.Sync.OrphanPolicy
	case "soft", "hard":
	default:
		return fmt.Errorf("config: unknown orphan policy %q", cfg.Sync.OrphanPolicy)
	}
	if len(cfg.Sync.Extensions) == 0 {
		cfg.Sync.Extensions = def.Sync.Extensions
	}
	if strings.TrimSpace(cfg.Relay.Kafka.Topic) == "" {
		cfg.Relay.Kafka.Topic = def.Relay.Kafka.Topic
	}
	switch cfg.Relay.Slack.MinSeverity = strings.ToLower(strings.TrimSpace(cfg.Relay.Slack.MinSeverity)); cfg.Relay.Slack.MinSeverity {
	case "":
		cfg.Relay.Slack.MinSeverity = def.Relay.Slack.MinSeverity
	case "info", "warning", "error":
	default:
		return fmt.Errorf("config: unknown slack min severity %q", cfg.Relay.Slack.MinSeverity)
	}
	switch cfg.Log.Format = strings.ToLower(strings.TrimSpace(cfg.Log.Format)); cfg.Log.Format {
	case "text", "json":
	default:
		cfg.Log.Format = def.Log.Format
	}
	if strings.TrimSpace(cfg.Log.Level) == "" {
		cfg.Log.Level = def.Log.Level
	}
	return nil
}

// Save writes the configuration to the config file.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}

	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}
