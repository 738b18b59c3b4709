// Package config provides configuration types and loading for roadmap.
package config

import "time"

// Config is the root configuration struct.
// Top-level groups: Paths, Store, Focus, Sync, Relay, Log.
type Config struct {
	Paths PathsConfig `json:"paths"`
	Store StoreConfig `json:"store"`
	Focus FocusConfig `json:"focus"`
	Sync  SyncConfig  `json:"sync"`
	Relay RelayConfig `json:"relay"`
	Log   LogConfig   `json:"log"`
}

// ---------------------------------------------------------------------------
// Paths – filesystem locations
// ---------------------------------------------------------------------------

// PathsConfig groups filesystem path settings.
type PathsConfig struct {
	// DataDir holds the database and exported manifests. "" means ~/.roadmap.
	DataDir string `json:"dataDir" envconfig:"DATA_DIR"`
	// Workspace is the source tree `roadmap sync --dir` scans by default.
	Workspace string `json:"workspace" envconfig:"WORKSPACE"`
}

// ---------------------------------------------------------------------------
// Store – entity store
// ---------------------------------------------------------------------------

// StoreConfig configures the SQLite entity store.
type StoreConfig struct {
	// Path of the database file. "" means <dataDir>/roadmap.db.
	Path string `json:"path" envconfig:"DB_PATH"`
	// Driver is "sqlite" (pure Go) or "sqlite3" (cgo).
	Driver         string        `json:"driver" envconfig:"DRIVER"`
	BusyTimeout    time.Duration `json:"busyTimeout" envconfig:"BUSY_TIMEOUT"`
	MaxBusyRetries int           `json:"maxBusyRetries" envconfig:"MAX_BUSY_RETRIES"`
}

// ---------------------------------------------------------------------------
// Focus
// ---------------------------------------------------------------------------

// FocusConfig configures the focus view.
type FocusConfig struct {
	HistoryLimit int `json:"historyLimit" envconfig:"HISTORY_LIMIT"`
}

// ---------------------------------------------------------------------------
// Sync – reconciliation
// ---------------------------------------------------------------------------

// SyncConfig configures sync cycles.
type SyncConfig struct {
	// OrphanPolicy is "soft" or "hard".
	OrphanPolicy string   `json:"orphanPolicy" envconfig:"ORPHAN_POLICY"`
	Extensions   []string `json:"extensions" envconfig:"EXTENSIONS"`
	SkipDirs     []string `json:"skipDirs" envconfig:"SKIP_DIRS"`
}

// ---------------------------------------------------------------------------
// Relay – outbound signal delivery
// ---------------------------------------------------------------------------

// RelayConfig groups the optional signal relays.
type RelayConfig struct {
	Kafka KafkaRelayConfig `json:"kafka"`
	Slack SlackRelayConfig `json:"slack"`
}

// KafkaRelayConfig configures the Kafka relay.
type KafkaRelayConfig struct {
	Enabled bool     `json:"enabled" envconfig:"ENABLED"`
	Brokers []string `json:"brokers" envconfig:"BROKERS"`
	Topic   string   `json:"topic" envconfig:"TOPIC"`
}

// SlackRelayConfig configures the Slack relay.
type SlackRelayConfig struct {
	Enabled     bool   `json:"enabled" envconfig:"ENABLED"`
	BotToken    string `json:"botToken" envconfig:"BOT_TOKEN"`
	Channel     string `json:"channel" envconfig:"CHANNEL"`
	APIBase     string `json:"apiBase,omitempty" envconfig:"API_BASE"`
	MinSeverity string `json:"minSeverity" envconfig:"MIN_SEVERITY"`
}

// ---------------------------------------------------------------------------
// Log
// ---------------------------------------------------------------------------

// LogConfig configures the slog handler installed by the CLI.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `json:"level" envconfig:"LEVEL"`
	// Format is "text" or "json".
	Format string `json:"format" envconfig:"FORMAT"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Paths: PathsConfig{
			DataDir: "~/.roadmap",
		},
		Store: StoreConfig{
			Driver:         "sqlite",
			BusyTimeout:    5 * time.Second,
			MaxBusyRetries: 5,
		},
		Focus: FocusConfig{
			HistoryLimit: 10,
		},
		Sync: SyncConfig{
			OrphanPolicy: "soft",
			Extensions:   []string{".go"},
		},
		Relay: RelayConfig{
			Kafka: KafkaRelayConfig{
				Topic: "roadmap.signals",
			},
			Slack: SlackRelayConfig{
				MinSeverity: "warning",
			},
		},
		Log: LogConfig{
			Level:  "warn",
			Format: "text",
		},
	}
}
