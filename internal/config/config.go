// StateSync - Multi-Backend Media Watch State Reconciliation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/statesync

/*
Package config provides layered configuration loading for StateSync.

Configuration is resolved in three layers, each overriding the previous one:

 1. Struct defaults (defaultConfig)
 2. YAML file (statesync.yaml, config.yaml, /etc/statesync/config.yaml,
    or the path in STATESYNC_CONFIG / --config)
 3. Environment variables prefixed STATESYNC_, with "__" as the nesting
    separator: STATESYNC_SYNC__CONCURRENCY=8 sets sync.concurrency

Backends are a list and can only be declared in the YAML file:

	backends:
	  - name: plex_home
	    kind: plex
	    url: http://plex:32400
	    token: xxxx
	  - name: jf_home
	    kind: jellyfin
	    url: http://jellyfin:8096
	    token: yyyy
	    user: 6f1c...
*/
package config

import (
	"time"

	"github.com/tomtom215/statesync/internal/logging"
)

// Config is the root configuration.
type Config struct {
	Backends  []BackendConfig `koanf:"backends" validate:"dive"`
	Sync      SyncConfig      `koanf:"sync"`
	GUID      GUIDConfig      `koanf:"guid"`
	Store     StoreConfig     `koanf:"store"`
	Cache     CacheConfig     `koanf:"cache"`
	Transport TransportConfig `koanf:"transport"`
	Events    EventsConfig    `koanf:"events"`
	Server    ServerConfig    `koanf:"server"`
	Logging   LoggingConfig   `koanf:"logging"`
	Metrics   MetricsConfig   `koanf:"metrics"`
}

// BackendConfig describes one media server connection.
type BackendConfig struct {
	// Name is the unique backend name used in logs, metrics and the store.
	Name string `koanf:"name" validate:"required,backend_name"`

	// Kind selects the action set: plex, jellyfin or emby.
	Kind string `koanf:"kind" validate:"required,backend_kind"`

	URL   string `koanf:"url" validate:"required,url"`
	Token string `koanf:"token" validate:"required"`

	// User is the backend user id whose play state is reconciled.
	// Required for jellyfin and emby, optional for plex.
	User string `koanf:"user"`

	// BackendID is the server unique identifier. Looked up via GetIdentifier when empty.
	BackendID string `koanf:"backend_id"`

	// Import and Export opt the backend into the scheduled runs.
	Import bool `koanf:"import"`
	Export bool `koanf:"export"`

	Options BackendOptions `koanf:"options"`
}

// BackendOptions are per-backend overrides of the sync defaults.
type BackendOptions struct {
	LibrarySegment   int      `koanf:"library_segment" validate:"gte=0"`
	IgnoreLibraries  []string `koanf:"ignore_libraries"`
	ClientIdentifier string   `koanf:"client_identifier"`
	Debug            bool     `koanf:"debug"`
}

// SyncConfig holds reconciliation run settings. A zero interval disables the
// matching scheduled service.
type SyncConfig struct {
	ImportInterval    time.Duration `koanf:"import_interval" validate:"gte=0"`
	ExportInterval    time.Duration `koanf:"export_interval" validate:"gte=0"`
	PushInterval      time.Duration `koanf:"push_interval" validate:"gte=0"`
	Concurrency       int           `koanf:"concurrency" validate:"min=1,max=64"`
	Timeout           time.Duration `koanf:"timeout" validate:"gte=0"`
	TimeDrift         time.Duration `koanf:"time_drift" validate:"gte=0"`
	ExportAllowedDiff time.Duration `koanf:"export_allowed_diff" validate:"gte=0"`
	MetadataTTL       time.Duration `koanf:"metadata_ttl" validate:"gte=0"`
}

// GUIDConfig configures identity resolution.
type GUIDConfig struct {
	// RulesFile is the YAML mapping rule file. A missing file means no rules.
	RulesFile string `koanf:"rules_file"`

	// Ignore lists ids to drop, formatted type://db:id@backend[?id=native].
	Ignore []string `koanf:"ignore"`
}

// StoreConfig configures the local system-of-record.
type StoreConfig struct {
	Path     string `koanf:"path"`
	InMemory bool   `koanf:"in_memory"`
}

// CacheConfig configures the metadata cache.
type CacheConfig struct {
	TTL             time.Duration `koanf:"ttl" validate:"gte=0"`
	CleanupInterval time.Duration `koanf:"cleanup_interval" validate:"gte=0"`
}

// TransportConfig configures the outbound HTTP client shared by backends.
type TransportConfig struct {
	Timeout           time.Duration `koanf:"timeout" validate:"gte=0"`
	RequestsPerSecond float64       `koanf:"requests_per_second" validate:"gte=0"`
	Burst             int           `koanf:"burst" validate:"gte=0"`
	RetryAttempts     uint          `koanf:"retry_attempts" validate:"max=10"`
	RetryDelay        time.Duration `koanf:"retry_delay" validate:"gte=0"`
	BreakerFailures   uint32        `koanf:"breaker_failures"`
	BreakerTimeout    time.Duration `koanf:"breaker_timeout" validate:"gte=0"`
}

// EventsConfig selects the event bus driver.
type EventsConfig struct {
	Driver     string `koanf:"driver" validate:"oneof=memory nats"`
	NATSURL    string `koanf:"nats_url"`
	Topic      string `koanf:"topic" validate:"required"`
	QueueGroup string `koanf:"queue_group"`
}

// ServerConfig configures the webhook receiver.
type ServerConfig struct {
	Listen           string        `koanf:"listen" validate:"required,hostname_port"`
	WebhookRateLimit int           `koanf:"webhook_rate_limit" validate:"gte=0"`
	ReadTimeout      time.Duration `koanf:"read_timeout" validate:"gte=0"`
	WriteTimeout     time.Duration `koanf:"write_timeout" validate:"gte=0"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: trace, debug, info, warn, error.
	// Default: info
	Level string `koanf:"level" validate:"oneof=trace debug info warn warning error fatal panic disabled"`

	// Format is the output format: json or console.
	// Default: json
	Format string `koanf:"format" validate:"oneof=json console"`

	Caller bool `koanf:"caller"`

	// File sends output to a rotated file instead of stderr.
	File       string `koanf:"file"`
	MaxSizeMB  int    `koanf:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `koanf:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `koanf:"max_age_days" validate:"gte=0"`
}

// MetricsConfig toggles the /metrics endpoint.
type MetricsConfig struct {
	Enabled bool `koanf:"enabled"`
}

// defaultConfig returns a Config struct with all default values.
// These defaults are applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Sync: SyncConfig{
			ImportInterval:    time.Hour,
			ExportInterval:    90 * time.Minute,
			PushInterval:      10 * time.Second,
			Concurrency:       4,
			Timeout:           30 * time.Minute,
			TimeDrift:         30 * time.Second,
			ExportAllowedDiff: 10 * time.Second,
			MetadataTTL:       time.Hour,
		},
		GUID: GUIDConfig{
			RulesFile: "/config/guid.yaml",
		},
		Store: StoreConfig{
			Path: "/data/statesync",
		},
		Cache: CacheConfig{
			TTL:             time.Hour,
			CleanupInterval: 5 * time.Minute,
		},
		Transport: TransportConfig{
			Timeout:           30 * time.Second,
			RequestsPerSecond: 10,
			Burst:             20,
			RetryAttempts:     3,
			RetryDelay:        time.Second,
			BreakerFailures:   5,
			BreakerTimeout:    time.Minute,
		},
		Events: EventsConfig{
			Driver:     "memory",
			NATSURL:    "nats://127.0.0.1:4222",
			Topic:      "state.changed",
			QueueGroup: "statesync",
		},
		Server: ServerConfig{
			Listen:           "0.0.0.0:8686",
			WebhookRateLimit: 120,
			ReadTimeout:      15 * time.Second,
			WriteTimeout:     30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Backend returns the backend with the given name.
func (c *Config) Backend(name string) (BackendConfig, bool) {
	for _, b := range c.Backends {
		if b.Name == name {
			return b, true
		}
	}
	return BackendConfig{}, false
}

// LoggingOptions converts the logging section for logging.Init.
func (c *Config) LoggingOptions() logging.Config {
	return logging.Config{
		Level:      c.Logging.Level,
		Format:     c.Logging.Format,
		Caller:     c.Logging.Caller,
		Timestamp:  true,
		File:       c.Logging.File,
		MaxSizeMB:  c.Logging.MaxSizeMB,
		MaxBackups: c.Logging.MaxBackups,
		MaxAgeDays: c.Logging.MaxAgeDays,
	}
}
