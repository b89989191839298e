package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the MQTT client.
// It is loaded from YAML and can be overridden by environment variables.
// The broker credentials, device identity and project documents it names
// are loaded separately with LoadDocuments.
type Config struct {
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Documents DocumentsConfig `yaml:"documents"`
	Logging   LoggingConfig   `yaml:"logging"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Journal   JournalConfig   `yaml:"journal"`

	// dir is the directory of the loaded config file. Relative document
	// paths are resolved against it.
	dir string
}

// MQTTConfig contains publish/subscribe engine settings.
// Durations are expressed in seconds, as in the rest of the file.
type MQTTConfig struct {
	QoS               int     `yaml:"qos"`
	PublishTimeout    int     `yaml:"publish_timeout"`
	ConnectTimeout    int     `yaml:"connect_timeout"`
	ConnectRetry      int     `yaml:"connect_retry"`
	ConnectSettle     int     `yaml:"connect_settle"`
	RetryJitterMin    float64 `yaml:"retry_jitter_min"`
	RetryJitterMax    float64 `yaml:"retry_jitter_max"`
	KeepAlive         int     `yaml:"keep_alive"`
	InhibitPublishing bool    `yaml:"inhibit_publishing"`
}

// DocumentsConfig names the external documents loaded once at startup.
type DocumentsConfig struct {
	Credentials string `yaml:"credentials"`
	Identity    string `yaml:"identity"`
	Project     string `yaml:"project"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// InfluxDBConfig contains InfluxDB connection settings for status telemetry.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// JournalConfig contains delivery journal (SQLite) settings.
type JournalConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Path          string `yaml:"path"`
	WALMode       bool   `yaml:"wal_mode"`
	BusyTimeout   int    `yaml:"busy_timeout"`
	RetentionDays int    `yaml:"retention_days"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: SCS_SECTION_KEY
// For example: SCS_INFLUXDB_TOKEN, SCS_JOURNAL_PATH
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	cfg.dir = filepath.Dir(path)

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		MQTT: MQTTConfig{
			QoS:            1,
			PublishTimeout: 5,
			ConnectTimeout: 10,
			ConnectRetry:   10,
			ConnectSettle:  3,
			RetryJitterMin: 1.0,
			RetryJitterMax: 2.0,
			KeepAlive:      30,
		},
		Documents: DocumentsConfig{
			Credentials: "credentials.json",
			Identity:    "identity.json",
			Project:     "project.json",
		},
		Logging: LoggingConfig{
			Level:  "warn",
			Format: "text",
			Output: "stderr",
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Journal: JournalConfig{
			Path:          "./data/journal.db",
			WALMode:       true,
			BusyTimeout:   5,
			RetentionDays: 7,
		},
		dir: ".",
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SCS_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SCS_INFLUXDB_URL"); v != "" {
		cfg.InfluxDB.URL = v
	}
	if v := os.Getenv("SCS_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
	if v := os.Getenv("SCS_JOURNAL_PATH"); v != "" {
		cfg.Journal.Path = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.PublishTimeout < 1 {
		errs = append(errs, "mqtt.publish_timeout must be at least 1 second")
	}
	if c.MQTT.ConnectRetry < 1 {
		errs = append(errs, "mqtt.connect_retry must be at least 1 second")
	}
	if c.MQTT.ConnectSettle < 0 {
		errs = append(errs, "mqtt.connect_settle must not be negative")
	}
	if c.MQTT.RetryJitterMin < 0 || c.MQTT.RetryJitterMax < c.MQTT.RetryJitterMin {
		errs = append(errs, "mqtt.retry_jitter_min must be >= 0 and <= mqtt.retry_jitter_max")
	}

	if c.Documents.Credentials == "" {
		errs = append(errs, "documents.credentials is required")
	}
	if c.Documents.Identity == "" {
		errs = append(errs, "documents.identity is required")
	}
	if c.Documents.Project == "" {
		errs = append(errs, "documents.project is required")
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.bucket is required when influxdb is enabled")
		}
	}

	if c.Journal.Enabled && c.Journal.Path == "" {
		errs = append(errs, "journal.path is required when the journal is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// DocumentPath resolves a document path relative to the config file directory.
func (c *Config) DocumentPath(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.dir, path)
}

// GetPublishTimeout returns the per-attempt broker publish timeout.
func (c MQTTConfig) GetPublishTimeout() time.Duration {
	return time.Duration(c.PublishTimeout) * time.Second
}

// GetConnectTimeout returns the per-attempt broker connect timeout.
func (c MQTTConfig) GetConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeout) * time.Second
}

// GetConnectRetry returns the fixed interval between connect attempts.
func (c MQTTConfig) GetConnectRetry() time.Duration {
	return time.Duration(c.ConnectRetry) * time.Second
}

// GetConnectSettle returns the wait after a successful connect before publishing.
func (c MQTTConfig) GetConnectSettle() time.Duration {
	return time.Duration(c.ConnectSettle) * time.Second
}

// GetKeepAlive returns the broker keepalive interval.
func (c MQTTConfig) GetKeepAlive() time.Duration {
	return time.Duration(c.KeepAlive) * time.Second
}

// GetRetryJitter returns the publish retry backoff window.
func (c MQTTConfig) GetRetryJitter() (lo, hi time.Duration) {
	return time.Duration(c.RetryJitterMin * float64(time.Second)),
		time.Duration(c.RetryJitterMax * float64(time.Second))
}
