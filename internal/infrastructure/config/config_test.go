package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
mqtt:
  qos: 0
  publish_timeout: 8
  retry_jitter_min: 0.5
  retry_jitter_max: 1.5
  inhibit_publishing: true
documents:
  credentials: "aws.json"
  identity: "/etc/scs/identity.json"
  project: "project.json"
logging:
  level: "info"
`
	tmpDir := t.TempDir()
	configPath := writeFile(t, tmpDir, "config.yaml", content)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.MQTT.QoS != 0 {
		t.Errorf("MQTT.QoS = %d, want 0", cfg.MQTT.QoS)
	}
	if cfg.MQTT.GetPublishTimeout() != 8*time.Second {
		t.Errorf("GetPublishTimeout() = %v, want 8s", cfg.MQTT.GetPublishTimeout())
	}
	if !cfg.MQTT.InhibitPublishing {
		t.Error("MQTT.InhibitPublishing = false, want true")
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "info")
	}

	// Unset values keep their defaults.
	if cfg.MQTT.ConnectRetry != 10 {
		t.Errorf("MQTT.ConnectRetry = %d, want 10", cfg.MQTT.ConnectRetry)
	}
	if cfg.Logging.Output != "stderr" {
		t.Errorf("Logging.Output = %q, want %q", cfg.Logging.Output, "stderr")
	}

	if got, want := cfg.DocumentPath(cfg.Documents.Credentials), filepath.Join(tmpDir, "aws.json"); got != want {
		t.Errorf("DocumentPath(relative) = %q, want %q", got, want)
	}
	if got := cfg.DocumentPath(cfg.Documents.Identity); got != "/etc/scs/identity.json" {
		t.Errorf("DocumentPath(absolute) = %q, want %q", got, "/etc/scs/identity.json")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeFile(t, t.TempDir(), "config.yaml", "invalid: [yaml: content")

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	content := `
mqtt:
  qos: 3
`
	configPath := writeFile(t, t.TempDir(), "config.yaml", content)

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected validation error for qos 3, got nil")
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config { return defaultConfig() }

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}, wantErr: false},
		{name: "invalid QoS", mutate: func(c *Config) { c.MQTT.QoS = 3 }, wantErr: true},
		{name: "zero publish timeout", mutate: func(c *Config) { c.MQTT.PublishTimeout = 0 }, wantErr: true},
		{name: "zero connect retry", mutate: func(c *Config) { c.MQTT.ConnectRetry = 0 }, wantErr: true},
		{name: "negative settle", mutate: func(c *Config) { c.MQTT.ConnectSettle = -1 }, wantErr: true},
		{name: "inverted jitter", mutate: func(c *Config) { c.MQTT.RetryJitterMin, c.MQTT.RetryJitterMax = 2, 1 }, wantErr: true},
		{name: "equal jitter", mutate: func(c *Config) { c.MQTT.RetryJitterMin, c.MQTT.RetryJitterMax = 1, 1 }, wantErr: false},
		{name: "missing credentials document", mutate: func(c *Config) { c.Documents.Credentials = "" }, wantErr: true},
		{name: "missing identity document", mutate: func(c *Config) { c.Documents.Identity = "" }, wantErr: true},
		{name: "missing project document", mutate: func(c *Config) { c.Documents.Project = "" }, wantErr: true},
		{
			name: "influxdb enabled without url",
			mutate: func(c *Config) {
				c.InfluxDB.Enabled = true
				c.InfluxDB.Bucket = "scs"
			},
			wantErr: true,
		},
		{
			name: "influxdb enabled complete",
			mutate: func(c *Config) {
				c.InfluxDB.Enabled = true
				c.InfluxDB.URL = "http://localhost:8086"
				c.InfluxDB.Bucket = "scs"
			},
			wantErr: false,
		},
		{
			name: "journal enabled without path",
			mutate: func(c *Config) {
				c.Journal.Enabled = true
				c.Journal.Path = ""
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_Validate_CollectsAllErrors(t *testing.T) {
	cfg := defaultConfig()
	cfg.MQTT.QoS = 5
	cfg.Documents.Project = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error, got nil")
	}
	for _, want := range []string{"mqtt.qos", "documents.project"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Validate() error = %q, want it to mention %q", err, want)
		}
	}
}

func TestMQTTConfig_Durations(t *testing.T) {
	cfg := MQTTConfig{
		PublishTimeout: 5,
		ConnectTimeout: 7,
		ConnectRetry:   10,
		ConnectSettle:  3,
		KeepAlive:      30,
		RetryJitterMin: 1.0,
		RetryJitterMax: 2.5,
	}

	if got := cfg.GetPublishTimeout(); got != 5*time.Second {
		t.Errorf("GetPublishTimeout() = %v, want 5s", got)
	}
	if got := cfg.GetConnectTimeout(); got != 7*time.Second {
		t.Errorf("GetConnectTimeout() = %v, want 7s", got)
	}
	if got := cfg.GetConnectRetry(); got != 10*time.Second {
		t.Errorf("GetConnectRetry() = %v, want 10s", got)
	}
	if got := cfg.GetConnectSettle(); got != 3*time.Second {
		t.Errorf("GetConnectSettle() = %v, want 3s", got)
	}
	if got := cfg.GetKeepAlive(); got != 30*time.Second {
		t.Errorf("GetKeepAlive() = %v, want 30s", got)
	}
	lo, hi := cfg.GetRetryJitter()
	if lo != time.Second || hi != 2500*time.Millisecond {
		t.Errorf("GetRetryJitter() = (%v, %v), want (1s, 2.5s)", lo, hi)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("SCS_LOG_LEVEL", "debug")
	t.Setenv("SCS_INFLUXDB_URL", "http://influx:8086")
	t.Setenv("SCS_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("SCS_JOURNAL_PATH", "/var/lib/scs/journal.db")

	applyEnvOverrides(cfg)

	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
	if cfg.InfluxDB.URL != "http://influx:8086" {
		t.Errorf("InfluxDB.URL = %q, want %q", cfg.InfluxDB.URL, "http://influx:8086")
	}
	if cfg.InfluxDB.Token != "secret-token" {
		t.Errorf("InfluxDB.Token = %q, want %q", cfg.InfluxDB.Token, "secret-token")
	}
	if cfg.Journal.Path != "/var/lib/scs/journal.db" {
		t.Errorf("Journal.Path = %q, want %q", cfg.Journal.Path, "/var/lib/scs/journal.db")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.MQTT.QoS != 1 {
		t.Errorf("defaultConfig MQTT.QoS = %d, want 1", cfg.MQTT.QoS)
	}
	if cfg.MQTT.ConnectRetry != 10 {
		t.Errorf("defaultConfig MQTT.ConnectRetry = %d, want 10", cfg.MQTT.ConnectRetry)
	}
	if cfg.MQTT.ConnectSettle != 3 {
		t.Errorf("defaultConfig MQTT.ConnectSettle = %d, want 3", cfg.MQTT.ConnectSettle)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("defaultConfig Logging.Level = %q, want %q", cfg.Logging.Level, "warn")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaultConfig Validate() error = %v", err)
	}
}
