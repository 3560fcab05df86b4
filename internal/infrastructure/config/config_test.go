package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config file: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfigFile(t, "{}"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Cloud.BaseURL != "https://proddit.ditdeneb.com" {
		t.Errorf("Cloud.BaseURL = %q", cfg.Cloud.BaseURL)
	}
	if cfg.Cloud.AuthMode != "id_token" {
		t.Errorf("Cloud.AuthMode = %q", cfg.Cloud.AuthMode)
	}
	if cfg.Sync.Interval != 30 || cfg.Sync.ConfirmTimeout != 90 {
		t.Errorf("Sync = %+v", cfg.Sync)
	}
	if cfg.Sync.DiscoveryInterval != 900 || cfg.Sync.StaleAfter != 3 {
		t.Errorf("Sync = %+v", cfg.Sync)
	}
	if cfg.API.Port != 8086 || cfg.API.WebSocket.Path != "/ws" {
		t.Errorf("API = %+v", cfg.API)
	}
	if cfg.MQTT.Enabled {
		t.Error("MQTT should be disabled by default")
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	cfg, err := Load(writeConfigFile(t, `
cloud:
  username: user@example.com
  password: hunter2
  auth_mode: access_token
sync:
  interval: 60
  confirm_timeout: 120
api:
  port: 9090
mqtt:
  enabled: true
  broker:
    host: broker.lan
`))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Cloud.Username != "user@example.com" || cfg.Cloud.AuthMode != "access_token" {
		t.Errorf("Cloud = %+v", cfg.Cloud)
	}
	if cfg.Sync.Interval != 60 {
		t.Errorf("Sync.Interval = %d", cfg.Sync.Interval)
	}
	if cfg.API.Port != 9090 {
		t.Errorf("API.Port = %d", cfg.API.Port)
	}
	if !cfg.MQTT.Enabled || cfg.MQTT.Broker.Host != "broker.lan" {
		t.Errorf("MQTT = %+v", cfg.MQTT)
	}
	// Untouched sections keep their defaults.
	if cfg.Database.Path != "./data/daikincloud.db" {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("DAIKINCLOUD_CLOUD_PASSWORD", "from-env")
	t.Setenv("DAIKINCLOUD_DATABASE_PATH", "/var/lib/daikincloud/core.db")
	t.Setenv("DAIKINCLOUD_MQTT_HOST", "env-broker")

	cfg, err := Load(writeConfigFile(t, `
cloud:
  password: from-file
database:
  path: ./file.db
`))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Cloud.Password != "from-env" {
		t.Errorf("Cloud.Password = %q, want from-env", cfg.Cloud.Password)
	}
	if cfg.Database.Path != "/var/lib/daikincloud/core.db" {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
	if cfg.MQTT.Broker.Host != "env-broker" {
		t.Errorf("MQTT.Broker.Host = %q", cfg.MQTT.Broker.Host)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Load() should fail for a missing file")
	}
}

func TestLoad_MalformedYAML(t *testing.T) {
	if _, err := Load(writeConfigFile(t, "cloud: [")); err == nil {
		t.Error("Load() should fail for malformed YAML")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(*Config) {},
		},
		{
			name:    "missing base url",
			mutate:  func(c *Config) { c.Cloud.BaseURL = "" },
			wantErr: "cloud.base_url",
		},
		{
			name:    "bad auth mode",
			mutate:  func(c *Config) { c.Cloud.AuthMode = "refresh_token" },
			wantErr: "cloud.auth_mode",
		},
		{
			name:    "zero unstable threshold",
			mutate:  func(c *Config) { c.Cloud.Session.UnstableThreshold = 0 },
			wantErr: "unstable_threshold",
		},
		{
			name:    "zero poll interval",
			mutate:  func(c *Config) { c.Sync.Interval = 0 },
			wantErr: "sync.interval",
		},
		{
			name: "confirm timeout shorter than interval",
			mutate: func(c *Config) {
				c.Sync.Interval = 60
				c.Sync.ConfirmTimeout = 30
			},
			wantErr: "sync.confirm_timeout",
		},
		{
			name: "backoff max below initial",
			mutate: func(c *Config) {
				c.Sync.BackoffInitial = 60
				c.Sync.BackoffMax = 30
			},
			wantErr: "backoff",
		},
		{
			name: "discovery interval shorter than poll interval",
			mutate: func(c *Config) {
				c.Sync.DiscoveryInterval = 10
			},
			wantErr: "sync.discovery_interval",
		},
		{
			name:    "missing database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: "database.path",
		},
		{
			name:    "invalid qos",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: "mqtt.qos",
		},
		{
			name:    "invalid port",
			mutate:  func(c *Config) { c.API.Port = 0 },
			wantErr: "api.port",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("Validate() should fail")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestDurationGetters(t *testing.T) {
	cfg := defaultConfig()

	if got := cfg.Cloud.GetRequestTimeout(); got != 15*time.Second {
		t.Errorf("GetRequestTimeout() = %v", got)
	}
	if got := cfg.Cloud.Session.GetFallbackTTL(); got != 720*time.Minute {
		t.Errorf("GetFallbackTTL() = %v", got)
	}
	if got := cfg.Cloud.Session.GetSafetyMargin(); got != 5*time.Minute {
		t.Errorf("GetSafetyMargin() = %v", got)
	}
	if got := cfg.Sync.GetInterval(); got != 30*time.Second {
		t.Errorf("GetInterval() = %v", got)
	}
	if got := cfg.Sync.GetConfirmTimeout(); got != 90*time.Second {
		t.Errorf("GetConfirmTimeout() = %v", got)
	}
	if got := cfg.Sync.GetDiscoveryInterval(); got != 900*time.Second {
		t.Errorf("GetDiscoveryInterval() = %v", got)
	}
	if got := cfg.GetReadTimeout(); got != 30*time.Second {
		t.Errorf("GetReadTimeout() = %v", got)
	}
	if got := cfg.GetIdleTimeout(); got != 60*time.Second {
		t.Errorf("GetIdleTimeout() = %v", got)
	}
}
