package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Daikin Cloud Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Cloud    CloudConfig    `yaml:"cloud"`
	Sync     SyncConfig     `yaml:"sync"`
	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	API      APIConfig      `yaml:"api"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// CloudConfig contains settings for the vendor cloud connection.
type CloudConfig struct {
	// BaseURL is the root of the vendor cloud API.
	BaseURL string `yaml:"base_url"`

	// Username and Password are the account credentials. When set they are
	// written into the credential store on startup; the store is the source
	// of truth afterwards, so they may be left empty on subsequent runs.
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// ClientID and ClientSecret identify the impersonated mobile app.
	// When empty they are resolved from the vendor's credential discovery
	// endpoints during the first login.
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`

	// ClientUUID is the per-installation identifier sent with login requests.
	// Generated and persisted on first run when empty.
	ClientUUID string `yaml:"client_uuid"`

	// AuthMode selects which issued token is presented as the bearer:
	// "id_token" (captured app default) or "access_token". The client
	// falls back to the other type when the preferred one is rejected.
	AuthMode string `yaml:"auth_mode"`

	// RequestTimeout is the per-request HTTP timeout in seconds.
	RequestTimeout int `yaml:"request_timeout"`

	Session SessionConfig `yaml:"session"`
}

// SessionConfig contains session lifecycle tuning.
type SessionConfig struct {
	// FallbackTTL is the assumed session lifetime in minutes when the
	// issued token carries no usable expiry claim.
	FallbackTTL int `yaml:"fallback_ttl"`

	// SafetyMargin is how many minutes before expiry a session is treated
	// as expired and refreshed.
	SafetyMargin int `yaml:"safety_margin"`

	// UnstableThreshold is the number of consecutive invalidations within
	// UnstableWindow that marks the session unstable.
	UnstableThreshold int `yaml:"unstable_threshold"`

	// UnstableWindow is the invalidation counting window in minutes.
	UnstableWindow int `yaml:"unstable_window"`
}

// SyncConfig contains polling and reconciliation tuning.
type SyncConfig struct {
	// Interval is the poll interval in seconds. The captured app polls
	// every 30 seconds; do not go lower against the production cloud.
	Interval int `yaml:"interval"`

	// ConfirmTimeout is how long in seconds a dispatched command may stay
	// pending before it is presumed failed and the optimistic state is
	// reverted to the server snapshot.
	ConfirmTimeout int `yaml:"confirm_timeout"`

	// BackoffInitial and BackoffMax bound the per-unit exponential backoff
	// (seconds) applied after poll transport failures.
	BackoffInitial int `yaml:"backoff_initial"`
	BackoffMax     int `yaml:"backoff_max"`

	// StaleAfter is the number of consecutive poll failures after which a
	// unit's state confidence is marked stale.
	StaleAfter int `yaml:"stale_after"`

	// DiscoveryInterval is how often in seconds the unit catalogue is
	// re-fetched. Discovery also runs once at startup.
	DiscoveryInterval int `yaml:"discovery_interval"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
// The MQTT bridge is optional; when disabled state changes are only
// available through the HTTP API and WebSocket.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host      string           `yaml:"host"`
	Port      int              `yaml:"port"`
	TLS       TLSConfig        `yaml:"tls"`
	Timeouts  APITimeoutConfig `yaml:"timeouts"`
	WebSocket WebSocketConfig  `yaml:"websocket"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings for telemetry history.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: DAIKINCLOUD_SECTION_KEY
// For example: DAIKINCLOUD_CLOUD_PASSWORD, DAIKINCLOUD_DATABASE_PATH
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Cloud: CloudConfig{
			BaseURL:        "https://proddit.ditdeneb.com",
			AuthMode:       "id_token",
			RequestTimeout: 15,
			Session: SessionConfig{
				FallbackTTL:       720,
				SafetyMargin:      5,
				UnstableThreshold: 3,
				UnstableWindow:    10,
			},
		},
		Sync: SyncConfig{
			Interval:          30,
			ConfirmTimeout:    90,
			BackoffInitial:    5,
			BackoffMax:        300,
			StaleAfter:        3,
			DiscoveryInterval: 900,
		},
		Database: DatabaseConfig{
			Path:        "./data/daikincloud.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "daikincloud-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8086,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			WebSocket: WebSocketConfig{
				Path:           "/ws",
				MaxMessageSize: 8192,
				PingInterval:   30,
				PongTimeout:    10,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: DAIKINCLOUD_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Cloud credentials (prefer env over YAML for secrets)
	if v := os.Getenv("DAIKINCLOUD_CLOUD_USERNAME"); v != "" {
		cfg.Cloud.Username = v
	}
	if v := os.Getenv("DAIKINCLOUD_CLOUD_PASSWORD"); v != "" {
		cfg.Cloud.Password = v
	}
	if v := os.Getenv("DAIKINCLOUD_CLOUD_BASE_URL"); v != "" {
		cfg.Cloud.BaseURL = v
	}
	if v := os.Getenv("DAIKINCLOUD_CLOUD_CLIENT_ID"); v != "" {
		cfg.Cloud.ClientID = v
	}
	if v := os.Getenv("DAIKINCLOUD_CLOUD_CLIENT_SECRET"); v != "" {
		cfg.Cloud.ClientSecret = v
	}

	// Database
	if v := os.Getenv("DAIKINCLOUD_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("DAIKINCLOUD_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("DAIKINCLOUD_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("DAIKINCLOUD_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("DAIKINCLOUD_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("DAIKINCLOUD_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	// Cloud validation
	if c.Cloud.BaseURL == "" {
		errs = append(errs, "cloud.base_url is required")
	}
	switch c.Cloud.AuthMode {
	case "id_token", "access_token":
	default:
		errs = append(errs, "cloud.auth_mode must be id_token or access_token")
	}
	if c.Cloud.Session.SafetyMargin < 0 {
		errs = append(errs, "cloud.session.safety_margin must not be negative")
	}
	if c.Cloud.Session.UnstableThreshold < 1 {
		errs = append(errs, "cloud.session.unstable_threshold must be at least 1")
	}

	// Sync validation
	if c.Sync.Interval < 1 {
		errs = append(errs, "sync.interval must be at least 1 second")
	}
	if c.Sync.ConfirmTimeout < c.Sync.Interval {
		errs = append(errs, "sync.confirm_timeout must be at least sync.interval")
	}
	if c.Sync.BackoffInitial < 1 || c.Sync.BackoffMax < c.Sync.BackoffInitial {
		errs = append(errs, "sync.backoff_initial/backoff_max must be positive and ordered")
	}
	if c.Sync.StaleAfter < 1 {
		errs = append(errs, "sync.stale_after must be at least 1")
	}
	if c.Sync.DiscoveryInterval < c.Sync.Interval {
		errs = append(errs, "sync.discovery_interval must be at least sync.interval")
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// API validation
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetRequestTimeout returns the cloud HTTP request timeout as a Duration.
func (c *CloudConfig) GetRequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Second
}

// GetFallbackTTL returns the session fallback TTL as a Duration.
func (c *SessionConfig) GetFallbackTTL() time.Duration {
	return time.Duration(c.FallbackTTL) * time.Minute
}

// GetSafetyMargin returns the session expiry safety margin as a Duration.
func (c *SessionConfig) GetSafetyMargin() time.Duration {
	return time.Duration(c.SafetyMargin) * time.Minute
}

// GetUnstableWindow returns the invalidation counting window as a Duration.
func (c *SessionConfig) GetUnstableWindow() time.Duration {
	return time.Duration(c.UnstableWindow) * time.Minute
}

// GetInterval returns the poll interval as a Duration.
func (c *SyncConfig) GetInterval() time.Duration {
	return time.Duration(c.Interval) * time.Second
}

// GetConfirmTimeout returns the command confirmation timeout as a Duration.
func (c *SyncConfig) GetConfirmTimeout() time.Duration {
	return time.Duration(c.ConfirmTimeout) * time.Second
}

// GetBackoffInitial returns the initial per-unit backoff as a Duration.
func (c *SyncConfig) GetBackoffInitial() time.Duration {
	return time.Duration(c.BackoffInitial) * time.Second
}

// GetBackoffMax returns the maximum per-unit backoff as a Duration.
func (c *SyncConfig) GetBackoffMax() time.Duration {
	return time.Duration(c.BackoffMax) * time.Second
}

// GetDiscoveryInterval returns the catalogue refresh interval as a Duration.
func (c *SyncConfig) GetDiscoveryInterval() time.Duration {
	return time.Duration(c.DiscoveryInterval) * time.Second
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
