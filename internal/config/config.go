// Package config provides configuration management for the gateway server.
// It handles loading and parsing the YAML configuration file, captures the environment
// fallback values once at startup, and resolves the per-request GatewayConfig.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPort               = 8317
	DefaultRegion             = "us-central1"
	DefaultRequestTimeout     = 120
	DefaultTokenRefreshMargin = 60

	DefaultGlobalEndpoint   = "https://aiplatform.googleapis.com"
	DefaultRegionalEndpoint = "https://%s-aiplatform.googleapis.com"
	DefaultTokenEndpoint    = "https://oauth2.googleapis.com/token"
)

// Settings backends.
const (
	SettingsBackendNone     = "none"
	SettingsBackendFile     = "file"
	SettingsBackendRedis    = "redis"
	SettingsBackendPostgres = "postgres"
)

// Config represents the application's configuration, loaded from a YAML file.
type Config struct {
	// Host is the network interface the server binds to. Empty binds all interfaces.
	Host string `yaml:"host" json:"host"`

	// Port is the network port on which the gateway listens.
	Port int `yaml:"port" json:"port"`

	// Debug enables debug-level logging and gin debug mode.
	Debug bool `yaml:"debug" json:"debug"`

	// LoggingToFile writes logs to a rotating file instead of stdout.
	LoggingToFile bool `yaml:"logging-to-file" json:"logging-to-file"`

	// LogDir is the directory used for rotating log files. Defaults to "logs".
	LogDir string `yaml:"log-dir,omitempty" json:"log-dir,omitempty"`

	// LogsMaxTotalSizeMB caps the total size of rotated log files; 0 disables pruning.
	LogsMaxTotalSizeMB int `yaml:"logs-max-total-size-mb" json:"logs-max-total-size-mb"`

	// ProxyURL is the URL of an optional proxy server to use for outbound requests.
	ProxyURL string `yaml:"proxy-url" json:"proxy-url"`

	// RequestTimeoutSeconds bounds a whole gateway request, retries included.
	RequestTimeoutSeconds int `yaml:"request-timeout-seconds" json:"request-timeout-seconds"`

	// TokenRefreshMarginSeconds is how long before expiry a cached token is considered stale.
	TokenRefreshMarginSeconds int `yaml:"token-refresh-margin-seconds" json:"token-refresh-margin-seconds"`

	// Vertex configures the upstream provider endpoints.
	Vertex VertexConfig `yaml:"vertex" json:"vertex"`

	// Settings selects the deployment settings store.
	Settings SettingsConfig `yaml:"settings" json:"settings"`

	// Metrics configures the prometheus endpoint.
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
}

// VertexConfig holds upstream endpoint overrides.
type VertexConfig struct {
	// GlobalEndpoint is the base URL for models served from the global location.
	GlobalEndpoint string `yaml:"global-endpoint,omitempty" json:"global-endpoint,omitempty"`

	// RegionalEndpoint is a format string receiving the region, e.g. "https://%s-aiplatform.googleapis.com".
	RegionalEndpoint string `yaml:"regional-endpoint,omitempty" json:"regional-endpoint,omitempty"`

	// TokenEndpoint overrides the token_uri of the service account.
	TokenEndpoint string `yaml:"token-endpoint,omitempty" json:"token-endpoint,omitempty"`

	// MetadataServer enables the platform metadata token source when no service account is configured.
	MetadataServer bool `yaml:"metadata-server" json:"metadata-server"`
}

// SettingsConfig selects and configures the settings store backend.
type SettingsConfig struct {
	Backend  string                 `yaml:"backend" json:"backend"`
	File     string                 `yaml:"file,omitempty" json:"file,omitempty"`
	Redis    RedisSettingsConfig    `yaml:"redis,omitempty" json:"redis,omitempty"`
	Postgres PostgresSettingsConfig `yaml:"postgres,omitempty" json:"postgres,omitempty"`
}

// RedisSettingsConfig points at a Redis hash holding project-id and region fields.
type RedisSettingsConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password,omitempty" json:"password,omitempty"`
	DB       int    `yaml:"db,omitempty" json:"db,omitempty"`
	Key      string `yaml:"key,omitempty" json:"key,omitempty"`
}

// PostgresSettingsConfig points at a key/value settings table.
type PostgresSettingsConfig struct {
	DSN    string `yaml:"dsn" json:"dsn"`
	Schema string `yaml:"schema,omitempty" json:"schema,omitempty"`
	Table  string `yaml:"table,omitempty" json:"table,omitempty"`
	// EnsureSchema creates the schema and table at startup. Needs DDL privileges.
	EnsureSchema bool `yaml:"ensure-schema,omitempty" json:"ensure-schema,omitempty"`
}

// MetricsConfig toggles the prometheus handler.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.Vertex.MetadataServer = true
	cfg.Metrics.Enabled = true
	cfg.Sanitize()
	return cfg
}

// LoadConfig reads and parses the YAML configuration at configFile.
func LoadConfig(configFile string) (*Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg := Default()
	if len(strings.TrimSpace(string(data))) == 0 {
		return cfg, nil
	}
	if err = yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.Sanitize()
	return cfg, nil
}

// LoadConfigOptional behaves like LoadConfig but returns defaults when the file does not exist.
func LoadConfigOptional(configFile string) (*Config, error) {
	if strings.TrimSpace(configFile) == "" {
		return Default(), nil
	}
	cfg, err := LoadConfig(configFile)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, err
	}
	return cfg, nil
}

// Sanitize fills defaults and normalizes string fields in place.
func (cfg *Config) Sanitize() {
	if cfg == nil {
		return
	}
	cfg.Host = strings.TrimSpace(cfg.Host)
	if cfg.Port <= 0 {
		cfg.Port = DefaultPort
	}
	if strings.TrimSpace(cfg.LogDir) == "" {
		cfg.LogDir = "logs"
	}
	if cfg.LogsMaxTotalSizeMB < 0 {
		cfg.LogsMaxTotalSizeMB = 0
	}
	cfg.ProxyURL = strings.TrimSpace(cfg.ProxyURL)
	if cfg.RequestTimeoutSeconds <= 0 {
		cfg.RequestTimeoutSeconds = DefaultRequestTimeout
	}
	if cfg.TokenRefreshMarginSeconds <= 0 {
		cfg.TokenRefreshMarginSeconds = DefaultTokenRefreshMargin
	}

	v := &cfg.Vertex
	v.GlobalEndpoint = strings.TrimRight(strings.TrimSpace(v.GlobalEndpoint), "/")
	if v.GlobalEndpoint == "" {
		v.GlobalEndpoint = DefaultGlobalEndpoint
	}
	v.RegionalEndpoint = strings.TrimRight(strings.TrimSpace(v.RegionalEndpoint), "/")
	if v.RegionalEndpoint == "" {
		v.RegionalEndpoint = DefaultRegionalEndpoint
	}
	v.TokenEndpoint = strings.TrimSpace(v.TokenEndpoint)

	s := &cfg.Settings
	s.Backend = strings.ToLower(strings.TrimSpace(s.Backend))
	if s.Backend == "" {
		s.Backend = SettingsBackendNone
	}
	s.File = strings.TrimSpace(s.File)
	s.Redis.Addr = strings.TrimSpace(s.Redis.Addr)
	if strings.TrimSpace(s.Redis.Key) == "" {
		s.Redis.Key = "gateway:settings"
	}
	s.Postgres.DSN = strings.TrimSpace(s.Postgres.DSN)
	s.Postgres.Schema = strings.TrimSpace(s.Postgres.Schema)
	if strings.TrimSpace(s.Postgres.Table) == "" {
		s.Postgres.Table = "gateway_settings"
	}
}

// RequestTimeout returns the whole-request deadline.
func (cfg *Config) RequestTimeout() time.Duration {
	return time.Duration(cfg.RequestTimeoutSeconds) * time.Second
}

// TokenRefreshMargin returns the token expiry safety margin.
func (cfg *Config) TokenRefreshMargin() time.Duration {
	return time.Duration(cfg.TokenRefreshMarginSeconds) * time.Second
}
