// Package models - Service configuration and operational settings.
// This file defines the configuration tree for every gatekeeper component.
//
// Configuration Philosophy:
// - Hierarchical configuration with logical grouping (server, rate limiting, storage, etc.)
// - Defaults that work out of the box for a single studio deployment
// - Validation catches misconfigurations before the server starts
// - Named rate limit policies default to the built-in presets and may be overridden
package models

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Storage type constants
const (
	StorageTypeJSON     = "json"
	StorageTypeMemory   = "memory"
	StorageTypePostgres = "postgres"
	StorageTypeSQLite   = "sqlite"
)

// Rate limit algorithm names accepted in configuration.
const (
	AlgorithmFixedWindow   = "fixed_window"
	AlgorithmSlidingWindow = "sliding_window"
	AlgorithmTokenBucket   = "token_bucket"
)

// Config is the root configuration structure containing all service settings.
//
// Configuration Structure:
// - Server: HTTP listener settings
// - Upstream: the studio application requests are forwarded to
// - RateLimit: named policies and the route table that selects them
// - Storage: violation audit log backend
// - Security: admin API authentication
// - Logging, Metrics, Observability: operational output
type Config struct {
	Server        ServerConfig        `yaml:"server" json:"server"`
	Upstream      UpstreamConfig      `yaml:"upstream" json:"upstream"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit" json:"rate_limit"`
	Storage       StorageConfig       `yaml:"storage" json:"storage"`
	Security      SecurityConfig      `yaml:"security" json:"security"`
	Logging       LoggingConfig       `yaml:"logging" json:"logging"`
	Metrics       MetricsConfig       `yaml:"metrics" json:"metrics"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

type ServerConfig struct {
	Port         int           `yaml:"port" json:"port"`
	Host         string        `yaml:"host" json:"host"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	TLSEnabled   bool          `yaml:"tls_enabled" json:"tls_enabled"`
	TLSCertFile  string        `yaml:"tls_cert_file" json:"tls_cert_file"`
	TLSKeyFile   string        `yaml:"tls_key_file" json:"tls_key_file"`
}

// UpstreamConfig points at the application behind the gatekeeper. An empty URL
// disables proxying; only the rate limit API is served.
type UpstreamConfig struct {
	URL          string        `yaml:"url" json:"url"`
	Timeout      time.Duration `yaml:"timeout" json:"timeout"`
	PreserveHost bool          `yaml:"preserve_host" json:"preserve_host"`
}

type RateLimitConfig struct {
	Enabled         bool                    `yaml:"enabled" json:"enabled"`
	DefaultPolicy   string                  `yaml:"default_policy" json:"default_policy"`
	TrustRemoteAddr bool                    `yaml:"trust_remote_addr" json:"trust_remote_addr"`
	CleanupInterval time.Duration           `yaml:"cleanup_interval" json:"cleanup_interval"`
	Policies        map[string]PolicyConfig `yaml:"policies" json:"policies"`
	Routes          []RouteConfig           `yaml:"routes" json:"routes"`
}

// PolicyConfig overrides or defines a named policy. Zero fields inherit from
// the preset of the same name when there is one.
type PolicyConfig struct {
	Algorithm    string        `yaml:"algorithm" json:"algorithm"`
	MaxUnits     int           `yaml:"max_units" json:"max_units"`
	Window       time.Duration `yaml:"window" json:"window"`
	RefillRate   float64       `yaml:"refill_rate" json:"refill_rate"`
	RefillPeriod time.Duration `yaml:"refill_period" json:"refill_period"`
	Identifier   string        `yaml:"identifier" json:"identifier"`
}

// RouteConfig binds requests whose path starts with PathPrefix (and whose
// method is listed, when Methods is non-empty) to a policy.
type RouteConfig struct {
	PathPrefix string   `yaml:"path_prefix" json:"path_prefix"`
	Methods    []string `yaml:"methods" json:"methods"`
	Policy     string   `yaml:"policy" json:"policy"`
}

type StorageConfig struct {
	Type              string         `yaml:"type" json:"type"`
	Path              string         `yaml:"path" json:"path"`
	Database          DatabaseConfig `yaml:"database" json:"database"`
	Retention         time.Duration  `yaml:"retention" json:"retention"`
	RetentionInterval time.Duration  `yaml:"retention_interval" json:"retention_interval"`
}

type DatabaseConfig struct {
	DSN             string        `yaml:"dsn" json:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
}

type SecurityConfig struct {
	EnableAuth bool       `yaml:"enable_auth" json:"enable_auth"`
	AdminKeys  []AdminKey `yaml:"admin_keys" json:"admin_keys"`
}

type LoggingConfig struct {
	Level    string `yaml:"level" json:"level"`
	Format   string `yaml:"format" json:"format"`
	Output   string `yaml:"output" json:"output"`
	FilePath string `yaml:"file_path" json:"file_path"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
	Port    int    `yaml:"port" json:"port"`
}

type ObservabilityConfig struct {
	ServiceName string        `yaml:"service_name" json:"service_name"`
	Tracing     TracingConfig `yaml:"tracing" json:"tracing"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	Exporter     string  `yaml:"exporter" json:"exporter"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" json:"otlp_endpoint"`
	SampleRate   float64 `yaml:"sample_rate" json:"sample_rate"`
}

// NewDefaultConfig creates a configuration with production-ready defaults.
//
// Default Values Rationale:
// - Port 8080: Standard non-privileged HTTP port
// - Rate limiting enabled with the "api" preset for unmatched routes
// - In-memory violation log with a 7 day retention
// - JSON logs on stdout, metrics on :9090
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			Host:         "0.0.0.0",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Upstream: UpstreamConfig{
			Timeout: 30 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Enabled:         true,
			DefaultPolicy:   "api",
			CleanupInterval: time.Minute,
			Policies:        map[string]PolicyConfig{},
			Routes:          []RouteConfig{},
		},
		Storage: StorageConfig{
			Type:              StorageTypeMemory,
			Path:              "./data/violations.json",
			Retention:         7 * 24 * time.Hour,
			RetentionInterval: time.Hour,
			Database: DatabaseConfig{
				MaxOpenConns:    10,
				MaxIdleConns:    2,
				ConnMaxLifetime: 5 * time.Minute,
			},
		},
		Security: SecurityConfig{
			EnableAuth: true,
			AdminKeys:  []AdminKey{},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
			Port:    9090,
		},
		Observability: ObservabilityConfig{
			ServiceName: "gatekeeper",
			Tracing: TracingConfig{
				Enabled:    false,
				Exporter:   "stdout",
				SampleRate: 1.0,
			},
		},
	}
}

func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("invalid server config: %w", err)
	}

	if err := c.Upstream.Validate(); err != nil {
		return fmt.Errorf("invalid upstream config: %w", err)
	}

	if err := c.RateLimit.Validate(); err != nil {
		return fmt.Errorf("invalid rate limit config: %w", err)
	}

	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("invalid storage config: %w", err)
	}

	if err := c.Security.Validate(); err != nil {
		return fmt.Errorf("invalid security config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("invalid metrics config: %w", err)
	}

	if err := c.Observability.Validate(); err != nil {
		return fmt.Errorf("invalid observability config: %w", err)
	}

	return nil
}

func (sc *ServerConfig) Validate() error {
	if sc.Port <= 0 || sc.Port > 65535 {
		return errors.New("port must be between 1 and 65535")
	}

	if sc.Host == "" {
		return errors.New("host cannot be empty")
	}

	if sc.ReadTimeout < 0 || sc.WriteTimeout < 0 || sc.IdleTimeout < 0 {
		return errors.New("timeouts cannot be negative")
	}

	if sc.TLSEnabled {
		if sc.TLSCertFile == "" {
			return errors.New("TLS cert file is required when TLS is enabled")
		}
		if sc.TLSKeyFile == "" {
			return errors.New("TLS key file is required when TLS is enabled")
		}
	}

	return nil
}

func (uc *UpstreamConfig) Validate() error {
	if uc.Timeout < 0 {
		return errors.New("timeout cannot be negative")
	}
	if uc.URL == "" {
		return nil
	}

	u, err := url.Parse(uc.URL)
	if err != nil {
		return fmt.Errorf("invalid upstream url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("upstream url must use http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("upstream url must include a host")
	}
	return nil
}

func (rc *RateLimitConfig) Validate() error {
	if !rc.Enabled {
		return nil
	}

	if rc.DefaultPolicy == "" {
		return errors.New("default policy cannot be empty")
	}

	if rc.CleanupInterval < 0 {
		return errors.New("cleanup interval cannot be negative")
	}

	for name, pc := range rc.Policies {
		if strings.TrimSpace(name) == "" {
			return errors.New("policy name cannot be empty")
		}
		if err := pc.Validate(); err != nil {
			return fmt.Errorf("policy %s: %w", name, err)
		}
	}

	for i, route := range rc.Routes {
		if !strings.HasPrefix(route.PathPrefix, "/") {
			return fmt.Errorf("route %d: path prefix must start with /", i)
		}
		if route.Policy == "" {
			return fmt.Errorf("route %d: policy cannot be empty", i)
		}
	}

	return nil
}

func (pc *PolicyConfig) Validate() error {
	validAlgorithms := []string{"", AlgorithmFixedWindow, AlgorithmSlidingWindow, AlgorithmTokenBucket}
	found := false
	for _, va := range validAlgorithms {
		if pc.Algorithm == va {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("invalid algorithm: %s", pc.Algorithm)
	}

	if pc.MaxUnits < 0 {
		return errors.New("max units cannot be negative")
	}
	if pc.Window < 0 {
		return errors.New("window cannot be negative")
	}
	if pc.RefillRate < 0 {
		return errors.New("refill rate cannot be negative")
	}
	if pc.RefillPeriod < 0 {
		return errors.New("refill period cannot be negative")
	}

	return nil
}

func (stc *StorageConfig) Validate() error {
	validTypes := []string{StorageTypeJSON, StorageTypeMemory, StorageTypePostgres, StorageTypeSQLite}
	found := false
	for _, vt := range validTypes {
		if stc.Type == vt {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("invalid storage type: %s", stc.Type)
	}

	if stc.Retention < 0 || stc.RetentionInterval < 0 {
		return errors.New("retention durations cannot be negative")
	}

	if stc.Type == StorageTypeJSON && stc.Path == "" {
		return errors.New("path is required for JSON storage")
	}

	if (stc.Type == StorageTypePostgres || stc.Type == StorageTypeSQLite) && stc.Database.DSN == "" {
		return errors.New("database DSN is required for database storage")
	}

	return nil
}

func (sec *SecurityConfig) Validate() error {
	for _, key := range sec.AdminKeys {
		if key.Name == "" {
			return errors.New("admin key name cannot be empty")
		}
		if len(key.KeyHash) != 64 {
			return fmt.Errorf("admin key %s: key_hash must be a SHA-256 hex digest", key.Name)
		}
	}
	return nil
}

func (lc *LoggingConfig) Validate() error {
	validLevels := []string{"debug", "info", "warn", "error"}
	found := false
	for _, vl := range validLevels {
		if lc.Level == vl {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("invalid log level: %s", lc.Level)
	}

	validFormats := []string{"json", "text"}
	found = false
	for _, vf := range validFormats {
		if lc.Format == vf {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("invalid log format: %s", lc.Format)
	}

	validOutputs := []string{"stdout", "stderr", "file"}
	found = false
	for _, vo := range validOutputs {
		if lc.Output == vo {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("invalid log output: %s", lc.Output)
	}

	if lc.Output == "file" && lc.FilePath == "" {
		return errors.New("file path is required when output is file")
	}

	return nil
}

func (mc *MetricsConfig) Validate() error {
	if !mc.Enabled {
		return nil
	}

	if mc.Port <= 0 || mc.Port > 65535 {
		return errors.New("metrics port must be between 1 and 65535")
	}

	if mc.Path == "" || !strings.HasPrefix(mc.Path, "/") {
		return errors.New("metrics path must start with /")
	}

	return nil
}

func (oc *ObservabilityConfig) Validate() error {
	if oc.ServiceName == "" {
		return errors.New("service name cannot be empty")
	}

	if !oc.Tracing.Enabled {
		return nil
	}

	switch oc.Tracing.Exporter {
	case "stdout":
	case "otlp":
		if oc.Tracing.OTLPEndpoint == "" {
			return errors.New("otlp endpoint is required for the otlp exporter")
		}
	default:
		return fmt.Errorf("invalid trace exporter: %s", oc.Tracing.Exporter)
	}

	if oc.Tracing.SampleRate < 0 || oc.Tracing.SampleRate > 1 {
		return errors.New("sample rate must be between 0 and 1")
	}

	return nil
}
