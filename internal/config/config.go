package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gatekeeper/internal/models"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "GATEKEEPER_"

// Load loads configuration from file and environment variables
func Load(configPath string) (*models.Config, error) {
	config := models.NewDefaultConfig()

	if configPath != "" {
		if err := loadFromFile(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	loadFromEnvironment(config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// legacyConfig mirrors keys that an older single-limit layout used.
type legacyConfig struct {
	Security struct {
		RateLimit interface{} `yaml:"rate_limit"`
	} `yaml:"security"`
	RateLimit struct {
		RequestsPerMinute interface{} `yaml:"requests_per_minute"`
		Burst             interface{} `yaml:"burst"`
	} `yaml:"rate_limit"`
}

// warnLegacyKeys logs a warning for each unsupported key found in the YAML
// data. The keys are ignored by the main decoder.
func warnLegacyKeys(data []byte) {
	var legacy legacyConfig
	if err := yaml.Unmarshal(data, &legacy); err != nil {
		return
	}
	if legacy.Security.RateLimit != nil {
		slog.Warn("Config key is no longer supported; define policies under rate_limit.policies", "config_key", "security.rate_limit")
	}
	if legacy.RateLimit.RequestsPerMinute != nil {
		slog.Warn("Config key is no longer supported; set max_units and window on a policy", "config_key", "rate_limit.requests_per_minute")
	}
	if legacy.RateLimit.Burst != nil {
		slog.Warn("Config key is no longer supported; use a token_bucket policy", "config_key", "rate_limit.burst")
	}
}

// loadFromFile loads configuration from a YAML file
func loadFromFile(config *models.Config, filePath string) error {
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s", filePath)
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	warnLegacyKeys(data)
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}
	return nil
}

func envString(name string, dst *string) {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		*dst = v
	}
}

func envInt(name string, dst *int) {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		} else {
			slog.Warn("Ignoring invalid integer environment override", "variable", EnvPrefix+name, "value", v)
		}
	}
}

func envBool(name string, dst *bool) {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		*dst = strings.ToLower(v) == "true"
	}
}

func envDuration(name string, dst *time.Duration) {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		} else {
			slog.Warn("Ignoring invalid duration environment override", "variable", EnvPrefix+name, "value", v)
		}
	}
}

// loadFromEnvironment loads configuration from environment variables
func loadFromEnvironment(config *models.Config) {
	// Server configuration
	envInt("PORT", &config.Server.Port)
	envString("HOST", &config.Server.Host)
	envDuration("READ_TIMEOUT", &config.Server.ReadTimeout)
	envDuration("WRITE_TIMEOUT", &config.Server.WriteTimeout)
	envDuration("IDLE_TIMEOUT", &config.Server.IdleTimeout)
	envBool("TLS_ENABLED", &config.Server.TLSEnabled)
	envString("TLS_CERT_FILE", &config.Server.TLSCertFile)
	envString("TLS_KEY_FILE", &config.Server.TLSKeyFile)

	// Upstream configuration
	envString("UPSTREAM_URL", &config.Upstream.URL)
	envDuration("UPSTREAM_TIMEOUT", &config.Upstream.Timeout)
	envBool("UPSTREAM_PRESERVE_HOST", &config.Upstream.PreserveHost)

	// Rate limit configuration
	envBool("RATE_LIMIT_ENABLED", &config.RateLimit.Enabled)
	envString("RATE_LIMIT_DEFAULT_POLICY", &config.RateLimit.DefaultPolicy)
	envBool("RATE_LIMIT_TRUST_REMOTE_ADDR", &config.RateLimit.TrustRemoteAddr)
	envDuration("RATE_LIMIT_CLEANUP_INTERVAL", &config.RateLimit.CleanupInterval)

	// Storage configuration
	envString("STORAGE_TYPE", &config.Storage.Type)
	envString("STORAGE_PATH", &config.Storage.Path)
	envDuration("STORAGE_RETENTION", &config.Storage.Retention)
	envDuration("STORAGE_RETENTION_INTERVAL", &config.Storage.RetentionInterval)
	envString("DATABASE_DSN", &config.Storage.Database.DSN)
	envInt("DATABASE_MAX_OPEN_CONNS", &config.Storage.Database.MaxOpenConns)
	envInt("DATABASE_MAX_IDLE_CONNS", &config.Storage.Database.MaxIdleConns)
	envDuration("DATABASE_CONN_MAX_LIFETIME", &config.Storage.Database.ConnMaxLifetime)

	// Security configuration
	envBool("ENABLE_AUTH", &config.Security.EnableAuth)

	// A raw admin key from the environment is hashed immediately and never
	// kept in memory as plaintext.
	if raw := os.Getenv(EnvPrefix + "ADMIN_KEY"); raw != "" {
		config.Security.AdminKeys = append(config.Security.AdminKeys, models.NewAdminKey("env", raw))
	}

	// Logging configuration
	envString("LOG_LEVEL", &config.Logging.Level)
	envString("LOG_FORMAT", &config.Logging.Format)
	envString("LOG_OUTPUT", &config.Logging.Output)
	envString("LOG_FILE_PATH", &config.Logging.FilePath)

	// Metrics configuration
	envBool("METRICS_ENABLED", &config.Metrics.Enabled)
	envString("METRICS_PATH", &config.Metrics.Path)
	envInt("METRICS_PORT", &config.Metrics.Port)

	// Tracing configuration
	envString("SERVICE_NAME", &config.Observability.ServiceName)
	envBool("TRACING_ENABLED", &config.Observability.Tracing.Enabled)
	envString("TRACING_EXPORTER", &config.Observability.Tracing.Exporter)
	envString("OTLP_ENDPOINT", &config.Observability.Tracing.OTLPEndpoint)
}

// ExampleConfig returns the configuration written by SaveExample: defaults
// plus a route table binding the studio's endpoints to the preset policies.
func ExampleConfig() *models.Config {
	config := models.NewDefaultConfig()

	config.Upstream.URL = "http://127.0.0.1:3000"

	config.RateLimit.Routes = []models.RouteConfig{
		{PathPrefix: "/api/auth/login", Methods: []string{"POST"}, Policy: "auth"},
		{PathPrefix: "/api/auth/reset-password", Methods: []string{"POST"}, Policy: "passwordReset"},
		{PathPrefix: "/api/contact", Methods: []string{"POST"}, Policy: "contact"},
		{PathPrefix: "/api/bookings", Methods: []string{"POST"}, Policy: "booking"},
		{PathPrefix: "/api/uploads", Methods: []string{"POST", "PUT"}, Policy: "upload"},
		{PathPrefix: "/api/search", Policy: "search"},
		{PathPrefix: "/api/newsletter", Methods: []string{"POST"}, Policy: "email"},
	}
	config.RateLimit.Policies = map[string]models.PolicyConfig{
		"upload": {Algorithm: models.AlgorithmTokenBucket, MaxUnits: 20, RefillRate: 1, RefillPeriod: 3 * time.Minute},
		"search": {Algorithm: models.AlgorithmSlidingWindow},
	}

	config.Security.AdminKeys = []models.AdminKey{
		models.NewAdminKey("ops", "gk_replace-with-a-generated-key"),
	}

	config.Server.TLSCertFile = "/path/to/cert.pem"
	config.Server.TLSKeyFile = "/path/to/key.pem"

	return config
}

// SaveExample saves an example configuration file
func SaveExample(filePath string) error {
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := yaml.Marshal(ExampleConfig())
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
