package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "projectchat.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	path := DefaultConfigFile
	if p := os.Getenv("PROJECTCHAT_CONFIG"); p != "" {
		path = p
	}
	return LoadFrom(path)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	return LoadWithOverrides(yamlPath, Overrides{})
}

// Overrides holds command-line values. Nil fields were not set on the command
// line and leave the lower layers untouched.
type Overrides struct {
	Port     *string
	LogLevel *string
	Driver   *string
	DSN      *string
	NATSURL  *string
}

// LoadWithOverrides returns a Config using the hierarchy:
// defaults < YAML < ENV < command-line overrides.
func LoadWithOverrides(yamlPath string, o Overrides) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)
	applyOverrides(&cfg, o)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "PROJECTCHAT_PORT")
	setString(&cfg.Server.CORSOrigin, "PROJECTCHAT_CORS_ORIGIN")
	setDuration(&cfg.Server.ShutdownTimeout, "PROJECTCHAT_SHUTDOWN_TIMEOUT")

	setString(&cfg.Storage.Driver, "PROJECTCHAT_STORAGE_DRIVER")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "PROJECTCHAT_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "PROJECTCHAT_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "PROJECTCHAT_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "PROJECTCHAT_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "PROJECTCHAT_PG_HEALTH_CHECK")
	setString(&cfg.SQLite.Path, "PROJECTCHAT_SQLITE_PATH")

	setString(&cfg.NATS.URL, "NATS_URL")
	setBool(&cfg.NATS.Enabled, "PROJECTCHAT_NATS_ENABLED")
	setString(&cfg.NATS.IdempotencyBucket, "PROJECTCHAT_IDEMPOTENCY_BUCKET")
	setDuration(&cfg.NATS.IdempotencyTTL, "PROJECTCHAT_IDEMPOTENCY_TTL")

	setString(&cfg.LiteLLM.URL, "LITELLM_URL")
	setString(&cfg.LiteLLM.MasterKey, "LITELLM_MASTER_KEY")
	setString(&cfg.LiteLLM.Model, "PROJECTCHAT_LLM_MODEL")
	setDuration(&cfg.LiteLLM.RequestTimeout, "PROJECTCHAT_LLM_TIMEOUT")

	setString(&cfg.Logging.Level, "PROJECTCHAT_LOG_LEVEL")
	setString(&cfg.Logging.Service, "PROJECTCHAT_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "PROJECTCHAT_LOG_ASYNC")

	setInt(&cfg.Breaker.MaxFailures, "PROJECTCHAT_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "PROJECTCHAT_BREAKER_TIMEOUT")

	setFloat64(&cfg.Rate.RequestsPerSecond, "PROJECTCHAT_RATE_RPS")
	setInt(&cfg.Rate.Burst, "PROJECTCHAT_RATE_BURST")
	setDuration(&cfg.Rate.CleanupInterval, "PROJECTCHAT_RATE_CLEANUP_INTERVAL")
	setDuration(&cfg.Rate.MaxIdleTime, "PROJECTCHAT_RATE_MAX_IDLE_TIME")

	// Orchestrator
	setInt(&cfg.Orchestrator.MaxToolRounds, "PROJECTCHAT_MAX_TOOL_ROUNDS")
	setInt(&cfg.Orchestrator.MaxParallelTools, "PROJECTCHAT_MAX_PARALLEL_TOOLS")
	setString(&cfg.Orchestrator.FallbackMessage, "PROJECTCHAT_FALLBACK_MESSAGE")
	setString(&cfg.Orchestrator.SystemPrompt, "PROJECTCHAT_SYSTEM_PROMPT")

	// Cache
	setInt64(&cfg.Cache.L1MaxSizeMB, "PROJECTCHAT_CACHE_L1_SIZE_MB")
	setString(&cfg.Cache.L2Bucket, "PROJECTCHAT_CACHE_L2_BUCKET")
	setDuration(&cfg.Cache.L2TTL, "PROJECTCHAT_CACHE_L2_TTL")
	setDuration(&cfg.Cache.TTL, "PROJECTCHAT_CACHE_TTL")

	setBool(&cfg.Auth.Enabled, "PROJECTCHAT_AUTH_ENABLED")
	setString(&cfg.Auth.DefaultUser, "PROJECTCHAT_AUTH_DEFAULT_USER")

	setBool(&cfg.OTEL.Enabled, "PROJECTCHAT_OTEL_ENABLED")
	setString(&cfg.OTEL.Endpoint, "PROJECTCHAT_OTEL_ENDPOINT")
	setString(&cfg.OTEL.ServiceName, "PROJECTCHAT_OTEL_SERVICE_NAME")
	setBool(&cfg.OTEL.Insecure, "PROJECTCHAT_OTEL_INSECURE")
	setFloat64(&cfg.OTEL.SampleRate, "PROJECTCHAT_OTEL_SAMPLE_RATE")

	setBool(&cfg.MCP.Enabled, "PROJECTCHAT_MCP_ENABLED")
	setString(&cfg.MCP.APIKey, "PROJECTCHAT_MCP_API_KEY")
}

func applyOverrides(cfg *Config, o Overrides) {
	if o.Port != nil {
		cfg.Server.Port = *o.Port
	}
	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
	if o.Driver != nil {
		cfg.Storage.Driver = *o.Driver
	}
	if o.DSN != nil {
		cfg.Postgres.DSN = *o.DSN
	}
	if o.NATSURL != nil {
		cfg.NATS.URL = *o.NATSURL
	}
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	switch strings.ToLower(cfg.Storage.Driver) {
	case DriverPostgres:
		if cfg.Postgres.DSN == "" {
			return errors.New("postgres.dsn is required")
		}
		if cfg.Postgres.MaxConns < 1 {
			return errors.New("postgres.max_conns must be >= 1")
		}
	case DriverSQLite:
		if cfg.SQLite.Path == "" {
			return errors.New("sqlite.path is required")
		}
	default:
		return fmt.Errorf("storage.driver %q is not supported", cfg.Storage.Driver)
	}
	cfg.Storage.Driver = strings.ToLower(cfg.Storage.Driver)
	if cfg.NATS.Enabled && cfg.NATS.URL == "" {
		return errors.New("nats.url is required when nats is enabled")
	}
	if cfg.LiteLLM.URL == "" {
		return errors.New("litellm.url is required")
	}
	if cfg.LiteLLM.Model == "" {
		return errors.New("litellm.model is required")
	}
	if cfg.LiteLLM.RequestTimeout <= 0 {
		return errors.New("litellm.request_timeout must be > 0")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Rate.Burst < 1 {
		return errors.New("rate.burst must be >= 1")
	}
	if cfg.Orchestrator.MaxToolRounds < 1 {
		return errors.New("orchestrator.max_tool_rounds must be >= 1")
	}
	if cfg.Orchestrator.MaxParallelTools < 1 {
		return errors.New("orchestrator.max_parallel_tools must be >= 1")
	}
	if strings.TrimSpace(cfg.Orchestrator.FallbackMessage) == "" {
		return errors.New("orchestrator.fallback_message is required")
	}
	if !cfg.Auth.Enabled && cfg.Auth.DefaultUser == "" {
		return errors.New("auth.default_user is required when auth is disabled")
	}
	if cfg.OTEL.SampleRate < 0 || cfg.OTEL.SampleRate > 1 {
		return errors.New("otel.sample_rate must be between 0 and 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
