package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "helmsman.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

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
	setString(&cfg.Server.Port, "HELMSMAN_PORT")
	setString(&cfg.Server.CORSOrigin, "HELMSMAN_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "HELMSMAN_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "HELMSMAN_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "HELMSMAN_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "HELMSMAN_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "HELMSMAN_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Logging.Level, "HELMSMAN_LOG_LEVEL")
	setString(&cfg.Logging.Service, "HELMSMAN_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "HELMSMAN_LOG_ASYNC")
	setInt(&cfg.Breaker.MaxFailures, "HELMSMAN_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "HELMSMAN_BREAKER_TIMEOUT")
	setInt(&cfg.Workflow.MaxAttempts, "HELMSMAN_WORKFLOW_MAX_ATTEMPTS")
	setDuration(&cfg.Workflow.RetryBaseDelay, "HELMSMAN_WORKFLOW_RETRY_BASE_DELAY")
	setDuration(&cfg.Workflow.PhaseTimeout, "HELMSMAN_WORKFLOW_PHASE_TIMEOUT")
	setBool(&cfg.Workflow.ResumeOnStart, "HELMSMAN_WORKFLOW_RESUME_ON_START")
	setString(&cfg.Workflow.DefinitionsDir, "HELMSMAN_WORKFLOW_DEFINITIONS_DIR")
	setInt(&cfg.HITL.DefaultActionLimit, "HELMSMAN_HITL_ACTION_LIMIT")
	setDuration(&cfg.HITL.ApprovalExpiry, "HELMSMAN_HITL_APPROVAL_EXPIRY")
	setDuration(&cfg.HITL.SweepInterval, "HELMSMAN_HITL_SWEEP_INTERVAL")
	setInt64(&cfg.Budget.DefaultDailyTokens, "HELMSMAN_BUDGET_DAILY_TOKENS")
	setInt64(&cfg.Budget.DefaultSessionTokens, "HELMSMAN_BUDGET_SESSION_TOKENS")
	setString(&cfg.Budget.ResetWindow, "HELMSMAN_BUDGET_RESET_WINDOW")
	setString(&cfg.Policy.ConfigPath, "HELMSMAN_POLICY_CONFIG")
	setDuration(&cfg.Policy.CacheTTL, "HELMSMAN_POLICY_CACHE_TTL")
	setInt64(&cfg.Cache.L1MaxSizeMB, "HELMSMAN_CACHE_L1_SIZE_MB")
	setBool(&cfg.Telemetry.Enabled, "HELMSMAN_OTEL_ENABLED")
	setString(&cfg.Telemetry.Endpoint, "HELMSMAN_OTEL_ENDPOINT")
	setString(&cfg.Telemetry.ServiceName, "HELMSMAN_OTEL_SERVICE_NAME")
	setFloat64(&cfg.Telemetry.SampleRatio, "HELMSMAN_OTEL_SAMPLE_RATIO")
	setBool(&cfg.Auth.Enabled, "HELMSMAN_AUTH_ENABLED")
	setString(&cfg.Auth.OperatorKeyHash, "HELMSMAN_OPERATOR_KEY_HASH")
}

// validate checks that required fields are set and enums are well-formed.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if cfg.Workflow.MaxAttempts < 1 {
		return errors.New("workflow.max_attempts must be at least 1")
	}
	if cfg.HITL.DefaultActionLimit < 0 {
		return errors.New("hitl.default_action_limit must not be negative")
	}
	if cfg.HITL.ApprovalExpiry <= 0 {
		return errors.New("hitl.approval_expiry must be positive")
	}
	switch cfg.Budget.ResetWindow {
	case "daily_utc", "rolling_24h":
	default:
		return fmt.Errorf("budget.reset_window must be daily_utc or rolling_24h, got %q", cfg.Budget.ResetWindow)
	}
	if cfg.Auth.Enabled && cfg.Auth.OperatorKeyHash == "" {
		return errors.New("auth.operator_key_hash is required when auth is enabled")
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
