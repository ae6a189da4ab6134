// Package config provides configuration structures and loading logic for
// the execution core and its serving surfaces.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/sequorlabs/sequor/internal/governance"
	"github.com/sequorlabs/sequor/pkg/logging"
	"github.com/sequorlabs/sequor/pkg/policy"
	"github.com/sequorlabs/sequor/pkg/telemetry"
)

// Config holds the global configuration.
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Executor  ExecutorConfig   `yaml:"executor"`
	Policy    policy.Config    `yaml:"policy"`
	Audit     AuditConfig      `yaml:"audit"`
	Telemetry telemetry.Config `yaml:"telemetry"`
	Logging   logging.Config   `yaml:"logging"`
}

// ServerConfig holds configuration for the HTTP API.
type ServerConfig struct {
	Address        string `yaml:"address" validate:"required"`
	MetricsAddress string `yaml:"metrics_address"`
}

// ExecutorConfig holds governance tuning for the graph executor.
// Durations are Go duration strings ("100ms", "30s").
type ExecutorConfig struct {
	MaxRetries       int     `yaml:"max_retries" validate:"gte=0"`
	InitialDelay     string  `yaml:"initial_delay"`
	MaxDelay         string  `yaml:"max_delay"`
	BackoffBase      float64 `yaml:"backoff_base" validate:"gte=0"`
	FailureThreshold int     `yaml:"failure_threshold" validate:"gte=0"`
	RecoveryTimeout  string  `yaml:"recovery_timeout"`
	HalfOpenMaxCalls int     `yaml:"half_open_max_calls" validate:"gte=0"`
	RunTimeout       string  `yaml:"run_timeout"`
	FailFast         bool    `yaml:"fail_fast"`
}

// AuditConfig holds ledger configuration.
type AuditConfig struct {
	AgentID string `yaml:"agent_id"`
	// DatabasePath enables SQLite persistence when set.
	DatabasePath string `yaml:"database_path"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address:        ":8080",
			MetricsAddress: ":9090",
		},
		Executor: ExecutorConfig{
			MaxRetries:       3,
			InitialDelay:     "100ms",
			MaxDelay:         "5s",
			BackoffBase:      2.0,
			FailureThreshold: 5,
			RecoveryTimeout:  "30s",
			HalfOpenMaxCalls: 3,
			RunTimeout:       "30s",
		},
		Policy: policy.Config{
			Mode: policy.ModeDenyList,
		},
		Audit: AuditConfig{
			AgentID: "default-agent",
		},
		Logging: logging.Config{
			Level: "info",
		},
	}
}

// Load reads configuration from a file and applies environment variable
// overrides. An empty path loads defaults plus environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		//nolint:gosec // Config file path is controlled by admin/operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("SEQUOR_ADDR"); val != "" {
		cfg.Server.Address = val
	}
	if val := os.Getenv("SEQUOR_METRICS_ADDR"); val != "" {
		cfg.Server.MetricsAddress = val
	}
	if val := os.Getenv("SEQUOR_OTLP_ENDPOINT"); val != "" {
		cfg.Telemetry.Endpoint = val
	}
	if val := os.Getenv("SEQUOR_OTLP_INSECURE"); val == "true" {
		cfg.Telemetry.Insecure = true
	}
	if val := os.Getenv("SEQUOR_AGENT_ID"); val != "" {
		cfg.Audit.AgentID = val
	}
	if val := os.Getenv("SEQUOR_AUDIT_DB"); val != "" {
		cfg.Audit.DatabasePath = val
	}
	if val := os.Getenv("SEQUOR_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv("SEQUOR_RUN_TIMEOUT"); val != "" {
		cfg.Executor.RunTimeout = val
	}
	if val := os.Getenv("SEQUOR_FAIL_FAST"); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			cfg.Executor.FailFast = parsed
		}
	}
}

// Validate checks the configuration, including duration parsing.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return err
	}

	for name, value := range map[string]string{
		"executor.initial_delay":    c.Executor.InitialDelay,
		"executor.max_delay":        c.Executor.MaxDelay,
		"executor.recovery_timeout": c.Executor.RecoveryTimeout,
		"executor.run_timeout":      c.Executor.RunTimeout,
	} {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid duration for %s: %w", name, err)
		}
	}
	return nil
}

// RetryConfig converts the executor section to a governance retry config.
func (c *ExecutorConfig) RetryConfig() governance.RetryConfig {
	cfg := governance.DefaultRetryConfig()
	cfg.MaxRetries = c.MaxRetries
	if d, err := time.ParseDuration(c.InitialDelay); err == nil && d > 0 {
		cfg.InitialDelay = d
	}
	if d, err := time.ParseDuration(c.MaxDelay); err == nil && d > 0 {
		cfg.MaxDelay = d
	}
	if c.BackoffBase > 0 {
		cfg.Base = c.BackoffBase
	}
	return cfg
}

// BreakerConfig converts the executor section to a circuit breaker config.
func (c *ExecutorConfig) BreakerConfig() governance.CircuitBreakerConfig {
	cfg := governance.DefaultCircuitBreakerConfig()
	if c.FailureThreshold > 0 {
		cfg.FailureThreshold = c.FailureThreshold
	}
	if d, err := time.ParseDuration(c.RecoveryTimeout); err == nil && d > 0 {
		cfg.RecoveryTimeout = d
	}
	if c.HalfOpenMaxCalls > 0 {
		cfg.HalfOpenMaxCalls = c.HalfOpenMaxCalls
	}
	return cfg
}

// RunTimeoutDuration returns the parsed run budget, or the 30s default.
func (c *ExecutorConfig) RunTimeoutDuration() time.Duration {
	if d, err := time.ParseDuration(c.RunTimeout); err == nil && d > 0 {
		return d
	}
	return 30 * time.Second
}
