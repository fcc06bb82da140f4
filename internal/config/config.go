// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string

	Model        ModelConfig
	Tools        ToolsConfig
	Orchestrator OrchestratorConfig
	Sweep        SweepConfig
	RateLimit    RateLimitConfig
	SSE          SSEConfig
}

// ModelConfig configures the model gateway.
type ModelConfig struct {
	BaseURL string
	APIKey  string
	Name    string
	// MaxRetries bounds retry attempts for retryable gateway failures.
	MaxRetries int
}

// ToolsConfig configures the external tool provider client.
type ToolsConfig struct {
	ProviderURL string
	Timeout     time.Duration
}

// OrchestratorConfig controls the per-session loop.
type OrchestratorConfig struct {
	MaxIterations    int
	ApprovalTimeout  time.Duration
	VerifyCompletion bool
	EventBuffer      int
}

// SweepConfig controls the session cleanup sweeper.
type SweepConfig struct {
	Interval  time.Duration
	Retention time.Duration
}

// RateLimitConfig controls per-client request throttling.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// SSEConfig controls server-sent event stream behavior.
type SSEConfig struct {
	KeepaliveInterval  time.Duration
	RetryDelay         time.Duration
	MaxRequestBodySize int64
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/voxagent.db"),
		Model: ModelConfig{
			BaseURL:    getEnv("MODEL_BASE_URL", ""),
			APIKey:     getEnv("MODEL_API_KEY", ""),
			Name:       getEnv("MODEL_NAME", "gpt-4o-mini"),
			MaxRetries: getEnvInt("GATEWAY_MAX_RETRIES", 2),
		},
		Tools: ToolsConfig{
			ProviderURL: getEnv("TOOL_PROVIDER_URL", ""),
			Timeout:     getEnvDuration("TOOL_TIMEOUT", 60*time.Second),
		},
		Orchestrator: OrchestratorConfig{
			MaxIterations:    getEnvInt("MAX_ITERATIONS", 10),
			ApprovalTimeout:  getEnvDuration("APPROVAL_TIMEOUT", 5*time.Minute),
			VerifyCompletion: getEnvBool("VERIFY_COMPLETION", false),
			EventBuffer:      getEnvInt("EVENT_BUFFER", 256),
		},
		Sweep: SweepConfig{
			Interval:  getEnvDuration("SWEEP_INTERVAL", 5*time.Minute),
			Retention: getEnvDuration("SESSION_RETENTION", time.Hour),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_RPM", 30),
			WindowDuration:    time.Minute,
		},
		SSE: SSEConfig{
			KeepaliveInterval:  getEnvDuration("SSE_KEEPALIVE_INTERVAL", 10*time.Second),
			RetryDelay:         getEnvDuration("SSE_RETRY_DELAY", 5*time.Second),
			MaxRequestBodySize: int64(getEnvInt("MAX_REQUEST_BODY_SIZE", 1<<20)),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.Model.Name == "" {
		return fmt.Errorf("MODEL_NAME cannot be empty")
	}
	if c.Model.MaxRetries < 0 {
		return fmt.Errorf("GATEWAY_MAX_RETRIES must be >= 0")
	}
	if c.Orchestrator.MaxIterations <= 0 {
		return fmt.Errorf("MAX_ITERATIONS must be > 0")
	}
	if c.Orchestrator.ApprovalTimeout <= 0 {
		return fmt.Errorf("APPROVAL_TIMEOUT must be > 0")
	}
	if c.Orchestrator.EventBuffer <= 0 {
		return fmt.Errorf("EVENT_BUFFER must be > 0")
	}
	if c.Sweep.Interval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be > 0")
	}
	if c.Sweep.Retention <= 0 {
		return fmt.Errorf("SESSION_RETENTION must be > 0")
	}
	if c.RateLimit.RequestsPerWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPM must be > 0")
	}
	if c.SSE.MaxRequestBodySize <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
