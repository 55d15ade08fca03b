package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/zatekoja/clinicalcopilot/pkg/secrets"
)

// Config holds all application configuration
type Config struct {
	App        AppConfig
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	OpenAI     OpenAIConfig
	Anthropic  AnthropicConfig
	DeepSeek   DeepSeekConfig
	Gateway    GatewayConfig
	Breaker    BreakerConfig
	Session    SessionConfig
	Extraction ExtractionConfig
	OTEL       OTELConfig
	// Vault records which credentials were loaded from Vault
	Vault secrets.VaultResult
}

// AppConfig holds process level settings
type AppConfig struct {
	Name     string
	Env      string
	LogLevel string
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host           string
	Port           int
	AllowedOrigins []string
	WriteTimeout   time.Duration
}

// DatabaseConfig holds database configuration for the audit trail
type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// OpenAIConfig holds OpenAI configuration
type OpenAIConfig struct {
	APIKey         string
	Model          string
	BaseURL        string
	RateLimitRPM   int
	RateLimitBurst int
}

// AnthropicConfig holds Anthropic configuration
type AnthropicConfig struct {
	APIKey       string
	Model        string
	BaseURL      string
	RateLimitRPM int
}

// DeepSeekConfig holds configuration for an OpenAI-compatible chat endpoint
type DeepSeekConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

// GatewayConfig controls provider ordering and retries
type GatewayConfig struct {
	PreferredProvider string
	FallbackProviders []string
	MaxRetries        int
	BackoffBase       time.Duration
	BackoffMax        time.Duration
}

// BreakerConfig controls the per-provider circuit breakers
type BreakerConfig struct {
	FailureThreshold int
	BaseCooldown     time.Duration
	MaxCooldown      time.Duration
}

// SessionConfig controls the bounded session store
type SessionConfig struct {
	TTL           time.Duration
	MaxSessions   int
	SweepInterval time.Duration
	ActiveWindow  time.Duration
}

// ExtractionConfig controls stop-condition evaluation
type ExtractionConfig struct {
	MaxIterations    int
	ReadyThreshold   int
	ConfirmThreshold int
	RecentContext    int
}

// OTELConfig holds OpenTelemetry configuration
type OTELConfig struct {
	ServiceName    string
	ServiceVersion string
	Endpoint       string
	Enabled        bool
}

// Load loads configuration from environment variables. A .env file in the
// working directory is read first; variables already set take precedence.
// When VAULT_ENABLED is set, provider credentials are then read from Vault.
func Load() (*Config, error) {
	_ = godotenv.Load()

	vault, err := secrets.LoadCredentials(context.Background(), secrets.VaultConfigFromEnv())
	if err != nil {
		return nil, fmt.Errorf("failed to load credentials from vault: %w", err)
	}

	cfg := &Config{
		App: AppConfig{
			Name:     getEnv("APP_NAME", "clinical-copilot"),
			Env:      getEnv("APP_ENV", "development"),
			LogLevel: getEnv("LOG_LEVEL", "info"),
		},
		Server: ServerConfig{
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			Port:           getEnvAsInt("SERVER_PORT", 8080),
			AllowedOrigins: getEnvAsList("ALLOWED_ORIGINS", []string{"*"}),
			WriteTimeout:   getEnvAsDuration("SERVER_WRITE_TIMEOUT", 2*time.Minute),
		},
		Database: DatabaseConfig{
			Enabled:  getEnvAsBool("DB_ENABLED", false),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			Database: getEnv("DB_NAME", "clinical_copilot"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvAsInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		OpenAI: OpenAIConfig{
			APIKey:         getEnv("OPENAI_API_KEY", ""),
			Model:          getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			BaseURL:        getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			RateLimitRPM:   getEnvAsInt("OPENAI_RATE_LIMIT_RPM", 60),
			RateLimitBurst: getEnvAsInt("OPENAI_RATE_LIMIT_BURST", 5),
		},
		Anthropic: AnthropicConfig{
			APIKey:       getEnv("ANTHROPIC_API_KEY", ""),
			Model:        getEnv("ANTHROPIC_MODEL", "claude-3-5-sonnet-20241022"),
			BaseURL:      getEnv("ANTHROPIC_BASE_URL", "https://api.anthropic.com"),
			RateLimitRPM: getEnvAsInt("ANTHROPIC_RATE_LIMIT_RPM", 50),
		},
		DeepSeek: DeepSeekConfig{
			APIKey:  getEnv("DEEPSEEK_API_KEY", ""),
			Model:   getEnv("DEEPSEEK_MODEL", "deepseek-chat"),
			BaseURL: getEnv("DEEPSEEK_BASE_URL", "https://api.deepseek.com/v1"),
		},
		Gateway: GatewayConfig{
			PreferredProvider: getEnv("GATEWAY_PREFERRED_PROVIDER", "openai"),
			FallbackProviders: getEnvAsList("GATEWAY_FALLBACK_PROVIDERS", []string{"anthropic", "deepseek", "heuristic"}),
			MaxRetries:        getEnvAsInt("GATEWAY_MAX_RETRIES", 2),
			BackoffBase:       getEnvAsDuration("GATEWAY_BACKOFF_BASE", time.Second),
			BackoffMax:        getEnvAsDuration("GATEWAY_BACKOFF_MAX", 8*time.Second),
		},
		Breaker: BreakerConfig{
			FailureThreshold: getEnvAsInt("BREAKER_FAILURE_THRESHOLD", 3),
			BaseCooldown:     getEnvAsDuration("BREAKER_BASE_COOLDOWN", 30*time.Second),
			MaxCooldown:      getEnvAsDuration("BREAKER_MAX_COOLDOWN", 10*time.Minute),
		},
		Session: SessionConfig{
			TTL:           getEnvAsDuration("SESSION_TTL", time.Hour),
			MaxSessions:   getEnvAsInt("SESSION_MAX_SESSIONS", 1000),
			SweepInterval: getEnvAsDuration("SESSION_SWEEP_INTERVAL", 5*time.Minute),
			ActiveWindow:  getEnvAsDuration("SESSION_ACTIVE_WINDOW", 5*time.Minute),
		},
		Extraction: ExtractionConfig{
			MaxIterations:    getEnvAsInt("EXTRACTION_MAX_ITERATIONS", 5),
			ReadyThreshold:   getEnvAsInt("EXTRACTION_READY_THRESHOLD", 70),
			ConfirmThreshold: getEnvAsInt("EXTRACTION_CONFIRM_THRESHOLD", 60),
			RecentContext:    getEnvAsInt("EXTRACTION_RECENT_CONTEXT", 6),
		},
		OTEL: OTELConfig{
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "clinical-copilot"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "1.0.0"),
			Endpoint:       getEnv("OTEL_ENDPOINT", ""),
			Enabled:        getEnvAsBool("OTEL_ENABLED", false),
		},
	}

	cfg.Vault = vault

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the engine cannot run with
func (c *Config) Validate() error {
	if c.Session.TTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive")
	}
	if c.Session.MaxSessions <= 0 {
		return fmt.Errorf("SESSION_MAX_SESSIONS must be positive")
	}
	if c.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("BREAKER_FAILURE_THRESHOLD must be positive")
	}
	if c.Extraction.ReadyThreshold < 0 || c.Extraction.ReadyThreshold > 100 {
		return fmt.Errorf("EXTRACTION_READY_THRESHOLD must be within [0,100]")
	}
	if c.Extraction.MaxIterations <= 0 {
		return fmt.Errorf("EXTRACTION_MAX_ITERATIONS must be positive")
	}
	if c.Gateway.MaxRetries < 0 {
		return fmt.Errorf("GATEWAY_MAX_RETRIES must not be negative")
	}
	return nil
}

// DatabaseDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisAddr returns the Redis address
func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
