// Package config provides environment configuration for the gateway.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration

	// NATS event journal (disabled when URL is empty)
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string

	// JWT settings
	JWTSecret string

	// LLM settings
	AnthropicAPIKey string
	OpenAIAPIKey    string
	DefaultModel    string

	// Circuit breaker
	CircuitFailureThreshold int
	CircuitRecoveryTimeout  time.Duration

	// LLM call rate limiting (token bucket, per conversation)
	RequestsPerMinute float64
	BurstSize         int

	// HTTP rate limiting (per tenant)
	HTTPRateLimitRequests int
	HTTPRateLimitWindow   time.Duration

	// Budget enforcement. BudgetLimit nil means unlimited.
	BudgetLimit          *decimal.Decimal
	BudgetThresholdRatio decimal.Decimal
	CostEstimateInterval int

	// Context window management
	MaxContextTokens int
	ReserveTokens    int

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		// Server
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 120*time.Second),

		// NATS
		NATSURL:      getEnv("NATS_URL", ""),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),

		// JWT
		JWTSecret: getEnv("JWT_SECRET", "development-secret-change-in-production"),

		// LLM
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		DefaultModel:    getEnv("DEFAULT_MODEL", "gpt-4o"),

		// Circuit breaker
		CircuitFailureThreshold: getIntEnv("CIRCUIT_FAILURE_THRESHOLD", 5),
		CircuitRecoveryTimeout:  getDurationEnv("CIRCUIT_RECOVERY_TIMEOUT", 60*time.Second),

		// LLM call rate limiting
		RequestsPerMinute: getFloatEnv("REQUESTS_PER_MINUTE", 20),
		BurstSize:         getIntEnv("BURST_SIZE", 5),

		// HTTP rate limiting
		HTTPRateLimitRequests: getIntEnv("HTTP_RATE_LIMIT_REQUESTS", 60),
		HTTPRateLimitWindow:   getDurationEnv("HTTP_RATE_LIMIT_WINDOW", time.Minute),

		// Budget
		BudgetLimit:          getDecimalEnv("BUDGET_LIMIT_USD"),
		BudgetThresholdRatio: getDecimalEnvDefault("BUDGET_THRESHOLD_RATIO", "0.8"),
		CostEstimateInterval: getIntEnv("COST_ESTIMATE_INTERVAL", 100),

		// Context window
		MaxContextTokens: getIntEnv("MAX_CONTEXT_TOKENS", 8192),
		ReserveTokens:    getIntEnv("RESERVE_TOKENS", 1024),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getDecimalEnv(key string) *decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return &d
		}
	}
	return nil
}

func getDecimalEnvDefault(key, defaultValue string) decimal.Decimal {
	if d := getDecimalEnv(key); d != nil {
		return *d
	}
	return decimal.RequireFromString(defaultValue)
}
