// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Observability
	OTLPEndpoint string // OTLP gRPC endpoint; empty disables tracing
	RateLimitRPM int

	// Decision policy. These are policy knobs, not invariants: the defaults
	// mirror the tuned production values but every one is overridable.
	SuspicionThreshold float64 // traditional pipeline suspicion cutoff on [0,1]
	AIWeight           float64 // AI share of the combined score; traditional gets 1-AIWeight
	AmountFactor       float64 // multiple of avg amount that trips the amount check
	VelocityPerHour    int     // transactions per trailing hour that trip the velocity check
	OffHoursStart      int     // start of the suspicious overnight window (inclusive)
	OffHoursEnd        int     // end of the suspicious overnight window (inclusive)
	HistoryLimit       int     // transactions considered for profiles and analyst context

	// Statistical model oracle
	ModelParamsPath string // JSON parameter artifact; empty runs without a classifier

	// Language-model oracle
	AnalystAPIURL  string // OpenAI-compatible chat completions base URL
	AnalystAPIKey  string
	AnalystModel   string
	AnalystTimeout time.Duration

	// Blacklist source
	BlacklistURL      string        // live feed of known-bad IPs
	BlacklistSnapshot string        // last-known-good local snapshot path
	BlacklistRefresh  time.Duration // 0 disables background refresh

	// Alerting
	AlertWebhookURL    string // alert dispatcher endpoint; empty logs alerts only
	AlertWebhookSecret string // HMAC secret for signing alert payloads
	AlertMediumScore   float64 // combined score at which severity becomes medium
	AlertHighScore     float64 // combined score at which severity becomes high
}

// Defaults
const (
	DefaultPort               = "8080"
	DefaultEnv                = "development"
	DefaultLogLevel           = "info"
	DefaultRateLimit          = 120
	DefaultSuspicionThreshold = 0.65
	DefaultAIWeight           = 0.6
	DefaultAmountFactor       = 2.0
	DefaultVelocityPerHour    = 5
	DefaultOffHoursStart      = 1
	DefaultOffHoursEnd        = 5
	DefaultHistoryLimit       = 100
	DefaultAnalystModel       = "gpt-4o-mini"
	DefaultAlertMediumScore   = 50
	DefaultAlertHighScore     = 75
)

// Load reads configuration from environment variables.
// It loads .env if present (for local development).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:         getEnv("PORT", DefaultPort),
		Env:          getEnv("ENV", DefaultEnv),
		LogLevel:     getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:  os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		RateLimitRPM: getEnvInt("RATE_LIMIT_RPM", DefaultRateLimit),

		SuspicionThreshold: getEnvFloat("SUSPICION_THRESHOLD", DefaultSuspicionThreshold),
		AIWeight:           getEnvFloat("AI_WEIGHT", DefaultAIWeight),
		AmountFactor:       getEnvFloat("AMOUNT_FACTOR", DefaultAmountFactor),
		VelocityPerHour:    getEnvInt("VELOCITY_PER_HOUR", DefaultVelocityPerHour),
		OffHoursStart:      getEnvInt("OFF_HOURS_START", DefaultOffHoursStart),
		OffHoursEnd:        getEnvInt("OFF_HOURS_END", DefaultOffHoursEnd),
		HistoryLimit:       getEnvInt("HISTORY_LIMIT", DefaultHistoryLimit),

		ModelParamsPath: os.Getenv("MODEL_PARAMS_PATH"),

		AnalystAPIURL:  os.Getenv("ANALYST_API_URL"),
		AnalystAPIKey:  os.Getenv("ANALYST_API_KEY"),
		AnalystModel:   getEnv("ANALYST_MODEL", DefaultAnalystModel),
		AnalystTimeout: getEnvDuration("ANALYST_TIMEOUT", 20*time.Second),

		BlacklistURL:      os.Getenv("BLACKLIST_URL"),
		BlacklistSnapshot: getEnv("BLACKLIST_SNAPSHOT", "blacklist.json"),
		BlacklistRefresh:  getEnvDuration("BLACKLIST_REFRESH", time.Hour),

		AlertWebhookURL:    os.Getenv("ALERT_WEBHOOK_URL"),
		AlertWebhookSecret: os.Getenv("ALERT_WEBHOOK_SECRET"),
		AlertMediumScore:   getEnvFloat("ALERT_MEDIUM_SCORE", DefaultAlertMediumScore),
		AlertHighScore:     getEnvFloat("ALERT_HIGH_SCORE", DefaultAlertHighScore),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is internally consistent
func (c *Config) Validate() error {
	if c.SuspicionThreshold <= 0 || c.SuspicionThreshold > 1 {
		return fmt.Errorf("SUSPICION_THRESHOLD must be in (0, 1], got %v", c.SuspicionThreshold)
	}
	if c.AIWeight < 0 || c.AIWeight > 1 {
		return fmt.Errorf("AI_WEIGHT must be in [0, 1], got %v", c.AIWeight)
	}
	if c.AmountFactor <= 0 {
		return fmt.Errorf("AMOUNT_FACTOR must be positive, got %v", c.AmountFactor)
	}
	if c.VelocityPerHour <= 0 {
		return fmt.Errorf("VELOCITY_PER_HOUR must be positive, got %d", c.VelocityPerHour)
	}
	if c.OffHoursStart < 0 || c.OffHoursStart > 23 || c.OffHoursEnd < 0 || c.OffHoursEnd > 23 {
		return fmt.Errorf("off-hours window must be within 0-23, got %d-%d", c.OffHoursStart, c.OffHoursEnd)
	}
	if c.HistoryLimit <= 0 {
		return fmt.Errorf("HISTORY_LIMIT must be positive, got %d", c.HistoryLimit)
	}
	if c.AlertHighScore < c.AlertMediumScore {
		return fmt.Errorf("ALERT_HIGH_SCORE (%v) must be >= ALERT_MEDIUM_SCORE (%v)",
			c.AlertHighScore, c.AlertMediumScore)
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
