// Package config loads application configuration from the environment.
// A .env file is honored in development; production reads plain env vars.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every tunable the server reads at startup.
type Config struct {
	Environment string
	Port        int

	// Database
	DatabaseURL string
	DBHost      string
	DBPort      int
	DBUser      string
	DBPassword  string
	DBName      string
	DBSSLMode   string

	// Redis
	RedisURL string

	// Auth
	JWTSecret     string
	TokenExpiry   time.Duration
	RefreshExpiry time.Duration

	// AI providers
	AnthropicAPIKey string
	OpenAIAPIKey    string
	GeminiAPIKey    string
	KlingAPIKey     string

	// Stripe
	StripeSecretKey     string
	StripeWebhookSecret string

	// Instagram Graph API
	InstagramAppID     string
	InstagramAppSecret string
	InstagramRedirect  string

	// Background jobs
	WorkerEnabled bool
	WorkerCount   int
}

// Load reads configuration from the environment. The .env lookup
// walks up two directories so the binary works from cmd/ and repo root.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if err := godotenv.Load("../.env"); err != nil {
			_ = godotenv.Load("../../.env")
		}
	}

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Port:        getEnvInt("PORT", 8080),

		DatabaseURL: os.Getenv("DATABASE_URL"),
		DBHost:      getEnv("DB_HOST", "localhost"),
		DBPort:      getEnvInt("DB_PORT", 5432),
		DBUser:      getEnv("DB_USER", "postgres"),
		DBPassword:  getEnv("DB_PASSWORD", ""),
		DBName:      getEnv("DB_NAME", "sevencycles"),
		DBSSLMode:   getEnv("DB_SSL_MODE", "disable"),

		RedisURL: getEnv("REDIS_URL", ""),

		JWTSecret:     os.Getenv("JWT_SECRET"),
		TokenExpiry:   getEnvDuration("TOKEN_EXPIRY", 24*time.Hour),
		RefreshExpiry: getEnvDuration("REFRESH_EXPIRY", 30*24*time.Hour),

		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
		GeminiAPIKey:    os.Getenv("GEMINI_API_KEY"),
		KlingAPIKey:     os.Getenv("KLING_API_KEY"),

		StripeSecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),

		InstagramAppID:     os.Getenv("INSTAGRAM_APP_ID"),
		InstagramAppSecret: os.Getenv("INSTAGRAM_APP_SECRET"),
		InstagramRedirect:  os.Getenv("INSTAGRAM_REDIRECT_URL"),

		WorkerEnabled: getEnvBool("WORKER_ENABLED", true),
		WorkerCount:   getEnvInt("WORKER_COUNT", 10),
	}

	if cfg.JWTSecret == "" {
		if cfg.Environment == "production" {
			return nil, fmt.Errorf("JWT_SECRET must be set in production")
		}
		cfg.JWTSecret = "dev-secret-do-not-use-in-production"
	}

	return cfg, nil
}

// IsProduction reports whether the server runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// PostgresDSN builds a connection string from either DATABASE_URL or
// the individual DB_* variables.
func (c *Config) PostgresDSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
