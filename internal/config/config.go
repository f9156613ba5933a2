package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
)

// Config holds application configuration loaded from environment variables
type Config struct {
	// WhatsApp Cloud API
	WhatsAppToken string
	PhoneNumberID string
	VerifyToken   string

	// Google OAuth / Drive
	GoogleClientID     string
	GoogleClientSecret string

	// AI oracle
	OpenAIAPIKey string
	OpenAIModel  string

	// Infrastructure
	DatabaseURL   string
	RedisURL      string
	EncryptionKey string
	SessionSecret string

	// URLs the bot hands out in chat and OAuth redirects
	FrontendURL string
	BackendURL  string

	// Behavior
	SortConfirm bool // stage uploads behind Save/Discard buttons instead of auto-saving

	Env       string
	Port      string
	LogLevel  string
	LogFormat string
}

// Load reads configuration from environment variables
func Load() *Config {
	cfg := &Config{
		WhatsAppToken:      os.Getenv("WHATSAPP_TOKEN"),
		PhoneNumberID:      os.Getenv("PHONE_NUMBER_ID"),
		VerifyToken:        os.Getenv("VERIFY_TOKEN"),
		GoogleClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
		GoogleClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
		OpenAIAPIKey:       os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:        getEnvWithDefault("OPENAI_MODEL", "gpt-4o-mini"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		RedisURL:           getEnvWithDefault("REDIS_URL", "redis://localhost:6379/0"),
		EncryptionKey:      os.Getenv("TOKEN_ENCRYPTION_KEY"),
		SessionSecret:      os.Getenv("SESSION_SECRET"),
		FrontendURL:        getEnvWithDefault("FRONTEND_URL", "http://localhost:5173"),
		BackendURL:         getEnvWithDefault("BACKEND_URL", "http://localhost:8080"),
		SortConfirm:        getEnvBool("SORT_CONFIRM", false),
		Env:                getEnvWithDefault("ENV", "development"),
		Port:               getEnvWithDefault("PORT", "8080"),
		LogLevel:           getEnvWithDefault("LOG_LEVEL", "info"),
		LogFormat:          getEnvWithDefault("LOG_FORMAT", "text"),
	}

	// Warn if using default session secret (insecure for production)
	if cfg.SessionSecret == "" {
		cfg.SessionSecret = "dev-secret-change-in-production-use-openssl-rand-hex-32"
		log.Println("WARNING: Using default SESSION_SECRET. Generate a secure secret with: openssl rand -hex 32")
	}

	return cfg
}

// Validate checks the credentials the bot cannot start without.
// Everything else degrades at runtime; missing messaging credentials do not.
func (c *Config) Validate() error {
	if c.WhatsAppToken == "" || c.PhoneNumberID == "" {
		return fmt.Errorf("WHATSAPP_TOKEN and PHONE_NUMBER_ID are required")
	}
	if c.VerifyToken == "" {
		return fmt.Errorf("VERIFY_TOKEN is required")
	}
	return nil
}

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}
