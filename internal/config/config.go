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
	Port            string
	FrontendURL     string
	DBPath          string
	LocalLLMURL     string
	HostedAPIURL    string
	HostedAPIKey    string
	DisableFallback bool
	GuestExpiry     time.Duration
	AssumeOnline    bool
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	guestExpiryDays := getEnvInt("GUEST_EXPIRY_DAYS", 200)
	if guestExpiryDays <= 0 {
		guestExpiryDays = 200
	}

	cfg := &Config{
		Port:            getEnv("PORT", "8080"),
		FrontendURL:     getEnv("FRONTEND_URL", ""),
		DBPath:          getEnv("DB_PATH", "./data/baun.db"),
		LocalLLMURL:     getEnv("LLM_SERVER_URL", "http://127.0.0.1:3300"),
		HostedAPIURL:    getEnv("HOSTED_API_URL", ""),
		HostedAPIKey:    getEnv("HOSTED_API_KEY", ""),
		DisableFallback: getEnvBool("DISABLE_HOSTED_FALLBACK", false),
		GuestExpiry:     time.Duration(guestExpiryDays) * 24 * time.Hour,
		AssumeOnline:    getEnvBool("ASSUME_ONLINE", true),
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
	if c.LocalLLMURL == "" {
		return fmt.Errorf("LLM_SERVER_URL cannot be empty")
	}
	if !c.DisableFallback && c.HostedAPIURL == "" {
		return fmt.Errorf("HOSTED_API_URL cannot be empty unless DISABLE_HOSTED_FALLBACK is set")
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
