// Package config loads server configuration from the environment,
// with an optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port             string
	DBPath           string
	JWTSecret        string
	TokenExpiry      time.Duration
	RefreshTokenDays int
	CORSOrigins      []string

	// Optional bootstrap admin, created on first boot when both are set.
	AdminUsername string
	AdminPassword string
}

// Load reads configuration. A missing .env file is fine; a missing
// JWT_SECRET is not.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Port:   getEnvOrDefault("PORT", "8080"),
		DBPath: getEnvOrDefault("DB_PATH", "earnings.db"),
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("environment variable JWT_SECRET is required")
	}

	expiry := getEnvOrDefault("TOKEN_EXPIRY", "15m")
	d, err := time.ParseDuration(expiry)
	if err != nil {
		return Config{}, fmt.Errorf("invalid TOKEN_EXPIRY %q: %w", expiry, err)
	}
	cfg.TokenExpiry = d

	days := getEnvOrDefault("REFRESH_TOKEN_DAYS", "30")
	cfg.RefreshTokenDays, err = strconv.Atoi(days)
	if err != nil || cfg.RefreshTokenDays <= 0 {
		return Config{}, fmt.Errorf("invalid REFRESH_TOKEN_DAYS %q", days)
	}

	origins := getEnvOrDefault("CORS_ORIGINS", "http://localhost:5173,http://localhost:8080")
	for _, o := range strings.Split(origins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			cfg.CORSOrigins = append(cfg.CORSOrigins, o)
		}
	}

	cfg.AdminUsername = os.Getenv("ADMIN_USERNAME")
	cfg.AdminPassword = os.Getenv("ADMIN_PASSWORD")

	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
