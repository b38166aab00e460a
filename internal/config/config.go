package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	DBFile       string
	APIAddr      string
	HistoryLimit int
	TokenExpiry  time.Duration
}

func Load() (*Config, error) {
	tokenExpiry, err := time.ParseDuration(getEnv("TOKEN_EXPIRY", "24h"))
	if err != nil {
		return nil, err
	}

	historyLimit, err := strconv.Atoi(getEnv("HISTORY_LIMIT", "50"))
	if err != nil {
		return nil, fmt.Errorf("HISTORY_LIMIT must be an integer: %w", err)
	}

	cfg := &Config{
		DBFile:       getEnv("AETHER_DB", "aether.db"),
		APIAddr:      getEnv("API_ADDR", ":8080"),
		HistoryLimit: historyLimit,
		TokenExpiry:  tokenExpiry,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.TokenExpiry <= 0 {
		return fmt.Errorf("TOKEN_EXPIRY must be greater than 0")
	}

	if c.HistoryLimit <= 0 {
		return fmt.Errorf("HISTORY_LIMIT must be greater than 0")
	}

	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
