package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the relay.
type Config struct {
	Port string
	Env  string

	// Storage backends. When RedisURL is empty the message log is held
	// in memory; when DatabaseURL is empty agent profiles go to SQLite.
	RedisURL    string
	DatabaseURL string
	SQLitePath  string

	// Relay limits
	HistoryLimit int // messages replayed on join, oldest first
	QueryLimit   int // ceiling for the REST message query
	MarketLogCap int // per-market retention for the in-memory log

	// Rate limits (per minute, 0 disables; require Redis)
	WSRateLimit  int // new connections per IP
	MsgRateLimit int // messages per agent
}

// Load reads configuration from environment variables.
// In development, it loads from a .env file if present.
func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		Port:         getEnv("PORT", "8080"),
		Env:          getEnv("ENV", "development"),
		RedisURL:     os.Getenv("REDIS_URL"),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		SQLitePath:   getEnv("SQLITE_PATH", "./data/relay.db"),
		HistoryLimit: getEnvInt("HISTORY_LIMIT", 50),
		QueryLimit:   getEnvInt("QUERY_LIMIT", 100),
		MarketLogCap: getEnvInt("MARKET_LOG_CAP", 1000),
		WSRateLimit:  getEnvInt("WS_RATE_LIMIT", 0),
		MsgRateLimit: getEnvInt("MSG_RATE_LIMIT", 0),
	}

	return cfg
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
