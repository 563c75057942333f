package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/mohamedkhairy/crypto-insight/internal/models"
)

// Config holds all configuration for the application
type Config struct {
	// Common
	Environment string
	LogLevel    string

	// Subsystems
	MarketData MarketDataConfig
	Engine     EngineConfig
	Redis      RedisConfig
	Database   DatabaseConfig
	API        APIConfig
}

// MarketDataConfig holds the candle source configuration
type MarketDataConfig struct {
	SpotBaseURL    string
	FuturesBaseURL string
	WebSocketURL   string
	RequestTimeout time.Duration
}

// EngineConfig holds the analytics engine configuration
type EngineConfig struct {
	Symbol          string
	Interval        models.Interval
	MarketType      models.MarketType
	HistoryLimit    int
	CacheTTL        time.Duration
	WindowSize      int // live window cap
	BacktestBalance float64
}

// RedisConfig holds the optional snapshot stream configuration
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	Stream   string
}

// DatabaseConfig holds the optional Postgres persistence configuration
type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// APIConfig holds the read-only HTTP API configuration
type APIConfig struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		MarketData: MarketDataConfig{
			SpotBaseURL:    getEnv("MARKET_DATA_SPOT_URL", "https://api.binance.com"),
			FuturesBaseURL: getEnv("MARKET_DATA_FUTURES_URL", "https://fapi.binance.com"),
			WebSocketURL:   getEnv("MARKET_DATA_WS_URL", "wss://stream.binance.com:9443/ws"),
			RequestTimeout: getEnvAsDuration("MARKET_DATA_REQUEST_TIMEOUT", 10*time.Second),
		},
		Engine: EngineConfig{
			Symbol:          getEnv("ENGINE_SYMBOL", "BTCUSDT"),
			Interval:        models.Interval(getEnv("ENGINE_INTERVAL", "1h")),
			MarketType:      models.MarketType(getEnv("ENGINE_MARKET_TYPE", "SPOT")),
			HistoryLimit:    getEnvAsInt("ENGINE_HISTORY_LIMIT", 200),
			CacheTTL:        getEnvAsDuration("ENGINE_CACHE_TTL", 60*time.Second),
			WindowSize:      getEnvAsInt("ENGINE_WINDOW_SIZE", 200),
			BacktestBalance: getEnvAsFloat("ENGINE_BACKTEST_BALANCE", 10000),
		},
		Redis: RedisConfig{
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvAsInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Stream:   getEnv("REDIS_SNAPSHOT_STREAM", "analysis.snapshots"),
		},
		Database: DatabaseConfig{
			Enabled:  getEnvAsBool("DB_ENABLED", false),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			Database: getEnv("DB_NAME", "crypto_insight"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		API: APIConfig{
			Port:         getEnvAsInt("API_PORT", 8090),
			ReadTimeout:  getEnvAsDuration("API_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getEnvAsDuration("API_WRITE_TIMEOUT", 10*time.Second),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Engine.Symbol == "" {
		return fmt.Errorf("ENGINE_SYMBOL is required")
	}
	if err := c.Engine.Interval.Validate(); err != nil {
		return fmt.Errorf("ENGINE_INTERVAL: %w", err)
	}
	if err := c.Engine.MarketType.Validate(); err != nil {
		return fmt.Errorf("ENGINE_MARKET_TYPE: %w", err)
	}
	if c.Engine.HistoryLimit <= 0 {
		return fmt.Errorf("ENGINE_HISTORY_LIMIT must be positive")
	}
	if c.Engine.WindowSize <= 0 {
		return fmt.Errorf("ENGINE_WINDOW_SIZE must be positive")
	}
	if c.Engine.BacktestBalance <= 0 {
		return fmt.Errorf("ENGINE_BACKTEST_BALANCE must be positive")
	}
	if c.Redis.Enabled && c.Redis.Host == "" {
		return fmt.Errorf("REDIS_HOST is required when REDIS_ENABLED")
	}
	if c.Database.Enabled && c.Database.Host == "" {
		return fmt.Errorf("DB_HOST is required when DB_ENABLED")
	}
	return nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return intValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	floatValue, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return floatValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	boolValue, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return boolValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return duration
}
