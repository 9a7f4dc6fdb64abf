// Package config provides application configuration management using environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig
	Discord   DiscordConfig
	Database  DatabaseConfig
	Timers    TimerConfig
	Cache     CacheConfig
	Reminders ReminderConfig
	Logging   LoggingConfig
}

// ServerConfig holds health server configuration
type ServerConfig struct {
	HTTPPort string
	GRPCPort string
	Env      string
}

// DiscordConfig holds bot gateway configuration
type DiscordConfig struct {
	Token         string
	CommandPrefix string
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host           string
	Port           string
	User           string
	Password       string
	Name           string
	SSLMode        string
	MaxOpenConns   int
	MaxIdleConns   int
	RetryInitial   time.Duration
	RetryMaxElapse time.Duration
}

// TimerConfig holds timer dispatcher configuration
type TimerConfig struct {
	Horizon        time.Duration
	RescanInterval time.Duration
	RetryDelay     time.Duration
}

// CacheConfig holds guild cache configuration
type CacheConfig struct {
	ExcludedTables []string
	StatsInterval  time.Duration
}

// ReminderConfig holds reminder delivery configuration
type ReminderConfig struct {
	RatePerMinute int
	Burst         int
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level         string
	Format        string
	File          string
	MaxSizeMB     int
	MaxBackups    int
	MaxAgeDays    int
	CompressFiles bool
}

// Load loads configuration from environment variables
// It optionally loads from a .env file if it exists
func Load() (*Config, error) {
	// Try to load .env file (optional, ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.Server = ServerConfig{
		HTTPPort: getEnv("HTTP_PORT", "8080"),
		GRPCPort: getEnv("GRPC_PORT", "50051"),
		Env:      getEnv("ENVIRONMENT", "development"),
	}

	cfg.Discord = DiscordConfig{
		Token:         getEnv("DISCORD_TOKEN", ""),
		CommandPrefix: getEnv("COMMAND_PREFIX", "!"),
	}

	// Load Database Config
	maxOpenConns, _ := strconv.Atoi(getEnv("DB_MAX_OPEN_CONNS", "25"))
	maxIdleConns, _ := strconv.Atoi(getEnv("DB_MAX_IDLE_CONNS", "5"))
	retryInitialMs, _ := strconv.Atoi(getEnv("DB_RETRY_INITIAL_MS", "200"))
	retryMaxElapsedSeconds, _ := strconv.Atoi(getEnv("DB_RETRY_MAX_ELAPSED_SECONDS", "30"))

	cfg.Database = DatabaseConfig{
		Host:           getEnv("DB_HOST", "localhost"),
		Port:           getEnv("DB_PORT", "5432"),
		User:           getEnv("DB_USER", "guildwarden"),
		Password:       getEnv("DB_PASSWORD", ""),
		Name:           getEnv("DB_NAME", "guildwarden"),
		SSLMode:        getEnv("DB_SSLMODE", "disable"),
		MaxOpenConns:   maxOpenConns,
		MaxIdleConns:   maxIdleConns,
		RetryInitial:   time.Duration(retryInitialMs) * time.Millisecond,
		RetryMaxElapse: time.Duration(retryMaxElapsedSeconds) * time.Second,
	}

	// Load Timer Config
	horizonDays, _ := strconv.Atoi(getEnv("TIMER_HORIZON_DAYS", "40"))
	rescanInterval, err := getDuration("TIMER_RESCAN_INTERVAL", "6h")
	if err != nil {
		return nil, err
	}
	retryDelay, err := getDuration("TIMER_RETRY_DELAY", "5s")
	if err != nil {
		return nil, err
	}

	cfg.Timers = TimerConfig{
		Horizon:        time.Duration(horizonDays) * 24 * time.Hour,
		RescanInterval: rescanInterval,
		RetryDelay:     retryDelay,
	}

	// Load Cache Config
	statsInterval, err := getDuration("CACHE_STATS_INTERVAL", "15m")
	if err != nil {
		return nil, err
	}

	cfg.Cache = CacheConfig{
		ExcludedTables: splitList(getEnv("CACHE_EXCLUDED_TABLES", "timers")),
		StatsInterval:  statsInterval,
	}

	ratePerMinute, _ := strconv.Atoi(getEnv("REMINDER_RATE_PER_MINUTE", "30"))
	burst, _ := strconv.Atoi(getEnv("REMINDER_BURST", "5"))
	cfg.Reminders = ReminderConfig{
		RatePerMinute: ratePerMinute,
		Burst:         burst,
	}

	// Load Logging Config
	maxSize, _ := strconv.Atoi(getEnv("LOG_MAX_SIZE_MB", "100"))
	maxBackups, _ := strconv.Atoi(getEnv("LOG_MAX_BACKUPS", "5"))
	maxAge, _ := strconv.Atoi(getEnv("LOG_MAX_AGE_DAYS", "28"))
	cfg.Logging = LoggingConfig{
		Level:         getEnv("LOG_LEVEL", "info"),
		Format:        getEnv("LOG_FORMAT", "json"),
		File:          getEnv("LOG_FILE", ""),
		MaxSizeMB:     maxSize,
		MaxBackups:    maxBackups,
		MaxAgeDays:    maxAge,
		CompressFiles: getEnv("LOG_COMPRESS", "true") == "true",
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Discord.Token == "" {
		return fmt.Errorf("DISCORD_TOKEN is required")
	}
	if c.Discord.CommandPrefix == "" {
		return fmt.Errorf("COMMAND_PREFIX must not be empty")
	}

	// Validate Database Config
	if c.Database.User == "" {
		return fmt.Errorf("DB_USER is required")
	}
	if c.Database.Password == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("DB_NAME is required")
	}
	if c.Database.RetryInitial <= 0 {
		return fmt.Errorf("DB_RETRY_INITIAL_MS must be positive")
	}
	if c.Database.RetryMaxElapse <= 0 {
		return fmt.Errorf("DB_RETRY_MAX_ELAPSED_SECONDS must be positive")
	}

	// Validate Timer Config
	if c.Timers.Horizon <= 0 {
		return fmt.Errorf("TIMER_HORIZON_DAYS must be positive")
	}
	if c.Timers.RescanInterval <= 0 {
		return fmt.Errorf("TIMER_RESCAN_INTERVAL must be positive")
	}
	if c.Timers.RetryDelay <= 0 {
		return fmt.Errorf("TIMER_RETRY_DELAY must be positive")
	}

	if c.Cache.StatsInterval <= 0 {
		return fmt.Errorf("CACHE_STATS_INTERVAL must be positive")
	}

	if c.Reminders.RatePerMinute <= 0 {
		return fmt.Errorf("REMINDER_RATE_PER_MINUTE must be positive")
	}
	if c.Reminders.Burst <= 0 {
		return fmt.Errorf("REMINDER_BURST must be positive")
	}

	// Validate Logging Config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error")
	}
	validLogFormats := map[string]bool{"json": true, "console": true}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, console")
	}
	if c.Logging.File != "" && c.Logging.MaxSizeMB <= 0 {
		return fmt.Errorf("LOG_MAX_SIZE_MB must be positive when LOG_FILE is set")
	}

	return nil
}

// GetDSN returns the database connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// getEnv retrieves an environment variable with a fallback default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getDuration(key, defaultValue string) (time.Duration, error) {
	d, err := time.ParseDuration(getEnv(key, defaultValue))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

// splitList splits a comma separated list, dropping blanks
func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
