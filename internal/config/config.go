// Package config loads service settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	StrategyGreedy = "greedy"
	StrategyRandom = "random"

	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverFile     = "file"
)

type Config struct {
	// Telegram settings
	TelegramToken     string
	TelegramChannelID string
	AdminChatID       string

	// Rule and feed tables
	FeedsConfigPath string
	RulesConfigPath string
	ArticlesPerFeed int
	SummaryLength   int
	EventsURL       string

	// Publication cycle
	PublishInterval  time.Duration
	MinInterval      time.Duration
	MaxPerHour       int
	MaxUrgentPerHour int
	MinInterestScore float64
	DelayIncrease    time.Duration
	TargetCount      int
	TopFraction      float64
	SelectorStrategy string

	// Cadence
	CadenceWindowDays int
	CadenceTopHours   int
	CadenceSchedule   string
	Timezone          string

	// Storage
	StoreDriver   string
	DatabaseURL   string
	RetentionDays int

	// Gemini settings
	GeminiAPIKey      string
	TargetLanguage    string
	MaxGeminiRequests int // per day

	// App settings
	Debug                bool
	EnableHTTPMonitoring bool
	MonitoringPort       string
	RequestTimeout       time.Duration
	RetryAttempts        int
	RetryDelay           time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		// Default values
		FeedsConfigPath:   "configs/feeds.yaml",
		RulesConfigPath:   "configs/rules.yaml",
		ArticlesPerFeed:   10,
		SummaryLength:     200,
		EventsURL:         "https://www.techmeme.com/events",
		PublishInterval:   time.Minute,
		MinInterval:       3 * time.Minute,
		MaxPerHour:        20,
		MaxUrgentPerHour:  3,
		MinInterestScore:  1.5,
		DelayIncrease:     30 * time.Minute,
		TargetCount:       5,
		TopFraction:       0.7,
		SelectorStrategy:  StrategyGreedy,
		CadenceWindowDays: 30,
		CadenceTopHours:   5,
		CadenceSchedule:   "0 0 * * *",
		Timezone:          "UTC",
		StoreDriver:       DriverSQLite,
		RetentionDays:     30,
		TargetLanguage:    "ru",
		MaxGeminiRequests: 200,
		MonitoringPort:    "8080",
		RequestTimeout:    30 * time.Second,
		RetryAttempts:     3,
		RetryDelay:        5 * time.Second,
	}

	// Load from environment
	cfg.TelegramToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	cfg.TelegramChannelID = os.Getenv("TELEGRAM_CHANNEL_ID")
	cfg.AdminChatID = os.Getenv("ADMIN_CHAT_ID")
	cfg.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")

	cfg.FeedsConfigPath = getEnvOrDefault("FEEDS_CONFIG_PATH", cfg.FeedsConfigPath)
	cfg.RulesConfigPath = getEnvOrDefault("RULES_CONFIG_PATH", cfg.RulesConfigPath)
	cfg.EventsURL = getEnvOrDefault("EVENTS_URL", cfg.EventsURL)
	cfg.ArticlesPerFeed = getEnvIntOrDefault("ARTICLES_PER_FEED", cfg.ArticlesPerFeed)
	cfg.SummaryLength = getEnvIntOrDefault("SUMMARY_LENGTH", cfg.SummaryLength)

	cfg.PublishInterval = getEnvDurationOrDefault("PUBLISH_INTERVAL", cfg.PublishInterval)
	cfg.MinInterval = getEnvDurationOrDefault("MIN_PUBLICATION_INTERVAL", cfg.MinInterval)
	cfg.DelayIncrease = getEnvDurationOrDefault("DELAY_INCREASE", cfg.DelayIncrease)
	cfg.MaxPerHour = getEnvIntOrDefault("MAX_PUBLICATIONS_PER_HOUR", cfg.MaxPerHour)
	cfg.MaxUrgentPerHour = getEnvIntOrDefault("MAX_URGENT_PER_HOUR", cfg.MaxUrgentPerHour)
	cfg.TargetCount = getEnvIntOrDefault("TARGET_COUNT", cfg.TargetCount)
	cfg.MinInterestScore = getEnvFloatOrDefault("MIN_INTEREST_SCORE", cfg.MinInterestScore)
	cfg.TopFraction = getEnvFloatOrDefault("TOP_FRACTION", cfg.TopFraction)
	if v := os.Getenv("SELECTOR_STRATEGY"); v != "" {
		cfg.SelectorStrategy = strings.ToLower(v)
	}

	cfg.CadenceWindowDays = getEnvIntOrDefault("CADENCE_WINDOW_DAYS", cfg.CadenceWindowDays)
	cfg.CadenceTopHours = getEnvIntOrDefault("CADENCE_TOP_HOURS", cfg.CadenceTopHours)
	cfg.CadenceSchedule = getEnvOrDefault("CADENCE_SCHEDULE", cfg.CadenceSchedule)
	cfg.Timezone = getEnvOrDefault("TIMEZONE", cfg.Timezone)

	if v := os.Getenv("STORE_DRIVER"); v != "" {
		cfg.StoreDriver = strings.ToLower(v)
	}
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		switch cfg.StoreDriver {
		case DriverSQLite:
			cfg.DatabaseURL = "news_bot.db"
		case DriverFile:
			cfg.DatabaseURL = "news_bot.json"
		}
	}
	cfg.RetentionDays = getEnvIntOrDefault("RETENTION_DAYS", cfg.RetentionDays)

	cfg.TargetLanguage = getEnvOrDefault("TARGET_LANGUAGE", cfg.TargetLanguage)
	if gr := os.Getenv("MAX_GEMINI_REQUESTS"); gr != "" {
		if val, err := strconv.Atoi(gr); err == nil && val > 0 {
			cfg.MaxGeminiRequests = val
		}
	}

	if debug := os.Getenv("DEBUG"); debug == "true" {
		cfg.Debug = true
	}
	if os.Getenv("ENABLE_HTTP_MONITORING") == "true" {
		cfg.EnableHTTPMonitoring = true
	}
	cfg.MonitoringPort = getEnvOrDefault("MONITORING_PORT", cfg.MonitoringPort)

	return cfg, cfg.Validate()
}

// Location resolves Timezone; Validate guarantees it parses.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// TranslationEnabled reports whether a Gemini key is configured.
func (c *Config) TranslationEnabled() bool {
	return c.GeminiAPIKey != ""
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDurationOrDefault accepts Go durations ("90s") or bare minutes ("3").
func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if minutes, err := strconv.Atoi(value); err == nil {
		return time.Duration(minutes) * time.Minute
	}
	return defaultValue
}

func (c *Config) Validate() error {
	if c.TelegramToken == "" {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}
	if c.TelegramChannelID == "" {
		return fmt.Errorf("TELEGRAM_CHANNEL_ID is required")
	}
	if c.AdminChatID == "" {
		return fmt.Errorf("ADMIN_CHAT_ID is required")
	}
	if c.PublishInterval <= 0 {
		return fmt.Errorf("PUBLISH_INTERVAL must be positive")
	}
	if c.MinInterval < 0 {
		return fmt.Errorf("MIN_PUBLICATION_INTERVAL must not be negative")
	}
	if c.MaxPerHour <= 0 {
		return fmt.Errorf("MAX_PUBLICATIONS_PER_HOUR must be positive")
	}
	if c.TargetCount <= 0 {
		return fmt.Errorf("TARGET_COUNT must be positive")
	}
	if c.TopFraction <= 0 || c.TopFraction > 1 {
		return fmt.Errorf("TOP_FRACTION must be in (0, 1]")
	}
	if c.DelayIncrease < 0 {
		return fmt.Errorf("DELAY_INCREASE must not be negative")
	}
	if c.ArticlesPerFeed <= 0 || c.SummaryLength <= 0 {
		return fmt.Errorf("ARTICLES_PER_FEED and SUMMARY_LENGTH must be positive")
	}
	if c.CadenceWindowDays <= 0 || c.CadenceTopHours <= 0 || c.RetentionDays <= 0 {
		return fmt.Errorf("CADENCE_WINDOW_DAYS, CADENCE_TOP_HOURS and RETENTION_DAYS must be positive")
	}
	if c.SelectorStrategy != StrategyGreedy && c.SelectorStrategy != StrategyRandom {
		return fmt.Errorf("SELECTOR_STRATEGY must be '%s' or '%s'", StrategyGreedy, StrategyRandom)
	}
	if err := c.ValidateStore(); err != nil {
		return err
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("TIMEZONE %q: %w", c.Timezone, err)
	}
	return nil
}

// ValidateStore checks only the storage settings, for tools that never talk
// to Telegram.
func (c *Config) ValidateStore() error {
	switch c.StoreDriver {
	case DriverSQLite, DriverFile:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL must name the %s store file", c.StoreDriver)
		}
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres store")
		}
	default:
		return fmt.Errorf("STORE_DRIVER must be one of sqlite, postgres, file")
	}
	return nil
}
