package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("TELEGRAM_BOT_TOKEN", "token")
	t.Setenv("TELEGRAM_CHANNEL_ID", "@channel")
	t.Setenv("ADMIN_CHAT_ID", "42")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3*time.Minute, cfg.MinInterval)
	assert.Equal(t, 20, cfg.MaxPerHour)
	assert.Equal(t, 1.5, cfg.MinInterestScore)
	assert.Equal(t, 30*time.Minute, cfg.DelayIncrease)
	assert.Equal(t, time.Minute, cfg.PublishInterval)
	assert.Equal(t, 0.7, cfg.TopFraction)
	assert.Equal(t, StrategyGreedy, cfg.SelectorStrategy)
	assert.Equal(t, DriverSQLite, cfg.StoreDriver)
	assert.Equal(t, "news_bot.db", cfg.DatabaseURL)
	assert.False(t, cfg.TranslationEnabled())
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("MIN_PUBLICATION_INTERVAL", "5")
	t.Setenv("DELAY_INCREASE", "45s")
	t.Setenv("MAX_PUBLICATIONS_PER_HOUR", "7")
	t.Setenv("SELECTOR_STRATEGY", "RANDOM")
	t.Setenv("STORE_DRIVER", "file")
	t.Setenv("GEMINI_API_KEY", "k")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5*time.Minute, cfg.MinInterval)
	assert.Equal(t, 45*time.Second, cfg.DelayIncrease)
	assert.Equal(t, 7, cfg.MaxPerHour)
	assert.Equal(t, StrategyRandom, cfg.SelectorStrategy)
	assert.Equal(t, "news_bot.json", cfg.DatabaseURL)
	assert.True(t, cfg.TranslationEnabled())
}

func TestLoadMissingCredentials(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	t.Setenv("TELEGRAM_CHANNEL_ID", "@channel")
	t.Setenv("ADMIN_CHAT_ID", "42")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TELEGRAM_BOT_TOKEN")
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"top fraction", func(c *Config) { c.TopFraction = 1.5 }},
		{"strategy", func(c *Config) { c.SelectorStrategy = "magic" }},
		{"driver", func(c *Config) { c.StoreDriver = "mongo" }},
		{"postgres without url", func(c *Config) { c.StoreDriver = DriverPostgres; c.DatabaseURL = "" }},
		{"timezone", func(c *Config) { c.Timezone = "Mars/Olympus" }},
		{"hour cap", func(c *Config) { c.MaxPerHour = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			cfg, err := Load()
			require.NoError(t, err)

			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
