package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config stores all configuration for the service.
type Config struct {
	PortalBaseURL  string `mapstructure:"PORTAL_BASE_URL"`
	PortalGridURL  string `mapstructure:"PORTAL_GRID_URL"`
	PortalUsername string `mapstructure:"PORTAL_USERNAME"`
	PortalPassword string `mapstructure:"PORTAL_PASSWORD"`
	Headless       bool   `mapstructure:"HEADLESS"`

	StatusFilter  string `mapstructure:"STATUS_FILTER"`
	DateRangeDays int    `mapstructure:"DATE_RANGE_DAYS"`
	DateFormat    string `mapstructure:"DATE_FORMAT"`

	IDColumnLabel     string `mapstructure:"ID_COLUMN_LABEL"`
	DateColumnLabel   string `mapstructure:"DATE_COLUMN_LABEL"`
	StatusColumnLabel string `mapstructure:"STATUS_COLUMN_LABEL"`

	MaxAttempts         int    `mapstructure:"MAX_ATTEMPTS"`
	RetryBackoffSeconds int    `mapstructure:"RETRY_BACKOFF_SECONDS"`
	WaitTimeoutSeconds  int    `mapstructure:"WAIT_TIMEOUT_SECONDS"`
	PollIntervalMS      int    `mapstructure:"POLL_INTERVAL_MS"`
	VerifyAttempts      int    `mapstructure:"VERIFY_ATTEMPTS"`
	OverlaySelectors    string `mapstructure:"OVERLAY_SELECTORS"`
	DebugSnapshotDir    string `mapstructure:"DEBUG_SNAPSHOT_DIR"`

	RunSchedule       string `mapstructure:"RUN_SCHEDULE"`
	RunLockTTLMinutes int    `mapstructure:"RUN_LOCK_TTL_MINUTES"`

	PostgresURL   string `mapstructure:"POSTGRES_URL"`
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	ServerPort string `mapstructure:"SERVER_PORT"`
	LogLevel   string `mapstructure:"LOG_LEVEL"`
}

// Load reads configuration from a .env file or environment variables.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	// Attempt to read the .env file, but don't fail if it's not present.
	// This allows configuration purely through environment variables.
	_ = v.ReadInConfig()

	// Every key needs a default registered so AutomaticEnv picks it up
	// during Unmarshal.
	v.SetDefault("PORTAL_BASE_URL", "")
	v.SetDefault("PORTAL_GRID_URL", "")
	v.SetDefault("PORTAL_USERNAME", "")
	v.SetDefault("PORTAL_PASSWORD", "")
	v.SetDefault("HEADLESS", true)
	v.SetDefault("STATUS_FILTER", "pro")
	v.SetDefault("DATE_RANGE_DAYS", 30)
	v.SetDefault("DATE_FORMAT", "01/02/2006")
	v.SetDefault("ID_COLUMN_LABEL", "Tag")
	v.SetDefault("DATE_COLUMN_LABEL", "Date")
	v.SetDefault("STATUS_COLUMN_LABEL", "Status")
	v.SetDefault("MAX_ATTEMPTS", 3)
	v.SetDefault("RETRY_BACKOFF_SECONDS", 5)
	v.SetDefault("WAIT_TIMEOUT_SECONDS", 20)
	v.SetDefault("POLL_INTERVAL_MS", 250)
	v.SetDefault("VERIFY_ATTEMPTS", 3)
	v.SetDefault("OVERLAY_SELECTORS", "")
	v.SetDefault("DEBUG_SNAPSHOT_DIR", "")
	v.SetDefault("RUN_SCHEDULE", "0 */6 * * *")
	v.SetDefault("RUN_LOCK_TTL_MINUTES", 30)
	v.SetDefault("POSTGRES_URL", "")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("LOG_LEVEL", "info")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings a run cannot proceed without.
func (c *Config) Validate() error {
	if c.PortalBaseURL == "" {
		return errors.New("PORTAL_BASE_URL is required")
	}
	if c.PostgresURL == "" {
		return errors.New("POSTGRES_URL is required")
	}
	if strings.TrimSpace(c.StatusFilter) == "" {
		return errors.New("STATUS_FILTER must not be blank")
	}
	if c.MaxAttempts < 1 {
		return errors.New("MAX_ATTEMPTS must be at least 1")
	}
	return nil
}

func (c *Config) WaitTimeout() time.Duration {
	return time.Duration(c.WaitTimeoutSeconds) * time.Second
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

func (c *Config) RetryBackoff() time.Duration {
	return time.Duration(c.RetryBackoffSeconds) * time.Second
}

func (c *Config) RunLockTTL() time.Duration {
	return time.Duration(c.RunLockTTLMinutes) * time.Minute
}

// OverlaySelectorList splits OVERLAY_SELECTORS on commas, dropping blanks.
func (c *Config) OverlaySelectorList() []string {
	var out []string
	for _, sel := range strings.Split(c.OverlaySelectors, ",") {
		if sel = strings.TrimSpace(sel); sel != "" {
			out = append(out, sel)
		}
	}
	return out
}
