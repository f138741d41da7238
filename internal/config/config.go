package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"
	_ "time/tzdata" // schedule.timezone must resolve on hosts without zoneinfo

	"github.com/joho/godotenv"
	"github.com/rewired-gh/marketpulse/internal/scheduler"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. MARKETPULSE_TELEGRAM_BOT_TOKEN.
const EnvPrefix = "MARKETPULSE"

// Config represents the complete application configuration
type Config struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
	Market   MarketConfig   `mapstructure:"market"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Dataset  DatasetConfig  `mapstructure:"dataset"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// TelegramConfig holds Telegram transport configuration
type TelegramConfig struct {
	BotToken          string        `mapstructure:"bot_token"`
	APIEndpoint       string        `mapstructure:"api_endpoint"`
	MaxRetries        int           `mapstructure:"max_retries"`
	RetryDelayBase    time.Duration `mapstructure:"retry_delay_base"`
	SendRatePerSecond float64       `mapstructure:"send_rate_per_second"`
	UpdateLimit       int           `mapstructure:"update_limit"`
	Debug             bool          `mapstructure:"debug"`
}

// AssetConfig is one entry of the summary basket.
type AssetConfig struct {
	Name   string `mapstructure:"name"`
	Symbol string `mapstructure:"symbol"`
}

// MarketConfig holds market-data configuration
type MarketConfig struct {
	HomeSuffix     string        `mapstructure:"home_suffix"`
	Separator      string        `mapstructure:"separator"`
	StaleAfter     time.Duration `mapstructure:"stale_after"`
	AlertEpsilon   float64       `mapstructure:"alert_epsilon"`
	ChangePeriod   string        `mapstructure:"change_period"`
	ChangeInterval string        `mapstructure:"change_interval"`
	DigestWindow   string        `mapstructure:"digest_window"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
	SummaryAssets  []AssetConfig `mapstructure:"summary_assets"`
}

// CacheConfig holds the price cache configuration
type CacheConfig struct {
	RedisEnabled  bool          `mapstructure:"redis_enabled"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	TTL           time.Duration `mapstructure:"ttl"`
}

// DatasetConfig holds reference dataset configuration
type DatasetConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Path           string        `mapstructure:"path"`
	StagingDir     string        `mapstructure:"staging_dir"`
	SourceURL      string        `mapstructure:"source_url"`
	ExportSelector string        `mapstructure:"export_selector"`
	DownloadWait   time.Duration `mapstructure:"download_wait"`
	Timeout        time.Duration `mapstructure:"timeout"`
	Headless       bool          `mapstructure:"headless"`
	BrowserPath    string        `mapstructure:"browser_path"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	Backoff        time.Duration `mapstructure:"backoff"`
	MinRows        int           `mapstructure:"min_rows"`
	MinBytes       int64         `mapstructure:"min_bytes"`
}

// ScheduleConfig holds job schedules (cron expressions or @every descriptors)
type ScheduleConfig struct {
	Timezone       string        `mapstructure:"timezone"`
	LoopInterval   time.Duration `mapstructure:"loop_interval"`
	Broadcast      []string      `mapstructure:"broadcast"`
	CheckAlerts    string        `mapstructure:"check_alerts"`
	RefreshDataset string        `mapstructure:"refresh_dataset"`
	DatasetHealth  string        `mapstructure:"dataset_health"`
}

// StorageConfig holds persistence configuration
type StorageConfig struct {
	DBPath string `mapstructure:"db_path"`
}

// ServerConfig holds the status endpoint configuration
type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from an optional .env file, an optional YAML file and
// environment variables, in increasing order of precedence.
func Load(path string) (*Config, error) {
	// Load .env into the process environment if present
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Enable environment variable override
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Keys without a default are unknown to AutomaticEnv until bound
	for _, key := range []string{"telegram.bot_token", "telegram.api_endpoint", "cache.redis_password", "dataset.browser_path"} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	// Read config file
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Unmarshal into Config struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Telegram defaults
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")
	v.SetDefault("telegram.send_rate_per_second", 25.0)
	v.SetDefault("telegram.update_limit", 100)
	v.SetDefault("telegram.debug", false)

	// Market defaults
	v.SetDefault("market.home_suffix", ".IS")
	v.SetDefault("market.separator", ".")
	v.SetDefault("market.stale_after", "15m")
	v.SetDefault("market.alert_epsilon", 0.01)
	v.SetDefault("market.change_period", "5d")
	v.SetDefault("market.change_interval", "1d")
	v.SetDefault("market.digest_window", "3mo")
	v.SetDefault("market.max_retries", 2)
	v.SetDefault("market.retry_delay_base", "1s")

	// Cache defaults
	v.SetDefault("cache.redis_enabled", false)
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.ttl", "24h")

	// Dataset defaults
	v.SetDefault("dataset.enabled", true)
	v.SetDefault("dataset.path", "./data/funds.xlsx")
	v.SetDefault("dataset.source_url", "https://www.tefas.gov.tr/FonKarsilastirma.aspx")
	v.SetDefault("dataset.export_selector", "button.buttons-excel")
	v.SetDefault("dataset.download_wait", "60s")
	v.SetDefault("dataset.timeout", "90s")
	v.SetDefault("dataset.headless", true)
	v.SetDefault("dataset.max_attempts", 5)
	v.SetDefault("dataset.backoff", "30s")
	v.SetDefault("dataset.min_rows", 100)
	v.SetDefault("dataset.min_bytes", 10240)

	// Schedule defaults
	v.SetDefault("schedule.timezone", "Europe/Istanbul")
	v.SetDefault("schedule.loop_interval", "1s")
	v.SetDefault("schedule.broadcast", []string{"0 10 * * *", "0 18 * * *"})
	v.SetDefault("schedule.check_alerts", "@every 1m")
	v.SetDefault("schedule.refresh_dataset", "0 6 * * *")
	v.SetDefault("schedule.dataset_health", "@hourly")

	// Storage defaults
	v.SetDefault("storage.db_path", "./data/marketpulse.db")

	// Server defaults
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.addr", ":8080")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate Telegram config
	if c.Telegram.BotToken == "" {
		return fmt.Errorf("telegram.bot_token is required (or set %s_TELEGRAM_BOT_TOKEN)", EnvPrefix)
	}
	if c.Telegram.MaxRetries < 1 {
		return fmt.Errorf("telegram.max_retries must be at least 1")
	}
	if c.Telegram.SendRatePerSecond <= 0 {
		return fmt.Errorf("telegram.send_rate_per_second must be positive")
	}

	// Validate Market config
	if c.Market.StaleAfter < 0 {
		return fmt.Errorf("market.stale_after must not be negative")
	}
	if c.Market.AlertEpsilon <= 0 {
		return fmt.Errorf("market.alert_epsilon must be positive")
	}
	if c.Market.Separator == "" {
		return fmt.Errorf("market.separator is required")
	}
	for i, a := range c.Market.SummaryAssets {
		if a.Symbol == "" {
			return fmt.Errorf("market.summary_assets[%d].symbol is required", i)
		}
	}

	// Validate Cache config
	if c.Cache.RedisEnabled && c.Cache.RedisAddr == "" {
		return fmt.Errorf("cache.redis_addr is required when redis is enabled")
	}

	// Validate Dataset config
	if c.Dataset.Enabled {
		if c.Dataset.Path == "" {
			return fmt.Errorf("dataset.path is required")
		}
		if c.Dataset.SourceURL == "" || c.Dataset.ExportSelector == "" {
			return fmt.Errorf("dataset.source_url and dataset.export_selector are required")
		}
		if c.Dataset.MaxAttempts < 1 {
			return fmt.Errorf("dataset.max_attempts must be at least 1")
		}
		if c.Dataset.Backoff < 0 {
			return fmt.Errorf("dataset.backoff must not be negative")
		}
		if c.Dataset.DownloadWait <= 0 {
			return fmt.Errorf("dataset.download_wait must be positive")
		}
	}

	// Validate Schedule config
	if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
		return fmt.Errorf("schedule.timezone: %w", err)
	}
	if c.Schedule.LoopInterval <= 0 {
		return fmt.Errorf("schedule.loop_interval must be positive")
	}
	specs := map[string]string{
		"schedule.check_alerts":    c.Schedule.CheckAlerts,
		"schedule.refresh_dataset": c.Schedule.RefreshDataset,
		"schedule.dataset_health":  c.Schedule.DatasetHealth,
	}
	for i, spec := range c.Schedule.Broadcast {
		specs[fmt.Sprintf("schedule.broadcast[%d]", i)] = spec
	}
	for key, spec := range specs {
		if spec == "" {
			continue
		}
		if err := scheduler.Validate(spec); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}

	// Validate Storage config
	if c.Storage.DBPath == "" {
		return fmt.Errorf("storage.db_path is required")
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

// Location returns the schedule timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Schedule.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
