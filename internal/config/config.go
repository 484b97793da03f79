// Package config defines all configuration for the liquidity bot.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via MM_* environment variables. A .env file in
// the working directory, if present, is loaded into the environment first.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"liquidity-mm/internal/planner"
	"liquidity-mm/internal/risk"
	"liquidity-mm/pkg/types"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Bot       BotConfig       `mapstructure:"bot"`
	Planner   PlannerConfig   `mapstructure:"planner"`
	Exchange  ExchangeConfig  `mapstructure:"exchange"`
	Scanner   ScannerConfig   `mapstructure:"scanner"`
	Store     StoreConfig     `mapstructure:"store"`
	Schedule  ScheduleConfig  `mapstructure:"schedule"`
	Shapes    ShapesConfig    `mapstructure:"shapes"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
}

// BotConfig seeds the operator settings on first start. Once state has been
// saved to the store, the stored values win.
type BotConfig struct {
	MaxAcceptableLoss int64            `mapstructure:"max_acceptable_loss"`
	TotalLiquidity    int64            `mapstructure:"total_liquidity"`
	GlobalMultiplier  float64          `mapstructure:"global_multiplier"`
	IsActive          bool             `mapstructure:"is_active"`
	Thresholds        []risk.Threshold `mapstructure:"thresholds"`
}

// Settings converts the seed values into planner settings.
func (b BotConfig) Settings() planner.Settings {
	return planner.Settings{
		MaxAcceptableLoss: b.MaxAcceptableLoss,
		TotalLiquidity:    b.TotalLiquidity,
		GlobalMultiplier:  b.GlobalMultiplier,
		IsActive:          b.IsActive,
	}
}

// PlannerConfig tunes order generation.
//
//   - MinOrderUnits: planned orders smaller than this are dropped as dust.
//   - OfferSide: side every planned order is placed on (YES or NO).
//   - CrossRule: "gte" treats p + q == 100 as crossing, "gt" does not.
type PlannerConfig struct {
	MinOrderUnits int64  `mapstructure:"min_order_units"`
	OfferSide     string `mapstructure:"offer_side"`
	CrossRule     string `mapstructure:"cross_rule"`
}

// ExchangeConfig holds venue endpoints and API credentials.
// RateLimit is requests per second on the REST API, with RateBurst headroom.
// BookMaxAge is how long a streamed book snapshot is trusted before the
// engine falls back to REST.
type ExchangeConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	WSURL          string        `mapstructure:"ws_url"`
	APIKey         string        `mapstructure:"api_key"`
	APISecret      string        `mapstructure:"api_secret"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	BookMaxAge     time.Duration `mapstructure:"book_max_age"`
	RateLimit      float64       `mapstructure:"rate_limit"`
	RateBurst      int           `mapstructure:"rate_burst"`
	PlaceBatchSize int           `mapstructure:"place_batch_size"`
	DryRun         bool          `mapstructure:"dry_run"`
}

// ScannerConfig controls which venue markets are scored when tiers are
// rebuilt from scratch.
type ScannerConfig struct {
	PageSize        int      `mapstructure:"page_size"`
	MaxEndDateDays  int      `mapstructure:"max_end_date_days"`
	ExcludeMarkets  []string `mapstructure:"exclude_markets"`
	ExcludeKeywords []string `mapstructure:"exclude_keywords"`
}

// StoreConfig sets where shapes (JSON files) and bot state (SQLite) live.
type StoreConfig struct {
	DataDir    string `mapstructure:"data_dir"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

// ScheduleConfig holds cron specs for timed work. Empty disables the job.
type ScheduleConfig struct {
	Redeploy string `mapstructure:"redeploy"`
}

type ShapesConfig struct {
	PresetsFile string `mapstructure:"presets_file"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DashboardConfig controls the web dashboard server.
type DashboardConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: MM_API_KEY, MM_API_SECRET.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("MM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Override sensitive fields from env
	if key := os.Getenv("MM_API_KEY"); key != "" {
		cfg.Exchange.APIKey = key
	}
	if secret := os.Getenv("MM_API_SECRET"); secret != "" {
		cfg.Exchange.APISecret = secret
	}
	if os.Getenv("MM_DRY_RUN") == "true" || os.Getenv("MM_DRY_RUN") == "1" {
		cfg.Exchange.DryRun = true
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("bot.global_multiplier", 1.0)
	v.SetDefault("planner.min_order_units", 1)
	v.SetDefault("planner.offer_side", string(types.YES))
	v.SetDefault("planner.cross_rule", string(planner.CrossGTE))
	v.SetDefault("exchange.request_timeout", 10*time.Second)
	v.SetDefault("exchange.book_max_age", 30*time.Second)
	v.SetDefault("exchange.rate_limit", 10.0)
	v.SetDefault("exchange.rate_burst", 20)
	v.SetDefault("exchange.place_batch_size", 15)
	v.SetDefault("scanner.page_size", 100)
	v.SetDefault("store.data_dir", "data")
	v.SetDefault("store.sqlite_path", "data/state.db")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("dashboard.port", 8080)
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if err := c.Bot.Settings().Validate(); err != nil {
		return fmt.Errorf("bot: %w", err)
	}
	if err := risk.ValidateThresholds(c.Bot.Thresholds); err != nil {
		return fmt.Errorf("bot.thresholds: %w", err)
	}
	if c.Planner.MinOrderUnits < 1 {
		return fmt.Errorf("planner.min_order_units must be >= 1")
	}
	if !types.Side(c.Planner.OfferSide).Valid() {
		return fmt.Errorf("planner.offer_side must be YES or NO")
	}
	if r := planner.CrossRule(c.Planner.CrossRule); r == "" || !r.Valid() {
		return fmt.Errorf("planner.cross_rule must be one of: gte, gt")
	}
	if c.Exchange.BaseURL == "" {
		return fmt.Errorf("exchange.base_url is required")
	}
	if !c.Exchange.DryRun && (c.Exchange.APIKey == "" || c.Exchange.APISecret == "") {
		return fmt.Errorf("exchange.api_key and exchange.api_secret are required (set MM_API_KEY, MM_API_SECRET)")
	}
	if c.Exchange.RequestTimeout <= 0 {
		return fmt.Errorf("exchange.request_timeout must be > 0")
	}
	if c.Exchange.RateLimit <= 0 || c.Exchange.RateBurst < 1 {
		return fmt.Errorf("exchange.rate_limit must be > 0 and exchange.rate_burst >= 1")
	}
	if c.Exchange.PlaceBatchSize < 1 {
		return fmt.Errorf("exchange.place_batch_size must be >= 1")
	}
	if c.Store.DataDir == "" || c.Store.SQLitePath == "" {
		return fmt.Errorf("store.data_dir and store.sqlite_path are required")
	}
	if c.Schedule.Redeploy != "" {
		if _, err := cron.ParseStandard(c.Schedule.Redeploy); err != nil {
			return fmt.Errorf("schedule.redeploy: %w", err)
		}
	}
	if c.Dashboard.Enabled && (c.Dashboard.Port <= 0 || c.Dashboard.Port > 65535) {
		return fmt.Errorf("dashboard.port must be in 1..65535")
	}
	return nil
}
