package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	API       APIConfig       `mapstructure:"api"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Scan      ScanConfig      `mapstructure:"scan"`
	Combo     ComboConfig     `mapstructure:"combo"`
	GEX       GEXConfig       `mapstructure:"gex"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Daemon    DaemonConfig    `mapstructure:"daemon"`
	Tickers   []string        `mapstructure:"tickers"`
	Tiers     []TierConfig    `mapstructure:"tiers"`
}

type APIConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	APIKey     string `mapstructure:"api_key"`
	TimeoutSec int    `mapstructure:"timeout_sec"`
}

type SchedulerConfig struct {
	MaxConcurrent    int `mapstructure:"max_concurrent"`
	MinIntervalMs    int `mapstructure:"min_interval_ms"`
	BackoffUnitMs    int `mapstructure:"backoff_unit_ms"`
	RateLimitRetries int `mapstructure:"rate_limit_retries"`
	TransientRetries int `mapstructure:"transient_retries"`
	QuoteTimeoutSec  int `mapstructure:"quote_timeout_sec"`
	BulkTimeoutSec   int `mapstructure:"bulk_timeout_sec"`
	TickIntervalMs   int `mapstructure:"tick_interval_ms"`
}

func (s SchedulerConfig) MinInterval() time.Duration {
	return time.Duration(s.MinIntervalMs) * time.Millisecond
}

func (s SchedulerConfig) BackoffUnit() time.Duration {
	return time.Duration(s.BackoffUnitMs) * time.Millisecond
}

func (s SchedulerConfig) TickInterval() time.Duration {
	return time.Duration(s.TickIntervalMs) * time.Millisecond
}

func (s SchedulerConfig) QuoteTimeout() time.Duration {
	return time.Duration(s.QuoteTimeoutSec) * time.Second
}

func (s SchedulerConfig) BulkTimeout() time.Duration {
	return time.Duration(s.BulkTimeoutSec) * time.Second
}

type ScanConfig struct {
	Workers       int     `mapstructure:"workers"`
	ContractBatch int     `mapstructure:"contract_batch"`
	CallFloor     float64 `mapstructure:"call_floor"`
	PutCeiling    float64 `mapstructure:"put_ceiling"`
}

type ComboConfig struct {
	StrikeTolerance float64 `mapstructure:"strike_tolerance"`
	WindowSec       int     `mapstructure:"window_sec"`
}

func (c ComboConfig) Window() time.Duration {
	return time.Duration(c.WindowSec) * time.Second
}

type GEXConfig struct {
	HorizonDays  int     `mapstructure:"horizon_days"`
	Walls        int     `mapstructure:"walls"`
	RiskFreeRate float64 `mapstructure:"risk_free_rate"`
}

type CacheConfig struct {
	Backend    string      `mapstructure:"backend"` // "memory" or "redis"
	TTLHours   int         `mapstructure:"ttl_hours"`
	LiveTTLSec int         `mapstructure:"live_ttl_sec"`
	Redis      RedisConfig `mapstructure:"redis"`
}

func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLHours) * time.Hour
}

func (c CacheConfig) LiveTTL() time.Duration {
	return time.Duration(c.LiveTTLSec) * time.Second
}

type RedisConfig struct {
	Addr       string `mapstructure:"addr"`
	Password   string `mapstructure:"password"`
	DB         int    `mapstructure:"db"`
	PoolSize   int    `mapstructure:"pool_size"`
	TLSEnabled bool   `mapstructure:"tls_enabled"`
}

type ServerConfig struct {
	Port              string `mapstructure:"port"`
	WSEnabled         bool   `mapstructure:"ws_enabled"`
	StreamIntervalSec int    `mapstructure:"stream_interval_sec"`
	RequestTimeoutSec int    `mapstructure:"request_timeout_sec"`
	MaxSymbols        int    `mapstructure:"max_symbols"`
}

// StreamInterval is how often the flow stream rescans one subscribed
// underlying.
func (s ServerConfig) StreamInterval() time.Duration {
	return time.Duration(s.StreamIntervalSec) * time.Second
}

type LoggingConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Directory string `mapstructure:"directory"`
	Level     string `mapstructure:"level"`
}

// NotifyConfig holds ntfy settings for scheduled scan reports.
type NotifyConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Server   string `mapstructure:"server"`
	Topic    string `mapstructure:"topic"`
	Priority string `mapstructure:"priority"` // min, low, default, high, urgent
	Tags     string `mapstructure:"tags"`     // comma-separated emoji tags
	Token    string `mapstructure:"token"`    // optional, for private topics
}

// DaemonConfig schedules the end-of-day scan.
type DaemonConfig struct {
	ScheduleHour   int    `mapstructure:"schedule_hour"`
	ScheduleMinute int    `mapstructure:"schedule_minute"`
	Timezone       string `mapstructure:"timezone"`
	StateFile      string `mapstructure:"state_file"`
	RunOnStartup   bool   `mapstructure:"run_on_startup"`
}

var notifyPriorities = map[string]bool{
	"min": true, "low": true, "default": true, "high": true, "urgent": true,
}

// TierConfig overrides one row of the qualification table.
type TierConfig struct {
	Level      int     `mapstructure:"level"`
	MinPrice   float64 `mapstructure:"min_price"`
	MinSize    int64   `mapstructure:"min_size"`
	MinPremium float64 `mapstructure:"min_premium"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("api.base_url", "https://api.polygon.io")
	v.SetDefault("api.timeout_sec", 30)
	v.SetDefault("scheduler.max_concurrent", 5)
	v.SetDefault("scheduler.min_interval_ms", 100)
	v.SetDefault("scheduler.backoff_unit_ms", 1000)
	v.SetDefault("scheduler.rate_limit_retries", 3)
	v.SetDefault("scheduler.transient_retries", 2)
	v.SetDefault("scheduler.quote_timeout_sec", 5)
	v.SetDefault("scheduler.bulk_timeout_sec", 30)
	v.SetDefault("scheduler.tick_interval_ms", 250)
	v.SetDefault("scan.workers", 4)
	v.SetDefault("scan.contract_batch", 10)
	v.SetDefault("scan.call_floor", 0.95)
	v.SetDefault("scan.put_ceiling", 1.05)
	v.SetDefault("combo.strike_tolerance", 0.02)
	v.SetDefault("combo.window_sec", 120)
	v.SetDefault("gex.horizon_days", 45)
	v.SetDefault("gex.walls", 3)
	v.SetDefault("gex.risk_free_rate", 0.045)
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.ttl_hours", 24)
	v.SetDefault("cache.live_ttl_sec", 60)
	v.SetDefault("cache.redis.addr", "localhost:6379")
	v.SetDefault("cache.redis.pool_size", 10)
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.ws_enabled", true)
	v.SetDefault("server.request_timeout_sec", 120)
	v.SetDefault("server.max_symbols", 25)
	v.SetDefault("server.stream_interval_sec", 15)
	v.SetDefault("logging.enabled", true)
	v.SetDefault("logging.directory", "logs")
	v.SetDefault("logging.level", "info")
	v.SetDefault("notify.enabled", false)
	v.SetDefault("notify.server", "https://ntfy.sh")
	v.SetDefault("notify.topic", "")
	v.SetDefault("notify.priority", "default")
	v.SetDefault("notify.tags", "chart_with_upwards_trend")
	v.SetDefault("notify.token", "")
	v.SetDefault("daemon.schedule_hour", 16)
	v.SetDefault("daemon.schedule_minute", 30)
	v.SetDefault("daemon.timezone", "America/New_York")
	v.SetDefault("daemon.state_file", "data/.daemon-state")
	v.SetDefault("daemon.run_on_startup", true)
	v.SetDefault("tickers", DefaultTickers)

	// Environment variable support
	v.SetEnvPrefix("OPTIONFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Explicitly bind nested keys to env vars
	_ = v.BindEnv("api.api_key", "OPTIONFLOW_API_KEY")
	_ = v.BindEnv("cache.redis.password", "OPTIONFLOW_REDIS_PASSWORD")
	_ = v.BindEnv("notify.enabled", "OPTIONFLOW_NOTIFY_ENABLED", "NTFY_ENABLED")
	_ = v.BindEnv("notify.server", "OPTIONFLOW_NOTIFY_SERVER", "NTFY_SERVER")
	_ = v.BindEnv("notify.topic", "OPTIONFLOW_NOTIFY_TOPIC", "NTFY_TOPIC")
	_ = v.BindEnv("notify.priority", "OPTIONFLOW_NOTIFY_PRIORITY", "NTFY_PRIORITY")
	_ = v.BindEnv("notify.tags", "OPTIONFLOW_NOTIFY_TAGS", "NTFY_TAGS")
	_ = v.BindEnv("notify.token", "OPTIONFLOW_NOTIFY_TOKEN", "NTFY_TOKEN")
	_ = v.BindEnv("daemon.schedule_hour", "OPTIONFLOW_DAEMON_SCHEDULE_HOUR", "DAEMON_SCHEDULE_HOUR")
	_ = v.BindEnv("daemon.schedule_minute", "OPTIONFLOW_DAEMON_SCHEDULE_MINUTE", "DAEMON_SCHEDULE_MINUTE")
	_ = v.BindEnv("daemon.timezone", "OPTIONFLOW_DAEMON_TIMEZONE", "DAEMON_TIMEZONE")
	_ = v.BindEnv("daemon.state_file", "OPTIONFLOW_DAEMON_STATE_FILE", "DAEMON_STATE_FILE")
	_ = v.BindEnv("daemon.run_on_startup", "OPTIONFLOW_DAEMON_RUN_ON_STARTUP", "DAEMON_RUN_ON_STARTUP")

	// Load config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("default")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.API.APIKey == "" {
		return fmt.Errorf("api_key is required (set OPTIONFLOW_API_KEY env var)")
	}

	errs := &ValidationErrors{}
	errs.checkTickers(c.Tickers)

	if c.Scheduler.MaxConcurrent < 1 {
		errs.add("scheduler.max_concurrent must be >= 1, got %d", c.Scheduler.MaxConcurrent)
	}
	if c.Scheduler.MinIntervalMs < 0 {
		errs.add("scheduler.min_interval_ms must be >= 0, got %d", c.Scheduler.MinIntervalMs)
	}
	if c.Scheduler.RateLimitRetries < 0 || c.Scheduler.TransientRetries < 0 {
		errs.add("scheduler retry counts must be >= 0")
	}
	if c.Scheduler.QuoteTimeoutSec < 1 || c.Scheduler.BulkTimeoutSec < 1 {
		errs.add("scheduler timeouts must be >= 1s")
	}
	if c.Scan.Workers < 1 {
		errs.add("scan.workers must be >= 1, got %d", c.Scan.Workers)
	}
	if c.Scan.ContractBatch < 1 {
		errs.add("scan.contract_batch must be >= 1, got %d", c.Scan.ContractBatch)
	}
	if c.Scan.CallFloor <= 0 || c.Scan.PutCeiling <= 0 {
		errs.add("scan band factors must be > 0")
	}
	if c.Combo.StrikeTolerance < 0 || c.Combo.WindowSec < 0 {
		errs.add("combo tolerances must be >= 0")
	}
	if c.GEX.HorizonDays < 0 || c.GEX.Walls < 0 {
		errs.add("gex.horizon_days and gex.walls must be >= 0")
	}
	if c.Cache.Backend != "memory" && c.Cache.Backend != "redis" {
		errs.add("cache.backend must be 'memory' or 'redis', got %q", c.Cache.Backend)
	}
	if c.Notify.Enabled {
		if c.Notify.Topic == "" {
			errs.add("notify.topic is required when notifications are enabled")
		}
		if !notifyPriorities[c.Notify.Priority] {
			errs.add("invalid notify.priority %q (valid: min, low, default, high, urgent)", c.Notify.Priority)
		}
	}
	if c.Daemon.ScheduleHour < 0 || c.Daemon.ScheduleHour > 23 || c.Daemon.ScheduleMinute < 0 || c.Daemon.ScheduleMinute > 59 {
		errs.add("daemon schedule %02d:%02d is not a time of day", c.Daemon.ScheduleHour, c.Daemon.ScheduleMinute)
	}
	if c.Server.WSEnabled && c.Server.StreamIntervalSec < 1 {
		errs.add("server.stream_interval_sec must be >= 1 when websockets are enabled")
	}
	for _, t := range c.Tiers {
		if t.MinPrice < 0 || t.MinSize < 0 || t.MinPremium < 0 {
			errs.add("tier %d: minimums must be >= 0", t.Level)
		}
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}
