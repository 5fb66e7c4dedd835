package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Shopify   ShopifyConfig   `mapstructure:"shopify"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Detector  DetectorConfig  `mapstructure:"detector"`
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type ShopifyConfig struct {
	ShopDomain     string  `mapstructure:"shop_domain"`
	AccessToken    string  `mapstructure:"access_token"`
	APIVersion     string  `mapstructure:"api_version"`
	RequestsPerSec float64 `mapstructure:"requests_per_sec"`
	PageSize       int     `mapstructure:"page_size"`
	RequestTimeout string  `mapstructure:"request_timeout"`
}

func (s ShopifyConfig) GetRequestTimeout() time.Duration {
	d, err := time.ParseDuration(s.RequestTimeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

type SyncConfig struct {
	DefaultTimeframeDays int `mapstructure:"default_timeframe_days"`
	ReconcileBatchLimit  int `mapstructure:"reconcile_batch_limit"`
}

type SchedulerConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	HourOfDay int    `mapstructure:"hour_of_day"`
	Timezone  string `mapstructure:"timezone"`
}

type DetectorConfig struct {
	SweepInterval    string `mapstructure:"sweep_interval"`
	AcuteThreshold   string `mapstructure:"acute_threshold"`
	LenientThreshold string `mapstructure:"lenient_threshold"`
}

func (d DetectorConfig) GetAcuteThreshold() time.Duration {
	t, err := time.ParseDuration(d.AcuteThreshold)
	if err != nil || t <= 0 {
		return 5 * time.Minute
	}
	return t
}

func (d DetectorConfig) GetLenientThreshold() time.Duration {
	t, err := time.ParseDuration(d.LenientThreshold)
	if err != nil || t <= 0 {
		return 30 * time.Minute
	}
	return t
}

type ServerConfig struct {
	Port         int    `mapstructure:"port"`
	Host         string `mapstructure:"host"`
	AuthToken    string `mapstructure:"auth_token"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

func (s ServerConfig) GetReadTimeout() time.Duration {
	d, _ := time.ParseDuration(s.ReadTimeout)
	return d
}

func (s ServerConfig) GetWriteTimeout() time.Duration {
	d, _ := time.ParseDuration(s.WriteTimeout)
	return d
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("SHOPSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("shopify.api_version", "2024-01")
	v.SetDefault("shopify.requests_per_sec", 2.0)
	v.SetDefault("shopify.page_size", 250)
	v.SetDefault("sync.default_timeframe_days", 30)
	v.SetDefault("sync.reconcile_batch_limit", 250)
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.hour_of_day", 6)
	v.SetDefault("scheduler.timezone", "UTC")
	v.SetDefault("detector.sweep_interval", "@every 5m")
	v.SetDefault("detector.acute_threshold", "5m")
	v.SetDefault("detector.lenient_threshold", "30m")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Shopify.ShopDomain == "" {
		return nil, fmt.Errorf("shopify.shop_domain is required")
	}
	if cfg.Shopify.AccessToken == "" {
		return nil, fmt.Errorf("shopify.access_token is required")
	}

	return &cfg, nil
}
