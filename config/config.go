package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Tradeflow  TradeflowConfig  `yaml:"tradeflow"`
	Channels   ChannelsConfig   `yaml:"channels"`
	Feed       FeedConfig       `yaml:"feed"`
	History    HistoryConfig    `yaml:"history"`
	Aggregator AggregatorConfig `yaml:"aggregator"`
	Indicator  IndicatorConfig  `yaml:"indicator"`
	Strategies []StrategyConfig `yaml:"strategies"`
	Engine     EngineConfig     `yaml:"engine"`
	Broker     BrokerConfig     `yaml:"broker"`
	Storage    StorageConfig    `yaml:"storage"`
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type TradeflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type ChannelsConfig struct {
	RawBuffer   int `yaml:"raw_buffer"`
	TickBuffer  int `yaml:"tick_buffer"`
	IndexBuffer int `yaml:"index_buffer"`
	BarBuffer   int `yaml:"bar_buffer"`
}

type FeedConfig struct {
	URL               string          `yaml:"url"`
	AccessToken       string          `yaml:"access_token"`
	ClientID          string          `yaml:"client_id"`
	MarketDataPort    string          `yaml:"market_data_port"`
	Instruments       []string        `yaml:"instruments"`
	KeepaliveInterval time.Duration   `yaml:"keepalive_interval"`
	KeepaliveTimeout  time.Duration   `yaml:"keepalive_timeout"`
	Reconnect         ReconnectConfig `yaml:"reconnect"`
}

type ReconnectConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BackoffUnit time.Duration `yaml:"backoff_unit"`
}

type HistoryConfig struct {
	URL               string        `yaml:"url"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
}

type AggregatorConfig struct {
	WindowSize int `yaml:"window_size"`
}

type IndicatorConfig struct {
	OBVPeriod           int     `yaml:"obv_period"`
	VROCPeriod          int     `yaml:"vroc_period"`
	VWAPPeriod          int     `yaml:"vwap_period"`
	ATRPeriod           int     `yaml:"atr_period"`
	AvgVolumeShort      int     `yaml:"avg_volume_short"`
	AvgVolumeLong       int     `yaml:"avg_volume_long"`
	VolumeProfileWindow int     `yaml:"volume_profile_window"`
	VolumeProfileLevels int     `yaml:"volume_profile_levels"`
	ValueAreaFraction   float64 `yaml:"value_area_fraction"`
}

type StrategyConfig struct {
	ID              string        `yaml:"id"`
	Type            string        `yaml:"type"`
	Instruments     []string      `yaml:"instruments"`
	Capital         float64       `yaml:"capital"`
	MaxPositionSize float64       `yaml:"max_position_size"`
	MaxOpenTrades   int           `yaml:"max_open_trades"`
	MaxDailyLoss    float64       `yaml:"max_daily_loss"`
	ReentryCooldown time.Duration `yaml:"reentry_cooldown"`
	EODExit         string        `yaml:"eod_exit"`
}

type EngineConfig struct {
	MaintenanceInterval time.Duration `yaml:"maintenance_interval"`
}

type BrokerConfig struct {
	URL               string        `yaml:"url"`
	AccessToken       string        `yaml:"access_token"`
	ClientID          string        `yaml:"client_id"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
}

type StorageConfig struct {
	Postgres PostgresConfig `yaml:"postgres"`
	S3       S3Config       `yaml:"s3"`
}

type PostgresConfig struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"dsn"`
}

type S3Config struct {
	Enabled         bool          `yaml:"enabled"`
	Bucket          string        `yaml:"bucket"`
	Region          string        `yaml:"region"`
	AccessKeyID     string        `yaml:"access_key_id"`
	SecretAccessKey string        `yaml:"secret_access_key"`
	Prefix          string        `yaml:"prefix"`
	BatchSize       int           `yaml:"batch_size"`
	FlushInterval   time.Duration `yaml:"flush_interval"`
}

type ServerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

type LoggingConfig struct {
	Level      string           `yaml:"level"`
	Format     string           `yaml:"format"`
	Output     string           `yaml:"output"`
	MaxAge     int              `yaml:"max_age"`
	CloudWatch CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
	Dashboard string `yaml:"dashboard"`
}

// LoadConfig reads, parses and validates the yaml configuration at path.
// Credentials are overridden from the environment when present so secrets
// never need to live in the config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := defaults()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(config)

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

func defaults() *Config {
	return &Config{
		Channels: ChannelsConfig{
			RawBuffer:   1000,
			TickBuffer:  1000,
			IndexBuffer: 100,
			BarBuffer:   500,
		},
		Feed: FeedConfig{
			MarketDataPort:    "12002",
			KeepaliveInterval: 30 * time.Second,
			KeepaliveTimeout:  10 * time.Second,
			Reconnect: ReconnectConfig{
				MaxAttempts: 5,
				BackoffUnit: time.Second,
			},
		},
		History: HistoryConfig{
			Timeout:           15 * time.Second,
			RequestsPerSecond: 2,
			Burst:             1,
		},
		Aggregator: AggregatorConfig{WindowSize: 1000},
		Indicator: IndicatorConfig{
			OBVPeriod:           20,
			VROCPeriod:          14,
			VWAPPeriod:          20,
			ATRPeriod:           14,
			AvgVolumeShort:      20,
			AvgVolumeLong:       50,
			VolumeProfileWindow: 30,
			VolumeProfileLevels: 20,
			ValueAreaFraction:   0.7,
		},
		Engine: EngineConfig{MaintenanceInterval: time.Minute},
		Broker: BrokerConfig{
			Timeout:           10 * time.Second,
			RequestsPerSecond: 1,
			Burst:             1,
		},
		Server: ServerConfig{Address: ":8080"},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

func applyEnvOverrides(config *Config) {
	if v := os.Getenv("FEED_ACCESS_TOKEN"); v != "" {
		config.Feed.AccessToken = strings.TrimSpace(v)
	}
	if v := os.Getenv("FEED_CLIENT_ID"); v != "" {
		config.Feed.ClientID = strings.TrimSpace(v)
	}
	if v := os.Getenv("BROKER_ACCESS_TOKEN"); v != "" {
		config.Broker.AccessToken = strings.TrimSpace(v)
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		config.Storage.Postgres.DSN = strings.TrimSpace(v)
	}
	if config.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Storage.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}
}

func validateConfig(config *Config) error {
	if config.Feed.URL == "" {
		return fmt.Errorf("feed.url is required")
	}
	if config.Feed.Reconnect.MaxAttempts <= 0 {
		return fmt.Errorf("feed.reconnect.max_attempts must be positive")
	}
	if config.Aggregator.WindowSize <= 0 {
		return fmt.Errorf("aggregator.window_size must be positive")
	}
	if config.Indicator.ValueAreaFraction <= 0 || config.Indicator.ValueAreaFraction > 1 {
		return fmt.Errorf("indicator.value_area_fraction must be in (0, 1]")
	}
	if config.Storage.S3.Enabled && config.Storage.S3.Bucket == "" {
		return fmt.Errorf("storage.s3.bucket is required when s3 is enabled")
	}
	if config.Storage.Postgres.Enabled && config.Storage.Postgres.DSN == "" {
		return fmt.Errorf("storage.postgres.dsn is required when postgres is enabled")
	}
	seen := make(map[string]struct{}, len(config.Strategies))
	for _, sc := range config.Strategies {
		if sc.ID == "" {
			return fmt.Errorf("strategy id must not be empty")
		}
		if _, dup := seen[sc.ID]; dup {
			return fmt.Errorf("duplicate strategy id %q", sc.ID)
		}
		seen[sc.ID] = struct{}{}
		if sc.Capital <= 0 {
			return fmt.Errorf("strategy %s: capital must be positive", sc.ID)
		}
	}
	return nil
}
