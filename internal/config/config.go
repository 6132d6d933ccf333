package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	Redis      RedisConfig      `yaml:"redis"`
	GeoIP      GeoIPConfig      `yaml:"geoip"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Insights   InsightsConfig   `yaml:"insights"`
	Live       LiveConfig       `yaml:"live"`
	Heatmap    HeatmapConfig    `yaml:"heatmap"`
}

type ServerConfig struct {
	HTTPPort        int           `yaml:"http_port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type KafkaConfig struct {
	Brokers       []string          `yaml:"brokers"`
	Topics        map[string]string `yaml:"topics"`
	ConsumerGroup string            `yaml:"consumer_group"`
}

type ClickHouseConfig struct {
	Addr         string `yaml:"addr"`
	Database     string `yaml:"database"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type GeoIPConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// MetricsConfig bounds the request-scoped metric queries.
type MetricsConfig struct {
	MaxSamples int           `yaml:"max_samples"`
	CacheTTL   time.Duration `yaml:"cache_ttl"`
}

type InsightsConfig struct {
	RageClick RageClickConfig `yaml:"rage_click"`
	DeadClick DeadClickConfig `yaml:"dead_click"`
	SlowPage  SlowPageConfig  `yaml:"slow_page"`
}

type RageClickConfig struct {
	MinClicks    int   `yaml:"min_clicks"`
	TimeWindowMs int64 `yaml:"time_window_ms"`
}

type DeadClickConfig struct {
	MinClicks    int   `yaml:"min_clicks"`
	TimeWindowMs int64 `yaml:"time_window_ms"`
	FollowUpMs   int64 `yaml:"follow_up_ms"`
}

type SlowPageConfig struct {
	LCPThresholdMs int64   `yaml:"lcp_threshold_ms"`
	Percentile     float64 `yaml:"percentile"`
}

type LiveConfig struct {
	DefaultDelayMs   int64         `yaml:"default_delay_ms"`
	AllowedDelaysMs  []int64       `yaml:"allowed_delays_ms"`
	Debounce         time.Duration `yaml:"debounce"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	ReapInterval     time.Duration `yaml:"reap_interval"`
	SubscriberBuffer int           `yaml:"subscriber_buffer"`

	// Bounds the flush of open recordings on shutdown.
	ShutdownFlushTimeout time.Duration `yaml:"shutdown_flush_timeout"`
}

// DelayAllowed reports whether a viewer may select delayMs.
// An empty allow-list accepts any non-negative delay.
func (c LiveConfig) DelayAllowed(delayMs int64) bool {
	if delayMs < 0 {
		return false
	}
	if len(c.AllowedDelaysMs) == 0 {
		return true
	}
	for _, d := range c.AllowedDelaysMs {
		if d == delayMs {
			return true
		}
	}
	return false
}

type HeatmapConfig struct {
	TargetWidth           int     `yaml:"target_width"`
	TargetHeight          int     `yaml:"target_height"`
	DefaultViewportWidth  int     `yaml:"default_viewport_width"`
	DefaultViewportHeight int     `yaml:"default_viewport_height"`
	MaxTargetWidth        int     `yaml:"max_target_width"`
	MaxTargetHeight       int     `yaml:"max_target_height"`
	CellSize              int     `yaml:"cell_size"`
	Radius                float64 `yaml:"radius"`
	Falloff               string  `yaml:"falloff"`
}

var (
	ErrInvalidPercentile = errors.New("insights.slow_page.percentile must be in (0, 100]")
	ErrInvalidFalloff    = errors.New("heatmap.falloff must be linear or gaussian")
	ErrDefaultDelay      = errors.New("live.default_delay_ms is not in live.allowed_delays_ms")
)

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return &cfg, nil
}

// SetDefaults fills every zero value with its documented default.
func (cfg *Config) SetDefaults() {
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8090
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	// Unset ${KAFKA_BROKER} style entries expand to empty strings
	brokers := cfg.Kafka.Brokers[:0]
	for _, b := range cfg.Kafka.Brokers {
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	cfg.Kafka.Brokers = brokers
	if cfg.Kafka.ConsumerGroup == "" {
		cfg.Kafka.ConsumerGroup = "gosight-signal-engine"
	}
	if cfg.ClickHouse.MaxOpenConns == 0 {
		cfg.ClickHouse.MaxOpenConns = 10
	}
	if cfg.ClickHouse.MaxIdleConns == 0 {
		cfg.ClickHouse.MaxIdleConns = 5
	}

	if cfg.Metrics.MaxSamples == 0 {
		cfg.Metrics.MaxSamples = 2000
	}
	if cfg.Metrics.CacheTTL == 0 {
		cfg.Metrics.CacheTTL = 30 * time.Second
	}

	// Set insights defaults
	if cfg.Insights.RageClick.MinClicks == 0 {
		cfg.Insights.RageClick.MinClicks = 3
	}
	if cfg.Insights.RageClick.TimeWindowMs == 0 {
		cfg.Insights.RageClick.TimeWindowMs = 3000
	}
	if cfg.Insights.DeadClick.MinClicks == 0 {
		cfg.Insights.DeadClick.MinClicks = 1
	}
	if cfg.Insights.DeadClick.TimeWindowMs == 0 {
		cfg.Insights.DeadClick.TimeWindowMs = 3000
	}
	if cfg.Insights.DeadClick.FollowUpMs == 0 {
		cfg.Insights.DeadClick.FollowUpMs = 1000
	}
	if cfg.Insights.SlowPage.LCPThresholdMs == 0 {
		cfg.Insights.SlowPage.LCPThresholdMs = 2500
	}
	if cfg.Insights.SlowPage.Percentile == 0 {
		cfg.Insights.SlowPage.Percentile = 75
	}

	if cfg.Live.AllowedDelaysMs == nil {
		cfg.Live.AllowedDelaysMs = []int64{0, 500, 1000, 2000, 3000}
	}
	if cfg.Live.Debounce == 0 {
		cfg.Live.Debounce = 500 * time.Millisecond
	}
	if cfg.Live.IdleTimeout == 0 {
		cfg.Live.IdleTimeout = 30 * time.Minute
	}
	if cfg.Live.ReapInterval == 0 {
		cfg.Live.ReapInterval = time.Minute
	}
	if cfg.Live.SubscriberBuffer == 0 {
		cfg.Live.SubscriberBuffer = 16
	}
	if cfg.Live.ShutdownFlushTimeout == 0 {
		cfg.Live.ShutdownFlushTimeout = 5 * time.Second
	}

	if cfg.Heatmap.TargetWidth == 0 {
		cfg.Heatmap.TargetWidth = 1280
	}
	if cfg.Heatmap.TargetHeight == 0 {
		cfg.Heatmap.TargetHeight = 768
	}
	if cfg.Heatmap.DefaultViewportWidth == 0 {
		cfg.Heatmap.DefaultViewportWidth = 1280
	}
	if cfg.Heatmap.DefaultViewportHeight == 0 {
		cfg.Heatmap.DefaultViewportHeight = 768
	}
	if cfg.Heatmap.MaxTargetWidth == 0 {
		cfg.Heatmap.MaxTargetWidth = 3840
	}
	if cfg.Heatmap.MaxTargetHeight == 0 {
		cfg.Heatmap.MaxTargetHeight = 16384
	}
	if cfg.Heatmap.CellSize == 0 {
		cfg.Heatmap.CellSize = 8
	}
	if cfg.Heatmap.Radius == 0 {
		cfg.Heatmap.Radius = 24
	}
	if cfg.Heatmap.Falloff == "" {
		cfg.Heatmap.Falloff = "gaussian"
	}
}

// Validate checks values that have no sensible fallback.
func (cfg *Config) Validate() error {
	if p := cfg.Insights.SlowPage.Percentile; p <= 0 || p > 100 {
		return ErrInvalidPercentile
	}
	if cfg.Heatmap.Falloff != "linear" && cfg.Heatmap.Falloff != "gaussian" {
		return ErrInvalidFalloff
	}
	if !cfg.Live.DelayAllowed(cfg.Live.DefaultDelayMs) {
		return ErrDefaultDelay
	}
	if cfg.Metrics.MaxSamples < 0 {
		return fmt.Errorf("metrics.max_samples must be positive, got %d", cfg.Metrics.MaxSamples)
	}
	return nil
}
