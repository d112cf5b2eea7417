package config

import (
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config carries everything the application graph needs at construction
// time. Loaded once in cmd and injected; no package-level state.
type Config struct {
	LogLevel string `mapstructure:"log_level"`

	Alert    AlertConfig    `mapstructure:"alert"`
	Queue    QueueConfig    `mapstructure:"queue"`
	State    StateConfig    `mapstructure:"state"`
	Consumer ConsumerConfig `mapstructure:"consumer"`
	Stats    StatsConfig    `mapstructure:"stats"`

	// threshold backs the one hot-reloadable knob. Read through
	// AlertThresholdSeconds so a config-file edit takes effect without a
	// restart.
	threshold atomic.Int64
	v         *viper.Viper
}

type AlertConfig struct {
	ThresholdSeconds int `mapstructure:"threshold_seconds"`
}

type QueueConfig struct {
	// Capacity sizing inputs: expected event rate times tolerated
	// consumer stall, times a 1.5 margin (applied by the queue package).
	EventsPerSecond   float64       `mapstructure:"events_per_second"`
	StallTolerance    time.Duration `mapstructure:"stall_tolerance"`
	CriticalTimeout   time.Duration `mapstructure:"critical_timeout"`
	StandardTimeout   time.Duration `mapstructure:"standard_timeout"`
	DropRateThreshold float64       `mapstructure:"drop_rate_threshold"`
	DropRateWindow    time.Duration `mapstructure:"drop_rate_window"`
}

type StateConfig struct {
	LockTimeout time.Duration `mapstructure:"lock_timeout"`
	StatsTTL    time.Duration `mapstructure:"stats_ttl"`
}

type ConsumerConfig struct {
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	DrainGrace    time.Duration `mapstructure:"drain_grace"`
	JoinTimeout   time.Duration `mapstructure:"join_timeout"`
	StatsInterval time.Duration `mapstructure:"stats_interval"`
	LatencyWindow int           `mapstructure:"latency_window"`
}

type StatsConfig struct {
	HistoryDays        int           `mapstructure:"history_days"`
	BreakerOpenTimeout time.Duration `mapstructure:"breaker_open_timeout"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")

	v.SetDefault("alert.threshold_seconds", 300)

	v.SetDefault("queue.events_per_second", 30.0)
	v.SetDefault("queue.stall_tolerance", "3s")
	v.SetDefault("queue.critical_timeout", "1s")
	v.SetDefault("queue.standard_timeout", "500ms")
	v.SetDefault("queue.drop_rate_threshold", 0.10)
	v.SetDefault("queue.drop_rate_window", "30s")

	v.SetDefault("state.lock_timeout", "5s")
	v.SetDefault("state.stats_ttl", "60s")

	v.SetDefault("consumer.poll_interval", "100ms")
	v.SetDefault("consumer.drain_grace", "500ms")
	v.SetDefault("consumer.join_timeout", "5s")
	v.SetDefault("consumer.stats_interval", "5s")
	v.SetDefault("consumer.latency_window", 100)

	v.SetDefault("stats.history_days", 7)
	v.SetDefault("stats.breaker_open_timeout", "30s")
}

// LoadConfig reads defaults, then the optional YAML file, then POSTURE_*
// environment overrides.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("POSTURE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	cfg := &Config{v: v}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	cfg.threshold.Store(int64(cfg.Alert.ThresholdSeconds))

	return cfg, nil
}

// AlertThresholdSeconds returns the live threshold value.
func (c *Config) AlertThresholdSeconds() int {
	return int(c.threshold.Load())
}

// Watch re-reads the hot-reloadable knobs whenever the config file changes
// on disk (viper's fsnotify watcher). No-op when no file was loaded.
func (c *Config) Watch(logger *slog.Logger) {
	if c.v.ConfigFileUsed() == "" {
		return
	}
	c.v.OnConfigChange(func(_ fsnotify.Event) {
		old := c.threshold.Load()
		fresh := c.v.GetInt("alert.threshold_seconds")
		if int64(fresh) != old {
			c.threshold.Store(int64(fresh))
			logger.Info("CONFIG_RELOADED",
				"alert_threshold_s_old", old,
				"alert_threshold_s_new", fresh,
			)
		}
	})
	c.v.WatchConfig()
}
