package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by Load, e.g. BGSYNC_REDIS_ADDR.
const EnvPrefix = "BGSYNC"

// Config holds the replayer configuration
type Config struct {
	Redis        RedisConfig   `mapstructure:"redis"`
	Queues       []string      `mapstructure:"queues"`
	MaxRetention time.Duration `mapstructure:"max_retention"`
	Sync         SyncConfig    `mapstructure:"sync"`
	LogLevel     string        `mapstructure:"log_level"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type SyncConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	ProbeURL    string        `mapstructure:"probe_url"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("queues", []string{})
	v.SetDefault("max_retention", 7*24*time.Hour)
	v.SetDefault("sync.interval", 30*time.Second)
	v.SetDefault("sync.max_attempts", 3)
	v.SetDefault("sync.probe_url", "")
	v.SetDefault("log_level", "info")
}

// Load reads the configuration from path, if given, then from BGSYNC_* environment
// variables. Environment values win over the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.Redis.Addr == "" {
		return fmt.Errorf("invalid redis.addr: empty")
	}
	if c.MaxRetention <= 0 {
		return fmt.Errorf("invalid max_retention: %s", c.MaxRetention)
	}
	if c.Sync.Interval <= 0 {
		return fmt.Errorf("invalid sync.interval: %s", c.Sync.Interval)
	}
	if c.Sync.MaxAttempts <= 0 {
		return fmt.Errorf("invalid sync.max_attempts: %d", c.Sync.MaxAttempts)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level: %w", err)
	}
	seen := make(map[string]struct{}, len(c.Queues))
	for _, q := range c.Queues {
		if q == "" {
			return fmt.Errorf("invalid queues: empty name")
		}
		if _, ok := seen[q]; ok {
			return fmt.Errorf("invalid queues: %q listed twice", q)
		}
		seen[q] = struct{}{}
	}
	return nil
}

// Level returns the parsed log level. Call after Validate.
func (c *Config) Level() logrus.Level {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}
