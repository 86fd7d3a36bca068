// Package config provides unified configuration loading for the engine:
// defaults, YAML file overlay, and environment variable overrides, in that
// precedence order.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/BaSui01/skillforge/deps"
	"github.com/BaSui01/skillforge/skill"
)

// EnvPrefix is the prefix for environment variable overrides.
const EnvPrefix = "SKILLFORGE"

// Config is the complete engine configuration.
type Config struct {
	Loader    LoaderConfig         `yaml:"loader"`
	Installer deps.InstallerConfig `yaml:"installer"`
	Redis     RedisConfig          `yaml:"redis"`
	Database  DatabaseConfig       `yaml:"database"`
	Log       LogConfig            `yaml:"log"`
	Metrics   MetricsConfig        `yaml:"metrics"`
}

// LoaderConfig configures the skill loader and watcher.
type LoaderConfig struct {
	// SkillsDir is the root directory scanned for skill units.
	SkillsDir string `yaml:"skills_dir"`
	// WatchEnabled turns on the background change detector.
	WatchEnabled bool `yaml:"watch_enabled"`
	// Watch holds the watcher settings when enabled.
	Watch skill.WatcherConfig `yaml:"watch"`
}

// RedisConfig configures the optional Redis backends (distributed
// installation locks, shared artifact cache).
type RedisConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
	PoolSize  int    `yaml:"pool_size"`
}

// DatabaseConfig configures the execution repository.
type DatabaseConfig struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"dsn"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
}

// MetricsConfig configures the Prometheus collector.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// DefaultConfig returns the baseline configuration.
func DefaultConfig() Config {
	return Config{
		Loader: LoaderConfig{
			SkillsDir:    "./skills",
			WatchEnabled: false,
			Watch:        skill.DefaultWatcherConfig(),
		},
		Installer: deps.DefaultInstallerConfig(),
		Redis: RedisConfig{
			Enabled:   false,
			Addr:      "localhost:6379",
			KeyPrefix: "skillforge:",
			PoolSize:  10,
		},
		Database: DatabaseConfig{
			Enabled: false,
			DSN:     "skillforge.db",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "skillforge",
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// any), then environment overrides. An empty path skips the file overlay.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

// applyEnv overlays SKILLFORGE_* environment variables onto the config.
func applyEnv(cfg *Config) {
	setString(&cfg.Loader.SkillsDir, "LOADER_SKILLS_DIR")
	setBool(&cfg.Loader.WatchEnabled, "LOADER_WATCH_ENABLED")
	setDuration(&cfg.Loader.Watch.Interval, "LOADER_WATCH_INTERVAL")

	setDuration(&cfg.Installer.Lock.WaitTimeout, "INSTALLER_LOCK_WAIT")
	setDuration(&cfg.Installer.Lock.TTL, "INSTALLER_LOCK_TTL")
	setInt(&cfg.Installer.MaxParallel, "INSTALLER_MAX_PARALLEL")

	setBool(&cfg.Redis.Enabled, "REDIS_ENABLED")
	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "REDIS_DB")
	setString(&cfg.Redis.KeyPrefix, "REDIS_KEY_PREFIX")

	setBool(&cfg.Database.Enabled, "DATABASE_ENABLED")
	setString(&cfg.Database.DSN, "DATABASE_DSN")

	setString(&cfg.Log.Level, "LOG_LEVEL")
	setString(&cfg.Log.Format, "LOG_FORMAT")

	setBool(&cfg.Metrics.Enabled, "METRICS_ENABLED")
	setString(&cfg.Metrics.Namespace, "METRICS_NAMESPACE")
}

func envValue(key string) (string, bool) {
	return os.LookupEnv(EnvPrefix + "_" + key)
}

func setString(target *string, key string) {
	if v, ok := envValue(key); ok {
		*target = v
	}
}

func setBool(target *bool, key string) {
	if v, ok := envValue(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*target = b
		}
	}
}

func setInt(target *int, key string) {
	if v, ok := envValue(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}

func setDuration(target *time.Duration, key string) {
	if v, ok := envValue(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			*target = d
		}
	}
}

// BuildLogger constructs a zap logger from the log configuration.
func (c LogConfig) BuildLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	zapCfg := zap.NewProductionConfig()
	if c.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
