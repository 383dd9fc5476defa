package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	EnvConfigPath     = "PIPELM_CONFIG_PATH"
	EnvNonInteractive = "PIPELM_NONINTERACTIVE"

	DefaultConfigSubpath = ".config/pipelm"

	PlaceholderAppend = "append"
	PlaceholderIgnore = "ignore"
	PlaceholderError  = "error"
)

var (
	ErrConfigPathUnresolvable = errors.New("could not determine config path, set " + EnvConfigPath + " or HOME")
	ErrInvalidPlaceholder     = errors.New("PIPELM_PLACEHOLDER_POLICY must be 'append', 'ignore' or 'error'")
	ErrInvalidUsageDriver     = errors.New("PIPELM_USAGE_DB_DRIVER must be 'sqlite' or 'postgres'")
)

type Config struct {
	ConfigDir         string
	NonInteractive    bool
	PlaceholderPolicy string

	HTTP   HTTPConfig
	Key    KeyConfig
	Usage  UsageConfig
	Redis  RedisConfig
	Rate   RateConfig
	Metric MetricConfig
	Log    LogConfig
}

type HTTPConfig struct {
	ClientTimeout time.Duration
}

type KeyConfig struct {
	CommandTimeout time.Duration
}

type UsageConfig struct {
	Driver string
	DSN    string
}

func (u UsageConfig) Enabled() bool { return u.DSN != "" }

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func (r RedisConfig) Enabled() bool { return r.Addr != "" }

type RateConfig struct {
	PerHour int64
}

type MetricConfig struct {
	TextfilePath string
}

type LogConfig struct {
	Level string
}

// Load reads the runtime configuration from the environment. Variables from a
// .env file in the working directory or in the config directory fill in
// whatever the process environment leaves unset.
func Load() (*Config, error) {
	loadDotenv(".env")

	dir, err := ResolveConfigDir()
	if err != nil {
		return nil, err
	}
	loadDotenv(filepath.Join(dir, ".env"))

	cfg := &Config{
		ConfigDir:         dir,
		NonInteractive:    mustBool(EnvNonInteractive, false),
		PlaceholderPolicy: strings.ToLower(mustEnv("PIPELM_PLACEHOLDER_POLICY", PlaceholderAppend)),
		HTTP: HTTPConfig{
			ClientTimeout: mustDuration("PIPELM_HTTP_TIMEOUT", 60*time.Second),
		},
		Key: KeyConfig{
			CommandTimeout: mustDuration("PIPELM_KEY_COMMAND_TIMEOUT", 10*time.Second),
		},
		Usage: UsageConfig{
			Driver: strings.ToLower(mustEnv("PIPELM_USAGE_DB_DRIVER", "sqlite")),
			DSN:    mustEnv("PIPELM_USAGE_DB_DSN", ""),
		},
		Redis: RedisConfig{
			Addr:     mustEnv("PIPELM_REDIS_ADDR", ""),
			Password: mustEnv("PIPELM_REDIS_PASSWORD", ""),
			DB:       mustInt("PIPELM_REDIS_DB", 0),
		},
		Rate: RateConfig{
			PerHour: int64(mustInt("PIPELM_RATE_LIMIT_PER_HOUR", 0)),
		},
		Metric: MetricConfig{
			TextfilePath: mustEnv("PIPELM_METRICS_FILE", ""),
		},
		Log: LogConfig{
			Level: strings.ToLower(mustEnv("PIPELM_LOG_LEVEL", "warn")),
		},
	}

	switch cfg.PlaceholderPolicy {
	case PlaceholderAppend, PlaceholderIgnore, PlaceholderError:
	default:
		return nil, ErrInvalidPlaceholder
	}
	switch cfg.Usage.Driver {
	case "sqlite", "sqlite3", "postgres", "pgx":
	default:
		return nil, ErrInvalidUsageDriver
	}
	if cfg.HTTP.ClientTimeout <= 0 {
		return nil, fmt.Errorf("PIPELM_HTTP_TIMEOUT must be > 0")
	}
	if cfg.Key.CommandTimeout <= 0 {
		return nil, fmt.Errorf("PIPELM_KEY_COMMAND_TIMEOUT must be > 0")
	}

	return cfg, nil
}

// ResolveConfigDir picks the override variable first, then a fixed path
// under HOME.
func ResolveConfigDir() (string, error) {
	if v := mustEnv(EnvConfigPath, ""); v != "" {
		return v, nil
	}
	if home := mustEnv("HOME", ""); home != "" {
		return filepath.Join(home, DefaultConfigSubpath), nil
	}
	return "", ErrConfigPathUnresolvable
}

func loadDotenv(path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	_ = godotenv.Load(path)
}

func mustEnv(key string, def string) string {
	if v := os.Getenv(key); v != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func mustInt(key string, def int) int {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func mustBool(key string, def bool) bool {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func mustDuration(key string, def time.Duration) time.Duration {
	v := mustEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
