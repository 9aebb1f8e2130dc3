package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultTimezone         = "Asia/Nicosia"
	DefaultRealtimeInterval = 30 * time.Second
	DefaultRealtimeTimeout  = 30 * time.Second
	DefaultRealtimeMaxSize  = 1 << 20
	DefaultReloadHour       = 3
	DefaultRedisTTL         = 2 * time.Minute
	DefaultNATSPrefix       = "gtfs.positions"
)

type DatabaseConfig struct {
	Driver string `yaml:"driver" validate:"oneof=sqlite3 postgres"`

	// Directory holding gtfs.db for sqlite3, connection string for
	// postgres. Empty runs sqlite3 in memory.
	DSN string `yaml:"dsn" validate:"required_if=Driver postgres"`
}

type StaticConfig struct {
	// Feed folders or zip files, loaded in order.
	Folders    []string `yaml:"folders" validate:"dive,required"`
	ReloadHour int      `yaml:"reload_hour" validate:"gte=0,lte=23"`
}

type RealtimeConfig struct {
	URL      string            `yaml:"url" validate:"omitempty,url"`
	Headers  map[string]string `yaml:"headers"`
	Interval time.Duration     `yaml:"interval" validate:"gt=0"`
	Timeout  time.Duration     `yaml:"timeout" validate:"gt=0"`
	MaxSize  int               `yaml:"max_size" validate:"gt=0"`
	CacheTTL time.Duration     `yaml:"cache_ttl" validate:"gte=0"`
}

type NATSConfig struct {
	URL           string `yaml:"url" validate:"omitempty,url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

type RedisConfig struct {
	Addr     string        `yaml:"addr" validate:"omitempty,hostname_port"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db" validate:"gte=0"`
	TTL      time.Duration `yaml:"ttl" validate:"gt=0"`
}

type Config struct {
	Timezone    string         `yaml:"timezone" validate:"timezone"`
	LogLevel    string         `yaml:"log_level" validate:"omitempty,oneof=debug info warn warning error"`
	MetricsAddr string         `yaml:"metrics_addr"`
	Database    DatabaseConfig `yaml:"database"`
	Static      StaticConfig   `yaml:"static"`
	Realtime    RealtimeConfig `yaml:"realtime"`
	NATS        NATSConfig     `yaml:"nats"`
	Redis       RedisConfig    `yaml:"redis"`
}

func Default() *Config {
	return &Config{
		Timezone: DefaultTimezone,
		LogLevel: "info",
		Database: DatabaseConfig{
			Driver: "sqlite3",
			DSN:    ".",
		},
		Static: StaticConfig{
			ReloadHour: DefaultReloadHour,
		},
		Realtime: RealtimeConfig{
			Interval: DefaultRealtimeInterval,
			Timeout:  DefaultRealtimeTimeout,
			MaxSize:  DefaultRealtimeMaxSize,
		},
		NATS: NATSConfig{
			SubjectPrefix: DefaultNATSPrefix,
		},
		Redis: RedisConfig{
			TTL: DefaultRedisTTL,
		},
	}
}

// Loads configuration from the YAML file at path, if any, then
// applies .env and environment overrides and validates the
// result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	// Load .env into environment (ignore if missing)
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func applyEnv(cfg *Config) error {
	cfg.Database.Driver = getEnv("GTFS_DB_DRIVER", cfg.Database.Driver)
	cfg.Database.DSN = getEnv("GTFS_DB_DSN", cfg.Database.DSN)
	cfg.Static.Folders = getCSVEnv("GTFS_STATIC_FOLDERS", cfg.Static.Folders)
	cfg.Realtime.URL = getEnv("GTFS_REALTIME_URL", cfg.Realtime.URL)
	cfg.Timezone = getEnv("GTFS_TIMEZONE", cfg.Timezone)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.MetricsAddr = getEnv("METRICS_ADDR", cfg.MetricsAddr)
	cfg.NATS.URL = getEnv("NATS_URL", cfg.NATS.URL)
	cfg.NATS.SubjectPrefix = getEnv("NATS_SUBJECT_PREFIX", cfg.NATS.SubjectPrefix)
	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)

	var err error
	if cfg.Realtime.Interval, err = getDurationEnv("GTFS_REALTIME_INTERVAL", cfg.Realtime.Interval); err != nil {
		return err
	}
	if cfg.Realtime.Timeout, err = getDurationEnv("GTFS_REALTIME_TIMEOUT", cfg.Realtime.Timeout); err != nil {
		return err
	}
	if cfg.Realtime.CacheTTL, err = getDurationEnv("GTFS_REALTIME_CACHE_TTL", cfg.Realtime.CacheTTL); err != nil {
		return err
	}
	if cfg.Redis.TTL, err = getDurationEnv("REDIS_TTL", cfg.Redis.TTL); err != nil {
		return err
	}
	if cfg.Redis.DB, err = getIntEnv("REDIS_DB", cfg.Redis.DB); err != nil {
		return err
	}

	return nil
}

// The configured civil timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %s: %w", c.Timezone, err)
	}
	return loc, nil
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getDurationEnv(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return d, nil
}

func getIntEnv(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return i, nil
}

func getCSVEnv(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	values := []string{}
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			values = append(values, s)
		}
	}
	return values
}
