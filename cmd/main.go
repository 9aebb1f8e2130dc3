package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"motionbus.dev/gtfs"
	"motionbus.dev/gtfs/config"
	"motionbus.dev/gtfs/metrics"
	"motionbus.dev/gtfs/sink"
	"motionbus.dev/gtfs/storage"
)

var rootCmd = &cobra.Command{
	Use:          "gtfs",
	Short:        "GTFS schedule and realtime tool",
	Long:         "Loads GTFS static feeds and keeps them in sync with a GTFS-rt feed",
	SilenceUsage: true,
}

var (
	configPath      string
	realtimeURL     string
	realtimeHeaders []string
	databaseDSN     string
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().StringVarP(&realtimeURL, "realtime-url", "", "", "GTFS Realtime URL (overrides config)")
	rootCmd.PersistentFlags().StringSliceVarP(
		&realtimeHeaders,
		"realtime-header",
		"",
		[]string{},
		"GTFS Realtime HTTP header",
	)
	rootCmd.PersistentFlags().StringVarP(&databaseDSN, "dsn", "", "", "Database DSN (overrides config)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func parseHeaders(headers []string) (map[string]string, error) {
	parsed := map[string]string{}
	for _, header := range headers {
		parts := strings.SplitN(header, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("'%s' is not on form <key>:<value>", header)
		}
		parsed[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}
	return parsed, nil
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	if realtimeURL != "" {
		cfg.Realtime.URL = realtimeURL
	}
	if databaseDSN != "" {
		cfg.Database.DSN = databaseDSN
	}

	headers, err := parseHeaders(realtimeHeaders)
	if err != nil {
		return nil, fmt.Errorf("invalid realtime header: %w", err)
	}
	if cfg.Realtime.Headers == nil {
		cfg.Realtime.Headers = map[string]string{}
	}
	for k, v := range headers {
		cfg.Realtime.Headers[k] = v
	}

	return cfg, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
}

func openStorage(cfg *config.Config) (storage.Storage, error) {
	switch cfg.Database.Driver {
	case "postgres":
		return storage.NewPSQLStorage(cfg.Database.DSN, false)
	default:
		if cfg.Database.DSN == "" {
			return storage.NewSQLiteStorage()
		}
		return storage.NewSQLiteStorage(storage.SQLiteConfig{OnDisk: true, Directory: cfg.Database.DSN})
	}
}

// An engine on the configured storage. withSinks also connects the
// configured position sinks. The returned func releases everything.
func buildEngine(withSinks bool) (*gtfs.Engine, *config.Config, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}

	loc, err := cfg.Location()
	if err != nil {
		return nil, nil, nil, err
	}

	logger := newLogger(cfg)

	s, err := openStorage(cfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("opening storage: %w", err)
	}

	e := gtfs.NewEngine(s, loc)
	e.Logger = logger
	e.StaticFolders = cfg.Static.Folders
	e.ReloadHour = cfg.Static.ReloadHour
	e.RealtimeURL = cfg.Realtime.URL
	e.RealtimeHeaders = cfg.Realtime.Headers
	e.RealtimeInterval = cfg.Realtime.Interval
	e.RealtimeTimeout = cfg.Realtime.Timeout
	e.RealtimeMaxSize = cfg.Realtime.MaxSize
	e.RealtimeCacheTTL = cfg.Realtime.CacheTTL
	e.Metrics = metrics.NewCollector()

	sinks := []sink.PositionSink{}
	cleanup := func() {
		for _, ps := range sinks {
			if err := ps.Close(); err != nil {
				logger.Warn("closing sink", "sink", ps.Name(), "error", err)
			}
		}
		s.Close()
	}

	if withSinks {
		if cfg.NATS.URL != "" {
			p, err := sink.NewNATSPublisher(cfg.NATS.URL, cfg.NATS.SubjectPrefix, logger)
			if err != nil {
				cleanup()
				return nil, nil, nil, fmt.Errorf("connecting to nats: %w", err)
			}
			sinks = append(sinks, p)
		}
		if cfg.Redis.Addr != "" {
			c, err := sink.NewRedisCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.TTL, logger)
			if err != nil {
				cleanup()
				return nil, nil, nil, fmt.Errorf("connecting to redis: %w", err)
			}
			sinks = append(sinks, c)
		}
	}
	e.Sinks = sinks

	return e, cfg, cleanup, nil
}
