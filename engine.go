package gtfs

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"motionbus.dev/gtfs/downloader"
	"motionbus.dev/gtfs/metrics"
	"motionbus.dev/gtfs/sink"
	"motionbus.dev/gtfs/storage"
)

const (
	DefaultRealtimeInterval = 30 * time.Second
	DefaultRealtimeTimeout  = 30 * time.Second
	DefaultRealtimeMaxSize  = 1 << 20 // 1 MB
	DefaultReloadHour       = 3

	// Display code for vehicles on routes missing from storage.
	UnknownRouteShortName = "Unknown"
)

var (
	ErrFeedUnavailable = errors.New("realtime feed unavailable")
	ErrCycleInProgress = errors.New("reconciliation cycle in progress")
	ErrUnknownRoute    = errors.New("unknown route")
)

// Engine keeps a schedule in storage current: static reloads from
// feed folders and realtime reconciliation against a GTFS-rt feed.
//
// At most one reconciliation cycle or reload runs at a time.
type Engine struct {
	StaticFolders []string
	ReloadHour    int

	RealtimeURL      string
	RealtimeHeaders  map[string]string
	RealtimeInterval time.Duration
	RealtimeTimeout  time.Duration
	RealtimeMaxSize  int
	Downloader       downloader.Downloader

	// If set, a fetched realtime snapshot is reused for this long.
	// Zero fetches on every cycle.
	RealtimeCacheTTL time.Duration

	// Civil timezone of the feeds. Service dates and times of day
	// are computed here.
	Location *time.Location
	Now      func() time.Time

	Logger  *slog.Logger
	Metrics *metrics.Collector

	// Receive positions after each committed cycle.
	Sinks []sink.PositionSink

	storage storage.Storage

	mutex sync.Mutex

	// Service date of the last successful reload.
	loadedDate string
}

// Creates an Engine on top of the given storage.
//
// Realtime data is fetched with a MemoryDownloader, uncached unless
// RealtimeCacheTTL is set.
func NewEngine(s storage.Storage, loc *time.Location) *Engine {
	return &Engine{
		ReloadHour: DefaultReloadHour,

		RealtimeInterval: DefaultRealtimeInterval,
		RealtimeTimeout:  DefaultRealtimeTimeout,
		RealtimeMaxSize:  DefaultRealtimeMaxSize,
		Downloader:       downloader.NewMemoryDownloader(),

		Location: loc,
		Now:      time.Now,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),

		storage: s,
	}
}

func (e *Engine) Storage() storage.Storage {
	return e.storage
}

func (e *Engine) logger(component string) *slog.Logger {
	return e.Logger.With("component", component)
}

// Service date (YYYYMMDD) of the current time.
func (e *Engine) today() string {
	return e.Now().In(e.Location).Format("20060102")
}
