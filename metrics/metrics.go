package metrics

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Cycle outcomes
const (
	OutcomeOK          = "ok"
	OutcomeUnavailable = "unavailable"
	OutcomeFailed      = "failed"
	OutcomeBusy        = "busy"
)

// Collects engine metrics. A nil *Collector is valid and records
// nothing.
type Collector struct {
	reg *prometheus.Registry

	Cycles        *prometheus.CounterVec // outcome label: ok|unavailable|failed|busy
	CycleDuration prometheus.Histogram
	LastCycle     prometheus.Gauge // unix seconds of last successful cycle

	StopTimesUpdated  prometheus.Counter
	StopTimesInserted prometheus.Counter
	StopTimesSkipped  prometheus.Counter
	TripsCanceled     prometheus.Counter
	TripsAllocated    prometheus.Counter
	Positions         prometheus.Gauge

	Reloads        *prometheus.CounterVec // outcome label: ok|failed
	ReloadDuration prometheus.Histogram
	RowsLoaded     *prometheus.CounterVec // file label
	RowsMalformed  *prometheus.CounterVec // file label

	SinkErrors *prometheus.CounterVec // sink label
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		Cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gtfs_reconcile_cycles_total",
			Help: "Realtime reconciliation cycles by outcome.",
		}, []string{"outcome"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gtfs_reconcile_duration_seconds",
			Help:    "Duration of realtime reconciliation cycles.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		LastCycle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gtfs_reconcile_last_success_timestamp_seconds",
			Help: "Unix time of the last committed reconciliation cycle.",
		}),
		StopTimesUpdated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gtfs_stop_times_updated_total",
			Help: "Timetable entries updated from realtime data.",
		}),
		StopTimesInserted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gtfs_stop_times_inserted_total",
			Help: "Timetable entries inserted from realtime data.",
		}),
		StopTimesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gtfs_stop_times_skipped_total",
			Help: "Realtime stop time updates that could not be applied.",
		}),
		TripsCanceled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gtfs_trips_canceled_total",
			Help: "Canceled trip updates seen.",
		}),
		TripsAllocated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gtfs_trips_allocated_total",
			Help: "Trip ids allocated for added trips.",
		}),
		Positions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gtfs_vehicle_positions",
			Help: "Vehicle positions derived in the last cycle.",
		}),
		Reloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gtfs_static_reloads_total",
			Help: "Static schedule reloads by outcome.",
		}, []string{"outcome"}),
		ReloadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gtfs_static_reload_duration_seconds",
			Help:    "Duration of static schedule reloads.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		RowsLoaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gtfs_static_rows_loaded_total",
			Help: "Static feed rows loaded, by file.",
		}, []string{"file"}),
		RowsMalformed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gtfs_static_rows_malformed_total",
			Help: "Static feed rows rejected as malformed, by file.",
		}, []string{"file"}),
		SinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gtfs_sink_errors_total",
			Help: "Failures handing positions to a sink.",
		}, []string{"sink"}),
	}

	reg.MustRegister(
		c.Cycles, c.CycleDuration, c.LastCycle,
		c.StopTimesUpdated, c.StopTimesInserted, c.StopTimesSkipped,
		c.TripsCanceled, c.TripsAllocated, c.Positions,
		c.Reloads, c.ReloadDuration, c.RowsLoaded, c.RowsMalformed,
		c.SinkErrors,
	)

	return c
}

// Counts from a single reconciliation cycle.
type CycleCounts struct {
	Updated   int
	Inserted  int
	Skipped   int
	Canceled  int
	Allocated int
	Positions int
}

func (c *Collector) ObserveCycle(outcome string, d time.Duration, counts CycleCounts) {
	if c == nil {
		return
	}
	c.Cycles.WithLabelValues(outcome).Inc()
	if outcome != OutcomeOK {
		return
	}
	c.CycleDuration.Observe(d.Seconds())
	c.LastCycle.SetToCurrentTime()
	c.StopTimesUpdated.Add(float64(counts.Updated))
	c.StopTimesInserted.Add(float64(counts.Inserted))
	c.StopTimesSkipped.Add(float64(counts.Skipped))
	c.TripsCanceled.Add(float64(counts.Canceled))
	c.TripsAllocated.Add(float64(counts.Allocated))
	c.Positions.Set(float64(counts.Positions))
}

// Records a reload. loaded and malformed are row counts by file.
func (c *Collector) ObserveReload(ok bool, d time.Duration, loaded map[string]int, malformed map[string]int) {
	if c == nil {
		return
	}
	if !ok {
		c.Reloads.WithLabelValues(OutcomeFailed).Inc()
		return
	}
	c.Reloads.WithLabelValues(OutcomeOK).Inc()
	c.ReloadDuration.Observe(d.Seconds())
	for file, n := range loaded {
		c.RowsLoaded.WithLabelValues(file).Add(float64(n))
	}
	for file, n := range malformed {
		c.RowsMalformed.WithLabelValues(file).Add(float64(n))
	}
}

func (c *Collector) SinkError(sink string) {
	if c == nil {
		return
	}
	c.SinkErrors.WithLabelValues(sink).Inc()
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()
	logger.Info("metrics listening", "addr", addr)
	return srv
}
