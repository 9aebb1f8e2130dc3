package gtfs_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"motionbus.dev/gtfs"
	"motionbus.dev/gtfs/metrics"
	"motionbus.dev/gtfs/model"
	"motionbus.dev/gtfs/testutil"
)

func TestReloadFeedsServiceResolution(t *testing.T) {
	for _, backend := range testutil.Backends() {
		t.Run(backend, func(t *testing.T) {
			ctx := context.Background()
			e := newEngine(t, testutil.BuildStorage(t, backend))

			report, err := e.ReloadFeeds(ctx, []gtfs.Feed{
				{Name: "fixture", FS: testutil.BuildFeed(simpleFeed())},
			})
			require.NoError(t, err)

			assert.Equal(t, "20240115", report.Date)
			require.Equal(t, 1, len(report.Folders))
			assert.NoError(t, report.Folders[0].Err)
			assert.Equal(t, 1, report.Folders[0].Report.ServiceID)
			assert.Equal(t, map[string]int{
				"calendar_dates.txt": 1,
				"trips.txt":          3,
				"routes.txt":         3,
				"shapes.txt":         2,
				"stops.txt":          4,
				"stop_times.txt":     6,
			}, report.Loaded())

			trips, err := e.Storage().Trips(ctx)
			require.NoError(t, err)
			assert.Equal(t, []model.Trip{
				{ID: 5, RouteID: 10, ServiceID: 1, DirectionID: 0, Headsign: "Airport"},
				{ID: 6, RouteID: 11, ServiceID: 1, DirectionID: 1, Headsign: "Harbour"},
				{ID: 8, RouteID: 12, ServiceID: 1, DirectionID: 0, Headsign: "Hospital"},
			}, trips)

			// Nothing references trip 7.
			for _, st := range stopTimes(t, e) {
				assert.NotEqual(t, 7, st.TripID)
			}
			assert.Equal(t, 6, len(stopTimes(t, e)))
		})
	}
}

func TestReloadFeedsMultipleFolders(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, testutil.BuildStorage(t, "sqlite"))

	// Second folder shares stop 100 and adds 104.
	second := map[string][]string{
		"calendar_dates.txt": {
			"service_id,date,exception_type",
			"4,20240115,1",
		},
		"routes.txt": {
			"route_id,route_short_name,route_long_name",
			"20,20A,Intercity",
		},
		"trips.txt": {
			"route_id,service_id,trip_id,trip_headsign,direction_id",
			"20,4,50,Limassol,0",
		},
		"stops.txt": {
			"stop_id,stop_name,stop_lat,stop_lon,zone_id",
			"100,Center (intercity),35.17,33.36,1",
			"104,Limassol,34.68,33.04,3",
		},
		"stop_times.txt": {
			"trip_id,arrival_time,departure_time,stop_id,stop_sequence",
			"50,07:00:00,07:00:00,100,1",
			"50,08:10:00,08:10:00,104,2",
		},
	}

	report, err := e.ReloadFeeds(ctx, []gtfs.Feed{
		{Name: "urban", FS: testutil.BuildFeed(simpleFeed())},
		{Name: "intercity", FS: testutil.BuildFeed(second)},
	})
	require.NoError(t, err)
	require.Equal(t, 2, len(report.Folders))
	assert.Equal(t, []string{"shapes.txt"}, report.Folders[1].Report.Missing())

	stops, err := e.Storage().Stops(ctx)
	require.NoError(t, err)
	require.Equal(t, 5, len(stops))

	// First folder's stop wins.
	assert.Equal(t, "Center", stops[0].Name)
	assert.Equal(t, 104, stops[4].ID)

	routes, err := e.Storage().RoutesAtStop(ctx, 100)
	require.NoError(t, err)
	ids := []int{}
	for _, r := range routes {
		ids = append(ids, r.ID)
	}
	assert.ElementsMatch(t, []int{11, 12, 20}, ids)
}

func TestReloadFeedsReplacesData(t *testing.T) {
	ctx := context.Background()
	e := loadedEngine(t, simpleFeed())

	// Allocations go too.
	_, _, err := e.ResolveTrip(ctx, model.AddedTripKey{RouteID: 12, StartTime: "08:15:00"})
	require.NoError(t, err)

	files := simpleFeed()
	files["trips.txt"] = []string{
		"route_id,service_id,trip_id,trip_headsign,direction_id",
		"11,1,6,Harbour,1",
	}
	_, err = e.ReloadFeeds(ctx, []gtfs.Feed{{Name: "fixture", FS: testutil.BuildFeed(files)}})
	require.NoError(t, err)

	trips, err := e.Storage().Trips(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, len(trips))

	routes, err := e.Storage().Routes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []model.Route{{ID: 11, ShortName: "11", LongName: "Center - Harbour"}}, routes)

	added, err := e.Storage().AddedTrips(ctx)
	require.NoError(t, err)
	assert.Equal(t, []model.AddedTrip{}, added)

	assert.Equal(t, 2, len(stopTimes(t, e)))
}

func TestReloadFromDirectory(t *testing.T) {
	ctx := context.Background()

	dir := t.TempDir()
	for name, lines := range simpleFeed() {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(strings.Join(lines, "\n")), 0644))
	}

	e := newEngine(t, testutil.BuildStorage(t, "sqlite"))
	e.StaticFolders = []string{dir}
	e.Metrics = metrics.NewCollector()

	report, err := e.Reload(ctx)
	require.NoError(t, err)
	assert.Equal(t, dir, report.Folders[0].Name)
	assert.Equal(t, 6, len(stopTimes(t, e)))

	assert.Equal(t, float64(1), promtest.ToFloat64(e.Metrics.Reloads.WithLabelValues(metrics.OutcomeOK)))
	assert.Equal(t, float64(3), promtest.ToFloat64(e.Metrics.RowsLoaded.WithLabelValues("trips.txt")))
}

func TestReloadMissingFolderKeepsData(t *testing.T) {
	ctx := context.Background()
	e := loadedEngine(t, simpleFeed())

	_, err := e.Reload(ctx, filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)

	// Nothing was dropped.
	assert.Equal(t, 6, len(stopTimes(t, e)))
}

func TestReloadFeedsMalformedRows(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, testutil.BuildStorage(t, "sqlite"))
	e.Metrics = metrics.NewCollector()

	files := simpleFeed()
	files["stop_times.txt"] = append(files["stop_times.txt"],
		"5,not a time,08:40:00,100,4",
		"x,08:40:00,08:40:00,100,5",
	)

	report, err := e.ReloadFeeds(ctx, []gtfs.Feed{{Name: "fixture", FS: testutil.BuildFeed(files)}})
	require.NoError(t, err)

	assert.Equal(t, map[string]int{"stop_times.txt": 2}, report.Malformed())
	assert.Equal(t, float64(2), promtest.ToFloat64(e.Metrics.RowsMalformed.WithLabelValues("stop_times.txt")))
	assert.Equal(t, 6, len(stopTimes(t, e)))
}
