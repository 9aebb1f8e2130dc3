package gtfs_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"motionbus.dev/gtfs"
	"motionbus.dev/gtfs/model"
	"motionbus.dev/gtfs/storage"
	"motionbus.dev/gtfs/testutil"
)

// Service 1 runs on 20240115, service 2 the day after.
//
// Trip 5 (route 10) visits stops 102, 103, 101. Trip 6 (route 11)
// visits 100 and 103. Trip 8 (route 12) visits 100. Trip 7 runs on
// service 2 only and is filtered out.
func simpleFeed() map[string][]string {
	return map[string][]string{
		"calendar_dates.txt": {
			"service_id,date,exception_type",
			"1,20240115,1",
			"2,20240116,1",
		},
		"routes.txt": {
			"route_id,agency_id,route_short_name,route_long_name,route_type",
			"10,1,10,Center - Airport,3",
			"11,1,11,Center - Harbour,3",
			"12,1,12,Center - Hospital,3",
		},
		"trips.txt": {
			"route_id,service_id,trip_id,trip_headsign,direction_id,shape_id",
			"10,1,5,Airport,0,10",
			"11,1,6,Harbour,1,11",
			"10,2,7,Airport,0,10",
			"12,1,8,Hospital,0,12",
		},
		"shapes.txt": {
			"shape_id,shape_pt_lat,shape_pt_lon,shape_pt_sequence",
			"10,35.10,33.30,1",
			"10,35.11,33.31,2",
		},
		"stops.txt": {
			"stop_id,stop_code,stop_name,stop_lat,stop_lon,zone_id",
			"100,A,Center,35.17,33.36,1",
			"101,B,Airport,34.87,33.62,2",
			"102,C,Makedonitissa,35.15,33.33,1",
			"103,D,Strovolos,35.14,33.34,1",
		},
		"stop_times.txt": {
			"trip_id,arrival_time,departure_time,stop_id,stop_sequence",
			"5,08:10:00,08:10:00,102,1",
			"5,08:20:00,08:20:00,103,2",
			"5,08:30:00,08:30:00,101,3",
			"6,08:05:00,08:05:00,100,1",
			"6,08:25:00,08:26:00,103,2",
			"7,12:00:00,12:00:00,102,1",
			"8,09:00:00,09:00:00,100,1",
		},
	}
}

// Wall clock time on 20240115 in Nicosia.
func at(t testing.TB, clock string) time.Time {
	tm, err := time.ParseInLocation("2006-01-02 15:04:05", "2024-01-15 "+clock, testutil.Nicosia(t))
	require.NoError(t, err)
	return tm
}

func hms(h, m, s int) int {
	return h*3600 + m*60 + s
}

func newEngine(t testing.TB, s storage.Storage) *gtfs.Engine {
	e := gtfs.NewEngine(s, testutil.Nicosia(t))
	now := at(t, "08:00:00")
	e.Now = func() time.Time { return now }
	return e
}

// An engine on sqlite with files loaded for 20240115.
func loadedEngine(t testing.TB, files map[string][]string) *gtfs.Engine {
	e := newEngine(t, testutil.BuildStorage(t, "sqlite"))
	_, err := e.ReloadFeeds(context.Background(), []gtfs.Feed{
		{Name: "fixture", FS: testutil.BuildFeed(files)},
	})
	require.NoError(t, err)
	return e
}

// Serves a realtime feed. The served data can be swapped between
// cycles.
type feedServer struct {
	*httptest.Server

	mutex sync.Mutex
	data  []byte
}

func serveFeed(t testing.TB, e *gtfs.Engine, data []byte) *feedServer {
	fs := &feedServer{data: data}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fs.mutex.Lock()
		defer fs.mutex.Unlock()
		w.Header().Set("Content-Type", "application/x-protobuf")
		w.Write(fs.data)
	}))
	t.Cleanup(fs.Close)

	e.RealtimeURL = fs.URL
	return fs
}

func (fs *feedServer) set(data []byte) {
	fs.mutex.Lock()
	defer fs.mutex.Unlock()
	fs.data = data
}

func stopTimes(t testing.TB, e *gtfs.Engine) []model.StopTime {
	sts, err := e.Storage().StopTimes(context.Background())
	require.NoError(t, err)
	return sts
}

func stopTimesOf(t testing.TB, e *gtfs.Engine, tripID int) []model.StopTime {
	result := []model.StopTime{}
	for _, st := range stopTimes(t, e) {
		if st.TripID == tripID {
			result = append(result, st)
		}
	}
	return result
}

// Records what it's given.
type recordingSink struct {
	name  string
	err   error
	calls [][]model.VehiclePosition

	// Called from Publish, if set.
	onPublish func()
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Publish(ctx context.Context, positions []model.VehiclePosition) error {
	if s.onPublish != nil {
		s.onPublish()
	}
	s.calls = append(s.calls, positions)
	return s.err
}

func (s *recordingSink) Close() error { return nil }
