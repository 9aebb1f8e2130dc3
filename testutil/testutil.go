package testutil

// Helpers and configuration for tests.
//
// Storage backed tests run against sqlite. If GTFS_TEST_POSTGRES
// holds a connection string they run against postgres as well.

import (
	"context"
	"os"
	"strconv"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	gtfsproto "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/stretchr/testify/require"
	proto "google.golang.org/protobuf/proto"

	"motionbus.dev/gtfs/parse"
	"motionbus.dev/gtfs/storage"
)

const PostgresEnv = "GTFS_TEST_POSTGRES"

// Backends to run storage backed tests against.
func Backends() []string {
	backends := []string{"sqlite"}
	if os.Getenv(PostgresEnv) != "" {
		backends = append(backends, "postgres")
	}
	return backends
}

func BuildStorage(t testing.TB, backend string) storage.Storage {
	var s storage.Storage
	var err error
	if backend == "sqlite" {
		s, err = storage.NewSQLiteStorage()
		require.NoError(t, err)
	} else if backend == "postgres" {
		s, err = storage.NewPSQLStorage(os.Getenv(PostgresEnv), true)
		require.NoError(t, err)
	}
	require.NotEqual(t, nil, s, "unknown backend %q", backend)

	t.Cleanup(func() { s.Close() })

	return s
}

// Builds a feed folder from file name to lines.
func BuildFeed(files map[string][]string) fstest.MapFS {
	fsys := fstest.MapFS{}
	for name, lines := range files {
		fsys[name] = &fstest.MapFile{Data: []byte(strings.Join(lines, "\n"))}
	}
	return fsys
}

// Loads files into s for the given service date, in a single
// transaction.
func LoadStatic(t testing.TB, s storage.Storage, date string, files map[string][]string) *parse.Report {
	ctx := context.Background()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)

	report, err := parse.ParseStatic(ctx, tx, BuildFeed(files), date)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	return report
}

func Nicosia(t testing.TB) *time.Location {
	loc, err := time.LoadLocation("Asia/Nicosia")
	require.NoError(t, err)
	return loc
}

// Builds a FULL_DATASET GTFS-rt feed and marshals it.
func BuildRealtime(t testing.TB, timestamp time.Time, entities ...*gtfsproto.FeedEntity) []byte {
	data, err := proto.Marshal(&gtfsproto.FeedMessage{
		Header: &gtfsproto.FeedHeader{
			GtfsRealtimeVersion: proto.String("2.0"),
			Incrementality:      gtfsproto.FeedHeader_FULL_DATASET.Enum(),
			Timestamp:           proto.Uint64(uint64(timestamp.Unix())),
		},
		Entity: entities,
	})
	require.NoError(t, err)
	return data
}

func TripUpdate(id string, trip *gtfsproto.TripDescriptor, updates ...*gtfsproto.TripUpdate_StopTimeUpdate) *gtfsproto.FeedEntity {
	return &gtfsproto.FeedEntity{
		Id: proto.String(id),
		TripUpdate: &gtfsproto.TripUpdate{
			Trip:           trip,
			StopTimeUpdate: updates,
		},
	}
}

func Vehicle(id string, trip *gtfsproto.TripDescriptor, lat, lon float32) *gtfsproto.FeedEntity {
	return &gtfsproto.FeedEntity{
		Id: proto.String(id),
		Vehicle: &gtfsproto.VehiclePosition{
			Trip: trip,
			Position: &gtfsproto.Position{
				Latitude:  proto.Float32(lat),
				Longitude: proto.Float32(lon),
			},
		},
	}
}

func ScheduledTrip(tripID int) *gtfsproto.TripDescriptor {
	return &gtfsproto.TripDescriptor{
		TripId:               proto.String(strconv.Itoa(tripID)),
		ScheduleRelationship: gtfsproto.TripDescriptor_SCHEDULED.Enum(),
	}
}

func CanceledTrip(tripID int) *gtfsproto.TripDescriptor {
	return &gtfsproto.TripDescriptor{
		TripId:               proto.String(strconv.Itoa(tripID)),
		ScheduleRelationship: gtfsproto.TripDescriptor_CANCELED.Enum(),
	}
}

func AddedTrip(routeID int, directionID uint32, startTime string) *gtfsproto.TripDescriptor {
	return &gtfsproto.TripDescriptor{
		RouteId:              proto.String(strconv.Itoa(routeID)),
		DirectionId:          proto.Uint32(directionID),
		StartTime:            proto.String(startTime),
		ScheduleRelationship: gtfsproto.TripDescriptor_ADDED.Enum(),
	}
}

// A stop time update. A stopID of 0 leaves stop_id blank, and zero
// times are left out.
func StopTimeUpdate(stopID int, seq uint32, arrival, departure time.Time) *gtfsproto.TripUpdate_StopTimeUpdate {
	stu := &gtfsproto.TripUpdate_StopTimeUpdate{
		StopSequence: proto.Uint32(seq),
	}
	if stopID != 0 {
		stu.StopId = proto.String(strconv.Itoa(stopID))
	}
	if !arrival.IsZero() {
		stu.Arrival = &gtfsproto.TripUpdate_StopTimeEvent{Time: proto.Int64(arrival.Unix())}
	}
	if !departure.IsZero() {
		stu.Departure = &gtfsproto.TripUpdate_StopTimeEvent{Time: proto.Int64(departure.Unix())}
	}
	return stu
}
