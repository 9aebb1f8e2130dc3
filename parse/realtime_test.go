package parse

import (
	"testing"

	gtfsproto "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	proto "google.golang.org/protobuf/proto"
)

func marshalFeed(t *testing.T, entities ...*gtfsproto.FeedEntity) []byte {
	data, err := proto.Marshal(&gtfsproto.FeedMessage{
		Header: &gtfsproto.FeedHeader{
			GtfsRealtimeVersion: proto.String("2.0"),
			Incrementality:      gtfsproto.FeedHeader_FULL_DATASET.Enum(),
			Timestamp:           proto.Uint64(1705299300),
		},
		Entity: entities,
	})
	require.NoError(t, err)
	return data
}

func intPtr(i int) *int {
	return &i
}

func TestParseRealtimeBadHeader(t *testing.T) {
	// This one's fine
	incrementality := gtfsproto.FeedHeader_FULL_DATASET
	data, err := proto.Marshal(&gtfsproto.FeedMessage{
		Header: &gtfsproto.FeedHeader{
			GtfsRealtimeVersion: proto.String("2.0"),
			Incrementality:      &incrementality,
			Timestamp:           proto.Uint64(1705299300),
		},
	})
	require.NoError(t, err)
	_, err = ParseRealtime(data)
	assert.NoError(t, err)

	// Unsupported version
	data, err = proto.Marshal(&gtfsproto.FeedMessage{
		Header: &gtfsproto.FeedHeader{
			GtfsRealtimeVersion: proto.String("3.0"),
			Incrementality:      &incrementality,
		},
	})
	require.NoError(t, err)
	_, err = ParseRealtime(data)
	assert.ErrorIs(t, err, ErrUnsupportedFeed)

	// Unsupported incrementality
	incrementality = gtfsproto.FeedHeader_DIFFERENTIAL
	data, err = proto.Marshal(&gtfsproto.FeedMessage{
		Header: &gtfsproto.FeedHeader{
			GtfsRealtimeVersion: proto.String("2.0"),
			Incrementality:      &incrementality,
		},
	})
	require.NoError(t, err)
	_, err = ParseRealtime(data)
	assert.ErrorIs(t, err, ErrUnsupportedFeed)
}

func TestParseRealtimeEmptyOrGarbage(t *testing.T) {
	_, err := ParseRealtime(nil)
	assert.ErrorIs(t, err, ErrEmptyFeed)

	_, err = ParseRealtime([]byte{})
	assert.ErrorIs(t, err, ErrEmptyFeed)

	_, err = ParseRealtime([]byte("<html>502 Bad Gateway</html>"))
	assert.Error(t, err)
}

func TestParseRealtimeNoEntities(t *testing.T) {
	rt, err := ParseRealtime(marshalFeed(t))
	require.NoError(t, err)

	assert.Equal(t, uint64(1705299300), rt.Timestamp)
	assert.Equal(t, 0, len(rt.TripUpdates))
	assert.Equal(t, 0, len(rt.Vehicles))
	assert.Equal(t, 0, len(rt.Malformed))
}

func TestParseRealtimeTripUpdate(t *testing.T) {
	rt, err := ParseRealtime(marshalFeed(t, &gtfsproto.FeedEntity{
		Id: proto.String("e1"),
		TripUpdate: &gtfsproto.TripUpdate{
			Trip: &gtfsproto.TripDescriptor{
				TripId:               proto.String("5"),
				RouteId:              proto.String("12"),
				DirectionId:          proto.Uint32(1),
				StartTime:            proto.String("08:15:00"),
				ScheduleRelationship: gtfsproto.TripDescriptor_SCHEDULED.Enum(),
			},
			StopTimeUpdate: []*gtfsproto.TripUpdate_StopTimeUpdate{
				// Both arrival and departure set
				{
					StopSequence: proto.Uint32(3),
					StopId:       proto.String("100"),
					Arrival:      &gtfsproto.TripUpdate_StopTimeEvent{Time: proto.Int64(1705299600)},
					Departure:    &gtfsproto.TripUpdate_StopTimeEvent{Time: proto.Int64(1705299660)},
				},
				// Only arrival set
				{
					StopSequence: proto.Uint32(4),
					StopId:       proto.String("101"),
					Arrival:      &gtfsproto.TripUpdate_StopTimeEvent{Time: proto.Int64(1705299900)},
				},
				// No stop id
				{
					StopSequence: proto.Uint32(5),
					Departure:    &gtfsproto.TripUpdate_StopTimeEvent{Time: proto.Int64(1705300200)},
				},
				// Frequency based, ignored
				{
					StopSequence:         proto.Uint32(6),
					StopId:               proto.String("103"),
					ScheduleRelationship: gtfsproto.TripUpdate_StopTimeUpdate_UNSCHEDULED.Enum(),
				},
			},
		},
	}))
	require.NoError(t, err)

	require.Equal(t, 1, len(rt.TripUpdates))
	update := rt.TripUpdates[0]

	assert.Equal(t, "e1", update.EntityID)
	assert.Equal(t, TripDescriptor{
		TripID:       intPtr(5),
		RouteID:      intPtr(12),
		DirectionID:  1,
		StartTime:    "08:15:00",
		Relationship: TripScheduled,
	}, update.Trip)

	assert.Equal(t, []StopTimeUpdate{
		{StopID: intPtr(100), StopSequence: 3, ArrivalTime: 1705299600, DepartureTime: 1705299660},
		{StopID: intPtr(101), StopSequence: 4, ArrivalTime: 1705299900},
		{StopSequence: 5, DepartureTime: 1705300200},
	}, update.StopTimeUpdates)
	assert.Equal(t, 0, len(rt.Malformed))
}

func TestParseRealtimeRelationships(t *testing.T) {
	for _, tc := range []struct {
		in  *gtfsproto.TripDescriptor_ScheduleRelationship
		out TripRelationship
	}{
		{nil, TripScheduled},
		{gtfsproto.TripDescriptor_SCHEDULED.Enum(), TripScheduled},
		{gtfsproto.TripDescriptor_ADDED.Enum(), TripAdded},
		{gtfsproto.TripDescriptor_CANCELED.Enum(), TripCanceled},
		{gtfsproto.TripDescriptor_UNSCHEDULED.Enum(), TripUnscheduled},
		{gtfsproto.TripDescriptor_DUPLICATED.Enum(), TripDuplicated},
	} {
		rt, err := ParseRealtime(marshalFeed(t, &gtfsproto.FeedEntity{
			Id: proto.String("e1"),
			TripUpdate: &gtfsproto.TripUpdate{
				Trip: &gtfsproto.TripDescriptor{
					RouteId:              proto.String("12"),
					ScheduleRelationship: tc.in,
				},
			},
		}))
		require.NoError(t, err)
		require.Equal(t, 1, len(rt.TripUpdates))
		assert.Equal(t, tc.out, rt.TripUpdates[0].Trip.Relationship, tc.out.String())
		assert.Nil(t, rt.TripUpdates[0].Trip.TripID)
	}
}

func TestParseRealtimeMalformed(t *testing.T) {
	rt, err := ParseRealtime(marshalFeed(t,
		// Non-integer trip id drops the whole update
		&gtfsproto.FeedEntity{
			Id: proto.String("e1"),
			TripUpdate: &gtfsproto.TripUpdate{
				Trip: &gtfsproto.TripDescriptor{TripId: proto.String("T-5")},
			},
		},
		// Bad stop id drops just that stop
		&gtfsproto.FeedEntity{
			Id: proto.String("e2"),
			TripUpdate: &gtfsproto.TripUpdate{
				Trip: &gtfsproto.TripDescriptor{TripId: proto.String("6")},
				StopTimeUpdate: []*gtfsproto.TripUpdate_StopTimeUpdate{
					{StopSequence: proto.Uint32(1), StopId: proto.String("S1")},
					{StopSequence: proto.Uint32(2), StopId: proto.String("101")},
					{
						StopSequence: proto.Uint32(3),
						StopId:       proto.String("102"),
						Arrival:      &gtfsproto.TripUpdate_StopTimeEvent{Time: proto.Int64(-5)},
					},
				},
			},
		},
		// Vehicle without position
		&gtfsproto.FeedEntity{
			Id:      proto.String("e3"),
			Vehicle: &gtfsproto.VehiclePosition{},
		},
		// Bad direction
		&gtfsproto.FeedEntity{
			Id: proto.String("e4"),
			TripUpdate: &gtfsproto.TripUpdate{
				Trip: &gtfsproto.TripDescriptor{TripId: proto.String("7"), DirectionId: proto.Uint32(2)},
			},
		},
		// Deleted entities are ignored
		&gtfsproto.FeedEntity{
			Id:        proto.String("e5"),
			IsDeleted: proto.Bool(true),
			TripUpdate: &gtfsproto.TripUpdate{
				Trip: &gtfsproto.TripDescriptor{TripId: proto.String("bogus")},
			},
		},
	))
	require.NoError(t, err)

	require.Equal(t, 1, len(rt.TripUpdates))
	assert.Equal(t, intPtr(6), rt.TripUpdates[0].Trip.TripID)
	assert.Equal(t, []StopTimeUpdate{{StopID: intPtr(101), StopSequence: 2}}, rt.TripUpdates[0].StopTimeUpdates)

	ids := []string{}
	for _, e := range rt.Malformed {
		ids = append(ids, e.EntityID)
		assert.ErrorIs(t, e, ErrMalformedRow)
	}
	assert.Equal(t, []string{"e1", "e2", "e2", "e3", "e4"}, ids)
}

func TestParseRealtimeVehicles(t *testing.T) {
	rt, err := ParseRealtime(marshalFeed(t,
		// Vehicle sharing an entity with a trip update
		&gtfsproto.FeedEntity{
			Id: proto.String("e1"),
			TripUpdate: &gtfsproto.TripUpdate{
				Trip: &gtfsproto.TripDescriptor{
					RouteId:              proto.String("12"),
					StartTime:            proto.String("08:15:00"),
					ScheduleRelationship: gtfsproto.TripDescriptor_ADDED.Enum(),
				},
			},
			Vehicle: &gtfsproto.VehiclePosition{
				Position: &gtfsproto.Position{
					Latitude:  proto.Float32(35.25),
					Longitude: proto.Float32(33.5),
					Bearing:   proto.Float32(90),
				},
			},
		},
		// Vehicle with its own trip
		&gtfsproto.FeedEntity{
			Id: proto.String("e2"),
			Vehicle: &gtfsproto.VehiclePosition{
				Trip: &gtfsproto.TripDescriptor{
					TripId:  proto.String("5"),
					RouteId: proto.String("10"),
				},
				Position: &gtfsproto.Position{
					Latitude:  proto.Float32(34.5),
					Longitude: proto.Float32(33),
					Speed:     proto.Float32(12.5),
				},
			},
		},
	))
	require.NoError(t, err)
	require.Equal(t, 2, len(rt.Vehicles))

	v := rt.Vehicles[0]
	assert.Equal(t, "e1", v.EntityID)
	require.NotNil(t, v.UpdateTrip)
	assert.Equal(t, intPtr(12), v.UpdateTrip.RouteID)
	assert.Equal(t, TripAdded, v.UpdateTrip.Relationship)
	assert.Nil(t, v.Trip.RouteID)
	assert.Equal(t, 35.25, v.Lat)
	assert.Equal(t, 33.5, v.Lon)
	require.NotNil(t, v.Bearing)
	assert.Equal(t, float32(90), *v.Bearing)
	assert.Nil(t, v.Speed)

	v = rt.Vehicles[1]
	assert.Equal(t, "e2", v.EntityID)
	assert.Nil(t, v.UpdateTrip)
	assert.Equal(t, intPtr(5), v.Trip.TripID)
	assert.Equal(t, intPtr(10), v.Trip.RouteID)
	assert.Nil(t, v.Bearing)
	require.NotNil(t, v.Speed)
	assert.Equal(t, float32(12.5), *v.Speed)
}
