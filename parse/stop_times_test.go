package parse

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"motionbus.dev/gtfs/model"
	"motionbus.dev/gtfs/storage"
)

func TestParseStopTimes(t *testing.T) {
	for _, tc := range []struct {
		name       string
		content    string
		stopTimes  []model.StopTime
		filtered   int
		unresolved int
		duplicate  int
		malformed  int
	}{
		{
			"minimal",
			`
trip_id,arrival_time,departure_time,stop_id,stop_sequence
1,10:00:00,10:00:30,100,1`,
			[]model.StopTime{
				{TripID: 1, StopSequence: 1, StopID: 100, Arrival: 36000, Departure: 36030},
			},
			0, 0, 0, 0,
		},

		{
			"past midnight",
			`
trip_id,arrival_time,departure_time,stop_id,stop_sequence
1,24:05:00,25:00:00,100,1`,
			[]model.StopTime{
				{TripID: 1, StopSequence: 1, StopID: 100, Arrival: 86700, Departure: 90000},
			},
			0, 0, 0, 0,
		},

		{
			"blank time falls back to the other",
			`
trip_id,arrival_time,departure_time,stop_id,stop_sequence
1,,10:00:00,100,1
1,10:05:00,,101,2
1,,,100,3`,
			[]model.StopTime{
				{TripID: 1, StopSequence: 1, StopID: 100, Arrival: 36000, Departure: 36000},
				{TripID: 1, StopSequence: 2, StopID: 101, Arrival: 36300, Departure: 36300},
			},
			0, 0, 0, 1,
		},

		{
			"inactive trips filtered and unknown stops unresolved",
			`
trip_id,arrival_time,departure_time,stop_id,stop_sequence
1,10:00:00,10:00:00,100,1
9,10:00:00,10:00:00,100,1
1,10:05:00,10:05:00,999,2`,
			[]model.StopTime{
				{TripID: 1, StopSequence: 1, StopID: 100, Arrival: 36000, Departure: 36000},
			},
			1, 1, 0, 0,
		},

		{
			"repeated sequence",
			`
trip_id,arrival_time,departure_time,stop_id,stop_sequence
1,10:00:00,10:00:00,100,1
1,10:05:00,10:05:00,101,1`,
			[]model.StopTime{
				{TripID: 1, StopSequence: 1, StopID: 100, Arrival: 36000, Departure: 36000},
			},
			0, 0, 1, 0,
		},

		{
			"malformed rows skipped",
			`
trip_id,arrival_time,departure_time,stop_id,stop_sequence
x,10:00:00,10:00:00,100,1
1,10:00,10:00:00,100,1
1,10:00:00,10:61:00,100,2
1,10:00:00,10:00:00,s,3
1,10:00:00,10:00:00,100,-1
1,10:00:00,10:00:00,100,4`,
			[]model.StopTime{
				{TripID: 1, StopSequence: 4, StopID: 100, Arrival: 36000, Departure: 36000},
			},
			0, 0, 0, 5,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			feed := storage.NewMemoryFeed()
			fr := &FileReport{File: StopTimesFile}

			require.NoError(t, feed.BeginStopTimes(ctx))
			err := ParseStopTimes(
				ctx,
				feed,
				bytes.NewBufferString(tc.content),
				activeSet(model.Trip{ID: 1, RouteID: 10}),
				map[int]bool{100: true, 101: true},
				fr,
			)
			require.NoError(t, err)
			require.NoError(t, feed.EndStopTimes(ctx))

			assert.Equal(t, tc.stopTimes, feed.StopTimes())
			assert.Equal(t, len(tc.stopTimes), fr.Loaded)
			assert.Equal(t, tc.filtered, fr.Filtered)
			assert.Equal(t, tc.unresolved, fr.Unresolved)
			assert.Equal(t, tc.duplicate, fr.Duplicate)
			assert.Equal(t, tc.malformed, len(fr.Malformed))
		})
	}
}
