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

func TestParseStops(t *testing.T) {
	for _, tc := range []struct {
		name      string
		content   string
		known     map[int]bool
		stops     []model.Stop
		duplicate int
		malformed int
	}{
		{
			"minimal",
			`
stop_id,stop_name,stop_lat,stop_lon,zone_id
100,Eleftherias Square,35.1725,33.3617,2`,
			map[int]bool{},
			[]model.Stop{{ID: 100, Name: "Eleftherias Square", Lat: 35.1725, Lon: 33.3617, ZoneID: 2}},
			0, 0,
		},

		{
			"blank zone",
			`
stop_id,stop_name,stop_lat,stop_lon,zone_id
100,Eleftherias Square,35.1725,33.3617,`,
			map[int]bool{},
			[]model.Stop{{ID: 100, Name: "Eleftherias Square", Lat: 35.1725, Lon: 33.3617}},
			0, 0,
		},

		{
			"known stops skipped",
			`
stop_id,stop_name,stop_lat,stop_lon
100,A,35,33
101,B,35,33
101,B again,35,33`,
			map[int]bool{100: true},
			[]model.Stop{{ID: 101, Name: "B", Lat: 35, Lon: 33}},
			2, 0,
		},

		{
			"malformed rows skipped",
			`
stop_id,stop_name,stop_lat,stop_lon,zone_id
x,A,35,33,1
101,B,north,33,1
102,C,91,33,1
103,D,35,181,1
104,E,35,33,z
105,F,35,33,1`,
			map[int]bool{},
			[]model.Stop{{ID: 105, Name: "F", Lat: 35, Lon: 33, ZoneID: 1}},
			0, 5,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			feed := storage.NewMemoryFeed()
			fr := &FileReport{File: StopsFile}

			err := ParseStops(
				context.Background(),
				feed,
				bytes.NewBufferString(tc.content),
				tc.known,
				fr,
			)
			require.NoError(t, err)

			assert.Equal(t, tc.stops, feed.Stops())
			assert.Equal(t, tc.duplicate, fr.Duplicate)
			assert.Equal(t, tc.malformed, len(fr.Malformed))
			for _, s := range tc.stops {
				assert.True(t, tc.known[s.ID])
			}
		})
	}
}
