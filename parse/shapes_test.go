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

func TestParseShapes(t *testing.T) {
	content := `
shape_id,shape_pt_lat,shape_pt_lon,shape_pt_sequence
10,35.1,33.3,2
10,35.0,33.2,1
11,34.9,33.1,1
10,35.2,33.4,2
12,bad,33.0,1
12,35.0,33.0,x`

	feed := storage.NewMemoryFeed()
	fr := &FileReport{File: ShapesFile}

	err := ParseShapes(
		context.Background(),
		feed,
		bytes.NewBufferString(content),
		activeSet(model.Trip{ID: 1, RouteID: 10}, model.Trip{ID: 2, RouteID: 12}),
		fr,
	)
	require.NoError(t, err)

	assert.Equal(t, []model.Shape{
		{ShapeID: 10, Sequence: 1, Lat: 35.0, Lon: 33.2},
		{ShapeID: 10, Sequence: 2, Lat: 35.1, Lon: 33.3},
	}, feed.Shapes())
	assert.Equal(t, 2, fr.Loaded)
	assert.Equal(t, 1, fr.Filtered)
	assert.Equal(t, 1, fr.Duplicate)
	assert.Equal(t, 2, len(fr.Malformed))
}
