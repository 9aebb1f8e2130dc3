package parse

import (
	"context"
	"io"

	"github.com/pkg/errors"

	"motionbus.dev/gtfs/model"
	"motionbus.dev/gtfs/storage"
)

type ShapeCSV struct {
	ID       string `csv:"shape_id"`
	Lat      string `csv:"shape_pt_lat"`
	Lon      string `csv:"shape_pt_lon"`
	Sequence string `csv:"shape_pt_sequence"`
}

// Writes shape points for active routes.
//
// NOTE: This relies on the feed numbering shapes after the route
// they belong to. That holds for the feeds we load, but isn't
// something GTFS guarantees.
func ParseShapes(
	ctx context.Context,
	writer storage.FeedWriter,
	data io.Reader,
	active *ActiveSet,
	fr *FileReport,
) error {

	return eachRecord(data, func(row int, s *ShapeCSV) error {
		id, err := parseInt("shape_id", s.ID)
		if err != nil {
			fr.malformed(row, err)
			return nil
		}

		if !active.RouteIDs[id] {
			fr.Filtered++
			return nil
		}

		seq, err := parseInt("shape_pt_sequence", s.Sequence)
		if err != nil {
			fr.malformed(row, err)
			return nil
		}

		lat, lon, err := parseLatLon(s.Lat, s.Lon)
		if err != nil {
			fr.malformed(row, err)
			return nil
		}

		inserted, err := writer.WriteShape(ctx, model.Shape{
			ShapeID:  id,
			Sequence: seq,
			Lat:      lat,
			Lon:      lon,
		})
		if err != nil {
			return errors.Wrapf(err, "writing shape (row %d)", row)
		}
		if inserted {
			fr.Loaded++
		} else {
			fr.Duplicate++
		}

		return nil
	})
}
