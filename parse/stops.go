package parse

import (
	"context"
	"io"

	"github.com/pkg/errors"

	"motionbus.dev/gtfs/model"
	"motionbus.dev/gtfs/storage"
)

type StopCSV struct {
	ID     string `csv:"stop_id"`
	Name   string `csv:"stop_name"`
	Lat    string `csv:"stop_lat"`
	Lon    string `csv:"stop_lon"`
	ZoneID string `csv:"zone_id"`
	// Code          string `csv:"stop_code"`
	// LocationType  string `csv:"location_type"`
	// ParentStation string `csv:"parent_station"`
}

// Writes stops not in known. Stops are not filtered by service, as
// they're shared by all feeds. Every stop written is added to known.
func ParseStops(
	ctx context.Context,
	writer storage.FeedWriter,
	data io.Reader,
	known map[int]bool,
	fr *FileReport,
) error {

	return eachRecord(data, func(row int, s *StopCSV) error {
		id, err := parseInt("stop_id", s.ID)
		if err != nil {
			fr.malformed(row, err)
			return nil
		}

		if known[id] {
			fr.Duplicate++
			return nil
		}

		lat, lon, err := parseLatLon(s.Lat, s.Lon)
		if err != nil {
			fr.malformed(row, err)
			return nil
		}

		zoneID, err := parseOptionalInt("zone_id", s.ZoneID)
		if err != nil {
			fr.malformed(row, err)
			return nil
		}

		err = writer.WriteStop(ctx, model.Stop{
			ID:     id,
			Name:   s.Name,
			Lat:    lat,
			Lon:    lon,
			ZoneID: zoneID,
		})
		if err != nil {
			return errors.Wrapf(err, "writing stop (row %d)", row)
		}

		known[id] = true
		fr.Loaded++

		return nil
	})
}
