package parse

import (
	"context"
	"io"

	"github.com/pkg/errors"

	"motionbus.dev/gtfs/model"
	"motionbus.dev/gtfs/storage"
)

type RouteCSV struct {
	ID        string `csv:"route_id"`
	ShortName string `csv:"route_short_name"`
	LongName  string `csv:"route_long_name"`
	// AgencyID  string `csv:"agency_id"`
	// Type      string `csv:"route_type"`
	// Color     string `csv:"route_color"`
}

// Writes the routes in active. Returns the IDs of active routes now
// present in storage, whether written here or already there.
func ParseRoutes(
	ctx context.Context,
	writer storage.FeedWriter,
	data io.Reader,
	active *ActiveSet,
	fr *FileReport,
) (map[int]bool, error) {

	present := map[int]bool{}

	err := eachRecord(data, func(row int, r *RouteCSV) error {
		id, err := parseInt("route_id", r.ID)
		if err != nil {
			fr.malformed(row, err)
			return nil
		}

		if !active.RouteIDs[id] {
			fr.Filtered++
			return nil
		}

		if r.ShortName == "" && r.LongName == "" {
			fr.malformed(row, errors.Errorf("route %d has neither short nor long name", id))
			return nil
		}

		inserted, err := writer.WriteRoute(ctx, model.Route{
			ID:        id,
			ShortName: r.ShortName,
			LongName:  r.LongName,
		})
		if err != nil {
			return errors.Wrapf(err, "writing route (row %d)", row)
		}

		present[id] = true
		if inserted {
			fr.Loaded++
		} else {
			fr.Duplicate++
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return present, nil
}
