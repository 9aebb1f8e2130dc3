package parse

import (
	"context"
	"fmt"
	"io"

	"github.com/pkg/errors"

	"motionbus.dev/gtfs/model"
	"motionbus.dev/gtfs/storage"
)

type TripCSV struct {
	ID          string `csv:"trip_id"`
	RouteID     string `csv:"route_id"`
	ServiceID   string `csv:"service_id"`
	DirectionID string `csv:"direction_id"`
	Headsign    string `csv:"trip_headsign"`
	// ShapeID              string `csv:"shape_id"`
	// BlockID              string `csv:"block_id"`
	// WheelchairAccessible string `csv:"wheelchair_accessible"`
}

// Writes the trips running on serviceID. The returned ActiveSet
// holds the trips actually written and their routes.
func ParseTrips(
	ctx context.Context,
	writer storage.FeedWriter,
	data io.Reader,
	serviceID int,
	fr *FileReport,
) (*ActiveSet, error) {

	active := NewActiveSet()

	err := eachRecord(data, func(row int, t *TripCSV) error {
		trip, err := tripFromCSV(t)
		if err != nil {
			fr.malformed(row, err)
			return nil
		}

		if trip.ServiceID != serviceID {
			fr.Filtered++
			return nil
		}

		inserted, err := writer.WriteTrip(ctx, trip)
		if err != nil {
			return errors.Wrapf(err, "writing trip (row %d)", row)
		}
		if !inserted {
			fr.Duplicate++
			return nil
		}

		active.add(trip)
		fr.Loaded++

		return nil
	})
	if err != nil {
		return nil, err
	}

	return active, nil
}

func tripFromCSV(t *TripCSV) (model.Trip, error) {
	id, err := parseInt("trip_id", t.ID)
	if err != nil {
		return model.Trip{}, err
	}
	routeID, err := parseInt("route_id", t.RouteID)
	if err != nil {
		return model.Trip{}, err
	}
	serviceID, err := parseInt("service_id", t.ServiceID)
	if err != nil {
		return model.Trip{}, err
	}
	directionID, err := parseOptionalInt("direction_id", t.DirectionID)
	if err != nil {
		return model.Trip{}, err
	}
	if directionID != 0 && directionID != 1 {
		return model.Trip{}, fmt.Errorf("invalid direction_id '%d'", directionID)
	}

	return model.Trip{
		ID:          id,
		RouteID:     routeID,
		ServiceID:   serviceID,
		DirectionID: int8(directionID),
		Headsign:    t.Headsign,
	}, nil
}
