package gtfs

import (
	"context"
	"errors"
	"fmt"

	"motionbus.dev/gtfs/model"
	"motionbus.dev/gtfs/storage"
)

// Trip ID previously allocated for key. Never allocates.
func LookupAddedTrip(ctx context.Context, tx storage.Tx, key model.AddedTripKey) (int, bool, error) {
	tripID, err := tx.AddedTrip(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return tripID, true, nil
}

// Returns the trip ID for a realtime-only trip, allocating one if key
// hasn't been seen before. Allocation writes a trips row with the
// off-schedule service ID and an added_trips row mapping key to it,
// both within tx. Reports whether a new ID was allocated.
//
// Returns ErrUnknownRoute if the route isn't in storage.
func ResolveOrAllocate(ctx context.Context, tx storage.Tx, key model.AddedTripKey) (int, bool, error) {
	tripID, found, err := LookupAddedTrip(ctx, tx, key)
	if err != nil {
		return 0, false, fmt.Errorf("looking up added trip: %w", err)
	}
	if found {
		return tripID, false, nil
	}

	names, err := tx.RouteShortNames(ctx, []int{key.RouteID})
	if err != nil {
		return 0, false, fmt.Errorf("looking up route: %w", err)
	}
	if _, ok := names[key.RouteID]; !ok {
		return 0, false, fmt.Errorf("%w: %d", ErrUnknownRoute, key.RouteID)
	}

	maxID, err := tx.MaxTripID(ctx)
	if err != nil {
		return 0, false, fmt.Errorf("allocating trip id: %w", err)
	}
	tripID = maxID + 1

	inserted, err := tx.WriteTrip(ctx, model.Trip{
		ID:          tripID,
		RouteID:     key.RouteID,
		ServiceID:   model.OffScheduleServiceID,
		DirectionID: key.DirectionID,
		Headsign:    model.OffScheduleHeadsign,
	})
	if err != nil {
		return 0, false, fmt.Errorf("writing added trip: %w", err)
	}
	if !inserted {
		return 0, false, fmt.Errorf("trip %d already exists", tripID)
	}

	inserted, err = tx.InsertAddedTrip(ctx, model.AddedTrip{AddedTripKey: key, TripID: tripID})
	if err != nil {
		return 0, false, fmt.Errorf("writing added trip: %w", err)
	}
	if inserted {
		return tripID, true, nil
	}

	// Someone else got there first. Theirs wins.
	err = tx.DeleteTrips(ctx, []int{tripID})
	if err != nil {
		return 0, false, fmt.Errorf("removing unused trip: %w", err)
	}
	tripID, found, err = LookupAddedTrip(ctx, tx, key)
	if err != nil {
		return 0, false, fmt.Errorf("looking up added trip: %w", err)
	}
	if !found {
		return 0, false, fmt.Errorf("added trip %s vanished", key)
	}

	return tripID, false, nil
}

// Resolves key to a trip ID in a transaction of its own, allocating
// and committing a new one if needed. Waits for any running cycle or
// reload to finish.
func (e *Engine) ResolveTrip(ctx context.Context, key model.AddedTripKey) (int, bool, error) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	tx, err := e.storage.Begin(ctx)
	if err != nil {
		return 0, false, err
	}
	defer tx.Rollback()

	tripID, allocated, err := ResolveOrAllocate(ctx, tx, key)
	if err != nil {
		return 0, false, err
	}

	err = tx.Commit()
	if err != nil {
		return 0, false, err
	}

	if allocated {
		e.logger("resolver").Info("allocated trip", "trip_id", tripID, "route_id", key.RouteID, "start_time", key.StartTime, "direction_id", key.DirectionID)
	}

	return tripID, allocated, nil
}

// Looks up the trip ID allocated for key without allocating.
func (e *Engine) LookupTrip(ctx context.Context, key model.AddedTripKey) (int, bool, error) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	tx, err := e.storage.Begin(ctx)
	if err != nil {
		return 0, false, err
	}
	defer tx.Rollback()

	return LookupAddedTrip(ctx, tx, key)
}
