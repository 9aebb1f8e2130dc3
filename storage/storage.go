package storage

import (
	"context"
	"errors"

	"motionbus.dev/gtfs/model"
)

// Upper bound on the number of ids passed in a single IN/ANY
// lookup. Keeps queries under backend parameter limits.
const MaxQueryIDs = 500

var ErrNotFound = errors.New("not found")

type Storage interface {
	FeedReader

	// Drops all tables and recreates them, empty.
	Reset(ctx context.Context) error

	// Starts a transaction. A static load pass and a realtime
	// reconciliation cycle each run in exactly one.
	Begin(ctx context.Context) (Tx, error)

	Close() error
}

// Writes static schedule records. Used by the static loader, in
// foreign key order: trips, routes, shapes, stops and finally
// stop_times.
//
// Write methods for tables with a natural primary key report
// whether a row was actually inserted. A row colliding with an
// existing one is left alone.
//
// As stop_times tend to be huge, BeginStopTimes() and EndStopTimes()
// are called before and after all calls to WriteStopTime(), allowing
// batching.
type FeedWriter interface {
	StopIDs(ctx context.Context) (map[int]bool, error)
	WriteTrip(ctx context.Context, trip model.Trip) (bool, error)
	DeleteTrips(ctx context.Context, tripIDs []int) error
	WriteRoute(ctx context.Context, route model.Route) (bool, error)
	WriteShape(ctx context.Context, shape model.Shape) (bool, error)
	WriteStop(ctx context.Context, stop model.Stop) error
	BeginStopTimes(ctx context.Context) error
	WriteStopTime(ctx context.Context, stopTime model.StopTime) error
	EndStopTimes(ctx context.Context) error
}

// A transaction. Everything the realtime reconciler reads and
// writes goes through one of these.
type Tx interface {
	FeedWriter

	// Largest trip_id in the trips table, or 0 if empty.
	MaxTripID(ctx context.Context) (int, error)

	// Trip ID allocated for a realtime-only trip. Returns
	// ErrNotFound if none has been allocated.
	AddedTrip(ctx context.Context, key model.AddedTripKey) (int, error)

	// Inserts an added_trips row unless one exists for the same
	// key. Reports whether the row was inserted.
	InsertAddedTrip(ctx context.Context, added model.AddedTrip) (bool, error)

	// Maps route_id to route_short_name for the routes that
	// exist.
	RouteShortNames(ctx context.Context, routeIDs []int) (map[int]string, error)

	// Subset of tripIDs present in the trips table.
	ExistingTrips(ctx context.Context, tripIDs []int) (map[int]bool, error)

	// All stop_times for the given trips. Callers pass at most
	// MaxQueryIDs trip IDs.
	StopTimesByTrips(ctx context.Context, tripIDs []int) ([]model.StopTime, error)

	// Sets arrival and departure of existing stop_times, keyed on
	// (trip_id, stop_sequence).
	UpdateStopTimes(ctx context.Context, stopTimes []model.StopTime) error

	Commit() error
	Rollback() error
}

type FeedReader interface {
	Routes(ctx context.Context) ([]model.Route, error)
	Trips(ctx context.Context) ([]model.Trip, error)
	Stops(ctx context.Context) ([]model.Stop, error)
	StopTimes(ctx context.Context) ([]model.StopTime, error)
	AddedTrips(ctx context.Context) ([]model.AddedTrip, error)

	// Polyline for a route, in sequence order.
	Shape(ctx context.Context, routeID int) ([]model.Point, error)

	// Distinct stops visited by any trip on a route.
	StopsOnRoute(ctx context.Context, routeID int) ([]model.Stop, error)

	// Distinct routes with at least one trip visiting a stop.
	RoutesAtStop(ctx context.Context, stopID int) ([]model.Route, error)

	// Arrivals at a stop with arrival_time in [from, to],
	// ordered by arrival_time. Times are seconds since midnight.
	Arrivals(ctx context.Context, stopID int, from int, to int) ([]model.Arrival, error)
}
