package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"motionbus.dev/gtfs/model"
)

// SQL shared by the SQLite and Postgres backends. Queries are
// written with '?' placeholders and rebound per dialect.

const schemaSQL = `
CREATE TABLE IF NOT EXISTS routes (
    route_id INTEGER PRIMARY KEY,
    route_short_name VARCHAR NOT NULL,
    route_long_name VARCHAR NOT NULL
);

CREATE TABLE IF NOT EXISTS trips (
    trip_id INTEGER PRIMARY KEY,
    route_id INTEGER NOT NULL REFERENCES routes (route_id) DEFERRABLE INITIALLY DEFERRED,
    service_id INTEGER NOT NULL,
    direction_id INTEGER NOT NULL,
    trip_headsign VARCHAR NOT NULL
);

CREATE TABLE IF NOT EXISTS shapes (
    shape_id INTEGER NOT NULL REFERENCES routes (route_id) DEFERRABLE INITIALLY DEFERRED,
    shape_pt_sequence INTEGER NOT NULL,
    shape_pt_lat DOUBLE PRECISION NOT NULL,
    shape_pt_lon DOUBLE PRECISION NOT NULL,
    PRIMARY KEY (shape_id, shape_pt_sequence)
);

CREATE TABLE IF NOT EXISTS stops (
    stop_id INTEGER PRIMARY KEY,
    stop_name VARCHAR NOT NULL,
    stop_lat DOUBLE PRECISION NOT NULL,
    stop_lon DOUBLE PRECISION NOT NULL,
    zone_id INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS stop_times (
    trip_id INTEGER NOT NULL REFERENCES trips (trip_id) DEFERRABLE INITIALLY DEFERRED,
    stop_sequence INTEGER NOT NULL,
    arrival_time INTEGER NOT NULL,
    departure_time INTEGER NOT NULL,
    stop_id INTEGER NOT NULL REFERENCES stops (stop_id) DEFERRABLE INITIALLY DEFERRED,
    PRIMARY KEY (trip_id, stop_sequence)
);

CREATE INDEX IF NOT EXISTS stop_times_stop_arrival ON stop_times (stop_id, arrival_time);

CREATE TABLE IF NOT EXISTS added_trips (
    route_id INTEGER NOT NULL REFERENCES routes (route_id) DEFERRABLE INITIALLY DEFERRED,
    start_time VARCHAR NOT NULL,
    direction_id INTEGER NOT NULL,
    trip_id INTEGER NOT NULL UNIQUE REFERENCES trips (trip_id) DEFERRABLE INITIALLY DEFERRED,
    PRIMARY KEY (route_id, start_time, direction_id)
);
`

// Children before parents.
var dropOrder = []string{"added_trips", "stop_times", "shapes", "trips", "stops", "routes"}

// What differs between the backends.
type dialect interface {
	// Rewrites '?' placeholders to the backend's syntax.
	rebind(query string) string

	// Condition matching column against a list of ids.
	inInts(column string, ids []int) (string, []interface{})

	// Starts a bulk stop_times insert within tx.
	stopTimeWriter(ctx context.Context, tx *sql.Tx) (stopTimeWriter, error)
}

type stopTimeWriter interface {
	write(ctx context.Context, st model.StopTime) error
	close(ctx context.Context) error
}

type sqlStorage struct {
	db      *sql.DB
	dialect dialect
}

type sqlTx struct {
	tx       *sql.Tx
	dialect  dialect
	stWriter stopTimeWriter
}

func (s *sqlStorage) createTables(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schemaSQL)
	if err != nil {
		return fmt.Errorf("creating tables: %w", err)
	}
	return nil
}

func (s *sqlStorage) Reset(ctx context.Context) error {
	for _, table := range dropOrder {
		_, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table)
		if err != nil {
			return fmt.Errorf("dropping %s: %w", table, err)
		}
	}
	return s.createTables(ctx)
}

func (s *sqlStorage) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	return &sqlTx{tx: tx, dialect: s.dialect}, nil
}

func (s *sqlStorage) Close() error {
	err := s.db.Close()
	if err != nil {
		return fmt.Errorf("closing db: %w", err)
	}
	return nil
}

func (s *sqlStorage) Routes(ctx context.Context) ([]model.Route, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT route_id, route_short_name, route_long_name
FROM routes
ORDER BY route_id`)
	if err != nil {
		return nil, fmt.Errorf("querying routes: %w", err)
	}
	defer rows.Close()

	return scanRoutes(rows)
}

func (s *sqlStorage) Trips(ctx context.Context) ([]model.Trip, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT trip_id, route_id, service_id, direction_id, trip_headsign
FROM trips
ORDER BY trip_id`)
	if err != nil {
		return nil, fmt.Errorf("querying trips: %w", err)
	}
	defer rows.Close()

	trips := []model.Trip{}
	for rows.Next() {
		var t model.Trip
		err := rows.Scan(&t.ID, &t.RouteID, &t.ServiceID, &t.DirectionID, &t.Headsign)
		if err != nil {
			return nil, fmt.Errorf("scanning trip: %w", err)
		}
		trips = append(trips, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating trips: %w", err)
	}

	return trips, nil
}

func (s *sqlStorage) Stops(ctx context.Context) ([]model.Stop, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT stop_id, stop_name, stop_lat, stop_lon, zone_id
FROM stops
ORDER BY stop_id`)
	if err != nil {
		return nil, fmt.Errorf("querying stops: %w", err)
	}
	defer rows.Close()

	return scanStops(rows)
}

func (s *sqlStorage) StopTimes(ctx context.Context) ([]model.StopTime, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT trip_id, stop_sequence, stop_id, arrival_time, departure_time
FROM stop_times
ORDER BY trip_id, stop_sequence`)
	if err != nil {
		return nil, fmt.Errorf("querying stop_times: %w", err)
	}
	defer rows.Close()

	return scanStopTimes(rows)
}

func (s *sqlStorage) AddedTrips(ctx context.Context) ([]model.AddedTrip, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT route_id, start_time, direction_id, trip_id
FROM added_trips
ORDER BY trip_id`)
	if err != nil {
		return nil, fmt.Errorf("querying added_trips: %w", err)
	}
	defer rows.Close()

	added := []model.AddedTrip{}
	for rows.Next() {
		var a model.AddedTrip
		err := rows.Scan(&a.RouteID, &a.StartTime, &a.DirectionID, &a.TripID)
		if err != nil {
			return nil, fmt.Errorf("scanning added_trip: %w", err)
		}
		added = append(added, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating added_trips: %w", err)
	}

	return added, nil
}

func (s *sqlStorage) Shape(ctx context.Context, routeID int) ([]model.Point, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(`
SELECT shape_pt_lat, shape_pt_lon
FROM shapes
WHERE shape_id = ?
ORDER BY shape_pt_sequence`), routeID)
	if err != nil {
		return nil, fmt.Errorf("querying shape: %w", err)
	}
	defer rows.Close()

	points := []model.Point{}
	for rows.Next() {
		var p model.Point
		if err := rows.Scan(&p.Lat, &p.Lon); err != nil {
			return nil, fmt.Errorf("scanning shape point: %w", err)
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating shape: %w", err)
	}

	return points, nil
}

func (s *sqlStorage) StopsOnRoute(ctx context.Context, routeID int) ([]model.Stop, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(`
SELECT DISTINCT s.stop_id, s.stop_name, s.stop_lat, s.stop_lon, s.zone_id
FROM stops s
JOIN stop_times st ON st.stop_id = s.stop_id
JOIN trips t ON t.trip_id = st.trip_id
WHERE t.route_id = ?
ORDER BY s.stop_id`), routeID)
	if err != nil {
		return nil, fmt.Errorf("querying stops on route: %w", err)
	}
	defer rows.Close()

	return scanStops(rows)
}

func (s *sqlStorage) RoutesAtStop(ctx context.Context, stopID int) ([]model.Route, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(`
SELECT DISTINCT r.route_id, r.route_short_name, r.route_long_name
FROM routes r
JOIN trips t ON t.route_id = r.route_id
JOIN stop_times st ON st.trip_id = t.trip_id
WHERE st.stop_id = ?
ORDER BY r.route_short_name, r.route_id`), stopID)
	if err != nil {
		return nil, fmt.Errorf("querying routes at stop: %w", err)
	}
	defer rows.Close()

	return scanRoutes(rows)
}

func (s *sqlStorage) Arrivals(ctx context.Context, stopID int, from int, to int) ([]model.Arrival, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(`
SELECT st.trip_id, t.route_id, r.route_short_name, r.route_long_name, t.trip_headsign, st.stop_sequence, st.arrival_time
FROM stop_times st
JOIN trips t ON t.trip_id = st.trip_id
JOIN routes r ON r.route_id = t.route_id
WHERE st.stop_id = ? AND st.arrival_time >= ? AND st.arrival_time <= ?
ORDER BY st.arrival_time, st.trip_id`), stopID, from, to)
	if err != nil {
		return nil, fmt.Errorf("querying arrivals: %w", err)
	}
	defer rows.Close()

	arrivals := []model.Arrival{}
	for rows.Next() {
		var a model.Arrival
		err := rows.Scan(
			&a.TripID,
			&a.RouteID,
			&a.RouteShortName,
			&a.RouteLongName,
			&a.Headsign,
			&a.StopSequence,
			&a.ArrivalTime,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning arrival: %w", err)
		}
		arrivals = append(arrivals, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating arrivals: %w", err)
	}

	return arrivals, nil
}

func (t *sqlTx) Commit() error {
	if t.stWriter != nil {
		return fmt.Errorf("stop_times batch still open")
	}
	err := t.tx.Commit()
	if err != nil {
		return fmt.Errorf("committing: %w", err)
	}
	return nil
}

func (t *sqlTx) Rollback() error {
	err := t.tx.Rollback()
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rolling back: %w", err)
	}
	return nil
}

// Runs an insert and reports whether a row was written.
func (t *sqlTx) insert(ctx context.Context, query string, args ...interface{}) (bool, error) {
	res, err := t.tx.ExecContext(ctx, t.dialect.rebind(query), args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (t *sqlTx) StopIDs(ctx context.Context) (map[int]bool, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT stop_id FROM stops`)
	if err != nil {
		return nil, fmt.Errorf("querying stop ids: %w", err)
	}
	defer rows.Close()

	ids := map[int]bool{}
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning stop id: %w", err)
		}
		ids[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating stop ids: %w", err)
	}

	return ids, nil
}

func (t *sqlTx) WriteTrip(ctx context.Context, trip model.Trip) (bool, error) {
	inserted, err := t.insert(ctx, `
INSERT INTO trips (trip_id, route_id, service_id, direction_id, trip_headsign)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT DO NOTHING`,
		trip.ID,
		trip.RouteID,
		trip.ServiceID,
		trip.DirectionID,
		trip.Headsign,
	)
	if err != nil {
		return false, fmt.Errorf("inserting trip: %w", err)
	}
	return inserted, nil
}

func (t *sqlTx) DeleteTrips(ctx context.Context, tripIDs []int) error {
	return inChunks(tripIDs, MaxQueryIDs, func(chunk []int) error {
		cond, args := t.dialect.inInts("trip_id", chunk)
		_, err := t.tx.ExecContext(ctx, t.dialect.rebind("DELETE FROM trips WHERE "+cond), args...)
		if err != nil {
			return fmt.Errorf("deleting trips: %w", err)
		}
		return nil
	})
}

func (t *sqlTx) WriteRoute(ctx context.Context, route model.Route) (bool, error) {
	inserted, err := t.insert(ctx, `
INSERT INTO routes (route_id, route_short_name, route_long_name)
VALUES (?, ?, ?)
ON CONFLICT DO NOTHING`,
		route.ID,
		route.ShortName,
		route.LongName,
	)
	if err != nil {
		return false, fmt.Errorf("inserting route: %w", err)
	}
	return inserted, nil
}

func (t *sqlTx) WriteShape(ctx context.Context, shape model.Shape) (bool, error) {
	inserted, err := t.insert(ctx, `
INSERT INTO shapes (shape_id, shape_pt_sequence, shape_pt_lat, shape_pt_lon)
VALUES (?, ?, ?, ?)
ON CONFLICT DO NOTHING`,
		shape.ShapeID,
		shape.Sequence,
		shape.Lat,
		shape.Lon,
	)
	if err != nil {
		return false, fmt.Errorf("inserting shape: %w", err)
	}
	return inserted, nil
}

func (t *sqlTx) WriteStop(ctx context.Context, stop model.Stop) error {
	_, err := t.tx.ExecContext(ctx, t.dialect.rebind(`
INSERT INTO stops (stop_id, stop_name, stop_lat, stop_lon, zone_id)
VALUES (?, ?, ?, ?, ?)`),
		stop.ID,
		stop.Name,
		stop.Lat,
		stop.Lon,
		stop.ZoneID,
	)
	if err != nil {
		return fmt.Errorf("inserting stop: %w", err)
	}
	return nil
}

func (t *sqlTx) BeginStopTimes(ctx context.Context) error {
	if t.stWriter != nil {
		return fmt.Errorf("stop_times batch already open")
	}
	w, err := t.dialect.stopTimeWriter(ctx, t.tx)
	if err != nil {
		return fmt.Errorf("starting stop_times batch: %w", err)
	}
	t.stWriter = w
	return nil
}

func (t *sqlTx) WriteStopTime(ctx context.Context, stopTime model.StopTime) error {
	if t.stWriter == nil {
		return fmt.Errorf("stop_times batch not open")
	}
	return t.stWriter.write(ctx, stopTime)
}

func (t *sqlTx) EndStopTimes(ctx context.Context) error {
	if t.stWriter == nil {
		return fmt.Errorf("stop_times batch not open")
	}
	err := t.stWriter.close(ctx)
	t.stWriter = nil
	if err != nil {
		return fmt.Errorf("ending stop_times batch: %w", err)
	}
	return nil
}

func (t *sqlTx) MaxTripID(ctx context.Context) (int, error) {
	var max int
	err := t.tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(trip_id), 0) FROM trips`).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("querying max trip_id: %w", err)
	}
	return max, nil
}

func (t *sqlTx) AddedTrip(ctx context.Context, key model.AddedTripKey) (int, error) {
	var tripID int
	err := t.tx.QueryRowContext(ctx, t.dialect.rebind(`
SELECT trip_id
FROM added_trips
WHERE route_id = ? AND start_time = ? AND direction_id = ?`),
		key.RouteID,
		key.StartTime,
		key.DirectionID,
	).Scan(&tripID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("querying added_trip: %w", err)
	}
	return tripID, nil
}

func (t *sqlTx) InsertAddedTrip(ctx context.Context, added model.AddedTrip) (bool, error) {
	inserted, err := t.insert(ctx, `
INSERT INTO added_trips (route_id, start_time, direction_id, trip_id)
VALUES (?, ?, ?, ?)
ON CONFLICT DO NOTHING`,
		added.RouteID,
		added.StartTime,
		added.DirectionID,
		added.TripID,
	)
	if err != nil {
		return false, fmt.Errorf("inserting added_trip: %w", err)
	}
	return inserted, nil
}

func (t *sqlTx) RouteShortNames(ctx context.Context, routeIDs []int) (map[int]string, error) {
	names := map[int]string{}
	err := inChunks(routeIDs, MaxQueryIDs, func(chunk []int) error {
		cond, args := t.dialect.inInts("route_id", chunk)
		rows, err := t.tx.QueryContext(
			ctx,
			t.dialect.rebind("SELECT route_id, route_short_name FROM routes WHERE "+cond),
			args...,
		)
		if err != nil {
			return fmt.Errorf("querying route names: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var id int
			var name string
			if err := rows.Scan(&id, &name); err != nil {
				return fmt.Errorf("scanning route name: %w", err)
			}
			names[id] = name
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

func (t *sqlTx) ExistingTrips(ctx context.Context, tripIDs []int) (map[int]bool, error) {
	found := map[int]bool{}
	err := inChunks(tripIDs, MaxQueryIDs, func(chunk []int) error {
		cond, args := t.dialect.inInts("trip_id", chunk)
		rows, err := t.tx.QueryContext(
			ctx,
			t.dialect.rebind("SELECT trip_id FROM trips WHERE "+cond),
			args...,
		)
		if err != nil {
			return fmt.Errorf("querying trips: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var id int
			if err := rows.Scan(&id); err != nil {
				return fmt.Errorf("scanning trip id: %w", err)
			}
			found[id] = true
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

func (t *sqlTx) StopTimesByTrips(ctx context.Context, tripIDs []int) ([]model.StopTime, error) {
	if len(tripIDs) == 0 {
		return []model.StopTime{}, nil
	}
	if len(tripIDs) > MaxQueryIDs {
		return nil, fmt.Errorf("%d trip ids exceeds limit of %d", len(tripIDs), MaxQueryIDs)
	}

	cond, args := t.dialect.inInts("trip_id", tripIDs)
	rows, err := t.tx.QueryContext(ctx, t.dialect.rebind(`
SELECT trip_id, stop_sequence, stop_id, arrival_time, departure_time
FROM stop_times
WHERE `+cond), args...)
	if err != nil {
		return nil, fmt.Errorf("querying stop_times: %w", err)
	}
	defer rows.Close()

	return scanStopTimes(rows)
}

func (t *sqlTx) UpdateStopTimes(ctx context.Context, stopTimes []model.StopTime) error {
	if len(stopTimes) == 0 {
		return nil
	}

	stmt, err := t.tx.PrepareContext(ctx, t.dialect.rebind(`
UPDATE stop_times
SET arrival_time = ?, departure_time = ?
WHERE trip_id = ? AND stop_sequence = ?`))
	if err != nil {
		return fmt.Errorf("preparing update: %w", err)
	}
	defer stmt.Close()

	for _, st := range stopTimes {
		_, err = stmt.ExecContext(ctx, st.Arrival, st.Departure, st.TripID, st.StopSequence)
		if err != nil {
			return fmt.Errorf("updating stop_time (trip %d, seq %d): %w", st.TripID, st.StopSequence, err)
		}
	}

	return nil
}

func scanRoutes(rows *sql.Rows) ([]model.Route, error) {
	routes := []model.Route{}
	for rows.Next() {
		var r model.Route
		if err := rows.Scan(&r.ID, &r.ShortName, &r.LongName); err != nil {
			return nil, fmt.Errorf("scanning route: %w", err)
		}
		routes = append(routes, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating routes: %w", err)
	}
	return routes, nil
}

func scanStops(rows *sql.Rows) ([]model.Stop, error) {
	stops := []model.Stop{}
	for rows.Next() {
		var s model.Stop
		if err := rows.Scan(&s.ID, &s.Name, &s.Lat, &s.Lon, &s.ZoneID); err != nil {
			return nil, fmt.Errorf("scanning stop: %w", err)
		}
		stops = append(stops, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating stops: %w", err)
	}
	return stops, nil
}

func scanStopTimes(rows *sql.Rows) ([]model.StopTime, error) {
	stopTimes := []model.StopTime{}
	for rows.Next() {
		var st model.StopTime
		err := rows.Scan(&st.TripID, &st.StopSequence, &st.StopID, &st.Arrival, &st.Departure)
		if err != nil {
			return nil, fmt.Errorf("scanning stop_time: %w", err)
		}
		stopTimes = append(stopTimes, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating stop_times: %w", err)
	}
	return stopTimes, nil
}
