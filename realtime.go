package gtfs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"motionbus.dev/gtfs/downloader"
	"motionbus.dev/gtfs/metrics"
	"motionbus.dev/gtfs/model"
	"motionbus.dev/gtfs/parse"
	"motionbus.dev/gtfs/storage"
)

// A realtime update that couldn't be applied.
type SkippedUpdate struct {
	EntityID     string `json:"entity_id"`
	TripID       int    `json:"trip_id,omitempty"`
	StopSequence int    `json:"stop_sequence,omitempty"`
	Reason       string `json:"reason"`
}

// Outcome of one reconciliation cycle.
type ReconcileReport struct {
	CycleID       string `json:"cycle_id"`
	FeedTimestamp uint64 `json:"feed_timestamp"`

	// Stop time updates applied to existing rows, matching
	// existing rows without change, and inserted as new rows.
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Inserted  int `json:"inserted"`

	// Canceled trip updates, left alone.
	Canceled int `json:"canceled"`

	// Trip IDs allocated for added trips.
	Allocated int `json:"allocated"`

	Skipped   []SkippedUpdate         `json:"skipped"`
	Malformed []*parse.EntityError    `json:"-"`
	Positions []model.VehiclePosition `json:"positions"`
}

func (r *ReconcileReport) skip(entityID string, tripID int, seq int, reason string) {
	r.Skipped = append(r.Skipped, SkippedUpdate{
		EntityID:     entityID,
		TripID:       tripID,
		StopSequence: seq,
		Reason:       reason,
	})
}

func (r *ReconcileReport) counts() metrics.CycleCounts {
	return metrics.CycleCounts{
		Updated:   r.Updated,
		Inserted:  r.Inserted,
		Skipped:   len(r.Skipped) + len(r.Malformed),
		Canceled:  r.Canceled,
		Allocated: r.Allocated,
		Positions: len(r.Positions),
	}
}

// Fetches the realtime feed and runs one reconciliation cycle against
// it. All writes of a cycle are committed together, or not at all.
// Positions are handed to the sinks after commit.
//
// Returns ErrCycleInProgress without doing anything if another cycle
// or a reload is running, and ErrFeedUnavailable if the feed couldn't
// be fetched or decoded.
func (e *Engine) Reconcile(ctx context.Context) (*ReconcileReport, error) {
	if !e.mutex.TryLock() {
		e.Metrics.ObserveCycle(metrics.OutcomeBusy, 0, metrics.CycleCounts{})
		return nil, ErrCycleInProgress
	}
	defer e.mutex.Unlock()

	start := time.Now()
	cycleID := uuid.NewString()
	logger := e.logger("reconciler").With("cycle_id", cycleID)

	rt, err := e.fetchRealtime(ctx)
	if err != nil {
		logger.Warn("feed unavailable", "error", err)
		e.Metrics.ObserveCycle(metrics.OutcomeUnavailable, time.Since(start), metrics.CycleCounts{})
		return nil, err
	}

	return e.cycle(ctx, start, cycleID, logger, rt)
}

// Same as Reconcile, against an already decoded feed.
func (e *Engine) ReconcileFeed(ctx context.Context, rt *parse.Realtime) (*ReconcileReport, error) {
	if !e.mutex.TryLock() {
		e.Metrics.ObserveCycle(metrics.OutcomeBusy, 0, metrics.CycleCounts{})
		return nil, ErrCycleInProgress
	}
	defer e.mutex.Unlock()

	cycleID := uuid.NewString()
	logger := e.logger("reconciler").With("cycle_id", cycleID)

	return e.cycle(ctx, time.Now(), cycleID, logger, rt)
}

func (e *Engine) cycle(
	ctx context.Context,
	start time.Time,
	cycleID string,
	logger *slog.Logger,
	rt *parse.Realtime,
) (*ReconcileReport, error) {

	report, err := e.reconcile(ctx, logger, rt)
	if err != nil {
		logger.Error("cycle failed", "error", err)
		e.Metrics.ObserveCycle(metrics.OutcomeFailed, time.Since(start), metrics.CycleCounts{})
		return nil, err
	}
	report.CycleID = cycleID

	e.Metrics.ObserveCycle(metrics.OutcomeOK, time.Since(start), report.counts())
	logger.Info("cycle committed",
		"feed_timestamp", report.FeedTimestamp,
		"updated", report.Updated,
		"unchanged", report.Unchanged,
		"inserted", report.Inserted,
		"canceled", report.Canceled,
		"allocated", report.Allocated,
		"skipped", len(report.Skipped),
		"malformed", len(report.Malformed),
		"positions", len(report.Positions),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	e.publish(ctx, logger, report.Positions)

	return report, nil
}

func (e *Engine) fetchRealtime(ctx context.Context) (*parse.Realtime, error) {
	if e.RealtimeURL == "" {
		return nil, fmt.Errorf("%w: no realtime url configured", ErrFeedUnavailable)
	}

	data, err := e.Downloader.Get(ctx, e.RealtimeURL, e.RealtimeHeaders, downloader.GetOptions{
		Timeout:  e.RealtimeTimeout,
		MaxSize:  e.RealtimeMaxSize,
		Cache:    e.RealtimeCacheTTL > 0,
		CacheTTL: e.RealtimeCacheTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFeedUnavailable, err)
	}

	rt, err := parse.ParseRealtime(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFeedUnavailable, err)
	}

	return rt, nil
}

type stopKey struct {
	tripID int
	stopID int
}

type seqKey struct {
	tripID int
	seq    int
}

type pendingUpdate struct {
	entityID string
	tripID   int
	update   parse.StopTimeUpdate
}

func (e *Engine) reconcile(ctx context.Context, logger *slog.Logger, rt *parse.Realtime) (*ReconcileReport, error) {
	report := &ReconcileReport{
		FeedTimestamp: rt.Timestamp,
		Skipped:       []SkippedUpdate{},
		Malformed:     rt.Malformed,
		Positions:     []model.VehiclePosition{},
	}

	for _, m := range rt.Malformed {
		logger.Warn("malformed entity", "entity_id", m.EntityID, "error", m.Err)
	}

	tx, err := e.storage.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	pending, err := e.resolveTripUpdates(ctx, logger, tx, rt, report)
	if err != nil {
		return nil, err
	}

	err = e.applyStopTimeUpdates(ctx, tx, pending, report)
	if err != nil {
		return nil, err
	}

	// After the timetable, so trips allocated above resolve.
	report.Positions, err = derivePositions(ctx, tx, rt.Vehicles)
	if err != nil {
		return nil, fmt.Errorf("deriving positions: %w", err)
	}

	err = tx.Commit()
	if err != nil {
		return nil, err
	}

	return report, nil
}

// Maps each trip update to a trip ID, allocating IDs for added trips,
// and returns their stop time updates.
func (e *Engine) resolveTripUpdates(
	ctx context.Context,
	logger *slog.Logger,
	tx storage.Tx,
	rt *parse.Realtime,
	report *ReconcileReport,
) ([]pendingUpdate, error) {

	pending := []pendingUpdate{}

	for _, tu := range rt.TripUpdates {
		var tripID int

		switch tu.Trip.Relationship {
		case parse.TripCanceled:
			report.Canceled++
			logger.Debug("skipping canceled trip", "entity_id", tu.EntityID)
			continue

		case parse.TripAdded:
			if tu.Trip.RouteID == nil || tu.Trip.StartTime == "" {
				report.skip(tu.EntityID, 0, 0, "added trip without route_id or start_time")
				continue
			}

			key := model.AddedTripKey{
				RouteID:     *tu.Trip.RouteID,
				StartTime:   tu.Trip.StartTime,
				DirectionID: tu.Trip.DirectionID,
			}
			id, allocated, err := ResolveOrAllocate(ctx, tx, key)
			if errors.Is(err, ErrUnknownRoute) {
				logger.Warn("added trip on unknown route", "entity_id", tu.EntityID, "route_id", key.RouteID)
				report.skip(tu.EntityID, 0, 0, "unknown route")
				continue
			}
			if err != nil {
				return nil, err
			}
			if allocated {
				report.Allocated++
				logger.Info("allocated trip", "trip_id", id, "route_id", key.RouteID, "start_time", key.StartTime, "direction_id", key.DirectionID)
			}
			tripID = id

		default:
			if tu.Trip.TripID == nil {
				report.skip(tu.EntityID, 0, 0, "missing trip_id")
				continue
			}
			tripID = *tu.Trip.TripID
		}

		for _, stu := range tu.StopTimeUpdates {
			pending = append(pending, pendingUpdate{
				entityID: tu.EntityID,
				tripID:   tripID,
				update:   stu,
			})
		}
	}

	return pending, nil
}

// Matches each pending update against existing stop_times, first by
// (trip, stop) and then by (trip, sequence). Matches get their times
// updated, the rest are inserted as new rows provided trip and stop
// exist.
func (e *Engine) applyStopTimeUpdates(
	ctx context.Context,
	tx storage.Tx,
	pending []pendingUpdate,
	report *ReconcileReport,
) error {

	if len(pending) == 0 {
		return nil
	}

	tripSet := map[int]bool{}
	for _, p := range pending {
		tripSet[p.tripID] = true
	}
	tripIDs := make([]int, 0, len(tripSet))
	for id := range tripSet {
		tripIDs = append(tripIDs, id)
	}
	sort.Ints(tripIDs)

	byStop := map[stopKey]*model.StopTime{}
	bySeq := map[seqKey]*model.StopTime{}
	for _, chunk := range storage.Chunks(tripIDs, storage.MaxQueryIDs) {
		rows, err := tx.StopTimesByTrips(ctx, chunk)
		if err != nil {
			return fmt.Errorf("fetching stop_times: %w", err)
		}
		for i := range rows {
			st := &rows[i]
			byStop[stopKey{st.TripID, st.StopID}] = st
			bySeq[seqKey{st.TripID, st.StopSequence}] = st
		}
	}

	existingTrips, err := tx.ExistingTrips(ctx, tripIDs)
	if err != nil {
		return fmt.Errorf("checking trips: %w", err)
	}
	stops, err := tx.StopIDs(ctx)
	if err != nil {
		return fmt.Errorf("checking stops: %w", err)
	}

	dirty := map[seqKey]*model.StopTime{}
	staged := map[seqKey]bool{}
	inserts := []*model.StopTime{}

	for _, p := range pending {
		u := p.update
		arrival := parse.EpochToSeconds(u.ArrivalTime, e.Location)
		departure := parse.EpochToSeconds(u.DepartureTime, e.Location)

		var match *model.StopTime
		if u.StopID != nil {
			match = byStop[stopKey{p.tripID, *u.StopID}]
		}
		if match == nil {
			match = bySeq[seqKey{p.tripID, u.StopSequence}]
		}

		if match != nil {
			changed := false
			if arrival != 0 && match.Arrival != arrival {
				match.Arrival = arrival
				changed = true
			}
			if departure != 0 && match.Departure != departure {
				match.Departure = departure
				changed = true
			}
			if !changed {
				report.Unchanged++
				continue
			}
			key := seqKey{match.TripID, match.StopSequence}
			if !staged[key] {
				dirty[key] = match
			}
			report.Updated++
			continue
		}

		if u.StopID == nil {
			report.skip(p.entityID, p.tripID, u.StopSequence, "no matching stop_time and no stop_id")
			continue
		}
		if !existingTrips[p.tripID] {
			report.skip(p.entityID, p.tripID, u.StopSequence, "unknown trip")
			continue
		}
		if !stops[*u.StopID] {
			report.skip(p.entityID, p.tripID, u.StopSequence, "unknown stop")
			continue
		}

		st := &model.StopTime{
			TripID:       p.tripID,
			StopSequence: u.StopSequence,
			StopID:       *u.StopID,
			Arrival:      arrival,
			Departure:    departure,
		}
		byStop[stopKey{st.TripID, st.StopID}] = st
		bySeq[seqKey{st.TripID, st.StopSequence}] = st
		staged[seqKey{st.TripID, st.StopSequence}] = true
		inserts = append(inserts, st)
		report.Inserted++
	}

	if len(dirty) > 0 {
		updates := make([]model.StopTime, 0, len(dirty))
		for _, st := range dirty {
			updates = append(updates, *st)
		}
		sort.Slice(updates, func(i, j int) bool {
			if updates[i].TripID != updates[j].TripID {
				return updates[i].TripID < updates[j].TripID
			}
			return updates[i].StopSequence < updates[j].StopSequence
		})
		err = tx.UpdateStopTimes(ctx, updates)
		if err != nil {
			return fmt.Errorf("updating stop_times: %w", err)
		}
	}

	if len(inserts) > 0 {
		err = tx.BeginStopTimes(ctx)
		if err != nil {
			return err
		}
		for _, st := range inserts {
			err = tx.WriteStopTime(ctx, *st)
			if err != nil {
				return fmt.Errorf("inserting stop_time: %w", err)
			}
		}
		err = tx.EndStopTimes(ctx)
		if err != nil {
			return err
		}
	}

	return nil
}

// Builds one position per vehicle with a known route. Route names
// are fetched in one batch. Trips are looked up but never allocated.
func derivePositions(ctx context.Context, tx storage.Tx, vehicles []*parse.VehiclePosition) ([]model.VehiclePosition, error) {
	positions := []model.VehiclePosition{}
	if len(vehicles) == 0 {
		return positions, nil
	}

	routeOf := func(v *parse.VehiclePosition) *int {
		if v.UpdateTrip != nil && v.UpdateTrip.RouteID != nil {
			return v.UpdateTrip.RouteID
		}
		return v.Trip.RouteID
	}

	routeSet := map[int]bool{}
	for _, v := range vehicles {
		if r := routeOf(v); r != nil {
			routeSet[*r] = true
		}
	}
	routeIDs := make([]int, 0, len(routeSet))
	for id := range routeSet {
		routeIDs = append(routeIDs, id)
	}
	sort.Ints(routeIDs)

	names, err := tx.RouteShortNames(ctx, routeIDs)
	if err != nil {
		return nil, err
	}

	for _, v := range vehicles {
		routeID := routeOf(v)
		if routeID == nil {
			continue
		}

		tripID := v.Trip.TripID
		if tripID == nil && v.UpdateTrip != nil {
			tripID = v.UpdateTrip.TripID
		}
		if tripID == nil {
			desc := v.Trip
			if desc.StartTime == "" && v.UpdateTrip != nil {
				desc = *v.UpdateTrip
			}
			if desc.StartTime != "" {
				id, found, err := LookupAddedTrip(ctx, tx, model.AddedTripKey{
					RouteID:     *routeID,
					StartTime:   desc.StartTime,
					DirectionID: desc.DirectionID,
				})
				if err != nil {
					return nil, err
				}
				if found {
					tripID = &id
				}
			}
		}

		name, ok := names[*routeID]
		if !ok {
			name = UnknownRouteShortName
		}

		positions = append(positions, model.VehiclePosition{
			TripID:         tripID,
			RouteID:        *routeID,
			RouteShortName: name,
			Lat:            v.Lat,
			Lon:            v.Lon,
			Bearing:        v.Bearing,
			Speed:          v.Speed,
		})
	}

	return positions, nil
}

// Hands positions to every sink. Failures are logged, never
// returned.
func (e *Engine) publish(ctx context.Context, logger *slog.Logger, positions []model.VehiclePosition) {
	for _, s := range e.Sinks {
		err := s.Publish(ctx, positions)
		if err != nil {
			e.Metrics.SinkError(s.Name())
			logger.Warn("sink failed", "sink", s.Name(), "error", err)
		}
	}
}
