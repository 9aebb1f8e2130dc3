package storage

import (
	"context"
	"fmt"
	"sort"

	"motionbus.dev/gtfs/model"
)

// In memory implementation of FeedWriter. Used to dry-run a static
// load, and in tests.

type memoryShapeKey struct {
	ShapeID  int
	Sequence int
}

type memoryStopTimeKey struct {
	TripID       int
	StopSequence int
}

type MemoryFeed struct {
	routes    map[int]model.Route
	trips     map[int]model.Trip
	shapes    map[memoryShapeKey]model.Shape
	stops     map[int]model.Stop
	stopTimes map[memoryStopTimeKey]model.StopTime

	inStopTimes bool
}

func NewMemoryFeed() *MemoryFeed {
	return &MemoryFeed{
		routes:    map[int]model.Route{},
		trips:     map[int]model.Trip{},
		shapes:    map[memoryShapeKey]model.Shape{},
		stops:     map[int]model.Stop{},
		stopTimes: map[memoryStopTimeKey]model.StopTime{},
	}
}

func (f *MemoryFeed) StopIDs(ctx context.Context) (map[int]bool, error) {
	ids := map[int]bool{}
	for id := range f.stops {
		ids[id] = true
	}
	return ids, nil
}

func (f *MemoryFeed) WriteTrip(ctx context.Context, trip model.Trip) (bool, error) {
	if _, found := f.trips[trip.ID]; found {
		return false, nil
	}
	f.trips[trip.ID] = trip
	return true, nil
}

func (f *MemoryFeed) DeleteTrips(ctx context.Context, tripIDs []int) error {
	for _, id := range tripIDs {
		delete(f.trips, id)
	}
	return nil
}

func (f *MemoryFeed) WriteRoute(ctx context.Context, route model.Route) (bool, error) {
	if _, found := f.routes[route.ID]; found {
		return false, nil
	}
	f.routes[route.ID] = route
	return true, nil
}

func (f *MemoryFeed) WriteShape(ctx context.Context, shape model.Shape) (bool, error) {
	key := memoryShapeKey{shape.ShapeID, shape.Sequence}
	if _, found := f.shapes[key]; found {
		return false, nil
	}
	f.shapes[key] = shape
	return true, nil
}

func (f *MemoryFeed) WriteStop(ctx context.Context, stop model.Stop) error {
	if _, found := f.stops[stop.ID]; found {
		return fmt.Errorf("stop %d already exists", stop.ID)
	}
	f.stops[stop.ID] = stop
	return nil
}

func (f *MemoryFeed) BeginStopTimes(ctx context.Context) error {
	if f.inStopTimes {
		return fmt.Errorf("stop_times batch already open")
	}
	f.inStopTimes = true
	return nil
}

func (f *MemoryFeed) WriteStopTime(ctx context.Context, stopTime model.StopTime) error {
	if !f.inStopTimes {
		return fmt.Errorf("stop_times batch not open")
	}
	key := memoryStopTimeKey{stopTime.TripID, stopTime.StopSequence}
	if _, found := f.stopTimes[key]; found {
		return fmt.Errorf("stop_time (trip %d, seq %d) already exists", stopTime.TripID, stopTime.StopSequence)
	}
	f.stopTimes[key] = stopTime
	return nil
}

func (f *MemoryFeed) EndStopTimes(ctx context.Context) error {
	if !f.inStopTimes {
		return fmt.Errorf("stop_times batch not open")
	}
	f.inStopTimes = false
	return nil
}

func (f *MemoryFeed) Routes() []model.Route {
	routes := make([]model.Route, 0, len(f.routes))
	for _, r := range f.routes {
		routes = append(routes, r)
	}
	sort.Slice(routes, func(i, j int) bool {
		return routes[i].ID < routes[j].ID
	})
	return routes
}

func (f *MemoryFeed) Trips() []model.Trip {
	trips := make([]model.Trip, 0, len(f.trips))
	for _, t := range f.trips {
		trips = append(trips, t)
	}
	sort.Slice(trips, func(i, j int) bool {
		return trips[i].ID < trips[j].ID
	})
	return trips
}

func (f *MemoryFeed) Shapes() []model.Shape {
	shapes := make([]model.Shape, 0, len(f.shapes))
	for _, s := range f.shapes {
		shapes = append(shapes, s)
	}
	sort.Slice(shapes, func(i, j int) bool {
		if shapes[i].ShapeID != shapes[j].ShapeID {
			return shapes[i].ShapeID < shapes[j].ShapeID
		}
		return shapes[i].Sequence < shapes[j].Sequence
	})
	return shapes
}

func (f *MemoryFeed) Stops() []model.Stop {
	stops := make([]model.Stop, 0, len(f.stops))
	for _, s := range f.stops {
		stops = append(stops, s)
	}
	sort.Slice(stops, func(i, j int) bool {
		return stops[i].ID < stops[j].ID
	})
	return stops
}

func (f *MemoryFeed) StopTimes() []model.StopTime {
	stopTimes := make([]model.StopTime, 0, len(f.stopTimes))
	for _, st := range f.stopTimes {
		stopTimes = append(stopTimes, st)
	}
	sort.Slice(stopTimes, func(i, j int) bool {
		if stopTimes[i].TripID != stopTimes[j].TripID {
			return stopTimes[i].TripID < stopTimes[j].TripID
		}
		return stopTimes[i].StopSequence < stopTimes[j].StopSequence
	})
	return stopTimes
}
