package gtfs

import (
	"context"
	"fmt"
	"time"

	"motionbus.dev/gtfs/model"
	"motionbus.dev/gtfs/parse"
)

// Lists arrivals at a stop within window from now, ordered by
// arrival time. Times are in the engine's Location.
//
// The range doesn't wrap at midnight: late in the evening, arrivals
// after 24:00 are only found if stored as times past 24:00.
func (e *Engine) Arrivals(ctx context.Context, stopID int, window time.Duration) ([]model.Arrival, error) {
	if window < 0 {
		return nil, fmt.Errorf("negative window: %s", window)
	}

	now := parse.SecondsSinceMidnight(e.Now(), e.Location)
	to := now + int(window/time.Second)

	arrivals, err := e.storage.Arrivals(ctx, stopID, now, to)
	if err != nil {
		return nil, fmt.Errorf("getting arrivals: %w", err)
	}

	for i := range arrivals {
		arrivals[i].Minutes = (arrivals[i].ArrivalTime - now) / 60
	}

	return arrivals, nil
}

func (e *Engine) RoutesAtStop(ctx context.Context, stopID int) ([]model.Route, error) {
	return e.storage.RoutesAtStop(ctx, stopID)
}

func (e *Engine) StopsOnRoute(ctx context.Context, routeID int) ([]model.Stop, error) {
	return e.storage.StopsOnRoute(ctx, routeID)
}

// Route polyline, in sequence order. Empty if the route has no
// shape.
func (e *Engine) Shape(ctx context.Context, routeID int) ([]model.Point, error) {
	return e.storage.Shape(ctx, routeID)
}
