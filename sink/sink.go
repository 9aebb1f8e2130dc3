package sink

import (
	"context"

	"motionbus.dev/gtfs/model"
)

// Receives the vehicle positions of each committed reconciliation
// cycle.
type PositionSink interface {
	Name() string
	Publish(ctx context.Context, positions []model.VehiclePosition) error
	Close() error
}
