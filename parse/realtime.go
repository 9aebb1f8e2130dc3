package parse

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	gtfsproto "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	proto "google.golang.org/protobuf/proto"
)

var (
	ErrEmptyFeed       = errors.New("empty realtime feed")
	ErrUnsupportedFeed = errors.New("unsupported realtime feed")
)

type TripRelationship int

const (
	TripScheduled TripRelationship = iota
	TripAdded
	TripUnscheduled
	TripCanceled
	TripDuplicated
)

func (r TripRelationship) String() string {
	switch r {
	case TripScheduled:
		return "SCHEDULED"
	case TripAdded:
		return "ADDED"
	case TripUnscheduled:
		return "UNSCHEDULED"
	case TripCanceled:
		return "CANCELED"
	case TripDuplicated:
		return "DUPLICATED"
	}
	return fmt.Sprintf("TripRelationship(%d)", int(r))
}

// A realtime trip reference. TripID and RouteID are nil when the
// feed leaves them blank.
type TripDescriptor struct {
	TripID       *int
	RouteID      *int
	DirectionID  int8
	StartTime    string
	Relationship TripRelationship
}

// Times are unix epoch seconds, zero when not provided.
type StopTimeUpdate struct {
	StopID        *int
	StopSequence  int
	ArrivalTime   int64
	DepartureTime int64
}

type TripUpdate struct {
	EntityID        string
	Trip            TripDescriptor
	StopTimeUpdates []StopTimeUpdate
}

type VehiclePosition struct {
	EntityID string

	// Trip reported by the vehicle itself.
	Trip TripDescriptor

	// Trip of the entity's trip_update, if it carries one.
	UpdateTrip *TripDescriptor

	Lat     float64
	Lon     float64
	Bearing *float32
	Speed   *float32
}

// A feed entity, or part of one, that couldn't be used.
type EntityError struct {
	EntityID string
	Err      error
}

func (e *EntityError) Error() string {
	return fmt.Sprintf("entity %s: %v", e.EntityID, e.Err)
}

func (e *EntityError) Unwrap() error {
	return e.Err
}

func (e *EntityError) Is(target error) bool {
	return target == ErrMalformedRow
}

// Contains key data from a GTFS Realtime feed
type Realtime struct {
	Timestamp   uint64
	TripUpdates []*TripUpdate
	Vehicles    []*VehiclePosition
	Malformed   []*EntityError
}

// Decodes a GTFS-rt FeedMessage. Entities, and stop time updates,
// with unusable identifiers are collected in Malformed rather than
// failing the whole feed.
func ParseRealtime(data []byte) (*Realtime, error) {
	if len(data) == 0 {
		return nil, ErrEmptyFeed
	}

	f := &gtfsproto.FeedMessage{}
	err := proto.Unmarshal(data, f)
	if err != nil {
		return nil, fmt.Errorf("unmarshaling protobuf: %w", err)
	}

	header := f.GetHeader()

	version := header.GetGtfsRealtimeVersion()
	if version != "2.0" && version != "1.0" {
		return nil, fmt.Errorf("%w: version %s", ErrUnsupportedFeed, version)
	}

	if header.GetIncrementality() != gtfsproto.FeedHeader_FULL_DATASET {
		return nil, fmt.Errorf("%w: incrementality %s", ErrUnsupportedFeed, header.GetIncrementality())
	}

	rt := &Realtime{
		Timestamp:   header.GetTimestamp(),
		TripUpdates: []*TripUpdate{},
		Vehicles:    []*VehiclePosition{},
		Malformed:   []*EntityError{},
	}

	for _, entity := range f.GetEntity() {
		if entity.GetIsDeleted() {
			continue
		}
		processEntity(rt, entity)
	}

	return rt, nil
}

func processEntity(rt *Realtime, entity *gtfsproto.FeedEntity) {
	id := entity.GetId()

	var updateTrip *TripDescriptor

	if tu := entity.GetTripUpdate(); tu != nil {
		update, err := processTripUpdate(rt, id, tu)
		if err != nil {
			rt.Malformed = append(rt.Malformed, &EntityError{EntityID: id, Err: err})
		} else {
			rt.TripUpdates = append(rt.TripUpdates, update)
			updateTrip = &update.Trip
		}
	}

	if v := entity.GetVehicle(); v != nil {
		vehicle, err := processVehicle(id, v, updateTrip)
		if err != nil {
			rt.Malformed = append(rt.Malformed, &EntityError{EntityID: id, Err: err})
		} else {
			rt.Vehicles = append(rt.Vehicles, vehicle)
		}
	}
}

func processTripUpdate(rt *Realtime, entityID string, tu *gtfsproto.TripUpdate) (*TripUpdate, error) {
	if tu.GetTrip() == nil {
		return nil, fmt.Errorf("trip_update missing trip")
	}

	trip, err := processTripDescriptor(tu.GetTrip())
	if err != nil {
		return nil, err
	}

	update := &TripUpdate{
		EntityID:        entityID,
		Trip:            trip,
		StopTimeUpdates: []StopTimeUpdate{},
	}

	for i, stu := range tu.GetStopTimeUpdate() {
		// Frequency based stops are not supported.
		if stu.GetScheduleRelationship() == gtfsproto.TripUpdate_StopTimeUpdate_UNSCHEDULED {
			continue
		}

		stup, err := processStopTimeUpdate(stu)
		if err != nil {
			rt.Malformed = append(rt.Malformed, &EntityError{
				EntityID: entityID,
				Err:      fmt.Errorf("stop_time_update %d: %w", i, err),
			})
			continue
		}
		update.StopTimeUpdates = append(update.StopTimeUpdates, stup)
	}

	return update, nil
}

func processStopTimeUpdate(stu *gtfsproto.TripUpdate_StopTimeUpdate) (StopTimeUpdate, error) {
	stup := StopTimeUpdate{
		StopSequence: int(stu.GetStopSequence()),
	}

	if s := strings.TrimSpace(stu.GetStopId()); s != "" {
		stopID, err := strconv.Atoi(s)
		if err != nil {
			return StopTimeUpdate{}, fmt.Errorf("invalid stop_id '%s'", stu.GetStopId())
		}
		stup.StopID = &stopID
	}

	if stu.GetArrival() != nil {
		stup.ArrivalTime = stu.GetArrival().GetTime()
	}
	if stu.GetDeparture() != nil {
		stup.DepartureTime = stu.GetDeparture().GetTime()
	}
	if stup.ArrivalTime < 0 || stup.DepartureTime < 0 {
		return StopTimeUpdate{}, fmt.Errorf("negative time")
	}

	return stup, nil
}

func processVehicle(entityID string, v *gtfsproto.VehiclePosition, updateTrip *TripDescriptor) (*VehiclePosition, error) {
	pos := v.GetPosition()
	if pos == nil {
		return nil, fmt.Errorf("vehicle missing position")
	}

	vehicle := &VehiclePosition{
		EntityID:   entityID,
		UpdateTrip: updateTrip,
		Lat:        float64(pos.GetLatitude()),
		Lon:        float64(pos.GetLongitude()),
		Bearing:    pos.Bearing,
		Speed:      pos.Speed,
	}

	if v.GetTrip() != nil {
		trip, err := processTripDescriptor(v.GetTrip())
		if err != nil {
			return nil, err
		}
		vehicle.Trip = trip
	}

	return vehicle, nil
}

func processTripDescriptor(td *gtfsproto.TripDescriptor) (TripDescriptor, error) {
	trip := TripDescriptor{
		DirectionID: int8(td.GetDirectionId()),
		StartTime:   td.GetStartTime(),
	}

	if td.GetDirectionId() > 1 {
		return TripDescriptor{}, fmt.Errorf("invalid direction_id %d", td.GetDirectionId())
	}

	if s := strings.TrimSpace(td.GetTripId()); s != "" {
		id, err := strconv.Atoi(s)
		if err != nil {
			return TripDescriptor{}, fmt.Errorf("invalid trip_id '%s'", td.GetTripId())
		}
		trip.TripID = &id
	}

	if s := strings.TrimSpace(td.GetRouteId()); s != "" {
		id, err := strconv.Atoi(s)
		if err != nil {
			return TripDescriptor{}, fmt.Errorf("invalid route_id '%s'", td.GetRouteId())
		}
		trip.RouteID = &id
	}

	switch td.GetScheduleRelationship() {
	case gtfsproto.TripDescriptor_SCHEDULED:
		trip.Relationship = TripScheduled
	case gtfsproto.TripDescriptor_ADDED:
		trip.Relationship = TripAdded
	case gtfsproto.TripDescriptor_UNSCHEDULED:
		trip.Relationship = TripUnscheduled
	case gtfsproto.TripDescriptor_CANCELED:
		trip.Relationship = TripCanceled
	case gtfsproto.TripDescriptor_DUPLICATED:
		trip.Relationship = TripDuplicated
	default:
		trip.Relationship = TripScheduled
	}

	return trip, nil
}
