package model

import (
	"fmt"
)

// Holds all external facing types and constants.

const (
	// Service ID given to trips allocated for realtime-only
	// (ADDED) trips.
	OffScheduleServiceID = -1

	// Headsign given to trips allocated for realtime-only trips.
	OffScheduleHeadsign = "Added trip"
)

type Route struct {
	ID        int    `json:"route_id"`
	ShortName string `json:"route_short_name"`
	LongName  string `json:"route_long_name"`
}

type Trip struct {
	ID          int    `json:"trip_id"`
	RouteID     int    `json:"route_id"`
	ServiceID   int    `json:"service_id"`
	DirectionID int8   `json:"direction_id"`
	Headsign    string `json:"trip_headsign"`
}

// A single point of a route's polyline. ShapeID shares the route_id
// namespace.
type Shape struct {
	ShapeID  int     `json:"shape_id"`
	Sequence int     `json:"shape_pt_sequence"`
	Lat      float64 `json:"shape_pt_lat"`
	Lon      float64 `json:"shape_pt_lon"`
}

type Stop struct {
	ID     int     `json:"stop_id"`
	Name   string  `json:"stop_name"`
	Lat    float64 `json:"stop_lat"`
	Lon    float64 `json:"stop_lon"`
	ZoneID int     `json:"zone_id"`
}

// Arrival and Departure are seconds since midnight in the feed's
// civil timezone. Zero means "not known".
type StopTime struct {
	TripID       int `json:"trip_id"`
	StopSequence int `json:"stop_sequence"`
	StopID       int `json:"stop_id"`
	Arrival      int `json:"arrival_time"`
	Departure    int `json:"departure_time"`
}

// Identifies a realtime-only trip.
type AddedTripKey struct {
	RouteID     int    `json:"route_id"`
	StartTime   string `json:"start_time"`
	DirectionID int8   `json:"direction_id"`
}

func (k AddedTripKey) String() string {
	return fmt.Sprintf("route=%d start=%s direction=%d", k.RouteID, k.StartTime, k.DirectionID)
}

type AddedTrip struct {
	AddedTripKey
	TripID int `json:"trip_id"`
}

// A vehicle's reported position. TripID is nil when the trip could
// not be resolved.
type VehiclePosition struct {
	TripID         *int     `json:"id"`
	RouteID        int      `json:"route_id"`
	RouteShortName string   `json:"route_short_name"`
	Lat            float64  `json:"lat"`
	Lon            float64  `json:"lon"`
	Bearing        *float32 `json:"bearing"`
	Speed          *float32 `json:"speed"`
}

// A vehicle arriving at a stop.
type Arrival struct {
	TripID         int    `json:"trip_id"`
	RouteID        int    `json:"route_id"`
	RouteShortName string `json:"route_short_name"`
	RouteLongName  string `json:"route_long_name"`
	Headsign       string `json:"headsign"`
	StopSequence   int    `json:"stop_sequence"`

	// Seconds since midnight, and minutes from the query time.
	ArrivalTime int `json:"arrival_time"`
	Minutes     int `json:"minutes"`
}

// A point on a route's path.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}
