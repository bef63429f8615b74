package gtfs

import "time"

// Leg is the scheduled travel between two consecutive stops of a trip, ending at ToStopId.
type Leg struct {
	Indices       Indices `json:"indices"`
	RouteId       string  `json:"route_id"`
	DirectionId   string  `json:"direction_id"`
	TripId        string  `json:"trip_id"`
	TripStartTime int     `json:"trip_start_time"`
	FromStopId    string  `json:"from_stop_id"`
	ToStopId      string  `json:"to_stop_id"`
	// ScheduledDepartureSeconds is the scheduled departure from FromStopId in seconds after service day midnight
	ScheduledDepartureSeconds int `json:"scheduled_departure_seconds"`
	// ScheduledTravelSeconds is how long the schedule allows to travel from FromStopId to ToStopId
	ScheduledTravelSeconds int `json:"scheduled_travel_seconds"`
	// ScheduledDwellSeconds is how long the schedule has the vehicle stay at ToStopId
	ScheduledDwellSeconds int `json:"scheduled_dwell_seconds"`
	// IsWaitStop is true when vehicles hold at ToStopId until the scheduled departure
	IsWaitStop bool `json:"is_wait_stop"`
	// ScheduledDepartureAtStop is the scheduled departure from ToStopId in seconds after service day midnight,
	// only used for wait stops
	ScheduledDepartureAtStop int `json:"scheduled_departure_at_stop"`
}

// ScheduledTravelTime returns ScheduledTravelSeconds as a duration
func (l *Leg) ScheduledTravelTime() time.Duration {
	return time.Duration(l.ScheduledTravelSeconds) * time.Second
}

// ScheduledDwellTime returns ScheduledDwellSeconds as a duration
func (l *Leg) ScheduledDwellTime() time.Duration {
	return time.Duration(l.ScheduledDwellSeconds) * time.Second
}

// VehicleObservation is a vehicle's position on its assignment after spatial matching of a GPS report,
// along with the legs remaining in front of it.
type VehicleObservation struct {
	VehicleId      string    `json:"vehicle_id"`
	RouteId        string    `json:"route_id"`
	RouteShortName string    `json:"route_short_name"`
	DirectionId    string    `json:"direction_id"`
	TripId         string    `json:"trip_id"`
	TripShortName  string    `json:"trip_short_name"`
	BlockId        string    `json:"block_id"`
	TripStartTime  int       `json:"trip_start_time"`
	ServiceDate    time.Time `json:"service_date"`
	AvlTime        time.Time `json:"avl_time"`
	// FractionTraveled is how much of the first leg the vehicle has covered, from 0 at its start to 1 at its end
	FractionTraveled float64 `json:"fraction_traveled"`
	// StopsCompleted is how many stops of the route pattern the vehicle has passed in its direction
	StopsCompleted int `json:"stops_completed"`
	// Legs are the upcoming legs, the first holds the vehicle's current position
	Legs []Leg `json:"legs"`
}

// ServiceDay is 12am of the observation's service date in location. Without a service date the day the AVL
// time falls on in location is used. Service dates are dates, their own location is ignored.
func (o *VehicleObservation) ServiceDay(location *time.Location) time.Time {
	if o.ServiceDate.IsZero() {
		return Get12AmTime(o.AvlTime.In(location))
	}
	date := o.ServiceDate
	return time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, location)
}

// RemainingFraction is the part of the first leg still to be traveled, FractionTraveled clamped to [0, 1]
func (o *VehicleObservation) RemainingFraction() float64 {
	switch {
	case o.FractionTraveled <= 0:
		return 1
	case o.FractionTraveled >= 1:
		return 0
	}
	return 1 - o.FractionTraveled
}
