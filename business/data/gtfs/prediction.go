package gtfs

import "time"

// PredictionSource identifies what produced a Prediction
type PredictionSource int32

const (
	Undefined PredictionSource = iota
	// SchedulePrediction the prediction followed the schedule only
	SchedulePrediction
	// HistoricalPrediction the prediction used observed travel times
	HistoricalPrediction
)

// RouteStopKey identifies the predictions riders look up for a stop on a route.
// RouteName is the rider facing route name (the route's short name), not the schedule's route id.
type RouteStopKey struct {
	RouteName string `json:"route_name"`
	StopId    string `json:"stop_id"`
}

// Prediction is a single predicted arrival or departure of a vehicle at a stop.
// Predictions are values, an update for a vehicle replaces its previous Predictions.
type Prediction struct {
	VehicleId          string           `json:"vehicle_id"`
	StopId             string           `json:"stop_id"`
	RouteId            string           `json:"route_id"`
	RouteShortName     string           `json:"route_short_name"`
	DirectionId        string           `json:"direction_id"`
	TripId             string           `json:"trip_id"`
	TripShortName      string           `json:"trip_short_name"`
	StopPathIndex      int              `json:"stop_path_index"`
	PredictedTime      time.Time        `json:"predicted_time"`
	AvlTime            time.Time        `json:"avl_time"`
	IsArrival          bool             `json:"is_arrival"`
	AffectedByWaitStop bool             `json:"affected_by_wait_stop"`
	SchedBased         bool             `json:"sched_based"`
	Algorithm          string           `json:"algorithm"`
	Source             PredictionSource `json:"source"`
}

// Key returns the RouteStopKey the Prediction is stored under.
// Falls back to RouteId when the route has no short name.
func (p *Prediction) Key() RouteStopKey {
	routeName := p.RouteShortName
	if routeName == "" {
		routeName = p.RouteId
	}
	return RouteStopKey{RouteName: routeName, StopId: p.StopId}
}

// Expired returns true if the predicted time is before "at"
func (p *Prediction) Expired(at time.Time) bool {
	return p.PredictedTime.Before(at)
}
