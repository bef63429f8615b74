// Package estimator computes how long a vehicle will take to travel a leg of its trip. Estimators are
// interchangeable and are tried in a configured order by a Chain, the first one with data for a leg wins.
package estimator

import (
	"context"
	"errors"
	"time"

	"github.com/OpenTransitTools/transitpredict/business/data/gtfs"
	"github.com/OpenTransitTools/transitpredict/business/historical"
)

// ErrNoCoverage is returned by an estimator that has no data for a leg
var ErrNoCoverage = errors.New("estimator has no coverage for leg")

// Estimator produces leg travel times
type Estimator interface {
	// Name identifies the estimator in configuration and on predictions
	Name() string
	// HasDataForPath reports whether TravelTimeForPath is expected to produce a travel time for leg
	HasDataForPath(ctx context.Context, leg *gtfs.Leg, obs *gtfs.VehicleObservation) bool
	// TravelTimeForPath estimates the time obs's vehicle takes from leg.FromStopId to leg.ToStopId
	TravelTimeForPath(ctx context.Context, leg *gtfs.Leg, obs *gtfs.VehicleObservation) (time.Duration, error)
}

// TravelTimeHistory is the subset of historical.Library estimators rely on
type TravelTimeHistory interface {
	LastVehicleTravelTime(vehicleId string, leg *gtfs.Leg, at time.Time) (historical.TravelTime, bool)
	VehicleTravelTime(vehicleId string, leg *gtfs.Leg, at time.Time) (historical.TravelTime, bool)
	HistoricalTravelTimes(leg *gtfs.Leg, serviceDate time.Time, count int, lookbackDays int) []historical.TravelTime
	// ServiceDay places obs on its service day in the agency time zone
	ServiceDay(obs *gtfs.VehicleObservation) time.Time
}

// meanDuration averages the travel times in travelTimes
func meanDuration(travelTimes []historical.TravelTime) time.Duration {
	if len(travelTimes) == 0 {
		return 0
	}
	var total time.Duration
	for _, t := range travelTimes {
		total += t.Duration()
	}
	return total / time.Duration(len(travelTimes))
}
