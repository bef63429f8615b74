package estimator

import (
	"context"
	"time"

	"github.com/OpenTransitTools/transitpredict/business/data/gtfs"
)

// ScheduleName is the configuration name of ScheduleEstimator
const ScheduleName = "schedule"

// ScheduleEstimator uses the travel time the schedule allows, it always has coverage
type ScheduleEstimator struct{}

func (ScheduleEstimator) Name() string {
	return ScheduleName
}

func (ScheduleEstimator) HasDataForPath(context.Context, *gtfs.Leg, *gtfs.VehicleObservation) bool {
	return true
}

func (ScheduleEstimator) TravelTimeForPath(_ context.Context,
	leg *gtfs.Leg,
	_ *gtfs.VehicleObservation) (time.Duration, error) {
	return leg.ScheduledTravelTime(), nil
}
