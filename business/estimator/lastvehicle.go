package estimator

import (
	"context"
	"time"

	"github.com/OpenTransitTools/transitpredict/business/data/gtfs"
)

// LastVehicleName is the configuration name of LastVehicleEstimator
const LastVehicleName = "lastvehicle"

// LastVehicleEstimator uses the time the most recent other vehicle took on the leg today
type LastVehicleEstimator struct {
	history TravelTimeHistory
}

func MakeLastVehicleEstimator(history TravelTimeHistory) *LastVehicleEstimator {
	return &LastVehicleEstimator{history: history}
}

func (l *LastVehicleEstimator) Name() string {
	return LastVehicleName
}

func (l *LastVehicleEstimator) HasDataForPath(_ context.Context, leg *gtfs.Leg, obs *gtfs.VehicleObservation) bool {
	_, found := l.history.LastVehicleTravelTime(obs.VehicleId, leg, obs.AvlTime)
	return found
}

func (l *LastVehicleEstimator) TravelTimeForPath(_ context.Context,
	leg *gtfs.Leg,
	obs *gtfs.VehicleObservation) (time.Duration, error) {
	travelTime, found := l.history.LastVehicleTravelTime(obs.VehicleId, leg, obs.AvlTime)
	if !found {
		return 0, ErrNoCoverage
	}
	return travelTime.Duration(), nil
}
