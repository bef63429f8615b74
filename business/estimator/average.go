package estimator

import (
	"context"
	"fmt"
	"time"

	"github.com/OpenTransitTools/transitpredict/business/data/gtfs"
)

// AverageName is the configuration name of AverageEstimator
const AverageName = "average"

// AverageEstimator uses the mean travel time of the leg on recent days of the same service type
type AverageEstimator struct {
	history      TravelTimeHistory
	minDays      int
	maxDays      int
	lookbackDays int
}

// MakeAverageEstimator builds AverageEstimator. It has coverage when at least minDays of history are found,
// and averages at most maxDays.
func MakeAverageEstimator(history TravelTimeHistory, minDays int, maxDays int, lookbackDays int) (*AverageEstimator, error) {
	if minDays < 1 || maxDays < minDays || lookbackDays < 1 {
		return nil, fmt.Errorf("invalid average estimator days, min:%d max:%d lookback:%d",
			minDays, maxDays, lookbackDays)
	}
	return &AverageEstimator{
		history:      history,
		minDays:      minDays,
		maxDays:      maxDays,
		lookbackDays: lookbackDays,
	}, nil
}

func (a *AverageEstimator) Name() string {
	return AverageName
}

func (a *AverageEstimator) HasDataForPath(_ context.Context, leg *gtfs.Leg, obs *gtfs.VehicleObservation) bool {
	return len(a.history.HistoricalTravelTimes(leg, a.history.ServiceDay(obs), a.maxDays, a.lookbackDays)) >= a.minDays
}

func (a *AverageEstimator) TravelTimeForPath(_ context.Context,
	leg *gtfs.Leg,
	obs *gtfs.VehicleObservation) (time.Duration, error) {
	travelTimes := a.history.HistoricalTravelTimes(leg, a.history.ServiceDay(obs), a.maxDays, a.lookbackDays)
	if len(travelTimes) < a.minDays {
		return 0, ErrNoCoverage
	}
	return meanDuration(travelTimes), nil
}
