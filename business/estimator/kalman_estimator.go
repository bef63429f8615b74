package estimator

import (
	"context"
	"fmt"
	logger "log"
	"math"
	"time"

	"github.com/OpenTransitTools/transitpredict/business/data/gtfs"
	"github.com/OpenTransitTools/transitpredict/business/errorstore"
	"github.com/OpenTransitTools/transitpredict/foundation/timesource"
	"github.com/go-playground/validator/v10"
)

// KalmanName is the configuration name of KalmanEstimator
const KalmanName = "kalman"

// KalmanConfig tunes KalmanEstimator
type KalmanConfig struct {
	// MinDays of history needed before the filter is used
	MinDays int `validate:"min=1"`
	// MaxDays of history fed to the filter
	MaxDays int `validate:"gtefield=MinDays"`
	// MaxLookbackDays bounds how far back history is searched
	MaxLookbackDays int `validate:"min=1"`
	// InitialError seeds the filter on a leg with no carried error
	InitialError float64 `validate:"gte=0"`
	// ClosestVehicleStopsAhead the vehicle ahead must have completed more than this many stops beyond the subject
	ClosestVehicleStopsAhead int `validate:"gte=0"`
	// ErrorBucketSeconds is the width of the scheduled time buckets filter errors are kept in
	ErrorBucketSeconds int `validate:"min=1"`
}

// DefaultKalmanConfig returns the standard tuning
func DefaultKalmanConfig() KalmanConfig {
	return KalmanConfig{
		MinDays:                  3,
		MaxDays:                  3,
		MaxLookbackDays:          21,
		InitialError:             100,
		ClosestVehicleStopsAhead: 0,
		ErrorBucketSeconds:       900,
	}
}

// KalmanEstimator blends recent days' travel times on a leg with the time the vehicle ahead just took on it
type KalmanEstimator struct {
	log      *logger.Logger
	cfg      KalmanConfig
	history  TravelTimeHistory
	vehicles VehicleLocator
	errors   errorstore.Store
	clock    timesource.Source
}

// MakeKalmanEstimator validates cfg and builds KalmanEstimator
func MakeKalmanEstimator(log *logger.Logger,
	cfg KalmanConfig,
	history TravelTimeHistory,
	vehicles VehicleLocator,
	errorStore errorstore.Store,
	clock timesource.Source) (*KalmanEstimator, error) {
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid kalman configuration: %w", err)
	}
	return &KalmanEstimator{
		log:      log,
		cfg:      cfg,
		history:  history,
		vehicles: vehicles,
		errors:   errorStore,
		clock:    clock,
	}, nil
}

func (k *KalmanEstimator) Name() string {
	return KalmanName
}

// kalmanInputs are the measurements a filter update runs on, in seconds
type kalmanInputs struct {
	lastVehicleSeconds float64
	historicalSeconds  []float64
}

// inputs gathers the measurements for leg or reports false when the filter can't run: there is no vehicle ahead
// of obs's vehicle, the vehicle ahead has no travel time on leg today or too few days of history exist
func (k *KalmanEstimator) inputs(leg *gtfs.Leg, obs *gtfs.VehicleObservation) (kalmanInputs, bool) {
	ahead, found := closestVehicleAhead(k.vehicles.VehiclesOnRoute(obs.RouteId), obs, k.cfg.ClosestVehicleStopsAhead)
	if !found {
		return kalmanInputs{}, false
	}
	last, found := k.history.VehicleTravelTime(ahead.VehicleId, leg, obs.AvlTime)
	if !found {
		return kalmanInputs{}, false
	}
	travelTimes := k.history.HistoricalTravelTimes(leg, k.history.ServiceDay(obs), k.cfg.MaxDays, k.cfg.MaxLookbackDays)
	if len(travelTimes) < k.cfg.MinDays {
		return kalmanInputs{}, false
	}
	historicalSeconds := make([]float64, len(travelTimes))
	for i, t := range travelTimes {
		historicalSeconds[i] = t.Duration().Seconds()
	}
	return kalmanInputs{
		lastVehicleSeconds: last.Duration().Seconds(),
		historicalSeconds:  historicalSeconds,
	}, true
}

func (k *KalmanEstimator) HasDataForPath(_ context.Context, leg *gtfs.Leg, obs *gtfs.VehicleObservation) bool {
	_, ok := k.inputs(leg, obs)
	return ok
}

// TravelTimeForPath runs one filter update for leg and stores the resulting error for the next one.
// Failures reaching the error store are returned wrapped, the Chain treats them as no coverage.
func (k *KalmanEstimator) TravelTimeForPath(ctx context.Context,
	leg *gtfs.Leg,
	obs *gtfs.VehicleObservation) (time.Duration, error) {
	in, ok := k.inputs(leg, obs)
	if !ok {
		return 0, ErrNoCoverage
	}

	key := errorstore.MakeKey(leg, k.cfg.ErrorBucketSeconds)
	lastError := k.cfg.InitialError
	carried, found, err := k.errors.Get(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("reading filter error %s: %w", key, err)
	}
	if found {
		lastError = carried.Value
	}

	result := kalmanUpdate(in.lastVehicleSeconds, in.historicalSeconds, lastError)
	if math.IsNaN(result.estimate) || result.estimate < 0 {
		return 0, fmt.Errorf("filter produced unusable estimate %f for %s", result.estimate, key)
	}

	err = k.errors.Put(ctx, key, errorstore.FilterError{Value: result.filterError, Timestamp: k.clock.Now()})
	if err != nil {
		return 0, fmt.Errorf("storing filter error %s: %w", key, err)
	}
	return time.Duration(result.estimate * float64(time.Second)), nil
}
