// Package predictor turns vehicle observations into per-stop predictions and keeps the prediction cache
// current with them.
package predictor

import (
	"context"
	"fmt"
	logger "log"
	"sort"
	"sync"
	"time"

	"github.com/OpenTransitTools/transitpredict/business/data/gtfs"
	"github.com/OpenTransitTools/transitpredict/business/estimator"
	"github.com/go-playground/validator/v10"
	"github.com/sourcegraph/conc/pool"
)

// TravelTimeEstimator estimates a leg's travel time, estimator.Chain is the usual implementation
type TravelTimeEstimator interface {
	TravelTimeForPath(ctx context.Context, leg *gtfs.Leg, obs *gtfs.VehicleObservation) estimator.Estimate
}

// DwellEstimator estimates how long a vehicle stays at a leg's destination, estimator.DwellChain is the usual
// implementation
type DwellEstimator interface {
	DwellTimeAtStop(ctx context.Context, leg *gtfs.Leg, obs *gtfs.VehicleObservation, arrival time.Time) estimator.DwellEstimate
}

// PredictionStore receives each vehicle's replaced predictions, predictioncache.Cache is the usual implementation
type PredictionStore interface {
	Update(oldPredictions []gtfs.Prediction, newPredictions []gtfs.Prediction)
}

// VehicleTracker is informed of each vehicle's progress, estimator.VehicleRegistry is the usual implementation
type VehicleTracker interface {
	Record(obs *gtfs.VehicleObservation)
	Remove(vehicleId string)
}

// Publisher sends out a vehicle's predictions once they are in the PredictionStore
type Publisher interface {
	PublishPredictions(vehicleId string, at time.Time, predictions []gtfs.Prediction) error
}

// Config tunes Generator
type Config struct {
	// MaxParallel bounds how many vehicles PredictAll estimates at once
	MaxParallel int `validate:"min=1"`
	// MaxHorizon drops predictions further than this after the observation, zero keeps all
	MaxHorizon time.Duration `validate:"gte=0"`
	// Location is the agency time zone schedule times are in
	Location *time.Location `validate:"required"`
}

// vehicleState holds the predictions last given for a vehicle. mu serializes updates for the vehicle.
type vehicleState struct {
	mu          sync.Mutex
	avlTime     time.Time
	predictions []gtfs.Prediction
	removed     bool
}

// Generator produces predictions for observed vehicles
type Generator struct {
	log        *logger.Logger
	cfg        Config
	estimator  TravelTimeEstimator
	dwell      DwellEstimator
	store      PredictionStore
	vehicles   VehicleTracker
	routeNames *gtfs.RouteNames
	publisher  Publisher

	mu        sync.Mutex
	byVehicle map[string]*vehicleState
}

// MakeGenerator validates cfg and builds Generator. dwell may be nil to use scheduled dwell times, routeNames
// supplies the route short name when an observation lacks one and publisher may be nil.
func MakeGenerator(log *logger.Logger,
	cfg Config,
	travelTimes TravelTimeEstimator,
	dwell DwellEstimator,
	store PredictionStore,
	vehicles VehicleTracker,
	routeNames *gtfs.RouteNames,
	publisher Publisher) (*Generator, error) {
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid predictor configuration: %w", err)
	}
	return &Generator{
		log:        log,
		cfg:        cfg,
		estimator:  travelTimes,
		dwell:      dwell,
		store:      store,
		vehicles:   vehicles,
		routeNames: routeNames,
		publisher:  publisher,
		byVehicle:  make(map[string]*vehicleState),
	}, nil
}

// stateFor returns the vehicleState for vehicleId, creating it if needed
func (g *Generator) stateFor(vehicleId string) *vehicleState {
	g.mu.Lock()
	defer g.mu.Unlock()
	state, present := g.byVehicle[vehicleId]
	if !present {
		state = &vehicleState{}
		g.byVehicle[vehicleId] = state
	}
	return state
}

// Predict generates obs's predictions and replaces the vehicle's previous ones with them.
// Observations older than the last one handled for the vehicle are ignored and return an error.
func (g *Generator) Predict(ctx context.Context, obs *gtfs.VehicleObservation) ([]gtfs.Prediction, error) {
	if len(obs.VehicleId) == 0 {
		return nil, fmt.Errorf("observation without vehicle id on trip %s", obs.TripId)
	}
	g.vehicles.Record(obs)
	predictions := g.generate(ctx, obs)

	for {
		state := g.stateFor(obs.VehicleId)
		state.mu.Lock()
		if state.removed {
			state.mu.Unlock()
			continue
		}
		if state.avlTime.After(obs.AvlTime) {
			last := state.avlTime
			state.mu.Unlock()
			return nil, fmt.Errorf("observation for vehicle %s at %s is older than %s", obs.VehicleId,
				obs.AvlTime.Format(time.RFC3339), last.Format(time.RFC3339))
		}
		g.store.Update(state.predictions, predictions)
		state.predictions = predictions
		state.avlTime = obs.AvlTime
		state.mu.Unlock()
		break
	}

	g.publish(obs.VehicleId, obs.AvlTime, predictions)
	return predictions, nil
}

// generate walks obs's legs accumulating estimated travel and dwell times from the AVL time. Only the untraveled
// part of the first leg is counted. Every leg produces an arrival at its destination. A wait stop also produces
// a departure no earlier than the scheduled one, and predictions after it are flagged as affected by it.
func (g *Generator) generate(ctx context.Context, obs *gtfs.VehicleObservation) []gtfs.Prediction {
	predictions := make([]gtfs.Prediction, 0, len(obs.Legs))
	serviceDay := g.serviceDay(obs)
	at := obs.AvlTime
	affectedByWaitStop := false

	for i := range obs.Legs {
		leg := &obs.Legs[i]
		estimate := g.estimator.TravelTimeForPath(ctx, leg, obs)
		if i == 0 {
			estimate.TravelTime = time.Duration(float64(estimate.TravelTime) * obs.RemainingFraction())
		}
		at = at.Add(estimate.TravelTime)
		if g.beyondHorizon(obs, at) {
			break
		}
		predictions = append(predictions, g.makePrediction(obs, leg, at, true, affectedByWaitStop, estimate))

		departure := at.Add(g.dwellTime(ctx, leg, obs, at))
		if leg.IsWaitStop {
			scheduled := gtfs.MakeScheduleTime(serviceDay, leg.ScheduledDepartureAtStop)
			if scheduled.After(departure) {
				departure = scheduled
			}
			if g.beyondHorizon(obs, departure) {
				break
			}
			affectedByWaitStop = true
			predictions = append(predictions, g.makePrediction(obs, leg, departure, false, affectedByWaitStop, estimate))
		}
		at = departure
	}
	return predictions
}

func (g *Generator) dwellTime(ctx context.Context, leg *gtfs.Leg, obs *gtfs.VehicleObservation, arrival time.Time) time.Duration {
	if g.dwell == nil {
		return leg.ScheduledDwellTime()
	}
	return g.dwell.DwellTimeAtStop(ctx, leg, obs, arrival).DwellTime
}

func (g *Generator) beyondHorizon(obs *gtfs.VehicleObservation, at time.Time) bool {
	return g.cfg.MaxHorizon > 0 && at.Sub(obs.AvlTime) > g.cfg.MaxHorizon
}

// serviceDay is 12am of obs's service date in the agency time zone
func (g *Generator) serviceDay(obs *gtfs.VehicleObservation) time.Time {
	return obs.ServiceDay(g.cfg.Location)
}

func (g *Generator) makePrediction(obs *gtfs.VehicleObservation,
	leg *gtfs.Leg,
	at time.Time,
	isArrival bool,
	affectedByWaitStop bool,
	estimate estimator.Estimate) gtfs.Prediction {
	source := gtfs.HistoricalPrediction
	if estimate.SchedBased {
		source = gtfs.SchedulePrediction
	}
	return gtfs.Prediction{
		VehicleId:          obs.VehicleId,
		StopId:             leg.ToStopId,
		RouteId:            obs.RouteId,
		RouteShortName:     g.routeShortName(obs),
		DirectionId:        obs.DirectionId,
		TripId:             leg.TripId,
		TripShortName:      obs.TripShortName,
		StopPathIndex:      leg.Indices.StopPathIndex,
		PredictedTime:      at,
		AvlTime:            obs.AvlTime,
		IsArrival:          isArrival,
		AffectedByWaitStop: affectedByWaitStop,
		SchedBased:         estimate.SchedBased,
		Algorithm:          estimate.Algorithm,
		Source:             source,
	}
}

func (g *Generator) routeShortName(obs *gtfs.VehicleObservation) string {
	if len(obs.RouteShortName) > 0 || g.routeNames == nil {
		return obs.RouteShortName
	}
	return g.routeNames.RouteName(obs.RouteId)
}

// RemoveVehicle removes every prediction of vehicleId, for vehicles leaving service
func (g *Generator) RemoveVehicle(vehicleId string, at time.Time) bool {
	g.mu.Lock()
	state, present := g.byVehicle[vehicleId]
	if present {
		delete(g.byVehicle, vehicleId)
	}
	g.mu.Unlock()
	g.vehicles.Remove(vehicleId)
	if !present {
		return false
	}

	state.mu.Lock()
	g.store.Update(state.predictions, nil)
	state.predictions = nil
	state.removed = true
	state.mu.Unlock()

	g.publish(vehicleId, at, []gtfs.Prediction{})
	return true
}

// RemoveVehiclesBefore removes vehicles whose last observation is older than "before", returns the ids removed
func (g *Generator) RemoveVehiclesBefore(before time.Time, at time.Time) []string {
	g.mu.Lock()
	stale := make([]string, 0)
	for vehicleId, state := range g.byVehicle {
		state.mu.Lock()
		if state.avlTime.Before(before) {
			stale = append(stale, vehicleId)
		}
		state.mu.Unlock()
	}
	g.mu.Unlock()

	sort.Strings(stale)
	for _, vehicleId := range stale {
		g.RemoveVehicle(vehicleId, at)
	}
	return stale
}

// VehicleCount is the number of vehicles currently predicted
func (g *Generator) VehicleCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.byVehicle)
}

func (g *Generator) publish(vehicleId string, at time.Time, predictions []gtfs.Prediction) {
	if g.publisher == nil {
		return
	}
	if err := g.publisher.PublishPredictions(vehicleId, at, predictions); err != nil {
		g.log.Printf("unable to publish predictions for vehicle %s: %v", vehicleId, err)
	}
}

// Result is the outcome of predicting one observation in PredictAll
type Result struct {
	VehicleId   string
	Predictions []gtfs.Prediction
	Err         error
}

type indexedResult struct {
	index  int
	result Result
}

// PredictAll runs Predict for every observation, at most Config.MaxParallel at once.
// Results are in the order of observations.
func (g *Generator) PredictAll(ctx context.Context, observations []*gtfs.VehicleObservation) []Result {
	p := pool.NewWithResults[indexedResult]().WithMaxGoroutines(g.cfg.MaxParallel)
	for i, obs := range observations {
		i, obs := i, obs
		p.Go(func() indexedResult {
			predictions, err := g.Predict(ctx, obs)
			return indexedResult{
				index:  i,
				result: Result{VehicleId: obs.VehicleId, Predictions: predictions, Err: err},
			}
		})
	}
	indexed := p.Wait()
	sort.Slice(indexed, func(i, j int) bool {
		return indexed[i].index < indexed[j].index
	})
	results := make([]Result, len(indexed))
	for i, r := range indexed {
		results[i] = r.result
	}
	return results
}
