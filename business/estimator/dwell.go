package estimator

import (
	"context"
	"errors"
	"fmt"
	logger "log"
	"math"
	"time"

	"github.com/OpenTransitTools/transitpredict/business/data/gtfs"
	"github.com/OpenTransitTools/transitpredict/business/historical"
	"github.com/go-playground/validator/v10"
)

const (
	// HeadwayDwellName is the configuration name of HeadwayDwellEstimator
	HeadwayDwellName = "headway"
	// AverageDwellName is the configuration name of AverageDwellEstimator
	AverageDwellName = "averagedwell"
)

// DwellHistory is the subset of historical.Library dwell estimators rely on
type DwellHistory interface {
	RecentDwellTimes(stopId string, routeId string, directionId string, at time.Time, count int) []historical.DwellTime
	LastHeadway(stopId string, routeId string, at time.Time) (time.Duration, bool)
}

// DwellEstimator produces the time a vehicle stays at a leg's ToStopId
type DwellEstimator interface {
	Name() string
	// DwellTimeAtStop estimates how long obs's vehicle stays at leg.ToStopId after arriving at "arrival",
	// ErrNoCoverage when it has no data
	DwellTimeAtStop(ctx context.Context, leg *gtfs.Leg, obs *gtfs.VehicleObservation, arrival time.Time) (time.Duration, error)
}

// DwellConfig tunes the dwell estimators
type DwellConfig struct {
	// MinSamples of today's dwell times needed at a stop
	MinSamples int `validate:"min=1"`
	// MaxSamples used, most recent first
	MaxSamples int `validate:"gtefield=MinSamples"`
	// MaxDwell caps an estimate
	MaxDwell time.Duration `validate:"gt=0"`
}

// DefaultDwellConfig returns the standard tuning
func DefaultDwellConfig() DwellConfig {
	return DwellConfig{MinSamples: 2, MaxSamples: 5, MaxDwell: 5 * time.Minute}
}

func validateDwellConfig(cfg DwellConfig) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid dwell configuration: %w", err)
	}
	return nil
}

// HeadwayDwellEstimator scales the dwell time by the headway in front of the vehicle: riders gather at a stop
// while no vehicle serves it. The rate is today's total dwell at the stop over the total headway before those dwells.
type HeadwayDwellEstimator struct {
	cfg     DwellConfig
	history DwellHistory
}

// MakeHeadwayDwellEstimator validates cfg and builds HeadwayDwellEstimator
func MakeHeadwayDwellEstimator(cfg DwellConfig, history DwellHistory) (*HeadwayDwellEstimator, error) {
	if err := validateDwellConfig(cfg); err != nil {
		return nil, err
	}
	return &HeadwayDwellEstimator{cfg: cfg, history: history}, nil
}

func (h *HeadwayDwellEstimator) Name() string {
	return HeadwayDwellName
}

func (h *HeadwayDwellEstimator) DwellTimeAtStop(_ context.Context,
	leg *gtfs.Leg,
	obs *gtfs.VehicleObservation,
	arrival time.Time) (time.Duration, error) {
	var totalDwell, totalHeadway time.Duration
	samples := 0
	for _, d := range h.history.RecentDwellTimes(leg.ToStopId, leg.RouteId, leg.DirectionId, obs.AvlTime, h.cfg.MaxSamples) {
		if d.Headway <= 0 {
			continue
		}
		totalDwell += d.Duration()
		totalHeadway += d.Headway
		samples++
	}
	if samples < h.cfg.MinSamples {
		return 0, ErrNoCoverage
	}
	headway, found := h.history.LastHeadway(leg.ToStopId, leg.RouteId, arrival)
	if !found {
		return 0, ErrNoCoverage
	}
	seconds := headway.Seconds() * totalDwell.Seconds() / totalHeadway.Seconds()
	dwell := time.Duration(math.Round(seconds*1000)) * time.Millisecond
	if dwell > h.cfg.MaxDwell {
		dwell = h.cfg.MaxDwell
	}
	return dwell, nil
}

// AverageDwellEstimator uses the mean of today's dwell times at the stop
type AverageDwellEstimator struct {
	cfg     DwellConfig
	history DwellHistory
}

// MakeAverageDwellEstimator validates cfg and builds AverageDwellEstimator
func MakeAverageDwellEstimator(cfg DwellConfig, history DwellHistory) (*AverageDwellEstimator, error) {
	if err := validateDwellConfig(cfg); err != nil {
		return nil, err
	}
	return &AverageDwellEstimator{cfg: cfg, history: history}, nil
}

func (a *AverageDwellEstimator) Name() string {
	return AverageDwellName
}

func (a *AverageDwellEstimator) DwellTimeAtStop(_ context.Context,
	leg *gtfs.Leg,
	obs *gtfs.VehicleObservation,
	_ time.Time) (time.Duration, error) {
	dwells := a.history.RecentDwellTimes(leg.ToStopId, leg.RouteId, leg.DirectionId, obs.AvlTime, a.cfg.MaxSamples)
	if len(dwells) < a.cfg.MinSamples {
		return 0, ErrNoCoverage
	}
	var total time.Duration
	for _, d := range dwells {
		total += d.Duration()
	}
	dwell := total / time.Duration(len(dwells))
	if dwell > a.cfg.MaxDwell {
		dwell = a.cfg.MaxDwell
	}
	return dwell, nil
}

// DwellEstimate is a dwell time and the estimator that produced it
type DwellEstimate struct {
	DwellTime time.Duration
	Algorithm string
	// SchedBased is true when the dwell time came from the schedule
	SchedBased bool
}

// DwellChain tries dwell estimators in order, falling back to the scheduled dwell
type DwellChain struct {
	log        *logger.Logger
	estimators []DwellEstimator
}

// MakeDwellChain builds a DwellChain trying estimators in the order given
func MakeDwellChain(log *logger.Logger, estimators ...DwellEstimator) *DwellChain {
	return &DwellChain{log: log, estimators: estimators}
}

// Names lists the estimators in the order they are tried
func (c *DwellChain) Names() []string {
	names := make([]string, 0, len(c.estimators)+1)
	for _, e := range c.estimators {
		names = append(names, e.Name())
	}
	return append(names, ScheduleName)
}

// DwellTimeAtStop estimates the dwell at leg.ToStopId, it always produces a result
func (c *DwellChain) DwellTimeAtStop(ctx context.Context,
	leg *gtfs.Leg,
	obs *gtfs.VehicleObservation,
	arrival time.Time) DwellEstimate {
	for _, e := range c.estimators {
		if dwell, ok := c.try(ctx, e, leg, obs, arrival); ok {
			return DwellEstimate{DwellTime: dwell, Algorithm: e.Name()}
		}
	}
	return DwellEstimate{DwellTime: leg.ScheduledDwellTime(), Algorithm: ScheduleName, SchedBased: true}
}

func (c *DwellChain) try(ctx context.Context,
	e DwellEstimator,
	leg *gtfs.Leg,
	obs *gtfs.VehicleObservation,
	arrival time.Time) (dwell time.Duration, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Printf("dwell estimator %s panicked on vehicle %s stop %s: %v", e.Name(), obs.VehicleId,
				leg.ToStopId, r)
			dwell, ok = 0, false
		}
	}()
	dwell, err := e.DwellTimeAtStop(ctx, leg, obs, arrival)
	if err != nil {
		if !errors.Is(err, ErrNoCoverage) {
			c.log.Printf("dwell estimator %s failed on vehicle %s stop %s: %v", e.Name(), obs.VehicleId,
				leg.ToStopId, err)
		}
		return 0, false
	}
	if dwell < 0 {
		return 0, false
	}
	return dwell, true
}

// DwellRegistry holds the dwell estimators available to build chains from, by name
type DwellRegistry map[string]DwellEstimator

// Register adds e under its name
func (r DwellRegistry) Register(e DwellEstimator) {
	r[e.Name()] = e
}

// DwellChainFromNames builds a DwellChain trying the estimators in names in order. Naming the schedule ends the
// chain there. Unknown or repeated names are an error.
func DwellChainFromNames(log *logger.Logger, names []string, registry DwellRegistry) (*DwellChain, error) {
	estimators := make([]DwellEstimator, 0, len(names))
	seen := make(map[string]bool)
	ended := false
	for _, name := range names {
		if seen[name] {
			return nil, fmt.Errorf("dwell estimator %q listed more than once", name)
		}
		seen[name] = true
		if name == ScheduleName {
			ended = true
			continue
		}
		e, present := registry[name]
		if !present {
			return nil, fmt.Errorf("unknown dwell estimator %q", name)
		}
		if !ended {
			estimators = append(estimators, e)
		}
	}
	return MakeDwellChain(log, estimators...), nil
}
