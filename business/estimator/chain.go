package estimator

import (
	"context"
	"errors"
	"fmt"
	logger "log"
	"strings"
	"time"

	"github.com/OpenTransitTools/transitpredict/business/data/gtfs"
)

// Estimate is a leg travel time and the estimator that produced it
type Estimate struct {
	TravelTime time.Duration
	Algorithm  string
	// SchedBased is true when the travel time came from the schedule
	SchedBased bool
}

// Chain tries estimators in order, the first with data for a leg produces its travel time.
// When none has data the fallback estimator, normally the schedule, is used.
type Chain struct {
	log        *logger.Logger
	estimators []Estimator
	fallback   Estimator
}

// MakeChain builds a Chain trying estimators in the order given, falling back to ScheduleEstimator
func MakeChain(log *logger.Logger, estimators ...Estimator) *Chain {
	return &Chain{
		log:        log,
		estimators: estimators,
		fallback:   ScheduleEstimator{},
	}
}

// Names lists the estimators in the order they are tried
func (c *Chain) Names() []string {
	names := make([]string, 0, len(c.estimators)+1)
	for _, e := range c.estimators {
		names = append(names, e.Name())
	}
	return append(names, c.fallback.Name())
}

// TravelTimeForPath estimates leg's travel time for obs's vehicle, it always produces a result
func (c *Chain) TravelTimeForPath(ctx context.Context, leg *gtfs.Leg, obs *gtfs.VehicleObservation) Estimate {
	for _, e := range c.estimators {
		if travelTime, ok := c.try(ctx, e, leg, obs); ok {
			return Estimate{TravelTime: travelTime, Algorithm: e.Name(), SchedBased: e.Name() == ScheduleName}
		}
	}
	travelTime, ok := c.try(ctx, c.fallback, leg, obs)
	if !ok {
		travelTime = leg.ScheduledTravelTime()
	}
	return Estimate{TravelTime: travelTime, Algorithm: c.fallback.Name(), SchedBased: true}
}

// try asks e for leg's travel time, converting failures and panics into no coverage
func (c *Chain) try(ctx context.Context,
	e Estimator,
	leg *gtfs.Leg,
	obs *gtfs.VehicleObservation) (travelTime time.Duration, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Printf("estimator %s panicked on vehicle %s leg %s: %v", e.Name(), obs.VehicleId,
				leg.Indices.String(), r)
			travelTime, ok = 0, false
		}
	}()

	if !e.HasDataForPath(ctx, leg, obs) {
		return 0, false
	}
	travelTime, err := e.TravelTimeForPath(ctx, leg, obs)
	if err != nil {
		if !errors.Is(err, ErrNoCoverage) {
			c.log.Printf("estimator %s failed on vehicle %s leg %s: %v", e.Name(), obs.VehicleId,
				leg.Indices.String(), err)
		}
		return 0, false
	}
	if travelTime < 0 {
		c.log.Printf("estimator %s produced negative travel time %v on vehicle %s leg %s", e.Name(), travelTime,
			obs.VehicleId, leg.Indices.String())
		return 0, false
	}
	return travelTime, true
}

// Registry holds the estimators available to build chains from, by name
type Registry map[string]Estimator

// Register adds e under its name
func (r Registry) Register(e Estimator) {
	r[e.Name()] = e
}

// ParseChainOrder splits a comma separated list of estimator names, ignoring blanks
func ParseChainOrder(order string) []string {
	names := make([]string, 0)
	for _, name := range strings.Split(order, ",") {
		name = strings.ToLower(strings.TrimSpace(name))
		if len(name) > 0 {
			names = append(names, name)
		}
	}
	return names
}

// ChainFromNames builds a Chain trying the estimators in names in order. Naming the schedule estimator is optional,
// it ends the chain wherever it is listed since it always has coverage. Unknown or repeated names are an error.
func ChainFromNames(log *logger.Logger, names []string, registry Registry) (*Chain, error) {
	estimators := make([]Estimator, 0, len(names))
	seen := make(map[string]bool)
	for _, name := range names {
		if seen[name] {
			return nil, fmt.Errorf("estimator %q listed more than once", name)
		}
		seen[name] = true
		e, present := registry[name]
		if !present && name == ScheduleName {
			e, present = ScheduleEstimator{}, true
		}
		if !present {
			return nil, fmt.Errorf("unknown estimator %q", name)
		}
		estimators = append(estimators, e)
	}
	return MakeChain(log, estimators...), nil
}
