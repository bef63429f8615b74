// Package accuracy measures how well predictions turn out. It periodically samples predictions from the
// prediction cache, matches the samples to the arrivals and departures that follow, and records the difference.
package accuracy

import (
	"context"
	"fmt"
	logger "log"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/OpenTransitTools/transitpredict/business/data/gtfs"
	"github.com/OpenTransitTools/transitpredict/foundation/periodic"
	"github.com/OpenTransitTools/transitpredict/foundation/timesource"
	"github.com/go-playground/validator/v10"
)

// Config tunes Tracker
type Config struct {
	// PollInterval is how often predictions are sampled and stale samples expired
	PollInterval time.Duration `validate:"gt=0"`
	// MaxHorizon predictions further in the future than this are not sampled
	MaxHorizon time.Duration `validate:"gt=0"`
	// MaxStaleness samples whose predicted time is this far in the past are expired unmatched
	MaxStaleness time.Duration `validate:"gt=0"`
	// StopsPerTrip is how many stops of each trip pattern are sampled per poll
	StopsPerTrip int `validate:"min=1"`
	// MaxRandomSelections bounds the attempts to pick StopsPerTrip distinct stops of a pattern
	MaxRandomSelections int `validate:"gtefield=StopsPerTrip"`
	// MaxEarly and MaxLate bound how far an event may be from a sample's predicted time to match it
	MaxEarly time.Duration `validate:"gte=0"`
	MaxLate  time.Duration `validate:"gte=0"`
}

// DefaultConfig returns the standard tuning
func DefaultConfig() Config {
	return Config{
		PollInterval:        4 * time.Minute,
		MaxHorizon:          15 * time.Minute,
		MaxStaleness:        15 * time.Minute,
		StopsPerTrip:        5,
		MaxRandomSelections: 100,
		MaxEarly:            15 * time.Minute,
		MaxLate:             25 * time.Minute,
	}
}

// PredictionSource reads the predictions currently offered for a route and stop
type PredictionSource interface {
	Predictions(ctx context.Context, key gtfs.RouteStopKey) ([]gtfs.Prediction, error)
}

// TripPatternSource lists the trip patterns in service
type TripPatternSource interface {
	TripPatterns(ctx context.Context) ([]*gtfs.TripPattern, error)
}

// Recorder stores scored samples
type Recorder interface {
	Record(ctx context.Context, records []*gtfs.PredictionAccuracy) error
}

// sampleKey groups samples the way events find them
type sampleKey struct {
	vehicleId   string
	directionId string
	stopId      string
}

// sample is a prediction as it was read at readTime
type sample struct {
	prediction gtfs.Prediction
	readTime   time.Time
}

// slot is a route, direction and stop to sample predictions for
type slot struct {
	routeName   string
	directionId string
	stopId      string
}

// Tracker samples predictions and scores them against events. Its methods are safe for concurrent use.
type Tracker struct {
	log         *logger.Logger
	cfg         Config
	predictions PredictionSource
	patterns    TripPatternSource
	recorder    Recorder
	clock       timesource.Source

	pollMu sync.Mutex
	random *rand.Rand

	mu      sync.Mutex
	samples map[sampleKey][]sample
	stats   *statistics

	task *periodic.Task
}

// MakeTracker validates cfg and builds Tracker. seed drives the stop selection for trips with more stops than
// Config.StopsPerTrip.
func MakeTracker(log *logger.Logger,
	cfg Config,
	predictions PredictionSource,
	patterns TripPatternSource,
	recorder Recorder,
	clock timesource.Source,
	seed int64) (*Tracker, error) {
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid accuracy configuration: %w", err)
	}
	return &Tracker{
		log:         log,
		cfg:         cfg,
		predictions: predictions,
		patterns:    patterns,
		recorder:    recorder,
		clock:       clock,
		random:      rand.New(rand.NewSource(seed)),
		samples:     make(map[sampleKey][]sample),
		stats:       makeStatistics(),
	}, nil
}

// PollAndSample reads the predictions for a selection of stops of every trip pattern and stores them as samples.
// A stop whose predictions can't be read is skipped. Returns the number of samples stored.
func (t *Tracker) PollAndSample(ctx context.Context) (int, error) {
	patterns, err := t.patterns.TripPatterns(ctx)
	if err != nil {
		return 0, fmt.Errorf("unable to load trip patterns for accuracy sampling: %w", err)
	}

	t.pollMu.Lock()
	slots := t.selectSlots(patterns)
	t.pollMu.Unlock()

	stored := 0
	for _, s := range slots {
		predictions, err := t.predictions.Predictions(ctx, gtfs.RouteStopKey{RouteName: s.routeName, StopId: s.stopId})
		if err != nil {
			t.log.Printf("skipping accuracy sample for route %s stop %s: %v", s.routeName, s.stopId, err)
			continue
		}
		now := t.clock.Now()
		for _, p := range predictions {
			if p.DirectionId != s.directionId {
				continue
			}
			if t.store(p, now) {
				stored++
			}
		}
	}
	return stored, nil
}

// selectSlots picks the stops to sample, every stop of a pattern with no more than StopsPerTrip stops and
// a random selection otherwise. Slots shared by several patterns are sampled once.
func (t *Tracker) selectSlots(patterns []*gtfs.TripPattern) []slot {
	selected := make(map[slot]bool)
	for _, pattern := range patterns {
		for _, stopId := range t.selectStops(pattern.StopIds) {
			selected[slot{routeName: pattern.RouteName(), directionId: pattern.DirectionId, stopId: stopId}] = true
		}
	}
	slots := make([]slot, 0, len(selected))
	for s := range selected {
		slots = append(slots, s)
	}
	sort.Slice(slots, func(i, j int) bool {
		if slots[i].routeName != slots[j].routeName {
			return slots[i].routeName < slots[j].routeName
		}
		if slots[i].directionId != slots[j].directionId {
			return slots[i].directionId < slots[j].directionId
		}
		return slots[i].stopId < slots[j].stopId
	})
	return slots
}

func (t *Tracker) selectStops(stopIds []string) []string {
	if len(stopIds) <= t.cfg.StopsPerTrip {
		return stopIds
	}
	chosen := make(map[int]bool)
	for attempt := 0; attempt < t.cfg.MaxRandomSelections && len(chosen) < t.cfg.StopsPerTrip; attempt++ {
		chosen[t.random.Intn(len(stopIds))] = true
	}
	results := make([]string, 0, len(chosen))
	for i := range stopIds {
		if chosen[i] {
			results = append(results, stopIds[i])
		}
	}
	return results
}

// store keeps p as a sample unless it is further in the future than the horizon
func (t *Tracker) store(p gtfs.Prediction, readTime time.Time) bool {
	if p.PredictedTime.Sub(readTime) > t.cfg.MaxHorizon {
		return false
	}
	key := sampleKey{vehicleId: p.VehicleId, directionId: p.DirectionId, stopId: p.StopId}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.samples[key] = append(t.samples[key], sample{prediction: p, readTime: readTime})
	t.stats.sampled++
	return true
}

// matches reports whether event satisfies s: same kind of event, same trip by id or short name, and within
// the early and late tolerance of the predicted time
func (t *Tracker) matches(s sample, event *gtfs.ArrivalDepartureEvent) bool {
	p := s.prediction
	if p.IsArrival != event.IsArrival {
		return false
	}
	if p.TripId != event.TripId && (len(event.TripShortName) == 0 || p.TripId != event.TripShortName) {
		return false
	}
	lateness := event.EventTime.Sub(p.PredictedTime)
	return lateness <= t.cfg.MaxLate && lateness >= -t.cfg.MaxEarly
}

// OnArrivalDeparture scores and removes the samples event satisfies, others for the same vehicle and stop are
// kept for a later event. Returns the records produced.
func (t *Tracker) OnArrivalDeparture(ctx context.Context, event *gtfs.ArrivalDepartureEvent) []*gtfs.PredictionAccuracy {
	key := sampleKey{vehicleId: event.VehicleId, directionId: event.DirectionId, stopId: event.StopId}
	records := make([]*gtfs.PredictionAccuracy, 0)

	t.mu.Lock()
	candidates := t.samples[key]
	remaining := make([]sample, 0, len(candidates))
	for _, s := range candidates {
		if !t.matches(s, event) {
			remaining = append(remaining, s)
			continue
		}
		actual := event.EventTime
		record := makeRecord(s, &actual)
		t.stats.add(record)
		records = append(records, record)
	}
	if len(remaining) == 0 {
		delete(t.samples, key)
	} else {
		t.samples[key] = remaining
	}
	t.mu.Unlock()

	t.record(ctx, records)
	return records
}

// ExpireStale scores and removes, with no actual time, the samples predicted further in the past than MaxStaleness
func (t *Tracker) ExpireStale(ctx context.Context) []*gtfs.PredictionAccuracy {
	cutoff := t.clock.Now().Add(-t.cfg.MaxStaleness)
	records := make([]*gtfs.PredictionAccuracy, 0)

	t.mu.Lock()
	for key, samples := range t.samples {
		remaining := make([]sample, 0, len(samples))
		for _, s := range samples {
			if !s.prediction.PredictedTime.Before(cutoff) {
				remaining = append(remaining, s)
				continue
			}
			record := makeRecord(s, nil)
			t.stats.add(record)
			records = append(records, record)
		}
		if len(remaining) == 0 {
			delete(t.samples, key)
		} else {
			t.samples[key] = remaining
		}
	}
	t.mu.Unlock()

	t.record(ctx, records)
	return records
}

func (t *Tracker) record(ctx context.Context, records []*gtfs.PredictionAccuracy) {
	if len(records) == 0 || t.recorder == nil {
		return
	}
	if err := t.recorder.Record(ctx, records); err != nil {
		t.log.Printf("unable to record %d prediction accuracy records: %v", len(records), err)
	}
}

// Pending is the number of samples waiting for an event
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	pending := 0
	for _, samples := range t.samples {
		pending += len(samples)
	}
	return pending
}

func makeRecord(s sample, actual *time.Time) *gtfs.PredictionAccuracy {
	p := s.prediction
	record := &gtfs.PredictionAccuracy{
		RouteId:            p.RouteId,
		RouteShortName:     p.RouteShortName,
		DirectionId:        p.DirectionId,
		StopId:             p.StopId,
		TripId:             p.TripId,
		VehicleId:          p.VehicleId,
		IsArrival:          p.IsArrival,
		PredictedTime:      p.PredictedTime,
		PredictionReadTime: s.readTime,
		ActualTime:         actual,
		AffectedByWaitStop: p.AffectedByWaitStop,
		Source:             sourceName(p.Source),
		Algorithm:          p.Algorithm,
		LeadSeconds:        int(p.PredictedTime.Sub(s.readTime).Seconds()),
	}
	if actual != nil {
		accuracy := actual.Sub(p.PredictedTime).Milliseconds()
		record.AccuracyMillis = &accuracy
	}
	return record
}

func sourceName(source gtfs.PredictionSource) string {
	switch source {
	case gtfs.SchedulePrediction:
		return "schedule"
	case gtfs.HistoricalPrediction:
		return "historical"
	}
	return "undefined"
}

// Start begins polling and expiring on Config.PollInterval. Each cycle is bounded by the interval.
func (t *Tracker) Start(wg *sync.WaitGroup) {
	t.task = periodic.MakeTask(t.log, "prediction accuracy sampling", t.cfg.PollInterval, t.cycle)
	t.task.Start(wg)
}

// Stop ends polling after any in-flight cycle finishes
func (t *Tracker) Stop() {
	if t.task != nil {
		t.task.Stop()
	}
}

func (t *Tracker) cycle() {
	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.PollInterval)
	defer cancel()
	stored, err := t.PollAndSample(ctx)
	if err != nil {
		t.log.Printf("accuracy sampling failed: %v", err)
	}
	expired := t.ExpireStale(ctx)
	t.log.Printf("accuracy cycle stored %d samples, expired %d, %d pending", stored, len(expired), t.Pending())
}
