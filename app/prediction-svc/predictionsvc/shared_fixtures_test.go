package predictionsvc

import (
	"context"
	"io"
	logger "log"
	"sync"
	"time"

	"github.com/OpenTransitTools/transitpredict/business/data/gtfs"
	"github.com/OpenTransitTools/transitpredict/business/predictor"
)

var discardLog = logger.New(io.Discard, "", 0)

var testNoon = time.Date(2022, 5, 24, 12, 0, 0, 0, time.UTC)

// fakePredictionReader serves fixed predictions per key
type fakePredictionReader struct {
	max         int
	predictions map[gtfs.RouteStopKey][]gtfs.Prediction
	// limits records the limit of every Get
	limits []int
}

func (f *fakePredictionReader) Get(key gtfs.RouteStopKey, limit int) []gtfs.Prediction {
	f.limits = append(f.limits, limit)
	list := f.predictions[key]
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list
}

func (f *fakePredictionReader) MaxPredictionsPerStop() int {
	return f.max
}

// recordingDestination keeps published batches
type recordingDestination struct {
	mu      sync.Mutex
	batches []*PredictionBatch
	err     error
}

func (r *recordingDestination) Publish(batch *PredictionBatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, batch)
	return r.err
}

// fakeGenerator records observations and fails the vehicles in failing
type fakeGenerator struct {
	observations []*gtfs.VehicleObservation
	failing      map[string]bool
}

func (f *fakeGenerator) PredictAll(_ context.Context, observations []*gtfs.VehicleObservation) []predictor.Result {
	f.observations = append(f.observations, observations...)
	results := make([]predictor.Result, 0, len(observations))
	for _, obs := range observations {
		result := predictor.Result{VehicleId: obs.VehicleId}
		if f.failing[obs.VehicleId] {
			result.Err = context.DeadlineExceeded
		}
		results = append(results, result)
	}
	return results
}

type memoryHistory struct {
	events []gtfs.ArrivalDepartureEvent
}

func (m *memoryHistory) Add(event gtfs.ArrivalDepartureEvent) {
	m.events = append(m.events, event)
}

type memoryMatcher struct {
	events []*gtfs.ArrivalDepartureEvent
}

func (m *memoryMatcher) OnArrivalDeparture(_ context.Context, event *gtfs.ArrivalDepartureEvent) []*gtfs.PredictionAccuracy {
	m.events = append(m.events, event)
	return nil
}
