package estimator

import (
	"context"
	"errors"
	"io"
	logger "log"
	"time"

	"github.com/OpenTransitTools/transitpredict/business/data/gtfs"
	"github.com/OpenTransitTools/transitpredict/business/errorstore"
	"github.com/OpenTransitTools/transitpredict/business/historical"
)

var discardLog = logger.New(io.Discard, "", 0)

var testNoon = time.Date(2022, 5, 24, 12, 0, 0, 0, time.UTC)

var testLeg = gtfs.Leg{
	Indices:                   gtfs.Indices{BlockId: "b1", TripIndex: 0, StopPathIndex: 2, SegmentIndex: 0},
	RouteId:                   "100",
	DirectionId:               "0",
	TripId:                    "t1",
	TripStartTime:             43200,
	FromStopId:                "A",
	ToStopId:                  "B",
	ScheduledDepartureSeconds: 43500,
	ScheduledTravelSeconds:    300,
}

func testObservation(vehicleId string, stopsCompleted int) *gtfs.VehicleObservation {
	return &gtfs.VehicleObservation{
		VehicleId:      vehicleId,
		RouteId:        "100",
		DirectionId:    "0",
		TripId:         "t-" + vehicleId,
		AvlTime:        testNoon,
		StopsCompleted: stopsCompleted,
	}
}

func travelTime(vehicleId string, seconds int) historical.TravelTime {
	departure := gtfs.ArrivalDepartureEvent{VehicleId: vehicleId, EventTime: testNoon.Add(-time.Hour)}
	arrival := departure
	arrival.IsArrival = true
	arrival.EventTime = departure.EventTime.Add(time.Duration(seconds) * time.Second)
	return historical.TravelTime{Departure: departure, Arrival: arrival}
}

// fakeHistory answers from fixed data
type fakeHistory struct {
	lastVehicle    map[string]historical.TravelTime
	byVehicle      map[string]historical.TravelTime
	historicalDays []int
}

func (f *fakeHistory) LastVehicleTravelTime(vehicleId string, _ *gtfs.Leg, _ time.Time) (historical.TravelTime, bool) {
	for id, t := range f.lastVehicle {
		if id != vehicleId {
			return t, true
		}
	}
	return historical.TravelTime{}, false
}

func (f *fakeHistory) VehicleTravelTime(vehicleId string, _ *gtfs.Leg, _ time.Time) (historical.TravelTime, bool) {
	t, found := f.byVehicle[vehicleId]
	return t, found
}

func (f *fakeHistory) HistoricalTravelTimes(_ *gtfs.Leg, _ time.Time, count int, _ int) []historical.TravelTime {
	results := make([]historical.TravelTime, 0)
	for _, seconds := range f.historicalDays {
		if len(results) == count {
			break
		}
		results = append(results, travelTime("past", seconds))
	}
	return results
}

func (f *fakeHistory) ServiceDay(obs *gtfs.VehicleObservation) time.Time {
	return obs.ServiceDay(time.UTC)
}

// failingStore fails every call
type failingStore struct{}

var errStoreDown = errors.New("store down")

func (failingStore) Get(context.Context, errorstore.Key) (errorstore.FilterError, bool, error) {
	return errorstore.FilterError{}, false, errStoreDown
}

func (failingStore) Put(context.Context, errorstore.Key, errorstore.FilterError) error {
	return errStoreDown
}

// fixedEstimator has coverage when covered is set and returns travelTime or err
type fixedEstimator struct {
	name       string
	covered    bool
	travelTime time.Duration
	err        error
	panics     bool
}

func (f *fixedEstimator) Name() string {
	return f.name
}

func (f *fixedEstimator) HasDataForPath(context.Context, *gtfs.Leg, *gtfs.VehicleObservation) bool {
	if f.panics {
		panic("broken estimator")
	}
	return f.covered
}

func (f *fixedEstimator) TravelTimeForPath(context.Context, *gtfs.Leg, *gtfs.VehicleObservation) (time.Duration, error) {
	return f.travelTime, f.err
}
