package estimator

import (
	"context"
	"testing"
	"time"

	"github.com/OpenTransitTools/transitpredict/business/arrivalstore"
	"github.com/OpenTransitTools/transitpredict/business/data/gtfs"
	"github.com/OpenTransitTools/transitpredict/business/historical"
	"github.com/matryer/is"
)

// TestAverageEstimator_serviceDayInAgencyZone checks an evening report sent in UTC, already the next day there,
// still finds the agency's weekday history
func TestAverageEstimator_serviceDayInAgencyZone(t *testing.T) {
	is := is.New(t)
	location, err := time.LoadLocation("America/Los_Angeles")
	is.NoErr(err)

	store := arrivalstore.MakeStore(discardLog, location, 30*24*time.Hour)
	lastFriday := time.Date(2022, 5, 20, 17, 20, 0, 0, location)
	for _, event := range []gtfs.ArrivalDepartureEvent{
		{VehicleId: "v9", TripId: "t1", RouteId: "100", DirectionId: "0", StopId: "A", StopPathIndex: 1,
			EventTime: lastFriday, TripStartTime: 43200},
		{VehicleId: "v9", TripId: "t1", RouteId: "100", DirectionId: "0", StopId: "B", StopPathIndex: 2,
			IsArrival: true, EventTime: lastFriday.Add(4 * time.Minute), TripStartTime: 43200},
	} {
		store.Add(event)
	}
	library := historical.MakeLibrary(discardLog, store, gtfs.MakeServiceDayClassifier(), nil, location)
	average, err := MakeAverageEstimator(library, 1, 3, 7)
	is.NoErr(err)

	fridayEvening := time.Date(2022, 5, 27, 17, 30, 0, 0, location)
	tests := []struct {
		name    string
		avlTime time.Time
	}{
		{name: "agency zone", avlTime: fridayEvening},
		{name: "utc", avlTime: fridayEvening.UTC()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)
			obs := testObservation("1", 0)
			obs.AvlTime = tt.avlTime
			is.True(average.HasDataForPath(context.Background(), &testLeg, obs))
			got, err := average.TravelTimeForPath(context.Background(), &testLeg, obs)
			is.NoErr(err)
			is.Equal(got, 4*time.Minute)
		})
	}
}
