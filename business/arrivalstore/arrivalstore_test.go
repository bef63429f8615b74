package arrivalstore

import (
	"io"
	logger "log"
	"testing"
	"time"

	"github.com/OpenTransitTools/transitpredict/business/data/gtfs"
	"github.com/matryer/is"
)

func testLocation(t *testing.T) *time.Location {
	location, err := time.LoadLocation("America/Los_Angeles")
	if err != nil {
		t.Fatalf("Unable to get testing time zone location")
	}
	return location
}

func TestStore_StopHistory(t *testing.T) {
	is := is.New(t)
	location := testLocation(t)
	store := MakeStore(logger.New(io.Discard, "", 0), location, 0)
	noon := time.Date(2022, 5, 22, 12, 0, 0, 0, location)

	store.Add(gtfs.ArrivalDepartureEvent{VehicleId: "v2", StopId: "A", EventTime: noon.Add(2 * time.Minute)})
	store.Add(gtfs.ArrivalDepartureEvent{VehicleId: "v1", StopId: "A", EventTime: noon})
	store.Add(gtfs.ArrivalDepartureEvent{VehicleId: "v3", StopId: "A", EventTime: noon.Add(time.Minute)})
	store.Add(gtfs.ArrivalDepartureEvent{VehicleId: "v4", StopId: "A", EventTime: noon.AddDate(0, 0, 1)})
	store.Add(gtfs.ArrivalDepartureEvent{VehicleId: "v5", StopId: "B", EventTime: noon})

	history := store.StopHistory("A", noon.Add(-5*time.Hour))
	is.Equal(len(history), 3)
	is.Equal(history[0].VehicleId, "v1")
	is.Equal(history[1].VehicleId, "v3")
	is.Equal(history[2].VehicleId, "v2")

	is.Equal(len(store.StopHistory("A", noon.AddDate(0, 0, 1))), 1)
	is.Equal(len(store.StopHistory("C", noon)), 0)

	// the copy is independent of the store
	history[0].VehicleId = "changed"
	is.Equal(store.StopHistory("A", noon)[0].VehicleId, "v1")
}

func TestStore_TripHistory(t *testing.T) {
	location := testLocation(t)
	store := MakeStore(logger.New(io.Discard, "", 0), location, 0)
	serviceDate := time.Date(2022, 5, 22, 0, 0, 0, 0, time.UTC)
	lateNight := time.Date(2022, 5, 23, 0, 30, 0, 0, location)

	store.Add(gtfs.ArrivalDepartureEvent{TripId: "t1", StopId: "A", TripStartTime: 86000,
		ServiceDate: serviceDate, EventTime: lateNight})
	store.Add(gtfs.ArrivalDepartureEvent{TripId: "t1", StopId: "B", TripStartTime: 86000,
		ServiceDate: serviceDate, EventTime: lateNight.Add(3 * time.Minute)})
	store.Add(gtfs.ArrivalDepartureEvent{TripId: "t1", StopId: "A", TripStartTime: 3600,
		EventTime: time.Date(2022, 5, 22, 1, 10, 0, 0, location)})

	tests := []struct {
		name        string
		serviceDate time.Time
		startTime   int
		want        []string
	}{
		{
			name:        "trip after midnight belongs to its service date",
			serviceDate: time.Date(2022, 5, 22, 0, 0, 0, 0, location),
			startTime:   86000,
			want:        []string{"A", "B"},
		},
		{
			name:        "service date defaults to event day",
			serviceDate: time.Date(2022, 5, 22, 0, 0, 0, 0, location),
			startTime:   3600,
			want:        []string{"A"},
		},
		{
			name:        "wrong start time",
			serviceDate: time.Date(2022, 5, 22, 0, 0, 0, 0, location),
			startTime:   7200,
			want:        []string{},
		},
		{
			name:        "wrong day",
			serviceDate: time.Date(2022, 5, 23, 0, 0, 0, 0, location),
			startTime:   86000,
			want:        []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)
			history := store.TripHistory("t1", tt.serviceDate, tt.startTime)
			stops := make([]string, 0)
			for _, e := range history {
				stops = append(stops, e.StopId)
			}
			is.Equal(stops, tt.want)
		})
	}
}

func TestStore_Expire(t *testing.T) {
	is := is.New(t)
	location := testLocation(t)
	store := MakeStore(logger.New(io.Discard, "", 0), location, 48*time.Hour)
	now := time.Date(2022, 5, 22, 12, 0, 0, 0, location)
	for days := 0; days < 5; days++ {
		at := now.AddDate(0, 0, -days)
		store.Add(gtfs.ArrivalDepartureEvent{TripId: "t1", StopId: "A", EventTime: at})
	}
	stopDays, trips := store.Size()
	is.Equal(stopDays, 5)
	is.Equal(trips, 5)

	removed := store.Expire(now)
	is.Equal(removed, 4) // three and four days ago, from both indexes
	stopDays, trips = store.Size()
	is.Equal(stopDays, 3)
	is.Equal(trips, 3)
	is.Equal(len(store.StopHistory("A", now.AddDate(0, 0, -2))), 1)
	is.Equal(len(store.StopHistory("A", now.AddDate(0, 0, -3))), 0)
}
