package estimator

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/OpenTransitTools/transitpredict/business/historical"
	"github.com/matryer/is"
)

func TestAverageEstimator(t *testing.T) {
	tests := []struct {
		name    string
		days    []int
		minDays int
		covered bool
		want    time.Duration
	}{
		{name: "three days", days: []int{380, 420, 400}, minDays: 1, covered: true, want: 400 * time.Second},
		{name: "more days than used", days: []int{300, 360, 390, 900}, minDays: 1, covered: true, want: 350 * time.Second},
		{name: "single day", days: []int{380}, minDays: 1, covered: true, want: 380 * time.Second},
		{name: "too few days", days: []int{380}, minDays: 2, covered: false},
		{name: "no history", days: []int{}, minDays: 1, covered: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := MakeAverageEstimator(&fakeHistory{historicalDays: tt.days}, tt.minDays, 3, 21)
			if err != nil {
				t.Fatalf("MakeAverageEstimator() error = %v", err)
			}
			obs := testObservation("v1", 5)
			if got := e.HasDataForPath(context.Background(), &testLeg, obs); got != tt.covered {
				t.Errorf("HasDataForPath() = %v, want %v", got, tt.covered)
			}
			got, err := e.TravelTimeForPath(context.Background(), &testLeg, obs)
			if !tt.covered {
				if !errors.Is(err, ErrNoCoverage) {
					t.Errorf("TravelTimeForPath() error = %v, want ErrNoCoverage", err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("TravelTimeForPath() = %v, %v want %v", got, err, tt.want)
			}
		})
	}
}

func TestMakeAverageEstimator_invalid(t *testing.T) {
	is := is.New(t)
	_, err := MakeAverageEstimator(&fakeHistory{}, 0, 3, 21)
	is.True(err != nil)
	_, err = MakeAverageEstimator(&fakeHistory{}, 3, 2, 21)
	is.True(err != nil)
}

func TestLastVehicleEstimator(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	e := MakeLastVehicleEstimator(&fakeHistory{
		lastVehicle: map[string]historical.TravelTime{"v2": travelTime("v2", 310)},
	})
	is.True(e.HasDataForPath(ctx, &testLeg, testObservation("v1", 5)))
	got, err := e.TravelTimeForPath(ctx, &testLeg, testObservation("v1", 5))
	is.NoErr(err)
	is.Equal(got, 310*time.Second)

	// only itself has traveled the leg
	is.True(!e.HasDataForPath(ctx, &testLeg, testObservation("v2", 5)))
	_, err = e.TravelTimeForPath(ctx, &testLeg, testObservation("v2", 5))
	is.True(errors.Is(err, ErrNoCoverage))
}

func TestScheduleEstimator(t *testing.T) {
	is := is.New(t)
	e := ScheduleEstimator{}
	is.True(e.HasDataForPath(context.Background(), &testLeg, testObservation("v1", 5)))
	got, err := e.TravelTimeForPath(context.Background(), &testLeg, testObservation("v1", 5))
	is.NoErr(err)
	is.Equal(got, 300*time.Second)
}

func TestClosestVehicleAhead(t *testing.T) {
	vehicles := []VehicleProgress{
		{VehicleId: "v1", DirectionId: "0", StopsCompleted: 5},
		{VehicleId: "v2", DirectionId: "0", StopsCompleted: 12},
		{VehicleId: "v3", DirectionId: "0", StopsCompleted: 8},
		{VehicleId: "v4", DirectionId: "1", StopsCompleted: 6},
		{VehicleId: "v5", DirectionId: "0", StopsCompleted: 2},
	}
	tests := []struct {
		name       string
		stopsAhead int
		wantId     string
		wantFound  bool
	}{
		{name: "nearest ahead", stopsAhead: 0, wantId: "v3", wantFound: true},
		{name: "threshold skips nearest", stopsAhead: 3, wantId: "v2", wantFound: true},
		{name: "nobody far enough", stopsAhead: 7, wantFound: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, found := closestVehicleAhead(vehicles, testObservation("v1", 5), tt.stopsAhead)
			if found != tt.wantFound || got.VehicleId != tt.wantId {
				t.Errorf("closestVehicleAhead() = %s, %v want %s, %v", got.VehicleId, found, tt.wantId, tt.wantFound)
			}
		})
	}
}

func TestVehicleRegistry(t *testing.T) {
	is := is.New(t)
	registry := MakeVehicleRegistry()
	registry.Record(testObservation("v2", 4))
	registry.Record(testObservation("v1", 5))
	other := testObservation("v3", 1)
	other.RouteId = "200"
	registry.Record(other)

	got := registry.VehiclesOnRoute("100")
	is.Equal(len(got), 2)
	is.Equal(got[0].VehicleId, "v1")
	is.Equal(got[1].VehicleId, "v2")

	// older observation doesn't replace newer
	stale := testObservation("v1", 2)
	stale.AvlTime = testNoon.Add(-time.Minute)
	registry.Record(stale)
	is.Equal(registry.VehiclesOnRoute("100")[0].StopsCompleted, 5)

	newer := testObservation("v1", 6)
	newer.AvlTime = testNoon.Add(time.Minute)
	registry.Record(newer)
	is.Equal(registry.VehiclesOnRoute("100")[0].StopsCompleted, 6)

	is.Equal(registry.Expire(testNoon.Add(time.Second)), 2)
	want := []VehicleProgress{{
		VehicleId:      "v1",
		RouteId:        "100",
		DirectionId:    "0",
		TripId:         "t-v1",
		StopsCompleted: 6,
		AvlTime:        testNoon.Add(time.Minute),
	}}
	if got := registry.VehiclesOnRoute("100"); !reflect.DeepEqual(got, want) {
		t.Errorf("VehiclesOnRoute() = %+v, want %+v", got, want)
	}
	registry.Remove("v1")
	is.Equal(len(registry.VehiclesOnRoute("100")), 0)
}
