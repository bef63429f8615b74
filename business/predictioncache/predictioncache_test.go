package predictioncache

import (
	"fmt"
	"math/rand"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/OpenTransitTools/transitpredict/business/data/gtfs"
	"github.com/OpenTransitTools/transitpredict/foundation/timesource"
	"github.com/matryer/is"
)

var baseTime = time.Date(2022, 5, 22, 12, 0, 0, 0, time.UTC)

func makePrediction(vehicleId string, stopId string, seconds int) gtfs.Prediction {
	return gtfs.Prediction{
		VehicleId:      vehicleId,
		StopId:         stopId,
		RouteId:        "100",
		RouteShortName: "r1",
		TripId:         "trip_" + vehicleId,
		PredictedTime:  baseTime.Add(time.Duration(seconds) * time.Second),
		IsArrival:      true,
	}
}

func key(stopId string) gtfs.RouteStopKey {
	return gtfs.RouteStopKey{RouteName: "r1", StopId: stopId}
}

// summary renders vehicle@seconds for each prediction to make failures readable
func summary(predictions []gtfs.Prediction) []string {
	results := make([]string, 0, len(predictions))
	for _, p := range predictions {
		results = append(results, fmt.Sprintf("%s@%d", p.VehicleId, int(p.PredictedTime.Sub(baseTime).Seconds())))
	}
	return results
}

func makeTestCache(t *testing.T, max int, clock timesource.Source) *Cache {
	cache, err := MakeCache(Config{MaxPredictionsPerStop: max}, clock)
	if err != nil {
		t.Fatalf("unable to make cache: %v", err)
	}
	return cache
}

func TestMakeCache_invalidConfig(t *testing.T) {
	is := is.New(t)
	_, err := MakeCache(Config{MaxPredictionsPerStop: -1}, timesource.System{})
	is.True(err != nil)
}

func TestMakeCache_defaultMax(t *testing.T) {
	is := is.New(t)
	cache, err := MakeCache(Config{}, timesource.System{})
	is.NoErr(err)
	is.Equal(cache.MaxPredictionsPerStop(), DefaultMaxPredictions)
}

func TestCache_Update_replacesVehiclePredictions(t *testing.T) {
	is := is.New(t)
	cache := makeTestCache(t, DefaultMaxPredictions, timesource.MakePlayback(baseTime))

	v1 := []gtfs.Prediction{
		makePrediction("v1", "s1", 100),
		makePrediction("v1", "s1", 300),
		makePrediction("v1", "s2", 200),
	}
	v2 := []gtfs.Prediction{
		makePrediction("v2", "s1", 150),
		makePrediction("v2", "s2", 250),
		makePrediction("v2", "s1", 350),
	}
	cache.Update(nil, v1)
	cache.Update(nil, v2)
	is.Equal(summary(cache.Get(key("s1"), 0)), []string{"v1@100", "v2@150", "v1@300", "v2@350"})
	is.Equal(summary(cache.Get(key("s2"), 0)), []string{"v1@200", "v2@250"})

	v1New := []gtfs.Prediction{
		makePrediction("v1", "s1", 110),
		makePrediction("v1", "s2", 210),
		makePrediction("v1", "s1", 310),
	}
	cache.Update(v1, v1New)
	is.Equal(summary(cache.Get(key("s1"), 0)), []string{"v1@110", "v2@150", "v1@310", "v2@350"})
	is.Equal(summary(cache.Get(key("s2"), 0)), []string{"v1@210", "v2@250"})
}

func TestCache_Update_capacity(t *testing.T) {
	full := []gtfs.Prediction{
		makePrediction("a", "s1", 100),
		makePrediction("b", "s1", 200),
		makePrediction("c", "s1", 300),
		makePrediction("d", "s1", 400),
		makePrediction("e", "s1", 500),
	}
	tests := []struct {
		name string
		add  gtfs.Prediction
		want []string
	}{
		{
			name: "earlier than all evicts latest",
			add:  makePrediction("f", "s1", 50),
			want: []string{"f@50", "a@100", "b@200", "c@300", "d@400"},
		},
		{
			name: "later than all is discarded",
			add:  makePrediction("f", "s1", 600),
			want: []string{"a@100", "b@200", "c@300", "d@400", "e@500"},
		},
		{
			name: "in the middle evicts latest",
			add:  makePrediction("f", "s1", 250),
			want: []string{"a@100", "b@200", "f@250", "c@300", "d@400"},
		},
		{
			name: "equal to latest goes after it and is discarded",
			add:  makePrediction("f", "s1", 500),
			want: []string{"a@100", "b@200", "c@300", "d@400", "e@500"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)
			cache := makeTestCache(t, 5, timesource.MakePlayback(baseTime))
			for _, p := range full {
				cache.Update(nil, []gtfs.Prediction{p})
			}
			cache.Update(nil, []gtfs.Prediction{tt.add})
			is.Equal(summary(cache.Get(key("s1"), 0)), tt.want)
		})
	}
}

func TestCache_Update_roundTrip(t *testing.T) {
	is := is.New(t)
	cache := makeTestCache(t, DefaultMaxPredictions, timesource.MakePlayback(baseTime))
	existing := []gtfs.Prediction{
		makePrediction("v2", "s1", 150),
		makePrediction("v2", "s2", 250),
	}
	cache.Update(nil, existing)
	beforeS1 := cache.Get(key("s1"), 0)
	beforeS2 := cache.Get(key("s2"), 0)

	added := []gtfs.Prediction{
		makePrediction("v1", "s1", 100),
		makePrediction("v1", "s2", 400),
		makePrediction("v1", "s3", 500),
	}
	cache.Update(nil, added)
	is.Equal(len(cache.Get(key("s1"), 0)), 2)
	cache.Update(added, nil)

	is.True(reflect.DeepEqual(cache.Get(key("s1"), 0), beforeS1))
	is.True(reflect.DeepEqual(cache.Get(key("s2"), 0), beforeS2))
	is.Equal(len(cache.Get(key("s3"), 0)), 0)
}

func TestCache_Update_dropsExpired(t *testing.T) {
	is := is.New(t)
	clock := timesource.MakePlayback(baseTime)
	cache := makeTestCache(t, DefaultMaxPredictions, clock)
	cache.Update(nil, []gtfs.Prediction{makePrediction("v1", "s1", 100)})
	cache.Update(nil, []gtfs.Prediction{makePrediction("v2", "s1", 300)})

	clock.Set(baseTime.Add(200 * time.Second))
	cache.Update(nil, []gtfs.Prediction{makePrediction("v3", "s1", 250)})
	is.Equal(summary(cache.Get(key("s1"), 0)), []string{"v3@250", "v2@300"})
}

func TestCache_Get(t *testing.T) {
	cache := makeTestCache(t, DefaultMaxPredictions, timesource.MakePlayback(baseTime))
	cache.Update(nil, []gtfs.Prediction{
		makePrediction("v1", "s1", 100),
		makePrediction("v2", "s1", 200),
		makePrediction("v3", "s1", 300),
	})
	tests := []struct {
		name  string
		key   gtfs.RouteStopKey
		limit int
		want  []string
	}{
		{name: "unlimited", key: key("s1"), limit: 0, want: []string{"v1@100", "v2@200", "v3@300"}},
		{name: "negative is unlimited", key: key("s1"), limit: -1, want: []string{"v1@100", "v2@200", "v3@300"}},
		{name: "limited", key: key("s1"), limit: 2, want: []string{"v1@100", "v2@200"}},
		{name: "limit above size", key: key("s1"), limit: 20, want: []string{"v1@100", "v2@200", "v3@300"}},
		{name: "absent key", key: key("missing"), limit: 0, want: []string{}},
		{name: "other route", key: gtfs.RouteStopKey{RouteName: "r2", StopId: "s1"}, limit: 0, want: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)
			got := cache.Get(tt.key, tt.limit)
			is.True(got != nil)
			is.Equal(summary(got), tt.want)
		})
	}
}

func TestCache_Get_returnsCopy(t *testing.T) {
	is := is.New(t)
	cache := makeTestCache(t, DefaultMaxPredictions, timesource.MakePlayback(baseTime))
	cache.Update(nil, []gtfs.Prediction{makePrediction("v1", "s1", 100)})
	got := cache.Get(key("s1"), 0)
	got[0].VehicleId = "changed"
	is.Equal(cache.Get(key("s1"), 0)[0].VehicleId, "v1")
}

func TestCache_Sweep(t *testing.T) {
	is := is.New(t)
	clock := timesource.MakePlayback(baseTime)
	cache := makeTestCache(t, DefaultMaxPredictions, clock)
	cache.Update(nil, []gtfs.Prediction{
		makePrediction("v1", "s1", 100),
		makePrediction("v1", "s2", 300),
	})
	cache.Update(nil, []gtfs.Prediction{makePrediction("v2", "s1", 400)})
	clock.Set(baseTime.Add(350 * time.Second))

	removed, keys := cache.Sweep()
	is.Equal(removed, 2)
	is.Equal(keys, 1)
	is.Equal(cache.Keys(), []gtfs.RouteStopKey{key("s1")})

	// a swept key is usable again
	cache.Update(nil, []gtfs.Prediction{makePrediction("v3", "s2", 500)})
	is.Equal(summary(cache.Get(key("s2"), 0)), []string{"v3@500"})
}

// checkInvariants fails if predictions are out of order, over capacity or hold a vehicle twice
func checkInvariants(predictions []gtfs.Prediction, max int) error {
	if len(predictions) > max {
		return fmt.Errorf("%d predictions exceeds %d", len(predictions), max)
	}
	seen := make(map[string]bool)
	for i, p := range predictions {
		if seen[p.VehicleId] {
			return fmt.Errorf("vehicle %s present twice in %v", p.VehicleId, summary(predictions))
		}
		seen[p.VehicleId] = true
		if i > 0 && p.PredictedTime.Before(predictions[i-1].PredictedTime) {
			return fmt.Errorf("out of order: %v", summary(predictions))
		}
	}
	return nil
}

func TestCache_Update_randomSequencesKeepInvariants(t *testing.T) {
	is := is.New(t)
	cache := makeTestCache(t, DefaultMaxPredictions, timesource.MakePlayback(baseTime))
	random := rand.New(rand.NewSource(7))
	previous := make(map[string][]gtfs.Prediction)
	vehicles := []string{"v1", "v2", "v3", "v4", "v5", "v6", "v7"}
	for i := 0; i < 500; i++ {
		vehicleId := vehicles[random.Intn(len(vehicles))]
		var next []gtfs.Prediction
		if random.Intn(5) > 0 {
			next = []gtfs.Prediction{makePrediction(vehicleId, "s1", 10+random.Intn(1000))}
		}
		cache.Update(previous[vehicleId], next)
		previous[vehicleId] = next
		is.NoErr(checkInvariants(cache.Get(key("s1"), 0), DefaultMaxPredictions))
	}
}

func TestCache_concurrentUpdatesNeverShowGaps(t *testing.T) {
	is := is.New(t)
	cache := makeTestCache(t, DefaultMaxPredictions, timesource.MakePlayback(baseTime))

	// v0 always has a live prediction, every update only moves it
	steady := []gtfs.Prediction{makePrediction("v0", "s1", 100)}
	cache.Update(nil, steady)

	wg := sync.WaitGroup{}
	done := make(chan struct{})
	errs := make(chan error, 16)

	wg.Add(1)
	go func() {
		defer wg.Done()
		current := steady
		for i := 0; i < 2000; i++ {
			next := []gtfs.Prediction{makePrediction("v0", "s1", 100+(i%50))}
			cache.Update(current, next)
			current = next
		}
		close(done)
	}()
	for w := 1; w <= 4; w++ {
		wg.Add(1)
		go func(vehicleId string) {
			defer wg.Done()
			var current []gtfs.Prediction
			for i := 0; i < 500; i++ {
				next := []gtfs.Prediction{makePrediction(vehicleId, "s1", 200+i%300)}
				cache.Update(current, next)
				current = next
			}
		}(fmt.Sprintf("v%d", w))
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
			}
			predictions := cache.Get(key("s1"), 0)
			if err := checkInvariants(predictions, DefaultMaxPredictions); err != nil {
				errs <- err
				return
			}
			found := false
			for _, p := range predictions {
				if p.VehicleId == "v0" {
					found = true
				}
			}
			if !found {
				errs <- fmt.Errorf("v0 missing from %v", summary(predictions))
				return
			}
		}
	}()
	wg.Wait()
	close(errs)
	for err := range errs {
		is.NoErr(err)
	}
}
