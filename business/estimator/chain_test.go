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

func TestChain_TravelTimeForPath(t *testing.T) {
	uncovered := &fixedEstimator{name: "uncovered"}
	covered := &fixedEstimator{name: "covered", covered: true, travelTime: 200 * time.Second}
	alsoCovered := &fixedEstimator{name: "alsocovered", covered: true, travelTime: 250 * time.Second}
	declines := &fixedEstimator{name: "declines", covered: true, err: ErrNoCoverage}
	fails := &fixedEstimator{name: "fails", covered: true, err: errors.New("lookup failed")}
	negative := &fixedEstimator{name: "negative", covered: true, travelTime: -time.Second}
	panics := &fixedEstimator{name: "panics", panics: true}

	tests := []struct {
		name       string
		estimators []Estimator
		want       Estimate
	}{
		{
			name:       "first covering estimator wins",
			estimators: []Estimator{uncovered, covered, alsoCovered},
			want:       Estimate{TravelTime: 200 * time.Second, Algorithm: "covered"},
		},
		{
			name:       "falls back to schedule",
			estimators: []Estimator{uncovered},
			want:       Estimate{TravelTime: 300 * time.Second, Algorithm: ScheduleName, SchedBased: true},
		},
		{
			name:       "empty chain uses schedule",
			estimators: nil,
			want:       Estimate{TravelTime: 300 * time.Second, Algorithm: ScheduleName, SchedBased: true},
		},
		{
			name:       "declining estimator falls through",
			estimators: []Estimator{declines, alsoCovered},
			want:       Estimate{TravelTime: 250 * time.Second, Algorithm: "alsocovered"},
		},
		{
			name:       "failing estimator falls through",
			estimators: []Estimator{fails, alsoCovered},
			want:       Estimate{TravelTime: 250 * time.Second, Algorithm: "alsocovered"},
		},
		{
			name:       "negative travel time falls through",
			estimators: []Estimator{negative, alsoCovered},
			want:       Estimate{TravelTime: 250 * time.Second, Algorithm: "alsocovered"},
		},
		{
			name:       "panicking estimator falls through",
			estimators: []Estimator{panics, covered},
			want:       Estimate{TravelTime: 200 * time.Second, Algorithm: "covered"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chain := MakeChain(discardLog, tt.estimators...)
			got := chain.TravelTimeForPath(context.Background(), &testLeg, testObservation("v1", 5))
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("TravelTimeForPath() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseChainOrder(t *testing.T) {
	tests := []struct {
		name  string
		order string
		want  []string
	}{
		{name: "standard", order: "kalman,average,lastvehicle", want: []string{"kalman", "average", "lastvehicle"}},
		{name: "spaces and case", order: " Kalman , AVERAGE ", want: []string{"kalman", "average"}},
		{name: "blanks", order: "kalman,,", want: []string{"kalman"}},
		{name: "empty", order: "", want: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseChainOrder(tt.order); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseChainOrder() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestChainFromNames(t *testing.T) {
	is := is.New(t)
	history := &fakeHistory{
		lastVehicle:    map[string]historical.TravelTime{"v9": travelTime("v9", 330)},
		historicalDays: []int{380},
	}
	average, err := MakeAverageEstimator(history, 1, 3, 21)
	is.NoErr(err)
	registry := Registry{}
	registry.Register(average)
	registry.Register(MakeLastVehicleEstimator(history))

	chain, err := ChainFromNames(discardLog, ParseChainOrder("lastvehicle,average"), registry)
	is.NoErr(err)
	is.Equal(chain.Names(), []string{LastVehicleName, AverageName, ScheduleName})
	got := chain.TravelTimeForPath(context.Background(), &testLeg, testObservation("v1", 5))
	is.Equal(got, Estimate{TravelTime: 330 * time.Second, Algorithm: LastVehicleName})

	chain, err = ChainFromNames(discardLog, ParseChainOrder("schedule,average"), registry)
	is.NoErr(err)
	got = chain.TravelTimeForPath(context.Background(), &testLeg, testObservation("v1", 5))
	is.Equal(got, Estimate{TravelTime: 300 * time.Second, Algorithm: ScheduleName, SchedBased: true})

	_, err = ChainFromNames(discardLog, ParseChainOrder("kalman"), registry)
	is.True(err != nil)

	_, err = ChainFromNames(discardLog, ParseChainOrder("average,average"), registry)
	is.True(err != nil)
}
