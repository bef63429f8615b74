package predictionsvc

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/OpenTransitTools/transitpredict/business/data/gtfs"
	"github.com/matryer/is"
	"github.com/nats-io/nats.go"
)

func observationMsg(t *testing.T, vehicleId string) *nats.Msg {
	data, err := json.Marshal(gtfs.VehicleObservation{VehicleId: vehicleId, AvlTime: testNoon})
	if err != nil {
		t.Fatalf("marshaling observation: %v", err)
	}
	return &nats.Msg{Data: data}
}

func Test_drainBatch(t *testing.T) {
	tests := []struct {
		name    string
		waiting int
		max     int
		want    int
		left    int
	}{
		{name: "nothing waiting", waiting: 0, max: 5, want: 1, left: 0},
		{name: "all waiting", waiting: 3, max: 5, want: 4, left: 0},
		{name: "bounded by max", waiting: 6, max: 5, want: 5, left: 2},
		{name: "max of one", waiting: 2, max: 1, want: 1, left: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)
			ch := make(chan *nats.Msg, 10)
			for i := 0; i < tt.waiting; i++ {
				ch <- &nats.Msg{}
			}
			batch := drainBatch(&nats.Msg{}, ch, tt.max)
			is.Equal(len(batch), tt.want)
			is.Equal(len(ch), tt.left)
		})
	}
}

func Test_observationProcessor_processBatch(t *testing.T) {
	is := is.New(t)
	generator := &fakeGenerator{failing: map[string]bool{"2": true}}
	processor := makeObservationProcessor(discardLog, generator)

	msgs := []*nats.Msg{
		observationMsg(t, "1"),
		{Data: []byte("not json")},
		observationMsg(t, "2"),
		observationMsg(t, "3"),
	}
	is.Equal(processor.processBatch(msgs), 2)
	is.Equal(len(generator.observations), 3)
	is.Equal(generator.observations[0].VehicleId, "1")
	is.True(generator.observations[2].AvlTime.Equal(testNoon))

	// a batch of nothing parseable never reaches the generator
	is.Equal(processor.processBatch([]*nats.Msg{{Data: []byte("{")}}), 0)
	is.Equal(len(generator.observations), 3)
}

func Test_eventProcessor_processMsg(t *testing.T) {
	complete := gtfs.ArrivalDepartureEvent{
		VehicleId: "1",
		TripId:    "t1",
		StopId:    "B",
		IsArrival: true,
		EventTime: testNoon,
	}
	tests := []struct {
		name      string
		data      func(t *testing.T) []byte
		wantAdded int
	}{
		{
			name: "complete event",
			data: func(t *testing.T) []byte {
				data, err := json.Marshal(complete)
				if err != nil {
					t.Fatalf("marshaling event: %v", err)
				}
				return data
			},
			wantAdded: 1,
		},
		{
			name: "missing stop",
			data: func(t *testing.T) []byte {
				event := complete
				event.StopId = ""
				data, _ := json.Marshal(event)
				return data
			},
		},
		{
			name: "missing time",
			data: func(t *testing.T) []byte {
				event := complete
				event.EventTime = time.Time{}
				data, _ := json.Marshal(event)
				return data
			},
		},
		{
			name: "unparseable",
			data: func(t *testing.T) []byte {
				return []byte("[1,2")
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)
			history := &memoryHistory{}
			matcher := &memoryMatcher{}
			// recording is switched off without a database
			processor := makeEventProcessor(discardLog, history, matcher, nil, true)
			is.True(!processor.recordToDatabase)

			processor.processMsg(tt.data(t))
			is.Equal(len(history.events), tt.wantAdded)
			is.Equal(len(matcher.events), tt.wantAdded)
			if tt.wantAdded > 0 {
				is.Equal(history.events[0].VehicleId, "1")
				is.Equal(matcher.events[0].StopId, "B")
			}
		})
	}
}
