package predictionsvc

import (
	"context"
	"encoding/json"
	logger "log"
	"sync"
	"time"

	"github.com/OpenTransitTools/transitpredict/business/data/gtfs"
	"github.com/jmoiron/sqlx"
	"github.com/nats-io/nats.go"
)

// arrivalDepartureRecorder stores events as history, arrivalstore.Store is the usual implementation
type arrivalDepartureRecorder interface {
	Add(event gtfs.ArrivalDepartureEvent)
}

// accuracyMatcher scores samples against events, accuracy.Tracker is the usual implementation
type accuracyMatcher interface {
	OnArrivalDeparture(ctx context.Context, event *gtfs.ArrivalDepartureEvent) []*gtfs.PredictionAccuracy
}

// runArrivalDepartureListener subscribes to arrival and departure events, every process receives all of them
// since each keeps its own arrival history
func runArrivalDepartureListener(log *logger.Logger,
	wg *sync.WaitGroup,
	natsConn *nats.Conn,
	subject string,
	processor *eventProcessor,
	shutdownSignal chan bool) error {

	ch := make(chan *nats.Msg, 256)
	log.Printf("Subscribing to %s on nats: %v\n", subject, natsConn.Servers())
	sub, err := natsConn.ChanSubscribe(subject, ch)
	if err != nil {
		return err
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case msg := <-ch:
				processor.processMsg(msg.Data)
			case <-shutdownSignal:
				log.Printf("ending arrival departure listener on shutdown signal\n")
				unsubscribe(log, sub, subject)
				return
			}
		}
	}()
	return nil
}

// eventProcessor sends each event to the arrival history, the accuracy tracker and optionally the database
type eventProcessor struct {
	log              *logger.Logger
	history          arrivalDepartureRecorder
	accuracy         accuracyMatcher
	db               *sqlx.DB
	recordToDatabase bool
}

func makeEventProcessor(log *logger.Logger,
	history arrivalDepartureRecorder,
	accuracy accuracyMatcher,
	db *sqlx.DB,
	recordToDatabase bool) *eventProcessor {
	return &eventProcessor{
		log:              log,
		history:          history,
		accuracy:         accuracy,
		db:               db,
		recordToDatabase: recordToDatabase && db != nil,
	}
}

// processMsg unmarshal gtfs.ArrivalDepartureEvent from data and handle it
func (e *eventProcessor) processMsg(data []byte) {
	var event gtfs.ArrivalDepartureEvent
	if err := json.Unmarshal(data, &event); err != nil {
		e.log.Printf("error parsing ArrivalDepartureEvent: %v, payload:%s", err, string(data))
		return
	}
	e.handle(&event)
}

func (e *eventProcessor) handle(event *gtfs.ArrivalDepartureEvent) {
	if len(event.VehicleId) == 0 || len(event.StopId) == 0 || event.EventTime.IsZero() {
		e.log.Printf("ignoring incomplete event %s", event.String())
		return
	}
	e.history.Add(*event)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	e.accuracy.OnArrivalDeparture(ctx, event)

	if e.recordToDatabase {
		if err := gtfs.RecordArrivalDepartureEvent(ctx, event, e.db); err != nil {
			e.log.Printf("failed to record %s, error:%v", event.String(), err)
		}
	}
}
