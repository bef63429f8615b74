package predictionsvc

import (
	"context"
	"encoding/json"
	logger "log"
	"sync"

	"github.com/OpenTransitTools/transitpredict/business/data/gtfs"
	"github.com/OpenTransitTools/transitpredict/business/predictor"
	"github.com/nats-io/nats.go"
)

// observationPredictor generates predictions for batches of observations, predictor.Generator is the usual
// implementation
type observationPredictor interface {
	PredictAll(ctx context.Context, observations []*gtfs.VehicleObservation) []predictor.Result
}

// runObservationListener listens on NATS for vehicle observations (expecting gtfs.VehicleObservation)
// and generates predictions from them. Uses a queue group so more than one process can share the work.
// Messages already waiting when a batch starts are handled together.
func runObservationListener(log *logger.Logger,
	wg *sync.WaitGroup,
	natsConn *nats.Conn,
	subject string,
	queue string,
	generator observationPredictor,
	maxBatchSize int,
	shutdownSignal chan bool) error {

	ch := make(chan *nats.Msg, 256)
	log.Printf("Subscribing to %s in queue group %s on nats: %v\n", subject, queue, natsConn.Servers())
	sub, err := natsConn.ChanQueueSubscribe(subject, queue, ch)
	if err != nil {
		return err
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		processor := makeObservationProcessor(log, generator)
		for {
			select {
			case msg := <-ch:
				processor.processBatch(drainBatch(msg, ch, maxBatchSize))
			case <-shutdownSignal:
				log.Printf("ending observation listener on shutdown signal\n")
				unsubscribe(log, sub, subject)
				return
			}
		}
	}()
	return nil
}

// drainBatch collects first and any messages immediately available on ch, up to max messages
func drainBatch(first *nats.Msg, ch chan *nats.Msg, max int) []*nats.Msg {
	batch := []*nats.Msg{first}
	for len(batch) < max {
		select {
		case msg := <-ch:
			batch = append(batch, msg)
		default:
			return batch
		}
	}
	return batch
}

// unsubscribe convenience function for unsubscribing from a NATS subscription, and logging the results.
func unsubscribe(log *logger.Logger, sub *nats.Subscription, subName string) {
	if !sub.IsValid() {
		return
	}
	log.Printf("Unsubscribing to %s\n", subName)
	if err := sub.Unsubscribe(); err != nil {
		log.Printf("error when attempting to unsubscribe to %s: %v\n", subName, err)
	}
}

// observationProcessor decodes observations and hands them to observationPredictor
type observationProcessor struct {
	log       *logger.Logger
	generator observationPredictor
}

func makeObservationProcessor(log *logger.Logger, generator observationPredictor) *observationProcessor {
	return &observationProcessor{log: log, generator: generator}
}

// processBatch unmarshal gtfs.VehicleObservations from msgs and predict them, returns the number of vehicles
// predicted without error
func (o *observationProcessor) processBatch(msgs []*nats.Msg) int {
	observations := make([]*gtfs.VehicleObservation, 0, len(msgs))
	for _, msg := range msgs {
		var observation gtfs.VehicleObservation
		if err := json.Unmarshal(msg.Data, &observation); err != nil {
			o.log.Printf("error parsing VehicleObservation: %v, payload:%s", err, string(msg.Data))
			continue
		}
		observations = append(observations, &observation)
	}
	if len(observations) == 0 {
		return 0
	}

	predicted := 0
	for _, result := range o.generator.PredictAll(context.Background(), observations) {
		if result.Err != nil {
			o.log.Printf("unable to predict vehicle %s: %v", result.VehicleId, result.Err)
			continue
		}
		predicted++
	}
	return predicted
}
