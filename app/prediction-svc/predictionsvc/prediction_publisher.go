package predictionsvc

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/OpenTransitTools/transitpredict/business/data/gtfs"
	"github.com/nats-io/nats.go"
)

// PredictionBatch is the message published each time a vehicle's predictions are replaced.
// An empty Predictions list means the vehicle no longer has predictions.
type PredictionBatch struct {
	VehicleId   string            `json:"vehicle_id"`
	Timestamp   int64             `json:"timestamp"`
	Predictions []gtfs.Prediction `json:"predictions"`
}

// predictionPublicationDestination is where prediction batches are sent
type predictionPublicationDestination interface {
	Publish(batch *PredictionBatch) error
}

// natsPredictionPublicationDestination sends prediction batches over nats
type natsPredictionPublicationDestination struct {
	natsConn          *nats.Conn
	predictionSubject string
}

func (n *natsPredictionPublicationDestination) Publish(batch *PredictionBatch) error {
	jsonData, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("error marshaling prediction batch to json: %w", err)
	}
	return n.natsConn.Publish(n.predictionSubject, jsonData)
}

// predictionPublisher implements predictor.Publisher, wrapping predictions into PredictionBatch
type predictionPublisher struct {
	destination predictionPublicationDestination
}

// makePredictionPublisher builds predictionPublisher
func makePredictionPublisher(destination predictionPublicationDestination) *predictionPublisher {
	return &predictionPublisher{destination: destination}
}

func (p *predictionPublisher) PublishPredictions(vehicleId string, at time.Time, predictions []gtfs.Prediction) error {
	if predictions == nil {
		predictions = []gtfs.Prediction{}
	}
	return p.destination.Publish(&PredictionBatch{
		VehicleId:   vehicleId,
		Timestamp:   at.Unix(),
		Predictions: predictions,
	})
}
