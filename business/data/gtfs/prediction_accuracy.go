package gtfs

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

// PredictionAccuracy compares a sampled Prediction with the event that satisfied it.
// ActualTime and AccuracyMillis are nil when no event matched before the sample went stale.
type PredictionAccuracy struct {
	RouteId            string     `db:"route_id" json:"route_id"`
	RouteShortName     string     `db:"route_short_name" json:"route_short_name"`
	DirectionId        string     `db:"direction_id" json:"direction_id"`
	StopId             string     `db:"stop_id" json:"stop_id"`
	TripId             string     `db:"trip_id" json:"trip_id"`
	VehicleId          string     `db:"vehicle_id" json:"vehicle_id"`
	IsArrival          bool       `db:"is_arrival" json:"is_arrival"`
	PredictedTime      time.Time  `db:"predicted_time" json:"predicted_time"`
	PredictionReadTime time.Time  `db:"prediction_read_time" json:"prediction_read_time"`
	ActualTime         *time.Time `db:"actual_time" json:"actual_time"`
	// AccuracyMillis is ActualTime - PredictedTime, positive when the vehicle was later than predicted
	AccuracyMillis     *int64 `db:"accuracy_msecs" json:"accuracy_msecs"`
	AffectedByWaitStop bool   `db:"affected_by_wait_stop" json:"affected_by_wait_stop"`
	Source             string `db:"source" json:"source"`
	Algorithm          string `db:"algorithm" json:"algorithm"`
	// LeadSeconds is how far ahead of the predicted time the prediction was read
	LeadSeconds int `db:"lead_seconds" json:"lead_seconds"`
}

// Matched returns true if an event satisfied the prediction
func (p *PredictionAccuracy) Matched() bool {
	return p.ActualTime != nil
}

// RecordPredictionAccuracy saves PredictionAccuracy records into database in batch
func RecordPredictionAccuracy(ctx context.Context, records []*PredictionAccuracy, db *sqlx.DB) error {
	if len(records) == 0 {
		return nil
	}
	statementString := "insert into prediction_accuracy " +
		"(route_id, " +
		"route_short_name, " +
		"direction_id, " +
		"stop_id, " +
		"trip_id, " +
		"vehicle_id, " +
		"is_arrival, " +
		"predicted_time, " +
		"prediction_read_time, " +
		"actual_time, " +
		"accuracy_msecs, " +
		"affected_by_wait_stop, " +
		"source, " +
		"algorithm, " +
		"lead_seconds) " +
		"values " +
		"(:route_id, " +
		":route_short_name, " +
		":direction_id, " +
		":stop_id, " +
		":trip_id, " +
		":vehicle_id, " +
		":is_arrival, " +
		":predicted_time, " +
		":prediction_read_time, " +
		":actual_time, " +
		":accuracy_msecs, " +
		":affected_by_wait_stop, " +
		":source, " +
		":algorithm, " +
		":lead_seconds)"
	statementString = db.Rebind(statementString)
	_, err := db.NamedExecContext(ctx, statementString, records)
	return err
}
