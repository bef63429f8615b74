package accuracy

import (
	"context"
	"fmt"
	logger "log"

	"github.com/OpenTransitTools/transitpredict/business/data/gtfs"
	"github.com/jmoiron/sqlx"
)

// DBRecorder inserts records into the prediction_accuracy table
type DBRecorder struct {
	db *sqlx.DB
}

func MakeDBRecorder(db *sqlx.DB) *DBRecorder {
	return &DBRecorder{db: db}
}

func (d *DBRecorder) Record(ctx context.Context, records []*gtfs.PredictionAccuracy) error {
	if err := gtfs.RecordPredictionAccuracy(ctx, records, d.db); err != nil {
		return fmt.Errorf("inserting %d prediction accuracy records: %w", len(records), err)
	}
	return nil
}

// LogRecorder writes a line per record, for deployments without a database
type LogRecorder struct {
	log *logger.Logger
}

func MakeLogRecorder(log *logger.Logger) *LogRecorder {
	return &LogRecorder{log: log}
}

func (l *LogRecorder) Record(_ context.Context, records []*gtfs.PredictionAccuracy) error {
	for _, r := range records {
		if r.Matched() {
			l.log.Printf("accuracy vehicle:%s route:%s stop:%s trip:%s predicted:%s actual:%s error:%dms algorithm:%s",
				r.VehicleId, r.RouteId, r.StopId, r.TripId, r.PredictedTime.Format("15:04:05"),
				r.ActualTime.Format("15:04:05"), *r.AccuracyMillis, r.Algorithm)
			continue
		}
		l.log.Printf("accuracy vehicle:%s route:%s stop:%s trip:%s predicted:%s unmatched algorithm:%s",
			r.VehicleId, r.RouteId, r.StopId, r.TripId, r.PredictedTime.Format("15:04:05"), r.Algorithm)
	}
	return nil
}

// Recorders sends records to each of its Recorders, returning the first error after trying all of them
type Recorders []Recorder

func (r Recorders) Record(ctx context.Context, records []*gtfs.PredictionAccuracy) error {
	var first error
	for _, recorder := range r {
		if err := recorder.Record(ctx, records); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// PredictionGetter reads predictions, predictioncache.Cache is the usual implementation
type PredictionGetter interface {
	Get(key gtfs.RouteStopKey, limit int) []gtfs.Prediction
}

// CacheSource adapts a PredictionGetter to PredictionSource, reading every prediction for a key
type CacheSource struct {
	Cache PredictionGetter
}

func (c CacheSource) Predictions(_ context.Context, key gtfs.RouteStopKey) ([]gtfs.Prediction, error) {
	return c.Cache.Get(key, 0), nil
}
