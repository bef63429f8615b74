package gtfs

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// ArrivalDepartureEvent records a vehicle arriving at or departing from a stop, as determined by the matching
// engine. Events are never modified after creation.
// primary key consists of EventTime, VehicleId, StopId, IsArrival
type ArrivalDepartureEvent struct {
	VehicleId      string `db:"vehicle_id" json:"vehicle_id"`
	TripId         string `db:"trip_id" json:"trip_id"`
	TripShortName  string `db:"trip_short_name" json:"trip_short_name"`
	RouteId        string `db:"route_id" json:"route_id"`
	RouteShortName string `db:"route_short_name" json:"route_short_name"`
	DirectionId    string `db:"direction_id" json:"direction_id"`
	BlockId        string `db:"block_id" json:"block_id"`
	StopId         string `db:"stop_id" json:"stop_id"`
	StopPathIndex  int    `db:"stop_path_index" json:"stop_path_index"`
	//IsArrival is true for an arrival at StopId, false for a departure from it
	IsArrival bool      `db:"is_arrival" json:"is_arrival"`
	EventTime time.Time `db:"event_time" json:"event_time"`
	//TripStartTime is the scheduled start of the trip in seconds after ServiceDate's midnight
	TripStartTime int `db:"trip_start_time" json:"trip_start_time"`
	//ServiceDate is midnight of the service day the trip runs on, trips after midnight belong to the previous day
	ServiceDate time.Time `db:"service_date" json:"service_date"`
	CreatedAt   time.Time `db:"created_at" json:"-"`
}

// IsDeparture is the opposite of IsArrival
func (e *ArrivalDepartureEvent) IsDeparture() bool {
	return !e.IsArrival
}

func (e *ArrivalDepartureEvent) String() string {
	kind := "departure"
	if e.IsArrival {
		kind = "arrival"
	}
	return fmt.Sprintf("%s vehicle:%s trip:%s stop:%s stopPath:%d at:%s", kind, e.VehicleId, e.TripId,
		e.StopId, e.StopPathIndex, e.EventTime.Format("2006-01-02T15:04:05"))
}

// RecordArrivalDepartureEvent saves an ArrivalDepartureEvent into database
func RecordArrivalDepartureEvent(ctx context.Context, event *ArrivalDepartureEvent, db *sqlx.DB) error {

	event.CreatedAt = time.Now()

	statementString := "insert into arrival_departure " +
		"(vehicle_id, " +
		"trip_id, " +
		"trip_short_name, " +
		"route_id, " +
		"route_short_name, " +
		"direction_id, " +
		"block_id, " +
		"stop_id, " +
		"stop_path_index, " +
		"is_arrival, " +
		"event_time, " +
		"trip_start_time, " +
		"service_date, " +
		"created_at) " +
		"values " +
		"(:vehicle_id, " +
		":trip_id, " +
		":trip_short_name, " +
		":route_id, " +
		":route_short_name, " +
		":direction_id, " +
		":block_id, " +
		":stop_id, " +
		":stop_path_index, " +
		":is_arrival, " +
		":event_time, " +
		":trip_start_time, " +
		":service_date, " +
		":created_at)"
	statementString = db.Rebind(statementString)
	_, err := db.NamedExecContext(ctx, statementString, event)
	return err
}

// GetArrivalDepartureEvents retrieves events with event_time between start and end, ordered by event_time
func GetArrivalDepartureEvents(ctx context.Context,
	db *sqlx.DB,
	start time.Time,
	end time.Time) ([]*ArrivalDepartureEvent, error) {
	query := "select vehicle_id, trip_id, trip_short_name, route_id, route_short_name, direction_id, block_id, " +
		"stop_id, stop_path_index, is_arrival, event_time, trip_start_time, service_date, created_at " +
		"from arrival_departure where event_time between $1 and $2 order by event_time"
	var results []*ArrivalDepartureEvent
	err := db.SelectContext(ctx, &results, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve arrival_departure rows. query:%s error: %w", query, err)
	}
	return results, nil
}
