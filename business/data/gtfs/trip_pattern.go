package gtfs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/OpenTransitTools/transitpredict/foundation/database"
	"github.com/jmoiron/sqlx"
)

// TripPattern is a scheduled trip with the stops it serves in order
type TripPattern struct {
	RouteId        string   `db:"route_id" json:"route_id"`
	RouteShortName string   `db:"route_short_name" json:"route_short_name"`
	DirectionId    string   `db:"direction_id" json:"direction_id"`
	TripId         string   `db:"trip_id" json:"trip_id"`
	TripShortName  string   `db:"trip_short_name" json:"trip_short_name"`
	StopIds        []string `db:"-" json:"stop_ids"`
}

// RouteName returns the rider facing name of the pattern's route
func (t *TripPattern) RouteName() string {
	if t.RouteShortName != "" {
		return t.RouteShortName
	}
	return t.RouteId
}

// tripStopRow is a single row when loading stops for trips
type tripStopRow struct {
	TripId       string `db:"trip_id"`
	StopSequence uint32 `db:"stop_sequence"`
	StopId       string `db:"stop_id"`
}

// GetTripPatterns loads the TripPatterns for all trips running on serviceDate from the DataSet active at "at"
func GetTripPatterns(ctx context.Context, db *sqlx.DB, at time.Time, serviceDate time.Time) ([]*TripPattern, error) {
	dataSet, err := GetDataSetAt(ctx, db, at)
	if err != nil {
		return nil, err
	}
	serviceIds, err := GetActiveServiceIds(ctx, db, dataSet, serviceDate)
	if err != nil {
		return nil, err
	}
	if len(serviceIds) == 0 {
		return []*TripPattern{}, nil
	}

	query := "select trip.trip_id, trip.route_id, coalesce(route.route_short_name, '') as route_short_name, " +
		"coalesce(trip.direction_id, '') as direction_id, coalesce(trip.trip_short_name, '') as trip_short_name " +
		"from trip left join route on route.data_set_id = trip.data_set_id and route.route_id = trip.route_id " +
		"where trip.data_set_id = :data_set_id and trip.service_id in (:service_ids) order by trip.trip_id"
	query, args, err := database.PrepareNamedQueryFromMap(query, db, map[string]interface{}{
		"data_set_id": dataSet.Id,
		"service_ids": serviceIds,
	})
	if err != nil {
		return nil, err
	}
	var patterns []*TripPattern
	err = db.SelectContext(ctx, &patterns, query, args...)
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve trips for trip patterns. query:%s error: %w", query, err)
	}
	if len(patterns) == 0 {
		return patterns, nil
	}
	err = loadPatternStops(ctx, db, dataSet.Id, patterns)
	if err != nil {
		return nil, err
	}
	return patterns, nil
}

// loadPatternStops fills in TripPattern.StopIds from the stop_time table
func loadPatternStops(ctx context.Context, db *sqlx.DB, dataSetId int64, patterns []*TripPattern) error {
	byTripId := make(map[string]*TripPattern, len(patterns))
	tripIds := make([]string, 0, len(patterns))
	for _, pattern := range patterns {
		byTripId[pattern.TripId] = pattern
		tripIds = append(tripIds, pattern.TripId)
	}

	statementString := "select trip_id, stop_sequence, stop_id from stop_time " +
		"where data_set_id = :data_set_id and trip_id in (:trip_ids) order by trip_id, stop_sequence"
	rows, err := database.PrepareNamedQueryRowsFromMap(ctx, statementString, db, map[string]interface{}{
		"data_set_id": dataSetId,
		"trip_ids":    tripIds,
	})
	if err != nil {
		return fmt.Errorf("unable to retrieve stop times for trip patterns: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()
	for rows.Next() {
		row := tripStopRow{}
		err = rows.StructScan(&row)
		if err != nil {
			return err
		}
		if pattern, present := byTripId[row.TripId]; present {
			pattern.StopIds = append(pattern.StopIds, row.StopId)
		}
	}
	return rows.Err()
}

// RouteNames translates schedule route ids into the rider facing names predictions are stored under.
// Safe for concurrent use.
type RouteNames struct {
	mu    sync.RWMutex
	names map[string]string
}

// MakeRouteNames builds RouteNames from trip patterns
func MakeRouteNames(patterns []*TripPattern) *RouteNames {
	r := &RouteNames{}
	r.Replace(patterns)
	return r
}

// Replace swaps the known route names for those in patterns
func (r *RouteNames) Replace(patterns []*TripPattern) {
	names := make(map[string]string)
	for _, pattern := range patterns {
		names[pattern.RouteId] = pattern.RouteName()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = names
}

// RouteName returns the rider facing name for routeIdOrName. Values that are not a known route id
// are assumed to be a name already.
func (r *RouteNames) RouteName(routeIdOrName string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if name, present := r.names[routeIdOrName]; present {
		return name
	}
	return routeIdOrName
}

// RouteNameList returns all known route names, sorted
func (r *RouteNames) RouteNameList() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]bool)
	for _, name := range r.names {
		seen[name] = true
	}
	results := trueStringsFromMap(seen)
	sort.Strings(results)
	return results
}
