package predictionsvc

import (
	"context"
	"fmt"
	logger "log"
	"sync"
	"time"

	"github.com/OpenTransitTools/transitpredict/business/data/gtfs"
	"github.com/OpenTransitTools/transitpredict/foundation/timesource"
	"github.com/jmoiron/sqlx"
)

// tripPatternLoader loads the trip patterns running on a service date
type tripPatternLoader func(ctx context.Context, at time.Time, serviceDate time.Time) ([]*gtfs.TripPattern, error)

// dbTripPatternLoader loads trip patterns with gtfs.GetTripPatterns
func dbTripPatternLoader(db *sqlx.DB) tripPatternLoader {
	return func(ctx context.Context, at time.Time, serviceDate time.Time) ([]*gtfs.TripPattern, error) {
		return gtfs.GetTripPatterns(ctx, db, at, serviceDate)
	}
}

// scheduleSource keeps the trip patterns of the current service date, reloading when the date changes.
// Each load also refreshes routeNames. Implements accuracy.TripPatternSource.
type scheduleSource struct {
	log        *logger.Logger
	load       tripPatternLoader
	location   *time.Location
	clock      timesource.Source
	routeNames *gtfs.RouteNames

	mu          sync.Mutex
	serviceDate time.Time
	patterns    []*gtfs.TripPattern
}

func makeScheduleSource(log *logger.Logger,
	load tripPatternLoader,
	location *time.Location,
	clock timesource.Source,
	routeNames *gtfs.RouteNames) *scheduleSource {
	return &scheduleSource{
		log:        log,
		load:       load,
		location:   location,
		clock:      clock,
		routeNames: routeNames,
	}
}

func (s *scheduleSource) TripPatterns(ctx context.Context) ([]*gtfs.TripPattern, error) {
	now := s.clock.Now()
	serviceDate := gtfs.Get12AmTime(now.In(s.location))

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.patterns != nil && s.serviceDate.Equal(serviceDate) {
		return s.patterns, nil
	}
	patterns, err := s.load(ctx, now, serviceDate)
	if err != nil {
		return nil, fmt.Errorf("loading trip patterns for %s: %w", serviceDate.Format("2006-01-02"), err)
	}
	s.log.Printf("loaded %d trip patterns for %s", len(patterns), serviceDate.Format("2006-01-02"))
	s.patterns = patterns
	s.serviceDate = serviceDate
	s.routeNames.Replace(patterns)
	return patterns, nil
}
