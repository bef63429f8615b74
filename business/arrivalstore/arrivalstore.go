// Package arrivalstore keeps recent arrival and departure events in memory, indexed the two ways
// predictions look them up: all events at a stop on a day, and all events of a trip on a service day.
package arrivalstore

import (
	"context"
	"fmt"
	logger "log"
	"sort"
	"sync"
	"time"

	"github.com/OpenTransitTools/transitpredict/business/data/gtfs"
	"github.com/jmoiron/sqlx"
)

// DefaultMaxAge is how long events are kept when not configured
const DefaultMaxAge = 4 * 24 * time.Hour

// stopDayKey identifies events at a stop on the day (midnight, unix seconds) they happened
type stopDayKey struct {
	stopId string
	day    int64
}

// tripKey identifies events of a trip instance: the trip, its service day (midnight, unix seconds) and start time
type tripKey struct {
	tripId    string
	day       int64
	startTime int
}

// Store is safe for concurrent use. Lists are kept in ascending order of EventTime.
type Store struct {
	log      *logger.Logger
	location *time.Location
	maxAge   time.Duration

	mu     sync.RWMutex
	byStop map[stopDayKey][]gtfs.ArrivalDepartureEvent
	byTrip map[tripKey][]gtfs.ArrivalDepartureEvent
}

// MakeStore builds Store. location determines where days begin.
func MakeStore(log *logger.Logger, location *time.Location, maxAge time.Duration) *Store {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Store{
		log:      log,
		location: location,
		maxAge:   maxAge,
		byStop:   make(map[stopDayKey][]gtfs.ArrivalDepartureEvent),
		byTrip:   make(map[tripKey][]gtfs.ArrivalDepartureEvent),
	}
}

// dayOf returns midnight of the day "at" falls on in the store's location as unix seconds
func (s *Store) dayOf(at time.Time) int64 {
	return gtfs.Get12AmTime(at.In(s.location)).Unix()
}

// serviceDayOf returns midnight in the store's location of the calendar date serviceDate names, as unix seconds.
// Service dates are dates rather than instants so their own location is ignored.
func (s *Store) serviceDayOf(serviceDate time.Time) int64 {
	return time.Date(serviceDate.Year(), serviceDate.Month(), serviceDate.Day(), 0, 0, 0, 0, s.location).Unix()
}

// tripKeyOf builds the tripKey for event, using the day of EventTime when no service date is present
func (s *Store) tripKeyOf(event *gtfs.ArrivalDepartureEvent) tripKey {
	day := s.dayOf(event.EventTime)
	if !event.ServiceDate.IsZero() {
		day = s.serviceDayOf(event.ServiceDate)
	}
	return tripKey{tripId: event.TripId, day: day, startTime: event.TripStartTime}
}

// Add stores event in both indexes. Events may arrive out of order.
func (s *Store) Add(event gtfs.ArrivalDepartureEvent) {
	sk := stopDayKey{stopId: event.StopId, day: s.dayOf(event.EventTime)}
	tk := s.tripKeyOf(&event)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.byStop[sk] = insertInOrder(s.byStop[sk], event)
	s.byTrip[tk] = insertInOrder(s.byTrip[tk], event)
}

// insertInOrder inserts event after every event at the same time or earlier
func insertInOrder(events []gtfs.ArrivalDepartureEvent, event gtfs.ArrivalDepartureEvent) []gtfs.ArrivalDepartureEvent {
	i := sort.Search(len(events), func(i int) bool {
		return events[i].EventTime.After(event.EventTime)
	})
	events = append(events, gtfs.ArrivalDepartureEvent{})
	copy(events[i+1:], events[i:])
	events[i] = event
	return events
}

// StopHistory returns a copy of the events at stopId on the day "day" falls on, oldest first
func (s *Store) StopHistory(stopId string, day time.Time) []gtfs.ArrivalDepartureEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyEvents(s.byStop[stopDayKey{stopId: stopId, day: s.dayOf(day)}])
}

// TripHistory returns a copy of the events of a trip instance, oldest first. Only the calendar date of
// serviceDate is used.
func (s *Store) TripHistory(tripId string, serviceDate time.Time, startTime int) []gtfs.ArrivalDepartureEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyEvents(s.byTrip[tripKey{tripId: tripId, day: s.serviceDayOf(serviceDate), startTime: startTime}])
}

func copyEvents(events []gtfs.ArrivalDepartureEvent) []gtfs.ArrivalDepartureEvent {
	results := make([]gtfs.ArrivalDepartureEvent, len(events))
	copy(results, events)
	return results
}

// Expire removes every day that ended more than the store's max age before "at".
// Returns the number of lists removed.
func (s *Store) Expire(at time.Time) int {
	cutoff := s.dayOf(at.Add(-s.maxAge))
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key := range s.byStop {
		if key.day < cutoff {
			delete(s.byStop, key)
			removed++
		}
	}
	for key := range s.byTrip {
		if key.day < cutoff {
			delete(s.byTrip, key)
			removed++
		}
	}
	return removed
}

// Size returns the number of stop day and trip lists held
func (s *Store) Size() (stopDays int, trips int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byStop), len(s.byTrip)
}

// LoadFromDatabase primes the store with events recorded between start and end
func (s *Store) LoadFromDatabase(ctx context.Context, db *sqlx.DB, start time.Time, end time.Time) (int, error) {
	events, err := gtfs.GetArrivalDepartureEvents(ctx, db, start, end)
	if err != nil {
		return 0, fmt.Errorf("loading arrival departure history: %w", err)
	}
	for _, event := range events {
		s.Add(*event)
	}
	s.log.Printf("loaded %d arrival departure events between %s and %s", len(events),
		start.Format(time.RFC3339), end.Format(time.RFC3339))
	return len(events), nil
}
