// Package historical answers questions about how vehicles actually ran, from recorded arrival and
// departure events. Nothing here modifies the events it reads.
package historical

import (
	logger "log"
	"time"

	"github.com/OpenTransitTools/transitpredict/business/data/gtfs"
)

// ArrivalDepartureSource provides the recorded events, oldest first
type ArrivalDepartureSource interface {
	StopHistory(stopId string, day time.Time) []gtfs.ArrivalDepartureEvent
	TripHistory(tripId string, serviceDate time.Time, startTime int) []gtfs.ArrivalDepartureEvent
}

// TravelTime pairs a departure from a stop with the same vehicle's arrival at the next stop of the trip
type TravelTime struct {
	Departure gtfs.ArrivalDepartureEvent
	Arrival   gtfs.ArrivalDepartureEvent
}

// Duration is the time between Departure and Arrival
func (t TravelTime) Duration() time.Duration {
	return t.Arrival.EventTime.Sub(t.Departure.EventTime)
}

// valid reports whether the pair describes a real leg traversal: one vehicle on one trip, departing
// the stop path before the one it arrives at, taking a positive amount of time
func (t TravelTime) valid() bool {
	return t.Departure.IsDeparture() &&
		t.Arrival.IsArrival &&
		t.Departure.VehicleId == t.Arrival.VehicleId &&
		t.Departure.TripId == t.Arrival.TripId &&
		t.Departure.StopPathIndex == t.Arrival.StopPathIndex-1 &&
		t.Duration() > 0
}

// Library queries an ArrivalDepartureSource
type Library struct {
	log        *logger.Logger
	source     ArrivalDepartureSource
	classifier *gtfs.ServiceDayClassifier
	filter     OutlierFilter
	location   *time.Location
}

// MakeLibrary builds Library. filter may be nil to accept every valid travel time.
// location determines where service days begin.
func MakeLibrary(log *logger.Logger,
	source ArrivalDepartureSource,
	classifier *gtfs.ServiceDayClassifier,
	filter OutlierFilter,
	location *time.Location) *Library {
	if filter == nil {
		filter = AcceptAll{}
	}
	return &Library{
		log:        log,
		source:     source,
		classifier: classifier,
		filter:     filter,
		location:   location,
	}
}

// LastVehicleTravelTime finds how long the most recent other vehicle in the same direction took to travel leg today.
// The most recent departure from leg.FromStopId by a vehicle other than vehicleId decides the answer: when that
// vehicle has not yet arrived at leg.ToStopId it is still traveling and the departure before it is used
// instead, and when its arrival makes an impossible pair the result is none.
func (l *Library) LastVehicleTravelTime(vehicleId string, leg *gtfs.Leg, at time.Time) (TravelTime, bool) {
	return l.latestTravelTime(leg, at, func(departure *gtfs.ArrivalDepartureEvent) bool {
		return departure.VehicleId != vehicleId
	})
}

// VehicleTravelTime finds how long vehicleId took on its latest traversal of leg today, before "at"
func (l *Library) VehicleTravelTime(vehicleId string, leg *gtfs.Leg, at time.Time) (TravelTime, bool) {
	return l.latestTravelTime(leg, at, func(departure *gtfs.ArrivalDepartureEvent) bool {
		return departure.VehicleId == vehicleId
	})
}

// latestTravelTime pairs the latest departure from leg.FromStopId in leg's direction accepted by useDeparture
// with its arrival at leg.ToStopId
func (l *Library) latestTravelTime(leg *gtfs.Leg,
	at time.Time,
	useDeparture func(departure *gtfs.ArrivalDepartureEvent) bool) (TravelTime, bool) {
	if leg.Indices.AtBeginningOfTrip() {
		return TravelTime{}, false
	}
	day := at.In(l.location)
	departures := l.source.StopHistory(leg.FromStopId, day)
	arrivals := l.source.StopHistory(leg.ToStopId, day)

	for i := len(departures) - 1; i >= 0; i-- {
		departure := departures[i]
		if departure.IsArrival ||
			departure.DirectionId != leg.DirectionId ||
			departure.EventTime.After(at) ||
			!useDeparture(&departure) {
			continue
		}
		arrival, found := findArrival(arrivals, departure)
		if !found {
			continue
		}
		travelTime := TravelTime{Departure: departure, Arrival: arrival}
		if !travelTime.valid() {
			l.log.Printf("rejecting travel time, %s paired with %s", departure.String(), arrival.String())
			return TravelTime{}, false
		}
		return travelTime, true
	}
	return TravelTime{}, false
}

// findArrival looks for the arrival by the departing vehicle on the same trip, preferring the first one after the
// departure. An arrival only found before the departure is still returned so the caller can reject the pairing.
func findArrival(arrivals []gtfs.ArrivalDepartureEvent,
	departure gtfs.ArrivalDepartureEvent) (gtfs.ArrivalDepartureEvent, bool) {
	var earlier *gtfs.ArrivalDepartureEvent
	for i := range arrivals {
		arrival := arrivals[i]
		if !arrival.IsArrival ||
			arrival.VehicleId != departure.VehicleId ||
			arrival.TripId != departure.TripId ||
			arrival.StopPathIndex != departure.StopPathIndex+1 {
			continue
		}
		if arrival.EventTime.After(departure.EventTime) {
			return arrival, true
		}
		if earlier == nil {
			earlier = &arrivals[i]
		}
	}
	if earlier != nil {
		return *earlier, true
	}
	return gtfs.ArrivalDepartureEvent{}, false
}

// ServiceDay is 12am of obs's service day in the library's location
func (l *Library) ServiceDay(obs *gtfs.VehicleObservation) time.Time {
	return obs.ServiceDay(l.location)
}

// HistoricalTravelTimes collects up to count travel times for leg's trip from previous days running the same type
// of service as serviceDate, most recent day first. At most lookbackDays days are searched.
func (l *Library) HistoricalTravelTimes(leg *gtfs.Leg,
	serviceDate time.Time,
	count int,
	lookbackDays int) []TravelTime {
	results := make([]TravelTime, 0, count)
	if leg.Indices.AtBeginningOfTrip() {
		return results
	}
	today := time.Date(serviceDate.Year(), serviceDate.Month(), serviceDate.Day(), 0, 0, 0, 0, l.location)
	for daysBack := 1; daysBack <= lookbackDays && len(results) < count; daysBack++ {
		day := today.AddDate(0, 0, -daysBack)
		if !l.classifier.SameDayType(today, day) {
			continue
		}
		travelTime, found := travelTimeOnTrip(l.source.TripHistory(leg.TripId, day, leg.TripStartTime), leg)
		if !found {
			continue
		}
		if !l.filter.Accept(travelTime, results) {
			l.log.Printf("outlier travel time %v on %s rejected for trip %s stop path %d",
				travelTime.Duration(), day.Format("2006-01-02"), leg.TripId, leg.Indices.StopPathIndex)
			continue
		}
		results = append(results, travelTime)
	}
	return results
}

// travelTimeOnTrip finds the arrival at leg's stop path and the departure from the stop path before it
func travelTimeOnTrip(events []gtfs.ArrivalDepartureEvent, leg *gtfs.Leg) (TravelTime, bool) {
	var arrival, departure *gtfs.ArrivalDepartureEvent
	for i := range events {
		event := &events[i]
		if event.IsArrival && event.StopPathIndex == leg.Indices.StopPathIndex {
			arrival = event
		}
		if event.IsDeparture() && event.StopPathIndex == leg.Indices.StopPathIndex-1 {
			departure = event
		}
	}
	if arrival == nil || departure == nil {
		return TravelTime{}, false
	}
	travelTime := TravelTime{Departure: *departure, Arrival: *arrival}
	return travelTime, travelTime.valid()
}

// LastHeadway is the time since the latest arrival at stopId on routeId strictly before "at", on the same day.
func (l *Library) LastHeadway(stopId string, routeId string, at time.Time) (time.Duration, bool) {
	events := l.source.StopHistory(stopId, at.In(l.location))
	for i := len(events) - 1; i >= 0; i-- {
		event := events[i]
		if event.IsArrival && event.RouteId == routeId && event.EventTime.Before(at) {
			return at.Sub(event.EventTime), true
		}
	}
	return 0, false
}

// DwellTime pairs a vehicle's arrival at a stop with its departure from it. Headway is how long before the arrival
// the previous arrival on the route at the stop was, zero when it was the first of the day.
type DwellTime struct {
	Arrival   gtfs.ArrivalDepartureEvent
	Departure gtfs.ArrivalDepartureEvent
	Headway   time.Duration
}

// Duration is the time between Arrival and Departure
func (d DwellTime) Duration() time.Duration {
	return d.Departure.EventTime.Sub(d.Arrival.EventTime)
}

func (d DwellTime) valid() bool {
	return d.Arrival.IsArrival &&
		d.Departure.IsDeparture() &&
		d.Arrival.VehicleId == d.Departure.VehicleId &&
		d.Arrival.TripId == d.Departure.TripId &&
		d.Arrival.StopPathIndex == d.Departure.StopPathIndex &&
		d.Duration() >= 0
}

// RecentDwellTimes collects up to count of today's dwell times at stopId by vehicles on routeId in directionId
// departing no later than "at", most recent first.
func (l *Library) RecentDwellTimes(stopId string,
	routeId string,
	directionId string,
	at time.Time,
	count int) []DwellTime {
	results := make([]DwellTime, 0, count)
	events := l.source.StopHistory(stopId, at.In(l.location))
	for i := len(events) - 1; i >= 0 && len(results) < count; i-- {
		departure := events[i]
		if departure.IsArrival ||
			departure.RouteId != routeId ||
			departure.DirectionId != directionId ||
			departure.EventTime.After(at) {
			continue
		}
		arrival, found := findStopArrival(events[:i], departure)
		if !found {
			continue
		}
		dwell := DwellTime{Arrival: arrival, Departure: departure}
		if !dwell.valid() {
			l.log.Printf("rejecting dwell time, %s paired with %s", arrival.String(), departure.String())
			continue
		}
		dwell.Headway, _ = l.LastHeadway(stopId, routeId, arrival.EventTime)
		results = append(results, dwell)
	}
	return results
}

// findStopArrival returns the latest arrival in events by the departing vehicle on the same stop path of its trip
func findStopArrival(events []gtfs.ArrivalDepartureEvent,
	departure gtfs.ArrivalDepartureEvent) (gtfs.ArrivalDepartureEvent, bool) {
	for i := len(events) - 1; i >= 0; i-- {
		arrival := events[i]
		if arrival.IsArrival &&
			arrival.VehicleId == departure.VehicleId &&
			arrival.TripId == departure.TripId &&
			arrival.StopPathIndex == departure.StopPathIndex {
			return arrival, true
		}
	}
	return gtfs.ArrivalDepartureEvent{}, false
}
