package historical

import "time"

// OutlierFilter decides whether a candidate travel time is accepted, given the ones accepted so far
type OutlierFilter interface {
	Accept(candidate TravelTime, accepted []TravelTime) bool
}

// AcceptAll accepts every travel time
type AcceptAll struct{}

// Accept implements OutlierFilter
func (AcceptAll) Accept(TravelTime, []TravelTime) bool {
	return true
}

// DeviationFilter rejects travel times longer than MaxTravelTime, and once at least one travel time is
// accepted, those differing from the mean of the accepted ones by more than MaxFraction of it.
type DeviationFilter struct {
	MaxFraction   float64
	MaxTravelTime time.Duration
}

// Accept implements OutlierFilter
func (d DeviationFilter) Accept(candidate TravelTime, accepted []TravelTime) bool {
	duration := candidate.Duration()
	if d.MaxTravelTime > 0 && duration > d.MaxTravelTime {
		return false
	}
	if len(accepted) == 0 || d.MaxFraction <= 0 {
		return true
	}
	var total time.Duration
	for _, a := range accepted {
		total += a.Duration()
	}
	mean := float64(total) / float64(len(accepted))
	difference := float64(duration) - mean
	if difference < 0 {
		difference = -difference
	}
	return difference <= mean*d.MaxFraction
}
