package estimator

import (
	"sort"
	"sync"
	"time"

	"github.com/OpenTransitTools/transitpredict/business/data/gtfs"
)

// VehicleProgress is the latest known position of a vehicle along its route pattern
type VehicleProgress struct {
	VehicleId      string
	RouteId        string
	DirectionId    string
	TripId         string
	StopsCompleted int
	AvlTime        time.Time
}

// VehicleLocator lists the vehicles currently known on a route
type VehicleLocator interface {
	VehiclesOnRoute(routeId string) []VehicleProgress
}

// VehicleRegistry is a VehicleLocator fed from vehicle observations, safe for concurrent use
type VehicleRegistry struct {
	mu        sync.RWMutex
	byVehicle map[string]VehicleProgress
}

func MakeVehicleRegistry() *VehicleRegistry {
	return &VehicleRegistry{byVehicle: make(map[string]VehicleProgress)}
}

// Record replaces the progress of obs's vehicle, older observations than the one held are ignored
func (r *VehicleRegistry) Record(obs *gtfs.VehicleObservation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, present := r.byVehicle[obs.VehicleId]; present && current.AvlTime.After(obs.AvlTime) {
		return
	}
	r.byVehicle[obs.VehicleId] = VehicleProgress{
		VehicleId:      obs.VehicleId,
		RouteId:        obs.RouteId,
		DirectionId:    obs.DirectionId,
		TripId:         obs.TripId,
		StopsCompleted: obs.StopsCompleted,
		AvlTime:        obs.AvlTime,
	}
}

// Remove forgets vehicleId
func (r *VehicleRegistry) Remove(vehicleId string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byVehicle, vehicleId)
}

// Expire forgets vehicles not heard from since before, returns how many were removed
func (r *VehicleRegistry) Expire(before time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, progress := range r.byVehicle {
		if progress.AvlTime.Before(before) {
			delete(r.byVehicle, id)
			removed++
		}
	}
	return removed
}

// VehiclesOnRoute returns the vehicles on routeId ordered by vehicle id
func (r *VehicleRegistry) VehiclesOnRoute(routeId string) []VehicleProgress {
	r.mu.RLock()
	results := make([]VehicleProgress, 0)
	for _, progress := range r.byVehicle {
		if progress.RouteId == routeId {
			results = append(results, progress)
		}
	}
	r.mu.RUnlock()
	sort.Slice(results, func(i, j int) bool {
		return results[i].VehicleId < results[j].VehicleId
	})
	return results
}

// closestVehicleAhead finds the vehicle in obs's direction that has completed more than stopsAhead stops
// beyond obs's vehicle while having completed the fewest stops among those that qualify
func closestVehicleAhead(vehicles []VehicleProgress,
	obs *gtfs.VehicleObservation,
	stopsAhead int) (VehicleProgress, bool) {
	var closest VehicleProgress
	found := false
	for _, v := range vehicles {
		if v.VehicleId == obs.VehicleId || v.DirectionId != obs.DirectionId {
			continue
		}
		if v.StopsCompleted-obs.StopsCompleted <= stopsAhead {
			continue
		}
		if !found || v.StopsCompleted < closest.StopsCompleted {
			closest = v
			found = true
		}
	}
	return closest, found
}
