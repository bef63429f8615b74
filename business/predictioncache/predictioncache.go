// Package predictioncache holds the currently valid predictions for each route and stop.
//
// Every RouteStopKey has its own lock, created the first time the key is used. Updates to
// different keys never wait on each other, updates to the same key are serialized, and readers
// copy a key's list under the same lock so they never see a list part way through an update.
package predictioncache

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/OpenTransitTools/transitpredict/business/data/gtfs"
	"github.com/OpenTransitTools/transitpredict/foundation/timesource"
	"github.com/go-playground/validator/v10"
)

// DefaultMaxPredictions is the number of predictions kept per RouteStopKey when not configured
const DefaultMaxPredictions = 5

// Config for Cache, a zero MaxPredictionsPerStop uses DefaultMaxPredictions
type Config struct {
	MaxPredictionsPerStop int `validate:"min=1"`
}

// stopPredictions is the list for a single key, sorted ascending by PredictedTime
type stopPredictions struct {
	mu          sync.Mutex
	predictions []gtfs.Prediction
	// removed is set once Sweep has dropped the entry from the cache
	removed bool
}

// Cache is safe for concurrent use
type Cache struct {
	clock timesource.Source
	max   int

	mu      sync.RWMutex
	entries map[gtfs.RouteStopKey]*stopPredictions
}

// MakeCache builds Cache
func MakeCache(cfg Config, clock timesource.Source) (*Cache, error) {
	if cfg.MaxPredictionsPerStop == 0 {
		cfg.MaxPredictionsPerStop = DefaultMaxPredictions
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid prediction cache config: %w", err)
	}
	return &Cache{
		clock:   clock,
		max:     cfg.MaxPredictionsPerStop,
		entries: make(map[gtfs.RouteStopKey]*stopPredictions),
	}, nil
}

// MaxPredictionsPerStop returns the most predictions a key will hold
func (c *Cache) MaxPredictionsPerStop() int {
	return c.max
}

// lookup returns the entry for key or nil if the key has never been used
func (c *Cache) lookup(key gtfs.RouteStopKey) *stopPredictions {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries[key]
}

// entryFor returns the entry for key, creating it if needed
func (c *Cache) entryFor(key gtfs.RouteStopKey) *stopPredictions {
	if entry := c.lookup(key); entry != nil {
		return entry
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, present := c.entries[key]
	if !present {
		entry = &stopPredictions{}
		c.entries[key] = entry
	}
	return entry
}

// Get returns a copy of up to limit predictions for key in ascending order by PredictedTime.
// limit <= 0 returns every prediction held for key, which is never more than MaxPredictionsPerStop.
// An unknown key returns an empty slice.
func (c *Cache) Get(key gtfs.RouteStopKey, limit int) []gtfs.Prediction {
	entry := c.lookup(key)
	if entry == nil {
		return []gtfs.Prediction{}
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	size := len(entry.predictions)
	if limit > 0 && limit < size {
		size = limit
	}
	results := make([]gtfs.Prediction, size)
	copy(results, entry.predictions[:size])
	return results
}

// Update replaces a vehicle's predictions. oldPredictions are the ones last given for the vehicle, and
// newPredictions replace them. Every key found in either list is updated on its own: the vehicle's entries
// are removed, expired entries are dropped, then the new predictions for the key are inserted in order.
// A key with only old predictions ends up with none for the vehicle.
func (c *Cache) Update(oldPredictions []gtfs.Prediction, newPredictions []gtfs.Prediction) {
	byKey := make(map[gtfs.RouteStopKey]*keyUpdate)
	keyUpdateFor := func(key gtfs.RouteStopKey) *keyUpdate {
		u, present := byKey[key]
		if !present {
			u = &keyUpdate{vehicleIds: make(map[string]bool)}
			byKey[key] = u
		}
		return u
	}
	for _, p := range oldPredictions {
		keyUpdateFor(p.Key()).vehicleIds[p.VehicleId] = true
	}
	for _, p := range newPredictions {
		u := keyUpdateFor(p.Key())
		u.vehicleIds[p.VehicleId] = true
		u.predictions = append(u.predictions, p)
	}

	now := c.clock.Now()
	for key, u := range byKey {
		c.updateKey(key, u, now)
	}
}

// updateKey applies a keyUpdate under the key's lock
func (c *Cache) updateKey(key gtfs.RouteStopKey, u *keyUpdate, now time.Time) {
	for {
		entry := c.entryFor(key)
		entry.mu.Lock()
		if entry.removed {
			// swept away between lookup and lock, the next entryFor creates a fresh one
			entry.mu.Unlock()
			continue
		}
		entry.predictions = c.updatedList(entry.predictions, u, now)
		entry.mu.Unlock()
		return
	}
}

// keyUpdate is the part of an Update for one key
type keyUpdate struct {
	vehicleIds  map[string]bool
	predictions []gtfs.Prediction
}

// updatedList builds the new list for a key from current
func (c *Cache) updatedList(current []gtfs.Prediction, u *keyUpdate, now time.Time) []gtfs.Prediction {
	results := make([]gtfs.Prediction, 0, c.max+1)
	for _, p := range current {
		if u.vehicleIds[p.VehicleId] || p.Expired(now) {
			continue
		}
		results = append(results, p)
	}
	for _, p := range u.predictions {
		results = c.insert(results, p)
	}
	return results
}

// insert places p before the first prediction with a later time. When the list is full the latest
// prediction makes room, unless p would be the latest itself, then p is discarded.
func (c *Cache) insert(list []gtfs.Prediction, p gtfs.Prediction) []gtfs.Prediction {
	i := sort.Search(len(list), func(i int) bool {
		return list[i].PredictedTime.After(p.PredictedTime)
	})
	if i == len(list) {
		if len(list) >= c.max {
			return list
		}
		return append(list, p)
	}
	if len(list) >= c.max {
		list = list[:len(list)-1]
	}
	list = append(list, gtfs.Prediction{})
	copy(list[i+1:], list[i:])
	list[i] = p
	return list
}

// Sweep removes expired predictions from every key and forgets keys left empty.
// Returns how many predictions were removed and how many keys remain.
func (c *Cache) Sweep() (removed int, keys int) {
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, entry := range c.entries {
		entry.mu.Lock()
		current := make([]gtfs.Prediction, 0, len(entry.predictions))
		for _, p := range entry.predictions {
			if p.Expired(now) {
				removed++
				continue
			}
			current = append(current, p)
		}
		entry.predictions = current
		if len(current) == 0 {
			entry.removed = true
			delete(c.entries, key)
		}
		entry.mu.Unlock()
	}
	return removed, len(c.entries)
}

// Keys returns every key with an entry, entries left empty by Update remain until the next Sweep
func (c *Cache) Keys() []gtfs.RouteStopKey {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]gtfs.RouteStopKey, 0, len(c.entries))
	for key := range c.entries {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].RouteName != keys[j].RouteName {
			return keys[i].RouteName < keys[j].RouteName
		}
		return keys[i].StopId < keys[j].StopId
	})
	return keys
}
