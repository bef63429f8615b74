package errorstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bluele/gcache"
)

// MemoryStore keeps FilterErrors in process, evicting the least recently used leg when full
type MemoryStore struct {
	cache gcache.Cache
}

// MakeMemoryStore builds MemoryStore holding up to size legs, each value expiring after expiry
func MakeMemoryStore(size int, expiry time.Duration) *MemoryStore {
	return &MemoryStore{
		cache: gcache.New(size).
			LRU().
			Expiration(expiry).
			Build(),
	}
}

// Get implements Store
func (m *MemoryStore) Get(_ context.Context, key Key) (FilterError, bool, error) {
	value, err := m.cache.Get(key)
	if errors.Is(err, gcache.KeyNotFoundError) {
		return FilterError{}, false, nil
	}
	if err != nil {
		return FilterError{}, false, fmt.Errorf("reading filter error %s: %w", key, err)
	}
	filterError, ok := value.(FilterError)
	if !ok {
		return FilterError{}, false, fmt.Errorf("unexpected value type %T for filter error %s", value, key)
	}
	return filterError, true, nil
}

// Put implements Store
func (m *MemoryStore) Put(_ context.Context, key Key, value FilterError) error {
	return m.cache.Set(key, value)
}

// Len returns the number of legs held, including expired values not yet evicted
func (m *MemoryStore) Len() int {
	return m.cache.Len(false)
}
