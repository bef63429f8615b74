package errorstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/eko/gocache/lib/v4/cache"
	"github.com/eko/gocache/lib/v4/store"
	redisstore "github.com/eko/gocache/store/redis/v4"
	"github.com/redis/go-redis/v9"
)

// RedisStore shares FilterErrors between service processes through redis. Values are stored as json.
type RedisStore struct {
	cache *cache.Cache[string]
}

// MakeRedisStore builds RedisStore on client, each value expiring after expiry
func MakeRedisStore(client *redis.Client, expiry time.Duration) *RedisStore {
	redisStore := redisstore.NewRedis(client, store.WithExpiration(expiry))
	return &RedisStore{
		cache: cache.New[string](redisStore),
	}
}

// Get implements Store
func (r *RedisStore) Get(ctx context.Context, key Key) (FilterError, bool, error) {
	value, err := r.cache.Get(ctx, key.String())
	if err != nil {
		if errors.Is(err, redis.Nil) || errors.Is(err, store.NotFound{}) {
			return FilterError{}, false, nil
		}
		return FilterError{}, false, fmt.Errorf("reading filter error %s from redis: %w", key, err)
	}
	filterError, err := decodeFilterError(value)
	if err != nil {
		return FilterError{}, false, fmt.Errorf("decoding filter error %s: %w", key, err)
	}
	return filterError, true, nil
}

// Put implements Store
func (r *RedisStore) Put(ctx context.Context, key Key, value FilterError) error {
	encoded, err := encodeFilterError(value)
	if err != nil {
		return err
	}
	return r.cache.Set(ctx, key.String(), encoded)
}

func encodeFilterError(value FilterError) (string, error) {
	jsonData, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("error marshaling filter error to json: %w", err)
	}
	return string(jsonData), nil
}

func decodeFilterError(value string) (FilterError, error) {
	var filterError FilterError
	err := json.Unmarshal([]byte(value), &filterError)
	return filterError, err
}
