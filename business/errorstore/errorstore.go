// Package errorstore keeps the running Kalman filter error for each leg, bucketed by scheduled time of day.
// An error value is replaced wholesale after each observation, last write wins.
package errorstore

import (
	"context"
	"fmt"
	"time"

	"github.com/OpenTransitTools/transitpredict/business/data/gtfs"
)

// Key identifies the leg an error value belongs to
type Key struct {
	RouteId     string
	DirectionId string
	// ScheduledBucket is the scheduled departure from OriginStopId rounded down to its bucket, in seconds after midnight
	ScheduledBucket int
	OriginStopId    string
	DestStopId      string
}

// MakeKey builds the Key for leg, bucketing its scheduled departure into buckets bucketSeconds wide
func MakeKey(leg *gtfs.Leg, bucketSeconds int) Key {
	return Key{
		RouteId:         leg.RouteId,
		DirectionId:     leg.DirectionId,
		ScheduledBucket: gtfs.RoundToBucket(leg.ScheduledDepartureSeconds, bucketSeconds),
		OriginStopId:    leg.FromStopId,
		DestStopId:      leg.ToStopId,
	}
}

// String is used as the key in shared stores
func (k Key) String() string {
	return fmt.Sprintf("filter-error:%s:%s:%d:%s:%s", k.RouteId, k.DirectionId, k.ScheduledBucket,
		k.OriginStopId, k.DestStopId)
}

// FilterError is the error carried between filter updates on a leg
type FilterError struct {
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// Store holds FilterErrors. Get reports false when no value is present or it has expired.
type Store interface {
	Get(ctx context.Context, key Key) (FilterError, bool, error)
	Put(ctx context.Context, key Key, value FilterError) error
}
