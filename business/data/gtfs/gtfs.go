// Package gtfs provides the transit data records shared by the prediction services, and the
// sqlx CRUD functionality for the ones kept in the database.
package gtfs

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// DataSet encompasses a gtfs schedule available from a source at a point in time.
// Schedule records (trip, stop_time, calendar, route) share the DataSet.Id value as part of the primary key.
type DataSet struct {
	Id  int64
	URL string
	// ETag is the ETag header if available from the source web site for the gtfs file. Is empty if not available
	ETag string `db:"e_tag"`
	// LastModifiedTimestamp is the unix epoch seconds the source web site provided for the last time the gtfs file was modified
	// is 0 if not available
	LastModifiedTimestamp int64      `db:"last_modified_timestamp"`
	DownloadedAt          time.Time  `db:"downloaded_at"`
	SavedAt               *time.Time `db:"saved_at"`
}

func (d DataSet) String() string {
	return fmt.Sprintf("DataSet Id:%d, url:%s, ETag:%s, downloaded:%s savedAt:%s",
		d.Id, d.URL, d.ETag, formatTime(&d.DownloadedAt), formatTime(d.SavedAt))
}

func formatTime(time *time.Time) string {
	if time == nil {
		return ""
	}
	return time.Format("2006-01-02T15:04:05")
}

// GetDataSetAt retrieves the latest DataSet saved before "at"
func GetDataSetAt(ctx context.Context, db *sqlx.DB, at time.Time) (*DataSet, error) {
	query := "select * from data_set where saved_at is not null and saved_at <= $1 " +
		"order by saved_at desc, downloaded_at desc limit 1"
	ds := DataSet{}
	err := db.GetContext(ctx, &ds, query, at)
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve data set active at %s: %w", formatTime(&at), err)
	}
	return &ds, nil
}
