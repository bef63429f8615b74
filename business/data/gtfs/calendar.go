package gtfs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// CalendarDate contains data from a record in a gtfs calendar_dates.txt file
type CalendarDate struct {
	DataSetId     int64  `db:"data_set_id"`
	ServiceId     string `db:"service_id"`
	Date          time.Time
	ExceptionType int `db:"exception_type"`
}

// GetActiveServiceIds retrieves the active serviceIds on provided serviceDate.
// both calendar and calendar_date are used
func GetActiveServiceIds(ctx context.Context, db *sqlx.DB, dataSet *DataSet, serviceDate time.Time) ([]string, error) {
	serviceIdMap := make(map[string]bool)

	// the calendar week days columns are named after the english weekdays
	weekday := strings.ToLower(serviceDate.Weekday().String())

	query := fmt.Sprintf("select service_id from calendar where data_set_id = $1 "+
		"and $2 between start_date and end_date "+
		"and %s = 1", weekday)
	var calendarServiceKeys []string
	err := db.SelectContext(ctx, &calendarServiceKeys, query, dataSet.Id, serviceDate)
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve service_ids from calendar table. query:%s error: %w", query, err)
	}

	for _, serviceId := range calendarServiceKeys {
		serviceIdMap[serviceId] = true
	}

	var calendarDates []CalendarDate
	query = "select * from calendar_date where data_set_id = $1 and date = $2"
	err = db.SelectContext(ctx, &calendarDates, query, dataSet.Id, serviceDate)
	if err != nil {
		return nil, fmt.Errorf("unable to query calendar_date table. query:%s error: %w", query, err)
	}
	for _, calendarDate := range calendarDates {
		if calendarDate.ExceptionType == 1 {
			serviceIdMap[calendarDate.ServiceId] = true
		} else if calendarDate.ExceptionType == 2 {
			delete(serviceIdMap, calendarDate.ServiceId)
		}
	}

	return trueStringsFromMap(serviceIdMap), nil
}

// trueStringsFromMap returns the keys of m that map to true
func trueStringsFromMap(m map[string]bool) []string {
	results := make([]string, 0, len(m))
	for key, value := range m {
		if value {
			results = append(results, key)
		}
	}
	return results
}
